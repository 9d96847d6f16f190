package base

import (
	"encoding/binary"
	"unsafe"
)

const (
	PageSize = 4096

	LeafPageFlag     uint16 = 0x01
	InternalPageFlag uint16 = 0x02
	RootPageFlag     uint16 = 0x04

	PageHeaderSize = 40 // PageID(8) + Flags(2) + NumSlots(2) + FreeOff(2) + Reserved(2) + P0(8) + PrevLeaf(8) + NextLeaf(8)

	// SlotSize is the per-entry directory overhead: one uint16 offset.
	SlotSize = 2

	// DataCapacity is the byte budget shared by the data area (growing
	// up from the header) and the slot directory (growing down from the
	// page tail).
	DataCapacity = PageSize - PageHeaderSize
)

type PageID uint64

// Page is a raw disk page (4096 bytes)
//
// PAGE LAYOUT (shared by leaf and internal pages):
// ┌─────────────────────────────────────────────────────────────────────┐
// │ Header (40 bytes)                                                   │
// │ PageID, Flags, NumSlots, FreeOff, Reserved, P0, PrevLeaf, NextLeaf  │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Data Area (variable-length entries, forward growth):                │
// │   entry | entry | entry | ...  →                                    │
// │   FreeOff = first unused byte, relative to data-area start          │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Slot Directory (2 bytes per slot, backward growth from page tail):  │
// │   ← slot[N-1] | ... | slot[1] | slot[0]                             │
// │   slot[i] = data-area offset of the i-th smallest key               │
// └─────────────────────────────────────────────────────────────────────┘
//
// Slot order is the authoritative key order; data-area placement is
// incidental. Internal pages use P0 (subtree of keys below slot 0's
// key); leaf pages use PrevLeaf/NextLeaf (sibling chain in key order).
type Page struct {
	Data [PageSize]byte
}

// PageHeader represents the fixed-size header at the start of each Page
// Layout: [PageID: 8][Flags: 2][NumSlots: 2][FreeOff: 2][Reserved: 2][P0: 8][PrevLeaf: 8][NextLeaf: 8]
type PageHeader struct {
	PageID   PageID // 8 bytes
	Flags    uint16 // 2 bytes: leaf/internal/root
	NumSlots uint16 // 2 bytes: valid directory entries
	FreeOff  uint16 // 2 bytes: first unused data byte, relative to data-area start
	Reserved uint16 // 2 bytes
	P0       PageID // 8 bytes - internal: leftmost child subtree
	PrevLeaf PageID // 8 bytes - leaf: previous sibling (0 if none)
	NextLeaf PageID // 8 bytes - leaf: next sibling (0 if none)
}

// Header returns the page header decoded from page data
func (p *Page) Header() *PageHeader {
	return (*PageHeader)(unsafe.Pointer(&p.Data[0]))
}

// Format zeroes the page and stamps a fresh header.
func (p *Page) Format(id PageID, flags uint16) {
	*p = Page{}
	h := p.Header()
	h.PageID = id
	h.Flags = flags
}

// IsLeaf reports whether the page holds leaf entries.
func (p *Page) IsLeaf() bool {
	return p.Header().Flags&LeafPageFlag != 0
}

// IsInternal reports whether the page holds routing entries.
func (p *Page) IsInternal() bool {
	return p.Header().Flags&InternalPageFlag != 0
}

// SlotCount returns the number of valid directory entries. Stale slots
// beyond this count are never read.
func (p *Page) SlotCount() int {
	return int(p.Header().NumSlots)
}

// FreeSpace returns the contiguous free bytes between the end of the
// data area and the start of the slot directory.
func (p *Page) FreeSpace() int {
	h := p.Header()
	return DataCapacity - int(h.FreeOff) - int(h.NumSlots)*SlotSize
}

// Used returns the bytes consumed by the data area and the directory.
func (p *Page) Used() int {
	h := p.Header()
	return int(h.FreeOff) + int(h.NumSlots)*SlotSize
}

// slot reads directory entry i (unchecked).
func (p *Page) slot(i int) uint16 {
	pos := PageSize - SlotSize*(i+1)
	return binary.LittleEndian.Uint16(p.Data[pos : pos+SlotSize])
}

// setSlot writes directory entry i (unchecked).
func (p *Page) setSlot(i int, off uint16) {
	pos := PageSize - SlotSize*(i+1)
	binary.LittleEndian.PutUint16(p.Data[pos:pos+SlotSize], off)
}

// entryWindow returns the data-area bytes from offset off up to the
// directory start. Decoders stop at the entry's own length field.
func (p *Page) entryWindow(off uint16) ([]byte, error) {
	start := PageHeaderSize + int(off)
	end := PageSize - p.SlotCount()*SlotSize
	if start >= end {
		return nil, ErrInvalidOffset
	}
	return p.Data[start:end], nil
}

// InternalEntryAt decodes the entry at slot i of an internal page.
func (p *Page) InternalEntryAt(i int) (InternalEntry, error) {
	if !p.IsInternal() {
		return InternalEntry{}, ErrWrongPageKind
	}
	if i < 0 || i >= p.SlotCount() {
		return InternalEntry{}, ErrInvalidSlot
	}
	buf, err := p.entryWindow(p.slot(i))
	if err != nil {
		return InternalEntry{}, err
	}
	e, _, err := DecodeInternalEntry(buf)
	return e, err
}

// LeafEntryAt decodes the entry at slot i of a leaf page.
func (p *Page) LeafEntryAt(i int) (LeafEntry, error) {
	if !p.IsLeaf() {
		return LeafEntry{}, ErrWrongPageKind
	}
	if i < 0 || i >= p.SlotCount() {
		return LeafEntry{}, ErrInvalidSlot
	}
	buf, err := p.entryWindow(p.slot(i))
	if err != nil {
		return LeafEntry{}, err
	}
	e, _, err := DecodeLeafEntry(buf)
	return e, err
}

// insertAt writes size encoded bytes at the free offset and opens
// directory slot i pointing at them, shifting slots [i, NumSlots) down.
func (p *Page) insertAt(i, size int, encode func([]byte)) error {
	h := p.Header()
	n := int(h.NumSlots)
	if i < 0 || i > n {
		return ErrInvalidSlot
	}
	if size+SlotSize > p.FreeSpace() {
		return ErrPageOverflow
	}
	start := PageHeaderSize + int(h.FreeOff)
	encode(p.Data[start : start+size])
	for j := n; j > i; j-- {
		p.setSlot(j, p.slot(j-1))
	}
	p.setSlot(i, h.FreeOff)
	h.NumSlots++
	h.FreeOff += uint16(size)
	return nil
}

// AppendInternal adds e as the new highest slot of an internal page.
func (p *Page) AppendInternal(e InternalEntry) error {
	return p.InsertInternalAt(p.SlotCount(), e)
}

// InsertInternalAt inserts e at slot i of an internal page, shifting
// higher slots up. The caller keeps slot order aligned with key order.
func (p *Page) InsertInternalAt(i int, e InternalEntry) error {
	if !p.IsInternal() {
		return ErrWrongPageKind
	}
	if len(e.Key) > MaxKeyLen {
		return ErrKeyTooLarge
	}
	return p.insertAt(i, e.EncodedSize(), func(buf []byte) {
		EncodeInternalEntry(buf, e)
	})
}

// AppendLeaf adds e as the new highest slot of a leaf page.
func (p *Page) AppendLeaf(e LeafEntry) error {
	return p.InsertLeafAt(p.SlotCount(), e)
}

// InsertLeafAt inserts e at slot i of a leaf page, shifting higher
// slots up.
func (p *Page) InsertLeafAt(i int, e LeafEntry) error {
	if !p.IsLeaf() {
		return ErrWrongPageKind
	}
	if len(e.Key) > MaxKeyLen {
		return ErrKeyTooLarge
	}
	return p.insertAt(i, e.EncodedSize(), func(buf []byte) {
		EncodeLeafEntry(buf, e)
	})
}

// ReplaceLeafAt rewrites the entry at slot i of a leaf page. The new
// bytes land at the free offset; the old bytes become dead space until
// the next Compact.
func (p *Page) ReplaceLeafAt(i int, e LeafEntry) error {
	if !p.IsLeaf() {
		return ErrWrongPageKind
	}
	h := p.Header()
	if i < 0 || i >= int(h.NumSlots) {
		return ErrInvalidSlot
	}
	size := e.EncodedSize()
	if size > p.FreeSpace() {
		return ErrPageOverflow
	}
	start := PageHeaderSize + int(h.FreeOff)
	EncodeLeafEntry(p.Data[start:start+size], e)
	p.setSlot(i, h.FreeOff)
	h.FreeOff += uint16(size)
	return nil
}

// ResetData drops every entry and slot, keeping identity, flags, and
// link fields. Used to rewrite a page from a snapshot.
func (p *Page) ResetData() {
	h := p.Header()
	h.NumSlots = 0
	h.FreeOff = 0
}

// Compact rewrites the data area from a snapshot, squeezing out dead
// bytes left behind by ReplaceLeafAt. Slot order is preserved.
func (p *Page) Compact() error {
	snap := *p
	p.ResetData()
	for i := 0; i < snap.SlotCount(); i++ {
		var err error
		if snap.IsLeaf() {
			var e LeafEntry
			if e, err = snap.LeafEntryAt(i); err == nil {
				err = p.AppendLeaf(e)
			}
		} else {
			var e InternalEntry
			if e, err = snap.InternalEntryAt(i); err == nil {
				err = p.AppendInternal(e)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
