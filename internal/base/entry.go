package base

import "encoding/binary"

const (
	// EntryAlign is the alignment unit for key bytes inside an entry.
	// Padding is layout only; it never carries meaning.
	EntryAlign = 4

	// ObjectIDSize is the encoded size of an ObjectID:
	// [PageNo: 8][SlotNo: 2][Unique: 2]
	ObjectIDSize = 12

	internalEntryHeaderSize = 10 // Child(8) + key length(2)
	leafEntryHeaderSize     = 4  // key length(2) + object count(2)

	// MaxKeyLen bounds key size so any entry fits well inside a page.
	MaxKeyLen = 256
)

// Aligned rounds n up to the next EntryAlign boundary.
func Aligned(n int) int {
	return (n + EntryAlign - 1) &^ (EntryAlign - 1)
}

// ObjectID identifies a stored object: the page holding it, the slot
// within that page, and a uniquifier that distinguishes reused slots.
type ObjectID struct {
	PageNo PageID
	SlotNo uint16
	Unique uint16
}

// Less orders ObjectIDs by (PageNo, SlotNo, Unique).
func (o ObjectID) Less(other ObjectID) bool {
	if o.PageNo != other.PageNo {
		return o.PageNo < other.PageNo
	}
	if o.SlotNo != other.SlotNo {
		return o.SlotNo < other.SlotNo
	}
	return o.Unique < other.Unique
}

// InternalEntry routes keys >= Key (and < the next entry's key) to Child.
// The same shape serves three roles: an entry resident in an internal
// page, the pending item handed to a split, and the separator a split
// returns for insertion into the parent (Child = the new sibling).
//
// On-page layout: [Child: 8][klen: 2][key: Aligned(klen)]
type InternalEntry struct {
	Child PageID
	Key   []byte
}

// LeafEntry holds one key and every ObjectID indexed under it. Duplicate
// keys collapse into a single entry's object array.
//
// On-page layout: [klen: 2][nObjects: 2][key: Aligned(klen)][objects: nObjects*12]
type LeafEntry struct {
	Key     []byte
	Objects []ObjectID
}

// InternalEntrySize returns the encoded length of an internal entry with
// a key of klen bytes, alignment padding included.
func InternalEntrySize(klen int) int {
	return internalEntryHeaderSize + Aligned(klen)
}

// LeafEntrySize returns the encoded length of a leaf entry with a key of
// klen bytes and nObjects trailing ObjectIDs, alignment padding included.
func LeafEntrySize(klen, nObjects int) int {
	return leafEntryHeaderSize + Aligned(klen) + nObjects*ObjectIDSize
}

// EncodedSize returns the entry's exact on-page length.
func (e InternalEntry) EncodedSize() int {
	return InternalEntrySize(len(e.Key))
}

// EncodedSize returns the entry's exact on-page length.
func (e LeafEntry) EncodedSize() int {
	return LeafEntrySize(len(e.Key), len(e.Objects))
}

// EncodeInternalEntry writes e into buf and returns the encoded length.
// buf must hold at least e.EncodedSize() bytes.
func EncodeInternalEntry(buf []byte, e InternalEntry) int {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.Child))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(e.Key)))
	n := internalEntryHeaderSize + copy(buf[internalEntryHeaderSize:], e.Key)
	size := e.EncodedSize()
	for ; n < size; n++ {
		buf[n] = 0
	}
	return size
}

// DecodeInternalEntry reads one internal entry from the start of buf. The
// returned key is copied out of buf.
func DecodeInternalEntry(buf []byte) (InternalEntry, int, error) {
	if len(buf) < internalEntryHeaderSize {
		return InternalEntry{}, 0, ErrInvalidOffset
	}
	child := PageID(binary.LittleEndian.Uint64(buf[0:8]))
	klen := int(binary.LittleEndian.Uint16(buf[8:10]))
	size := InternalEntrySize(klen)
	if size > len(buf) {
		return InternalEntry{}, 0, ErrInvalidOffset
	}
	key := make([]byte, klen)
	copy(key, buf[internalEntryHeaderSize:internalEntryHeaderSize+klen])
	return InternalEntry{Child: child, Key: key}, size, nil
}

// EncodeLeafEntry writes e into buf and returns the encoded length.
// buf must hold at least e.EncodedSize() bytes.
func EncodeLeafEntry(buf []byte, e LeafEntry) int {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(e.Key)))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(e.Objects)))
	n := leafEntryHeaderSize + copy(buf[leafEntryHeaderSize:], e.Key)
	keyEnd := leafEntryHeaderSize + Aligned(len(e.Key))
	for ; n < keyEnd; n++ {
		buf[n] = 0
	}
	off := keyEnd
	for _, oid := range e.Objects {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(oid.PageNo))
		binary.LittleEndian.PutUint16(buf[off+8:off+10], oid.SlotNo)
		binary.LittleEndian.PutUint16(buf[off+10:off+12], oid.Unique)
		off += ObjectIDSize
	}
	return off
}

// DecodeLeafEntry reads one leaf entry from the start of buf. The
// returned key and object array are copied out of buf.
func DecodeLeafEntry(buf []byte) (LeafEntry, int, error) {
	if len(buf) < leafEntryHeaderSize {
		return LeafEntry{}, 0, ErrInvalidOffset
	}
	klen := int(binary.LittleEndian.Uint16(buf[0:2]))
	nObjects := int(binary.LittleEndian.Uint16(buf[2:4]))
	size := LeafEntrySize(klen, nObjects)
	if size > len(buf) {
		return LeafEntry{}, 0, ErrInvalidOffset
	}
	key := make([]byte, klen)
	copy(key, buf[leafEntryHeaderSize:leafEntryHeaderSize+klen])
	objects := make([]ObjectID, nObjects)
	off := leafEntryHeaderSize + Aligned(klen)
	for i := range objects {
		objects[i].PageNo = PageID(binary.LittleEndian.Uint64(buf[off : off+8]))
		objects[i].SlotNo = binary.LittleEndian.Uint16(buf[off+8 : off+10])
		objects[i].Unique = binary.LittleEndian.Uint16(buf[off+10 : off+12])
		off += ObjectIDSize
	}
	return LeafEntry{Key: key, Objects: objects}, size, nil
}
