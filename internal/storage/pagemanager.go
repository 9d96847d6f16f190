package storage

import (
	"sync"
	"unsafe"

	"github.com/cespare/xxhash/v2"

	"perchdb/internal/base"
)

const (
	// MagicNumber for file format identification ("prch" in hex)
	MagicNumber uint32 = 0x70726368

	FormatVersion uint16 = 1

	// metaPageID is reserved; entry pages start at 1.
	metaPageID base.PageID = 0

	metaSize         = 32
	metaChecksumSize = 8
)

// MetaPage represents index file metadata stored in page 0
// Layout: [Magic: 4][Version: 2][PageSize: 2][RootPageID: 8][NumPages: 8][Checksum: 8]
// Total: 32 bytes
type MetaPage struct {
	Magic      uint32      // 4 bytes: 0x70726368 ("prch")
	Version    uint16      // 2 bytes: format version (1)
	PageSize   uint16      // 2 bytes: page size (4096)
	RootPageID base.PageID // 8 bytes: root of the tree (0 = none yet)
	NumPages   uint64      // 8 bytes: total pages allocated, meta included
	Checksum   uint64      // 8 bytes: xxhash of the fields above
}

// CalculateChecksum computes the xxhash of all fields except Checksum itself
func (m *MetaPage) CalculateChecksum() uint64 {
	data := unsafe.Slice((*byte)(unsafe.Pointer(m)), metaSize-metaChecksumSize)
	return xxhash.Sum64(data)
}

// Validate checks if the metadata is valid
func (m *MetaPage) Validate() error {
	if m.Magic != MagicNumber {
		return base.ErrInvalidMagicNumber
	}
	if m.Version != FormatVersion {
		return base.ErrInvalidVersion
	}
	if m.PageSize != base.PageSize {
		return base.ErrInvalidPageSize
	}
	if m.Checksum != m.CalculateChecksum() {
		return base.ErrInvalidChecksum
	}
	return nil
}

// PageManager owns the index file: the meta page, page allocation, and
// page-granular I/O. It plays the allocator role for the split path.
type PageManager struct {
	mu       sync.Mutex // protects meta and freelist
	store    *Storage
	meta     MetaPage
	freelist *FreeList
}

// OpenPageManager opens or creates an index file
func OpenPageManager(path string) (*PageManager, error) {
	store, err := NewStorage(path)
	if err != nil {
		return nil, err
	}

	pm := &PageManager{
		store:    store,
		freelist: NewFreeList(),
	}

	empty, err := store.Empty()
	if err != nil {
		store.Close()
		return nil, err
	}

	if empty {
		if err := pm.initializeNewFile(); err != nil {
			store.Close()
			return nil, err
		}
	} else {
		if err := pm.loadExistingFile(); err != nil {
			store.Close()
			return nil, err
		}
	}

	return pm, nil
}

func (pm *PageManager) initializeNewFile() error {
	pm.meta = MetaPage{
		Magic:    MagicNumber,
		Version:  FormatVersion,
		PageSize: base.PageSize,
		NumPages: 1, // meta page
	}
	if err := pm.writeMetaLocked(); err != nil {
		return err
	}
	return pm.store.Sync()
}

func (pm *PageManager) loadExistingFile() error {
	page, err := pm.store.ReadPage(metaPageID)
	if err != nil {
		return err
	}
	meta := (*MetaPage)(unsafe.Pointer(&page.Data[base.PageHeaderSize]))
	if err := meta.Validate(); err != nil {
		return err
	}
	pm.meta = *meta
	return nil
}

// writeMetaLocked stamps the checksum and writes page 0. Caller holds
// pm.mu (or is still single-threaded in Open).
func (pm *PageManager) writeMetaLocked() error {
	pm.meta.Checksum = pm.meta.CalculateChecksum()

	page := &base.Page{}
	page.Header().PageID = metaPageID
	*(*MetaPage)(unsafe.Pointer(&page.Data[base.PageHeaderSize])) = pm.meta
	return pm.store.WritePage(metaPageID, page)
}

// ReadPage reads a page from disk
func (pm *PageManager) ReadPage(id base.PageID) (*base.Page, error) {
	return pm.store.ReadPage(id)
}

// WritePage writes a page to disk
func (pm *PageManager) WritePage(id base.PageID, page *base.Page) error {
	return pm.store.WritePage(id, page)
}

// AllocatePage allocates a new page, preferring a freelist page close
// to the near hint, otherwise growing the file.
func (pm *PageManager) AllocatePage(near base.PageID) (base.PageID, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if id := pm.freelist.Allocate(near); id != 0 {
		return id, nil
	}

	id := base.PageID(pm.meta.NumPages)
	pm.meta.NumPages++

	// Extend the file so later positioned reads see a full page
	if err := pm.store.WritePage(id, &base.Page{}); err != nil {
		return 0, err
	}
	return id, nil
}

// FreePage adds a page to the freelist
func (pm *PageManager) FreePage(id base.PageID) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.freelist.Free(id)
}

// InitInternal formats a page as an empty internal page and writes it.
func (pm *PageManager) InitInternal(id base.PageID, isRoot bool) error {
	flags := base.InternalPageFlag
	if isRoot {
		flags |= base.RootPageFlag
	}
	page := &base.Page{}
	page.Format(id, flags)
	return pm.store.WritePage(id, page)
}

// InitLeaf formats a page as an empty leaf page and writes it.
func (pm *PageManager) InitLeaf(id base.PageID, isRoot bool) error {
	flags := base.LeafPageFlag
	if isRoot {
		flags |= base.RootPageFlag
	}
	page := &base.Page{}
	page.Format(id, flags)
	return pm.store.WritePage(id, page)
}

// GetMeta returns the current metadata
func (pm *PageManager) GetMeta() MetaPage {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.meta
}

// PutMeta updates the metadata and persists it to disk
func (pm *PageManager) PutMeta(meta MetaPage) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.meta = meta
	if err := pm.writeMetaLocked(); err != nil {
		return err
	}
	return pm.store.Sync()
}

// FreePages returns the number of reclaimable pages
func (pm *PageManager) FreePages() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.freelist.Len()
}

// Sync flushes the backing file
func (pm *PageManager) Sync() error {
	return pm.store.Sync()
}

// Stats returns I/O statistics from the backing storage
func (pm *PageManager) Stats() Stats {
	return pm.store.Stats()
}

// Close persists the meta page and closes the backing file
func (pm *PageManager) Close() error {
	pm.mu.Lock()
	if err := pm.writeMetaLocked(); err != nil {
		pm.mu.Unlock()
		pm.store.Close()
		return err
	}
	pm.mu.Unlock()

	if err := pm.store.Sync(); err != nil {
		pm.store.Close()
		return err
	}
	return pm.store.Close()
}
