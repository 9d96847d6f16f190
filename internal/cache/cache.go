package cache

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"perchdb/internal/base"
	"perchdb/internal/storage"
)

var (
	ErrPoolExhausted = errors.New("buffer pool exhausted: all frames pinned")
	ErrPageNotPinned = errors.New("release of unpinned page")
)

const (
	// MinPoolSize must cover a root-to-leaf path plus the pages a split
	// holds at once.
	MinPoolSize = 16
)

// BufferPool caches pages with a pin discipline: Acquire returns a
// pinned Handle whose page cannot be evicted until Release. Unpinned
// frames sit in an LRU victim list; dirty victims are written back
// through the PageManager before eviction.
//
// The pool serializes its own bookkeeping but provides no mutual
// exclusion over page contents. Callers that mutate a pinned page must
// hold their own structural lock.
type BufferPool struct {
	mu       sync.Mutex
	capacity int
	frames   map[base.PageID]*frame
	victims  *freelru.LRU[base.PageID, struct{}] // eviction order of unpinned frames
	pager    *storage.PageManager

	// Stats
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// frame is one cached page plus its pin count and dirty flag
type frame struct {
	id    base.PageID
	page  *base.Page
	pins  int
	dirty bool
}

// Handle is a pinned reference to a cached page. It stays valid until
// passed to Release.
type Handle struct {
	f *frame
}

// Page returns the pinned page for in-place reads and writes.
func (h *Handle) Page() *base.Page {
	return h.f.page
}

// ID returns the pinned page's identifier.
func (h *Handle) ID() base.PageID {
	return h.f.id
}

func hashPageID(id base.PageID) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return uint32(xxhash.Sum64(b[:]))
}

// NewBufferPool creates a pool holding at most capacity frames.
func NewBufferPool(capacity int, pager *storage.PageManager) (*BufferPool, error) {
	capacity = max(capacity, MinPoolSize)

	victims, err := freelru.New[base.PageID, struct{}](uint32(capacity), hashPageID)
	if err != nil {
		return nil, err
	}

	return &BufferPool{
		capacity: capacity,
		frames:   make(map[base.PageID]*frame, capacity),
		victims:  victims,
		pager:    pager,
	}, nil
}

// Acquire pins the page, loading it from disk on a miss. Every Acquire
// must be paired with a Release.
func (bp *BufferPool) Acquire(id base.PageID) (*Handle, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if f, ok := bp.frames[id]; ok {
		f.pins++
		if f.pins == 1 {
			bp.victims.Remove(id)
		}
		bp.hits.Add(1)
		return &Handle{f: f}, nil
	}
	bp.misses.Add(1)

	if len(bp.frames) >= bp.capacity {
		if err := bp.evictLocked(); err != nil {
			return nil, err
		}
	}

	page, err := bp.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}

	f := &frame{id: id, page: page, pins: 1}
	bp.frames[id] = f
	return &Handle{f: f}, nil
}

// evictLocked drops the least recently used unpinned frame, writing it
// back first when dirty. Caller holds bp.mu.
func (bp *BufferPool) evictLocked() error {
	vid, _, ok := bp.victims.RemoveOldest()
	if !ok {
		return ErrPoolExhausted
	}
	f := bp.frames[vid]
	if f.dirty {
		if err := bp.pager.WritePage(vid, f.page); err != nil {
			bp.victims.Add(vid, struct{}{})
			return err
		}
		f.dirty = false
	}
	delete(bp.frames, vid)
	bp.evictions.Add(1)
	return nil
}

// Release unpins the handle. Once the pin count reaches zero the frame
// becomes an eviction candidate.
func (bp *BufferPool) Release(h *Handle) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if h.f.pins <= 0 {
		return ErrPageNotPinned
	}
	h.f.pins--
	if h.f.pins == 0 {
		bp.victims.Add(h.f.id, struct{}{})
	}
	return nil
}

// MarkDirty records that the pinned page has been mutated and must be
// written back before eviction.
func (bp *BufferPool) MarkDirty(h *Handle) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	h.f.dirty = true
}

// Flush writes every dirty frame to disk. Pinned frames are flushed
// too; their pins stay intact.
func (bp *BufferPool) Flush() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	var err error
	for id, f := range bp.frames {
		if !f.dirty {
			continue
		}
		if werr := bp.pager.WritePage(id, f.page); werr != nil {
			if err == nil {
				err = werr
			}
			continue
		}
		f.dirty = false
	}
	return err
}

// Size returns the number of resident frames
func (bp *BufferPool) Size() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.frames)
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns cache statistics
func (bp *BufferPool) Stats() Stats {
	return Stats{
		Hits:      bp.hits.Load(),
		Misses:    bp.misses.Load(),
		Evictions: bp.evictions.Load(),
	}
}
