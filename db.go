package perchdb

import (
	"sync"

	"perchdb/internal/cache"
	"perchdb/internal/storage"
)

// DB is a disk-resident B+-tree object index. It owns the page file,
// the buffer pool, and the index-level latch that serializes structural
// modifications (the tree and split layers below assume exclusive
// access to the pages they touch).
type DB struct {
	mu     sync.RWMutex
	pager  *storage.PageManager
	pool   *cache.BufferPool
	tree   *BTree
	log    Logger
	closed bool
}

// Open opens or creates an index file at path.
func Open(path string, options ...Option) (*DB, error) {
	opts := DefaultOptions()
	for _, o := range options {
		o(&opts)
	}

	pager, err := storage.OpenPageManager(path)
	if err != nil {
		return nil, err
	}

	pool, err := cache.NewBufferPool(opts.poolSize, pager)
	if err != nil {
		pager.Close()
		return nil, err
	}

	tree, err := NewBTree(pager, pool, opts.config, opts.logger)
	if err != nil {
		pager.Close()
		return nil, err
	}

	opts.logger.Info("index opened", "path", path, "root", uint64(tree.root))
	return &DB{
		pager: pager,
		pool:  pool,
		tree:  tree,
		log:   opts.logger,
	}, nil
}

// Insert adds oid under key.
func (db *DB) Insert(key []byte, oid ObjectID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrIndexClosed
	}
	return db.tree.Insert(key, oid)
}

// Lookup returns every ObjectID stored under key.
func (db *DB) Lookup(key []byte) ([]ObjectID, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrIndexClosed
	}
	return db.tree.Lookup(key)
}

// Scan walks all entries in ascending key order until fn returns false.
func (db *DB) Scan(fn func(key []byte, objects []ObjectID) bool) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrIndexClosed
	}
	return db.tree.Scan(fn)
}

// Close flushes dirty pages and closes the index file. The DB is
// unusable afterwards.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrIndexClosed
	}
	db.closed = true

	if err := db.pool.Flush(); err != nil {
		db.pager.Close()
		return err
	}
	if err := db.pager.Close(); err != nil {
		return err
	}
	db.log.Info("index closed")
	return nil
}

// Stats reports cache and I/O counters.
type Stats struct {
	CacheHits      uint64
	CacheMisses    uint64
	CacheEvictions uint64
	DiskReads      uint64
	DiskWrites     uint64
	NumPages       uint64
	FreePages      int
}

// Stats returns a snapshot of runtime counters.
func (db *DB) Stats() Stats {
	cs := db.pool.Stats()
	ss := db.pager.Stats()
	meta := db.pager.GetMeta()
	return Stats{
		CacheHits:      cs.Hits,
		CacheMisses:    cs.Misses,
		CacheEvictions: cs.Evictions,
		DiskReads:      ss.Reads,
		DiskWrites:     ss.Writes,
		NumPages:       meta.NumPages,
		FreePages:      db.pager.FreePages(),
	}
}
