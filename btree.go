package perchdb

import (
	"bytes"
	"sort"

	"perchdb/internal/base"
	"perchdb/internal/cache"
	"perchdb/internal/storage"
)

// ObjectID identifies an indexed object: the page holding it, the slot
// within that page, and a uniquifier distinguishing reused slots.
type ObjectID = base.ObjectID

// BTree maps variable-length keys to ObjectID sets over fixed-size
// slotted pages. Internal pages route by key; leaf pages hold the
// object lists and form a doubly linked chain in key order.
//
// BTree performs no locking of its own: the caller serializes
// structural modifications (DB does this with an index-level latch).
type BTree struct {
	pager *storage.PageManager
	pool  *cache.BufferPool
	cfg   Config
	log   Logger
	root  base.PageID
}

// NewBTree loads the tree rooted in the file's meta page, creating an
// empty root leaf for a fresh file.
func NewBTree(pager *storage.PageManager, pool *cache.BufferPool, cfg Config, log Logger) (*BTree, error) {
	t := &BTree{
		pager: pager,
		pool:  pool,
		cfg:   cfg,
		log:   log,
	}

	meta := pager.GetMeta()
	if meta.RootPageID != 0 {
		t.root = meta.RootPageID
		return t, nil
	}

	rootID, err := pager.AllocatePage(0)
	if err != nil {
		return nil, err
	}
	if err := pager.InitLeaf(rootID, true); err != nil {
		return nil, err
	}

	meta.RootPageID = rootID
	if err := pager.PutMeta(meta); err != nil {
		return nil, err
	}
	t.root = rootID
	return t, nil
}

// Insert adds oid under key. Object IDs sharing a key collapse into a
// single leaf entry; inserting the same (key, oid) pair twice returns
// ErrDuplicateObject.
func (t *BTree) Insert(key []byte, oid ObjectID) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if len(key) > base.MaxKeyLen {
		return ErrKeyTooLarge
	}

	sep, split, err := t.insert(t.root, key, oid)
	if err != nil {
		return err
	}
	if !split {
		return nil
	}
	return t.growRoot(sep)
}

// Lookup returns every ObjectID stored under key, in (page, slot,
// unique) order.
func (t *BTree) Lookup(key []byte) ([]ObjectID, error) {
	if len(key) == 0 {
		return nil, ErrKeyEmpty
	}

	id := t.root
	for {
		h, err := t.pool.Acquire(id)
		if err != nil {
			return nil, err
		}
		p := h.Page()

		if p.IsLeaf() {
			idx, found, err := t.leafSlot(p, key)
			if err == nil && !found {
				err = ErrKeyNotFound
			}
			var objects []ObjectID
			if err == nil {
				var e base.LeafEntry
				if e, err = p.LeafEntryAt(idx); err == nil {
					objects = e.Objects
				}
			}
			if rerr := t.pool.Release(h); err == nil {
				err = rerr
			}
			if err != nil {
				return nil, err
			}
			return objects, nil
		}

		next, err := t.routeChild(p, key)
		if rerr := t.pool.Release(h); err == nil {
			err = rerr
		}
		if err != nil {
			return nil, err
		}
		id = next
	}
}

// Scan walks every leaf entry in ascending key order via the sibling
// chain. It stops early when fn returns false.
func (t *BTree) Scan(fn func(key []byte, objects []ObjectID) bool) error {
	id := t.root
	for {
		h, err := t.pool.Acquire(id)
		if err != nil {
			return err
		}
		p := h.Page()

		if !p.IsLeaf() {
			next := p.Header().P0
			if err := t.pool.Release(h); err != nil {
				return err
			}
			id = next
			continue
		}

		for i := 0; i < p.SlotCount(); i++ {
			e, err := p.LeafEntryAt(i)
			if err != nil {
				_ = t.pool.Release(h)
				return err
			}
			if !fn(e.Key, e.Objects) {
				return t.pool.Release(h)
			}
		}
		next := p.Header().NextLeaf
		if err := t.pool.Release(h); err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		id = next
	}
}

// insert descends into page id. When the page (or a descendant) had to
// split, split is true and sep names the new sibling for the parent.
func (t *BTree) insert(id base.PageID, key []byte, oid ObjectID) (sep base.InternalEntry, split bool, err error) {
	h, err := t.pool.Acquire(id)
	if err != nil {
		return base.InternalEntry{}, false, err
	}
	defer func() {
		if rerr := t.pool.Release(h); err == nil {
			err = rerr
		}
	}()

	if h.Page().IsLeaf() {
		sep, split, err = t.insertLeaf(h, key, oid)
	} else {
		sep, split, err = t.insertInternal(h, key, oid)
	}
	return sep, split, err
}

// insertInternal routes key to a child, then links the child's
// separator into this page if the child split, splitting this page in
// turn when the separator does not fit.
func (t *BTree) insertInternal(h *cache.Handle, key []byte, oid ObjectID) (base.InternalEntry, bool, error) {
	p := h.Page()

	idx, err := t.routeSlot(p, key)
	if err != nil {
		return base.InternalEntry{}, false, err
	}
	child := p.Header().P0
	if idx >= 0 {
		e, eerr := p.InternalEntryAt(idx)
		if eerr != nil {
			return base.InternalEntry{}, false, eerr
		}
		child = e.Child
	}

	csep, csplit, err := t.insert(child, key, oid)
	if err != nil || !csplit {
		return base.InternalEntry{}, false, err
	}

	// The child split: its separator belongs right after the slot that
	// routed to it.
	at := idx + 1
	ierr := p.InsertInternalAt(at, csep)
	if ierr == base.ErrPageOverflow {
		if cerr := p.Compact(); cerr != nil {
			return base.InternalEntry{}, false, cerr
		}
		ierr = p.InsertInternalAt(at, csep)
	}
	if ierr == nil {
		t.pool.MarkDirty(h)
		return base.InternalEntry{}, false, nil
	}
	if ierr != base.ErrPageOverflow {
		return base.InternalEntry{}, false, ierr
	}

	sep, err := t.splitInternal(p, at+1, csep)
	if err != nil {
		return base.InternalEntry{}, false, err
	}
	t.pool.MarkDirty(h)
	t.log.Info("internal page split",
		"page", uint64(p.Header().PageID), "sibling", uint64(sep.Child))
	return sep, true, nil
}

// insertLeaf adds oid at the leaf level, splitting the leaf when the
// entry does not fit even after compaction.
func (t *BTree) insertLeaf(h *cache.Handle, key []byte, oid ObjectID) (base.InternalEntry, bool, error) {
	p := h.Page()

	idx, found, err := t.leafSlot(p, key)
	if err != nil {
		return base.InternalEntry{}, false, err
	}

	if found {
		// Key already present: grow its object list in place. A list
		// that no longer fits the page even compacted is a hard limit;
		// the overflow surfaces to the caller.
		e, eerr := p.LeafEntryAt(idx)
		if eerr != nil {
			return base.InternalEntry{}, false, eerr
		}
		pos := sort.Search(len(e.Objects), func(i int) bool {
			return !e.Objects[i].Less(oid)
		})
		if pos < len(e.Objects) && e.Objects[pos] == oid {
			return base.InternalEntry{}, false, ErrDuplicateObject
		}
		e.Objects = append(e.Objects, ObjectID{})
		copy(e.Objects[pos+1:], e.Objects[pos:])
		e.Objects[pos] = oid

		rerr := p.ReplaceLeafAt(idx, e)
		if rerr == base.ErrPageOverflow {
			if cerr := p.Compact(); cerr != nil {
				return base.InternalEntry{}, false, cerr
			}
			rerr = p.ReplaceLeafAt(idx, e)
		}
		if rerr != nil {
			return base.InternalEntry{}, false, rerr
		}
		t.pool.MarkDirty(h)
		return base.InternalEntry{}, false, nil
	}

	item := base.LeafEntry{
		Key:     append([]byte(nil), key...),
		Objects: []ObjectID{oid},
	}
	ierr := p.InsertLeafAt(idx, item)
	if ierr == base.ErrPageOverflow {
		if cerr := p.Compact(); cerr != nil {
			return base.InternalEntry{}, false, cerr
		}
		ierr = p.InsertLeafAt(idx, item)
	}
	if ierr == nil {
		t.pool.MarkDirty(h)
		return base.InternalEntry{}, false, nil
	}
	if ierr != base.ErrPageOverflow {
		return base.InternalEntry{}, false, ierr
	}

	succ := p.Header().NextLeaf
	sep, err := t.splitLeaf(p, idx+1, item)
	if err != nil {
		return base.InternalEntry{}, false, err
	}
	t.pool.MarkDirty(h)

	// splitLeaf leaves the former successor's back-link naming this
	// page; patch it here with its own pin.
	if succ != 0 {
		sh, aerr := t.pool.Acquire(succ)
		if aerr != nil {
			return base.InternalEntry{}, false, aerr
		}
		sh.Page().Header().PrevLeaf = sep.Child
		t.pool.MarkDirty(sh)
		if rerr := t.pool.Release(sh); rerr != nil {
			return base.InternalEntry{}, false, rerr
		}
	}

	t.log.Info("leaf page split",
		"page", uint64(p.Header().PageID), "sibling", uint64(sep.Child))
	return sep, true, nil
}

// growRoot replaces the root with a fresh internal page holding the old
// root as P0 and sep as its only entry.
func (t *BTree) growRoot(sep base.InternalEntry) error {
	oldRoot := t.root

	newRootID, err := t.pager.AllocatePage(oldRoot)
	if err != nil {
		return err
	}
	if err := t.pager.InitInternal(newRootID, true); err != nil {
		return err
	}

	h, err := t.pool.Acquire(newRootID)
	if err != nil {
		return err
	}
	p := h.Page()
	p.Header().P0 = oldRoot
	if err := p.AppendInternal(sep); err != nil {
		_ = t.pool.Release(h)
		return err
	}
	t.pool.MarkDirty(h)
	if err := t.pool.Release(h); err != nil {
		return err
	}

	oh, err := t.pool.Acquire(oldRoot)
	if err != nil {
		return err
	}
	oh.Page().Header().Flags &^= base.RootPageFlag
	t.pool.MarkDirty(oh)
	if err := t.pool.Release(oh); err != nil {
		return err
	}

	meta := t.pager.GetMeta()
	meta.RootPageID = newRootID
	if err := t.pager.PutMeta(meta); err != nil {
		return err
	}
	t.root = newRootID
	t.log.Info("root split", "old", uint64(oldRoot), "new", uint64(newRootID))
	return nil
}

// routeSlot returns the slot whose key is the greatest key <= key, or
// -1 when key sorts before every slot (route via P0).
func (t *BTree) routeSlot(p *base.Page, key []byte) (int, error) {
	var derr error
	i := sort.Search(p.SlotCount(), func(i int) bool {
		e, err := p.InternalEntryAt(i)
		if err != nil {
			derr = err
			return true
		}
		return bytes.Compare(e.Key, key) > 0
	})
	if derr != nil {
		return 0, derr
	}
	return i - 1, nil
}

// routeChild resolves the child page key descends into.
func (t *BTree) routeChild(p *base.Page, key []byte) (base.PageID, error) {
	idx, err := t.routeSlot(p, key)
	if err != nil {
		return 0, err
	}
	if idx < 0 {
		return p.Header().P0, nil
	}
	e, err := p.InternalEntryAt(idx)
	if err != nil {
		return 0, err
	}
	return e.Child, nil
}

// leafSlot returns the slot holding key (found=true) or the slot where
// key would be inserted (found=false).
func (t *BTree) leafSlot(p *base.Page, key []byte) (int, bool, error) {
	var derr error
	i := sort.Search(p.SlotCount(), func(i int) bool {
		e, err := p.LeafEntryAt(i)
		if err != nil {
			derr = err
			return true
		}
		return bytes.Compare(e.Key, key) >= 0
	})
	if derr != nil {
		return 0, false, derr
	}
	if i < p.SlotCount() {
		e, err := p.LeafEntryAt(i)
		if err != nil {
			return 0, false, err
		}
		if bytes.Equal(e.Key, key) {
			return i, true, nil
		}
	}
	return i, false, nil
}
