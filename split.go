package perchdb

import (
	"perchdb/internal/base"
)

// The split routines divide one overfull page plus one pending entry
// into two half-full siblings in a single pass. The caller has already
// decided that the split is necessary, computed the 1-based rank high
// in [1, n+1] at which the pending entry belongs, and holds exclusive
// pinned access to fpage. Both routines mutate fpage in place and
// return the separator the caller must insert into the parent; the
// caller is also responsible for marking fpage dirty.
//
// A page allocated or initialized before a later failure is not
// returned to the free pool. The storage layer reclaims nothing on its
// own, so such a page stays leaked until the file is rebuilt.

// splitInternal splits the pinned internal page fpage around the
// pending entry item.
//
// The loop walks n+1 logical slots: the n snapshot entries interleaved
// with item at rank high. Entries fill fpage while the running byte sum
// is below cfg.InternalHalf, then spill into the new page. The first
// entry bound for the new page is consumed rather than slotted: its
// child pointer becomes the new page's P0 and its key, paired with the
// new page's ID, forms the returned separator. The promoted key
// therefore appears in the parent only, never in the new page's
// directory.
func (t *BTree) splitInternal(fpage *base.Page, high int, item base.InternalEntry) (base.InternalEntry, error) {
	newID, err := t.pager.AllocatePage(fpage.Header().PageID)
	if err != nil {
		return base.InternalEntry{}, err
	}
	if err := t.pager.InitInternal(newID, false); err != nil {
		return base.InternalEntry{}, err
	}
	nh, err := t.pool.Acquire(newID)
	if err != nil {
		return base.InternalEntry{}, err
	}
	npage := nh.Page()

	// Snapshot, then rewrite fpage from scratch. Reading the snapshot
	// while writing fpage avoids aliasing between source and
	// destination slots.
	snap := *fpage
	fpage.ResetData()

	var (
		sep      base.InternalEntry
		promoted bool
		sum      int
	)
	n := snap.SlotCount()
	for i := 0; i <= n; i++ {
		var e base.InternalEntry
		switch {
		case i+1 < high:
			e, err = snap.InternalEntryAt(i)
		case i+1 == high:
			e = item
		default:
			e, err = snap.InternalEntryAt(i - 1)
		}
		if err == nil {
			if sum < t.cfg.InternalHalf {
				err = fpage.AppendInternal(e)
			} else if !promoted {
				npage.Header().P0 = e.Child
				sep = base.InternalEntry{Child: newID, Key: append([]byte(nil), e.Key...)}
				promoted = true
			} else {
				err = npage.AppendInternal(e)
			}
		}
		if err != nil {
			_ = t.pool.Release(nh)
			return base.InternalEntry{}, err
		}
		sum += e.EncodedSize() + base.SlotSize
	}

	t.pool.MarkDirty(nh)
	if err := t.pool.Release(nh); err != nil {
		return base.InternalEntry{}, err
	}
	return sep, nil
}

// splitLeaf splits the pinned leaf page fpage around the pending entry
// item.
//
// Partitioning matches splitInternal, with two differences required by
// the leaf level: every entry stays addressable in its page (range
// scans need all keys), so the separator key is copied from the new
// page's first entry rather than consumed; and the new page is linked
// between fpage and its former successor.
//
// The former successor's PrevLeaf still names fpage when this returns.
// Patching it needs a pin on a third page and is the caller's job.
func (t *BTree) splitLeaf(fpage *base.Page, high int, item base.LeafEntry) (base.InternalEntry, error) {
	newID, err := t.pager.AllocatePage(fpage.Header().PageID)
	if err != nil {
		return base.InternalEntry{}, err
	}
	if err := t.pager.InitLeaf(newID, false); err != nil {
		return base.InternalEntry{}, err
	}
	nh, err := t.pool.Acquire(newID)
	if err != nil {
		return base.InternalEntry{}, err
	}
	npage := nh.Page()

	snap := *fpage
	fpage.ResetData()

	sum := 0
	n := snap.SlotCount()
	for i := 0; i <= n; i++ {
		var e base.LeafEntry
		switch {
		case i+1 < high:
			e, err = snap.LeafEntryAt(i)
		case i+1 == high:
			e = item
		default:
			e, err = snap.LeafEntryAt(i - 1)
		}
		if err == nil {
			if sum < t.cfg.LeafHalf {
				err = fpage.AppendLeaf(e)
			} else {
				err = npage.AppendLeaf(e)
			}
		}
		if err != nil {
			_ = t.pool.Release(nh)
			return base.InternalEntry{}, err
		}
		sum += e.EncodedSize() + base.SlotSize
	}

	// Link the new page between fpage and its former successor.
	fh := fpage.Header()
	nph := npage.Header()
	nph.PrevLeaf = fh.PageID
	nph.NextLeaf = fh.NextLeaf
	fh.NextLeaf = nph.PageID

	first, err := npage.LeafEntryAt(0)
	if err != nil {
		_ = t.pool.Release(nh)
		return base.InternalEntry{}, err
	}
	sep := base.InternalEntry{Child: newID, Key: append([]byte(nil), first.Key...)}

	t.pool.MarkDirty(nh)
	if err := t.pool.Release(nh); err != nil {
		return base.InternalEntry{}, err
	}
	return sep, nil
}
