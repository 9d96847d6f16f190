package storage

import (
	"github.com/google/btree"

	"perchdb/internal/base"
)

// FreeList tracks reclaimable page IDs in an ordered in-memory tree so
// allocation can honor a near-page hint and keep related pages
// clustered on disk.
//
// The list is in-memory only: pages freed in one session that are never
// reused are leaked across restarts, matching the index's wider stance
// of never rolling an allocation back.
type FreeList struct {
	ids *btree.BTreeG[base.PageID]
}

// NewFreeList creates an empty freelist
func NewFreeList() *FreeList {
	return &FreeList{ids: btree.NewOrderedG[base.PageID](8)}
}

// Free returns a page to the list. Freeing the same ID twice is a
// caller bug and is ignored.
func (f *FreeList) Free(id base.PageID) {
	f.ids.ReplaceOrInsert(id)
}

// Allocate removes and returns the free ID closest to near, or 0 when
// the list is empty.
func (f *FreeList) Allocate(near base.PageID) base.PageID {
	var above, below base.PageID
	var hasAbove, hasBelow bool
	f.ids.AscendGreaterOrEqual(near, func(id base.PageID) bool {
		above, hasAbove = id, true
		return false
	})
	f.ids.DescendLessOrEqual(near, func(id base.PageID) bool {
		below, hasBelow = id, true
		return false
	})

	var pick base.PageID
	switch {
	case hasAbove && hasBelow:
		pick = above
		if near-below < above-near {
			pick = below
		}
	case hasAbove:
		pick = above
	case hasBelow:
		pick = below
	default:
		return 0
	}
	f.ids.Delete(pick)
	return pick
}

// Len returns the number of free pages
func (f *FreeList) Len() int {
	return f.ids.Len()
}
