package perchdb

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perchdb/internal/base"
)

// Small thresholds force splits after a handful of entries so a few
// thousand keys exercise multi-level trees.
func newSmallTree(t *testing.T) *BTree {
	t.Helper()
	return newSplitTree(t, Config{InternalHalf: 256, LeafHalf: 256})
}

func TestTreeInsertLookup(t *testing.T) {
	t.Parallel()

	tree := newSmallTree(t)
	oid := testOID(7)
	require.NoError(t, tree.Insert([]byte("hello"), oid))

	got, err := tree.Lookup([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []ObjectID{oid}, got)

	_, err = tree.Lookup([]byte("absent"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestTreeKeyValidation(t *testing.T) {
	t.Parallel()

	tree := newSmallTree(t)
	assert.ErrorIs(t, tree.Insert(nil, testOID(1)), ErrKeyEmpty)
	assert.ErrorIs(t, tree.Insert(make([]byte, base.MaxKeyLen+1), testOID(1)), ErrKeyTooLarge)
	_, err := tree.Lookup(nil)
	assert.ErrorIs(t, err, ErrKeyEmpty)
}

func TestTreeDuplicateKeysCollapse(t *testing.T) {
	t.Parallel()

	tree := newSmallTree(t)
	key := []byte("shared")

	// Insert out of object order; Lookup must return them sorted.
	oids := []ObjectID{
		{PageNo: 3, SlotNo: 1, Unique: 1},
		{PageNo: 1, SlotNo: 2, Unique: 1},
		{PageNo: 1, SlotNo: 2, Unique: 9},
	}
	for _, oid := range oids {
		require.NoError(t, tree.Insert(key, oid))
	}

	got, err := tree.Lookup(key)
	require.NoError(t, err)
	want := append([]ObjectID(nil), oids...)
	sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })
	assert.Equal(t, want, got)

	assert.ErrorIs(t, tree.Insert(key, oids[0]), ErrDuplicateObject)

	// The duplicates share one leaf entry, not three.
	entries := 0
	require.NoError(t, tree.Scan(func([]byte, []ObjectID) bool {
		entries++
		return true
	}))
	assert.Equal(t, 1, entries)
}

func TestTreeManyInsertsSequential(t *testing.T) {
	t.Parallel()

	tree := newSmallTree(t)
	const n = 2000

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key%06d", i))
		require.NoError(t, tree.Insert(key, testOID(i+1)))
	}
	require.NotEqual(t, tree.pager.GetMeta().RootPageID, base.PageID(1),
		"root must have split at least once")

	for i := 0; i < n; i++ {
		got, err := tree.Lookup([]byte(fmt.Sprintf("key%06d", i)))
		require.NoError(t, err, "key%06d", i)
		assert.Equal(t, []ObjectID{testOID(i + 1)}, got)
	}
}

func TestTreeManyInsertsRandomOrder(t *testing.T) {
	t.Parallel()

	tree := newSmallTree(t)
	const n = 2000

	rng := rand.New(rand.NewSource(42))
	perm := rng.Perm(n)
	for _, i := range perm {
		require.NoError(t, tree.Insert([]byte(fmt.Sprintf("key%06d", i)), testOID(i+1)))
	}

	var keys []string
	require.NoError(t, tree.Scan(func(key []byte, objects []ObjectID) bool {
		keys = append(keys, string(key))
		return true
	}))
	require.Len(t, keys, n)
	assert.True(t, sort.StringsAreSorted(keys), "scan must be globally ordered")
}

func TestTreeScanEarlyStop(t *testing.T) {
	t.Parallel()

	tree := newSmallTree(t)
	for i := 0; i < 100; i++ {
		require.NoError(t, tree.Insert([]byte(fmt.Sprintf("key%03d", i)), testOID(i+1)))
	}

	seen := 0
	require.NoError(t, tree.Scan(func([]byte, []ObjectID) bool {
		seen++
		return seen < 10
	}))
	assert.Equal(t, 10, seen)
}

// After arbitrary splits, every leaf's PrevLeaf must name its
// predecessor in the forward chain: insertLeaf patches the successor
// that the split itself leaves stale.
func TestTreeLeafChainConsistent(t *testing.T) {
	t.Parallel()

	tree := newSmallTree(t)
	rng := rand.New(rand.NewSource(7))
	for _, i := range rng.Perm(1000) {
		require.NoError(t, tree.Insert([]byte(fmt.Sprintf("key%05d", i)), testOID(i+1)))
	}

	// descend to the leftmost leaf
	id := tree.root
	for {
		h, err := tree.pool.Acquire(id)
		require.NoError(t, err)
		if h.Page().IsLeaf() {
			require.NoError(t, tree.pool.Release(h))
			break
		}
		next := h.Page().Header().P0
		require.NoError(t, tree.pool.Release(h))
		id = next
	}

	var prev base.PageID
	leaves := 0
	for id != 0 {
		h, err := tree.pool.Acquire(id)
		require.NoError(t, err)
		hdr := h.Page().Header()
		assert.Equal(t, prev, hdr.PrevLeaf, "leaf %d back-link", id)
		assert.Positive(t, h.Page().SlotCount(), "no empty leaves")
		prev = id
		id = hdr.NextLeaf
		leaves++
		require.NoError(t, tree.pool.Release(h))
	}
	assert.Greater(t, leaves, 1)
}
