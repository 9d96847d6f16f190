package base

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageHeaderAlignment(t *testing.T) {
	t.Parallel()

	// Verify struct sizes match the on-disk layout (no compiler padding)
	assert.Equal(t, uintptr(8), unsafe.Sizeof(PageID(0)), "PageID size")
	assert.Equal(t, uintptr(PageHeaderSize), unsafe.Sizeof(PageHeader{}), "PageHeader size")

	var h PageHeader
	assert.Equal(t, uintptr(0), unsafe.Offsetof(h.PageID), "PageID offset")
	assert.Equal(t, uintptr(8), unsafe.Offsetof(h.Flags), "Flags offset")
	assert.Equal(t, uintptr(10), unsafe.Offsetof(h.NumSlots), "NumSlots offset")
	assert.Equal(t, uintptr(12), unsafe.Offsetof(h.FreeOff), "FreeOff offset")
	assert.Equal(t, uintptr(14), unsafe.Offsetof(h.Reserved), "Reserved offset")
	assert.Equal(t, uintptr(16), unsafe.Offsetof(h.P0), "P0 offset")
	assert.Equal(t, uintptr(24), unsafe.Offsetof(h.PrevLeaf), "PrevLeaf offset")
	assert.Equal(t, uintptr(32), unsafe.Offsetof(h.NextLeaf), "NextLeaf offset")
}

func TestPageFormat(t *testing.T) {
	t.Parallel()

	var p Page
	p.Data[100] = 0xFF // stale bytes must not survive Format

	p.Format(42, LeafPageFlag|RootPageFlag)
	h := p.Header()
	assert.Equal(t, PageID(42), h.PageID)
	assert.True(t, p.IsLeaf())
	assert.False(t, p.IsInternal())
	assert.Zero(t, h.NumSlots)
	assert.Zero(t, h.FreeOff)
	assert.Zero(t, p.Data[100])
	assert.Equal(t, DataCapacity, p.FreeSpace())
	assert.Zero(t, p.Used())
}

func TestLeafInsertKeepsSlotOrder(t *testing.T) {
	t.Parallel()

	var p Page
	p.Format(1, LeafPageFlag)

	oid := ObjectID{PageNo: 9, SlotNo: 1, Unique: 1}
	// Insert out of data-area order: slot order must still be b, d, f
	require.NoError(t, p.AppendLeaf(LeafEntry{Key: []byte("d"), Objects: []ObjectID{oid}}))
	require.NoError(t, p.InsertLeafAt(0, LeafEntry{Key: []byte("b"), Objects: []ObjectID{oid}}))
	require.NoError(t, p.InsertLeafAt(2, LeafEntry{Key: []byte("f"), Objects: []ObjectID{oid}}))

	require.Equal(t, 3, p.SlotCount())
	want := []string{"b", "d", "f"}
	for i, k := range want {
		e, err := p.LeafEntryAt(i)
		require.NoError(t, err)
		assert.Equal(t, k, string(e.Key), "slot %d", i)
		assert.Equal(t, []ObjectID{oid}, e.Objects)
	}
}

func TestInternalInsertAndBounds(t *testing.T) {
	t.Parallel()

	var p Page
	p.Format(1, InternalPageFlag)
	p.Header().P0 = 5

	require.NoError(t, p.AppendInternal(InternalEntry{Child: 6, Key: []byte("k1")}))
	require.NoError(t, p.AppendInternal(InternalEntry{Child: 7, Key: []byte("k2")}))

	e, err := p.InternalEntryAt(1)
	require.NoError(t, err)
	assert.Equal(t, PageID(7), e.Child)
	assert.Equal(t, "k2", string(e.Key))

	_, err = p.InternalEntryAt(2)
	assert.ErrorIs(t, err, ErrInvalidSlot)
	_, err = p.InternalEntryAt(-1)
	assert.ErrorIs(t, err, ErrInvalidSlot)

	// Kind mismatch both ways
	_, err = p.LeafEntryAt(0)
	assert.ErrorIs(t, err, ErrWrongPageKind)
	var leaf Page
	leaf.Format(2, LeafPageFlag)
	_, err = leaf.InternalEntryAt(0)
	assert.ErrorIs(t, err, ErrWrongPageKind)
	assert.ErrorIs(t, leaf.AppendInternal(e), ErrWrongPageKind)
	assert.ErrorIs(t, p.AppendLeaf(LeafEntry{Key: []byte("x")}), ErrWrongPageKind)
}

func TestPageOverflow(t *testing.T) {
	t.Parallel()

	var p Page
	p.Format(1, LeafPageFlag)

	e := LeafEntry{Key: make([]byte, 128), Objects: []ObjectID{{PageNo: 1}}}
	cost := e.EncodedSize() + SlotSize
	fit := DataCapacity / cost

	for i := 0; i < fit; i++ {
		e.Key[0] = byte(i)
		require.NoError(t, p.AppendLeaf(e), "entry %d", i)
	}
	e.Key[0] = byte(fit)
	assert.ErrorIs(t, p.AppendLeaf(e), ErrPageOverflow)
	assert.Equal(t, fit, p.SlotCount(), "failed append must not consume a slot")
}

func TestKeyTooLarge(t *testing.T) {
	t.Parallel()

	var p Page
	p.Format(1, LeafPageFlag)
	err := p.AppendLeaf(LeafEntry{Key: make([]byte, MaxKeyLen+1)})
	assert.ErrorIs(t, err, ErrKeyTooLarge)

	var ip Page
	ip.Format(2, InternalPageFlag)
	err = ip.AppendInternal(InternalEntry{Child: 3, Key: make([]byte, MaxKeyLen+1)})
	assert.ErrorIs(t, err, ErrKeyTooLarge)
}

func TestReplaceLeafAndCompact(t *testing.T) {
	t.Parallel()

	var p Page
	p.Format(1, LeafPageFlag)

	for i := 0; i < 4; i++ {
		key := []byte(fmt.Sprintf("key%d", i))
		require.NoError(t, p.AppendLeaf(LeafEntry{Key: key, Objects: []ObjectID{{PageNo: PageID(i)}}}))
	}
	before := p.Used()

	// Replacing grows the object list and leaves the old bytes dead
	e, err := p.LeafEntryAt(1)
	require.NoError(t, err)
	e.Objects = append(e.Objects, ObjectID{PageNo: 99})
	require.NoError(t, p.ReplaceLeafAt(1, e))
	assert.Greater(t, p.Used(), before+ObjectIDSize, "old entry bytes still counted")

	got, err := p.LeafEntryAt(1)
	require.NoError(t, err)
	assert.Equal(t, e.Objects, got.Objects)

	// Compact squeezes the dead bytes out but keeps slot order
	require.NoError(t, p.Compact())
	assert.Equal(t, before+ObjectIDSize, p.Used())
	for i := 0; i < 4; i++ {
		e, err := p.LeafEntryAt(i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("key%d", i), string(e.Key))
	}
}

func TestResetDataKeepsIdentity(t *testing.T) {
	t.Parallel()

	var p Page
	p.Format(7, LeafPageFlag)
	h := p.Header()
	h.PrevLeaf = 3
	h.NextLeaf = 9
	require.NoError(t, p.AppendLeaf(LeafEntry{Key: []byte("a"), Objects: []ObjectID{{PageNo: 1}}}))

	p.ResetData()
	assert.Zero(t, p.SlotCount())
	assert.Zero(t, p.Used())
	assert.Equal(t, PageID(7), h.PageID)
	assert.Equal(t, PageID(3), h.PrevLeaf)
	assert.Equal(t, PageID(9), h.NextLeaf)
	assert.True(t, p.IsLeaf())
}

func TestUsedAccounting(t *testing.T) {
	t.Parallel()

	var p Page
	p.Format(1, InternalPageFlag)
	e := InternalEntry{Child: 2, Key: []byte("abcd")}
	require.NoError(t, p.AppendInternal(e))
	assert.Equal(t, e.EncodedSize()+SlotSize, p.Used())
	assert.Equal(t, DataCapacity-e.EncodedSize()-SlotSize, p.FreeSpace())
}
