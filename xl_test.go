package heapcore

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func Test_XLTableAllocateResolveFree(t *testing.T) {
	tbl := newXLTable()
	ptr, err := tbl.allocate(1 << 20)
	require.NoError(t, err)
	require.NotNil(t, ptr)

	_, size, ok := tbl.resolve(ptr)
	require.True(t, ok)
	require.EqualValues(t, 1<<20, size)

	tbl.free(ptr)
	_, _, ok = tbl.resolve(ptr)
	require.False(t, ok)
}

func Test_XLTableResolveRejectsUntrackedPointer(t *testing.T) {
	tbl := newXLTable()
	var x int
	_, _, ok := tbl.resolve(unsafe.Pointer(&x))
	require.False(t, ok)
}

func Test_HeapRoutesOversizedRequestsToXL(t *testing.T) {
	h, err := New()
	require.NoError(t, err)
	defer h.Close()

	ptr, err := h.Allocate(largeFitLimit + 1)
	require.NoError(t, err)
	require.NotNil(t, ptr)

	_, _, ok := h.xl.resolve(ptr)
	require.True(t, ok)

	h.Free(ptr)
	stats := h.Stats()
	require.EqualValues(t, 1, stats.XLAllocs)
	require.EqualValues(t, 1, stats.XLFrees)
}
