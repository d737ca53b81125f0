package heapcore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_NewThreadCacheAssignsUniqueIDs(t *testing.T) {
	h, err := New()
	require.NoError(t, err)
	defer h.Close()

	a := h.newThreadCache()
	b := h.newThreadCache()
	require.NotEqual(t, a.id, b.id)
	require.EqualValues(t, 2, h.liveCacheCount.Load())
}

func Test_WithCacheReturnsCacheToPool(t *testing.T) {
	h, err := New()
	require.NoError(t, err)
	defer h.Close()

	var firstID uint64
	h.withCache(func(c *threadCache) {
		firstID = c.id
	})
	h.withCache(func(c *threadCache) {
		require.Equal(t, firstID, c.id, "pooled cache should be reused, not recreated")
	})
}

func Test_ThreadCacheCacheForIsPerClass(t *testing.T) {
	c := &threadCache{}
	var small, medium page
	*c.cacheFor(classSmall) = &small
	*c.cacheFor(classMedium) = &medium
	require.Equal(t, &small, *c.cacheFor(classSmall))
	require.Equal(t, &medium, *c.cacheFor(classMedium))
}

func Test_ThreadCachePreferredForIsPerClass(t *testing.T) {
	c := &threadCache{}
	var small, medium segment
	*c.preferredFor(classSmall) = &small
	*c.preferredFor(classMedium) = &medium
	require.Equal(t, &small, *c.preferredFor(classSmall))
	require.Equal(t, &medium, *c.preferredFor(classMedium))
}

func Test_AcquirePageFallsBackToPreferredSegmentWhenCachedPageFull(t *testing.T) {
	h, err := New()
	require.NoError(t, err)
	defer h.Close()

	const class = classSmall
	slotSize := normalize(8, class) + chunkHeaderSize

	var c threadCache
	first, err := h.acquirePage(&c, class, slotSize)
	require.NoError(t, err)

	// Exhaust the cached page so the next acquirePage call must fall
	// through past fast path A.
	lock := h.stripes.For(first)
	lock.Lock()
	for !first.isFull() {
		_, ok := first.allocSlot()
		require.True(t, ok)
	}
	lock.Unlock()

	pref := *c.preferredFor(class)
	require.NotNil(t, pref, "acquirePage must record a preferred segment on first use")

	second, err := h.acquirePage(&c, class, slotSize)
	require.NoError(t, err)
	require.Equal(t, pref, h.segments[second.segmentIdx], "second page should come from the preferred segment before a new one is carved")
}

func Test_AcquirePageRetunesEmptyCachedLargePageForNewSize(t *testing.T) {
	h, err := New()
	require.NoError(t, err)
	defer h.Close()

	const class = classLarge
	firstSize := normalize(largeClassThreshold/2, classLarge) + chunkHeaderSize

	var c threadCache
	first, err := h.acquirePage(&c, class, firstSize)
	require.NoError(t, err)
	firstSegmentIdx := first.segmentIdx

	slot, ok := first.allocSlot()
	require.True(t, ok)
	first.freeSlot(slot)
	require.True(t, first.isEmpty())

	secondSize := normalize(largeClassThreshold/3, classLarge) + chunkHeaderSize
	second, err := h.acquirePage(&c, class, secondSize)
	require.NoError(t, err)

	require.Same(t, first, second, "an empty large page should be retuned in place rather than replaced")
	require.Equal(t, firstSegmentIdx, second.segmentIdx)
	require.Equal(t, secondSize, second.slotSize)
}

func Test_AcquirePageDoesNotRetuneNonEmptyLargePage(t *testing.T) {
	h, err := New()
	require.NoError(t, err)
	defer h.Close()

	const class = classLarge
	firstSize := normalize(largeClassThreshold/2, classLarge) + chunkHeaderSize

	var c threadCache
	first, err := h.acquirePage(&c, class, firstSize)
	require.NoError(t, err)

	_, ok := first.allocSlot() // leave the page non-empty
	require.True(t, ok)

	secondSize := normalize(largeClassThreshold/3, classLarge) + chunkHeaderSize
	second, err := h.acquirePage(&c, class, secondSize)
	require.NoError(t, err)
	require.NotSame(t, first, second, "a non-empty large page must never be retuned out from under its live slot")
}
