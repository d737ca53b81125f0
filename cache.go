package heapcore

// threadCache is the fast-path front end for the three bucketed classes:
// one cached non-full page and one preferred segment per class, checked
// before falling back to the owning classShard. Go has no per-OS-thread
// destructor to hang a native thread cache off of, so instead of a
// handle a caller holds across calls, a Heap keeps a sync.Pool of these
// and every Allocate/Free borrows one for the duration of the call (see
// Heap.withCache). liveCacheCount only ever increments under this
// model — a cache is never observably destroyed, only returned to the
// pool for reuse - which is an accepted approximation of the reference
// implementation's live_thread_count (see DESIGN.md).
type threadCache struct {
	id    uint64
	stats *localStats

	cachedPage       [3]*page
	preferredSegment [3]*segment
}

func (h *Heap) newThreadCache() *threadCache {
	id := h.nextCacheID.Add(1)
	h.liveCacheCount.Add(1)
	return &threadCache{
		id:    id,
		stats: newLocalStats(&h.stats, h.cfg.statsFlushEvery),
	}
}

// withCache borrows a threadCache for the duration of fn and returns it
// to the pool afterward. fn must not retain the cache past its call.
func (h *Heap) withCache(fn func(*threadCache)) {
	c := h.cachePool.Get().(*threadCache)
	fn(c)
	h.cachePool.Put(c)
}

func (c *threadCache) cacheFor(class sizeClass) **page {
	return &c.cachedPage[class]
}

func (c *threadCache) preferredFor(class sizeClass) **segment {
	return &c.preferredSegment[class]
}
