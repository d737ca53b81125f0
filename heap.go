package heapcore

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/go-heapcore/heapcore/internal/osmem"
)

// chunkFreedMagic overwrites a chunk header's magic field on free. A
// second free (or any use of a stale pointer) then fails resolveChunk's
// magic check instead of silently operating on a freed slot, so a double
// free takes the same fatal abort as a bad pointer (spec §4.6's
// fatal-on-double-free rule) without a separate liveness bitmap.
const chunkFreedMagic uint32 = 0xDEADC0DE

// shardKey identifies one (class, normalized size) bucket. Large-class
// sizes and XL never collide with small/medium ones because class is
// part of the key, even though the raw byte values could otherwise
// overlap near a threshold.
type shardKey struct {
	class sizeClass
	size  uintptr
}

// Heap is one independent allocator instance. The zero value is not
// usable; construct one with New.
type Heap struct {
	cfg config

	segMu        sync.RWMutex
	segments     []*segment
	reservedUsed uintptr // bytes committed via newSegmentForClass so far

	shardsMu sync.Mutex
	shards   map[shardKey]*classShard

	stripes *stripeLocks
	xl      *xlTable

	stats globalStats

	cachePool      sync.Pool
	nextCacheID    atomic.Uint64
	liveCacheCount atomic.Uint64

	zeroOnFree atomic.Bool
	uafCheck   atomic.Bool

	closed atomic.Bool
}

// New constructs a Heap. Options are applied in order and New fails on
// the first rejected one.
func New(opts ...Option) (*Heap, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	h := &Heap{
		cfg:     cfg,
		shards:  make(map[shardKey]*classShard),
		stripes: newStripeLocks(cfg.stripeCount),
		xl:      newXLTable(),
	}
	h.zeroOnFree.Store(cfg.zeroOnFree)
	h.uafCheck.Store(cfg.uafCheck)
	h.cachePool.New = func() any { return h.newThreadCache() }

	logger().Info("heapcore: heap constructed",
		"reserved_size", cfg.reservedSize, "stripe_count", cfg.stripeCount)
	return h, nil
}

// SetZeroOnFree toggles the zero_on_free feature at runtime.
func (h *Heap) SetZeroOnFree(enabled bool) { h.zeroOnFree.Store(enabled) }

// SetUAFCheck toggles the uaf_check feature at runtime.
func (h *Heap) SetUAFCheck(enabled bool) { h.uafCheck.Store(enabled) }

// Stats returns a point-in-time snapshot of heap-wide counters.
func (h *Heap) Stats() Stats { return h.stats.snapshot() }

// Close releases every OS mapping the heap holds. The Heap must not be
// used afterward.
func (h *Heap) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	h.segMu.Lock()
	for _, seg := range h.segments {
		seg.release()
	}
	h.segments = nil
	h.segMu.Unlock()

	h.xl.mu.Lock()
	for ptr, region := range h.xl.entries {
		delete(h.xl.entries, ptr)
		osmem.FreeMapping(region.Base, region.Size)
	}
	h.xl.mu.Unlock()
	return nil
}

func (h *Heap) shardFor(class sizeClass, slotSize uintptr) *classShard {
	key := shardKey{class: class, size: slotSize}
	h.shardsMu.Lock()
	s, ok := h.shards[key]
	if !ok {
		s = newClassShard(class, slotSize)
		h.shards[key] = s
	}
	h.shardsMu.Unlock()
	return s
}

// acquirePage returns a page with at least one free slot for the given
// class/slotSize: the cache's cached page (fast path A), then its
// preferred segment (fast path B), then the shard's non-full queue, then
// a snapshot scan of the shard's known segments, then carving a fresh
// segment as a last resort (spec §4.6 steps 5-9).
//
// For the large class only, a page whose slot size no longer matches
// the request is retuned in place (spec §4.3's retune_if_empty) rather
// than skipped, since every large-class page spans its whole segment
// and capacity is always 1: a different-sized large request can reuse
// one empty page instead of forcing a fresh segment.
func (h *Heap) acquirePage(c *threadCache, class sizeClass, slotSize uintptr) (*page, error) {
	if cached := *c.cacheFor(class); cached != nil {
		if cached.slotSize == slotSize {
			lock := h.stripes.For(cached)
			lock.Lock()
			cached.reclaimDeferred(h.cfg.ringDrainBatch)
			full := cached.isFull()
			lock.Unlock()
			if !full {
				return cached, nil
			}
		} else if class == classLarge {
			if p, ok := h.retuneIfEmpty(cached, class, slotSize); ok {
				p.owner.Store(c.id)
				*c.cacheFor(class) = p
				return p, nil
			}
		}
	}

	if pref := *c.preferredFor(class); pref != nil {
		if class == classLarge {
			for i := range pref.pages {
				pg := &pref.pages[i]
				if pg.slotSize == slotSize {
					if p, ok := h.tryUsePage(pg, c, class); ok {
						return p, nil
					}
					continue
				}
				if p, ok := h.retuneIfEmpty(pg, class, slotSize); ok {
					p.owner.Store(c.id)
					*c.cacheFor(class) = p
					return p, nil
				}
			}
		} else if pref.slotSize == slotSize {
			if p := pref.findNonFull(); p != nil {
				if p, ok := h.tryUsePage(p, c, class); ok {
					return p, nil
				}
			}
		}
	}

	shard := h.shardFor(class, slotSize)
	shard.mu.Lock()
	p := shard.popNonFull(h.cfg.scanLimit)
	if p == nil {
		// Step 8: the FIFO queue drained, but an earlier segment may
		// have pages freed back to non-full since being dequeued (e.g.
		// frees routed through the deferred ring and not yet reclaimed
		// into a re-enqueue). Snapshot-scan segments this shard has
		// already carved before paying for a brand new one.
		p = shard.scanSegments(h.cfg.scanLimit)
	}
	shard.mu.Unlock()
	if p != nil {
		lock := h.stripes.For(p)
		lock.Lock()
		p.reclaimDeferred(h.cfg.ringDrainBatch)
		lock.Unlock()
		p.owner.Store(c.id)
		*c.cacheFor(class) = p
		h.segMu.RLock()
		*c.preferredFor(class) = h.segments[p.segmentIdx]
		h.segMu.RUnlock()
		return p, nil
	}

	seg, err := h.newSegmentForClass(class, slotSize)
	if err != nil {
		h.stats.oomEvents.Add(1)
		return nil, err
	}

	shard.mu.Lock()
	shard.addSegment(seg)
	for i := range seg.pages {
		shard.pushNonFull(&seg.pages[i])
	}
	p = shard.popNonFull(h.cfg.scanLimit)
	shard.mu.Unlock()
	if p == nil {
		return nil, ErrOutOfMemory
	}
	p.owner.Store(c.id)
	*c.cacheFor(class) = p
	*c.preferredFor(class) = seg
	return p, nil
}

// tryUsePage reclaims p's deferred frees and, if it still has a free
// slot, assigns it as c's cached page for class. Returns ok=false
// without side effects if p turned out to be full.
func (h *Heap) tryUsePage(p *page, c *threadCache, class sizeClass) (*page, bool) {
	lock := h.stripes.For(p)
	lock.Lock()
	p.reclaimDeferred(h.cfg.ringDrainBatch)
	full := p.isFull()
	lock.Unlock()
	if full {
		return nil, false
	}
	p.owner.Store(c.id)
	*c.cacheFor(class) = p
	return p, true
}

// retuneIfEmpty takes p's stripe lock and attempts page.retune under it,
// since the emptiness check a thread-cache fast path used to pick p as a
// retune candidate is advisory only — another thread could have
// allocated from it in the meantime.
func (h *Heap) retuneIfEmpty(p *page, class sizeClass, slotSize uintptr) (*page, bool) {
	lock := h.stripes.For(p)
	lock.Lock()
	defer lock.Unlock()
	if !p.retune(class, slotSize) {
		return nil, false
	}
	return p, true
}

// newSegmentForClass grows the heap by one more segmentSize-aligned
// mapping, refusing once doing so would exceed the reserved footprint
// (spec §4.6 step 1's "reject size > reserved_size" rule, applied here
// to the heap's total growth rather than a single request).
func (h *Heap) newSegmentForClass(class sizeClass, slotSize uintptr) (*segment, error) {
	h.segMu.Lock()
	defer h.segMu.Unlock()
	if h.reservedUsed+segmentSize > h.cfg.reservedSize {
		return nil, ErrOutOfMemory
	}
	idx := uint32(len(h.segments))
	seg, err := newSegment(idx, class, slotSize, h.cfg.deferredRingCap)
	if err != nil {
		return nil, err
	}
	h.segments = append(h.segments, seg)
	h.reservedUsed += segmentSize
	h.stats.segmentsCreated.Add(1)
	return seg, nil
}

// Allocate returns size uninitialized bytes, or an error if the request
// cannot be satisfied.
func (h *Heap) Allocate(size uintptr) (unsafe.Pointer, error) {
	return h.allocate(size, false)
}

// AllocateZeroed returns size zero-initialized bytes.
func (h *Heap) AllocateZeroed(size uintptr) (unsafe.Pointer, error) {
	return h.allocate(size, true)
}

func (h *Heap) allocate(size uintptr, zero bool) (unsafe.Pointer, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	if size == 0 || size > h.cfg.reservedSize {
		return nil, ErrInvalidSize
	}

	class := classifyAndDemote(size)
	if class == classXL {
		ptr, err := h.xl.allocate(size)
		if err != nil {
			h.stats.oomEvents.Add(1)
			return nil, err
		}
		h.stats.xlAllocs.Add(1)
		h.stats.allocs.Add(1)
		h.stats.bytesAllocated.Add(uint64(size))
		h.stats.liveObjects.Add(1)
		h.stats.liveBytes.Add(int64(size))
		if zero {
			clearBytes(ptr, size)
		}
		return ptr, nil
	}

	slotSize := normalize(size, class) + chunkHeaderSize
	var userPtr unsafe.Pointer
	var allocErr error
	h.withCache(func(c *threadCache) {
		p, err := h.acquirePage(c, class, slotSize)
		if err != nil {
			allocErr = err
			return
		}
		lock := h.stripes.For(p)
		lock.Lock()
		slot, ok := p.allocSlot()
		if !ok {
			p.reclaimDeferred(h.cfg.ringDrainBatch)
			slot, ok = p.allocSlot()
		}
		lock.Unlock()
		if !ok {
			*c.cacheFor(class) = nil
			allocErr = ErrOutOfMemory
			return
		}
		userPtr = p.slotUserPtr(slot)
		payload := slotSize - chunkHeaderSize
		if h.uafCheck.Load() && !h.zeroOnFree.Load() && !zero {
			checkPoison(userPtr, payload)
		}
		writeChunkHeader(userPtr, p.segmentIdx, p.pageIdx, slot)
		if zero {
			clearBytes(userPtr, payload)
		}
		c.stats.recordAlloc(payload)
	})
	if allocErr != nil {
		return nil, allocErr
	}
	return userPtr, nil
}

// Free releases a pointer previously returned by Allocate, AllocateZeroed
// or Reallocate. It is a fatal invariant violation (the process aborts)
// to free a pointer this heap did not produce, or to free the same
// pointer twice.
func (h *Heap) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	if h.closed.Load() {
		abort("heapcore: Free called after Close")
	}

	if _, reqSize, ok := h.xl.resolve(ptr); ok {
		if h.zeroOnFree.Load() {
			clearBytes(ptr, uintptr(reqSize))
		}
		h.xl.free(ptr)
		h.stats.xlFrees.Add(1)
		h.stats.frees.Add(1)
		h.stats.bytesFreed.Add(reqSize)
		h.stats.liveObjects.Add(-1)
		h.stats.liveBytes.Add(-int64(reqSize))
		return
	}

	prov, ok := h.resolveChunk(ptr)
	if !ok {
		abort("heapcore: Free called with an untracked or already-freed pointer")
	}

	payload := prov.page.slotSize - chunkHeaderSize
	switch {
	case h.zeroOnFree.Load():
		clearBytes(ptr, payload)
	case h.uafCheck.Load():
		poisonPayload(ptr, payload)
	}

	hdr := headerAt(headerAddr(ptr))
	hdr.magic = chunkFreedMagic

	h.withCache(func(c *threadCache) {
		lock := h.stripes.For(prov.page)
		if prov.page.owner.Load() == c.id {
			lock.Lock()
			wasFull := prov.page.isFull()
			prov.page.freeSlot(prov.slot)
			lock.Unlock()
			if wasFull {
				h.reenqueueNonFull(prov.page)
			}
		} else if prov.page.deferred.Push(ptr) {
			h.stats.deferredFrees.Add(1)
		} else {
			lock.Lock()
			wasFull := prov.page.isFull()
			prov.page.freeSlot(prov.slot)
			lock.Unlock()
			if wasFull {
				h.reenqueueNonFull(prov.page)
			}
		}
		c.stats.recordFree(payload)
	})
}

// reenqueueNonFull re-enqueues p onto its class shard's non-full queue on
// a FULL→not-FULL transition (spec line 172), so a later acquirePage call
// from a different thread cache can find it through the shard's queue
// instead of falling through to carving a fresh segment.
func (h *Heap) reenqueueNonFull(p *page) {
	shard := h.shardFor(p.class, p.slotSize)
	shard.mu.Lock()
	shard.pushNonFull(p)
	shard.mu.Unlock()
}

// Reallocate resizes the allocation at ptr to newSize, copying the
// overlapping prefix. ptr may be nil, in which case this behaves like
// Allocate.
func (h *Heap) Reallocate(ptr unsafe.Pointer, newSize uintptr) (unsafe.Pointer, error) {
	if ptr == nil {
		return h.Allocate(newSize)
	}
	if newSize == 0 {
		h.Free(ptr)
		return nil, nil
	}

	var oldSize uintptr
	if _, reqSize, ok := h.xl.resolve(ptr); ok {
		oldSize = uintptr(reqSize)
	} else if prov, ok := h.resolveChunk(ptr); ok {
		oldSize = prov.page.slotSize - chunkHeaderSize
	} else {
		abort("heapcore: Reallocate called with an untracked or already-freed pointer")
	}

	newPtr, err := h.Allocate(newSize)
	if err != nil {
		return nil, err
	}
	copyLen := oldSize
	if newSize < copyLen {
		copyLen = newSize
	}
	if copyLen > 0 {
		src := unsafe.Slice((*byte)(ptr), int(copyLen))
		dst := unsafe.Slice((*byte)(newPtr), int(copyLen))
		copy(dst, src)
	}
	h.Free(ptr)
	return newPtr, nil
}

// uafPoisonByte fills freed payloads when uaf_check is on and zero_on_free
// is off, so a write through a stale pointer is visible as corruption the
// next time that slot is reused. The first 4 bytes are left untouched:
// that's where the intrusive freelist stores the next-free index while
// the slot sits in a page's freelist (see page.go), and stamping over it
// would corrupt the freelist itself rather than just catch a UAF.
const uafPoisonByte = 0xDD

func poisonPayload(ptr unsafe.Pointer, n uintptr) {
	if n <= 4 {
		return
	}
	b := unsafe.Slice((*byte)(unsafe.Add(ptr, 4)), int(n-4))
	for i := range b {
		b[i] = uafPoisonByte
	}
}

// checkPoison aborts if a slot about to be reused doesn't still carry the
// poison stamp Free (or the page's initial layout) left behind, meaning
// something wrote through a dangling pointer after it was freed.
func checkPoison(ptr unsafe.Pointer, n uintptr) {
	if n <= 4 {
		return
	}
	b := unsafe.Slice((*byte)(unsafe.Add(ptr, 4)), int(n-4))
	for _, v := range b {
		if v != uafPoisonByte {
			abort("heapcore: use-after-free detected: freed slot was written to before reuse")
		}
	}
}

func clearBytes(ptr unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}
	b := unsafe.Slice((*byte)(ptr), int(n))
	clear(b)
}
