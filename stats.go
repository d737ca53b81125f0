package heapcore

import "sync/atomic"

// globalStats holds process-wide counters. Hot-path increments happen on
// a per-cache localStats accumulator instead, flushed here in batches, so
// concurrent allocators on different caches don't contend on the same
// cache line (spec §4.7's stats-aggregation requirement).
type globalStats struct {
	allocs          atomic.Uint64
	frees           atomic.Uint64
	bytesAllocated  atomic.Uint64
	bytesFreed      atomic.Uint64
	liveObjects     atomic.Int64
	liveBytes       atomic.Int64
	segmentsCreated atomic.Uint64
	xlAllocs        atomic.Uint64
	xlFrees         atomic.Uint64
	deferredFrees   atomic.Uint64
	oomEvents       atomic.Uint64
}

// Stats is a point-in-time snapshot of heap-wide counters, returned by
// Heap.Stats.
type Stats struct {
	Allocs          uint64
	Frees           uint64
	BytesAllocated  uint64
	BytesFreed      uint64
	LiveObjects     int64
	LiveBytes       int64
	SegmentsCreated uint64
	XLAllocs        uint64
	XLFrees         uint64
	DeferredFrees   uint64
	OOMEvents       uint64
}

func (g *globalStats) snapshot() Stats {
	return Stats{
		Allocs:          g.allocs.Load(),
		Frees:           g.frees.Load(),
		BytesAllocated:  g.bytesAllocated.Load(),
		BytesFreed:      g.bytesFreed.Load(),
		LiveObjects:     g.liveObjects.Load(),
		LiveBytes:       g.liveBytes.Load(),
		SegmentsCreated: g.segmentsCreated.Load(),
		XLAllocs:        g.xlAllocs.Load(),
		XLFrees:         g.xlFrees.Load(),
		DeferredFrees:   g.deferredFrees.Load(),
		OOMEvents:       g.oomEvents.Load(),
	}
}

// localStats is a per-cache accumulator. It buffers alloc/free counts and
// flushes them to the shared globalStats every flushEvery operations,
// trading snapshot freshness for reduced cross-cache contention.
type localStats struct {
	global     *globalStats
	flushEvery uint64

	ops            uint64
	allocs         uint64
	frees          uint64
	bytesAllocated uint64
	bytesFreed     uint64
}

func newLocalStats(g *globalStats, flushEvery uint64) *localStats {
	return &localStats{global: g, flushEvery: flushEvery}
}

func (l *localStats) recordAlloc(size uintptr) {
	l.allocs++
	l.bytesAllocated += uint64(size)
	l.global.liveObjects.Add(1)
	l.global.liveBytes.Add(int64(size))
	l.tick()
}

func (l *localStats) recordFree(size uintptr) {
	l.frees++
	l.bytesFreed += uint64(size)
	l.global.liveObjects.Add(-1)
	l.global.liveBytes.Add(-int64(size))
	l.tick()
}

func (l *localStats) tick() {
	l.ops++
	if l.ops >= l.flushEvery {
		l.flush()
	}
}

// flush pushes buffered counts to the shared totals. Safe to call
// concurrently from different localStats instances; never call it on the
// same instance from two goroutines at once (caches are not shared).
func (l *localStats) flush() {
	if l.allocs != 0 {
		l.global.allocs.Add(l.allocs)
		l.allocs = 0
	}
	if l.frees != 0 {
		l.global.frees.Add(l.frees)
		l.frees = 0
	}
	if l.bytesAllocated != 0 {
		l.global.bytesAllocated.Add(l.bytesAllocated)
		l.bytesAllocated = 0
	}
	if l.bytesFreed != 0 {
		l.global.bytesFreed.Add(l.bytesFreed)
		l.bytesFreed = 0
	}
	l.ops = 0
}
