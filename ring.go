package heapcore

import (
	"sync/atomic"
	"unsafe"
)

// deferredRing is a bounded MPMC queue of freed user pointers, one per
// page, used when a free happens on a goroutine other than the one whose
// thread cache currently owns the page (spec §4.4's deferred-free path).
// Capacity is fixed at construction and must be a power of two; this is
// the classic Vyukov bounded queue, the same shape hive/alloc's
// freelist ring follows for its own cross-arena returns.
type deferredRing struct {
	mask  uint64
	cells []ringCell
	enq   atomic.Uint64 // next slot to claim for Push
	deq   atomic.Uint64 // next slot to claim for Pop
}

type ringCell struct {
	seq  atomic.Uint64
	data unsafe.Pointer
}

func newDeferredRing(capacity uint32) *deferredRing {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("heapcore: deferred ring capacity must be a nonzero power of two")
	}
	r := &deferredRing{
		mask:  uint64(capacity - 1),
		cells: make([]ringCell, capacity),
	}
	for i := range r.cells {
		r.cells[i].seq.Store(uint64(i))
	}
	return r
}

// Push enqueues ptr. Returns false if the ring is full, in which case the
// caller falls back to taking the page's stripe lock directly (spec
// §4.4's bounded-ring overflow rule).
func (r *deferredRing) Push(ptr unsafe.Pointer) bool {
	pos := r.enq.Load()
	for {
		cell := &r.cells[pos&r.mask]
		seq := cell.seq.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if r.enq.CompareAndSwap(pos, pos+1) {
				cell.data = ptr
				cell.seq.Store(pos + 1)
				return true
			}
			pos = r.enq.Load()
		case diff < 0:
			return false // full
		default:
			pos = r.enq.Load()
		}
	}
}

// Pop dequeues one pointer. Returns ok=false if the ring is currently
// empty.
func (r *deferredRing) Pop() (unsafe.Pointer, bool) {
	pos := r.deq.Load()
	for {
		cell := &r.cells[pos&r.mask]
		seq := cell.seq.Load()
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if r.deq.CompareAndSwap(pos, pos+1) {
				ptr := cell.data
				cell.data = nil
				cell.seq.Store(pos + r.mask + 1)
				return ptr, true
			}
			pos = r.deq.Load()
		case diff < 0:
			return nil, false // empty
		default:
			pos = r.deq.Load()
		}
	}
}

// DrainUpTo pops at most n pointers into out's backing capacity,
// returning the pointers actually drained. Used by a page owner catching
// up on cross-thread frees in one batch (spec §4.4 drain batch size).
func (r *deferredRing) DrainUpTo(n int) []unsafe.Pointer {
	out := make([]unsafe.Pointer, 0, n)
	for i := 0; i < n; i++ {
		p, ok := r.Pop()
		if !ok {
			break
		}
		out = append(out, p)
	}
	return out
}
