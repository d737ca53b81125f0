package heapcore

import (
	"sync/atomic"
	"unsafe"
)

// page is one fixed-size-class span within a segment. Its freelist is an
// intrusive singly-linked list threaded through the (unused) payload of
// free slots, the same scheme hive/alloc's block index uses to avoid a
// side allocation per page.
type page struct {
	class      sizeClass
	span       uintptr
	slotSize   uintptr // normalized chunk size, header included
	capacity   uint32
	segmentIdx uint32
	pageIdx    uint32
	base       unsafe.Pointer // first byte of the page's usable span

	initialized atomic.Bool

	freeHead   uint32 // index of first free slot, sentinel == capacity
	freeCount  uint32
	allocCount uint32

	deferred *deferredRing

	owner  atomic.Uint64 // cache identity currently preferring this page; 0 == unowned
	next   *page         // intrusive link in a classShard's non-full queue
	queued atomic.Bool   // true while linked into a classShard's non-full queue
}

// tryMarkEnqueued reports whether p was not already queued, marking it
// queued as a side effect. Guards classShard.pushNonFull against linking
// the same page into its intrusive list twice, which would corrupt it.
func (p *page) tryMarkEnqueued() bool {
	return p.queued.CompareAndSwap(false, true)
}

// clearEnqueued marks p no longer queued. Called when a page is popped
// off a classShard's non-full queue.
func (p *page) clearEnqueued() {
	p.queued.Store(false)
}

const freeListEnd = ^uint32(0)

// slotBase returns the address of slot i's chunk header (the start of
// the slot, before the user pointer).
func (p *page) slotBase(i uint32) unsafe.Pointer {
	return unsafe.Add(p.base, uintptr(i)*p.slotSize)
}

// slotUserPtr returns the user-visible pointer for slot i.
func (p *page) slotUserPtr(i uint32) unsafe.Pointer {
	return userPtrFor(p.slotBase(i))
}

func (p *page) slotNextField(i uint32) *uint32 {
	return (*uint32)(userPtrFor(p.slotBase(i)))
}

// init lays out a freshly committed span as a page of the given class
// and normalized slot size, threading the initial freelist through every
// slot. Returns an error if the slot size leaves room for zero slots,
// the one condition spec §3's "page holds at least one chunk" invariant
// forbids.
func (p *page) init(segmentIdx, pageIdx uint32, class sizeClass, span uintptr, slotSize uintptr, base unsafe.Pointer, deferredCap uint32) error {
	p.base = base
	if err := p.layout(class, span, slotSize); err != nil {
		return err
	}
	p.segmentIdx = segmentIdx
	p.pageIdx = pageIdx
	p.deferred = newDeferredRing(deferredCap)
	p.next = nil
	p.initialized.Store(true)
	return nil
}

// retune is spec §4.3's retune_if_empty: re-lays-out the page in place
// for a different class/slot size, keeping its base, segment/page
// indices, and deferred ring, but only if the page currently has no
// live chunks — retuning a page that still has one would orphan its
// outstanding chunk headers — and is not linked into a classShard's
// non-full queue, where it would still be filed under its old slot
// size. Reports whether the retune happened.
// Caller must hold the page's stripe lock. Used only for the large
// class: every large-class page spans its whole segment, so a
// different-sized large request can reuse one in place instead of
// forcing a fresh segment merely because the previous large request
// happened to be a different size.
func (p *page) retune(class sizeClass, slotSize uintptr) bool {
	if !p.isEmpty() || p.queued.Load() {
		return false
	}
	return p.layout(class, p.span, slotSize) == nil
}

// layout computes capacity and rebuilds the freelist for class/span/
// slotSize, pre-poisoning every slot. Shared by init (fresh page) and
// retune (re-laying out an already-committed, empty page).
func (p *page) layout(class sizeClass, span uintptr, slotSize uintptr) error {
	capacity := span / slotSize
	if class == classLarge && capacity > 1 {
		// A large-class page holds exactly one chunk, whatever its size.
		capacity = 1
	}
	if capacity == 0 {
		return ErrInvalidSize
	}
	p.class = class
	p.span = span
	p.slotSize = slotSize
	p.capacity = uint32(capacity)
	p.freeCount = p.capacity
	p.allocCount = 0
	p.owner.Store(0)
	p.queued.Store(false)

	payload := slotSize - chunkHeaderSize
	for i := uint32(0); i < p.capacity; i++ {
		next := i + 1
		if next == p.capacity {
			next = freeListEnd
		}
		*p.slotNextField(i) = next
		// Pre-poison every slot's payload past the freelist linkage so a
		// never-yet-freed slot looks identical to a freed one to
		// checkPoison; otherwise a fresh or just-retuned page would trip
		// a false use-after-free report on its first allocation.
		poisonPayload(p.slotUserPtr(i), payload)
	}
	p.freeHead = 0
	return nil
}

// allocSlot pops the head of the freelist. Caller must hold the page's
// stripe lock. Returns ok=false if the page has no free slots.
func (p *page) allocSlot() (uint32, bool) {
	if p.freeHead == freeListEnd {
		return 0, false
	}
	slot := p.freeHead
	p.freeHead = *p.slotNextField(slot)
	p.freeCount--
	p.allocCount++
	return slot, true
}

// freeSlot pushes slot back onto the freelist. Caller must hold the
// page's stripe lock.
func (p *page) freeSlot(slot uint32) {
	*p.slotNextField(slot) = p.freeHead
	p.freeHead = slot
	p.freeCount++
	p.allocCount--
}

func (p *page) isFull() bool  { return p.freeCount == 0 }
func (p *page) isEmpty() bool { return p.allocCount == 0 }

// reclaimDeferred drains cross-thread frees queued on this page's ring
// back onto the local freelist. Caller must hold the page's stripe lock.
// Returns the number reclaimed.
//
// The entries here were already validated once by Free (which is the
// only caller of deferred.Push), at which point it stamped the header
// with chunkFreedMagic so a second Free on the same pointer aborts as a
// double free. Re-validating magic here would reject every entry this
// same mechanism just produced, so this reads the header's location
// fields directly instead.
func (p *page) reclaimDeferred(max int) int {
	ptrs := p.deferred.DrainUpTo(max)
	for _, ptr := range ptrs {
		segIdx, pageIdx, slot := rawChunkIndices(ptr)
		if segIdx != p.segmentIdx || pageIdx != p.pageIdx {
			abort("heapcore: deferred free entry does not resolve back to its owning page")
		}
		p.freeSlot(slot)
	}
	return len(ptrs)
}
