package heapcore

import (
	"encoding/binary"
	"unsafe"

	"github.com/go-heapcore/heapcore/internal/osmem"
)

// segmentCanary occupies the first 8 bytes of every segment's mapping.
// validateCanary compares it against this constant to catch a stray write
// that walked off the end of a neighboring segment; the allocate and free
// paths do not call validateCanary.
const segmentCanary uint64 = 0x5E6CA1A0BADC0DE5

// segment is one segmentSize-aligned OS mapping, carved into a fixed
// number of equal-span pages all belonging to the same size class. XL
// allocations bypass segments entirely (see xl.go).
type segment struct {
	index    uint32
	class    sizeClass
	slotSize uintptr
	region   osmem.Region
	pages    []page
}

// newSegment maps a fresh, segmentSize-aligned, read-write segmentSize
// region and lays it out as pages of class/slotSize, mirroring
// hive/alloc's region bootstrap (map, write a header, hand back a typed
// view).
func newSegment(index uint32, class sizeClass, slotSize uintptr, deferredCap uint32) (*segment, error) {
	region := osmem.AllocAligned(segmentSize, segmentSize)
	if !region.Valid() {
		return nil, ErrOutOfMemory
	}

	binary.LittleEndian.PutUint64(region.Bytes()[:8], segmentCanary)

	span := pageSpanFor(class)
	pageCount := int((segmentSize - headerSize) / span)
	if pageCount == 0 {
		pageCount = 1
	}

	seg := &segment{
		index:    index,
		class:    class,
		slotSize: slotSize,
		region:   region,
		pages:    make([]page, pageCount),
	}

	pageAreaStart := unsafe.Add(region.Base, headerSize)
	for i := 0; i < pageCount; i++ {
		base := unsafe.Add(pageAreaStart, uintptr(i)*span)
		if err := seg.pages[i].init(index, uint32(i), class, span, slotSize, base, deferredCap); err != nil {
			return nil, err
		}
	}
	return seg, nil
}

// validateCanary aborts the process if the segment's header has been
// overwritten, per spec §4.6's fatal-corruption contract.
func (s *segment) validateCanary() {
	got := binary.LittleEndian.Uint64(s.region.Bytes()[:8])
	if got != segmentCanary {
		abort("heapcore: segment %d canary corrupted (got %x)", s.index, got)
	}
}

// findNonFull returns an initialized page in the segment that still has
// a free slot, or nil. Used by the thread cache's preferred-segment fast
// path to try a specific segment directly before falling back to the
// shard's non-full queue.
func (s *segment) findNonFull() *page {
	for i := range s.pages {
		if s.pages[i].initialized.Load() && !s.pages[i].isFull() {
			return &s.pages[i]
		}
	}
	return nil
}

// isEmpty reports whether every page in the segment is currently free.
// The engine does not call it: a segment's mapping is returned to the OS
// only by release, on Close.
func (s *segment) isEmpty() bool {
	for i := range s.pages {
		if s.pages[i].allocCount != 0 {
			return false
		}
	}
	return true
}

func (s *segment) release() {
	osmem.FreeMapping(s.region.Base, s.region.Size)
}
