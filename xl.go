package heapcore

import (
	"sync"
	"unsafe"

	"github.com/go-heapcore/heapcore/internal/osmem"
)

// xlMagic marks an XL header. Free and Reallocate find XL pointers by
// looking them up in the xlTable; resolve then checks this magic and
// aborts if the tracked header was overwritten.
const xlMagic uint32 = 0xBE11A000

// xlHeader precedes every XL (direct-mapped) user pointer, laid out to
// the same 16-byte width as chunkHeader so both can be read with one
// branch before dispatch.
type xlHeader struct {
	magic    uint32
	_        uint32
	reqSize  uint64 // size requested, for Reallocate's copy length
}

const xlHeaderSize = unsafe.Sizeof(xlHeader{})

// xlTable tracks every live XL mapping by its user pointer, since XL
// allocations are not addressable through the segment/page table: each
// one is its own OS mapping, page-aligned and freed with munmap rather
// than returned to a freelist (spec §4.6's XL path).
type xlTable struct {
	mu      sync.Mutex
	entries map[unsafe.Pointer]osmem.Region
}

func newXLTable() *xlTable {
	return &xlTable{entries: make(map[unsafe.Pointer]osmem.Region)}
}

// allocate maps a fresh region sized to hold xlHeaderSize+size, rounded
// up to the OS page size, and returns the user pointer.
func (t *xlTable) allocate(size uintptr) (unsafe.Pointer, error) {
	total := osmem.AlignUp(size+xlHeaderSize, osmem.PageSize)
	region := osmem.AllocAligned(total, osmem.PageSize)
	if !region.Valid() {
		return nil, ErrOutOfMemory
	}

	hdr := (*xlHeader)(region.Base)
	hdr.magic = xlMagic
	hdr.reqSize = uint64(size)

	userPtr := unsafe.Add(region.Base, int(xlHeaderSize))

	t.mu.Lock()
	t.entries[userPtr] = region
	t.mu.Unlock()
	return userPtr, nil
}

// resolve reports whether ptr is a live XL user pointer, and if so its
// recorded region and requested size.
func (t *xlTable) resolve(ptr unsafe.Pointer) (osmem.Region, uint64, bool) {
	t.mu.Lock()
	region, ok := t.entries[ptr]
	t.mu.Unlock()
	if !ok {
		return osmem.Region{}, 0, false
	}
	hdr := (*xlHeader)(region.Base)
	if hdr.magic != xlMagic {
		abort("heapcore: XL header corrupted for tracked pointer")
	}
	return region, hdr.reqSize, true
}

// free releases ptr's mapping entirely. Caller must have already
// confirmed ptr is tracked via resolve.
func (t *xlTable) free(ptr unsafe.Pointer) {
	t.mu.Lock()
	region, ok := t.entries[ptr]
	if ok {
		delete(t.entries, ptr)
	}
	t.mu.Unlock()
	if ok {
		osmem.FreeMapping(region.Base, region.Size)
	}
}
