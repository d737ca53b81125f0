//go:build unix

package osmem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func queryPageSize() uintptr {
	return uintptr(unix.Getpagesize())
}

// ReserveRegion obtains a contiguous virtual range with no physical backing.
// PROT_NONE keeps the kernel from committing pages until CommitRegion asks
// for them, matching the "reserve, then commit on demand" contract.
func ReserveRegion(size uintptr) Region {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return Region{}
	}
	return Region{Base: unsafe.Pointer(&b[0]), Size: size}
}

// CommitRegion makes a previously reserved subrange readable-writable.
func CommitRegion(base unsafe.Pointer, size uintptr) bool {
	return ProtectRW(base, size)
}

// Decommit releases physical backing while keeping the virtual reservation.
// MADV_DONTNEED guarantees the next touch reads as zero on Linux; combined
// with a PROT_NONE pass it also matches "untouchable until recommitted".
func Decommit(base unsafe.Pointer, size uintptr) bool {
	s := unsafe.Slice((*byte)(base), int(size))
	_ = unix.Madvise(s, unix.MADV_DONTNEED)
	return ProtectNone(base, size)
}

// Commit is a best-effort hint that a decommitted range will be touched
// again soon. On Linux/BSD there is no explicit "re-commit" syscall short
// of changing protection back to RW, which CommitRegion already does; this
// is kept as a distinct entry point so callers can express intent.
func Commit(base unsafe.Pointer, size uintptr) bool {
	return ProtectRW(base, size)
}

func ProtectNone(base unsafe.Pointer, size uintptr) bool {
	return protect(base, size, unix.PROT_NONE)
}

func ProtectRW(base unsafe.Pointer, size uintptr) bool {
	return protect(base, size, unix.PROT_READ|unix.PROT_WRITE)
}

func ProtectRO(base unsafe.Pointer, size uintptr) bool {
	return protect(base, size, unix.PROT_READ)
}

// SetupGuard is the inter-segment guard page primitive; equivalent to
// ProtectNone but named separately to mirror the spec's §4.1 surface.
func SetupGuard(base unsafe.Pointer, size uintptr) bool {
	return ProtectNone(base, size)
}

func protect(base unsafe.Pointer, size uintptr, prot int) bool {
	s := unsafe.Slice((*byte)(base), int(size))
	return unix.Mprotect(s, prot) == nil
}

// AllocAligned obtains a fresh mapping whose base is a multiple of
// alignment. It over-allocates by (alignment - 1) bytes and trims the
// leading and trailing slop, mirroring os_mmap_aligned in the reference
// implementation.
func AllocAligned(size, alignment uintptr) Region {
	allocSize := size + alignment - 1
	raw, err := unix.Mmap(-1, 0, int(allocSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return Region{}
	}
	rawBase := uintptr(unsafe.Pointer(&raw[0]))
	aligned := AlignUp(rawBase, alignment)

	if lead := aligned - rawBase; lead > 0 {
		_ = unix.Munmap(raw[:lead])
	}
	trimmedEnd := aligned + size
	rawEnd := rawBase + allocSize
	if rawEnd > trimmedEnd {
		tail := unsafe.Slice((*byte)(unsafe.Pointer(trimmedEnd)), int(rawEnd-trimmedEnd))
		_ = unix.Munmap(tail)
	}
	return Region{Base: unsafe.Pointer(aligned), Size: size}
}

// AllocHuge attempts a transparent huge-page mapping, falling back to an
// ordinary anonymous mapping if the kernel declines the hint.
func AllocHuge(size uintptr) Region {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON|mapHugetlbOrZero())
	if err != nil {
		b, err = unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			return Region{}
		}
		_ = unix.Madvise(b, madviseHugepageOrZero())
		return Region{Base: unsafe.Pointer(&b[0]), Size: size}
	}
	return Region{Base: unsafe.Pointer(&b[0]), Size: size}
}

// FreeMapping releases a mapping entirely, both virtual and physical.
func FreeMapping(base unsafe.Pointer, size uintptr) {
	s := unsafe.Slice((*byte)(base), int(size))
	_ = unix.Munmap(s)
}
