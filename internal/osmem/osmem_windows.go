//go:build windows

package osmem

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

func queryPageSize() uintptr {
	var si windows.SystemInfo
	windows.GetSystemInfo(&si)
	if si.PageSize == 0 {
		return 4096
	}
	return uintptr(si.PageSize)
}

// ReserveRegion reserves address space without committing it.
func ReserveRegion(size uintptr) Region {
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil || addr == 0 {
		return Region{}
	}
	return Region{Base: unsafe.Pointer(addr), Size: size}
}

// CommitRegion commits a previously reserved subrange as read-write.
func CommitRegion(base unsafe.Pointer, size uintptr) bool {
	addr, err := windows.VirtualAlloc(uintptr(base), size, windows.MEM_COMMIT, windows.PAGE_READWRITE)
	return err == nil && addr != 0
}

// Decommit releases physical backing while keeping the reservation.
func Decommit(base unsafe.Pointer, size uintptr) bool {
	return windows.VirtualFree(uintptr(base), size, windows.MEM_DECOMMIT) == nil
}

// Commit re-commits a decommitted range.
func Commit(base unsafe.Pointer, size uintptr) bool {
	return CommitRegion(base, size)
}

func ProtectNone(base unsafe.Pointer, size uintptr) bool {
	return protect(base, size, windows.PAGE_NOACCESS)
}

func ProtectRW(base unsafe.Pointer, size uintptr) bool {
	return protect(base, size, windows.PAGE_READWRITE)
}

func ProtectRO(base unsafe.Pointer, size uintptr) bool {
	return protect(base, size, windows.PAGE_READONLY)
}

func SetupGuard(base unsafe.Pointer, size uintptr) bool {
	return ProtectNone(base, size)
}

func protect(base unsafe.Pointer, size uintptr, prot uint32) bool {
	var old uint32
	return windows.VirtualProtect(uintptr(base), size, prot, &old) == nil
}

// AllocAligned obtains a fresh mapping aligned to alignment by
// over-reserving and trimming, the same over-allocate-then-trim strategy
// as the unix path: reserve the padded range, free it, then reserve again
// at the aligned address (VirtualAlloc has no "trim" primitive, so the
// region is released and immediately re-reserved at the computed address).
func AllocAligned(size, alignment uintptr) Region {
	allocSize := size + alignment - 1
	raw, err := windows.VirtualAlloc(0, allocSize, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil || raw == 0 {
		return Region{}
	}
	aligned := AlignUp(raw, alignment)
	_ = windows.VirtualFree(raw, 0, windows.MEM_RELEASE)

	addr, err := windows.VirtualAlloc(aligned, size, windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil || addr == 0 {
		// Another mapping may have raced into the freed slop; caller falls
		// back to the next growth strategy.
		return Region{}
	}
	return Region{Base: unsafe.Pointer(addr), Size: size}
}

// AllocHuge attempts a large-page mapping, falling back to an ordinary
// committed mapping when the privilege or alignment requirements aren't met.
func AllocHuge(size uintptr) Region {
	minLarge := windows.GetLargePageMinimum()
	if minLarge > 0 {
		rounded := AlignUp(size, minLarge)
		addr, err := windows.VirtualAlloc(0, rounded,
			windows.MEM_RESERVE|windows.MEM_COMMIT|windows.MEM_LARGE_PAGES, windows.PAGE_READWRITE)
		if err == nil && addr != 0 {
			return Region{Base: unsafe.Pointer(addr), Size: rounded}
		}
	}
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil || addr == 0 {
		return Region{}
	}
	return Region{Base: unsafe.Pointer(addr), Size: size}
}

// FreeMapping releases a mapping entirely.
func FreeMapping(base unsafe.Pointer, size uintptr) {
	_ = size
	_ = windows.VirtualFree(uintptr(base), 0, windows.MEM_RELEASE)
}
