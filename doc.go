// Package heapcore implements a general-purpose memory allocator core:
// segment-aligned OS mappings carved into pages, with allocations bucketed
// into fixed size classes and served from per-goroutine fast paths. Each
// segment is its own fresh mapping; no single address range is reserved
// up front, and the configured reserved size only caps the total of the
// segment mappings.
//
// The allocator is structured as a leaf-to-root stack:
//
//	chunk   - a user region preceded by a 16-byte provenance header
//	page    - a fixed-span subdivision of a segment holding chunks of one size
//	segment - a segment-aligned region hosting pages of one size class
//	shard   - the per-size-class index of segments and non-full queue
//	cache   - per-goroutine cached page / preferred segment hints
//	Heap    - the entry point: owns the reservation, segments, and XL table
//
// Allocation never coalesces adjacent free regions within a page.
// Segments are released in full (internal/osmem.FreeMapping) only on
// Close; segment.isEmpty reports when a segment's pages are all free,
// but the engine itself never calls it. Extra-large requests
// bypass the segment machinery entirely and are served by a direct OS
// mapping (xl.go).
//
// Use New to obtain a *Heap, then Allocate/Free/Reallocate/AllocateZeroed.
// Close releases every segment mapping and any outstanding XL mappings;
// it must only be called once nothing the caller still holds is reachable
// through the heap.
package heapcore
