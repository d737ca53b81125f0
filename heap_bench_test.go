package heapcore

import (
	"testing"
)

// Benchmark_Allocate_Small benchmarks the hot path for small, same-sized
// allocations that fit entirely in the cached page.
func Benchmark_Allocate_Small(b *testing.B) {
	h, err := New()
	if err != nil {
		b.Fatal(err)
	}
	defer h.Close()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ptr, err := h.Allocate(64)
		if err != nil {
			b.Fatal(err)
		}
		h.Free(ptr)
	}
}

// Benchmark_Allocate_Medium exercises the medium class path.
func Benchmark_Allocate_Medium(b *testing.B) {
	h, err := New()
	if err != nil {
		b.Fatal(err)
	}
	defer h.Close()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ptr, err := h.Allocate(200000)
		if err != nil {
			b.Fatal(err)
		}
		h.Free(ptr)
	}
}

// Benchmark_Allocate_MixedSizes cycles through a spread of sizes across
// every class, so no single page stays cached for long.
func Benchmark_Allocate_MixedSizes(b *testing.B) {
	h, err := New()
	if err != nil {
		b.Fatal(err)
	}
	defer h.Close()

	sizes := []uintptr{16, 64, 256, 4096, 1 << 17, 1 << 18, 1 << 21, 1 << 24}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		size := sizes[i%len(sizes)]
		ptr, err := h.Allocate(size)
		if err != nil {
			b.Fatal(err)
		}
		h.Free(ptr)
	}
}

// Benchmark_XLAllocate benchmarks the direct-mapped path.
func Benchmark_XLAllocate(b *testing.B) {
	h, err := New()
	if err != nil {
		b.Fatal(err)
	}
	defer h.Close()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ptr, err := h.Allocate(4 << 20)
		if err != nil {
			b.Fatal(err)
		}
		h.Free(ptr)
	}
}
