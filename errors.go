package heapcore

import "errors"

var (
	// ErrInvalidSize indicates a zero or pathologically large allocation
	// request (size == 0, or size larger than the heap's reserved size).
	ErrInvalidSize = errors.New("heapcore: invalid allocation size")

	// ErrOverflow names a count*size overflow. No operation returns it:
	// AllocateZeroed takes a single byte count and does no multiplication.
	ErrOverflow = errors.New("heapcore: allocate-zeroed size overflow")

	// ErrOutOfMemory indicates every growth strategy in the allocation
	// pipeline was exhausted.
	ErrOutOfMemory = errors.New("heapcore: out of memory")

	// ErrClosed indicates an operation was attempted after Close.
	ErrClosed = errors.New("heapcore: heap is closed")

	// ErrReservationExhausted indicates the pre-reserved virtual region
	// has no room left for another segment.
	ErrReservationExhausted = errors.New("heapcore: reservation exhausted")
)
