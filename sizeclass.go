package heapcore

import "math/bits"

// Class thresholds, computed from the pinned page spans rather than taken
// as standalone literals: the binding invariant (spec §3) is "thresholds
// are approximately half of each page's capacity, so each page holds at
// least two chunks after header overhead" — see DESIGN.md for why the
// thresholds are derived this way instead of hardcoded.
const (
	smallClassThreshold  = smallPageSpan/2 - headerSize
	mediumClassThreshold = mediumPageSpan/2 - headerSize
	largeClassThreshold  = largePageSpan/2 - headerSize

	// largeFitLimit is the largest request a single large-class page (one
	// page spanning a whole segment) can still hold once its header is
	// accounted for. classifyAndDemote routes a request this size or
	// smaller into the large class even past largeClassThreshold, rather
	// than handing it to the XL direct-map path.
	largeFitLimit = largePageSpan - headerSize
)

// classify returns the size class a request of the given byte count
// routes to before the large/XL demotion check, and before normalization.
func classify(size uintptr) sizeClass {
	switch {
	case size <= smallClassThreshold:
		return classSmall
	case size <= mediumClassThreshold:
		return classMedium
	case size <= largeClassThreshold:
		return classLarge
	default:
		return classXL
	}
}

// classifyAndDemote is classify's decision after spec §4.6 step 3's
// demotion check: a request that classify would route to XL is instead
// served as a large-class chunk when it still fits within a single
// large-class page, since that avoids a direct OS mapping for a request
// only marginally past largeClassThreshold.
func classifyAndDemote(size uintptr) sizeClass {
	c := classify(size)
	if c == classXL && size <= largeFitLimit {
		return classLarge
	}
	return c
}

// normalize rounds a request up per spec §4.6 step 4: for small/medium,
// the next power of two >= 16, capped by the class threshold, then
// aligned up to 16; for large, aligned up to 16 directly. This is what
// keeps a page's slotSize stable across allocations that share a size
// class.
func normalize(size uintptr, c sizeClass) uintptr {
	if c == classLarge {
		return alignUp16(size)
	}
	n := nextPowerOfTwo(size)
	if n < 16 {
		n = 16
	}
	cap := smallClassThreshold
	if c == classMedium {
		cap = mediumClassThreshold
	}
	if n > cap {
		n = cap
	}
	return alignUp16(n)
}

func alignUp16(v uintptr) uintptr {
	return (v + 15) &^ 15
}

func nextPowerOfTwo(v uintptr) uintptr {
	if v <= 1 {
		return 1
	}
	return uintptr(1) << bits.Len(uint(v-1))
}
