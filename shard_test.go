package heapcore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_ClassShardPushPopFIFOOrder(t *testing.T) {
	s := newClassShard(classSmall, 64)
	pages := make([]page, 3)
	for i := range pages {
		pages[i].capacity = 1
		pages[i].freeCount = 1
		s.pushNonFull(&pages[i])
	}

	require.Same(t, &pages[0], s.popNonFull(10))
	require.Same(t, &pages[1], s.popNonFull(10))
	require.Same(t, &pages[2], s.popNonFull(10))
	require.Nil(t, s.popNonFull(10))
}

func Test_ClassShardPopSkipsFullPagesWithinProbeLimit(t *testing.T) {
	s := newClassShard(classSmall, 64)
	var full, notFull page
	full.freeCount = 0
	notFull.freeCount = 1
	s.pushNonFull(&full)
	s.pushNonFull(&notFull)

	require.Same(t, &notFull, s.popNonFull(10))
}

func Test_ClassShardPopRespectsProbeLimit(t *testing.T) {
	s := newClassShard(classSmall, 64)
	var full, notFull page
	full.freeCount = 0
	notFull.freeCount = 1
	s.pushNonFull(&full)
	s.pushNonFull(&notFull)

	require.Nil(t, s.popNonFull(1), "probe limit of 1 should only inspect the full head page")
}

func Test_ClassShardPushNonFullIsIdempotentPerPage(t *testing.T) {
	s := newClassShard(classSmall, 64)
	var p page
	p.freeCount = 1

	s.pushNonFull(&p)
	s.pushNonFull(&p) // simulates a page freed back to non-full twice without being popped

	require.Same(t, &p, s.popNonFull(10))
	require.Nil(t, s.popNonFull(10), "the page must have been linked into the queue only once")
}

func Test_ClassShardScanSegmentsFindsFreedPageOutsideQueue(t *testing.T) {
	seg := newTestSegment(t, classSmall, 64)
	s := newClassShard(classSmall, 64)
	s.addSegment(seg)

	for i := range seg.pages {
		for seg.pages[i].allocCount < seg.pages[i].capacity {
			_, ok := seg.pages[i].allocSlot()
			require.True(t, ok)
		}
	}
	require.Nil(t, s.scanSegments(10), "every page in the segment is full")

	seg.pages[0].freeSlot(0)
	require.Same(t, &seg.pages[0], s.scanSegments(10))
}
