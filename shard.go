package heapcore

import "sync"

// classShard owns the set of partially-full pages available for a single
// size class, queued FIFO so the oldest non-full page is reused before a
// new one is carved, the same "oldest first" policy hive/alloc's
// freelist shard applies to its own block queue.
type classShard struct {
	mu       sync.Mutex
	class    sizeClass
	slotSize uintptr

	head *page // oldest non-full page
	tail *page // newest non-full page

	segments []*segment // every segment this shard has ever carved
}

func newClassShard(class sizeClass, slotSize uintptr) *classShard {
	return &classShard{class: class, slotSize: slotSize}
}

// pushNonFull appends a page to the tail of the non-full queue, unless it
// is already linked in (guarded by tryMarkEnqueued so a page freed back
// to non-full more than once isn't linked into the list twice).
func (s *classShard) pushNonFull(p *page) {
	if !p.tryMarkEnqueued() {
		return
	}
	p.next = nil
	if s.tail == nil {
		s.head, s.tail = p, p
		return
	}
	s.tail.next = p
	s.tail = p
}

// popNonFull removes and returns the head of the non-full queue, probing
// at most probeLimit entries (the configured scan limit) for one that
// still has a free slot, avoiding an unbounded scan when many queued
// pages were filled by a racing thread since being queued.
func (s *classShard) popNonFull(probeLimit int) *page {
	var prev *page
	cur := s.head
	for i := 0; cur != nil && i < probeLimit; i++ {
		if !cur.isFull() {
			if prev == nil {
				s.head = cur.next
			} else {
				prev.next = cur.next
			}
			if cur == s.tail {
				s.tail = prev
			}
			cur.next = nil
			cur.clearEnqueued()
			return cur
		}
		prev = cur
		cur = cur.next
	}
	return nil
}

func (s *classShard) addSegment(seg *segment) {
	s.segments = append(s.segments, seg)
}

// scanSegments is spec §4.6 step 8's fallback when the non-full queue is
// empty or exhausted within probeLimit: a bounded snapshot scan over the
// segments this shard has already carved, looking for a page that was
// dequeued earlier and later freed back to non-full without being
// re-enqueued. Probes at most probeLimit segments.
func (s *classShard) scanSegments(probeLimit int) *page {
	limit := probeLimit
	if limit > len(s.segments) {
		limit = len(s.segments)
	}
	for i := 0; i < limit; i++ {
		if p := s.segments[i].findNonFull(); p != nil {
			return p
		}
	}
	return nil
}
