package heapcore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_StripeLocksDistributeAcrossPages(t *testing.T) {
	s := newStripeLocks(16)
	pages := make([]page, 64)
	distinct := make(map[*sync.Mutex]bool)
	for i := range pages {
		lock := s.For(&pages[i])
		require.NotNil(t, lock)
		distinct[lock] = true
	}
	require.Greater(t, len(distinct), 1, "64 pages should not all hash to one stripe")
}

func Test_StripeLocksSamePageSameLock(t *testing.T) {
	s := newStripeLocks(16)
	var p page
	require.Same(t, s.For(&p), s.For(&p))
}

func Test_NewStripeLocksRejectsNonPowerOfTwo(t *testing.T) {
	require.Panics(t, func() { newStripeLocks(3) })
	require.Panics(t, func() { newStripeLocks(0) })
}
