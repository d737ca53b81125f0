//go:build unix && !linux

package osmem

// Huge-page hints are Linux-specific (MAP_HUGETLB, MADV_HUGEPAGE); other
// unix targets (darwin, freebsd, ...) always fall back to an ordinary
// anonymous mapping in AllocHuge.
func mapHugetlbOrZero() int      { return 0 }
func madviseHugepageOrZero() int { return 0 }
