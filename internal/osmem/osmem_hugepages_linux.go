//go:build linux

package osmem

import "golang.org/x/sys/unix"

func mapHugetlbOrZero() int    { return unix.MAP_HUGETLB }
func madviseHugepageOrZero() int { return unix.MADV_HUGEPAGE }
