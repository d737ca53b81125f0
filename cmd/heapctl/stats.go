package main

import (
	"github.com/go-heapcore/heapcore"
	"github.com/spf13/cobra"
)

var (
	statsWarmupAllocs int
	statsMaxSize      int
)

func init() {
	cmd := newStatsCmd()
	cmd.Flags().IntVar(&statsWarmupAllocs, "warmup", 10000, "Allocations to perform before reporting")
	cmd.Flags().IntVar(&statsMaxSize, "max-size", 65536, "Largest warmup request size")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Run a warmup workload and print heap-wide counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats()
		},
	}
}

func runStats() error {
	h, err := heapcore.New()
	if err != nil {
		return err
	}
	defer h.Close()

	step := statsMaxSize/statsWarmupAllocs + 1
	for i := 0; i < statsWarmupAllocs; i++ {
		size := uintptr(1 + (i*step)%statsMaxSize)
		ptr, err := h.Allocate(size)
		if err != nil {
			continue
		}
		if i%3 == 0 {
			h.Free(ptr)
		}
	}

	stats := h.Stats()
	if jsonOut {
		return printJSON(stats)
	}

	printInfo("heapcore stats\n")
	printInfo("  allocs:           %d\n", stats.Allocs)
	printInfo("  frees:            %d\n", stats.Frees)
	printInfo("  bytes allocated:  %d\n", stats.BytesAllocated)
	printInfo("  bytes freed:      %d\n", stats.BytesFreed)
	printInfo("  live objects:     %d\n", stats.LiveObjects)
	printInfo("  live bytes:       %d\n", stats.LiveBytes)
	printInfo("  segments created: %d\n", stats.SegmentsCreated)
	printInfo("  xl allocs:        %d\n", stats.XLAllocs)
	printInfo("  xl frees:         %d\n", stats.XLFrees)
	printInfo("  deferred frees:   %d\n", stats.DeferredFrees)
	printInfo("  oom events:       %d\n", stats.OOMEvents)
	return nil
}
