package main

import (
	"math/rand"
	"sync"
	"time"
	"unsafe"

	"github.com/go-heapcore/heapcore"
	"github.com/spf13/cobra"
)

var (
	stressWorkers    int
	stressIterations int
	stressMaxSize    int
	stressZeroOnFree bool
	stressUAFCheck   bool
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVar(&stressWorkers, "workers", 8, "Number of concurrent goroutines")
	cmd.Flags().IntVar(&stressIterations, "iterations", 200000, "Allocate/free operations per worker")
	cmd.Flags().IntVar(&stressMaxSize, "max-size", 1<<20, "Largest request size to generate")
	cmd.Flags().BoolVar(&stressZeroOnFree, "zero-on-free", false, "Enable the zero_on_free toggle")
	cmd.Flags().BoolVar(&stressUAFCheck, "uaf-check", false, "Enable the uaf_check toggle")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Run a concurrent random allocation workload",
		Long: `stress spawns a pool of goroutines that each repeatedly allocate a
randomly sized block, hold it briefly, then free it (sometimes from a
different goroutine than the one that allocated it, to exercise the
deferred-free path).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress()
		},
	}
}

func runStress() error {
	opts := []heapcore.Option{
		heapcore.WithZeroOnFree(stressZeroOnFree),
		heapcore.WithUAFCheck(stressUAFCheck),
	}
	h, err := heapcore.New(opts...)
	if err != nil {
		return err
	}
	defer h.Close()

	printVerbose("starting stress run: workers=%d iterations=%d max_size=%d\n",
		stressWorkers, stressIterations, stressMaxSize)

	handoff := make(chan unsafe.Pointer, stressWorkers*4)
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < stressWorkers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < stressIterations; i++ {
				size := uintptr(1 + rng.Intn(stressMaxSize))
				ptr, err := h.Allocate(size)
				if err != nil {
					continue
				}
				switch rng.Intn(4) {
				case 0:
					select {
					case handoff <- ptr:
						continue
					default:
					}
				case 1:
					select {
					case other := <-handoff:
						h.Free(other)
					default:
					}
				}
				h.Free(ptr)
			}
		}(int64(w) + 1)
	}
	wg.Wait()
	close(handoff)
	for ptr := range handoff {
		h.Free(ptr)
	}

	elapsed := time.Since(start)
	stats := h.Stats()

	if jsonOut {
		return printJSON(struct {
			ElapsedMS int64          `json:"elapsed_ms"`
			Stats     heapcore.Stats `json:"stats"`
		}{elapsed.Milliseconds(), stats})
	}

	printInfo("stress run complete in %s\n", elapsed)
	printInfo("  allocs:           %d\n", stats.Allocs)
	printInfo("  frees:            %d\n", stats.Frees)
	printInfo("  live objects:     %d\n", stats.LiveObjects)
	printInfo("  live bytes:       %d\n", stats.LiveBytes)
	printInfo("  segments created: %d\n", stats.SegmentsCreated)
	printInfo("  xl allocs:        %d\n", stats.XLAllocs)
	printInfo("  deferred frees:   %d\n", stats.DeferredFrees)
	printInfo("  oom events:       %d\n", stats.OOMEvents)
	return nil
}
