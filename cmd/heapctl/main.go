// Command heapctl drives a heapcore.Heap from the command line: stress it
// with synthetic allocation workloads, validate a running configuration,
// and print its counters.
package main

func main() {
	execute()
}
