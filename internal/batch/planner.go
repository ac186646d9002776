// Package batch partitions the filtered item list across workers.
package batch

import "github.com/savagescraper/savage/internal/scrape"

// Split divides items into exactly `workers` contiguous batches whose sizes
// differ by at most one, preserving input order within and across batches.
// The partitioning is deterministic: identical inputs always yield identical
// batches. With no items every batch is empty.
func Split(items []scrape.Item, workers int) []scrape.Batch {
	if workers < 1 {
		workers = 1
	}
	batches := make([]scrape.Batch, workers)
	if len(items) == 0 {
		return batches
	}

	base := len(items) / workers
	extra := len(items) % workers

	start := 0
	for i := range batches {
		size := base
		if i < extra {
			size++
		}
		batches[i] = scrape.Batch(items[start : start+size])
		start += size
	}
	return batches
}

// Sizes reports the length of each batch, mainly for logging.
func Sizes(batches []scrape.Batch) []int {
	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = len(b)
	}
	return sizes
}
