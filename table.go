package cht

import (
	"math/bits"
	"sync/atomic"
)

const (
	// minSlotsPerGoroutine is the smallest sweep chunk. Tables at or below
	// this size are swept as a single chunk.
	minSlotsPerGoroutine = 512
	// parallelMigrationThreshold is the table size from which the goroutine
	// that links a successor also starts background sweepers.
	parallelMigrationThreshold = 1 << 14
)

// table is a fixed-capacity, open-addressed array of slots with a one-shot
// link to its successor. Slot indices are hash & mask, probing by +1.
type table[K comparable, V any] struct {
	slots []slot[K, V]
	mask  uintptr
	// next is written once, by the first goroutine to link a successor.
	next atomic.Pointer[table[K, V]]

	// sweep bookkeeping: helpers claim chunks through process and count
	// finished chunks in completed.
	chunks    int32
	chunkSize int
	process   atomic.Int32
	completed atomic.Int32
}

func newTable[K comparable, V any](capacity, cpus int) *table[K, V] {
	chunkSize, chunks := calcParallelism(capacity, minSlotsPerGoroutine, cpus)
	return &table[K, V]{
		slots:     make([]slot[K, V], capacity),
		mask:      uintptr(capacity - 1),
		chunks:    int32(chunks),
		chunkSize: chunkSize,
	}
}

// swept reports whether every chunk of the table has been forwarded.
func (t *table[K, V]) swept() bool {
	return t.completed.Load() >= t.chunks
}

// calcParallelism splits items into chunks for cooperative sweeping.
//
// Parameters:
//   - items: number of slots to sweep
//   - threshold: minimum slots per chunk
//   - cpus: upper bound on the number of chunks
//
// Returns:
//   - chunkSize: slots per chunk
//   - chunks: number of chunks
func calcParallelism(items, threshold, cpus int) (chunkSize, chunks int) {
	if items <= threshold {
		return items, 1
	}
	chunks = max(min(items/threshold, cpus), 1)
	chunkSize = (items + chunks - 1) / chunks
	return chunkSize, chunks
}

// nextPowOf2 calculates the smallest power of 2 that is greater than or equal to n.
func nextPowOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
