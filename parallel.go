package rangecdf

import (
	"math"
	"sync"
)

// minParallelCost is the estimated batch cost below which quantization stays
// on the calling goroutine; under this, scheduling overhead dominates the
// work itself.
const minParallelCost = 1 << 16

// rowCost estimates the work to quantize one row of n symbols. The initial
// penalty/gain sort dominates, so the estimate is n*log2(n).
func rowCost(n int) float64 {
	if n < 2 {
		return 1
	}
	return float64(n) * math.Log2(float64(n))
}

// splitByCost partitions row indices into at most maxChunks contiguous chunks
// of roughly equal total estimated cost. It returns chunk boundaries b with
// b[0] = 0 and b[len(b)-1] = len(costs); chunk k covers rows [b[k], b[k+1]).
// Splitting by cost instead of row count keeps workers balanced when row
// lengths vary widely.
func splitByCost(costs []float64, maxChunks int) []int {
	var total float64
	for _, c := range costs {
		total += c
	}
	if maxChunks > len(costs) {
		maxChunks = len(costs)
	}
	if maxChunks <= 1 || total < minParallelCost {
		return []int{0, len(costs)}
	}

	bounds := make([]int, 1, maxChunks+1)
	target := total / float64(maxChunks)
	var acc float64
	for i, c := range costs {
		acc += c
		if acc >= target && len(bounds) < maxChunks {
			bounds = append(bounds, i+1)
			acc = 0
		}
	}
	if bounds[len(bounds)-1] != len(costs) {
		bounds = append(bounds, len(costs))
	}
	return bounds
}

// splitEven is the uniform special case of splitByCost for flat batches where
// every row has the same length and therefore the same estimated cost.
func splitEven(rows, rowLen, maxChunks int) []int {
	if maxChunks > rows {
		maxChunks = rows
	}
	if maxChunks <= 1 || float64(rows)*rowCost(rowLen) < minParallelCost {
		return []int{0, rows}
	}
	bounds := make([]int, maxChunks+1)
	for k := 0; k < maxChunks+1; k++ {
		bounds[k] = k * rows / maxChunks
	}
	return bounds
}

// dispatch runs fn once per chunk and waits for all chunks to finish. Chunks
// are disjoint row ranges with no shared mutable state, so no synchronization
// beyond the final wait is needed; rows may complete in any order. A single
// chunk runs on the calling goroutine.
func dispatch(bounds []int, fn func(start, end int)) {
	if len(bounds) == 2 {
		fn(bounds[0], bounds[1])
		return
	}
	var wg sync.WaitGroup
	for k := 0; k+1 < len(bounds); k++ {
		start, end := bounds[k], bounds[k+1]
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(start, end)
		}()
	}
	wg.Wait()
}
