// Package partition computes the deterministic assignment of record
// indices to workers. The assignment is a pure function of the record
// count, the worker count and the worker index, so every worker derives
// its own share independently, without a coordination round-trip.
package partition

import "fmt"

// Bounds returns the half-open index range [lo, hi) owned by worker index
// out of workers, over total records. Blocks are contiguous: worker i
// receives indices floor(i*N/W) through floor((i+1)*N/W)-1. The union over
// all workers covers every index exactly once and any two workers' counts
// differ by at most one.
func Bounds(total, workers, index int) (lo, hi int, err error) {
	if total < 0 {
		return 0, 0, fmt.Errorf("record count cannot be negative: %d", total)
	}
	if workers <= 0 {
		return 0, 0, fmt.Errorf("worker count must be positive: %d", workers)
	}
	if index < 0 || index >= workers {
		return 0, 0, fmt.Errorf("worker index %d out of range [0,%d)", index, workers)
	}
	return index * total / workers, (index + 1) * total / workers, nil
}

// Assign returns the ordered set of record indices owned by worker index.
func Assign(total, workers, index int) ([]int, error) {
	lo, hi, err := Bounds(total, workers, index)
	if err != nil {
		return nil, err
	}
	indices := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		indices = append(indices, i)
	}
	return indices, nil
}
