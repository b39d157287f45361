package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundsCoversEveryIndexExactlyOnce(t *testing.T) {
	cases := []struct{ total, workers int }{
		{0, 1}, {0, 4}, {1, 1}, {1, 4}, {7, 3}, {10, 4}, {100, 7}, {3, 8}, {1000, 13},
	}

	for _, tc := range cases {
		seen := make(map[int]int)
		counts := make([]int, tc.workers)
		for w := 0; w < tc.workers; w++ {
			lo, hi, err := Bounds(tc.total, tc.workers, w)
			require.NoError(t, err)
			require.LessOrEqual(t, lo, hi)
			for i := lo; i < hi; i++ {
				seen[i]++
			}
			counts[w] = hi - lo
		}

		assert.Len(t, seen, tc.total, "total=%d workers=%d", tc.total, tc.workers)
		for i := 0; i < tc.total; i++ {
			assert.Equal(t, 1, seen[i], "index %d (total=%d workers=%d)", i, tc.total, tc.workers)
		}

		// balance: any two workers differ by at most one
		min, max := tc.total, 0
		for _, c := range counts {
			if c < min {
				min = c
			}
			if c > max {
				max = c
			}
		}
		assert.LessOrEqual(t, max-min, 1, "total=%d workers=%d", tc.total, tc.workers)
	}
}

func TestAssignDeterminism(t *testing.T) {
	first, err := Assign(97, 5, 3)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Assign(97, 5, 3)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAssignOrdering(t *testing.T) {
	indices, err := Assign(10, 3, 1)
	require.NoError(t, err)
	for i := 1; i < len(indices); i++ {
		assert.Equal(t, indices[i-1]+1, indices[i])
	}
}

func TestBoundsValidation(t *testing.T) {
	_, _, err := Bounds(-1, 2, 0)
	assert.Error(t, err)

	_, _, err = Bounds(10, 0, 0)
	assert.Error(t, err)

	_, _, err = Bounds(10, 2, 2)
	assert.Error(t, err)

	_, _, err = Bounds(10, 2, -1)
	assert.Error(t, err)
}
