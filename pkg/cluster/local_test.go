package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	strataerr "github.com/geowave/Strata/pkg/errors"
)

func TestNewLocalGroupValidation(t *testing.T) {
	_, err := NewLocalGroup(0)
	assert.Error(t, err)

	groups, err := NewLocalGroup(3)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	for i, g := range groups {
		assert.Equal(t, i, g.Rank())
		assert.Equal(t, 3, g.Size())
	}
}

func TestBarrierReleasesAllRanks(t *testing.T) {
	groups, err := NewLocalGroup(4)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(groups))
	for i, g := range groups {
		wg.Add(1)
		go func(i int, g *LocalGroup) {
			defer wg.Done()
			// several consecutive barriers exercise reuse
			for n := 0; n < 3; n++ {
				if err := g.Barrier(ctx); err != nil {
					errs[i] = err
					return
				}
			}
		}(i, g)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "rank %d", i)
	}
}

func TestBroadcastDeliversRootPayload(t *testing.T) {
	groups, err := NewLocalGroup(3)
	require.NoError(t, err)

	ctx := context.Background()
	payload := []byte(`{"keys":["II_BFO","IU_ANMO"]}`)

	var wg sync.WaitGroup
	got := make([][]byte, len(groups))
	for i, g := range groups {
		wg.Add(1)
		go func(i int, g *LocalGroup) {
			defer wg.Done()
			var in []byte
			if g.Rank() == 0 {
				in = payload
			}
			out, err := g.Broadcast(ctx, 0, in)
			assert.NoError(t, err)
			got[i] = out
		}(i, g)
	}
	wg.Wait()

	for i := range groups {
		assert.Equal(t, payload, got[i], "rank %d", i)
	}
}

func TestAbortWakesBarrierWaiters(t *testing.T) {
	groups, err := NewLocalGroup(3)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cause := errors.New("transform blew up")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = groups[i].Barrier(ctx)
		}(i)
	}

	// rank 2 never arrives; it aborts instead
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, groups[2].Abort(ctx, cause))
	wg.Wait()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, errs[i], strataerr.ErrAborted, "rank %d", i)
		assert.ErrorIs(t, errs[i], cause, "rank %d", i)
	}
	assert.ErrorIs(t, groups[0].Err(), cause)
}

func TestWriteTokenMutualExclusion(t *testing.T) {
	groups, err := NewLocalGroup(4)
	require.NoError(t, err)

	ctx := context.Background()

	type span struct{ start, end time.Time }
	var mu sync.Mutex
	var spans []span

	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func(g *LocalGroup) {
			defer wg.Done()
			for n := 0; n < 5; n++ {
				assert.NoError(t, g.AcquireWrite(ctx))
				start := time.Now()
				time.Sleep(time.Millisecond)
				end := time.Now()
				g.ReleaseWrite()

				mu.Lock()
				spans = append(spans, span{start, end})
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()

	// no two write spans may overlap in time
	for i := range spans {
		for j := i + 1; j < len(spans); j++ {
			overlap := spans[i].start.Before(spans[j].end) && spans[j].start.Before(spans[i].end)
			assert.False(t, overlap, "write spans %d and %d overlap", i, j)
		}
	}
}

func TestAcquireWriteObservesAbort(t *testing.T) {
	groups, err := NewLocalGroup(2)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// rank 0 holds the token, rank 1 blocks on it until the abort lands
	require.NoError(t, groups[0].AcquireWrite(ctx))

	done := make(chan error, 1)
	go func() {
		done <- groups[1].AcquireWrite(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, groups[0].Abort(ctx, errors.New("fatal read error")))

	err = <-done
	assert.ErrorIs(t, err, strataerr.ErrAborted)
}

func TestAcquireWriteRefusedAfterAbort(t *testing.T) {
	groups, err := NewLocalGroup(2)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, groups[0].Abort(ctx, errors.New("peer failed")))

	// the token is free, but an observed abort must win every time
	for i := 0; i < 50; i++ {
		err := groups[1].AcquireWrite(ctx)
		require.ErrorIs(t, err, strataerr.ErrAborted)
	}
}

func TestReleaseWithoutAcquireIsNoOp(t *testing.T) {
	groups, err := NewLocalGroup(1)
	require.NoError(t, err)

	groups[0].ReleaseWrite()
	require.NoError(t, groups[0].AcquireWrite(context.Background()))
	groups[0].ReleaseWrite()
}
