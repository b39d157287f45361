package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"

	strataerr "github.com/geowave/Strata/pkg/errors"
)

// localState is the coordination state shared by every rank of a local
// group.
type localState struct {
	size int

	mu      sync.Mutex
	arrived int
	release chan struct{}
	payload []byte

	// write token: a one-slot semaphore
	writeSem chan struct{}

	abortOnce sync.Once
	abortCh   chan struct{}
	abortErr  error
}

// LocalGroup is one rank's handle on an in-process worker group. All ranks
// share the same coordination state; each runs on its own goroutine.
type LocalGroup struct {
	rank int
	st   *localState
}

// NewLocalGroup creates the coordination state for size workers and returns
// one handle per rank.
func NewLocalGroup(size int) ([]*LocalGroup, error) {
	if size <= 0 {
		return nil, errors.New("group size must be greater than 0")
	}
	st := &localState{
		size:     size,
		release:  make(chan struct{}),
		writeSem: make(chan struct{}, 1),
		abortCh:  make(chan struct{}),
	}
	groups := make([]*LocalGroup, size)
	for i := range groups {
		groups[i] = &LocalGroup{rank: i, st: st}
	}
	return groups, nil
}

// Rank returns this worker's index.
func (g *LocalGroup) Rank() int { return g.rank }

// Size returns the worker count.
func (g *LocalGroup) Size() int { return g.st.size }

// Barrier blocks until all ranks have arrived. The last arrival releases
// the rest; the barrier is reusable.
func (g *LocalGroup) Barrier(ctx context.Context) error {
	st := g.st

	st.mu.Lock()
	st.arrived++
	if st.arrived == st.size {
		st.arrived = 0
		close(st.release)
		st.release = make(chan struct{})
		st.mu.Unlock()
		return nil
	}
	release := st.release
	st.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-st.abortCh:
		return fmt.Errorf("%w: %w", strataerr.ErrAborted, st.abortErr)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast transfers the root's payload to every rank. Implemented as a
// publish slot fenced by two barriers so a slow reader cannot observe the
// next broadcast's payload.
func (g *LocalGroup) Broadcast(ctx context.Context, root int, payload []byte) ([]byte, error) {
	st := g.st
	if root < 0 || root >= st.size {
		return nil, fmt.Errorf("broadcast root %d out of range [0,%d)", root, st.size)
	}

	if g.rank == root {
		st.mu.Lock()
		st.payload = payload
		st.mu.Unlock()
	}
	if err := g.Barrier(ctx); err != nil {
		return nil, err
	}

	st.mu.Lock()
	out := st.payload
	st.mu.Unlock()

	if err := g.Barrier(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// AcquireWrite blocks until the write token is free. An abort that has
// already been observed wins over a free token, so no new write session
// can start on an aborted run.
func (g *LocalGroup) AcquireWrite(ctx context.Context) error {
	st := g.st
	select {
	case <-st.abortCh:
		return fmt.Errorf("%w: %w", strataerr.ErrAborted, st.abortErr)
	default:
	}
	select {
	case st.writeSem <- struct{}{}:
		return nil
	case <-st.abortCh:
		return fmt.Errorf("%w: %w", strataerr.ErrAborted, st.abortErr)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseWrite returns the write token.
func (g *LocalGroup) ReleaseWrite() {
	select {
	case <-g.st.writeSem:
	default:
	}
}

// Abort marks the run aborted and wakes every blocked rank. The first
// cause wins; later calls are no-ops.
func (g *LocalGroup) Abort(_ context.Context, cause error) error {
	st := g.st
	st.abortOnce.Do(func() {
		if cause == nil {
			cause = strataerr.ErrAborted
		}
		st.abortErr = cause
		close(st.abortCh)
	})
	return nil
}

// Done is closed once the run has aborted.
func (g *LocalGroup) Done() <-chan struct{} { return g.st.abortCh }

// Err returns the abort cause, or nil.
func (g *LocalGroup) Err() error {
	select {
	case <-g.st.abortCh:
		return g.st.abortErr
	default:
		return nil
	}
}

// Close is a no-op for local groups; the state is garbage collected with
// the handles.
func (g *LocalGroup) Close() error { return nil }
