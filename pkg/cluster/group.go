// Package cluster provides the worker-group collectives the engine runs
// on: rank/size identity, barriers, root broadcast, run-wide abort and the
// exclusive write token that serializes output writes.
//
// Two implementations are provided. LocalGroup coordinates a fixed set of
// worker goroutines inside one process. NATSGroup coordinates one process
// per worker over NATS subjects, for runs spanning machines.
package cluster

import "context"

// Group is one worker's handle on the run's collective operations.
// A value of this type is bound to a single rank; methods are safe to call
// from that worker only.
type Group interface {
	// Rank returns this worker's index in [0, Size).
	Rank() int

	// Size returns the fixed number of workers in the run.
	Size() int

	// Barrier blocks until every worker has arrived, the context is
	// cancelled, or the run aborts.
	Barrier(ctx context.Context) error

	// Broadcast transfers the root worker's payload to every worker. All
	// workers must call it collectively; non-root payload arguments are
	// ignored.
	Broadcast(ctx context.Context, root int, payload []byte) ([]byte, error)

	// AcquireWrite blocks until this worker holds the run's exclusive
	// write token. At most one worker holds the token at any instant.
	AcquireWrite(ctx context.Context) error

	// ReleaseWrite hands the write token back. Releasing a token that is
	// not held is a no-op.
	ReleaseWrite()

	// Abort broadcasts a run-wide abort so that workers blocked on a
	// barrier or on the write token wake up and exit instead of waiting
	// for a worker that will never arrive.
	Abort(ctx context.Context, cause error) error

	// Done is closed once an abort has been observed.
	Done() <-chan struct{}

	// Err returns the abort cause, or nil while the run is healthy.
	Err() error

	// Close releases the group's resources.
	Close() error
}
