package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	strataerr "github.com/geowave/Strata/pkg/errors"
)

// pollInterval bounds how long a blocked collective waits before
// re-checking for abort or context cancellation.
const pollInterval = 200 * time.Millisecond

// controlMsg is the wire form of the group's control messages.
type controlMsg struct {
	Rank  int    `json:"rank"`
	Cause string `json:"cause,omitempty"`
}

// NATSGroup coordinates one worker process per rank over NATS subjects.
// Rank 0 additionally runs the coordinator that counts barrier arrivals
// and grants the write token in request order, the same role the manager
// rank plays in an MPI deployment.
type NATSGroup struct {
	nc     *nats.Conn
	runID  string
	rank   int
	size   int
	logger *zap.Logger

	releaseSub *nats.Subscription
	bcastSub   *nats.Subscription
	grantSub   *nats.Subscription
	abortSub   *nats.Subscription

	abortOnce sync.Once
	abortCh   chan struct{}
	abortMu   sync.Mutex
	abortErr  error

	coord *natsCoordinator
}

// natsCoordinator is the rank-0 side of the protocol: it counts barrier
// arrivals and serializes write-token grants.
type natsCoordinator struct {
	nc     *nats.Conn
	prefix string
	size   int
	logger *zap.Logger

	mu      sync.Mutex
	arrived int
	holder  int
	queue   []int

	subs []*nats.Subscription
}

// NewNATSGroup joins a worker group of the given size under a run-scoped
// subject namespace. Every participating process must use the same runID
// and size, and ranks must be unique. The connection is owned by the
// caller and is not closed by the group.
func NewNATSGroup(nc *nats.Conn, runID string, rank, size int, logger *zap.Logger) (*NATSGroup, error) {
	if nc == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if runID == "" {
		return nil, errors.New("run ID cannot be empty")
	}
	if size <= 0 {
		return nil, errors.New("group size must be greater than 0")
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("rank %d out of range [0,%d)", rank, size)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &NATSGroup{
		nc:      nc,
		runID:   runID,
		rank:    rank,
		size:    size,
		logger:  logger,
		abortCh: make(chan struct{}),
	}

	var err error
	if g.releaseSub, err = nc.SubscribeSync(g.subject("barrier.release")); err != nil {
		return nil, fmt.Errorf("failed to subscribe to barrier release: %w", err)
	}
	if g.bcastSub, err = nc.SubscribeSync(g.subject("bcast")); err != nil {
		return nil, fmt.Errorf("failed to subscribe to broadcast: %w", err)
	}
	if g.grantSub, err = nc.SubscribeSync(g.subject(fmt.Sprintf("write.grant.%d", rank))); err != nil {
		return nil, fmt.Errorf("failed to subscribe to write grant: %w", err)
	}
	g.abortSub, err = nc.Subscribe(g.subject("abort"), func(msg *nats.Msg) {
		var cm controlMsg
		cause := strataerr.ErrAborted
		if jsonErr := json.Unmarshal(msg.Data, &cm); jsonErr == nil && cm.Cause != "" {
			cause = fmt.Errorf("%w: rank %d: %s", strataerr.ErrAborted, cm.Rank, cm.Cause)
		}
		g.markAborted(cause)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to abort: %w", err)
	}

	if rank == 0 {
		coord := &natsCoordinator{
			nc:     nc,
			prefix: "strata." + runID + ".",
			size:   size,
			logger: logger,
			holder: -1,
		}
		if err := coord.start(); err != nil {
			return nil, err
		}
		g.coord = coord
	}

	logger.Debug("joined worker group",
		zap.String("runID", runID),
		zap.Int("rank", rank),
		zap.Int("size", size))

	return g, nil
}

func (g *NATSGroup) subject(suffix string) string {
	return "strata." + g.runID + "." + suffix
}

func (g *NATSGroup) markAborted(cause error) {
	g.abortOnce.Do(func() {
		g.abortMu.Lock()
		g.abortErr = cause
		g.abortMu.Unlock()
		close(g.abortCh)
	})
}

// next consumes one message from a sync subscription, waking periodically
// to observe abort or context cancellation. An abort observed before the
// call wins over a pending message.
func (g *NATSGroup) next(ctx context.Context, sub *nats.Subscription) (*nats.Msg, error) {
	select {
	case <-g.abortCh:
		return nil, fmt.Errorf("%w: %w", strataerr.ErrAborted, g.Err())
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	for {
		msg, err := sub.NextMsg(pollInterval)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, nats.ErrTimeout) {
			return nil, err
		}
		select {
		case <-g.abortCh:
			return nil, fmt.Errorf("%w: %w", strataerr.ErrAborted, g.Err())
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

func (g *NATSGroup) publish(suffix string, cm controlMsg) error {
	data, err := json.Marshal(cm)
	if err != nil {
		return err
	}
	return g.nc.Publish(g.subject(suffix), data)
}

// Rank returns this worker's index.
func (g *NATSGroup) Rank() int { return g.rank }

// Size returns the worker count.
func (g *NATSGroup) Size() int { return g.size }

// Barrier publishes an arrival and waits for the coordinator's release.
func (g *NATSGroup) Barrier(ctx context.Context) error {
	if err := g.publish("barrier.arrive", controlMsg{Rank: g.rank}); err != nil {
		return fmt.Errorf("failed to publish barrier arrival: %w", err)
	}
	_, err := g.next(ctx, g.releaseSub)
	return err
}

// Broadcast publishes the root's payload on the group's broadcast subject;
// every rank, the root included, consumes exactly one message per call.
func (g *NATSGroup) Broadcast(ctx context.Context, root int, payload []byte) ([]byte, error) {
	if root < 0 || root >= g.size {
		return nil, fmt.Errorf("broadcast root %d out of range [0,%d)", root, g.size)
	}
	if g.rank == root {
		if err := g.nc.Publish(g.subject("bcast"), payload); err != nil {
			return nil, fmt.Errorf("failed to publish broadcast: %w", err)
		}
	}
	msg, err := g.next(ctx, g.bcastSub)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// AcquireWrite requests the write token from the coordinator and blocks
// until it is granted.
func (g *NATSGroup) AcquireWrite(ctx context.Context) error {
	if err := g.publish("write.request", controlMsg{Rank: g.rank}); err != nil {
		return fmt.Errorf("failed to request write token: %w", err)
	}
	_, err := g.next(ctx, g.grantSub)
	return err
}

// ReleaseWrite notifies the coordinator that the token is free again.
func (g *NATSGroup) ReleaseWrite() {
	if err := g.publish("write.done", controlMsg{Rank: g.rank}); err != nil {
		g.logger.Error("failed to release write token", zap.Error(err))
	}
}

// Abort broadcasts a run-wide abort. Every rank, this one included,
// observes it through the abort subscription.
func (g *NATSGroup) Abort(_ context.Context, cause error) error {
	cm := controlMsg{Rank: g.rank}
	if cause != nil {
		cm.Cause = cause.Error()
	}
	if err := g.publish("abort", cm); err != nil {
		// Delivery failed; at least mark this rank so it stops.
		g.markAborted(cause)
		return fmt.Errorf("failed to publish abort: %w", err)
	}
	return nil
}

// Done is closed once an abort has been observed.
func (g *NATSGroup) Done() <-chan struct{} { return g.abortCh }

// Err returns the abort cause, or nil.
func (g *NATSGroup) Err() error {
	g.abortMu.Lock()
	defer g.abortMu.Unlock()
	return g.abortErr
}

// Close drops the group's subscriptions. The NATS connection stays open.
func (g *NATSGroup) Close() error {
	var errs error
	for _, sub := range []*nats.Subscription{g.releaseSub, g.bcastSub, g.grantSub, g.abortSub} {
		if sub != nil {
			errs = multierr.Append(errs, sub.Unsubscribe())
		}
	}
	if g.coord != nil {
		errs = multierr.Append(errs, g.coord.stop())
	}
	return errs
}

func (c *natsCoordinator) start() error {
	arrive, err := c.nc.Subscribe(c.prefix+"barrier.arrive", c.onArrive)
	if err != nil {
		return fmt.Errorf("coordinator failed to subscribe to arrivals: %w", err)
	}
	c.subs = append(c.subs, arrive)

	req, err := c.nc.Subscribe(c.prefix+"write.request", c.onWriteRequest)
	if err != nil {
		return fmt.Errorf("coordinator failed to subscribe to write requests: %w", err)
	}
	c.subs = append(c.subs, req)

	done, err := c.nc.Subscribe(c.prefix+"write.done", c.onWriteDone)
	if err != nil {
		return fmt.Errorf("coordinator failed to subscribe to write releases: %w", err)
	}
	c.subs = append(c.subs, done)
	return nil
}

func (c *natsCoordinator) stop() error {
	var errs error
	for _, sub := range c.subs {
		errs = multierr.Append(errs, sub.Unsubscribe())
	}
	return errs
}

func (c *natsCoordinator) onArrive(*nats.Msg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arrived++
	if c.arrived < c.size {
		return
	}
	c.arrived = 0
	if err := c.nc.Publish(c.prefix+"barrier.release", nil); err != nil {
		c.logger.Error("coordinator failed to publish barrier release", zap.Error(err))
	}
}

func (c *natsCoordinator) grant(rank int) {
	subject := fmt.Sprintf("%swrite.grant.%d", c.prefix, rank)
	if err := c.nc.Publish(subject, nil); err != nil {
		c.logger.Error("coordinator failed to grant write token",
			zap.Int("rank", rank), zap.Error(err))
	}
}

func (c *natsCoordinator) onWriteRequest(msg *nats.Msg) {
	var cm controlMsg
	if err := json.Unmarshal(msg.Data, &cm); err != nil {
		c.logger.Error("coordinator received malformed write request", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holder < 0 {
		c.holder = cm.Rank
		c.grant(cm.Rank)
		return
	}
	c.queue = append(c.queue, cm.Rank)
}

func (c *natsCoordinator) onWriteDone(*nats.Msg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) > 0 {
		c.holder = c.queue[0]
		c.queue = c.queue[1:]
		c.grant(c.holder)
		return
	}
	c.holder = -1
}
