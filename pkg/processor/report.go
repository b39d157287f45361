package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/geowave/Strata/pkg/cluster"
	strataerr "github.com/geowave/Strata/pkg/errors"
)

// report routes a per-task failure through the error handler. A nil handler
// verdict keeps the run alive; anything else escalates into a run-wide abort.
// Fatal failures skip the handler entirely.
func (p *Processor) report(ctx context.Context, g cluster.Group, log *zap.Logger,
	id string, taskErr error) error {

	if strataerr.IsFatal(taskErr) {
		return p.escalate(ctx, g, log, id, taskErr)
	}
	if p.OnError == nil {
		return p.escalate(ctx, g, log, id, taskErr)
	}

	verdict := p.consult(id, taskErr)
	if verdict != nil {
		return p.escalate(ctx, g, log, id, verdict)
	}

	log.Warn("task failed, continuing",
		zap.String("task", id),
		zap.Error(taskErr))
	return nil
}

// consult invokes the user error handler with panic containment. A panic in
// the handler counts as an abort verdict.
func (p *Processor) consult(id string, taskErr error) (verdict error) {
	defer func() {
		if r := recover(); r != nil {
			verdict = fmt.Errorf("%w: error handler panic: %v", strataerr.ErrTransform, r)
		}
	}()
	return p.OnError(id, taskErr)
}

// escalate turns a failure into a run-wide abort: log it, ship it to Sentry
// when configured, broadcast the abort, and hand back the terminal error the
// caller returns.
func (p *Processor) escalate(ctx context.Context, g cluster.Group, log *zap.Logger,
	id string, cause error) error {

	fields := []zap.Field{zap.Error(cause)}
	if id != "" {
		fields = append(fields, zap.String("task", id))
	}
	log.Error("aborting run", fields...)

	if p.SentryDSN != "" {
		sentry.CaptureException(cause)
		sentry.Flush(2 * time.Second)
	}

	if abortErr := g.Abort(ctx, cause); abortErr != nil {
		log.Warn("abort broadcast failed", zap.Error(abortErr))
	}
	return fmt.Errorf("%w: %w", strataerr.ErrAborted, cause)
}
