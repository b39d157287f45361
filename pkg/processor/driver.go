package processor

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/geowave/Strata/pkg/cluster"
	"github.com/geowave/Strata/pkg/dataset"
	strataerr "github.com/geowave/Strata/pkg/errors"
	"github.com/geowave/Strata/pkg/partition"
	"github.com/geowave/Strata/pkg/writer"
)

// drive iterates this worker's partition of the task list strictly
// sequentially: shape arguments, invoke the transform, route the outcome.
func (p *Processor) drive(ctx context.Context, g cluster.Group, log *zap.Logger,
	tracer trace.Tracer, inputs []*dataset.Dataset, tasks []task, w *writer.Writer) error {

	lo, hi, err := partition.Bounds(len(tasks), g.Size(), g.Rank())
	if err != nil {
		return p.escalate(ctx, g, log, "", err)
	}
	log.Info("partition assigned",
		zap.Int("tasks", len(tasks)),
		zap.Int("from", lo),
		zap.Int("to", hi))

	fellows := p.buildFellows(inputs, tasks)

	for _, t := range tasks[lo:hi] {
		// stop accepting tasks once an abort is observed
		select {
		case <-g.Done():
			return fmt.Errorf("%w: %w", strataerr.ErrAborted, g.Err())
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		taskCtx, span := tracer.Start(ctx, "processor.task",
			trace.WithAttributes(
				attribute.String("task.id", t.ID),
				attribute.Int("worker.rank", g.Rank()),
			))

		if err := p.process(taskCtx, g, log, t, inputs, fellows, w); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return err
		}
		span.SetStatus(codes.Ok, "")
		span.End()
	}
	return nil
}

// process handles a single task end to end. Only escalated failures are
// returned; recovered per-task failures leave the run healthy.
func (p *Processor) process(ctx context.Context, g cluster.Group, log *zap.Logger,
	t task, inputs []*dataset.Dataset, fellows [][]*dataset.Accessor, w *writer.Writer) error {

	args, inv, err := p.buildArgs(inputs, t, fellows)
	if err != nil {
		return p.report(ctx, g, log, t.ID, err)
	}

	res, err := p.invoke(ctx, args)
	if err != nil {
		return p.report(ctx, g, log, t.ID, err)
	}
	if res == nil {
		log.Debug("task produced no output", zap.String("task", t.ID))
		return nil
	}

	p.collect(w, t, res, inv)
	return nil
}

// buildFellows creates, per input dataset, the accessor set spanning every
// task of the run, so accessor transforms can reach sibling records.
// Returns nil when accessor passing is disabled.
func (p *Processor) buildFellows(inputs []*dataset.Dataset, tasks []task) [][]*dataset.Accessor {
	if !p.PassAccessor {
		return nil
	}
	fellows := make([][]*dataset.Accessor, len(inputs))
	for j, ds := range inputs {
		accs := make([]*dataset.Accessor, len(tasks))
		for i, t := range tasks {
			accs[i] = dataset.NewAccessor(ds, p.kindOf(j), t.Tags[j], t.ID)
		}
		for _, acc := range accs {
			acc.SetFellows(accs)
		}
		fellows[j] = accs
	}
	return fellows
}

// buildArgs shapes one call argument per input dataset and resolves the
// station inventory carried over to the output.
func (p *Processor) buildArgs(inputs []*dataset.Dataset, t task,
	fellows [][]*dataset.Accessor) ([]Argument, *dataset.Inventory, error) {

	args := make([]Argument, len(inputs))
	var inv *dataset.Inventory

	for j, ds := range inputs {
		kind := p.kindOf(j)
		acc := dataset.NewAccessor(ds, kind, t.Tags[j], t.ID)

		if p.PassAccessor {
			// reuse the fellow-wired accessor for this task
			for _, fellow := range fellows[j] {
				if fellow.ID() == t.ID {
					acc = fellow
					break
				}
			}
			args[j] = Argument{Kind: kind, Accessor: acc}
		} else {
			payload, err := ds.Read(t.ID, kind, t.Tags[j])
			if err != nil {
				return nil, nil, err
			}
			arg := Argument{Kind: kind}
			switch v := payload.(type) {
			case *dataset.Stream:
				arg.Stream = v
			case *dataset.Trace:
				arg.Trace = v
			case *dataset.Auxiliary:
				arg.Auxiliary = v
			}
			args[j] = arg
		}

		if inv == nil {
			stationInv, err := acc.Inventory()
			if err == nil && stationInv != nil {
				inv = stationInv
			}
		}
	}
	return args, inv, nil
}

// invoke calls the user transform with panic containment: a panicking
// transform is reported like a failing one instead of tearing down the
// worker.
func (p *Processor) invoke(ctx context.Context, args []Argument) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: panic: %v", strataerr.ErrTransform, r)
		}
	}()

	res, err = p.Transform(ctx, args)
	if err != nil && !errors.Is(err, strataerr.ErrTransform) && !strataerr.IsFatal(err) {
		err = fmt.Errorf("%w: %w", strataerr.ErrTransform, err)
	}
	return res, err
}

// collect buffers one result under the resolved output tag, along with the
// station inventory when the record carries one.
func (p *Processor) collect(w *writer.Writer, t task, res *Result, inv *dataset.Inventory) {
	tag := p.outputTag(t, res)

	switch {
	case res.Stream != nil:
		station := streamStation(res.Stream, t)
		w.AddStream(tag, station, res.Stream)
	case res.Trace != nil:
		w.AddTrace(tag, res.Trace)
	case res.Auxiliary != nil:
		w.AddAuxiliary(tag, t.ID, res.Auxiliary)
	}

	for cmp, aux := range res.Components {
		if aux == nil {
			continue
		}
		w.AddAuxiliary(tag, t.ID+"_"+cmp, aux)
	}

	if inv != nil {
		w.AddInventory(inv)
	}
}

// streamStation resolves the station key a result stream is stored under:
// the stats of its first trace, falling back to the task identifier.
func streamStation(s *dataset.Stream, t task) string {
	if len(s.Traces) > 0 && s.Traces[0].Stats.Station != "" {
		return s.Traces[0].Stats.StationKey()
	}
	if station, err := dataset.StationOf(t.ID, dataset.KindStream); err == nil {
		return station
	}
	return t.ID
}
