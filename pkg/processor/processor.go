// Package processor implements the coordination engine: it enumerates the
// records of one or more input datasets, matches them across datasets in
// pairwise mode, partitions them deterministically over a fixed worker
// group, applies the user transform per record on each worker, and routes
// results to the serialized output writer or failures to the error
// reporter.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/geowave/Strata/pkg/cluster"
	"github.com/geowave/Strata/pkg/dataset"
	strataerr "github.com/geowave/Strata/pkg/errors"
	"github.com/geowave/Strata/pkg/writer"
)

// Processor configures one processing run. Construct it with the fields
// below and call Run (one worker per Group rank) or RunLocal (a fixed
// number of in-process workers).
type Processor struct {
	// Src lists the input dataset paths, one per transform argument.
	// Duplicate paths share a single open handle.
	Src []string

	// Dst is the output dataset path. It is recreated at run start by
	// rank 0; an existing output tag is overwritten.
	Dst string

	// Transform is the user processing function.
	Transform Transform

	// Kind is the record kind to enumerate. Defaults to KindTrace.
	Kind dataset.Kind

	// Kinds optionally overrides the record kind per input dataset.
	Kinds []dataset.Kind

	// InputTag selects the input tag; empty means the lexicographically
	// first tag available, resolved identically on every worker.
	InputTag string

	// OutputTag selects the output tag; empty derives it from the
	// effective input tag, falling back to the record kind.
	OutputTag string

	// Pairwise enables cross-dataset identifier matching. Required when
	// more than one input dataset is configured.
	Pairwise bool

	// PassAccessor passes the record's context object to the transform
	// instead of the raw payload.
	PassAccessor bool

	// OnError, when set, is invoked on the failing worker for each
	// recoverable task failure. See ErrorHandler.
	OnError ErrorHandler

	// Group is this worker's handle on the run's collectives. Defaults to
	// a single-worker local group.
	Group cluster.Group

	// Logger receives structured run diagnostics. Defaults to a no-op
	// logger.
	Logger *zap.Logger

	// SentryDSN, when set, enables Sentry capture of abort causes.
	SentryDSN string

	// shared holds pre-opened input handles for in-process runs, where
	// every rank reads through the same store instance.
	shared []*dataset.Dataset

	sentryOnce sync.Once
}

// task is one unit of work: a record identifier plus the effective input
// tag it resolves to in each dataset. Broadcast from rank 0 as JSON so all
// workers share an identical view.
type task struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
}

type taskList struct {
	Tasks []task `json:"tasks"`
}

// Validate checks the run configuration.
func (p *Processor) Validate() error {
	if len(p.Src) == 0 {
		return errors.New("at least one input dataset is required")
	}
	if p.Dst == "" {
		return errors.New("output dataset path cannot be empty")
	}
	if p.Transform == nil {
		return errors.New("transform cannot be nil")
	}
	if len(p.Kinds) > 0 && len(p.Kinds) != len(p.Src) {
		return fmt.Errorf("got %d kinds for %d input datasets", len(p.Kinds), len(p.Src))
	}
	for j := range p.Src {
		k := p.kindOf(j)
		if !k.Valid() {
			return fmt.Errorf("unsupported record kind %q", k)
		}
		if k == dataset.KindAuxiliaryGroup && !p.PassAccessor {
			return errors.New("auxiliary-group input requires PassAccessor")
		}
	}
	if len(p.Src) > 1 && !p.Pairwise {
		return errors.New("multiple input datasets require Pairwise")
	}
	return nil
}

func (p *Processor) kindOf(j int) dataset.Kind {
	if len(p.Kinds) > 0 {
		return p.Kinds[j]
	}
	if p.Kind != "" {
		return p.Kind
	}
	return dataset.KindTrace
}

func (p *Processor) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.NewNop()
}

// Run executes this worker's share of the run and blocks until every
// worker has passed the completion barrier. It returns nil on success and
// an error wrapping ErrAborted if any worker triggered a run-wide abort.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.Validate(); err != nil {
		return err
	}

	g := p.Group
	if g == nil {
		groups, err := cluster.NewLocalGroup(1)
		if err != nil {
			return err
		}
		g = groups[0]
	}
	log := p.logger().With(zap.Int("rank", g.Rank()), zap.Int("size", g.Size()))

	p.initSentry(log)

	runID := uuid.NewString()
	tracer := otel.Tracer("strata/processor")
	ctx, span := tracer.Start(ctx, "processor.Run")
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.Int("worker.rank", g.Rank()),
		attribute.Int("worker.count", g.Size()),
		attribute.StringSlice("dataset.src", p.Src),
		attribute.String("dataset.dst", p.Dst),
	)
	defer span.End()

	start := time.Now()
	log.Info("run starting",
		zap.String("runID", runID),
		zap.Strings("src", p.Src),
		zap.String("dst", p.Dst))

	err := p.run(ctx, g, log, tracer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("run failed", zap.String("runID", runID), zap.Error(err))
		return err
	}

	span.SetStatus(codes.Ok, "run complete")
	log.Info("run complete",
		zap.String("runID", runID),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (p *Processor) run(ctx context.Context, g cluster.Group, log *zap.Logger, tracer trace.Tracer) (err error) {
	inputs, closeInputs, err := p.openInputs(log)
	if err != nil {
		return p.escalate(ctx, g, log, "", err)
	}
	defer func() {
		err = multierr.Append(err, closeInputs())
	}()

	// rank 0 prepares the destination and the task list; everyone else
	// receives it through the broadcast.
	var payload []byte
	if g.Rank() == 0 {
		tasks, enumErr := p.enumerate(inputs)
		if enumErr == nil {
			enumErr = p.prepareDst(inputs, log)
		}
		if enumErr != nil {
			return p.escalate(ctx, g, log, "", enumErr)
		}
		if payload, err = json.Marshal(taskList{Tasks: tasks}); err != nil {
			return p.escalate(ctx, g, log, "", err)
		}
	}

	payload, err = g.Broadcast(ctx, 0, payload)
	if err != nil {
		return err
	}
	var list taskList
	if err = json.Unmarshal(payload, &list); err != nil {
		return p.escalate(ctx, g, log, "", fmt.Errorf("malformed task broadcast: %w", err))
	}

	// all workers hold a consistent task view before any writes begin
	if err = g.Barrier(ctx); err != nil {
		return err
	}

	w := writer.New(p.Dst, g, log)
	if err = p.drive(ctx, g, log, tracer, inputs, list.Tasks, w); err != nil {
		w.Discard()
		p.completionBarrier(ctx, g)
		return err
	}

	if err = w.Flush(ctx); err != nil {
		w.Discard()
		escErr := p.escalate(ctx, g, log, "", err)
		p.completionBarrier(ctx, g)
		return escErr
	}

	// completion barrier: the output dataset is final only once every
	// worker has flushed
	if err = g.Barrier(ctx); err != nil {
		return err
	}
	if cause := g.Err(); cause != nil {
		return fmt.Errorf("%w: %w", strataerr.ErrAborted, cause)
	}
	return nil
}

// completionBarrier is the failure-path counterpart of the final barrier:
// it waits briefly so healthy workers are not left blocked, but never
// turns an abort into a hang.
func (p *Processor) completionBarrier(ctx context.Context, g cluster.Group) {
	barrierCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = g.Barrier(barrierCtx)
}

// openInputs opens each source dataset read-only, sharing handles between
// duplicate paths.
func (p *Processor) openInputs(log *zap.Logger) ([]*dataset.Dataset, func() error, error) {
	if p.shared != nil {
		return p.shared, func() error { return nil }, nil
	}

	opened := make(map[string]*dataset.Dataset)
	inputs := make([]*dataset.Dataset, 0, len(p.Src))

	closeAll := func() error {
		var errs error
		for _, ds := range opened {
			errs = multierr.Append(errs, ds.Close())
		}
		return errs
	}

	for _, src := range p.Src {
		if ds, ok := opened[src]; ok {
			inputs = append(inputs, ds)
			continue
		}
		ds, err := dataset.Open(dataset.Options{Path: src, Mode: dataset.ReadOnly, Logger: log})
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("%w: open %s: %w", strataerr.ErrRecordRead, src, err)
		}
		opened[src] = ds
		inputs = append(inputs, ds)
	}
	return inputs, closeAll, nil
}

// enumerate lists each dataset's records under the effective tag and
// matches identifiers across datasets. The result is ordered by the first
// dataset's enumeration order.
func (p *Processor) enumerate(inputs []*dataset.Dataset) ([]task, error) {
	lists := make([][]string, len(inputs))
	effective := make([]string, len(inputs))
	for j, ds := range inputs {
		ids, tag, err := ds.ListRecords(p.kindOf(j), p.InputTag)
		if err != nil {
			return nil, err
		}
		lists[j] = ids
		effective[j] = tag
	}

	matched := Match(lists)
	tasks := make([]task, 0, len(matched))
	for _, id := range matched {
		tags := make([]string, len(inputs))
		copy(tags, effective)
		tasks = append(tasks, task{ID: id, Tags: tags})
	}
	return tasks, nil
}

// prepareDst recreates the output dataset and copies event metadata from
// every input, so downstream consumers see the same catalog.
func (p *Processor) prepareDst(inputs []*dataset.Dataset, log *zap.Logger) (err error) {
	dst, err := dataset.Open(dataset.Options{Path: p.Dst, Mode: dataset.Create, Logger: log})
	if err != nil {
		return fmt.Errorf("failed to create output dataset: %w", err)
	}
	defer func() {
		err = multierr.Append(err, dst.Close())
	}()

	seen := make(map[string]struct{})
	for _, ds := range inputs {
		events, evErr := ds.Events()
		if evErr != nil {
			return evErr
		}
		for i := range events {
			if _, ok := seen[events[i].ID]; ok {
				continue
			}
			seen[events[i].ID] = struct{}{}
			if putErr := dst.PutEvent(&events[i]); putErr != nil {
				return putErr
			}
		}
	}
	return nil
}

// outputTag resolves the destination tag for one task: per-result override,
// then the configured output tag, then the effective input tag of the
// first dataset, then the record kind.
func (p *Processor) outputTag(t task, res *Result) string {
	if res != nil && res.Tag != "" {
		return res.Tag
	}
	if p.OutputTag != "" {
		return p.OutputTag
	}
	if len(t.Tags) > 0 && t.Tags[0] != "" {
		return t.Tags[0]
	}
	return string(p.kindOf(0))
}

func (p *Processor) initSentry(log *zap.Logger) {
	if p.SentryDSN == "" {
		return
	}
	p.sentryOnce.Do(func() {
		if err := sentry.Init(sentry.ClientOptions{Dsn: p.SentryDSN}); err != nil {
			log.Warn("failed to initialise sentry, continuing without it", zap.Error(err))
		}
	})
}

// RunLocal executes the run with a fixed number of in-process workers,
// one goroutine per rank, and blocks until all of them have finished. Any
// worker's failure aborts the run; the combined error is returned.
func (p *Processor) RunLocal(ctx context.Context, workers int) (err error) {
	if workers <= 0 {
		return errors.New("worker count must be greater than 0")
	}
	groups, err := cluster.NewLocalGroup(workers)
	if err != nil {
		return err
	}

	// one shared read-only handle per distinct source; the store tolerates
	// concurrent readers but not concurrent opens of the same directory
	inputs, closeInputs, err := p.openInputs(p.logger())
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, closeInputs())
	}()

	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			worker := p.clone()
			worker.Group = groups[rank]
			worker.shared = inputs
			errs[rank] = worker.Run(ctx)
		}(i)
	}
	wg.Wait()

	return multierr.Combine(errs...)
}

// clone returns a copy of the configuration safe to hand to another
// worker goroutine.
func (p *Processor) clone() *Processor {
	return &Processor{
		Src:          p.Src,
		Dst:          p.Dst,
		Transform:    p.Transform,
		Kind:         p.Kind,
		Kinds:        p.Kinds,
		InputTag:     p.InputTag,
		OutputTag:    p.OutputTag,
		Pairwise:     p.Pairwise,
		PassAccessor: p.PassAccessor,
		OnError:      p.OnError,
		Logger:       p.Logger,
		SentryDSN:    p.SentryDSN,
	}
}

// Access opens the inputs and returns an accessor per matched identifier
// per dataset, for callers that want random access without a full run.
// The returned close function releases the dataset handles.
func (p *Processor) Access() (map[string][]*dataset.Accessor, func() error, error) {
	if len(p.Src) == 0 {
		return nil, nil, errors.New("at least one input dataset is required")
	}
	log := p.logger()

	inputs, closeInputs, err := p.openInputs(log)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := p.enumerate(inputs)
	if err != nil {
		_ = closeInputs()
		return nil, nil, err
	}

	out := make(map[string][]*dataset.Accessor, len(tasks))
	for _, t := range tasks {
		accs := make([]*dataset.Accessor, len(inputs))
		for j, ds := range inputs {
			accs[j] = dataset.NewAccessor(ds, p.kindOf(j), t.Tags[j], t.ID)
		}
		out[t.ID] = accs
	}
	return out, closeInputs, nil
}
