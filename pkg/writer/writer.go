// Package writer buffers transform results on each worker and appends them
// to the output dataset under the run's exclusive write token, so that at
// most one worker mutates the shared store at any instant.
package writer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/geowave/Strata/pkg/cluster"
	"github.com/geowave/Strata/pkg/dataset"
)

type streamEntry struct {
	tag     string
	station string
	stream  *dataset.Stream
}

type traceEntry struct {
	tag   string
	trace *dataset.Trace
}

type auxEntry struct {
	group string
	aux   *dataset.Auxiliary
}

// Writer accumulates one worker's results and flushes them in a single
// serialized append to the output dataset.
type Writer struct {
	dstPath string
	group   cluster.Group
	logger  *zap.Logger

	streams     []streamEntry
	traces      []traceEntry
	auxiliaries map[string]auxEntry
	inventories map[string]*dataset.Inventory
	events      map[string]*dataset.Event
}

// New creates a writer targeting the dataset at dstPath. The group supplies
// the exclusive write token; the destination dataset must already exist.
func New(dstPath string, group cluster.Group, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		dstPath:     dstPath,
		group:       group,
		logger:      logger,
		auxiliaries: make(map[string]auxEntry),
		inventories: make(map[string]*dataset.Inventory),
		events:      make(map[string]*dataset.Event),
	}
}

// AddStream buffers a full stream for a station under a tag.
func (w *Writer) AddStream(tag, station string, s *dataset.Stream) {
	w.streams = append(w.streams, streamEntry{tag: tag, station: station, stream: s})
}

// AddTrace buffers a single trace; its station is taken from the stats.
func (w *Writer) AddTrace(tag string, tr *dataset.Trace) {
	w.traces = append(w.traces, traceEntry{tag: tag, trace: tr})
}

// AddAuxiliary buffers an auxiliary array at a path under a group. A later
// add to the same group and path replaces the earlier one.
func (w *Writer) AddAuxiliary(group, path string, aux *dataset.Auxiliary) {
	w.auxiliaries[group+"/"+path] = auxEntry{group: group, aux: aux}
}

// AddInventory buffers station metadata, deduplicated by station key.
func (w *Writer) AddInventory(inv *dataset.Inventory) {
	if inv == nil {
		return
	}
	w.inventories[inv.StationKey()] = inv
}

// AddEvent buffers event metadata, deduplicated by ID.
func (w *Writer) AddEvent(ev *dataset.Event) {
	if ev == nil {
		return
	}
	w.events[ev.ID] = ev
}

// Pending returns the number of buffered entries.
func (w *Writer) Pending() int {
	return len(w.streams) + len(w.traces) + len(w.auxiliaries) +
		len(w.inventories) + len(w.events)
}

// Discard drops all buffered entries without writing them.
func (w *Writer) Discard() {
	w.streams = nil
	w.traces = nil
	w.auxiliaries = make(map[string]auxEntry)
	w.inventories = make(map[string]*dataset.Inventory)
	w.events = make(map[string]*dataset.Event)
}

// Flush acquires the run's write token, appends every buffered entry to
// the output dataset in one session, and releases the token. A flush that
// fails to acquire the token (run aborted) leaves the destination
// untouched; the buffer is cleared only on success.
func (w *Writer) Flush(ctx context.Context) error {
	if w.Pending() == 0 {
		return nil
	}

	if err := w.group.AcquireWrite(ctx); err != nil {
		return fmt.Errorf("failed to acquire write token: %w", err)
	}
	defer w.group.ReleaseWrite()

	start := time.Now()
	w.logger.Debug("write token acquired",
		zap.Int("rank", w.group.Rank()),
		zap.Int("pending", w.Pending()))

	if err := w.write(); err != nil {
		return err
	}

	w.logger.Info("flushed results",
		zap.Int("rank", w.group.Rank()),
		zap.String("dst", w.dstPath),
		zap.Duration("took", time.Since(start)))

	w.Discard()
	return nil
}

// write appends the buffers to the destination. The caller holds the write
// token, so opening the store for append cannot race another worker.
func (w *Writer) write() (err error) {
	ds, err := dataset.Open(dataset.Options{
		Path:   w.dstPath,
		Mode:   dataset.Append,
		Logger: w.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open output dataset: %w", err)
	}
	defer func() {
		err = multierr.Append(err, ds.Close())
	}()

	for _, e := range w.streams {
		if werr := ds.PutStream(e.tag, e.station, e.stream); werr != nil {
			return fmt.Errorf("failed to write stream %s/%s: %w", e.tag, e.station, werr)
		}
	}
	for _, e := range w.traces {
		if werr := ds.AppendTrace(e.tag, e.trace); werr != nil {
			return fmt.Errorf("failed to write trace %s/%s: %w",
				e.tag, e.trace.Stats.StationKey(), werr)
		}
	}

	paths := make([]string, 0, len(w.auxiliaries))
	for p := range w.auxiliaries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		e := w.auxiliaries[p]
		path := p[len(e.group)+1:]
		if werr := ds.PutAuxiliary(e.group, path, e.aux); werr != nil {
			return fmt.Errorf("failed to write auxiliary %s: %w", p, werr)
		}
	}

	for _, inv := range w.inventories {
		if werr := ds.PutInventory(inv); werr != nil {
			return fmt.Errorf("failed to write inventory %s: %w", inv.StationKey(), werr)
		}
	}
	for _, ev := range w.events {
		if werr := ds.PutEvent(ev); werr != nil {
			return fmt.Errorf("failed to write event %s: %w", ev.ID, werr)
		}
	}
	return nil
}
