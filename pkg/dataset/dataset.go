// Package dataset implements the self-describing record store the engine
// reads from and writes to. A dataset holds per-station waveform streams,
// per-path auxiliary arrays and the station/event metadata describing them,
// all addressed by record kind, tag and identifier.
//
// The store is an embedded key-value database (BadgerDB). Keys are grouped
// into families:
//
//	wf/<tag>/<station>   waveform stream for one station under a tag
//	aux/<group>/<path>   auxiliary array under a group
//	sta/<station>        station inventory
//	evt/<id>             event metadata
//
// Iteration over a key family is lexicographic, which makes record
// enumeration and default-tag resolution deterministic without any
// cross-worker coordination.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	strataerr "github.com/geowave/Strata/pkg/errors"
)

// Mode controls how a dataset is opened.
type Mode int

const (
	// ReadOnly opens an existing dataset for reading. Multiple workers may
	// hold read-only handles on the same dataset concurrently.
	ReadOnly Mode = iota

	// Create truncates any existing dataset at the path and opens a fresh
	// writable one.
	Create

	// Append opens an existing dataset (creating it if absent) for writing.
	// The underlying store permits a single writer at a time; callers must
	// hold the run's write token.
	Append
)

// Options configures Open.
type Options struct {
	// Path is the dataset directory. Ignored when InMemory is set.
	Path string

	// Mode selects read-only, create or append access.
	Mode Mode

	// InMemory opens an ephemeral dataset with no disk backing, used by
	// tests and short-lived scratch data.
	InMemory bool

	// Logger receives store-level diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Dataset is an opened record store.
type Dataset struct {
	db     *badger.DB
	path   string
	mode   Mode
	logger *zap.Logger
	closed bool
}

const (
	prefixWaveform  = "wf/"
	prefixAuxiliary = "aux/"
	prefixStation   = "sta/"
	prefixEvent     = "evt/"
)

// Open opens a dataset with the given options.
func Open(opts Options) (*Dataset, error) {
	if opts.Path == "" && !opts.InMemory {
		return nil, errors.New("dataset path cannot be empty")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	if opts.Mode == Create && !opts.InMemory {
		if err := os.RemoveAll(opts.Path); err != nil {
			return nil, fmt.Errorf("failed to truncate dataset at %s: %w", opts.Path, err)
		}
	}

	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(nil)
	if opts.Mode == ReadOnly && !opts.InMemory {
		badgerOpts = badgerOpts.WithReadOnly(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset at %s: %w", opts.Path, err)
	}

	opts.Logger.Debug("dataset opened",
		zap.String("path", opts.Path),
		zap.Bool("inMemory", opts.InMemory),
		zap.Int("mode", int(opts.Mode)))

	return &Dataset{
		db:     db,
		path:   opts.Path,
		mode:   opts.Mode,
		logger: opts.Logger,
	}, nil
}

// Path returns the dataset directory, empty for in-memory datasets.
func (d *Dataset) Path() string {
	return d.path
}

// Close releases the underlying store.
func (d *Dataset) Close() error {
	if d.closed {
		return strataerr.ErrClosed
	}
	d.closed = true
	return d.db.Close()
}

func (d *Dataset) writable() error {
	if d.mode == ReadOnly {
		return strataerr.ErrReadOnly
	}
	return nil
}

func (d *Dataset) put(key string, value any) error {
	if err := d.writable(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), raw)
	})
}

func (d *Dataset) get(key string, out any) error {
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, out)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", strataerr.ErrRecordRead, key, err)
	}
	return nil
}

// listKeys returns the sorted trailing segments of all keys under a prefix.
// With depth 1 the segment is the remainder after the prefix; with depth 2
// only the first path segment of the remainder is kept (deduplicated).
func (d *Dataset) listKeys(prefix string, firstSegmentOnly bool) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	err := d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         []byte(prefix),
			PrefetchValues: false,
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), prefix)
			if firstSegmentOnly {
				if i := strings.IndexByte(rest, '/'); i >= 0 {
					rest = rest[:i]
				}
			}
			if _, ok := seen[rest]; ok {
				continue
			}
			seen[rest] = struct{}{}
			out = append(out, rest)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", strataerr.ErrRecordRead, prefix, err)
	}
	// Badger iterates in key order, but dedup of the first segment can only
	// guarantee order after an explicit sort.
	sort.Strings(out)
	return out, nil
}

// WaveformTags returns the sorted set of waveform tags present in the dataset.
func (d *Dataset) WaveformTags() ([]string, error) {
	return d.listKeys(prefixWaveform, true)
}

// AuxiliaryGroups returns the sorted set of auxiliary groups present.
func (d *Dataset) AuxiliaryGroups() ([]string, error) {
	return d.listKeys(prefixAuxiliary, true)
}

// Stations returns the sorted station keys holding waveforms under a tag.
func (d *Dataset) Stations(tag string) ([]string, error) {
	return d.listKeys(prefixWaveform+tag+"/", false)
}

// AuxiliaryPaths returns the sorted auxiliary paths under a group.
func (d *Dataset) AuxiliaryPaths(group string) ([]string, error) {
	return d.listKeys(prefixAuxiliary+group+"/", false)
}

// Stream reads the waveform stream of a station under a tag.
func (d *Dataset) Stream(tag, station string) (*Stream, error) {
	var s Stream
	if err := d.get(prefixWaveform+tag+"/"+station, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Auxiliary reads the auxiliary array at a path under a group.
func (d *Dataset) Auxiliary(group, path string) (*Auxiliary, error) {
	var a Auxiliary
	if err := d.get(prefixAuxiliary+group+"/"+path, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Inventory reads the station metadata for a station key, or nil if the
// dataset carries none.
func (d *Dataset) Inventory(station string) (*Inventory, error) {
	var inv Inventory
	err := d.get(prefixStation+station, &inv)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &inv, nil
}

// Events returns all event metadata in the dataset.
func (d *Dataset) Events() ([]Event, error) {
	ids, err := d.listKeys(prefixEvent, false)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		var ev Event
		if err := d.get(prefixEvent+id, &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// PutStream stores a waveform stream for a station under a tag, replacing
// any existing stream at that address.
func (d *Dataset) PutStream(tag, station string, s *Stream) error {
	return d.put(prefixWaveform+tag+"/"+station, s)
}

// AppendTrace merges a trace into the station's stream under a tag. A trace
// with the same component is replaced; otherwise the trace is appended.
func (d *Dataset) AppendTrace(tag string, tr *Trace) error {
	if err := d.writable(); err != nil {
		return err
	}
	station := tr.Stats.StationKey()
	existing, err := d.Stream(tag, station)
	if err != nil {
		existing = &Stream{}
	}
	replaced := false
	for i := range existing.Traces {
		if existing.Traces[i].Stats.Component() == tr.Stats.Component() {
			existing.Traces[i] = *tr
			replaced = true
			break
		}
	}
	if !replaced {
		existing.Traces = append(existing.Traces, *tr)
	}
	return d.PutStream(tag, station, existing)
}

// PutAuxiliary stores an auxiliary array at a path under a group.
func (d *Dataset) PutAuxiliary(group, path string, a *Auxiliary) error {
	return d.put(prefixAuxiliary+group+"/"+path, a)
}

// PutInventory stores station metadata.
func (d *Dataset) PutInventory(inv *Inventory) error {
	return d.put(prefixStation+inv.StationKey(), inv)
}

// PutEvent stores event metadata.
func (d *Dataset) PutEvent(ev *Event) error {
	return d.put(prefixEvent+ev.ID, ev)
}
