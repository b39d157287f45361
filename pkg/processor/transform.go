package processor

import (
	"context"

	"github.com/geowave/Strata/pkg/dataset"
)

// Argument is one shaped call argument of a transform: the record payload
// of one input dataset, or its accessor when accessor passing is enabled.
// Exactly one payload field is set, matching the record kind.
type Argument struct {
	// Kind is the record kind this argument was read as.
	Kind dataset.Kind

	// Stream is set for stream records.
	Stream *dataset.Stream

	// Trace is set for trace records.
	Trace *dataset.Trace

	// Auxiliary is set for auxiliary records.
	Auxiliary *dataset.Auxiliary

	// Accessor is set instead of the payload fields when the run passes
	// context objects.
	Accessor *dataset.Accessor
}

// Result is the output of one transform invocation. At most one of Stream,
// Trace, Auxiliary or Components is set; a nil *Result means the task
// completes without writing anything.
type Result struct {
	// Stream writes a full stream under the record's station.
	Stream *dataset.Stream

	// Trace writes a single trace, merged into its station's stream.
	Trace *dataset.Trace

	// Auxiliary writes an array at the task's identifier.
	Auxiliary *dataset.Auxiliary

	// Components fans out auxiliary arrays to "<identifier>_<component>"
	// paths. Nil map values are skipped.
	Components map[string]*dataset.Auxiliary

	// Tag overrides the run's resolved output tag for this result.
	Tag string
}

// Transform is the user-supplied processing function. It receives one
// argument per input dataset, in source order, and returns the result to
// write, nil for no output, or an error.
type Transform func(ctx context.Context, args []Argument) (*Result, error)

// ErrorHandler decides the fate of a failed task. Returning nil lets the
// run continue with the task simply producing no output; returning an
// error (or panicking) escalates to a run-wide abort.
type ErrorHandler func(id string, err error) error
