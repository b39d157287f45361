package dataset

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the class of record stored under an identifier and tag.
type Kind string

const (
	// KindStream is a full multi-component waveform stream for one station
	KindStream Kind = "stream"

	// KindTrace is a single-component waveform trace
	KindTrace Kind = "trace"

	// KindAuxiliary is a named numeric array with free-form parameters
	KindAuxiliary Kind = "auxiliary"

	// KindAuxiliaryGroup addresses a family of auxiliary paths sharing a
	// common prefix (paths of the form "<prefix>_<leaf>")
	KindAuxiliaryGroup Kind = "auxiliary-group"
)

// Valid reports whether k is a supported record kind.
func (k Kind) Valid() bool {
	switch k {
	case KindStream, KindTrace, KindAuxiliary, KindAuxiliaryGroup:
		return true
	}
	return false
}

// Stats carries the acquisition metadata of a single waveform trace.
type Stats struct {
	Network      string    `json:"network"`
	Station      string    `json:"station"`
	Location     string    `json:"location"`
	Channel      string    `json:"channel"`
	SamplingRate float64   `json:"samplingRate"`
	StartTime    time.Time `json:"startTime"`
}

// Component returns the component letter of the trace, taken from the last
// character of the channel code (e.g. "BHZ" -> "Z").
func (s Stats) Component() string {
	if s.Channel == "" {
		return ""
	}
	return s.Channel[len(s.Channel)-1:]
}

// StationKey returns the dataset key of the owning station ("NET.STA").
func (s Stats) StationKey() string {
	return s.Network + "." + s.Station
}

// Trace is a single-component waveform: samples plus stats.
type Trace struct {
	Stats Stats     `json:"stats"`
	Data  []float64 `json:"data"`
}

// Copy returns a deep copy of the trace. Records are immutable once read;
// transforms that mutate samples should work on a copy.
func (t *Trace) Copy() *Trace {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Trace{Stats: t.Stats, Data: data}
}

// Stream is an ordered collection of traces belonging to one station.
type Stream struct {
	Traces []Trace `json:"traces"`
}

// Select returns the first trace matching the given component letter, or nil.
func (s *Stream) Select(component string) *Trace {
	for i := range s.Traces {
		if s.Traces[i].Stats.Component() == component {
			return &s.Traces[i]
		}
	}
	return nil
}

// Auxiliary is a numeric array with free-form parameters, the non-waveform
// record class (misfits, adjoint sources, windows and similar derived data).
type Auxiliary struct {
	Data       []float64      `json:"data"`
	Parameters map[string]any `json:"parameters"`
}

// Inventory is the station-level metadata carrier attached to waveform
// records, the equivalent of a StationXML entry.
type Inventory struct {
	Network   string   `json:"network"`
	Station   string   `json:"station"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Elevation float64  `json:"elevation"`
	Channels  []string `json:"channels,omitempty"`
}

// StationKey returns the dataset key of the station ("NET.STA").
func (inv Inventory) StationKey() string {
	return inv.Network + "." + inv.Station
}

// Event is source metadata shared by all records of one dataset.
type Event struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Depth     float64   `json:"depth"`
	Magnitude float64   `json:"magnitude"`
}

// RecordID converts a station key to a record identifier ("II.BFO" ->
// "II_BFO"). Record identifiers never contain dots so that trace and
// auxiliary-group identifiers can use "_" as their only separator.
func RecordID(stationKey string) string {
	return strings.ReplaceAll(stationKey, ".", "_")
}

// StationOf resolves the station key owning a record identifier. Stream
// identifiers map back directly; trace identifiers carry a trailing
// component segment which is dropped.
func StationOf(id string, kind Kind) (string, error) {
	parts := strings.Split(id, "_")
	switch kind {
	case KindStream:
		if len(parts) < 2 {
			return "", fmt.Errorf("malformed stream identifier %q", id)
		}
		return parts[0] + "." + strings.Join(parts[1:], "_"), nil
	case KindTrace:
		if len(parts) < 3 {
			return "", fmt.Errorf("malformed trace identifier %q", id)
		}
		return parts[0] + "." + strings.Join(parts[1:len(parts)-1], "_"), nil
	}
	return "", fmt.Errorf("kind %q has no owning station", kind)
}

// ComponentOf returns the component segment of a trace identifier.
func ComponentOf(id string) string {
	parts := strings.Split(id, "_")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-1]
}
