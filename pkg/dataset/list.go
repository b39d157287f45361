package dataset

import (
	"fmt"
	"sort"
	"strings"

	strataerr "github.com/geowave/Strata/pkg/errors"
)

// ResolveTag resolves the effective tag for a record kind. An empty tag
// defaults to the lexicographically first tag (or auxiliary group)
// discovered for the kind, so every worker resolves the same default
// without communicating. An explicit tag that is absent from the dataset
// is an error.
func (d *Dataset) ResolveTag(kind Kind, tag string) (string, error) {
	var available []string
	var err error

	switch kind {
	case KindAuxiliary, KindAuxiliaryGroup:
		available, err = d.AuxiliaryGroups()
	default:
		available, err = d.WaveformTags()
	}
	if err != nil {
		return "", err
	}

	if tag == "" {
		if len(available) == 0 {
			return "", fmt.Errorf("%w: dataset %s has no tags for kind %s",
				strataerr.ErrTagNotFound, d.path, kind)
		}
		return available[0], nil
	}
	for _, t := range available {
		if t == tag {
			return tag, nil
		}
	}
	return "", fmt.Errorf("%w: %s (kind %s, dataset %s)",
		strataerr.ErrTagNotFound, tag, kind, d.path)
}

// ListRecords enumerates the identifiers addressable under a kind and tag,
// in deterministic (lexicographic) order, along with the effective tag used.
// Passing an empty tag selects the default tag; see ResolveTag.
func (d *Dataset) ListRecords(kind Kind, tag string) ([]string, string, error) {
	if !kind.Valid() {
		return nil, "", fmt.Errorf("unsupported record kind %q", kind)
	}

	effective, err := d.ResolveTag(kind, tag)
	if err != nil {
		return nil, "", err
	}

	switch kind {
	case KindStream:
		stations, err := d.Stations(effective)
		if err != nil {
			return nil, "", err
		}
		ids := make([]string, 0, len(stations))
		for _, st := range stations {
			ids = append(ids, RecordID(st))
		}
		return ids, effective, nil

	case KindTrace:
		stations, err := d.Stations(effective)
		if err != nil {
			return nil, "", err
		}
		var ids []string
		for _, st := range stations {
			s, err := d.Stream(effective, st)
			if err != nil {
				return nil, "", err
			}
			for i := range s.Traces {
				ids = append(ids, RecordID(st)+"_"+s.Traces[i].Stats.Component())
			}
		}
		return ids, effective, nil

	case KindAuxiliary:
		paths, err := d.AuxiliaryPaths(effective)
		if err != nil {
			return nil, "", err
		}
		return paths, effective, nil

	case KindAuxiliaryGroup:
		paths, err := d.AuxiliaryPaths(effective)
		if err != nil {
			return nil, "", err
		}
		seen := make(map[string]struct{})
		var groups []string
		for _, p := range paths {
			i := strings.LastIndexByte(p, '_')
			if i <= 0 {
				continue
			}
			prefix := p[:i]
			if _, ok := seen[prefix]; ok {
				continue
			}
			seen[prefix] = struct{}{}
			groups = append(groups, prefix)
		}
		sort.Strings(groups)
		return groups, effective, nil
	}

	return nil, "", fmt.Errorf("unsupported record kind %q", kind)
}

// Read returns the raw payload of a record: *Stream for streams, *Trace
// for traces, *Auxiliary for auxiliary records. Auxiliary groups are not
// directly readable as a single payload; use an Accessor for the record's
// enclosing context.
func (d *Dataset) Read(id string, kind Kind, tag string) (any, error) {
	switch kind {
	case KindStream:
		station, err := StationOf(id, KindStream)
		if err != nil {
			return nil, err
		}
		return d.Stream(tag, station)

	case KindTrace:
		station, err := StationOf(id, KindTrace)
		if err != nil {
			return nil, err
		}
		s, err := d.Stream(tag, station)
		if err != nil {
			return nil, err
		}
		tr := s.Select(ComponentOf(id))
		if tr == nil {
			return nil, fmt.Errorf("%w: no component %s in %s/%s",
				strataerr.ErrRecordRead, ComponentOf(id), tag, station)
		}
		return tr, nil

	case KindAuxiliary:
		return d.Auxiliary(tag, id)
	}

	return nil, fmt.Errorf("kind %q is not directly readable", kind)
}
