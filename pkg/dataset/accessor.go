package dataset

// Accessor is the context object enclosing one record: it resolves the raw
// payload lazily and carries the sibling metadata (station inventory, event
// catalog) that transforms may need alongside the samples.
type Accessor struct {
	ds      *Dataset
	kind    Kind
	tag     string
	id      string
	fellows []*Accessor
}

// NewAccessor creates an accessor pointing at one record of an opened
// dataset. The tag must already be resolved (non-empty).
func NewAccessor(ds *Dataset, kind Kind, tag, id string) *Accessor {
	return &Accessor{ds: ds, kind: kind, tag: tag, id: id}
}

// Dataset returns the dataset the accessor reads from.
func (a *Accessor) Dataset() *Dataset { return a.ds }

// Kind returns the record kind the accessor points at.
func (a *Accessor) Kind() Kind { return a.kind }

// Tag returns the resolved tag of the record.
func (a *Accessor) Tag() string { return a.tag }

// ID returns the record identifier.
func (a *Accessor) ID() string { return a.id }

// Fellows returns accessors for every other record of the same dataset
// participating in the run, including this one. Populated by the engine
// when accessor arguments are enabled.
func (a *Accessor) Fellows() []*Accessor { return a.fellows }

// SetFellows attaches the sibling accessor set.
func (a *Accessor) SetFellows(fellows []*Accessor) { a.fellows = fellows }

// Stream returns the waveform stream the record belongs to, or nil for
// auxiliary records.
func (a *Accessor) Stream() (*Stream, error) {
	if a.kind != KindStream && a.kind != KindTrace {
		return nil, nil
	}
	station, err := StationOf(a.id, a.kind)
	if err != nil {
		return nil, err
	}
	return a.ds.Stream(a.tag, station)
}

// Trace returns the single trace for trace records, or nil otherwise.
func (a *Accessor) Trace() (*Trace, error) {
	if a.kind != KindTrace {
		return nil, nil
	}
	payload, err := a.ds.Read(a.id, KindTrace, a.tag)
	if err != nil {
		return nil, err
	}
	return payload.(*Trace), nil
}

// Auxiliary returns the auxiliary array for auxiliary records, or nil.
func (a *Accessor) Auxiliary() (*Auxiliary, error) {
	if a.kind != KindAuxiliary {
		return nil, nil
	}
	return a.ds.Auxiliary(a.tag, a.id)
}

// Data returns the raw samples of the record: trace samples for traces,
// array data for auxiliary records, nil for streams.
func (a *Accessor) Data() ([]float64, error) {
	switch a.kind {
	case KindTrace:
		tr, err := a.Trace()
		if err != nil {
			return nil, err
		}
		return tr.Data, nil
	case KindAuxiliary:
		aux, err := a.Auxiliary()
		if err != nil {
			return nil, err
		}
		return aux.Data, nil
	}
	return nil, nil
}

// Stats returns the waveform stats for trace records.
func (a *Accessor) Stats() (Stats, error) {
	if a.kind != KindTrace {
		return Stats{}, nil
	}
	tr, err := a.Trace()
	if err != nil {
		return Stats{}, err
	}
	return tr.Stats, nil
}

// Parameters returns the parameters of auxiliary records.
func (a *Accessor) Parameters() (map[string]any, error) {
	if a.kind != KindAuxiliary {
		return nil, nil
	}
	aux, err := a.Auxiliary()
	if err != nil {
		return nil, err
	}
	return aux.Parameters, nil
}

// Inventory returns the station metadata attached to waveform records, or
// nil when the dataset carries none or the record is auxiliary.
func (a *Accessor) Inventory() (*Inventory, error) {
	switch a.kind {
	case KindStream, KindTrace:
		station, err := StationOf(a.id, a.kind)
		if err != nil {
			return nil, err
		}
		return a.ds.Inventory(station)
	}
	return nil, nil
}

// Events returns the event catalog of the dataset.
func (a *Accessor) Events() ([]Event, error) {
	return a.ds.Events()
}

// Target returns the payload the accessor's kind points at, mirroring Read.
func (a *Accessor) Target() (any, error) {
	return a.ds.Read(a.id, a.kind, a.tag)
}
