package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	strataerr "github.com/geowave/Strata/pkg/errors"
)

func newTestDataset(t *testing.T) *Dataset {
	t.Helper()
	ds, err := Open(Options{InMemory: true, Mode: Create})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func testTrace(station, channel string, data ...float64) *Trace {
	return &Trace{
		Stats: Stats{
			Network:      "II",
			Station:      station,
			Channel:      channel,
			SamplingRate: 20,
			StartTime:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		Data: data,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestStreamRoundTrip(t *testing.T) {
	ds := newTestDataset(t)

	in := &Stream{Traces: []Trace{*testTrace("BFO", "BHZ", 1, 2, 3)}}
	require.NoError(t, ds.PutStream("raw", "II.BFO", in))

	out, err := ds.Stream("raw", "II.BFO")
	require.NoError(t, err)
	require.Len(t, out.Traces, 1)
	assert.Equal(t, []float64{1, 2, 3}, out.Traces[0].Data)
	assert.Equal(t, "Z", out.Traces[0].Stats.Component())
}

func TestStreamMissingIsRecordReadError(t *testing.T) {
	ds := newTestDataset(t)

	_, err := ds.Stream("raw", "II.BFO")
	require.Error(t, err)
	assert.ErrorIs(t, err, strataerr.ErrRecordRead)
}

func TestAppendTraceReplacesSameComponent(t *testing.T) {
	ds := newTestDataset(t)

	require.NoError(t, ds.AppendTrace("raw", testTrace("BFO", "BHZ", 1)))
	require.NoError(t, ds.AppendTrace("raw", testTrace("BFO", "BHN", 2)))
	require.NoError(t, ds.AppendTrace("raw", testTrace("BFO", "BHZ", 3)))

	s, err := ds.Stream("raw", "II.BFO")
	require.NoError(t, err)
	require.Len(t, s.Traces, 2)
	assert.Equal(t, []float64{3}, s.Select("Z").Data)
	assert.Equal(t, []float64{2}, s.Select("N").Data)
}

func TestWaveformTagsSorted(t *testing.T) {
	ds := newTestDataset(t)

	require.NoError(t, ds.PutStream("synthetic", "II.BFO", &Stream{}))
	require.NoError(t, ds.PutStream("raw", "II.BFO", &Stream{}))
	require.NoError(t, ds.PutStream("raw", "IU.ANMO", &Stream{}))

	tags, err := ds.WaveformTags()
	require.NoError(t, err)
	assert.Equal(t, []string{"raw", "synthetic"}, tags)

	stations, err := ds.Stations("raw")
	require.NoError(t, err)
	assert.Equal(t, []string{"II.BFO", "IU.ANMO"}, stations)
}

func TestResolveTagDefaultsToFirst(t *testing.T) {
	ds := newTestDataset(t)

	require.NoError(t, ds.PutStream("synthetic", "II.BFO", &Stream{}))
	require.NoError(t, ds.PutStream("observed", "II.BFO", &Stream{}))

	tag, err := ds.ResolveTag(KindTrace, "")
	require.NoError(t, err)
	assert.Equal(t, "observed", tag)
}

func TestResolveTagExplicitAbsent(t *testing.T) {
	ds := newTestDataset(t)
	require.NoError(t, ds.PutStream("raw", "II.BFO", &Stream{}))

	_, err := ds.ResolveTag(KindTrace, "nope")
	require.Error(t, err)
	assert.True(t, strataerr.IsTagNotFound(err))
}

func TestResolveTagEmptyDataset(t *testing.T) {
	ds := newTestDataset(t)

	_, err := ds.ResolveTag(KindTrace, "")
	require.Error(t, err)
	assert.True(t, strataerr.IsTagNotFound(err))
}

func TestListRecordsStreamAndTrace(t *testing.T) {
	ds := newTestDataset(t)

	require.NoError(t, ds.AppendTrace("raw", testTrace("BFO", "BHZ", 1)))
	require.NoError(t, ds.AppendTrace("raw", testTrace("BFO", "BHN", 2)))
	require.NoError(t, ds.PutStream("raw", "IU.ANMO",
		&Stream{Traces: []Trace{{Stats: Stats{Network: "IU", Station: "ANMO", Channel: "BHE"}}}}))

	ids, tag, err := ds.ListRecords(KindStream, "raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", tag)
	assert.Equal(t, []string{"II_BFO", "IU_ANMO"}, ids)

	ids, _, err = ds.ListRecords(KindTrace, "raw")
	require.NoError(t, err)
	assert.Equal(t, []string{"II_BFO_Z", "II_BFO_N", "IU_ANMO_E"}, ids)
}

func TestListRecordsAuxiliary(t *testing.T) {
	ds := newTestDataset(t)

	aux := &Auxiliary{Data: []float64{1}, Parameters: map[string]any{"k": "v"}}
	require.NoError(t, ds.PutAuxiliary("Misfits", "II_BFO_Z", aux))
	require.NoError(t, ds.PutAuxiliary("Misfits", "II_BFO_N", aux))
	require.NoError(t, ds.PutAuxiliary("Misfits", "IU_ANMO_Z", aux))

	ids, tag, err := ds.ListRecords(KindAuxiliary, "")
	require.NoError(t, err)
	assert.Equal(t, "Misfits", tag)
	assert.Equal(t, []string{"II_BFO_N", "II_BFO_Z", "IU_ANMO_Z"}, ids)

	groups, _, err := ds.ListRecords(KindAuxiliaryGroup, "Misfits")
	require.NoError(t, err)
	assert.Equal(t, []string{"II_BFO", "IU_ANMO"}, groups)
}

func TestReadTrace(t *testing.T) {
	ds := newTestDataset(t)
	require.NoError(t, ds.AppendTrace("raw", testTrace("BFO", "BHZ", 4, 5)))

	payload, err := ds.Read("II_BFO_Z", KindTrace, "raw")
	require.NoError(t, err)
	tr, ok := payload.(*Trace)
	require.True(t, ok)
	assert.Equal(t, []float64{4, 5}, tr.Data)

	_, err = ds.Read("II_BFO_E", KindTrace, "raw")
	assert.ErrorIs(t, err, strataerr.ErrRecordRead)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	ds, err := Open(Options{InMemory: true, Mode: ReadOnly})
	require.NoError(t, err)
	defer ds.Close()

	err = ds.PutStream("raw", "II.BFO", &Stream{})
	assert.ErrorIs(t, err, strataerr.ErrReadOnly)
}

func TestInventoryAbsentIsNil(t *testing.T) {
	ds := newTestDataset(t)

	inv, err := ds.Inventory("II.BFO")
	require.NoError(t, err)
	assert.Nil(t, inv)

	require.NoError(t, ds.PutInventory(&Inventory{Network: "II", Station: "BFO", Latitude: 48.3}))
	inv, err = ds.Inventory("II.BFO")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, 48.3, inv.Latitude)
}

func TestEventsRoundTrip(t *testing.T) {
	ds := newTestDataset(t)

	require.NoError(t, ds.PutEvent(&Event{ID: "evt-2", Magnitude: 6.1}))
	require.NoError(t, ds.PutEvent(&Event{ID: "evt-1", Magnitude: 5.4}))

	events, err := ds.Events()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, "evt-2", events[1].ID)
}

func TestCloseTwice(t *testing.T) {
	ds, err := Open(Options{InMemory: true, Mode: Create})
	require.NoError(t, err)
	require.NoError(t, ds.Close())
	assert.ErrorIs(t, ds.Close(), strataerr.ErrClosed)
}

func TestIdentifierHelpers(t *testing.T) {
	assert.Equal(t, "II_BFO", RecordID("II.BFO"))

	station, err := StationOf("II_BFO", KindStream)
	require.NoError(t, err)
	assert.Equal(t, "II.BFO", station)

	station, err = StationOf("II_BFO_Z", KindTrace)
	require.NoError(t, err)
	assert.Equal(t, "II.BFO", station)

	_, err = StationOf("II", KindStream)
	assert.Error(t, err)

	assert.Equal(t, "Z", ComponentOf("II_BFO_Z"))
	assert.Equal(t, "", ComponentOf("II_BFO"))
}
