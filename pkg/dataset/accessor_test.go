package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessorTrace(t *testing.T) {
	ds := newTestDataset(t)
	require.NoError(t, ds.AppendTrace("raw", testTrace("BFO", "BHZ", 1, 2)))
	require.NoError(t, ds.PutInventory(&Inventory{Network: "II", Station: "BFO", Latitude: 48.3}))
	require.NoError(t, ds.PutEvent(&Event{ID: "evt-1"}))

	acc := NewAccessor(ds, KindTrace, "raw", "II_BFO_Z")
	assert.Equal(t, KindTrace, acc.Kind())
	assert.Equal(t, "raw", acc.Tag())
	assert.Equal(t, "II_BFO_Z", acc.ID())
	assert.Same(t, ds, acc.Dataset())

	tr, err := acc.Trace()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, tr.Data)

	data, err := acc.Data()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, data)

	stats, err := acc.Stats()
	require.NoError(t, err)
	assert.Equal(t, "BFO", stats.Station)

	inv, err := acc.Inventory()
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, 48.3, inv.Latitude)

	events, err := acc.Events()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].ID)

	payload, err := acc.Target()
	require.NoError(t, err)
	assert.IsType(t, &Trace{}, payload)
}

func TestAccessorAuxiliary(t *testing.T) {
	ds := newTestDataset(t)
	require.NoError(t, ds.PutAuxiliary("Misfits", "II_BFO_Z",
		&Auxiliary{Data: []float64{0.5}, Parameters: map[string]any{"window": "p"}}))

	acc := NewAccessor(ds, KindAuxiliary, "Misfits", "II_BFO_Z")

	aux, err := acc.Auxiliary()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, aux.Data)

	params, err := acc.Parameters()
	require.NoError(t, err)
	assert.Equal(t, "p", params["window"])

	// waveform views are nil for auxiliary records
	s, err := acc.Stream()
	require.NoError(t, err)
	assert.Nil(t, s)
	inv, err := acc.Inventory()
	require.NoError(t, err)
	assert.Nil(t, inv)
}

func TestAccessorFellows(t *testing.T) {
	ds := newTestDataset(t)

	a := NewAccessor(ds, KindTrace, "raw", "II_BFO_Z")
	b := NewAccessor(ds, KindTrace, "raw", "IU_ANMO_Z")
	set := []*Accessor{a, b}
	a.SetFellows(set)
	b.SetFellows(set)

	require.Len(t, a.Fellows(), 2)
	assert.Same(t, b, a.Fellows()[1])
}
