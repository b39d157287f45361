package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/geowave/Strata/pkg/dataset"
)

// memStore keeps uploads in memory so staging can be tested without a
// blob endpoint.
type memStore struct {
	blobs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (m *memStore) Upload(_ context.Context, blobPath string, data []byte, _ map[string]string) (string, error) {
	m.blobs[blobPath] = data
	return "mem://" + blobPath, nil
}

func (m *memStore) Download(_ context.Context, reference string) ([]byte, error) {
	data, ok := m.blobs[reference]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func TestPublishStageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "MANIFEST"), []byte("v1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "data.bin"), []byte("samples"), 0o644))

	store := newMemStore()
	url, err := Publish(context.Background(), store, src, "runs/run-1.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "mem://runs/run-1.tar.gz", url)

	dst := filepath.Join(dir, "staged")
	require.NoError(t, Stage(context.Background(), store, "runs/run-1.tar.gz", dst))

	manifest, err := os.ReadFile(filepath.Join(dst, "MANIFEST"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(manifest))

	data, err := os.ReadFile(filepath.Join(dst, "nested", "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, "samples", string(data))
}

func TestPublishStageRoundTripDataset(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "src")

	ds, err := dataset.Open(dataset.Options{Path: srcDir, Mode: dataset.Create})
	require.NoError(t, err)
	require.NoError(t, ds.PutStream("raw", "II.AAA", &dataset.Stream{
		Traces: []dataset.Trace{{
			Stats: dataset.Stats{Network: "II", Station: "AAA", Channel: "BHZ", SamplingRate: 40},
			Data:  []float64{1, 2, 3},
		}},
	}))
	require.NoError(t, ds.Close())

	store := newMemStore()
	_, err = Publish(context.Background(), store, srcDir, "runs/run-2.tar.gz")
	require.NoError(t, err)

	staged := filepath.Join(dir, "staged")
	require.NoError(t, Stage(context.Background(), store, "runs/run-2.tar.gz", staged))

	out, err := dataset.Open(dataset.Options{Path: staged, Mode: dataset.ReadOnly})
	require.NoError(t, err)
	defer out.Close()

	s, err := out.Stream("raw", "II.AAA")
	require.NoError(t, err)
	require.Len(t, s.Traces, 1)
	assert.Equal(t, []float64{1, 2, 3}, s.Traces[0].Data)
}

func TestStageRefusesExistingTarget(t *testing.T) {
	dir := t.TempDir()
	err := Stage(context.Background(), newMemStore(), "missing", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestStageMissingBlob(t *testing.T) {
	dir := t.TempDir()
	err := Stage(context.Background(), newMemStore(), "missing", filepath.Join(dir, "new"))
	assert.Error(t, err)
}

func TestNewAzureBlobStoreValidation(t *testing.T) {
	logger := zap.NewNop()

	_, err := NewAzureBlobStore("", "container", logger)
	assert.Error(t, err)

	_, err = NewAzureBlobStore("AccountName=dev;AccountKey=a2V5;", "", logger)
	assert.Error(t, err)

	_, err = NewAzureBlobStore("AccountName=dev", "container", logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account name and key")
}

func TestBlobPathNormalization(t *testing.T) {
	logger := zap.NewNop()
	store, err := NewAzureBlobStore(
		"AccountName=dev;AccountKey=a2V5;BlobEndpoint=http://127.0.0.1:10000/dev",
		"datasets", logger)
	require.NoError(t, err)

	tests := []struct {
		name      string
		reference string
		want      string
		wantErr   bool
	}{
		{"bare path", "runs/run-1.tar.gz", "runs/run-1.tar.gz", false},
		{"full url", "http://127.0.0.1:10000/dev/datasets/runs/run-1.tar.gz", "runs/run-1.tar.gz", false},
		{"query string stripped", "runs/run-1.tar.gz?sig=abc", "runs/run-1.tar.gz", false},
		{"container prefix stripped", "datasets/runs/run-1.tar.gz", "runs/run-1.tar.gz", false},
		{"empty", "  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.blobPath(tt.reference)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
