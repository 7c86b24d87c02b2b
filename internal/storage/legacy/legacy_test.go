package legacy

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xDarkicex/vektordb/internal/storage"
)

func testManifest() []byte {
	m := &storage.Manifest{
		Version:    storage.FormatVersion,
		Dim:        2,
		Metric:     "cosine",
		EntryPoint: -1,
		ScoreMap:   "one_minus",
	}
	data, _ := m.Encode()
	return data
}

func TestDocumentRoundTripAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	backend, err := Open(dir, Options{CreateIfMissing: true})
	require.NoError(t, err)

	id := uuid.New()
	require.NoError(t, backend.PutVector(0, []float32{1, 2}))

	batch := storage.NewBatch()
	batch.Items[id] = []byte(`{"node_id":0}`)
	batch.GraphNodes[0] = []byte{0, 0, 0}
	batch.Manifest = testManifest()
	require.NoError(t, backend.ApplyBatch(context.Background(), batch))
	require.NoError(t, backend.Close())

	backend, err = Open(dir, Options{})
	require.NoError(t, err)
	defer backend.Close()

	meta, err := backend.GetMetadata(id)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"node_id":0}`), meta)

	vector, err := backend.GetVector(0)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vector)

	node, err := backend.GetGraphNode(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0}, node)
}

func TestPendingVectorsDiscardedOnRollback(t *testing.T) {
	backend, err := Open(t.TempDir(), Options{CreateIfMissing: true})
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.PutVector(0, []float32{1, 2}))
	backend.DiscardPending()

	_, err = backend.GetVector(0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSizeBoundEnforced(t *testing.T) {
	backend, err := Open(t.TempDir(), Options{CreateIfMissing: true, MaxItems: 2})
	require.NoError(t, err)
	defer backend.Close()

	batch := storage.NewBatch()
	for i := 0; i < 3; i++ {
		batch.Items[uuid.New()] = []byte("{}")
	}
	batch.Manifest = testManifest()
	assert.Error(t, backend.ApplyBatch(context.Background(), batch))
}

func TestOpenMissingWithoutCreateFails(t *testing.T) {
	_, err := Open(t.TempDir(), Options{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSecondOpenerIsLocked(t *testing.T) {
	dir := t.TempDir()
	backend, err := Open(dir, Options{CreateIfMissing: true})
	require.NoError(t, err)
	defer backend.Close()

	_, err = Open(dir, Options{})
	assert.ErrorIs(t, err, storage.ErrLocked)
}
