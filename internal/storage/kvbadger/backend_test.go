package kvbadger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xDarkicex/vektordb/internal/storage"
)

func openTest(t *testing.T, dir string) *Backend {
	t.Helper()
	backend, err := Open(dir, Options{CreateIfMissing: true, Dim: 4})
	require.NoError(t, err)
	return backend
}

func testManifest(items int) []byte {
	m := &storage.Manifest{
		Version:    storage.FormatVersion,
		Dim:        4,
		Metric:     "cosine",
		EntryPoint: -1,
		ItemCount:  items,
		ScoreMap:   "one_minus",
	}
	data, _ := m.Encode()
	return data
}

func TestMetadataRoundTripAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	backend := openTest(t, dir)

	id := uuid.New()
	payload := []byte(`{"id":"x","node_id":1}`)

	batch := storage.NewBatch()
	batch.Items[id] = payload
	batch.Manifest = testManifest(1)
	require.NoError(t, backend.ApplyBatch(context.Background(), batch))
	require.NoError(t, backend.Close())

	backend, err := Open(dir, Options{})
	require.NoError(t, err)
	defer backend.Close()

	got, err := backend.GetMetadata(id)
	require.NoError(t, err)
	assert.Equal(t, payload, got, "metadata must round-trip byte-exact after reopen")
}

func TestVectorsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	backend := openTest(t, dir)

	require.NoError(t, backend.PutVector(3, []float32{1, 2, 3, 4}))
	batch := storage.NewBatch()
	batch.Manifest = testManifest(0)
	require.NoError(t, backend.ApplyBatch(context.Background(), batch))
	require.NoError(t, backend.Close())

	backend, err := Open(dir, Options{})
	require.NoError(t, err)
	defer backend.Close()

	row, err := backend.GetVector(3)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, []float32{row[0], row[1], row[2], row[3]})
}

func TestGraphNodesAndFreeList(t *testing.T) {
	backend := openTest(t, t.TempDir())
	defer backend.Close()

	freeList, _ := storage.EncodeFreeList([]uint32{9})
	batch := storage.NewBatch()
	batch.GraphNodes[7] = []byte{0, 1, 0, 3, 0, 0, 0}
	batch.FreeList = freeList
	batch.Manifest = testManifest(1)
	require.NoError(t, backend.ApplyBatch(context.Background(), batch))

	node, err := backend.GetGraphNode(7)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 0, 3, 0, 0, 0}, node)

	_, err = backend.GetGraphNode(8)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := backend.GetFreeList()
	require.NoError(t, err)
	ids, err := storage.DecodeFreeList(got)
	require.NoError(t, err)
	assert.Equal(t, []uint32{9}, ids)

	// Deletes inside a later batch remove records
	batch = storage.NewBatch()
	batch.DeletedNodes = []uint32{7}
	require.NoError(t, backend.ApplyBatch(context.Background(), batch))
	_, err = backend.GetGraphNode(7)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestScanMetadata(t *testing.T) {
	backend := openTest(t, t.TempDir())
	defer backend.Close()

	want := map[uuid.UUID][]byte{
		uuid.New(): []byte("a"),
		uuid.New(): []byte("b"),
	}
	batch := storage.NewBatch()
	for id, data := range want {
		batch.Items[id] = data
	}
	batch.Manifest = testManifest(2)
	require.NoError(t, backend.ApplyBatch(context.Background(), batch))

	got := make(map[uuid.UUID][]byte)
	require.NoError(t, backend.ScanMetadata(func(id uuid.UUID, data []byte) error {
		got[id] = data
		return nil
	}))
	assert.Equal(t, want, got)
}

func TestSecondOpenerIsLocked(t *testing.T) {
	dir := t.TempDir()
	backend := openTest(t, dir)
	defer backend.Close()

	_, err := Open(dir, Options{})
	assert.ErrorIs(t, err, storage.ErrLocked)
}

func TestOpenMissingWithoutCreateFails(t *testing.T) {
	_, err := Open(t.TempDir(), Options{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestVectorGenerationSwitch(t *testing.T) {
	dir := t.TempDir()
	backend := openTest(t, dir)

	require.NoError(t, backend.PutVector(0, []float32{1, 1, 1, 1}))
	require.NoError(t, backend.PutVector(1, []float32{2, 2, 2, 2}))
	batch := storage.NewBatch()
	batch.Manifest = testManifest(2)
	require.NoError(t, backend.ApplyBatch(context.Background(), batch))

	// Stage generation 1 holding only the second row, renumbered to 0
	require.NoError(t, backend.StageVectorGeneration(1, [][]float32{{2, 2, 2, 2}}))

	m := &storage.Manifest{
		Version: storage.FormatVersion, Dim: 4, Metric: "cosine",
		EntryPoint: 0, ItemCount: 1, ScoreMap: "one_minus", VectorGen: 1,
	}
	data, err := m.Encode()
	require.NoError(t, err)
	batch = storage.NewBatch()
	batch.Manifest = data
	require.NoError(t, backend.ApplyBatch(context.Background(), batch))
	require.NoError(t, backend.CommitVectorGeneration())

	row, err := backend.GetVector(0)
	require.NoError(t, err)
	assert.Equal(t, float32(2), row[0])
	require.NoError(t, backend.Close())

	// Reopen follows the manifest's generation
	backend, err = Open(dir, Options{})
	require.NoError(t, err)
	defer backend.Close()
	assert.Equal(t, 1, backend.VectorGeneration())

	row, err = backend.GetVector(0)
	require.NoError(t, err)
	assert.Equal(t, float32(2), row[0])
}
