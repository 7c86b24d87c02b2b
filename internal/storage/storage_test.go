package storage

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")

	vf, err := OpenVectorFile(path, 4)
	require.NoError(t, err)

	require.NoError(t, vf.Put(0, []float32{1, 2, 3, 4}))
	require.NoError(t, vf.Put(5, []float32{5, 6, 7, 8}))

	row, err := vf.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, []float32{row[0], row[1], row[2], row[3]})

	row, err = vf.Get(5)
	require.NoError(t, err)
	assert.Equal(t, float32(5), row[0])

	require.NoError(t, vf.Sync())
	require.NoError(t, vf.Close())

	// Reopen and read back
	vf, err = OpenVectorFile(path, 4)
	require.NoError(t, err)
	defer vf.Close()

	row, err = vf.Get(5)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6, 7, 8}, []float32{row[0], row[1], row[2], row[3]})
}

func TestVectorFileGrowsAcrossChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")

	vf, err := OpenVectorFile(path, 256)
	require.NoError(t, err)
	defer vf.Close()

	// Row far beyond the initial chunk forces page-aligned growth
	row := make([]float32, 256)
	row[0] = 9
	require.NoError(t, vf.Put(5000, row))

	got, err := vf.Get(5000)
	require.NoError(t, err)
	assert.Equal(t, float32(9), got[0])
}

func TestVectorFileRejectsWrongStride(t *testing.T) {
	vf, err := OpenVectorFile(filepath.Join(t.TempDir(), "vectors.bin"), 4)
	require.NoError(t, err)
	defer vf.Close()

	assert.Error(t, vf.Put(0, []float32{1, 2}))
}

func TestDirLockExcludesSecondOpener(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireDirLock(dir)
	require.NoError(t, err)

	_, err = AcquireDirLock(dir)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Release())

	second, err := AcquireDirLock(dir)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestFormatVersionRoundTrip(t *testing.T) {
	dir := t.TempDir()

	exists, err := CheckFormatVersion(dir)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, WriteFormatVersion(dir))

	exists, err = CheckFormatVersion(dir)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestManifestRoundTrip(t *testing.T) {
	manifest := &Manifest{
		Version:        FormatVersion,
		Dim:            128,
		Metric:         "cosine",
		Normalized:     true,
		M:              16,
		MMax0:          32,
		EfConstruction: 200,
		EfSearch:       200,
		MaxLevel:       16,
		ML:             0.36,
		EntryPoint:     7,
		ItemCount:      3,
		ScoreMap:       "one_minus",
		NextNodeID:     9,
		Metadata:       MetadataConfigRecord{Indexed: []string{"lang"}, Stored: true, MaxSizeBytes: 1024, Dynamic: true},
	}

	data, err := manifest.Encode()
	require.NoError(t, err)

	decoded, err := DecodeManifest(data)
	require.NoError(t, err)
	assert.Equal(t, manifest, decoded)
}

func TestManifestRejectsWrongVersion(t *testing.T) {
	manifest := &Manifest{Version: 1}
	data, err := manifest.Encode()
	require.NoError(t, err)

	_, err = DecodeManifest(data)
	assert.ErrorIs(t, err, ErrSchemaVersionMismatch)

	_, err = DecodeManifest([]byte("{"))
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestItemRecordRoundTrip(t *testing.T) {
	record := &ItemRecord{
		ID:        uuid.New(),
		NodeID:    4,
		Metadata:  map[string]any{"lang": "go", "stars": float64(3)},
		CreatedAt: 100,
		UpdatedAt: 200,
		Version:   2,
	}

	data, err := record.Encode()
	require.NoError(t, err)
	decoded, err := DecodeItemRecord(data)
	require.NoError(t, err)
	assert.Equal(t, record, decoded)
}

func TestFreeListRoundTrip(t *testing.T) {
	data, err := EncodeFreeList([]uint32{3, 1, 4})
	require.NoError(t, err)
	ids, err := DecodeFreeList(data)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 1, 4}, ids)

	empty, err := EncodeFreeList(nil)
	require.NoError(t, err)
	ids, err = DecodeFreeList(empty)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
