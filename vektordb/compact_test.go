package vektordb

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactReclaimsTombstones(t *testing.T) {
	idx, dir := newTestIndex(t)
	ctx := context.Background()

	inserted := seedCorpus(t, idx, 50, 4, 20, func(i int) map[string]any {
		return map[string]any{"n": i}
	})
	for i := 0; i < 20; i++ {
		require.NoError(t, idx.Delete(ctx, inserted[i].ID))
	}
	require.Equal(t, 30, idx.Stats().ItemCount)
	require.Equal(t, 20, idx.Stats().TombstoneCount)

	require.NoError(t, idx.Compact(ctx))

	assert.Equal(t, 30, idx.Stats().ItemCount)
	assert.Equal(t, 0, idx.Stats().TombstoneCount)

	// Node ids are dense again
	assert.Equal(t, uint32(30), idx.nextNodeID)
	assert.Empty(t, idx.freeList)

	// Every surviving item is still retrievable and searchable
	for _, item := range inserted[20:] {
		got, err := idx.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, item.ID, got.ID)

		results, err := idx.Search(ctx, got.Vector, 1)
		require.NoError(t, err)
		require.NotEmpty(t, results.Results)
		assert.Equal(t, item.ID, results.Results[0].Item.ID)
	}
	for _, item := range inserted[:20] {
		_, err := idx.Get(ctx, item.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	}

	// The compacted state survives a reopen
	require.NoError(t, idx.Close())
	reopened, err := Open(dir, WithSyncWrites(false))
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 30, reopened.Stats().ItemCount)
	assert.Equal(t, 0, reopened.Stats().TombstoneCount)

	results, err := reopened.Search(ctx, inserted[30].Vector, 1)
	require.NoError(t, err)
	require.NotEmpty(t, results.Results)
	assert.Equal(t, inserted[30].ID, results.Results[0].Item.ID)
}

func TestCompactInsideTransactionFails(t *testing.T) {
	idx, _ := newTestIndex(t)
	require.NoError(t, idx.BeginUpdate())
	assert.ErrorIs(t, idx.Compact(context.Background()), ErrInvalidState)
	require.NoError(t, idx.CancelUpdate())
}

func TestCompactEmptyIndex(t *testing.T) {
	idx, _ := newTestIndex(t)
	require.NoError(t, idx.Compact(context.Background()))
	assert.Equal(t, 0, idx.Stats().ItemCount)
}

func TestAutoCompactAfterThreshold(t *testing.T) {
	idx, _ := newTestIndex(t, WithCompactionThreshold(0.3))
	ctx := context.Background()

	inserted := seedCorpus(t, idx, 20, 4, 21, nil)
	for i := 0; i < 10; i++ {
		require.NoError(t, idx.Delete(ctx, inserted[i].ID))
	}

	// The threshold crossing compacted on commit: only deletes issued after
	// the rebuild remain as tombstones
	assert.Equal(t, 10, idx.Stats().ItemCount)
	assert.Less(t, idx.Stats().TombstoneCount, 10)
}

func TestMaxElementsBound(t *testing.T) {
	idx, _ := newTestIndex(t, WithMaxElements(2))
	ctx := context.Background()

	_, err := idx.Insert(ctx, uuid.Nil, []float32{1, 0, 0, 0}, nil)
	require.NoError(t, err)
	_, err = idx.Insert(ctx, uuid.Nil, []float32{0, 1, 0, 0}, nil)
	require.NoError(t, err)

	_, err = idx.Insert(ctx, uuid.Nil, []float32{0, 0, 1, 0}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFixedSchemaRejectsUnknownFields(t *testing.T) {
	idx, _ := newTestIndex(t, WithMetadataConfig(MetadataConfig{
		Indexed: []string{"lang", "meta.stars"}, Stored: true, MaxSizeBytes: 1 << 20, Dynamic: false,
	}))
	ctx := context.Background()

	_, err := idx.Insert(ctx, uuid.Nil, []float32{1, 0, 0, 0},
		map[string]any{"lang": "go", "meta": map[string]any{"stars": 3}})
	require.NoError(t, err)

	_, err = idx.Insert(ctx, uuid.Nil, []float32{0, 1, 0, 0},
		map[string]any{"surprise": true})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
