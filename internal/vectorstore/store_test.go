package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/models"
)

func newTestStore(t *testing.T, cfg config.VectorConfig) *Store {
	t.Helper()
	store, err := New(t.TempDir(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func unitVec(dim, hot int) []float32 {
	vec := make([]float32, dim)
	vec[hot] = 1
	return vec
}

func TestCreateCollectionIdempotent(t *testing.T) {
	store := newTestStore(t, config.VectorConfig{Dim: 4})
	require.NoError(t, store.CreateCollection("image", 4))
	require.NoError(t, store.CreateCollection("image", 4))

	err := store.CreateCollection("image", 8)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDimMismatch)
}

func TestUpsertAndSearch(t *testing.T) {
	store := newTestStore(t, config.VectorConfig{Dim: 4})
	require.NoError(t, store.CreateCollection("image", 4))

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "image", []Record{
		{ID: "a", Vector: []float32{1, 0, 0, 0}, Meta: Meta{FileID: "f1", Modality: "image"}},
		{ID: "b", Vector: []float32{0, 1, 0, 0}, Meta: Meta{FileID: "f2", Modality: "image"}},
		{ID: "c", Vector: []float32{0.9, 0.1, 0, 0}, Meta: Meta{FileID: "f3", Modality: "image"}},
	}))

	matches, err := store.Search(ctx, "image", []float32{1, 0, 0, 0}, 2, 0.1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "c", matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestUpsertReplacesByID(t *testing.T) {
	store := newTestStore(t, config.VectorConfig{Dim: 4})
	require.NoError(t, store.CreateCollection("image", 4))

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "image", []Record{
		{ID: "a", Vector: unitVec(4, 0), Meta: Meta{FileID: "f1"}},
	}))
	require.NoError(t, store.Upsert(ctx, "image", []Record{
		{ID: "a", Vector: unitVec(4, 1), Meta: Meta{FileID: "f1"}},
	}))

	assert.Equal(t, map[string]int{"image": 1}, store.Collections())

	matches, err := store.Search(ctx, "image", unitVec(4, 1), 1, 0.5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)
}

func TestUpsertRejectsDegenerateVectors(t *testing.T) {
	store := newTestStore(t, config.VectorConfig{Dim: 2})
	require.NoError(t, store.CreateCollection("image", 2))
	ctx := context.Background()

	err := store.Upsert(ctx, "image", []Record{
		{ID: "z", Vector: []float32{0, 0}, Meta: Meta{FileID: "f1"}},
	})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInput, models.KindOf(err))

	err = store.Upsert(ctx, "image", []Record{
		{ID: "n", Vector: []float32{float32(math.NaN()), 1}, Meta: Meta{FileID: "f1"}},
	})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInput, models.KindOf(err))

	assert.Equal(t, map[string]int{"image": 0}, store.Collections())
}

func TestUpsertNormalizesToUnitLength(t *testing.T) {
	store := newTestStore(t, config.VectorConfig{Dim: 2})
	require.NoError(t, store.CreateCollection("image", 2))
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "image", []Record{
		{ID: "a", Vector: []float32{3, 4}, Meta: Meta{FileID: "f1"}},
	}))

	// A query along the same direction scores 1 only if the stored vector
	// was scaled to unit norm.
	matches, err := store.Search(ctx, "image", []float32{3, 4}, 1, 0, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)
}

func TestSearchThresholdAndFilter(t *testing.T) {
	store := newTestStore(t, config.VectorConfig{Dim: 4})
	require.NoError(t, store.CreateCollection("av", 4))

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "av", []Record{
		{ID: "v1", Vector: []float32{1, 0, 0, 0}, Meta: Meta{FileID: "f1", Modality: "visual_frame", StartMs: 0}},
		{ID: "v2", Vector: []float32{0.8, 0.6, 0, 0}, Meta: Meta{FileID: "f1", Modality: "visual_frame", StartMs: 5000}},
		{ID: "m1", Vector: []float32{1, 0, 0, 0}, Meta: Meta{FileID: "f2", Modality: "audio_music", StartMs: 0}},
	}))

	// Modality + file filter is a conjunction.
	matches, err := store.Search(ctx, "av", []float32{1, 0, 0, 0}, 10, 0,
		&Filter{FileIDs: []string{"f1"}, Modality: "visual_frame"})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// Threshold drops the weaker hit.
	matches, err = store.Search(ctx, "av", []float32{1, 0, 0, 0}, 10, 0.9,
		&Filter{Modality: "visual_frame"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "v1", matches[0].ID)

	// Time range bound.
	minMs := int64(1000)
	matches, err = store.Search(ctx, "av", []float32{1, 0, 0, 0}, 10, 0,
		&Filter{StartMsMin: &minMs})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "v2", matches[0].ID)
}

func TestSearchMissingCollection(t *testing.T) {
	store := newTestStore(t, config.VectorConfig{Dim: 4})
	_, err := store.Search(context.Background(), "nope", unitVec(4, 0), 5, 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCollectionMissing)
}

func TestSearchDimMismatch(t *testing.T) {
	store := newTestStore(t, config.VectorConfig{Dim: 4})
	require.NoError(t, store.CreateCollection("image", 4))
	_, err := store.Search(context.Background(), "image", []float32{1, 0}, 5, 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDimMismatch)
}

func TestDeleteByIDAndFilter(t *testing.T) {
	store := newTestStore(t, config.VectorConfig{Dim: 4})
	require.NoError(t, store.CreateCollection("image", 4))

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "image", []Record{
		{ID: "a", Vector: unitVec(4, 0), Meta: Meta{FileID: "f1"}},
		{ID: "b", Vector: unitVec(4, 1), Meta: Meta{FileID: "f1"}},
		{ID: "c", Vector: unitVec(4, 2), Meta: Meta{FileID: "f2"}},
	}))

	removed, err := store.Delete(ctx, "image", []string{"a", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = store.DeleteByFilter(ctx, "image", &Filter{FileIDs: []string{"f1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, map[string]int{"image": 1}, store.Collections())
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := config.VectorConfig{Dim: 4}
	log := slog.New(slog.DiscardHandler)

	store, err := New(dir, cfg, log)
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection("image", 4))
	require.NoError(t, store.Upsert(context.Background(), "image", []Record{
		{ID: "a", Vector: []float32{0, 0, 1, 0}, Meta: Meta{FileID: "f1", Modality: "image", StartMs: 7}},
	}))
	require.NoError(t, store.Close())

	reopened, err := New(dir, cfg, log)
	require.NoError(t, err)
	defer reopened.Close()

	matches, err := reopened.Search(context.Background(), "image", []float32{0, 0, 1, 0}, 1, 0.5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, int64(7), matches[0].Meta.StartMs)
}

func TestCoarseIndexAgreesWithBruteForce(t *testing.T) {
	store := newTestStore(t, config.VectorConfig{Dim: 8, Nlist: 8, Nprobe: 8})
	require.NoError(t, store.CreateCollection("big", 8))

	ctx := context.Background()
	var records []Record
	for i := 0; i < coarseMinVectors+100; i++ {
		vec := make([]float32, 8)
		vec[i%8] = 1
		vec[(i+1)%8] = float32(i%13) / 13
		records = append(records, Record{
			ID:     fmt.Sprintf("r%05d", i),
			Vector: vec,
			Meta:   Meta{FileID: fmt.Sprintf("f%d", i%50)},
		})
	}
	require.NoError(t, store.Upsert(ctx, "big", records))

	query := []float32{1, 0.3, 0, 0, 0, 0, 0, 0}

	// Unfiltered search goes through the coarse index with all lists
	// probed, so results must match an exact scan.
	coarse, err := store.Search(ctx, "big", query, 10, 0, nil)
	require.NoError(t, err)
	exact, err := store.Search(ctx, "big", query, 10, 0, &Filter{})
	require.NoError(t, err)

	require.Len(t, coarse, 10)
	for i := range coarse {
		assert.InDelta(t, exact[i].Score, coarse[i].Score, 1e-6)
	}
}
