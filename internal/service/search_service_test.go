package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/search"
	"github.com/mediasift/mediasift/internal/testutil"
	"github.com/mediasift/mediasift/internal/vectorstore"
)

func newSearchService(t *testing.T, env *ingestEnv) *SearchService {
	t.Helper()
	cfg := config.SearchConfig{
		TopK:                  50,
		Threshold:             0.2,
		PersonMinCoverage:     1,
		AudioKeywords:         []string{"song", "music"},
		VisualKeywords:        []string{"photo", "picture"},
		SyncToleranceVisualMs: 33,
		SyncToleranceMusicMs:  100,
		SyncToleranceSpeechMs: 200,
		CacheSize:             64,
	}
	router := search.NewRouter(cfg, env.persons, testutil.Logger())
	ranker, err := search.NewRanker(cfg, 2000, env.store, env.pool, env.files, testutil.Logger())
	require.NoError(t, err)
	t.Cleanup(ranker.Close)
	return NewSearchService(router, ranker, testutil.Logger())
}

func TestTextSearchReturnsEnvelope(t *testing.T) {
	server := newFakeClipServer(t)
	env := newIngestEnv(t, config.Config{}, clipEngine(server.URL))
	svc := newSearchService(t, env)
	ctx := testutil.Ctx()

	file := testutil.NewFile(t, env.db, "/media/dog.jpg", models.FileTypeImage)
	require.NoError(t, env.store.CreateCollection(string(models.ModalityImage), 4))
	require.NoError(t, env.store.Upsert(ctx, string(models.ModalityImage), []vectorstore.Record{
		{ID: "a", Vector: []float32{1, 0, 0, 0},
			Meta: vectorstore.Meta{FileID: file.ID.String(), Modality: "image"}},
	}))

	resp, err := svc.Text(ctx, "a dog by a lake", "", 10, nil)
	require.NoError(t, err)
	assert.Equal(t, "a dog by a lake", resp.Query)
	assert.GreaterOrEqual(t, resp.TookMs, int64(0))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, file.ID.String(), resp.Results[0].FileID)
	assert.Equal(t, "/media/dog.jpg", resp.Results[0].Path)
}

func TestTextSearchEmptyIndexReturnsEmptySlice(t *testing.T) {
	server := newFakeClipServer(t)
	env := newIngestEnv(t, config.Config{}, clipEngine(server.URL))
	svc := newSearchService(t, env)

	resp, err := svc.Text(testutil.Ctx(), "anything at all", "", 10, nil)
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestEmptyQueryIsRejected(t *testing.T) {
	server := newFakeClipServer(t)
	env := newIngestEnv(t, config.Config{}, clipEngine(server.URL))
	svc := newSearchService(t, env)

	_, err := svc.Text(testutil.Ctx(), "", "", 10, nil)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInput, models.KindOf(err))
}

func TestImageSearchQueriesVisualSpace(t *testing.T) {
	server := newFakeClipServer(t)
	env := newIngestEnv(t, config.Config{}, clipEngine(server.URL))
	svc := newSearchService(t, env)
	ctx := testutil.Ctx()

	file := testutil.NewFile(t, env.db, "/media/sunset.jpg", models.FileTypeImage)
	require.NoError(t, env.store.CreateCollection(string(models.ModalityImage), 4))
	require.NoError(t, env.store.Upsert(ctx, string(models.ModalityImage), []vectorstore.Record{
		{ID: "a", Vector: []float32{1, 0, 0, 0},
			Meta: vectorstore.Meta{FileID: file.ID.String(), Modality: "image"}},
	}))

	resp, err := svc.Image(ctx, pngBytes(t), 10)
	require.NoError(t, err)
	assert.Empty(t, resp.Query)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, file.ID.String(), resp.Results[0].FileID)
}
