package service

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/encoder"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/testutil"
)

func faceEngine(url string) config.EngineConfig {
	return config.EngineConfig{Name: encoder.EngineFace, URL: url, Dim: 4, MaxBatchSize: 8}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func TestRegisterPersonWithoutImages(t *testing.T) {
	server := newFakeClipServer(t)
	env := newIngestEnv(t, config.Config{}, clipEngine(server.URL))
	svc := NewPersonService(env.persons, env.pool, env.store, testutil.Logger())
	ctx := testutil.Ctx()

	person, faces, err := svc.Register(ctx, "Alice", []string{"Ally"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Alice", person.Name)
	assert.Zero(t, faces)

	// Registering again returns the existing person.
	again, _, err := svc.Register(ctx, "Alice", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, person.ID, again.ID)

	byAlias, err := svc.Get(ctx, "ally")
	require.NoError(t, err)
	assert.Equal(t, person.ID, byAlias.ID)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegisterEmptyNameFails(t *testing.T) {
	server := newFakeClipServer(t)
	env := newIngestEnv(t, config.Config{}, clipEngine(server.URL))
	svc := NewPersonService(env.persons, env.pool, env.store, testutil.Logger())

	_, _, err := svc.Register(testutil.Ctx(), "", nil, nil)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInput, models.KindOf(err))
}

func TestRegisterImagesRequireFaceEngine(t *testing.T) {
	server := newFakeClipServer(t)
	env := newIngestEnv(t, config.Config{}, clipEngine(server.URL))
	svc := NewPersonService(env.persons, env.pool, env.store, testutil.Logger())

	_, _, err := svc.Register(testutil.Ctx(), "Alice", nil, [][]byte{pngBytes(t)})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindModel, models.KindOf(err))
}

func TestGetUnknownPersonFails(t *testing.T) {
	server := newFakeClipServer(t)
	env := newIngestEnv(t, config.Config{}, clipEngine(server.URL))
	svc := NewPersonService(env.persons, env.pool, env.store, testutil.Logger())

	_, err := svc.Get(testutil.Ctx(), "nobody")
	require.Error(t, err)
	assert.Equal(t, models.ErrKindInput, models.KindOf(err))
}

func TestIngestTagsRegisteredPerson(t *testing.T) {
	server := newFakeClipServer(t)
	server.faces = []encoder.Face{{Embedding: []float32{0, 1, 0, 0}, Confidence: 0.9}}
	env := newIngestEnv(t, config.Config{},
		clipEngine(server.URL), faceEngine(server.URL))
	svc := NewPersonService(env.persons, env.pool, env.store, testutil.Logger())
	ctx := testutil.Ctx()

	alice, faces, err := svc.Register(ctx, "Alice", nil, [][]byte{pngBytes(t)})
	require.NoError(t, err)
	assert.Equal(t, 1, faces)

	path := writePNGFixture(t)
	task := testutil.NewTask(t, env.db, models.TaskKindIngestFile, path)
	_, err = env.svc.IngestFile(ctx, task)
	require.NoError(t, err)

	file, err := env.files.GetByPath(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, file)

	tagged, err := svc.Files(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.ULID{file.ID}, tagged)
}
