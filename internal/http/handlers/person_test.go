package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/encoder"
	"github.com/mediasift/mediasift/internal/repository"
	"github.com/mediasift/mediasift/internal/service"
	"github.com/mediasift/mediasift/internal/testutil"
	"github.com/mediasift/mediasift/internal/vectorstore"
)

func newPersonFixture(t *testing.T) *PersonHandler {
	t.Helper()
	db := testutil.NewDB(t)

	store, err := vectorstore.New(t.TempDir(), config.VectorConfig{Dim: 4}, testutil.Logger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pool, err := encoder.NewPool(config.EncoderConfig{
		BatchLatency:  5 * time.Millisecond,
		MaxPending:    16,
		ProbeInterval: time.Hour,
	}, testutil.Logger())
	require.NoError(t, err)
	pool.Start(context.Background())
	t.Cleanup(pool.Close)

	svc := service.NewPersonService(repository.NewPersonRepository(db.DB), pool, store, testutil.Logger())
	return NewPersonHandler(svc)
}

func TestPersonHandler_RegisterAndGet(t *testing.T) {
	handler := newPersonFixture(t)
	ctx := testutil.Ctx()

	input := &RegisterPersonInput{}
	input.Body.Name = "Alice"
	input.Body.Aliases = []string{"ally"}
	resp, err := handler.RegisterPerson(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, "Alice", resp.Body.Name)
	assert.Equal(t, 0, resp.Body.FacesAdded)

	t.Run("by name", func(t *testing.T) {
		got, err := handler.Get(ctx, &GetPersonInput{Name: "Alice"})
		require.NoError(t, err)
		assert.Equal(t, resp.Body.ID, got.Body.ID)
	})

	t.Run("by alias", func(t *testing.T) {
		got, err := handler.Get(ctx, &GetPersonInput{Name: "ally"})
		require.NoError(t, err)
		assert.Equal(t, resp.Body.ID, got.Body.ID)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := handler.Get(ctx, &GetPersonInput{Name: "nobody"})
		assert.Error(t, err)
	})
}

func TestPersonHandler_RegisterImagesRequireFaceEngine(t *testing.T) {
	handler := newPersonFixture(t)

	input := &RegisterPersonInput{}
	input.Body.Name = "Bob"
	input.Body.Images = [][]byte{{0x89, 0x50}}
	_, err := handler.RegisterPerson(testutil.Ctx(), input)
	assert.Error(t, err)
}

func TestPersonHandler_List(t *testing.T) {
	handler := newPersonFixture(t)
	ctx := testutil.Ctx()

	for _, name := range []string{"Alice", "Bob"} {
		input := &RegisterPersonInput{}
		input.Body.Name = name
		_, err := handler.RegisterPerson(ctx, input)
		require.NoError(t, err)
	}

	resp, err := handler.List(ctx, &ListPersonsInput{})
	require.NoError(t, err)
	assert.Len(t, resp.Body.Persons, 2)
}

func TestPersonHandler_FilesEmpty(t *testing.T) {
	handler := newPersonFixture(t)
	ctx := testutil.Ctx()

	input := &RegisterPersonInput{}
	input.Body.Name = "Alice"
	reg, err := handler.RegisterPerson(ctx, input)
	require.NoError(t, err)

	resp, err := handler.Files(ctx, &GetPersonFilesInput{Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, reg.Body.ID, resp.Body.PersonID)
	assert.Empty(t, resp.Body.FileIDs)
	assert.NotNil(t, resp.Body.FileIDs)
}
