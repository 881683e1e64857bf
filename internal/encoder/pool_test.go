package encoder

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeEngine serves /embed, /transcribe, /faces and /health with canned
// behavior.
type fakeEngine struct {
	dim        int
	failBatch  atomic.Bool // fail requests with more than one input
	failAll    atomic.Bool
	zeroVecs   atomic.Bool // return all-zero embeddings
	embedCalls atomic.Int64
}

func (f *fakeEngine) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/embed", func(w http.ResponseWriter, r *http.Request) {
		f.embedCalls.Add(1)
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if f.failAll.Load() || (f.failBatch.Load() && len(req.Inputs) > 1) {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		resp := embedResponse{Embeddings: make([][]float32, len(req.Inputs))}
		for i := range req.Inputs {
			vec := make([]float32, f.dim)
			if !f.zeroVecs.Load() {
				vec[0] = float32(i + 1)
			}
			resp.Embeddings[i] = vec
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(transcribeResponse{Text: " hello there "})
	})
	mux.HandleFunc("/faces", func(w http.ResponseWriter, r *http.Request) {
		vec := make([]float32, f.dim)
		vec[0] = 2
		json.NewEncoder(w).Encode(facesResponse{Faces: []Face{
			{Embedding: vec, Confidence: 0.9},
		}})
	})
	return mux
}

func newTestPool(t *testing.T, server *httptest.Server, names ...string) *Pool {
	t.Helper()
	cfg := config.EncoderConfig{
		BatchLatency:  10 * time.Millisecond,
		MaxPending:    16,
		ProbeInterval: time.Hour,
	}
	for _, name := range names {
		cfg.Engines = append(cfg.Engines, config.EngineConfig{
			Name: name, URL: server.URL, Dim: 4, MaxBatchSize: 8,
		})
	}
	pool, err := NewPool(cfg, testLogger())
	require.NoError(t, err)
	pool.Start(context.Background())
	t.Cleanup(pool.Close)
	return pool
}

func TestPoolEmbedNormalized(t *testing.T) {
	engine := &fakeEngine{dim: 4}
	server := httptest.NewServer(engine.handler())
	defer server.Close()

	pool := newTestPool(t, server, EngineCLIP)
	vec, err := pool.Embed(context.Background(), EngineCLIP, TextInput("a dog"))
	require.NoError(t, err)
	require.Len(t, vec, 4)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-6)
}

func TestPoolUnknownEngine(t *testing.T) {
	engine := &fakeEngine{dim: 4}
	server := httptest.NewServer(engine.handler())
	defer server.Close()

	pool := newTestPool(t, server, EngineCLIP)
	_, err := pool.Embed(context.Background(), "nope", TextInput("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrModelUnavailable)
}

func TestPoolBatchFailureRetriesSingly(t *testing.T) {
	engine := &fakeEngine{dim: 4}
	engine.failBatch.Store(true)
	server := httptest.NewServer(engine.handler())
	defer server.Close()

	pool := newTestPool(t, server, EngineCLIP)
	vecs, err := pool.EmbedBatch(context.Background(), EngineCLIP, []Input{
		TextInput("one"), TextInput("two"), TextInput("three"),
	})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
}

func TestPoolAllFailuresSurfaceBatchFailed(t *testing.T) {
	engine := &fakeEngine{dim: 4}
	engine.failAll.Store(true)
	server := httptest.NewServer(engine.handler())
	defer server.Close()

	pool := newTestPool(t, server, EngineCLIP)
	_, err := pool.Embed(context.Background(), EngineCLIP, TextInput("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBatchFailed)
	assert.True(t, models.Retryable(err))
}

func TestPoolTranscribe(t *testing.T) {
	engine := &fakeEngine{dim: 4}
	server := httptest.NewServer(engine.handler())
	defer server.Close()

	pool := newTestPool(t, server, EngineWhisper)
	text, err := pool.Transcribe(context.Background(), []byte{0, 0, 1, 1}, 16000)
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
}

func TestPoolDetectFacesNormalized(t *testing.T) {
	engine := &fakeEngine{dim: 4}
	server := httptest.NewServer(engine.handler())
	defer server.Close()

	pool := newTestPool(t, server, EngineFace)
	faces, err := pool.DetectFaces(context.Background(), []byte{0xFF, 0xD8})
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.InDelta(t, 1.0, float64(faces[0].Embedding[0]), 1e-6)
}

func TestClientShapeMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 2}}})
	}))
	defer server.Close()

	client, err := NewClient(config.EngineConfig{Name: EngineCLIP, URL: server.URL, Dim: 4}, "cpu")
	require.NoError(t, err)
	_, err = client.Embed(context.Background(), []Input{TextInput("x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}

func TestNormalize(t *testing.T) {
	vec, err := Normalize([]float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, float64(vec[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(vec[1]), 1e-6)

	_, err = Normalize([]float32{0, 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
	assert.Equal(t, models.ErrKindModel, models.KindOf(err))

	_, err = Normalize([]float32{float32(math.NaN()), 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)

	_, err = Normalize([]float32{float32(math.Inf(1)), 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}

func TestPoolRejectsZeroEmbedding(t *testing.T) {
	engine := &fakeEngine{dim: 4}
	engine.zeroVecs.Store(true)
	server := httptest.NewServer(engine.handler())
	defer server.Close()

	pool := newTestPool(t, server, EngineCLIP)
	_, err := pool.Embed(context.Background(), EngineCLIP, TextInput("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
	assert.Equal(t, models.ErrKindModel, models.KindOf(err))
}
