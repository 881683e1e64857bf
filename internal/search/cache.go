package search

import (
	"github.com/dgraph-io/ristretto"

	"github.com/mediasift/mediasift/pkg/contenthash"
)

// embedCache memoizes query embeddings per engine. Text queries repeat
// often (pagination, refinement) and engine round-trips dominate query
// latency.
type embedCache struct {
	cache *ristretto.Cache[string, []float32]
}

func newEmbedCache(size int) (*embedCache, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: int64(size) * 10,
		MaxCost:     int64(size),
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &embedCache{cache: cache}, nil
}

func cacheKey(engine, text string) string {
	return engine + ":" + contenthash.Bytes([]byte(text))
}

func (c *embedCache) get(engine, text string) ([]float32, bool) {
	return c.cache.Get(cacheKey(engine, text))
}

func (c *embedCache) put(engine, text string, vec []float32) {
	c.cache.Set(cacheKey(engine, text), vec, 1)
}

func (c *embedCache) close() {
	c.cache.Close()
}
