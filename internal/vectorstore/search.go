package vectorstore

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/mediasift/mediasift/internal/models"
)

// coarseMinVectors is the collection size below which brute force always
// wins over building an index.
const coarseMinVectors = 2048

// kmeansIterations bounds centroid refinement; coarse lists only need to be
// roughly balanced.
const kmeansIterations = 5

// Search returns the top-k matches for query ordered by descending cosine
// score. Matches below threshold are dropped. A filter forces an exact scan
// over the matching subset; unfiltered searches over large collections go
// through the coarse index.
func (s *Store) Search(ctx context.Context, name string, query []float32, k int, threshold float64, filter *Filter) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	coll, ok := s.collections[name]
	if !ok {
		s.mu.RUnlock()
		return nil, models.WrapKind(models.ErrKindInput,
			fmt.Errorf("%w: %s", models.ErrCollectionMissing, name))
	}
	if len(query) != coll.meta.Dim {
		s.mu.RUnlock()
		return nil, models.WrapKind(models.ErrKindInput,
			fmt.Errorf("%w: query dim %d, collection %s wants %d",
				models.ErrDimMismatch, len(query), name, coll.meta.Dim))
	}
	s.mu.RUnlock()

	query = normalize(query)

	useCoarse := filter == nil &&
		s.cfg.Nlist > 1 &&
		s.vectorCount(name) >= coarseMinVectors
	if useCoarse {
		if err := s.ensureIndex(name); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	coll = s.collections[name]

	top := &matchHeap{}
	heap.Init(top)
	push := func(record *Record) {
		score := dot(query, record.Vector)
		if score < threshold {
			return
		}
		if top.Len() < k {
			heap.Push(top, Match{ID: record.ID, Score: score, Meta: record.Meta})
			return
		}
		if score > (*top)[0].Score {
			(*top)[0] = Match{ID: record.ID, Score: score, Meta: record.Meta}
			heap.Fix(top, 0)
		}
	}

	if useCoarse && coll.index != nil {
		for _, id := range coll.index.candidates(query, s.cfg.Nprobe) {
			if record, exists := coll.vectors[id]; exists {
				push(record)
			}
		}
	} else {
		for _, record := range coll.vectors {
			if filter.Matches(record.Meta) {
				push(record)
			}
		}
	}

	matches := make([]Match, top.Len())
	for i := len(matches) - 1; i >= 0; i-- {
		matches[i] = heap.Pop(top).(Match)
	}
	return matches, nil
}

func (s *Store) vectorCount(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if coll, ok := s.collections[name]; ok {
		return len(coll.vectors)
	}
	return 0
}

// ensureIndex builds the coarse index if writes invalidated it.
func (s *Store) ensureIndex(name string) error {
	s.mu.RLock()
	coll, ok := s.collections[name]
	built := ok && coll.index != nil
	s.mu.RUnlock()
	if !ok || built {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	coll = s.collections[name]
	if coll == nil || coll.index != nil {
		return nil
	}
	coll.index = buildCoarseIndex(coll.vectors, s.cfg.Nlist, coll.meta.Dim)
	s.log.Debug("coarse index built", "collection", name,
		"vectors", len(coll.vectors), "nlist", s.cfg.Nlist)
	return nil
}

// coarseIndex is an IVF-style inverted file: vectors assigned to their
// nearest centroid, searched by probing the closest lists.
type coarseIndex struct {
	centroids [][]float32
	lists     [][]string
}

// buildCoarseIndex runs a short k-means over the collection.
func buildCoarseIndex(vectors map[string]*Record, nlist, dim int) *coarseIndex {
	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if nlist > len(ids) {
		nlist = len(ids)
	}
	if nlist < 1 {
		nlist = 1
	}

	// Deterministic seeding keeps index builds reproducible per collection
	// content.
	rng := rand.New(rand.NewSource(int64(len(ids))))
	centroids := make([][]float32, nlist)
	for i, pick := range rng.Perm(len(ids))[:nlist] {
		centroids[i] = append([]float32(nil), vectors[ids[pick]].Vector...)
	}

	assignment := make([]int, len(ids))
	for iter := 0; iter < kmeansIterations; iter++ {
		for i, id := range ids {
			assignment[i] = nearestCentroid(centroids, vectors[id].Vector)
		}

		sums := make([][]float64, nlist)
		counts := make([]int, nlist)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, id := range ids {
			c := assignment[i]
			counts[c]++
			for d, v := range vectors[id].Vector {
				sums[c][d] += float64(v)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = normalize(centroids[c])
		}
	}

	lists := make([][]string, nlist)
	for i, id := range ids {
		c := assignment[i]
		lists[c] = append(lists[c], id)
	}
	return &coarseIndex{centroids: centroids, lists: lists}
}

// candidates returns the ids in the nprobe lists nearest to the query.
func (idx *coarseIndex) candidates(query []float32, nprobe int) []string {
	if nprobe < 1 {
		nprobe = 1
	}
	if nprobe > len(idx.centroids) {
		nprobe = len(idx.centroids)
	}

	type scored struct {
		list  int
		score float64
	}
	ranked := make([]scored, len(idx.centroids))
	for i, centroid := range idx.centroids {
		ranked[i] = scored{list: i, score: dot(query, centroid)}
	}
	sort.Slice(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	var ids []string
	for _, r := range ranked[:nprobe] {
		ids = append(ids, idx.lists[r.list]...)
	}
	return ids
}

func nearestCentroid(centroids [][]float32, vec []float32) int {
	best, bestScore := 0, math.Inf(-1)
	for i, centroid := range centroids {
		if score := dot(vec, centroid); score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// matchHeap is a min-heap by score, keeping the k best seen so far.
type matchHeap []Match

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h matchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x any)        { *h = append(*h, x.(Match)) }
func (h *matchHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	*h = old[:n-1]
	return m
}

// dot is the cosine score for unit vectors.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// unitVector scales a vector to unit L2 norm. Zero and non-finite vectors
// have no unit form; storing them would make cosine scores meaningless, so
// they are rejected.
func unitVector(vec []float32) ([]float32, error) {
	var sum float64
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite vector component")
		}
		sum += f * f
	}
	if sum == 0 {
		return nil, fmt.Errorf("zero vector")
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out, nil
}

// normalize is the lenient form for query vectors and centroids, where a
// degenerate input only degrades scores instead of corrupting stored state.
func normalize(vec []float32) []float32 {
	out, err := unitVector(vec)
	if err != nil {
		return vec
	}
	return out
}
