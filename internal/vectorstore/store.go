// Package vectorstore is an embedded vector database: collections of
// unit-normalized embeddings persisted in Badger with an in-memory cosine
// index on top. Search supports metadata filtering and an IVF-style coarse
// index for large unfiltered collections.
package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/observability"
)

// Key layout: "c:<collection>" holds collection metadata, and
// "v:<collection>:<vector id>" holds one encoded record.
const (
	collectionPrefix = "c:"
	vectorPrefix     = "v:"
)

// Meta is the filterable metadata stored with each vector.
type Meta struct {
	FileID   string `json:"file_id"`
	Modality string `json:"modality"`
	StartMs  int64  `json:"start_ms"`
	EndMs    int64  `json:"end_ms"`
}

// Record is one vector with its id and metadata.
type Record struct {
	ID     string
	Vector []float32
	Meta   Meta
}

// Match is one search hit.
type Match struct {
	ID    string
	Score float64
	Meta  Meta
}

// Filter restricts a search or delete. All set fields must match
// (conjunction). Nil slices and nil bounds match everything.
type Filter struct {
	FileIDs    []string
	Modality   string
	StartMsMin *int64
	StartMsMax *int64
}

// Matches reports whether m passes the filter.
func (f *Filter) Matches(m Meta) bool {
	if f == nil {
		return true
	}
	if f.Modality != "" && f.Modality != m.Modality {
		return false
	}
	if f.StartMsMin != nil && m.StartMs < *f.StartMsMin {
		return false
	}
	if f.StartMsMax != nil && m.StartMs > *f.StartMsMax {
		return false
	}
	if len(f.FileIDs) > 0 {
		found := false
		for _, id := range f.FileIDs {
			if id == m.FileID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type collectionMeta struct {
	Name   string `json:"name"`
	Dim    int    `json:"dim"`
	Metric string `json:"metric"`
}

// collection holds one collection's vectors in memory plus its coarse index.
type collection struct {
	meta    collectionMeta
	vectors map[string]*Record
	index   *coarseIndex
}

// Store is the embedded vector database.
type Store struct {
	db  *badger.DB
	cfg config.VectorConfig
	log *slog.Logger

	mu          sync.RWMutex
	collections map[string]*collection

	dirty atomic.Int64
}

// New opens (or creates) the store at dir and loads all collections into
// memory.
func New(dir string, cfg config.VectorConfig, log *slog.Logger) (*Store, error) {
	log = observability.WithComponent(log, "vectorstore")

	opts := badger.DefaultOptions(dir).
		WithLogger(newBadgerLogger(log)).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, models.WrapKind(models.ErrKindStorage,
			fmt.Errorf("opening vector store at %s: %w", dir, err))
	}

	store := &Store{
		db:          db,
		cfg:         cfg,
		log:         log,
		collections: make(map[string]*collection),
	}
	if err := store.load(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// load reads all collections and vectors into the in-memory index.
func (s *Store) load() error {
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek([]byte(collectionPrefix)); it.ValidForPrefix([]byte(collectionPrefix)); it.Next() {
			var meta collectionMeta
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return err
			}
			s.collections[meta.Name] = &collection{
				meta:    meta,
				vectors: make(map[string]*Record),
			}
		}

		for it.Seek([]byte(vectorPrefix)); it.ValidForPrefix([]byte(vectorPrefix)); it.Next() {
			key := string(it.Item().Key())
			name, id, ok := splitVectorKey(key)
			if !ok {
				continue
			}
			coll, exists := s.collections[name]
			if !exists {
				continue
			}
			var record *Record
			if err := it.Item().Value(func(val []byte) error {
				var decodeErr error
				record, decodeErr = decodeRecord(id, val)
				return decodeErr
			}); err != nil {
				return err
			}
			coll.vectors[id] = record
		}
		return nil
	})
	if err != nil {
		return models.WrapKind(models.ErrKindStorage,
			fmt.Errorf("loading vector store: %w", err))
	}

	total := 0
	for _, coll := range s.collections {
		total += len(coll.vectors)
	}
	s.log.Info("vector store loaded", "collections", len(s.collections), "vectors", total)
	return nil
}

// CreateCollection creates a cosine collection. Creating an existing
// collection with the same dim is a no-op; a different dim is an error.
func (s *Store) CreateCollection(name string, dim int) error {
	if name == "" || dim <= 0 {
		return models.WrapKind(models.ErrKindInput,
			fmt.Errorf("invalid collection name %q or dim %d", name, dim))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.collections[name]; ok {
		if existing.meta.Dim != dim {
			return models.WrapKind(models.ErrKindInput,
				fmt.Errorf("%w: collection %s has dim %d, requested %d",
					models.ErrDimMismatch, name, existing.meta.Dim, dim))
		}
		return nil
	}

	meta := collectionMeta{Name: name, Dim: dim, Metric: "cosine"}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(collectionPrefix+name), encoded)
	})
	if err != nil {
		return models.WrapKind(models.ErrKindStorage,
			fmt.Errorf("creating collection %s: %w", name, err))
	}

	s.collections[name] = &collection{
		meta:    meta,
		vectors: make(map[string]*Record),
	}
	return nil
}

// Collections returns vector counts per collection.
func (s *Store) Collections() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(s.collections))
	for name, coll := range s.collections {
		counts[name] = len(coll.vectors)
	}
	return counts
}

// Upsert writes records, replacing any existing vector with the same id.
// Vectors are normalized to unit length on the way in; zero and non-finite
// vectors are rejected.
func (s *Store) Upsert(ctx context.Context, name string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[name]
	if !ok {
		return models.WrapKind(models.ErrKindInput,
			fmt.Errorf("%w: %s", models.ErrCollectionMissing, name))
	}

	for i := range records {
		if len(records[i].Vector) != coll.meta.Dim {
			return models.WrapKind(models.ErrKindInput,
				fmt.Errorf("%w: record %s has dim %d, collection %s wants %d",
					models.ErrDimMismatch, records[i].ID, len(records[i].Vector), name, coll.meta.Dim))
		}
		normalized, err := unitVector(records[i].Vector)
		if err != nil {
			return models.WrapKind(models.ErrKindInput,
				fmt.Errorf("record %s: %w", records[i].ID, err))
		}
		records[i].Vector = normalized
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i := range records {
		key := []byte(vectorPrefix + name + ":" + records[i].ID)
		if err := wb.Set(key, encodeRecord(&records[i])); err != nil {
			return models.WrapKind(models.ErrKindStorage,
				fmt.Errorf("upserting into %s: %w", name, err))
		}
	}
	if err := wb.Flush(); err != nil {
		return models.WrapKind(models.ErrKindStorage,
			fmt.Errorf("upserting into %s: %w", name, err))
	}

	for i := range records {
		record := records[i]
		coll.vectors[record.ID] = &record
	}
	coll.index = nil // stale after writes
	s.noteDirty(int64(len(records)))
	return nil
}

// Delete removes vectors by id. Missing ids are ignored. Returns how many
// vectors were removed.
func (s *Store) Delete(ctx context.Context, name string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[name]
	if !ok {
		return 0, models.WrapKind(models.ErrKindInput,
			fmt.Errorf("%w: %s", models.ErrCollectionMissing, name))
	}

	removed := 0
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range ids {
		if _, exists := coll.vectors[id]; !exists {
			continue
		}
		if err := wb.Delete([]byte(vectorPrefix + name + ":" + id)); err != nil {
			return 0, models.WrapKind(models.ErrKindStorage,
				fmt.Errorf("deleting from %s: %w", name, err))
		}
		removed++
	}
	if err := wb.Flush(); err != nil {
		return 0, models.WrapKind(models.ErrKindStorage,
			fmt.Errorf("deleting from %s: %w", name, err))
	}

	for _, id := range ids {
		delete(coll.vectors, id)
	}
	if removed > 0 {
		coll.index = nil
		s.noteDirty(int64(removed))
	}
	return removed, nil
}

// DeleteByFilter removes every vector matching the filter.
func (s *Store) DeleteByFilter(ctx context.Context, name string, filter *Filter) (int, error) {
	s.mu.RLock()
	coll, ok := s.collections[name]
	if !ok {
		s.mu.RUnlock()
		return 0, models.WrapKind(models.ErrKindInput,
			fmt.Errorf("%w: %s", models.ErrCollectionMissing, name))
	}
	var ids []string
	for id, record := range coll.vectors {
		if filter.Matches(record.Meta) {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	return s.Delete(ctx, name, ids)
}

// noteDirty bumps the write counter and compacts past the threshold.
func (s *Store) noteDirty(n int64) {
	threshold := int64(s.cfg.CompactThreshold)
	if threshold <= 0 {
		return
	}
	if s.dirty.Add(n) < threshold {
		return
	}
	s.dirty.Store(0)
	go s.compact()
}

// compact reclaims value-log space after heavy write churn.
func (s *Store) compact() {
	if err := s.db.RunValueLogGC(0.5); err != nil &&
		err != badger.ErrNoRewrite && err != badger.ErrRejected {
		s.log.Warn("value log gc failed", "error", err)
		return
	}
	s.log.Debug("vector store compacted")
}

// encodeRecord packs a record as little-endian float32s followed by JSON
// metadata.
func encodeRecord(r *Record) []byte {
	metaJSON, _ := json.Marshal(r.Meta)
	buf := make([]byte, 4+len(r.Vector)*4+len(metaJSON))
	binary.LittleEndian.PutUint32(buf, uint32(len(r.Vector)))
	for i, v := range r.Vector {
		binary.LittleEndian.PutUint32(buf[4+i*4:], math.Float32bits(v))
	}
	copy(buf[4+len(r.Vector)*4:], metaJSON)
	return buf
}

func decodeRecord(id string, raw []byte) (*Record, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("corrupt vector record %s", id)
	}
	n := int(binary.LittleEndian.Uint32(raw))
	if len(raw) < 4+n*4 {
		return nil, fmt.Errorf("corrupt vector record %s", id)
	}
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4+i*4:]))
	}
	var meta Meta
	if err := json.Unmarshal(raw[4+n*4:], &meta); err != nil {
		return nil, fmt.Errorf("corrupt vector record %s: %w", id, err)
	}
	return &Record{ID: id, Vector: vec, Meta: meta}, nil
}

func splitVectorKey(key string) (collection, id string, ok bool) {
	rest, found := strings.CutPrefix(key, vectorPrefix)
	if !found {
		return "", "", false
	}
	collection, id, found = strings.Cut(rest, ":")
	return collection, id, found
}

// badgerLogger bridges Badger's logger onto slog.
type badgerLogger struct {
	log *slog.Logger
}

func newBadgerLogger(log *slog.Logger) *badgerLogger {
	return &badgerLogger{log: log}
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
