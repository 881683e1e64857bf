package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/encoder"
	"github.com/mediasift/mediasift/internal/ffmpeg"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/observability"
	"github.com/mediasift/mediasift/internal/repository"
	"github.com/mediasift/mediasift/internal/vectorstore"
)

// Result is one ranked file in a search response.
type Result struct {
	FileID         string             `json:"file_id"`
	Path           string             `json:"path"`
	Score          float64            `json:"score"`
	BestTimestamp  *Window            `json:"best_timestamp,omitempty"`
	Clusters       []Cluster          `json:"clusters,omitempty"`
	ModalityScores map[string]float64 `json:"modality_scores"`
}

// Ranker executes a plan: embed the query, search each weighted modality
// collection, fuse per-file, localize in time, and rank.
type Ranker struct {
	cfg        config.SearchConfig
	accuracyMs int64
	store      *vectorstore.Store
	pool       *encoder.Pool
	files      repository.FileRepository
	cache      *embedCache
	log        *slog.Logger
}

// NewRanker creates a fusion ranker. accuracyMs bounds every returned
// timestamp window and the cluster merge gap.
func NewRanker(cfg config.SearchConfig, accuracyMs int64, store *vectorstore.Store, pool *encoder.Pool, files repository.FileRepository, log *slog.Logger) (*Ranker, error) {
	cache, err := newEmbedCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	if accuracyMs <= 0 {
		accuracyMs = 2000
	}
	return &Ranker{
		cfg:        cfg,
		accuracyMs: accuracyMs,
		store:      store,
		pool:       pool,
		files:      files,
		cache:      cache,
		log:        observability.WithComponent(log, "search"),
	}, nil
}

// Close releases the query embedding cache.
func (r *Ranker) Close() {
	r.cache.close()
}

// clipSpace reports whether a modality's vectors live in the clip
// image/text space. Speech is transcribed at ingest and embedded as text,
// so it shares the space; music has its own (clap).
func clipSpace(m models.Modality) bool {
	return m != models.ModalityAudioMusic
}

// Search runs the plan. Warnings name modalities that were skipped because
// their engine was unavailable; results still cover the rest.
func (r *Ranker) Search(ctx context.Context, plan *Plan) ([]Result, []string, error) {
	clipVec, clapVec, warnings, err := r.embedQuery(ctx, plan)
	if err != nil {
		return nil, nil, err
	}
	if clipVec == nil && clapVec == nil {
		return nil, warnings, models.WrapKind(models.ErrKindModel,
			fmt.Errorf("%w: no engine available for query", models.ErrModelUnavailable))
	}

	kRaw := plan.K * 2
	var filter *vectorstore.Filter
	if len(plan.Whitelist) > 0 {
		filter = &vectorstore.Filter{FileIDs: plan.Whitelist}
	}

	hitsByFile := make(map[string][]hit)
	totalWeight, searchedWeight := 0.0, 0.0
	for modality, weight := range plan.Weights {
		if weight <= 0 {
			continue
		}
		totalWeight += weight
		query := clapVec
		if clipSpace(modality) {
			query = clipVec
		}
		if query == nil {
			warnings = append(warnings, fmt.Sprintf("modality %s skipped: engine unavailable", modality))
			continue
		}
		searchedWeight += weight

		matches, err := r.store.Search(ctx, string(modality), query, kRaw, plan.Threshold, filter)
		if err != nil {
			if models.KindOf(err) == models.ErrKindInput {
				// Collection not created yet: nothing indexed for this
				// modality.
				continue
			}
			return nil, warnings, err
		}
		for _, match := range matches {
			hitsByFile[match.Meta.FileID] = append(hitsByFile[match.Meta.FileID], hit{
				modality: modality,
				score:    match.Score,
				startMs:  match.Meta.StartMs,
				endMs:    match.Meta.EndMs,
			})
		}
	}

	// Coverage discounts scores when an unavailable engine left part of the
	// plan unsearched, so degraded answers never outrank full ones. An empty
	// collection is full coverage; there was simply nothing to find.
	coverage := 1.0
	if totalWeight > 0 {
		coverage = searchedWeight / totalWeight
	}

	results := r.fuse(ctx, plan, hitsByFile, coverage)
	return results, warnings, nil
}

// embedQuery produces the clip-space and clap-space query vectors the plan
// needs. Engine failures degrade to warnings so the other space still
// serves.
func (r *Ranker) embedQuery(ctx context.Context, plan *Plan) (clipVec, clapVec []float32, warnings []string, err error) {
	needClip, needClap := false, false
	for modality, weight := range plan.Weights {
		if weight <= 0 {
			continue
		}
		if clipSpace(modality) {
			needClip = true
		} else {
			needClap = true
		}
	}

	switch {
	case len(plan.Image) > 0:
		clipVec, err = r.pool.Embed(ctx, encoder.EngineCLIP, encoder.ImageInput(plan.Image))
		if err != nil {
			return nil, nil, nil, err
		}
		return clipVec, nil, nil, nil

	case len(plan.Audio) > 0:
		if needClap {
			clapVec, err = r.pool.Embed(ctx, encoder.EngineCLAP, encoder.AudioInput(plan.Audio, ffmpeg.PCMSampleRate))
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("audio embedding failed: %v", err))
			}
		}
		// A transcript bridges the audio query into the clip/text space.
		if needClip {
			transcript, terr := r.pool.Transcribe(ctx, plan.Audio, ffmpeg.PCMSampleRate)
			if terr != nil || transcript == "" {
				if terr != nil {
					warnings = append(warnings, fmt.Sprintf("query transcription failed: %v", terr))
				}
			} else {
				clipVec, err = r.embedTextCached(ctx, encoder.EngineCLIP, transcript)
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("transcript embedding failed: %v", err))
					err = nil
				}
			}
		}
		return clipVec, clapVec, warnings, nil

	default:
		if needClip {
			clipVec, err = r.embedTextCached(ctx, encoder.EngineCLIP, plan.Text)
			if err != nil {
				return nil, nil, nil, err
			}
		}
		if needClap {
			clapVec, err = r.embedTextCached(ctx, encoder.EngineCLAP, plan.Text)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("audio-space embedding failed: %v", err))
				err = nil
			}
		}
		return clipVec, clapVec, warnings, nil
	}
}

func (r *Ranker) embedTextCached(ctx context.Context, engine, text string) ([]float32, error) {
	if vec, ok := r.cache.get(engine, text); ok {
		return vec, nil
	}
	vec, err := r.pool.Embed(ctx, engine, encoder.TextInput(text))
	if err != nil {
		return nil, err
	}
	r.cache.put(engine, text, vec)
	return vec, nil
}

// fuse groups hits per file, scores, localizes, sorts, and resolves paths.
// Hits whose file is no longer cataloged are dropped.
func (r *Ranker) fuse(ctx context.Context, plan *Plan, hitsByFile map[string][]hit, coverage float64) []Result {
	tolFor := func(m models.Modality) int64 {
		switch m {
		case models.ModalityVisualFrame:
			return r.cfg.SyncToleranceVisualMs
		case models.ModalityAudioMusic:
			return r.cfg.SyncToleranceMusicMs
		case models.ModalityAudioSpeech:
			return r.cfg.SyncToleranceSpeechMs
		default:
			return 0
		}
	}
	results := make([]Result, 0, len(hitsByFile))
	for fileID, hits := range hitsByFile {
		modalityScores := make(map[string]float64)
		base := 0.0
		for _, h := range hits {
			if h.score > modalityScores[string(h.modality)] {
				modalityScores[string(h.modality)] = h.score
			}
		}
		// The threshold already bound every contributing hit at search
		// time; the fused base is a weighted blend of those.
		for modality, score := range modalityScores {
			base += plan.Weights[models.Modality(modality)] * score
		}

		clusters, best := clusterHits(hits, plan.Weights, r.accuracyMs, tolFor)
		results = append(results, Result{
			FileID:         fileID,
			Score:          base * coverage,
			BestTimestamp:  best,
			Clusters:       clusters,
			ModalityScores: modalityScores,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return bestConfidence(results[i]) > bestConfidence(results[j])
	})
	if len(results) > plan.K {
		results = results[:plan.K]
	}

	kept := results[:0]
	for i := range results {
		id, err := models.ParseULID(results[i].FileID)
		if err != nil {
			continue
		}
		file, err := r.files.GetByID(ctx, id)
		if err != nil || file == nil {
			r.log.Warn("dropping hit for missing file", "file_id", results[i].FileID)
			continue
		}
		results[i].Path = file.Path
		kept = append(kept, results[i])
	}
	return kept
}

func bestConfidence(res Result) float64 {
	if res.BestTimestamp == nil {
		return 0
	}
	return res.BestTimestamp.Confidence
}
