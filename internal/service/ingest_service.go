// Package service implements the high-level operations behind the API and
// the task handlers: ingestion, task management, search, and persons.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/mediasift/mediasift/internal/classify"
	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/encoder"
	"github.com/mediasift/mediasift/internal/ffmpeg"
	"github.com/mediasift/mediasift/internal/media"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/observability"
	"github.com/mediasift/mediasift/internal/repository"
	"github.com/mediasift/mediasift/internal/service/progress"
	"github.com/mediasift/mediasift/internal/vectorstore"
	"github.com/mediasift/mediasift/pkg/contenthash"
)

// faceTagThreshold is the minimum cosine similarity between a detected face
// and a reference face before a person tag is written.
const faceTagThreshold = 0.55

// IngestService runs the ingest pipeline for one file:
// classify, hash, decompose, encode, persist.
type IngestService struct {
	cfg        config.Config
	classifier *classify.Classifier
	decomposer *media.Decomposer
	pool       *encoder.Pool
	store      *vectorstore.Store
	tx         repository.TxProvider
	files      repository.FileRepository
	persons    repository.PersonRepository
	progress   *progress.Registry
	log        *slog.Logger
}

// NewIngestService creates an ingest service.
func NewIngestService(
	cfg config.Config,
	classifier *classify.Classifier,
	decomposer *media.Decomposer,
	pool *encoder.Pool,
	store *vectorstore.Store,
	tx repository.TxProvider,
	files repository.FileRepository,
	persons repository.PersonRepository,
	registry *progress.Registry,
	log *slog.Logger,
) *IngestService {
	return &IngestService{
		cfg:        cfg,
		classifier: classifier,
		decomposer: decomposer,
		pool:       pool,
		store:      store,
		tx:         tx,
		files:      files,
		persons:    persons,
		progress:   registry,
		log:        observability.WithComponent(log, "ingest"),
	}
}

// encodedSegment pairs a draft with its embedding outcome.
type encodedSegment struct {
	draft  media.SegmentDraft
	vector []float32
	failed bool
}

// IngestFile runs the full pipeline for one ingest_file task. The returned
// string is the task result summary.
func (s *IngestService) IngestFile(ctx context.Context, task *models.Task) (string, error) {
	tracker := s.progress.Track(task.ID.String(), progress.IngestStages())
	result, err := s.ingest(ctx, tracker, task.Target, nil)
	s.finishTracker(tracker, err)
	return result, err
}

// Reindex re-derives segments and vectors for an already-cataloged file.
// Old segments and vectors are dropped first; the vector store is derived
// state, so this is always safe.
func (s *IngestService) Reindex(ctx context.Context, task *models.Task) (string, error) {
	file, err := s.files.GetByPath(ctx, task.Target)
	if err != nil {
		return "", err
	}
	if file == nil {
		return "", models.WrapKind(models.ErrKindInput,
			fmt.Errorf("%w: not cataloged: %s", models.ErrFileMissing, task.Target))
	}

	tracker := s.progress.Track(task.ID.String(), progress.IngestStages())
	result, err := s.ingest(ctx, tracker, task.Target, file)
	s.finishTracker(tracker, err)
	return result, err
}

// RemovePath handles a remove_path task: the target location is forgotten,
// and once a file has no locations left its catalog rows and vectors go too.
// A target that was never cataloged, or that still exists on disk, is a
// no-op; the latter guards against stale removal events racing a re-create.
func (s *IngestService) RemovePath(ctx context.Context, task *models.Task) (string, error) {
	path := task.Target
	if _, err := os.Stat(path); err == nil {
		return "skip: still present", nil
	}

	file, err := s.files.GetByAnyPath(ctx, path)
	if err != nil {
		return "", err
	}
	if file == nil {
		return "skip: not cataloged", nil
	}

	if remaining := file.RemovePath(path); remaining > 0 {
		if err := s.files.Update(ctx, file); err != nil {
			return "", err
		}
		s.log.Info("dropped file location",
			slog.String("path", path),
			slog.String("file_id", file.ID.String()),
			slog.Int("remaining", remaining))
		return fmt.Sprintf("dropped location, %d remain", remaining), nil
	}

	// Vectors first: a catalog row without vectors is just unsearchable,
	// while vectors without their row would keep serving a deleted file.
	if err := s.dropVectors(ctx, file.ID.String()); err != nil {
		return "", err
	}
	if err := s.files.Delete(ctx, file.ID); err != nil {
		return "", err
	}
	s.log.Info("removed file",
		slog.String("path", path),
		slog.String("file_id", file.ID.String()))
	return "removed file and derived state", nil
}

// dropVectors deletes every vector belonging to fileID across all modality
// collections. Collections that were never created are skipped.
func (s *IngestService) dropVectors(ctx context.Context, fileID string) error {
	for _, modality := range models.AllModalities {
		if _, err := s.store.DeleteByFilter(ctx, string(modality),
			&vectorstore.Filter{FileIDs: []string{fileID}}); err != nil {
			if models.KindOf(err) != models.ErrKindInput {
				return err
			}
		}
	}
	return nil
}

func (s *IngestService) finishTracker(tracker *progress.Tracker, err error) {
	switch {
	case err == nil:
		tracker.Complete()
	case models.KindOf(err) == models.ErrKindCancelled:
		tracker.Cancel()
	default:
		tracker.Fail(err)
	}
}

// ingest is the pipeline core. reindex is nil for a fresh ingest; for a
// reindex it is the existing file row whose derived state gets replaced.
func (s *IngestService) ingest(ctx context.Context, tracker *progress.Tracker, path string, reindex *models.File) (string, error) {
	// Stage 1: classify.
	tracker.StartStage(progress.StageClassify, 1)
	info, err := os.Stat(path)
	if err != nil {
		return "", models.WrapKind(models.ErrKindInput,
			fmt.Errorf("%w: %s", models.ErrFileMissing, path))
	}
	if info.Size() == 0 {
		return "", models.WrapKind(models.ErrKindInput,
			fmt.Errorf("empty file: %s", path))
	}
	if max := int64(s.cfg.Storage.MaxFileSize); max > 0 && info.Size() > max {
		return "", models.WrapKind(models.ErrKindInput,
			fmt.Errorf("file exceeds max_file_size (%d > %d): %s", info.Size(), max, path))
	}

	cls, err := s.classifier.Classify(path)
	if err != nil {
		return "", err
	}
	if !cls.Type.Indexable() {
		return "skip: unknown type", nil
	}
	if err := checkpoint(ctx); err != nil {
		return "", err
	}

	// Stage 2: hash and dedup.
	tracker.StartStage(progress.StageHash, 1)
	hash, err := contenthash.File(path)
	if err != nil {
		if contenthash.IsMissing(err) {
			return "", models.WrapKind(models.ErrKindInput, err)
		}
		return "", models.WrapKind(models.ErrKindStorage, err)
	}

	if reindex == nil {
		existing, err := s.files.GetByHash(ctx, hash)
		if err != nil {
			return "", err
		}
		if existing != nil {
			if existing.AddRefPath(path) {
				if err := s.files.Update(ctx, existing); err != nil {
					return "", err
				}
			}
			s.log.Info("dedup ingest",
				slog.String("path", path),
				slog.String("file_id", existing.ID.String()))
			return "dedup", nil
		}
	}
	if err := checkpoint(ctx); err != nil {
		return "", err
	}

	// Stage 3: decompose.
	tracker.StartStage(progress.StageDecompose, 1)
	dec, err := s.decomposer.Decompose(ctx, path, cls.Type)
	if err != nil {
		return "", err
	}
	if err := checkpoint(ctx); err != nil {
		return "", err
	}

	// Stage 4: encode.
	tracker.StartStage(progress.StageEncode, len(dec.Segments))
	encoded, encodeErr := s.encodeSegments(ctx, tracker, dec.Segments)
	if encodeErr != nil {
		return "", encodeErr
	}

	// Stage 5: persist, all rows in one transaction. The final checkpoint
	// before the commit is what keeps a cancelled task out of the catalog.
	if err := checkpoint(ctx); err != nil {
		return "", err
	}
	tracker.StartStage(progress.StagePersist, 1)

	mtime := models.Time(info.ModTime())
	file := reindex
	if file == nil {
		file = &models.File{
			ContentHash: hash,
			Path:        path,
		}
	}
	file.Size = info.Size()
	file.Type = cls.Type
	file.Subtype = cls.Subtype
	file.ModTime = &mtime
	file.DurationMs = dec.DurationMs

	if err := s.persist(ctx, file, encoded, reindex != nil); err != nil {
		return "", err
	}

	s.tagPersons(ctx, file, encoded)

	failedEmbeds := 0
	for _, e := range encoded {
		if e.failed {
			failedEmbeds++
		}
	}
	summary := fmt.Sprintf("indexed %d segments", len(encoded))
	if len(dec.Failures) > 0 || failedEmbeds > 0 {
		notes := append([]string{}, dec.Failures...)
		if failedEmbeds > 0 {
			notes = append(notes, fmt.Sprintf("%d segments failed embedding", failedEmbeds))
		}
		summary = "partial_success: " + strings.Join(notes, "; ")
	}
	return summary, nil
}

// encodeSegments embeds every draft through its modality's engine. Individual
// failures degrade the segment; if every segment fails the whole task fails
// with the last error so the queue can retry it.
func (s *IngestService) encodeSegments(ctx context.Context, tracker *progress.Tracker, drafts []media.SegmentDraft) ([]encodedSegment, error) {
	encoded := make([]encodedSegment, 0, len(drafts))
	var lastErr error
	succeeded := 0

	for i, draft := range drafts {
		if err := checkpoint(ctx); err != nil {
			return nil, err
		}
		tracker.Update(i, fmt.Sprintf("embedding %s", draft.Modality))

		vec, err := s.embedDraft(ctx, &draft)
		if err != nil {
			if models.KindOf(err) == models.ErrKindCancelled {
				return nil, err
			}
			s.log.Warn("segment embedding failed",
				slog.String("modality", string(draft.Modality)),
				slog.Int("seq", draft.Seq),
				slog.Any("error", err))
			lastErr = err
			encoded = append(encoded, encodedSegment{draft: draft, failed: true})
			continue
		}
		succeeded++
		encoded = append(encoded, encodedSegment{draft: draft, vector: vec})
	}
	tracker.Update(len(drafts), "")

	if succeeded == 0 && lastErr != nil {
		return nil, lastErr
	}
	return encoded, nil
}

// embedDraft routes one draft to its engine. Speech is transcribed first and
// the transcript embedded as text so speech is searchable by text queries.
func (s *IngestService) embedDraft(ctx context.Context, draft *media.SegmentDraft) ([]float32, error) {
	switch draft.Modality {
	case models.ModalityImage, models.ModalityVisualFrame:
		return s.pool.Embed(ctx, encoder.EngineCLIP, encoder.ImageInput(draft.Payload.ImageJPEG))

	case models.ModalityText:
		return s.pool.Embed(ctx, encoder.EngineCLIP, encoder.TextInput(draft.Payload.Text))

	case models.ModalityAudioMusic:
		return s.pool.Embed(ctx, encoder.EngineCLAP,
			encoder.AudioInput(draft.Payload.AudioPCM, ffmpeg.PCMSampleRate))

	case models.ModalityAudioSpeech:
		transcript, err := s.pool.Transcribe(ctx, draft.Payload.AudioPCM, ffmpeg.PCMSampleRate)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(transcript) == "" {
			return nil, models.WrapKind(models.ErrKindDecode,
				fmt.Errorf("%w: empty transcript", models.ErrDecodeFailed))
		}
		if draft.Extra == nil {
			draft.Extra = models.Extra{}
		}
		draft.Extra["transcript"] = transcript
		return s.pool.Embed(ctx, encoder.EngineCLIP, encoder.TextInput(transcript))

	default:
		return nil, models.WrapKind(models.ErrKindInput,
			fmt.Errorf("%w: %s", models.ErrInvalidModality, draft.Modality))
	}
}

// persist writes the vectors into the store, then the file, its segments,
// and the vector refs in one catalog transaction. Vectors go in first: a
// vector the catalog never references is invisible garbage the next reindex
// clears, while a committed ref whose vector never arrived would be a
// permanent hole in search. A failed commit deletes the vectors again.
func (s *IngestService) persist(ctx context.Context, file *models.File, encoded []encodedSegment, replace bool) error {
	if file.ID.IsZero() {
		file.ID = models.NewULID()
	}

	vectorIDs := make([]string, len(encoded))
	byModality := make(map[models.Modality][]vectorstore.Record)
	for i := range encoded {
		e := &encoded[i]
		if e.failed {
			continue
		}
		vectorIDs[i] = models.NewULID().String()
		byModality[e.draft.Modality] = append(byModality[e.draft.Modality], vectorstore.Record{
			ID:     vectorIDs[i],
			Vector: e.vector,
			Meta: vectorstore.Meta{
				FileID:   file.ID.String(),
				Modality: string(e.draft.Modality),
				StartMs:  e.draft.StartMs,
				EndMs:    e.draft.EndMs,
			},
		})
	}

	for modality, records := range byModality {
		if err := s.store.CreateCollection(string(modality), len(records[0].Vector)); err != nil {
			return err
		}
		if err := s.store.Upsert(ctx, string(modality), records); err != nil {
			return err
		}
	}

	var oldVectorIDs []string
	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		if replace {
			if err := tx.Model(&models.VectorRef{}).Where("file_id = ?", file.ID).
				Pluck("vector_id", &oldVectorIDs).Error; err != nil {
				return models.WrapKind(models.ErrKindStorage, fmt.Errorf("listing vector refs: %w", err))
			}
			if err := tx.Where("file_id = ?", file.ID).Delete(&models.VectorRef{}).Error; err != nil {
				return models.WrapKind(models.ErrKindStorage, fmt.Errorf("deleting vector refs: %w", err))
			}
			if err := tx.Where("file_id = ?", file.ID).Delete(&models.Segment{}).Error; err != nil {
				return models.WrapKind(models.ErrKindStorage, fmt.Errorf("deleting segments: %w", err))
			}
			if err := tx.Save(file).Error; err != nil {
				return models.WrapKind(models.ErrKindStorage, fmt.Errorf("updating file: %w", err))
			}
		} else {
			if err := tx.Create(file).Error; err != nil {
				return models.WrapKind(models.ErrKindStorage, fmt.Errorf("creating file: %w", err))
			}
		}

		for i := range encoded {
			e := &encoded[i]
			segment := &models.Segment{
				FileID:          file.ID,
				Modality:        e.draft.Modality,
				Seq:             e.draft.Seq,
				StartMs:         e.draft.StartMs,
				EndMs:           e.draft.EndMs,
				Quality:         e.draft.Quality,
				Extra:           e.draft.Extra,
				EmbeddingStatus: models.EmbeddingStored,
			}
			if e.failed {
				segment.EmbeddingStatus = models.EmbeddingFailed
			}
			if err := tx.Create(segment).Error; err != nil {
				return models.WrapKind(models.ErrKindConsistency, fmt.Errorf("creating segment: %w", err))
			}
			if e.failed {
				continue
			}

			ref := &models.VectorRef{
				VectorID:  vectorIDs[i],
				SegmentID: segment.ID,
				FileID:    file.ID,
				Modality:  e.draft.Modality,
				Dim:       len(e.vector),
				StartMs:   e.draft.StartMs,
				EndMs:     e.draft.EndMs,
			}
			if err := tx.Create(ref).Error; err != nil {
				return models.WrapKind(models.ErrKindConsistency, fmt.Errorf("creating vector ref: %w", err))
			}
		}
		return nil
	})
	if err != nil {
		// Best effort: the commit failed, so nothing references these vectors.
		for modality, records := range byModality {
			ids := make([]string, len(records))
			for i, r := range records {
				ids[i] = r.ID
			}
			if _, derr := s.store.Delete(ctx, string(modality), ids); derr != nil {
				s.log.Warn("cleaning up unreferenced vectors failed",
					slog.String("modality", string(modality)), slog.Any("error", derr))
			}
		}
		return err
	}

	if len(oldVectorIDs) > 0 {
		for _, modality := range models.AllModalities {
			if _, derr := s.store.Delete(ctx, string(modality), oldVectorIDs); derr != nil {
				if models.KindOf(derr) != models.ErrKindInput {
					return derr
				}
			}
		}
	}
	return nil
}

// tagPersons matches detected faces against reference face vectors and tags
// the file. Best effort: a missing face engine or a detect failure only logs.
func (s *IngestService) tagPersons(ctx context.Context, file *models.File, encoded []encodedSegment) {
	if !s.pool.HasEngine(encoder.EngineFace) {
		return
	}

	tagged := make(map[string]bool)
	for i := range encoded {
		draft := &encoded[i].draft
		if draft.Modality != models.ModalityImage && draft.Modality != models.ModalityVisualFrame {
			continue
		}
		faces, err := s.pool.DetectFaces(ctx, draft.Payload.ImageJPEG)
		if err != nil {
			s.log.Debug("face detection failed", slog.Any("error", err))
			return
		}
		for _, face := range faces {
			matches, err := s.store.Search(ctx, string(models.ModalityFace),
				face.Embedding, 1, faceTagThreshold, nil)
			if err != nil || len(matches) == 0 {
				continue
			}
			personID, err := models.ParseULID(matches[0].Meta.FileID)
			if err != nil || tagged[matches[0].Meta.FileID] {
				continue
			}
			tag := &models.PersonFileTag{
				PersonID:   personID,
				FileID:     file.ID,
				Confidence: matches[0].Score * face.Confidence,
			}
			if err := s.persons.Tag(ctx, tag); err != nil {
				s.log.Warn("tagging person failed", slog.Any("error", err))
				continue
			}
			tagged[matches[0].Meta.FileID] = true
		}
	}
}

// checkpoint is the cooperative cancellation check between pipeline stages.
func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return models.WrapKind(models.ErrKindCancelled,
			fmt.Errorf("%w: %v", models.ErrCancelled, context.Cause(ctx)))
	}
	return nil
}
