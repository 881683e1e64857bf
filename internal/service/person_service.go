package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mediasift/mediasift/internal/encoder"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/observability"
	"github.com/mediasift/mediasift/internal/repository"
	"github.com/mediasift/mediasift/internal/vectorstore"
)

// PersonService registers persons and their reference faces for
// person-scoped retrieval.
type PersonService struct {
	persons repository.PersonRepository
	pool    *encoder.Pool
	store   *vectorstore.Store
	log     *slog.Logger
}

// NewPersonService creates a person service.
func NewPersonService(persons repository.PersonRepository, pool *encoder.Pool, store *vectorstore.Store, log *slog.Logger) *PersonService {
	return &PersonService{
		persons: persons,
		pool:    pool,
		store:   store,
		log:     observability.WithComponent(log, "persons"),
	}
}

// Register creates a person and stores one reference face embedding per
// supplied image. Reference vectors live in the face collection with the
// person id as their file reference.
func (s *PersonService) Register(ctx context.Context, name string, aliases []string, refImages [][]byte) (*models.Person, int, error) {
	if name == "" {
		return nil, 0, models.WrapKind(models.ErrKindInput, models.ErrPersonNameRequired)
	}
	if len(refImages) > 0 && !s.pool.HasEngine(encoder.EngineFace) {
		return nil, 0, models.WrapKind(models.ErrKindModel,
			fmt.Errorf("%w: no %s engine configured", models.ErrModelUnavailable, encoder.EngineFace))
	}

	existing, err := s.persons.GetByNameOrAlias(ctx, name)
	if err != nil {
		return nil, 0, err
	}
	person := existing
	if person == nil {
		person = &models.Person{Name: name, Aliases: models.StringList(aliases)}
		if err := s.persons.Create(ctx, person); err != nil {
			return nil, 0, err
		}
	}

	var records []vectorstore.Record
	for i, image := range refImages {
		faces, err := s.pool.DetectFaces(ctx, image)
		if err != nil {
			return person, 0, err
		}
		if len(faces) == 0 {
			s.log.Warn("no face found in reference image",
				slog.String("person", name), slog.Int("image", i))
			continue
		}
		best := faces[0]
		for _, face := range faces[1:] {
			if face.Confidence > best.Confidence {
				best = face
			}
		}
		records = append(records, vectorstore.Record{
			ID:     models.NewULID().String(),
			Vector: best.Embedding,
			Meta: vectorstore.Meta{
				FileID:   person.ID.String(),
				Modality: string(models.ModalityFace),
			},
		})
	}

	if len(records) > 0 {
		if err := s.store.CreateCollection(string(models.ModalityFace), len(records[0].Vector)); err != nil {
			return person, 0, err
		}
		if err := s.store.Upsert(ctx, string(models.ModalityFace), records); err != nil {
			return person, 0, err
		}
	}

	s.log.Info("person registered",
		slog.String("person_id", person.ID.String()),
		slog.String("name", name),
		slog.Int("reference_faces", len(records)))
	return person, len(records), nil
}

// Get resolves a person by name or alias.
func (s *PersonService) Get(ctx context.Context, name string) (*models.Person, error) {
	person, err := s.persons.GetByNameOrAlias(ctx, name)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, models.WrapKind(models.ErrKindInput,
			fmt.Errorf("unknown person %q", name))
	}
	return person, nil
}

// List returns all registered persons.
func (s *PersonService) List(ctx context.Context) ([]*models.Person, error) {
	return s.persons.ListAll(ctx)
}

// Files returns the ids of files tagged with the person.
func (s *PersonService) Files(ctx context.Context, personID models.ULID) ([]models.ULID, error) {
	return s.persons.FilesContaining(ctx, personID)
}
