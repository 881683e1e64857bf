// Package search turns queries into plans, runs per-modality vector
// searches, and fuses the hits into ranked, time-localized results.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/observability"
	"github.com/mediasift/mediasift/internal/repository"
)

// QueryType classifies what a query is about.
type QueryType string

const (
	QueryGeneric QueryType = "generic"
	QueryVisual  QueryType = "visual"
	QueryAudio   QueryType = "audio"
	QuerySpeech  QueryType = "speech"
	QueryPerson  QueryType = "person"
)

// Query is one incoming search request. Exactly one of Text, Image, Audio,
// or Person is set; Person may also ride along with Text.
type Query struct {
	Text   string
	Image  []byte
	Audio  []byte
	Person string
}

// Plan is the routed execution plan for a query.
type Plan struct {
	Type    QueryType
	Weights map[models.Modality]float64
	// Whitelist restricts hits to these file ids. Empty means no restriction.
	Whitelist []string
	K         int
	Threshold float64

	// Resolved query content for the ranker.
	Text  string
	Image []byte
	Audio []byte
}

// Router classifies queries and builds plans.
type Router struct {
	cfg     config.SearchConfig
	persons repository.PersonRepository
	log     *slog.Logger
}

// NewRouter creates a query router.
func NewRouter(cfg config.SearchConfig, persons repository.PersonRepository, log *slog.Logger) *Router {
	return &Router{
		cfg:     cfg,
		persons: persons,
		log:     observability.WithComponent(log, "search"),
	}
}

// Classify routes a query to a plan. Person matches run the pre-search
// whitelist lookup; a whitelist below person_min_coverage falls back to
// generic routing so a sparsely tagged person does not starve results.
func (r *Router) Classify(ctx context.Context, q Query, topK int, threshold *float64) (*Plan, error) {
	plan := &Plan{
		K:         topK,
		Threshold: r.cfg.Threshold,
		Text:      strings.TrimSpace(q.Text),
		Image:     q.Image,
		Audio:     q.Audio,
	}
	if plan.K <= 0 {
		plan.K = r.cfg.TopK
	}
	if threshold != nil {
		plan.Threshold = *threshold
	}

	switch {
	case len(q.Image) > 0:
		plan.Type = QueryVisual
		plan.Weights = map[models.Modality]float64{
			models.ModalityImage:       0.5,
			models.ModalityVisualFrame: 0.5,
		}
		return plan, nil
	case len(q.Audio) > 0:
		plan.Type = QueryAudio
		plan.Weights = map[models.Modality]float64{
			models.ModalityAudioMusic:  0.6,
			models.ModalityAudioSpeech: 0.3,
			models.ModalityText:        0.1,
		}
		return plan, nil
	case plan.Text == "" && q.Person == "":
		return nil, models.WrapKind(models.ErrKindInput,
			fmt.Errorf("empty query"))
	}

	if person, remaining, err := r.matchPerson(ctx, q); err != nil {
		return nil, err
	} else if person != nil {
		whitelist, err := r.personWhitelist(ctx, person)
		if err != nil {
			return nil, err
		}
		if len(whitelist) >= r.cfg.PersonMinCoverage {
			plan.Type = QueryPerson
			plan.Whitelist = whitelist
			plan.Weights = personWeights()
			if remaining != "" {
				plan.Text = remaining
			} else {
				plan.Text = person.Name
			}
			return plan, nil
		}
		r.log.Debug("person whitelist below coverage, falling back to generic",
			"person", person.Name, "files", len(whitelist))
	}

	tokens := tokenize(plan.Text)
	switch {
	case matchesAny(tokens, r.cfg.AudioKeywords):
		plan.Type = QueryAudio
		plan.Weights = map[models.Modality]float64{
			models.ModalityAudioMusic:  0.35,
			models.ModalityAudioSpeech: 0.35,
			models.ModalityVisualFrame: 0.1,
			models.ModalityImage:       0.1,
			models.ModalityText:        0.1,
		}
	case matchesAny(tokens, r.cfg.VisualKeywords):
		plan.Type = QueryVisual
		plan.Weights = map[models.Modality]float64{
			models.ModalityImage:       0.35,
			models.ModalityVisualFrame: 0.35,
			models.ModalityAudioMusic:  0.1,
			models.ModalityAudioSpeech: 0.1,
			models.ModalityText:        0.1,
		}
	default:
		plan.Type = QueryGeneric
		plan.Weights = genericWeights()
	}
	return plan, nil
}

// matchPerson resolves an explicit person field or a leading name match in
// the query text. Returns the matched person and the text with the name
// removed.
func (r *Router) matchPerson(ctx context.Context, q Query) (*models.Person, string, error) {
	if q.Person != "" {
		person, err := r.persons.GetByNameOrAlias(ctx, q.Person)
		if err != nil {
			return nil, "", err
		}
		if person == nil {
			return nil, "", models.WrapKind(models.ErrKindInput,
				fmt.Errorf("unknown person %q", q.Person))
		}
		return person, strings.TrimSpace(q.Text), nil
	}

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, "", nil
	}

	persons, err := r.persons.ListAll(ctx)
	if err != nil {
		return nil, "", err
	}
	lower := strings.ToLower(text)
	for _, person := range persons {
		for _, name := range append([]string{person.Name}, person.Aliases...) {
			needle := strings.ToLower(name)
			if needle == "" || !strings.Contains(lower, needle) {
				continue
			}
			remaining := removeToken(text, name)
			return person, remaining, nil
		}
	}
	return nil, "", nil
}

func (r *Router) personWhitelist(ctx context.Context, person *models.Person) ([]string, error) {
	ids, err := r.persons.FilesContaining(ctx, person.ID)
	if err != nil {
		return nil, err
	}
	whitelist := make([]string, len(ids))
	for i, id := range ids {
		whitelist[i] = id.String()
	}
	return whitelist, nil
}

func personWeights() map[models.Modality]float64 {
	// Face similarity is exercised at tagging time; at query time the
	// whitelist carries the person constraint and visual modalities rank
	// within it.
	return map[models.Modality]float64{
		models.ModalityVisualFrame: 0.35,
		models.ModalityImage:       0.35,
		models.ModalityAudioSpeech: 0.2,
		models.ModalityAudioMusic:  0.1,
	}
}

func genericWeights() map[models.Modality]float64 {
	return map[models.Modality]float64{
		models.ModalityImage:       0.2,
		models.ModalityVisualFrame: 0.2,
		models.ModalityAudioMusic:  0.2,
		models.ModalityAudioSpeech: 0.2,
		models.ModalityText:        0.2,
	}
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func matchesAny(tokens []string, keywords []string) bool {
	for _, keyword := range keywords {
		k := strings.ToLower(keyword)
		for _, token := range tokens {
			if token == k {
				return true
			}
		}
	}
	return false
}

// removeToken strips one case-insensitive occurrence of name from text.
func removeToken(text, name string) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, strings.ToLower(name))
	if idx < 0 {
		return text
	}
	remaining := text[:idx] + text[idx+len(name):]
	return strings.Join(strings.Fields(remaining), " ")
}
