package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/mediasift/mediasift/internal/observability"
	"github.com/mediasift/mediasift/internal/search"
)

// SearchResponse is the API-level search result envelope.
type SearchResponse struct {
	Query    string          `json:"query,omitempty"`
	TookMs   int64           `json:"took_ms"`
	Results  []search.Result `json:"results"`
	Warnings []string        `json:"warnings,omitempty"`
}

// SearchService routes queries through the planner and the fusion ranker.
type SearchService struct {
	router *search.Router
	ranker *search.Ranker
	log    *slog.Logger
}

// NewSearchService creates a search service.
func NewSearchService(router *search.Router, ranker *search.Ranker, log *slog.Logger) *SearchService {
	return &SearchService{
		router: router,
		ranker: ranker,
		log:    observability.WithComponent(log, "search"),
	}
}

// Text answers a text query, optionally constrained to a named person.
func (s *SearchService) Text(ctx context.Context, query, person string, topK int, threshold *float64) (*SearchResponse, error) {
	return s.run(ctx, search.Query{Text: query, Person: person}, query, topK, threshold)
}

// Image answers a query-by-example image search.
func (s *SearchService) Image(ctx context.Context, image []byte, topK int) (*SearchResponse, error) {
	return s.run(ctx, search.Query{Image: image}, "", topK, nil)
}

// Audio answers a query-by-example audio search.
func (s *SearchService) Audio(ctx context.Context, audio []byte, topK int) (*SearchResponse, error) {
	return s.run(ctx, search.Query{Audio: audio}, "", topK, nil)
}

func (s *SearchService) run(ctx context.Context, q search.Query, display string, topK int, threshold *float64) (*SearchResponse, error) {
	start := time.Now()

	plan, err := s.router.Classify(ctx, q, topK, threshold)
	if err != nil {
		return nil, err
	}
	results, warnings, err := s.ranker.Search(ctx, plan)
	if err != nil {
		return nil, err
	}

	took := time.Since(start)
	s.log.Debug("search completed",
		slog.String("type", string(plan.Type)),
		slog.Int("results", len(results)),
		slog.Duration("took", took))

	if results == nil {
		results = []search.Result{}
	}
	return &SearchResponse{
		Query:    display,
		TookMs:   took.Milliseconds(),
		Results:  results,
		Warnings: warnings,
	}, nil
}
