package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mediasift/mediasift/internal/service"
)

// SearchHandler handles search API endpoints.
type SearchHandler struct {
	searchService *service.SearchService
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(searchService *service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// Register registers the search routes with the API.
func (h *SearchHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "searchText",
		Method:      "POST",
		Path:        "/api/v1/search/text",
		Summary:     "Search by text",
		Description: "Searches the index with a natural-language query, fused across modalities",
		Tags:        []string{"Search"},
	}, h.Text)

	huma.Register(api, huma.Operation{
		OperationID: "searchImage",
		Method:      "POST",
		Path:        "/api/v1/search/image",
		Summary:     "Search by image",
		Description: "Query-by-example search against images and video frames",
		Tags:        []string{"Search"},
	}, h.Image)

	huma.Register(api, huma.Operation{
		OperationID: "searchAudio",
		Method:      "POST",
		Path:        "/api/v1/search/audio",
		Summary:     "Search by audio",
		Description: "Query-by-example search against music segments",
		Tags:        []string{"Search"},
	}, h.Audio)
}

// TextSearchInput is the input for a text search.
type TextSearchInput struct {
	Body struct {
		Query     string   `json:"query" minLength:"1" doc:"Natural-language query"`
		TopK      int      `json:"top_k,omitempty" minimum:"1" maximum:"1000" doc:"Maximum number of files to return"`
		Threshold *float64 `json:"threshold,omitempty" minimum:"0" maximum:"1" doc:"Minimum similarity score"`
		Person    string   `json:"person,omitempty" doc:"Restrict results to files tagged with this person"`
	}
}

// SearchOutput is the output for all search endpoints.
type SearchOutput struct {
	Body service.SearchResponse
}

// Text runs a text search.
func (h *SearchHandler) Text(ctx context.Context, input *TextSearchInput) (*SearchOutput, error) {
	result, err := h.searchService.Text(ctx, input.Body.Query, input.Body.Person, input.Body.TopK, input.Body.Threshold)
	if err != nil {
		return nil, apiError(err, "search failed")
	}
	return &SearchOutput{Body: *result}, nil
}

// ImageSearchInput is the input for an image search.
type ImageSearchInput struct {
	Body struct {
		Image []byte `json:"image" doc:"Query image, base64-encoded"`
		TopK  int    `json:"top_k,omitempty" minimum:"1" maximum:"1000" doc:"Maximum number of files to return"`
	}
}

// Image runs a query-by-example image search.
func (h *SearchHandler) Image(ctx context.Context, input *ImageSearchInput) (*SearchOutput, error) {
	result, err := h.searchService.Image(ctx, input.Body.Image, input.Body.TopK)
	if err != nil {
		return nil, apiError(err, "search failed")
	}
	return &SearchOutput{Body: *result}, nil
}

// AudioSearchInput is the input for an audio search.
type AudioSearchInput struct {
	Body struct {
		Audio []byte `json:"audio" doc:"Query audio clip, base64-encoded"`
		TopK  int    `json:"top_k,omitempty" minimum:"1" maximum:"1000" doc:"Maximum number of files to return"`
	}
}

// Audio runs a query-by-example audio search.
func (h *SearchHandler) Audio(ctx context.Context, input *AudioSearchInput) (*SearchOutput, error) {
	result, err := h.searchService.Audio(ctx, input.Body.Audio, input.Body.TopK)
	if err != nil {
		return nil, apiError(err, "search failed")
	}
	return &SearchOutput{Body: *result}, nil
}
