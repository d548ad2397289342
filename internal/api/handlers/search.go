package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/everkeep-ai/everkeep/internal/api"
	"github.com/everkeep-ai/everkeep/internal/service"
)

type SearchService interface {
	Search(ctx context.Context, input service.SearchInput) (*service.SearchOutput, error)
}

type SearchHandler struct {
	svc SearchService
}

func NewSearchHandler(svc SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

type SearchRequest struct {
	Query string `json:"q"`
	Mode  string `json:"mode"`
	Limit int    `json:"limit"`
}

type SearchMetaResponse struct {
	KeywordHits  int `json:"keyword_hits"`
	SemanticHits int `json:"semantic_hits"`
	FusedCount   int `json:"fused_count"`
}

type SearchResponse struct {
	Results []*EntryResponse   `json:"results"`
	Method  string             `json:"method"`
	Meta    SearchMetaResponse `json:"meta"`
	Hint    string             `json:"hint,omitempty"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "q is required")
		return
	}

	output, err := h.svc.Search(r.Context(), service.SearchInput{
		Query: req.Query,
		Mode:  service.SearchMode(req.Mode),
		Limit: req.Limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	results := make([]*EntryResponse, len(output.Results))
	for i, e := range output.Results {
		results[i] = entryToResponse(e)
	}

	api.Success(w, http.StatusOK, SearchResponse{
		Results: results,
		Method:  string(output.Method),
		Meta: SearchMetaResponse{
			KeywordHits:  output.Meta.KeywordHits,
			SemanticHits: output.Meta.SemanticHits,
			FusedCount:   output.Meta.FusedCount,
		},
		Hint: output.Hint,
	})
}
