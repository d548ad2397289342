package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/everkeep-ai/everkeep/internal/api"
	"github.com/everkeep-ai/everkeep/internal/domain"
	"github.com/everkeep-ai/everkeep/internal/service"
	"github.com/go-chi/chi/v5"
)

type KnowledgeService interface {
	Create(ctx context.Context, input service.CreateInput) (*domain.KnowledgeEntry, int, error)
	Get(ctx context.Context, id string) (*domain.KnowledgeEntry, error)
	Update(ctx context.Context, id string, patch service.UpdatePatch) (*domain.KnowledgeEntry, int, error)
	Delete(ctx context.Context, id string) error
	GetChunks(ctx context.Context, id string) ([]*domain.KnowledgeEntry, error)
	List(ctx context.Context, input service.ListInput) (*service.ListOutput, error)
}

type KnowledgeHandler struct {
	svc KnowledgeService
}

func NewKnowledgeHandler(svc KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc}
}

type CreateEntryRequest struct {
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	Content         string   `json:"content"`
	Summary         string   `json:"summary"`
	Tags            []string `json:"tags"`
	Source          string   `json:"source"`
	SourceMessageID string   `json:"source_message_id"`
}

type UpdateEntryRequest struct {
	Title           *string   `json:"title"`
	URL             *string   `json:"url"`
	Content         *string   `json:"content"`
	Summary         *string   `json:"summary"`
	Tags            *[]string `json:"tags"`
	Source          *string   `json:"source"`
	SourceMessageID *string   `json:"source_message_id"`
}

type EntryResponse struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	URL             string   `json:"url,omitempty"`
	Content         string   `json:"content"`
	Summary         string   `json:"summary,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Source          string   `json:"source"`
	SourceMessageID string   `json:"source_message_id,omitempty"`
	ParentID        string   `json:"parent_id,omitempty"`
	ChunkIndex      int      `json:"chunk_index"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

func entryToResponse(e *domain.KnowledgeEntry) *EntryResponse {
	return &EntryResponse{
		ID:              e.ID,
		Title:           e.Title,
		URL:             e.URL,
		Content:         e.Content,
		Summary:         e.Summary,
		Tags:            e.Tags,
		Source:          string(e.Source),
		SourceMessageID: e.SourceMessageID,
		ParentID:        e.ParentID,
		ChunkIndex:      e.ChunkIndex,
		CreatedAt:       e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:       e.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

type CreateEntryResponse struct {
	Entry         *EntryResponse `json:"entry"`
	ChunksCreated int            `json:"chunks_created"`
}

func (h *KnowledgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Title == "" {
		api.Error(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Content == "" {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}

	source := domain.EntrySource(req.Source)
	if req.Source == "" {
		source = domain.EntrySourceManual
	}
	if !domain.IsValidEntrySource(source) {
		api.Error(w, http.StatusBadRequest, "invalid source")
		return
	}

	input := service.CreateInput{
		Title:           req.Title,
		URL:             req.URL,
		Content:         req.Content,
		Summary:         req.Summary,
		Tags:            req.Tags,
		Source:          source,
		SourceMessageID: req.SourceMessageID,
	}

	entry, chunksCreated, err := h.svc.Create(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, CreateEntryResponse{
		Entry:         entryToResponse(entry),
		ChunksCreated: chunksCreated,
	})
}

func (h *KnowledgeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	entry, err := h.svc.Get(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, entryToResponse(entry))
}

func (h *KnowledgeHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	var req UpdateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := service.UpdatePatch{
		Title:           req.Title,
		URL:             req.URL,
		Content:         req.Content,
		Summary:         req.Summary,
		Tags:            req.Tags,
		SourceMessageID: req.SourceMessageID,
	}
	if req.Source != nil {
		source := domain.EntrySource(*req.Source)
		if !domain.IsValidEntrySource(source) {
			api.Error(w, http.StatusBadRequest, "invalid source")
			return
		}
		patch.Source = &source
	}

	entry, chunksCreated, err := h.svc.Update(r.Context(), id, patch)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, CreateEntryResponse{
		Entry:         entryToResponse(entry),
		ChunksCreated: chunksCreated,
	})
}

func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *KnowledgeHandler) GetChunks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	chunks, err := h.svc.GetChunks(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*EntryResponse, len(chunks))
	for i, c := range chunks {
		responses[i] = entryToResponse(c)
	}

	api.Success(w, http.StatusOK, responses)
}

type EntryListResponse struct {
	Items   []*EntryResponse `json:"items"`
	Cursor  string           `json:"cursor,omitempty"`
	HasMore bool             `json:"has_more"`
}

func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limitStr := r.URL.Query().Get("limit")
	limit := 20
	if limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	output, err := h.svc.List(r.Context(), service.ListInput{
		Cursor: cursor,
		Limit:  limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*EntryResponse, len(output.Items))
	for i, e := range output.Items {
		responses[i] = entryToResponse(e)
	}

	api.Success(w, http.StatusOK, EntryListResponse{
		Items:   responses,
		Cursor:  output.Cursor,
		HasMore: output.HasMore,
	})
}
