package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/everkeep-ai/everkeep/internal/domain"
	"github.com/everkeep-ai/everkeep/internal/pagination"
	"github.com/everkeep-ai/everkeep/internal/telemetry"
	"github.com/google/uuid"
)

// DefaultChunkThreshold is the content length above which a root document is
// split into chunk children.
const DefaultChunkThreshold = 2000

// EntryRepositoryInterface defines the repository interface for entry persistence
type EntryRepositoryInterface interface {
	Create(ctx context.Context, e *domain.KnowledgeEntry) error
	GetByID(ctx context.Context, id string) (*domain.KnowledgeEntry, error)
	GetByIDs(ctx context.Context, ids []string) ([]*domain.KnowledgeEntry, error)
	Update(ctx context.Context, e *domain.KnowledgeEntry) error
	Delete(ctx context.Context, id string) error
	ListChunks(ctx context.Context, parentID string) ([]*domain.KnowledgeEntry, error)
	DeleteChunks(ctx context.Context, parentID string) error
	ListRootsWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*EntryPageResult, error)
	// LockEntry takes a per-entry advisory lock; it is only meaningful inside
	// a transaction and serializes concurrent re-chunking of the same root.
	LockEntry(ctx context.Context, id string) error
}

// EntryPageResult is one page of root entries.
type EntryPageResult struct {
	Items      []*domain.KnowledgeEntry
	NextCursor string
	HasMore    bool
}

// EmbeddingGateway produces vectors for text, or nil when unavailable.
type EmbeddingGateway interface {
	Embed(ctx context.Context, text string) []float32
	Available() bool
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// KnowledgeConfig controls ingestion behavior.
type KnowledgeConfig struct {
	ChunkThreshold int
	Chunk          ChunkConfig
}

// DefaultKnowledgeConfig returns the default ingestion configuration.
func DefaultKnowledgeConfig() KnowledgeConfig {
	return KnowledgeConfig{
		ChunkThreshold: DefaultChunkThreshold,
		Chunk:          DefaultChunkConfig(),
	}
}

// KnowledgeService owns persistence of entries and their chunk children,
// including atomic re-chunking on update and cascading delete.
type KnowledgeService struct {
	repo    EntryRepositoryInterface
	tx      TxRunner
	gateway EmbeddingGateway
	uuidGen UUIDGenerator
	cfg     KnowledgeConfig
}

// NewKnowledgeService creates a new KnowledgeService instance
func NewKnowledgeService(repo EntryRepositoryInterface, tx TxRunner, gateway EmbeddingGateway) *KnowledgeService {
	return NewKnowledgeServiceWithConfig(repo, tx, gateway, DefaultKnowledgeConfig())
}

// NewKnowledgeServiceWithConfig creates a KnowledgeService with explicit configuration.
func NewKnowledgeServiceWithConfig(repo EntryRepositoryInterface, tx TxRunner, gateway EmbeddingGateway, cfg KnowledgeConfig) *KnowledgeService {
	if cfg.ChunkThreshold <= 0 {
		cfg.ChunkThreshold = DefaultChunkThreshold
	}
	if cfg.Chunk.MaxChars <= 0 {
		cfg.Chunk = DefaultChunkConfig()
	}
	return &KnowledgeService{
		repo:    repo,
		tx:      tx,
		gateway: gateway,
		uuidGen: &DefaultUUIDGenerator{},
		cfg:     cfg,
	}
}

// WithUUIDGen overrides the UUID generator (for testing).
func (s *KnowledgeService) WithUUIDGen(gen UUIDGenerator) *KnowledgeService {
	s.uuidGen = gen
	return s
}

// CreateInput represents the input for creating a root entry.
type CreateInput struct {
	Title           string
	URL             string
	Content         string
	Summary         string
	Tags            []string
	Source          domain.EntrySource
	SourceMessageID string
}

// UpdatePatch represents a partial update to a root entry. Nil fields are
// left unchanged.
type UpdatePatch struct {
	Title           *string
	URL             *string
	Content         *string
	Summary         *string
	Tags            *[]string
	Source          *domain.EntrySource
	SourceMessageID *string
}

// ListInput represents input for listing root entries.
type ListInput struct {
	Cursor string
	Limit  int
}

// ListOutput is one page of root entries.
type ListOutput struct {
	Items   []*domain.KnowledgeEntry
	Cursor  string
	HasMore bool
}

// Create persists a new root entry. The root embedding is generated first;
// when the content exceeds the chunk threshold, chunk children are embedded
// and persisted after the root within the same transaction, so a chunk never
// exists without its parent.
func (s *KnowledgeService) Create(ctx context.Context, input CreateInput) (*domain.KnowledgeEntry, int, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Create", telemetry.SpanAttributes{
		Operation: "create",
	})
	defer span.End()

	now := time.Now().UTC()
	root := &domain.KnowledgeEntry{
		ID:              s.uuidGen.NewString(),
		Title:           input.Title,
		URL:             input.URL,
		Content:         input.Content,
		Summary:         input.Summary,
		Tags:            input.Tags,
		Source:          input.Source,
		SourceMessageID: input.SourceMessageID,
		ChunkIndex:      domain.RootChunkIndex,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := domain.ValidateEntry(root); err != nil {
		return nil, 0, err
	}

	// Embeddings are generated before the transaction opens; provider calls
	// must not hold a database transaction open.
	root.Embedding = s.gateway.Embed(ctx, buildRootEmbeddingText(root))
	chunks := s.buildChunks(ctx, root, now)

	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		entries := repos.Entries()
		if err := entries.Create(ctx, root); err != nil {
			return err
		}
		for _, c := range chunks {
			if err := entries.Create(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return root, len(chunks), nil
}

// Update applies a partial patch to a root entry. A content change
// invalidates all chunks: they are deleted and recreated from the new
// content (never patched in place), under a per-entry advisory lock so
// concurrent updates to the same root cannot interleave.
func (s *KnowledgeService) Update(ctx context.Context, id string, patch UpdatePatch) (*domain.KnowledgeEntry, int, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Update", telemetry.SpanAttributes{
		EntryID:   id,
		Operation: "update",
	})
	defer span.End()

	entry, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if entry.IsChunk() {
		return nil, 0, domain.ErrChunkNotEditable
	}

	contentChanged := applyPatch(entry, patch)
	entry.UpdatedAt = time.Now().UTC()

	if err := domain.ValidateEntry(entry); err != nil {
		return nil, 0, err
	}

	// Regenerate the root embedding so the stored vector stays connected to
	// the text that produced it.
	entry.Embedding = s.gateway.Embed(ctx, buildRootEmbeddingText(entry))

	var chunks []*domain.KnowledgeEntry
	if contentChanged {
		chunks = s.buildChunks(ctx, entry, entry.UpdatedAt)
	}

	err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
		entries := repos.Entries()
		if err := entries.LockEntry(ctx, entry.ID); err != nil {
			return err
		}
		if err := entries.Update(ctx, entry); err != nil {
			return err
		}
		if contentChanged {
			if err := entries.DeleteChunks(ctx, entry.ID); err != nil {
				return err
			}
			for _, c := range chunks {
				if err := entries.Create(ctx, c); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return entry, len(chunks), nil
}

// Delete removes a root entry and all of its chunks transactionally, chunks
// first, so no orphaned chunk can survive. Chunks cannot be deleted
// individually; removing one would leave a gap in its siblings' indices.
func (s *KnowledgeService) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Delete", telemetry.SpanAttributes{
		EntryID:   id,
		Operation: "delete",
	})
	defer span.End()

	entry, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if entry.IsChunk() {
		return domain.ErrChunkNotEditable
	}

	return s.tx.WithTx(ctx, func(repos TxRepositories) error {
		entries := repos.Entries()
		if err := entries.LockEntry(ctx, id); err != nil {
			return err
		}
		if err := entries.DeleteChunks(ctx, id); err != nil {
			return err
		}
		return entries.Delete(ctx, id)
	})
}

// Get retrieves an entry by ID.
func (s *KnowledgeService) Get(ctx context.Context, id string) (*domain.KnowledgeEntry, error) {
	return s.repo.GetByID(ctx, id)
}

// GetChunks returns the chunks of a root ordered by chunk index.
func (s *KnowledgeService) GetChunks(ctx context.Context, id string) ([]*domain.KnowledgeEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.GetChunks", telemetry.SpanAttributes{
		EntryID:   id,
		Operation: "chunks",
	})
	defer span.End()

	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListChunks(ctx, id)
}

// List returns a page of root entries, newest first.
func (s *KnowledgeService) List(ctx context.Context, input ListInput) (*ListOutput, error) {
	cursor, _ := pagination.DecodeCursor(input.Cursor)
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	result, err := s.repo.ListRootsWithCursor(ctx, cursor, limit)
	if err != nil {
		return nil, err
	}

	return &ListOutput{
		Items:   result.Items,
		Cursor:  result.NextCursor,
		HasMore: result.HasMore,
	}, nil
}

// buildChunks splits the root content and embeds each chunk. Returns nil when
// the content does not exceed the chunk threshold.
func (s *KnowledgeService) buildChunks(ctx context.Context, root *domain.KnowledgeEntry, now time.Time) []*domain.KnowledgeEntry {
	if len([]rune(root.Content)) <= s.cfg.ChunkThreshold {
		return nil
	}

	pieces := ChunkText(root.Content, s.cfg.Chunk)
	entries := make([]*domain.KnowledgeEntry, 0, len(pieces))
	for _, piece := range pieces {
		entry := &domain.KnowledgeEntry{
			ID:         s.uuidGen.NewString(),
			Title:      fmt.Sprintf("%s [chunk %d/%d]", root.Title, piece.Index+1, len(pieces)),
			Content:    piece.Text,
			Tags:       root.Tags,
			Source:     root.Source,
			ParentID:   root.ID,
			ChunkIndex: piece.Index,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		entry.Embedding = s.gateway.Embed(ctx, buildChunkEmbeddingText(root.Title, piece.Text))
		entries = append(entries, entry)
	}
	return entries
}

// applyPatch mutates entry in place and reports whether content changed.
func applyPatch(entry *domain.KnowledgeEntry, patch UpdatePatch) bool {
	contentChanged := false
	if patch.Title != nil {
		entry.Title = *patch.Title
	}
	if patch.URL != nil {
		entry.URL = *patch.URL
	}
	if patch.Content != nil && *patch.Content != entry.Content {
		entry.Content = *patch.Content
		contentChanged = true
	}
	if patch.Summary != nil {
		entry.Summary = *patch.Summary
	}
	if patch.Tags != nil {
		entry.Tags = *patch.Tags
	}
	if patch.Source != nil {
		entry.Source = *patch.Source
	}
	if patch.SourceMessageID != nil {
		entry.SourceMessageID = *patch.SourceMessageID
	}
	return contentChanged
}

// buildRootEmbeddingText renders a root for embedding: title, summary, content.
func buildRootEmbeddingText(e *domain.KnowledgeEntry) string {
	var parts []string
	if e.Title != "" {
		parts = append(parts, e.Title)
	}
	if e.Summary != "" {
		parts = append(parts, e.Summary)
	}
	if e.Content != "" {
		parts = append(parts, e.Content)
	}
	return strings.Join(parts, "\n\n")
}

// buildChunkEmbeddingText renders a chunk for embedding: title, chunk text.
func buildChunkEmbeddingText(title, chunk string) string {
	var parts []string
	if title != "" {
		parts = append(parts, title)
	}
	if chunk != "" {
		parts = append(parts, chunk)
	}
	return strings.Join(parts, "\n\n")
}
