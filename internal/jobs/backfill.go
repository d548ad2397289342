package jobs

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/everkeep-ai/everkeep/internal/domain"
)

// DefaultBackfillBatchSize bounds how many entries one pass re-embeds.
const DefaultBackfillBatchSize = 20

// BackfillRepository defines the persistence interface for the backfill pass.
type BackfillRepository interface {
	// ListMissingEmbeddings returns entries stored without a vector, oldest
	// update first.
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*domain.KnowledgeEntry, error)

	// UpdateEmbedding sets the vector for an entry.
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
}

// EmbeddingGateway produces vectors for text, or nil when unavailable.
type EmbeddingGateway interface {
	Embed(ctx context.Context, text string) []float32
	Available() bool
}

// BackfillWorker re-embeds entries that were persisted while every embedding
// provider was down. Entries with NULL vectors are invisible to semantic
// search until this pass catches up.
type BackfillWorker struct {
	repo      BackfillRepository
	gateway   EmbeddingGateway
	batchSize int
}

// NewBackfillWorker creates a new BackfillWorker instance
func NewBackfillWorker(repo BackfillRepository, gateway EmbeddingGateway, batchSize int) *BackfillWorker {
	if batchSize <= 0 {
		batchSize = DefaultBackfillBatchSize
	}
	return &BackfillWorker{
		repo:      repo,
		gateway:   gateway,
		batchSize: batchSize,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *BackfillWorker) ProcessJobs(ctx context.Context) error {
	if !w.gateway.Available() {
		return nil
	}

	entries, err := w.repo.ListMissingEmbeddings(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list entries missing embeddings: %w", err)
	}

	if len(entries) == 0 {
		return nil
	}

	log.Printf("Backfilling embeddings for %d entries", len(entries))

	for _, entry := range entries {
		vector := w.gateway.Embed(ctx, embeddingText(entry))
		if vector == nil {
			// Providers went away mid-pass; the rest stays for the next tick.
			log.Printf("Backfill halted: embedding unavailable for entry %s", entry.ID)
			return nil
		}
		if err := w.repo.UpdateEmbedding(ctx, entry.ID, vector); err != nil {
			log.Printf("Error backfilling embedding for entry %s: %v", entry.ID, err)
		}
	}

	return nil
}

// embeddingText renders an entry the same way the write path does: roots as
// title, summary, content; chunks as the parent title plus chunk text. Stored
// chunk titles carry a position label that must not leak into the vector.
func embeddingText(e *domain.KnowledgeEntry) string {
	title := e.Title
	if e.IsChunk() {
		title = chunkBaseTitle(title)
	}

	var parts []string
	if title != "" {
		parts = append(parts, title)
	}
	if e.Summary != "" {
		parts = append(parts, e.Summary)
	}
	if e.Content != "" {
		parts = append(parts, e.Content)
	}
	return strings.Join(parts, "\n\n")
}

// chunkBaseTitle strips the trailing " [chunk i/N]" label from a stored chunk
// title.
func chunkBaseTitle(title string) string {
	if i := strings.LastIndex(title, " [chunk "); i >= 0 && strings.HasSuffix(title, "]") {
		return title[:i]
	}
	return title
}
