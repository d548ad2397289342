package repository

import (
	"context"

	"github.com/everkeep-ai/everkeep/internal/domain"
	"github.com/everkeep-ai/everkeep/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// SearchRepository implements lexical and vector retrieval over entries.
type SearchRepository struct {
	pool *pgxpool.Pool
}

func NewSearchRepository(pool *pgxpool.Pool) *SearchRepository {
	return &SearchRepository{pool: pool}
}

// SearchLexical ranks root entries against a tsquery expression. Chunks are
// excluded so a long document cannot crowd out other roots.
func (r *SearchRepository) SearchLexical(ctx context.Context, tsquery string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id
		 FROM knowledge_entries
		 WHERE parent_id IS NULL AND search_tsv @@ to_tsquery('simple', $1)
		 ORDER BY ts_rank(search_tsv, to_tsquery('simple', $1)) DESC, updated_at DESC
		 LIMIT $2`,
		tsquery, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchSemantic ranks all embedded entries, roots and chunks alike, by
// cosine distance to the query vector.
func (r *SearchRepository) SearchSemantic(ctx context.Context, embedding []float32, limit int) ([]service.SemanticHit, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, parent_id
		 FROM knowledge_entries
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(embedding), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []service.SemanticHit
	for rows.Next() {
		var hit service.SemanticHit
		var parentID *string
		if err := rows.Scan(&hit.ID, &parentID); err != nil {
			return nil, err
		}
		if parentID != nil {
			hit.ParentID = *parentID
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// GetByIDs fetches full entries for a fused result set.
func (r *SearchRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.KnowledgeEntry, error) {
	if len(ids) == 0 {
		return []*domain.KnowledgeEntry{}, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, title, url, content, summary, tags, source, source_message_id, parent_id, chunk_index, created_at, updated_at
		 FROM knowledge_entries WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntryRows(rows)
}
