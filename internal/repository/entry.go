package repository

import (
	"context"
	"errors"

	"github.com/everkeep-ai/everkeep/internal/domain"
	"github.com/everkeep-ai/everkeep/internal/pagination"
	"github.com/everkeep-ai/everkeep/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EntryRepository handles persistence of knowledge entries and their chunks.
// Embeddings are write-only here; reads never pull vectors back out.
type EntryRepository struct {
	db dbtx
}

func NewEntryRepository(pool *pgxpool.Pool) *EntryRepository {
	return &EntryRepository{db: pool}
}

func NewEntryRepositoryWithTx(tx pgx.Tx) *EntryRepository {
	return &EntryRepository{db: tx}
}

func (r *EntryRepository) Create(ctx context.Context, e *domain.KnowledgeEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO knowledge_entries
			(id, title, url, content, summary, tags, source, source_message_id, embedding, parent_id, chunk_index, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.Title, nullableString(e.URL), e.Content, nullableString(e.Summary), nonNilTags(e.Tags), e.Source,
		nullableString(e.SourceMessageID), nullableVector(e.Embedding), nullableString(e.ParentID),
		e.ChunkIndex, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (r *EntryRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeEntry, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, title, url, content, summary, tags, source, source_message_id, parent_id, chunk_index, created_at, updated_at
		 FROM knowledge_entries WHERE id = $1`,
		id,
	)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *EntryRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.KnowledgeEntry, error) {
	if len(ids) == 0 {
		return []*domain.KnowledgeEntry{}, nil
	}

	rows, err := r.db.Query(ctx,
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

func (r *EntryRepository) Update(ctx context.Context, e *domain.KnowledgeEntry) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_entries
		 SET title = $1, url = $2, content = $3, summary = $4, tags = $5, source = $6, source_message_id = $7, embedding = $8, updated_at = $9
		 WHERE id = $10`,
		e.Title, nullableString(e.URL), e.Content, nullableString(e.Summary), nonNilTags(e.Tags), e.Source,
		nullableString(e.SourceMessageID), nullableVector(e.Embedding), e.UpdatedAt, e.ID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrEntryNotFound
	}
	return nil
}

func (r *EntryRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM knowledge_entries WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrEntryNotFound
	}
	return nil
}

func (r *EntryRepository) ListChunks(ctx context.Context, parentID string) ([]*domain.KnowledgeEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, url, content, summary, tags, source, source_message_id, parent_id, chunk_index, created_at, updated_at
		 FROM knowledge_entries WHERE parent_id = $1 ORDER BY chunk_index ASC`,
		parentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntryRows(rows)
}

func (r *EntryRepository) DeleteChunks(ctx context.Context, parentID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM knowledge_entries WHERE parent_id = $1`,
		parentID,
	)
	return err
}

func (r *EntryRepository) ListRootsWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*service.EntryPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, title, url, content, summary, tags, source, source_message_id, parent_id, chunk_index, created_at, updated_at
			 FROM knowledge_entries
			 WHERE parent_id IS NULL AND (updated_at, id) < ($1, $2)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $3`,
			cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, title, url, content, summary, tags, source, source_message_id, parent_id, chunk_index, created_at, updated_at
			 FROM knowledge_entries
			 WHERE parent_id IS NULL
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $1`,
			limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanEntryRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		lastItem := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(lastItem.ID, lastItem.UpdatedAt)
	}

	return &service.EntryPageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// LockEntry takes a transaction-scoped advisory lock keyed on the entry id.
// Released automatically at commit or rollback.
func (r *EntryRepository) LockEntry(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		id,
	)
	return err
}

// ListMissingEmbeddings returns ids of entries whose embedding is NULL,
// oldest first.
func (r *EntryRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]*domain.KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, title, url, content, summary, tags, source, source_message_id, parent_id, chunk_index, created_at, updated_at
		 FROM knowledge_entries
		 WHERE embedding IS NULL
		 ORDER BY updated_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntryRows(rows)
}

func (r *EntryRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_entries SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(embedding), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrEntryNotFound
	}
	return nil
}

func scanEntry(row pgx.Row) (*domain.KnowledgeEntry, error) {
	var e domain.KnowledgeEntry
	var url, summary, sourceMessageID, parentID *string
	if err := row.Scan(&e.ID, &e.Title, &url, &e.Content, &summary, &e.Tags, &e.Source,
		&sourceMessageID, &parentID, &e.ChunkIndex, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if url != nil {
		e.URL = *url
	}
	if summary != nil {
		e.Summary = *summary
	}
	if sourceMessageID != nil {
		e.SourceMessageID = *sourceMessageID
	}
	if parentID != nil {
		e.ParentID = *parentID
	}
	return &e, nil
}

func scanEntryRows(rows pgx.Rows) ([]*domain.KnowledgeEntry, error) {
	var results []*domain.KnowledgeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// nonNilTags keeps nil tag slices from being encoded as SQL NULL; the tags
// column is NOT NULL with an empty-array default.
func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableVector(v []float32) *pgvector.Vector {
	if v == nil {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}
