package service

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/everkeep-ai/everkeep/internal/domain"
	"github.com/everkeep-ai/everkeep/internal/telemetry"
)

// SearchMode selects which retrieval paths run.
type SearchMode string

const (
	SearchModeKeyword  SearchMode = "keyword"
	SearchModeSemantic SearchMode = "semantic"
	SearchModeHybrid   SearchMode = "hybrid"
)

const (
	// DefaultRRFK is the reciprocal rank fusion constant.
	DefaultRRFK = 60
	// DefaultSearchLimit is used when the caller does not set one.
	DefaultSearchLimit = 10
	// DefaultSearchLimitCap bounds the caller-supplied limit.
	DefaultSearchLimitCap = 50

	// candidateMultiplier widens each path's candidate pool before fusion.
	candidateMultiplier = 2

	// lexicalFallbackHint explains an empty semantic result set when no
	// embedding provider is available.
	lexicalFallbackHint = "no embedding provider available; retry with mode=keyword"
)

// SemanticHit is one vector-ranked candidate. ParentID is set when the hit
// landed on a chunk rather than a root document.
type SemanticHit struct {
	ID       string
	ParentID string
}

// SearchRepositoryInterface defines the repository interface for retrieval.
type SearchRepositoryInterface interface {
	// SearchLexical returns root entry ids ranked by lexical relevance for a
	// conjunctive tsquery expression.
	SearchLexical(ctx context.Context, tsquery string, limit int) ([]string, error)
	// SearchSemantic returns entry ids (roots and chunks) ranked by vector
	// distance, nearest first.
	SearchSemantic(ctx context.Context, embedding []float32, limit int) ([]SemanticHit, error)
	GetByIDs(ctx context.Context, ids []string) ([]*domain.KnowledgeEntry, error)
}

// SearchConfig controls retrieval behavior.
type SearchConfig struct {
	RRFK     int
	Limit    int
	LimitCap int
}

// DefaultSearchConfig returns the default retrieval configuration.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		RRFK:     DefaultRRFK,
		Limit:    DefaultSearchLimit,
		LimitCap: DefaultSearchLimitCap,
	}
}

// SearchInput represents input for a search operation.
type SearchInput struct {
	Query string
	Mode  SearchMode
	Limit int
}

// SearchMeta reports per-path candidate counts for observability.
type SearchMeta struct {
	KeywordHits  int
	SemanticHits int
	FusedCount   int
}

// SearchOutput represents the outcome of a search operation.
type SearchOutput struct {
	Results []*domain.KnowledgeEntry
	Method  SearchMode
	Meta    SearchMeta
	// Hint is set when a path degraded, e.g. semantic search without any
	// embedding provider configured.
	Hint string
}

// SearchService fuses lexical and vector retrieval over the knowledge store.
type SearchService struct {
	repo    SearchRepositoryInterface
	gateway EmbeddingGateway
	cfg     SearchConfig
}

// NewSearchService creates a new SearchService instance
func NewSearchService(repo SearchRepositoryInterface, gateway EmbeddingGateway) *SearchService {
	return NewSearchServiceWithConfig(repo, gateway, DefaultSearchConfig())
}

// NewSearchServiceWithConfig creates a SearchService with explicit configuration.
func NewSearchServiceWithConfig(repo SearchRepositoryInterface, gateway EmbeddingGateway, cfg SearchConfig) *SearchService {
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultSearchLimit
	}
	if cfg.LimitCap <= 0 {
		cfg.LimitCap = DefaultSearchLimitCap
	}
	return &SearchService{
		repo:    repo,
		gateway: gateway,
		cfg:     cfg,
	}
}

// Search runs the requested retrieval paths and returns root-level entries in
// rank order. In hybrid mode the two paths are fused with reciprocal rank
// fusion; a missing embedding degrades hybrid to keyword-only and makes pure
// semantic mode return an empty set with a lexical-fallback hint.
func (s *SearchService) Search(ctx context.Context, input SearchInput) (*SearchOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "SearchService.Search", telemetry.SpanAttributes{
		Operation: "search",
	})
	defer span.End()

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}

	mode := normalizeSearchMode(input.Mode)
	limit := s.clampLimit(input.Limit)
	candidateLimit := limit * candidateMultiplier

	var keywordIDs []string
	var err error
	if mode != SearchModeSemantic {
		keywordIDs, err = s.keywordCandidates(ctx, query, candidateLimit)
		if err != nil {
			return nil, err
		}
	}

	var semanticIDs []string
	embeddingAvailable := false
	if mode != SearchModeKeyword {
		vector := s.gateway.Embed(ctx, query)
		if vector != nil {
			embeddingAvailable = true
			semanticIDs, err = s.semanticCandidates(ctx, vector, candidateLimit)
			if err != nil {
				return nil, err
			}
		}
	}

	switch mode {
	case SearchModeKeyword:
		results, err := s.fetchOrdered(ctx, topN(keywordIDs, limit))
		if err != nil {
			return nil, err
		}
		return &SearchOutput{
			Results: results,
			Method:  SearchModeKeyword,
			Meta:    SearchMeta{KeywordHits: len(keywordIDs)},
		}, nil

	case SearchModeSemantic:
		if !embeddingAvailable {
			return &SearchOutput{
				Results: []*domain.KnowledgeEntry{},
				Method:  SearchModeSemantic,
				Hint:    lexicalFallbackHint,
			}, nil
		}
		results, err := s.fetchOrdered(ctx, topN(semanticIDs, limit))
		if err != nil {
			return nil, err
		}
		return &SearchOutput{
			Results: results,
			Method:  SearchModeSemantic,
			Meta:    SearchMeta{SemanticHits: len(semanticIDs)},
		}, nil
	}

	fused := fuseRRF(s.cfg.RRFK, keywordIDs, semanticIDs)
	results, err := s.fetchOrdered(ctx, topN(fused, limit))
	if err != nil {
		return nil, err
	}

	return &SearchOutput{
		Results: results,
		Method:  SearchModeHybrid,
		Meta: SearchMeta{
			KeywordHits:  len(keywordIDs),
			SemanticHits: len(semanticIDs),
			FusedCount:   len(fused),
		},
	}, nil
}

func (s *SearchService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.Limit
	}
	if limit > s.cfg.LimitCap {
		return s.cfg.LimitCap
	}
	return limit
}

// keywordCandidates runs the lexical path: conjunctive term match over root
// entries only, so near-identical chunk hits cannot dominate results.
func (s *SearchService) keywordCandidates(ctx context.Context, query string, limit int) ([]string, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	return s.repo.SearchLexical(ctx, strings.Join(terms, " & "), limit)
}

// semanticCandidates runs the vector path over all entries. A hit that lands
// on a chunk is resolved to its root document; the best rank per root wins.
func (s *SearchService) semanticCandidates(ctx context.Context, vector []float32, limit int) ([]string, error) {
	hits, err := s.repo.SearchSemantic(ctx, vector, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(hits))
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		id := hit.ID
		if hit.ParentID != "" {
			id = hit.ParentID
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// fetchOrdered fetches entries by id set and reorders them to match ids,
// since bulk fetch does not preserve order.
func (s *SearchService) fetchOrdered(ctx context.Context, ids []string) ([]*domain.KnowledgeEntry, error) {
	if len(ids) == 0 {
		return []*domain.KnowledgeEntry{}, nil
	}

	entries, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.KnowledgeEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	ordered := make([]*domain.KnowledgeEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}

// fuseRRF merges ranked id lists with reciprocal rank fusion: a candidate at
// zero-based rank i contributes 1/(k+i+1), summed across lists. The sort is
// stable, so ties keep first-seen order.
func fuseRRF(k int, lists ...[]string) []string {
	scores := make(map[string]float64)
	order := make([]string, 0)

	for _, list := range lists {
		for i, id := range list {
			if _, ok := scores[id]; !ok {
				order = append(order, id)
			}
			scores[id] += 1.0 / float64(k+i+1)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	return order
}

func topN(ids []string, n int) []string {
	if len(ids) <= n {
		return ids
	}
	return ids[:n]
}

func normalizeSearchMode(mode SearchMode) SearchMode {
	switch strings.ToLower(strings.TrimSpace(string(mode))) {
	case string(SearchModeKeyword):
		return SearchModeKeyword
	case string(SearchModeSemantic):
		return SearchModeSemantic
	default:
		return SearchModeHybrid
	}
}

// queryTerms splits a query into alphanumeric terms, keeping non-Latin
// letters intact.
func queryTerms(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
