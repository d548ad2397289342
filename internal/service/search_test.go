package service

import (
	"context"
	"errors"
	"testing"

	"github.com/everkeep-ai/everkeep/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSearchRepository is a mock implementation of SearchRepositoryInterface
type MockSearchRepository struct {
	mock.Mock
}

func (m *MockSearchRepository) SearchLexical(ctx context.Context, tsquery string, limit int) ([]string, error) {
	args := m.Called(ctx, tsquery, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSearchRepository) SearchSemantic(ctx context.Context, embedding []float32, limit int) ([]SemanticHit, error) {
	args := m.Called(ctx, embedding, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]SemanticHit), args.Error(1)
}

func (m *MockSearchRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.KnowledgeEntry, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeEntry), args.Error(1)
}

func entriesFor(ids ...string) []*domain.KnowledgeEntry {
	entries := make([]*domain.KnowledgeEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, &domain.KnowledgeEntry{
			ID:         id,
			Title:      "Entry " + id,
			Content:    "content",
			Source:     domain.EntrySourceManual,
			ChunkIndex: domain.RootChunkIndex,
		})
	}
	return entries
}

func resultIDs(out *SearchOutput) []string {
	ids := make([]string, 0, len(out.Results))
	for _, e := range out.Results {
		ids = append(ids, e.ID)
	}
	return ids
}

// TestSearchService_Search_Keyword tests the keyword-only path
func TestSearchService_Search_Keyword(t *testing.T) {
	ctx := context.Background()

	t.Run("returns lexical matches in rank order", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		gateway := &stubGateway{vector: []float32{0.1}}
		service := NewSearchService(mockRepo, gateway)

		mockRepo.On("SearchLexical", mock.Anything, "deploy & runbook", 20).
			Return([]string{"a", "b"}, nil)
		mockRepo.On("GetByIDs", mock.Anything, []string{"a", "b"}).
			Return(entriesFor("b", "a"), nil)

		// Execute
		out, err := service.Search(ctx, SearchInput{Query: "deploy runbook", Mode: SearchModeKeyword})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, SearchModeKeyword, out.Method)
		assert.Equal(t, []string{"a", "b"}, resultIDs(out))
		assert.Equal(t, 2, out.Meta.KeywordHits)
		assert.Equal(t, 0, out.Meta.SemanticHits)
		// The embedding provider is never consulted in keyword mode
		assert.Equal(t, 0, gateway.calls)
		mockRepo.AssertExpectations(t)
	})

	t.Run("punctuation-only query yields no candidates", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		gateway := &stubGateway{vector: []float32{0.1}}
		service := NewSearchService(mockRepo, gateway)

		// Execute
		out, err := service.Search(ctx, SearchInput{Query: "?!-", Mode: SearchModeKeyword})

		// Assert
		require.NoError(t, err)
		assert.Empty(t, out.Results)
		mockRepo.AssertNotCalled(t, "SearchLexical", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("returns error on empty query", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		gateway := &stubGateway{vector: []float32{0.1}}
		service := NewSearchService(mockRepo, gateway)

		// Execute
		out, err := service.Search(ctx, SearchInput{Query: "   "})

		// Assert
		require.Error(t, err)
		assert.Nil(t, out)
		assert.Equal(t, domain.ErrEmptyQuery, err)
	})
}

// TestSearchService_Search_Semantic tests the semantic-only path
func TestSearchService_Search_Semantic(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves chunk hits to their root and dedupes", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		gateway := &stubGateway{vector: []float32{0.9}}
		service := NewSearchService(mockRepo, gateway)

		hits := []SemanticHit{
			{ID: "chunk-1", ParentID: "root-a"},
			{ID: "root-b"},
			{ID: "chunk-2", ParentID: "root-a"}, // same root, lower rank, dropped
		}
		mockRepo.On("SearchSemantic", mock.Anything, []float32{0.9}, 20).Return(hits, nil)
		mockRepo.On("GetByIDs", mock.Anything, []string{"root-a", "root-b"}).
			Return(entriesFor("root-a", "root-b"), nil)

		// Execute
		out, err := service.Search(ctx, SearchInput{Query: "vector stores", Mode: SearchModeSemantic})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, SearchModeSemantic, out.Method)
		assert.Equal(t, []string{"root-a", "root-b"}, resultIDs(out))
		assert.Equal(t, 2, out.Meta.SemanticHits)
		mockRepo.AssertExpectations(t)
	})

	t.Run("degrades to empty result with hint when no provider is available", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		gateway := &stubGateway{vector: nil}
		service := NewSearchService(mockRepo, gateway)

		// Execute
		out, err := service.Search(ctx, SearchInput{Query: "anything", Mode: SearchModeSemantic})

		// Assert
		require.NoError(t, err)
		assert.Empty(t, out.Results)
		assert.Equal(t, SearchModeSemantic, out.Method)
		assert.NotEmpty(t, out.Hint)
		mockRepo.AssertNotCalled(t, "SearchSemantic", mock.Anything, mock.Anything, mock.Anything)
	})
}

// TestSearchService_Search_Hybrid tests reciprocal rank fusion behavior
func TestSearchService_Search_Hybrid(t *testing.T) {
	ctx := context.Background()

	t.Run("entry present in both paths outranks single-path entries", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		gateway := &stubGateway{vector: []float32{0.9}}
		service := NewSearchService(mockRepo, gateway)

		// "both" is rank 1 lexically and rank 1 semantically; "lex-top" and
		// "sem-top" each lead a single list.
		mockRepo.On("SearchLexical", mock.Anything, "caching", 20).
			Return([]string{"lex-top", "both"}, nil)
		mockRepo.On("SearchSemantic", mock.Anything, []float32{0.9}, 20).
			Return([]SemanticHit{{ID: "sem-top"}, {ID: "both"}}, nil)
		mockRepo.On("GetByIDs", mock.Anything, []string{"both", "lex-top", "sem-top"}).
			Return(entriesFor("both", "lex-top", "sem-top"), nil)

		// Execute
		out, err := service.Search(ctx, SearchInput{Query: "caching", Mode: SearchModeHybrid})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, SearchModeHybrid, out.Method)
		assert.Equal(t, "both", out.Results[0].ID)
		assert.Equal(t, 2, out.Meta.KeywordHits)
		assert.Equal(t, 2, out.Meta.SemanticHits)
		assert.Equal(t, 3, out.Meta.FusedCount)
		mockRepo.AssertExpectations(t)
	})

	t.Run("unknown mode defaults to hybrid", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		gateway := &stubGateway{vector: []float32{0.9}}
		service := NewSearchService(mockRepo, gateway)

		mockRepo.On("SearchLexical", mock.Anything, "topic", 20).Return([]string{"a"}, nil)
		mockRepo.On("SearchSemantic", mock.Anything, mock.Anything, 20).Return([]SemanticHit{}, nil)
		mockRepo.On("GetByIDs", mock.Anything, []string{"a"}).Return(entriesFor("a"), nil)

		// Execute
		out, err := service.Search(ctx, SearchInput{Query: "topic", Mode: SearchMode("fuzzy")})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, SearchModeHybrid, out.Method)
	})

	t.Run("degrades to keyword-only when no provider is available", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		gateway := &stubGateway{vector: nil}
		service := NewSearchService(mockRepo, gateway)

		mockRepo.On("SearchLexical", mock.Anything, "incident & report", 20).
			Return([]string{"a", "b"}, nil)
		mockRepo.On("GetByIDs", mock.Anything, []string{"a", "b"}).
			Return(entriesFor("a", "b"), nil)

		// Execute
		out, err := service.Search(ctx, SearchInput{Query: "incident report", Mode: SearchModeHybrid})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, SearchModeHybrid, out.Method)
		assert.Equal(t, []string{"a", "b"}, resultIDs(out))
		assert.Equal(t, 0, out.Meta.SemanticHits)
		mockRepo.AssertNotCalled(t, "SearchSemantic", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("clamps limit to the configured cap", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		gateway := &stubGateway{vector: []float32{0.9}}
		service := NewSearchService(mockRepo, gateway)

		// Cap is 50, so a request of 500 fetches 100 candidates per path.
		mockRepo.On("SearchLexical", mock.Anything, "logs", 100).Return([]string{"a"}, nil)
		mockRepo.On("SearchSemantic", mock.Anything, mock.Anything, 100).Return([]SemanticHit{}, nil)
		mockRepo.On("GetByIDs", mock.Anything, []string{"a"}).Return(entriesFor("a"), nil)

		// Execute
		_, err := service.Search(ctx, SearchInput{Query: "logs", Mode: SearchModeHybrid, Limit: 500})

		// Assert
		require.NoError(t, err)
		mockRepo.AssertExpectations(t)
	})

	t.Run("returns error on lexical repository failure", func(t *testing.T) {
		mockRepo := new(MockSearchRepository)
		gateway := &stubGateway{vector: []float32{0.9}}
		service := NewSearchService(mockRepo, gateway)

		expectedErr := errors.New("database error")
		mockRepo.On("SearchLexical", mock.Anything, "topic", 20).Return(nil, expectedErr)

		// Execute
		out, err := service.Search(ctx, SearchInput{Query: "topic", Mode: SearchModeHybrid})

		// Assert
		require.Error(t, err)
		assert.Nil(t, out)
		assert.Equal(t, expectedErr, err)
	})
}

// TestFuseRRF tests reciprocal rank fusion directly
func TestFuseRRF(t *testing.T) {
	t.Run("sums contributions across lists", func(t *testing.T) {
		// "b" appears at rank 1 in list one and rank 0 in list two:
		// 1/62 + 1/61 > 1/61 ("a") and > 1/62 ("c").
		fused := fuseRRF(60, []string{"a", "b"}, []string{"b", "c"})
		assert.Equal(t, []string{"b", "a", "c"}, fused)
	})

	t.Run("ties keep first-seen order", func(t *testing.T) {
		fused := fuseRRF(60, []string{"a"}, []string{"b"})
		assert.Equal(t, []string{"a", "b"}, fused)
	})

	t.Run("empty lists fuse to empty", func(t *testing.T) {
		assert.Empty(t, fuseRRF(60, nil, nil))
	})
}
