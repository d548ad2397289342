package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/everkeep-ai/everkeep/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockBackfillRepository is a mock implementation of BackfillRepository
type MockBackfillRepository struct {
	mock.Mock
}

func (m *MockBackfillRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]*domain.KnowledgeEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeEntry), args.Error(1)
}

func (m *MockBackfillRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	args := m.Called(ctx, id, embedding)
	return args.Error(0)
}

// stubGateway returns a fixed vector, or nil when unavailable
type stubGateway struct {
	vector []float32
	texts  []string
}

func (g *stubGateway) Embed(ctx context.Context, text string) []float32 {
	g.texts = append(g.texts, text)
	return g.vector
}
func (g *stubGateway) Available() bool { return g.vector != nil }

// TestWorker_RunsImmediatelyThenStopsOnCancel tests the worker lifecycle
func TestWorker_RunsImmediatelyThenStopsOnCancel(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	// Long interval: only the immediate first pass can run.
	worker := NewWorker(mockProcessor, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-worker.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}

	mockProcessor.AssertNumberOfCalls(t, "ProcessJobs", 1)
}

// TestWorker_TicksOnInterval tests repeated passes
func TestWorker_TicksOnInterval(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	time.Sleep(175 * time.Millisecond)
	cancel()
	<-worker.Done()

	// Immediate pass plus at least two ticks.
	calls := len(mockProcessor.Calls)
	assert.GreaterOrEqual(t, calls, 3)
}

// TestWorker_ContinuesPastProcessorError tests that a failing pass does not
// stop the loop
func TestWorker_ContinuesPastProcessorError(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(errors.New("pass failed"))

	worker := NewWorker(mockProcessor, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	time.Sleep(125 * time.Millisecond)
	cancel()
	<-worker.Done()

	assert.GreaterOrEqual(t, len(mockProcessor.Calls), 2)
}

// TestBackfillWorker_ProcessJobs_NoMissingEntries tests when everything is embedded
func TestBackfillWorker_ProcessJobs_NoMissingEntries(t *testing.T) {
	mockRepo := new(MockBackfillRepository)
	gateway := &stubGateway{vector: []float32{0.1}}

	mockRepo.On("ListMissingEmbeddings", mock.Anything, DefaultBackfillBatchSize).
		Return([]*domain.KnowledgeEntry{}, nil)

	worker := NewBackfillWorker(mockRepo, gateway, 0)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockRepo.AssertNotCalled(t, "UpdateEmbedding", mock.Anything, mock.Anything, mock.Anything)
}

// TestBackfillWorker_ProcessJobs_Success tests re-embedding of NULL-vector entries
func TestBackfillWorker_ProcessJobs_Success(t *testing.T) {
	mockRepo := new(MockBackfillRepository)
	gateway := &stubGateway{vector: []float32{0.5, 0.5}}

	entries := []*domain.KnowledgeEntry{
		{ID: "entry-1", Title: "First", Content: "content one"},
		{ID: "entry-2", Title: "Second", Content: "content two"},
	}

	mockRepo.On("ListMissingEmbeddings", mock.Anything, 10).Return(entries, nil)
	mockRepo.On("UpdateEmbedding", mock.Anything, "entry-1", []float32{0.5, 0.5}).Return(nil)
	mockRepo.On("UpdateEmbedding", mock.Anything, "entry-2", []float32{0.5, 0.5}).Return(nil)

	worker := NewBackfillWorker(mockRepo, gateway, 10)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

// TestBackfillWorker_ProcessJobs_GatewayUnavailable tests the idle path
func TestBackfillWorker_ProcessJobs_GatewayUnavailable(t *testing.T) {
	mockRepo := new(MockBackfillRepository)
	gateway := &stubGateway{vector: nil}

	worker := NewBackfillWorker(mockRepo, gateway, 10)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertNotCalled(t, "ListMissingEmbeddings", mock.Anything, mock.Anything)
}

// TestBackfillWorker_ProcessJobs_RepositoryError tests repository error handling
func TestBackfillWorker_ProcessJobs_RepositoryError(t *testing.T) {
	mockRepo := new(MockBackfillRepository)
	gateway := &stubGateway{vector: []float32{0.1}}

	mockRepo.On("ListMissingEmbeddings", mock.Anything, 10).
		Return(nil, errors.New("database error"))

	worker := NewBackfillWorker(mockRepo, gateway, 10)
	err := worker.ProcessJobs(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list entries missing embeddings")
	mockRepo.AssertExpectations(t)
}

// TestBackfillWorker_ProcessJobs_ChunkRendering tests that chunks are
// re-embedded from the parent title and chunk text, without the position label
func TestBackfillWorker_ProcessJobs_ChunkRendering(t *testing.T) {
	mockRepo := new(MockBackfillRepository)
	gateway := &stubGateway{vector: []float32{0.1}}

	entries := []*domain.KnowledgeEntry{
		{
			ID:         "chunk-1",
			Title:      "Deploy runbook [chunk 2/3]",
			Content:    "chunk body",
			ParentID:   "root-1",
			ChunkIndex: 1,
		},
	}

	mockRepo.On("ListMissingEmbeddings", mock.Anything, 10).Return(entries, nil)
	mockRepo.On("UpdateEmbedding", mock.Anything, "chunk-1", mock.Anything).Return(nil)

	worker := NewBackfillWorker(mockRepo, gateway, 10)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, []string{"Deploy runbook\n\nchunk body"}, gateway.texts)
}

// TestBackfillWorker_ProcessJobs_ContinuesPastUpdateError tests per-entry error isolation
func TestBackfillWorker_ProcessJobs_ContinuesPastUpdateError(t *testing.T) {
	mockRepo := new(MockBackfillRepository)
	gateway := &stubGateway{vector: []float32{0.1}}

	entries := []*domain.KnowledgeEntry{
		{ID: "entry-1", Title: "First", Content: "content"},
		{ID: "entry-2", Title: "Second", Content: "content"},
	}

	mockRepo.On("ListMissingEmbeddings", mock.Anything, 10).Return(entries, nil)
	mockRepo.On("UpdateEmbedding", mock.Anything, "entry-1", mock.Anything).Return(errors.New("write failed"))
	mockRepo.On("UpdateEmbedding", mock.Anything, "entry-2", mock.Anything).Return(nil)

	worker := NewBackfillWorker(mockRepo, gateway, 10)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}
