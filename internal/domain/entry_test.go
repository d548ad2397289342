package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEntry() *KnowledgeEntry {
	now := time.Now().UTC()
	return &KnowledgeEntry{
		ID:         "entry-1",
		Title:      "Deployment runbook",
		Content:    "Steps to deploy the service safely.",
		Summary:    "How we deploy",
		Tags:       []string{"ops", "deploy"},
		Source:     EntrySourceManual,
		ChunkIndex: RootChunkIndex,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestValidateEntry_Valid(t *testing.T) {
	require.NoError(t, ValidateEntry(validEntry()))
}

func TestValidateEntry_ValidChunk(t *testing.T) {
	e := validEntry()
	e.ID = "entry-1-chunk-0"
	e.ParentID = "entry-1"
	e.ChunkIndex = 0
	require.NoError(t, ValidateEntry(e))
}

func TestValidateEntry_MissingFields(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*KnowledgeEntry)
		sentinel error
	}{
		{"missing id", func(e *KnowledgeEntry) { e.ID = "" }, ErrMissingRequiredField},
		{"missing title", func(e *KnowledgeEntry) { e.Title = "" }, ErrMissingRequiredField},
		{"missing content", func(e *KnowledgeEntry) { e.Content = "" }, ErrMissingRequiredField},
		{"invalid source", func(e *KnowledgeEntry) { e.Source = "carrier-pigeon" }, ErrInvalidEntrySource},
		{"root with chunk index", func(e *KnowledgeEntry) { e.ChunkIndex = 0 }, nil},
		{"chunk without index", func(e *KnowledgeEntry) { e.ParentID = "p"; e.ChunkIndex = -1 }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEntry()
			tt.mutate(e)
			err := ValidateEntry(e)
			require.Error(t, err)

			var domainErr *DomainError
			require.ErrorAs(t, err, &domainErr)
			assert.Equal(t, ErrCodeValidation, domainErr.Code)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestValidateEntry_Nil(t *testing.T) {
	assert.Error(t, ValidateEntry(nil))
}

func TestIsChunk(t *testing.T) {
	e := validEntry()
	assert.False(t, e.IsChunk())

	e.ParentID = "entry-0"
	e.ChunkIndex = 2
	assert.True(t, e.IsChunk())
}

func TestIsValidEntrySource(t *testing.T) {
	for _, s := range []EntrySource{EntrySourceManual, EntrySourceAgent, EntrySourceFeed, EntrySourceChannel, EntrySourceEmail} {
		assert.True(t, IsValidEntrySource(s), string(s))
	}
	assert.False(t, IsValidEntrySource("webhook"))
	assert.False(t, IsValidEntrySource(""))
}
