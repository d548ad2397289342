package domain

import "time"

// EntrySource identifies where a knowledge entry originated.
type EntrySource string

const (
	EntrySourceManual  EntrySource = "manual"
	EntrySourceAgent   EntrySource = "agent"
	EntrySourceFeed    EntrySource = "feed"
	EntrySourceChannel EntrySource = "channel"
	EntrySourceEmail   EntrySource = "email"
)

// RootChunkIndex marks an entry that is a root document rather than a chunk.
const RootChunkIndex = -1

// KnowledgeEntry is the unit of storage. An entry with a ParentID is a chunk
// of that parent; an entry without one is a root document. Chunks never have
// children of their own.
type KnowledgeEntry struct {
	ID              string
	Title           string
	URL             string
	Content         string
	Summary         string
	Tags            []string
	Source          EntrySource
	SourceMessageID string
	Embedding       []float32 // nil when no provider produced one
	ParentID        string
	ChunkIndex      int // RootChunkIndex for root documents
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsChunk reports whether the entry is a chunk of a parent document.
func (e *KnowledgeEntry) IsChunk() bool {
	return e.ParentID != ""
}

// ValidateEntry validates a KnowledgeEntry before persistence.
func ValidateEntry(e *KnowledgeEntry) error {
	if e == nil {
		return ErrMissingRequiredField
	}
	if e.ID == "" {
		return NewDomainErrorWithCause(ErrCodeValidation, "entry ID is required", ErrMissingRequiredField)
	}
	if e.Title == "" {
		return NewDomainErrorWithCause(ErrCodeValidation, "entry title is required", ErrMissingRequiredField)
	}
	if e.Content == "" {
		return NewDomainErrorWithCause(ErrCodeValidation, "entry content is required", ErrMissingRequiredField)
	}
	if !IsValidEntrySource(e.Source) {
		return NewDomainErrorWithCause(ErrCodeValidation, "invalid entry source: "+string(e.Source), ErrInvalidEntrySource)
	}
	if e.ParentID == "" && e.ChunkIndex != RootChunkIndex {
		return NewDomainError(ErrCodeValidation, "root entry must not carry a chunk index")
	}
	if e.ParentID != "" && e.ChunkIndex < 0 {
		return NewDomainError(ErrCodeValidation, "chunk entry requires a chunk index")
	}
	return nil
}

// IsValidEntrySource checks whether s is a known provenance source.
func IsValidEntrySource(s EntrySource) bool {
	switch s {
	case EntrySourceManual, EntrySourceAgent, EntrySourceFeed, EntrySourceChannel, EntrySourceEmail:
		return true
	}
	return false
}
