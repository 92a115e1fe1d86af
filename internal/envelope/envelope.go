// Package envelope defines the canonical metadata envelope attached to
// every stored record, and the builders that construct it.
package envelope

import (
	"time"

	"github.com/kbvault/kbvault/internal/hash"
)

// Category classifies a document. The set is closed; writes with any
// other value are rejected.
type Category string

const (
	CategoryUserRule       Category = "user_rule"
	CategoryProjectRule    Category = "project_rule"
	CategoryProjectCommand Category = "project_command"
	CategoryDesignDoc      Category = "design_doc"
	CategoryDebugSummary   Category = "debug_summary"
	CategoryTestPattern    Category = "test_pattern"
	CategoryOther          Category = "other"
)

// Valid reports whether the category is in the closed set.
func (c Category) Valid() bool {
	switch c {
	case CategoryUserRule, CategoryProjectRule, CategoryProjectCommand,
		CategoryDesignDoc, CategoryDebugSummary, CategoryTestPattern,
		CategoryOther:
		return true
	}
	return false
}

// Status is the lifecycle state of a record.
type Status string

const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusDraft      Status = "draft"
)

// Valid reports whether the status is in the closed set.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusDeprecated, StatusDraft:
		return true
	}
	return false
}

// Source records how a document entered the store.
type Source string

const (
	SourceManual    Source = "manual"
	SourceGenerated Source = "generated"
	SourceImported  Source = "imported"
)

// Valid reports whether the source is in the closed set or empty.
func (s Source) Valid() bool {
	switch s {
	case "", SourceManual, SourceGenerated, SourceImported:
		return true
	}
	return false
}

// Envelope is the metadata attached to every record, exclusive of the
// content and the vector.
type Envelope struct {
	// Required fields, present on every write.
	DocID        string
	Version      string
	Category     Category
	Status       Status
	HashContent  string
	MetadataHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Optional fields.
	FilePath string
	FileHash string
	Source   Source
	Repo     string
	Tags     []string

	// Chunk identity, set only when IsChunk is true.
	IsChunk     bool
	ChunkID     string
	ChunkIndex  int
	ParentDocID string
	TotalChunks int

	// SimilarityWarning marks a record stored despite a high
	// embedding-space similarity to an existing record.
	SimilarityWarning bool
}

// identityFields returns the envelope fields that participate in the
// metadata fingerprint. The volatile fields (status, version, created_at,
// updated_at) and both fingerprints are excluded, so deprecation state
// never changes the fingerprint and content changes remain detectable
// against an otherwise identical envelope.
func (e *Envelope) identityFields() map[string]any {
	fields := map[string]any{
		"doc_id":   e.DocID,
		"category": string(e.Category),
	}
	if e.FilePath != "" {
		fields["file_path"] = e.FilePath
	}
	if e.FileHash != "" {
		fields["file_hash"] = e.FileHash
	}
	if e.Source != "" {
		fields["source"] = string(e.Source)
	}
	if e.Repo != "" {
		fields["repo"] = e.Repo
	}
	if len(e.Tags) > 0 {
		tags := make([]string, len(e.Tags))
		copy(tags, e.Tags)
		fields["tags"] = tags
	}
	if e.IsChunk {
		fields["is_chunk"] = true
		fields["chunk_id"] = e.ChunkID
		fields["chunk_index"] = e.ChunkIndex
		fields["parent_doc_id"] = e.ParentDocID
		fields["total_chunks"] = e.TotalChunks
	}
	return fields
}

// Fingerprint computes and stores the metadata fingerprint.
// HashContent must already be set by the caller; it does not participate.
func (e *Envelope) Fingerprint() {
	e.MetadataHash = hash.CanonicalMap(e.identityFields())
}

// Deprecate returns a copy of the envelope transitioned to deprecated.
func (e Envelope) Deprecate(now time.Time) Envelope {
	e.Status = StatusDeprecated
	e.UpdatedAt = now
	return e
}
