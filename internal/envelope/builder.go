package envelope

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kbvault/kbvault/internal/errors"
)

// Input carries the caller-supplied envelope fragments for a whole
// document. Zero values fall back to defaults where a default exists.
type Input struct {
	DocID    string
	Version  string
	Category string
	Status   string
	FilePath string
	FileHash string
	Source   string
	Repo     string
	Tags     []string
}

// Builder constructs validated envelopes for whole documents.
// The clock is injectable for tests.
type Builder struct {
	Now func() time.Time
}

// NewBuilder returns a Builder using the wall clock.
func NewBuilder() *Builder {
	return &Builder{Now: time.Now}
}

// Build constructs the envelope from caller fragments and defaults.
// It fails with InvalidMetadata when the category is outside the closed
// set, when no doc_id can be synthesized, or when status or source are
// invalid. It never sets the fingerprints; hashing is the hasher's job.
func (b *Builder) Build(in Input) (Envelope, error) {
	docID := strings.TrimSpace(in.DocID)
	if docID == "" && in.FilePath != "" {
		docID = DocIDFromPath(in.FilePath)
	}
	if docID == "" {
		return Envelope{}, errors.InvalidMetadata("doc_id is required and could not be derived from file_path")
	}

	category := Category(in.Category)
	if in.Category == "" {
		category = CategoryOther
	}
	if !category.Valid() {
		return Envelope{}, errors.Newf(errors.KindInvalidMetadata,
			"category %q is not in the closed set", in.Category)
	}

	status := Status(in.Status)
	if in.Status == "" {
		status = StatusActive
	}
	if !status.Valid() {
		return Envelope{}, errors.Newf(errors.KindInvalidMetadata,
			"status %q is not in the closed set", in.Status)
	}

	source := Source(in.Source)
	if !source.Valid() {
		return Envelope{}, errors.Newf(errors.KindInvalidMetadata,
			"source %q is not in the closed set", in.Source)
	}

	now := b.Now().UTC()
	version := in.Version
	if version == "" {
		version = now.Format(time.RFC3339Nano)
	}

	return Envelope{
		DocID:     docID,
		Version:   version,
		Category:  category,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
		FilePath:  in.FilePath,
		FileHash:  in.FileHash,
		Source:    source,
		Repo:      in.Repo,
		Tags:      append([]string(nil), in.Tags...),
	}, nil
}

// BuildChunk constructs a chunk envelope from the parent document's
// input plus the chunk position. The chunk id is derived as
// "{doc_id}_chunk_{index}" and is stable for a given (doc_id, index).
func (b *Builder) BuildChunk(in Input, index, total int) (Envelope, error) {
	if index < 0 || total <= 0 || index >= total {
		return Envelope{}, errors.Newf(errors.KindInvalidMetadata,
			"chunk index %d out of range for %d chunks", index, total)
	}

	env, err := b.Build(in)
	if err != nil {
		return Envelope{}, err
	}

	env.IsChunk = true
	env.ChunkIndex = index
	env.TotalChunks = total
	env.ParentDocID = env.DocID
	env.ChunkID = ChunkID(env.DocID, index)
	return env, nil
}

// ChunkID derives the stable chunk identifier for a document and index.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, index)
}

// DocIDFromPath derives a logical document id from a file path:
// path separators become underscores and the extension is kept, so the
// id stays readable. Paths that differ only in '/' versus '_' (a/b.md
// and a_b.md) map to the same id.
func DocIDFromPath(path string) string {
	clean := filepath.ToSlash(filepath.Clean(path))
	clean = strings.TrimPrefix(clean, "./")
	clean = strings.TrimPrefix(clean, "/")
	return strings.ReplaceAll(clean, "/", "_")
}
