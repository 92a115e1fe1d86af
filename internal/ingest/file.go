package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/errors"
	"github.com/kbvault/kbvault/internal/hash"
)

// CodeExtensions routes files to the code collection.
var CodeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".jsx": true, ".rs": true, ".java": true, ".c": true, ".h": true,
	".cpp": true, ".hpp": true, ".rb": true, ".sh": true, ".sql": true,
	".kt": true, ".swift": true, ".cs": true, ".zig": true,
}

// IsCodeFile reports whether the path routes to the code collection.
func IsCodeFile(path string) bool {
	return CodeExtensions[strings.ToLower(filepath.Ext(path))]
}

// FileRequest ingests a file from disk.
type FileRequest struct {
	Path           string
	DocsCollection string
	CodeCollection string
	Meta           envelope.Input
	EnableChunking bool
	ChunkSize      int
	ChunkOverlap   int
}

// IngestFile reads a file, records its raw file hash in the envelope,
// routes it by extension, and runs it through the write path.
func (c *Controller) IngestFile(ctx context.Context, req FileRequest) (*Report, error) {
	if req.Path == "" {
		return nil, errors.InvalidInput("file_path is required")
	}
	raw, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidInput, "failed to read file", err)
	}

	collection := req.DocsCollection
	if IsCodeFile(req.Path) {
		collection = req.CodeCollection
	}

	meta := req.Meta
	if meta.FilePath == "" {
		meta.FilePath = filepath.ToSlash(req.Path)
	}
	meta.FileHash = hash.Sum(raw)
	if meta.Source == "" {
		meta.Source = string(envelope.SourceImported)
	}

	return c.IngestDocument(ctx, Request{
		Collection:     collection,
		Content:        string(raw),
		Meta:           meta,
		EnableChunking: req.EnableChunking,
		ChunkSize:      req.ChunkSize,
		ChunkOverlap:   req.ChunkOverlap,
	})
}
