// Package embed provides the embedding model client used by the
// ingestion controller and the query surface.
//
// The core treats the embedder as a pure function text → fixed-length
// vector. Thread safety of a concrete embedder is implementation
// defined; wrap with NewLockedEmbedder when an implementation is not
// inherently safe.
package embed

import (
	"context"
	"time"
)

// Defaults for the Ollama embedder.
const (
	DefaultOllamaHost = "http://localhost:11434"
	DefaultModel      = "nomic-embed-text"
	DefaultTimeout    = 60 * time.Second
	DefaultBatchSize  = 32
	DefaultDimensions = 768
)

// Embedder generates dense vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the embedder is ready to serve.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int // 0 = auto-detect from the first embedding
	Timeout    time.Duration
	BatchSize  int
	Retry      RetryConfig
}
