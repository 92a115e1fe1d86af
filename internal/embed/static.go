package embed

import (
	"context"
	"crypto/sha256"
	"math"
	"sync/atomic"
)

// StaticEmbedder produces deterministic hash-derived vectors without a
// model. It backs unit tests and keeps the ingestion pipeline runnable
// when no embedding service is reachable; the vectors carry no semantic
// signal beyond equality of content.
type StaticEmbedder struct {
	dims  int
	calls atomic.Int64
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder with the given dimension.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = 32
	}
	return &StaticEmbedder{dims: dims}
}

// Embed derives a unit-norm vector from the content hash.
func (s *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	return s.vector(text), nil
}

// EmbedBatch derives vectors for each text. Each text counts as one
// embedding call, matching how callers account for model work.
func (s *StaticEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		s.calls.Add(1)
		out[i] = s.vector(text)
	}
	return out, nil
}

// Calls returns the number of embeddings produced. Tests use it to
// assert minimal re-embedding.
func (s *StaticEmbedder) Calls() int64 {
	return s.calls.Load()
}

func (s *StaticEmbedder) vector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, s.dims)
	var norm float32
	for i := range vec {
		b := sum[i%len(sum)]
		v := float32(int(b)-128) / 128
		vec[i] = v
		norm += v * v
	}
	if norm > 0 {
		inv := 1 / float32(math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// Dimensions returns the embedding dimension.
func (s *StaticEmbedder) Dimensions() int { return s.dims }

// ModelName returns the model identifier.
func (s *StaticEmbedder) ModelName() string { return "static" }

// Available always reports true.
func (s *StaticEmbedder) Available(context.Context) bool { return true }

// Close is a no-op.
func (s *StaticEmbedder) Close() error { return nil }
