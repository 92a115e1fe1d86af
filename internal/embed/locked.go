package embed

import (
	"context"
	"sync"
)

// LockedEmbedder serializes access to an inner embedder whose
// implementation is not thread-safe. The backend client is shared by
// concurrent tool invocations; embedders that cannot take that get
// wrapped here at startup.
type LockedEmbedder struct {
	mu    sync.Mutex
	inner Embedder
}

var _ Embedder = (*LockedEmbedder)(nil)

// NewLockedEmbedder wraps inner with a mutex.
func NewLockedEmbedder(inner Embedder) *LockedEmbedder {
	return &LockedEmbedder{inner: inner}
}

// Embed serializes the inner call.
func (l *LockedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Embed(ctx, text)
}

// EmbedBatch serializes the inner call.
func (l *LockedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.EmbedBatch(ctx, texts)
}

// Dimensions returns the embedding dimension (passthrough).
func (l *LockedEmbedder) Dimensions() int { return l.inner.Dimensions() }

// ModelName returns the model identifier (passthrough).
func (l *LockedEmbedder) ModelName() string { return l.inner.ModelName() }

// Available reports readiness (passthrough).
func (l *LockedEmbedder) Available(ctx context.Context) bool { return l.inner.Available(ctx) }

// Close closes the inner embedder.
func (l *LockedEmbedder) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Close()
}
