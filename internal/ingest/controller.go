package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kbvault/kbvault/internal/chunk"
	"github.com/kbvault/kbvault/internal/embed"
	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/errors"
	"github.com/kbvault/kbvault/internal/hash"
	"github.com/kbvault/kbvault/internal/store"
	"github.com/kbvault/kbvault/internal/versioning"
)

// Request is one write through the ingestion controller.
type Request struct {
	// Collection the record belongs to (docs or code).
	Collection string

	// Content is the document text.
	Content string

	// Meta carries the caller-supplied envelope fragments.
	Meta envelope.Input

	// EnableChunking splits the document and diffs against the existing
	// chunk set instead of writing one record.
	EnableChunking bool
	ChunkSize      int
	ChunkOverlap   int
}

// Report is the action report returned for every write.
type Report struct {
	DocID          string `json:"doc_id"`
	Action         Action `json:"action"`
	DuplicateLevel int    `json:"duplicate_level,omitempty"`
	Deprecated     bool   `json:"deprecated,omitempty"`
	Warning        bool   `json:"similarity_warning,omitempty"`

	// Chunked update counters.
	Chunked     bool `json:"chunked,omitempty"`
	TotalChunks int  `json:"total_chunks,omitempty"`
	Unchanged   int  `json:"unchanged,omitempty"`
	Changed     int  `json:"changed,omitempty"`
	Added       int  `json:"added,omitempty"`
	Removed     int  `json:"removed,omitempty"`

	// EmbeddingCalls is the number of embedder invocations the write
	// cost; unchanged content costs none.
	EmbeddingCalls int `json:"embedding_calls"`
}

// Controller orchestrates the write path. It is the only component that
// calls the embedder or issues store writes; the classifier and the
// diff engine stay pure.
type Controller struct {
	store      store.Store
	embedder   embed.Embedder
	deprecator *versioning.Engine
	builder    *envelope.Builder
	logger     *slog.Logger

	simFn        SimilarityFn
	simThreshold float32

	locks lockStripe
}

// Option configures a Controller.
type Option func(*Controller)

// WithSimilarity enables the Level-3 hook with the given function and
// threshold.
func WithSimilarity(fn SimilarityFn, threshold float32) Option {
	return func(c *Controller) {
		c.simFn = fn
		c.simThreshold = threshold
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.builder.Now = now
		c.deprecator.Now = now
	}
}

// NewController creates the ingestion controller.
func NewController(s store.Store, e embed.Embedder, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		store:      s,
		embedder:   e,
		deprecator: versioning.NewEngine(s, logger),
		builder:    envelope.NewBuilder(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deprecator exposes the versioning engine for surfaces that perform
// manual status transitions.
func (c *Controller) Deprecator() *versioning.Engine {
	return c.deprecator
}

// Embed exposes the shared embedder for surfaces that write verbatim
// records, like import of exports that carried no vectors.
func (c *Controller) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.embedder.Embed(ctx, text)
}

// IngestDocument performs one write per the controller contract:
// build envelope, fingerprint, classify (or diff when chunked), act,
// and report. Errors from the backend or the embedder abort the write
// at the failing sub-step; prior sub-steps are not rolled back, and the
// caller retries the whole ingestion.
func (c *Controller) IngestDocument(ctx context.Context, req Request) (*Report, error) {
	if req.Collection == "" {
		return nil, errors.InvalidInput("collection is required")
	}
	if req.Content == "" {
		return nil, errors.InvalidInput("content is required")
	}

	env, err := c.builder.Build(req.Meta)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(env.DocID)
	defer unlock()

	if req.EnableChunking {
		return c.ingestChunked(ctx, req, env)
	}
	return c.ingestWhole(ctx, req, env)
}

// ingestWhole handles the unchunked path.
func (c *Controller) ingestWhole(ctx context.Context, req Request, env envelope.Envelope) (*Report, error) {
	env.HashContent = hash.Content([]byte(req.Content))
	env.Fingerprint()

	existing, err := c.store.Scroll(ctx, req.Collection,
		store.Eq(envelope.FieldDocID, env.DocID), 0, false)
	if err != nil {
		return nil, fmt.Errorf("query existing records: %w", err)
	}

	verdict, err := Classify(ctx, Candidate{
		DocID:        env.DocID,
		HashContent:  env.HashContent,
		MetadataHash: env.MetadataHash,
		Content:      req.Content,
	}, existing, c.simFn, c.simThreshold)
	if err != nil {
		return nil, err
	}

	report := &Report{
		DocID:          env.DocID,
		Action:         verdict.Action,
		DuplicateLevel: verdict.Level,
	}

	switch verdict.Action {
	case ActionSkip:
		c.logger.Info("write skipped as exact duplicate",
			slog.String("doc_id", env.DocID),
			slog.String("collection", req.Collection))
		return report, nil

	case ActionUpdate:
		// Deprecation is ordered strictly before the new version's write
		// becomes observable to status=active readers.
		if err := c.deprecator.Deprecate(ctx, req.Collection, verdict.Match.Env.HashContent); err != nil {
			return nil, fmt.Errorf("deprecate prior version: %w", err)
		}
		report.Deprecated = true

	case ActionWarn:
		env.SimilarityWarning = true
		report.Warning = true
	}

	vector := verdict.Vector
	if vector == nil {
		vector, err = c.embedder.Embed(ctx, req.Content)
		if err != nil {
			return nil, err
		}
	}
	report.EmbeddingCalls = 1

	err = c.store.Upsert(ctx, req.Collection, []store.Record{{
		Content: req.Content,
		Vector:  vector,
		Env:     env,
	}})
	if err != nil {
		return nil, fmt.Errorf("write new version: %w", err)
	}

	c.sweepActive(ctx, req.Collection, env.DocID, env.HashContent)

	c.logger.Info("document ingested",
		slog.String("doc_id", env.DocID),
		slog.String("collection", req.Collection),
		slog.String("action", string(verdict.Action)),
		slog.Int("duplicate_level", verdict.Level))
	return report, nil
}

// ingestChunked handles the incremental chunked path.
func (c *Controller) ingestChunked(ctx context.Context, req Request, env envelope.Envelope) (*Report, error) {
	splitter, err := chunk.NewSplitter(req.ChunkSize, req.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	newChunks := splitter.Split(req.Content)
	if len(newChunks) == 0 {
		return nil, errors.InvalidInput("content produced no chunks")
	}

	existing, err := c.store.Scroll(ctx, req.Collection, store.And(
		store.Eq(envelope.FieldParentDocID, env.DocID),
		store.Eq(envelope.FieldIsChunk, true),
		store.Eq(envelope.FieldStatus, string(envelope.StatusActive)),
	), 0, false)
	if err != nil {
		return nil, fmt.Errorf("query existing chunks: %w", err)
	}

	d := DiffChunks(existing, newChunks)

	report := &Report{
		DocID:       env.DocID,
		Action:      ActionUpdate,
		Chunked:     true,
		TotalChunks: len(newChunks),
		Unchanged:   d.Unchanged,
		Changed:     d.Changed,
		Added:       d.Added,
		Removed:     d.Removed,
	}
	if len(existing) == 0 {
		report.Action = ActionStore
	}

	for _, action := range d.Actions {
		switch action.Class {
		case ChunkUnchanged:
			continue

		case ChunkRemoved:
			if err := c.deprecator.Deprecate(ctx, req.Collection, action.Old.Env.HashContent); err != nil {
				return nil, fmt.Errorf("deprecate removed chunk %d: %w", action.Index, err)
			}

		case ChunkChanged, ChunkAdded:
			// For a changed index the old chunk deprecates before the
			// replacement is even embedded.
			if action.Old != nil {
				if err := c.deprecator.Deprecate(ctx, req.Collection, action.Old.Env.HashContent); err != nil {
					return nil, fmt.Errorf("deprecate changed chunk %d: %w", action.Index, err)
				}
			}

			chunkEnv, err := c.builder.BuildChunk(req.Meta, action.New.Index, len(newChunks))
			if err != nil {
				return nil, err
			}
			chunkEnv.HashContent = action.New.HashContent
			chunkEnv.Fingerprint()

			vector, err := c.embedder.Embed(ctx, action.New.Content)
			if err != nil {
				return nil, err
			}
			report.EmbeddingCalls++

			err = c.store.Upsert(ctx, req.Collection, []store.Record{{
				Content: action.New.Content,
				Vector:  vector,
				Env:     chunkEnv,
			}})
			if err != nil {
				return nil, fmt.Errorf("write chunk %d: %w", action.Index, err)
			}
		}
	}

	c.logger.Info("chunked document ingested",
		slog.String("doc_id", env.DocID),
		slog.String("collection", req.Collection),
		slog.Int("total_chunks", report.TotalChunks),
		slog.Int("unchanged", d.Unchanged),
		slog.Int("changed", d.Changed),
		slog.Int("added", d.Added),
		slog.Int("removed", d.Removed))
	return report, nil
}

// sweepActive is the best-effort post-write check: when a concurrent
// write slipped past the lock stripe (multi-process deployments share
// no locks), every active record for the doc_id except the newest is
// deprecated.
func (c *Controller) sweepActive(ctx context.Context, collection, docID, keepHash string) {
	active, err := c.store.Scroll(ctx, collection, store.And(
		store.Eq(envelope.FieldDocID, docID),
		store.Eq(envelope.FieldStatus, string(envelope.StatusActive)),
	), 0, false)
	if err != nil || len(active) <= 1 {
		return
	}

	for i := range active {
		rec := &active[i]
		if rec.Env.HashContent == keepHash {
			continue
		}
		if err := c.deprecator.Deprecate(ctx, collection, rec.Env.HashContent); err != nil {
			c.logger.Warn("post-write active sweep failed",
				slog.String("doc_id", docID),
				slog.String("error", err.Error()))
			return
		}
	}
}

// NewEmbedSimilarity builds a SimilarityFn that embeds the candidate
// and queries the collection for its nearest neighbor. The returned
// vector is reused for the subsequent write, so Level-3 classification
// costs no extra embedding.
func NewEmbedSimilarity(e embed.Embedder, s store.Store, collection string) SimilarityFn {
	return func(ctx context.Context, content string) (float32, []float32, error) {
		vector, err := e.Embed(ctx, content)
		if err != nil {
			return 0, nil, err
		}
		hits, err := s.Query(ctx, collection, vector,
			store.Eq(envelope.FieldStatus, string(envelope.StatusActive)), 1)
		if err != nil {
			return 0, nil, err
		}
		if len(hits) == 0 {
			return 0, vector, nil
		}
		return hits[0].Score, vector, nil
	}
}
