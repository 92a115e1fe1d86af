// Package query implements the read surface: filtered semantic search,
// lookups by path, metadata aggregation, store statistics and version
// history. Reads bypass the ingestion pipeline and go straight to the
// store.
package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/kbvault/kbvault/internal/embed"
	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/errors"
	"github.com/kbvault/kbvault/internal/store"
)

// TopK bounds for search requests.
const (
	MinTopK     = 1
	MaxTopK     = 50
	DefaultTopK = 10
)

// Content type routing for search.
const (
	ContentAll  = "all"
	ContentDocs = "docs"
	ContentCode = "code"
)

// Service is the query surface over the two collections.
type Service struct {
	store    store.Store
	embedder embed.Embedder
	docsColl string
	codeColl string
	logger   *slog.Logger
}

// NewService creates the query service.
func NewService(s store.Store, e embed.Embedder, docsColl, codeColl string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, embedder: e, docsColl: docsColl, codeColl: codeColl, logger: logger}
}

// SearchRequest is one semantic search invocation.
type SearchRequest struct {
	Query       string
	TopK        int
	ContentType string          // all, docs, code
	Filter      json.RawMessage // caller predicate, optional
}

// SearchResult is one hit.
type SearchResult struct {
	DocID             string   `json:"doc_id"`
	Content           string   `json:"content"`
	Score             float32  `json:"score"`
	Category          string   `json:"category"`
	Status            string   `json:"status"`
	FilePath          string   `json:"file_path,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	Collection        string   `json:"collection"`
	IsChunk           bool     `json:"is_chunk,omitempty"`
	ChunkIndex        int      `json:"chunk_index,omitempty"`
	ParentDocID       string   `json:"parent_doc_id,omitempty"`
	SimilarityWarning bool     `json:"similarity_warning,omitempty"`
}

// Search embeds the query and runs filtered vector search over the
// routed collections. Unless the caller's predicate already constrains
// meta.status, results are restricted to active records.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if req.Query == "" {
		return nil, errors.InvalidInput("query is required")
	}

	topK := req.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK < MinTopK || topK > MaxTopK {
		return nil, errors.InvalidInputf("top_k %d outside [%d, %d]", topK, MinTopK, MaxTopK)
	}

	collections, err := s.route(req.ContentType)
	if err != nil {
		return nil, err
	}

	filter, err := store.ParseJSON(req.Filter)
	if err != nil {
		return nil, err
	}
	if !mentionsStatus(filter) {
		filter = store.And(filter, store.Eq(envelope.FieldStatus, string(envelope.StatusActive)))
	}

	vector, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	for _, coll := range collections {
		hits, err := s.store.Query(ctx, coll, vector, filter, topK)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			results = append(results, toResult(hit, coll))
		}
	}

	// Merge across collections by score, then re-apply top_k.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	s.logger.Debug("search completed",
		slog.String("content_type", req.ContentType),
		slog.Int("result_count", len(results)))
	return results, nil
}

// GetByPath returns every record stored for a file path, newest first.
// With includeDeprecated false only active records return.
func (s *Service) GetByPath(ctx context.Context, filePath string, includeDeprecated bool) ([]SearchResult, error) {
	if filePath == "" {
		return nil, errors.InvalidInput("file_path is required")
	}

	filter := store.Eq(envelope.FieldFilePath, filePath)
	if !includeDeprecated {
		filter = store.And(filter, store.Eq(envelope.FieldStatus, string(envelope.StatusActive)))
	}

	type pathHit struct {
		rec  store.StoredRecord
		coll string
	}
	var hits []pathHit
	for _, coll := range []string{s.docsColl, s.codeColl} {
		recs, err := s.store.Scroll(ctx, coll, filter, 0, false)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			hits = append(hits, pathHit{rec: rec, coll: coll})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].rec.Env.CreatedAt.After(hits[j].rec.Env.CreatedAt)
	})

	var results []SearchResult
	for _, h := range hits {
		results = append(results, toResult(store.ScoredRecord{StoredRecord: h.rec}, h.coll))
	}

	if len(results) == 0 {
		return nil, errors.NotFound("document for path " + filePath)
	}
	return results, nil
}

// route resolves the content type to collections.
func (s *Service) route(contentType string) ([]string, error) {
	switch contentType {
	case "", ContentAll:
		return []string{s.docsColl, s.codeColl}, nil
	case ContentDocs:
		return []string{s.docsColl}, nil
	case ContentCode:
		return []string{s.codeColl}, nil
	}
	return nil, errors.InvalidInputf("content_type %q must be one of all, docs, code", contentType)
}

// mentionsStatus reports whether the predicate constrains meta.status
// anywhere in the tree.
func mentionsStatus(f *store.Filter) bool {
	if f == nil {
		return false
	}
	if f.IsLeaf() {
		return f.Field == store.PayloadKey+"."+envelope.FieldStatus
	}
	for _, c := range f.Conditions {
		if mentionsStatus(c) {
			return true
		}
	}
	return false
}

func toResult(hit store.ScoredRecord, collection string) SearchResult {
	return SearchResult{
		DocID:             hit.Env.DocID,
		Content:           hit.Content,
		Score:             hit.Score,
		Category:          string(hit.Env.Category),
		Status:            string(hit.Env.Status),
		FilePath:          hit.Env.FilePath,
		Tags:              hit.Env.Tags,
		Collection:        collection,
		IsChunk:           hit.Env.IsChunk,
		ChunkIndex:        hit.Env.ChunkIndex,
		ParentDocID:       hit.Env.ParentDocID,
		SimilarityWarning: hit.Env.SimilarityWarning,
	}
}
