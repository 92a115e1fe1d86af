package query

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/errors"
	"github.com/kbvault/kbvault/internal/store"
)

// CollectionStats summarizes one collection.
type CollectionStats struct {
	Total      uint64 `json:"total"`
	Active     uint64 `json:"active"`
	Deprecated uint64 `json:"deprecated"`
	Draft      uint64 `json:"draft"`
	Chunks     uint64 `json:"chunks"`
}

// StoreStats summarizes both collections.
type StoreStats struct {
	Docs CollectionStats `json:"docs"`
	Code CollectionStats `json:"code"`
}

// Stats counts records by status and kind per collection.
func (s *Service) Stats(ctx context.Context) (*StoreStats, error) {
	out := &StoreStats{}
	for _, target := range []struct {
		coll string
		dst  *CollectionStats
	}{
		{s.docsColl, &out.Docs},
		{s.codeColl, &out.Code},
	} {
		var err error
		if target.dst.Total, err = s.store.Count(ctx, target.coll, nil); err != nil {
			return nil, err
		}
		for _, st := range []struct {
			status envelope.Status
			dst    *uint64
		}{
			{envelope.StatusActive, &target.dst.Active},
			{envelope.StatusDeprecated, &target.dst.Deprecated},
			{envelope.StatusDraft, &target.dst.Draft},
		} {
			n, err := s.store.Count(ctx, target.coll,
				store.Eq(envelope.FieldStatus, string(st.status)))
			if err != nil {
				return nil, err
			}
			*st.dst = n
		}
		n, err := s.store.Count(ctx, target.coll, store.Eq(envelope.FieldIsChunk, true))
		if err != nil {
			return nil, err
		}
		target.dst.Chunks = n
	}
	return out, nil
}

// GroupCount is one bucket of a metadata aggregation.
type GroupCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// MetadataStats aggregates record counts grouped by the given envelope
// fields, optionally restricted by a caller predicate.
func (s *Service) MetadataStats(ctx context.Context, rawFilter json.RawMessage, groupBy []string) (map[string][]GroupCount, error) {
	if len(groupBy) == 0 {
		groupBy = []string{envelope.FieldCategory, envelope.FieldStatus}
	}

	filter, err := store.ParseJSON(rawFilter)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]map[string]int, len(groupBy))
	for _, field := range groupBy {
		counts[field] = make(map[string]int)
	}

	for _, coll := range []string{s.docsColl, s.codeColl} {
		recs, err := s.store.Scroll(ctx, coll, filter, 0, false)
		if err != nil {
			return nil, err
		}
		for i := range recs {
			payload := recs[i].Env.Payload()
			for _, field := range groupBy {
				value, ok := payload[field]
				if !ok {
					counts[field]["<missing>"]++
					continue
				}
				counts[field][payloadValueString(value)]++
			}
		}
	}

	out := make(map[string][]GroupCount, len(counts))
	for field, buckets := range counts {
		groups := make([]GroupCount, 0, len(buckets))
		for value, count := range buckets {
			groups = append(groups, GroupCount{Value: value, Count: count})
		}
		sort.Slice(groups, func(i, j int) bool {
			if groups[i].Count != groups[j].Count {
				return groups[i].Count > groups[j].Count
			}
			return groups[i].Value < groups[j].Value
		})
		out[field] = groups
	}
	return out, nil
}

// Version is one entry of a document's version history.
type Version struct {
	Version     string    `json:"version"`
	Status      string    `json:"status"`
	HashContent string    `json:"hash_content"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	IsChunk     bool      `json:"is_chunk,omitempty"`
	ChunkIndex  int       `json:"chunk_index,omitempty"`
}

// VersionHistory lists the stored versions of a document, newest first.
// Deprecated versions are included only on request; chunk records are
// resolved through their parent document id.
func (s *Service) VersionHistory(ctx context.Context, docID, category string, includeDeprecated bool) ([]Version, error) {
	if docID == "" {
		return nil, errors.InvalidInput("doc_id is required")
	}
	if category != "" && !envelope.Category(category).Valid() {
		return nil, errors.InvalidInputf("category %q is not in the closed set", category)
	}

	byDoc := store.Or(
		store.Eq(envelope.FieldDocID, docID),
		store.Eq(envelope.FieldParentDocID, docID),
	)
	filter := byDoc
	if category != "" {
		filter = store.And(byDoc, store.Eq(envelope.FieldCategory, category))
	}
	if !includeDeprecated {
		filter = store.And(filter, store.Eq(envelope.FieldStatus, string(envelope.StatusActive)))
	}

	var versions []Version
	for _, coll := range []string{s.docsColl, s.codeColl} {
		recs, err := s.store.Scroll(ctx, coll, filter, 0, false)
		if err != nil {
			return nil, err
		}
		for i := range recs {
			env := &recs[i].Env
			versions = append(versions, Version{
				Version:     env.Version,
				Status:      string(env.Status),
				HashContent: env.HashContent,
				CreatedAt:   env.CreatedAt,
				UpdatedAt:   env.UpdatedAt,
				IsChunk:     env.IsChunk,
				ChunkIndex:  env.ChunkIndex,
			})
		}
	}

	if len(versions) == 0 {
		return nil, errors.NotFound("version history for " + docID)
	}

	sort.Slice(versions, func(i, j int) bool {
		if !versions[i].CreatedAt.Equal(versions[j].CreatedAt) {
			return versions[i].CreatedAt.After(versions[j].CreatedAt)
		}
		return versions[i].ChunkIndex < versions[j].ChunkIndex
	})
	return versions, nil
}

func payloadValueString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		data, _ := json.Marshal(val)
		return string(data)
	}
	return "<other>"
}
