// Package ingest implements the write path: the duplicate classifier,
// the chunk diff engine, and the controller that orchestrates hashing,
// chunking, classification, deprecation, embedding and storage.
package ingest

import (
	"context"
	"sort"

	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/store"
)

// Action is what the controller does with an incoming write.
type Action string

const (
	// ActionSkip stores nothing: the write is an exact duplicate.
	ActionSkip Action = "skip"
	// ActionStore writes a new record.
	ActionStore Action = "store"
	// ActionUpdate deprecates the matched prior version, then writes.
	ActionUpdate Action = "update"
	// ActionWarn writes the record flagged with a similarity warning.
	ActionWarn Action = "warn"
)

// Duplicate levels, ordered by strength of match.
const (
	LevelExactDuplicate     = 1
	LevelContentUpdate      = 2
	LevelSemanticSimilarity = 3
	LevelNewContent         = 4
)

// DefaultSimilarityThreshold is the embedding-space similarity above
// which a write is flagged as a near-duplicate.
const DefaultSimilarityThreshold = 0.85

// Candidate is the incoming write, reduced to what classification needs.
type Candidate struct {
	DocID        string
	HashContent  string
	MetadataHash string
	Content      string
}

// SimilarityFn lazily computes the best embedding-space similarity of
// the candidate content against existing records. It returns the score
// and the candidate's vector so the caller can reuse it for the write.
// A nil SimilarityFn disables Level 3.
type SimilarityFn func(ctx context.Context, content string) (score float32, vector []float32, err error)

// Verdict is the classifier's output.
type Verdict struct {
	Level  int
	Action Action

	// Match is the existing record the verdict is grounded on: the
	// duplicate for Level 1, the record to deprecate for Level 2.
	Match *store.StoredRecord

	// Similarity and Vector are set when the similarity hook ran.
	Similarity float32
	Vector     []float32
}

// Classify classifies a candidate write against the existing records
// sharing its doc_id, into one of four levels:
//
//	Level 1 — exact duplicate (same content and metadata fingerprints): skip.
//	Level 2 — content update (same doc_id or same metadata fingerprint,
//	          different content): deprecate and write.
//	Level 3 — semantic similarity above the threshold: write with warning.
//	Level 4 — new content: write.
//
// Lower levels win. Within Level 2, a doc_id match wins over a metadata
// fingerprint match. The classifier is pure over its inputs: it reads
// the store through nothing but the pre-queried existing set, and it
// never writes.
func Classify(ctx context.Context, cand Candidate, existing []store.StoredRecord, simFn SimilarityFn, threshold float32) (Verdict, error) {
	// Level 1: both fingerprints equal.
	if match := selectMatch(existing, func(r *store.StoredRecord) bool {
		return r.Env.HashContent == cand.HashContent && r.Env.MetadataHash == cand.MetadataHash
	}); match != nil {
		return Verdict{Level: LevelExactDuplicate, Action: ActionSkip, Match: match}, nil
	}

	// Level 2, case 1: an active record with the same doc_id carries
	// different content.
	if match := selectMatch(existing, func(r *store.StoredRecord) bool {
		return r.Env.Status == envelope.StatusActive &&
			r.Env.DocID == cand.DocID &&
			r.Env.HashContent != cand.HashContent
	}); match != nil {
		return Verdict{Level: LevelContentUpdate, Action: ActionUpdate, Match: match}, nil
	}

	// Level 2, case 2: same metadata fingerprint, different content.
	if match := selectMatch(existing, func(r *store.StoredRecord) bool {
		return r.Env.Status == envelope.StatusActive &&
			r.Env.MetadataHash == cand.MetadataHash &&
			r.Env.HashContent != cand.HashContent
	}); match != nil {
		return Verdict{Level: LevelContentUpdate, Action: ActionUpdate, Match: match}, nil
	}

	// Level 3: embedding-space similarity, computed lazily only when no
	// fingerprint matched.
	if simFn != nil && threshold > 0 {
		score, vector, err := simFn(ctx, cand.Content)
		if err != nil {
			return Verdict{}, err
		}
		if score >= threshold {
			return Verdict{
				Level:      LevelSemanticSimilarity,
				Action:     ActionWarn,
				Similarity: score,
				Vector:     vector,
			}, nil
		}
		return Verdict{Level: LevelNewContent, Action: ActionStore, Similarity: score, Vector: vector}, nil
	}

	return Verdict{Level: LevelNewContent, Action: ActionStore}, nil
}

// selectMatch returns the best record satisfying pred under the
// tie-break order: newest updated_at, then active over non-active, then
// lexicographically smallest point reference.
func selectMatch(existing []store.StoredRecord, pred func(*store.StoredRecord) bool) *store.StoredRecord {
	var matches []*store.StoredRecord
	for i := range existing {
		if pred(&existing[i]) {
			matches = append(matches, &existing[i])
		}
	}
	if len(matches) == 0 {
		return nil
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.Env.UpdatedAt.Equal(b.Env.UpdatedAt) {
			return a.Env.UpdatedAt.After(b.Env.UpdatedAt)
		}
		aActive := a.Env.Status == envelope.StatusActive
		bActive := b.Env.Status == envelope.StatusActive
		if aActive != bActive {
			return aActive
		}
		return a.PointRef < b.PointRef
	})
	return matches[0]
}
