// Package store defines the vector store abstraction the ingestion core
// runs against, the filter predicate grammar, and two implementations:
// a Qdrant-backed store and an in-memory store for tests.
//
// Point identifiers are not assigned by the backend: Record.PointID
// derives them on the client side, and the core treats them as opaque,
// referencing records exclusively through filter predicates over the
// indexed payload fields. Point refs appear on retrieved records for tie-breaking only
// and never cross the tool protocol boundary.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/kbvault/kbvault/internal/envelope"
)

// PayloadKey is the single payload key the envelope nests under, so
// filter predicates address fields as "meta.<field>".
const PayloadKey = "meta"

// ContentKey is the payload key holding the document content.
const ContentKey = "content"

// Record is a document or chunk to be written.
type Record struct {
	Content string
	Vector  []float32
	Env     envelope.Envelope
}

// PointID derives the deterministic backend point id for a record:
// a UUIDv5 over the record's logical identity and content fingerprint.
// Distinct versions of the same document map to distinct points, so a
// new version never overwrites its predecessor.
func (r *Record) PointID() string {
	key := r.Env.DocID
	if r.Env.IsChunk {
		key = r.Env.ChunkID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key+"\n"+r.Env.HashContent)).String()
}

// StoredRecord is a record retrieved from the backend.
type StoredRecord struct {
	// PointRef is the backend point id. Internal only.
	PointRef string
	Content  string
	Vector   []float32
	Env      envelope.Envelope
}

// ScoredRecord is a retrieved record with a similarity score.
type ScoredRecord struct {
	StoredRecord
	Score float32
}

// Store is the backend contract consumed by the core. Implementations
// must be safe for concurrent use by independent operations.
type Store interface {
	// EnsureCollection creates the collection if absent.
	EnsureCollection(ctx context.Context, collection string, dims int) error

	// EnsureFieldIndexes creates the payload indexes required by the
	// core's filter predicates.
	EnsureFieldIndexes(ctx context.Context, collection string) error

	// Upsert writes records, overwriting points with equal ids.
	Upsert(ctx context.Context, collection string, recs []Record) error

	// Scroll returns up to limit records matching the filter, ordered
	// deterministically. A nil filter matches everything.
	Scroll(ctx context.Context, collection string, f *Filter, limit int, withVectors bool) ([]StoredRecord, error)

	// Query performs vector search restricted by the filter.
	Query(ctx context.Context, collection string, vector []float32, f *Filter, topK int) ([]ScoredRecord, error)

	// SetPayloadByFilter merges patch into the "meta" payload object of
	// every record matching the filter. Patch keys are meta-relative.
	SetPayloadByFilter(ctx context.Context, collection string, f *Filter, patch map[string]any) error

	// DeleteByFilter removes every record matching the filter.
	DeleteByFilter(ctx context.Context, collection string, f *Filter) error

	// Count returns the number of records matching the filter.
	Count(ctx context.Context, collection string, f *Filter) (uint64, error)

	// Close releases the backend connection.
	Close() error
}
