package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/errors"
)

// MemoryStore is an in-memory Store implementation. It backs unit tests
// and mirrors the backend's observable semantics: opaque point ids,
// filter-predicate retrieval, payload mutation, deterministic scroll
// order.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memPoint
}

type memPoint struct {
	id      string
	content string
	vector  []float32
	meta    map[string]any
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]*memPoint)}
}

var _ Store = (*MemoryStore)(nil)

// EnsureCollection creates the collection if absent.
func (m *MemoryStore) EnsureCollection(_ context.Context, collection string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = make(map[string]*memPoint)
	}
	return nil
}

// EnsureFieldIndexes is a no-op: the memory store evaluates predicates
// directly and the schema check lives in the filter layer.
func (m *MemoryStore) EnsureFieldIndexes(_ context.Context, _ string) error {
	return nil
}

// Upsert writes records, overwriting points with equal ids.
func (m *MemoryStore) Upsert(_ context.Context, collection string, recs []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collections[collection]
	if coll == nil {
		coll = make(map[string]*memPoint)
		m.collections[collection] = coll
	}

	for i := range recs {
		rec := &recs[i]
		vec := make([]float32, len(rec.Vector))
		copy(vec, rec.Vector)
		coll[rec.PointID()] = &memPoint{
			id:      rec.PointID(),
			content: rec.Content,
			vector:  vec,
			meta:    rec.Env.Payload(),
		}
	}
	return nil
}

// Scroll returns matching records sorted by point id.
func (m *MemoryStore) Scroll(_ context.Context, collection string, f *Filter, limit int, withVectors bool) ([]StoredRecord, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	points := m.matching(collection, f)
	sort.Slice(points, func(i, j int) bool { return points[i].id < points[j].id })

	if limit > 0 && len(points) > limit {
		points = points[:limit]
	}

	out := make([]StoredRecord, 0, len(points))
	for _, p := range points {
		rec, err := p.toStored(withVectors)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Query performs cosine-similarity search restricted by the filter.
func (m *MemoryStore) Query(_ context.Context, collection string, vector []float32, f *Filter, topK int) ([]ScoredRecord, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	points := m.matching(collection, f)

	scored := make([]ScoredRecord, 0, len(points))
	for _, p := range points {
		rec, err := p.toStored(true)
		if err != nil {
			return nil, err
		}
		scored = append(scored, ScoredRecord{
			StoredRecord: rec,
			Score:        cosine(vector, p.vector),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].PointRef < scored[j].PointRef
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// SetPayloadByFilter merges patch into the meta object of every match.
func (m *MemoryStore) SetPayloadByFilter(_ context.Context, collection string, f *Filter, patch map[string]any) error {
	if err := f.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.matching(collection, f) {
		for k, v := range patch {
			p.meta[k] = v
		}
	}
	return nil
}

// DeleteByFilter removes every matching record.
func (m *MemoryStore) DeleteByFilter(_ context.Context, collection string, f *Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collections[collection]
	for _, p := range m.matching(collection, f) {
		delete(coll, p.id)
	}
	return nil
}

// Count returns the number of matching records.
func (m *MemoryStore) Count(_ context.Context, collection string, f *Filter) (uint64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.matching(collection, f))), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// matching returns the points of a collection satisfying the filter.
// Callers hold the lock.
func (m *MemoryStore) matching(collection string, f *Filter) []*memPoint {
	var out []*memPoint
	for _, p := range m.collections[collection] {
		if evalFilter(f, p) {
			out = append(out, p)
		}
	}
	return out
}

func (p *memPoint) toStored(withVectors bool) (StoredRecord, error) {
	env, err := envelope.FromPayload(p.meta)
	if err != nil {
		return StoredRecord{}, errors.Wrap(errors.KindInternal, "corrupt stored payload", err)
	}
	rec := StoredRecord{
		PointRef: p.id,
		Content:  p.content,
		Env:      env,
	}
	if withVectors {
		rec.Vector = make([]float32, len(p.vector))
		copy(rec.Vector, p.vector)
	}
	return rec, nil
}

// evalFilter evaluates a predicate tree against a point.
func evalFilter(f *Filter, p *memPoint) bool {
	if f == nil {
		return true
	}
	if f.IsLeaf() {
		return evalLeaf(f, p)
	}
	switch f.Op {
	case CombAnd:
		for _, c := range f.Conditions {
			if !evalFilter(c, p) {
				return false
			}
		}
		return true
	case CombOr:
		for _, c := range f.Conditions {
			if evalFilter(c, p) {
				return true
			}
		}
		return false
	case CombNot:
		return !evalFilter(f.Conditions[0], p)
	}
	return false
}

func evalLeaf(f *Filter, p *memPoint) bool {
	value, present := p.lookup(f.Field)

	switch f.Operator {
	case OpEq:
		return present && valueMatches(value, f.Value)
	case OpNeq:
		return !present || !valueMatches(value, f.Value)
	case OpIn:
		if !present {
			return false
		}
		for _, want := range f.Value.([]any) {
			if valueMatches(value, want) {
				return true
			}
		}
		return false
	case OpNotIn:
		if !present {
			return true
		}
		for _, want := range f.Value.([]any) {
			if valueMatches(value, want) {
				return false
			}
		}
		return true
	case OpGt, OpLt, OpGte, OpLte:
		have, ok1 := toFloat(value)
		want, ok2 := toFloat(f.Value)
		if !present || !ok1 || !ok2 {
			return false
		}
		switch f.Operator {
		case OpGt:
			return have > want
		case OpLt:
			return have < want
		case OpGte:
			return have >= want
		default:
			return have <= want
		}
	}
	return false
}

// lookup resolves a dotted payload path on the point.
func (p *memPoint) lookup(path string) (any, bool) {
	if path == ContentKey {
		return p.content, true
	}
	rest, ok := strings.CutPrefix(path, PayloadKey+".")
	if !ok {
		return nil, false
	}
	v, ok := p.meta[rest]
	return v, ok
}

// valueMatches compares a stored value with a filter value. Array-typed
// stored values (tags) match when any element matches.
func valueMatches(have, want any) bool {
	if list, ok := have.([]any); ok {
		for _, item := range list {
			if scalarMatches(item, want) {
				return true
			}
		}
		return false
	}
	return scalarMatches(have, want)
}

func scalarMatches(have, want any) bool {
	if hf, ok := toFloat(have); ok {
		if wf, ok := toFloat(want); ok {
			return hf == wf
		}
		return false
	}
	if hb, ok := have.(bool); ok {
		wb, ok := want.(bool)
		return ok && hb == wb
	}
	hs, ok1 := have.(string)
	ws, ok2 := want.(string)
	return ok1 && ok2 && hs == ws
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
