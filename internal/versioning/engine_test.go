package versioning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/errors"
	"github.com/kbvault/kbvault/internal/hash"
	"github.com/kbvault/kbvault/internal/store"
)

const coll = "vault_docs"

func seeded(t *testing.T, content string) (*store.MemoryStore, string) {
	t.Helper()
	m := store.NewMemoryStore()

	b := envelope.NewBuilder()
	env, err := b.Build(envelope.Input{DocID: "A"})
	require.NoError(t, err)
	env.HashContent = hash.Content([]byte(content))
	env.Fingerprint()

	require.NoError(t, m.Upsert(context.Background(), coll, []store.Record{{
		Content: content,
		Vector:  []float32{1},
		Env:     env,
	}}))
	return m, env.HashContent
}

func TestDeprecate_TransitionsActiveRecord(t *testing.T) {
	m, h := seeded(t, "v1 content")
	engine := NewEngine(m, nil)
	engine.Now = func() time.Time { return time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, engine.Deprecate(context.Background(), coll, h))

	recs, err := m.Scroll(context.Background(), coll, store.Eq("doc_id", "A"), 0, false)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, envelope.StatusDeprecated, recs[0].Env.Status)
	assert.Equal(t, 2025, recs[0].Env.UpdatedAt.Year())
	// The record is mutated, never deleted.
	assert.Equal(t, "v1 content", recs[0].Content)
}

func TestDeprecate_RequiresHash(t *testing.T) {
	m, _ := seeded(t, "v1 content")
	engine := NewEngine(m, nil)

	err := engine.Deprecate(context.Background(), coll, "")
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	// Store unchanged.
	n, err := m.Count(context.Background(), coll, store.Eq("status", "active"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestDeprecate_Idempotent(t *testing.T) {
	m, h := seeded(t, "v1 content")
	engine := NewEngine(m, nil)

	require.NoError(t, engine.Deprecate(context.Background(), coll, h))
	// Second application is a no-op success.
	require.NoError(t, engine.Deprecate(context.Background(), coll, h))

	n, err := m.Count(context.Background(), coll, store.Eq("status", "deprecated"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestDeprecate_UnknownHashIsNoOp(t *testing.T) {
	m, _ := seeded(t, "v1 content")
	engine := NewEngine(m, nil)

	require.NoError(t, engine.Deprecate(context.Background(), coll, "deadbeef"))

	n, err := m.Count(context.Background(), coll, store.Eq("status", "active"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestSetStatus_ManualTransition(t *testing.T) {
	m, h := seeded(t, "v1 content")
	engine := NewEngine(m, nil)

	require.NoError(t, engine.SetStatus(context.Background(), coll, h, envelope.StatusDraft))

	recs, err := m.Scroll(context.Background(), coll, store.Eq("doc_id", "A"), 0, false)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, envelope.StatusDraft, recs[0].Env.Status)
}

func TestSetStatus_RejectsUnknownStatus(t *testing.T) {
	m, h := seeded(t, "v1 content")
	engine := NewEngine(m, nil)

	err := engine.SetStatus(context.Background(), coll, h, envelope.Status("zombie"))
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}
