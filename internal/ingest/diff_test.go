package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbvault/kbvault/internal/chunk"
	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/store"
)

func oldChunk(index int, hashContent string, updatedAt time.Time) store.StoredRecord {
	return store.StoredRecord{
		PointRef: hashContent,
		Env: envelope.Envelope{
			DocID:       "A",
			IsChunk:     true,
			ChunkID:     envelope.ChunkID("A", index),
			ChunkIndex:  index,
			ParentDocID: "A",
			Status:      envelope.StatusActive,
			HashContent: hashContent,
			UpdatedAt:   updatedAt,
		},
	}
}

func newChunk(index int, hashContent string) chunk.Chunk {
	return chunk.Chunk{Index: index, Content: "chunk " + hashContent, HashContent: hashContent}
}

func TestDiffChunks_AllUnchanged(t *testing.T) {
	old := []store.StoredRecord{oldChunk(0, "h0", t0), oldChunk(1, "h1", t0)}
	fresh := []chunk.Chunk{newChunk(0, "h0"), newChunk(1, "h1")}

	d := DiffChunks(old, fresh)

	assert.Equal(t, 2, d.Unchanged)
	assert.Zero(t, d.Changed)
	assert.Zero(t, d.Added)
	assert.Zero(t, d.Removed)
}

func TestDiffChunks_OneChanged(t *testing.T) {
	old := []store.StoredRecord{oldChunk(0, "h0", t0), oldChunk(1, "h1", t0), oldChunk(2, "h2", t0)}
	fresh := []chunk.Chunk{newChunk(0, "h0"), newChunk(1, "h1-modified"), newChunk(2, "h2")}

	d := DiffChunks(old, fresh)

	assert.Equal(t, 2, d.Unchanged)
	assert.Equal(t, 1, d.Changed)
	assert.Zero(t, d.Added)
	assert.Zero(t, d.Removed)

	for _, a := range d.Actions {
		if a.Index == 1 {
			assert.Equal(t, ChunkChanged, a.Class)
			assert.Equal(t, "h1", a.Old.Env.HashContent)
			assert.Equal(t, "h1-modified", a.New.HashContent)
		}
	}
}

func TestDiffChunks_Growth(t *testing.T) {
	old := []store.StoredRecord{oldChunk(0, "h0", t0), oldChunk(1, "h1", t0), oldChunk(2, "h2", t0)}
	fresh := []chunk.Chunk{newChunk(0, "h0"), newChunk(1, "h1"), newChunk(2, "h2"), newChunk(3, "h3")}

	d := DiffChunks(old, fresh)

	assert.Equal(t, 3, d.Unchanged)
	assert.Zero(t, d.Changed)
	assert.Equal(t, 1, d.Added)
	assert.Zero(t, d.Removed)
}

func TestDiffChunks_Shrink(t *testing.T) {
	old := []store.StoredRecord{oldChunk(0, "h0", t0), oldChunk(1, "h1", t0), oldChunk(2, "h2", t0)}
	fresh := []chunk.Chunk{newChunk(0, "h0"), newChunk(1, "h1")}

	d := DiffChunks(old, fresh)

	assert.Equal(t, 2, d.Unchanged)
	assert.Zero(t, d.Changed)
	assert.Zero(t, d.Added)
	assert.Equal(t, 1, d.Removed)

	last := d.Actions[len(d.Actions)-1]
	assert.Equal(t, ChunkRemoved, last.Class)
	assert.Equal(t, 2, last.Index)
	assert.Nil(t, last.New)
}

func TestDiffChunks_FirstWrite(t *testing.T) {
	fresh := []chunk.Chunk{newChunk(0, "h0"), newChunk(1, "h1")}

	d := DiffChunks(nil, fresh)

	assert.Equal(t, 2, d.Added)
	assert.Zero(t, d.Unchanged)
	assert.Zero(t, d.Removed)
}

func TestDiffChunks_ActionsInIndexOrder(t *testing.T) {
	old := []store.StoredRecord{oldChunk(2, "h2", t0), oldChunk(0, "h0", t0), oldChunk(1, "h1", t0)}
	fresh := []chunk.Chunk{newChunk(0, "h0x"), newChunk(1, "h1")}

	d := DiffChunks(old, fresh)

	require.Len(t, d.Actions, 3)
	for i := 1; i < len(d.Actions); i++ {
		assert.GreaterOrEqual(t, d.Actions[i].Index, d.Actions[i-1].Index)
	}
}

func TestDiffChunks_DuplicateIndexShedsOlder(t *testing.T) {
	// Two active records at index 0, the aftermath of a write race:
	// the newest survives as the alignment target, the older one is
	// classified removed.
	old := []store.StoredRecord{
		oldChunk(0, "h0-old", t0),
		oldChunk(0, "h0-new", t0.Add(time.Hour)),
	}
	fresh := []chunk.Chunk{newChunk(0, "h0-new")}

	d := DiffChunks(old, fresh)

	assert.Equal(t, 1, d.Unchanged)
	assert.Equal(t, 1, d.Removed)

	removed := 0
	for _, a := range d.Actions {
		if a.Class == ChunkRemoved {
			removed++
			assert.Equal(t, "h0-old", a.Old.Env.HashContent)
		}
	}
	assert.Equal(t, 1, removed)
}
