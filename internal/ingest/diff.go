package ingest

import (
	"sort"

	"github.com/kbvault/kbvault/internal/chunk"
	"github.com/kbvault/kbvault/internal/store"
)

// ChunkClass classifies one chunk index in an incremental update.
type ChunkClass string

const (
	// ChunkUnchanged keeps the old record; no embedding.
	ChunkUnchanged ChunkClass = "unchanged"
	// ChunkChanged deprecates the old record, embeds and stores the new.
	ChunkChanged ChunkClass = "changed"
	// ChunkAdded embeds and stores the new chunk.
	ChunkAdded ChunkClass = "added"
	// ChunkRemoved deprecates the old record.
	ChunkRemoved ChunkClass = "removed"
)

// ChunkAction is the per-index outcome of the diff.
type ChunkAction struct {
	Class ChunkClass
	Index int

	// Old is set for unchanged, changed and removed.
	Old *store.StoredRecord
	// New is set for unchanged, changed and added.
	New *chunk.Chunk
}

// Diff is the full alignment of old and new chunk sets.
type Diff struct {
	Actions []ChunkAction

	Unchanged int
	Changed   int
	Added     int
	Removed   int
}

// DiffChunks aligns the existing chunk set (retrieved by filter on the
// parent document) with the freshly split chunk set, by chunk index.
// Actions come out in index order; duplicate old records at the same
// index — possible after a write race — are classified removed so the
// caller restores the one-active-per-index invariant.
func DiffChunks(old []store.StoredRecord, newChunks []chunk.Chunk) Diff {
	byIndex := make(map[int]*store.StoredRecord, len(old))
	var extras []ChunkAction

	for i := range old {
		rec := &old[i]
		idx := rec.Env.ChunkIndex
		cur, ok := byIndex[idx]
		if !ok {
			byIndex[idx] = rec
			continue
		}
		// Keep the newest record for the index, shed the other.
		keep, shed := cur, rec
		if rec.Env.UpdatedAt.After(cur.Env.UpdatedAt) {
			keep, shed = rec, cur
		}
		byIndex[idx] = keep
		extras = append(extras, ChunkAction{Class: ChunkRemoved, Index: idx, Old: shed})
	}

	var d Diff

	for i := range newChunks {
		nc := &newChunks[i]
		oldRec, exists := byIndex[nc.Index]
		switch {
		case !exists:
			d.Actions = append(d.Actions, ChunkAction{Class: ChunkAdded, Index: nc.Index, New: nc})
			d.Added++
		case oldRec.Env.HashContent == nc.HashContent:
			d.Actions = append(d.Actions, ChunkAction{Class: ChunkUnchanged, Index: nc.Index, Old: oldRec, New: nc})
			d.Unchanged++
		default:
			d.Actions = append(d.Actions, ChunkAction{Class: ChunkChanged, Index: nc.Index, Old: oldRec, New: nc})
			d.Changed++
		}
		delete(byIndex, nc.Index)
	}

	// Whatever old indexes remain have no new counterpart.
	for idx, rec := range byIndex {
		d.Actions = append(d.Actions, ChunkAction{Class: ChunkRemoved, Index: idx, Old: rec})
	}
	d.Actions = append(d.Actions, extras...)
	d.Removed = 0
	for _, a := range d.Actions {
		if a.Class == ChunkRemoved {
			d.Removed++
		}
	}

	sort.SliceStable(d.Actions, func(i, j int) bool {
		return d.Actions[i].Index < d.Actions[j].Index
	})
	return d
}
