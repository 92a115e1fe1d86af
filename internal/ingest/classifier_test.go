package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/store"
)

func record(docID, hashContent, metaHash string, status envelope.Status, updatedAt time.Time, pointRef string) store.StoredRecord {
	return store.StoredRecord{
		PointRef: pointRef,
		Content:  "content of " + docID,
		Env: envelope.Envelope{
			DocID:        docID,
			Category:     envelope.CategoryOther,
			Status:       status,
			HashContent:  hashContent,
			MetadataHash: metaHash,
			UpdatedAt:    updatedAt,
		},
	}
}

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestClassify_Level1ExactDuplicate(t *testing.T) {
	cand := Candidate{DocID: "A", HashContent: "h1", MetadataHash: "m1"}
	existing := []store.StoredRecord{
		record("A", "h1", "m1", envelope.StatusActive, t0, "p1"),
	}

	v, err := Classify(context.Background(), cand, existing, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, LevelExactDuplicate, v.Level)
	assert.Equal(t, ActionSkip, v.Action)
	require.NotNil(t, v.Match)
	assert.Equal(t, "p1", v.Match.PointRef)
}

func TestClassify_Level1WinsOverLevel2(t *testing.T) {
	cand := Candidate{DocID: "A", HashContent: "h1", MetadataHash: "m1"}
	existing := []store.StoredRecord{
		// A deprecated exact duplicate and an active different-content
		// record both exist; the exact match wins.
		record("A", "h1", "m1", envelope.StatusDeprecated, t0, "p1"),
		record("A", "h2", "m1", envelope.StatusActive, t0.Add(time.Hour), "p2"),
	}

	v, err := Classify(context.Background(), cand, existing, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, LevelExactDuplicate, v.Level)
	assert.Equal(t, ActionSkip, v.Action)
}

func TestClassify_Level2DocIDMatch(t *testing.T) {
	cand := Candidate{DocID: "A", HashContent: "h2", MetadataHash: "m2"}
	existing := []store.StoredRecord{
		record("A", "h1", "m1", envelope.StatusActive, t0, "p1"),
	}

	v, err := Classify(context.Background(), cand, existing, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, LevelContentUpdate, v.Level)
	assert.Equal(t, ActionUpdate, v.Action)
	assert.Equal(t, "h1", v.Match.Env.HashContent)
}

func TestClassify_Level2MetadataHashMatch(t *testing.T) {
	// Same envelope identity under a different doc_id query set: the
	// metadata fingerprint ties them together.
	cand := Candidate{DocID: "A", HashContent: "h2", MetadataHash: "m1"}
	existing := []store.StoredRecord{
		record("B", "h1", "m1", envelope.StatusActive, t0, "p1"),
	}

	v, err := Classify(context.Background(), cand, existing, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, LevelContentUpdate, v.Level)
	assert.Equal(t, ActionUpdate, v.Action)
}

func TestClassify_Level2DocIDCaseWinsOverMetadataCase(t *testing.T) {
	cand := Candidate{DocID: "A", HashContent: "h3", MetadataHash: "mX"}
	existing := []store.StoredRecord{
		// Metadata-fingerprint match, newer.
		record("B", "h1", "mX", envelope.StatusActive, t0.Add(2*time.Hour), "p1"),
		// doc_id match, should win despite being older.
		record("A", "h2", "mA", envelope.StatusActive, t0, "p2"),
	}

	v, err := Classify(context.Background(), cand, existing, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, LevelContentUpdate, v.Level)
	assert.Equal(t, "p2", v.Match.PointRef)
}

func TestClassify_TieBreaks(t *testing.T) {
	cand := Candidate{DocID: "A", HashContent: "hNew", MetadataHash: "mNew"}

	t.Run("newest updated_at wins", func(t *testing.T) {
		existing := []store.StoredRecord{
			record("A", "h1", "m1", envelope.StatusActive, t0, "p1"),
			record("A", "h2", "m2", envelope.StatusActive, t0.Add(time.Hour), "p2"),
		}
		v, err := Classify(context.Background(), cand, existing, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, "p2", v.Match.PointRef)
	})

	t.Run("smallest point ref on full tie", func(t *testing.T) {
		existing := []store.StoredRecord{
			record("A", "h2", "m2", envelope.StatusActive, t0, "p9"),
			record("A", "h1", "m1", envelope.StatusActive, t0, "p3"),
		}
		v, err := Classify(context.Background(), cand, existing, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, "p3", v.Match.PointRef)
	})
}

func TestClassify_Level3Similarity(t *testing.T) {
	cand := Candidate{DocID: "A", HashContent: "h1", MetadataHash: "m1", Content: "near duplicate"}

	simFn := func(_ context.Context, _ string) (float32, []float32, error) {
		return 0.9, []float32{1, 2}, nil
	}

	v, err := Classify(context.Background(), cand, nil, simFn, DefaultSimilarityThreshold)
	require.NoError(t, err)

	assert.Equal(t, LevelSemanticSimilarity, v.Level)
	assert.Equal(t, ActionWarn, v.Action)
	assert.InDelta(t, 0.9, v.Similarity, 1e-6)
	assert.Equal(t, []float32{1, 2}, v.Vector)
}

func TestClassify_Level3BelowThresholdIsLevel4(t *testing.T) {
	simFn := func(_ context.Context, _ string) (float32, []float32, error) {
		return 0.5, []float32{1}, nil
	}

	v, err := Classify(context.Background(), Candidate{DocID: "A", HashContent: "h"}, nil, simFn, DefaultSimilarityThreshold)
	require.NoError(t, err)

	assert.Equal(t, LevelNewContent, v.Level)
	assert.Equal(t, ActionStore, v.Action)
	// The computed vector is still handed back for reuse.
	assert.Equal(t, []float32{1}, v.Vector)
}

func TestClassify_SimilarityComputedLazily(t *testing.T) {
	called := false
	simFn := func(_ context.Context, _ string) (float32, []float32, error) {
		called = true
		return 1, nil, nil
	}

	cand := Candidate{DocID: "A", HashContent: "h1", MetadataHash: "m1"}
	existing := []store.StoredRecord{
		record("A", "h1", "m1", envelope.StatusActive, t0, "p1"),
	}

	v, err := Classify(context.Background(), cand, existing, simFn, DefaultSimilarityThreshold)
	require.NoError(t, err)

	// A hash match short-circuits; the embedding hook never runs.
	assert.Equal(t, LevelExactDuplicate, v.Level)
	assert.False(t, called)
}

func TestClassify_Level4NewContent(t *testing.T) {
	v, err := Classify(context.Background(), Candidate{DocID: "A", HashContent: "h"}, nil, nil, 0)
	require.NoError(t, err)

	assert.Equal(t, LevelNewContent, v.Level)
	assert.Equal(t, ActionStore, v.Action)
	assert.Nil(t, v.Match)
}
