package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbvault/kbvault/internal/embed"
	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/errors"
	"github.com/kbvault/kbvault/internal/hash"
	"github.com/kbvault/kbvault/internal/ingest"
	"github.com/kbvault/kbvault/internal/store"
)

const (
	docsColl = "vault_docs"
	codeColl = "vault_code"
)

var colls = []string{docsColl, codeColl}

func newVerifier(t *testing.T) (*Verifier, *store.MemoryStore, *ingest.Controller) {
	t.Helper()
	m := store.NewMemoryStore()
	c := ingest.NewController(m, embed.NewStaticEmbedder(8), nil)
	return NewVerifier(m, 10, 1.0, nil), m, c
}

func ingestDoc(t *testing.T, c *ingest.Controller, docID, content string, meta envelope.Input) {
	t.Helper()
	meta.DocID = docID
	_, err := c.IngestDocument(context.Background(), ingest.Request{
		Collection: docsColl, Content: content, Meta: meta,
	})
	require.NoError(t, err)
}

func checkByName(r Result, name string) Check {
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	return Check{}
}

func TestVerifyRecord_AllPass(t *testing.T) {
	v, _, c := newVerifier(t)
	ingestDoc(t, c, "A", "a perfectly reasonable document body", envelope.Input{Category: "design_doc"})

	recs, err := v.store.Scroll(context.Background(), docsColl, store.Eq(envelope.FieldDocID, "A"), 0, false)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := v.VerifyRecord(&recs[0])

	assert.Equal(t, 1.0, r.Score)
	assert.True(t, r.Passed)
	assert.Len(t, r.Checks, 6)
}

func TestVerifyRecord_PlaceholderFails(t *testing.T) {
	v, _, c := newVerifier(t)
	ingestDoc(t, c, "A", "this section is still TODO and needs work", envelope.Input{})

	recs, err := v.store.Scroll(context.Background(), docsColl, nil, 0, false)
	require.NoError(t, err)
	r := v.VerifyRecord(&recs[0])

	assert.False(t, checkByName(r, CheckNoPlaceholder).Passed)
	assert.False(t, r.Passed)
	assert.InDelta(t, 5.0/6.0, r.Score, 1e-9)
}

func TestVerifyRecord_ShortContentFails(t *testing.T) {
	v, _, c := newVerifier(t)
	ingestDoc(t, c, "A", "tiny", envelope.Input{})

	recs, err := v.store.Scroll(context.Background(), docsColl, nil, 0, false)
	require.NoError(t, err)
	r := v.VerifyRecord(&recs[0])

	assert.True(t, checkByName(r, CheckHasContent).Passed)
	assert.False(t, checkByName(r, CheckMinLength).Passed)
}

func TestVerifyRecord_HashMismatchDetected(t *testing.T) {
	v, _, _ := newVerifier(t)

	rec := store.StoredRecord{
		Content: "actual content here",
		Env: envelope.Envelope{
			DocID:        "A",
			Category:     envelope.CategoryOther,
			Status:       envelope.StatusActive,
			Version:      "v1",
			HashContent:  "not-the-real-hash",
			MetadataHash: "m1",
		},
	}

	r := v.VerifyRecord(&rec)
	assert.False(t, checkByName(r, CheckHashValid).Passed)
}

func TestVerifyDocument_NotFound(t *testing.T) {
	v, _, _ := newVerifier(t)

	_, err := v.VerifyDocument(context.Background(), colls, "ghost")
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestVerifyDocument_ChunkedVerifiesEachChunk(t *testing.T) {
	v, _, c := newVerifier(t)

	content := "first paragraph with plenty of words to be a chunk on its own, " +
		"padded until it reaches a decent token count for the splitter to work with here"
	_, err := c.IngestDocument(context.Background(), ingest.Request{
		Collection:     docsColl,
		Content:        content,
		Meta:           envelope.Input{DocID: "A"},
		EnableChunking: true,
		ChunkSize:      128,
		ChunkOverlap:   0,
	})
	require.NoError(t, err)

	results, err := v.VerifyDocument(context.Background(), colls, "A")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.True(t, r.Passed)
		assert.NotEmpty(t, r.ChunkID)
	}
}

func TestVerifyCategory(t *testing.T) {
	v, _, c := newVerifier(t)
	ingestDoc(t, c, "good", "a perfectly reasonable document body", envelope.Input{Category: "design_doc"})
	ingestDoc(t, c, "bad", "TODO fill this in later with actual content", envelope.Input{Category: "design_doc"})

	report, err := v.VerifyCategory(context.Background(), colls, "design_doc")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "bad", report.Failures[0].DocID)
	assert.Greater(t, report.Score, 0.5)
	assert.Less(t, report.Score, 1.0)
}

func TestVerifyCategory_InvalidCategory(t *testing.T) {
	v, _, _ := newVerifier(t)

	_, err := v.VerifyCategory(context.Background(), colls, "bogus")
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestAudit(t *testing.T) {
	v, _, c := newVerifier(t)

	dir := t.TempDir()
	write := func(rel, content string) {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, rel)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, rel), []byte(content), 0o644))
	}

	// passed: on disk and stored with matching fingerprint.
	write("match.md", "matching content body")
	ingestDoc(t, c, "match", "matching content body", envelope.Input{FilePath: "match.md"})

	// mismatch: stored fingerprint is for older content.
	write("drift.md", "file changed after indexing")
	ingestDoc(t, c, "drift", "original indexed content", envelope.Input{FilePath: "drift.md"})

	// missing: on disk, never indexed.
	write("orphan.md", "nobody indexed me")

	// extra: indexed, then deleted from disk.
	ingestDoc(t, c, "gone", "the file is gone now", envelope.Input{FilePath: "gone.md"})

	report, err := v.Audit(context.Background(), colls, dir, true, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Passed)
	require.Len(t, report.Mismatch, 1)
	assert.Equal(t, "drift.md", report.Mismatch[0].FilePath)
	require.Len(t, report.Missing, 1)
	assert.Equal(t, "orphan.md", report.Missing[0].FilePath)
	require.Len(t, report.Extra, 1)
	assert.Equal(t, "gone.md", report.Extra[0].FilePath)
	assert.InDelta(t, 0.25, report.Score, 1e-9)
}

func TestAudit_EmptyDirPerfectScore(t *testing.T) {
	v, _, _ := newVerifier(t)

	report, err := v.Audit(context.Background(), colls, t.TempDir(), true, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Score)
}

func TestAudit_HashAgreesWithIngestedFile(t *testing.T) {
	// The fingerprint stored at ingestion equals the fingerprint the
	// audit recomputes from the same bytes.
	v, _, c := newVerifier(t)
	content := []byte("stable content\n")
	ingestDoc(t, c, "stable", string(content), envelope.Input{})

	recs, err := v.store.Scroll(context.Background(), docsColl, store.Eq(envelope.FieldDocID, "stable"), 0, false)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, hash.Content(content), recs[0].Env.HashContent)
}
