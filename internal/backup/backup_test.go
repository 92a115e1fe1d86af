package backup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbvault/kbvault/internal/embed"
	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/errors"
	"github.com/kbvault/kbvault/internal/ingest"
	"github.com/kbvault/kbvault/internal/store"
)

const (
	docsColl = "vault_docs"
	codeColl = "vault_code"
)

func newService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	m := store.NewMemoryStore()
	c := ingest.NewController(m, embed.NewStaticEmbedder(8), nil)
	svc := NewService(m, c, docsColl, codeColl, t.TempDir(), nil)
	svc.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, m
}

func seed(t *testing.T, svc *Service, docID, content string) {
	t.Helper()
	_, err := svc.controller.IngestDocument(context.Background(), ingest.Request{
		Collection: docsColl,
		Content:    content,
		Meta:       envelope.Input{DocID: docID, Category: "other"},
	})
	require.NoError(t, err)
}

func TestExport(t *testing.T) {
	svc, _ := newService(t)
	seed(t, svc, "A", "alpha content")
	seed(t, svc, "B", "beta content")

	records, err := svc.Export(context.Background(), nil, true)
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, rec := range records {
		assert.Equal(t, docsColl, rec.Collection)
		assert.NotEmpty(t, rec.Content)
		assert.NotEmpty(t, rec.Meta["doc_id"])
		assert.NotEmpty(t, rec.Vector)
	}
}

func TestExport_WithoutVectors(t *testing.T) {
	svc, _ := newService(t)
	seed(t, svc, "A", "alpha content")

	records, err := svc.Export(context.Background(), nil, false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].Vector)
}

func TestImport_SkipIntoEmptyEqualsOriginal(t *testing.T) {
	src, _ := newService(t)
	seed(t, src, "A", "alpha content")
	seed(t, src, "B", "beta content")

	exported, err := src.Export(context.Background(), nil, true)
	require.NoError(t, err)

	dst, dstStore := newService(t)
	report, err := dst.Import(context.Background(), exported, PolicySkip)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Imported)
	assert.Zero(t, report.Skipped+report.Failed)

	// Round trip: the filtered export of the restored store equals the
	// original export, vectors included.
	reExported, err := dst.Export(context.Background(), nil, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, exported, reExported)

	n, err := dstStore.Count(context.Background(), docsColl, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestImport_SkipKeepsExisting(t *testing.T) {
	svc, m := newService(t)
	seed(t, svc, "A", "original content")

	report, err := svc.Import(context.Background(), []ExportedRecord{{
		Collection: docsColl,
		Content:    "imported content",
		Meta:       exportMeta(t, "A"),
	}}, PolicySkip)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)

	recs, err := m.Scroll(context.Background(), docsColl, store.Eq(envelope.FieldDocID, "A"), 0, false)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "original content", recs[0].Content)
}

func TestImport_ErrorPolicyConflicts(t *testing.T) {
	svc, _ := newService(t)
	seed(t, svc, "A", "original content")

	_, err := svc.Import(context.Background(), []ExportedRecord{{
		Collection: docsColl,
		Content:    "imported content",
		Meta:       exportMeta(t, "A"),
	}}, PolicyError)

	require.Error(t, err)
	assert.Equal(t, errors.KindConflict, errors.KindOf(err))
}

func TestImport_UpdateRunsClassifier(t *testing.T) {
	svc, m := newService(t)
	seed(t, svc, "A", "original content")

	report, err := svc.Import(context.Background(), []ExportedRecord{
		{Collection: docsColl, Content: "changed content", Meta: exportMeta(t, "A")},
	}, PolicyUpdate)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	active, err := m.Scroll(context.Background(), docsColl, store.And(
		store.Eq(envelope.FieldDocID, "A"),
		store.Eq(envelope.FieldStatus, string(envelope.StatusActive)),
	), 0, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "changed content", active[0].Content)

	// The prior version is deprecated, not gone.
	n, err := m.Count(context.Background(), docsColl, store.Eq(envelope.FieldDocID, "A"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestImport_InvalidPolicy(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Import(context.Background(), nil, ImportPolicy("merge"))
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestCreateListRestore(t *testing.T) {
	svc, _ := newService(t)
	seed(t, svc, "A", "alpha content")
	seed(t, svc, "B", "beta content")

	info, err := svc.Create(context.Background(), "vault", nil)
	require.NoError(t, err)

	assert.Equal(t, "backup_vault_20250601_120000", info.ID)
	assert.Equal(t, 2, info.Count)

	for _, name := range []string{DocumentsFile, MetadataFile, ManifestFile} {
		_, err := os.Stat(filepath.Join(info.Path, name))
		assert.NoError(t, err, name)
	}

	backups, err := svc.List()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, info.ID, backups[0].ID)

	// Restore into a fresh store: identical record counts.
	dst, dstStore := newService(t)
	dst.dir = svc.dir

	report, err := dst.Restore(context.Background(), info.ID, PolicySkip)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Imported)

	n, err := dstStore.Count(context.Background(), docsColl, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestRestore_ChecksumMismatch(t *testing.T) {
	svc, _ := newService(t)
	seed(t, svc, "A", "alpha content")

	info, err := svc.Create(context.Background(), "vault", nil)
	require.NoError(t, err)

	// Corrupt the documents file after the manifest was written.
	docsPath := filepath.Join(info.Path, DocumentsFile)
	require.NoError(t, os.WriteFile(docsPath, []byte("[]"), 0o644))

	dst, dstStore := newService(t)
	dst.dir = svc.dir

	_, err = dst.Restore(context.Background(), info.ID, PolicySkip)
	require.Error(t, err)
	assert.Equal(t, errors.KindIntegrityMismatch, errors.KindOf(err))

	// Nothing was applied.
	n, err := dstStore.Count(context.Background(), docsColl, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRestore_UnknownBackup(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Restore(context.Background(), "backup_missing_00000000_000000", PolicySkip)
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestList_EmptyDir(t *testing.T) {
	svc, _ := newService(t)

	backups, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, backups)
}

// exportMeta builds a minimal valid exported envelope for doc_id.
func exportMeta(t *testing.T, docID string) map[string]any {
	t.Helper()
	b := envelope.NewBuilder()
	env, err := b.Build(envelope.Input{DocID: docID, Category: "other"})
	require.NoError(t, err)
	env.HashContent = "feedbeef"
	env.Fingerprint()

	// Round-trip through JSON the way a backup file would.
	data, err := json.Marshal(env.Payload())
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(data, &meta))
	return meta
}
