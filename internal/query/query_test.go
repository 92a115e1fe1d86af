package query

import (
	"context"
	"encoding/json"
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

// seedService ingests fixture documents through the real controller so
// envelopes and fingerprints are authentic.
func seedService(t *testing.T) (*Service, *store.MemoryStore, *embed.StaticEmbedder) {
	t.Helper()
	m := store.NewMemoryStore()
	e := embed.NewStaticEmbedder(16)
	c := ingest.NewController(m, e, nil)

	fixtures := []struct {
		coll     string
		content  string
		meta     envelope.Input
	}{
		{docsColl, "alpha design document", envelope.Input{DocID: "alpha", Category: "design_doc", FilePath: "docs/alpha.md"}},
		{docsColl, "beta debug summary", envelope.Input{DocID: "beta", Category: "debug_summary"}},
		{codeColl, "func main() {}", envelope.Input{DocID: "main.go", Category: "other", FilePath: "cmd/main.go"}},
	}
	for _, f := range fixtures {
		_, err := c.IngestDocument(context.Background(), ingest.Request{
			Collection: f.coll, Content: f.content, Meta: f.meta,
		})
		require.NoError(t, err)
	}

	// One deprecated prior version for alpha.
	_, err := c.IngestDocument(context.Background(), ingest.Request{
		Collection: docsColl, Content: "alpha design document v2",
		Meta: envelope.Input{DocID: "alpha", Category: "design_doc", FilePath: "docs/alpha.md"},
	})
	require.NoError(t, err)

	return NewService(m, e, docsColl, codeColl, nil), m, e
}

func TestSearch_Validation(t *testing.T) {
	svc, _, _ := seedService(t)

	_, err := svc.Search(context.Background(), SearchRequest{})
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	_, err = svc.Search(context.Background(), SearchRequest{Query: "x", TopK: 51})
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	_, err = svc.Search(context.Background(), SearchRequest{Query: "x", ContentType: "video"})
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestSearch_DefaultsToActiveOnly(t *testing.T) {
	svc, _, _ := seedService(t)

	results, err := svc.Search(context.Background(), SearchRequest{Query: "alpha design document"})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		assert.Equal(t, string(envelope.StatusActive), r.Status)
	}
}

func TestSearch_ExplicitStatusFilterWins(t *testing.T) {
	svc, _, _ := seedService(t)

	raw := json.RawMessage(`{"field": "meta.status", "operator": "==", "value": "deprecated"}`)
	results, err := svc.Search(context.Background(), SearchRequest{
		Query: "alpha design document", Filter: raw,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		assert.Equal(t, string(envelope.StatusDeprecated), r.Status)
	}
}

func TestSearch_ContentTypeRouting(t *testing.T) {
	svc, _, _ := seedService(t)

	code, err := svc.Search(context.Background(), SearchRequest{Query: "func main", ContentType: ContentCode})
	require.NoError(t, err)
	require.NotEmpty(t, code)
	for _, r := range code {
		assert.Equal(t, codeColl, r.Collection)
	}

	docs, err := svc.Search(context.Background(), SearchRequest{Query: "design", ContentType: ContentDocs})
	require.NoError(t, err)
	for _, r := range docs {
		assert.Equal(t, docsColl, r.Collection)
	}
}

func TestSearch_UnindexedFilterRejected(t *testing.T) {
	svc, _, _ := seedService(t)

	raw := json.RawMessage(`{"field": "meta.unindexed", "operator": "==", "value": "x"}`)
	_, err := svc.Search(context.Background(), SearchRequest{Query: "anything", Filter: raw})
	require.Error(t, err)
	assert.Equal(t, errors.KindIndexRequired, errors.KindOf(err))
}

func TestGetByPath(t *testing.T) {
	svc, _, _ := seedService(t)

	results, err := svc.GetByPath(context.Background(), "docs/alpha.md", false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha design document v2", results[0].Content)

	// Deprecated versions surface on request.
	all, err := svc.GetByPath(context.Background(), "docs/alpha.md", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetByPath_NotFound(t *testing.T) {
	svc, _, _ := seedService(t)

	_, err := svc.GetByPath(context.Background(), "docs/missing.md", false)
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestStats(t *testing.T) {
	svc, _, _ := seedService(t)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(3), stats.Docs.Total) // alpha v1+v2, beta
	assert.Equal(t, uint64(2), stats.Docs.Active)
	assert.Equal(t, uint64(1), stats.Docs.Deprecated)
	assert.Equal(t, uint64(1), stats.Code.Total)
	assert.Equal(t, uint64(1), stats.Code.Active)
}

func TestMetadataStats(t *testing.T) {
	svc, _, _ := seedService(t)

	groups, err := svc.MetadataStats(context.Background(), nil, []string{envelope.FieldCategory})
	require.NoError(t, err)

	buckets := groups[envelope.FieldCategory]
	require.NotEmpty(t, buckets)

	byValue := map[string]int{}
	for _, g := range buckets {
		byValue[g.Value] = g.Count
	}
	assert.Equal(t, 2, byValue["design_doc"]) // alpha v1 + v2
	assert.Equal(t, 1, byValue["debug_summary"])
	assert.Equal(t, 1, byValue["other"])
}

func TestVersionHistory(t *testing.T) {
	svc, _, _ := seedService(t)

	versions, err := svc.VersionHistory(context.Background(), "alpha", "design_doc", true)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	// Newest first; the newest is the active one.
	assert.Equal(t, "active", versions[0].Status)
	assert.Equal(t, "deprecated", versions[1].Status)
	assert.True(t, versions[0].CreatedAt.After(versions[1].CreatedAt) ||
		versions[0].CreatedAt.Equal(versions[1].CreatedAt))

	// Hash of the active version matches the stored v2 content.
	assert.Equal(t, hash.Content([]byte("alpha design document v2")), versions[0].HashContent)
}

func TestVersionHistory_ActiveOnlyByDefault(t *testing.T) {
	svc, _, _ := seedService(t)

	versions, err := svc.VersionHistory(context.Background(), "alpha", "", false)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "active", versions[0].Status)
}

func TestVersionHistory_NotFound(t *testing.T) {
	svc, _, _ := seedService(t)

	_, err := svc.VersionHistory(context.Background(), "missing", "", true)
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestVersionHistory_InvalidCategory(t *testing.T) {
	svc, _, _ := seedService(t)

	_, err := svc.VersionHistory(context.Background(), "alpha", "bogus", false)
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}
