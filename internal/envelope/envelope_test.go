package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbvault/kbvault/internal/errors"
)

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func testBuilder() *Builder {
	return &Builder{Now: fixedClock}
}

func TestBuild_Defaults(t *testing.T) {
	env, err := testBuilder().Build(Input{DocID: "A"})
	require.NoError(t, err)

	assert.Equal(t, "A", env.DocID)
	assert.Equal(t, CategoryOther, env.Category)
	assert.Equal(t, StatusActive, env.Status)
	assert.Equal(t, fixedClock(), env.CreatedAt)
	assert.Equal(t, fixedClock(), env.UpdatedAt)
	assert.NotEmpty(t, env.Version)
	// Fingerprints are the hasher's job, never the builder's.
	assert.Empty(t, env.HashContent)
	assert.Empty(t, env.MetadataHash)
}

func TestBuild_DocIDFromFilePath(t *testing.T) {
	env, err := testBuilder().Build(Input{FilePath: "docs/design/arch.md"})
	require.NoError(t, err)
	assert.Equal(t, "docs_design_arch.md", env.DocID)
}

func TestBuild_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"empty doc_id", Input{}},
		{"unknown category", Input{DocID: "A", Category: "recipe"}},
		{"unknown status", Input{DocID: "A", Status: "zombie"}},
		{"unknown source", Input{DocID: "A", Source: "telepathy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testBuilder().Build(tt.in)
			require.Error(t, err)
			assert.Equal(t, errors.KindInvalidMetadata, errors.KindOf(err))
		})
	}
}

func TestBuildChunk_SetsIdentity(t *testing.T) {
	env, err := testBuilder().BuildChunk(Input{DocID: "A"}, 2, 5)
	require.NoError(t, err)

	assert.True(t, env.IsChunk)
	assert.Equal(t, "A_chunk_2", env.ChunkID)
	assert.Equal(t, 2, env.ChunkIndex)
	assert.Equal(t, 5, env.TotalChunks)
	assert.Equal(t, "A", env.ParentDocID)
}

func TestBuildChunk_IndexOutOfRange(t *testing.T) {
	_, err := testBuilder().BuildChunk(Input{DocID: "A"}, 5, 5)
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidMetadata, errors.KindOf(err))
}

func TestFingerprint_IgnoresVolatileFields(t *testing.T) {
	a, err := testBuilder().Build(Input{DocID: "A", Category: "design_doc", Tags: []string{"x"}})
	require.NoError(t, err)
	a.HashContent = "aaaa"
	a.Fingerprint()

	b := a
	b.Status = StatusDeprecated
	b.Version = "other-version"
	b.CreatedAt = b.CreatedAt.Add(time.Hour)
	b.UpdatedAt = b.UpdatedAt.Add(time.Hour)
	b.HashContent = "bbbb"
	b.Fingerprint()

	// Two otherwise-identical envelopes compare equal under the metadata
	// fingerprint regardless of deprecation state or content hash.
	assert.Equal(t, a.MetadataHash, b.MetadataHash)
}

func TestFingerprint_SensitiveToIdentityFields(t *testing.T) {
	a, err := testBuilder().Build(Input{DocID: "A"})
	require.NoError(t, err)
	a.Fingerprint()

	b, err := testBuilder().Build(Input{DocID: "A", Repo: "kbvault"})
	require.NoError(t, err)
	b.Fingerprint()

	assert.NotEqual(t, a.MetadataHash, b.MetadataHash)
}

func TestPayloadRoundTrip(t *testing.T) {
	env, err := testBuilder().BuildChunk(Input{
		DocID:    "A",
		Category: "design_doc",
		FilePath: "docs/a.md",
		Source:   "manual",
		Tags:     []string{"x", "y"},
	}, 1, 3)
	require.NoError(t, err)
	env.HashContent = "cafe"
	env.Fingerprint()
	env.SimilarityWarning = true

	got, err := FromPayload(env.Payload())
	require.NoError(t, err)

	assert.Equal(t, env.DocID, got.DocID)
	assert.Equal(t, env.Category, got.Category)
	assert.Equal(t, env.Status, got.Status)
	assert.Equal(t, env.HashContent, got.HashContent)
	assert.Equal(t, env.MetadataHash, got.MetadataHash)
	assert.Equal(t, env.Tags, got.Tags)
	assert.Equal(t, env.ChunkID, got.ChunkID)
	assert.Equal(t, env.ChunkIndex, got.ChunkIndex)
	assert.Equal(t, env.TotalChunks, got.TotalChunks)
	assert.Equal(t, env.ParentDocID, got.ParentDocID)
	assert.True(t, got.IsChunk)
	assert.True(t, got.SimilarityWarning)
	assert.True(t, env.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, env.UpdatedAt.Equal(got.UpdatedAt))
}

func TestFromPayload_MissingDocID(t *testing.T) {
	_, err := FromPayload(map[string]any{FieldStatus: "active"})
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidMetadata, errors.KindOf(err))
}

func TestDeprecate(t *testing.T) {
	env, err := testBuilder().Build(Input{DocID: "A"})
	require.NoError(t, err)

	later := fixedClock().Add(time.Minute)
	dep := env.Deprecate(later)

	assert.Equal(t, StatusDeprecated, dep.Status)
	assert.Equal(t, later, dep.UpdatedAt)
	// Only status and updated_at change.
	assert.Equal(t, env.CreatedAt, dep.CreatedAt)
	assert.Equal(t, env.Version, dep.Version)
	assert.Equal(t, StatusActive, env.Status)
}
