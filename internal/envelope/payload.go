package envelope

import (
	"time"

	"github.com/kbvault/kbvault/internal/errors"
)

// Payload field names. The store nests all of them under the single
// payload key "meta", so filter predicates address them as dotted paths
// like "meta.doc_id".
const (
	FieldDocID             = "doc_id"
	FieldVersion           = "version"
	FieldCategory          = "category"
	FieldStatus            = "status"
	FieldHashContent       = "hash_content"
	FieldMetadataHash      = "metadata_hash"
	FieldCreatedAt         = "created_at"
	FieldUpdatedAt         = "updated_at"
	FieldFilePath          = "file_path"
	FieldFileHash          = "file_hash"
	FieldSource            = "source"
	FieldRepo              = "repo"
	FieldTags              = "tags"
	FieldIsChunk           = "is_chunk"
	FieldChunkID           = "chunk_id"
	FieldChunkIndex        = "chunk_index"
	FieldParentDocID       = "parent_doc_id"
	FieldTotalChunks       = "total_chunks"
	FieldSimilarityWarning = "similarity_warning"
)

// Payload flattens the envelope to the field map stored under the
// "meta" payload key. Optional empty fields are omitted.
func (e *Envelope) Payload() map[string]any {
	p := map[string]any{
		FieldDocID:        e.DocID,
		FieldVersion:      e.Version,
		FieldCategory:     string(e.Category),
		FieldStatus:       string(e.Status),
		FieldHashContent:  e.HashContent,
		FieldMetadataHash: e.MetadataHash,
		FieldCreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		FieldUpdatedAt:    e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.FilePath != "" {
		p[FieldFilePath] = e.FilePath
	}
	if e.FileHash != "" {
		p[FieldFileHash] = e.FileHash
	}
	if e.Source != "" {
		p[FieldSource] = string(e.Source)
	}
	if e.Repo != "" {
		p[FieldRepo] = e.Repo
	}
	if len(e.Tags) > 0 {
		tags := make([]any, len(e.Tags))
		for i, t := range e.Tags {
			tags[i] = t
		}
		p[FieldTags] = tags
	}
	if e.IsChunk {
		p[FieldIsChunk] = true
		p[FieldChunkID] = e.ChunkID
		p[FieldChunkIndex] = int64(e.ChunkIndex)
		p[FieldParentDocID] = e.ParentDocID
		p[FieldTotalChunks] = int64(e.TotalChunks)
	}
	if e.SimilarityWarning {
		p[FieldSimilarityWarning] = true
	}
	return p
}

// FromPayload reconstructs an envelope from a stored field map.
// Unknown keys are ignored; missing required keys are an error, since a
// record without them escaped the ingestion path.
func FromPayload(p map[string]any) (Envelope, error) {
	e := Envelope{
		DocID:        asString(p[FieldDocID]),
		Version:      asString(p[FieldVersion]),
		Category:     Category(asString(p[FieldCategory])),
		Status:       Status(asString(p[FieldStatus])),
		HashContent:  asString(p[FieldHashContent]),
		MetadataHash: asString(p[FieldMetadataHash]),
		FilePath:     asString(p[FieldFilePath]),
		FileHash:     asString(p[FieldFileHash]),
		Source:       Source(asString(p[FieldSource])),
		Repo:         asString(p[FieldRepo]),
	}

	if e.DocID == "" {
		return Envelope{}, errors.InvalidMetadata("stored payload is missing doc_id")
	}

	if v, ok := p[FieldCreatedAt]; ok {
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, asString(v))
	}
	if v, ok := p[FieldUpdatedAt]; ok {
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, asString(v))
	}

	if v, ok := p[FieldTags]; ok {
		if list, ok := v.([]any); ok {
			for _, item := range list {
				if s := asString(item); s != "" {
					e.Tags = append(e.Tags, s)
				}
			}
		} else if list, ok := v.([]string); ok {
			e.Tags = append(e.Tags, list...)
		}
	}

	if asBool(p[FieldIsChunk]) {
		e.IsChunk = true
		e.ChunkID = asString(p[FieldChunkID])
		e.ChunkIndex = int(asInt64(p[FieldChunkIndex]))
		e.ParentDocID = asString(p[FieldParentDocID])
		e.TotalChunks = int(asInt64(p[FieldTotalChunks]))
	}
	e.SimilarityWarning = asBool(p[FieldSimilarityWarning])

	return e, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
