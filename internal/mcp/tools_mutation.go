package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/errors"
	"github.com/kbvault/kbvault/internal/ingest"
	"github.com/kbvault/kbvault/internal/store"
)

// immutableFields may never be touched by metadata patches: mutating
// them would break fingerprint identity or chunk alignment.
var immutableFields = map[string]bool{
	envelope.FieldDocID:        true,
	envelope.FieldHashContent:  true,
	envelope.FieldMetadataHash: true,
	envelope.FieldIsChunk:      true,
	envelope.FieldChunkID:      true,
	envelope.FieldChunkIndex:   true,
	envelope.FieldParentDocID:  true,
	envelope.FieldTotalChunks:  true,
	envelope.FieldCreatedAt:    true,
}

// validatePatch rejects patches touching immutable fields.
func validatePatch(patch map[string]any) error {
	if len(patch) == 0 {
		return errors.InvalidInput("metadata_updates must not be empty")
	}
	for field := range patch {
		if immutableFields[field] {
			return errors.InvalidInputf("field %q is immutable", field).
				WithDetail("field", field)
		}
	}
	if status, ok := patch[envelope.FieldStatus].(string); ok {
		if !envelope.Status(status).Valid() {
			return errors.InvalidInputf("status %q is not in the closed set", status)
		}
	}
	if category, ok := patch[envelope.FieldCategory].(string); ok {
		if !envelope.Category(category).Valid() {
			return errors.InvalidInputf("category %q is not in the closed set", category)
		}
	}
	return nil
}

// UpdateDocumentInput replaces a document's content, running the full
// ingestion path.
type UpdateDocumentInput struct {
	DocID    string        `json:"doc_id" jsonschema:"logical id of the document to update"`
	Content  string        `json:"content" jsonschema:"replacement content"`
	Metadata MetadataInput `json:"metadata_updates,omitempty" jsonschema:"envelope fields for the new version"`
	ChunkingInput
}

// UpdateMetadataInput patches envelope fields on every record of a
// document (all versions and chunks) without touching content.
type UpdateMetadataInput struct {
	DocID           string         `json:"doc_id" jsonschema:"logical id of the document to patch"`
	MetadataUpdates map[string]any `json:"metadata_updates" jsonschema:"fields to set; content, fingerprints and chunk identity are immutable"`
}

// DeleteDocumentInput removes a document and its chunks.
type DeleteDocumentInput struct {
	DocID string `json:"doc_id" jsonschema:"logical id of the document to delete"`
}

// DeleteByFilterInput removes every record matching a predicate.
type DeleteByFilterInput struct {
	Filters map[string]any `json:"filters" jsonschema:"filter predicate; required"`
}

// BulkUpdateInput patches envelope fields on every matching record.
type BulkUpdateInput struct {
	Filters         map[string]any `json:"filters" jsonschema:"filter predicate selecting the records to patch"`
	MetadataUpdates map[string]any `json:"metadata_updates" jsonschema:"fields to set on every match"`
}

// ClearAllInput empties both collections.
type ClearAllInput struct {
	Confirm bool `json:"confirm" jsonschema:"must be true; clear_all hard-deletes every record"`
}

// MutationOutput reports a mutation.
type MutationOutput struct {
	Result
	Affected uint64 `json:"affected,omitempty"`
}

// UpdateDocumentOutput carries the ingestion report of the update.
type UpdateDocumentOutput struct {
	Result
	Report *ingest.Report `json:"report,omitempty"`
}

func (s *Server) registerMutationTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "update_document",
		Description: "Replace a document's content. The write runs through the duplicate classifier: identical content is skipped, changed content deprecates the prior version and stores the new one.",
	}, s.updateDocument)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "update_metadata",
		Description: "Patch envelope fields on a document's records. Content, fingerprints and chunk identity fields are immutable.",
	}, s.updateMetadata)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_document",
		Description: "Hard-delete a document and its chunks from the store. Prefer deprecation via update_metadata unless the record must disappear.",
	}, s.deleteDocument)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_by_filter",
		Description: "Hard-delete every record matching a filter predicate.",
	}, s.deleteByFilter)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "bulk_update_metadata",
		Description: "Patch envelope fields on every record matching a filter predicate. Immutable fields are rejected.",
	}, s.bulkUpdateMetadata)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "clear_all",
		Description: "Hard-delete every record in both collections. Requires confirm: true.",
	}, s.clearAll)
}

// findCollection locates which collection holds a doc_id.
func (s *Server) findCollection(ctx context.Context, docID string) (string, error) {
	filter := store.Or(
		store.Eq(envelope.FieldDocID, docID),
		store.Eq(envelope.FieldParentDocID, docID),
	)
	for _, coll := range s.collections() {
		n, err := s.store.Count(ctx, coll, filter)
		if err != nil {
			return "", err
		}
		if n > 0 {
			return coll, nil
		}
	}
	return "", errors.NotFound("document " + docID)
}

func (s *Server) updateDocument(ctx context.Context, _ *mcp.CallToolRequest, in UpdateDocumentInput) (*mcp.CallToolResult, UpdateDocumentOutput, error) {
	var out UpdateDocumentOutput
	s.instrument("update_document", func() Result {
		if in.DocID == "" {
			out.Result = failure(errors.InvalidInput("doc_id is required"))
			return out.Result
		}

		collection, err := s.findCollection(ctx, in.DocID)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}

		meta := in.Metadata
		meta.DocID = in.DocID

		req := ingest.Request{
			Collection:     collection,
			Content:        in.Content,
			Meta:           meta.toEnvelopeInput(),
			EnableChunking: in.EnableChunking,
			ChunkSize:      in.ChunkSize,
			ChunkOverlap:   in.ChunkOverlap,
		}
		if req.EnableChunking {
			if req.ChunkSize == 0 {
				req.ChunkSize = s.cfg.Chunking.Size
			}
			if req.ChunkOverlap == 0 {
				req.ChunkOverlap = s.cfg.Chunking.Overlap
			}
		}

		report, err := s.controller.IngestDocument(ctx, req)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = UpdateDocumentOutput{Result: ok(), Report: report}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) updateMetadata(ctx context.Context, _ *mcp.CallToolRequest, in UpdateMetadataInput) (*mcp.CallToolResult, MutationOutput, error) {
	var out MutationOutput
	s.instrument("update_metadata", func() Result {
		if in.DocID == "" {
			out.Result = failure(errors.InvalidInput("doc_id is required"))
			return out.Result
		}
		if err := validatePatch(in.MetadataUpdates); err != nil {
			out.Result = failure(err)
			return out.Result
		}

		collection, err := s.findCollection(ctx, in.DocID)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}

		filter := store.Or(
			store.Eq(envelope.FieldDocID, in.DocID),
			store.Eq(envelope.FieldParentDocID, in.DocID),
		)
		affected, err := s.store.Count(ctx, collection, filter)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		if err := s.store.SetPayloadByFilter(ctx, collection, filter, in.MetadataUpdates); err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = MutationOutput{Result: ok(), Affected: affected}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) deleteDocument(ctx context.Context, _ *mcp.CallToolRequest, in DeleteDocumentInput) (*mcp.CallToolResult, MutationOutput, error) {
	var out MutationOutput
	s.instrument("delete_document", func() Result {
		if in.DocID == "" {
			out.Result = failure(errors.InvalidInput("doc_id is required"))
			return out.Result
		}

		collection, err := s.findCollection(ctx, in.DocID)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}

		filter := store.Or(
			store.Eq(envelope.FieldDocID, in.DocID),
			store.Eq(envelope.FieldParentDocID, in.DocID),
		)
		affected, err := s.store.Count(ctx, collection, filter)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		if err := s.store.DeleteByFilter(ctx, collection, filter); err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = MutationOutput{Result: ok(), Affected: affected}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) deleteByFilter(ctx context.Context, _ *mcp.CallToolRequest, in DeleteByFilterInput) (*mcp.CallToolResult, MutationOutput, error) {
	var out MutationOutput
	s.instrument("delete_by_filter", func() Result {
		if len(in.Filters) == 0 {
			out.Result = failure(errors.InvalidInput("filters are required; use clear_all to empty the store"))
			return out.Result
		}
		raw, err := rawFilter(in.Filters)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		filter, err := store.ParseJSON(raw)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}

		var affected uint64
		for _, coll := range s.collections() {
			n, err := s.store.Count(ctx, coll, filter)
			if err != nil {
				out.Result = failure(err)
				return out.Result
			}
			if err := s.store.DeleteByFilter(ctx, coll, filter); err != nil {
				out.Result = failure(err)
				return out.Result
			}
			affected += n
		}
		out = MutationOutput{Result: ok(), Affected: affected}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) bulkUpdateMetadata(ctx context.Context, _ *mcp.CallToolRequest, in BulkUpdateInput) (*mcp.CallToolResult, MutationOutput, error) {
	var out MutationOutput
	s.instrument("bulk_update_metadata", func() Result {
		if err := validatePatch(in.MetadataUpdates); err != nil {
			out.Result = failure(err)
			return out.Result
		}
		raw, err := rawFilter(in.Filters)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		filter, err := store.ParseJSON(raw)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}

		var affected uint64
		for _, coll := range s.collections() {
			n, err := s.store.Count(ctx, coll, filter)
			if err != nil {
				out.Result = failure(err)
				return out.Result
			}
			if err := s.store.SetPayloadByFilter(ctx, coll, filter, in.MetadataUpdates); err != nil {
				out.Result = failure(err)
				return out.Result
			}
			affected += n
		}
		out = MutationOutput{Result: ok(), Affected: affected}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) clearAll(ctx context.Context, _ *mcp.CallToolRequest, in ClearAllInput) (*mcp.CallToolResult, MutationOutput, error) {
	var out MutationOutput
	s.instrument("clear_all", func() Result {
		if !in.Confirm {
			out.Result = failure(errors.InvalidInput("clear_all requires confirm: true"))
			return out.Result
		}

		var affected uint64
		for _, coll := range s.collections() {
			n, err := s.store.Count(ctx, coll, nil)
			if err != nil {
				out.Result = failure(err)
				return out.Result
			}
			if err := s.store.DeleteByFilter(ctx, coll, nil); err != nil {
				out.Result = failure(err)
				return out.Result
			}
			affected += n
		}
		out = MutationOutput{Result: ok(), Affected: affected}
		return out.Result
	})
	return nil, out, nil
}
