package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kbvault/kbvault/internal/errors"
	"github.com/kbvault/kbvault/internal/query"
	"github.com/kbvault/kbvault/internal/store"
)

// rawFilter converts a caller-supplied filter object to the JSON form
// the filter parser consumes.
func rawFilter(filter map[string]any) (json.RawMessage, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(filter)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidInput, "malformed filter", err)
	}
	return data, nil
}

// SearchInput is the input for search_documents.
type SearchInput struct {
	Query           string         `json:"query" jsonschema:"the search query"`
	TopK            int            `json:"top_k,omitempty" jsonschema:"number of results, 1 to 50, default 10"`
	ContentType     string         `json:"content_type,omitempty" jsonschema:"one of all, docs, code; default all"`
	MetadataFilters map[string]any `json:"metadata_filters,omitempty" jsonschema:"filter predicate over indexed payload fields using full dotted paths like meta.category"`
}

// SearchOutput is the result list for search_documents.
type SearchOutput struct {
	Result
	Results []query.SearchResult `json:"results,omitempty"`
}

// GetByPathInput is the input for get_document_by_path.
type GetByPathInput struct {
	FilePath          string `json:"file_path" jsonschema:"stored file path to look up"`
	IncludeDeprecated bool   `json:"include_deprecated,omitempty" jsonschema:"include deprecated versions"`
}

// MetadataStatsInput is the input for get_metadata_stats.
type MetadataStatsInput struct {
	Filters       map[string]any `json:"filters,omitempty" jsonschema:"restrict aggregation to matching records"`
	GroupByFields []string       `json:"group_by_fields,omitempty" jsonschema:"envelope fields to group by, default category and status"`
}

// MetadataStatsOutput is the aggregation result.
type MetadataStatsOutput struct {
	Result
	Groups map[string][]query.GroupCount `json:"groups,omitempty"`
}

// StatsOutput is the output of get_stats.
type StatsOutput struct {
	Result
	Stats *query.StoreStats `json:"stats,omitempty"`
	// IndexedFields is the payload index schema filter predicates may
	// reference, with the index type per field.
	IndexedFields map[string]string `json:"indexed_fields,omitempty"`
}

// VersionHistoryInput is the input for get_version_history.
type VersionHistoryInput struct {
	DocID             string `json:"doc_id" jsonschema:"logical document id"`
	Category          string `json:"category,omitempty" jsonschema:"restrict to one category"`
	IncludeDeprecated bool   `json:"include_deprecated,omitempty" jsonschema:"include deprecated versions"`
}

// VersionHistoryOutput lists a document's versions, newest first.
type VersionHistoryOutput struct {
	Result
	Versions []query.Version `json:"versions,omitempty"`
}

func (s *Server) registerQueryTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over the stored documents with optional metadata filtering. Filters use full dotted payload paths (meta.category, meta.status); results default to active records only.",
	}, s.searchDocuments)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_document_by_path",
		Description: "Fetch the stored records for a file path, optionally including deprecated versions.",
	}, s.getDocumentByPath)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_metadata_stats",
		Description: "Aggregate record counts grouped by envelope fields, optionally restricted by a filter.",
	}, s.getMetadataStats)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_stats",
		Description: "Collection statistics: totals by status and chunk counts for the docs and code collections.",
	}, s.getStats)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_version_history",
		Description: "List the stored versions of a document, newest first. Prior versions persist as deprecated records.",
	}, s.getVersionHistory)
}

func (s *Server) searchDocuments(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	var out SearchOutput
	s.instrument("search_documents", func() Result {
		raw, err := rawFilter(in.MetadataFilters)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}

		results, err := s.query.Search(ctx, query.SearchRequest{
			Query:       in.Query,
			TopK:        in.TopK,
			ContentType: in.ContentType,
			Filter:      raw,
		})
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = SearchOutput{Result: ok(), Results: results}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) getDocumentByPath(ctx context.Context, _ *mcp.CallToolRequest, in GetByPathInput) (*mcp.CallToolResult, SearchOutput, error) {
	var out SearchOutput
	s.instrument("get_document_by_path", func() Result {
		results, err := s.query.GetByPath(ctx, in.FilePath, in.IncludeDeprecated)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = SearchOutput{Result: ok(), Results: results}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) getMetadataStats(ctx context.Context, _ *mcp.CallToolRequest, in MetadataStatsInput) (*mcp.CallToolResult, MetadataStatsOutput, error) {
	var out MetadataStatsOutput
	s.instrument("get_metadata_stats", func() Result {
		raw, err := rawFilter(in.Filters)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}

		groups, err := s.query.MetadataStats(ctx, raw, in.GroupByFields)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = MetadataStatsOutput{Result: ok(), Groups: groups}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) getStats(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, StatsOutput, error) {
	var out StatsOutput
	s.instrument("get_stats", func() Result {
		stats, err := s.query.Stats(ctx)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = StatsOutput{Result: ok(), Stats: stats, IndexedFields: store.IndexedFieldNames()}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) getVersionHistory(ctx context.Context, _ *mcp.CallToolRequest, in VersionHistoryInput) (*mcp.CallToolResult, VersionHistoryOutput, error) {
	var out VersionHistoryOutput
	s.instrument("get_version_history", func() Result {
		versions, err := s.query.VersionHistory(ctx, in.DocID, in.Category, in.IncludeDeprecated)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = VersionHistoryOutput{Result: ok(), Versions: versions}
		return out.Result
	})
	return nil, out, nil
}
