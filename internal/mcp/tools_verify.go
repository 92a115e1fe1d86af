package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kbvault/kbvault/internal/verify"
)

// VerifyDocumentInput is the input for verify_document.
type VerifyDocumentInput struct {
	DocID string `json:"doc_id" jsonschema:"logical id of the document to verify"`
}

// VerifyDocumentOutput carries per-record quality vectors.
type VerifyDocumentOutput struct {
	Result
	Results []verify.Result `json:"results,omitempty"`
}

// VerifyCategoryInput is the input for verify_category.
type VerifyCategoryInput struct {
	Category string `json:"category" jsonschema:"category to verify"`
}

// VerifyCategoryOutput aggregates verification over a category.
type VerifyCategoryOutput struct {
	Result
	Report *verify.CategoryReport `json:"report,omitempty"`
}

// AuditInput is the input for audit_storage_integrity.
type AuditInput struct {
	SourceDirectory string   `json:"source_directory" jsonschema:"directory whose files are compared against stored fingerprints"`
	Recursive       bool     `json:"recursive,omitempty" jsonschema:"descend into subdirectories"`
	FileExtensions  []string `json:"file_extensions,omitempty" jsonschema:"restrict to these extensions"`
}

// AuditOutput carries the integrity report.
type AuditOutput struct {
	Result
	Report *verify.AuditReport `json:"report,omitempty"`
}

func (s *Server) registerVerificationTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "verify_document",
		Description: "Run the quality checks (content present, length, placeholders, required fields, fingerprint validity, status) on a document's active records.",
	}, s.verifyDocument)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "verify_category",
		Description: "Run the quality checks over every active record in a category and aggregate the scores. Individual failures are collected, never fatal.",
	}, s.verifyCategory)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "audit_storage_integrity",
		Description: "Walk a source directory and compare each file's fingerprint against the stored record for its path. Reports missing, mismatched and extra entries with an aggregate integrity score.",
	}, s.auditStorageIntegrity)
}

func (s *Server) verifyDocument(ctx context.Context, _ *mcp.CallToolRequest, in VerifyDocumentInput) (*mcp.CallToolResult, VerifyDocumentOutput, error) {
	var out VerifyDocumentOutput
	s.instrument("verify_document", func() Result {
		results, err := s.verifier.VerifyDocument(ctx, s.collections(), in.DocID)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = VerifyDocumentOutput{Result: ok(), Results: results}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) verifyCategory(ctx context.Context, _ *mcp.CallToolRequest, in VerifyCategoryInput) (*mcp.CallToolResult, VerifyCategoryOutput, error) {
	var out VerifyCategoryOutput
	s.instrument("verify_category", func() Result {
		report, err := s.verifier.VerifyCategory(ctx, s.collections(), in.Category)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = VerifyCategoryOutput{Result: ok(), Report: report}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) auditStorageIntegrity(ctx context.Context, _ *mcp.CallToolRequest, in AuditInput) (*mcp.CallToolResult, AuditOutput, error) {
	var out AuditOutput
	s.instrument("audit_storage_integrity", func() Result {
		report, err := s.verifier.Audit(ctx, s.collections(), in.SourceDirectory, in.Recursive, in.FileExtensions)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = AuditOutput{Result: ok(), Report: report}
		return out.Result
	})
	return nil, out, nil
}
