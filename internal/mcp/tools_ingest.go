package mcp

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/hash"
	"github.com/kbvault/kbvault/internal/ingest"
	"github.com/kbvault/kbvault/internal/scanner"
)

// MetadataInput is the partial envelope callers may supply.
type MetadataInput struct {
	DocID    string   `json:"doc_id,omitempty" jsonschema:"stable logical identifier; derived from file_path when empty"`
	Version  string   `json:"version,omitempty" jsonschema:"monotone version marker; defaults to the write timestamp"`
	Category string   `json:"category,omitempty" jsonschema:"one of user_rule, project_rule, project_command, design_doc, debug_summary, test_pattern, other"`
	Status   string   `json:"status,omitempty" jsonschema:"one of active, deprecated, draft; defaults to active"`
	FilePath string   `json:"file_path,omitempty" jsonschema:"source file path"`
	Source   string   `json:"source,omitempty" jsonschema:"one of manual, generated, imported"`
	Repo     string   `json:"repo,omitempty" jsonschema:"repository the document belongs to"`
	Tags     []string `json:"tags,omitempty" jsonschema:"free-form tags"`
}

func (m MetadataInput) toEnvelopeInput() envelope.Input {
	return envelope.Input{
		DocID:    m.DocID,
		Version:  m.Version,
		Category: m.Category,
		Status:   m.Status,
		FilePath: m.FilePath,
		Source:   m.Source,
		Repo:     m.Repo,
		Tags:     m.Tags,
	}
}

// ChunkingInput carries the chunking options for document/code adds.
type ChunkingInput struct {
	EnableChunking bool `json:"enable_chunking,omitempty" jsonschema:"split the document into chunks and diff against the stored chunk set"`
	ChunkSize      int  `json:"chunk_size,omitempty" jsonschema:"target chunk size in tokens, 128 to 2048"`
	ChunkOverlap   int  `json:"chunk_overlap,omitempty" jsonschema:"overlap between chunks in tokens, 0 to 256"`
}

// AddDocumentInput is the input for add_document and add_code.
type AddDocumentInput struct {
	Content  string        `json:"content" jsonschema:"document content"`
	Metadata MetadataInput `json:"metadata,omitempty" jsonschema:"partial metadata envelope"`
	ChunkingInput
}

// AddDocumentOutput is the action report for a single write.
type AddDocumentOutput struct {
	Result
	Report *ingest.Report `json:"report,omitempty"`
}

// AddFileInput is the input for add_file.
type AddFileInput struct {
	FilePath string        `json:"file_path" jsonschema:"path of the file to ingest"`
	Metadata MetadataInput `json:"metadata,omitempty" jsonschema:"partial metadata envelope"`
	ChunkingInput
}

// AddDirectoryInput is the input for add_code_directory.
type AddDirectoryInput struct {
	Directory      string   `json:"directory" jsonschema:"source directory to walk"`
	Recursive      bool     `json:"recursive,omitempty" jsonschema:"descend into subdirectories"`
	FileExtensions []string `json:"file_extensions,omitempty" jsonschema:"restrict to these extensions, e.g. [\".go\"]"`
}

// AddDirectoryOutput reports a bulk directory ingestion.
type AddDirectoryOutput struct {
	Result
	FilesFound  int      `json:"files_found"`
	Ingested    int      `json:"ingested"`
	Skipped     int      `json:"skipped"`
	Failed      int      `json:"failed"`
	FileErrors  []string `json:"file_errors,omitempty"`
}

func (s *Server) registerIngestionTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_document",
		Description: "Add a text document to the knowledge store. Duplicate writes are detected by content fingerprint: identical documents are skipped, changed documents deprecate the prior version. Optional chunking re-embeds only changed chunks on update.",
	}, s.addDocument)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_code",
		Description: "Add a source-code document to the code collection. Same duplicate detection and versioning as add_document.",
	}, s.addCode)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_file",
		Description: "Read a file from disk and ingest it. The collection is chosen by extension (code vs docs); the file path and file hash are recorded in the envelope.",
	}, s.addFile)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_code_directory",
		Description: "Walk a directory and ingest every matching source file. Unchanged files are skipped by the duplicate classifier; per-file failures are collected, not fatal.",
	}, s.addCodeDirectory)
}

func (s *Server) addDocument(ctx context.Context, _ *mcp.CallToolRequest, in AddDocumentInput) (*mcp.CallToolResult, AddDocumentOutput, error) {
	return nil, s.runAdd(ctx, "add_document", s.cfg.DocsCollection(), in), nil
}

func (s *Server) addCode(ctx context.Context, _ *mcp.CallToolRequest, in AddDocumentInput) (*mcp.CallToolResult, AddDocumentOutput, error) {
	return nil, s.runAdd(ctx, "add_code", s.cfg.CodeCollection(), in), nil
}

// runAdd is the shared handler body for add_document/add_code.
func (s *Server) runAdd(ctx context.Context, tool, collection string, in AddDocumentInput) AddDocumentOutput {
	var out AddDocumentOutput
	s.instrument(tool, func() Result {
		req := ingest.Request{
			Collection:     collection,
			Content:        in.Content,
			Meta:           in.Metadata.toEnvelopeInput(),
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
		out = AddDocumentOutput{Result: ok(), Report: report}
		return out.Result
	})
	return out
}

func (s *Server) addFile(ctx context.Context, _ *mcp.CallToolRequest, in AddFileInput) (*mcp.CallToolResult, AddDocumentOutput, error) {
	var out AddDocumentOutput
	s.instrument("add_file", func() Result {
		report, err := s.ingestFile(ctx, in.FilePath, in.Metadata, in.ChunkingInput)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = AddDocumentOutput{Result: ok(), Report: report}
		return out.Result
	})
	return nil, out, nil
}

// ingestFile reads one file and routes it by extension.
func (s *Server) ingestFile(ctx context.Context, path string, meta MetadataInput, chunking ChunkingInput) (*ingest.Report, error) {
	req := ingest.FileRequest{
		Path:           path,
		DocsCollection: s.cfg.DocsCollection(),
		CodeCollection: s.cfg.CodeCollection(),
		Meta:           meta.toEnvelopeInput(),
		EnableChunking: chunking.EnableChunking,
		ChunkSize:      chunking.ChunkSize,
		ChunkOverlap:   chunking.ChunkOverlap,
	}
	if req.EnableChunking {
		if req.ChunkSize == 0 {
			req.ChunkSize = s.cfg.Chunking.Size
		}
		if req.ChunkOverlap == 0 {
			req.ChunkOverlap = s.cfg.Chunking.Overlap
		}
	}
	return s.controller.IngestFile(ctx, req)
}

func (s *Server) addCodeDirectory(ctx context.Context, _ *mcp.CallToolRequest, in AddDirectoryInput) (*mcp.CallToolResult, AddDirectoryOutput, error) {
	var out AddDirectoryOutput
	s.instrument("add_code_directory", func() Result {
		files, err := scanner.Walk(ctx, scanner.Options{
			Root:       in.Directory,
			Recursive:  in.Recursive,
			Extensions: in.FileExtensions,
		})
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out.FilesFound = len(files)

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Server.IngestWorkers)

		for _, f := range files {
			g.Go(func() error {
				raw, err := os.ReadFile(f.Path)
				if err != nil {
					mu.Lock()
					out.Failed++
					out.FileErrors = append(out.FileErrors, fmt.Sprintf("%s: %v", f.RelPath, err))
					mu.Unlock()
					return nil
				}

				report, err := s.controller.IngestDocument(gctx, ingest.Request{
					Collection: s.cfg.CodeCollection(),
					Content:    string(raw),
					Meta: envelope.Input{
						FilePath: f.RelPath,
						FileHash: hash.Sum(raw),
						Source:   string(envelope.SourceImported),
					},
				})

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					out.Failed++
					out.FileErrors = append(out.FileErrors, fmt.Sprintf("%s: %v", f.RelPath, err))
				case report.Action == ingest.ActionSkip:
					out.Skipped++
				default:
					out.Ingested++
				}
				return nil
			})
		}
		_ = g.Wait()

		out.Result = ok()
		return out.Result
	})
	return nil, out, nil
}
