package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kbvault/kbvault/internal/backup"
)

// ExportInput is the input for export_documents.
type ExportInput struct {
	Filters           map[string]any `json:"filters,omitempty" jsonschema:"restrict the export to matching records"`
	IncludeEmbeddings bool           `json:"include_embeddings,omitempty" jsonschema:"include the stored vectors"`
}

// ExportOutput carries the materialized records.
type ExportOutput struct {
	Result
	Documents []backup.ExportedRecord `json:"documents,omitempty"`
	Count     int                     `json:"count"`
}

// ImportInput is the input for import_documents.
type ImportInput struct {
	Documents []backup.ExportedRecord `json:"documents" jsonschema:"records to import, as produced by export_documents"`
	Policy    string                  `json:"policy,omitempty" jsonschema:"one of skip, update, error; default skip"`
}

// ImportOutput reports the import.
type ImportOutput struct {
	Result
	Report *backup.ImportReport `json:"report,omitempty"`
}

// CreateBackupInput is the input for create_backup.
type CreateBackupInput struct {
	Filters map[string]any `json:"filters,omitempty" jsonschema:"restrict the backup to matching records"`
}

// CreateBackupOutput describes the created backup.
type CreateBackupOutput struct {
	Result
	Backup *backup.Info `json:"backup,omitempty"`
}

// RestoreBackupInput is the input for restore_backup.
type RestoreBackupInput struct {
	BackupID string `json:"backup_id" jsonschema:"id of the backup to restore"`
	Policy   string `json:"policy,omitempty" jsonschema:"one of skip, update, error; default skip"`
}

// ListBackupsOutput lists the available backups.
type ListBackupsOutput struct {
	Result
	Backups []backup.Info `json:"backups,omitempty"`
}

func (s *Server) registerTransferTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "export_documents",
		Description: "Materialize stored documents as a list of (content, envelope, optional embedding) for transfer.",
	}, s.exportDocuments)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "import_documents",
		Description: "Apply exported records under a policy: skip keeps existing documents, update re-runs the duplicate classifier, error fails on any existing doc_id.",
	}, s.importDocuments)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_backup",
		Description: "Write a backup directory (documents, metadata, checksummed manifest) for the current store contents.",
	}, s.createBackup)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "restore_backup",
		Description: "Verify a backup's manifest checksums and apply its records through the import path.",
	}, s.restoreBackup)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_backups",
		Description: "List the available backups, newest first.",
	}, s.listBackups)
}

func (s *Server) exportDocuments(ctx context.Context, _ *mcp.CallToolRequest, in ExportInput) (*mcp.CallToolResult, ExportOutput, error) {
	var out ExportOutput
	s.instrument("export_documents", func() Result {
		raw, err := rawFilter(in.Filters)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}

		docs, err := s.backups.Export(ctx, raw, in.IncludeEmbeddings)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = ExportOutput{Result: ok(), Documents: docs, Count: len(docs)}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) importDocuments(ctx context.Context, _ *mcp.CallToolRequest, in ImportInput) (*mcp.CallToolResult, ImportOutput, error) {
	var out ImportOutput
	s.instrument("import_documents", func() Result {
		report, err := s.backups.Import(ctx, in.Documents, backup.ImportPolicy(in.Policy))
		if err != nil {
			out.Result = failure(err)
			out.Report = report
			return out.Result
		}
		out = ImportOutput{Result: ok(), Report: report}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) createBackup(ctx context.Context, _ *mcp.CallToolRequest, in CreateBackupInput) (*mcp.CallToolResult, CreateBackupOutput, error) {
	var out CreateBackupOutput
	s.instrument("create_backup", func() Result {
		raw, err := rawFilter(in.Filters)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}

		info, err := s.backups.Create(ctx, s.cfg.Backend.Collection, raw)
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = CreateBackupOutput{Result: ok(), Backup: info}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) restoreBackup(ctx context.Context, _ *mcp.CallToolRequest, in RestoreBackupInput) (*mcp.CallToolResult, ImportOutput, error) {
	var out ImportOutput
	s.instrument("restore_backup", func() Result {
		report, err := s.backups.Restore(ctx, in.BackupID, backup.ImportPolicy(in.Policy))
		if err != nil {
			out.Result = failure(err)
			out.Report = report
			return out.Result
		}
		out = ImportOutput{Result: ok(), Report: report}
		return out.Result
	})
	return nil, out, nil
}

func (s *Server) listBackups(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, ListBackupsOutput, error) {
	var out ListBackupsOutput
	s.instrument("list_backups", func() Result {
		backups, err := s.backups.List()
		if err != nil {
			out.Result = failure(err)
			return out.Result
		}
		out = ListBackupsOutput{Result: ok(), Backups: backups}
		return out.Result
	})
	return nil, out, nil
}
