package verify

import (
	"context"
	"log/slog"
	"os"

	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/hash"
	"github.com/kbvault/kbvault/internal/scanner"
	"github.com/kbvault/kbvault/internal/store"
)

// AuditEntry is one file-level finding.
type AuditEntry struct {
	FilePath string `json:"file_path"`
	Reason   string `json:"reason,omitempty"`
}

// AuditReport is the outcome of a storage integrity audit.
type AuditReport struct {
	// Missing files exist on disk but have no active stored record.
	Missing []AuditEntry `json:"missing,omitempty"`
	// Mismatch files differ from their stored fingerprint.
	Mismatch []AuditEntry `json:"mismatch,omitempty"`
	// Extra records reference paths that no longer exist on disk.
	Extra []AuditEntry `json:"extra,omitempty"`
	// Passed files match their stored fingerprint.
	Passed int `json:"passed"`

	// Score is passed / (passed + missing + mismatch + extra).
	Score float64 `json:"score"`
}

// Audit walks the source directory and compares each file's content
// fingerprint against the stored fingerprint for its file_path.
// Per-file problems are collected, never fatal.
func (v *Verifier) Audit(ctx context.Context, collections []string, dir string, recursive bool, extensions []string) (*AuditReport, error) {
	files, err := scanner.Walk(ctx, scanner.Options{
		Root:       dir,
		Recursive:  recursive,
		Extensions: extensions,
	})
	if err != nil {
		return nil, err
	}

	// One scroll per collection gathers every active record carrying a
	// file_path; audits then run off the in-memory map.
	storedByPath := make(map[string]*store.StoredRecord)
	for _, coll := range collections {
		// Whole documents omit is_chunk from the payload entirely, so
		// the chunk exclusion is expressed as != true.
		recs, err := v.store.Scroll(ctx, coll, store.And(
			store.Eq(envelope.FieldStatus, string(envelope.StatusActive)),
			store.Neq(envelope.FieldIsChunk, true),
		), 0, false)
		if err != nil {
			return nil, err
		}
		for i := range recs {
			rec := &recs[i]
			if rec.Env.FilePath != "" {
				storedByPath[rec.Env.FilePath] = rec
			}
		}
	}

	report := &AuditReport{}
	seen := make(map[string]bool, len(files))

	for _, f := range files {
		seen[f.RelPath] = true

		rec, ok := storedByPath[f.RelPath]
		if !ok {
			report.Missing = append(report.Missing, AuditEntry{
				FilePath: f.RelPath,
				Reason:   "no active record for this path",
			})
			continue
		}

		content, err := os.ReadFile(f.Path)
		if err != nil {
			report.Missing = append(report.Missing, AuditEntry{
				FilePath: f.RelPath,
				Reason:   "unreadable: " + err.Error(),
			})
			continue
		}

		if hash.Content(content) != rec.Env.HashContent {
			report.Mismatch = append(report.Mismatch, AuditEntry{
				FilePath: f.RelPath,
				Reason:   "content fingerprint differs from stored record",
			})
			continue
		}
		report.Passed++
	}

	for path := range storedByPath {
		if !seen[path] {
			report.Extra = append(report.Extra, AuditEntry{
				FilePath: path,
				Reason:   "stored record has no file on disk",
			})
		}
	}

	total := report.Passed + len(report.Missing) + len(report.Mismatch) + len(report.Extra)
	if total > 0 {
		report.Score = float64(report.Passed) / float64(total)
	} else {
		report.Score = 1.0
	}

	v.logger.Info("storage audit completed",
		slog.String("dir", dir),
		slog.Int("passed", report.Passed),
		slog.Int("missing", len(report.Missing)),
		slog.Int("mismatch", len(report.Mismatch)),
		slog.Int("extra", len(report.Extra)))
	return report, nil
}
