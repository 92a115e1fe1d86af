// Package backup implements export/import and directory backups of the
// vector store.
//
// A backup is a directory backup_{collection}_{timestamp} holding
// documents.json, metadata.json and manifest.json; the manifest carries
// a checksum and size per file, computed with the same hasher the
// ingestion core fingerprints content with. Restore verifies the
// manifest before a single record is applied.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/errors"
	"github.com/kbvault/kbvault/internal/hash"
	"github.com/kbvault/kbvault/internal/ingest"
	"github.com/kbvault/kbvault/internal/store"
)

// Backup file names.
const (
	DocumentsFile = "documents.json"
	MetadataFile  = "metadata.json"
	ManifestFile  = "manifest.json"

	lockFile = ".kbvault.lock"
)

// timestampLayout names backup directories sortably.
const timestampLayout = "20060102_150405"

// ImportPolicy decides what happens when an imported record's doc_id
// already exists.
type ImportPolicy string

const (
	// PolicySkip keeps the existing record.
	PolicySkip ImportPolicy = "skip"
	// PolicyUpdate runs the record through the ingestion controller,
	// honoring the duplicate classifier.
	PolicyUpdate ImportPolicy = "update"
	// PolicyError fails on any existing doc_id.
	PolicyError ImportPolicy = "error"
)

// Valid reports whether the policy is known.
func (p ImportPolicy) Valid() bool {
	switch p {
	case PolicySkip, PolicyUpdate, PolicyError:
		return true
	}
	return false
}

// ExportedRecord is one document materialized for transfer.
type ExportedRecord struct {
	Collection string         `json:"collection"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta"`
	Vector     []float32      `json:"vector,omitempty"`
}

// Info describes one backup directory.
type Info struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	CreatedAt  time.Time       `json:"created_at"`
	Filter     json.RawMessage `json:"filter,omitempty"`
	Count      int             `json:"count"`
	Path       string          `json:"path,omitempty"`
}

// manifest maps file names to checksums and sizes.
type manifest struct {
	Algorithm string                   `json:"algorithm"`
	Files     map[string]manifestEntry `json:"files"`
}

type manifestEntry struct {
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// Service implements export, import, backup and restore.
type Service struct {
	store      store.Store
	controller *ingest.Controller
	docsColl   string
	codeColl   string
	dir        string
	logger     *slog.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// NewService creates the backup service rooted at dir.
func NewService(s store.Store, c *ingest.Controller, docsColl, codeColl, dir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      s,
		controller: c,
		docsColl:   docsColl,
		codeColl:   codeColl,
		dir:        dir,
		logger:     logger,
		Now:        time.Now,
	}
}

// Export materializes every record matching the filter from both
// collections, in deterministic order.
func (s *Service) Export(ctx context.Context, rawFilter json.RawMessage, withVectors bool) ([]ExportedRecord, error) {
	filter, err := store.ParseJSON(rawFilter)
	if err != nil {
		return nil, err
	}

	var out []ExportedRecord
	for _, coll := range []string{s.docsColl, s.codeColl} {
		recs, err := s.store.Scroll(ctx, coll, filter, 0, withVectors)
		if err != nil {
			return nil, err
		}
		for i := range recs {
			rec := &recs[i]
			out = append(out, ExportedRecord{
				Collection: coll,
				Content:    rec.Content,
				Meta:       rec.Env.Payload(),
				Vector:     rec.Vector,
			})
		}
	}
	return out, nil
}

// ImportReport summarizes an import run.
type ImportReport struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`

	Errors []string `json:"errors,omitempty"`
}

// Import applies records under the given policy. Per-record failures
// are collected, not fatal; a Conflict under PolicyError aborts.
func (s *Service) Import(ctx context.Context, recs []ExportedRecord, policy ImportPolicy) (*ImportReport, error) {
	if policy == "" {
		policy = PolicySkip
	}
	if !policy.Valid() {
		return nil, errors.InvalidInputf("import policy %q must be one of skip, update, error", policy)
	}

	report := &ImportReport{}

	for i := range recs {
		rec := &recs[i]
		env, err := envelope.FromPayload(rec.Meta)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err.Error())
			continue
		}

		collection := rec.Collection
		if collection == "" {
			collection = s.docsColl
		}

		exists, err := s.docExists(ctx, collection, env.DocID)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err.Error())
			continue
		}

		switch {
		case exists && policy == PolicyError:
			return report, errors.Conflict(fmt.Sprintf("doc_id %s already exists", env.DocID))

		case exists && policy == PolicySkip:
			report.Skipped++

		case policy == PolicyUpdate:
			// The classifier re-runs: unchanged content skips, changed
			// content deprecates and replaces.
			ingReport, err := s.controller.IngestDocument(ctx, ingest.Request{
				Collection: collection,
				Content:    rec.Content,
				Meta: envelope.Input{
					DocID:    env.DocID,
					Category: string(env.Category),
					FilePath: env.FilePath,
					FileHash: env.FileHash,
					Source:   string(envelope.SourceImported),
					Repo:     env.Repo,
					Tags:     env.Tags,
				},
			})
			if err != nil {
				report.Failed++
				report.Errors = append(report.Errors, err.Error())
				continue
			}
			if ingReport.Action == ingest.ActionSkip {
				report.Skipped++
			} else {
				report.Updated++
			}

		default:
			// New record under skip/error policy: apply verbatim,
			// preserving the envelope and any exported embedding.
			if err := s.applyVerbatim(ctx, collection, rec, env); err != nil {
				report.Failed++
				report.Errors = append(report.Errors, err.Error())
				continue
			}
			report.Imported++
		}
	}
	return report, nil
}

// applyVerbatim writes an exported record without re-ingesting,
// embedding only when the export carried no vector.
func (s *Service) applyVerbatim(ctx context.Context, collection string, rec *ExportedRecord, env envelope.Envelope) error {
	vector := rec.Vector
	if len(vector) == 0 {
		var err error
		vector, err = s.controller.Embed(ctx, rec.Content)
		if err != nil {
			return err
		}
	}
	return s.store.Upsert(ctx, collection, []store.Record{{
		Content: rec.Content,
		Vector:  vector,
		Env:     env,
	}})
}

// docExists reports whether any record carries the doc_id, as a
// document or as a chunk parent.
func (s *Service) docExists(ctx context.Context, collection, docID string) (bool, error) {
	n, err := s.store.Count(ctx, collection, store.Or(
		store.Eq(envelope.FieldDocID, docID),
		store.Eq(envelope.FieldParentDocID, docID),
	))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Create writes a new backup directory and returns its descriptor.
// The backup directory is exclusively locked for the duration.
func (s *Service) Create(ctx context.Context, collection string, rawFilter json.RawMessage) (*Info, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindInvalidInput, "backup directory not writable", err)
	}

	lock := flock.New(filepath.Join(s.dir, lockFile))
	if err := lock.Lock(); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "failed to lock backup directory", err)
	}
	defer func() { _ = lock.Unlock() }()

	now := s.Now().UTC()
	if collection == "" {
		collection = strings.TrimSuffix(s.docsColl, "_docs")
	}
	id := fmt.Sprintf("backup_%s_%s", collection, now.Format(timestampLayout))
	path := filepath.Join(s.dir, id)

	records, err := s.Export(ctx, rawFilter, true)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "failed to create backup directory", err)
	}

	info := &Info{
		ID:         id,
		Collection: collection,
		CreatedAt:  now,
		Filter:     rawFilter,
		Count:      len(records),
		Path:       path,
	}

	docsData, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, errors.Internal(err)
	}
	metaData, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, errors.Internal(err)
	}

	files := map[string][]byte{
		DocumentsFile: docsData,
		MetadataFile:  metaData,
	}
	man := manifest{Algorithm: "sha256", Files: make(map[string]manifestEntry, len(files))}

	for name, data := range files {
		if err := os.WriteFile(filepath.Join(path, name), data, 0o644); err != nil {
			return nil, errors.Wrap(errors.KindInternal, "failed to write backup file", err)
		}
		man.Files[name] = manifestEntry{
			Checksum: hash.Sum(data),
			Size:     int64(len(data)),
		}
	}

	manData, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, errors.Internal(err)
	}
	if err := os.WriteFile(filepath.Join(path, ManifestFile), manData, 0o644); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "failed to write manifest", err)
	}

	s.logger.Info("backup created",
		slog.String("id", id),
		slog.Int("records", len(records)))
	return info, nil
}

// Restore verifies a backup's manifest and applies its records through
// the import path.
func (s *Service) Restore(ctx context.Context, id string, policy ImportPolicy) (*ImportReport, error) {
	path := filepath.Join(s.dir, filepath.Base(id))
	if _, err := os.Stat(path); err != nil {
		return nil, errors.NotFound("backup " + id)
	}

	manData, err := os.ReadFile(filepath.Join(path, ManifestFile))
	if err != nil {
		return nil, errors.IntegrityMismatch("backup manifest is missing or unreadable")
	}
	var man manifest
	if err := json.Unmarshal(manData, &man); err != nil {
		return nil, errors.IntegrityMismatch("backup manifest is malformed")
	}

	// Every manifest entry must verify before any record is applied.
	for name, entry := range man.Files {
		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return nil, errors.IntegrityMismatch(fmt.Sprintf("backup file %s is unreadable", name))
		}
		if int64(len(data)) != entry.Size || hash.Sum(data) != entry.Checksum {
			return nil, errors.IntegrityMismatch(fmt.Sprintf("checksum mismatch on %s", name)).
				WithDetail("file", name)
		}
	}

	docsData, err := os.ReadFile(filepath.Join(path, DocumentsFile))
	if err != nil {
		return nil, errors.IntegrityMismatch("backup documents file is unreadable")
	}
	var records []ExportedRecord
	if err := json.Unmarshal(docsData, &records); err != nil {
		return nil, errors.IntegrityMismatch("backup documents file is malformed")
	}

	report, err := s.Import(ctx, records, policy)
	if err != nil {
		return report, err
	}

	s.logger.Info("backup restored",
		slog.String("id", id),
		slog.Int("imported", report.Imported),
		slog.Int("skipped", report.Skipped))
	return report, nil
}

// List returns the available backups, newest first.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "failed to read backup directory", err)
	}

	var out []Info
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "backup_") {
			continue
		}
		metaData, err := os.ReadFile(filepath.Join(s.dir, entry.Name(), MetadataFile))
		if err != nil {
			continue
		}
		var info Info
		if err := json.Unmarshal(metaData, &info); err != nil {
			continue
		}
		info.Path = filepath.Join(s.dir, entry.Name())
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
