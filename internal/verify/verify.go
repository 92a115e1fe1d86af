// Package verify implements document quality checks, category-wide
// verification, and the storage integrity audit against a source tree.
package verify

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/errors"
	"github.com/kbvault/kbvault/internal/hash"
	"github.com/kbvault/kbvault/internal/store"
)

// Quality check names.
const (
	CheckHasContent        = "has_content"
	CheckMinLength         = "min_length"
	CheckNoPlaceholder     = "no_placeholder"
	CheckHasRequiredFields = "has_required_fields"
	CheckHashValid         = "hash_valid"
	CheckHasStatus         = "has_status"
)

// placeholderPattern matches the known placeholder markers that signal
// unfinished content.
var placeholderPattern = regexp.MustCompile(`(?i)\b(TODO|TBD|FIXME|XXX|lorem ipsum|placeholder)\b`)

// Check is one entry of the quality vector.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Result is the quality vector for one record.
type Result struct {
	DocID      string  `json:"doc_id"`
	ChunkID    string  `json:"chunk_id,omitempty"`
	Score      float64 `json:"score"`
	Passed     bool    `json:"passed"`
	Checks     []Check `json:"checks"`
	Collection string  `json:"collection,omitempty"`
}

// Verifier runs quality checks against stored records.
type Verifier struct {
	store store.Store

	// MinLength is the minimum normalized content length in bytes.
	MinLength int
	// PassThreshold is the minimum score considered passing.
	PassThreshold float64

	logger *slog.Logger
}

// NewVerifier creates a verifier with the given thresholds.
func NewVerifier(s store.Store, minLength int, passThreshold float64, logger *slog.Logger) *Verifier {
	if minLength <= 0 {
		minLength = 10
	}
	if passThreshold <= 0 {
		passThreshold = 1.0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{store: s, MinLength: minLength, PassThreshold: passThreshold, logger: logger}
}

// VerifyRecord computes the quality vector for a single record.
// Pure over its input; the score is the fraction of passing checks.
func (v *Verifier) VerifyRecord(rec *store.StoredRecord) Result {
	normalized := hash.Normalize([]byte(rec.Content))

	checks := []Check{
		{Name: CheckHasContent, Passed: len(normalized) > 0},
		{Name: CheckMinLength, Passed: len(normalized) >= v.MinLength},
		{Name: CheckNoPlaceholder, Passed: !placeholderPattern.MatchString(rec.Content)},
		v.requiredFieldsCheck(&rec.Env),
		v.hashCheck(rec),
		{Name: CheckHasStatus, Passed: rec.Env.Status.Valid()},
	}

	passed := 0
	for _, c := range checks {
		if c.Passed {
			passed++
		}
	}
	score := float64(passed) / float64(len(checks))

	return Result{
		DocID:   rec.Env.DocID,
		ChunkID: rec.Env.ChunkID,
		Score:   score,
		Passed:  score >= v.PassThreshold,
		Checks:  checks,
	}
}

func (v *Verifier) requiredFieldsCheck(env *envelope.Envelope) Check {
	c := Check{Name: CheckHasRequiredFields, Passed: true}
	switch {
	case env.DocID == "":
		c.Passed, c.Detail = false, "doc_id missing"
	case !env.Category.Valid():
		c.Passed, c.Detail = false, "category invalid"
	case env.Version == "":
		c.Passed, c.Detail = false, "version missing"
	case env.HashContent == "":
		c.Passed, c.Detail = false, "hash_content missing"
	case env.MetadataHash == "":
		c.Passed, c.Detail = false, "metadata_hash missing"
	}
	return c
}

func (v *Verifier) hashCheck(rec *store.StoredRecord) Check {
	recomputed := hash.Content([]byte(rec.Content))
	if recomputed == rec.Env.HashContent {
		return Check{Name: CheckHashValid, Passed: true}
	}
	return Check{
		Name:   CheckHashValid,
		Passed: false,
		Detail: "stored hash_content does not match recomputed fingerprint",
	}
}

// VerifyDocument verifies every active record of a document — the
// whole record, or all its chunks.
func (v *Verifier) VerifyDocument(ctx context.Context, collections []string, docID string) ([]Result, error) {
	if docID == "" {
		return nil, errors.InvalidInput("doc_id is required")
	}

	filter := store.And(
		store.Or(
			store.Eq(envelope.FieldDocID, docID),
			store.Eq(envelope.FieldParentDocID, docID),
		),
		store.Eq(envelope.FieldStatus, string(envelope.StatusActive)),
	)

	var results []Result
	for _, coll := range collections {
		recs, err := v.store.Scroll(ctx, coll, filter, 0, false)
		if err != nil {
			return nil, err
		}
		for i := range recs {
			r := v.VerifyRecord(&recs[i])
			r.Collection = coll
			results = append(results, r)
		}
	}

	if len(results) == 0 {
		return nil, errors.NotFound("document " + docID)
	}
	return results, nil
}

// CategoryReport aggregates verification over a category.
type CategoryReport struct {
	Category string   `json:"category"`
	Total    int      `json:"total"`
	Passed   int      `json:"passed"`
	Failed   int      `json:"failed"`
	Score    float64  `json:"score"`
	Failures []Result `json:"failures,omitempty"`
}

// VerifyCategory verifies every active record in a category.
// Individual failures never interrupt the sweep; they are collected
// into the report.
func (v *Verifier) VerifyCategory(ctx context.Context, collections []string, category string) (*CategoryReport, error) {
	if !envelope.Category(category).Valid() {
		return nil, errors.InvalidInputf("category %q is not in the closed set", category)
	}

	filter := store.And(
		store.Eq(envelope.FieldCategory, category),
		store.Eq(envelope.FieldStatus, string(envelope.StatusActive)),
	)

	report := &CategoryReport{Category: category}
	var scoreSum float64

	for _, coll := range collections {
		recs, err := v.store.Scroll(ctx, coll, filter, 0, false)
		if err != nil {
			return nil, err
		}
		for i := range recs {
			r := v.VerifyRecord(&recs[i])
			r.Collection = coll
			report.Total++
			scoreSum += r.Score
			if r.Passed {
				report.Passed++
			} else {
				report.Failed++
				report.Failures = append(report.Failures, r)
			}
		}
	}

	if report.Total > 0 {
		report.Score = scoreSum / float64(report.Total)
	}
	return report, nil
}
