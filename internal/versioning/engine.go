// Package versioning implements the deprecation engine: the only
// component allowed to transition stored records between lifecycle
// states.
//
// The backend rejects point-id references that are not of its native
// shape, while the core's identifiers are strings. Deprecation is
// therefore expressed as a filter-based payload mutation keyed on the
// content fingerprint, which is unique per version and safe to hand to
// the backend.
package versioning

import (
	"context"
	"log/slog"
	"time"

	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/errors"
	"github.com/kbvault/kbvault/internal/store"
)

// Engine performs status transitions via filter-based payload updates.
type Engine struct {
	store  store.Store
	logger *slog.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// NewEngine creates a versioning engine over the given store.
func NewEngine(s store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, logger: logger, Now: time.Now}
}

// Deprecate transitions every active record whose content fingerprint
// equals hashContent to deprecated, stamping updated_at. It refuses to
// operate without the fingerprint: that is the only identifier under
// the engine's control that is safe to pass to the backend.
//
// The transition is idempotent: when no active record matches (already
// deprecated, or never stored), Deprecate is a no-op success.
func (e *Engine) Deprecate(ctx context.Context, collection, hashContent string) error {
	if hashContent == "" {
		return errors.InvalidInput("deprecation requires the target's hash_content")
	}

	filter := store.And(
		store.Eq(envelope.FieldHashContent, hashContent),
		store.Eq(envelope.FieldStatus, string(envelope.StatusActive)),
	)

	patch := map[string]any{
		envelope.FieldStatus:    string(envelope.StatusDeprecated),
		envelope.FieldUpdatedAt: e.Now().UTC().Format(time.RFC3339Nano),
	}

	if err := e.store.SetPayloadByFilter(ctx, collection, filter, patch); err != nil {
		return err
	}

	e.logger.Debug("deprecated prior version",
		slog.String("collection", collection),
		slog.String("hash_content", hashContent))
	return nil
}

// SetStatus performs a manual status transition on every record whose
// content fingerprint matches, regardless of current status. It backs
// the draft → active and deprecated → active manual paths.
func (e *Engine) SetStatus(ctx context.Context, collection, hashContent string, status envelope.Status) error {
	if hashContent == "" {
		return errors.InvalidInput("status transition requires the target's hash_content")
	}
	if !status.Valid() {
		return errors.InvalidInputf("status %q is not in the closed set", status)
	}

	patch := map[string]any{
		envelope.FieldStatus:    string(status),
		envelope.FieldUpdatedAt: e.Now().UTC().Format(time.RFC3339Nano),
	}

	return e.store.SetPayloadByFilter(ctx, collection,
		store.Eq(envelope.FieldHashContent, hashContent), patch)
}
