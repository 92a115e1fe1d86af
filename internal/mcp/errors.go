package mcp

import (
	"github.com/kbvault/kbvault/internal/errors"
)

// Result is embedded in every tool output so each tool returns a single
// JSON object with at least {status: "success"|"error"}.
type Result struct {
	Status    string            `json:"status" jsonschema:"success or error"`
	Kind      string            `json:"kind,omitempty" jsonschema:"error taxonomy kind, set on error"`
	Message   string            `json:"message,omitempty" jsonschema:"error message, set on error"`
	Retryable bool              `json:"retryable,omitempty" jsonschema:"whether the failed operation may succeed on retry"`
	Details   map[string]string `json:"details,omitempty" jsonschema:"kind-specific error detail"`
}

// ok is the success result.
func ok() Result {
	return Result{Status: "success"}
}

// failure maps an error chain onto the taxonomy fields. No partial
// content accompanies an error beyond these fields.
func failure(err error) Result {
	return Result{
		Status:    "error",
		Kind:      string(errors.KindOf(err)),
		Message:   err.Error(),
		Retryable: errors.IsRetryable(err),
		Details:   errors.DetailsOf(err),
	}
}
