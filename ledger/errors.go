/*
errors.go - Centralized error types for the traceability engine

PURPOSE:
  All rejection kinds in one place. Every error the engine returns is a
  deterministic business-rule rejection of the submitted event - there is
  no transient-failure class because the engine performs no I/O. The HTTP
  layer maps each kind to a 4xx status and passes kind and message through
  verbatim; none of these should ever surface as a 500.

USAGE:
  var verr *ledger.ValidationError
  if errors.As(err, &verr) && verr.Kind == ledger.KindQuotaExceeded {
      ...
  }

SEE ALSO:
  - engine.go: produces admission rejections
  - batch.go:  produces lifecycle rejections
  - api/handlers.go: maps kinds to HTTP statuses
*/
package ledger

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable rejection code.
type Kind string

const (
	KindSpeciesNotConfigured Kind = "SPECIES_NOT_CONFIGURED"
	KindGeofenceViolation    Kind = "GEO_FENCE_VIOLATION"
	KindOutOfSeason          Kind = "OUT_OF_SEASON"
	KindQuotaExceeded        Kind = "QUOTA_EXCEEDED"
	KindDuplicateID          Kind = "DUPLICATE_ID"
	KindInvalidReference     Kind = "INVALID_REFERENCE"
	KindCredentialFailed     Kind = "VC_VERIFICATION_FAILED"
	KindQAGateFailed         Kind = "QA_GATE_FAILED"
	KindNotFound             Kind = "NOT_FOUND"
	KindInvalidState         Kind = "INVALID_STATE"
	KindInvalidInput         Kind = "INVALID_INPUT"
)

// ValidationError is a permanent rejection of a submitted event or
// transition. Field names the offending attribute or reference where one
// exists.
type ValidationError struct {
	Kind    Kind
	Message string
	Field   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func reject(kind Kind, message string) error {
	return &ValidationError{Kind: kind, Message: message}
}

func rejectField(kind Kind, message, field string) error {
	return &ValidationError{Kind: kind, Message: message, Field: field}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf extracts the rejection kind, or "" for a non-engine error.
func KindOf(err error) Kind {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return ""
}

// IsNotFound reports whether the error indicates a missing entity.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsConflict reports whether the error indicates a duplicate or an invalid
// state transition, distinct from plain bad input.
func IsConflict(err error) bool {
	k := KindOf(err)
	return k == KindDuplicateID || k == KindInvalidState
}

// IsClientError reports whether the error is a business-rule rejection the
// caller should receive as a 4xx. All engine rejections qualify.
func IsClientError(err error) bool {
	return KindOf(err) != ""
}
