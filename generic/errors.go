/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Most rejections in this system are Results, not errors: an unknown code
  is ResultNotFound, a malformed one is ResultInvalidRequest. Errors are
  reserved for infrastructure failures and programming mistakes.

ERROR CATEGORIES:
  1. Input errors - Malformed codes or scopes (mapped to InvalidRequest)
  2. Conflict errors - Uniqueness races (never surfaced, become AlreadyInState)
  3. Failure errors - Store or transport failures (surfaced as Failed)

USAGE:
  out, err := engine.Record(ctx, req)
  if errors.Is(err, generic.ErrLedgerFailed) {
      // out.Result == ResultFailed, a failure row was attempted
  }

SEE ALSO:
  - engine.go: Produces and translates these errors
  - store/sqlstore: Maps driver unique violations to ErrStateConflict
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidCode is returned by NormalizeCode for empty or out-of-range codes.
	ErrInvalidCode = errors.New("invalid code")

	// ErrInvalidScope is returned when tenant, event or target are missing
	// or do not fit the store.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrStateConflict is returned by stores when a uniqueness constraint on
	// state rows or activation keys rejects an insert. The engine converts it
	// into an AlreadyInState outcome.
	ErrStateConflict = errors.New("state conflict")

	// ErrLedgerFailed wraps every infrastructure failure reported by Record.
	ErrLedgerFailed = errors.New("ledger action failed")

	// ErrUnsupported is returned for bulk operations a ledger does not offer.
	ErrUnsupported = errors.New("operation not supported by this ledger")

	// ErrParticipantNotFound is returned by Resolver.Resolve when no subject matches.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrTargetNotFound is returned when an activity or item does not exist in the event.
	ErrTargetNotFound = errors.New("target not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FailureError describes where an action failed.
type FailureError struct {
	Scope Scope
	Stage string // e.g. "record", "conflict-retry", "reject"
	Err   error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("ledger %s failed at %s: %v", e.Scope, e.Stage, e.Err)
}

func (e *FailureError) Unwrap() []error {
	return []error{ErrLedgerFailed, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict returns true if the error is a uniqueness race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStateConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrInvalidScope) ||
		errors.Is(err, ErrUnsupported)
}

// IsNotFound returns true if the error indicates a missing subject or target.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrParticipantNotFound) ||
		errors.Is(err, ErrTargetNotFound)
}
