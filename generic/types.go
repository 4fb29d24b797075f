/*
Package generic provides the core action ledger engine.

PURPOSE:
  This package contains the scope-agnostic types and algorithms for recording
  participant actions during an event. Whether a guide scans a participant
  into the event, into a single activity, or hands them a piece of equipment,
  the same engine decides the outcome, writes the audit row and derives the
  current state.

KEY CONCEPTS IN THIS FILE (types.go):
  - Scope: (tenant, event[, activity|item]) partition of subjects and state
  - Action: closed vocabulary of directions (entry/exit, give/return)
  - Result: the outcome code stored on every log row
  - LogEntry: an immutable row of the action ledger
  - StateRecord: the materialized "currently active" row (stored ledgers)

DESIGN PRINCIPLES:
  1. Append-only: LogEntry rows are written once and never edited
  2. Derived state: "is active" is a function of the latest settled rows
  3. Explicit context: tenant and event are parameters, never ambient state
  4. Outcomes over errors: rejections are results that get logged

SEE ALSO:
  - engine.go: The decision procedure (LedgerWriter)
  - projector.go: Read-side counts and listings
  - store.go: Persistence interfaces
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type EventID string
type ParticipantID string
type LogID string

// =============================================================================
// SCOPE - Partition key for subjects and their state
// =============================================================================

type ScopeKind string

const (
	ScopeEvent    ScopeKind = "event"
	ScopeActivity ScopeKind = "activity"
	ScopeItem     ScopeKind = "item"
)

// Scope identifies where an action happens. Target is the activity or item
// id and is empty for the event-level ledger.
type Scope struct {
	Tenant TenantID
	Event  EventID
	Kind   ScopeKind
	Target string
}

func EventScope(tenant TenantID, event EventID) Scope {
	return Scope{Tenant: tenant, Event: event, Kind: ScopeEvent}
}

func ActivityScope(tenant TenantID, event EventID, activityID string) Scope {
	return Scope{Tenant: tenant, Event: event, Kind: ScopeActivity, Target: activityID}
}

func ItemScope(tenant TenantID, event EventID, itemID string) Scope {
	return Scope{Tenant: tenant, Event: event, Kind: ScopeItem, Target: itemID}
}

func (s Scope) String() string {
	if s.Target == "" {
		return fmt.Sprintf("%s/%s/%s", s.Kind, s.Tenant, s.Event)
	}
	return fmt.Sprintf("%s/%s/%s/%s", s.Kind, s.Tenant, s.Event, s.Target)
}

// MaxIDLen is the longest tenant, event, target or actor id the stores
// accept, in characters.
const MaxIDLen = 64

// Validate checks that the scope is fully specified for its kind.
func (s Scope) Validate() error {
	if strings.TrimSpace(string(s.Tenant)) == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidScope)
	}
	if strings.TrimSpace(string(s.Event)) == "" {
		return fmt.Errorf("%w: event is required", ErrInvalidScope)
	}
	for _, f := range [...]struct{ name, id string }{
		{"tenant", string(s.Tenant)},
		{"event", string(s.Event)},
		{"target", s.Target},
	} {
		if err := checkID(f.id); err != nil {
			return fmt.Errorf("%w: %s %v", ErrInvalidScope, f.name, err)
		}
	}
	switch s.Kind {
	case ScopeEvent:
		if s.Target != "" {
			return fmt.Errorf("%w: event scope takes no target", ErrInvalidScope)
		}
	case ScopeActivity, ScopeItem:
		if strings.TrimSpace(s.Target) == "" {
			return fmt.Errorf("%w: %s id is required", ErrInvalidScope, s.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, s.Kind)
	}
	return nil
}

func checkID(id string) error {
	if !utf8.ValidString(id) {
		return errors.New("is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(id); n > MaxIDLen {
		return fmt.Errorf("is %d characters, max %d", n, MaxIDLen)
	}
	return nil
}

// =============================================================================
// ACTION VOCABULARY
// =============================================================================

// Action is the direction of a ledger row. The set is closed; free-form
// client input is mapped onto it by the Parse* functions in classify.go.
type Action string

const (
	ActionEntry  Action = "entry"
	ActionExit   Action = "exit"
	ActionGive   Action = "give"
	ActionReturn Action = "return"
)

// Vocabulary pairs the activating action of a ledger with its inverse.
type Vocabulary struct {
	Activate   Action
	Deactivate Action
}

var (
	EntryExit  = Vocabulary{Activate: ActionEntry, Deactivate: ActionExit}
	GiveReturn = Vocabulary{Activate: ActionGive, Deactivate: ActionReturn}
)

func (v Vocabulary) Contains(a Action) bool {
	return a == v.Activate || a == v.Deactivate
}

func (v Vocabulary) IsActivation(a Action) bool {
	return a == v.Activate
}

type Method string

const (
	MethodManual Method = "manual"
	MethodQRScan Method = "qr_scan"
)

// =============================================================================
// RESULT - Outcome code of an attempted action
// =============================================================================

type Result string

const (
	ResultSuccess        Result = "success"
	ResultAlreadyInState Result = "already_in_state"
	ResultNotFound       Result = "not_found"
	ResultInvalidRequest Result = "invalid_request"
	ResultFailed         Result = "failed"
)

// Settled reports whether a row with this result counts toward state.
// Only Success and AlreadyInState rows describe what actually happened.
func (r Result) Settled() bool {
	return r == ResultSuccess || r == ResultAlreadyInState
}

// =============================================================================
// SUBJECTS AND TARGETS
// =============================================================================

// Participant is the subject of every ledger. Excluded participants
// ("will not attend") cannot be activated.
type Participant struct {
	ID        ParticipantID
	Tenant    TenantID
	Event     EventID
	Code      string
	FirstName string
	LastName  string
	Room      string
	Excluded  bool
}

func (p Participant) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Target is an activity or an item that scopes a ledger inside an event.
type Target struct {
	Kind   ScopeKind
	ID     string
	Tenant TenantID
	Event  EventID
	Name   string
}

func (t Target) Scope() Scope {
	return Scope{Tenant: t.Tenant, Event: t.Event, Kind: t.Kind, Target: t.ID}
}

// =============================================================================
// LEDGER ROWS
// =============================================================================

// Actor is who performed the action, as reported by the auth layer.
type Actor struct {
	UserID string
	Role   string
}

// ClientInfo is request metadata stored for audit.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// LogEntry is one attempted action. Immutable once written.
type LogEntry struct {
	ID    LogID
	Seq   int64 // assigned by the store, tie-breaker for equal timestamps
	Scope Scope

	// ParticipantID is empty when the subject did not resolve.
	ParticipantID ParticipantID
	Code          string

	Action Action
	Method Method
	Result Result
	Detail string

	Actor  Actor
	Client ClientInfo

	// ActivationKey is set only on successful activations of computed
	// ledgers. The store keeps it unique.
	ActivationKey string

	OccurredAt time.Time
}

// HasSubject reports whether the row resolved to a participant.
func (e LogEntry) HasSubject() bool {
	return e.ParticipantID != ""
}

// Before orders rows by timestamp, then by store sequence.
func (e LogEntry) Before(other LogEntry) bool {
	if !e.OccurredAt.Equal(other.OccurredAt) {
		return e.OccurredAt.Before(other.OccurredAt)
	}
	return e.Seq < other.Seq
}

// StateRecord marks a participant as active in a stored-state scope.
// At most one exists per (scope, participant).
type StateRecord struct {
	Scope         Scope
	ParticipantID ParticipantID
	LogID         LogID
	CreatedAt     time.Time
}
