/*
store.go - Persistence interfaces for the action ledger

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never talks SQL; it talks to a Store inside a transaction opened with
  TxStore.WithTx, and the Projector reads through ReadStore.

KEY INTERFACES:
  Store:     Reads and writes used by the decision procedure
  TxStore:   Opens a transaction and hands a Store bound to it
  ReadStore: Lock-free reads for counts, listings and audit views
  Registry:  Writes for participants and targets (fixtures, admin tools)

APPEND-ONLY CONTRACT:
  Log rows are added with AppendLog only. The single deletion path is
  DeleteSettledActivations, used by the scoped reset of computed ledgers;
  it removes settled activation rows and nothing else.

UNIQUENESS CONTRACT:
  Implementations MUST enforce, at the storage level:
  - one StateRecord per (scope, participant)
  - one log row per non-empty ActivationKey
  and report violations as ErrStateConflict. This is the only concurrency
  control in the system; there are no application locks.

IMPLEMENTATIONS:
  - store/sqlstore: SQLite (mattn, modernc) and MySQL
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - engine.go: Uses Store inside transactions
  - projector.go: Uses ReadStore
*/
package generic

import "context"

// =============================================================================
// STORE - Transaction-scoped reads and writes
// =============================================================================

// Store is what the decision procedure needs. Lookup methods return
// (nil, nil) when nothing matches.
type Store interface {
	ParticipantByCode(ctx context.Context, tenant TenantID, event EventID, code string) (*Participant, error)
	ParticipantByID(ctx context.Context, tenant TenantID, event EventID, id ParticipantID) (*Participant, error)

	// TargetExists reports whether the activity or item of scope exists.
	TargetExists(ctx context.Context, scope Scope) (bool, error)

	// LatestSettled returns the most recent Success/AlreadyInState row.
	LatestSettled(ctx context.Context, scope Scope, participant ParticipantID) (*LogEntry, error)

	// AppendLog writes a row. Returns ErrStateConflict on a duplicate ActivationKey.
	AppendLog(ctx context.Context, entry LogEntry) error

	State(ctx context.Context, scope Scope, participant ParticipantID) (*StateRecord, error)

	// InsertState returns ErrStateConflict if a row already exists.
	InsertState(ctx context.Context, state StateRecord) error

	DeleteState(ctx context.Context, scope Scope, participant ParticipantID) (bool, error)
	DeleteStates(ctx context.Context, scope Scope) (int, error)

	// DeleteSettledActivations removes Success/AlreadyInState rows whose
	// action is activate. Other rows are untouched.
	DeleteSettledActivations(ctx context.Context, scope Scope, activate Action) (int, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// READ STORE - For projections (no locks, read-committed)
// =============================================================================

type ReadStore interface {
	CountParticipants(ctx context.Context, tenant TenantID, event EventID) (int, error)
	Participants(ctx context.Context, tenant TenantID, event EventID) ([]Participant, error)

	CountStates(ctx context.Context, scope Scope) (int, error)
	States(ctx context.Context, scope Scope) ([]StateRecord, error)

	// CountActive counts participants whose latest settled row is activate.
	CountActive(ctx context.Context, scope Scope, activate Action) (int, error)

	// LatestSettledAll returns the latest settled row of every participant in scope.
	LatestSettledAll(ctx context.Context, scope Scope) ([]LogEntry, error)

	// LatestLogs returns the latest row of any result for every participant in scope.
	LatestLogs(ctx context.Context, scope Scope) ([]LogEntry, error)

	LatestLog(ctx context.Context, scope Scope, participant ParticipantID) (*LogEntry, error)

	// Logs returns rows newest first.
	Logs(ctx context.Context, scope Scope, filter LogFilter) ([]LogEntry, error)
}

// LogFilter narrows an audit query. Zero values match everything.
type LogFilter struct {
	ParticipantID ParticipantID
	Results       []Result
	Limit         int
}

// =============================================================================
// REGISTRY - Subjects and targets
// =============================================================================

// Registry persists the records the ledger consumes. Participant and target
// management is owned by other services; this is enough for fixtures.
type Registry interface {
	SaveParticipant(ctx context.Context, p Participant) error
	SaveTarget(ctx context.Context, t Target) error
}

// LedgerStore is the full capability set of a production store.
type LedgerStore interface {
	TxStore
	ReadStore
	Registry
}
