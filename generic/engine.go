/*
engine.go - The action ledger decision procedure (LedgerWriter)

PURPOSE:
  One engine serves the three ledgers of the system (event check-in,
  activity entry/exit, item give/return). A LedgerConfig selects the scope
  kind, the action vocabulary, the code rule and how "currently active" is
  known: a stored state row, or computed from the latest settled log row.

DECISION PROCEDURE (Record):
  1. Normalize the code, check the action      -> InvalidRequest (logged, no subject)
  2. Check the target, resolve the participant -> NotFound (logged, no subject)
  3. Activation of an excluded participant     -> InvalidRequest (logged with subject)
  4. Activation of an already active subject   -> AlreadyInState (logged)
  5. Otherwise, in one transaction:
       stored:   insert state row (unique per scope+participant), log Success
       computed: log Success carrying a unique activation key
     Deactivations always log Success; stored ledgers drop the state row.
  6. Unique violation on step 5 (two kiosks raced past step 4):
       roll back, log AlreadyInState in a fresh transaction
  7. Any other failure: best-effort Failed row outside the failed
     transaction, return ErrLedgerFailed

RACE GUARANTEE:
  Under N concurrent activations of the same subject and scope exactly one
  Success is written and the other N-1 resolve to AlreadyInState. The store's
  unique index is the only exclusion primitive. There are no locks here.

ACTIVATION KEYS (computed ledgers):
  A computed ledger has no state row to collide on. Each Success activation
  instead carries a key derived from (scope, participant, id of the settled
  row it follows). Two writers that read the same history derive the same
  key, and the store rejects the second.

SEE ALSO:
  - bulk.go: Undo and ResetAll
  - projector.go: Read-side derivation of the same state
  - checkin/, activity/, custody/: The three configurations
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/warp/tour-ledger/generic")

// failureWriteTimeout bounds the best-effort Failed row written after the
// request context may already be gone.
const failureWriteTimeout = 2 * time.Second

// Column widths of free-text log fields, in characters.
const (
	maxCodeLen   = 64
	maxRoleLen   = 32
	maxIPLen     = 64
	maxDetailLen = 255
)

var activationNamespace = uuid.MustParse("6f1c8f5e-3b0a-4c55-9a55-5d1b3c7e2a10")

// =============================================================================
// CONFIGURATION
// =============================================================================

type StateMode string

const (
	// StateStored keeps a unique state row per active subject.
	StateStored StateMode = "stored"

	// StateComputed derives state from the latest settled log row.
	StateComputed StateMode = "computed"
)

// LedgerConfig parametrizes the engine for one ledger.
type LedgerConfig struct {
	Kind       ScopeKind
	Vocabulary Vocabulary
	Mode       StateMode
	Code       CodeRule

	// Resettable allows ResetAll on computed ledgers, which deletes
	// settled activation rows.
	Resettable bool
}

func (c LedgerConfig) Validate() error {
	switch c.Kind {
	case ScopeEvent, ScopeActivity, ScopeItem:
	default:
		return fmt.Errorf("unknown scope kind %q", c.Kind)
	}
	if c.Vocabulary.Activate == "" || c.Vocabulary.Deactivate == "" || c.Vocabulary.Activate == c.Vocabulary.Deactivate {
		return fmt.Errorf("invalid vocabulary %+v", c.Vocabulary)
	}
	if c.Mode != StateStored && c.Mode != StateComputed {
		return fmt.Errorf("unknown state mode %q", c.Mode)
	}
	if c.Code.Min <= 0 || c.Code.Max < c.Code.Min {
		return fmt.Errorf("invalid code rule %d-%d", c.Code.Min, c.Code.Max)
	}
	return nil
}

// =============================================================================
// REQUEST / OUTCOME
// =============================================================================

// ActionRequest is a classified action. Set ParticipantID or Code.
type ActionRequest struct {
	Scope         Scope
	ParticipantID ParticipantID
	Code          string // raw, normalized by the engine
	Action        Action
	Method        Method
	Actor         Actor
	Client        ClientInfo

	// Rejected is set by callers that could not parse the submission.
	// The attempt is logged as InvalidRequest with this detail.
	Rejected string
}

// Outcome is what the caller gets back for every recorded attempt.
type Outcome struct {
	Result      Result
	Participant *Participant
	Action      Action
	Method      Method
	LogID       LogID
	RecordedAt  time.Time
	Detail      string

	// Recovered is set when the outcome was reclassified after losing a
	// uniqueness race.
	Recovered bool
}

func (o Outcome) AlreadyInState() bool {
	return o.Result == ResultAlreadyInState
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Config   LedgerConfig
	Store    TxStore
	Observer Observer
	Logger   *zap.Logger

	// Now and NewID default to UTC wall clock and random UUIDs.
	Now   func() time.Time
	NewID func() LogID
}

func NewEngine(cfg LedgerConfig, store TxStore) *Engine {
	return &Engine{Config: cfg, Store: store}
}

// Record runs the decision procedure for one action. The returned error is
// nil for every result except ResultFailed.
func (e *Engine) Record(ctx context.Context, req ActionRequest) (Outcome, error) {
	if err := e.checkScope(req.Scope); err != nil {
		e.logger().Debug("action outside ledger scope", zap.Stringer("scope", req.Scope), zap.Error(err))
		return Outcome{Result: ResultInvalidRequest, Action: req.Action, Method: req.Method, Detail: err.Error()}, nil
	}

	ctx, span := tracer.Start(ctx, "ledger.record", trace.WithAttributes(
		attribute.String("ledger.scope.kind", string(req.Scope.Kind)),
		attribute.String("ledger.action", string(req.Action)),
	))
	defer span.End()

	out, err := e.record(ctx, req)

	span.SetAttributes(
		attribute.String("ledger.result", string(out.Result)),
		attribute.Bool("ledger.recovered", out.Recovered),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger action failed")
	}
	if e.Observer != nil {
		e.Observer.Observe(ctx, req.Scope, out)
	}
	return out, err
}

func (e *Engine) record(ctx context.Context, req ActionRequest) (Outcome, error) {
	entry := e.baseEntry(req)
	if req.Rejected != "" {
		entry.Code = truncate(req.Code, maxCodeLen)
		return e.reject(ctx, entry, req.Rejected)
	}

	ref := SubjectRef{ID: req.ParticipantID}
	if ref.ID == "" {
		code, err := NormalizeCode(req.Code, e.Config.Code)
		if err != nil {
			entry.Code = truncate(req.Code, maxCodeLen)
			return e.reject(ctx, entry, err.Error())
		}
		ref.Code = code
		entry.Code = code
	}
	if !e.Config.Vocabulary.Contains(entry.Action) {
		return e.reject(ctx, entry, fmt.Sprintf("action %q is not valid for the %s ledger", entry.Action, e.Config.Kind))
	}

	var (
		out     Outcome
		subject *Participant
	)
	err := e.Store.WithTx(ctx, func(s Store) error {
		var err error
		out, subject, err = e.decide(ctx, s, entry, ref)
		return err
	})
	switch {
	case err == nil:
		return out, nil
	case IsConflict(err):
		return e.recoverConflict(ctx, entry, subject)
	default:
		return e.fail(ctx, entry, subject, "record", err)
	}
}

// decide runs steps 2-5 inside the caller's transaction.
func (e *Engine) decide(ctx context.Context, s Store, entry LogEntry, ref SubjectRef) (Outcome, *Participant, error) {
	scope := entry.Scope

	if scope.Kind != ScopeEvent {
		ok, err := s.TargetExists(ctx, scope)
		if err != nil {
			return Outcome{}, nil, fmt.Errorf("check %s: %w", scope.Kind, err)
		}
		if !ok {
			out, err := e.write(ctx, s, entry, nil, ResultNotFound, fmt.Sprintf("%s not found", scope.Kind))
			return out, nil, err
		}
	}

	p, err := Resolve(ctx, s, scope.Tenant, scope.Event, ref)
	if errors.Is(err, ErrParticipantNotFound) {
		out, err := e.write(ctx, s, entry, nil, ResultNotFound, "participant not found")
		return out, nil, err
	}
	if err != nil {
		return Outcome{}, nil, err
	}

	if !e.Config.Vocabulary.IsActivation(entry.Action) {
		out, err := e.deactivate(ctx, s, entry, p)
		return out, p, err
	}

	if p.Excluded {
		out, err := e.write(ctx, s, entry, p, ResultInvalidRequest, "participant is excluded from this event")
		return out, p, err
	}

	active, follows, err := e.isActive(ctx, s, scope, p.ID)
	if err != nil {
		return Outcome{}, p, err
	}
	if active {
		out, err := e.write(ctx, s, entry, p, ResultAlreadyInState, "")
		return out, p, err
	}

	entry.ID = e.newID()
	entry.OccurredAt = e.now()
	switch e.Config.Mode {
	case StateStored:
		state := StateRecord{Scope: scope, ParticipantID: p.ID, LogID: entry.ID, CreatedAt: entry.OccurredAt}
		if err := s.InsertState(ctx, state); err != nil {
			return Outcome{}, p, err
		}
	case StateComputed:
		entry.ActivationKey = activationKey(scope, p.ID, follows)
	}

	out, err := e.write(ctx, s, entry, p, ResultSuccess, "")
	return out, p, err
}

// deactivate always succeeds once the subject resolves. A deactivation
// without a matching activation is kept as a Success and flagged in Detail.
func (e *Engine) deactivate(ctx context.Context, s Store, entry LogEntry, p *Participant) (Outcome, error) {
	var wasActive bool
	switch e.Config.Mode {
	case StateStored:
		removed, err := s.DeleteState(ctx, entry.Scope, p.ID)
		if err != nil {
			return Outcome{}, fmt.Errorf("clear state: %w", err)
		}
		wasActive = removed
	case StateComputed:
		active, _, err := e.isActive(ctx, s, entry.Scope, p.ID)
		if err != nil {
			return Outcome{}, err
		}
		wasActive = active
	}

	detail := ""
	if !wasActive {
		detail = fmt.Sprintf("no prior %s", e.Config.Vocabulary.Activate)
	}
	return e.write(ctx, s, entry, p, ResultSuccess, detail)
}

// isActive reports whether the subject is in the activated state and, for
// computed ledgers, which settled row the next activation follows.
func (e *Engine) isActive(ctx context.Context, s Store, scope Scope, participant ParticipantID) (bool, LogID, error) {
	if e.Config.Mode == StateStored {
		state, err := s.State(ctx, scope, participant)
		if err != nil {
			return false, "", fmt.Errorf("load state: %w", err)
		}
		return state != nil, "", nil
	}

	last, err := s.LatestSettled(ctx, scope, participant)
	if err != nil {
		return false, "", fmt.Errorf("load latest action: %w", err)
	}
	if last == nil {
		return false, "", nil
	}
	return last.Action == e.Config.Vocabulary.Activate, last.ID, nil
}

// =============================================================================
// OUTCOME PATHS
// =============================================================================

// write appends the entry with the given result and builds the outcome.
func (e *Engine) write(ctx context.Context, s Store, entry LogEntry, p *Participant, result Result, detail string) (Outcome, error) {
	if entry.ID == "" {
		entry.ID = e.newID()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = e.now()
	}
	entry.Result = result
	entry.Detail = truncate(detail, maxDetailLen)
	entry.ParticipantID = ""
	if p != nil {
		entry.ParticipantID = p.ID
	}
	if result != ResultSuccess {
		entry.ActivationKey = ""
	}

	if err := s.AppendLog(ctx, entry); err != nil {
		return Outcome{}, err
	}
	return outcomeOf(entry, p), nil
}

// reject logs an InvalidRequest for input that never reached resolution.
func (e *Engine) reject(ctx context.Context, entry LogEntry, detail string) (Outcome, error) {
	var out Outcome
	err := e.Store.WithTx(ctx, func(s Store) error {
		var err error
		out, err = e.write(ctx, s, entry, nil, ResultInvalidRequest, detail)
		return err
	})
	if err != nil {
		return e.fail(ctx, entry, nil, "reject", err)
	}
	return out, nil
}

// recoverConflict handles the loser of a uniqueness race. The failed
// transaction is already rolled back; the entry is re-recorded from scratch
// as AlreadyInState. A second race here is not expected and becomes Failed.
func (e *Engine) recoverConflict(ctx context.Context, entry LogEntry, p *Participant) (Outcome, error) {
	e.logger().Debug("activation race lost",
		zap.Stringer("scope", entry.Scope),
		zap.String("action", string(entry.Action)),
	)

	entry = resetEntry(entry)
	var out Outcome
	err := e.Store.WithTx(ctx, func(s Store) error {
		var err error
		out, err = e.write(ctx, s, entry, p, ResultAlreadyInState, "concurrent activation")
		return err
	})
	if err != nil {
		return e.fail(ctx, entry, p, "conflict-retry", err)
	}
	out.Recovered = true
	return out, nil
}

// fail records a Failed row on a best-effort basis. Errors writing it are
// logged and dropped.
func (e *Engine) fail(ctx context.Context, entry LogEntry, p *Participant, stage string, cause error) (Outcome, error) {
	ferr := &FailureError{Scope: entry.Scope, Stage: stage, Err: cause}
	e.logger().Error("ledger action failed",
		zap.Stringer("scope", entry.Scope),
		zap.String("stage", stage),
		zap.String("action", string(entry.Action)),
		zap.Error(cause),
	)

	entry = resetEntry(entry)
	entry.OccurredAt = e.now()
	detail := truncate(cause.Error(), maxDetailLen)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	var out Outcome
	err := e.Store.WithTx(wctx, func(s Store) error {
		var err error
		out, err = e.write(wctx, s, entry, p, ResultFailed, detail)
		return err
	})
	if err != nil {
		e.logger().Warn("could not record failure entry",
			zap.Stringer("scope", entry.Scope),
			zap.Error(err),
		)
		entry.Result = ResultFailed
		entry.Detail = detail
		out = outcomeOf(entry, p)
	}
	return out, ferr
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) checkScope(scope Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if scope.Kind != e.Config.Kind {
		return fmt.Errorf("%w: %s ledger cannot record %s actions", ErrInvalidScope, e.Config.Kind, scope.Kind)
	}
	return nil
}

func (e *Engine) baseEntry(req ActionRequest) LogEntry {
	method := req.Method
	if method == "" {
		method = MethodManual
	}
	return LogEntry{
		Scope:  req.Scope,
		Action: req.Action,
		Method: method,
		Actor: Actor{
			UserID: truncate(req.Actor.UserID, MaxIDLen),
			Role:   truncate(req.Actor.Role, maxRoleLen),
		},
		Client: ClientInfo{
			IP:        truncate(req.Client.IP, maxIPLen),
			UserAgent: truncate(req.Client.UserAgent, maxDetailLen),
		},
	}
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func (e *Engine) newID() LogID {
	if e.NewID == nil {
		return LogID(uuid.NewString())
	}
	return e.NewID()
}

func outcomeOf(entry LogEntry, p *Participant) Outcome {
	return Outcome{
		Result:      entry.Result,
		Participant: p,
		Action:      entry.Action,
		Method:      entry.Method,
		LogID:       entry.ID,
		RecordedAt:  entry.OccurredAt,
		Detail:      entry.Detail,
	}
}

// resetEntry clears everything a failed transaction may have assigned.
func resetEntry(entry LogEntry) LogEntry {
	entry.ID = ""
	entry.ActivationKey = ""
	entry.OccurredAt = time.Time{}
	entry.Result = ""
	entry.Detail = ""
	return entry
}

func activationKey(scope Scope, participant ParticipantID, follows LogID) string {
	prev := string(follows)
	if prev == "" {
		prev = "origin"
	}
	return uuid.NewSHA1(activationNamespace, []byte(scope.String()+"|"+string(participant)+"|"+prev)).String()
}

// truncate caps s at n characters on a rune boundary. Invalid UTF-8 is
// replaced first so the value fits a utf8mb4 column.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for j := range s {
		if i == n {
			return s[:j]
		}
		i++
	}
	return s
}
