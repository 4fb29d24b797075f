package generic

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// LEDGER - Writer and projector over one store
// =============================================================================

// Ledger bundles the write and read sides of one configured ledger. The
// checkin, activity and custody packages wrap it with their vocabulary.
type Ledger struct {
	Config    LedgerConfig
	Engine    *Engine
	Projector *Projector
	Store     LedgerStore
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.Logger = l }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.Observer = o }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.Now = now }
}

func NewLedger(cfg LedgerConfig, store LedgerStore, opts ...Option) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ledger config: %w", err)
	}
	e := NewEngine(cfg, store)
	for _, opt := range opts {
		opt(e)
	}
	return &Ledger{
		Config:    cfg,
		Engine:    e,
		Projector: NewProjector(cfg, store),
		Store:     store,
	}, nil
}

// Subject resolves a participant of the scope's event and projects it.
// Returns ErrParticipantNotFound when the participant is not in the event.
func (l *Ledger) Subject(ctx context.Context, scope Scope, ref SubjectRef) (SubjectView, error) {
	if ref.ID == "" && ref.Code != "" {
		code, err := NormalizeCode(ref.Code, l.Config.Code)
		if err != nil {
			return SubjectView{}, err
		}
		ref.Code = code
	}
	p, err := Resolve(ctx, l.Store, scope.Tenant, scope.Event, ref)
	if err != nil {
		return SubjectView{}, err
	}
	return l.Projector.Subject(ctx, scope, *p)
}

// RequireTarget returns ErrTargetNotFound when the activity or item of
// scope does not exist. Event scopes always pass.
func (l *Ledger) RequireTarget(ctx context.Context, scope Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if scope.Kind == ScopeEvent {
		return nil
	}
	ok, err := l.Store.TargetExists(ctx, scope)
	if err != nil {
		return fmt.Errorf("check %s: %w", scope.Kind, err)
	}
	if !ok {
		return fmt.Errorf("%s %s: %w", scope.Kind, scope.Target, ErrTargetNotFound)
	}
	return nil
}
