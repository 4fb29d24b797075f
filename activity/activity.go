// Package activity implements per-activity entry/exit ledgers.
//
// Each activity of an event (a museum visit, a boat trip) has its own
// scope. State is computed: a participant is inside while their latest
// settled row is an Entry. Guides scan any 6-10 character code.
package activity

import (
	"context"

	"github.com/warp/tour-ledger/generic"
)

// Config is the activity ledger: computed state, generic codes, and a
// reset that drops settled entries.
var Config = generic.LedgerConfig{
	Kind:       generic.ScopeActivity,
	Vocabulary: generic.EntryExit,
	Mode:       generic.StateComputed,
	Code:       generic.GenericCode,
	Resettable: true,
}

type Ledger struct {
	*generic.Ledger
}

func New(store generic.LedgerStore, opts ...generic.Option) (*Ledger, error) {
	l, err := generic.NewLedger(Config, store, opts...)
	if err != nil {
		return nil, err
	}
	return &Ledger{Ledger: l}, nil
}

type Request struct {
	Tenant        generic.TenantID
	Event         generic.EventID
	ActivityID    string
	ParticipantID generic.ParticipantID
	Code          string
	Direction     string
	Method        string
	Actor         generic.Actor
	Client        generic.ClientInfo
	Rejected      string // set when the submission could not be parsed
}

func Scope(tenant generic.TenantID, event generic.EventID, activityID string) generic.Scope {
	return generic.ActivityScope(tenant, event, activityID)
}

// Check records an entry or exit at an activity. An unknown activity is
// logged as NotFound.
func (l *Ledger) Check(ctx context.Context, req Request) (generic.Outcome, error) {
	return l.Engine.Record(ctx, generic.ActionRequest{
		Scope:         Scope(req.Tenant, req.Event, req.ActivityID),
		ParticipantID: req.ParticipantID,
		Code:          req.Code,
		Action:        generic.ParseDirection(req.Direction),
		Method:        generic.ParseMethod(req.Method),
		Actor:         req.Actor,
		Client:        req.Client,
		Rejected:      req.Rejected,
	})
}

// ResetAll empties the activity: settled entries are deleted, exits and
// rejected attempts stay.
func (l *Ledger) ResetAll(ctx context.Context, tenant generic.TenantID, event generic.EventID, activityID string, actor generic.Actor) (int, error) {
	return l.Engine.ResetAll(ctx, Scope(tenant, event, activityID), actor)
}

func (l *Ledger) Summary(ctx context.Context, tenant generic.TenantID, event generic.EventID, activityID string) (generic.Counts, error) {
	scope := Scope(tenant, event, activityID)
	if err := l.RequireTarget(ctx, scope); err != nil {
		return generic.Counts{}, err
	}
	return l.Projector.Counts(ctx, scope)
}

func (l *Ledger) List(ctx context.Context, tenant generic.TenantID, event generic.EventID, activityID string, q generic.ListQuery) (generic.ListPage, error) {
	scope := Scope(tenant, event, activityID)
	if err := l.RequireTarget(ctx, scope); err != nil {
		return generic.ListPage{}, err
	}
	return l.Projector.List(ctx, scope, q)
}

func (l *Ledger) Logs(ctx context.Context, tenant generic.TenantID, event generic.EventID, activityID string, filter generic.LogFilter) ([]generic.LogEntry, error) {
	return l.Projector.Logs(ctx, Scope(tenant, event, activityID), filter)
}
