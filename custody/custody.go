/*
Package custody implements item give/return ledgers.

PURPOSE:
  Tracks who holds a numbered item (audio headset, museum pass) within an
  event. Each item has its own scope. A participant holds the item while
  their latest settled row is a Give.

RULES:
  - Give to a current holder is AlreadyInState
  - Return without a prior Give succeeds and is flagged in Detail
  - No reset and no undo: custody history is evidence and stays complete

SEE ALSO:
  - generic/engine.go: Decision procedure and activation keys
*/
package custody

import (
	"context"

	"github.com/warp/tour-ledger/generic"
)

var Config = generic.LedgerConfig{
	Kind:       generic.ScopeItem,
	Vocabulary: generic.GiveReturn,
	Mode:       generic.StateComputed,
	Code:       generic.GenericCode,
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

// Request is a hand-over at the desk. Action is "give" or "return";
// anything else is treated as give.
type Request struct {
	Tenant        generic.TenantID
	Event         generic.EventID
	ItemID        string
	ParticipantID generic.ParticipantID
	Code          string
	Action        string
	Method        string
	Actor         generic.Actor
	Client        generic.ClientInfo
	Rejected      string // set when the submission could not be parsed
}

func Scope(tenant generic.TenantID, event generic.EventID, itemID string) generic.Scope {
	return generic.ItemScope(tenant, event, itemID)
}

func (l *Ledger) Record(ctx context.Context, req Request) (generic.Outcome, error) {
	return l.Engine.Record(ctx, generic.ActionRequest{
		Scope:         Scope(req.Tenant, req.Event, req.ItemID),
		ParticipantID: req.ParticipantID,
		Code:          req.Code,
		Action:        generic.ParseItemAction(req.Action),
		Method:        generic.ParseMethod(req.Method),
		Actor:         req.Actor,
		Client:        req.Client,
		Rejected:      req.Rejected,
	})
}

// Holders lists participants currently holding the item.
func (l *Ledger) Holders(ctx context.Context, tenant generic.TenantID, event generic.EventID, itemID string, q generic.ListQuery) (generic.ListPage, error) {
	scope := Scope(tenant, event, itemID)
	if err := l.RequireTarget(ctx, scope); err != nil {
		return generic.ListPage{}, err
	}
	if q.State == "" {
		q.State = generic.FilterActive
	}
	return l.Projector.List(ctx, scope, q)
}

func (l *Ledger) Summary(ctx context.Context, tenant generic.TenantID, event generic.EventID, itemID string) (generic.Counts, error) {
	scope := Scope(tenant, event, itemID)
	if err := l.RequireTarget(ctx, scope); err != nil {
		return generic.Counts{}, err
	}
	return l.Projector.Counts(ctx, scope)
}

func (l *Ledger) Logs(ctx context.Context, tenant generic.TenantID, event generic.EventID, itemID string, filter generic.LogFilter) ([]generic.LogEntry, error) {
	return l.Projector.Logs(ctx, Scope(tenant, event, itemID), filter)
}
