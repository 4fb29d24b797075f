/*
Package checkin implements the event-level check-in ledger.

One row per scan at the event desk. A participant is "checked in" while a
state row exists for (tenant, event, participant); the row is inserted by
a successful Entry and removed by Exit, Undo or ResetAll. The badge QR
carries the 8-character primary code.

USAGE:
  ledger, err := checkin.New(store, generic.WithLogger(logger))
  out, err := ledger.Check(ctx, checkin.Request{
      Tenant: "acme", Event: "rome-2026",
      Code:   "https://tour.example/c?code=A7K3Q9ZP",
      Method: "qr",
  })
*/
package checkin

import (
	"context"

	"github.com/warp/tour-ledger/generic"
)

// Config is the event check-in ledger: stored state, primary codes.
var Config = generic.LedgerConfig{
	Kind:       generic.ScopeEvent,
	Vocabulary: generic.EntryExit,
	Mode:       generic.StateStored,
	Code:       generic.PrimaryCode,
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

// Request is a check-in as submitted by a kiosk or guide. Direction and
// Method are free-form and classified; Code may be a full QR URL.
type Request struct {
	Tenant        generic.TenantID
	Event         generic.EventID
	ParticipantID generic.ParticipantID
	Code          string
	Direction     string
	Method        string
	Actor         generic.Actor
	Client        generic.ClientInfo
	Rejected      string // set when the submission could not be parsed
}

func Scope(tenant generic.TenantID, event generic.EventID) generic.Scope {
	return generic.EventScope(tenant, event)
}

// Check records an entry or exit at the event.
func (l *Ledger) Check(ctx context.Context, req Request) (generic.Outcome, error) {
	return l.Engine.Record(ctx, generic.ActionRequest{
		Scope:         Scope(req.Tenant, req.Event),
		ParticipantID: req.ParticipantID,
		Code:          req.Code,
		Action:        generic.ParseDirection(req.Direction),
		Method:        generic.ParseMethod(req.Method),
		Actor:         req.Actor,
		Client:        req.Client,
		Rejected:      req.Rejected,
	})
}

// Undo clears one participant's check-in without writing an exit.
func (l *Ledger) Undo(ctx context.Context, tenant generic.TenantID, event generic.EventID, ref generic.SubjectRef, actor generic.Actor) (generic.UndoOutcome, error) {
	return l.Engine.Undo(ctx, generic.UndoRequest{
		Scope:         Scope(tenant, event),
		ParticipantID: ref.ID,
		Code:          ref.Code,
		Actor:         actor,
	})
}

// ResetAll clears every check-in of the event. History is kept.
func (l *Ledger) ResetAll(ctx context.Context, tenant generic.TenantID, event generic.EventID, actor generic.Actor) (int, error) {
	return l.Engine.ResetAll(ctx, Scope(tenant, event), actor)
}

func (l *Ledger) Summary(ctx context.Context, tenant generic.TenantID, event generic.EventID) (generic.Counts, error) {
	return l.Projector.Counts(ctx, Scope(tenant, event))
}

func (l *Ledger) List(ctx context.Context, tenant generic.TenantID, event generic.EventID, q generic.ListQuery) (generic.ListPage, error) {
	return l.Projector.List(ctx, Scope(tenant, event), q)
}

func (l *Ledger) Logs(ctx context.Context, tenant generic.TenantID, event generic.EventID, filter generic.LogFilter) ([]generic.LogEntry, error) {
	return l.Projector.Logs(ctx, Scope(tenant, event), filter)
}

// Status returns one participant's check-in state and last scan.
func (l *Ledger) Status(ctx context.Context, tenant generic.TenantID, event generic.EventID, participant generic.ParticipantID) (generic.SubjectView, error) {
	return l.Subject(ctx, Scope(tenant, event), generic.SubjectRef{ID: participant})
}
