package generic

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// =============================================================================
// BULK OPERATIONS - Undo and ResetAll
// =============================================================================
// Both operations remove materialized state only. Deactivation rows and
// NotFound/InvalidRequest/Failed rows are audit trail and survive.

// UndoRequest identifies the subject whose state row should be removed.
type UndoRequest struct {
	Scope         Scope
	ParticipantID ParticipantID
	Code          string
	Actor         Actor
}

type UndoOutcome struct {
	Result        Result
	Participant   *Participant
	AlreadyUndone bool
	Detail        string
}

// Undo removes the stored state row of one subject. Undoing an inactive
// subject succeeds with AlreadyUndone set. Only stored ledgers support it.
func (e *Engine) Undo(ctx context.Context, req UndoRequest) (UndoOutcome, error) {
	if err := e.checkScope(req.Scope); err != nil {
		return UndoOutcome{Result: ResultInvalidRequest, Detail: err.Error()}, err
	}
	if e.Config.Mode != StateStored {
		return UndoOutcome{}, fmt.Errorf("undo on %s ledger: %w", e.Config.Kind, ErrUnsupported)
	}

	ref := SubjectRef{ID: req.ParticipantID}
	if ref.ID == "" {
		code, err := NormalizeCode(req.Code, e.Config.Code)
		if err != nil {
			return UndoOutcome{Result: ResultInvalidRequest, Detail: err.Error()}, nil
		}
		ref.Code = code
	}

	var out UndoOutcome
	err := e.Store.WithTx(ctx, func(s Store) error {
		p, err := Resolve(ctx, s, req.Scope.Tenant, req.Scope.Event, ref)
		if errors.Is(err, ErrParticipantNotFound) {
			out = UndoOutcome{Result: ResultNotFound, Detail: "participant not found"}
			return nil
		}
		if err != nil {
			return err
		}
		removed, err := s.DeleteState(ctx, req.Scope, p.ID)
		if err != nil {
			return fmt.Errorf("delete state: %w", err)
		}
		out = UndoOutcome{Result: ResultSuccess, Participant: p, AlreadyUndone: !removed}
		return nil
	})
	if err != nil {
		e.logger().Error("undo failed", zap.Stringer("scope", req.Scope), zap.Error(err))
		return UndoOutcome{Result: ResultFailed}, &FailureError{Scope: req.Scope, Stage: "undo", Err: err}
	}

	if out.Participant != nil {
		e.logger().Info("state undone",
			zap.Stringer("scope", req.Scope),
			zap.String("participant", string(out.Participant.ID)),
			zap.Bool("already_undone", out.AlreadyUndone),
			zap.String("actor", req.Actor.UserID),
		)
	}
	return out, nil
}

// ResetAll clears the active state of every subject in scope in one
// transaction and returns how many records were removed.
//
//   stored ledgers:             all state rows of the scope
//   resettable computed ledger: settled activation rows of the scope
//   anything else:              ErrUnsupported
func (e *Engine) ResetAll(ctx context.Context, scope Scope, actor Actor) (int, error) {
	if err := e.checkScope(scope); err != nil {
		return 0, err
	}
	if e.Config.Mode == StateComputed && !e.Config.Resettable {
		return 0, fmt.Errorf("reset on %s ledger: %w", e.Config.Kind, ErrUnsupported)
	}

	var removed int
	err := e.Store.WithTx(ctx, func(s Store) error {
		if scope.Kind != ScopeEvent {
			ok, err := s.TargetExists(ctx, scope)
			if err != nil {
				return err
			}
			if !ok {
				return ErrTargetNotFound
			}
		}
		var err error
		if e.Config.Mode == StateStored {
			removed, err = s.DeleteStates(ctx, scope)
		} else {
			removed, err = s.DeleteSettledActivations(ctx, scope, e.Config.Vocabulary.Activate)
		}
		return err
	})
	if errors.Is(err, ErrTargetNotFound) {
		return 0, err
	}
	if err != nil {
		e.logger().Error("reset failed", zap.Stringer("scope", scope), zap.Error(err))
		return 0, &FailureError{Scope: scope, Stage: "reset", Err: err}
	}

	e.logger().Info("scope reset",
		zap.Stringer("scope", scope),
		zap.Int("removed", removed),
		zap.String("actor", actor.UserID),
	)
	return removed, nil
}
