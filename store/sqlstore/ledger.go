package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/tour-ledger/generic"
)

// =============================================================================
// LEDGER STORE (generic.Store interface)
// =============================================================================
// ops runs every query against a querier: the pool for Store, the open
// transaction for the Store handed to WithTx callbacks.

type ops struct {
	q querier
	d dialect
}

const scopeWhere = "scope_kind = ? AND tenant_id = ? AND event_id = ? AND target_id = ?"

func scopeArgs(scope generic.Scope) []any {
	return []any{string(scope.Kind), string(scope.Tenant), string(scope.Event), scope.Target}
}

const logColumns = `seq, id, scope_kind, tenant_id, event_id, target_id, participant_id, code,
	action, method, result, detail, actor_id, actor_role, client_ip, user_agent,
	activation_key, occurred_at`

const participantColumns = "tenant_id, event_id, id, code, first_name, last_name, room, is_excluded"

var settledResults = []any{string(generic.ResultSuccess), string(generic.ResultAlreadyInState)}

func (o ops) ParticipantByCode(ctx context.Context, tenant generic.TenantID, event generic.EventID, code string) (*generic.Participant, error) {
	row := o.q.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE tenant_id = ? AND event_id = ? AND code = ?",
		string(tenant), string(event), code)
	return scanParticipantRow(row)
}

func (o ops) ParticipantByID(ctx context.Context, tenant generic.TenantID, event generic.EventID, id generic.ParticipantID) (*generic.Participant, error) {
	row := o.q.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE tenant_id = ? AND event_id = ? AND id = ?",
		string(tenant), string(event), string(id))
	return scanParticipantRow(row)
}

func (o ops) TargetExists(ctx context.Context, scope generic.Scope) (bool, error) {
	var one int
	err := o.q.QueryRowContext(ctx,
		"SELECT 1 FROM targets WHERE scope_kind = ? AND tenant_id = ? AND event_id = ? AND id = ?",
		scopeArgs(scope)...,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query target: %w", err)
	}
	return true, nil
}

func (o ops) LatestSettled(ctx context.Context, scope generic.Scope, participant generic.ParticipantID) (*generic.LogEntry, error) {
	query := "SELECT " + logColumns + " FROM action_logs WHERE " + scopeWhere +
		" AND participant_id = ? AND result IN (?, ?) ORDER BY occurred_at DESC, seq DESC LIMIT 1"
	args := append(scopeArgs(scope), string(participant))
	args = append(args, settledResults...)
	return o.queryLog(ctx, query, args...)
}

// AppendLog adds a row to the ledger.
func (o ops) AppendLog(ctx context.Context, entry generic.LogEntry) error {
	query := `
		INSERT INTO action_logs
		(id, scope_kind, tenant_id, event_id, target_id, participant_id, code,
		 action, method, result, detail, actor_id, actor_role, client_ip, user_agent,
		 activation_key, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	args := append([]any{string(entry.ID)}, scopeArgs(entry.Scope)...)
	args = append(args,
		nullString(string(entry.ParticipantID)),
		entry.Code,
		string(entry.Action),
		string(entry.Method),
		string(entry.Result),
		entry.Detail,
		entry.Actor.UserID,
		entry.Actor.Role,
		entry.Client.IP,
		entry.Client.UserAgent,
		nullString(entry.ActivationKey),
		unixNano(entry.OccurredAt),
	)

	if _, err := o.q.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("append %s row: %w", entry.Result, generic.ErrStateConflict)
		}
		return fmt.Errorf("failed to append action log: %w", err)
	}
	return nil
}

func (o ops) State(ctx context.Context, scope generic.Scope, participant generic.ParticipantID) (*generic.StateRecord, error) {
	var (
		logID     string
		createdAt int64
	)
	args := append(scopeArgs(scope), string(participant))
	err := o.q.QueryRowContext(ctx,
		"SELECT log_id, created_at FROM active_states WHERE "+scopeWhere+" AND participant_id = ?",
		args...,
	).Scan(&logID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query state: %w", err)
	}
	return &generic.StateRecord{
		Scope:         scope,
		ParticipantID: participant,
		LogID:         generic.LogID(logID),
		CreatedAt:     fromUnixNano(createdAt),
	}, nil
}

func (o ops) InsertState(ctx context.Context, state generic.StateRecord) error {
	args := append(scopeArgs(state.Scope), string(state.ParticipantID), string(state.LogID), unixNano(state.CreatedAt))
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO active_states (scope_kind, tenant_id, event_id, target_id, participant_id, log_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert state: %w", generic.ErrStateConflict)
		}
		return fmt.Errorf("failed to insert state: %w", err)
	}
	return nil
}

func (o ops) DeleteState(ctx context.Context, scope generic.Scope, participant generic.ParticipantID) (bool, error) {
	args := append(scopeArgs(scope), string(participant))
	res, err := o.q.ExecContext(ctx, "DELETE FROM active_states WHERE "+scopeWhere+" AND participant_id = ?", args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (o ops) DeleteStates(ctx context.Context, scope generic.Scope) (int, error) {
	res, err := o.q.ExecContext(ctx, "DELETE FROM active_states WHERE "+scopeWhere, scopeArgs(scope)...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete states: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (o ops) DeleteSettledActivations(ctx context.Context, scope generic.Scope, activate generic.Action) (int, error) {
	args := append(scopeArgs(scope), string(activate))
	args = append(args, settledResults...)
	res, err := o.q.ExecContext(ctx,
		"DELETE FROM action_logs WHERE "+scopeWhere+" AND action = ? AND result IN (?, ?)",
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete activations: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row scanner) (generic.Participant, error) {
	var (
		p        generic.Participant
		tenant   string
		event    string
		id       string
		excluded bool
	)
	if err := row.Scan(&tenant, &event, &id, &p.Code, &p.FirstName, &p.LastName, &p.Room, &excluded); err != nil {
		return p, err
	}
	p.Tenant = generic.TenantID(tenant)
	p.Event = generic.EventID(event)
	p.ID = generic.ParticipantID(id)
	p.Excluded = excluded
	return p, nil
}

func scanParticipantRow(row *sql.Row) (*generic.Participant, error) {
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan participant: %w", err)
	}
	return &p, nil
}

func scanLog(row scanner) (generic.LogEntry, error) {
	var (
		e             generic.LogEntry
		id            string
		kind          string
		tenant        string
		event         string
		participantID sql.NullString
		action        string
		method        string
		result        string
		activationKey sql.NullString
		occurredAt    int64
	)
	err := row.Scan(
		&e.Seq, &id, &kind, &tenant, &event, &e.Scope.Target, &participantID, &e.Code,
		&action, &method, &result, &e.Detail, &e.Actor.UserID, &e.Actor.Role,
		&e.Client.IP, &e.Client.UserAgent, &activationKey, &occurredAt,
	)
	if err != nil {
		return e, err
	}
	e.ID = generic.LogID(id)
	e.Scope.Kind = generic.ScopeKind(kind)
	e.Scope.Tenant = generic.TenantID(tenant)
	e.Scope.Event = generic.EventID(event)
	e.ParticipantID = generic.ParticipantID(participantID.String)
	e.Action = generic.Action(action)
	e.Method = generic.Method(method)
	e.Result = generic.Result(result)
	e.ActivationKey = activationKey.String
	e.OccurredAt = fromUnixNano(occurredAt)
	return e, nil
}

func (o ops) queryLog(ctx context.Context, query string, args ...any) (*generic.LogEntry, error) {
	e, err := scanLog(o.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan action log: %w", err)
	}
	return &e, nil
}

func (o ops) queryLogs(ctx context.Context, query string, args ...any) ([]generic.LogEntry, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query action logs: %w", err)
	}
	defer rows.Close()

	var logs []generic.LogEntry
	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action log: %w", err)
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
