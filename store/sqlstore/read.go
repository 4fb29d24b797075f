package sqlstore

import (
	"context"
	"fmt"

	"github.com/warp/tour-ledger/generic"
)

// =============================================================================
// READ STORE (generic.ReadStore interface)
// =============================================================================

func (o ops) CountParticipants(ctx context.Context, tenant generic.TenantID, event generic.EventID) (int, error) {
	var n int
	err := o.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM participants WHERE tenant_id = ? AND event_id = ?",
		string(tenant), string(event),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return n, nil
}

func (o ops) Participants(ctx context.Context, tenant generic.TenantID, event generic.EventID) ([]generic.Participant, error) {
	rows, err := o.q.QueryContext(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE tenant_id = ? AND event_id = ? ORDER BY id",
		string(tenant), string(event))
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var out []generic.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (o ops) CountStates(ctx context.Context, scope generic.Scope) (int, error) {
	var n int
	err := o.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM active_states WHERE "+scopeWhere, scopeArgs(scope)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count states: %w", err)
	}
	return n, nil
}

func (o ops) States(ctx context.Context, scope generic.Scope) ([]generic.StateRecord, error) {
	rows, err := o.q.QueryContext(ctx,
		"SELECT participant_id, log_id, created_at FROM active_states WHERE "+scopeWhere+" ORDER BY participant_id",
		scopeArgs(scope)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer rows.Close()

	var out []generic.StateRecord
	for rows.Next() {
		var (
			participant string
			logID       string
			createdAt   int64
		)
		if err := rows.Scan(&participant, &logID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		out = append(out, generic.StateRecord{
			Scope:         scope,
			ParticipantID: generic.ParticipantID(participant),
			LogID:         generic.LogID(logID),
			CreatedAt:     fromUnixNano(createdAt),
		})
	}
	return out, rows.Err()
}

// latestQuery selects the newest row per participant of scope. Both SQLite
// (3.25+) and MySQL (8.0+) support window functions.
func latestQuery(settledOnly bool) string {
	filter := ""
	if settledOnly {
		filter = " AND result IN (?, ?)"
	}
	return `
		SELECT ` + logColumns + ` FROM (
			SELECT ` + logColumns + `,
			       ROW_NUMBER() OVER (PARTITION BY participant_id ORDER BY occurred_at DESC, seq DESC) AS rn
			FROM action_logs
			WHERE ` + scopeWhere + ` AND participant_id IS NOT NULL` + filter + `
		) latest
		WHERE rn = 1`
}

func latestArgs(scope generic.Scope, settledOnly bool) []any {
	args := scopeArgs(scope)
	if settledOnly {
		args = append(args, settledResults...)
	}
	return args
}

func (o ops) CountActive(ctx context.Context, scope generic.Scope, activate generic.Action) (int, error) {
	var n int
	query := "SELECT COUNT(*) FROM (" + latestQuery(true) + ") settled WHERE action = ?"
	args := append(latestArgs(scope, true), string(activate))
	if err := o.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active: %w", err)
	}
	return n, nil
}

func (o ops) LatestSettledAll(ctx context.Context, scope generic.Scope) ([]generic.LogEntry, error) {
	return o.queryLogs(ctx, latestQuery(true)+" ORDER BY participant_id", latestArgs(scope, true)...)
}

func (o ops) LatestLogs(ctx context.Context, scope generic.Scope) ([]generic.LogEntry, error) {
	return o.queryLogs(ctx, latestQuery(false)+" ORDER BY participant_id", latestArgs(scope, false)...)
}

func (o ops) LatestLog(ctx context.Context, scope generic.Scope, participant generic.ParticipantID) (*generic.LogEntry, error) {
	query := "SELECT " + logColumns + " FROM action_logs WHERE " + scopeWhere +
		" AND participant_id = ? ORDER BY occurred_at DESC, seq DESC LIMIT 1"
	return o.queryLog(ctx, query, append(scopeArgs(scope), string(participant))...)
}

// Logs returns rows newest first.
func (o ops) Logs(ctx context.Context, scope generic.Scope, filter generic.LogFilter) ([]generic.LogEntry, error) {
	query := "SELECT " + logColumns + " FROM action_logs WHERE " + scopeWhere
	args := scopeArgs(scope)

	if filter.ParticipantID != "" {
		query += " AND participant_id = ?"
		args = append(args, string(filter.ParticipantID))
	}
	if len(filter.Results) > 0 {
		query += " AND result IN (" + placeholders(len(filter.Results)) + ")"
		for _, r := range filter.Results {
			args = append(args, string(r))
		}
	}
	query += " ORDER BY occurred_at DESC, seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return o.queryLogs(ctx, query, args...)
}

// =============================================================================
// REGISTRY (generic.Registry interface)
// =============================================================================

// SaveParticipant inserts or updates a participant. A code already used by
// another participant of the event is reported as generic.ErrStateConflict.
func (o ops) SaveParticipant(ctx context.Context, p generic.Participant) error {
	query := "INSERT INTO participants (" + participantColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?)" + o.d.upsertParticipant
	_, err := o.q.ExecContext(ctx, query,
		string(p.Tenant), string(p.Event), string(p.ID), p.Code,
		p.FirstName, p.LastName, p.Room, p.Excluded,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("code %s already in use: %w", p.Code, generic.ErrStateConflict)
		}
		return fmt.Errorf("failed to save participant: %w", err)
	}
	return nil
}

func (o ops) SaveTarget(ctx context.Context, t generic.Target) error {
	if err := t.Scope().Validate(); err != nil {
		return err
	}
	query := "INSERT INTO targets (scope_kind, tenant_id, event_id, id, name) VALUES (?, ?, ?, ?, ?)" + o.d.upsertTarget
	if _, err := o.q.ExecContext(ctx, query, string(t.Kind), string(t.Tenant), string(t.Event), t.ID, t.Name); err != nil {
		return fmt.Errorf("failed to save target: %w", err)
	}
	return nil
}
