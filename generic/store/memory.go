// Package store provides an in-memory LedgerStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/tour-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================
// Writes go through WithTx. A transaction buffers its writes and checks the
// uniqueness contract when it commits, so two transactions that both read
// "inactive" really do race and the loser gets ErrStateConflict, as with
// a SQL unique index.

type Memory struct {
	mu sync.RWMutex

	participants map[participantKey]generic.Participant
	targets      map[generic.Scope]generic.Target
	logs         []generic.LogEntry
	states       map[stateKey]generic.StateRecord
	keys         map[string]generic.LogID // activation key -> log row
	seq          int64
}

type participantKey struct {
	Tenant generic.TenantID
	Event  generic.EventID
	ID     generic.ParticipantID
}

type stateKey struct {
	Scope       generic.Scope
	Participant generic.ParticipantID
}

var _ generic.LedgerStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		participants: make(map[participantKey]generic.Participant),
		targets:      make(map[generic.Scope]generic.Target),
		states:       make(map[stateKey]generic.StateRecord),
		keys:         make(map[string]generic.LogID),
	}
}

// =============================================================================
// REGISTRY
// =============================================================================

func (m *Memory) SaveParticipant(_ context.Context, p generic.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, other := range m.participants {
		if k.Tenant == p.Tenant && k.Event == p.Event && other.Code == p.Code && other.ID != p.ID {
			return fmt.Errorf("code %s already used by %s: %w", p.Code, other.ID, generic.ErrStateConflict)
		}
	}
	m.participants[participantKey{Tenant: p.Tenant, Event: p.Event, ID: p.ID}] = p
	return nil
}

func (m *Memory) SaveTarget(_ context.Context, t generic.Target) error {
	if err := t.Scope().Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[t.Scope()] = t
	return nil
}

// =============================================================================
// STORE - Outside a transaction
// =============================================================================

func (m *Memory) ParticipantByCode(_ context.Context, tenant generic.TenantID, event generic.EventID, code string) (*generic.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.participantByCode(tenant, event, code), nil
}

func (m *Memory) ParticipantByID(_ context.Context, tenant generic.TenantID, event generic.EventID, id generic.ParticipantID) (*generic.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.participantByID(tenant, event, id), nil
}

func (m *Memory) TargetExists(_ context.Context, scope generic.Scope) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.targets[scope]
	return ok, nil
}

func (m *Memory) LatestSettled(_ context.Context, scope generic.Scope, participant generic.ParticipantID) (*generic.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return latestOf(m.logs, scope, participant, true), nil
}

func (m *Memory) State(_ context.Context, scope generic.Scope, participant generic.ParticipantID) (*generic.StateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.states[stateKey{Scope: scope, Participant: participant}]; ok {
		return &st, nil
	}
	return nil, nil
}

// The write methods below run as single-statement transactions.

func (m *Memory) AppendLog(ctx context.Context, entry generic.LogEntry) error {
	return m.WithTx(ctx, func(s generic.Store) error { return s.AppendLog(ctx, entry) })
}

func (m *Memory) InsertState(ctx context.Context, state generic.StateRecord) error {
	return m.WithTx(ctx, func(s generic.Store) error { return s.InsertState(ctx, state) })
}

func (m *Memory) DeleteState(ctx context.Context, scope generic.Scope, participant generic.ParticipantID) (bool, error) {
	var removed bool
	err := m.WithTx(ctx, func(s generic.Store) error {
		var err error
		removed, err = s.DeleteState(ctx, scope, participant)
		return err
	})
	return removed, err
}

func (m *Memory) DeleteStates(ctx context.Context, scope generic.Scope) (int, error) {
	var n int
	err := m.WithTx(ctx, func(s generic.Store) error {
		var err error
		n, err = s.DeleteStates(ctx, scope)
		return err
	})
	return n, err
}

func (m *Memory) DeleteSettledActivations(ctx context.Context, scope generic.Scope, activate generic.Action) (int, error) {
	var n int
	err := m.WithTx(ctx, func(s generic.Store) error {
		var err error
		n, err = s.DeleteSettledActivations(ctx, scope, activate)
		return err
	})
	return n, err
}

// =============================================================================
// READ STORE
// =============================================================================

func (m *Memory) CountParticipants(_ context.Context, tenant generic.TenantID, event generic.EventID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.participants {
		if k.Tenant == tenant && k.Event == event {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Participants(_ context.Context, tenant generic.TenantID, event generic.EventID) ([]generic.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.Participant
	for k, p := range m.participants {
		if k.Tenant == tenant && k.Event == event {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CountStates(_ context.Context, scope generic.Scope) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.states {
		if k.Scope == scope {
			n++
		}
	}
	return n, nil
}

func (m *Memory) States(_ context.Context, scope generic.Scope) ([]generic.StateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.StateRecord
	for k, st := range m.states {
		if k.Scope == scope {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

func (m *Memory) CountActive(_ context.Context, scope generic.Scope, activate generic.Action) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, entry := range latestPerParticipant(m.logs, scope, true) {
		if entry.Action == activate {
			n++
		}
	}
	return n, nil
}

func (m *Memory) LatestSettledAll(_ context.Context, scope generic.Scope) ([]generic.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return latestPerParticipant(m.logs, scope, true), nil
}

func (m *Memory) LatestLogs(_ context.Context, scope generic.Scope) ([]generic.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return latestPerParticipant(m.logs, scope, false), nil
}

func (m *Memory) LatestLog(_ context.Context, scope generic.Scope, participant generic.ParticipantID) (*generic.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return latestOf(m.logs, scope, participant, false), nil
}

func (m *Memory) Logs(_ context.Context, scope generic.Scope, filter generic.LogFilter) ([]generic.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []generic.LogEntry
	for _, entry := range m.logs {
		if entry.Scope != scope {
			continue
		}
		if filter.ParticipantID != "" && entry.ParticipantID != filter.ParticipantID {
			continue
		}
		if len(filter.Results) > 0 && !containsResult(filter.Results, entry.Result) {
			continue
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[j].Before(out[i]) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// =============================================================================
// HELPERS - Caller holds the lock
// =============================================================================

func (m *Memory) participantByCode(tenant generic.TenantID, event generic.EventID, code string) *generic.Participant {
	for k, p := range m.participants {
		if k.Tenant == tenant && k.Event == event && p.Code == code {
			p := p
			return &p
		}
	}
	return nil
}

func (m *Memory) participantByID(tenant generic.TenantID, event generic.EventID, id generic.ParticipantID) *generic.Participant {
	if p, ok := m.participants[participantKey{Tenant: tenant, Event: event, ID: id}]; ok {
		return &p
	}
	return nil
}

func latestOf(logs []generic.LogEntry, scope generic.Scope, participant generic.ParticipantID, settledOnly bool) *generic.LogEntry {
	var latest *generic.LogEntry
	for i := range logs {
		entry := logs[i]
		if entry.Scope != scope || entry.ParticipantID != participant {
			continue
		}
		if settledOnly && !entry.Result.Settled() {
			continue
		}
		if latest == nil || latest.Before(entry) {
			latest = &entry
		}
	}
	return latest
}

func latestPerParticipant(logs []generic.LogEntry, scope generic.Scope, settledOnly bool) []generic.LogEntry {
	latest := make(map[generic.ParticipantID]generic.LogEntry)
	for _, entry := range logs {
		if entry.Scope != scope || !entry.HasSubject() {
			continue
		}
		if settledOnly && !entry.Result.Settled() {
			continue
		}
		if cur, ok := latest[entry.ParticipantID]; !ok || cur.Before(entry) {
			latest[entry.ParticipantID] = entry
		}
	}
	out := make([]generic.LogEntry, 0, len(latest))
	for _, entry := range latest {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

func containsResult(results []generic.Result, r generic.Result) bool {
	for _, want := range results {
		if want == r {
			return true
		}
	}
	return false
}
