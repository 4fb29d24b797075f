package store

import (
	"context"
	"fmt"

	"github.com/warp/tour-ledger/generic"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn against a buffered view. Reads see committed data plus
// the view's own writes. Nothing is visible to others until fn returns nil
// and the commit-time uniqueness check passes.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &txView{
		m:        m,
		inserted: make(map[stateKey]generic.StateRecord),
		deleted:  make(map[stateKey]bool),
		dropped:  make(map[generic.LogID]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) commit(tx *txView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range tx.inserted {
		if _, exists := m.states[k]; exists && !tx.deleted[k] {
			return fmt.Errorf("state %s/%s: %w", k.Scope, k.Participant, generic.ErrStateConflict)
		}
	}
	for _, entry := range tx.appended {
		if entry.ActivationKey == "" {
			continue
		}
		if owner, exists := m.keys[entry.ActivationKey]; exists && !tx.dropped[owner] {
			return fmt.Errorf("activation key %s: %w", entry.ActivationKey, generic.ErrStateConflict)
		}
	}

	for k := range tx.deleted {
		delete(m.states, k)
	}
	for k, st := range tx.inserted {
		m.states[k] = st
	}
	if len(tx.dropped) > 0 {
		kept := m.logs[:0]
		for _, entry := range m.logs {
			if tx.dropped[entry.ID] {
				if entry.ActivationKey != "" {
					delete(m.keys, entry.ActivationKey)
				}
				continue
			}
			kept = append(kept, entry)
		}
		m.logs = kept
	}
	for _, entry := range tx.appended {
		m.seq++
		entry.Seq = m.seq
		m.logs = append(m.logs, entry)
		if entry.ActivationKey != "" {
			m.keys[entry.ActivationKey] = entry.ID
		}
	}
	return nil
}

// txView is the Store handed to WithTx callbacks.
type txView struct {
	m *Memory

	appended []generic.LogEntry
	inserted map[stateKey]generic.StateRecord
	deleted  map[stateKey]bool
	dropped  map[generic.LogID]bool
}

func (tx *txView) ParticipantByCode(ctx context.Context, tenant generic.TenantID, event generic.EventID, code string) (*generic.Participant, error) {
	return tx.m.ParticipantByCode(ctx, tenant, event, code)
}

func (tx *txView) ParticipantByID(ctx context.Context, tenant generic.TenantID, event generic.EventID, id generic.ParticipantID) (*generic.Participant, error) {
	return tx.m.ParticipantByID(ctx, tenant, event, id)
}

func (tx *txView) TargetExists(ctx context.Context, scope generic.Scope) (bool, error) {
	return tx.m.TargetExists(ctx, scope)
}

func (tx *txView) LatestSettled(_ context.Context, scope generic.Scope, participant generic.ParticipantID) (*generic.LogEntry, error) {
	return latestOf(tx.logs(), scope, participant, true), nil
}

func (tx *txView) AppendLog(_ context.Context, entry generic.LogEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("append log: missing id")
	}
	if entry.ActivationKey != "" {
		for _, other := range tx.logs() {
			if other.ActivationKey == entry.ActivationKey {
				return fmt.Errorf("activation key %s: %w", entry.ActivationKey, generic.ErrStateConflict)
			}
		}
	}
	tx.appended = append(tx.appended, entry)
	return nil
}

func (tx *txView) State(_ context.Context, scope generic.Scope, participant generic.ParticipantID) (*generic.StateRecord, error) {
	st, ok := tx.state(stateKey{Scope: scope, Participant: participant})
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (tx *txView) InsertState(_ context.Context, state generic.StateRecord) error {
	k := stateKey{Scope: state.Scope, Participant: state.ParticipantID}
	if _, ok := tx.state(k); ok {
		return fmt.Errorf("state %s/%s: %w", k.Scope, k.Participant, generic.ErrStateConflict)
	}
	tx.inserted[k] = state
	return nil
}

func (tx *txView) DeleteState(_ context.Context, scope generic.Scope, participant generic.ParticipantID) (bool, error) {
	k := stateKey{Scope: scope, Participant: participant}
	_, ok := tx.state(k)
	delete(tx.inserted, k)
	tx.deleted[k] = true
	return ok, nil
}

func (tx *txView) DeleteStates(_ context.Context, scope generic.Scope) (int, error) {
	tx.m.mu.RLock()
	var committed []stateKey
	for k := range tx.m.states {
		if k.Scope == scope {
			committed = append(committed, k)
		}
	}
	tx.m.mu.RUnlock()

	n := 0
	for _, k := range committed {
		if !tx.deleted[k] {
			tx.deleted[k] = true
			n++
		}
	}
	for k := range tx.inserted {
		if k.Scope == scope {
			delete(tx.inserted, k)
			if !tx.deleted[k] {
				n++
			}
			tx.deleted[k] = true
		}
	}
	return n, nil
}

func (tx *txView) DeleteSettledActivations(_ context.Context, scope generic.Scope, activate generic.Action) (int, error) {
	n := 0
	for _, entry := range tx.logs() {
		if entry.Scope == scope && entry.Action == activate && entry.Result.Settled() {
			tx.drop(entry.ID)
			n++
		}
	}
	return n, nil
}

// logs returns the committed rows as this transaction sees them.
func (tx *txView) logs() []generic.LogEntry {
	tx.m.mu.RLock()
	out := make([]generic.LogEntry, 0, len(tx.m.logs)+len(tx.appended))
	for _, entry := range tx.m.logs {
		if !tx.dropped[entry.ID] {
			out = append(out, entry)
		}
	}
	next := tx.m.seq
	tx.m.mu.RUnlock()

	for _, entry := range tx.appended {
		next++
		entry.Seq = next
		out = append(out, entry)
	}
	return out
}

func (tx *txView) state(k stateKey) (generic.StateRecord, bool) {
	if st, ok := tx.inserted[k]; ok {
		return st, true
	}
	if tx.deleted[k] {
		return generic.StateRecord{}, false
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	st, ok := tx.m.states[k]
	return st, ok
}

// drop removes a row, committed or buffered.
func (tx *txView) drop(id generic.LogID) {
	for i, entry := range tx.appended {
		if entry.ID == id {
			tx.appended = append(tx.appended[:i], tx.appended[i+1:]...)
			return
		}
	}
	tx.dropped[id] = true
}
