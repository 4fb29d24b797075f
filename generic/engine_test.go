package generic_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tour-ledger/generic"
	"github.com/warp/tour-ledger/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	tenant = generic.TenantID("acme")
	event  = generic.EventID("rome-2026")
)

var (
	eventLedger = generic.LedgerConfig{
		Kind:       generic.ScopeEvent,
		Vocabulary: generic.EntryExit,
		Mode:       generic.StateStored,
		Code:       generic.PrimaryCode,
	}
	activityLedger = generic.LedgerConfig{
		Kind:       generic.ScopeActivity,
		Vocabulary: generic.EntryExit,
		Mode:       generic.StateComputed,
		Code:       generic.GenericCode,
		Resettable: true,
	}
	itemLedger = generic.LedgerConfig{
		Kind:       generic.ScopeItem,
		Vocabulary: generic.GiveReturn,
		Mode:       generic.StateComputed,
		Code:       generic.GenericCode,
	}
)

var (
	alice   = generic.Participant{ID: "p-alice", Tenant: tenant, Event: event, Code: "A7K3Q9ZP", FirstName: "Alice", LastName: "Martin", Room: "101"}
	bob     = generic.Participant{ID: "p-bob", Tenant: tenant, Event: event, Code: "B2C4D6F8", FirstName: "Bob", LastName: "Durand", Room: "102"}
	carol   = generic.Participant{ID: "p-carol", Tenant: tenant, Event: event, Code: "C3D5E7G9", FirstName: "Carol", LastName: "Bernard", Room: "103", Excluded: true}
	outside = generic.Participant{ID: "p-dan", Tenant: tenant, Event: "paris-2026", Code: "D4E6F8H2", FirstName: "Dan", LastName: "Petit"}
)

func newMemory(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	for _, p := range []generic.Participant{alice, bob, carol, outside} {
		require.NoError(t, mem.SaveParticipant(ctx, p))
	}
	require.NoError(t, mem.SaveTarget(ctx, generic.Target{Kind: generic.ScopeActivity, ID: "colosseum", Tenant: tenant, Event: event, Name: "Colosseum"}))
	require.NoError(t, mem.SaveTarget(ctx, generic.Target{Kind: generic.ScopeItem, ID: "headset", Tenant: tenant, Event: event, Name: "Audio headset"}))
	return mem
}

func record(t *testing.T, e *generic.Engine, scope generic.Scope, code string, action generic.Action) generic.Outcome {
	t.Helper()
	out, err := e.Record(context.Background(), generic.ActionRequest{
		Scope:  scope,
		Code:   code,
		Action: action,
		Method: generic.MethodQRScan,
		Actor:  generic.Actor{UserID: "guide-1", Role: "guide"},
	})
	require.NoError(t, err)
	return out
}

func logsOf(t *testing.T, s generic.ReadStore, scope generic.Scope) []generic.LogEntry {
	t.Helper()
	logs, err := s.Logs(context.Background(), scope, generic.LogFilter{})
	require.NoError(t, err)
	return logs
}

// staleStore hides committed state from the decision procedure, forcing
// every activation down the uniqueness-constraint path.
type staleStore struct{ generic.TxStore }

func (s staleStore) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return s.TxStore.WithTx(ctx, func(inner generic.Store) error { return fn(staleView{inner}) })
}

type staleView struct{ generic.Store }

func (staleView) State(context.Context, generic.Scope, generic.ParticipantID) (*generic.StateRecord, error) {
	return nil, nil
}

func (staleView) LatestSettled(context.Context, generic.Scope, generic.ParticipantID) (*generic.LogEntry, error) {
	return nil, nil
}

// brokenStore fails every state insert with an infrastructure error.
type brokenStore struct{ generic.TxStore }

var errDiskFull = errors.New("disk full")

func (s brokenStore) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return s.TxStore.WithTx(ctx, func(inner generic.Store) error { return fn(brokenView{inner}) })
}

type brokenView struct{ generic.Store }

func (brokenView) InsertState(context.Context, generic.StateRecord) error {
	return errDiskFull
}

// =============================================================================
// STORED STATE (event check-in)
// =============================================================================

func TestRecord_EntryThenDuplicate(t *testing.T) {
	// GIVEN: A participant who has not checked in
	// WHEN: The same code is scanned twice
	// THEN: First is Success, second AlreadyInState, both are logged

	mem := newMemory(t)
	e := generic.NewEngine(eventLedger, mem)
	scope := generic.EventScope(tenant, event)

	first := record(t, e, scope, " a7k3-q9zp ", generic.ActionEntry)
	assert.Equal(t, generic.ResultSuccess, first.Result)
	require.NotNil(t, first.Participant)
	assert.Equal(t, alice.ID, first.Participant.ID)
	assert.Equal(t, generic.MethodQRScan, first.Method)

	second := record(t, e, scope, "A7K3Q9ZP", generic.ActionEntry)
	assert.Equal(t, generic.ResultAlreadyInState, second.Result)
	assert.False(t, second.Recovered)

	logs := logsOf(t, mem, scope)
	require.Len(t, logs, 2)
	assert.Equal(t, generic.ResultAlreadyInState, logs[0].Result, "newest first")
	assert.Equal(t, generic.ResultSuccess, logs[1].Result)
	assert.Equal(t, "guide-1", logs[1].Actor.UserID)

	n, err := mem.CountStates(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecord_InvalidCodeIsLoggedWithoutSubject(t *testing.T) {
	mem := newMemory(t)
	e := generic.NewEngine(eventLedger, mem)
	scope := generic.EventScope(tenant, event)

	out := record(t, e, scope, "a7k", generic.ActionEntry)
	assert.Equal(t, generic.ResultInvalidRequest, out.Result)
	assert.Nil(t, out.Participant)
	assert.NotEmpty(t, out.Detail)

	logs := logsOf(t, mem, scope)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].HasSubject())
	assert.Equal(t, "a7k", logs[0].Code)
}

func TestRecord_UnknownAndForeignCodesAreNotFound(t *testing.T) {
	mem := newMemory(t)
	e := generic.NewEngine(eventLedger, mem)
	scope := generic.EventScope(tenant, event)

	assert.Equal(t, generic.ResultNotFound, record(t, e, scope, "ZZZZ9999", generic.ActionEntry).Result)

	// Dan belongs to another event of the same tenant.
	out := record(t, e, scope, outside.Code, generic.ActionEntry)
	assert.Equal(t, generic.ResultNotFound, out.Result)
	assert.Nil(t, out.Participant)

	byID, err := e.Record(context.Background(), generic.ActionRequest{Scope: scope, ParticipantID: outside.ID, Action: generic.ActionEntry})
	require.NoError(t, err)
	assert.Equal(t, generic.ResultNotFound, byID.Result)

	for _, entry := range logsOf(t, mem, scope) {
		assert.Equal(t, generic.ResultNotFound, entry.Result)
		assert.False(t, entry.HasSubject())
	}
}

func TestRecord_ExcludedParticipantIsRejected(t *testing.T) {
	mem := newMemory(t)
	e := generic.NewEngine(eventLedger, mem)
	scope := generic.EventScope(tenant, event)

	out := record(t, e, scope, carol.Code, generic.ActionEntry)
	assert.Equal(t, generic.ResultInvalidRequest, out.Result)
	require.NotNil(t, out.Participant)

	logs := logsOf(t, mem, scope)
	require.Len(t, logs, 1)
	assert.Equal(t, carol.ID, logs[0].ParticipantID)

	st, err := mem.State(context.Background(), scope, carol.ID)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestRecord_ActionOutsideVocabulary(t *testing.T) {
	mem := newMemory(t)
	e := generic.NewEngine(eventLedger, mem)

	out := record(t, e, generic.EventScope(tenant, event), alice.Code, generic.ActionGive)
	assert.Equal(t, generic.ResultInvalidRequest, out.Result)
}

func TestRecord_WrongScopeKind(t *testing.T) {
	e := generic.NewEngine(eventLedger, newMemory(t))

	out, err := e.Record(context.Background(), generic.ActionRequest{
		Scope:  generic.ActivityScope(tenant, event, "colosseum"),
		Code:   alice.Code,
		Action: generic.ActionEntry,
	})
	require.NoError(t, err)
	assert.Equal(t, generic.ResultInvalidRequest, out.Result)
	assert.Contains(t, out.Detail, "cannot record activity actions")
}

func TestScope_ValidateLength(t *testing.T) {
	long := strings.Repeat("t", generic.MaxIDLen+1)

	tests := []struct {
		name  string
		scope generic.Scope
		ok    bool
	}{
		{"64 characters", generic.EventScope(generic.TenantID(strings.Repeat("t", generic.MaxIDLen)), event), true},
		{"64 multibyte characters", generic.EventScope(generic.TenantID(strings.Repeat("é", generic.MaxIDLen)), event), true},
		{"65 character tenant", generic.EventScope(generic.TenantID(long), event), false},
		{"65 character event", generic.EventScope(tenant, generic.EventID(long)), false},
		{"65 character target", generic.ItemScope(tenant, event, long), false},
		{"invalid utf-8 tenant", generic.EventScope("acme\xff", event), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scope.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, generic.ErrInvalidScope)
			assert.True(t, generic.IsClientError(err))
		})
	}
}

func TestRecord_OverlongTenant(t *testing.T) {
	// GIVEN: A tenant id one character wider than the store columns
	// WHEN: An entry is recorded
	// THEN: InvalidRequest without an error, nothing written under a cut-down scope

	mem := newMemory(t)
	e := generic.NewEngine(eventLedger, mem)
	long := generic.TenantID(strings.Repeat("a", generic.MaxIDLen+1))

	out, err := e.Record(context.Background(), generic.ActionRequest{
		Scope:  generic.EventScope(long, event),
		Code:   alice.Code,
		Action: generic.ActionEntry,
	})
	require.NoError(t, err)
	assert.Equal(t, generic.ResultInvalidRequest, out.Result)
	assert.Empty(t, logsOf(t, mem, generic.EventScope(long, event)))
	assert.Empty(t, logsOf(t, mem, generic.EventScope(long[:generic.MaxIDLen], event)))
}

func TestRecord_GarbageCodeStoredAsValidUTF8(t *testing.T) {
	mem := newMemory(t)
	e := generic.NewEngine(eventLedger, mem)
	scope := generic.EventScope(tenant, event)

	tests := []struct {
		name string
		code string
	}{
		{"70 bytes of two-byte runes", strings.Repeat("é", 35)},
		{"cut inside a rune", strings.Repeat("é", 66)},
		{"invalid bytes", strings.Repeat("\xff", 80)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := record(t, e, scope, tt.code, generic.ActionEntry)
			assert.Equal(t, generic.ResultInvalidRequest, out.Result)
			require.NotEmpty(t, out.LogID)

			logs := logsOf(t, mem, scope)
			var logged *generic.LogEntry
			for i := range logs {
				if logs[i].ID == out.LogID {
					logged = &logs[i]
				}
			}
			require.NotNil(t, logged)
			assert.True(t, utf8.ValidString(logged.Code))
			assert.LessOrEqual(t, utf8.RuneCountInString(logged.Code), 64)
		})
	}
}

func TestRecord_RejectedSubmission(t *testing.T) {
	mem := newMemory(t)
	e := generic.NewEngine(eventLedger, mem)
	scope := generic.EventScope(tenant, event)

	out, err := e.Record(context.Background(), generic.ActionRequest{
		Scope:    scope,
		Code:     alice.Code,
		Action:   generic.ActionEntry,
		Rejected: "invalid request body: unexpected EOF",
	})
	require.NoError(t, err)
	assert.Equal(t, generic.ResultInvalidRequest, out.Result)
	assert.Nil(t, out.Participant)

	logs := logsOf(t, mem, scope)
	require.Len(t, logs, 1)
	assert.Equal(t, "invalid request body: unexpected EOF", logs[0].Detail)
	assert.False(t, logs[0].HasSubject())
}

func TestRecord_ExitWithoutEntrySucceeds(t *testing.T) {
	// GIVEN: A participant never checked in
	// WHEN: An exit is recorded
	// THEN: Success, flagged in Detail, no state row appears

	mem := newMemory(t)
	e := generic.NewEngine(eventLedger, mem)
	scope := generic.EventScope(tenant, event)

	out := record(t, e, scope, bob.Code, generic.ActionExit)
	assert.Equal(t, generic.ResultSuccess, out.Result)
	assert.Equal(t, "no prior entry", out.Detail)

	in := record(t, e, scope, bob.Code, generic.ActionEntry)
	assert.Equal(t, generic.ResultSuccess, in.Result)

	exit := record(t, e, scope, bob.Code, generic.ActionExit)
	assert.Equal(t, generic.ResultSuccess, exit.Result)
	assert.Empty(t, exit.Detail)

	st, err := mem.State(context.Background(), scope, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestUndo_RoundTrip(t *testing.T) {
	// GIVEN: A checked-in participant
	// WHEN: Undo, undo again, then check in again
	// THEN: Undo removes state, second undo is AlreadyUndone, re-entry is Success

	ctx := context.Background()
	mem := newMemory(t)
	e := generic.NewEngine(eventLedger, mem)
	scope := generic.EventScope(tenant, event)

	require.Equal(t, generic.ResultSuccess, record(t, e, scope, alice.Code, generic.ActionEntry).Result)

	undo, err := e.Undo(ctx, generic.UndoRequest{Scope: scope, Code: "a7k3-q9zp"})
	require.NoError(t, err)
	assert.Equal(t, generic.ResultSuccess, undo.Result)
	assert.False(t, undo.AlreadyUndone)

	again, err := e.Undo(ctx, generic.UndoRequest{Scope: scope, ParticipantID: alice.ID})
	require.NoError(t, err)
	assert.Equal(t, generic.ResultSuccess, again.Result)
	assert.True(t, again.AlreadyUndone)

	assert.Equal(t, generic.ResultSuccess, record(t, e, scope, alice.Code, generic.ActionEntry).Result)

	missing, err := e.Undo(ctx, generic.UndoRequest{Scope: scope, Code: "ZZZZ9999"})
	require.NoError(t, err)
	assert.Equal(t, generic.ResultNotFound, missing.Result)

	bad, err := e.Undo(ctx, generic.UndoRequest{Scope: scope, Code: "x"})
	require.NoError(t, err)
	assert.Equal(t, generic.ResultInvalidRequest, bad.Result)
}

func TestResetAll_StoredKeepsHistory(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t)
	e := generic.NewEngine(eventLedger, mem)
	scope := generic.EventScope(tenant, event)

	record(t, e, scope, alice.Code, generic.ActionEntry)
	record(t, e, scope, bob.Code, generic.ActionEntry)
	record(t, e, scope, bob.Code, generic.ActionEntry)

	removed, err := e.ResetAll(ctx, scope, generic.Actor{UserID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	n, err := mem.CountStates(ctx, scope)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, logsOf(t, mem, scope), 3)

	// Everyone can check in again.
	assert.Equal(t, generic.ResultSuccess, record(t, e, scope, alice.Code, generic.ActionEntry).Result)
}

// =============================================================================
// COMPUTED STATE (activities and items)
// =============================================================================

func TestRecord_ActivityComputedState(t *testing.T) {
	mem := newMemory(t)
	e := generic.NewEngine(activityLedger, mem)
	scope := generic.ActivityScope(tenant, event, "colosseum")

	assert.Equal(t, generic.ResultSuccess, record(t, e, scope, alice.Code, generic.ActionEntry).Result)
	assert.Equal(t, generic.ResultAlreadyInState, record(t, e, scope, alice.Code, generic.ActionEntry).Result)
	assert.Equal(t, generic.ResultSuccess, record(t, e, scope, alice.Code, generic.ActionExit).Result)
	assert.Equal(t, generic.ResultSuccess, record(t, e, scope, alice.Code, generic.ActionEntry).Result)

	n, err := mem.CountActive(context.Background(), scope, generic.ActionEntry)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecord_MissingTargetIsNotFound(t *testing.T) {
	mem := newMemory(t)
	e := generic.NewEngine(activityLedger, mem)
	scope := generic.ActivityScope(tenant, event, "vatican")

	out := record(t, e, scope, alice.Code, generic.ActionEntry)
	assert.Equal(t, generic.ResultNotFound, out.Result)
	assert.Nil(t, out.Participant)

	logs := logsOf(t, mem, scope)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].HasSubject())

	_, err := e.ResetAll(context.Background(), scope, generic.Actor{})
	assert.ErrorIs(t, err, generic.ErrTargetNotFound)
}

func TestRecord_ItemGiveReturnCycles(t *testing.T) {
	// GIVEN: An item ledger
	// WHEN: give, give, return, give
	// THEN: Success, AlreadyInState, Success, Success, and the holder is active

	ctx := context.Background()
	mem := newMemory(t)
	e := generic.NewEngine(itemLedger, mem)
	scope := generic.ItemScope(tenant, event, "headset")

	results := []generic.Result{
		record(t, e, scope, bob.Code, generic.ActionGive).Result,
		record(t, e, scope, bob.Code, generic.ActionGive).Result,
		record(t, e, scope, bob.Code, generic.ActionReturn).Result,
		record(t, e, scope, bob.Code, generic.ActionGive).Result,
	}
	assert.Equal(t, []generic.Result{
		generic.ResultSuccess,
		generic.ResultAlreadyInState,
		generic.ResultSuccess,
		generic.ResultSuccess,
	}, results)

	n, err := mem.CountActive(ctx, scope, generic.ActionGive)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	keys := map[string]bool{}
	for _, entry := range logsOf(t, mem, scope) {
		if entry.ActivationKey == "" {
			continue
		}
		assert.False(t, keys[entry.ActivationKey], "activation keys are unique")
		keys[entry.ActivationKey] = true
	}
	assert.Len(t, keys, 2)

	assert.Equal(t, generic.ResultInvalidRequest, record(t, e, scope, bob.Code, generic.ActionEntry).Result)

	_, err = e.ResetAll(ctx, scope, generic.Actor{})
	assert.ErrorIs(t, err, generic.ErrUnsupported)

	_, err = e.Undo(ctx, generic.UndoRequest{Scope: scope, Code: bob.Code})
	assert.ErrorIs(t, err, generic.ErrUnsupported)
}

func TestResetAll_ActivityDropsActivations(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t)
	e := generic.NewEngine(activityLedger, mem)
	scope := generic.ActivityScope(tenant, event, "colosseum")

	record(t, e, scope, alice.Code, generic.ActionEntry)
	record(t, e, scope, alice.Code, generic.ActionEntry) // AlreadyInState
	record(t, e, scope, bob.Code, generic.ActionEntry)
	record(t, e, scope, bob.Code, generic.ActionExit)
	record(t, e, scope, "ZZZZ9999", generic.ActionEntry) // NotFound

	removed, err := e.ResetAll(ctx, scope, generic.Actor{UserID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	n, err := mem.CountActive(ctx, scope, generic.ActionEntry)
	require.NoError(t, err)
	assert.Zero(t, n)

	remaining := logsOf(t, mem, scope)
	require.Len(t, remaining, 2)
	for _, entry := range remaining {
		settledEntry := entry.Action == generic.ActionEntry && entry.Result.Settled()
		assert.False(t, settledEntry, "settled entries are dropped: %+v", entry)
	}
}

// =============================================================================
// RACES AND FAILURES
// =============================================================================

func TestRecord_ConcurrentActivationsYieldOneSuccess(t *testing.T) {
	cases := []struct {
		name   string
		cfg    generic.LedgerConfig
		scope  generic.Scope
		action generic.Action
	}{
		{"stored event", eventLedger, generic.EventScope(tenant, event), generic.ActionEntry},
		{"computed activity", activityLedger, generic.ActivityScope(tenant, event, "colosseum"), generic.ActionEntry},
		{"computed item", itemLedger, generic.ItemScope(tenant, event, "headset"), generic.ActionGive},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			const workers = 32
			mem := newMemory(t)
			e := generic.NewEngine(tc.cfg, mem)

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				results = map[generic.Result]int{}
				errs    []error
			)
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					out, err := e.Record(context.Background(), generic.ActionRequest{
						Scope:  tc.scope,
						Code:   alice.Code,
						Action: tc.action,
					})
					mu.Lock()
					defer mu.Unlock()
					results[out.Result]++
					if err != nil {
						errs = append(errs, err)
					}
				}()
			}
			close(start)
			wg.Wait()

			require.Empty(t, errs)
			assert.Equal(t, 1, results[generic.ResultSuccess])
			assert.Equal(t, workers-1, results[generic.ResultAlreadyInState])

			successes := 0
			for _, entry := range logsOf(t, mem, tc.scope) {
				if entry.Result == generic.ResultSuccess {
					successes++
				}
			}
			assert.Equal(t, 1, successes)
		})
	}
}

func TestRecord_LostRaceBecomesAlreadyInState(t *testing.T) {
	// GIVEN: A store whose reads never see the first activation
	// WHEN: The same subject is activated twice
	// THEN: The unique constraint catches it and the second is AlreadyInState

	cases := []struct {
		name   string
		cfg    generic.LedgerConfig
		scope  generic.Scope
		action generic.Action
	}{
		{"stored", eventLedger, generic.EventScope(tenant, event), generic.ActionEntry},
		{"computed", itemLedger, generic.ItemScope(tenant, event, "headset"), generic.ActionGive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mem := newMemory(t)
			e := generic.NewEngine(tc.cfg, staleStore{mem})

			first := record(t, e, tc.scope, alice.Code, tc.action)
			assert.Equal(t, generic.ResultSuccess, first.Result)

			second := record(t, e, tc.scope, alice.Code, tc.action)
			assert.Equal(t, generic.ResultAlreadyInState, second.Result)
			assert.True(t, second.Recovered)
			assert.Equal(t, "concurrent activation", second.Detail)
			require.NotNil(t, second.Participant)
			assert.Equal(t, alice.ID, second.Participant.ID)

			logs := logsOf(t, mem, tc.scope)
			require.Len(t, logs, 2)
			assert.Equal(t, generic.ResultAlreadyInState, logs[0].Result)
			assert.Empty(t, logs[0].ActivationKey)
		})
	}
}

func TestRecord_StoreFailureWritesFailedRow(t *testing.T) {
	mem := newMemory(t)
	e := generic.NewEngine(eventLedger, brokenStore{mem})
	scope := generic.EventScope(tenant, event)

	out, err := e.Record(context.Background(), generic.ActionRequest{Scope: scope, Code: alice.Code, Action: generic.ActionEntry})
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrLedgerFailed)
	assert.ErrorIs(t, err, errDiskFull)

	var ferr *generic.FailureError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "record", ferr.Stage)

	assert.Equal(t, generic.ResultFailed, out.Result)
	assert.NotEmpty(t, out.LogID)

	logs := logsOf(t, mem, scope)
	require.Len(t, logs, 1)
	assert.Equal(t, generic.ResultFailed, logs[0].Result)
	assert.Equal(t, alice.ID, logs[0].ParticipantID)
	assert.Contains(t, logs[0].Detail, "disk full")
}

func TestRecord_FailedRowSurvivesCancelledContext(t *testing.T) {
	mem := newMemory(t)
	e := generic.NewEngine(eventLedger, brokenStore{mem})
	scope := generic.EventScope(tenant, event)

	ctx, cancel := context.WithCancel(context.Background())

	// Cancel from inside the transaction, after the request passed the
	// up-front context check.
	e.Store = cancelOnInsert{TxStore: brokenStore{mem}, cancel: cancel}

	_, err := e.Record(ctx, generic.ActionRequest{Scope: scope, Code: alice.Code, Action: generic.ActionEntry})
	assert.ErrorIs(t, err, generic.ErrLedgerFailed)
	require.Len(t, logsOf(t, mem, scope), 1)
}

type cancelOnInsert struct {
	generic.TxStore
	cancel context.CancelFunc
}

func (s cancelOnInsert) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return s.TxStore.WithTx(ctx, func(inner generic.Store) error {
		return fn(cancelView{Store: inner, cancel: s.cancel})
	})
}

type cancelView struct {
	generic.Store
	cancel context.CancelFunc
}

func (v cancelView) InsertState(ctx context.Context, st generic.StateRecord) error {
	v.cancel()
	return v.Store.InsertState(ctx, st)
}

func TestRecord_ObserverSeesEveryOutcome(t *testing.T) {
	mem := newMemory(t)
	e := generic.NewEngine(eventLedger, mem)
	scope := generic.EventScope(tenant, event)

	var seen []generic.Result
	e.Observer = generic.Observers{
		nil,
		generic.ObserverFunc(func(_ context.Context, s generic.Scope, out generic.Outcome) {
			assert.Equal(t, scope, s)
			seen = append(seen, out.Result)
		}),
	}

	record(t, e, scope, alice.Code, generic.ActionEntry)
	record(t, e, scope, alice.Code, generic.ActionEntry)
	record(t, e, scope, "nope", generic.ActionEntry)

	assert.Equal(t, []generic.Result{
		generic.ResultSuccess,
		generic.ResultAlreadyInState,
		generic.ResultInvalidRequest,
	}, seen)
}

func TestLedgerConfig_Validate(t *testing.T) {
	require.NoError(t, eventLedger.Validate())
	require.NoError(t, activityLedger.Validate())
	require.NoError(t, itemLedger.Validate())

	bad := eventLedger
	bad.Vocabulary = generic.Vocabulary{Activate: generic.ActionEntry, Deactivate: generic.ActionEntry}
	assert.Error(t, bad.Validate())

	bad = eventLedger
	bad.Code = generic.CodeRule{Min: 8, Max: 6}
	assert.Error(t, bad.Validate())
}
