/*
handlers_test.go - HTTP tests for the ledger endpoints

Tests for:
- Status mapping of ledger outcomes
- Tenant header requirement
- Undo / reset-all bodies and counts
- Activity and item routes, listings, audit logs
- Metrics wiring and rate limiter pass-through
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tour-ledger/config"
	"github.com/warp/tour-ledger/generic"
	"github.com/warp/tour-ledger/generic/store"
	"github.com/warp/tour-ledger/metrics"
)

const (
	tenant = "acme"
	base   = "/api/events/rome-2026"
)

func newStore(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	for _, p := range []generic.Participant{
		{ID: "p-alice", Tenant: tenant, Event: "rome-2026", Code: "A7K3Q9ZP", FirstName: "Alice", LastName: "Martin"},
		{ID: "p-bob", Tenant: tenant, Event: "rome-2026", Code: "B2C4D6F8", FirstName: "Bob", LastName: "Durand"},
	} {
		require.NoError(t, mem.SaveParticipant(ctx, p))
	}
	require.NoError(t, mem.SaveTarget(ctx, generic.Target{Kind: generic.ScopeActivity, ID: "colosseum", Tenant: tenant, Event: "rome-2026", Name: "Colosseum"}))
	require.NoError(t, mem.SaveTarget(ctx, generic.Target{Kind: generic.ScopeItem, ID: "headset-12", Tenant: tenant, Event: "rome-2026", Name: "Headset 12"}))
	return mem
}

func newServer(t *testing.T, opts RouterOptions, ledgerOpts ...generic.Option) http.Handler {
	t.Helper()
	h, err := NewHandler(newStore(t), nil, ledgerOpts...)
	require.NoError(t, err)
	return NewRouter(h, opts)
}

func do(t *testing.T, srv http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTenantID, tenant)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// EVENT CHECK-IN
// =============================================================================

func TestPostCheckin_SuccessThenAlreadyInState(t *testing.T) {
	// GIVEN: Two participants, nobody checked in
	// WHEN: Alice is scanned twice
	// THEN: 200 both times, the second flagged already_in_state

	srv := newServer(t, RouterOptions{})
	body := ActionRequest{Code: " a7k3-q9zp ", Method: "qr"}

	rec := do(t, srv, http.MethodPost, base+"/checkins", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[ActionResultDTO](t, rec)
	assert.Equal(t, "success", first.Result)
	assert.False(t, first.AlreadyInState)
	assert.Equal(t, "entry", first.Direction)
	assert.Equal(t, "qr_scan", first.Method)
	require.NotNil(t, first.Participant)
	assert.Equal(t, "Alice Martin", first.Participant.Name)
	require.NotNil(t, first.Counts)
	assert.Equal(t, CountsDTO{Active: 1, Total: 2, Rate: "0.5000"}, *first.Counts)

	rec = do(t, srv, http.MethodPost, base+"/checkins", body)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[ActionResultDTO](t, rec)
	assert.Equal(t, "already_in_state", second.Result)
	assert.True(t, second.AlreadyInState)
	assert.Equal(t, 1, second.Counts.Active)
}

func TestPostCheckin_StatusMapping(t *testing.T) {
	srv := newServer(t, RouterOptions{})

	tests := []struct {
		name   string
		body   any
		status int
		result string
	}{
		{"short code", ActionRequest{Code: "abc"}, http.StatusBadRequest, "invalid_request"},
		{"no subject", ActionRequest{}, http.StatusBadRequest, "invalid_request"},
		{"unknown code", ActionRequest{Code: "ZZZZZZZZ"}, http.StatusNotFound, "not_found"},
		{"unknown id", ActionRequest{ParticipantID: "p-404"}, http.StatusNotFound, "not_found"},
		{"exit without entry", ActionRequest{ParticipantID: "p-bob", Direction: "exit"}, http.StatusOK, "success"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, base+"/checkins", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			out := decode[ActionResultDTO](t, rec)
			assert.Equal(t, tt.result, out.Result)
			if tt.status == http.StatusNotFound {
				assert.Nil(t, out.Participant)
			}
		})
	}
}

func TestPostCheckin_MalformedBody(t *testing.T) {
	srv := newServer(t, RouterOptions{})
	req := httptest.NewRequest(http.MethodPost, base+"/checkins", strings.NewReader("{"))
	req.Header.Set(HeaderTenantID, tenant)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	out := decode[ActionResultDTO](t, rec)
	assert.Equal(t, "invalid_request", out.Result)
	assert.Nil(t, out.Participant)
	assert.Contains(t, out.Detail, "invalid request body")
	require.NotEmpty(t, out.LogID)

	logs := decode[[]LogEntryDTO](t, do(t, srv, http.MethodGet, base+"/checkins/logs?result=invalid_request", nil))
	require.Len(t, logs, 1)
	assert.Equal(t, out.LogID, logs[0].ID)
	assert.Empty(t, logs[0].ParticipantID)
}

func TestPostItemAction_MalformedBody(t *testing.T) {
	srv := newServer(t, RouterOptions{})
	req := httptest.NewRequest(http.MethodPost, base+"/items/headset-12/actions", strings.NewReader(`{"code": 12}`))
	req.Header.Set(HeaderTenantID, tenant)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode[ActionResultDTO](t, rec).Result)

	logs := decode[[]LogEntryDTO](t, do(t, srv, http.MethodGet, base+"/items/headset-12/logs", nil))
	require.Len(t, logs, 1)
	assert.Equal(t, "invalid_request", logs[0].Result)
}

func TestMissingTenant(t *testing.T) {
	srv := newServer(t, RouterOptions{})
	req := httptest.NewRequest(http.MethodGet, base+"/checkins/summary", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing tenant", decode[ErrorResponse](t, rec).Error)
}

func TestTenantIsolation(t *testing.T) {
	srv := newServer(t, RouterOptions{})

	rec := do(t, srv, http.MethodPost, base+"/checkins", ActionRequest{Code: "A7K3Q9ZP"}, HeaderTenantID, "globex")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUndoAndResetAll(t *testing.T) {
	srv := newServer(t, RouterOptions{})
	for _, code := range []string{"A7K3Q9ZP", "B2C4D6F8"} {
		require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, base+"/checkins", ActionRequest{Code: code}).Code)
	}

	rec := do(t, srv, http.MethodPost, base+"/checkins/undo", UndoRequest{Code: "a7k3q9zp"}, HeaderActorID, "admin")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	undo := decode[UndoResultDTO](t, rec)
	assert.False(t, undo.AlreadyUndone)
	assert.Equal(t, 1, undo.Counts.Active)

	rec = do(t, srv, http.MethodPost, base+"/checkins/undo", UndoRequest{ParticipantID: "p-alice"})
	assert.True(t, decode[UndoResultDTO](t, rec).AlreadyUndone)

	rec = do(t, srv, http.MethodPost, base+"/checkins/undo", UndoRequest{ParticipantID: "p-404"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, base+"/checkins/reset-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reset := decode[ResetResultDTO](t, rec)
	assert.Equal(t, 1, reset.Removed)
	assert.Equal(t, CountsDTO{Active: 0, Total: 2, Rate: "0.0000"}, reset.Counts)

	// History survives the reset
	logs := decode[[]LogEntryDTO](t, do(t, srv, http.MethodGet, base+"/checkins/logs?result=success", nil))
	assert.Len(t, logs, 2)
}

func TestListCheckinsAndStatus(t *testing.T) {
	srv := newServer(t, RouterOptions{})
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, base+"/checkins", ActionRequest{Code: "B2C4D6F8"}).Code)

	page := decode[ListPageDTO](t, do(t, srv, http.MethodGet, base+"/checkins?state=active", nil))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "p-bob", page.Items[0].Participant.ID)
	assert.NotNil(t, page.Items[0].Since)
	assert.Equal(t, 2, page.Counts.Total)

	page = decode[ListPageDTO](t, do(t, srv, http.MethodGet, base+"/checkins?q=mart&page_size=10", nil))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "p-alice", page.Items[0].Participant.ID)
	assert.False(t, page.Items[0].Active)

	rec := do(t, srv, http.MethodGet, base+"/checkins?page=two", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	status := decode[SubjectDTO](t, do(t, srv, http.MethodGet, base+"/participants/p-bob/checkin", nil))
	assert.True(t, status.Active)
	require.NotNil(t, status.LastLog)
	assert.Equal(t, "entry", status.LastLog.Action)

	rec = do(t, srv, http.MethodGet, base+"/participants/p-404/checkin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogs_RecordsClientAndActor(t *testing.T) {
	srv := newServer(t, RouterOptions{})
	do(t, srv, http.MethodPost, base+"/checkins", ActionRequest{Code: "A7K3Q9ZP"},
		"X-Real-IP", "10.1.2.3", HeaderActorID, "desk-4", HeaderActorRole, "staff", "User-Agent", "kiosk/2.1")
	do(t, srv, http.MethodPost, base+"/checkins", ActionRequest{Code: "nope"})

	logs := decode[[]LogEntryDTO](t, do(t, srv, http.MethodGet, base+"/checkins/logs?limit=10", nil))
	require.Len(t, logs, 2)
	assert.Equal(t, "invalid_request", logs[0].Result)
	assert.Equal(t, "10.1.2.3", logs[1].IP)
	assert.Equal(t, "desk-4", logs[1].ActorID)
	assert.Equal(t, "staff", logs[1].ActorRole)
	assert.Equal(t, "kiosk/2.1", logs[1].UserAgent)

	logs = decode[[]LogEntryDTO](t, do(t, srv, http.MethodGet, base+"/checkins/logs?participant_id=p-alice", nil))
	assert.Len(t, logs, 1)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, base+"/checkins/logs?limit=x", nil).Code)
}

// =============================================================================
// ACTIVITIES AND ITEMS
// =============================================================================

func TestActivityRoutes(t *testing.T) {
	srv := newServer(t, RouterOptions{})

	rec := do(t, srv, http.MethodPost, base+"/activities/zoo/checkins", ActionRequest{Code: "A7K3Q9ZP"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ActionResultDTO](t, rec).Result)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, base+"/activities/zoo/summary", nil).Code)

	rec = do(t, srv, http.MethodPost, base+"/activities/colosseum/checkins", ActionRequest{Code: "A7K3Q9ZP", Method: "scan"})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[ActionResultDTO](t, rec)
	assert.Equal(t, "entry", out.Direction)
	assert.Equal(t, "qr_scan", out.Method)
	assert.False(t, out.Timestamp.IsZero())
	assert.Nil(t, out.Counts)

	summary := decode[CountsDTO](t, do(t, srv, http.MethodGet, base+"/activities/colosseum/summary", nil))
	assert.Equal(t, CountsDTO{Active: 1, Total: 2, Rate: "0.5000"}, summary)

	page := decode[ListPageDTO](t, do(t, srv, http.MethodGet, base+"/activities/colosseum/checkins?state=active", nil))
	assert.Len(t, page.Items, 1)

	rec = do(t, srv, http.MethodPost, base+"/activities/colosseum/reset-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reset := decode[ResetResultDTO](t, rec)
	assert.Equal(t, 1, reset.Removed)
	assert.Zero(t, reset.Counts.Active)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, base+"/activities/zoo/reset-all", nil).Code)

	logs := decode[[]LogEntryDTO](t, do(t, srv, http.MethodGet, base+"/activities/colosseum/logs", nil))
	assert.Empty(t, logs)
}

func TestItemRoutes(t *testing.T) {
	srv := newServer(t, RouterOptions{})

	rec := do(t, srv, http.MethodPost, base+"/items/headset-12/actions", ActionRequest{Code: "B2C4D6F8", Action: "give"})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[ActionResultDTO](t, rec)
	assert.Equal(t, "give", out.Action)
	assert.Empty(t, out.Direction)

	rec = do(t, srv, http.MethodPost, base+"/items/headset-12/actions", ActionRequest{Code: "B2C4D6F8"})
	assert.True(t, decode[ActionResultDTO](t, rec).AlreadyInState)

	holders := decode[ListPageDTO](t, do(t, srv, http.MethodGet, base+"/items/headset-12/holders", nil))
	require.Len(t, holders.Items, 1)
	assert.Equal(t, "p-bob", holders.Items[0].Participant.ID)

	rec = do(t, srv, http.MethodPost, base+"/items/headset-12/actions", ActionRequest{ParticipantID: "p-bob", Action: "return"})
	assert.Equal(t, "return", decode[ActionResultDTO](t, rec).Action)

	summary := decode[CountsDTO](t, do(t, srv, http.MethodGet, base+"/items/headset-12/summary", nil))
	assert.Zero(t, summary.Active)

	logs := decode[[]LogEntryDTO](t, do(t, srv, http.MethodGet, base+"/items/headset-12/logs?result=success,already_in_state", nil))
	assert.Len(t, logs, 3)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, base+"/items/nope/holders", nil).Code)
}

// =============================================================================
// AMBIENT
// =============================================================================

func TestHealthz(t *testing.T) {
	srv := newServer(t, RouterOptions{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	srv := newServer(t, RouterOptions{
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, generic.WithObserver(m))

	do(t, srv, http.MethodPost, base+"/checkins", ActionRequest{Code: "A7K3Q9ZP"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `ledger_actions_total{action="entry",kind="event",result="success"} 1`)
	assert.Contains(t, body, `ledger_http_requests_total{method="POST",route="/api/events/{eventID}/checkins`)
}

func TestRateLimit_PassThrough(t *testing.T) {
	// GIVEN: A limiter that is disabled, and one whose Redis is unreachable
	// THEN: requests are served normally in both cases

	disabled := NewTokenBucket(config.RateLimitConfig{Enabled: false}, nil, nil)
	srv := newServer(t, RouterOptions{RateLimit: disabled})
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, base+"/checkins/summary", nil).Code)

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	unreachable := NewTokenBucket(config.RateLimitConfig{
		Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl",
	}, rdb, nil)
	srv = newServer(t, RouterOptions{RateLimit: unreachable})
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, base+"/checkins/summary", nil).Code)
	}
}

func TestRateKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, base+"/checkins", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	req.Header.Set(HeaderTenantID, "acme")
	assert.Equal(t, "rl:tenant:acme:ip:10.0.0.9", rateKey("rl", req))
}
