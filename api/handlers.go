/*
handlers.go - HTTP API handlers for the participant ledgers

PURPOSE:
  Exposes the check-in, activity and custody ledgers via REST. Handles
  request parsing and JSON serialization, and delegates to the ledgers.

ENDPOINTS (under /api/events/{eventID}):
  Event check-in:
    POST   /checkins                     Record entry/exit
    POST   /checkins/undo                Clear one participant's state
    POST   /checkins/reset-all           Clear every check-in
    GET    /checkins                     List participants with state
    GET    /checkins/summary             Active/total counts
    GET    /checkins/logs                Audit log
    GET    /participants/{id}/checkin    One participant's state

  Activities:
    POST   /activities/{id}/checkins     Record entry/exit
    POST   /activities/{id}/reset-all    Drop settled entries
    GET    /activities/{id}/checkins     List
    GET    /activities/{id}/summary      Counts
    GET    /activities/{id}/logs         Audit log

  Items:
    POST   /items/{id}/actions           Record give/return
    GET    /items/{id}/holders           Current holders
    GET    /items/{id}/summary           Counts
    GET    /items/{id}/logs              Audit log

STATUS MAPPING:
  Ledger outcomes are always an ActionResultDTO body:
  - 200: Success, AlreadyInState
  - 400: InvalidRequest
  - 404: NotFound
  - 500: Failed
  Everything else (missing tenant, unknown target on reads, bad query
  parameters) uses ErrorResponse.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/tour-ledger/activity"
	"github.com/warp/tour-ledger/checkin"
	"github.com/warp/tour-ledger/custody"
	"github.com/warp/tour-ledger/generic"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the three ledgers sharing one store.
type Handler struct {
	Checkin  *checkin.Ledger
	Activity *activity.Ledger
	Custody  *custody.Ledger
	Store    generic.LedgerStore
	Logger   *zap.Logger
}

// NewHandler builds every ledger on store. Options apply to all of them.
func NewHandler(store generic.LedgerStore, logger *zap.Logger, opts ...generic.Option) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append([]generic.Option{generic.WithLogger(logger)}, opts...)

	ci, err := checkin.New(store, opts...)
	if err != nil {
		return nil, fmt.Errorf("checkin ledger: %w", err)
	}
	act, err := activity.New(store, opts...)
	if err != nil {
		return nil, fmt.Errorf("activity ledger: %w", err)
	}
	cus, err := custody.New(store, opts...)
	if err != nil {
		return nil, fmt.Errorf("custody ledger: %w", err)
	}
	return &Handler{Checkin: ci, Activity: act, Custody: cus, Store: store, Logger: logger}, nil
}

// Healthz pings the store when it supports it.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// EVENT CHECK-IN HANDLERS
// =============================================================================

// PostCheckin records an entry or exit at the event.
// POST /api/events/{eventID}/checkins
func (h *Handler) PostCheckin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, event := scopeParams(r)

	req, rejected := decodeAction(r)

	out, err := h.Checkin.Check(ctx, checkin.Request{
		Tenant:        tenant,
		Event:         event,
		ParticipantID: generic.ParticipantID(req.ParticipantID),
		Code:          req.Code,
		Direction:     req.Direction,
		Method:        req.Method,
		Actor:         actorFrom(r),
		Client:        clientFrom(r),
		Rejected:      rejected,
	})
	if err != nil {
		h.Logger.Error("check-in failed", zap.String("event", string(event)), zap.Error(err))
	}

	dto := toActionResultDTO(out, checkin.Config.Vocabulary)
	dto.Counts = h.countsOrNil(h.Checkin.Summary(ctx, tenant, event))
	writeJSON(w, statusFor(out.Result), dto)
}

// PostUndo clears one participant's check-in.
// POST /api/events/{eventID}/checkins/undo
func (h *Handler) PostUndo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, event := scopeParams(r)

	var req UndoRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ref := generic.SubjectRef{ID: generic.ParticipantID(req.ParticipantID), Code: req.Code}
	out, err := h.Checkin.Undo(ctx, tenant, event, ref, actorFrom(r))
	if err != nil && out.Result == "" {
		writeLedgerError(w, err)
		return
	}
	if err != nil {
		h.Logger.Error("undo failed", zap.String("event", string(event)), zap.Error(err))
	}

	dto := UndoResultDTO{
		Result:        string(out.Result),
		AlreadyUndone: out.AlreadyUndone,
		Participant:   toParticipantDTO(out.Participant),
		Detail:        out.Detail,
	}
	dto.Counts = h.countsOrNil(h.Checkin.Summary(ctx, tenant, event))
	writeJSON(w, statusFor(out.Result), dto)
}

// PostResetAll clears every check-in of the event.
// POST /api/events/{eventID}/checkins/reset-all
func (h *Handler) PostResetAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, event := scopeParams(r)

	removed, err := h.Checkin.ResetAll(ctx, tenant, event, actorFrom(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	counts, err := h.Checkin.Summary(ctx, tenant, event)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResetResultDTO{Removed: removed, Counts: toCountsDTO(counts)})
}

// ListCheckins lists the event's participants with their check-in state.
// GET /api/events/{eventID}/checkins?q=&state=&sort=&order=&page=&page_size=
func (h *Handler) ListCheckins(w http.ResponseWriter, r *http.Request) {
	tenant, event := scopeParams(r)
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	page, err := h.Checkin.List(r.Context(), tenant, event, q)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListPageDTO(page))
}

// CheckinSummary returns active/total counts.
// GET /api/events/{eventID}/checkins/summary
func (h *Handler) CheckinSummary(w http.ResponseWriter, r *http.Request) {
	tenant, event := scopeParams(r)
	counts, err := h.Checkin.Summary(r.Context(), tenant, event)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCountsDTO(counts))
}

// CheckinLogs returns the event's audit log, newest first.
// GET /api/events/{eventID}/checkins/logs?participant_id=&result=&limit=
func (h *Handler) CheckinLogs(w http.ResponseWriter, r *http.Request) {
	tenant, event := scopeParams(r)
	filter, err := parseLogFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	logs, err := h.Checkin.Logs(r.Context(), tenant, event, filter)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLogEntryDTOs(logs))
}

// ParticipantStatus returns one participant's state and last scan.
// GET /api/events/{eventID}/participants/{participantID}/checkin
func (h *Handler) ParticipantStatus(w http.ResponseWriter, r *http.Request) {
	tenant, event := scopeParams(r)
	pid := generic.ParticipantID(chi.URLParam(r, "participantID"))

	view, err := h.Checkin.Status(r.Context(), tenant, event, pid)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubjectDTO(view))
}

// =============================================================================
// ACTIVITY HANDLERS
// =============================================================================

// PostActivityCheckin records an entry or exit at an activity.
// POST /api/events/{eventID}/activities/{activityID}/checkins
func (h *Handler) PostActivityCheckin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, event := scopeParams(r)
	activityID := chi.URLParam(r, "activityID")

	req, rejected := decodeAction(r)

	out, err := h.Activity.Check(ctx, activity.Request{
		Tenant:        tenant,
		Event:         event,
		ActivityID:    activityID,
		ParticipantID: generic.ParticipantID(req.ParticipantID),
		Code:          req.Code,
		Direction:     req.Direction,
		Method:        req.Method,
		Actor:         actorFrom(r),
		Client:        clientFrom(r),
		Rejected:      rejected,
	})
	if err != nil {
		h.Logger.Error("activity check-in failed", zap.String("activity", activityID), zap.Error(err))
	}
	writeJSON(w, statusFor(out.Result), toActionResultDTO(out, activity.Config.Vocabulary))
}

// ActivityResetAll drops the settled entries of an activity.
// POST /api/events/{eventID}/activities/{activityID}/reset-all
func (h *Handler) ActivityResetAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, event := scopeParams(r)
	activityID := chi.URLParam(r, "activityID")

	removed, err := h.Activity.ResetAll(ctx, tenant, event, activityID, actorFrom(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	counts, err := h.Activity.Summary(ctx, tenant, event, activityID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResetResultDTO{Removed: removed, Counts: toCountsDTO(counts)})
}

// GET /api/events/{eventID}/activities/{activityID}/checkins
func (h *Handler) ListActivityCheckins(w http.ResponseWriter, r *http.Request) {
	tenant, event := scopeParams(r)
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	page, err := h.Activity.List(r.Context(), tenant, event, chi.URLParam(r, "activityID"), q)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListPageDTO(page))
}

// GET /api/events/{eventID}/activities/{activityID}/summary
func (h *Handler) ActivitySummary(w http.ResponseWriter, r *http.Request) {
	tenant, event := scopeParams(r)
	counts, err := h.Activity.Summary(r.Context(), tenant, event, chi.URLParam(r, "activityID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCountsDTO(counts))
}

// GET /api/events/{eventID}/activities/{activityID}/logs
func (h *Handler) ActivityLogs(w http.ResponseWriter, r *http.Request) {
	tenant, event := scopeParams(r)
	filter, err := parseLogFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	logs, err := h.Activity.Logs(r.Context(), tenant, event, chi.URLParam(r, "activityID"), filter)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLogEntryDTOs(logs))
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

// PostItemAction records a give or return.
// POST /api/events/{eventID}/items/{itemID}/actions
func (h *Handler) PostItemAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, event := scopeParams(r)
	itemID := chi.URLParam(r, "itemID")

	req, rejected := decodeAction(r)

	out, err := h.Custody.Record(ctx, custody.Request{
		Tenant:        tenant,
		Event:         event,
		ItemID:        itemID,
		ParticipantID: generic.ParticipantID(req.ParticipantID),
		Code:          req.Code,
		Action:        req.Action,
		Method:        req.Method,
		Actor:         actorFrom(r),
		Client:        clientFrom(r),
		Rejected:      rejected,
	})
	if err != nil {
		h.Logger.Error("item action failed", zap.String("item", itemID), zap.Error(err))
	}
	writeJSON(w, statusFor(out.Result), toActionResultDTO(out, custody.Config.Vocabulary))
}

// ListHolders lists who currently holds the item. state=all shows everyone.
// GET /api/events/{eventID}/items/{itemID}/holders
func (h *Handler) ListHolders(w http.ResponseWriter, r *http.Request) {
	tenant, event := scopeParams(r)
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	page, err := h.Custody.Holders(r.Context(), tenant, event, chi.URLParam(r, "itemID"), q)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListPageDTO(page))
}

// GET /api/events/{eventID}/items/{itemID}/summary
func (h *Handler) ItemSummary(w http.ResponseWriter, r *http.Request) {
	tenant, event := scopeParams(r)
	counts, err := h.Custody.Summary(r.Context(), tenant, event, chi.URLParam(r, "itemID"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCountsDTO(counts))
}

// GET /api/events/{eventID}/items/{itemID}/logs
func (h *Handler) ItemLogs(w http.ResponseWriter, r *http.Request) {
	tenant, event := scopeParams(r)
	filter, err := parseLogFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	logs, err := h.Custody.Logs(r.Context(), tenant, event, chi.URLParam(r, "itemID"), filter)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLogEntryDTOs(logs))
}

// =============================================================================
// HELPERS
// =============================================================================

func scopeParams(r *http.Request) (generic.TenantID, generic.EventID) {
	return tenantFrom(r.Context()), generic.EventID(chi.URLParam(r, "eventID"))
}

func actorFrom(r *http.Request) generic.Actor {
	return generic.Actor{
		UserID: r.Header.Get(HeaderActorID),
		Role:   r.Header.Get(HeaderActorRole),
	}
}

// clientFrom reads the address set by middleware.RealIP.
func clientFrom(r *http.Request) generic.ClientInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return generic.ClientInfo{IP: ip, UserAgent: r.UserAgent()}
}

// decodeAction never fails the request. A body that is not valid JSON is
// handed to the ledger as a rejected attempt so it is logged like any other
// malformed input.
func decodeAction(r *http.Request) (ActionRequest, string) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return ActionRequest{}, "invalid request body: " + err.Error()
	}
	return req, ""
}

// decodeBody accepts an empty body. The ledgers turn missing fields into
// InvalidRequest outcomes themselves.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func parseListQuery(r *http.Request) (generic.ListQuery, error) {
	v := r.URL.Query()
	q := generic.ListQuery{
		Search: v.Get("q"),
		State:  generic.StateFilter(strings.ToLower(v.Get("state"))),
		Sort:   generic.SortKey(strings.ToLower(v.Get("sort"))),
		Desc:   strings.EqualFold(v.Get("order"), "desc"),
	}
	var err error
	if q.Page, err = optionalInt(v.Get("page")); err != nil {
		return q, fmt.Errorf("page: %w", err)
	}
	if q.PageSize, err = optionalInt(v.Get("page_size")); err != nil {
		return q, fmt.Errorf("page_size: %w", err)
	}
	return q, nil
}

func parseLogFilter(r *http.Request) (generic.LogFilter, error) {
	v := r.URL.Query()
	filter := generic.LogFilter{ParticipantID: generic.ParticipantID(v.Get("participant_id"))}
	for _, raw := range v["result"] {
		for _, res := range strings.Split(raw, ",") {
			if res = strings.TrimSpace(strings.ToLower(res)); res != "" {
				filter.Results = append(filter.Results, generic.Result(res))
			}
		}
	}
	limit, err := optionalInt(v.Get("limit"))
	if err != nil {
		return filter, fmt.Errorf("limit: %w", err)
	}
	filter.Limit = limit
	return filter, nil
}

func optionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func (h *Handler) countsOrNil(counts generic.Counts, err error) *CountsDTO {
	if err != nil {
		h.Logger.Warn("failed to load counts", zap.Error(err))
		return nil
	}
	dto := toCountsDTO(counts)
	return &dto
}

func statusFor(result generic.Result) int {
	switch result {
	case generic.ResultSuccess, generic.ResultAlreadyInState:
		return http.StatusOK
	case generic.ResultInvalidRequest:
		return http.StatusBadRequest
	case generic.ResultNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError maps ledger errors that are not outcomes.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, generic.ErrUnsupported):
		writeError(w, http.StatusMethodNotAllowed, "Operation not supported", err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
