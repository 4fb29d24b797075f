/*
projector.go - Read-side state derivation (StateProjector)

PURPOSE:
  Answers "who is currently in?" without trusting any flag. Stored ledgers
  read their state rows; computed ledgers take the latest settled log row
  of each participant and check whether it is an activation.

CONSISTENCY:
  Reads take no locks and may race with in-flight writes. Counts can be
  momentarily stale; clients poll or refetch. This is read-committed, not
  linearizable.

PROVIDES:
  - Counts:  active / total, plus the rate as a 4-place decimal
  - Subject: one participant's state and last log row
  - List:    search, state filter, sort and pagination
  - Logs:    audit rows, newest first

SEE ALSO:
  - engine.go: Write-side derivation of the same state
*/
package generic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
	DefaultLogLimit = 100
	MaxLogLimit     = 1000
)

// =============================================================================
// COUNTS
// =============================================================================

type Counts struct {
	Active int
	Total  int
}

// Rate is Active/Total rounded to 4 places, zero for an empty event.
func (c Counts) Rate() decimal.Decimal {
	if c.Total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(c.Active)).
		Div(decimal.NewFromInt(int64(c.Total))).
		Round(4)
}

// =============================================================================
// LISTING TYPES
// =============================================================================

type StateFilter string

const (
	FilterAll      StateFilter = "all"
	FilterActive   StateFilter = "active"
	FilterInactive StateFilter = "inactive"
)

type SortKey string

const (
	SortName    SortKey = "name"
	SortCode    SortKey = "code"
	SortStateAt SortKey = "state_at"
)

// ListQuery is a listing request. Zero values mean: everyone, sorted by
// name ascending, first page of DefaultPageSize.
type ListQuery struct {
	Search   string
	State    StateFilter
	Sort     SortKey
	Desc     bool
	Page     int
	PageSize int
}

func (q ListQuery) normalized() ListQuery {
	switch q.State {
	case FilterActive, FilterInactive:
	default:
		q.State = FilterAll
	}
	switch q.Sort {
	case SortCode, SortStateAt:
	default:
		q.Sort = SortName
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// SubjectView is one participant as seen by a ledger.
type SubjectView struct {
	Participant Participant
	Active      bool

	// Since is when the current activation happened, nil when inactive.
	Since *time.Time

	// LastLog is the latest row of any result, nil when none.
	LastLog *LogEntry
}

// stateAt is the timestamp used by SortStateAt.
func (v SubjectView) stateAt() time.Time {
	if v.Since != nil {
		return *v.Since
	}
	if v.LastLog != nil {
		return v.LastLog.OccurredAt
	}
	return time.Time{}
}

type ListPage struct {
	Items    []SubjectView
	Matched  int // rows matching the filters, before pagination
	Page     int
	PageSize int
	Counts   Counts
}

// =============================================================================
// PROJECTOR
// =============================================================================

type Projector struct {
	Config LedgerConfig
	Store  ReadStore
}

func NewProjector(cfg LedgerConfig, store ReadStore) *Projector {
	return &Projector{Config: cfg, Store: store}
}

// Counts returns the active and total subject counts of scope.
func (p *Projector) Counts(ctx context.Context, scope Scope) (Counts, error) {
	total, err := p.Store.CountParticipants(ctx, scope.Tenant, scope.Event)
	if err != nil {
		return Counts{}, fmt.Errorf("count participants: %w", err)
	}

	var active int
	if p.Config.Mode == StateStored {
		active, err = p.Store.CountStates(ctx, scope)
	} else {
		active, err = p.Store.CountActive(ctx, scope, p.Config.Vocabulary.Activate)
	}
	if err != nil {
		return Counts{}, fmt.Errorf("count active: %w", err)
	}
	return Counts{Active: active, Total: total}, nil
}

// LastLog returns the latest row of any result for one participant.
func (p *Projector) LastLog(ctx context.Context, scope Scope, participant ParticipantID) (*LogEntry, error) {
	return p.Store.LatestLog(ctx, scope, participant)
}

// Subject returns the state of one participant.
func (p *Projector) Subject(ctx context.Context, scope Scope, participant Participant) (SubjectView, error) {
	view := SubjectView{Participant: participant}

	last, err := p.Store.LatestLog(ctx, scope, participant.ID)
	if err != nil {
		return view, fmt.Errorf("load last log: %w", err)
	}
	view.LastLog = last

	actives, err := p.activeSince(ctx, scope)
	if err != nil {
		return view, err
	}
	if since, ok := actives[participant.ID]; ok {
		view.Active = true
		view.Since = &since
	}
	return view, nil
}

// List returns a filtered, sorted page of subjects with their state.
func (p *Projector) List(ctx context.Context, scope Scope, q ListQuery) (ListPage, error) {
	q = q.normalized()

	participants, err := p.Store.Participants(ctx, scope.Tenant, scope.Event)
	if err != nil {
		return ListPage{}, fmt.Errorf("load participants: %w", err)
	}
	actives, err := p.activeSince(ctx, scope)
	if err != nil {
		return ListPage{}, err
	}
	latest, err := p.Store.LatestLogs(ctx, scope)
	if err != nil {
		return ListPage{}, fmt.Errorf("load latest logs: %w", err)
	}
	lastByParticipant := make(map[ParticipantID]LogEntry, len(latest))
	for _, entry := range latest {
		lastByParticipant[entry.ParticipantID] = entry
	}

	counts := Counts{Total: len(participants)}
	views := make([]SubjectView, 0, len(participants))
	for _, part := range participants {
		view := SubjectView{Participant: part}
		if since, ok := actives[part.ID]; ok {
			view.Active = true
			view.Since = &since
			counts.Active++
		}
		if last, ok := lastByParticipant[part.ID]; ok {
			view.LastLog = &last
		}

		if !matchesState(view, q.State) || !matchesSearch(part, q.Search) {
			continue
		}
		views = append(views, view)
	}

	sortViews(views, q.Sort, q.Desc)

	page := ListPage{Matched: len(views), Page: q.Page, PageSize: q.PageSize, Counts: counts}
	start := (q.Page - 1) * q.PageSize
	if start >= len(views) {
		page.Items = []SubjectView{}
		return page, nil
	}
	end := start + q.PageSize
	if end > len(views) {
		end = len(views)
	}
	page.Items = views[start:end]
	return page, nil
}

// Logs returns audit rows for scope, newest first.
func (p *Projector) Logs(ctx context.Context, scope Scope, filter LogFilter) ([]LogEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLogLimit
	}
	if filter.Limit > MaxLogLimit {
		filter.Limit = MaxLogLimit
	}
	return p.Store.Logs(ctx, scope, filter)
}

// activeSince maps every active participant to its activation time.
func (p *Projector) activeSince(ctx context.Context, scope Scope) (map[ParticipantID]time.Time, error) {
	out := make(map[ParticipantID]time.Time)

	if p.Config.Mode == StateStored {
		states, err := p.Store.States(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("load states: %w", err)
		}
		for _, st := range states {
			out[st.ParticipantID] = st.CreatedAt
		}
		return out, nil
	}

	settled, err := p.Store.LatestSettledAll(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load settled logs: %w", err)
	}
	for _, entry := range settled {
		if entry.Action == p.Config.Vocabulary.Activate {
			out[entry.ParticipantID] = entry.OccurredAt
		}
	}
	return out, nil
}

// =============================================================================
// FILTERING AND SORTING
// =============================================================================

func matchesState(v SubjectView, f StateFilter) bool {
	switch f {
	case FilterActive:
		return v.Active
	case FilterInactive:
		return !v.Active
	}
	return true
}

// matchesSearch does a case-insensitive substring match on name, room and
// code. Codes also match in normalized form, so "a7k3-q9" finds "A7K3Q9ZP".
func matchesSearch(p Participant, search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	for _, hay := range []string{p.FullName(), p.LastName + " " + p.FirstName, p.Room, p.Code} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	if squashed := strings.ToUpper(squash(search)); squashed != "" {
		return strings.Contains(p.Code, squashed)
	}
	return false
}

func sortViews(views []SubjectView, key SortKey, desc bool) {
	less := func(a, b SubjectView) bool {
		switch key {
		case SortCode:
			return a.Participant.Code < b.Participant.Code
		case SortStateAt:
			ta, tb := a.stateAt(), b.stateAt()
			if !ta.Equal(tb) {
				return ta.Before(tb)
			}
		}
		return nameKey(a.Participant) < nameKey(b.Participant)
	}
	sort.SliceStable(views, func(i, j int) bool {
		if desc {
			return less(views[j], views[i])
		}
		return less(views[i], views[j])
	})
}

func nameKey(p Participant) string {
	return strings.ToLower(p.LastName + "\x00" + p.FirstName + "\x00" + string(p.ID))
}
