/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the check-in, activity and custody endpoints. Ledger
  outcomes are always returned as ActionResultDTO, including rejections,
  so scanners can show the reason without parsing error strings.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/tour-ledger/generic"
)

// =============================================================================
// REQUESTS
// =============================================================================

// ActionRequest is the body of every recording endpoint. Direction is used
// by check-in endpoints and Action by item endpoints.
type ActionRequest struct {
	Code          string `json:"code"`
	ParticipantID string `json:"participant_id"`
	Method        string `json:"method"`
	Direction     string `json:"direction"`
	Action        string `json:"action"`
}

type UndoRequest struct {
	Code          string `json:"code"`
	ParticipantID string `json:"participant_id"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ParticipantDTO struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Room     string `json:"room,omitempty"`
	Excluded bool   `json:"excluded,omitempty"`
}

type CountsDTO struct {
	Active int    `json:"active"`
	Total  int    `json:"total"`
	Rate   string `json:"rate"`
}

// ActionResultDTO is the outcome of one recorded action.
type ActionResultDTO struct {
	Result         string          `json:"result"`
	AlreadyInState bool            `json:"already_in_state"`
	Participant    *ParticipantDTO `json:"participant"`
	Direction      string          `json:"direction,omitempty"`
	Action         string          `json:"action,omitempty"`
	Method         string          `json:"method"`
	LogID          string          `json:"log_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Detail         string          `json:"detail,omitempty"`
	Counts         *CountsDTO      `json:"counts,omitempty"`
}

type UndoResultDTO struct {
	Result        string          `json:"result"`
	AlreadyUndone bool            `json:"already_undone"`
	Participant   *ParticipantDTO `json:"participant"`
	Detail        string          `json:"detail,omitempty"`
	Counts        *CountsDTO      `json:"counts,omitempty"`
}

type ResetResultDTO struct {
	Removed int       `json:"removed"`
	Counts  CountsDTO `json:"counts"`
}

type LogEntryDTO struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id,omitempty"`
	Code          string    `json:"code,omitempty"`
	Action        string    `json:"action"`
	Method        string    `json:"method"`
	Result        string    `json:"result"`
	Detail        string    `json:"detail,omitempty"`
	ActorID       string    `json:"actor_id,omitempty"`
	ActorRole     string    `json:"actor_role,omitempty"`
	IP            string    `json:"ip,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type SubjectDTO struct {
	Participant ParticipantDTO `json:"participant"`
	Active      bool           `json:"active"`
	Since       *time.Time     `json:"since,omitempty"`
	LastLog     *LogEntryDTO   `json:"last_log,omitempty"`
}

type ListPageDTO struct {
	Items    []SubjectDTO `json:"items"`
	Matched  int          `json:"matched"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Counts   CountsDTO    `json:"counts"`
}

// ErrorResponse is returned for failures that are not ledger outcomes:
// missing tenant, unknown target on a read, unsupported operation.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toParticipantDTO(p *generic.Participant) *ParticipantDTO {
	if p == nil {
		return nil
	}
	return &ParticipantDTO{
		ID:       string(p.ID),
		Code:     p.Code,
		Name:     p.FullName(),
		Room:     p.Room,
		Excluded: p.Excluded,
	}
}

func toCountsDTO(c generic.Counts) CountsDTO {
	return CountsDTO{Active: c.Active, Total: c.Total, Rate: c.Rate().StringFixed(4)}
}

func toLogEntryDTO(e generic.LogEntry) LogEntryDTO {
	return LogEntryDTO{
		ID:            string(e.ID),
		ParticipantID: string(e.ParticipantID),
		Code:          e.Code,
		Action:        string(e.Action),
		Method:        string(e.Method),
		Result:        string(e.Result),
		Detail:        e.Detail,
		ActorID:       e.Actor.UserID,
		ActorRole:     e.Actor.Role,
		IP:            e.Client.IP,
		UserAgent:     e.Client.UserAgent,
		OccurredAt:    e.OccurredAt,
	}
}

func toLogEntryDTOs(entries []generic.LogEntry) []LogEntryDTO {
	dtos := make([]LogEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLogEntryDTO(e)
	}
	return dtos
}

func toSubjectDTO(v generic.SubjectView) SubjectDTO {
	dto := SubjectDTO{
		Participant: *toParticipantDTO(&v.Participant),
		Active:      v.Active,
		Since:       v.Since,
	}
	if v.LastLog != nil {
		last := toLogEntryDTO(*v.LastLog)
		dto.LastLog = &last
	}
	return dto
}

func toListPageDTO(p generic.ListPage) ListPageDTO {
	items := make([]SubjectDTO, len(p.Items))
	for i, v := range p.Items {
		items[i] = toSubjectDTO(v)
	}
	return ListPageDTO{
		Items:    items,
		Matched:  p.Matched,
		Page:     p.Page,
		PageSize: p.PageSize,
		Counts:   toCountsDTO(p.Counts),
	}
}

// toActionResultDTO fills Direction for entry/exit ledgers and Action
// for give/return ledgers.
func toActionResultDTO(out generic.Outcome, vocab generic.Vocabulary) ActionResultDTO {
	dto := ActionResultDTO{
		Result:         string(out.Result),
		AlreadyInState: out.AlreadyInState(),
		Participant:    toParticipantDTO(out.Participant),
		Method:         string(out.Method),
		LogID:          string(out.LogID),
		Timestamp:      out.RecordedAt,
		Detail:         out.Detail,
	}
	if vocab == generic.GiveReturn {
		dto.Action = string(out.Action)
	} else {
		dto.Direction = string(out.Action)
	}
	return dto
}
