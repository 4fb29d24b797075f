package generic

import (
	"context"
	"fmt"
)

// =============================================================================
// PARTICIPANT RESOLVER
// =============================================================================

// SubjectRef points at a participant either by normalized code or by id.
// ID wins when both are set.
type SubjectRef struct {
	ID   ParticipantID
	Code string
}

func (r SubjectRef) IsZero() bool {
	return r.ID == "" && r.Code == ""
}

// Resolve looks up the subject strictly inside (tenant, event). A code or id
// from another event never matches. Pass the transaction-bound Store when
// the lookup precedes a write.
func Resolve(ctx context.Context, s Store, tenant TenantID, event EventID, ref SubjectRef) (*Participant, error) {
	var (
		p   *Participant
		err error
	)
	switch {
	case ref.ID != "":
		p, err = s.ParticipantByID(ctx, tenant, event, ref.ID)
	case ref.Code != "":
		p, err = s.ParticipantByCode(ctx, tenant, event, ref.Code)
	default:
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve participant: %w", err)
	}
	if p == nil || p.Tenant != tenant || p.Event != event {
		return nil, ErrParticipantNotFound
	}
	return p, nil
}
