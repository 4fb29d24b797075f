/*
seed.go - YAML fixtures for participants, activities and items

PURPOSE:
  Participant and target management belongs to other services. For local
  runs, demos and tests this package loads them from a YAML document and
  writes them through generic.Registry.

FORMAT:
  tenant: acme
  event: rome-2026
  participants:
    - id: p-alice            # optional, generated when empty
      code: A7K3-Q9ZP        # optional, generated when empty
      first_name: Alice
      last_name: Martin
      room: "204"
      excluded: false
  activities:
    - id: colosseum
      name: Colosseum tour
  items:
    - id: headset-12
      name: Audio headset 12

SEE ALSO:
  - cmd/ledgerctl: seed command
*/
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/warp/tour-ledger/generic"
)

type Fixture struct {
	Tenant       string        `yaml:"tenant"`
	Event        string        `yaml:"event"`
	Participants []Participant `yaml:"participants"`
	Activities   []Target      `yaml:"activities"`
	Items        []Target      `yaml:"items"`
}

type Participant struct {
	ID        string `yaml:"id"`
	Code      string `yaml:"code"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Room      string `yaml:"room"`
	Excluded  bool   `yaml:"excluded"`
}

type Target struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Summary counts what Apply wrote.
type Summary struct {
	Participants int
	Activities   int
	Items        int
}

func LoadFile(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a fixture. Unknown keys are rejected.
func Load(r io.Reader) (*Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if fx.Tenant == "" || fx.Event == "" {
		return nil, fmt.Errorf("seed: tenant and event are required")
	}
	return &fx, nil
}

// Apply normalizes codes, fills in missing ids and codes, and saves
// everything. Participants are saved first, then activities, then items.
// Saving is an upsert, so applying the same fixture twice is harmless as
// long as ids and codes are given.
func Apply(ctx context.Context, reg generic.Registry, fx *Fixture) (Summary, error) {
	var sum Summary
	tenant, event := generic.TenantID(fx.Tenant), generic.EventID(fx.Event)

	for i, p := range fx.Participants {
		participant, err := toParticipant(tenant, event, p)
		if err != nil {
			return sum, fmt.Errorf("participant %d: %w", i, err)
		}
		if err := reg.SaveParticipant(ctx, participant); err != nil {
			return sum, fmt.Errorf("save participant %s: %w", participant.ID, err)
		}
		fx.Participants[i].ID = string(participant.ID)
		fx.Participants[i].Code = participant.Code
		sum.Participants++
	}

	for _, group := range []struct {
		kind    generic.ScopeKind
		targets []Target
		count   *int
	}{
		{generic.ScopeActivity, fx.Activities, &sum.Activities},
		{generic.ScopeItem, fx.Items, &sum.Items},
	} {
		for _, t := range group.targets {
			target := generic.Target{Kind: group.kind, ID: t.ID, Tenant: tenant, Event: event, Name: t.Name}
			if err := reg.SaveTarget(ctx, target); err != nil {
				return sum, fmt.Errorf("save %s %s: %w", group.kind, t.ID, err)
			}
			*group.count++
		}
	}
	return sum, nil
}

func toParticipant(tenant generic.TenantID, event generic.EventID, p Participant) (generic.Participant, error) {
	out := generic.Participant{
		ID:        generic.ParticipantID(p.ID),
		Tenant:    tenant,
		Event:     event,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Room:      p.Room,
		Excluded:  p.Excluded,
	}
	if out.ID == "" {
		out.ID = generic.ParticipantID(uuid.NewString())
	}

	if p.Code == "" {
		code, err := generic.NewCode(generic.PrimaryCode.Max)
		if err != nil {
			return out, err
		}
		out.Code = code
		return out, nil
	}
	code, err := generic.NormalizeCode(p.Code, generic.PrimaryCode)
	if err != nil {
		return out, err
	}
	out.Code = code
	return out, nil
}
