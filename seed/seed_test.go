package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tour-ledger/generic"
	"github.com/warp/tour-ledger/generic/store"
)

const fixture = `
tenant: acme
event: rome-2026
participants:
  - id: p-alice
    code: a7k3-q9zp
    first_name: Alice
    last_name: Martin
    room: "204"
  - first_name: Bob
    last_name: Durand
    excluded: true
activities:
  - id: colosseum
    name: Colosseum tour
items:
  - id: headset-12
    name: Audio headset 12
`

func TestApply(t *testing.T) {
	// GIVEN: A fixture with one fully specified and one bare participant
	// WHEN: It is applied to an empty store
	// THEN: codes are normalized or generated and every target exists

	ctx := context.Background()
	mem := store.NewMemory()

	fx, err := Load(strings.NewReader(fixture))
	require.NoError(t, err)

	sum, err := Apply(ctx, mem, fx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Participants: 2, Activities: 1, Items: 1}, sum)

	alice, err := mem.ParticipantByCode(ctx, "acme", "rome-2026", "A7K3Q9ZP")
	require.NoError(t, err)
	require.NotNil(t, alice)
	assert.Equal(t, generic.ParticipantID("p-alice"), alice.ID)
	assert.Equal(t, "204", alice.Room)

	bob := fx.Participants[1]
	assert.NotEmpty(t, bob.ID)
	assert.Len(t, bob.Code, 8)
	stored, err := mem.ParticipantByID(ctx, "acme", "rome-2026", generic.ParticipantID(bob.ID))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Excluded)

	ok, err := mem.TargetExists(ctx, generic.ActivityScope("acme", "rome-2026", "colosseum"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = mem.TargetExists(ctx, generic.ItemScope("acme", "rome-2026", "headset-12"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApply_Idempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	for i := 0; i < 2; i++ {
		fx, err := Load(strings.NewReader(fixture))
		require.NoError(t, err)
		fx.Participants = fx.Participants[:1]
		_, err = Apply(ctx, mem, fx)
		require.NoError(t, err)
	}

	n, err := mem.CountParticipants(ctx, "acme", "rome-2026")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing event", "tenant: acme\n"},
		{"unknown key", "tenant: acme\nevent: e\nguests: []\n"},
		{"not yaml", "tenant: [acme\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestApply_BadCode(t *testing.T) {
	fx, err := Load(strings.NewReader("tenant: acme\nevent: e\nparticipants:\n  - id: p\n    code: abc\n"))
	require.NoError(t, err)

	_, err = Apply(context.Background(), store.NewMemory(), fx)
	assert.ErrorIs(t, err, generic.ErrInvalidCode)
}
