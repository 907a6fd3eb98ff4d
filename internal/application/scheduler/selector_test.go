package scheduler

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lijianye521/CrewAI/internal/domain/participant"
	"github.com/lijianye521/CrewAI/internal/domain/session"
)

func newParticipant(name string, initiative, frequency float64, priority, turns int) *participant.Participant {
	return &participant.Participant{
		ID:               uuid.New(),
		Name:             name,
		SpeakingPriority: priority,
		Weights:          participant.Weights{Initiative: initiative, Frequency: frequency},
		TurnsTaken:       turns,
	}
}

func TestValidateExpression(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "empty uses default", expr: "", wantErr: false},
		{name: "default", expr: DefaultScoreExpression, wantErr: false},
		{name: "all variables", expr: "initiative + frequency - turns_taken + priority", wantErr: false},
		{name: "syntax error", expr: "initiative +* 2", wantErr: true},
		{name: "unknown variable", expr: "charisma * 2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExpression(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNextSpeaker_FewestTurnsFirst(t *testing.T) {
	a := newParticipant("a", 0.2, 0.2, 0, 1)
	b := newParticipant("b", 0.9, 0.9, 0, 0)

	next, err := NextSpeaker([]*participant.Participant{a, b}, 3, session.SelectionPolicy{})

	require.NoError(t, err)
	assert.Equal(t, "b", next.Name)
}

func TestNextSpeaker_ScoreBreaksTies(t *testing.T) {
	// Equal turns; higher initiative wins under the default expression.
	a := newParticipant("a", 0.5, 0.9, 0, 1)
	b := newParticipant("b", 0.9, 0.2, 0, 1)

	next, err := NextSpeaker([]*participant.Participant{a, b}, 3, session.SelectionPolicy{})

	require.NoError(t, err)
	assert.Equal(t, "b", next.Name)
}

func TestNextSpeaker_PriorityBreaksScoreTies(t *testing.T) {
	a := newParticipant("a", 0.5, 0.5, 2, 0)
	b := newParticipant("b", 0.5, 0.5, 1, 0)

	next, err := NextSpeaker([]*participant.Participant{a, b}, 1, session.SelectionPolicy{})

	require.NoError(t, err)
	assert.Equal(t, "b", next.Name)
}

func TestNextSpeaker_DeclaredOrderIsFinalTieBreak(t *testing.T) {
	a := newParticipant("a", 0.5, 0.5, 1, 0)
	b := newParticipant("b", 0.5, 0.5, 1, 0)

	next, err := NextSpeaker([]*participant.Participant{a, b}, 1, session.SelectionPolicy{})

	require.NoError(t, err)
	assert.Equal(t, "a", next.Name)
}

func TestNextSpeaker_Deterministic(t *testing.T) {
	roster := []*participant.Participant{
		newParticipant("a", 0.5, 0.2, 2, 1),
		newParticipant("b", 0.9, 0.5, 1, 0),
		newParticipant("c", 0.2, 0.9, 0, 1),
	}

	first, err := NextSpeaker(roster, 3, session.SelectionPolicy{})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		next, err := NextSpeaker(roster, 3, session.SelectionPolicy{})
		require.NoError(t, err)
		assert.Equal(t, first.Name, next.Name)
	}
}

func TestNextSpeaker_CustomExpression(t *testing.T) {
	// Inverted policy: frequency dominates.
	a := newParticipant("a", 0.9, 0.2, 0, 0)
	b := newParticipant("b", 0.2, 0.9, 0, 0)
	policy := session.SelectionPolicy{ScoreExpression: "frequency * 10 + initiative"}

	next, err := NextSpeaker([]*participant.Participant{a, b}, 1, policy)

	require.NoError(t, err)
	assert.Equal(t, "b", next.Name)
}

func TestNextSpeaker_AllRoundsExhausted(t *testing.T) {
	a := newParticipant("a", 0.5, 0.5, 0, 2)
	b := newParticipant("b", 0.5, 0.5, 0, 2)

	next, err := NextSpeaker([]*participant.Participant{a, b}, 2, session.SelectionPolicy{})

	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestNextSpeaker_SkipsExhaustedParticipants(t *testing.T) {
	a := newParticipant("a", 0.9, 0.9, 0, 2)
	b := newParticipant("b", 0.2, 0.2, 0, 1)

	next, err := NextSpeaker([]*participant.Participant{a, b}, 2, session.SelectionPolicy{})

	require.NoError(t, err)
	assert.Equal(t, "b", next.Name)
}
