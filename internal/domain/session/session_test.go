package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lijianye521/CrewAI/internal/domain/participant"
)

func TestNew(t *testing.T) {
	sess, err := New("standup", "release planning", DefaultRules(), nil, "tester")

	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.NotEqual(t, uuid.Nil, sess.ID)
	assert.Equal(t, StatusDraft, sess.Status)
	assert.Equal(t, "standup", sess.Title)
	assert.Equal(t, "release planning", sess.Topic)
	assert.Nil(t, sess.ActualStart)
	assert.Nil(t, sess.EndedAt)
	assert.False(t, sess.CreatedAt.IsZero())
}

func TestNew_ScheduledStart(t *testing.T) {
	start := time.Now().Add(time.Hour)
	sess, err := New("standup", "topic", DefaultRules(), &start, "tester")

	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, sess.Status)
}

func TestNew_InvalidRules(t *testing.T) {
	rules := DefaultRules()
	rules.DiscussionRounds = 0

	_, err := New("standup", "topic", rules, nil, "tester")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRules)
}

func TestRules_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Rules)
		wantErr bool
	}{
		{name: "defaults", mutate: func(r *Rules) {}, wantErr: false},
		{name: "zero participants", mutate: func(r *Rules) { r.MaxParticipants = 0 }, wantErr: true},
		{name: "zero rounds", mutate: func(r *Rules) { r.DiscussionRounds = 0 }, wantErr: true},
		{name: "zero speaking limit", mutate: func(r *Rules) { r.SpeakingTimeLimit = 0 }, wantErr: true},
		{name: "negative duration", mutate: func(r *Rules) { r.MaxDuration = -time.Second }, wantErr: true},
		{name: "zero duration allowed", mutate: func(r *Rules) { r.MaxDuration = 0 }, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := DefaultRules()
			tt.mutate(&rules)
			err := rules.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRules)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSession_CanTransitionTo(t *testing.T) {
	statuses := []Status{StatusDraft, StatusScheduled, StatusActive, StatusPaused, StatusCompleted, StatusCancelled}
	legal := map[Status]map[Status]bool{
		StatusDraft:     {StatusActive: true, StatusCancelled: true},
		StatusScheduled: {StatusActive: true, StatusCancelled: true},
		StatusActive:    {StatusPaused: true, StatusCompleted: true, StatusCancelled: true},
		StatusPaused:    {StatusActive: true, StatusCompleted: true, StatusCancelled: true},
		StatusCompleted: {},
		StatusCancelled: {},
	}

	for _, from := range statuses {
		for _, to := range statuses {
			t.Run(string(from)+" -> "+string(to), func(t *testing.T) {
				sess, err := New("s", "t", DefaultRules(), nil, "")
				require.NoError(t, err)
				sess.Status = from
				assert.Equal(t, legal[from][to], sess.CanTransitionTo(to))
			})
		}
	}
}

func TestSession_Transition(t *testing.T) {
	t.Run("entering active sets actual start once", func(t *testing.T) {
		sess, err := New("s", "t", DefaultRules(), nil, "")
		require.NoError(t, err)

		require.NoError(t, sess.Transition(StatusActive))
		require.NotNil(t, sess.ActualStart)
		first := *sess.ActualStart

		require.NoError(t, sess.Transition(StatusPaused))
		require.NoError(t, sess.Transition(StatusActive))
		assert.Equal(t, first, *sess.ActualStart)
	})

	t.Run("terminal sets ended at", func(t *testing.T) {
		sess, err := New("s", "t", DefaultRules(), nil, "")
		require.NoError(t, err)
		require.NoError(t, sess.Transition(StatusActive))
		require.NoError(t, sess.Transition(StatusCompleted))
		require.NotNil(t, sess.EndedAt)
	})

	t.Run("illegal transition leaves status unchanged", func(t *testing.T) {
		sess, err := New("s", "t", DefaultRules(), nil, "")
		require.NoError(t, err)
		require.NoError(t, sess.Transition(StatusActive))
		require.NoError(t, sess.Transition(StatusCompleted))

		err = sess.Transition(StatusActive)
		require.Error(t, err)
		assert.True(t, IsInvalidTransition(err))
		assert.Equal(t, StatusCompleted, sess.Status)

		var ite *InvalidTransitionError
		require.ErrorAs(t, err, &ite)
		assert.Equal(t, StatusCompleted, ite.Current)
		assert.Equal(t, StatusActive, ite.Requested)
	})
}

func TestSession_AddParticipant_Limit(t *testing.T) {
	rules := DefaultRules()
	rules.MaxParticipants = 2
	sess, err := New("s", "t", rules, nil, "")
	require.NoError(t, err)

	require.NoError(t, sess.AddParticipant(&participant.Participant{ID: uuid.New(), Name: "a"}))
	require.NoError(t, sess.AddParticipant(&participant.Participant{ID: uuid.New(), Name: "b"}))

	err = sess.AddParticipant(&participant.Participant{ID: uuid.New(), Name: "c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParticipantLimit)
	assert.Len(t, sess.Participants, 2)
}

func TestSession_AllRoundsDone(t *testing.T) {
	rules := DefaultRules()
	rules.DiscussionRounds = 2
	sess, err := New("s", "t", rules, nil, "")
	require.NoError(t, err)

	p1 := &participant.Participant{ID: uuid.New(), Name: "a"}
	p2 := &participant.Participant{ID: uuid.New(), Name: "b"}
	require.NoError(t, sess.AddParticipant(p1))
	require.NoError(t, sess.AddParticipant(p2))

	assert.False(t, sess.AllRoundsDone())
	p1.TurnsTaken = 2
	assert.False(t, sess.AllRoundsDone())
	p2.TurnsTaken = 2
	assert.True(t, sess.AllRoundsDone())

	sess.ResetTurns()
	assert.Equal(t, 0, p1.TurnsTaken)
	assert.False(t, sess.AllRoundsDone())
}
