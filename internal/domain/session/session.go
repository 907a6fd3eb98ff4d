package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lijianye521/CrewAI/internal/domain/participant"
)

// Status represents session lifecycle status.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is legal.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusActive, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

var (
	ErrNotFound         = errors.New("session not found")
	ErrNotActive        = errors.New("session not active")
	ErrParticipantLimit = errors.New("participant limit exceeded")
	ErrNoParticipants   = errors.New("session has no participants")
)

// InvalidTransitionError rejects a transition not in the legal graph,
// naming current and requested status.
type InvalidTransitionError struct {
	Current   Status
	Requested Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.Current, e.Requested)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// Rules configure turn-taking for a session. Validated at creation; the
// scheduler never reinterprets them.
type Rules struct {
	MaxParticipants   int           `json:"max_participants"`
	MaxDuration       time.Duration `json:"max_duration"`
	SpeakingTimeLimit time.Duration `json:"speaking_time_limit"`
	DiscussionRounds  int           `json:"discussion_rounds"`
}

// DefaultRules mirror the defaults of the original meeting configuration.
func DefaultRules() Rules {
	return Rules{
		MaxParticipants:   8,
		MaxDuration:       60 * time.Minute,
		SpeakingTimeLimit: 120 * time.Second,
		DiscussionRounds:  5,
	}
}

var ErrInvalidRules = errors.New("invalid session rules")

// Validate rejects rules the scheduler could not run under.
func (r Rules) Validate() error {
	if r.MaxParticipants <= 0 {
		return fmt.Errorf("%w: max_participants must be positive", ErrInvalidRules)
	}
	if r.DiscussionRounds <= 0 {
		return fmt.Errorf("%w: discussion_rounds must be positive", ErrInvalidRules)
	}
	if r.SpeakingTimeLimit <= 0 {
		return fmt.Errorf("%w: speaking_time_limit must be positive", ErrInvalidRules)
	}
	if r.MaxDuration < 0 {
		return fmt.Errorf("%w: max_duration must not be negative", ErrInvalidRules)
	}
	return nil
}

// SelectionPolicy tunes how tied participants are ordered. The score
// expression is evaluated per participant with the variables initiative,
// frequency, turns_taken and priority; higher scores speak earlier.
type SelectionPolicy struct {
	ScoreExpression string `json:"score_expression,omitempty"`
}

// Session is one multi-party discussion instance with its own lifecycle
// and event history.
type Session struct {
	ID             uuid.UUID                  `json:"id"`
	Title          string                     `json:"title"`
	Topic          string                     `json:"topic"`
	Status         Status                     `json:"status"`
	Rules          Rules                      `json:"rules"`
	Selection      SelectionPolicy            `json:"selection"`
	Participants   []*participant.Participant `json:"participants"`
	ScheduledStart *time.Time                 `json:"scheduled_start,omitempty"`
	ActualStart    *time.Time                 `json:"actual_start,omitempty"`
	EndedAt        *time.Time                 `json:"ended_at,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	CreatedBy      string                     `json:"created_by"`
}

// New creates a session in draft, or scheduled when a start time is given.
func New(title, topic string, rules Rules, scheduledStart *time.Time, createdBy string) (*Session, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	status := StatusDraft
	if scheduledStart != nil {
		status = StatusScheduled
	}
	return &Session{
		ID:             uuid.New(),
		Title:          title,
		Topic:          topic,
		Status:         status,
		Rules:          rules,
		ScheduledStart: scheduledStart,
		CreatedAt:      time.Now().UTC(),
		CreatedBy:      createdBy,
	}, nil
}

// CanTransitionTo validates a lifecycle transition.
func (s *Session) CanTransitionTo(target Status) bool {
	transitions := map[Status][]Status{
		StatusDraft:     {StatusActive, StatusCancelled},
		StatusScheduled: {StatusActive, StatusCancelled},
		StatusActive:    {StatusPaused, StatusCompleted, StatusCancelled},
		StatusPaused:    {StatusActive, StatusCompleted, StatusCancelled},
		StatusCompleted: {},
		StatusCancelled: {},
	}
	for _, allowed := range transitions[s.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Transition applies a validated status change and its timestamps.
// Callers own the side effects (event append, scheduler control).
func (s *Session) Transition(target Status) error {
	if !s.CanTransitionTo(target) {
		return &InvalidTransitionError{Current: s.Status, Requested: target}
	}
	now := time.Now().UTC()
	if target == StatusActive && s.ActualStart == nil {
		s.ActualStart = &now
	}
	if target.IsTerminal() {
		s.EndedAt = &now
	}
	s.Status = target
	return nil
}

// AddParticipant appends to the roster, enforcing the participant limit.
// Only legal before the session first becomes active.
func (s *Session) AddParticipant(p *participant.Participant) error {
	if len(s.Participants) >= s.Rules.MaxParticipants {
		return fmt.Errorf("%w: limit %d", ErrParticipantLimit, s.Rules.MaxParticipants)
	}
	s.Participants = append(s.Participants, p)
	return nil
}

// ParticipantByID returns the roster entry or nil.
func (s *Session) ParticipantByID(id uuid.UUID) *participant.Participant {
	for _, p := range s.Participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ResetTurns zeroes all turn counters. Applied on first entry to active.
func (s *Session) ResetTurns() {
	for _, p := range s.Participants {
		p.TurnsTaken = 0
	}
}

// AllRoundsDone reports whether every participant has exhausted the
// configured discussion rounds.
func (s *Session) AllRoundsDone() bool {
	if len(s.Participants) == 0 {
		return true
	}
	for _, p := range s.Participants {
		if p.TurnsTaken < s.Rules.DiscussionRounds {
			return false
		}
	}
	return true
}
