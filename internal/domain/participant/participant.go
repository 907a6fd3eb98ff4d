package participant

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_collaborators.go -package=mocks . PersonaStore,Generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BehaviorLevel is a closed label set for speaking-behavior configuration.
// Loose personality blobs are rejected at composition time; only these
// levels are legal.
type BehaviorLevel string

const (
	LevelLow    BehaviorLevel = "low"
	LevelMedium BehaviorLevel = "medium"
	LevelHigh   BehaviorLevel = "high"
)

var (
	ErrInvalidBehaviorLevel = errors.New("invalid behavior level")
	ErrPersonaNotFound      = errors.New("persona not found")
)

var levelWeights = map[BehaviorLevel]float64{
	LevelLow:    0.2,
	LevelMedium: 0.5,
	LevelHigh:   0.9,
}

// Weight maps a level to its numeric selection weight.
func (l BehaviorLevel) Weight() (float64, error) {
	w, ok := levelWeights[l]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBehaviorLevel, l)
	}
	return w, nil
}

// Weights are the numeric selection weights derived from persona labels.
type Weights struct {
	Initiative float64 `json:"initiative"`
	Frequency  float64 `json:"frequency"`
}

// Persona is the read-only profile supplied by the persona store.
type Persona struct {
	ID                uuid.UUID     `json:"id"`
	Name              string        `json:"name"`
	Role              string        `json:"role"`
	InitiativeLevel   BehaviorLevel `json:"initiative_level"`
	SpeakingFrequency BehaviorLevel `json:"speaking_frequency"`
}

// Participant is one member of a session's roster. TurnsTaken is mutated
// only by the turn scheduler.
type Participant struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Role             string    `json:"role"`
	SpeakingPriority int       `json:"speaking_priority"`
	Weights          Weights   `json:"weights"`
	TurnsTaken       int       `json:"turns_taken"`
}

// FromPersona composes a participant from a persona profile, validating
// the behavior labels.
func FromPersona(p *Persona, speakingPriority int) (*Participant, error) {
	initiative, err := p.InitiativeLevel.Weight()
	if err != nil {
		return nil, err
	}
	frequency, err := p.SpeakingFrequency.Weight()
	if err != nil {
		return nil, err
	}
	return &Participant{
		ID:               p.ID,
		Name:             p.Name,
		Role:             p.Role,
		SpeakingPriority: speakingPriority,
		Weights: Weights{
			Initiative: initiative,
			Frequency:  frequency,
		},
	}, nil
}

// PersonaStore supplies participant metadata. It is an external
// collaborator; persona CRUD and validation live outside this service.
type PersonaStore interface {
	GetPersona(ctx context.Context, id uuid.UUID) (*Persona, error)
}

// Utterance is the output of a generation call.
type Utterance struct {
	Content     string          `json:"content"`
	MessageType string          `json:"message_type"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// TurnContext carries the conversation state handed to the generator.
type TurnContext struct {
	SessionID uuid.UUID
	Topic     string
	Round     int
	History   []HistoryEntry
}

// HistoryEntry is one prior utterance visible to the generator.
type HistoryEntry struct {
	Speaker   string    `json:"speaker"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Generator asynchronously produces an utterance for a participant. It is
// the only blocking external call in the system; implementations must
// honor ctx cancellation and deadlines.
type Generator interface {
	Generate(ctx context.Context, p *Participant, turn TurnContext) (*Utterance, error)
}
