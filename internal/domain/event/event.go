package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type classifies a session event.
type Type string

const (
	TypeStatusChanged    Type = "status_changed"
	TypeSpeakerChanged   Type = "speaker_changed"
	TypeUtterance        Type = "utterance"
	TypeUtteranceSkipped Type = "utterance_skipped"
)

// Event is an immutable, ordered fact in a session's log. SequenceNo is
// assigned by the log on append, strictly increasing from 1 per session.
type Event struct {
	SequenceNo int64           `json:"sequence_no"`
	SessionID  uuid.UUID       `json:"session_id"`
	Type       Type            `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

// StatusChangedPayload records a lifecycle transition.
type StatusChangedPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// SpeakerChangedPayload records the participant taking the floor.
type SpeakerChangedPayload struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Name          string    `json:"name"`
	Role          string    `json:"role"`
	Turn          int       `json:"turn"`
}

// UtterancePayload records a generated utterance.
type UtterancePayload struct {
	ParticipantID uuid.UUID       `json:"participant_id"`
	Name          string          `json:"name"`
	Content       string          `json:"content"`
	MessageType   string          `json:"message_type"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// UtteranceSkippedPayload records a turn that produced no utterance.
type UtteranceSkippedPayload struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Name          string    `json:"name"`
	Reason        string    `json:"reason"`
}

// MarshalPayload encodes a typed payload for appending.
func MarshalPayload(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// IsTurnEvent reports whether the event consumed a speaking turn.
func (e *Event) IsTurnEvent() bool {
	return e.Type == TypeUtterance || e.Type == TypeUtteranceSkipped
}
