// Package eventlog holds the per-session append-only event logs. The log
// is the single source of truth for session history: appends are
// serialized per session so sequence numbers are gapless and monotonic,
// and every other component only reads.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lijianye521/CrewAI/internal/domain/event"
	"github.com/lijianye521/CrewAI/internal/domain/session"
)

var ErrClosed = errors.New("event log closed")

// Log manages one append-only event sequence per registered session.
type Log struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionLog
}

type sessionLog struct {
	mu     sync.Mutex
	events []*event.Event
	notify chan struct{}
	closed bool
}

func New() *Log {
	return &Log{sessions: make(map[uuid.UUID]*sessionLog)}
}

// Register creates an empty log for a session. Idempotent.
func (l *Log) Register(sessionID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sessions[sessionID]; !ok {
		l.sessions[sessionID] = &sessionLog{notify: make(chan struct{})}
	}
}

func (l *Log) get(sessionID uuid.UUID) (*sessionLog, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sl, ok := l.sessions[sessionID]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sl, nil
}

// Append assigns the next sequence number atomically and stores the event.
func (l *Log) Append(sessionID uuid.UUID, typ event.Type, payload json.RawMessage) (*event.Event, error) {
	sl, err := l.get(sessionID)
	if err != nil {
		return nil, err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.closed {
		return nil, ErrClosed
	}
	ev := &event.Event{
		SequenceNo: int64(len(sl.events)) + 1,
		SessionID:  sessionID,
		Type:       typ,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
	sl.events = append(sl.events, ev)
	close(sl.notify)
	sl.notify = make(chan struct{})
	return ev, nil
}

// Read returns all stored events with sequence_no > fromSeq, in order.
func (l *Log) Read(sessionID uuid.UUID, fromSeq int64) ([]*event.Event, error) {
	sl, err := l.get(sessionID)
	if err != nil {
		return nil, err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if fromSeq < 0 {
		fromSeq = 0
	}
	if fromSeq >= int64(len(sl.events)) {
		return nil, nil
	}
	out := make([]*event.Event, len(sl.events)-int(fromSeq))
	copy(out, sl.events[fromSeq:])
	return out, nil
}

// Len returns the number of stored events.
func (l *Log) Len(sessionID uuid.UUID) (int64, error) {
	sl, err := l.get(sessionID)
	if err != nil {
		return 0, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return int64(len(sl.events)), nil
}

// Tail yields all events with sequence_no > fromSeq, then suspends and
// resumes as new events are appended. The channel closes when ctx is
// cancelled or the session log is closed and drained.
func (l *Log) Tail(ctx context.Context, sessionID uuid.UUID, fromSeq int64) (<-chan *event.Event, error) {
	sl, err := l.get(sessionID)
	if err != nil {
		return nil, err
	}

	out := make(chan *event.Event)
	go func() {
		defer close(out)
		next := fromSeq
		if next < 0 {
			next = 0
		}
		for {
			sl.mu.Lock()
			stored := int64(len(sl.events))
			var batch []*event.Event
			if next < stored {
				batch = make([]*event.Event, stored-next)
				copy(batch, sl.events[next:stored])
			}
			closed := sl.closed
			notify := sl.notify
			sl.mu.Unlock()

			for _, ev := range batch {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			next = stored

			if closed {
				return
			}
			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close seals a session's log: no further appends, tailers drain and
// terminate. Stored events remain readable for replay.
func (l *Log) Close(sessionID uuid.UUID) error {
	sl, err := l.get(sessionID)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.closed {
		return nil
	}
	sl.closed = true
	close(sl.notify)
	sl.notify = make(chan struct{})
	return nil
}
