// Package broadcast fans session events out to live observers. Each
// connection gets its own delivery task fed by the event log's tail; a
// slow or dead observer stalls only its own task, never the writer or
// other observers.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lijianye521/CrewAI/internal/domain/event"
	"github.com/lijianye521/CrewAI/internal/infrastructure/eventlog"
)

const subscriptionBuffer = 64

// Message is one delivery frame: an event, or a heartbeat when the
// connection has been idle for the configured interval.
type Message struct {
	Event     *event.Event
	Heartbeat bool
}

// Subscription is one observer connection. Messages ends when the
// observer unsubscribes, the session's log closes, or the hub tears the
// session down.
type Subscription struct {
	ID        string
	SessionID uuid.UUID
	ch        chan Message
	cancel    context.CancelFunc
}

// Messages is the observer's delivery channel.
func (s *Subscription) Messages() <-chan Message {
	return s.ch
}

// Hub is the per-session registry of observer connections.
type Hub struct {
	log       *eventlog.Log
	heartbeat time.Duration
	logger    zerolog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]map[string]*Subscription
}

func NewHub(log *eventlog.Log, heartbeat time.Duration, logger zerolog.Logger) *Hub {
	return &Hub{
		log:       log,
		heartbeat: heartbeat,
		logger:    logger.With().Str("service", "broadcast").Logger(),
		sessions:  make(map[uuid.UUID]map[string]*Subscription),
	}
}

// Subscribe connects an observer. Events with sequence_no > lastSeenSeq
// are delivered first (the reconnect gap), then new events as appended.
// Pass lastSeenSeq 0 to receive the session's history from the start.
func (h *Hub) Subscribe(ctx context.Context, sessionID uuid.UUID, clientID string, lastSeenSeq int64) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	tail, err := h.log.Tail(subCtx, sessionID, lastSeenSeq)
	if err != nil {
		cancel()
		return nil, err
	}

	if clientID == "" {
		clientID = uuid.NewString()
	}
	sub := &Subscription{
		ID:        clientID,
		SessionID: sessionID,
		ch:        make(chan Message, subscriptionBuffer),
		cancel:    cancel,
	}

	h.mu.Lock()
	conns, ok := h.sessions[sessionID]
	if !ok {
		conns = make(map[string]*Subscription)
		h.sessions[sessionID] = conns
	}
	if old, exists := conns[clientID]; exists {
		old.cancel()
	}
	conns[clientID] = sub
	h.mu.Unlock()

	go h.pump(subCtx, sub, tail)
	h.logger.Debug().
		Str("session_id", sessionID.String()).
		Str("client_id", clientID).
		Int64("from_seq", lastSeenSeq).
		Msg("observer connected")
	return sub, nil
}

// Unsubscribe drops a connection. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	sub.cancel()
}

// ObserverCount returns the number of live connections for a session.
func (h *Hub) ObserverCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// CloseSession tears down every connection for a session. Called by the
// state machine when a session reaches a terminal status.
func (h *Hub) CloseSession(sessionID uuid.UUID) {
	h.mu.Lock()
	conns := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()
	for _, sub := range conns {
		sub.cancel()
	}
}

func (h *Hub) pump(ctx context.Context, sub *Subscription, tail <-chan *event.Event) {
	defer func() {
		h.remove(sub)
		close(sub.ch)
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-tail:
			if !ok {
				return
			}
			select {
			case sub.ch <- Message{Event: ev}:
			case <-ctx.Done():
				return
			}
			ticker.Reset(h.heartbeat)
		case <-ticker.C:
			// Heartbeats are best-effort; a full buffer means the
			// observer is not idle in the first place.
			select {
			case sub.ch <- Message{Heartbeat: true}:
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.sessions[sub.SessionID]; ok {
		if conns[sub.ID] == sub {
			delete(conns, sub.ID)
			if len(conns) == 0 {
				delete(h.sessions, sub.SessionID)
			}
		}
	}
}
