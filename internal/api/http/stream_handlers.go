package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/lijianye521/CrewAI/internal/application/replay"
	domainSession "github.com/lijianye521/CrewAI/internal/domain/session"
)

// streamSession is the live SSE feed for one session. The reconnect
// contract: the client passes its last received sequence_no and the
// server replays the gap before switching to live events; the client
// deduplicates by sequence_no.
func (s *Server) streamSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	if _, err := s.sessionSvc.Get(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}
	clientID := r.URL.Query().Get("client_id")
	lastSeenSeq := parseInt64Query(r, "last_seen_seq", 0)

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	sub, err := s.hub.Subscribe(r.Context(), id, clientID, lastSeenSeq)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	defer s.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Send an initial comment to flush headers and keep the connection alive.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if msg.Heartbeat {
				_, _ = w.Write([]byte(": heartbeat\n\n"))
				flusher.Flush()
				continue
			}
			payload, err := json.Marshal(msg.Event)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// replaySession returns the deterministic event prefix up to the replay
// cursor. Replay is read-only over an already recorded log; an active
// session is still being written and cannot be replayed.
func (s *Server) replaySession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	sess, err := s.sessionSvc.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if sess.Status == domainSession.StatusActive {
		respondError(w, http.StatusConflict, "SESSION_ACTIVE", "cannot replay an active session")
		return
	}

	events, err := s.eventLog.Read(id, 0)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	// The in-memory log does not survive a restart; fall back to the
	// archived events.
	if len(events) == 0 && s.archive != nil {
		events, err = s.archive.ListBySession(r.Context(), id, 0)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
	}

	player := replay.NewPlayer(events, s.pacing)
	speed := player.Speed()
	if v := r.URL.Query().Get("speed"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid speed")
			return
		}
		speed = player.SetSpeed(f)
	}
	position := len(events)
	if v := r.URL.Query().Get("from_position"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid from_position")
			return
		}
		position = n
	}
	prefix := player.Seek(position)

	participants := make([]map[string]interface{}, 0, len(sess.Participants))
	for _, p := range sess.Participants {
		participants = append(participants, map[string]interface{}{
			"id":          p.ID,
			"name":        p.Name,
			"role":        p.Role,
			"turns_taken": p.TurnsTaken,
		})
	}
	var durationSecs float64
	if sess.ActualStart != nil && sess.EndedAt != nil {
		durationSecs = sess.EndedAt.Sub(*sess.ActualStart).Seconds()
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":       id,
		"status":           sess.Status,
		"events":           prefix,
		"position":         player.Position(),
		"total_events":     len(events),
		"speed":            speed,
		"participants":     participants,
		"duration_seconds": durationSecs,
	})
}
