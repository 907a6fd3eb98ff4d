package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lijianye521/CrewAI/internal/application/replay"
	"github.com/lijianye521/CrewAI/internal/application/scheduler"
	appSession "github.com/lijianye521/CrewAI/internal/application/session"
	"github.com/lijianye521/CrewAI/internal/domain/participant"
	domainSession "github.com/lijianye521/CrewAI/internal/domain/session"
	"github.com/lijianye521/CrewAI/internal/infrastructure/broadcast"
	"github.com/lijianye521/CrewAI/internal/infrastructure/eventlog"
	"github.com/lijianye521/CrewAI/internal/infrastructure/postgres"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	sessionSvc *appSession.Service
	eventLog   *eventlog.Log
	hub        *broadcast.Hub
	archive    *postgres.EventRepository
	pacing     replay.PacingPolicy
	logger     zerolog.Logger
}

func NewServer(
	sessionSvc *appSession.Service,
	eventLog *eventlog.Log,
	hub *broadcast.Hub,
	archive *postgres.EventRepository,
	pacing replay.PacingPolicy,
	logger zerolog.Logger,
) *Server {
	return &Server{
		sessionSvc: sessionSvc,
		eventLog:   eventLog,
		hub:        hub,
		archive:    archive,
		pacing:     pacing,
		logger:     logger.With().Str("service", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.With(middleware.Timeout(30 * time.Second)).Group(func(r chi.Router) {
				r.Post("/", s.createSession)
				r.Get("/", s.listSessions)
				r.Get("/{sessionId}", s.getSession)
				r.Post("/{sessionId}/participants", s.addParticipant)
				r.Post("/{sessionId}/status", s.transitionSession)
				r.Get("/{sessionId}/events", s.listEvents)
				r.Get("/{sessionId}/replay", s.replaySession)
				r.Get("/{sessionId}/statistics", s.getStatistics)
			})
			// The stream endpoint holds the connection open past any
			// request timeout.
			r.Get("/{sessionId}/stream", s.streamSession)
		})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondDomainError maps the error taxonomy onto HTTP statuses. All
// rejections leave session state unchanged on the service side.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domainSession.ErrNotFound):
		respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case domainSession.IsInvalidTransition(err):
		respondError(w, http.StatusConflict, "INVALID_STATE_TRANSITION", err.Error())
	case errors.Is(err, domainSession.ErrParticipantLimit):
		respondError(w, http.StatusConflict, "PARTICIPANT_LIMIT_EXCEEDED", err.Error())
	case errors.Is(err, domainSession.ErrNoParticipants):
		respondError(w, http.StatusConflict, "NO_PARTICIPANTS", err.Error())
	case errors.Is(err, domainSession.ErrNotActive):
		respondError(w, http.StatusConflict, "SESSION_NOT_ACTIVE", err.Error())
	case errors.Is(err, domainSession.ErrInvalidRules),
		errors.Is(err, participant.ErrInvalidBehaviorLevel),
		errors.Is(err, scheduler.ErrInvalidExpression):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	case errors.Is(err, participant.ErrPersonaNotFound):
		respondError(w, http.StatusNotFound, "PERSONA_NOT_FOUND", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func parseInt64Query(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// Data types for requests

type sessionCreateRequest struct {
	Title           string               `json:"title"`
	Topic           string               `json:"topic"`
	Rules           *sessionRulesRequest `json:"rules,omitempty"`
	ScoreExpression string               `json:"score_expression,omitempty"`
	ScheduledStart  *time.Time           `json:"scheduled_start,omitempty"`
	CreatedBy       string               `json:"created_by,omitempty"`
}

type sessionRulesRequest struct {
	MaxParticipants  int `json:"max_participants"`
	MaxDurationSecs  int `json:"max_duration_seconds"`
	SpeakingTimeSecs int `json:"speaking_time_limit_seconds"`
	DiscussionRounds int `json:"discussion_rounds"`
}

func (req *sessionRulesRequest) toRules() domainSession.Rules {
	rules := domainSession.DefaultRules()
	if req.MaxParticipants > 0 {
		rules.MaxParticipants = req.MaxParticipants
	}
	if req.MaxDurationSecs > 0 {
		rules.MaxDuration = time.Duration(req.MaxDurationSecs) * time.Second
	}
	if req.SpeakingTimeSecs > 0 {
		rules.SpeakingTimeLimit = time.Duration(req.SpeakingTimeSecs) * time.Second
	}
	if req.DiscussionRounds > 0 {
		rules.DiscussionRounds = req.DiscussionRounds
	}
	return rules
}

type addParticipantRequest struct {
	PersonaID        string `json:"persona_id"`
	SpeakingPriority int    `json:"speaking_priority"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

// Session handlers
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	in := appSession.CreateInput{
		Title:           req.Title,
		Topic:           req.Topic,
		ScoreExpression: req.ScoreExpression,
		ScheduledStart:  req.ScheduledStart,
		CreatedBy:       req.CreatedBy,
	}
	if req.Rules != nil {
		rules := req.Rules.toRules()
		in.Rules = &rules
	}

	sess, err := s.sessionSvc.Create(r.Context(), in)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	var status *domainSession.Status
	if st := r.URL.Query().Get("status"); st != "" {
		parsed := domainSession.Status(st)
		if !parsed.Valid() {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid status filter")
			return
		}
		status = &parsed
	}
	limit, offset := parseLimitOffset(r, 100, 200)
	sessions, err := s.sessionSvc.List(r.Context(), status, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
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
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) addParticipant(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	var req addParticipantRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	personaID, err := uuid.Parse(req.PersonaID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid persona_id")
		return
	}
	p, err := s.sessionSvc.AddParticipant(r.Context(), id, personaID, req.SpeakingPriority)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) transitionSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	var req transitionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	target := domainSession.Status(req.Status)
	if !target.Valid() {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid status")
		return
	}
	sess, err := s.sessionSvc.Transition(r.Context(), id, target)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"session_id": sess.ID, "status": sess.Status})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	if _, err := s.sessionSvc.Get(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}
	fromSeq := parseInt64Query(r, "from_seq", 0)
	events, err := s.eventLog.Read(id, fromSeq)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"session_id": id, "events": events})
}

func (s *Server) getStatistics(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	stats, err := s.sessionSvc.GetStatistics(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
