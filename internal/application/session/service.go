// Package session implements the lifecycle state machine for discussion
// sessions. Every transition appends exactly one status_changed event
// before the caller observes success; entering and leaving active starts
// and stops the turn loop.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lijianye521/CrewAI/internal/application/scheduler"
	"github.com/lijianye521/CrewAI/internal/domain/event"
	"github.com/lijianye521/CrewAI/internal/domain/participant"
	domain "github.com/lijianye521/CrewAI/internal/domain/session"
	"github.com/lijianye521/CrewAI/internal/infrastructure/broadcast"
	"github.com/lijianye521/CrewAI/internal/infrastructure/eventlog"
)

// runtime is the in-process authority for one session. All status and
// roster mutations happen under mu; the repository is a write-through
// record.
type runtime struct {
	mu       sync.Mutex
	sess     *domain.Session
	watchdog *time.Timer
}

// Archiver copies appended events to durable storage. Optional; wired
// after construction like the scheduler's coordinator.
type Archiver interface {
	Watch(sessionID uuid.UUID, fromSeq int64) error
}

// Service drives session lifecycles.
type Service struct {
	repo     domain.Repository
	personas participant.PersonaStore
	log      *eventlog.Log
	sched    *scheduler.Scheduler
	hub      *broadcast.Hub
	archiver Archiver
	logger   zerolog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*runtime
}

func NewService(
	repo domain.Repository,
	personas participant.PersonaStore,
	log *eventlog.Log,
	sched *scheduler.Scheduler,
	hub *broadcast.Hub,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		personas: personas,
		log:      log,
		sched:    sched,
		hub:      hub,
		logger:   logger.With().Str("service", "session").Logger(),
		sessions: make(map[uuid.UUID]*runtime),
	}
}

// SetArchiver attaches the durable event archive. New sessions get a
// watch task from sequence 1; archive inserts are idempotent so
// rewatching is safe.
func (s *Service) SetArchiver(a Archiver) {
	s.archiver = a
}

// CreateInput configures a new session.
type CreateInput struct {
	Title           string
	Topic           string
	Rules           *domain.Rules
	ScoreExpression string
	ScheduledStart  *time.Time
	CreatedBy       string
}

// Create validates rules and selection policy and registers the
// session's event log.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Session, error) {
	rules := domain.DefaultRules()
	if in.Rules != nil {
		rules = *in.Rules
	}
	if err := scheduler.ValidateExpression(in.ScoreExpression); err != nil {
		return nil, err
	}

	sess, err := domain.New(in.Title, in.Topic, rules, in.ScheduledStart, in.CreatedBy)
	if err != nil {
		return nil, err
	}
	sess.Selection = domain.SelectionPolicy{ScoreExpression: in.ScoreExpression}

	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.log.Register(sess.ID)
	s.watchArchive(sess.ID)

	s.mu.Lock()
	s.sessions[sess.ID] = &runtime{sess: sess}
	s.mu.Unlock()

	s.logger.Info().
		Str("session_id", sess.ID.String()).
		Str("status", string(sess.Status)).
		Msg("session created")
	return sess, nil
}

// AddParticipant composes a roster entry from the persona store.
// SpeakingPriority is the declared-order tie-break rank; lower speaks
// earlier among otherwise equal participants.
func (s *Service) AddParticipant(ctx context.Context, sessionID, personaID uuid.UUID, speakingPriority int) (*participant.Participant, error) {
	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	persona, err := s.personas.GetPersona(ctx, personaID)
	if err != nil {
		return nil, err
	}
	p, err := participant.FromPersona(persona, speakingPriority)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.sess.Status != domain.StatusDraft && rt.sess.Status != domain.StatusScheduled {
		return nil, &domain.InvalidTransitionError{Current: rt.sess.Status, Requested: rt.sess.Status}
	}
	if err := rt.sess.AddParticipant(p); err != nil {
		return nil, err
	}
	if err := s.repo.SaveParticipants(ctx, rt.sess); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to persist roster")
	}
	return p, nil
}

// Get returns a copy-safe view of the session.
func (s *Service) Get(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return snapshot(rt.sess), nil
}

// List returns stored sessions, optionally filtered by status.
func (s *Service) List(ctx context.Context, status *domain.Status, limit, offset int) ([]*domain.Session, error) {
	return s.repo.List(ctx, status, limit, offset)
}

// Transition requests a lifecycle status change.
func (s *Service) Transition(ctx context.Context, sessionID uuid.UUID, target domain.Status) (*domain.Session, error) {
	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := s.transitionLocked(ctx, rt, target, ""); err != nil {
		return nil, err
	}
	return snapshot(rt.sess), nil
}

// transitionLocked applies a transition and its side effects with rt.mu
// held. The status_changed event is appended before success is visible.
func (s *Service) transitionLocked(ctx context.Context, rt *runtime, target domain.Status, reason string) error {
	sess := rt.sess
	from := sess.Status

	if target == domain.StatusActive && len(sess.Participants) == 0 {
		return domain.ErrNoParticipants
	}
	if err := sess.Transition(target); err != nil {
		return err
	}

	firstActivation := target == domain.StatusActive && from != domain.StatusPaused
	if firstActivation {
		sess.ResetTurns()
	}

	payload := event.MarshalPayload(event.StatusChangedPayload{
		From:   string(from),
		To:     string(target),
		Reason: reason,
	})
	if _, err := s.log.Append(sess.ID, event.TypeStatusChanged, payload); err != nil {
		sess.Status = from
		return err
	}

	if err := s.repo.UpdateStatus(ctx, sess); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("failed to persist status")
	}

	switch {
	case target == domain.StatusActive:
		s.sched.Start(sess)
		s.armWatchdogLocked(rt)
	case from == domain.StatusActive:
		s.sched.Stop(sess.ID)
		s.disarmWatchdogLocked(rt)
	}

	if target.IsTerminal() {
		_ = s.log.Close(sess.ID)
		s.hub.CloseSession(sess.ID)
	}

	s.logger.Info().
		Str("session_id", sess.ID.String()).
		Str("from", string(from)).
		Str("to", string(target)).
		Str("reason", reason).
		Msg("session transitioned")
	return nil
}

// armWatchdogLocked forces active → completed when max_duration elapses.
func (s *Service) armWatchdogLocked(rt *runtime) {
	if rt.sess.Rules.MaxDuration <= 0 {
		return
	}
	remaining := rt.sess.Rules.MaxDuration
	if rt.sess.ActualStart != nil {
		elapsed := time.Since(*rt.sess.ActualStart)
		if elapsed < remaining {
			remaining -= elapsed
		} else {
			remaining = time.Millisecond
		}
	}
	id := rt.sess.ID
	rt.watchdog = time.AfterFunc(remaining, func() {
		_ = s.Complete(context.Background(), id, "max duration reached")
	})
}

func (s *Service) disarmWatchdogLocked(rt *runtime) {
	if rt.watchdog != nil {
		rt.watchdog.Stop()
		rt.watchdog = nil
	}
}

// Roster implements scheduler.Coordinator: a copy of the roster taken
// under the session lock.
func (s *Service) Roster(sessionID uuid.UUID) ([]participant.Participant, error) {
	rt, err := s.runtimeFor(context.Background(), sessionID)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]participant.Participant, len(rt.sess.Participants))
	for i, p := range rt.sess.Participants {
		out[i] = *p
	}
	return out, nil
}

// AnnounceSpeaker appends a speaker_changed event if the session is
// still active.
func (s *Service) AnnounceSpeaker(sessionID uuid.UUID, p participant.Participant, turn int) error {
	return s.appendTurnEvent(sessionID, event.TypeSpeakerChanged, event.MarshalPayload(event.SpeakerChangedPayload{
		ParticipantID: p.ID,
		Name:          p.Name,
		Role:          p.Role,
		Turn:          turn,
	}), uuid.Nil)
}

// RecordUtterance appends the utterance and consumes the turn.
func (s *Service) RecordUtterance(sessionID uuid.UUID, p participant.Participant, utt *participant.Utterance) error {
	return s.appendTurnEvent(sessionID, event.TypeUtterance, event.MarshalPayload(event.UtterancePayload{
		ParticipantID: p.ID,
		Name:          p.Name,
		Content:       utt.Content,
		MessageType:   utt.MessageType,
		Metadata:      utt.Metadata,
	}), p.ID)
}

// RecordSkip appends an utterance_skipped event and consumes the turn.
func (s *Service) RecordSkip(sessionID uuid.UUID, p participant.Participant, reason string) error {
	return s.appendTurnEvent(sessionID, event.TypeUtteranceSkipped, event.MarshalPayload(event.UtteranceSkippedPayload{
		ParticipantID: p.ID,
		Name:          p.Name,
		Reason:        reason,
	}), p.ID)
}

// appendTurnEvent is the status-fenced append path for the turn loop.
// turnBy, when set, increments that participant's turn counter after a
// successful append. The active check and the append happen under the
// same lock that status transitions take, so a session that left active
// can never receive a late turn event.
func (s *Service) appendTurnEvent(sessionID uuid.UUID, typ event.Type, payload []byte, turnBy uuid.UUID) error {
	rt, err := s.runtimeFor(context.Background(), sessionID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.sess.Status != domain.StatusActive {
		return domain.ErrNotActive
	}
	if _, err := s.log.Append(sessionID, typ, payload); err != nil {
		return err
	}
	if turnBy != uuid.Nil {
		if p := rt.sess.ParticipantByID(turnBy); p != nil {
			p.TurnsTaken++
			if err := s.repo.SaveParticipants(context.Background(), rt.sess); err != nil {
				s.logger.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to persist turn count")
			}
		}
	}
	return nil
}

// Complete implements scheduler.Coordinator: active → completed, a no-op
// if the session already left active.
func (s *Service) Complete(ctx context.Context, sessionID uuid.UUID, reason string) error {
	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.sess.Status != domain.StatusActive {
		return nil
	}
	return s.transitionLocked(ctx, rt, domain.StatusCompleted, reason)
}

// Abort forces a session toward cancelled after an orchestration-fatal
// failure; a session must never stay active with no running scheduler.
func (s *Service) Abort(ctx context.Context, sessionID uuid.UUID, reason string) error {
	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.sess.Status.IsTerminal() {
		return nil
	}
	return s.transitionLocked(ctx, rt, domain.StatusCancelled, reason)
}

// Statistics summarizes a session's progress.
type Statistics struct {
	SessionID    uuid.UUID      `json:"session_id"`
	Status       domain.Status  `json:"status"`
	EventCount   int64          `json:"event_count"`
	Observers    int            `json:"observers"`
	TurnsByName  map[string]int `json:"turns_by_participant"`
	ElapsedSecs  float64        `json:"elapsed_seconds"`
	CurrentRound int            `json:"current_round"`
}

// GetStatistics reports counters for monitoring views.
func (s *Service) GetStatistics(ctx context.Context, sessionID uuid.UUID) (*Statistics, error) {
	rt, err := s.runtimeFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	count, err := s.log.Len(sessionID)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{
		SessionID:   sessionID,
		Status:      rt.sess.Status,
		EventCount:  count,
		Observers:   s.hub.ObserverCount(sessionID),
		TurnsByName: make(map[string]int, len(rt.sess.Participants)),
	}
	minTurns := 0
	for i, p := range rt.sess.Participants {
		stats.TurnsByName[p.Name] = p.TurnsTaken
		if i == 0 || p.TurnsTaken < minTurns {
			minTurns = p.TurnsTaken
		}
	}
	stats.CurrentRound = minTurns
	if rt.sess.ActualStart != nil {
		end := time.Now().UTC()
		if rt.sess.EndedAt != nil {
			end = *rt.sess.EndedAt
		}
		stats.ElapsedSecs = end.Sub(*rt.sess.ActualStart).Seconds()
	}
	return stats, nil
}

// runtimeFor returns the in-process runtime, restoring from the
// repository on a miss. A session stored as active or paused cannot
// resume its loop across a restart (the in-memory log is gone), so it is
// recorded as cancelled rather than left stuck.
func (s *Service) runtimeFor(ctx context.Context, sessionID uuid.UUID) (*runtime, error) {
	s.mu.RLock()
	rt, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return rt, nil
	}

	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, domain.ErrNotFound
	}
	if sess.Status == domain.StatusActive || sess.Status == domain.StatusPaused {
		sess.Status = domain.StatusCancelled
		now := time.Now().UTC()
		sess.EndedAt = &now
		if err := s.repo.UpdateStatus(ctx, sess); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to persist recovery status")
		}
		s.logger.Warn().Str("session_id", sessionID.String()).Msg("restored session without scheduler; cancelled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sessionID]; ok {
		return existing, nil
	}
	s.log.Register(sessionID)
	if sess.Status.IsTerminal() {
		_ = s.log.Close(sessionID)
	} else {
		s.watchArchive(sessionID)
	}
	rt = &runtime{sess: sess}
	s.sessions[sessionID] = rt
	return rt, nil
}

func (s *Service) watchArchive(sessionID uuid.UUID) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.Watch(sessionID, 0); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to start archive watch")
	}
}

func snapshot(sess *domain.Session) *domain.Session {
	cp := *sess
	cp.Participants = make([]*participant.Participant, len(sess.Participants))
	for i, p := range sess.Participants {
		pc := *p
		cp.Participants[i] = &pc
	}
	return &cp
}
