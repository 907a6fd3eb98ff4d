// Package scheduler runs the turn-taking loop for active sessions. One
// logical loop exists per session; the session state machine starts it on
// entry to active and cancels it on exit.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lijianye521/CrewAI/internal/domain/event"
	"github.com/lijianye521/CrewAI/internal/domain/participant"
	"github.com/lijianye521/CrewAI/internal/domain/session"
	"github.com/lijianye521/CrewAI/internal/infrastructure/eventlog"
)

const historyLimit = 20

// Coordinator is the state-machine surface the loop drives. Every turn
// event is appended through it under the session lock, where active
// status is re-checked, so a session that left active during generation
// never receives a late, stale utterance.
type Coordinator interface {
	Roster(sessionID uuid.UUID) ([]participant.Participant, error)
	AnnounceSpeaker(sessionID uuid.UUID, p participant.Participant, turn int) error
	RecordUtterance(sessionID uuid.UUID, p participant.Participant, utt *participant.Utterance) error
	RecordSkip(sessionID uuid.UUID, p participant.Participant, reason string) error
	Complete(ctx context.Context, sessionID uuid.UUID, reason string) error
	Abort(ctx context.Context, sessionID uuid.UUID, reason string) error
}

// Scheduler owns the per-session turn loops.
type Scheduler struct {
	log     *eventlog.Log
	gen     participant.Generator
	coord   Coordinator
	turnGap time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	loops map[uuid.UUID]*loop
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler. The coordinator is wired after construction
// because it is implemented by the session service, which itself depends
// on the scheduler.
func New(log *eventlog.Log, gen participant.Generator, turnGap time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		log:     log,
		gen:     gen,
		turnGap: turnGap,
		logger:  logger.With().Str("service", "scheduler").Logger(),
		loops:   make(map[uuid.UUID]*loop),
	}
}

// SetCoordinator wires the session state machine. Must be called before Start.
func (s *Scheduler) SetCoordinator(coord Coordinator) {
	s.coord = coord
}

// Start launches the turn loop for a session entering active. A loop
// that was cancelled but has not finished unwinding is superseded; its
// appends are already fenced off by the coordinator's status check.
func (s *Scheduler) Start(sess *session.Session) {
	ctx, cancel := context.WithCancel(context.Background())
	lp := &loop{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if old, ok := s.loops[sess.ID]; ok {
		old.cancel()
	}
	s.loops[sess.ID] = lp
	s.mu.Unlock()

	id, topic, rules, policy := sess.ID, sess.Topic, sess.Rules, sess.Selection
	go func() {
		defer close(lp.done)
		defer func() {
			s.mu.Lock()
			if s.loops[id] == lp {
				delete(s.loops, id)
			}
			s.mu.Unlock()
		}()
		s.run(ctx, id, topic, rules, policy)
	}()
}

// Stop signals the session's loop to stop. It does not wait: the loop
// may itself be inside a lifecycle transition that called Stop.
func (s *Scheduler) Stop(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lp, ok := s.loops[sessionID]; ok {
		lp.cancel()
	}
}

// Running reports whether a loop is registered for the session.
func (s *Scheduler) Running(sessionID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[sessionID]
	return ok
}

func (s *Scheduler) run(ctx context.Context, sessionID uuid.UUID, topic string, rules session.Rules, policy session.SelectionPolicy) {
	logger := s.logger.With().Str("session_id", sessionID.String()).Logger()
	logger.Info().Msg("turn loop started")

	round := 0
	for {
		if ctx.Err() != nil {
			logger.Info().Msg("turn loop stopped")
			return
		}

		roster, err := s.coord.Roster(sessionID)
		if err != nil {
			logger.Error().Err(err).Msg("roster unavailable; aborting session")
			_ = s.coord.Abort(context.Background(), sessionID, "roster unavailable")
			return
		}

		refs := make([]*participant.Participant, len(roster))
		for i := range roster {
			refs[i] = &roster[i]
		}
		next, err := NextSpeaker(refs, rules.DiscussionRounds, policy)
		if err != nil {
			logger.Error().Err(err).Msg("speaker selection failed; aborting session")
			_ = s.coord.Abort(context.Background(), sessionID, "speaker selection failed")
			return
		}
		if next == nil {
			logger.Info().Msg("all discussion rounds completed")
			_ = s.coord.Complete(context.Background(), sessionID, "discussion rounds completed")
			return
		}

		turn := next.TurnsTaken + 1
		if err := s.coord.AnnounceSpeaker(sessionID, *next, turn); err != nil {
			s.handleAppendError(ctx, sessionID, logger, err)
			return
		}

		genCtx, cancel := context.WithTimeout(ctx, rules.SpeakingTimeLimit)
		utt, genErr := s.gen.Generate(genCtx, next, participant.TurnContext{
			SessionID: sessionID,
			Topic:     topic,
			Round:     round,
			History:   s.history(sessionID),
		})
		cancel()

		// The result of an abandoned call is discarded; the coordinator
		// re-checks status under the session lock before any append.
		if ctx.Err() != nil {
			logger.Info().Msg("turn loop stopped mid-generation")
			return
		}

		if genErr != nil {
			reason := "generation_failed"
			if errors.Is(genErr, context.DeadlineExceeded) {
				reason = "timeout"
			}
			logger.Warn().Err(genErr).
				Str("participant", next.Name).
				Str("reason", reason).
				Msg("utterance skipped")
			if err := s.coord.RecordSkip(sessionID, *next, reason); err != nil {
				s.handleAppendError(ctx, sessionID, logger, err)
				return
			}
		} else {
			if err := s.coord.RecordUtterance(sessionID, *next, utt); err != nil {
				s.handleAppendError(ctx, sessionID, logger, err)
				return
			}
		}
		round++

		if s.turnGap > 0 {
			select {
			case <-time.After(s.turnGap):
			case <-ctx.Done():
			}
		}
	}
}

// handleAppendError distinguishes a loop losing the race with a status
// transition (expected, quiet exit) from a broken event log (fatal; the
// session must not be left active with no running scheduler).
func (s *Scheduler) handleAppendError(ctx context.Context, sessionID uuid.UUID, logger zerolog.Logger, err error) {
	if errors.Is(err, session.ErrNotActive) || ctx.Err() != nil {
		logger.Info().Msg("turn loop stopped")
		return
	}
	logger.Error().Err(err).Msg("event append failed; aborting session")
	_ = s.coord.Abort(context.Background(), sessionID, "event log failure")
}

// history collects recent utterances for the generator's context window.
func (s *Scheduler) history(sessionID uuid.UUID) []participant.HistoryEntry {
	events, err := s.log.Read(sessionID, 0)
	if err != nil {
		return nil
	}
	var entries []participant.HistoryEntry
	for _, ev := range events {
		if ev.Type != event.TypeUtterance {
			continue
		}
		var payload event.UtterancePayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			continue
		}
		entries = append(entries, participant.HistoryEntry{
			Speaker:   payload.Name,
			Content:   payload.Content,
			Timestamp: ev.Timestamp,
		})
	}
	if len(entries) > historyLimit {
		entries = entries[len(entries)-historyLimit:]
	}
	return entries
}
