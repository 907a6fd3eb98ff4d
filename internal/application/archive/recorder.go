// Package archive copies acknowledged events from the in-memory log to
// durable storage. The recorder is just another tail consumer: it never
// blocks the writer, and a restart resumes from the highest archived
// sequence number because inserts are idempotent.
package archive

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lijianye521/CrewAI/internal/domain/event"
	"github.com/lijianye521/CrewAI/internal/infrastructure/eventlog"
)

// Sink is the durable side of the archive.
type Sink interface {
	Insert(ctx context.Context, ev *event.Event) error
}

// Recorder runs one archiving task per watched session.
type Recorder struct {
	log    *eventlog.Log
	sink   Sink
	logger zerolog.Logger

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

func NewRecorder(log *eventlog.Log, sink Sink, logger zerolog.Logger) *Recorder {
	return &Recorder{
		log:     log,
		sink:    sink,
		logger:  logger.With().Str("service", "archive").Logger(),
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Watch starts archiving a session from fromSeq. Idempotent per session.
// The task ends when the session's log closes and is fully drained.
func (r *Recorder) Watch(sessionID uuid.UUID, fromSeq int64) error {
	r.mu.Lock()
	if _, ok := r.cancels[sessionID]; ok {
		r.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancels[sessionID] = cancel
	r.mu.Unlock()

	tail, err := r.log.Tail(ctx, sessionID, fromSeq)
	if err != nil {
		cancel()
		r.mu.Lock()
		delete(r.cancels, sessionID)
		r.mu.Unlock()
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, sessionID)
			r.mu.Unlock()
		}()
		for ev := range tail {
			if err := r.sink.Insert(ctx, ev); err != nil {
				r.logger.Error().Err(err).
					Str("session_id", sessionID.String()).
					Int64("sequence_no", ev.SequenceNo).
					Msg("failed to archive event")
			}
		}
	}()
	return nil
}

// Stop cancels all archiving tasks and waits for them to drain.
func (r *Recorder) Stop() {
	r.mu.Lock()
	for id, cancel := range r.cancels {
		cancel()
		delete(r.cancels, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
