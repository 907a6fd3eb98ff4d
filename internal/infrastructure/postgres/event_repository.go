package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lijianye521/CrewAI/internal/domain/event"
)

// EventRepository archives acknowledged events. Inserts are idempotent
// on (session_id, sequence_no) so the archive recorder can resume a tail
// without duplicating rows.
type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) Insert(ctx context.Context, ev *event.Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO session_events (session_id, sequence_no, event_type, ts, payload)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (session_id, sequence_no) DO NOTHING
	`, ev.SessionID, ev.SequenceNo, string(ev.Type), ev.Timestamp, ev.Payload)
	return err
}

func (r *EventRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, fromSeq int64) ([]*event.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sequence_no, event_type, ts, payload
		FROM session_events
		WHERE session_id=$1 AND sequence_no > $2
		ORDER BY sequence_no
	`, sessionID, fromSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*event.Event{}
	for rows.Next() {
		ev := &event.Event{SessionID: sessionID}
		var typ string
		if err := rows.Scan(&ev.SequenceNo, &typ, &ev.Timestamp, &ev.Payload); err != nil {
			return nil, err
		}
		ev.Type = event.Type(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}
