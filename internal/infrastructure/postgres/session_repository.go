package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lijianye521/CrewAI/internal/domain/participant"
	"github.com/lijianye521/CrewAI/internal/domain/session"
)

// SessionRepository implements session.Repository.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions
		(session_id, title, topic, status, max_participants, max_duration_ms, speaking_time_limit_ms,
		 discussion_rounds, score_expression, scheduled_start, actual_start, ended_at, created_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, s.ID, s.Title, s.Topic, string(s.Status),
		s.Rules.MaxParticipants, s.Rules.MaxDuration.Milliseconds(), s.Rules.SpeakingTimeLimit.Milliseconds(),
		s.Rules.DiscussionRounds, s.Selection.ScoreExpression,
		s.ScheduledStart, s.ActualStart, s.EndedAt, s.CreatedAt, s.CreatedBy)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT session_id, title, topic, status, max_participants, max_duration_ms, speaking_time_limit_ms,
		       discussion_rounds, score_expression, scheduled_start, actual_start, ended_at, created_at, created_by
		FROM sessions WHERE session_id=$1
	`, id)
	s, err := scanSession(row)
	if err != nil || s == nil {
		return s, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT participant_id, name, role, speaking_priority, initiative, frequency, turns_taken
		FROM session_participants WHERE session_id=$1 ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p participant.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &p.SpeakingPriority,
			&p.Weights.Initiative, &p.Weights.Frequency, &p.TurnsTaken); err != nil {
			return nil, err
		}
		s.Participants = append(s.Participants, &p)
	}
	return s, rows.Err()
}

func (r *SessionRepository) List(ctx context.Context, status *session.Status, limit, offset int) ([]*session.Session, error) {
	query := `
		SELECT session_id, title, topic, status, max_participants, max_duration_ms, speaking_time_limit_ms,
		       discussion_rounds, score_expression, scheduled_start, actual_start, ended_at, created_at, created_by
		FROM sessions`
	args := []interface{}{}
	if status != nil {
		query += ` WHERE status=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, string(*status), limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*session.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SessionRepository) UpdateStatus(ctx context.Context, s *session.Session) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET status=$1, actual_start=$2, ended_at=$3 WHERE session_id=$4
	`, string(s.Status), s.ActualStart, s.EndedAt, s.ID)
	return err
}

func (r *SessionRepository) SaveParticipants(ctx context.Context, s *session.Session) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM session_participants WHERE session_id=$1`, s.ID); err != nil {
		return err
	}
	for i, p := range s.Participants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO session_participants
			(session_id, participant_id, name, role, speaking_priority, initiative, frequency, turns_taken, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, s.ID, p.ID, p.Name, p.Role, p.SpeakingPriority,
			p.Weights.Initiative, p.Weights.Frequency, p.TurnsTaken, i); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var s session.Session
	var status string
	var maxDurationMs, speakingLimitMs int64
	if err := row.Scan(&s.ID, &s.Title, &s.Topic, &status,
		&s.Rules.MaxParticipants, &maxDurationMs, &speakingLimitMs,
		&s.Rules.DiscussionRounds, &s.Selection.ScoreExpression,
		&s.ScheduledStart, &s.ActualStart, &s.EndedAt, &s.CreatedAt, &s.CreatedBy); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	s.Status = session.Status(status)
	s.Rules.MaxDuration = time.Duration(maxDurationMs) * time.Millisecond
	s.Rules.SpeakingTimeLimit = time.Duration(speakingLimitMs) * time.Millisecond
	return &s, nil
}
