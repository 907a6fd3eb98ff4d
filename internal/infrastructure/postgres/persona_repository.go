package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lijianye521/CrewAI/internal/domain/participant"
)

// PersonaRepository implements participant.PersonaStore over stored
// persona profiles. Profile CRUD and validation belong to the external
// persona service; this side only reads and seeds.
type PersonaRepository struct {
	pool *pgxpool.Pool
}

func NewPersonaRepository(pool *pgxpool.Pool) *PersonaRepository {
	return &PersonaRepository{pool: pool}
}

func (r *PersonaRepository) GetPersona(ctx context.Context, id uuid.UUID) (*participant.Persona, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT persona_id, name, role, initiative_level, speaking_frequency
		FROM personas WHERE persona_id=$1
	`, id)
	var p participant.Persona
	var initiative, frequency string
	if err := row.Scan(&p.ID, &p.Name, &p.Role, &initiative, &frequency); err != nil {
		if err == pgx.ErrNoRows {
			return nil, participant.ErrPersonaNotFound
		}
		return nil, err
	}
	p.InitiativeLevel = participant.BehaviorLevel(initiative)
	p.SpeakingFrequency = participant.BehaviorLevel(frequency)
	return &p, nil
}

// Upsert stores or refreshes a persona profile.
func (r *PersonaRepository) Upsert(ctx context.Context, p *participant.Persona) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO personas (persona_id, name, role, initiative_level, speaking_frequency)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (persona_id) DO UPDATE SET
			name=EXCLUDED.name,
			role=EXCLUDED.role,
			initiative_level=EXCLUDED.initiative_level,
			speaking_frequency=EXCLUDED.speaking_frequency
	`, p.ID, p.Name, p.Role, string(p.InitiativeLevel), string(p.SpeakingFrequency))
	return err
}
