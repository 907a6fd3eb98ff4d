package session

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for sessions. The in-process registry
// stays authoritative while the service runs; the repository records
// configuration, status and roster for listing and recovery.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	List(ctx context.Context, status *Status, limit, offset int) ([]*Session, error)
	UpdateStatus(ctx context.Context, s *Session) error
	SaveParticipants(ctx context.Context, s *Session) error
}
