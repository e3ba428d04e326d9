package port

import (
	"context"

	"github.com/olyamironova/solbot-sim/internal/domain"
)

// SessionStore returns (nil, nil) when the user has no stored session.
type SessionStore interface {
	LoadSession(ctx context.Context, userID string) (*domain.SessionConfig, error)
	SaveSession(ctx context.Context, userID string, cfg domain.SessionConfig) error
	DeleteSession(ctx context.Context, userID string) error
}
