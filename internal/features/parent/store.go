package parent

import (
	"context"
	"time"
)

// Store — хранилище сессий и попыток входа.
// Реализации: Repository (PostgreSQL) и memory.Store.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	// ActiveSession возвращает действующую на момент now сессию или common.ErrNotFound
	ActiveSession(ctx context.Context, ownerID string, userID int64, now time.Time) (*Session, error)
	DeactivateSessions(ctx context.Context, ownerID string, userID int64) error
	TouchSession(ctx context.Context, ownerID string, userID int64, now time.Time) error

	LogAttempt(ctx context.Context, a *LoginAttempt) error
	// FailedAttemptsSince считает неудачные попытки с момента since
	FailedAttemptsSince(ctx context.Context, ownerID string, userID int64, since time.Time) (int, error)
}
