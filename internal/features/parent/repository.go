// Package parent — repository.go работает с таблицами parent_sessions и parent_login_attempts.
package parent

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/db/postgres"
)

// Repository хранит сессии родительского режима.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateSession создаёт новую сессию.
func (r *Repository) CreateSession(ctx context.Context, s *Session) error {
	query := `
		INSERT INTO parent_sessions (id, owner_id, user_id, session_token, authenticated_at, expires_at, last_activity, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
	`
	_, err := r.db.Exec(ctx, query, s.ID, s.OwnerID, s.UserID, s.Token, s.AuthenticatedAt, s.ExpiresAt, s.LastActivity)
	return common.Persistence("create session", err)
}

// ActiveSession возвращает действующую сессию пользователя.
func (r *Repository) ActiveSession(ctx context.Context, ownerID string, userID int64, now time.Time) (*Session, error) {
	query := `
		SELECT id, owner_id, user_id, session_token, authenticated_at, expires_at, last_activity, is_active
		FROM parent_sessions
		WHERE owner_id = $1 AND user_id = $2 AND is_active = TRUE AND expires_at > $3
		ORDER BY authenticated_at DESC
		LIMIT 1
	`
	var s Session
	err := r.db.QueryRow(ctx, query, ownerID, userID, now).Scan(
		&s.ID, &s.OwnerID, &s.UserID, &s.Token, &s.AuthenticatedAt,
		&s.ExpiresAt, &s.LastActivity, &s.IsActive,
	)
	if err != nil {
		return nil, postgres.NotFound("active session", err, common.ErrNotFound)
	}
	return &s, nil
}

// DeactivateSessions закрывает все сессии пользователя в семье.
func (r *Repository) DeactivateSessions(ctx context.Context, ownerID string, userID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE parent_sessions SET is_active = FALSE WHERE owner_id = $1 AND user_id = $2`, ownerID, userID)
	return common.Persistence("deactivate sessions", err)
}

// TouchSession обновляет время последней активности.
func (r *Repository) TouchSession(ctx context.Context, ownerID string, userID int64, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE parent_sessions SET last_activity = $3 WHERE owner_id = $1 AND user_id = $2 AND is_active = TRUE`,
		ownerID, userID, now)
	return common.Persistence("touch session", err)
}

// LogAttempt записывает попытку входа.
func (r *Repository) LogAttempt(ctx context.Context, a *LoginAttempt) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO parent_login_attempts (owner_id, user_id, attempt_time, success) VALUES ($1, $2, $3, $4)`,
		a.OwnerID, a.UserID, a.AttemptTime, a.Success)
	return common.Persistence("log attempt", err)
}

// FailedAttemptsSince считает неудачные попытки за период.
func (r *Repository) FailedAttemptsSince(ctx context.Context, ownerID string, userID int64, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM parent_login_attempts
		WHERE owner_id = $1 AND user_id = $2 AND success = FALSE AND attempt_time >= $3
	`
	var count int
	err := r.db.QueryRow(ctx, query, ownerID, userID, since).Scan(&count)
	return count, common.Persistence("failed attempts", err)
}

var _ Store = (*Repository)(nil)
