// Package admin — repository.go работает с таблицами admin_sessions и admin_login_attempts.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/points-engine/internal/db/postgres"
)

// Repository работает с админ-таблицами.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateSession создаёт новую сессию администратора.
func (r *Repository) CreateSession(ctx context.Context, s *Session) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO admin_sessions (session_token, remote_addr, expires_at, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, authenticated_at, last_activity, is_active
	`, s.SessionToken, s.RemoteAddr, s.ExpiresAt).Scan(&s.ID, &s.AuthenticatedAt, &s.LastActivity, &s.IsActive)
	if err != nil {
		return fmt.Errorf("ошибка создания сессии: %w", err)
	}
	return nil
}

// TouchSession возвращает активную сессию по токену и продлевает last_activity.
// nil — сессии нет, она истекла или закрыта.
func (r *Repository) TouchSession(ctx context.Context, token string, now time.Time) (*Session, error) {
	var s Session
	err := r.db.QueryRow(ctx, `
		UPDATE admin_sessions
		SET last_activity = $2
		WHERE session_token = $1 AND is_active = TRUE AND expires_at > $2
		RETURNING id, session_token, remote_addr, authenticated_at, expires_at, last_activity, is_active
	`, token, now).Scan(
		&s.ID, &s.SessionToken, &s.RemoteAddr, &s.AuthenticatedAt,
		&s.ExpiresAt, &s.LastActivity, &s.IsActive,
	)
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки сессии: %w", err)
	}
	return &s, nil
}

// DeactivateSession закрывает сессию.
func (r *Repository) DeactivateSession(ctx context.Context, token string) error {
	if _, err := r.db.Exec(ctx, `UPDATE admin_sessions SET is_active = FALSE WHERE session_token = $1`, token); err != nil {
		return fmt.Errorf("ошибка закрытия сессии: %w", err)
	}
	return nil
}

// LogAttempt записывает попытку входа.
func (r *Repository) LogAttempt(ctx context.Context, remoteAddr string, success bool) error {
	_, err := r.db.Exec(ctx, `INSERT INTO admin_login_attempts (remote_addr, success) VALUES ($1, $2)`, remoteAddr, success)
	if err != nil {
		return fmt.Errorf("ошибка записи попытки входа: %w", err)
	}
	return nil
}

// FailedAttemptsSince возвращает количество неудачных попыток с адреса начиная с since.
func (r *Repository) FailedAttemptsSince(ctx context.Context, remoteAddr string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM admin_login_attempts
		WHERE remote_addr = $1 AND success = FALSE AND attempt_time >= $2
	`, remoteAddr, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта попыток: %w", err)
	}
	return count, nil
}

// Purge удаляет истёкшие сессии и старые попытки входа.
func (r *Repository) Purge(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	tag, err := r.db.Exec(ctx, `DELETE FROM admin_sessions WHERE expires_at < $1 OR is_active = FALSE`, before)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки сессий: %w", err)
	}
	total += tag.RowsAffected()
	tag, err = r.db.Exec(ctx, `DELETE FROM admin_login_attempts WHERE attempt_time < $1`, before.Add(-AttemptWindow))
	if err != nil {
		return total, fmt.Errorf("ошибка очистки попыток: %w", err)
	}
	return total + tag.RowsAffected(), nil
}
