// Package members — repository.go выполняет SQL-запросы к таблице members.
package members

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
)

const memberColumns = `user_id, display_name, is_banned, ban_reason, created_at, updated_at`

var createMemberSQL = postgres.Upsert{
	Table:     "members",
	Columns:   []string{"user_id", "display_name"},
	Conflict:  []string{"user_id"},
	Policy:    postgres.ConflictIgnore,
	Returning: []string{"created_at", "updated_at"},
}.SQL()

// Repository работает с таблицей members.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий участников.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create добавляет участника. false — участник уже был.
func (r *Repository) Create(ctx context.Context, q postgres.DBTX, m *Member) (bool, error) {
	err := q.QueryRow(ctx, createMemberSQL, m.UserID, m.DisplayName).Scan(&m.CreatedAt, &m.UpdatedAt)
	if postgres.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка регистрации участника: %w", err)
	}
	return true, nil
}

// GetByUserID возвращает участника; nil — не зарегистрирован.
func (r *Repository) GetByUserID(ctx context.Context, q postgres.DBTX, userID int64) (*Member, error) {
	rows, err := q.Query(ctx, `SELECT `+memberColumns+` FROM members WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения участника: %w", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Member])
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	return m, err
}

// IsBanned проверяет флаг блокировки. Незарегистрированный не заблокирован.
func (r *Repository) IsBanned(ctx context.Context, userID int64) (bool, error) {
	var banned bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM members WHERE user_id = $1 AND is_banned)`,
		userID).Scan(&banned)
	return banned, err
}

// SetBanned меняет флаг блокировки.
func (r *Repository) SetBanned(ctx context.Context, userID int64, banned bool, reason *string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE members SET is_banned = $2, ban_reason = $3, updated_at = NOW()
		WHERE user_id = $1
	`, userID, banned, reason)
	if err != nil {
		return fmt.Errorf("ошибка смены блокировки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// List возвращает участников, новые первыми. bannedOnly — только заблокированных.
func (r *Repository) List(ctx context.Context, bannedOnly bool, limit, offset int) ([]*Member, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+memberColumns+` FROM members
		WHERE NOT $1::bool OR is_banned
		ORDER BY created_at DESC, user_id DESC
		LIMIT $2 OFFSET $3
	`, bannedOnly, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка участников: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Member])
}
