// Package streak — repository.go выполняет операции с таблицами daily_signins и signin_milestones.
package streak

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/points-engine/internal/db/postgres"
)

var insertSigninSQL = postgres.Upsert{
	Table:     "daily_signins",
	Columns:   []string{"user_id", "signin_date", "points_awarded", "bonus_points", "streak_day"},
	Conflict:  []string{"user_id", "signin_date"},
	Policy:    postgres.ConflictIgnore,
	Returning: []string{"id", "created_at"},
}.SQL()

var upsertMilestoneSQL = postgres.Upsert{
	Table:    "signin_milestones",
	Columns:  []string{"day", "bonus_points", "description", "is_active"},
	Conflict: []string{"day"},
	Policy:   postgres.ConflictMerge,
	Merge: `bonus_points = EXCLUDED.bonus_points,
		description = EXCLUDED.description,
		is_active = EXCLUDED.is_active`,
}.SQL()

// Repository предоставляет методы для работы с отметками.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий отметок.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// DatesSince возвращает даты отметок пользователя начиная с since, новые первыми.
func (r *Repository) DatesSince(ctx context.Context, q postgres.DBTX, userID int64, since time.Time) ([]time.Time, error) {
	rows, err := q.Query(ctx, `
		SELECT signin_date
		FROM daily_signins
		WHERE user_id = $1 AND signin_date >= $2
		ORDER BY signin_date DESC
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения отметок: %w", err)
	}
	dates, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения отметок: %w", err)
	}
	return dates, nil
}

// Insert сохраняет отметку. false — за этот день отметка уже есть.
func (r *Repository) Insert(ctx context.Context, q postgres.DBTX, s *Signin) (bool, error) {
	err := q.QueryRow(ctx, insertSigninSQL, s.UserID, s.SigninDate, s.PointsAwarded, s.BonusPoints, s.StreakDay).
		Scan(&s.ID, &s.CreatedAt)
	if postgres.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка сохранения отметки: %w", err)
	}
	return true, nil
}

// Milestones возвращает рубежи серии по возрастанию дня.
func (r *Repository) Milestones(ctx context.Context, q postgres.DBTX, includeInactive bool) ([]*Milestone, error) {
	rows, err := q.Query(ctx, `
		SELECT day, bonus_points, description, is_active
		FROM signin_milestones
		WHERE $1 OR is_active
		ORDER BY day
	`, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения рубежей: %w", err)
	}
	milestones, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Milestone])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения рубежей: %w", err)
	}
	return milestones, nil
}

// SaveMilestone создаёт или обновляет рубеж.
func (r *Repository) SaveMilestone(ctx context.Context, m *Milestone) error {
	if _, err := r.db.Exec(ctx, upsertMilestoneSQL, m.Day, m.BonusPoints, m.Description, m.IsActive); err != nil {
		return fmt.Errorf("ошибка сохранения рубежа: %w", err)
	}
	return nil
}

// CountOn возвращает число отметок за день. Используется в дневном отчёте.
func (r *Repository) CountOn(ctx context.Context, day time.Time) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM daily_signins WHERE signin_date = $1`, day).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта отметок: %w", err)
	}
	return n, nil
}
