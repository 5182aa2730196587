// Package cheer — repository.go выполняет операции с таблицами cheers и cheer_stats.
package cheer

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/points-engine/internal/db/postgres"
)

var bumpStatsSQL = postgres.Upsert{
	Table:    "cheer_stats",
	Columns:  []string{"user_id", "total_points", "cheers_received"},
	Conflict: []string{"user_id"},
	Policy:   postgres.ConflictMerge,
	Merge: "total_points = cheer_stats.total_points + EXCLUDED.total_points, " +
		"cheers_received = cheer_stats.cheers_received + EXCLUDED.cheers_received, updated_at = NOW()",
	Returning: []string{"total_points"},
}.SQL()

// Repository работает с таблицами cheers и cheer_stats.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий поддержки.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Insert записывает поддержку и заполняет ID и CreatedAt.
func (r *Repository) Insert(ctx context.Context, q postgres.DBTX, c *Cheer) error {
	err := q.QueryRow(ctx, `
		INSERT INTO cheers (from_user_id, to_user_id, cheer_type, points, message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, c.FromUserID, c.ToUserID, c.CheerType, c.Points, c.Message).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи поддержки: %w", err)
	}
	return nil
}

// BumpStats прибавляет очки получателю и возвращает его новый итог.
func (r *Repository) BumpStats(ctx context.Context, q postgres.DBTX, userID int64, points int) (int64, error) {
	var total int64
	if err := q.QueryRow(ctx, bumpStatsSQL, userID, points, 1).Scan(&total); err != nil {
		return 0, fmt.Errorf("ошибка обновления итогов поддержки: %w", err)
	}
	return total, nil
}

// CountGivenSince возвращает, сколько раз пользователь поддержал других с момента since.
func (r *Repository) CountGivenSince(ctx context.Context, q postgres.DBTX, fromUserID int64, since time.Time) (int, error) {
	var count int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM cheers WHERE from_user_id = $1 AND created_at >= $2`,
		fromUserID, since).Scan(&count)
	return count, err
}

// GetStats возвращает итоги получателя; нет записей — нулевые итоги.
func (r *Repository) GetStats(ctx context.Context, userID int64) (*Stats, error) {
	st := &Stats{UserID: userID, ByType: make(map[Type]int)}
	err := r.db.QueryRow(ctx,
		`SELECT total_points, cheers_received FROM cheer_stats WHERE user_id = $1`,
		userID).Scan(&st.TotalPoints, &st.CheersReceived)
	if err != nil && !postgres.IsNoRows(err) {
		return nil, fmt.Errorf("ошибка получения итогов поддержки: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT cheer_type, COUNT(*) FROM cheers WHERE to_user_id = $1 GROUP BY cheer_type
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения поддержки по видам: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t Type
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		st.ByType[t] = n
	}
	return st, rows.Err()
}

// Leaderboard — самые поддерживаемые участники.
func (r *Repository) Leaderboard(ctx context.Context, limit int) ([]*Stats, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, total_points, cheers_received
		FROM cheer_stats
		ORDER BY total_points DESC, user_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения рейтинга: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Stats])
}

// Recent — последние поддержки с сообщением для получателя.
func (r *Repository) Recent(ctx context.Context, toUserID int64, limit int) ([]*Cheer, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, from_user_id, to_user_id, cheer_type, points, message, created_at
		FROM cheers
		WHERE to_user_id = $1 AND message IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, toUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения сообщений поддержки: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Cheer])
}
