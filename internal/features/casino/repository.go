// Package casino — repository.go выполняет операции с таблицами slot_configs,
// slot_symbols, slot_draws и slot_stats.
package casino

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
)

const configColumns = `id, name, is_active, cost, reels, two_kind_multiplier, jackpot_symbol_key, daily_limit, updated_at`

const symbolColumns = `id, config_id, symbol_key, emoji, name, multiplier, weight, sort_order, is_enabled, is_jackpot`

const spinColumns = `id, user_id, config_id, cost, reels, win_type, multiplier, payout,
	is_jackpot, used_ticket, request_id, created_at`

var insertSpinSQL = postgres.Upsert{
	Table: "slot_draws",
	Columns: []string{
		"user_id", "config_id", "cost", "reels", "win_type", "multiplier",
		"payout", "is_jackpot", "used_ticket", "request_id",
	},
	Conflict:  []string{"request_id"},
	Policy:    postgres.ConflictIgnore,
	Returning: []string{"id", "created_at"},
}.SQL()

// Обновляет в одном запросе: спины, ставки, выигрыши, рекорд и RTP.
var updateStatsSQL = postgres.Upsert{
	Table:    "slot_stats",
	Columns:  []string{"user_id", "total_spins", "total_wagered", "total_won", "biggest_win", "current_rtp"},
	Conflict: []string{"user_id"},
	Policy:   postgres.ConflictMerge,
	Merge: `total_spins = slot_stats.total_spins + 1,
		total_wagered = slot_stats.total_wagered + EXCLUDED.total_wagered,
		total_won = slot_stats.total_won + EXCLUDED.total_won,
		biggest_win = GREATEST(slot_stats.biggest_win, EXCLUDED.biggest_win),
		current_rtp = CASE
			WHEN slot_stats.total_wagered + EXCLUDED.total_wagered = 0 THEN 0
			ELSE ROUND((slot_stats.total_won + EXCLUDED.total_won)::NUMERIC * 100
				/ (slot_stats.total_wagered + EXCLUDED.total_wagered), 2)
		END,
		updated_at = NOW()`,
}.SQL()

// Repository работает с таблицами казино в БД.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий казино.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ActiveConfig возвращает действующую конфигурацию или nil.
// forUpdate блокирует строку для изменения из админки.
func (r *Repository) ActiveConfig(ctx context.Context, q postgres.DBTX, forUpdate bool) (*Config, error) {
	query := `SELECT ` + configColumns + ` FROM slot_configs WHERE is_active ORDER BY id DESC LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanConfig(q.QueryRow(ctx, query))
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации слотов: %w", err)
	}
	return c, nil
}

// LatestConfig — последняя конфигурация независимо от is_active (для админки).
func (r *Repository) LatestConfig(ctx context.Context, q postgres.DBTX) (*Config, error) {
	c, err := scanConfig(q.QueryRow(ctx, `SELECT `+configColumns+` FROM slot_configs ORDER BY id DESC LIMIT 1 FOR UPDATE`))
	if postgres.IsNoRows(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации слотов: %w", err)
	}
	return c, nil
}

// SaveConfig записывает изменённую конфигурацию.
func (r *Repository) SaveConfig(ctx context.Context, q postgres.DBTX, c *Config) error {
	_, err := q.Exec(ctx, `
		UPDATE slot_configs
		SET name = $2, is_active = $3, cost = $4, two_kind_multiplier = $5,
		    jackpot_symbol_key = $6, daily_limit = $7, updated_at = NOW()
		WHERE id = $1
	`, c.ID, c.Name, c.IsActive, c.Cost, c.TwoKindMultiplier, c.JackpotSymbolKey, c.DailyLimit)
	if err != nil {
		return fmt.Errorf("ошибка сохранения конфигурации слотов: %w", err)
	}
	return nil
}

// Symbols возвращает символы конфигурации.
// includeDisabled=false — только включённые с положительным весом.
func (r *Repository) Symbols(ctx context.Context, q postgres.DBTX, configID int64, includeDisabled bool) ([]*Symbol, error) {
	rows, err := q.Query(ctx, `
		SELECT `+symbolColumns+`
		FROM slot_symbols
		WHERE config_id = $1 AND ($2 OR (is_enabled AND weight > 0))
		ORDER BY sort_order, id
	`, configID, includeDisabled)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения символов: %w", err)
	}
	defer rows.Close()

	var out []*Symbol
	for rows.Next() {
		var s Symbol
		if err := rows.Scan(&s.ID, &s.ConfigID, &s.SymbolKey, &s.Emoji, &s.Name,
			&s.Multiplier, &s.Weight, &s.SortOrder, &s.IsEnabled, &s.IsJackpot); err != nil {
			return nil, fmt.Errorf("ошибка чтения символа: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// ReplaceSymbols заменяет таблицу символов целиком.
func (r *Repository) ReplaceSymbols(ctx context.Context, q postgres.DBTX, configID int64, symbols []SymbolInput) error {
	if _, err := q.Exec(ctx, `DELETE FROM slot_symbols WHERE config_id = $1`, configID); err != nil {
		return fmt.Errorf("ошибка удаления символов: %w", err)
	}
	for _, s := range symbols {
		enabled := s.IsEnabled == nil || *s.IsEnabled
		_, err := q.Exec(ctx, `
			INSERT INTO slot_symbols (config_id, symbol_key, emoji, name, multiplier, weight, sort_order, is_enabled, is_jackpot)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, configID, s.SymbolKey, s.Emoji, s.Name, s.Multiplier, s.Weight, s.SortOrder, enabled, s.IsJackpot)
		if err != nil {
			return fmt.Errorf("ошибка записи символа %q: %w", s.SymbolKey, err)
		}
	}
	return nil
}

// FindByRequestID возвращает спин по ключу идемпотентности или nil.
func (r *Repository) FindByRequestID(ctx context.Context, q postgres.DBTX, requestID string) (*Spin, error) {
	s, err := scanSpin(q.QueryRow(ctx, `SELECT `+spinColumns+` FROM slot_draws WHERE request_id = $1`, requestID))
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска спина: %w", err)
	}
	return s, nil
}

// SaveSpin сохраняет спин. false — request_id уже занят.
func (r *Repository) SaveSpin(ctx context.Context, q postgres.DBTX, s *Spin) (bool, error) {
	err := q.QueryRow(ctx, insertSpinSQL,
		s.UserID, s.ConfigID, s.Cost, s.Reels, s.WinType, s.Multiplier,
		s.Payout, s.IsJackpot, s.UsedTicket, s.RequestID,
	).Scan(&s.ID, &s.CreatedAt)
	if postgres.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка сохранения спина: %w", err)
	}
	return true, nil
}

// CountPaidToday — платные спины пользователя с начала суток.
func (r *Repository) CountPaidToday(ctx context.Context, q postgres.DBTX, userID, configID int64, since time.Time) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM slot_draws
		WHERE user_id = $1 AND config_id = $2 AND created_at >= $3 AND NOT used_ticket
	`, userID, configID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта спинов: %w", err)
	}
	return n, nil
}

// UpdateStats обновляет статистику после спина.
func (r *Repository) UpdateStats(ctx context.Context, q postgres.DBTX, userID, wagered, won int64) error {
	_, err := q.Exec(ctx, updateStatsSQL, userID, 1, wagered, won, won, CalculateRTP(wagered, won))
	if err != nil {
		return fmt.Errorf("ошибка обновления статистики: %w", err)
	}
	return nil
}

// GetStats возвращает статистику казино пользователя.
// Если пользователь ещё не играл — нулевая статистика.
func (r *Repository) GetStats(ctx context.Context, userID int64) (*Stats, error) {
	var s Stats
	err := r.db.QueryRow(ctx, `
		SELECT user_id, total_spins, total_wagered, total_won, biggest_win,
		       current_rtp, created_at, updated_at
		FROM slot_stats
		WHERE user_id = $1
	`, userID).Scan(
		&s.UserID, &s.TotalSpins, &s.TotalWagered,
		&s.TotalWon, &s.BiggestWin, &s.CurrentRTP,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if postgres.IsNoRows(err) {
		return &Stats{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения статистики: %w", err)
	}
	return &s, nil
}

// History — последние спины пользователя.
func (r *Repository) History(ctx context.Context, userID int64, limit int) ([]*Spin, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+spinColumns+` FROM slot_draws
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения истории спинов: %w", err)
	}
	defer rows.Close()

	var out []*Spin
	for rows.Next() {
		s, err := scanSpin(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения спина: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DrawStats — агрегаты по спинам с момента since.
func (r *Repository) DrawStats(ctx context.Context, since time.Time) (*DrawStats, error) {
	var s DrawStats
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(cost), 0),
		       COALESCE(SUM(payout), 0),
		       COUNT(*) FILTER (WHERE win_type <> 'none'),
		       COUNT(*) FILTER (WHERE is_jackpot)
		FROM slot_draws
		WHERE created_at >= $1
	`, since).Scan(&s.TotalDraws, &s.TotalCost, &s.TotalPayout, &s.WinCount, &s.JackpotCount)
	if err != nil {
		return nil, fmt.Errorf("ошибка статистики спинов: %w", err)
	}
	return &s, nil
}

func scanConfig(row pgx.Row) (*Config, error) {
	var c Config
	err := row.Scan(&c.ID, &c.Name, &c.IsActive, &c.Cost, &c.Reels,
		&c.TwoKindMultiplier, &c.JackpotSymbolKey, &c.DailyLimit, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanSpin(row pgx.Row) (*Spin, error) {
	var s Spin
	err := row.Scan(&s.ID, &s.UserID, &s.ConfigID, &s.Cost, &s.Reels, &s.WinType,
		&s.Multiplier, &s.Payout, &s.IsJackpot, &s.UsedTicket, &s.RequestID, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
