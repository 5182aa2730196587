// Package draw — repository.go работает с таблицами draw_pools, draw_prizes и draws.
package draw

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
)

const poolColumns = `id, pool_key, mode, name, cost, daily_limit, is_active, starts_at, ends_at, created_at, updated_at`

const prizeColumns = `id, pool_id, name, kind, weight, stock, is_rare, points,
	item_type, item_amount, badge_key, badge_tier, enabled, sort_order`

const drawColumns = `id, pool_id, user_id, mode, prize_id, prize_kind, prize_name, cost,
	points_awarded, is_rare, used_ticket, badge_substituted, api_key_code_id,
	status, request_id, created_at, revealed_at`

var insertDrawSQL = postgres.Upsert{
	Table: "draws",
	Columns: []string{
		"pool_id", "user_id", "mode", "prize_id", "prize_kind", "prize_name", "cost",
		"is_rare", "used_ticket", "api_key_code_id", "status", "request_id",
	},
	Conflict:  []string{"request_id"},
	Policy:    postgres.ConflictIgnore,
	Returning: []string{"id", "created_at"},
}.SQL()

// Repository работает с розыгрышами.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий розыгрышей.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetPool возвращает пул по ключу или nil.
func (r *Repository) GetPool(ctx context.Context, q postgres.DBTX, poolKey string) (*Pool, error) {
	p, err := scanPool(q.QueryRow(ctx, `SELECT `+poolColumns+` FROM draw_pools WHERE pool_key = $1`, poolKey))
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения пула: %w", err)
	}
	return p, nil
}

// ListPools возвращает все пулы.
func (r *Repository) ListPools(ctx context.Context) ([]*Pool, error) {
	rows, err := r.db.Query(ctx, `SELECT `+poolColumns+` FROM draw_pools ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения пулов: %w", err)
	}
	defer rows.Close()

	var pools []*Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения пула: %w", err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// CreatePool добавляет пул.
func (r *Repository) CreatePool(ctx context.Context, in PoolInput) (*Pool, error) {
	p, err := scanPool(r.db.QueryRow(ctx, `
		INSERT INTO draw_pools (pool_key, mode, name, cost, daily_limit, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+poolColumns,
		in.PoolKey, in.Mode, in.Name, in.Cost, in.DailyLimit, in.StartsAt, in.EndsAt,
	))
	if postgres.IsUniqueViolation(err) {
		return nil, fmt.Errorf("%w: пул %q уже существует", common.ErrInvalidInput, in.PoolKey)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула: %w", err)
	}
	return p, nil
}

// SetPoolActive включает или выключает пул.
func (r *Repository) SetPoolActive(ctx context.Context, poolKey string, active bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE draw_pools SET is_active = $2, updated_at = NOW() WHERE pool_key = $1`, poolKey, active)
	if err != nil {
		return fmt.Errorf("ошибка обновления пула: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// ListPrizes возвращает призы пула. enabledOnly — только включённые.
func (r *Repository) ListPrizes(ctx context.Context, q postgres.DBTX, poolID int64, enabledOnly bool) ([]*Prize, error) {
	rows, err := q.Query(ctx, `
		SELECT `+prizeColumns+`
		FROM draw_prizes
		WHERE pool_id = $1 AND (enabled OR NOT $2)
		ORDER BY sort_order, id
	`, poolID, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения призов: %w", err)
	}
	defer rows.Close()

	var prizes []*Prize
	for rows.Next() {
		p, err := scanPrize(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения приза: %w", err)
		}
		prizes = append(prizes, p)
	}
	return prizes, rows.Err()
}

// GetPrize возвращает приз по id или nil.
func (r *Repository) GetPrize(ctx context.Context, q postgres.DBTX, id int64) (*Prize, error) {
	p, err := scanPrize(q.QueryRow(ctx, `SELECT `+prizeColumns+` FROM draw_prizes WHERE id = $1`, id))
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения приза: %w", err)
	}
	return p, nil
}

// CreatePrize добавляет приз в пул.
func (r *Repository) CreatePrize(ctx context.Context, poolID int64, in PrizeInput) (*Prize, error) {
	p, err := scanPrize(r.db.QueryRow(ctx, `
		INSERT INTO draw_prizes (pool_id, name, kind, weight, stock, is_rare, points,
			item_type, item_amount, badge_key, badge_tier, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+prizeColumns,
		poolID, in.Name, in.Kind, in.Weight, in.Stock, in.IsRare, in.Points,
		in.ItemType, in.ItemAmount, in.BadgeKey, in.BadgeTier, in.SortOrder,
	))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания приза: %w", err)
	}
	return p, nil
}

// UpdatePrize меняет вес, остаток и включённость приза.
func (r *Repository) UpdatePrize(ctx context.Context, id int64, weight *string, stock *int, clearStock bool, enabled *bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE draw_prizes
		SET weight = COALESCE($2::numeric, weight),
		    stock = CASE WHEN $4 THEN NULL ELSE COALESCE($3, stock) END,
		    enabled = COALESCE($5, enabled)
		WHERE id = $1
	`, id, weight, stock, clearStock, enabled)
	if err != nil {
		return fmt.Errorf("ошибка обновления приза: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// DecrementStock забирает единицу остатка условным UPDATE.
// false — остаток уже закончился.
func (r *Repository) DecrementStock(ctx context.Context, q postgres.DBTX, prizeID int64) (bool, error) {
	tag, err := q.Exec(ctx,
		`UPDATE draw_prizes SET stock = stock - 1 WHERE id = $1 AND stock > 0`, prizeID)
	if err != nil {
		return false, fmt.Errorf("ошибка списания остатка приза: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindByRequestID возвращает розыгрыш по ключу идемпотентности или nil.
func (r *Repository) FindByRequestID(ctx context.Context, q postgres.DBTX, requestID string) (*Draw, error) {
	d, err := scanDraw(q.QueryRow(ctx, `SELECT `+drawColumns+` FROM draws WHERE request_id = $1`, requestID))
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска розыгрыша: %w", err)
	}
	return d, nil
}

// InsertDraw пишет розыгрыш. false — request_id уже занят.
func (r *Repository) InsertDraw(ctx context.Context, q postgres.DBTX, d *Draw) (bool, error) {
	err := q.QueryRow(ctx, insertDrawSQL,
		d.PoolID, d.UserID, d.Mode, d.PrizeID, d.PrizeKind, d.PrizeName, d.Cost,
		d.IsRare, d.UsedTicket, d.APIKeyCodeID, d.Status, d.RequestID,
	).Scan(&d.ID, &d.CreatedAt)
	if postgres.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка записи розыгрыша: %w", err)
	}
	return true, nil
}

// SaveOutcome записывает итог выдачи приза.
func (r *Repository) SaveOutcome(ctx context.Context, q postgres.DBTX, d *Draw) error {
	_, err := q.Exec(ctx, `
		UPDATE draws SET points_awarded = $2, badge_substituted = $3
		WHERE id = $1
	`, d.ID, d.PointsAwarded, d.BadgeSubstituted)
	if err != nil {
		return fmt.Errorf("ошибка сохранения итога розыгрыша: %w", err)
	}
	return nil
}

// LockDraw читает розыгрыш пользователя с блокировкой строки.
func (r *Repository) LockDraw(ctx context.Context, q postgres.DBTX, drawID, userID int64) (*Draw, error) {
	d, err := scanDraw(q.QueryRow(ctx, `
		SELECT `+drawColumns+` FROM draws
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, drawID, userID))
	if postgres.IsNoRows(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения розыгрыша: %w", err)
	}
	return d, nil
}

// MarkRevealed переводит карту purchased → revealed.
func (r *Repository) MarkRevealed(ctx context.Context, q postgres.DBTX, drawID int64, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE draws SET status = 'revealed', revealed_at = $2
		WHERE id = $1 AND status = 'purchased'
	`, drawID, at)
	if err != nil {
		return fmt.Errorf("ошибка открытия карты: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrAlreadyRevealed
	}
	return nil
}

// CountPaidToday — платные попытки пользователя в пуле с начала суток.
// Попытки по билетам в лимит не входят.
func (r *Repository) CountPaidToday(ctx context.Context, q postgres.DBTX, userID, poolID int64, since time.Time) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM draws
		WHERE user_id = $1 AND pool_id = $2 AND created_at >= $3 AND NOT used_ticket
	`, userID, poolID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта попыток: %w", err)
	}
	return n, nil
}

// History возвращает последние розыгрыши пользователя.
func (r *Repository) History(ctx context.Context, userID int64, poolKey string, limit int) ([]*Draw, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+drawColumns+` FROM draws
		WHERE user_id = $1
		  AND ($2::text = '' OR pool_id = (SELECT id FROM draw_pools WHERE pool_key = $2::text))
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, userID, poolKey, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения истории розыгрышей: %w", err)
	}
	defer rows.Close()

	var out []*Draw
	for rows.Next() {
		d, err := scanDraw(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения розыгрыша: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Stats — агрегаты по пулу.
func (r *Repository) Stats(ctx context.Context, poolID int64) (*PoolStats, error) {
	var s PoolStats
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT user_id),
		       COUNT(*) FILTER (WHERE used_ticket),
		       COALESCE(SUM(cost), 0),
		       COALESCE(SUM(points_awarded), 0),
		       COUNT(*) FILTER (WHERE is_rare)
		FROM draws WHERE pool_id = $1
	`, poolID).Scan(&s.Draws, &s.Players, &s.TicketDraws, &s.TotalCost, &s.PointsAwarded, &s.RareDraws)
	if err != nil {
		return nil, fmt.Errorf("ошибка статистики пула: %w", err)
	}
	return &s, nil
}

func scanPool(row pgx.Row) (*Pool, error) {
	var p Pool
	err := row.Scan(&p.ID, &p.PoolKey, &p.Mode, &p.Name, &p.Cost, &p.DailyLimit,
		&p.IsActive, &p.StartsAt, &p.EndsAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPrize(row pgx.Row) (*Prize, error) {
	var p Prize
	err := row.Scan(&p.ID, &p.PoolID, &p.Name, &p.Kind, &p.Weight, &p.Stock, &p.IsRare, &p.Points,
		&p.ItemType, &p.ItemAmount, &p.BadgeKey, &p.BadgeTier, &p.Enabled, &p.SortOrder)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanDraw(row pgx.Row) (*Draw, error) {
	var d Draw
	err := row.Scan(&d.ID, &d.PoolID, &d.UserID, &d.Mode, &d.PrizeID, &d.PrizeKind, &d.PrizeName,
		&d.Cost, &d.PointsAwarded, &d.IsRare, &d.UsedTicket, &d.BadgeSubstituted, &d.APIKeyCodeID,
		&d.Status, &d.RequestID, &d.CreatedAt, &d.RevealedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
