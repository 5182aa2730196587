// Package prediction — repository.go работает с таблицами prediction_markets,
// prediction_options и prediction_bets.
package prediction

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"serotonyl.ru/points-engine/internal/db/postgres"
)

const marketColumns = `id, title, description, status, fee_rate, min_bet, max_bet, total_pool,
	opens_at, closes_at, settled_at, created_by, created_at, updated_at`

const optionColumns = `id, market_id, label, sort_order, total_stake, odds, is_winner, created_at`

const betColumns = `id, market_id, option_id, user_id, stake, payout, status, request_id, created_at, settled_at`

var insertBetSQL = postgres.Upsert{
	Table:     "prediction_bets",
	Columns:   []string{"market_id", "option_id", "user_id", "stake", "request_id"},
	Conflict:  []string{"request_id"},
	Policy:    postgres.ConflictIgnore,
	Returning: []string{"id", "status", "created_at"},
}.SQL()

// Repository работает с рынками прогнозов.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий рынков.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateMarket добавляет рынок в статусе draft.
func (r *Repository) CreateMarket(ctx context.Context, q postgres.DBTX, m *Market) error {
	err := q.QueryRow(ctx, `
		INSERT INTO prediction_markets
			(title, description, status, fee_rate, min_bet, max_bet, opens_at, closes_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, m.Title, m.Description, m.Status, m.FeeRate, m.MinBet, m.MaxBet, m.OpensAt, m.ClosesAt, m.CreatedBy,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания рынка: %w", err)
	}
	return nil
}

// InsertOption добавляет вариант исхода.
func (r *Repository) InsertOption(ctx context.Context, q postgres.DBTX, marketID int64, label string, sortOrder int) (*Option, error) {
	o, err := scanOption(q.QueryRow(ctx, `
		INSERT INTO prediction_options (market_id, label, sort_order)
		VALUES ($1, $2, $3)
		RETURNING `+optionColumns, marketID, label, sortOrder))
	if err != nil {
		return nil, fmt.Errorf("ошибка добавления варианта: %w", err)
	}
	return o, nil
}

// GetMarket возвращает рынок или nil. forUpdate блокирует строку до конца транзакции.
func (r *Repository) GetMarket(ctx context.Context, q postgres.DBTX, id int64, forUpdate bool) (*Market, error) {
	sql := `SELECT ` + marketColumns + ` FROM prediction_markets WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	m, err := scanMarket(q.QueryRow(ctx, sql, id))
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения рынка: %w", err)
	}
	return m, nil
}

// ListMarkets возвращает рынки, новые первыми. Пустой статус — все.
func (r *Repository) ListMarkets(ctx context.Context, status MarketStatus, limit int) ([]*Market, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+marketColumns+`
		FROM prediction_markets
		WHERE $1::text = '' OR status = $1::text
		ORDER BY id DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения рынков: %w", err)
	}
	defer rows.Close()

	var markets []*Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения рынка: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Transition переводит рынок из одного из статусов from в to.
// Возвращает false, если статус уже другой: переход сделал кто-то раньше.
func (r *Repository) Transition(ctx context.Context, q postgres.DBTX, id int64, from []MarketStatus, to MarketStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	tag, err := q.Exec(ctx, `
		UPDATE prediction_markets
		SET status = $2,
		    settled_at = CASE WHEN $2 IN ('settled', 'canceled') THEN NOW() ELSE settled_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, string(to), allowed)
	if err != nil {
		return false, fmt.Errorf("ошибка смены статуса рынка: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpiredOpen возвращает id открытых рынков, чей срок приёма ставок истёк.
func (r *Repository) ExpiredOpen(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM prediction_markets
		WHERE status = 'open' AND closes_at IS NOT NULL AND closes_at <= $1
		ORDER BY id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска истёкших рынков: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ListOptions возвращает варианты рынка по порядку.
func (r *Repository) ListOptions(ctx context.Context, q postgres.DBTX, marketID int64) ([]*Option, error) {
	rows, err := q.Query(ctx, `
		SELECT `+optionColumns+`
		FROM prediction_options
		WHERE market_id = $1
		ORDER BY sort_order, id
	`, marketID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения вариантов: %w", err)
	}
	defer rows.Close()

	var options []*Option
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения варианта: %w", err)
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

// AddStake атомарно увеличивает сумму ставок варианта и пул рынка.
func (r *Repository) AddStake(ctx context.Context, q postgres.DBTX, marketID, optionID, stake int64) (pool int64, err error) {
	if _, err := q.Exec(ctx, `
		UPDATE prediction_options SET total_stake = total_stake + $2 WHERE id = $1
	`, optionID, stake); err != nil {
		return 0, fmt.Errorf("ошибка обновления варианта: %w", err)
	}
	err = q.QueryRow(ctx, `
		UPDATE prediction_markets
		SET total_pool = total_pool + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING total_pool
	`, marketID, stake).Scan(&pool)
	if err != nil {
		return 0, fmt.Errorf("ошибка обновления пула: %w", err)
	}
	return pool, nil
}

// SetOdds сохраняет коэффициент варианта.
func (r *Repository) SetOdds(ctx context.Context, q postgres.DBTX, optionID int64, odds decimal.NullDecimal) error {
	if _, err := q.Exec(ctx, `UPDATE prediction_options SET odds = $2 WHERE id = $1`, optionID, odds); err != nil {
		return fmt.Errorf("ошибка обновления коэффициента: %w", err)
	}
	return nil
}

// MarkWinners отмечает выигравшие варианты и сбрасывает коэффициенты.
func (r *Repository) MarkWinners(ctx context.Context, q postgres.DBTX, marketID int64, winners []int64) error {
	if _, err := q.Exec(ctx, `
		UPDATE prediction_options
		SET is_winner = (id = ANY($2)), odds = NULL
		WHERE market_id = $1
	`, marketID, winners); err != nil {
		return fmt.Errorf("ошибка отметки победителей: %w", err)
	}
	return nil
}

// FindBetByRequestID возвращает ставку по request_id или nil.
func (r *Repository) FindBetByRequestID(ctx context.Context, q postgres.DBTX, requestID string) (*Bet, error) {
	b, err := scanBet(q.QueryRow(ctx, `SELECT `+betColumns+` FROM prediction_bets WHERE request_id = $1`, requestID))
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска ставки: %w", err)
	}
	return b, nil
}

// InsertBet сохраняет ставку. false — request_id уже занят.
func (r *Repository) InsertBet(ctx context.Context, q postgres.DBTX, b *Bet) (bool, error) {
	err := q.QueryRow(ctx, insertBetSQL, b.MarketID, b.OptionID, b.UserID, b.Stake, b.RequestID).
		Scan(&b.ID, &b.Status, &b.CreatedAt)
	if postgres.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка сохранения ставки: %w", err)
	}
	return true, nil
}

// LockPlacedBets блокирует нерассчитанные ставки рынка.
// Порядок по user_id совпадает с порядком блокировки балансов при выплатах.
func (r *Repository) LockPlacedBets(ctx context.Context, q postgres.DBTX, marketID int64) ([]*Bet, error) {
	rows, err := q.Query(ctx, `
		SELECT `+betColumns+`
		FROM prediction_bets
		WHERE market_id = $1 AND status = 'placed'
		ORDER BY user_id, id
		FOR UPDATE
	`, marketID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ставок: %w", err)
	}
	defer rows.Close()

	var bets []*Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения ставки: %w", err)
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// ResolveBet фиксирует результат ставки.
func (r *Repository) ResolveBet(ctx context.Context, q postgres.DBTX, betID int64, status BetStatus, payout int64) error {
	if _, err := q.Exec(ctx, `
		UPDATE prediction_bets
		SET status = $2, payout = $3, settled_at = NOW()
		WHERE id = $1 AND status = 'placed'
	`, betID, string(status), payout); err != nil {
		return fmt.Errorf("ошибка расчёта ставки: %w", err)
	}
	return nil
}

// Counts возвращает число участников и ставок рынка.
func (r *Repository) Counts(ctx context.Context, marketID int64) (participants, bets int, err error) {
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(DISTINCT user_id), COUNT(*)
		FROM prediction_bets
		WHERE market_id = $1
	`, marketID).Scan(&participants, &bets)
	if err != nil {
		return 0, 0, fmt.Errorf("ошибка подсчёта ставок: %w", err)
	}
	return participants, bets, nil
}

// UserBets возвращает последние ставки пользователя.
func (r *Repository) UserBets(ctx context.Context, userID int64, limit int) ([]*UserBet, error) {
	rows, err := r.db.Query(ctx, `
		SELECT b.id, b.market_id, b.option_id, b.user_id, b.stake, b.payout, b.status,
		       b.request_id, b.created_at, b.settled_at,
		       m.title, m.status, o.label
		FROM prediction_bets b
		JOIN prediction_markets m ON m.id = b.market_id
		JOIN prediction_options o ON o.id = b.option_id
		WHERE b.user_id = $1
		ORDER BY b.id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ставок: %w", err)
	}
	defer rows.Close()

	var bets []*UserBet
	for rows.Next() {
		var ub UserBet
		if err := rows.Scan(
			&ub.ID, &ub.MarketID, &ub.OptionID, &ub.UserID, &ub.Stake, &ub.Payout, &ub.Status,
			&ub.RequestID, &ub.CreatedAt, &ub.SettledAt,
			&ub.MarketTitle, &ub.MarketStatus, &ub.OptionLabel,
		); err != nil {
			return nil, fmt.Errorf("ошибка чтения ставки: %w", err)
		}
		bets = append(bets, &ub)
	}
	return bets, rows.Err()
}

func scanMarket(row pgx.Row) (*Market, error) {
	var m Market
	err := row.Scan(
		&m.ID, &m.Title, &m.Description, &m.Status, &m.FeeRate, &m.MinBet, &m.MaxBet, &m.TotalPool,
		&m.OpensAt, &m.ClosesAt, &m.SettledAt, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanOption(row pgx.Row) (*Option, error) {
	var o Option
	err := row.Scan(&o.ID, &o.MarketID, &o.Label, &o.SortOrder, &o.TotalStake, &o.Odds, &o.IsWinner, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanBet(row pgx.Row) (*Bet, error) {
	var b Bet
	err := row.Scan(
		&b.ID, &b.MarketID, &b.OptionID, &b.UserID, &b.Stake, &b.Payout, &b.Status,
		&b.RequestID, &b.CreatedAt, &b.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
