// Package economy — repository.go выполняет операции с таблицами balances и ledger_entries.
// Методы, меняющие баланс, принимают postgres.DBTX и вызываются внутри
// транзакции вызывающего: одна пользовательская операция — одна транзакция.
package economy

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/points-engine/internal/db/postgres"
)

const entryColumns = `id, user_id, amount, balance_after, reason, ref_type, ref_id,
	request_id, description, created_at`

var ensureBalanceSQL = postgres.Upsert{
	Table:    "balances",
	Columns:  []string{"user_id"},
	Conflict: []string{"user_id"},
	Policy:   postgres.ConflictIgnore,
}.SQL()

var insertEntrySQL = postgres.Upsert{
	Table: "ledger_entries",
	Columns: []string{
		"user_id", "amount", "balance_after", "reason",
		"ref_type", "ref_id", "request_id", "description",
	},
	Conflict:  []string{"request_id"},
	Policy:    postgres.ConflictIgnore,
	Returning: []string{"id", "created_at"},
}.SQL()

// Repository предоставляет методы для работы с балансами и леджером.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий экономики.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// LockBalance блокирует строку баланса до конца транзакции (FOR UPDATE).
// Если строки нет, она создаётся с нулевым балансом, всё под той же блокировкой.
func (r *Repository) LockBalance(ctx context.Context, q postgres.DBTX, userID int64) (*Balance, error) {
	if _, err := q.Exec(ctx, ensureBalanceSQL, userID); err != nil {
		return nil, fmt.Errorf("ошибка создания баланса: %w", err)
	}

	var b Balance
	err := q.QueryRow(ctx, `
		SELECT id, user_id, balance, total_earned, total_spent, created_at, updated_at
		FROM balances
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&b.ID, &b.UserID, &b.Balance, &b.TotalEarned, &b.TotalSpent, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки баланса: %w", err)
	}
	return &b, nil
}

// FindByRequestID ищет запись по ключу идемпотентности.
// Возвращает nil без ошибки, если записи нет.
func (r *Repository) FindByRequestID(ctx context.Context, q postgres.DBTX, requestID string) (*Entry, error) {
	rows, err := q.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE request_id = $1`, requestID)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска записи леджера: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// InsertEntry добавляет запись в леджер.
// Возвращает false, если request_id уже занят (запись не вставлена).
func (r *Repository) InsertEntry(ctx context.Context, q postgres.DBTX, e *Entry) (bool, error) {
	err := q.QueryRow(ctx, insertEntrySQL,
		e.UserID, e.Amount, e.BalanceAfter, e.Reason,
		e.RefType, e.RefID, e.RequestID, e.Description,
	).Scan(&e.ID, &e.CreatedAt)
	if postgres.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка записи в леджер: %w", err)
	}
	return true, nil
}

// ApplyDelta меняет кэш баланса на delta и обновляет итоги.
// CHECK-ограничения таблицы не дадут балансу уйти в минус.
func (r *Repository) ApplyDelta(ctx context.Context, q postgres.DBTX, userID, delta int64) error {
	tag, err := q.Exec(ctx, `
		UPDATE balances
		SET balance = balance + $2,
		    total_earned = total_earned + GREATEST($2, 0),
		    total_spent = total_spent + GREATEST(-$2, 0),
		    updated_at = NOW()
		WHERE user_id = $1
	`, userID, delta)
	if err != nil {
		return fmt.Errorf("ошибка обновления баланса: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("баланс пользователя %d не найден", userID)
	}
	return nil
}

// GetBalance возвращает текущий баланс. Нет строки — баланс 0.
func (r *Repository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT balance FROM balances WHERE user_id = $1`, userID).Scan(&balance)
	if postgres.IsNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	return balance, nil
}

// GetTotalStats возвращает строку баланса или нулевую, если её ещё нет.
func (r *Repository) GetTotalStats(ctx context.Context, userID int64) (*Balance, error) {
	var b Balance
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, balance, total_earned, total_spent, created_at, updated_at
		FROM balances
		WHERE user_id = $1
	`, userID).Scan(&b.ID, &b.UserID, &b.Balance, &b.TotalEarned, &b.TotalSpent, &b.CreatedAt, &b.UpdatedAt)
	if postgres.IsNoRows(err) {
		return &Balance{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}
	return &b, nil
}

// GetEntries возвращает записи пользователя, новые первыми.
func (r *Repository) GetEntries(ctx context.Context, userID int64, limit, offset int) ([]*Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	return scanEntries(rows)
}

// CountEntries возвращает число записей пользователя.
func (r *Repository) CountEntries(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}
	return n, nil
}

// SumSince возвращает начисления и списания пользователя начиная с since.
func (r *Repository) SumSince(ctx context.Context, userID int64, since time.Time) (earned, spent int64, err error) {
	err = r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE amount > 0), 0),
		       COALESCE(-SUM(amount) FILTER (WHERE amount < 0), 0)
		FROM ledger_entries
		WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&earned, &spent)
	if err != nil {
		return 0, 0, fmt.Errorf("ошибка подсчёта за период: %w", err)
	}
	return earned, spent, nil
}

// LedgerSum возвращает сумму всех записей пользователя.
// Используется для сверки кэша баланса с леджером.
func (r *Repository) LedgerSum(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1`, userID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("ошибка сверки леджера: %w", err)
	}
	return sum, nil
}

// GetReasonTotals группирует записи за период по причинам.
func (r *Repository) GetReasonTotals(ctx context.Context, from, to time.Time) ([]*ReasonTotal, error) {
	rows, err := r.db.Query(ctx, `
		SELECT reason, COUNT(*), COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY reason
		ORDER BY reason
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения итогов: %w", err)
	}
	defer rows.Close()

	var totals []*ReasonTotal
	for rows.Next() {
		var t ReasonTotal
		if err := rows.Scan(&t.Reason, &t.Count, &t.Sum); err != nil {
			return nil, fmt.Errorf("ошибка сканирования итогов: %w", err)
		}
		totals = append(totals, &t)
	}
	return totals, rows.Err()
}

// CountActiveUsers возвращает число пользователей с операциями за период.
func (r *Repository) CountActiveUsers(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(DISTINCT user_id)
		FROM ledger_entries
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта активных пользователей: %w", err)
	}
	return n, nil
}

func scanEntries(rows pgx.Rows) ([]*Entry, error) {
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		err := rows.Scan(
			&e.ID, &e.UserID, &e.Amount, &e.BalanceAfter, &e.Reason,
			&e.RefType, &e.RefID, &e.RequestID, &e.Description, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи леджера: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
