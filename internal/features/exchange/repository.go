// Package exchange — repository.go работает с таблицами exchange_items и exchange_records.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
)

const itemColumns = `id, item_key, name, description, cost, reward_type, reward_key, reward_amount,
	stock, daily_limit, total_limit, is_active, sort_order, created_at`

var insertRecordSQL = postgres.Upsert{
	Table:     "exchange_records",
	Columns:   []string{"user_id", "item_id", "quantity", "cost", "request_id"},
	Conflict:  []string{"request_id"},
	Policy:    postgres.ConflictIgnore,
	Returning: []string{"id", "created_at"},
}.SQL()

// Repository работает с магазином.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий магазина.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ListItems возвращает товары по порядку витрины.
func (r *Repository) ListItems(ctx context.Context, includeInactive bool) ([]*Item, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+itemColumns+`
		FROM exchange_items
		WHERE $1 OR is_active
		ORDER BY sort_order, id
	`, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения товаров: %w", err)
	}
	items, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Item])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения товаров: %w", err)
	}
	return items, nil
}

// LockItem блокирует товар по ключу до конца транзакции. nil — товара нет.
func (r *Repository) LockItem(ctx context.Context, q postgres.DBTX, itemKey string) (*Item, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM exchange_items WHERE item_key = $1 FOR UPDATE`, itemKey)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения товара: %w", err)
	}
	item, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Item])
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения товара: %w", err)
	}
	return item, nil
}

// GetItemByID возвращает товар по id или nil.
func (r *Repository) GetItemByID(ctx context.Context, id int64) (*Item, error) {
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM exchange_items WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения товара: %w", err)
	}
	item, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Item])
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения товара: %w", err)
	}
	return item, nil
}

// SaveItem создаёт товар (ID == 0) или обновляет существующий.
func (r *Repository) SaveItem(ctx context.Context, it *Item) error {
	if it.ID == 0 {
		err := r.db.QueryRow(ctx, `
			INSERT INTO exchange_items (item_key, name, description, cost, reward_type, reward_key,
				reward_amount, stock, daily_limit, total_limit, is_active, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id, created_at
		`, it.ItemKey, it.Name, it.Description, it.Cost, string(it.RewardType), it.RewardKey,
			it.RewardAmount, it.Stock, it.DailyLimit, it.TotalLimit, it.IsActive, it.SortOrder,
		).Scan(&it.ID, &it.CreatedAt)
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("%w: товар %q уже есть", common.ErrInvalidInput, it.ItemKey)
		}
		if err != nil {
			return fmt.Errorf("ошибка создания товара: %w", err)
		}
		return nil
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE exchange_items
		SET name = $2, description = $3, cost = $4, reward_type = $5, reward_key = $6,
		    reward_amount = $7, stock = $8, daily_limit = $9, total_limit = $10,
		    is_active = $11, sort_order = $12
		WHERE id = $1
	`, it.ID, it.Name, it.Description, it.Cost, string(it.RewardType), it.RewardKey,
		it.RewardAmount, it.Stock, it.DailyLimit, it.TotalLimit, it.IsActive, it.SortOrder)
	if err != nil {
		return fmt.Errorf("ошибка обновления товара: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// TakeStock уменьшает остаток товара. Товар уже заблокирован вызывающим.
func (r *Repository) TakeStock(ctx context.Context, q postgres.DBTX, itemID int64, quantity int) error {
	if _, err := q.Exec(ctx, `
		UPDATE exchange_items SET stock = stock - $2
		WHERE id = $1 AND stock IS NOT NULL
	`, itemID, quantity); err != nil {
		return fmt.Errorf("ошибка списания остатка: %w", err)
	}
	return nil
}

// Purchased — сколько штук товара пользователь взял начиная с since.
// Нулевое since — за всё время.
func (r *Repository) Purchased(ctx context.Context, q postgres.DBTX, userID, itemID int64, since time.Time) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM exchange_records
		WHERE user_id = $1 AND item_id = $2 AND created_at >= $3
	`, userID, itemID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта покупок: %w", err)
	}
	return n, nil
}

// FindByRequestID возвращает запись обмена по request_id или nil.
func (r *Repository) FindByRequestID(ctx context.Context, q postgres.DBTX, requestID string) (*Record, error) {
	var rec Record
	err := q.QueryRow(ctx, `
		SELECT r.id, r.user_id, r.item_id, r.quantity, r.cost, r.request_id, r.created_at, i.name
		FROM exchange_records r
		JOIN exchange_items i ON i.id = r.item_id
		WHERE r.request_id = $1
	`, requestID).Scan(&rec.ID, &rec.UserID, &rec.ItemID, &rec.Quantity, &rec.Cost, &rec.RequestID, &rec.CreatedAt, &rec.ItemName)
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска обмена: %w", err)
	}
	return &rec, nil
}

// InsertRecord сохраняет обмен. false — request_id уже занят.
func (r *Repository) InsertRecord(ctx context.Context, q postgres.DBTX, rec *Record) (bool, error) {
	err := q.QueryRow(ctx, insertRecordSQL, rec.UserID, rec.ItemID, rec.Quantity, rec.Cost, rec.RequestID).
		Scan(&rec.ID, &rec.CreatedAt)
	if postgres.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка сохранения обмена: %w", err)
	}
	return true, nil
}

// History возвращает последние обмены пользователя.
func (r *Repository) History(ctx context.Context, userID int64, limit int) ([]*Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT r.id, r.user_id, r.item_id, r.quantity, r.cost, r.request_id, r.created_at, i.name
		FROM exchange_records r
		JOIN exchange_items i ON i.id = r.item_id
		WHERE r.user_id = $1
		ORDER BY r.id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения обменов: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ItemID, &rec.Quantity, &rec.Cost,
			&rec.RequestID, &rec.CreatedAt, &rec.ItemName); err != nil {
			return nil, fmt.Errorf("ошибка чтения обмена: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
