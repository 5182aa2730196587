// Package inventory — repository.go работает с таблицами user_items, user_tickets,
// user_badges и api_key_codes. Выдача идёт внутри транзакции вызывающего.
package inventory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
)

var grantItemSQL = postgres.Upsert{
	Table:    "user_items",
	Columns:  []string{"user_id", "item_type", "quantity"},
	Conflict: []string{"user_id", "item_type"},
	Policy:   postgres.ConflictMerge,
	Merge:    "quantity = user_items.quantity + EXCLUDED.quantity, updated_at = NOW()",
}.SQL()

var addTicketsSQL = postgres.Upsert{
	Table:    "user_tickets",
	Columns:  []string{"user_id", "ticket_type", "quantity"},
	Conflict: []string{"user_id", "ticket_type"},
	Policy:   postgres.ConflictMerge,
	Merge:    "quantity = user_tickets.quantity + EXCLUDED.quantity, updated_at = NOW()",
}.SQL()

var grantBadgeSQL = postgres.Upsert{
	Table:     "user_badges",
	Columns:   []string{"user_id", "badge_key", "tier", "source"},
	Conflict:  []string{"user_id", "badge_key"},
	Policy:    postgres.ConflictIgnore,
	Returning: []string{"id"},
}.SQL()

// Repository работает с инвентарём.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий инвентаря.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GrantItem добавляет предметы (количество складывается).
func (r *Repository) GrantItem(ctx context.Context, q postgres.DBTX, userID int64, itemType string, amount int) error {
	if amount <= 0 {
		return common.ErrInvalidAmount
	}
	if _, err := q.Exec(ctx, grantItemSQL, userID, itemType, amount); err != nil {
		return fmt.Errorf("ошибка выдачи предмета: %w", err)
	}
	return nil
}

// AddTickets начисляет билеты.
func (r *Repository) AddTickets(ctx context.Context, q postgres.DBTX, userID int64, t TicketType, amount int) error {
	if !t.Valid() {
		return fmt.Errorf("%w: неизвестный билет %q", common.ErrInvalidInput, t)
	}
	if amount <= 0 {
		return common.ErrInvalidAmount
	}
	if _, err := q.Exec(ctx, addTicketsSQL, userID, t, amount); err != nil {
		return fmt.Errorf("ошибка начисления билетов: %w", err)
	}
	return nil
}

// UseTicket списывает один билет условным UPDATE.
// Нет билета — common.ErrNoTickets.
func (r *Repository) UseTicket(ctx context.Context, q postgres.DBTX, userID int64, t TicketType) error {
	tag, err := q.Exec(ctx, `
		UPDATE user_tickets
		SET quantity = quantity - 1, updated_at = NOW()
		WHERE user_id = $1 AND ticket_type = $2 AND quantity > 0
	`, userID, t)
	if err != nil {
		return fmt.Errorf("ошибка списания билета: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNoTickets
	}
	return nil
}

// UseItem списывает один предмет условным UPDATE.
// Предмета нет — common.ErrNoItems.
func (r *Repository) UseItem(ctx context.Context, q postgres.DBTX, userID int64, itemType string) error {
	tag, err := q.Exec(ctx, `
		UPDATE user_items
		SET quantity = quantity - 1, updated_at = NOW()
		WHERE user_id = $1 AND item_type = $2 AND quantity > 0
	`, userID, itemType)
	if err != nil {
		return fmt.Errorf("ошибка списания предмета: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNoItems
	}
	return nil
}

// HasBadge проверяет, есть ли у пользователя значок.
func (r *Repository) HasBadge(ctx context.Context, q postgres.DBTX, userID int64, badgeKey string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM user_badges WHERE user_id = $1 AND badge_key = $2)`,
		userID, badgeKey,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки значка: %w", err)
	}
	return exists, nil
}

// GrantBadge выдаёт значок. false — значок уже был.
func (r *Repository) GrantBadge(ctx context.Context, q postgres.DBTX, userID int64, badgeKey string, tier BadgeTier, source string) (bool, error) {
	var id int64
	err := q.QueryRow(ctx, grantBadgeSQL, userID, badgeKey, tier, source).Scan(&id)
	if postgres.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка выдачи значка: %w", err)
	}
	return true, nil
}

// LockBadge читает значок с блокировкой строки.
func (r *Repository) LockBadge(ctx context.Context, q postgres.DBTX, userID int64, badgeKey string) (*Badge, error) {
	var b Badge
	err := q.QueryRow(ctx, `
		SELECT id, user_id, badge_key, tier, source, exchanged_at, created_at
		FROM user_badges
		WHERE user_id = $1 AND badge_key = $2
		FOR UPDATE
	`, userID, badgeKey).Scan(&b.ID, &b.UserID, &b.BadgeKey, &b.Tier, &b.Source, &b.ExchangedAt, &b.CreatedAt)
	if postgres.IsNoRows(err) {
		return nil, common.ErrBadgeNotOwned
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения значка: %w", err)
	}
	return &b, nil
}

// MarkBadgeExchanged помечает значок обменянным.
func (r *Repository) MarkBadgeExchanged(ctx context.Context, q postgres.DBTX, badgeID int64) error {
	tag, err := q.Exec(ctx,
		`UPDATE user_badges SET exchanged_at = NOW() WHERE id = $1 AND exchanged_at IS NULL`, badgeID)
	if err != nil {
		return fmt.Errorf("ошибка обмена значка: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrBadgeExchanged
	}
	return nil
}

// AssignAPIKey закрепляет за пользователем первый свободный код.
// Параллельные розыгрыши пропускают уже заблокированные строки.
// Возвращает nil без ошибки, если свободных кодов нет.
func (r *Repository) AssignAPIKey(ctx context.Context, q postgres.DBTX, userID int64) (*APIKeyCode, error) {
	var k APIKeyCode
	err := q.QueryRow(ctx, `
		UPDATE api_key_codes
		SET status = 'assigned', assigned_user_id = $1, assigned_at = NOW()
		WHERE id = (
			SELECT id FROM api_key_codes
			WHERE status = 'available'
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = 'available'
		RETURNING id, code, quota, status, description, assigned_user_id, assigned_at
	`, userID).Scan(&k.ID, &k.Code, &k.Quota, &k.Status, &k.Description, &k.AssignedUserID, &k.AssignedAt)
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка выдачи API-ключа: %w", err)
	}
	return &k, nil
}

// AddAPIKeys загружает коды в пул. Дубликаты пропускаются.
func (r *Repository) AddAPIKeys(ctx context.Context, codes []string, quota *decimal.Decimal, description string) (int, error) {
	added := 0
	for _, code := range codes {
		tag, err := r.db.Exec(ctx, `
			INSERT INTO api_key_codes (code, quota, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (code) DO NOTHING
		`, code, quota, description)
		if err != nil {
			return added, fmt.Errorf("ошибка добавления кода: %w", err)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

// CountAvailableKeys — сколько кодов ещё можно выдать.
func (r *Repository) CountAvailableKeys(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM api_key_codes WHERE status = 'available'`).Scan(&n)
	return n, err
}

// GetItems возвращает предметы пользователя.
func (r *Repository) GetItems(ctx context.Context, userID int64) ([]*Item, error) {
	rows, err := r.db.Query(ctx, `
		SELECT item_type, quantity, updated_at
		FROM user_items
		WHERE user_id = $1 AND quantity > 0
		ORDER BY item_type
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения предметов: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ItemType, &it.Quantity, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// GetTickets возвращает билеты пользователя.
func (r *Repository) GetTickets(ctx context.Context, userID int64) ([]*Ticket, error) {
	rows, err := r.db.Query(ctx, `
		SELECT ticket_type, quantity
		FROM user_tickets
		WHERE user_id = $1 AND quantity > 0
		ORDER BY ticket_type
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения билетов: %w", err)
	}
	defer rows.Close()

	var tickets []*Ticket
	for rows.Next() {
		var t Ticket
		if err := rows.Scan(&t.TicketType, &t.Quantity); err != nil {
			return nil, err
		}
		tickets = append(tickets, &t)
	}
	return tickets, rows.Err()
}

// GetBadges возвращает значки пользователя, новые первыми.
func (r *Repository) GetBadges(ctx context.Context, userID int64) ([]*Badge, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, badge_key, tier, source, exchanged_at, created_at
		FROM user_badges
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения значков: %w", err)
	}
	defer rows.Close()

	var badges []*Badge
	for rows.Next() {
		var b Badge
		if err := rows.Scan(&b.ID, &b.UserID, &b.BadgeKey, &b.Tier, &b.Source, &b.ExchangedAt, &b.CreatedAt); err != nil {
			return nil, err
		}
		badges = append(badges, &b)
	}
	return badges, rows.Err()
}

// GetAPIKeys возвращает выданные пользователю коды.
func (r *Repository) GetAPIKeys(ctx context.Context, userID int64) ([]*APIKeyCode, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, code, quota, status, description, assigned_user_id, assigned_at
		FROM api_key_codes
		WHERE assigned_user_id = $1
		ORDER BY assigned_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения API-ключей: %w", err)
	}
	defer rows.Close()

	var keys []*APIKeyCode
	for rows.Next() {
		var k APIKeyCode
		if err := rows.Scan(&k.ID, &k.Code, &k.Quota, &k.Status, &k.Description, &k.AssignedUserID, &k.AssignedAt); err != nil {
			return nil, err
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}
