// Package tasks — repository.go работает с таблицами task_definitions,
// user_task_progress, user_task_claims и user_task_events.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
)

const definitionColumns = `id, task_key, name, description, schedule, task_type, target_value,
	reward_points, is_active, auto_claim, sort_order, starts_at, ends_at,
	chain_group_key, chain_requires_group_key, created_by, created_at, updated_at`

const progressColumns = `id, user_id, task_id, period_start, period_end, progress_value,
	target_value, completed_at, claimed_at, last_event_at`

// Активно ли задание в момент $N
const activeWindow = `is_active = TRUE
	AND (starts_at IS NULL OR starts_at <= %[1]s)
	AND (ends_at IS NULL OR ends_at >= %[1]s)`

// Событие учитывается один раз на (пользователь, период, тип, ключ)
var insertEventSQL = postgres.Upsert{
	Table:     "user_task_events",
	Columns:   []string{"user_id", "schedule", "period_start", "task_type", "event_key", "ref_type", "ref_id"},
	Conflict:  []string{"user_id", "schedule", "period_start", "task_type", "event_key"},
	Policy:    postgres.ConflictIgnore,
	Returning: []string{"id"},
}.SQL()

// Прогресс складывается и упирается в цель; completed_at ставится один раз.
// $9 — прирост.
var incrementProgressSQL = postgres.Upsert{
	Table: "user_task_progress",
	Columns: []string{
		"user_id", "task_id", "period_start", "period_end",
		"progress_value", "target_value", "completed_at", "last_event_at",
	},
	Conflict: []string{"user_id", "task_id", "period_start"},
	Policy:   postgres.ConflictMerge,
	Merge: `period_end = EXCLUDED.period_end,
		target_value = EXCLUDED.target_value,
		progress_value = LEAST(EXCLUDED.target_value, user_task_progress.progress_value + $9),
		completed_at = CASE
			WHEN user_task_progress.completed_at IS NULL
			 AND LEAST(EXCLUDED.target_value, user_task_progress.progress_value + $9) >= EXCLUDED.target_value
			THEN EXCLUDED.last_event_at
			ELSE user_task_progress.completed_at
		END,
		last_event_at = EXCLUDED.last_event_at`,
	Returning: []string{progressColumns},
}.SQL()

// Без целевого ключа: конфликт и по периоду, и по request_id гасится одинаково
var insertClaimSQL = postgres.Upsert{
	Table:     "user_task_claims",
	Columns:   []string{"user_id", "task_id", "period_start", "reward_points", "request_id", "claimed_at"},
	Policy:    postgres.ConflictIgnore,
	Returning: []string{"id"},
}.SQL()

// Repository работает с таблицами заданий.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий заданий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// InsertEvent пишет строку дедупликации. false — событие уже учтено в этом периоде.
func (r *Repository) InsertEvent(ctx context.Context, q postgres.DBTX, ev Event, p Period) (bool, error) {
	var refType *string
	var refID *int64
	if ev.RefType != "" {
		refType = &ev.RefType
	}
	if ev.RefID != 0 {
		refID = &ev.RefID
	}

	var id int64
	err := q.QueryRow(ctx, insertEventSQL,
		ev.UserID, p.Schedule, p.Start, ev.TaskType, ev.EventKey, refType, refID,
	).Scan(&id)
	if postgres.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка записи события: %w", err)
	}
	return true, nil
}

// MatchDefinitions возвращает активные задания периода данного типа.
func (r *Repository) MatchDefinitions(ctx context.Context, q postgres.DBTX, schedule Schedule, taskType TaskType, now time.Time) ([]*Definition, error) {
	rows, err := q.Query(ctx, `
		SELECT `+definitionColumns+`
		FROM task_definitions
		WHERE schedule = $1 AND task_type = $2 AND `+fmt.Sprintf(activeWindow, "$3")+`
		ORDER BY sort_order, id
	`, schedule, taskType, now)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска заданий: %w", err)
	}
	return scanDefinitions(rows)
}

// GroupDefinitions возвращает активные задания группы (кроме самих цепочек).
func (r *Repository) GroupDefinitions(ctx context.Context, q postgres.DBTX, schedule Schedule, groupKey string, now time.Time) ([]*Definition, error) {
	rows, err := q.Query(ctx, `
		SELECT `+definitionColumns+`
		FROM task_definitions
		WHERE schedule = $1 AND task_type <> $2 AND chain_group_key = $3 AND `+fmt.Sprintf(activeWindow, "$4")+`
		ORDER BY sort_order, id
	`, schedule, TypeChainBonus, groupKey, now)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска группы заданий: %w", err)
	}
	return scanDefinitions(rows)
}

// CompletedTaskIDs возвращает выполненные в периоде задания из списка.
func (r *Repository) CompletedTaskIDs(ctx context.Context, q postgres.DBTX, userID int64, periodStart time.Time, taskIDs []int64) ([]int64, error) {
	rows, err := q.Query(ctx, `
		SELECT task_id
		FROM user_task_progress
		WHERE user_id = $1 AND period_start = $2 AND task_id = ANY($3) AND completed_at IS NOT NULL
	`, userID, periodStart, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта выполненных заданий: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта выполненных заданий: %w", err)
	}
	return ids, nil
}

// IncrementProgress атомарно прибавляет delta к прогрессу периода.
func (r *Repository) IncrementProgress(ctx context.Context, q postgres.DBTX, userID int64, def *Definition, p Period, delta int, now time.Time) (*Progress, error) {
	target := max(1, def.TargetValue)
	initial := min(delta, target)
	var completedAt *time.Time
	if initial >= target {
		completedAt = &now
	}

	row := q.QueryRow(ctx, incrementProgressSQL,
		userID, def.ID, p.Start, p.End, initial, target, completedAt, now, delta,
	)
	progress, err := scanProgress(row)
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления прогресса: %w", err)
	}
	return progress, nil
}

// GetProgress возвращает прогресс периода или nil.
func (r *Repository) GetProgress(ctx context.Context, q postgres.DBTX, userID, taskID int64, periodStart time.Time) (*Progress, error) {
	row := q.QueryRow(ctx, `
		SELECT `+progressColumns+`
		FROM user_task_progress
		WHERE user_id = $1 AND task_id = $2 AND period_start = $3
	`, userID, taskID, periodStart)
	progress, err := scanProgress(row)
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения прогресса: %w", err)
	}
	return progress, nil
}

// ProgressByTasks возвращает прогресс периода по нескольким заданиям.
func (r *Repository) ProgressByTasks(ctx context.Context, userID int64, periodStart time.Time, taskIDs []int64) (map[int64]*Progress, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+progressColumns+`
		FROM user_task_progress
		WHERE user_id = $1 AND period_start = $2 AND task_id = ANY($3)
	`, userID, periodStart, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения прогресса: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*Progress)
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования прогресса: %w", err)
		}
		out[p.TaskID] = p
	}
	return out, rows.Err()
}

// InsertClaim пытается записать получение награды. false — запись уже есть.
func (r *Repository) InsertClaim(ctx context.Context, q postgres.DBTX, c *Claim) (bool, error) {
	err := q.QueryRow(ctx, insertClaimSQL,
		c.UserID, c.TaskID, c.PeriodStart, c.RewardPoints, c.RequestID, c.ClaimedAt,
	).Scan(&c.ID)
	if postgres.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка записи получения награды: %w", err)
	}
	return true, nil
}

// GetClaim возвращает запись о награде за период или nil.
func (r *Repository) GetClaim(ctx context.Context, q postgres.DBTX, userID, taskID int64, periodStart time.Time) (*Claim, error) {
	var c Claim
	err := q.QueryRow(ctx, `
		SELECT id, user_id, task_id, period_start, reward_points, request_id, claimed_at
		FROM user_task_claims
		WHERE user_id = $1 AND task_id = $2 AND period_start = $3
	`, userID, taskID, periodStart).Scan(
		&c.ID, &c.UserID, &c.TaskID, &c.PeriodStart, &c.RewardPoints, &c.RequestID, &c.ClaimedAt,
	)
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения награды: %w", err)
	}
	return &c, nil
}

// MarkClaimed проставляет claimed_at, если он ещё не стоит.
func (r *Repository) MarkClaimed(ctx context.Context, q postgres.DBTX, userID, taskID int64, periodStart, at time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE user_task_progress
		SET claimed_at = COALESCE(claimed_at, $4)
		WHERE user_id = $1 AND task_id = $2 AND period_start = $3
	`, userID, taskID, periodStart, at)
	if err != nil {
		return fmt.Errorf("ошибка отметки получения награды: %w", err)
	}
	return nil
}

// GetDefinition возвращает задание по ID или nil.
func (r *Repository) GetDefinition(ctx context.Context, q postgres.DBTX, id int64) (*Definition, error) {
	rows, err := q.Query(ctx, `SELECT `+definitionColumns+` FROM task_definitions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения задания: %w", err)
	}
	defs, err := scanDefinitions(rows)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, nil
	}
	return defs[0], nil
}

// ListDefinitions возвращает задания; schedule == "" — все периоды.
// Без includeInactive остаются только активные в момент now.
func (r *Repository) ListDefinitions(ctx context.Context, schedule Schedule, includeInactive bool, now time.Time) ([]*Definition, error) {
	query := `SELECT ` + definitionColumns + ` FROM task_definitions WHERE ($1::text = '' OR schedule = $1::text)`
	args := []any{string(schedule)}
	if !includeInactive {
		query += ` AND ` + fmt.Sprintf(activeWindow, "$2")
		args = append(args, now)
	}
	query += ` ORDER BY sort_order, id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заданий: %w", err)
	}
	return scanDefinitions(rows)
}

// CreateDefinition добавляет задание.
func (r *Repository) CreateDefinition(ctx context.Context, d *Definition) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO task_definitions (task_key, name, description, schedule, task_type, target_value,
			reward_points, is_active, auto_claim, sort_order, starts_at, ends_at,
			chain_group_key, chain_requires_group_key, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at
	`, d.TaskKey, d.Name, d.Description, d.Schedule, d.TaskType, d.TargetValue,
		d.RewardPoints, d.IsActive, d.AutoClaim, d.SortOrder, d.StartsAt, d.EndsAt,
		d.ChainGroupKey, d.ChainRequiresGroupKey, d.CreatedBy,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return fmt.Errorf("%w: задание %q уже существует", common.ErrInvalidInput, d.TaskKey)
	}
	if err != nil {
		return fmt.Errorf("ошибка создания задания: %w", err)
	}
	return nil
}

// SaveDefinition перезаписывает изменяемые поля задания.
func (r *Repository) SaveDefinition(ctx context.Context, d *Definition) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE task_definitions
		SET name = $2, description = $3, schedule = $4, task_type = $5, target_value = $6,
		    reward_points = $7, is_active = $8, auto_claim = $9, sort_order = $10,
		    starts_at = $11, ends_at = $12, chain_group_key = $13, chain_requires_group_key = $14,
		    updated_at = NOW()
		WHERE id = $1
	`, d.ID, d.Name, d.Description, d.Schedule, d.TaskType, d.TargetValue,
		d.RewardPoints, d.IsActive, d.AutoClaim, d.SortOrder,
		d.StartsAt, d.EndsAt, d.ChainGroupKey, d.ChainRequiresGroupKey)
	if err != nil {
		return fmt.Errorf("ошибка обновления задания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// PruneEvents удаляет строки дедупликации периодов, начавшихся до before.
func (r *Repository) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_task_events WHERE period_start < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки событий: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanDefinitions(rows pgx.Rows) ([]*Definition, error) {
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		var d Definition
		err := rows.Scan(
			&d.ID, &d.TaskKey, &d.Name, &d.Description, &d.Schedule, &d.TaskType, &d.TargetValue,
			&d.RewardPoints, &d.IsActive, &d.AutoClaim, &d.SortOrder, &d.StartsAt, &d.EndsAt,
			&d.ChainGroupKey, &d.ChainRequiresGroupKey, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования задания: %w", err)
		}
		defs = append(defs, &d)
	}
	return defs, rows.Err()
}

func scanProgress(row pgx.Row) (*Progress, error) {
	var p Progress
	err := row.Scan(
		&p.ID, &p.UserID, &p.TaskID, &p.PeriodStart, &p.PeriodEnd, &p.ProgressValue,
		&p.TargetValue, &p.CompletedAt, &p.ClaimedAt, &p.LastEventAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
