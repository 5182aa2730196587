// Package tasks — service.go: учёт событий, выдача наград и управление заданиями.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
	"serotonyl.ru/points-engine/internal/features/economy"
)

// Service управляет заданиями.
type Service struct {
	db      *pgxpool.Pool
	repo    *Repository
	economy *economy.Service
	loc     *time.Location
	now     func() time.Time
}

// NewService создаёт сервис заданий.
func NewService(db *pgxpool.Pool, repo *Repository, economyService *economy.Service, loc *time.Location) *Service {
	return &Service{db: db, repo: repo, economy: economyService, loc: loc, now: time.Now}
}

func (s *Service) clock() time.Time {
	return s.now().In(s.loc)
}

// RecordEvent засчитывает событие в отдельной транзакции.
func (s *Service) RecordEvent(ctx context.Context, ev Event) (*EventResult, error) {
	var res *EventResult
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		res, err = s.RecordEventTx(ctx, tx, ev)
		return err
	})
	return res, err
}

// Emit засчитывает событие внутри транзакции другой операции (розыгрыш, ставка).
// Событие пишется в точке сохранения: сбой заданий откатывает только её
// и не отменяет саму операцию.
func (s *Service) Emit(ctx context.Context, tx pgx.Tx, ev Event) {
	err := postgres.WithTx(ctx, tx, func(sp pgx.Tx) error {
		_, err := s.RecordEventTx(ctx, sp, ev)
		return err
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user_id":   ev.UserID,
			"task_type": ev.TaskType,
			"event_key": ev.EventKey,
		}).Warn("Не удалось засчитать событие задания")
	}
}

// RecordEventTx засчитывает событие для дневных и недельных заданий.
// Периоды дедуплицируются независимо: одно действие двигает оба.
func (s *Service) RecordEventTx(ctx context.Context, q postgres.DBTX, ev Event) (*EventResult, error) {
	res := &EventResult{}
	if ev.Delta <= 0 {
		return res, nil
	}
	if !ev.TaskType.Valid() || ev.TaskType == TypeChainBonus {
		return nil, fmt.Errorf("%w: тип события %q", common.ErrInvalidInput, ev.TaskType)
	}

	if _, err := s.economy.LockBalanceTx(ctx, q, ev.UserID); err != nil {
		return nil, err
	}

	now := s.clock()
	for _, schedule := range Schedules {
		period := PeriodFor(schedule, now)

		if ev.EventKey != "" {
			inserted, err := s.repo.InsertEvent(ctx, q, ev, period)
			if err != nil {
				return nil, err
			}
			if !inserted {
				res.Skipped++
				continue
			}
		}

		defs, err := s.repo.MatchDefinitions(ctx, q, schedule, ev.TaskType, now)
		if err != nil {
			return nil, err
		}
		for _, def := range defs {
			progress, err := s.repo.IncrementProgress(ctx, q, ev.UserID, def, period, ev.Delta, now)
			if err != nil {
				return nil, err
			}
			res.Updated++

			claimed, err := s.maybeAutoClaim(ctx, q, ev.UserID, def, progress)
			if err != nil {
				return nil, err
			}
			if claimed {
				res.Claimed++
			}
		}

		chainClaimed, err := s.checkChains(ctx, q, ev.UserID, period, now)
		if err != nil {
			return nil, err
		}
		res.Claimed += chainClaimed
	}

	if res.Updated > 0 || res.Claimed > 0 {
		log.WithFields(log.Fields{
			"user_id":   ev.UserID,
			"task_type": ev.TaskType,
			"updated":   res.Updated,
			"claimed":   res.Claimed,
		}).Debug("Событие засчитано заданиям")
	}
	return res, nil
}

func (s *Service) maybeAutoClaim(ctx context.Context, q postgres.DBTX, userID int64, def *Definition, p *Progress) (bool, error) {
	if !def.AutoClaim || p.ClaimedAt != nil || !p.Completed() {
		return false, nil
	}
	res, err := s.ClaimTx(ctx, q, userID, def.ID, "")
	if err != nil {
		return false, err
	}
	return !res.AlreadyClaimed, nil
}

// checkChains закрывает цепочки, у которых выполнены все задания группы.
// Запускается после каждого события: порядок выполнения заданий не гарантирован.
func (s *Service) checkChains(ctx context.Context, q postgres.DBTX, userID int64, p Period, now time.Time) (int, error) {
	chains, err := s.repo.MatchDefinitions(ctx, q, p.Schedule, TypeChainBonus, now)
	if err != nil {
		return 0, err
	}

	claimed := 0
	for _, chain := range chains {
		if chain.ChainRequiresGroupKey == nil || *chain.ChainRequiresGroupKey == "" {
			continue
		}
		current, err := s.repo.GetProgress(ctx, q, userID, chain.ID, p.Start)
		if err != nil {
			return 0, err
		}
		if current.Completed() {
			continue
		}
		group, err := s.repo.GroupDefinitions(ctx, q, p.Schedule, *chain.ChainRequiresGroupKey, now)
		if err != nil {
			return 0, err
		}
		groupIDs := make([]int64, len(group))
		for i, d := range group {
			groupIDs[i] = d.ID
		}
		completed, err := s.repo.CompletedTaskIDs(ctx, q, userID, p.Start, groupIDs)
		if err != nil {
			return 0, err
		}
		if !EvaluateChain(completed, groupIDs) {
			continue
		}

		progress, err := s.repo.IncrementProgress(ctx, q, userID, chain, p, max(1, chain.TargetValue), now)
		if err != nil {
			return 0, err
		}
		ok, err := s.maybeAutoClaim(ctx, q, userID, chain, progress)
		if err != nil {
			return 0, err
		}
		if ok {
			claimed++
			log.WithFields(log.Fields{
				"user_id": userID,
				"chain":   chain.TaskKey,
			}).Info("Цепочка заданий закрыта")
		}
	}
	return claimed, nil
}

// Claim выдаёт награду в отдельной транзакции.
func (s *Service) Claim(ctx context.Context, userID, taskID int64, requestID string) (*ClaimResult, error) {
	var res *ClaimResult
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		res, err = s.ClaimTx(ctx, tx, userID, taskID, requestID)
		return err
	})
	return res, err
}

// ClaimTx выдаёт награду за текущий период.
// Строка в user_task_claims — единственный признак выданной награды;
// повторный вызов возвращает сохранённый результат с AlreadyClaimed.
func (s *Service) ClaimTx(ctx context.Context, q postgres.DBTX, userID, taskID int64, requestID string) (*ClaimResult, error) {
	def, err := s.repo.GetDefinition(ctx, q, taskID)
	if err != nil {
		return nil, err
	}
	if def == nil || !def.IsActive {
		return nil, common.ErrTaskInactive
	}

	now := s.clock()
	period := PeriodFor(def.Schedule, now)
	// Ключ начисления всегда выводится из (user, task, period); ключ клиента
	// хранится только в строке заявки
	ledgerID := ClaimRequestID(userID, taskID, period)
	if requestID == "" {
		requestID = ledgerID
	}
	requestID = common.TruncateRequestID(requestID)

	if _, err := s.economy.LockBalanceTx(ctx, q, userID); err != nil {
		return nil, err
	}

	progress, err := s.repo.GetProgress(ctx, q, userID, taskID, period.Start)
	if err != nil {
		return nil, err
	}
	if !progress.Completed() {
		return nil, common.ErrTaskNotCompleted
	}

	claim := &Claim{
		UserID:       userID,
		TaskID:       taskID,
		PeriodStart:  period.Start,
		RewardPoints: def.RewardPoints,
		RequestID:    requestID,
		ClaimedAt:    now,
	}
	inserted, err := s.repo.InsertClaim(ctx, q, claim)
	if err != nil {
		return nil, err
	}

	if !inserted {
		existing, err := s.repo.GetClaim(ctx, q, userID, taskID, period.Start)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			// request_id занят другой наградой
			return nil, common.ErrDuplicateRequest
		}
		if err := s.repo.MarkClaimed(ctx, q, userID, taskID, period.Start, existing.ClaimedAt); err != nil {
			return nil, err
		}
		return &ClaimResult{
			TaskID:         taskID,
			AlreadyClaimed: true,
			PeriodStart:    period.Key(),
			RewardPoints:   existing.RewardPoints,
			RequestID:      existing.RequestID,
		}, nil
	}

	if def.RewardPoints > 0 {
		_, err := s.economy.CreditTx(ctx, q, economy.Mutation{
			UserID:      userID,
			Amount:      def.RewardPoints,
			Reason:      rewardReason(def.TaskType),
			RefType:     "task_claim",
			RefID:       claim.ID,
			RequestID:   ledgerID,
			Description: "Награда за задание: " + def.Name,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.MarkClaimed(ctx, q, userID, taskID, period.Start, now); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"task":    def.TaskKey,
		"period":  period.Key(),
		"reward":  def.RewardPoints,
	}).Info("Награда за задание выдана")

	return &ClaimResult{
		TaskID:       taskID,
		PeriodStart:  period.Key(),
		RewardPoints: def.RewardPoints,
		RequestID:    requestID,
	}, nil
}

// rewardReason выбирает причину начисления по типу задания.
func rewardReason(t TaskType) economy.Reason {
	if t == TypeChainBonus {
		return economy.ReasonTaskChainBonus
	}
	return economy.ReasonTaskReward
}

// UserTasks возвращает задания периода с прогрессом пользователя.
func (s *Service) UserTasks(ctx context.Context, userID int64, schedule Schedule) (*UserTasks, error) {
	if !schedule.Valid() {
		return nil, fmt.Errorf("%w: период %q", common.ErrInvalidInput, schedule)
	}
	now := s.clock()
	period := PeriodFor(schedule, now)

	defs, err := s.repo.ListDefinitions(ctx, schedule, false, now)
	if err != nil {
		return nil, err
	}
	out := &UserTasks{
		Schedule:    schedule,
		PeriodStart: period.Key(),
		PeriodEnd:   common.FormatDate(period.End),
		Items:       make([]*UserTaskItem, 0, len(defs)),
	}
	if len(defs) == 0 {
		return out, nil
	}

	ids := make([]int64, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
	}
	progress, err := s.repo.ProgressByTasks(ctx, userID, period.Start, ids)
	if err != nil {
		return nil, err
	}

	for _, d := range defs {
		view := buildProgressView(d, progress[d.ID], period)
		if view.IsCompleted {
			out.Stats.Completed++
		}
		if view.IsClaimed {
			out.Stats.Claimed++
		}
		out.Items = append(out.Items, &UserTaskItem{Task: d, Progress: view})
	}
	out.Stats.Total = len(out.Items)
	return out, nil
}

func buildProgressView(d *Definition, p *Progress, period Period) ProgressView {
	view := ProgressView{
		PeriodStart: period.Key(),
		PeriodEnd:   common.FormatDate(period.End),
		TargetValue: d.TargetValue,
	}
	if p != nil {
		view.ProgressValue = p.ProgressValue
		view.TargetValue = p.TargetValue
		view.CompletedAt = p.CompletedAt
		view.ClaimedAt = p.ClaimedAt
		view.IsClaimed = p.ClaimedAt != nil
	}
	view.IsCompleted = p.Completed()
	if view.TargetValue > 0 {
		view.ProgressPercent = min(100, view.ProgressValue*100/view.TargetValue)
	}
	return view
}

// --- Управление заданиями ---

// ListDefinitions возвращает задания для админки.
func (s *Service) ListDefinitions(ctx context.Context, schedule Schedule, includeInactive bool) ([]*Definition, error) {
	return s.repo.ListDefinitions(ctx, schedule, includeInactive, s.clock())
}

// CreateDefinition создаёт задание.
func (s *Service) CreateDefinition(ctx context.Context, in DefinitionInput) (*Definition, error) {
	if in.TaskKey == nil || strings.TrimSpace(*in.TaskKey) == "" {
		return nil, fmt.Errorf("%w: task_key обязателен", common.ErrInvalidInput)
	}
	d := &Definition{
		TaskKey:     strings.TrimSpace(*in.TaskKey),
		TargetValue: 1,
		IsActive:    true,
		AutoClaim:   true,
	}
	applyInput(d, in)
	d.CreatedBy = in.CreatedBy
	if err := validateDefinition(d); err != nil {
		return nil, err
	}
	if err := s.repo.CreateDefinition(ctx, d); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"task": d.TaskKey, "id": d.ID}).Info("Задание создано")
	return d, nil
}

// UpdateDefinition меняет переданные поля задания.
func (s *Service) UpdateDefinition(ctx context.Context, id int64, in DefinitionInput) (*Definition, error) {
	d, err := s.repo.GetDefinition(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, common.ErrNotFound
	}
	applyInput(d, in)
	if err := validateDefinition(d); err != nil {
		return nil, err
	}
	if err := s.repo.SaveDefinition(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Deactivate выключает задание. Прогресс и выданные награды остаются.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	inactive := false
	_, err := s.UpdateDefinition(ctx, id, DefinitionInput{IsActive: &inactive})
	return err
}

// PruneEvents удаляет строки дедупликации старше retentionDays.
func (s *Service) PruneEvents(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := common.DayStart(s.clock()).AddDate(0, 0, -retentionDays)
	return s.repo.PruneEvents(ctx, cutoff)
}

func applyInput(d *Definition, in DefinitionInput) {
	if in.Name != nil {
		d.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		d.Description = *in.Description
	}
	if in.Schedule != nil {
		d.Schedule = *in.Schedule
	}
	if in.TaskType != nil {
		d.TaskType = *in.TaskType
	}
	if in.TargetValue != nil {
		d.TargetValue = *in.TargetValue
	}
	if in.RewardPoints != nil {
		d.RewardPoints = *in.RewardPoints
	}
	if in.IsActive != nil {
		d.IsActive = *in.IsActive
	}
	if in.AutoClaim != nil {
		d.AutoClaim = *in.AutoClaim
	}
	if in.SortOrder != nil {
		d.SortOrder = *in.SortOrder
	}
	if in.StartsAt != nil {
		d.StartsAt = in.StartsAt
	}
	if in.EndsAt != nil {
		d.EndsAt = in.EndsAt
	}
	if in.ChainGroupKey != nil {
		d.ChainGroupKey = in.ChainGroupKey
	}
	if in.ChainRequiresGroupKey != nil {
		d.ChainRequiresGroupKey = in.ChainRequiresGroupKey
	}
}

func validateDefinition(d *Definition) error {
	switch {
	case d.Name == "":
		return fmt.Errorf("%w: name обязателен", common.ErrInvalidInput)
	case !d.Schedule.Valid():
		return fmt.Errorf("%w: неизвестный период %q", common.ErrInvalidInput, d.Schedule)
	case !d.TaskType.Valid():
		return fmt.Errorf("%w: неизвестный тип %q", common.ErrInvalidInput, d.TaskType)
	case d.TargetValue <= 0:
		return fmt.Errorf("%w: target_value должен быть > 0", common.ErrInvalidInput)
	case d.RewardPoints < 0:
		return fmt.Errorf("%w: reward_points не может быть отрицательным", common.ErrInvalidInput)
	case d.TaskType == TypeChainBonus && (d.ChainRequiresGroupKey == nil || *d.ChainRequiresGroupKey == ""):
		return fmt.Errorf("%w: для chain_bonus нужен chain_requires_group_key", common.ErrInvalidInput)
	case d.StartsAt != nil && d.EndsAt != nil && d.EndsAt.Before(*d.StartsAt):
		return fmt.Errorf("%w: ends_at раньше starts_at", common.ErrInvalidInput)
	}
	return nil
}
