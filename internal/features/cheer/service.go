// Package cheer — service.go содержит бизнес-логику поддержки участников.
package cheer

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
	"serotonyl.ru/points-engine/internal/features/inventory"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

// Service управляет поддержкой участников.
type Service struct {
	db         *pgxpool.Pool
	repo       *Repository
	inventory  *inventory.Repository
	tasks      *tasks.Service
	dailyLimit int
	loc        *time.Location
	now        func() time.Time
}

// NewService создаёт сервис поддержки.
func NewService(
	db *pgxpool.Pool,
	repo *Repository,
	inventoryRepo *inventory.Repository,
	tasksService *tasks.Service,
	dailyLimit int,
	loc *time.Location,
) *Service {
	return &Service{
		db:         db,
		repo:       repo,
		inventory:  inventoryRepo,
		tasks:      tasksService,
		dailyLimit: dailyLimit,
		loc:        loc,
		now:        time.Now,
	}
}

// Give тратит один предмет дарителя и засчитывает очки адресату.
// Проверяет: не себе, вид известен, дневной лимит не исчерпан, предмет есть.
func (s *Service) Give(ctx context.Context, fromUserID int64, req Request) (*Result, error) {
	if req.ToUserID <= 0 {
		return nil, fmt.Errorf("%w: не указан получатель", common.ErrInvalidInput)
	}
	if fromUserID == req.ToUserID {
		return nil, common.ErrSelfCheer
	}
	if req.CheerType == "" {
		req.CheerType = TypeCheer
	}
	if !req.CheerType.Valid() {
		return nil, fmt.Errorf("%w: неизвестный вид поддержки %q", common.ErrInvalidInput, req.CheerType)
	}

	c := &Cheer{
		FromUserID: fromUserID,
		ToUserID:   req.ToUserID,
		CheerType:  req.CheerType,
		Points:     req.CheerType.Points(),
		Message:    trimMessage(req.Message),
	}
	var total int64

	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		today := common.DayStart(s.now().In(s.loc))
		given, err := s.repo.CountGivenSince(ctx, tx, fromUserID, today)
		if err != nil {
			return err
		}
		if given >= s.dailyLimit {
			return common.ErrDailyLimit
		}

		if err := s.inventory.UseItem(ctx, tx, fromUserID, string(c.CheerType)); err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, c); err != nil {
			return err
		}
		if total, err = s.repo.BumpStats(ctx, tx, c.ToUserID, c.Points); err != nil {
			return err
		}

		s.tasks.Emit(ctx, tx, tasks.Event{
			UserID:   fromUserID,
			TaskType: tasks.TypeCheer,
			Delta:    1,
			EventKey: fmt.Sprintf("cheer:%d", c.ID),
			RefType:  "cheer",
			RefID:    c.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"from_user_id": fromUserID,
		"to_user_id":   c.ToUserID,
		"cheer_type":   c.CheerType,
	}).Debug("Поддержка отправлена")
	return &Result{Cheer: c, RecipientPoints: total}, nil
}

// Stats возвращает итоги получателя.
func (s *Service) Stats(ctx context.Context, userID int64) (*Stats, error) {
	return s.repo.GetStats(ctx, userID)
}

// Leaderboard — рейтинг по очкам поддержки.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]*Stats, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return s.repo.Leaderboard(ctx, limit)
}

// Messages — последние сообщения поддержки для пользователя.
func (s *Service) Messages(ctx context.Context, userID int64, limit int) ([]*Cheer, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return s.repo.Recent(ctx, userID, limit)
}

// trimMessage обрезает сообщение до MaxMessageLen символов; пустое — nil.
func trimMessage(msg string) *string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return nil
	}
	if utf8.RuneCountInString(msg) > MaxMessageLen {
		msg = string([]rune(msg)[:MaxMessageLen])
	}
	return &msg
}
