// Package members — service.go содержит бизнес-логику реестра участников.
// Сервис координирует регистрацию с бонусом, проверку доступа и блокировки.
package members

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
	"serotonyl.ru/points-engine/internal/features/economy"
)

// Service управляет участниками.
type Service struct {
	db      *pgxpool.Pool
	repo    *Repository
	economy *economy.Service
	bonus   int64 // бонус за регистрацию, 0 — без бонуса
}

// NewService создаёт сервис участников.
func NewService(db *pgxpool.Pool, repo *Repository, economyService *economy.Service, registrationBonus int64) *Service {
	return &Service{db: db, repo: repo, economy: economyService, bonus: registrationBonus}
}

// Register регистрирует пользователя и выдаёт бонус за регистрацию.
// Повторный вызов безопасен: запись не дублируется, бонус начисляется один раз.
func (s *Service) Register(ctx context.Context, userID int64, displayName string) (*Registration, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: некорректный пользователь", common.ErrInvalidInput)
	}
	displayName = strings.TrimSpace(displayName)
	if utf8.RuneCountInString(displayName) > MaxDisplayNameLen {
		displayName = string([]rune(displayName)[:MaxDisplayNameLen])
	}

	reg := &Registration{}
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		created, err := s.repo.Create(ctx, tx, &Member{UserID: userID, DisplayName: displayName})
		if err != nil {
			return err
		}
		reg.Created = created
		reg.Member, err = s.repo.GetByUserID(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if reg.IsBanned {
		return nil, common.ErrUserBanned
	}

	// Бонус идёт отдельной транзакцией со своим request_id, повтор его не задублирует
	entry, err := s.economy.GrantRegistrationBonus(ctx, userID, s.bonus)
	if err != nil {
		return nil, err
	}
	if entry != nil && !entry.Duplicate {
		reg.Bonus = entry.Amount
	}

	if reg.Created {
		log.WithFields(log.Fields{
			"user_id": userID,
			"bonus":   reg.Bonus,
		}).Info("Зарегистрирован новый участник")
	}
	return reg, nil
}

// CheckAccess возвращает common.ErrUserBanned для заблокированного пользователя.
func (s *Service) CheckAccess(ctx context.Context, userID int64) error {
	banned, err := s.repo.IsBanned(ctx, userID)
	if err != nil {
		return fmt.Errorf("ошибка проверки доступа: %w", err)
	}
	if banned {
		log.WithFields(log.Fields{
			"component": "access",
			"user_id":   userID,
		}).Debug("Запрос заблокированного пользователя отклонён")
		return common.ErrUserBanned
	}
	return nil
}

// Get возвращает участника или common.ErrNotFound.
func (s *Service) Get(ctx context.Context, userID int64) (*Member, error) {
	m, err := s.repo.GetByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, common.ErrNotFound
	}
	return m, nil
}

// SetBanned блокирует или разблокирует участника.
func (s *Service) SetBanned(ctx context.Context, userID int64, banned bool, reason string) error {
	var r *string
	if banned {
		reason = strings.TrimSpace(reason)
		r = &reason
	}
	if err := s.repo.SetBanned(ctx, userID, banned, r); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"user_id": userID,
		"banned":  banned,
	}).Warn("Изменена блокировка участника")
	return nil
}

// List — постраничный список участников.
func (s *Service) List(ctx context.Context, bannedOnly bool, limit, offset int) ([]*Member, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.List(ctx, bannedOnly, limit, max(0, offset))
}
