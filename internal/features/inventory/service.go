package inventory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
	"serotonyl.ru/points-engine/internal/features/economy"
)

// Service управляет инвентарём и обменом значков.
type Service struct {
	db      *pgxpool.Pool
	repo    *Repository
	economy *economy.Service
}

// NewService создаёт сервис инвентаря.
func NewService(db *pgxpool.Pool, repo *Repository, economyService *economy.Service) *Service {
	return &Service{db: db, repo: repo, economy: economyService}
}

// Repo отдаёт репозиторий для выдачи призов внутри чужих транзакций.
func (s *Service) Repo() *Repository {
	return s.repo
}

// Get возвращает полный инвентарь пользователя.
func (s *Service) Get(ctx context.Context, userID int64) (*Inventory, error) {
	items, err := s.repo.GetItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	tickets, err := s.repo.GetTickets(ctx, userID)
	if err != nil {
		return nil, err
	}
	badges, err := s.repo.GetBadges(ctx, userID)
	if err != nil {
		return nil, err
	}
	keys, err := s.repo.GetAPIKeys(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Inventory{Items: items, Tickets: tickets, Badges: badges, APIKeys: keys}, nil
}

// ExchangeBadge обменивает значок на баллы по стоимости его уровня.
// Каждый значок обменивается один раз.
func (s *Service) ExchangeBadge(ctx context.Context, userID int64, badgeKey string) (*economy.Entry, error) {
	var entry *economy.Entry
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := s.economy.LockBalanceTx(ctx, tx, userID); err != nil {
			return err
		}
		badge, err := s.repo.LockBadge(ctx, tx, userID, badgeKey)
		if err != nil {
			return err
		}
		if badge.ExchangedAt != nil {
			return common.ErrBadgeExchanged
		}
		value := badge.Tier.Value()
		if value <= 0 {
			return fmt.Errorf("%w: уровень %q нельзя обменять", common.ErrInvalidInput, badge.Tier)
		}

		if err := s.repo.MarkBadgeExchanged(ctx, tx, badge.ID); err != nil {
			return err
		}
		entry, err = s.economy.CreditTx(ctx, tx, economy.Mutation{
			UserID:    userID,
			Amount:    value,
			Reason:    economy.ReasonBadgeExchange,
			RefType:   "badge",
			RefID:     badge.ID,
			RequestID: fmt.Sprintf("badge:%d", badge.ID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":   userID,
		"badge_key": badgeKey,
		"points":    entry.Amount,
	}).Info("Значок обменян на баллы")
	return entry, nil
}

// AddAPIKeys загружает коды в пул призов.
func (s *Service) AddAPIKeys(ctx context.Context, codes []string, quota *decimal.Decimal, description string) (int, error) {
	if len(codes) == 0 {
		return 0, fmt.Errorf("%w: пустой список кодов", common.ErrInvalidInput)
	}
	added, err := s.repo.AddAPIKeys(ctx, codes, quota, description)
	if err != nil {
		return added, err
	}
	log.WithField("added", added).Info("Загружены API-ключи")
	return added, nil
}

// GrantTickets начисляет билеты вне розыгрыша (админка).
func (s *Service) GrantTickets(ctx context.Context, userID int64, t TicketType, amount int) error {
	if err := s.repo.AddTickets(ctx, s.db, userID, t, amount); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"user_id":     userID,
		"ticket_type": t,
		"amount":      amount,
	}).Info("Начислены билеты")
	return nil
}
