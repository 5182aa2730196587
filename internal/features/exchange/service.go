package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/inventory"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

// Service проводит обмены.
type Service struct {
	db        *pgxpool.Pool
	repo      *Repository
	economy   *economy.Service
	inventory *inventory.Repository
	tasks     *tasks.Service
	loc       *time.Location
	now       func() time.Time
}

// NewService создаёт сервис магазина.
func NewService(
	db *pgxpool.Pool,
	repo *Repository,
	economyService *economy.Service,
	inventoryRepo *inventory.Repository,
	tasksService *tasks.Service,
	loc *time.Location,
) *Service {
	return &Service{
		db:        db,
		repo:      repo,
		economy:   economyService,
		inventory: inventoryRepo,
		tasks:     tasksService,
		loc:       loc,
		now:       time.Now,
	}
}

// Items — витрина магазина.
func (s *Service) Items(ctx context.Context, includeInactive bool) ([]*Item, error) {
	return s.repo.ListItems(ctx, includeInactive)
}

// Exchange обменивает баллы на товар.
//
// Блокировки: баланс пользователя, затем строка товара.
// Повтор с тем же request_id возвращает прежнюю запись с Duplicate=true.
func (s *Service) Exchange(ctx context.Context, userID int64, req Request) (*Record, error) {
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 || req.Quantity > MaxQuantity {
		return nil, fmt.Errorf("%w: количество от 1 до %d", common.ErrInvalidInput, MaxQuantity)
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	requestID = common.TruncateRequestID(requestID)

	var result *Record
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		balance, err := s.economy.LockBalanceTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		prior, err := s.repo.FindByRequestID(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if prior != nil {
			if prior.UserID != userID {
				return common.ErrDuplicateRequest
			}
			prior.Duplicate = true
			result = prior
			return nil
		}

		item, err := s.repo.LockItem(ctx, tx, req.ItemKey)
		if err != nil {
			return err
		}
		if item == nil || !item.IsActive {
			return fmt.Errorf("%w: товар %q", common.ErrNotFound, req.ItemKey)
		}
		if !item.HasStock(req.Quantity) {
			return common.ErrOutOfStock
		}
		if err := s.checkLimits(ctx, tx, userID, item, req.Quantity); err != nil {
			return err
		}

		cost := item.Cost * int64(req.Quantity)
		if balance.Balance < cost {
			return fmt.Errorf("%w: нужно %d, есть %d", common.ErrInsufficientBalance, cost, balance.Balance)
		}

		rec := &Record{
			UserID:    userID,
			ItemID:    item.ID,
			Quantity:  req.Quantity,
			Cost:      cost,
			RequestID: requestID,
			ItemName:  item.Name,
		}
		inserted, err := s.repo.InsertRecord(ctx, tx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			return common.ErrDuplicateRequest
		}

		_, err = s.economy.DebitTx(ctx, tx, economy.Mutation{
			UserID:      userID,
			Amount:      cost,
			Reason:      economy.ReasonExchangeSpend,
			RefType:     "exchange",
			RefID:       rec.ID,
			RequestID:   fmt.Sprintf("exchange:%d", rec.ID),
			Description: fmt.Sprintf("%s x%d", item.Name, req.Quantity),
		})
		if err != nil {
			return err
		}
		if err := s.repo.TakeStock(ctx, tx, item.ID, req.Quantity); err != nil {
			return err
		}
		if err := s.deliver(ctx, tx, userID, item, req.Quantity); err != nil {
			return err
		}

		s.tasks.Emit(ctx, tx, tasks.Event{
			UserID:   userID,
			TaskType: tasks.TypeExchange,
			Delta:    req.Quantity,
			EventKey: fmt.Sprintf("exchange:%d", rec.ID),
			RefType:  "exchange",
			RefID:    rec.ID,
		})

		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		log.WithFields(log.Fields{
			"user_id":  userID,
			"item":     req.ItemKey,
			"quantity": result.Quantity,
			"cost":     result.Cost,
		}).Info("Обмен проведён")
	}
	return result, nil
}

func (s *Service) checkLimits(ctx context.Context, q postgres.DBTX, userID int64, item *Item, quantity int) error {
	if item.DailyLimit > 0 {
		today, err := s.repo.Purchased(ctx, q, userID, item.ID, common.DayStart(s.now().In(s.loc)))
		if err != nil {
			return err
		}
		if today+quantity > item.DailyLimit {
			return fmt.Errorf("%w: сегодня можно ещё %d", common.ErrPurchaseLimit, max(0, item.DailyLimit-today))
		}
	}
	if item.TotalLimit > 0 {
		total, err := s.repo.Purchased(ctx, q, userID, item.ID, time.Time{})
		if err != nil {
			return err
		}
		if total+quantity > item.TotalLimit {
			return fmt.Errorf("%w: всего можно ещё %d", common.ErrPurchaseLimit, max(0, item.TotalLimit-total))
		}
	}
	return nil
}

// deliver выдаёт товар в той же транзакции.
func (s *Service) deliver(ctx context.Context, q postgres.DBTX, userID int64, item *Item, quantity int) error {
	amount := item.RewardAmount * quantity
	switch item.RewardType {
	case RewardTicket:
		return s.inventory.AddTickets(ctx, q, userID, inventory.TicketType(item.RewardKey), amount)
	case RewardItem:
		return s.inventory.GrantItem(ctx, q, userID, item.RewardKey, amount)
	default:
		return fmt.Errorf("%w: неизвестный вид награды %q", common.ErrConfiguration, item.RewardType)
	}
}

// History — последние обмены пользователя (limit по умолчанию 20, не больше 100).
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.History(ctx, userID, min(limit, 100))
}

// --- Админка ---

// CreateItem добавляет товар.
func (s *Service) CreateItem(ctx context.Context, in ItemInput) (*Item, error) {
	it := &Item{RewardAmount: 1, IsActive: true}
	applyInput(it, in)
	if err := validateItem(it); err != nil {
		return nil, err
	}
	if err := s.repo.SaveItem(ctx, it); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"item": it.ItemKey,
		"cost": it.Cost,
	}).Info("Товар добавлен")
	return it, nil
}

// UpdateItem меняет переданные поля товара. Ключ товара не меняется.
func (s *Service) UpdateItem(ctx context.Context, id int64, in ItemInput) (*Item, error) {
	it, err := s.repo.GetItemByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, common.ErrNotFound
	}
	in.ItemKey = nil
	applyInput(it, in)
	if err := validateItem(it); err != nil {
		return nil, err
	}
	if err := s.repo.SaveItem(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

func applyInput(it *Item, in ItemInput) {
	if in.ItemKey != nil {
		it.ItemKey = strings.TrimSpace(*in.ItemKey)
	}
	if in.Name != nil {
		it.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		it.Description = *in.Description
	}
	if in.Cost != nil {
		it.Cost = *in.Cost
	}
	if in.RewardType != nil {
		it.RewardType = *in.RewardType
	}
	if in.RewardKey != nil {
		it.RewardKey = *in.RewardKey
	}
	if in.RewardAmount != nil {
		it.RewardAmount = *in.RewardAmount
	}
	if in.Stock != nil {
		if *in.Stock < 0 {
			it.Stock = nil
		} else {
			it.Stock = in.Stock
		}
	}
	if in.DailyLimit != nil {
		it.DailyLimit = *in.DailyLimit
	}
	if in.TotalLimit != nil {
		it.TotalLimit = *in.TotalLimit
	}
	if in.IsActive != nil {
		it.IsActive = *in.IsActive
	}
	if in.SortOrder != nil {
		it.SortOrder = *in.SortOrder
	}
}

func validateItem(it *Item) error {
	switch {
	case it.ItemKey == "" || it.Name == "":
		return fmt.Errorf("%w: нужны ключ и название товара", common.ErrInvalidInput)
	case it.Cost <= 0:
		return fmt.Errorf("%w: цена должна быть положительной", common.ErrInvalidInput)
	case !it.RewardType.Valid():
		return fmt.Errorf("%w: неизвестный вид награды %q", common.ErrInvalidInput, it.RewardType)
	case it.RewardType == RewardTicket && !inventory.TicketType(it.RewardKey).Valid():
		return fmt.Errorf("%w: неизвестный билет %q", common.ErrInvalidInput, it.RewardKey)
	case it.RewardKey == "" || it.RewardAmount <= 0:
		return fmt.Errorf("%w: не задана награда", common.ErrInvalidInput)
	case it.DailyLimit < 0 || it.TotalLimit < 0:
		return fmt.Errorf("%w: лимиты не могут быть отрицательными", common.ErrInvalidInput)
	}
	return nil
}
