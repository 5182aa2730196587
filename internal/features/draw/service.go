package draw

import (
	"context"
	"errors"
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

// errPrizeGone — выбранный приз закончился между выбором и списанием остатка.
var errPrizeGone = errors.New("приз закончился")

// Service проводит розыгрыши.
type Service struct {
	db        *pgxpool.Pool
	repo      *Repository
	economy   *economy.Service
	inventory *inventory.Repository
	tasks     *tasks.Service
	src       Source
	retries   int
	loc       *time.Location
	now       func() time.Time
}

// NewService создаёт сервис розыгрышей.
//
// Параметры:
//   - retries: сколько раз перевыбирать приз, если его остаток закончился
//   - loc: часовой пояс, в котором считаются сутки для дневного лимита
func NewService(
	db *pgxpool.Pool,
	repo *Repository,
	economyService *economy.Service,
	inventoryRepo *inventory.Repository,
	tasksService *tasks.Service,
	retries int,
	loc *time.Location,
) *Service {
	return &Service{
		db:        db,
		repo:      repo,
		economy:   economyService,
		inventory: inventoryRepo,
		tasks:     tasksService,
		src:       CryptoSource{},
		retries:   max(1, retries),
		loc:       loc,
		now:       time.Now,
	}
}

// Play — попытка в лотерее или гаче. Приз выдаётся сразу.
func (s *Service) Play(ctx context.Context, userID int64, poolKey string, req PlayRequest) (*Draw, error) {
	return s.run(ctx, userID, poolKey, req, StatusCompleted)
}

// BuyScratch покупает скретч-карту. Приз выбирается и резервируется сейчас,
// а выдаётся при открытии (Reveal).
func (s *Service) BuyScratch(ctx context.Context, userID int64, poolKey string, req PlayRequest) (*Draw, error) {
	return s.run(ctx, userID, poolKey, req, StatusPurchased)
}

func (s *Service) run(ctx context.Context, userID int64, poolKey string, req PlayRequest, status string) (*Draw, error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	requestID = common.TruncateRequestID(requestID)

	var result *Draw
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		// Баланс блокируется первым во всех операциях пользователя
		balance, err := s.economy.LockBalanceTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		// Повтор завершённого розыгрыша отдаёт прежний результат,
		// даже если пул с тех пор выключили
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

		pool, err := s.repo.GetPool(ctx, tx, poolKey)
		if err != nil {
			return err
		}
		if pool == nil {
			return common.ErrNotFound
		}
		scratch := pool.Mode == ModeScratch
		if scratch != (status == StatusPurchased) {
			return fmt.Errorf("%w: пул %q не поддерживает этот режим", common.ErrInvalidInput, poolKey)
		}

		now := s.now().In(s.loc)
		if !pool.OpenAt(now) {
			return common.ErrDrawInactive
		}

		if req.UseTicket {
			if err := s.inventory.UseTicket(ctx, tx, userID, pool.Mode.TicketType()); err != nil {
				return err
			}
		} else {
			if pool.DailyLimit > 0 {
				used, err := s.repo.CountPaidToday(ctx, tx, userID, pool.ID, common.DayStart(now))
				if err != nil {
					return err
				}
				if used >= pool.DailyLimit {
					return common.ErrDailyLimit
				}
			}
			if balance.Balance < pool.Cost {
				return fmt.Errorf("%w: нужно %d, есть %d", common.ErrInsufficientBalance, pool.Cost, balance.Balance)
			}
		}

		d := &Draw{
			PoolID:     pool.ID,
			UserID:     userID,
			Mode:       pool.Mode,
			UsedTicket: req.UseTicket,
			Status:     status,
			RequestID:  requestID,
		}
		if !req.UseTicket {
			d.Cost = pool.Cost
		}

		prize, err := s.reservePrize(ctx, tx, pool, d)
		if err != nil {
			return err
		}

		inserted, err := s.repo.InsertDraw(ctx, tx, d)
		if err != nil {
			return err
		}
		if !inserted {
			return common.ErrDuplicateRequest
		}

		if err := s.charge(ctx, tx, pool, d); err != nil {
			return err
		}

		if status == StatusCompleted {
			if err := s.grant(ctx, tx, d, prize); err != nil {
				return err
			}
		}

		s.tasks.Emit(ctx, tx, tasks.Event{
			UserID:   userID,
			TaskType: pool.Mode.TaskType(),
			Delta:    1,
			EventKey: fmt.Sprintf("draw:%d", d.ID),
			RefType:  "draw",
			RefID:    d.ID,
		})

		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		log.WithFields(log.Fields{
			"user_id": userID,
			"pool":    poolKey,
			"prize":   result.PrizeName,
			"kind":    result.PrizeKind,
			"points":  result.PointsAwarded,
			"ticket":  result.UsedTicket,
		}).Info("Розыгрыш проведён")
	}
	return result, nil
}

// reservePrize выбирает приз и забирает его остаток.
// Каждая попытка идёт в точке сохранения: если приз увели параллельно
// или кончились API-ключи, попытка откатывается и приз исключается.
func (s *Service) reservePrize(ctx context.Context, tx pgx.Tx, pool *Pool, d *Draw) (*Prize, error) {
	prizes, err := s.repo.ListPrizes(ctx, tx, pool.ID, true)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		idx, err := Pick(prizes, s.src)
		if err != nil {
			return nil, err
		}
		prize := prizes[idx]

		err = postgres.WithTx(ctx, tx, func(sp pgx.Tx) error {
			if prize.Stock != nil {
				ok, err := s.repo.DecrementStock(ctx, sp, prize.ID)
				if err != nil {
					return err
				}
				if !ok {
					return errPrizeGone
				}
			}
			if prize.Kind == KindAPIKey {
				key, err := s.inventory.AssignAPIKey(ctx, sp, d.UserID)
				if err != nil {
					return err
				}
				if key == nil {
					return errPrizeGone
				}
				d.APIKeyCodeID = &key.ID
				d.APIKey = &key.Code
			}
			return nil
		})
		if errors.Is(err, errPrizeGone) {
			zero := 0
			prize.Stock = &zero
			log.WithFields(log.Fields{
				"pool":    pool.PoolKey,
				"prize":   prize.Name,
				"attempt": attempt + 1,
			}).Debug("Приз закончился, перевыбираем")
			continue
		}
		if err != nil {
			return nil, err
		}

		d.PrizeID = &prize.ID
		d.PrizeKind = prize.Kind
		d.PrizeName = prize.Name
		d.IsRare = prize.IsRare
		return prize, nil
	}
	return nil, fmt.Errorf("%w: призы пула %q разобраны", common.ErrConfiguration, pool.PoolKey)
}

// charge списывает стоимость или пишет нулевую запись для попытки по билету.
func (s *Service) charge(ctx context.Context, q postgres.DBTX, pool *Pool, d *Draw) error {
	m := economy.Mutation{
		UserID:      d.UserID,
		Amount:      d.Cost,
		Reason:      pool.Mode.SpendReason(),
		RefType:     "draw",
		RefID:       d.ID,
		RequestID:   fmt.Sprintf("draw:%d:spend", d.ID),
		Description: pool.Name,
	}
	if d.UsedTicket || d.Cost == 0 {
		m.Description = pool.Name + " (билет)"
		_, err := s.economy.RecordZeroSpendTx(ctx, q, m)
		return err
	}
	_, err := s.economy.DebitTx(ctx, q, m)
	return err
}

// grant выдаёт приз. Повторный значок заменяется баллами в той же транзакции.
func (s *Service) grant(ctx context.Context, q postgres.DBTX, d *Draw, prize *Prize) error {
	var points int64

	switch prize.Kind {
	case KindPoints:
		points = prize.Points
	case KindItem:
		if prize.ItemType == nil || prize.ItemAmount <= 0 {
			return fmt.Errorf("%w: у приза %d не задан предмет", common.ErrConfiguration, prize.ID)
		}
		if err := s.inventory.GrantItem(ctx, q, d.UserID, *prize.ItemType, prize.ItemAmount); err != nil {
			return err
		}
	case KindBadge:
		if prize.BadgeKey == nil {
			return fmt.Errorf("%w: у приза %d не задан значок", common.ErrConfiguration, prize.ID)
		}
		tier := inventory.BadgeTier("")
		if prize.BadgeTier != nil {
			tier = inventory.BadgeTier(*prize.BadgeTier)
		}
		granted, err := s.inventory.GrantBadge(ctx, q, d.UserID, *prize.BadgeKey, tier, string(d.Mode))
		if err != nil {
			return err
		}
		if !granted {
			d.BadgeSubstituted = true
			points = prize.SubstitutePoints()
		}
	case KindAPIKey, KindEmpty:
		// ключ закреплён при выборе приза
	default:
		return fmt.Errorf("%w: неизвестный вид приза %q", common.ErrConfiguration, prize.Kind)
	}

	if points > 0 {
		desc := "Выигрыш: " + prize.Name
		if d.BadgeSubstituted {
			desc = "Повторный значок: " + prize.Name
		}
		_, err := s.economy.CreditTx(ctx, q, economy.Mutation{
			UserID:      d.UserID,
			Amount:      points,
			Reason:      d.Mode.WinReason(),
			RefType:     "draw",
			RefID:       d.ID,
			RequestID:   fmt.Sprintf("draw:%d:win", d.ID),
			Description: desc,
		})
		if err != nil {
			return err
		}
	}
	d.PointsAwarded = points
	return s.repo.SaveOutcome(ctx, q, d)
}

// Reveal открывает купленную скретч-карту и выдаёт приз.
// Повторное открытие — common.ErrAlreadyRevealed.
func (s *Service) Reveal(ctx context.Context, userID, drawID int64) (*Draw, error) {
	var result *Draw
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := s.economy.LockBalanceTx(ctx, tx, userID); err != nil {
			return err
		}
		d, err := s.repo.LockDraw(ctx, tx, drawID, userID)
		if err != nil {
			return err
		}
		if d.Status != StatusPurchased {
			return common.ErrAlreadyRevealed
		}

		now := s.now().In(s.loc)
		if err := s.repo.MarkRevealed(ctx, tx, d.ID, now); err != nil {
			return err
		}
		d.Status = StatusRevealed
		d.RevealedAt = &now

		if d.PrizeID != nil {
			prize, err := s.repo.GetPrize(ctx, tx, *d.PrizeID)
			if err != nil {
				return err
			}
			if prize == nil {
				return fmt.Errorf("%w: приз %d удалён", common.ErrConfiguration, *d.PrizeID)
			}
			if err := s.grant(ctx, tx, d, prize); err != nil {
				return err
			}
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"draw_id": drawID,
		"prize":   result.PrizeName,
		"points":  result.PointsAwarded,
	}).Info("Скретч-карта открыта")
	return result, nil
}

// History возвращает последние розыгрыши пользователя (limit по умолчанию 20, не больше 100).
func (s *Service) History(ctx context.Context, userID int64, poolKey string, limit int) ([]*Draw, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.History(ctx, userID, poolKey, min(limit, 100))
}

// Prizes — витрина призов пула для пользователя.
func (s *Service) Prizes(ctx context.Context, poolKey string) (*Pool, []*Prize, error) {
	pool, err := s.repo.GetPool(ctx, s.db, poolKey)
	if err != nil {
		return nil, nil, err
	}
	if pool == nil {
		return nil, nil, common.ErrNotFound
	}
	prizes, err := s.repo.ListPrizes(ctx, s.db, pool.ID, true)
	if err != nil {
		return nil, nil, err
	}
	return pool, prizes, nil
}

// --- Админка ---

func (s *Service) ListPools(ctx context.Context) ([]*Pool, error) {
	return s.repo.ListPools(ctx)
}

// CreatePool создаёт пул.
func (s *Service) CreatePool(ctx context.Context, in PoolInput) (*Pool, error) {
	in.PoolKey = strings.TrimSpace(in.PoolKey)
	switch {
	case in.PoolKey == "" || in.Name == "":
		return nil, fmt.Errorf("%w: pool_key и name обязательны", common.ErrInvalidInput)
	case !in.Mode.Valid():
		return nil, fmt.Errorf("%w: неизвестный режим %q", common.ErrInvalidInput, in.Mode)
	case in.Cost < 0 || in.DailyLimit < 0:
		return nil, fmt.Errorf("%w: cost и daily_limit не могут быть отрицательными", common.ErrInvalidInput)
	}
	return s.repo.CreatePool(ctx, in)
}

func (s *Service) SetPoolActive(ctx context.Context, poolKey string, active bool) error {
	return s.repo.SetPoolActive(ctx, poolKey, active)
}

// AddPrize добавляет приз в пул.
func (s *Service) AddPrize(ctx context.Context, poolKey string, in PrizeInput) (*Prize, error) {
	pool, err := s.repo.GetPool(ctx, s.db, poolKey)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, common.ErrNotFound
	}
	if err := validatePrize(in); err != nil {
		return nil, err
	}
	return s.repo.CreatePrize(ctx, pool.ID, in)
}

// UpdatePrize меняет вес, остаток или включённость.
// unlimited=true снимает ограничение остатка.
func (s *Service) UpdatePrize(ctx context.Context, prizeID int64, weight *string, stock *int, unlimited bool, enabled *bool) error {
	if stock != nil && *stock < 0 {
		return fmt.Errorf("%w: остаток не может быть отрицательным", common.ErrInvalidInput)
	}
	return s.repo.UpdatePrize(ctx, prizeID, weight, stock, unlimited, enabled)
}

// PoolStats — сводка по пулу.
func (s *Service) PoolStats(ctx context.Context, poolKey string) (*PoolStats, error) {
	pool, err := s.repo.GetPool(ctx, s.db, poolKey)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, common.ErrNotFound
	}
	stats, err := s.repo.Stats(ctx, pool.ID)
	if err != nil {
		return nil, err
	}
	stats.PoolKey = pool.PoolKey
	return stats, nil
}

func validatePrize(in PrizeInput) error {
	switch {
	case in.Name == "":
		return fmt.Errorf("%w: name обязателен", common.ErrInvalidInput)
	case !in.Kind.Valid():
		return fmt.Errorf("%w: неизвестный вид приза %q", common.ErrInvalidInput, in.Kind)
	case in.Weight.IsNegative():
		return fmt.Errorf("%w: вес не может быть отрицательным", common.ErrInvalidInput)
	case in.Stock != nil && *in.Stock < 0:
		return fmt.Errorf("%w: остаток не может быть отрицательным", common.ErrInvalidInput)
	case in.Kind == KindPoints && in.Points <= 0:
		return fmt.Errorf("%w: у денежного приза нужны points", common.ErrInvalidInput)
	case in.Kind == KindItem && (in.ItemType == nil || in.ItemAmount <= 0):
		return fmt.Errorf("%w: у предмета нужны item_type и item_amount", common.ErrInvalidInput)
	case in.Kind == KindBadge && in.BadgeKey == nil:
		return fmt.Errorf("%w: у значка нужен badge_key", common.ErrInvalidInput)
	}
	return nil
}
