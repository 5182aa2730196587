// Package casino — service.go координирует спин слотов от начала до конца.
package casino

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
	"serotonyl.ru/points-engine/internal/features/draw"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/inventory"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

// Service управляет казино.
type Service struct {
	db        *pgxpool.Pool
	repo      *Repository
	economy   *economy.Service
	inventory *inventory.Repository
	tasks     *tasks.Service
	src       draw.Source
	loc       *time.Location
	now       func() time.Time
}

// NewService создаёт сервис казино.
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
		src:       draw.CryptoSource{},
		loc:       loc,
		now:       time.Now,
	}
}

// Spin выполняет полный цикл спина в одной транзакции:
// списание (или билет), барабаны, выплата, журнал, статистика.
func (s *Service) Spin(ctx context.Context, userID int64, req SpinRequest) (*SpinResult, error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	requestID = common.TruncateRequestID(requestID)

	var result *SpinResult
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
			result = &SpinResult{Spin: prior, Balance: balance.Balance}
			return nil
		}

		cfg, err := s.repo.ActiveConfig(ctx, tx, false)
		if err != nil {
			return err
		}
		if cfg == nil {
			return common.ErrDrawInactive
		}

		now := s.now().In(s.loc)
		if req.UseTicket {
			if err := s.inventory.UseTicket(ctx, tx, userID, inventory.TicketSlot); err != nil {
				return err
			}
		} else {
			if cfg.DailyLimit > 0 {
				used, err := s.repo.CountPaidToday(ctx, tx, userID, cfg.ID, common.DayStart(now))
				if err != nil {
					return err
				}
				if used >= cfg.DailyLimit {
					return fmt.Errorf("%w: %d/%d", common.ErrDailyLimit, used, cfg.DailyLimit)
				}
			}
			if balance.Balance < cfg.Cost {
				return fmt.Errorf("%w: нужно %d, есть %d", common.ErrInsufficientBalance, cfg.Cost, balance.Balance)
			}
		}

		symbols, err := s.repo.Symbols(ctx, tx, cfg.ID, false)
		if err != nil {
			return err
		}
		reels, err := s.roll(symbols, cfg.Reels)
		if err != nil {
			return err
		}
		winType, mult, payout, jackpot := Payout(cfg, reels)

		spin := &Spin{
			UserID:     userID,
			ConfigID:   cfg.ID,
			Reels:      make([]string, len(reels)),
			WinType:    winType,
			Multiplier: mult,
			Payout:     payout,
			IsJackpot:  jackpot,
			UsedTicket: req.UseTicket,
			RequestID:  requestID,
		}
		for i, r := range reels {
			spin.Reels[i] = r.SymbolKey
		}
		if !req.UseTicket {
			spin.Cost = cfg.Cost
		}

		inserted, err := s.repo.SaveSpin(ctx, tx, spin)
		if err != nil {
			return err
		}
		if !inserted {
			return common.ErrDuplicateRequest
		}

		entry, err := s.settle(ctx, tx, spin)
		if err != nil {
			return err
		}

		if err := s.repo.UpdateStats(ctx, tx, userID, spin.Cost, spin.Payout); err != nil {
			return err
		}

		s.tasks.Emit(ctx, tx, tasks.Event{
			UserID:   userID,
			TaskType: tasks.TypeSlot,
			Delta:    1,
			EventKey: fmt.Sprintf("slot:%d", spin.ID),
			RefType:  "slot",
			RefID:    spin.ID,
		})

		result = &SpinResult{Spin: spin, Balance: entry.BalanceAfter}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		fields := log.Fields{
			"user_id": userID,
			"reels":   strings.Join(result.Reels, " "),
			"win":     result.WinType,
			"payout":  result.Payout,
		}
		if result.IsJackpot {
			log.WithFields(fields).Info("ДЖЕКПОТ в слотах")
		} else {
			log.WithFields(fields).Debug("Спин слотов")
		}
	}
	return result, nil
}

// roll крутит барабаны. Каждый барабан — независимый взвешенный выбор.
func (s *Service) roll(symbols []*Symbol, count int) ([]*Symbol, error) {
	if count <= 0 {
		count = 3
	}
	reels := make([]*Symbol, count)
	for i := range reels {
		idx, err := draw.Pick(symbols, s.src)
		if err != nil {
			return nil, fmt.Errorf("%w: таблица символов слотов", common.ErrConfiguration)
		}
		reels[i] = symbols[idx]
	}
	return reels, nil
}

// settle списывает стоимость и начисляет выигрыш. Возвращает последнюю запись леджера.
func (s *Service) settle(ctx context.Context, q postgres.DBTX, spin *Spin) (*economy.Entry, error) {
	spend := economy.Mutation{
		UserID:      spin.UserID,
		Amount:      spin.Cost,
		Reason:      economy.ReasonLotterySpend,
		RefType:     "slot",
		RefID:       spin.ID,
		RequestID:   fmt.Sprintf("slot:%d:spend", spin.ID),
		Description: "Слот-машина",
	}
	var (
		entry *economy.Entry
		err   error
	)
	if spin.UsedTicket {
		spend.Description = "Слот-машина (билет)"
		entry, err = s.economy.RecordZeroSpendTx(ctx, q, spend)
	} else {
		entry, err = s.economy.DebitTx(ctx, q, spend)
	}
	if err != nil {
		return nil, err
	}

	if spin.Payout > 0 {
		desc := "Выигрыш в слотах"
		if spin.IsJackpot {
			desc = "Джекпот в слотах"
		}
		entry, err = s.economy.CreditTx(ctx, q, economy.Mutation{
			UserID:      spin.UserID,
			Amount:      spin.Payout,
			Reason:      economy.ReasonLotteryWin,
			RefType:     "slot",
			RefID:       spin.ID,
			RequestID:   fmt.Sprintf("slot:%d:win", spin.ID),
			Description: desc,
		})
		if err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// PublicConfig — витрина для пользователя: символы, лимит, можно ли играть.
func (s *Service) PublicConfig(ctx context.Context, userID int64) (*PublicView, error) {
	cfg, err := s.repo.ActiveConfig(ctx, s.db, false)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return &PublicView{Symbols: []*Symbol{}}, nil
	}
	symbols, err := s.repo.Symbols(ctx, s.db, cfg.ID, false)
	if err != nil {
		return nil, err
	}
	view := &PublicView{Active: true, Config: cfg, Symbols: symbols}

	if userID != 0 {
		view.TodayCount, err = s.repo.CountPaidToday(ctx, s.db, userID, cfg.ID, common.DayStart(s.now().In(s.loc)))
		if err != nil {
			return nil, err
		}
		view.Balance, err = s.economy.GetBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
	}
	canPlay := view.Balance >= cfg.Cost
	if cfg.DailyLimit > 0 {
		remaining := max(0, cfg.DailyLimit-view.TodayCount)
		view.RemainingToday = &remaining
		canPlay = canPlay && remaining > 0
	}
	view.CanPlay = canPlay
	return view, nil
}

// GetStats возвращает статистику казино пользователя.
func (s *Service) GetStats(ctx context.Context, userID int64) (*Stats, error) {
	return s.repo.GetStats(ctx, userID)
}

// History — последние спины пользователя.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]*Spin, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.History(ctx, userID, min(limit, 100))
}

// --- Админка ---

// AdminConfig возвращает конфигурацию, все символы и метрики.
func (s *Service) AdminConfig(ctx context.Context) (*AdminView, error) {
	var view *AdminView
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		cfg, err := s.repo.LatestConfig(ctx, tx)
		if err != nil {
			return err
		}
		symbols, err := s.repo.Symbols(ctx, tx, cfg.ID, true)
		if err != nil {
			return err
		}
		view = &AdminView{Config: cfg, Symbols: symbols, Metrics: metrics(cfg, symbols)}
		return nil
	})
	return view, err
}

func metrics(cfg *Config, symbols []*Symbol) Metrics {
	m := Metrics{SymbolsCount: len(symbols)}
	for _, sym := range symbols {
		if sym.Available() {
			m.EnabledCount++
			m.TotalWeight += int64(sym.Weight)
		}
	}
	m.TheoreticalRTP = TheoreticalRTP(cfg, symbols)
	return m
}

// UpdateConfig меняет переданные поля конфигурации.
func (s *Service) UpdateConfig(ctx context.Context, in ConfigInput) (*Config, error) {
	var cfg *Config
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		cfg, err = s.repo.LatestConfig(ctx, tx)
		if err != nil {
			return err
		}
		if in.Name != nil {
			cfg.Name = *in.Name
		}
		if in.IsActive != nil {
			cfg.IsActive = *in.IsActive
		}
		if in.Cost != nil {
			if *in.Cost <= 0 {
				return fmt.Errorf("%w: стоимость спина должна быть > 0", common.ErrInvalidInput)
			}
			cfg.Cost = *in.Cost
		}
		if in.TwoKindMultiplier != nil {
			if in.TwoKindMultiplier.IsNegative() {
				return fmt.Errorf("%w: two_kind_multiplier не может быть отрицательным", common.ErrInvalidInput)
			}
			cfg.TwoKindMultiplier = *in.TwoKindMultiplier
		}
		if in.JackpotSymbolKey != nil {
			cfg.JackpotSymbolKey = *in.JackpotSymbolKey
		}
		if in.DailyLimit != nil {
			if *in.DailyLimit < 0 {
				return fmt.Errorf("%w: daily_limit не может быть отрицательным", common.ErrInvalidInput)
			}
			cfg.DailyLimit = *in.DailyLimit
		}
		return s.repo.SaveConfig(ctx, tx, cfg)
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"cost": cfg.Cost, "active": cfg.IsActive}).Info("Конфигурация слотов изменена")
	return cfg, nil
}

// ReplaceSymbols заменяет все символы.
// Ключи должны быть непустыми и уникальными, веса и множители — неотрицательными.
func (s *Service) ReplaceSymbols(ctx context.Context, symbols []SymbolInput) error {
	seen := make(map[string]struct{}, len(symbols))
	for i := range symbols {
		sym := &symbols[i]
		sym.SymbolKey = strings.TrimSpace(sym.SymbolKey)
		if sym.SymbolKey == "" {
			return fmt.Errorf("%w: symbol_key не может быть пустым", common.ErrInvalidInput)
		}
		if _, dup := seen[sym.SymbolKey]; dup {
			return fmt.Errorf("%w: symbol_key %q повторяется", common.ErrInvalidInput, sym.SymbolKey)
		}
		seen[sym.SymbolKey] = struct{}{}
		if sym.Weight < 0 || sym.Multiplier < 0 {
			return fmt.Errorf("%w: weight и multiplier должны быть неотрицательными", common.ErrInvalidInput)
		}
		if sym.Emoji == "" {
			sym.Emoji = "🎰"
		}
		if sym.Name == "" {
			sym.Name = sym.SymbolKey
		}
	}

	return postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		cfg, err := s.repo.LatestConfig(ctx, tx)
		if err != nil {
			return err
		}
		if err := s.repo.ReplaceSymbols(ctx, tx, cfg.ID, symbols); err != nil {
			return err
		}
		log.WithField("count", len(symbols)).Info("Символы слотов заменены")
		return nil
	})
}

// DrawStats — фактический RTP, доля выигрышей и прибыль за days дней.
func (s *Service) DrawStats(ctx context.Context, days int) (*DrawStats, error) {
	if days <= 0 {
		days = 7
	}
	stats, err := s.repo.DrawStats(ctx, s.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	stats.Days = days
	stats.ActualRTP = CalculateRTP(stats.TotalCost, stats.TotalPayout)
	stats.WinRate = Rate(int64(stats.WinCount), int64(stats.TotalDraws))
	stats.HouseProfit = stats.TotalCost - stats.TotalPayout
	return stats, nil
}
