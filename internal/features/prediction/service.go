package prediction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

// Service ведёт рынки прогнозов.
//
// Порядок блокировок: строка рынка, затем балансы пользователей
// (при расчёте в порядке user_id). Ставка и расчёт берут их одинаково.
type Service struct {
	db      *pgxpool.Pool
	repo    *Repository
	economy *economy.Service
	tasks   *tasks.Service
	feeRate decimal.Decimal
	minBet  int64
	now     func() time.Time
}

// NewService создаёт сервис рынков.
//
// Параметры:
//   - feeRate: комиссия по умолчанию для новых рынков (0..1)
//   - minBet: минимальная ставка по умолчанию
func NewService(
	db *pgxpool.Pool,
	repo *Repository,
	economyService *economy.Service,
	tasksService *tasks.Service,
	feeRate decimal.Decimal,
	minBet int64,
) *Service {
	return &Service{
		db:      db,
		repo:    repo,
		economy: economyService,
		tasks:   tasksService,
		feeRate: feeRate,
		minBet:  max(1, minBet),
		now:     time.Now,
	}
}

// CreateMarket создаёт рынок в статусе draft вместе с вариантами.
func (s *Service) CreateMarket(ctx context.Context, in MarketInput) (*Market, error) {
	m := &Market{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Status:      StatusDraft,
		FeeRate:     s.feeRate,
		MinBet:      s.minBet,
		MaxBet:      in.MaxBet,
		OpensAt:     in.OpensAt,
		ClosesAt:    in.ClosesAt,
		CreatedBy:   in.CreatedBy,
	}
	if in.FeeRate != nil {
		m.FeeRate = *in.FeeRate
	}
	if in.MinBet != nil {
		m.MinBet = *in.MinBet
	}
	if err := validateMarket(m, in.Options); err != nil {
		return nil, err
	}

	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := s.repo.CreateMarket(ctx, tx, m); err != nil {
			return err
		}
		for i, label := range in.Options {
			o, err := s.repo.InsertOption(ctx, tx, m.ID, strings.TrimSpace(label), i)
			if err != nil {
				return err
			}
			m.Options = append(m.Options, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"market_id": m.ID,
		"title":     m.Title,
		"options":   len(m.Options),
	}).Info("Рынок создан")
	return m, nil
}

func validateMarket(m *Market, options []string) error {
	if m.Title == "" {
		return fmt.Errorf("%w: пустое название рынка", common.ErrInvalidInput)
	}
	if m.FeeRate.IsNegative() || m.FeeRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: комиссия должна быть в диапазоне 0..1", common.ErrInvalidInput)
	}
	if m.MinBet <= 0 {
		return fmt.Errorf("%w: минимальная ставка должна быть положительной", common.ErrInvalidInput)
	}
	if m.MaxBet != nil && *m.MaxBet < m.MinBet {
		return fmt.Errorf("%w: максимальная ставка меньше минимальной", common.ErrInvalidInput)
	}
	if m.OpensAt != nil && m.ClosesAt != nil && !m.ClosesAt.After(*m.OpensAt) {
		return fmt.Errorf("%w: рынок закрывается раньше, чем открывается", common.ErrInvalidInput)
	}
	for _, label := range options {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("%w: пустой вариант", common.ErrInvalidInput)
		}
	}
	return nil
}

// AddOption добавляет вариант к рынку в статусе draft.
func (s *Service) AddOption(ctx context.Context, marketID int64, label string) (*Option, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("%w: пустой вариант", common.ErrInvalidInput)
	}
	var o *Option
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		m, err := s.lockMarket(ctx, tx, marketID)
		if err != nil {
			return err
		}
		if m.Status != StatusDraft {
			return common.ErrMarketStateConflict
		}
		options, err := s.repo.ListOptions(ctx, tx, marketID)
		if err != nil {
			return err
		}
		o, err = s.repo.InsertOption(ctx, tx, marketID, label, len(options))
		return err
	})
	return o, err
}

// Open открывает приём ставок. Нужно минимум два варианта.
func (s *Service) Open(ctx context.Context, marketID int64) (*Market, error) {
	return s.transition(ctx, marketID, []MarketStatus{StatusDraft}, StatusOpen, func(ctx context.Context, tx pgx.Tx, m *Market) error {
		options, err := s.repo.ListOptions(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		if len(options) < 2 {
			return fmt.Errorf("%w: у рынка меньше двух вариантов", common.ErrInvalidInput)
		}
		return nil
	})
}

// Close прекращает приём ставок.
func (s *Service) Close(ctx context.Context, marketID int64) (*Market, error) {
	return s.transition(ctx, marketID, []MarketStatus{StatusOpen}, StatusClosed, nil)
}

// transition переводит рынок условным UPDATE. Если статус не тот,
// возвращает common.ErrMarketStateConflict.
func (s *Service) transition(
	ctx context.Context,
	marketID int64,
	from []MarketStatus,
	to MarketStatus,
	check func(context.Context, pgx.Tx, *Market) error,
) (*Market, error) {
	var result *Market
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		m, err := s.lockMarket(ctx, tx, marketID)
		if err != nil {
			return err
		}
		ok, err := s.repo.Transition(ctx, tx, marketID, from, to)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: рынок %d в статусе %s", common.ErrMarketStateConflict, marketID, m.Status)
		}
		if check != nil {
			if err := check(ctx, tx, m); err != nil {
				return err
			}
		}
		result, err = s.repo.GetMarket(ctx, tx, marketID, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"market_id": marketID,
		"status":    to,
	}).Info("Статус рынка изменён")
	return result, nil
}

func (s *Service) lockMarket(ctx context.Context, tx pgx.Tx, marketID int64) (*Market, error) {
	m, err := s.repo.GetMarket(ctx, tx, marketID, true)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, common.ErrNotFound
	}
	return m, nil
}

// PlaceBet принимает ставку.
//
// Повтор с тем же request_id возвращает прежнюю ставку с Duplicate=true
// и ничего не списывает.
func (s *Service) PlaceBet(ctx context.Context, userID int64, req BetRequest) (*Bet, error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	requestID = common.TruncateRequestID(requestID)

	var result *Bet
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		m, err := s.lockMarket(ctx, tx, req.MarketID)
		if err != nil {
			return err
		}

		prior, err := s.repo.FindBetByRequestID(ctx, tx, requestID)
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

		if !m.AcceptsBets(s.now()) {
			return common.ErrMarketNotOpen
		}
		if req.Stake < m.MinBet || (m.MaxBet != nil && req.Stake > *m.MaxBet) {
			return fmt.Errorf("%w: ставка %d", common.ErrStakeOutOfRange, req.Stake)
		}

		options, err := s.repo.ListOptions(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		option := findOption(options, req.OptionID)
		if option == nil {
			return fmt.Errorf("%w: вариант %d не относится к рынку %d", common.ErrNotFound, req.OptionID, m.ID)
		}

		b := &Bet{
			MarketID:  m.ID,
			OptionID:  option.ID,
			UserID:    userID,
			Stake:     req.Stake,
			RequestID: requestID,
		}
		inserted, err := s.repo.InsertBet(ctx, tx, b)
		if err != nil {
			return err
		}
		if !inserted {
			return common.ErrDuplicateRequest
		}

		_, err = s.economy.DebitTx(ctx, tx, economy.Mutation{
			UserID:      userID,
			Amount:      b.Stake,
			Reason:      economy.ReasonBetStake,
			RefType:     "prediction_market",
			RefID:       m.ID,
			RequestID:   fmt.Sprintf("bet:%d:stake", b.ID),
			Description: fmt.Sprintf("%s: %s", m.Title, option.Label),
		})
		if err != nil {
			return err
		}

		pool, err := s.repo.AddStake(ctx, tx, m.ID, option.ID, b.Stake)
		if err != nil {
			return err
		}
		option.TotalStake += b.Stake
		for _, o := range options {
			if err := s.repo.SetOdds(ctx, tx, o.ID, Odds(pool, o.TotalStake, m.FeeRate)); err != nil {
				return err
			}
		}

		s.tasks.Emit(ctx, tx, tasks.Event{
			UserID:   userID,
			TaskType: tasks.TypeBet,
			Delta:    1,
			EventKey: fmt.Sprintf("bet:%d", b.ID),
			RefType:  "prediction_bet",
			RefID:    b.ID,
		})

		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		log.WithFields(log.Fields{
			"user_id":   userID,
			"market_id": result.MarketID,
			"option_id": result.OptionID,
			"stake":     result.Stake,
		}).Info("Ставка принята")
	}
	return result, nil
}

func findOption(options []*Option, id int64) *Option {
	for _, o := range options {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// Settle рассчитывает закрытый рынок.
//
// Вся операция идёт одной транзакцией. Выплаты пишутся с request_id вида
// "bet:{id}:payout", поэтому повторный прогон не платит дважды.
// Повторный Settle уже рассчитанного рынка — common.ErrMarketStateConflict.
func (s *Service) Settle(ctx context.Context, marketID int64, winningOptionIDs []int64) (*SettlementStats, error) {
	if len(winningOptionIDs) == 0 {
		return nil, fmt.Errorf("%w: не указаны выигравшие варианты", common.ErrInvalidInput)
	}

	var stats *SettlementStats
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		m, err := s.lockMarket(ctx, tx, marketID)
		if err != nil {
			return err
		}

		options, err := s.repo.ListOptions(ctx, tx, marketID)
		if err != nil {
			return err
		}
		winners := make(map[int64]bool, len(winningOptionIDs))
		for _, id := range winningOptionIDs {
			if findOption(options, id) == nil {
				return fmt.Errorf("%w: вариант %d не относится к рынку %d", common.ErrInvalidInput, id, marketID)
			}
			winners[id] = true
		}

		ok, err := s.repo.Transition(ctx, tx, marketID, []MarketStatus{StatusClosed}, StatusSettled)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: рынок %d в статусе %s", common.ErrMarketStateConflict, marketID, m.Status)
		}
		if err := s.repo.MarkWinners(ctx, tx, marketID, winningOptionIDs); err != nil {
			return err
		}

		bets, err := s.repo.LockPlacedBets(ctx, tx, marketID)
		if err != nil {
			return err
		}
		plan := PlanSettlement(m.TotalPool, m.FeeRate, bets, winners)

		stats = &SettlementStats{
			MarketID:    marketID,
			TotalPool:   m.TotalPool,
			Fee:         plan.Fee,
			PayoutPool:  plan.PayoutPool,
			WinnerStake: plan.WinnerStake,
		}
		for i, o := range plan.Outcomes {
			b := bets[i]
			if !o.Won {
				stats.LoserCount++
				if err := s.repo.ResolveBet(ctx, tx, b.ID, BetLost, 0); err != nil {
					return err
				}
				continue
			}

			stats.WinnerCount++
			stats.TotalPayout += o.Payout
			if err := s.repo.ResolveBet(ctx, tx, b.ID, BetWon, o.Payout); err != nil {
				return err
			}
			if o.Payout == 0 {
				continue
			}
			_, err := s.economy.CreditTx(ctx, tx, economy.Mutation{
				UserID:      b.UserID,
				Amount:      o.Payout,
				Reason:      economy.ReasonBetPayout,
				RefType:     "prediction_bet",
				RefID:       b.ID,
				RequestID:   fmt.Sprintf("bet:%d:payout", b.ID),
				Description: "Выигрыш: " + m.Title,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"market_id":    marketID,
		"pool":         stats.TotalPool,
		"fee":          stats.Fee,
		"winners":      stats.WinnerCount,
		"losers":       stats.LoserCount,
		"total_payout": stats.TotalPayout,
	}).Info("Рынок рассчитан")
	return stats, nil
}

// Cancel отменяет рынок и возвращает все ставки полностью.
// Допустим из draft, open и closed.
func (s *Service) Cancel(ctx context.Context, marketID int64) (*RefundStats, error) {
	stats := &RefundStats{MarketID: marketID}
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		m, err := s.lockMarket(ctx, tx, marketID)
		if err != nil {
			return err
		}
		ok, err := s.repo.Transition(ctx, tx, marketID,
			[]MarketStatus{StatusDraft, StatusOpen, StatusClosed}, StatusCanceled)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: рынок %d в статусе %s", common.ErrMarketStateConflict, marketID, m.Status)
		}

		bets, err := s.repo.LockPlacedBets(ctx, tx, marketID)
		if err != nil {
			return err
		}
		for _, b := range bets {
			if err := s.repo.ResolveBet(ctx, tx, b.ID, BetRefunded, b.Stake); err != nil {
				return err
			}
			_, err := s.economy.CreditTx(ctx, tx, economy.Mutation{
				UserID:      b.UserID,
				Amount:      b.Stake,
				Reason:      economy.ReasonBetRefund,
				RefType:     "prediction_bet",
				RefID:       b.ID,
				RequestID:   fmt.Sprintf("bet:%d:refund", b.ID),
				Description: "Возврат: " + m.Title,
			})
			if err != nil {
				return err
			}
			stats.RefundCount++
			stats.RefundTotal += b.Stake
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"market_id":    marketID,
		"refund_count": stats.RefundCount,
		"refund_total": stats.RefundTotal,
	}).Info("Рынок отменён")
	return stats, nil
}

// CloseExpired закрывает открытые рынки с истёкшим closes_at.
// Рынок, который закрыли параллельно, пропускается.
func (s *Service) CloseExpired(ctx context.Context) (int, error) {
	ids, err := s.repo.ExpiredOpen(ctx, s.now())
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, id := range ids {
		_, err := s.Close(ctx, id)
		if errors.Is(err, common.ErrMarketStateConflict) {
			continue
		}
		if err != nil {
			return closed, fmt.Errorf("рынок %d: %w", id, err)
		}
		closed++
	}
	return closed, nil
}

// GetMarket возвращает рынок с вариантами.
func (s *Service) GetMarket(ctx context.Context, marketID int64) (*Market, error) {
	m, err := s.repo.GetMarket(ctx, s.db, marketID, false)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, common.ErrNotFound
	}
	m.Options, err = s.repo.ListOptions(ctx, s.db, marketID)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMarkets возвращает рынки с вариантами (limit по умолчанию 20, не больше 100).
func (s *Service) ListMarkets(ctx context.Context, status MarketStatus, limit int) ([]*Market, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: неизвестный статус %q", common.ErrInvalidInput, status)
	}
	if limit <= 0 {
		limit = 20
	}
	markets, err := s.repo.ListMarkets(ctx, status, min(limit, 100))
	if err != nil {
		return nil, err
	}
	for _, m := range markets {
		if m.Options, err = s.repo.ListOptions(ctx, s.db, m.ID); err != nil {
			return nil, err
		}
	}
	return markets, nil
}

// Stats — сводка по рынку: участники, ставки, доли вариантов в пуле.
func (s *Service) Stats(ctx context.Context, marketID int64) (*MarketStats, error) {
	m, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	participants, bets, err := s.repo.Counts(ctx, marketID)
	if err != nil {
		return nil, err
	}

	stats := &MarketStats{
		MarketID:         m.ID,
		Title:            m.Title,
		Status:           m.Status,
		TotalPool:        m.TotalPool,
		ParticipantCount: participants,
		BetCount:         bets,
		FeeRate:          m.FeeRate,
	}
	for _, o := range m.Options {
		pct := decimal.Zero
		if m.TotalPool > 0 {
			pct = decimal.NewFromInt(o.TotalStake * 100).DivRound(decimal.NewFromInt(m.TotalPool), 1)
		}
		stats.Options = append(stats.Options, &OptionStats{Option: o, Percentage: pct})
	}
	return stats, nil
}

// UserBets — последние ставки пользователя (limit по умолчанию 20, не больше 100).
func (s *Service) UserBets(ctx context.Context, userID int64, limit int) ([]*UserBet, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.UserBets(ctx, userID, min(limit, 100))
}
