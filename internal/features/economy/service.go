// Package economy — service.go содержит бизнес-логику леджера.
// Начисление и списание: блокировка строки баланса, проверка ключа
// идемпотентности, запись в леджер и обновление кэша в одной транзакции.
package economy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
)

// Service управляет баллами.
type Service struct {
	db   *pgxpool.Pool
	repo *Repository
	loc  *time.Location
	now  func() time.Time
}

// NewService создаёт новый сервис экономики.
func NewService(db *pgxpool.Pool, repo *Repository, loc *time.Location) *Service {
	return &Service{db: db, repo: repo, loc: loc, now: time.Now}
}

// Credit начисляет баллы в отдельной транзакции.
func (s *Service) Credit(ctx context.Context, m Mutation) (*Entry, error) {
	var entry *Entry
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		entry, err = s.CreditTx(ctx, tx, m)
		return err
	})
	return entry, err
}

// Debit списывает баллы в отдельной транзакции.
// Возвращает common.ErrInsufficientBalance, если баллов не хватает.
func (s *Service) Debit(ctx context.Context, m Mutation) (*Entry, error) {
	var entry *Entry
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		entry, err = s.DebitTx(ctx, tx, m)
		return err
	})
	return entry, err
}

// CreditTx начисляет баллы внутри транзакции вызывающего.
func (s *Service) CreditTx(ctx context.Context, q postgres.DBTX, m Mutation) (*Entry, error) {
	if m.Reason.Direction() != DirectionCredit {
		return nil, fmt.Errorf("%w: %q не является начислением", common.ErrInvalidReason, m.Reason)
	}
	return s.apply(ctx, q, m, m.Amount)
}

// DebitTx списывает баллы внутри транзакции вызывающего.
func (s *Service) DebitTx(ctx context.Context, q postgres.DBTX, m Mutation) (*Entry, error) {
	if m.Reason.Direction() != DirectionDebit {
		return nil, fmt.Errorf("%w: %q не является списанием", common.ErrInvalidReason, m.Reason)
	}
	return s.apply(ctx, q, m, -m.Amount)
}

// RecordZeroSpendTx пишет в леджер запись с нулевой суммой.
// Так розыгрыш за билет остаётся в истории, хотя баллы не списываются.
func (s *Service) RecordZeroSpendTx(ctx context.Context, q postgres.DBTX, m Mutation) (*Entry, error) {
	if m.Reason.Direction() != DirectionDebit {
		return nil, fmt.Errorf("%w: %q не является списанием", common.ErrInvalidReason, m.Reason)
	}
	m.Amount = 0
	return s.write(ctx, q, m, 0)
}

// LockBalanceTx блокирует строку баланса до конца транзакции вызывающего.
// Операции, которые потом начисляют баллы, берут эту блокировку первой,
// чтобы у всех транзакций пользователя был один порядок блокировок.
func (s *Service) LockBalanceTx(ctx context.Context, q postgres.DBTX, userID int64) (*Balance, error) {
	return s.repo.LockBalance(ctx, q, userID)
}

func (s *Service) apply(ctx context.Context, q postgres.DBTX, m Mutation, delta int64) (*Entry, error) {
	if m.Amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	return s.write(ctx, q, m, delta)
}

func (s *Service) write(ctx context.Context, q postgres.DBTX, m Mutation, delta int64) (*Entry, error) {
	requestID := m.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	requestID = common.TruncateRequestID(requestID)

	// Блокировка строки баланса сериализует все операции одного пользователя
	bal, err := s.repo.LockBalance(ctx, q, m.UserID)
	if err != nil {
		return nil, err
	}

	if prior, err := s.repo.FindByRequestID(ctx, q, requestID); err != nil {
		return nil, err
	} else if prior != nil {
		return duplicateOf(prior, m, delta)
	}

	if delta < 0 && bal.Balance < -delta {
		return nil, fmt.Errorf("%w: нужно %d, есть %d", common.ErrInsufficientBalance, -delta, bal.Balance)
	}

	entry := &Entry{
		UserID:       m.UserID,
		Amount:       delta,
		BalanceAfter: bal.Balance + delta,
		Reason:       m.Reason,
		RequestID:    requestID,
		Description:  m.Description,
	}
	if entry.Description == "" {
		entry.Description = m.Reason.Title()
	}
	if m.RefType != "" {
		entry.RefType = &m.RefType
	}
	if m.RefID != 0 {
		entry.RefID = &m.RefID
	}

	inserted, err := s.repo.InsertEntry(ctx, q, entry)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Тот же request_id успел записать другой пользователь
		prior, err := s.repo.FindByRequestID(ctx, q, requestID)
		if err != nil {
			return nil, err
		}
		if prior == nil {
			return nil, common.ErrDuplicateRequest
		}
		return duplicateOf(prior, m, delta)
	}

	if delta != 0 {
		if err := s.repo.ApplyDelta(ctx, q, m.UserID, delta); err != nil {
			return nil, err
		}
	}

	log.WithFields(log.Fields{
		"user_id":       m.UserID,
		"amount":        delta,
		"reason":        m.Reason,
		"balance_after": entry.BalanceAfter,
	}).Info("Операция с баллами выполнена")

	return entry, nil
}

// duplicateOf возвращает прежнюю запись, если она описывает ту же операцию.
// Чужой request_id (другой пользователь, причина или сумма) — common.ErrDuplicateRequest.
func duplicateOf(prior *Entry, m Mutation, delta int64) (*Entry, error) {
	if prior.UserID != m.UserID || prior.Reason != m.Reason || prior.Amount != delta {
		log.WithFields(log.Fields{
			"user_id":    m.UserID,
			"owner_id":   prior.UserID,
			"request_id": prior.RequestID,
		}).Warn("request_id уже занят другой операцией")
		return nil, fmt.Errorf("%w: %s", common.ErrDuplicateRequest, prior.RequestID)
	}
	prior.Duplicate = true
	log.WithFields(log.Fields{
		"user_id":    m.UserID,
		"request_id": prior.RequestID,
	}).Debug("Повторный запрос, возвращаем прежнюю запись")
	return prior, nil
}

// GetBalance возвращает текущий баланс пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.repo.GetBalance(ctx, userID)
}

// GetStats возвращает сводку по счёту: итоги и движение за сегодня.
func (s *Service) GetStats(ctx context.Context, userID int64) (*Stats, error) {
	bal, err := s.repo.GetTotalStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	count, err := s.repo.CountEntries(ctx, userID)
	if err != nil {
		return nil, err
	}
	today := common.DayStart(s.now().In(s.loc))
	earned, spent, err := s.repo.SumSince(ctx, userID, today)
	if err != nil {
		return nil, err
	}
	return &Stats{Balance: *bal, Entries: count, EarnedToday: earned, SpentToday: spent}, nil
}

// History возвращает страницу истории операций и общее число записей.
func (s *Service) History(ctx context.Context, userID int64, limit, offset int) ([]*Entry, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.repo.GetEntries(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountEntries(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// GrantRegistrationBonus создаёт баланс и начисляет приветственный бонус.
// Повторный вызов для того же пользователя ничего не начисляет.
func (s *Service) GrantRegistrationBonus(ctx context.Context, userID, amount int64) (*Entry, error) {
	if amount <= 0 {
		err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
			_, err := s.repo.LockBalance(ctx, tx, userID)
			return err
		})
		return nil, err
	}
	return s.Credit(ctx, Mutation{
		UserID:    userID,
		Amount:    amount,
		Reason:    ReasonRegistrationBonus,
		RequestID: fmt.Sprintf("register:%d", userID),
	})
}

// Reconcile сверяет кэш баланса с суммой леджера.
// Возвращает кэш, сумму леджера и признак совпадения.
func (s *Service) Reconcile(ctx context.Context, userID int64) (cached, ledger int64, ok bool, err error) {
	bal, err := s.repo.GetTotalStats(ctx, userID)
	if err != nil {
		return 0, 0, false, err
	}
	sum, err := s.repo.LedgerSum(ctx, userID)
	if err != nil {
		return 0, 0, false, err
	}
	ok = bal.Balance == sum && bal.Balance == bal.TotalEarned-bal.TotalSpent
	return bal.Balance, sum, ok, nil
}

// DailyReport собирает итоги экономики за сутки, в которые попадает day.
func (s *Service) DailyReport(ctx context.Context, day time.Time) (*DailyReport, error) {
	from := common.DayStart(day.In(s.loc))
	to := from.AddDate(0, 0, 1)

	totals, err := s.repo.GetReasonTotals(ctx, from, to)
	if err != nil {
		return nil, err
	}
	active, err := s.repo.CountActiveUsers(ctx, from, to)
	if err != nil {
		return nil, err
	}

	report := &DailyReport{Day: from, ActiveUsers: active, ByReason: totals}
	for _, t := range totals {
		report.Entries += t.Count
		if t.Sum >= 0 {
			report.Credited += t.Sum
		} else {
			report.Debited += -t.Sum
		}
	}
	return report, nil
}
