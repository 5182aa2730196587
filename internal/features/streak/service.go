// Package streak — service.go содержит основную бизнес-логику отметок.
// Сервис начисляет базовые баллы, бонус за рубеж серии и засчитывает
// событие заданий.
package streak

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/db/postgres"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

// Service управляет отметками.
type Service struct {
	db         *pgxpool.Pool
	repo       *Repository      // Репозиторий отметок
	economy    *economy.Service // Начисление баллов
	tasks      *tasks.Service   // События заданий
	basePoints int64            // Баллы за отметку без бонуса
	loc        *time.Location
	now        func() time.Time
}

// NewService создаёт новый сервис отметок.
func NewService(
	db *pgxpool.Pool,
	repo *Repository,
	economyService *economy.Service,
	tasksService *tasks.Service,
	basePoints int64,
	loc *time.Location,
) *Service {
	return &Service{
		db:         db,
		repo:       repo,
		economy:    economyService,
		tasks:      tasksService,
		basePoints: basePoints,
		loc:        loc,
		now:        time.Now,
	}
}

func (s *Service) today() time.Time {
	return dateOnly(s.now().In(s.loc))
}

// SignIn отмечает пользователя за сегодня.
//
// Алгоритм:
//  1. Блокируем баланс (сериализует параллельные отметки одного пользователя)
//  2. Считаем серию за последние WindowDays дней и прибавляем сегодняшний день
//  3. Сохраняем отметку; второй раз за день — common.ErrAlreadySignedIn
//  4. Начисляем базовые баллы и бонус рубежа
//  5. Засчитываем событие задания signin
func (s *Service) SignIn(ctx context.Context, userID int64) (*Result, error) {
	today := s.today()
	date := common.FormatDate(today)

	var res *Result
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := s.economy.LockBalanceTx(ctx, tx, userID); err != nil {
			return err
		}

		dates, err := s.repo.DatesSince(ctx, tx, userID, today.AddDate(0, 0, -WindowDays))
		if err != nil {
			return err
		}
		if len(dates) > 0 && common.FormatDate(dates[0]) == date {
			return common.ErrAlreadySignedIn
		}
		streakDay := CountStreak(dates, today) + 1

		milestones, err := s.repo.Milestones(ctx, tx, false)
		if err != nil {
			return err
		}
		bonus, _ := MilestoneBonus(milestones, streakDay)

		signin := &Signin{
			UserID:        userID,
			SigninDate:    today,
			PointsAwarded: s.basePoints,
			BonusPoints:   bonus,
			StreakDay:     streakDay,
		}
		inserted, err := s.repo.Insert(ctx, tx, signin)
		if err != nil {
			return err
		}
		if !inserted {
			return common.ErrAlreadySignedIn
		}

		if s.basePoints > 0 {
			_, err := s.economy.CreditTx(ctx, tx, economy.Mutation{
				UserID:      userID,
				Amount:      s.basePoints,
				Reason:      economy.ReasonSigninDaily,
				RefType:     "daily_signin",
				RefID:       signin.ID,
				RequestID:   fmt.Sprintf("signin:%d:%s", userID, date),
				Description: fmt.Sprintf("Ежедневная отметка (день %d)", streakDay),
			})
			if err != nil {
				return err
			}
		}
		if bonus > 0 {
			_, err := s.economy.CreditTx(ctx, tx, economy.Mutation{
				UserID:      userID,
				Amount:      bonus,
				Reason:      economy.ReasonSigninStreakBonus,
				RefType:     "daily_signin",
				RefID:       signin.ID,
				RequestID:   fmt.Sprintf("signin:%d:%s:bonus", userID, date),
				Description: fmt.Sprintf("Серия %d дней подряд", streakDay),
			})
			if err != nil {
				return err
			}
		}

		s.tasks.Emit(ctx, tx, tasks.Event{
			UserID:   userID,
			TaskType: tasks.TypeSignin,
			Delta:    1,
			EventKey: "signin:" + date,
			RefType:  "daily_signin",
			RefID:    signin.ID,
		})

		res = &Result{
			SigninDate:  date,
			StreakDay:   streakDay,
			BasePoints:  s.basePoints,
			BonusPoints: bonus,
			TotalPoints: s.basePoints + bonus,
			IsMilestone: bonus > 0,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Баланс читаем после коммита: задание могло добавить свою награду
	if res.Balance, err = s.economy.GetBalance(ctx, userID); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"day":     res.StreakDay,
		"bonus":   res.BonusPoints,
	}).Info("Отметка засчитана")
	return res, nil
}

// Status возвращает состояние отметок пользователя.
func (s *Service) Status(ctx context.Context, userID int64) (*Status, error) {
	today := s.today()
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -WindowDays)
	if monthStart.Before(since) {
		since = monthStart
	}

	dates, err := s.repo.DatesSince(ctx, s.db, userID, since)
	if err != nil {
		return nil, err
	}
	milestones, err := s.repo.Milestones(ctx, s.db, false)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Streak:         CountStreak(dates, today),
		MonthlySignins: []string{},
	}
	for _, d := range dates {
		if common.FormatDate(d) == common.FormatDate(today) {
			st.SignedToday = true
		}
		if !d.Before(monthStart) {
			st.MonthlySignins = append(st.MonthlySignins, common.FormatDate(d))
		}
	}
	st.StreakDisplay = st.Streak
	if !st.SignedToday {
		st.StreakDisplay++
	}
	if next := NextMilestone(milestones, st.Streak); next != nil {
		st.NextMilestone = next
		st.DaysToMilestone = next.Day - st.Streak
	}
	return st, nil
}

// Milestones — все рубежи серии для админки.
func (s *Service) Milestones(ctx context.Context) ([]*Milestone, error) {
	return s.repo.Milestones(ctx, s.db, true)
}

// SaveMilestone создаёт или обновляет рубеж.
func (s *Service) SaveMilestone(ctx context.Context, m *Milestone) error {
	if m.Day <= 0 || m.BonusPoints < 0 {
		return fmt.Errorf("%w: день рубежа должен быть положительным, бонус неотрицательным", common.ErrInvalidInput)
	}
	if err := s.repo.SaveMilestone(ctx, m); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"day":   m.Day,
		"bonus": m.BonusPoints,
	}).Info("Рубеж серии сохранён")
	return nil
}

// CountSignins — число отметок за день (для дневного отчёта).
func (s *Service) CountSignins(ctx context.Context, day time.Time) (int, error) {
	return s.repo.CountOn(ctx, dateOnly(day))
}
