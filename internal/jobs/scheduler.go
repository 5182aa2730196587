// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: закрытие просроченных рынков,
// чистку журнала событий и ежедневный отчёт по экономике.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/points-engine/internal/features/admin"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/prediction"
	"serotonyl.ru/points-engine/internal/features/streak"
	"serotonyl.ru/points-engine/internal/features/tasks"
)

// Specs — cron-выражения задач.
type Specs struct {
	CloseMarkets string
	PruneEvents  string
	DailyReport  string
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron          *cron.Cron
	specs         Specs
	loc           *time.Location
	retentionDays int

	markets *prediction.Service
	tasks   *tasks.Service
	admin   *admin.Service
	economy *economy.Service
	streak  *streak.Service

	now func() time.Time
}

// NewScheduler создаёт планировщик в часовом поясе приложения.
func NewScheduler(
	specs Specs,
	loc *time.Location,
	retentionDays int,
	markets *prediction.Service,
	tasksService *tasks.Service,
	adminService *admin.Service,
	economyService *economy.Service,
	streakService *streak.Service,
) *Scheduler {
	return &Scheduler{
		cron:          cron.New(cron.WithLocation(loc)),
		specs:         specs,
		loc:           loc,
		retentionDays: retentionDays,
		markets:       markets,
		tasks:         tasksService,
		admin:         adminService,
		economy:       economyService,
		streak:        streakService,
		now:           time.Now,
	}
}

// Start регистрирует задачи и запускает планировщик.
// Ошибка возвращается, если какое-то из выражений не разобралось.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		spec string
		fn   func(context.Context)
	}{
		{s.specs.CloseMarkets, s.closeMarkets},
		{s.specs.PruneEvents, s.prune},
		{s.specs.DailyReport, s.dailyReport},
	}
	for _, j := range jobs {
		fn := j.fn
		if _, err := s.cron.AddFunc(j.spec, func() { fn(ctx) }); err != nil {
			return fmt.Errorf("cron %q: %w", j.spec, err)
		}
	}

	s.cron.Start()
	log.WithField("timezone", s.loc.String()).Info("Планировщик задач запущен")
	return nil
}

// Stop останавливает планировщик и ждёт завершения текущих задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

// closeMarkets закрывает открытые рынки, у которых прошёл closes_at.
func (s *Scheduler) closeMarkets(ctx context.Context) {
	closed, err := s.markets.CloseExpired(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка закрытия рынков")
		return
	}
	if closed > 0 {
		log.WithField("closed", closed).Info("[CRON] Закрыты просроченные рынки")
	}
}

// prune чистит журнал дедупликации событий и протухшие сессии админки.
func (s *Scheduler) prune(ctx context.Context) {
	log.Info("[CRON] Чистка журналов")

	events, err := s.tasks.PruneEvents(ctx, s.retentionDays)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка чистки журнала событий")
	}
	sessions, err := s.admin.Purge(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка чистки сессий")
	}

	log.WithFields(log.Fields{
		"events":   events,
		"sessions": sessions,
	}).Info("[CRON] Журналы почищены")
}

// dailyReport пишет в лог итоги вчерашнего дня.
func (s *Scheduler) dailyReport(ctx context.Context) {
	day := s.now().In(s.loc).AddDate(0, 0, -1)

	report, err := s.economy.DailyReport(ctx, day)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка отчёта по экономике")
		return
	}
	signins, err := s.streak.CountSignins(ctx, day)
	if err != nil {
		log.WithError(err).Warn("[CRON] Не удалось посчитать отметки")
	}

	fields := log.Fields{
		"day":          report.Day.Format("2006-01-02"),
		"entries":      report.Entries,
		"credited":     report.Credited,
		"debited":      report.Debited,
		"active_users": report.ActiveUsers,
		"signins":      signins,
	}
	for _, rt := range report.ByReason {
		fields["reason_"+string(rt.Reason)] = rt.Sum
	}
	log.WithFields(fields).Info("[CRON] Итоги дня")
}
