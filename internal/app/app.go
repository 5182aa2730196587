// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, репозитории, сервисы, HTTP-сервер,
// лимитер и планировщик и собирает всё в один объект App.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/points-engine/internal/common"
	"serotonyl.ru/points-engine/internal/config"
	"serotonyl.ru/points-engine/internal/db/postgres"
	"serotonyl.ru/points-engine/internal/features/admin"
	"serotonyl.ru/points-engine/internal/features/casino"
	"serotonyl.ru/points-engine/internal/features/cheer"
	"serotonyl.ru/points-engine/internal/features/draw"
	"serotonyl.ru/points-engine/internal/features/economy"
	"serotonyl.ru/points-engine/internal/features/exchange"
	"serotonyl.ru/points-engine/internal/features/inventory"
	"serotonyl.ru/points-engine/internal/features/members"
	"serotonyl.ru/points-engine/internal/features/prediction"
	"serotonyl.ru/points-engine/internal/features/streak"
	"serotonyl.ru/points-engine/internal/features/tasks"
	"serotonyl.ru/points-engine/internal/jobs"
	"serotonyl.ru/points-engine/internal/transport/httpapi"
	"serotonyl.ru/points-engine/internal/transport/middleware"
)

// App содержит все компоненты приложения.
type App struct {
	DB        *pgxpool.Pool
	Server    *http.Server
	Scheduler *jobs.Scheduler

	limiter io.Closer
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// Запускаем миграции
	if err := postgres.Migrate(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Репозитории и сервисы ===
	svc := NewServices(pool, cfg)

	// === 3. Лимитер ===
	limiter, closer, err := newLimiter(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	// === 4. HTTP ===
	api := httpapi.NewServer(cfg, pool, svc, limiter)
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.Router(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	// === 5. Планировщик задач ===
	scheduler := jobs.NewScheduler(
		jobs.Specs{
			CloseMarkets: cfg.CronCloseMarkets,
			PruneEvents:  cfg.CronPruneEvents,
			DailyReport:  cfg.CronDailyReport,
		},
		common.LoadLocation(cfg.AppTimezone),
		cfg.TasksEventRetentionDays,
		svc.Prediction, svc.Tasks, svc.Admin, svc.Economy, svc.Streak,
	)

	return &App{
		DB:        pool,
		Server:    server,
		Scheduler: scheduler,
		limiter:   closer,
	}, nil
}

// NewServices собирает репозитории и сервисы поверх готового пула.
func NewServices(pool *pgxpool.Pool, cfg *config.Config) httpapi.Services {
	loc := common.LoadLocation(cfg.AppTimezone)

	// Репозитории
	memberRepo := members.NewRepository(pool)
	economyRepo := economy.NewRepository(pool)
	inventoryRepo := inventory.NewRepository(pool)
	tasksRepo := tasks.NewRepository(pool)
	drawRepo := draw.NewRepository(pool)
	casinoRepo := casino.NewRepository(pool)
	predictionRepo := prediction.NewRepository(pool)
	streakRepo := streak.NewRepository(pool)
	exchangeRepo := exchange.NewRepository(pool)
	cheerRepo := cheer.NewRepository(pool)
	adminRepo := admin.NewRepository(pool)

	// Сервисы
	economyService := economy.NewService(pool, economyRepo, loc)
	tasksService := tasks.NewService(pool, tasksRepo, economyService, loc)

	return httpapi.Services{
		Members:    members.NewService(pool, memberRepo, economyService, cfg.EconomyRegistrationBonus),
		Economy:    economyService,
		Tasks:      tasksService,
		Inventory:  inventory.NewService(pool, inventoryRepo, economyService),
		Draw:       draw.NewService(pool, drawRepo, economyService, inventoryRepo, tasksService, cfg.DrawStockRetries, loc),
		Slot:       casino.NewService(pool, casinoRepo, economyService, inventoryRepo, tasksService, loc),
		Prediction: prediction.NewService(pool, predictionRepo, economyService, tasksService, cfg.DefaultFeeRate(), cfg.PredictionDefaultMinBet),
		Streak:     streak.NewService(pool, streakRepo, economyService, tasksService, cfg.EconomySigninBasePoints, loc),
		Exchange:   exchange.NewService(pool, exchangeRepo, economyService, inventoryRepo, tasksService, loc),
		Cheer:      cheer.NewService(pool, cheerRepo, inventoryRepo, tasksService, cfg.CheerDailyLimit, loc),
		Admin:      admin.NewService(adminRepo, economyService, cfg.AdminPasswordHash, cfg.AdminMaxAttempts),
	}
}

// newLimiter выбирает лимитер: Redis, если задан REDIS_ADDR, иначе в памяти.
func newLimiter(ctx context.Context, cfg *config.Config) (middleware.Limiter, io.Closer, error) {
	if cfg.RedisAddr == "" {
		rl := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
		log.Info("Лимитер запросов: в памяти процесса")
		return rl, rl, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis недоступен: %w", err)
	}
	log.WithField("addr", cfg.RedisAddr).Info("Лимитер запросов: Redis")
	return middleware.NewRedisLimiter(client, "points:ratelimit", cfg.RateLimitRequests, cfg.RateLimitWindow), client, nil
}

// Run запускает HTTP-сервер и планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}
	defer a.Scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", a.Server.Addr).Info("HTTP-сервер запущен")
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP-сервер упал: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Server.WriteTimeout)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки HTTP-сервера: %w", err)
	}
	return nil
}

// Close освобождает ресурсы: лимитер и пул соединений.
func (a *App) Close() {
	if a.limiter != nil {
		if err := a.limiter.Close(); err != nil {
			log.WithError(err).Warn("Ошибка закрытия лимитера")
		}
	}
	a.DB.Close()
}
