// Package main — отдельный запуск миграций схемы.
// Нужен для деплоя, где схему накатывают до старта сервера.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/points-engine/internal/db/postgres"
)

// migratorConfig — только то, что нужно для подключения к базе.
type migratorConfig struct {
	DSN      string `envconfig:"DATABASE_URL" required:"true"`
	LogLevel string `envconfig:"APP_LOG_LEVEL" default:"info"`
}

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)

	if err := migrateAll(); err != nil {
		log.WithError(err).Fatal("Миграции не применены")
	}
	log.Info("=== Миграции применены ===")
}

func migrateAll() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("не удалось прочитать .env: %w", err)
	}

	var cfg migratorConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DSN, 2, 1)
	if err != nil {
		return err
	}
	defer pool.Close()

	return postgres.Migrate(pool)
}
