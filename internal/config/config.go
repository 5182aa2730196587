// Package config загружает конфигурацию движка баллов из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры,
// перед этим godotenv подхватывает локальный .env (если он есть).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"points"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"points_engine"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- HTTP ---
	HTTPAddr         string        `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	// Через запятую; пусто — CORS выключен
	HTTPCORSOrigins string `envconfig:"HTTP_CORS_ORIGINS" default:""`

	// --- Redis ---
	// Пустой адрес — лимитер живёт в памяти процесса
	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// --- Admin ---
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH" required:"true"`
	AdminMaxAttempts  int    `envconfig:"ADMIN_MAX_ATTEMPTS" default:"3"`

	// --- Economy ---
	EconomyRegistrationBonus int64 `envconfig:"ECONOMY_REGISTRATION_BONUS" default:"0"`
	EconomySigninBasePoints  int64 `envconfig:"ECONOMY_SIGNIN_BASE_POINTS" default:"100"`

	// --- Draw ---
	// Сколько раз перевыбираем приз, если его остаток увели из-под носа
	DrawStockRetries int `envconfig:"DRAW_STOCK_RETRIES" default:"5"`

	// --- Prediction ---
	PredictionDefaultFeeRate string `envconfig:"PREDICTION_DEFAULT_FEE_RATE" default:"0.05"`
	PredictionDefaultMinBet  int64  `envconfig:"PREDICTION_DEFAULT_MIN_BET" default:"10"`

	// --- Cheer ---
	// Сколько раз за день один пользователь может поддержать других
	CheerDailyLimit int `envconfig:"CHEER_DAILY_LIMIT" default:"20"`

	// --- Tasks ---
	TasksEventRetentionDays int `envconfig:"TASKS_EVENT_RETENTION_DAYS" default:"14"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Cron ---
	CronCloseMarkets string `envconfig:"CRON_CLOSE_MARKETS" default:"* * * * *"`
	CronPruneEvents  string `envconfig:"CRON_PRUNE_EVENTS" default:"30 3 * * *"`
	CronDailyReport  string `envconfig:"CRON_DAILY_REPORT" default:"5 0 * * *"`

	// --- Feature Flags ---
	FeatureDrawsEnabled      bool `envconfig:"FEATURE_DRAWS_ENABLED" default:"true"`
	FeatureSlotEnabled       bool `envconfig:"FEATURE_SLOT_ENABLED" default:"true"`
	FeaturePredictionEnabled bool `envconfig:"FEATURE_PREDICTION_ENABLED" default:"true"`
	FeatureExchangeEnabled   bool `envconfig:"FEATURE_EXCHANGE_ENABLED" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// DefaultFeeRate возвращает комиссию рынка по умолчанию.
// Значение уже проверено в Validate.
func (c *Config) DefaultFeeRate() decimal.Decimal {
	rate, err := decimal.NewFromString(c.PredictionDefaultFeeRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// CORSOrigins разбирает HTTP_CORS_ORIGINS.
func (c *Config) CORSOrigins() []string {
	var out []string
	for _, p := range strings.Split(c.HTTPCORSOrigins, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.AdminPasswordHash == "" || !strings.HasPrefix(c.AdminPasswordHash, "$argon2id$") {
		return fmt.Errorf("ADMIN_PASSWORD_HASH должен быть в формате argon2id")
	}
	if c.AdminMaxAttempts <= 0 {
		return fmt.Errorf("ADMIN_MAX_ATTEMPTS должен быть > 0")
	}
	if c.EconomyRegistrationBonus < 0 || c.EconomySigninBasePoints < 0 {
		return fmt.Errorf("бонусы экономики не могут быть отрицательными")
	}
	if c.DrawStockRetries <= 0 {
		return fmt.Errorf("DRAW_STOCK_RETRIES должен быть > 0")
	}
	rate, err := decimal.NewFromString(c.PredictionDefaultFeeRate)
	if err != nil {
		return fmt.Errorf("PREDICTION_DEFAULT_FEE_RATE: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("PREDICTION_DEFAULT_FEE_RATE должен быть в диапазоне [0, 1]")
	}
	if c.PredictionDefaultMinBet <= 0 {
		return fmt.Errorf("PREDICTION_DEFAULT_MIN_BET должен быть > 0")
	}
	if c.CheerDailyLimit <= 0 {
		return fmt.Errorf("CHEER_DAILY_LIMIT должен быть > 0")
	}
	if c.TasksEventRetentionDays < 8 {
		// недельный период должен целиком помещаться в окно хранения
		return fmt.Errorf("TASKS_EVENT_RETENTION_DAYS должен быть >= 8")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("некорректные RATE_LIMIT_REQUESTS/RATE_LIMIT_WINDOW")
	}
	return nil
}

// Load читает .env (если есть) и переменные окружения, заполняет структуру Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("не удалось прочитать .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
