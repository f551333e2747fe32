// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// Драйверы хранилища
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`

	// --- Storage ---
	// postgres — основной режим, memory — для локальной отладки (данные живут до рестарта)
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"stars"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"family_stars"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- Bot runtime ---
	// Сколько апдейтов обрабатываем параллельно
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Family ---
	FamilyMaxChildren int `envconfig:"FAMILY_MAX_CHILDREN" default:"4"`

	// --- Ledger ---
	// Ручная корректировка может уводить баланс в минус (админский override)
	LedgerAllowNegativeAdjust bool `envconfig:"LEDGER_ALLOW_NEGATIVE_ADJUST" default:"true"`
	LedgerHistoryLimit        int  `envconfig:"LEDGER_HISTORY_LIMIT" default:"50"`
	LedgerLogLimit            int  `envconfig:"LEDGER_LOG_LIMIT" default:"100"`

	// --- Parent mode ---
	ParentSessionTTL  time.Duration `envconfig:"PARENT_SESSION_TTL" default:"24h"`
	ParentMaxAttempts int           `envconfig:"PARENT_MAX_ATTEMPTS" default:"3"`
	ParentLockout     time.Duration `envconfig:"PARENT_LOCKOUT" default:"1h"`

	// --- Reminders (cron, часовой пояс APP_TIMEZONE) ---
	ReminderPendingCron string `envconfig:"REMINDER_PENDING_CRON" default:"0 * * * *"`
	ReminderMissedCron  string `envconfig:"REMINDER_MISSED_CRON" default:"0 19 * * *"`
	ReconcileCron       string `envconfig:"RECONCILE_CRON" default:"30 3 * * *"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"20"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Metrics ---
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// --- Feature Flags ---
	FeatureRemindersEnabled bool `envconfig:"FEATURE_REMINDERS_ENABLED" default:"true"`
	FeatureMetricsEnabled   bool `envconfig:"FEATURE_METRICS_ENABLED" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Validate проверяет значения, которые envconfig не умеет проверить сам.
// Токен бота проверяется отдельно (RequireBot): CLI работает без него.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER должен быть %q или %q", StoreDriverPostgres, StoreDriverMemory)
	}
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.FamilyMaxChildren <= 0 {
		return fmt.Errorf("FAMILY_MAX_CHILDREN должен быть > 0")
	}
	if c.LedgerHistoryLimit <= 0 || c.LedgerLogLimit <= 0 {
		return fmt.Errorf("LEDGER_HISTORY_LIMIT и LEDGER_LOG_LIMIT должны быть > 0")
	}
	if c.ParentMaxAttempts <= 0 || c.ParentSessionTTL <= 0 || c.ParentLockout <= 0 {
		return fmt.Errorf("некорректные настройки PARENT_*")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for name, spec := range map[string]string{
		"REMINDER_PENDING_CRON": c.ReminderPendingCron,
		"REMINDER_MISSED_CRON":  c.ReminderMissedCron,
		"RECONCILE_CRON":        c.ReconcileCron,
	} {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// RequireBot проверяет настройки, без которых не запустится Telegram-бот.
func (c *Config) RequireBot() error {
	if strings.TrimSpace(c.TelegramBotToken) == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN не задан")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
