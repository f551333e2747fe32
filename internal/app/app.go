// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт хранилище, сервисы, обработчики,
// фильтры и собирает всё в один объект Bot.
package app

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/family-stars/internal/bot"
	"serotonyl.ru/family-stars/internal/config"
	"serotonyl.ru/family-stars/internal/jobs"
	"serotonyl.ru/family-stars/internal/metrics"

	"serotonyl.ru/family-stars/internal/features/backup"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/ledger"
	"serotonyl.ru/family-stars/internal/features/parent"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	Metrics   *metrics.Server // nil, если FEATURE_METRICS_ENABLED=false
	Services  *Services
	BotAPI    *tgbotapi.BotAPI
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.RequireBot(); err != nil {
		return nil, err
	}

	// === 1. Хранилище и сервисы ===
	services, err := NewServices(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// === 2. Telegram Bot API ===
	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	botAPI.Debug = cfg.AppEnv == "development"
	log.Infof("Авторизован как @%s", botAPI.Self.UserName)

	// === 3. Обработчики ===
	handlers := bot.Handlers{
		Family: family.NewHandler(services.Families, services.Parents, botAPI),
		Ledger: ledger.NewHandler(services.Ledger, services.Families, services.Parents, services.Parents, botAPI),
		Parent: parent.NewHandler(services.Parents, botAPI),
		Backup: backup.NewHandler(services.Backup, services.Parents, botAPI),
	}

	// === 4. Собираем бота ===
	b := bot.New(botAPI, cfg, services.Families, services.Parents, handlers)

	// === 5. Планировщик задач ===
	scheduler := jobs.NewScheduler(cfg, services.Families, services.Ledger, bot.NewNotifier(botAPI), services.Parents)

	// === 6. Метрики ===
	var metricsServer *metrics.Server
	if cfg.FeatureMetricsEnabled {
		metricsServer = metrics.NewServer(cfg.MetricsAddr, services.Pinger)
	}

	return &App{
		Bot:       b,
		Scheduler: scheduler,
		Metrics:   metricsServer,
		Services:  services,
		BotAPI:    botAPI,
	}, nil
}
