// Package bot содержит главный модуль бота — приём апдейтов, маршрутизацию команд
// и отправку напоминаний.
package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/family-stars/internal/bot/filters"
	"serotonyl.ru/family-stars/internal/bot/middleware"
	"serotonyl.ru/family-stars/internal/bot/tg"
	"serotonyl.ru/family-stars/internal/config"
	"serotonyl.ru/family-stars/internal/features/backup"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/ledger"
	"serotonyl.ru/family-stars/internal/features/parent"
	"serotonyl.ru/family-stars/internal/metrics"
)

const helpText = `⭐ Семейные звёзды

Дети:
/iam Имя — представиться
/tasks — задания, /done номер — отметить выполнение
/rewards — награды, /redeem номер — купить
/balance, /history — звёзды и история

Родители:
/family Фамилия — зарегистрировать семью
/setpin, /unlock, /lock — родительский режим (в личке)
/addchild Имя, /addparent (ответом на сообщение)
/addtask 10 daily Название #Категория
/addreward 50 [once] Название
/pending, /verify номер [звёзды], /reject номер причина
/adjust ребёнок ±звёзды причина
/stats [ребёнок], /reconcile, /backup
/tz Europe/Moscow, /reminders on|off`

// API — то, что бот использует из Telegram Bot API (*tgbotapi.BotAPI подходит).
type API interface {
	tg.Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handlers — обработчики команд по фичам.
type Handlers struct {
	Family *family.Handler
	Ledger *ledger.Handler
	Parent *parent.Handler
	Backup *backup.Handler
}

// Bot — главная структура бота, объединяющая все компоненты.
type Bot struct {
	api API
	cfg *config.Config

	familyFilter *filters.FamilyFilter
	rateLimiter  *middleware.RateLimiter
	dialogs      *parent.Service

	handlers Handlers
	routes   map[string]func(context.Context, tg.Request) // Команды, которым нужна семья
	parser   *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт новый экземпляр бота со всеми зависимостями.
func New(api API, cfg *config.Config, families *family.Service, dialogs *parent.Service, handlers Handlers) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		api:          api,
		cfg:          cfg,
		familyFilter: filters.NewFamilyFilter(families),
		rateLimiter:  middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		dialogs:      dialogs,
		handlers:     handlers,
		routes:       familyRoutes(handlers),
		parser:       NewCommandParser(),
		inflight:     make(chan struct{}, maxInFlight),
	}
}

// Start запускает polling обновлений от Telegram и блокируется до отмены ctx.
func (b *Bot) Start(ctx context.Context) {
	defer b.rateLimiter.Close()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds

	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"max_inflight": b.cfg.BotMaxInflight,
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer middleware.RecoverFromPanic()

	message := update.Message
	if message == nil || message.Text == "" {
		metrics.BotUpdates.WithLabelValues("ignored").Inc()
		return
	}

	middleware.LogMessage(message)

	req, ok := b.familyFilter.Resolve(ctx, message)
	if !ok {
		metrics.BotUpdates.WithLabelValues("denied").Inc()
		return
	}

	if !b.rateLimiter.Allow(req.UserID) {
		log.WithField("user_id", req.UserID).Debug("rate limited")
		metrics.BotUpdates.WithLabelValues("rate_limited").Inc()
		return
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if !isCommand {
		if b.handleDialog(ctx, req, message.Text) {
			metrics.BotUpdates.WithLabelValues("dialog").Inc()
		} else {
			metrics.BotUpdates.WithLabelValues("ignored").Inc()
		}
		return
	}

	log.WithFields(log.Fields{
		"cmd":      cmd,
		"args":     len(args),
		"owner_id": req.OwnerID,
	}).Debug("routing command")

	req.Args = args
	if b.routeCommand(ctx, req, cmd) {
		metrics.BotUpdates.WithLabelValues("command").Inc()
	} else {
		metrics.BotUpdates.WithLabelValues("unknown_command").Inc()
	}
}

// handleDialog продолжает пошаговый диалог (ввод PIN, причина отказа).
func (b *Bot) handleDialog(ctx context.Context, req tg.Request, text string) bool {
	state := b.dialogs.GetState(req.UserID)
	if state == nil || req.OwnerID == "" {
		return false
	}
	if b.handlers.Parent.HandleDialog(ctx, req, state, text) {
		return true
	}
	if state.State == parent.StateRejectReason {
		logID, _ := state.Data.(string)
		b.handlers.Ledger.HandleRejectReason(ctx, req, logID, text)
		return true
	}
	return false
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, req tg.Request, cmd string) bool {
	switch cmd {
	case "start", "help":
		tg.Reply(b.api, req.ChatID, helpText)
		return true
	case "family":
		b.handlers.Family.HandleFamily(ctx, req)
		return true
	}

	handle, ok := b.routes[cmd]
	if !ok {
		return false
	}
	if req.OwnerID == "" {
		if req.Private {
			tg.Reply(b.api, req.ChatID, "👋 Вы пока не родитель ни в одной семье. Зарегистрируйте семью в групповом чате: /family Фамилия")
		} else {
			tg.Reply(b.api, req.ChatID, "👋 Сначала зарегистрируйте семью: /family Фамилия")
		}
		return true
	}
	handle(ctx, req)
	return true
}

// familyRoutes — команды, которым нужна зарегистрированная семья.
func familyRoutes(h Handlers) map[string]func(context.Context, tg.Request) {
	return map[string]func(context.Context, tg.Request){
		"addparent": h.Family.HandleAddParent,
		"addchild":  h.Family.HandleAddChild,
		"iam":       h.Family.HandleLink,
		"addtask":   h.Family.HandleAddTask,
		"tasks":     h.Family.HandleTasks,
		"addreward": h.Family.HandleAddReward,
		"rewards":   h.Family.HandleRewards,
		"tz":        h.Family.HandleTimezone,
		"reminders": h.Family.HandleReminders,

		"done":      h.Ledger.HandleDone,
		"pending":   h.Ledger.HandlePending,
		"verify":    h.Ledger.HandleVerify,
		"reject":    h.Ledger.HandleReject,
		"redeem":    h.Ledger.HandleRedeem,
		"adjust":    h.Ledger.HandleAdjust,
		"balance":   h.Ledger.HandleBalance,
		"history":   h.Ledger.HandleHistory,
		"stats":     h.Ledger.HandleStats,
		"reconcile": h.Ledger.HandleReconcile,

		"setpin": h.Parent.HandleSetPin,
		"unlock": h.Parent.HandleUnlock,
		"lock":   h.Parent.HandleLock,

		"backup": h.Backup.HandleBackup,
	}
}

// CommandParser парсит команды с префиксами /, ! и .
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"/", "!", "."},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
// Суффикс @имя_бота (команды в группах) отбрасывается.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}

	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command, _, _ := strings.Cut(parts[0], "@")
	command = strings.ToLower(command)
	if command == "" {
		return "", nil, false
	}
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return command, args, true
}
