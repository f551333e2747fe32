// Package family — handlers.go обрабатывает команды каталога семьи:
// /family, /addparent, /addchild, /iam, /addtask, /tasks, /addreward, /rewards, /tz, /reminders.
package family

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"serotonyl.ru/family-stars/internal/bot/tg"
	"serotonyl.ru/family-stars/internal/common"
)

// Handler обрабатывает команды каталога.
type Handler struct {
	service *Service
	gate    tg.Gate // Родительский режим
	bot     tg.Sender
}

// NewHandler создаёт обработчик команд каталога.
func NewHandler(service *Service, gate tg.Gate, bot tg.Sender) *Handler {
	return &Handler{service: service, gate: gate, bot: bot}
}

// HandleFamily обрабатывает /family.
// Без семьи: /family Ивановы регистрирует семью чата. С семьёй: показывает детей и балансы.
func (h *Handler) HandleFamily(ctx context.Context, req tg.Request) {
	if req.OwnerID == "" {
		name := req.Rest(0)
		if name == "" {
			h.reply(req, "👋 Чтобы начать, зарегистрируйте семью: /family Фамилия")
			return
		}
		f, err := h.service.CreateFamily(ctx, req.ChatID, name, req.UserID)
		if err != nil {
			tg.ReplyError(h.bot, req.ChatID, "create_family", err)
			return
		}
		h.reply(req, fmt.Sprintf("🏠 Семья «%s» создана, вы — родитель.\n"+
			"Задайте PIN в личке с ботом: /setpin 1234\nЗатем добавьте детей: /addchild Имя", f.Name))
		return
	}

	f, err := h.service.FamilyByID(ctx, req.OwnerID)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "family", err)
		return
	}
	children, err := h.service.Children(ctx, req.OwnerID)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "children", err)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🏠 Семья «%s»\n", f.Name)
	if len(children) == 0 {
		sb.WriteString("Детей пока нет: /addchild Имя")
	}
	for i, c := range children {
		fmt.Fprintf(&sb, "\n%d. %s %s — %s", i+1, avatar(c), c.Name, common.FormatBalance(c.Balance))
	}
	h.reply(req, sb.String())
}

// HandleAddParent обрабатывает /addparent ответом на сообщение второго родителя.
func (h *Handler) HandleAddParent(ctx context.Context, req tg.Request) {
	if !h.unlocked(ctx, req) {
		return
	}
	if req.ReplyTo == nil {
		h.reply(req, "❌ Ответьте командой /addparent на сообщение второго родителя")
		return
	}
	if err := h.service.AddParent(ctx, req.OwnerID, *req.ReplyTo); err != nil {
		tg.ReplyError(h.bot, req.ChatID, "add_parent", err)
		return
	}
	h.reply(req, "✅ Родитель добавлен")
}

// HandleAddChild обрабатывает /addchild Имя.
func (h *Handler) HandleAddChild(ctx context.Context, req tg.Request) {
	if !h.unlocked(ctx, req) {
		return
	}
	c, err := h.service.AddChild(ctx, req.OwnerID, req.Rest(0), "", nil)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "add_child", err)
		return
	}
	h.reply(req, fmt.Sprintf("✅ %s в семье! Пусть напишет в чат: /iam %s", c.Name, c.Name))
}

// HandleLink обрабатывает /iam Имя — ребёнок привязывает свой аккаунт.
func (h *Handler) HandleLink(ctx context.Context, req tg.Request) {
	c, err := h.service.LinkChild(ctx, req.OwnerID, req.Rest(0), req.UserID)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "link_child", err)
		return
	}
	h.reply(req, fmt.Sprintf("👋 Привет, %s! Баланс: %s", c.Name, common.FormatBalance(c.Balance)))
}

// HandleAddTask обрабатывает /addtask 10 [daily|weekly|once] Название [#Категория].
func (h *Handler) HandleAddTask(ctx context.Context, req tg.Request) {
	if !h.unlocked(ctx, req) {
		return
	}
	if len(req.Args) < 2 {
		h.reply(req, "❌ Формат: /addtask звёзды [daily|weekly|once] Название [#Категория]")
		return
	}
	stars, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		h.reply(req, "❌ Награда должна быть числом")
		return
	}

	in := NewTask{RewardValue: stars}
	rest := req.Args[1:]
	if r, ok := recurrenceWords[strings.ToLower(rest[0])]; ok {
		in.Recurrence = r
		rest = rest[1:]
	}
	var words []string
	for _, w := range rest {
		if strings.HasPrefix(w, "#") && len(w) > 1 {
			in.CategoryName = strings.TrimPrefix(w, "#")
			continue
		}
		words = append(words, w)
	}
	in.Name = strings.Join(words, " ")

	t, err := h.service.AddTask(ctx, req.OwnerID, in)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "add_task", err)
		return
	}
	h.reply(req, fmt.Sprintf("✅ Задание «%s»: %s, %s", t.Name, common.FormatBalance(t.RewardValue), recurrenceText(t.Recurrence)))
}

// HandleTasks обрабатывает /tasks — список активных заданий с номерами.
func (h *Handler) HandleTasks(ctx context.Context, req tg.Request) {
	tasks, err := h.service.ActiveTasks(ctx, req.OwnerID)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "tasks", err)
		return
	}
	if len(tasks) == 0 {
		h.reply(req, "📋 Заданий пока нет")
		return
	}
	var sb strings.Builder
	sb.WriteString("📋 Задания (отметить: /done номер):")
	for i, t := range tasks {
		fmt.Fprintf(&sb, "\n%d. %s — %s, %s", i+1, t.Name, common.FormatBalance(t.RewardValue), recurrenceText(t.Recurrence))
	}
	h.reply(req, sb.String())
}

// HandleAddReward обрабатывает /addreward 50 [once|unlimited] Название.
func (h *Handler) HandleAddReward(ctx context.Context, req tg.Request) {
	if !h.unlocked(ctx, req) {
		return
	}
	if len(req.Args) < 2 {
		h.reply(req, "❌ Формат: /addreward стоимость [once|unlimited] Название")
		return
	}
	cost, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		h.reply(req, "❌ Стоимость должна быть числом")
		return
	}
	in := NewReward{CostValue: cost}
	rest := req.Args[1:]
	switch strings.ToLower(rest[0]) {
	case "once":
		in.Type = RewardOneTime
		rest = rest[1:]
	case "unlimited":
		in.Type = RewardUnlimited
		rest = rest[1:]
	}
	in.Name = strings.Join(rest, " ")

	r, err := h.service.AddReward(ctx, req.OwnerID, in)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "add_reward", err)
		return
	}
	h.reply(req, fmt.Sprintf("🎁 Награда «%s» за %s", r.Name, common.FormatBalance(r.CostValue)))
}

// HandleRewards обрабатывает /rewards.
func (h *Handler) HandleRewards(ctx context.Context, req tg.Request) {
	rewards, err := h.service.Rewards(ctx, req.OwnerID)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "rewards", err)
		return
	}
	if len(rewards) == 0 {
		h.reply(req, "🎁 Наград пока нет")
		return
	}
	var sb strings.Builder
	sb.WriteString("🎁 Награды (купить: /redeem номер):")
	for i, r := range rewards {
		fmt.Fprintf(&sb, "\n%d. %s — %s", i+1, r.Name, common.FormatBalance(r.CostValue))
		switch r.Type {
		case RewardOneTime:
			sb.WriteString(" (один раз)")
		case RewardAccumulative:
			if r.RequiredTaskCount != nil {
				fmt.Fprintf(&sb, " (после %d %s)", *r.RequiredTaskCount, common.PluralizeTasks(*r.RequiredTaskCount))
			}
		}
	}
	h.reply(req, sb.String())
}

// HandleTimezone обрабатывает /tz Europe/Moscow.
func (h *Handler) HandleTimezone(ctx context.Context, req tg.Request) {
	if !h.unlocked(ctx, req) {
		return
	}
	tz := req.Rest(0)
	f, err := h.service.UpdateSettings(ctx, req.OwnerID, func(s *Settings) { s.Timezone = tz })
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "update_settings", err)
		return
	}
	h.reply(req, "🕐 Часовой пояс: "+h.service.Location(f).String())
}

// HandleReminders обрабатывает /reminders on|off.
func (h *Handler) HandleReminders(ctx context.Context, req tg.Request) {
	if !h.unlocked(ctx, req) {
		return
	}
	var off bool
	switch strings.ToLower(req.Rest(0)) {
	case "on":
	case "off":
		off = true
	default:
		h.reply(req, "❌ Формат: /reminders on|off")
		return
	}
	if _, err := h.service.UpdateSettings(ctx, req.OwnerID, func(s *Settings) { s.RemindersOff = off }); err != nil {
		tg.ReplyError(h.bot, req.ChatID, "update_settings", err)
		return
	}
	if off {
		h.reply(req, "🔕 Напоминания выключены")
	} else {
		h.reply(req, "🔔 Напоминания включены")
	}
}

// unlocked проверяет родительский режим и сам отвечает при отказе.
func (h *Handler) unlocked(ctx context.Context, req tg.Request) bool {
	if err := h.gate.RequireUnlocked(ctx, req.OwnerID, req.UserID); err != nil {
		tg.ReplyError(h.bot, req.ChatID, "gate", err)
		return false
	}
	return true
}

func (h *Handler) reply(req tg.Request, text string) {
	tg.Reply(h.bot, req.ChatID, text)
}

var recurrenceWords = map[string]Recurrence{
	"daily":  RecurrenceDaily,
	"weekly": RecurrenceWeekly,
	"once":   RecurrenceOnce,
}

func recurrenceText(r Recurrence) string {
	switch r {
	case RecurrenceWeekly:
		return "раз в неделю"
	case RecurrenceOnce:
		return "один раз"
	default:
		return "каждый день"
	}
}

func avatar(c *Child) string {
	if c.Avatar != "" {
		return c.Avatar
	}
	return "⭐"
}
