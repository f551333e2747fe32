package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"serotonyl.ru/family-stars/internal/bot/tg"
	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/jobs"
)

// Notifier отправляет напоминания планировщика в групповой чат семьи.
type Notifier struct {
	bot tg.Sender
}

var _ jobs.Notifier = (*Notifier)(nil)

// NewNotifier создаёт отправителя напоминаний.
func NewNotifier(bot tg.Sender) *Notifier {
	return &Notifier{bot: bot}
}

// Notify отправляет одно сообщение со всеми счётчиками.
func (n *Notifier) Notify(_ context.Context, f *family.Family, c jobs.Counts) error {
	text := ReminderText(c)
	if text == "" {
		return nil
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(f.ChatID, text)); err != nil {
		return fmt.Errorf("напоминание семье %s: %w", f.ID, err)
	}
	return nil
}

// ReminderText собирает текст напоминания. Пустая строка — напоминать нечего.
func ReminderText(c jobs.Counts) string {
	var text string
	if c.Pending > 0 {
		text = fmt.Sprintf("⏳ Ждут проверки: %d %s — /pending", c.Pending, common.PluralizeTasks(c.Pending))
	}
	if c.MissedToday > 0 {
		if text != "" {
			text += "\n"
		}
		text += fmt.Sprintf("📋 Сегодня ещё не отмечено: %d %s — /tasks", c.MissedToday, common.PluralizeTasks(c.MissedToday))
	}
	return text
}
