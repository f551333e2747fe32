// Package tg — общие типы для обработчиков команд: отправка ответов,
// разобранный запрос и перевод ошибок в текст для пользователя.
package tg

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/family-stars/internal/common"
)

// Sender отправляет сообщения в Telegram (*tgbotapi.BotAPI подходит).
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Gate проверяет, что пользователь — родитель с открытым родительским режимом.
type Gate interface {
	RequireUnlocked(ctx context.Context, ownerID string, userID int64) error
}

// Dialogs хранит состояние пошагового диалога с пользователем.
type Dialogs interface {
	SetState(userID int64, name string, data any)
	ClearState(userID int64)
}

// Request — разобранная команда.
type Request struct {
	ChatID    int64
	UserID    int64
	UserName  string
	FirstName string
	Private   bool
	Args      []string
	ReplyTo   *int64 // Автор сообщения, на которое ответили
	OwnerID   string // Семья чата (пусто — семья не найдена)
}

// Rest склеивает аргументы начиная с i.
func (r Request) Rest(i int) string {
	if i >= len(r.Args) {
		return ""
	}
	return strings.Join(r.Args[i:], " ")
}

// Reply отправляет текстовый ответ в чат запроса.
func Reply(s Sender, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := s.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// ReplyError отправляет текст ошибки. Неожиданные ошибки пишутся в лог.
func ReplyError(s Sender, chatID int64, op string, err error) {
	Reply(s, chatID, ErrorText(op, err))
}

// ErrorText переводит ошибку в сообщение для пользователя.
func ErrorText(op string, err error) string {
	switch {
	case errors.Is(err, common.ErrInsufficientBalance):
		return "❌ Недостаточно звёзд на счёте"
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrNotFound):
		return "❌ " + capitalize(err.Error())
	case errors.Is(err, common.ErrAlreadyProcessed):
		return "⚠️ " + capitalize(err.Error())
	case errors.Is(err, common.ErrNotParent), errors.Is(err, common.ErrWrongPin),
		errors.Is(err, common.ErrPinNotSet), errors.Is(err, common.ErrTooManyAttempts),
		errors.Is(err, common.ErrSessionExpired):
		return "🔒 " + capitalize(err.Error())
	default:
		log.WithError(err).WithField("op", op).Error("Ошибка обработки команды")
		return "❌ Что-то пошло не так, попробуйте позже"
	}
}

func capitalize(s string) string {
	for i, r := range s {
		return strings.ToUpper(string(r)) + s[i+len(string(r)):]
	}
	return s
}

// Pick выбирает элемент по номеру из списка (с 1) или по имени без учёта регистра.
func Pick[T any](items []T, key string, name func(T) string) (T, bool) {
	var zero T
	key = strings.TrimSpace(key)
	if key == "" {
		return zero, false
	}
	if n, err := strconv.Atoi(key); err == nil {
		if n >= 1 && n <= len(items) {
			return items[n-1], true
		}
		return zero, false
	}
	for _, it := range items {
		if strings.EqualFold(name(it), key) {
			return it, true
		}
	}
	return zero, false
}
