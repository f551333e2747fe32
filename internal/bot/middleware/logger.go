// Package middleware содержит промежуточные обработчики для логирования,
// восстановления после паники и rate-limiting.
package middleware

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// maxLoggedRunes — сколько символов текста попадает в лог
const maxLoggedRunes = 50

// LogMessage логирует входящее сообщение.
// PIN в лог не попадает: аргументы /setpin и /unlock скрываются.
func LogMessage(message *tgbotapi.Message) {
	if message == nil || message.From == nil || message.Chat == nil {
		return
	}

	log.WithFields(log.Fields{
		"user_id":  message.From.ID,
		"chat_id":  message.Chat.ID,
		"username": message.From.UserName,
		"text":     Redact(message.Text),
	}).Debug("Входящее сообщение")
}

// Redact обрезает текст для лога и скрывает секреты.
func Redact(text string) string {
	if isSecret(text) {
		return "[скрыто]"
	}
	runes := []rune(text)
	if len(runes) > maxLoggedRunes {
		return string(runes[:maxLoggedRunes]) + "..."
	}
	return text
}

// isSecret — похоже ли сообщение на ввод PIN.
func isSecret(text string) bool {
	for _, prefix := range []string{"/setpin ", "/unlock ", "!setpin ", "!unlock ", ".setpin ", ".unlock "} {
		if len(text) > len(prefix) && text[:len(prefix)] == prefix {
			return true
		}
	}
	// Голый PIN в диалоге
	if n := len(text); n >= 4 && n <= 8 {
		for _, r := range text {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
	return false
}
