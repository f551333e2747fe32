// Package filters определяет, к какой семье относится сообщение.
package filters

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/family-stars/internal/bot/tg"
	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/features/family"
)

// FamilyFilter находит семью чата: в группе — по chat_id,
// в личке — семью, где пользователь родитель.
type FamilyFilter struct {
	families *family.Service
}

// NewFamilyFilter создаёт фильтр.
func NewFamilyFilter(families *family.Service) *FamilyFilter {
	return &FamilyFilter{families: families}
}

// Resolve собирает запрос из сообщения. false — сообщение обрабатывать не нужно.
// Если семья не найдена, OwnerID пустой: команды регистрации всё равно работают.
func (f *FamilyFilter) Resolve(ctx context.Context, message *tgbotapi.Message) (tg.Request, bool) {
	if message == nil || message.Chat == nil {
		log.WithField("component", "FamilyFilter").Warn("nil message/chat")
		return tg.Request{}, false
	}
	if message.From == nil || message.From.IsBot {
		log.WithFields(log.Fields{
			"component": "FamilyFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Debug("skip: service/bot message")
		return tg.Request{}, false
	}

	req := tg.Request{
		ChatID:    message.Chat.ID,
		UserID:    message.From.ID,
		UserName:  message.From.UserName,
		FirstName: message.From.FirstName,
		Private:   message.Chat.IsPrivate(),
	}
	if reply := message.ReplyToMessage; reply != nil && reply.From != nil && !reply.From.IsBot {
		id := reply.From.ID
		req.ReplyTo = &id
	}

	logger := log.WithFields(log.Fields{
		"component": "FamilyFilter",
		"chat_id":   req.ChatID,
		"user_id":   req.UserID,
		"private":   req.Private,
	})

	var (
		fam *family.Family
		err error
	)
	if req.Private {
		fam, err = f.families.FamilyOfParent(ctx, req.UserID)
	} else {
		fam, err = f.families.FamilyByChat(ctx, req.ChatID)
	}
	switch {
	case err == nil:
		req.OwnerID = fam.ID
	case errors.Is(err, common.ErrNotFound):
		logger.Debug("family not registered")
	default:
		logger.WithError(err).Error("family lookup failed (db)")
		return tg.Request{}, false
	}
	return req, true
}
