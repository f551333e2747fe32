// Package backup — handlers.go обрабатывает /backup: резервная копия семьи файлом в личку.
package backup

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/family-stars/internal/bot/tg"
)

// Handler обрабатывает команды резервного копирования.
type Handler struct {
	service *Service
	gate    tg.Gate
	bot     tg.Sender
}

// NewHandler создаёт обработчик резервных копий.
func NewHandler(service *Service, gate tg.Gate, bot tg.Sender) *Handler {
	return &Handler{service: service, gate: gate, bot: bot}
}

// HandleBackup обрабатывает /backup. Восстановление — через starctl backup restore.
func (h *Handler) HandleBackup(ctx context.Context, req tg.Request) {
	if !req.Private {
		tg.Reply(h.bot, req.ChatID, "📦 Резервную копию можно получить только в личке с ботом")
		return
	}
	if err := h.gate.RequireUnlocked(ctx, req.OwnerID, req.UserID); err != nil {
		tg.ReplyError(h.bot, req.ChatID, "gate", err)
		return
	}

	snap, err := h.service.Export(ctx, req.OwnerID)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "backup_export", err)
		return
	}
	raw, err := Encode(snap)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "backup_encode", err)
		return
	}

	doc := tgbotapi.NewDocument(req.ChatID, tgbotapi.FileBytes{
		Name:  FileName(snap),
		Bytes: raw,
	})
	doc.Caption = fmt.Sprintf("📦 Резервная копия: детей %d, транзакций %d",
		len(snap.Data.Children), len(snap.Data.Transactions))
	if _, err := h.bot.Send(doc); err != nil {
		log.WithError(err).WithField("owner_id", req.OwnerID).Error("Не удалось отправить резервную копию")
		tg.Reply(h.bot, req.ChatID, "❌ Не удалось отправить файл")
	}
}

// FileName — имя файла резервной копии.
func FileName(snap *Snapshot) string {
	return "family-stars-" + snap.Timestamp.Format("2006-01-02-1504") + ".json"
}
