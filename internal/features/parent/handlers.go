// Package parent — handlers.go обрабатывает команды родительского режима:
// /setpin, /unlock, /lock и ввод PIN следующим сообщением.
package parent

import (
	"context"
	"fmt"
	"strings"

	"serotonyl.ru/family-stars/internal/bot/tg"
)

// Handler обрабатывает команды родительского режима.
type Handler struct {
	service *Service
	bot     tg.Sender
}

// NewHandler создаёт обработчик родительского режима.
func NewHandler(service *Service, bot tg.Sender) *Handler {
	return &Handler{service: service, bot: bot}
}

// HandleSetPin обрабатывает /setpin [PIN]. Только в личке.
func (h *Handler) HandleSetPin(ctx context.Context, req tg.Request) {
	if !h.private(req) {
		return
	}
	pin := req.Rest(0)
	if pin == "" {
		h.service.SetState(req.UserID, StateAwaitingNewPin, nil)
		h.reply(req, "🔐 Придумайте PIN из 4–8 цифр и отправьте его сообщением")
		return
	}
	h.setPin(ctx, req, pin)
}

func (h *Handler) setPin(ctx context.Context, req tg.Request, pin string) {
	if err := h.service.SetPin(ctx, req.OwnerID, req.UserID, pin); err != nil {
		tg.ReplyError(h.bot, req.ChatID, "set_pin", err)
		return
	}
	h.reply(req, "✅ PIN сохранён. Откройте родительский режим: /unlock")
}

// HandleUnlock обрабатывает /unlock [PIN]. Только в личке.
func (h *Handler) HandleUnlock(ctx context.Context, req tg.Request) {
	if !h.private(req) {
		return
	}
	pin := req.Rest(0)
	if pin == "" {
		h.service.SetState(req.UserID, StateAwaitingPin, nil)
		h.reply(req, "🔐 Введите PIN:")
		return
	}
	h.unlock(ctx, req, pin)
}

func (h *Handler) unlock(ctx context.Context, req tg.Request, pin string) {
	if err := h.service.Unlock(ctx, req.OwnerID, req.UserID, pin); err != nil {
		tg.ReplyError(h.bot, req.ChatID, "unlock", err)
		return
	}
	h.reply(req, fmt.Sprintf("🔓 Родительский режим открыт до %s. Закрыть: /lock",
		h.service.now().Add(h.service.cfg.ParentSessionTTL).Format("02.01 15:04")))
}

// HandleLock обрабатывает /lock.
func (h *Handler) HandleLock(ctx context.Context, req tg.Request) {
	if err := h.service.Lock(ctx, req.OwnerID, req.UserID); err != nil {
		tg.ReplyError(h.bot, req.ChatID, "lock", err)
		return
	}
	h.reply(req, "🔒 Родительский режим закрыт")
}

// HandleDialog обрабатывает сообщение в активном диалоге.
// Возвращает false, если состояние не относится к родительскому режиму.
func (h *Handler) HandleDialog(ctx context.Context, req tg.Request, state *DialogState, text string) bool {
	switch state.State {
	case StateAwaitingPin:
		h.service.ClearState(req.UserID)
		h.unlock(ctx, req, strings.TrimSpace(text))
	case StateAwaitingNewPin:
		h.service.ClearState(req.UserID)
		h.setPin(ctx, req, strings.TrimSpace(text))
	default:
		return false
	}
	return true
}

// private не даёт вводить PIN в общем чате.
func (h *Handler) private(req tg.Request) bool {
	if !req.Private {
		h.reply(req, "🤫 PIN вводится только в личке с ботом")
		return false
	}
	return true
}

func (h *Handler) reply(req tg.Request, text string) {
	tg.Reply(h.bot, req.ChatID, text)
}
