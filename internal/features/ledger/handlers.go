// Package ledger — handlers.go обрабатывает команды леджера:
// /done, /pending, /verify, /reject, /redeem, /adjust, /balance, /history, /stats, /reconcile.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"serotonyl.ru/family-stars/internal/bot/tg"
	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/parent"
)

// historyPageSize — сколько транзакций показывает /history
const historyPageSize = 10

// Handler обрабатывает команды леджера.
type Handler struct {
	service  *Service
	families *family.Service
	gate     tg.Gate
	dialogs  tg.Dialogs
	bot      tg.Sender
}

// NewHandler создаёт обработчик команд леджера.
func NewHandler(service *Service, families *family.Service, gate tg.Gate, dialogs tg.Dialogs, bot tg.Sender) *Handler {
	return &Handler{service: service, families: families, gate: gate, dialogs: dialogs, bot: bot}
}

// HandleDone обрабатывает /done задание [ребёнок].
// Ребёнок отмечает задание за себя, родитель может указать ребёнка.
func (h *Handler) HandleDone(ctx context.Context, req tg.Request) {
	if len(req.Args) == 0 {
		h.reply(req, "❌ Формат: /done номер_задания (список: /tasks)")
		return
	}
	tasks, err := h.families.ActiveTasks(ctx, req.OwnerID)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "tasks", err)
		return
	}
	task, ok := tg.Pick(tasks, req.Args[0], func(t *family.Task) string { return t.Name })
	if !ok {
		tg.ReplyError(h.bot, req.ChatID, "done", common.ErrTaskNotFound)
		return
	}
	child, _, err := h.actor(ctx, req, req.Rest(1))
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "done", err)
		return
	}

	if _, err := h.service.CompleteTask(ctx, req.OwnerID, child.ID, task.ID); err != nil {
		tg.ReplyError(h.bot, req.ChatID, "complete_task", err)
		return
	}
	h.reply(req, fmt.Sprintf("⏳ %s: «%s» ждёт проверки (%s)", child.Name, task.Name, common.FormatStarsAmount(task.RewardValue)))
}

// HandlePending обрабатывает /pending — очередь на проверку.
func (h *Handler) HandlePending(ctx context.Context, req tg.Request) {
	queue, err := h.service.PendingVerifications(ctx, req.OwnerID)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "pending", err)
		return
	}
	if len(queue) == 0 {
		h.reply(req, "✅ Всё проверено")
		return
	}
	loc := h.location(ctx, req.OwnerID)

	var sb strings.Builder
	sb.WriteString("⏳ Ждут проверки (/verify номер, /reject номер причина):")
	for i, pv := range queue {
		fmt.Fprintf(&sb, "\n%d. %s — %s (%s), %s", i+1, pv.ChildName, pv.TaskName,
			common.FormatStarsAmount(pv.RewardValue), common.FormatDateTime(pv.Log.CompletedAt, loc))
	}
	h.reply(req, sb.String())
}

// HandleVerify обрабатывает /verify номер [звёзды].
func (h *Handler) HandleVerify(ctx context.Context, req tg.Request) {
	if !h.unlocked(ctx, req) {
		return
	}
	pv, ok := h.pickPending(ctx, req)
	if !ok {
		return
	}
	stars := pv.RewardValue
	if len(req.Args) > 1 {
		n, err := strconv.ParseInt(req.Args[1], 10, 64)
		if err != nil {
			h.reply(req, "❌ Награда должна быть числом")
			return
		}
		stars = n
	}

	balance, err := h.service.VerifyTask(ctx, req.OwnerID, pv.Log.ID, pv.Log.ChildID, stars)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "verify_task", err)
		return
	}
	h.reply(req, fmt.Sprintf("✅ %s: «%s» принято, %s\nБаланс: %s",
		pv.ChildName, pv.TaskName, common.FormatStarsAmount(stars), common.FormatBalance(balance)))
}

// HandleReject обрабатывает /reject номер [причина].
// Без причины бот спрашивает её следующим сообщением.
func (h *Handler) HandleReject(ctx context.Context, req tg.Request) {
	if !h.unlocked(ctx, req) {
		return
	}
	pv, ok := h.pickPending(ctx, req)
	if !ok {
		return
	}
	reason := req.Rest(1)
	if reason == "" {
		h.dialogs.SetState(req.UserID, parent.StateRejectReason, pv.Log.ID)
		h.reply(req, fmt.Sprintf("✏️ Почему не принято «%s» у %s? Напишите причину одним сообщением", pv.TaskName, pv.ChildName))
		return
	}
	h.reject(ctx, req, pv.Log.ID, reason)
}

// HandleRejectReason принимает причину отказа из диалога.
func (h *Handler) HandleRejectReason(ctx context.Context, req tg.Request, logID, reason string) {
	h.dialogs.ClearState(req.UserID)
	if !h.unlocked(ctx, req) {
		return
	}
	h.reject(ctx, req, logID, reason)
}

func (h *Handler) reject(ctx context.Context, req tg.Request, logID, reason string) {
	if err := h.service.RejectTask(ctx, req.OwnerID, logID, reason); err != nil {
		tg.ReplyError(h.bot, req.ChatID, "reject_task", err)
		return
	}
	h.reply(req, "🚫 Отклонено: "+strings.TrimSpace(reason))
}

// HandleRedeem обрабатывает /redeem награда [ребёнок].
// За другого ребёнка покупает только родитель в родительском режиме.
func (h *Handler) HandleRedeem(ctx context.Context, req tg.Request) {
	if len(req.Args) == 0 {
		h.reply(req, "❌ Формат: /redeem номер_награды (список: /rewards)")
		return
	}
	rewards, err := h.families.Rewards(ctx, req.OwnerID)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "rewards", err)
		return
	}
	reward, ok := tg.Pick(rewards, req.Args[0], func(r *family.Reward) string { return r.Name })
	if !ok {
		tg.ReplyError(h.bot, req.ChatID, "redeem", common.ErrRewardNotFound)
		return
	}
	child, byParent, err := h.actor(ctx, req, req.Rest(1))
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "redeem", err)
		return
	}
	if byParent && !h.unlocked(ctx, req) {
		return
	}

	balance, err := h.service.RedeemReward(ctx, RedeemRequest{
		OwnerID:  req.OwnerID,
		ChildID:  child.ID,
		RewardID: &reward.ID,
	})
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "redeem_reward", err)
		return
	}
	h.reply(req, fmt.Sprintf("🎁 %s получает «%s» за %s\nБаланс: %s",
		child.Name, reward.Name, common.FormatBalance(reward.CostValue), common.FormatBalance(balance)))
}

// HandleAdjust обрабатывает /adjust ребёнок ±звёзды причина.
func (h *Handler) HandleAdjust(ctx context.Context, req tg.Request) {
	if !h.unlocked(ctx, req) {
		return
	}
	if len(req.Args) < 2 {
		h.reply(req, "❌ Формат: /adjust ребёнок ±звёзды причина")
		return
	}
	child, err := h.pickChild(ctx, req.OwnerID, req.Args[0])
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "adjust", err)
		return
	}
	amount, err := strconv.ParseInt(strings.TrimPrefix(req.Args[1], "+"), 10, 64)
	if err != nil {
		h.reply(req, "❌ Сумма должна быть числом, например +5 или -3")
		return
	}

	balance, err := h.service.ManualAdjustment(ctx, req.OwnerID, child.ID, amount, req.Rest(2))
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "manual_adjustment", err)
		return
	}
	h.reply(req, fmt.Sprintf("✏️ %s: %s\nБаланс: %s", child.Name, common.FormatStarsAmount(amount), common.FormatBalance(balance)))
}

// HandleBalance обрабатывает /balance [ребёнок].
func (h *Handler) HandleBalance(ctx context.Context, req tg.Request) {
	if key := req.Rest(0); key != "" {
		child, err := h.pickChild(ctx, req.OwnerID, key)
		if err != nil {
			tg.ReplyError(h.bot, req.ChatID, "balance", err)
			return
		}
		h.reply(req, fmt.Sprintf("⭐ %s: %s", child.Name, common.FormatBalance(child.Balance)))
		return
	}

	if child, err := h.families.ChildOfUser(ctx, req.OwnerID, req.UserID); err == nil {
		h.reply(req, fmt.Sprintf("⭐ %s: %s", child.Name, common.FormatBalance(child.Balance)))
		return
	}
	children, err := h.families.Children(ctx, req.OwnerID)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "balance", err)
		return
	}
	if len(children) == 0 {
		h.reply(req, "Детей пока нет: /addchild Имя")
		return
	}
	var sb strings.Builder
	sb.WriteString("⭐ Балансы:")
	for _, c := range children {
		fmt.Fprintf(&sb, "\n%s — %s", c.Name, common.FormatBalance(c.Balance))
	}
	h.reply(req, sb.String())
}

// HandleHistory обрабатывает /history [ребёнок] — последние транзакции.
func (h *Handler) HandleHistory(ctx context.Context, req tg.Request) {
	var (
		txs []*Transaction
		err error
	)
	names := map[string]string{}
	if key := req.Rest(0); key != "" {
		var child *family.Child
		if child, err = h.pickChild(ctx, req.OwnerID, key); err == nil {
			names[child.ID] = child.Name
			txs, err = h.service.ChildTransactions(ctx, req.OwnerID, child.ID, historyPageSize)
		}
	} else {
		var children []*family.Child
		if children, err = h.families.Children(ctx, req.OwnerID); err == nil {
			for _, c := range children {
				names[c.ID] = c.Name
			}
			txs, err = h.service.Transactions(ctx, req.OwnerID, historyPageSize)
		}
	}
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "history", err)
		return
	}
	if len(txs) == 0 {
		h.reply(req, "📜 Транзакций пока нет")
		return
	}
	h.reply(req, FormatHistory(txs, names, h.location(ctx, req.OwnerID)))
}

// FormatHistory рисует список транзакций, новые первыми.
func FormatHistory(txs []*Transaction, names map[string]string, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString("📜 История:")
	for _, t := range txs {
		fmt.Fprintf(&sb, "\n%s %s %s — %s", common.FormatDateTime(t.CreatedAt, loc),
			names[t.ChildID], common.FormatStarsAmount(t.Amount), describe(t))
	}
	return sb.String()
}

func describe(t *Transaction) string {
	var kind string
	switch t.Type {
	case TxTaskVerified:
		kind = "задание"
	case TxRewardRedeemed:
		kind = "награда"
	default:
		kind = "корректировка"
	}
	if t.Description != nil && *t.Description != "" {
		return kind + ": " + *t.Description
	}
	return kind
}

// HandleStats обрабатывает /stats [ребёнок] — аналитика по категориям.
func (h *Handler) HandleStats(ctx context.Context, req tg.Request) {
	childID := ""
	title := "📊 Семья по категориям:"
	if key := req.Rest(0); key != "" {
		child, err := h.pickChild(ctx, req.OwnerID, key)
		if err != nil {
			tg.ReplyError(h.bot, req.ChatID, "stats", err)
			return
		}
		childID = child.ID
		title = fmt.Sprintf("📊 %s по категориям:", child.Name)
	}

	metrics, err := h.service.FamilyAnalytics(ctx, req.OwnerID, childID)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "analytics", err)
		return
	}
	if len(metrics) == 0 {
		h.reply(req, "📊 Выполнений пока нет")
		return
	}
	h.reply(req, FormatStats(title, metrics))
}

// FormatStats рисует показатели категорий.
func FormatStats(title string, metrics []CategoryMetric) string {
	var sb strings.Builder
	sb.WriteString(title)
	for _, m := range metrics {
		icon := m.Icon
		if icon == "" {
			icon = "•"
		}
		fmt.Fprintf(&sb, "\n%s %s: %d/%d (%d%%), %s", icon, m.Name, m.Completed, m.Total,
			m.CompletionRate, common.FormatStarsAmount(m.Earned))
	}
	return sb.String()
}

// HandleReconcile обрабатывает /reconcile — сверка балансов с журналом.
func (h *Handler) HandleReconcile(ctx context.Context, req tg.Request) {
	if !h.unlocked(ctx, req) {
		return
	}
	recs, err := h.service.ReconcileFamily(ctx, req.OwnerID)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "reconcile", err)
		return
	}
	repaired := 0
	for _, r := range recs {
		if r.Repaired {
			repaired++
		}
	}
	if repaired == 0 {
		h.reply(req, "✅ Все балансы сходятся с историей")
		return
	}
	h.reply(req, fmt.Sprintf("🛠 Исправлено балансов: %d", repaired))
}

// actor определяет ребёнка, от имени которого действует пользователь.
// Привязанный ребёнок действует за себя; родитель указывает ребёнка явно.
func (h *Handler) actor(ctx context.Context, req tg.Request, key string) (*family.Child, bool, error) {
	self, err := h.families.ChildOfUser(ctx, req.OwnerID, req.UserID)
	switch {
	case err == nil:
		if key == "" || strings.EqualFold(key, self.Name) {
			return self, false, nil
		}
		return nil, false, common.ErrNotParent
	case !errors.Is(err, common.ErrNotFound):
		return nil, false, err
	}

	isParent, err := h.families.IsParent(ctx, req.OwnerID, req.UserID)
	if err != nil {
		return nil, false, err
	}
	if !isParent {
		return nil, false, fmt.Errorf("%w: сначала представьтесь: /iam Имя", common.ErrValidation)
	}
	if key == "" {
		return nil, false, fmt.Errorf("%w: укажите ребёнка", common.ErrValidation)
	}
	child, err := h.pickChild(ctx, req.OwnerID, key)
	return child, true, err
}

func (h *Handler) pickChild(ctx context.Context, ownerID, key string) (*family.Child, error) {
	children, err := h.families.Children(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	child, ok := tg.Pick(children, key, func(c *family.Child) string { return c.Name })
	if !ok {
		return nil, common.ErrChildNotFound
	}
	return child, nil
}

// pickPending выбирает выполнение из очереди по номеру из первого аргумента.
func (h *Handler) pickPending(ctx context.Context, req tg.Request) (*PendingVerification, bool) {
	if len(req.Args) == 0 {
		h.reply(req, "❌ Укажите номер из /pending")
		return nil, false
	}
	queue, err := h.service.PendingVerifications(ctx, req.OwnerID)
	if err != nil {
		tg.ReplyError(h.bot, req.ChatID, "pending", err)
		return nil, false
	}
	pv, ok := tg.Pick(queue, req.Args[0], func(*PendingVerification) string { return "" })
	if !ok {
		tg.ReplyError(h.bot, req.ChatID, "pending", common.ErrLogNotFound)
		return nil, false
	}
	return pv, true
}

func (h *Handler) location(ctx context.Context, ownerID string) *time.Location {
	loc, err := h.service.location(ctx, ownerID)
	if err != nil {
		return time.UTC
	}
	return loc
}

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
