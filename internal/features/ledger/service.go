// Package ledger — service.go содержит бизнес-логику леджера.
// Все операции, меняющие баланс, выполняются в одной транзакции хранилища:
// баланс и запись в журнале либо меняются вместе, либо не меняются вовсе.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/config"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/metrics"
)

// Service управляет звёздной экономикой семьи.
type Service struct {
	store   Store
	catalog family.Store // Каталог для аналитики и счётчика пропусков
	cfg     *config.Config
	now     func() time.Time
}

// NewService создаёт сервис леджера.
func NewService(store Store, catalog family.Store, cfg *config.Config) *Service {
	return &Service{
		store:   store,
		catalog: catalog,
		cfg:     cfg,
		now:     time.Now,
	}
}

// CompleteTask создаёт выполнение в статусе PENDING. Баланс не меняется.
// Ребёнок не может заявить одно и то же задание дважды за период повторения,
// если предыдущая заявка не была отклонена.
func (s *Service) CompleteTask(ctx context.Context, ownerID, childID, taskID string) (*CompletionLog, error) {
	// Часовой пояс читаем до транзакции: внутри Atomic доступен только tx
	loc, err := s.location(ctx, ownerID)
	if err != nil {
		metrics.ObserveOp("complete_task", err)
		return nil, err
	}

	var created *CompletionLog
	err = s.store.Atomic(ctx, func(tx Tx) error {
		if _, err := tx.LockChild(ctx, ownerID, childID); err != nil {
			return err
		}
		task, err := tx.Task(ctx, ownerID, taskID)
		if err != nil {
			return err
		}
		if !task.IsActive {
			return common.ErrTaskInactive
		}

		now := s.now().UTC()
		since := periodStart(task.Recurrence, now, loc)
		open, err := tx.HasOpenClaim(ctx, ownerID, childID, taskID, since)
		if err != nil {
			return err
		}
		if open {
			return common.ErrTaskAlreadyDone
		}

		created = &CompletionLog{
			ID:          uuid.NewString(),
			OwnerID:     ownerID,
			ChildID:     childID,
			TaskID:      taskID,
			Status:      StatusPending,
			CompletedAt: now,
		}
		return tx.InsertLog(ctx, created)
	})
	metrics.ObserveOp("complete_task", err)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"owner_id": ownerID,
		"child_id": childID,
		"task_id":  taskID,
		"log_id":   created.ID,
	}).Info("Задание отмечено, ждёт проверки")
	return created, nil
}

// VerifyTask подтверждает выполнение и платит ребёнку rewardValue звёзд.
// Статус, баланс и транзакция меняются атомарно. Повторная проверка
// того же выполнения возвращает common.ErrAlreadyProcessed и ничего не меняет.
func (s *Service) VerifyTask(ctx context.Context, ownerID, logID, childID string, rewardValue int64) (int64, error) {
	if rewardValue < 0 {
		metrics.ObserveOp("verify_task", common.ErrNegativeReward)
		return 0, common.ErrNegativeReward
	}

	var balance int64
	err := s.store.Atomic(ctx, func(tx Tx) error {
		entry, err := tx.LockLog(ctx, ownerID, logID)
		if err != nil {
			return err
		}
		if entry.ChildID != childID {
			return common.ErrLogNotFound
		}
		if entry.Status.Terminal() {
			return fmt.Errorf("%w: выполнение уже %s", common.ErrAlreadyProcessed, entry.Status)
		}
		if _, err := tx.LockChild(ctx, ownerID, childID); err != nil {
			return err
		}

		now := s.now().UTC()
		entry.Status = StatusVerified
		entry.ProcessedAt = &now
		if err := tx.FinishLog(ctx, entry); err != nil {
			return err
		}

		balance, err = tx.AddBalance(ctx, ownerID, childID, rewardValue)
		if err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, &Transaction{
			ID:          uuid.NewString(),
			OwnerID:     ownerID,
			ChildID:     childID,
			Amount:      rewardValue,
			Type:        TxTaskVerified,
			ReferenceID: &logID,
			CreatedAt:   now,
		})
	})
	metrics.ObserveOp("verify_task", err)
	if err != nil {
		return 0, err
	}
	metrics.ObserveStars(rewardValue)

	log.WithFields(log.Fields{
		"owner_id": ownerID,
		"child_id": childID,
		"log_id":   logID,
		"amount":   rewardValue,
		"balance":  balance,
	}).Info("Выполнение подтверждено")
	return balance, nil
}

// RejectTask отклоняет выполнение с причиной. Баланс не меняется.
func (s *Service) RejectTask(ctx context.Context, ownerID, logID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		metrics.ObserveOp("reject_task", common.ErrEmptyReason)
		return common.ErrEmptyReason
	}

	err := s.store.Atomic(ctx, func(tx Tx) error {
		entry, err := tx.LockLog(ctx, ownerID, logID)
		if err != nil {
			return err
		}
		if entry.Status.Terminal() {
			return fmt.Errorf("%w: выполнение уже %s", common.ErrAlreadyProcessed, entry.Status)
		}

		now := s.now().UTC()
		entry.Status = StatusRejected
		entry.ProcessedAt = &now
		entry.RejectionReason = &reason
		return tx.FinishLog(ctx, entry)
	})
	metrics.ObserveOp("reject_task", err)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{"owner_id": ownerID, "log_id": logID}).Info("Выполнение отклонено")
	return nil
}

// RedeemReward списывает звёзды за награду.
// Проверка баланса и списание идут по одной заблокированной строке ребёнка,
// поэтому две параллельные покупки не могут обе пройти на одном балансе.
func (s *Service) RedeemReward(ctx context.Context, req RedeemRequest) (int64, error) {
	var balance int64
	var cost int64
	err := s.store.Atomic(ctx, func(tx Tx) error {
		child, err := tx.LockChild(ctx, req.OwnerID, req.ChildID)
		if err != nil {
			return err
		}

		cost = req.Cost
		txType := TxManualAdj
		var description *string
		if req.RewardID != nil {
			reward, err := tx.Reward(ctx, req.OwnerID, *req.RewardID)
			if err != nil {
				return err
			}
			if req.Cost != 0 && req.Cost != reward.CostValue {
				return common.ErrCostMismatch
			}
			if err := s.checkRewardGate(ctx, tx, req.OwnerID, req.ChildID, reward); err != nil {
				return err
			}
			cost = reward.CostValue
			txType = TxRewardRedeemed
			description = &reward.Name
		} else if cost <= 0 {
			return common.ErrInvalidAmount
		}

		if cost < 0 {
			return fmt.Errorf("%w: стоимость не может быть отрицательной", common.ErrValidation)
		}
		if child.Balance < cost {
			return fmt.Errorf("%w: нужно %d, есть %d", common.ErrInsufficientBalance, cost, child.Balance)
		}

		balance, err = tx.AddBalance(ctx, req.OwnerID, req.ChildID, -cost)
		if err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, &Transaction{
			ID:          uuid.NewString(),
			OwnerID:     req.OwnerID,
			ChildID:     req.ChildID,
			Amount:      -cost,
			Type:        txType,
			ReferenceID: req.RewardID,
			Description: description,
			CreatedAt:   s.now().UTC(),
		})
	})
	metrics.ObserveOp("redeem_reward", err)
	if err != nil {
		return 0, err
	}
	metrics.ObserveStars(-cost)

	log.WithFields(log.Fields{
		"owner_id": req.OwnerID,
		"child_id": req.ChildID,
		"amount":   -cost,
		"balance":  balance,
	}).Info("Награда получена")
	return balance, nil
}

// checkRewardGate проверяет ограничения награды: кому она назначена,
// разовая ли она и выполнено ли условие накопительной награды.
func (s *Service) checkRewardGate(ctx context.Context, tx Tx, ownerID, childID string, reward *family.Reward) error {
	if !reward.AvailableTo(childID) {
		return common.ErrRewardNotAssigned
	}

	switch reward.Type {
	case family.RewardOneTime:
		last, err := tx.LastRedemption(ctx, ownerID, childID, reward.ID)
		if err != nil {
			return err
		}
		if last != nil {
			return common.ErrRewardUsed
		}

	case family.RewardAccumulative:
		if reward.RequiredTaskID == nil || reward.RequiredTaskCount == nil {
			return nil
		}
		// Каждая покупка «сжигает» накопленные выполнения: считаем только после прошлой
		last, err := tx.LastRedemption(ctx, ownerID, childID, reward.ID)
		if err != nil {
			return err
		}
		done, err := tx.CountVerifiedSince(ctx, ownerID, childID, *reward.RequiredTaskID, last)
		if err != nil {
			return err
		}
		if done < *reward.RequiredTaskCount {
			return fmt.Errorf("%w: выполнено %d из %d", common.ErrRewardLocked, done, *reward.RequiredTaskCount)
		}
	}
	return nil
}

// ManualAdjustment меняет баланс на amount (может быть отрицательным).
// Уход в минус разрешён только при LEDGER_ALLOW_NEGATIVE_ADJUST.
func (s *Service) ManualAdjustment(ctx context.Context, ownerID, childID string, amount int64, reason string) (int64, error) {
	if amount == 0 {
		metrics.ObserveOp("manual_adjustment", common.ErrInvalidAmount)
		return 0, common.ErrInvalidAmount
	}

	var balance int64
	err := s.store.Atomic(ctx, func(tx Tx) error {
		child, err := tx.LockChild(ctx, ownerID, childID)
		if err != nil {
			return err
		}
		if !s.cfg.LedgerAllowNegativeAdjust && child.Balance+amount < 0 {
			return fmt.Errorf("%w: нужно %d, есть %d", common.ErrInsufficientBalance, -amount, child.Balance)
		}

		balance, err = tx.AddBalance(ctx, ownerID, childID, amount)
		if err != nil {
			return err
		}

		var description *string
		if reason = strings.TrimSpace(reason); reason != "" {
			description = &reason
		}
		return tx.InsertTransaction(ctx, &Transaction{
			ID:          uuid.NewString(),
			OwnerID:     ownerID,
			ChildID:     childID,
			Amount:      amount,
			Type:        TxManualAdj,
			Description: description,
			CreatedAt:   s.now().UTC(),
		})
	})
	metrics.ObserveOp("manual_adjustment", err)
	if err != nil {
		return 0, err
	}
	metrics.ObserveStars(amount)

	log.WithFields(log.Fields{
		"owner_id": ownerID,
		"child_id": childID,
		"amount":   amount,
		"balance":  balance,
	}).Info("Ручная корректировка")
	return balance, nil
}

// Reconcile сверяет баланс ребёнка с суммой его транзакций и, если они
// разошлись, перезаписывает баланс суммой журнала. Журнал — источник истины.
func (s *Service) Reconcile(ctx context.Context, ownerID, childID string) (*Reconciliation, error) {
	var rec *Reconciliation
	err := s.store.Atomic(ctx, func(tx Tx) error {
		child, err := tx.LockChild(ctx, ownerID, childID)
		if err != nil {
			return err
		}
		sum, err := tx.SumTransactions(ctx, ownerID, childID)
		if err != nil {
			return err
		}
		rec = &Reconciliation{ChildID: childID, Stored: child.Balance, Computed: sum}
		if child.Balance == sum {
			return nil
		}
		rec.Repaired = true
		return tx.SetBalance(ctx, ownerID, childID, sum)
	})
	metrics.ObserveOp("reconcile", err)
	if err != nil {
		return nil, err
	}

	if rec.Repaired {
		metrics.BalanceRepairs.Inc()
		log.WithFields(log.Fields{
			"owner_id": ownerID,
			"child_id": childID,
			"stored":   rec.Stored,
			"computed": rec.Computed,
		}).Warn("Баланс расходился с журналом и был исправлен")
	}
	return rec, nil
}

// ReconcileFamily сверяет балансы всех детей семьи.
func (s *Service) ReconcileFamily(ctx context.Context, ownerID string) ([]*Reconciliation, error) {
	children, err := s.catalog.Children(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]*Reconciliation, 0, len(children))
	for _, c := range children {
		rec, err := s.Reconcile(ctx, ownerID, c.ID)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// --- Запросы (без побочных эффектов) ---

// PendingVerifications возвращает очередь на проверку.
func (s *Service) PendingVerifications(ctx context.Context, ownerID string) ([]*PendingVerification, error) {
	return s.store.PendingVerifications(ctx, ownerID)
}

// CountPending возвращает размер очереди на проверку.
func (s *Service) CountPending(ctx context.Context, ownerID string) (int, error) {
	return s.store.CountPending(ctx, ownerID)
}

// Transactions возвращает последние транзакции семьи (limit<=0 → LEDGER_HISTORY_LIMIT).
func (s *Service) Transactions(ctx context.Context, ownerID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = s.cfg.LedgerHistoryLimit
	}
	return s.store.Transactions(ctx, ownerID, limit)
}

// ChildTransactions возвращает последние транзакции ребёнка.
func (s *Service) ChildTransactions(ctx context.Context, ownerID, childID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = s.cfg.LedgerHistoryLimit
	}
	return s.store.ChildTransactions(ctx, ownerID, childID, limit)
}

// Logs возвращает последние выполнения семьи (limit<=0 → LEDGER_LOG_LIMIT).
func (s *Service) Logs(ctx context.Context, ownerID string, limit int) ([]*CompletionLog, error) {
	if limit <= 0 {
		limit = s.cfg.LedgerLogLimit
	}
	return s.store.Logs(ctx, ownerID, limit)
}

// MissedToday считает пары (ребёнок, активное ежедневное задание),
// по которым сегодня нет ни одной не отклонённой заявки.
func (s *Service) MissedToday(ctx context.Context, ownerID string, now time.Time) (int, error) {
	tasks, err := s.catalog.Tasks(ctx, ownerID, false)
	if err != nil {
		return 0, err
	}
	var daily []*family.Task
	for _, t := range tasks {
		if t.Recurrence == family.RecurrenceDaily {
			daily = append(daily, t)
		}
	}
	if len(daily) == 0 {
		return 0, nil
	}

	children, err := s.catalog.Children(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	loc, err := s.location(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	logs, err := s.store.LogsSince(ctx, ownerID, periodStart(family.RecurrenceDaily, now, loc))
	if err != nil {
		return 0, err
	}

	done := make(map[[2]string]bool, len(logs))
	for _, l := range logs {
		if l.Status != StatusRejected {
			done[[2]string{l.ChildID, l.TaskID}] = true
		}
	}

	missed := 0
	for _, c := range children {
		for _, t := range daily {
			if !done[[2]string{c.ID, t.ID}] {
				missed++
			}
		}
	}
	return missed, nil
}

// FamilyAnalytics загружает данные семьи и считает показатели по категориям.
// Если childID не пуст, в расчёт попадают только его выполнения и транзакции.
func (s *Service) FamilyAnalytics(ctx context.Context, ownerID, childID string) ([]CategoryMetric, error) {
	categories, err := s.catalog.Categories(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.catalog.Tasks(ctx, ownerID, true)
	if err != nil {
		return nil, err
	}
	// Вся история без лимитов: иначе Earned теряет старые начисления,
	// которые Completed ещё учитывает
	logs, txs, err := s.store.History(ctx, ownerID, childID)
	if err != nil {
		return nil, err
	}
	return CategoryPerformance(categories, logs, txs, tasks), nil
}

// periodStart возвращает начало текущего периода повторения задания.
// Для разовых заданий период — вся история.
func periodStart(r family.Recurrence, now time.Time, loc *time.Location) time.Time {
	switch r {
	case family.RecurrenceDaily:
		return common.StartOfDay(now, loc)
	case family.RecurrenceWeekly:
		return common.StartOfWeek(now, loc)
	default:
		return time.Time{}
	}
}

// location возвращает часовой пояс семьи.
func (s *Service) location(ctx context.Context, ownerID string) (*time.Location, error) {
	f, err := s.catalog.FamilyByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.LoadLocation(s.cfg.AppTimezone), nil
		}
		return nil, err
	}
	if f.Settings.Timezone != "" {
		return common.LoadLocation(f.Settings.Timezone), nil
	}
	return common.LoadLocation(s.cfg.AppTimezone), nil
}
