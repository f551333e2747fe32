// Package metrics — счётчики Prometheus и HTTP-сервер для /metrics и проверок здоровья.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"serotonyl.ru/family-stars/internal/common"
)

// LedgerOperations — операции леджера по типу и результату.
var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "family_stars",
	Name:      "ledger_operations_total",
	Help:      "Ledger operations by kind and result.",
}, []string{"op", "result"})

// StarsMoved — сколько звёзд начислено и списано.
var StarsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "family_stars",
	Name:      "stars_moved_total",
	Help:      "Stars credited and debited through the ledger.",
}, []string{"direction"})

// PendingVerifications — размер очереди на проверку по семьям.
var PendingVerifications = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "family_stars",
	Name:      "pending_verifications",
	Help:      "Completion logs waiting for parent verification.",
}, []string{"owner_id"})

// BalanceRepairs — сколько раз сверка исправила баланс.
var BalanceRepairs = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "family_stars",
	Name:      "balance_repairs_total",
	Help:      "Balances overwritten by reconciliation with the transaction log.",
})

// BotUpdates — обработанные апдейты Telegram.
var BotUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "family_stars",
	Name:      "bot_updates_total",
	Help:      "Telegram updates by outcome.",
}, []string{"outcome"})

// ObserveOp учитывает результат операции леджера.
func ObserveOp(op string, err error) {
	LedgerOperations.WithLabelValues(op, Result(err)).Inc()
}

// ObserveStars учитывает движение звёзд.
func ObserveStars(amount int64) {
	switch {
	case amount > 0:
		StarsMoved.WithLabelValues("credit").Add(float64(amount))
	case amount < 0:
		StarsMoved.WithLabelValues("debit").Add(float64(-amount))
	}
}

// Result переводит ошибку в короткую метку.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrValidation):
		return "validation"
	case errors.Is(err, common.ErrNotFound):
		return "not_found"
	case errors.Is(err, common.ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, common.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, common.ErrPersistence):
		return "persistence"
	default:
		return "error"
	}
}
