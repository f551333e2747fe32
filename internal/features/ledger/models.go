// Package ledger ведёт звёздный баланс детей: выполнения заданий,
// их проверку родителями, покупку наград и историю транзакций.
// models.go описывает выполнения и транзакции.
package ledger

import "time"

// LogStatus — состояние выполнения задания.
// PENDING → VERIFIED или PENDING → REJECTED. Оба конечных состояния неизменны.
type LogStatus string

const (
	StatusPending  LogStatus = "PENDING"
	StatusVerified LogStatus = "VERIFIED"
	StatusRejected LogStatus = "REJECTED"
	// StatusCompleted встречается в старых резервных копиях, аналитика считает его как VERIFIED
	StatusCompleted LogStatus = "COMPLETED"
)

// Terminal сообщает, что выполнение уже обработано.
func (s LogStatus) Terminal() bool {
	return s != StatusPending
}

// CompletionLog — заявка ребёнка о том, что задание выполнено.
type CompletionLog struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	ChildID         string     `json:"child_id"`
	TaskID          string     `json:"task_id"`
	Status          LogStatus  `json:"status"`
	CompletedAt     time.Time  `json:"completed_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"` // Когда родитель проверил или отклонил
	RejectionReason *string    `json:"rejection_reason,omitempty"`
}

// TxType — причина изменения баланса.
type TxType string

const (
	TxTaskVerified   TxType = "TASK_VERIFIED"   // Оплата проверенного задания
	TxRewardRedeemed TxType = "REWARD_REDEEMED" // Покупка награды
	TxManualAdj      TxType = "MANUAL_ADJ"      // Ручная корректировка родителем
)

// Transaction — неизменяемая запись журнала. Каждое изменение баланса
// сопровождается ровно одной транзакцией с тем же знаком.
type Transaction struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	ChildID     string    `json:"child_id"`
	Amount      int64     `json:"amount"` // Со знаком: + начисление, - списание
	Type        TxType    `json:"type"`
	ReferenceID *string   `json:"reference_id,omitempty"` // ID выполнения или награды
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PendingVerification — выполнение в очереди на проверку вместе с данными для экрана.
type PendingVerification struct {
	Log         *CompletionLog `json:"log"`
	TaskName    string         `json:"task_name"`
	RewardValue int64          `json:"reward_value"`
	ChildName   string         `json:"child_name"`
}

// RedeemRequest — запрос на списание звёзд.
// Если RewardID задан, стоимость берётся из награды.
type RedeemRequest struct {
	OwnerID  string
	ChildID  string
	Cost     int64
	RewardID *string
}

// Reconciliation — результат сверки баланса с журналом транзакций.
type Reconciliation struct {
	ChildID  string `json:"child_id"`
	Stored   int64  `json:"stored"`   // Баланс до сверки
	Computed int64  `json:"computed"` // Сумма транзакций
	Repaired bool   `json:"repaired"`
}
