package ledger

import (
	"context"
	"time"

	"serotonyl.ru/family-stars/internal/features/family"
)

// Store — хранилище леджера.
//
// Atomic выполняет fn в одной транзакции хранилища: если fn вернула ошибку,
// ни одно изменение не сохраняется. Внутри fn баланс ребёнка читается
// через Tx.LockChild — строка блокируется до коммита, поэтому решение
// «хватает ли звёзд» не устаревает к моменту записи.
type Store interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	PendingVerifications(ctx context.Context, ownerID string) ([]*PendingVerification, error)
	CountPending(ctx context.Context, ownerID string) (int, error)
	// Transactions возвращает последние транзакции семьи, новые первыми
	Transactions(ctx context.Context, ownerID string, limit int) ([]*Transaction, error)
	ChildTransactions(ctx context.Context, ownerID, childID string, limit int) ([]*Transaction, error)
	// Logs возвращает последние выполнения семьи, новые первыми
	Logs(ctx context.Context, ownerID string, limit int) ([]*CompletionLog, error)
	// LogsSince возвращает выполнения, отмеченные не раньше since
	LogsSince(ctx context.Context, ownerID string, since time.Time) ([]*CompletionLog, error)
	// History возвращает все выполнения и транзакции семьи без лимита.
	// Непустой childID оставляет только записи этого ребёнка.
	History(ctx context.Context, ownerID, childID string) ([]*CompletionLog, []*Transaction, error)
}

// Tx — операции внутри Store.Atomic.
type Tx interface {
	LockChild(ctx context.Context, ownerID, childID string) (*family.Child, error)
	LockLog(ctx context.Context, ownerID, logID string) (*CompletionLog, error)
	Task(ctx context.Context, ownerID, taskID string) (*family.Task, error)
	Reward(ctx context.Context, ownerID, rewardID string) (*family.Reward, error)

	InsertLog(ctx context.Context, l *CompletionLog) error
	// FinishLog переводит PENDING-выполнение в конечное состояние.
	// Если выполнение уже не PENDING — common.ErrAlreadyProcessed.
	FinishLog(ctx context.Context, l *CompletionLog) error

	// AddBalance меняет баланс на delta и возвращает новый баланс
	AddBalance(ctx context.Context, ownerID, childID string, delta int64) (int64, error)
	SetBalance(ctx context.Context, ownerID, childID string, balance int64) error
	InsertTransaction(ctx context.Context, t *Transaction) error
	SumTransactions(ctx context.Context, ownerID, childID string) (int64, error)

	// HasOpenClaim — есть ли не отклонённое выполнение задания ребёнком с момента since
	HasOpenClaim(ctx context.Context, ownerID, childID, taskID string, since time.Time) (bool, error)
	// LastRedemption — позиция последней покупки награды ребёнком
	// в журнале транзакций (nil — не покупал). Позиции строго растут
	// в порядке записи и не зависят от часов.
	LastRedemption(ctx context.Context, ownerID, childID, rewardID string) (*int64, error)
	// CountVerifiedSince — число проверенных выполнений задания, чьё начисление
	// записано в журнал после позиции after (nil — за всё время)
	CountVerifiedSince(ctx context.Context, ownerID, childID, taskID string, after *int64) (int, error)
}
