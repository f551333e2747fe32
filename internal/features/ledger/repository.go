// Package ledger — repository.go реализует Store поверх PostgreSQL.
// Каждая операция леджера выполняется в одной транзакции БД,
// строка ребёнка блокируется через SELECT ... FOR UPDATE.
package ledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/db/postgres"
	"serotonyl.ru/family-stars/internal/features/family"
)

// Repository работает с таблицами completion_logs и transactions.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий леджера.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const (
	// LogColumns — колонки completion_logs в порядке ScanLog
	LogColumns = `id, owner_id, child_id, task_id, status, completed_at, processed_at, rejection_reason`
	// TransactionColumns — колонки transactions в порядке ScanTransaction
	TransactionColumns = `id, owner_id, child_id, amount, type, reference_id, description, created_at`
)

// ScanLog читает выполнение в порядке LogColumns.
func ScanLog(row family.Scanner) (*CompletionLog, error) {
	var l CompletionLog
	err := row.Scan(&l.ID, &l.OwnerID, &l.ChildID, &l.TaskID, &l.Status, &l.CompletedAt, &l.ProcessedAt, &l.RejectionReason)
	return &l, err
}

// ScanTransaction читает транзакцию в порядке TransactionColumns.
func ScanTransaction(row family.Scanner) (*Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.OwnerID, &t.ChildID, &t.Amount, &t.Type, &t.ReferenceID, &t.Description, &t.CreatedAt)
	return &t, err
}

// Atomic выполняет fn в транзакции БД.
func (r *Repository) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return postgres.InTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// PendingVerifications возвращает очередь на проверку, старые первыми.
func (r *Repository) PendingVerifications(ctx context.Context, ownerID string) ([]*PendingVerification, error) {
	query := `
		SELECT l.id, l.owner_id, l.child_id, l.task_id, l.status, l.completed_at, l.processed_at, l.rejection_reason,
		       t.name, t.reward_value, c.name
		FROM completion_logs l
		JOIN tasks t ON t.id = l.task_id AND t.owner_id = l.owner_id
		JOIN children c ON c.id = l.child_id AND c.owner_id = l.owner_id
		WHERE l.owner_id = $1 AND l.status = 'PENDING'
		ORDER BY l.completed_at, l.id
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, common.Persistence("pending verifications", err)
	}
	defer rows.Close()

	var out []*PendingVerification
	for rows.Next() {
		var l CompletionLog
		pv := PendingVerification{Log: &l}
		if err := rows.Scan(
			&l.ID, &l.OwnerID, &l.ChildID, &l.TaskID, &l.Status, &l.CompletedAt, &l.ProcessedAt, &l.RejectionReason,
			&pv.TaskName, &pv.RewardValue, &pv.ChildName,
		); err != nil {
			return nil, common.Persistence("pending verifications", err)
		}
		out = append(out, &pv)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Persistence("pending verifications", err)
	}
	return out, nil
}

func (r *Repository) CountPending(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM completion_logs WHERE owner_id = $1 AND status = 'PENDING'`, ownerID,
	).Scan(&n)
	return n, common.Persistence("count pending", err)
}

func (r *Repository) Transactions(ctx context.Context, ownerID string, limit int) ([]*Transaction, error) {
	query := `
		SELECT ` + TransactionColumns + ` FROM transactions
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, ownerID, limit)
	return collect(rows, err, "transactions", ScanTransaction)
}

func (r *Repository) ChildTransactions(ctx context.Context, ownerID, childID string, limit int) ([]*Transaction, error) {
	query := `
		SELECT ` + TransactionColumns + ` FROM transactions
		WHERE owner_id = $1 AND child_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, ownerID, childID, limit)
	return collect(rows, err, "child transactions", ScanTransaction)
}

func (r *Repository) Logs(ctx context.Context, ownerID string, limit int) ([]*CompletionLog, error) {
	query := `
		SELECT ` + LogColumns + ` FROM completion_logs
		WHERE owner_id = $1
		ORDER BY completed_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, ownerID, limit)
	return collect(rows, err, "logs", ScanLog)
}

func (r *Repository) LogsSince(ctx context.Context, ownerID string, since time.Time) ([]*CompletionLog, error) {
	query := `
		SELECT ` + LogColumns + ` FROM completion_logs
		WHERE owner_id = $1 AND completed_at >= $2
		ORDER BY completed_at
	`
	rows, err := r.db.Query(ctx, query, ownerID, since)
	return collect(rows, err, "logs since", ScanLog)
}

// History читает всю историю в одной транзакции repeatable read,
// чтобы выполнения и транзакции были из одного снимка.
func (r *Repository) History(ctx context.Context, ownerID, childID string) ([]*CompletionLog, []*Transaction, error) {
	var logs []*CompletionLog
	var txs []*Transaction
	err := pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+LogColumns+` FROM completion_logs
			WHERE owner_id = $1 AND ($2 = '' OR child_id = $2)
			ORDER BY completed_at, id
		`, ownerID, childID)
		if logs, err = collect(rows, err, "history logs", ScanLog); err != nil {
			return err
		}
		rows, err = tx.Query(ctx, `
			SELECT `+TransactionColumns+` FROM transactions
			WHERE owner_id = $1 AND ($2 = '' OR child_id = $2)
			ORDER BY seq
		`, ownerID, childID)
		txs, err = collect(rows, err, "history transactions", ScanTransaction)
		return err
	})
	if err != nil {
		return nil, nil, common.Persistence("history", err)
	}
	return logs, txs, nil
}

func collect[T any](rows pgx.Rows, err error, op string, scan func(family.Scanner) (*T, error)) ([]*T, error) {
	if err != nil {
		return nil, common.Persistence(op, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, common.Persistence(op, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Persistence(op, err)
	}
	return out, nil
}

// pgTx — операции внутри транзакции БД.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockChild(ctx context.Context, ownerID, childID string) (*family.Child, error) {
	c, err := family.ScanChild(t.tx.QueryRow(ctx,
		`SELECT `+family.ChildColumns+` FROM children WHERE owner_id = $1 AND id = $2 FOR UPDATE`,
		ownerID, childID))
	if err != nil {
		return nil, postgres.NotFound("lock child", err, common.ErrChildNotFound)
	}
	return c, nil
}

func (t *pgTx) LockLog(ctx context.Context, ownerID, logID string) (*CompletionLog, error) {
	l, err := ScanLog(t.tx.QueryRow(ctx,
		`SELECT `+LogColumns+` FROM completion_logs WHERE owner_id = $1 AND id = $2 FOR UPDATE`,
		ownerID, logID))
	if err != nil {
		return nil, postgres.NotFound("lock log", err, common.ErrLogNotFound)
	}
	return l, nil
}

func (t *pgTx) Task(ctx context.Context, ownerID, taskID string) (*family.Task, error) {
	task, err := family.ScanTask(t.tx.QueryRow(ctx,
		`SELECT `+family.TaskColumns+` FROM tasks WHERE owner_id = $1 AND id = $2`, ownerID, taskID))
	if err != nil {
		return nil, postgres.NotFound("task", err, common.ErrTaskNotFound)
	}
	return task, nil
}

func (t *pgTx) Reward(ctx context.Context, ownerID, rewardID string) (*family.Reward, error) {
	rw, err := family.ScanReward(t.tx.QueryRow(ctx,
		`SELECT `+family.RewardColumns+` FROM rewards WHERE owner_id = $1 AND id = $2`, ownerID, rewardID))
	if err != nil {
		return nil, postgres.NotFound("reward", err, common.ErrRewardNotFound)
	}
	return rw, nil
}

func (t *pgTx) InsertLog(ctx context.Context, l *CompletionLog) error {
	query := `
		INSERT INTO completion_logs (id, owner_id, child_id, task_id, status, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := t.tx.Exec(ctx, query, l.ID, l.OwnerID, l.ChildID, l.TaskID, l.Status, l.CompletedAt)
	return common.Persistence("insert log", err)
}

// FinishLog обновляет только PENDING-выполнение: условие в WHERE
// не даёт обработать выполнение дважды.
func (t *pgTx) FinishLog(ctx context.Context, l *CompletionLog) error {
	query := `
		UPDATE completion_logs
		SET status = $3, processed_at = $4, rejection_reason = $5
		WHERE owner_id = $1 AND id = $2 AND status = 'PENDING'
	`
	tag, err := t.tx.Exec(ctx, query, l.OwnerID, l.ID, l.Status, l.ProcessedAt, l.RejectionReason)
	if err != nil {
		return common.Persistence("finish log", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrAlreadyProcessed
	}
	return nil
}

func (t *pgTx) AddBalance(ctx context.Context, ownerID, childID string, delta int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRow(ctx,
		`UPDATE children SET balance = balance + $3 WHERE owner_id = $1 AND id = $2 RETURNING balance`,
		ownerID, childID, delta,
	).Scan(&balance)
	if err != nil {
		return 0, postgres.NotFound("add balance", err, common.ErrChildNotFound)
	}
	return balance, nil
}

func (t *pgTx) SetBalance(ctx context.Context, ownerID, childID string, balance int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE children SET balance = $3 WHERE owner_id = $1 AND id = $2`, ownerID, childID, balance)
	if err != nil {
		return common.Persistence("set balance", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrChildNotFound
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *Transaction) error {
	query := `
		INSERT INTO transactions (id, owner_id, child_id, amount, type, reference_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.Exec(ctx, query, tr.ID, tr.OwnerID, tr.ChildID, tr.Amount, tr.Type, tr.ReferenceID, tr.Description, tr.CreatedAt)
	return common.Persistence("insert transaction", err)
}

func (t *pgTx) SumTransactions(ctx context.Context, ownerID, childID string) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE owner_id = $1 AND child_id = $2`,
		ownerID, childID,
	).Scan(&sum)
	return sum, common.Persistence("sum transactions", err)
}

func (t *pgTx) HasOpenClaim(ctx context.Context, ownerID, childID, taskID string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM completion_logs
			WHERE owner_id = $1 AND child_id = $2 AND task_id = $3
			  AND status <> 'REJECTED' AND completed_at >= $4
		)
	`
	var exists bool
	err := t.tx.QueryRow(ctx, query, ownerID, childID, taskID, since).Scan(&exists)
	return exists, common.Persistence("open claim", err)
}

func (t *pgTx) LastRedemption(ctx context.Context, ownerID, childID, rewardID string) (*int64, error) {
	query := `
		SELECT MAX(seq) FROM transactions
		WHERE owner_id = $1 AND child_id = $2 AND type = 'REWARD_REDEEMED' AND reference_id = $3
	`
	var seq *int64
	if err := t.tx.QueryRow(ctx, query, ownerID, childID, rewardID).Scan(&seq); err != nil {
		return nil, common.Persistence("last redemption", err)
	}
	return seq, nil
}

func (t *pgTx) CountVerifiedSince(ctx context.Context, ownerID, childID, taskID string, after *int64) (int, error) {
	query := `
		SELECT COUNT(*) FROM completion_logs l
		WHERE l.owner_id = $1 AND l.child_id = $2 AND l.task_id = $3
		  AND l.status IN ('VERIFIED', 'COMPLETED')
		  AND ($4::bigint IS NULL OR EXISTS (
		      SELECT 1 FROM transactions t
		      WHERE t.owner_id = l.owner_id AND t.child_id = l.child_id
		        AND t.type = 'TASK_VERIFIED' AND t.reference_id = l.id AND t.seq > $4
		  ))
	`
	var n int
	err := t.tx.QueryRow(ctx, query, ownerID, childID, taskID, after).Scan(&n)
	return n, common.Persistence("count verified", err)
}

var (
	_ Store = (*Repository)(nil)
	_ Tx    = (*pgTx)(nil)
)
