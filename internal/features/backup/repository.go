// Package backup — repository.go выгружает и заменяет состояние семьи в PostgreSQL.
package backup

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/db/postgres"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/ledger"
)

// Repository читает и пишет все таблицы семьи разом.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий резервных копий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Dump читает состояние семьи в одной транзакции (согласованный снимок).
func (r *Repository) Dump(ctx context.Context, ownerID string) (*Data, error) {
	var d Data
	err := pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT settings FROM families WHERE id = $1`, ownerID).Scan(&d.Settings); err != nil {
			return postgres.NotFound("dump family", err, common.ErrFamilyNotFound)
		}

		var err error
		if d.Children, err = dumpTable(ctx, tx, family.ChildColumns, "children", "created_at, id", ownerID, family.ScanChild); err != nil {
			return err
		}
		if d.Tasks, err = dumpTable(ctx, tx, family.TaskColumns, "tasks", "created_at, id", ownerID, family.ScanTask); err != nil {
			return err
		}
		if d.Rewards, err = dumpTable(ctx, tx, family.RewardColumns, "rewards", "created_at, id", ownerID, family.ScanReward); err != nil {
			return err
		}
		if d.Categories, err = dumpTable(ctx, tx, family.CategoryColumns, "categories", "name, id", ownerID, family.ScanCategory); err != nil {
			return err
		}
		if d.ChildLogs, err = dumpTable(ctx, tx, ledger.LogColumns, "completion_logs", "completed_at, id", ownerID, ledger.ScanLog); err != nil {
			return err
		}
		d.Transactions, err = dumpTable(ctx, tx, ledger.TransactionColumns, "transactions", "seq", ownerID, ledger.ScanTransaction)
		return err
	})
	if err != nil {
		return nil, common.Persistence("dump", err)
	}
	return &d, nil
}

func dumpTable[T any](ctx context.Context, tx pgx.Tx, columns, table, order, ownerID string, scan func(family.Scanner) (*T, error)) ([]*T, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = $1 ORDER BY %s`, columns, table, order)
	rows, err := tx.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// Replace удаляет записи семьи и вставляет записи копии в одной транзакции.
// Выполнения и транзакции вставляются через COPY.
func (r *Repository) Replace(ctx context.Context, ownerID string, d *Data) error {
	return postgres.InTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE families SET settings = $2 WHERE id = $1`, ownerID, d.Settings)
		if err != nil {
			return common.Persistence("replace settings", err)
		}
		if tag.RowsAffected() == 0 {
			return common.ErrFamilyNotFound
		}

		// Порядок важен из-за внешних ключей
		for _, table := range []string{"transactions", "completion_logs", "rewards", "tasks", "categories", "children"} {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE owner_id = $1`, ownerID); err != nil {
				return common.Persistence("clear "+table, err)
			}
		}

		batch := &pgx.Batch{}
		for _, c := range d.Children {
			batch.Queue(`INSERT INTO children (`+family.ChildColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				c.ID, c.OwnerID, c.Name, c.BirthDate, c.Avatar, c.Balance, c.TelegramUserID, c.CreatedAt)
		}
		for _, c := range d.Categories {
			batch.Queue(`INSERT INTO categories (`+family.CategoryColumns+`) VALUES ($1, $2, $3, $4)`,
				c.ID, c.OwnerID, c.Name, c.Icon)
		}
		for _, t := range d.Tasks {
			batch.Queue(`INSERT INTO tasks (`+family.TaskColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				t.ID, t.OwnerID, t.Name, t.RewardValue, t.Recurrence, t.CategoryID, t.IsActive, t.CreatedAt)
		}
		for _, rw := range d.Rewards {
			assigned := rw.AssignedTo
			if assigned == nil {
				assigned = []string{}
			}
			batch.Queue(`INSERT INTO rewards (`+family.RewardColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				rw.ID, rw.OwnerID, rw.Name, rw.CostValue, rw.Category, rw.Type,
				rw.RequiredTaskID, rw.RequiredTaskCount, assigned, rw.CreatedAt)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return common.Persistence("restore catalog", err)
			}
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"completion_logs"},
			[]string{"id", "owner_id", "child_id", "task_id", "status", "completed_at", "processed_at", "rejection_reason"},
			pgx.CopyFromSlice(len(d.ChildLogs), func(i int) ([]any, error) {
				l := d.ChildLogs[i]
				return []any{l.ID, l.OwnerID, l.ChildID, l.TaskID, string(l.Status), l.CompletedAt, l.ProcessedAt, l.RejectionReason}, nil
			}),
		)
		if err != nil {
			return common.Persistence("restore logs", err)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"transactions"},
			[]string{"id", "owner_id", "child_id", "amount", "type", "reference_id", "description", "created_at"},
			pgx.CopyFromSlice(len(d.Transactions), func(i int) ([]any, error) {
				t := d.Transactions[i]
				return []any{t.ID, t.OwnerID, t.ChildID, t.Amount, string(t.Type), t.ReferenceID, t.Description, t.CreatedAt}, nil
			}),
		)
		if err != nil {
			return common.Persistence("restore transactions", err)
		}
		return nil
	})
}

var _ Store = (*Repository)(nil)
