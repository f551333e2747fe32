// Package family — repository.go реализует Store поверх PostgreSQL.
// Все запросы к данным семьи фильтруются по owner_id.
package family

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/db/postgres"
)

// Repository работает с таблицами families, family_parents, children,
// categories, tasks и rewards.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий каталога.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Scanner — общий интерфейс pgx.Row и pgx.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Колонки в порядке, который ожидают Scan*-функции
const (
	familyColumns   = `id, chat_id, name, pin_hash, settings, created_at`
	ChildColumns    = `id, owner_id, name, birth_date, avatar, balance, telegram_user_id, created_at`
	TaskColumns     = `id, owner_id, name, reward_value, recurrence_rule, category_id, is_active, created_at`
	CategoryColumns = `id, owner_id, name, icon`
	RewardColumns   = `id, owner_id, name, cost_value, category, type, required_task_id, required_task_count, assigned_to, created_at`
)

func scanFamily(row Scanner) (*Family, error) {
	var f Family
	err := row.Scan(&f.ID, &f.ChatID, &f.Name, &f.PinHash, &f.Settings, &f.CreatedAt)
	return &f, err
}

// ScanChild читает ребёнка в порядке ChildColumns.
func ScanChild(row Scanner) (*Child, error) {
	var c Child
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.BirthDate, &c.Avatar, &c.Balance, &c.TelegramUserID, &c.CreatedAt)
	return &c, err
}

// ScanTask читает задание в порядке TaskColumns.
func ScanTask(row Scanner) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.RewardValue, &t.Recurrence, &t.CategoryID, &t.IsActive, &t.CreatedAt)
	return &t, err
}

// ScanCategory читает категорию в порядке CategoryColumns.
func ScanCategory(row Scanner) (*Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Icon)
	return &c, err
}

// ScanReward читает награду в порядке RewardColumns.
func ScanReward(row Scanner) (*Reward, error) {
	var r Reward
	err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &r.CostValue, &r.Category, &r.Type,
		&r.RequiredTaskID, &r.RequiredTaskCount, &r.AssignedTo, &r.CreatedAt)
	return &r, err
}

// collect читает все строки через scan.
func collect[T any](rows pgx.Rows, err error, op string, scan func(Scanner) (*T, error)) ([]*T, error) {
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

// --- Семьи ---

// CreateFamily добавляет семью и её первого родителя в одной транзакции.
// Второй семьи для того же чата быть не может.
func (r *Repository) CreateFamily(ctx context.Context, f *Family, parentUserID int64) error {
	return postgres.InTx(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO families (id, chat_id, name, pin_hash, settings, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (chat_id) DO NOTHING
		`
		tag, err := tx.Exec(ctx, query, f.ID, f.ChatID, f.Name, f.PinHash, f.Settings, f.CreatedAt)
		if err != nil {
			return common.Persistence("create family", err)
		}
		if tag.RowsAffected() == 0 {
			return common.ErrFamilyExists
		}
		_, err = tx.Exec(ctx, `INSERT INTO family_parents (family_id, user_id, added_at) VALUES ($1, $2, $3)`,
			f.ID, parentUserID, f.CreatedAt)
		return common.Persistence("add first parent", err)
	})
}

// UpdateFamily сохраняет имя, PIN и настройки семьи.
func (r *Repository) UpdateFamily(ctx context.Context, f *Family) error {
	query := `UPDATE families SET name = $2, pin_hash = $3, settings = $4 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, f.ID, f.Name, f.PinHash, f.Settings)
	if err != nil {
		return common.Persistence("update family", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrFamilyNotFound
	}
	return nil
}

func (r *Repository) FamilyByID(ctx context.Context, id string) (*Family, error) {
	f, err := scanFamily(r.db.QueryRow(ctx, `SELECT `+familyColumns+` FROM families WHERE id = $1`, id))
	if err != nil {
		return nil, postgres.NotFound("family", err, common.ErrFamilyNotFound)
	}
	return f, nil
}

func (r *Repository) FamilyByChat(ctx context.Context, chatID int64) (*Family, error) {
	f, err := scanFamily(r.db.QueryRow(ctx, `SELECT `+familyColumns+` FROM families WHERE chat_id = $1`, chatID))
	if err != nil {
		return nil, postgres.NotFound("family by chat", err, common.ErrFamilyNotFound)
	}
	return f, nil
}

// FamilyByParent возвращает первую семью, где пользователь — родитель.
func (r *Repository) FamilyByParent(ctx context.Context, userID int64) (*Family, error) {
	query := `
		SELECT f.id, f.chat_id, f.name, f.pin_hash, f.settings, f.created_at
		FROM families f
		JOIN family_parents p ON p.family_id = f.id
		WHERE p.user_id = $1
		ORDER BY p.added_at
		LIMIT 1
	`
	f, err := scanFamily(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, postgres.NotFound("family by parent", err, common.ErrFamilyNotFound)
	}
	return f, nil
}

func (r *Repository) ListFamilies(ctx context.Context) ([]*Family, error) {
	rows, err := r.db.Query(ctx, `SELECT `+familyColumns+` FROM families ORDER BY created_at`)
	return collect(rows, err, "list families", scanFamily)
}

func (r *Repository) AddParent(ctx context.Context, familyID string, userID int64) error {
	query := `
		INSERT INTO family_parents (family_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (family_id, user_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, familyID, userID); err != nil {
		return common.Persistence("add parent", err)
	}
	return nil
}

func (r *Repository) Parents(ctx context.Context, familyID string) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id FROM family_parents WHERE family_id = $1 ORDER BY added_at`, familyID)
	if err != nil {
		return nil, common.Persistence("parents", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, common.Persistence("parents", err)
	}
	return ids, nil
}

// --- Дети ---

func (r *Repository) Children(ctx context.Context, ownerID string) ([]*Child, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ChildColumns+` FROM children WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	return collect(rows, err, "children", ScanChild)
}

func (r *Repository) ChildByID(ctx context.Context, ownerID, childID string) (*Child, error) {
	c, err := ScanChild(r.db.QueryRow(ctx,
		`SELECT `+ChildColumns+` FROM children WHERE owner_id = $1 AND id = $2`, ownerID, childID))
	if err != nil {
		return nil, postgres.NotFound("child", err, common.ErrChildNotFound)
	}
	return c, nil
}

func (r *Repository) ChildByTelegram(ctx context.Context, ownerID string, userID int64) (*Child, error) {
	c, err := ScanChild(r.db.QueryRow(ctx,
		`SELECT `+ChildColumns+` FROM children WHERE owner_id = $1 AND telegram_user_id = $2`, ownerID, userID))
	if err != nil {
		return nil, postgres.NotFound("child by telegram", err, common.ErrChildNotFound)
	}
	return c, nil
}

func (r *Repository) InsertChild(ctx context.Context, c *Child) error {
	query := `
		INSERT INTO children (id, owner_id, name, birth_date, avatar, balance, telegram_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query, c.ID, c.OwnerID, c.Name, c.BirthDate, c.Avatar, c.Balance, c.TelegramUserID, c.CreatedAt)
	return common.Persistence("insert child", err)
}

// UpdateChildProfile меняет профиль ребёнка. Баланс меняет только леджер.
func (r *Repository) UpdateChildProfile(ctx context.Context, c *Child) error {
	query := `
		UPDATE children SET name = $3, birth_date = $4, avatar = $5, telegram_user_id = $6
		WHERE owner_id = $1 AND id = $2
	`
	tag, err := r.db.Exec(ctx, query, c.OwnerID, c.ID, c.Name, c.BirthDate, c.Avatar, c.TelegramUserID)
	if err != nil {
		return common.Persistence("update child", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrChildNotFound
	}
	return nil
}

// --- Задания ---

func (r *Repository) Tasks(ctx context.Context, ownerID string, includeInactive bool) ([]*Task, error) {
	query := `
		SELECT ` + TaskColumns + ` FROM tasks
		WHERE owner_id = $1 AND (is_active OR $2)
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query, ownerID, includeInactive)
	return collect(rows, err, "tasks", ScanTask)
}

func (r *Repository) TaskByID(ctx context.Context, ownerID, taskID string) (*Task, error) {
	t, err := ScanTask(r.db.QueryRow(ctx,
		`SELECT `+TaskColumns+` FROM tasks WHERE owner_id = $1 AND id = $2`, ownerID, taskID))
	if err != nil {
		return nil, postgres.NotFound("task", err, common.ErrTaskNotFound)
	}
	return t, nil
}

func (r *Repository) InsertTask(ctx context.Context, t *Task) error {
	query := `
		INSERT INTO tasks (id, owner_id, name, reward_value, recurrence_rule, category_id, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query, t.ID, t.OwnerID, t.Name, t.RewardValue, t.Recurrence, t.CategoryID, t.IsActive, t.CreatedAt)
	return common.Persistence("insert task", err)
}

func (r *Repository) UpdateTask(ctx context.Context, t *Task) error {
	query := `
		UPDATE tasks SET name = $3, reward_value = $4, recurrence_rule = $5, category_id = $6, is_active = $7
		WHERE owner_id = $1 AND id = $2
	`
	tag, err := r.db.Exec(ctx, query, t.OwnerID, t.ID, t.Name, t.RewardValue, t.Recurrence, t.CategoryID, t.IsActive)
	if err != nil {
		return common.Persistence("update task", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrTaskNotFound
	}
	return nil
}

// --- Категории ---

func (r *Repository) Categories(ctx context.Context, ownerID string) ([]*Category, error) {
	rows, err := r.db.Query(ctx, `SELECT `+CategoryColumns+` FROM categories WHERE owner_id = $1 ORDER BY name`, ownerID)
	return collect(rows, err, "categories", ScanCategory)
}

func (r *Repository) InsertCategory(ctx context.Context, c *Category) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO categories (id, owner_id, name, icon) VALUES ($1, $2, $3, $4)`,
		c.ID, c.OwnerID, c.Name, c.Icon)
	return common.Persistence("insert category", err)
}

// --- Награды ---

func (r *Repository) Rewards(ctx context.Context, ownerID string) ([]*Reward, error) {
	rows, err := r.db.Query(ctx, `SELECT `+RewardColumns+` FROM rewards WHERE owner_id = $1 ORDER BY cost_value, name`, ownerID)
	return collect(rows, err, "rewards", ScanReward)
}

func (r *Repository) RewardByID(ctx context.Context, ownerID, rewardID string) (*Reward, error) {
	rw, err := ScanReward(r.db.QueryRow(ctx,
		`SELECT `+RewardColumns+` FROM rewards WHERE owner_id = $1 AND id = $2`, ownerID, rewardID))
	if err != nil {
		return nil, postgres.NotFound("reward", err, common.ErrRewardNotFound)
	}
	return rw, nil
}

func (r *Repository) InsertReward(ctx context.Context, rw *Reward) error {
	query := `
		INSERT INTO rewards (id, owner_id, name, cost_value, category, type,
		                     required_task_id, required_task_count, assigned_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query, rw.ID, rw.OwnerID, rw.Name, rw.CostValue, rw.Category, rw.Type,
		rw.RequiredTaskID, rw.RequiredTaskCount, rw.AssignedTo, rw.CreatedAt)
	return common.Persistence("insert reward", err)
}

func (r *Repository) DeleteReward(ctx context.Context, ownerID, rewardID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM rewards WHERE owner_id = $1 AND id = $2`, ownerID, rewardID)
	if err != nil {
		return common.Persistence("delete reward", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrRewardNotFound
	}
	return nil
}

var _ Store = (*Repository)(nil)
