package family

import "context"

// Store — хранилище каталога семьи. Все методы, кроме поиска самой семьи,
// ограничены ownerID: чужие записи не читаются и не меняются.
//
// Реализации: Repository (PostgreSQL) и memory.Store.
// Ненайденная запись возвращается как common.Err*NotFound.
type Store interface {
	// CreateFamily добавляет семью вместе с первым родителем: либо оба, либо ничего
	CreateFamily(ctx context.Context, f *Family, parentUserID int64) error
	UpdateFamily(ctx context.Context, f *Family) error
	FamilyByID(ctx context.Context, id string) (*Family, error)
	FamilyByChat(ctx context.Context, chatID int64) (*Family, error)
	FamilyByParent(ctx context.Context, userID int64) (*Family, error)
	ListFamilies(ctx context.Context) ([]*Family, error)
	AddParent(ctx context.Context, familyID string, userID int64) error
	Parents(ctx context.Context, familyID string) ([]int64, error)

	Children(ctx context.Context, ownerID string) ([]*Child, error)
	ChildByID(ctx context.Context, ownerID, childID string) (*Child, error)
	ChildByTelegram(ctx context.Context, ownerID string, userID int64) (*Child, error)
	InsertChild(ctx context.Context, c *Child) error
	UpdateChildProfile(ctx context.Context, c *Child) error

	Tasks(ctx context.Context, ownerID string, includeInactive bool) ([]*Task, error)
	TaskByID(ctx context.Context, ownerID, taskID string) (*Task, error)
	InsertTask(ctx context.Context, t *Task) error
	UpdateTask(ctx context.Context, t *Task) error

	Categories(ctx context.Context, ownerID string) ([]*Category, error)
	InsertCategory(ctx context.Context, c *Category) error

	Rewards(ctx context.Context, ownerID string) ([]*Reward, error)
	RewardByID(ctx context.Context, ownerID, rewardID string) (*Reward, error)
	InsertReward(ctx context.Context, r *Reward) error
	DeleteReward(ctx context.Context, ownerID, rewardID string) error
}
