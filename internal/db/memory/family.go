package memory

import (
	"context"
	"slices"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/features/family"
)

// --- Семьи ---

func (s *Store) CreateFamily(_ context.Context, f *family.Family, parentUserID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("create_family"); err != nil {
		return err
	}
	// Ошибку родителя проверяем до записи: семья без родителя не сохраняется
	if err := s.fail("add_parent"); err != nil {
		return err
	}
	if existing, _ := find(s.st.families, func(x *family.Family) bool { return x.ChatID == f.ChatID }); existing != nil {
		return common.ErrFamilyExists
	}
	if existing, _ := find(s.st.families, func(x *family.Family) bool { return x.ID == f.ID }); existing != nil {
		return duplicate("семья", f.ID)
	}
	s.st.families = append(s.st.families, clone(f))
	s.st.parents[f.ID] = []int64{parentUserID}
	return nil
}

func (s *Store) UpdateFamily(_ context.Context, f *family.Family) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("update_family"); err != nil {
		return err
	}
	_, i := find(s.st.families, func(x *family.Family) bool { return x.ID == f.ID })
	if i < 0 {
		return common.ErrFamilyNotFound
	}
	s.st.families[i] = clone(f)
	return nil
}

func (s *Store) FamilyByID(_ context.Context, id string) (*family.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.familyBy(func(x *family.Family) bool { return x.ID == id })
}

func (s *Store) FamilyByChat(_ context.Context, chatID int64) (*family.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.familyBy(func(x *family.Family) bool { return x.ChatID == chatID })
}

func (s *Store) FamilyByParent(_ context.Context, userID int64) (*family.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.familyBy(func(x *family.Family) bool { return slices.Contains(s.st.parents[x.ID], userID) })
}

func (s *Store) familyBy(match func(*family.Family) bool) (*family.Family, error) {
	if err := s.fail("family"); err != nil {
		return nil, err
	}
	f, _ := find(s.st.families, match)
	if f == nil {
		return nil, common.ErrFamilyNotFound
	}
	return clone(f), nil
}

func (s *Store) ListFamilies(context.Context) ([]*family.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("list_families"); err != nil {
		return nil, err
	}
	return filter(s.st.families, func(*family.Family) bool { return true }), nil
}

func (s *Store) AddParent(_ context.Context, familyID string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("add_parent"); err != nil {
		return err
	}
	if f, _ := find(s.st.families, func(x *family.Family) bool { return x.ID == familyID }); f == nil {
		return common.ErrFamilyNotFound
	}
	if !slices.Contains(s.st.parents[familyID], userID) {
		s.st.parents[familyID] = append(s.st.parents[familyID], userID)
	}
	return nil
}

func (s *Store) Parents(_ context.Context, familyID string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("parents"); err != nil {
		return nil, err
	}
	if f, _ := find(s.st.families, func(x *family.Family) bool { return x.ID == familyID }); f == nil {
		return nil, common.ErrFamilyNotFound
	}
	return slices.Clone(s.st.parents[familyID]), nil
}

// --- Дети ---

func (s *Store) Children(_ context.Context, ownerID string) ([]*family.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("children"); err != nil {
		return nil, err
	}
	return filter(s.st.children, func(c *family.Child) bool { return c.OwnerID == ownerID }), nil
}

func (s *Store) ChildByID(_ context.Context, ownerID, childID string) (*family.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, _ := s.child(ownerID, childID)
	if c == nil {
		return nil, common.ErrChildNotFound
	}
	return clone(c), nil
}

func (s *Store) ChildByTelegram(_ context.Context, ownerID string, userID int64) (*family.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, _ := find(s.st.children, func(c *family.Child) bool {
		return c.OwnerID == ownerID && c.TelegramUserID != nil && *c.TelegramUserID == userID
	})
	if c == nil {
		return nil, common.ErrChildNotFound
	}
	return clone(c), nil
}

func (s *Store) child(ownerID, childID string) (*family.Child, int) {
	return find(s.st.children, func(c *family.Child) bool { return c.OwnerID == ownerID && c.ID == childID })
}

func (s *Store) InsertChild(_ context.Context, c *family.Child) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("insert_child"); err != nil {
		return err
	}
	if existing, _ := find(s.st.children, func(x *family.Child) bool { return x.ID == c.ID }); existing != nil {
		return duplicate("ребёнок", c.ID)
	}
	s.st.children = append(s.st.children, clone(c))
	return nil
}

// UpdateChildProfile меняет всё, кроме баланса.
func (s *Store) UpdateChildProfile(_ context.Context, c *family.Child) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("update_child"); err != nil {
		return err
	}
	stored, _ := s.child(c.OwnerID, c.ID)
	if stored == nil {
		return common.ErrChildNotFound
	}
	balance := stored.Balance
	*stored = *c
	stored.Balance = balance
	return nil
}

// --- Задания ---

func (s *Store) Tasks(_ context.Context, ownerID string, includeInactive bool) ([]*family.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("tasks"); err != nil {
		return nil, err
	}
	return filter(s.st.tasks, func(t *family.Task) bool {
		return t.OwnerID == ownerID && (includeInactive || t.IsActive)
	}), nil
}

func (s *Store) TaskByID(_ context.Context, ownerID, taskID string) (*family.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.task(ownerID, taskID)
	if t == nil {
		return nil, common.ErrTaskNotFound
	}
	return clone(t), nil
}

func (s *Store) task(ownerID, taskID string) *family.Task {
	t, _ := find(s.st.tasks, func(t *family.Task) bool { return t.OwnerID == ownerID && t.ID == taskID })
	return t
}

func (s *Store) InsertTask(_ context.Context, t *family.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("insert_task"); err != nil {
		return err
	}
	if existing, _ := find(s.st.tasks, func(x *family.Task) bool { return x.ID == t.ID }); existing != nil {
		return duplicate("задание", t.ID)
	}
	s.st.tasks = append(s.st.tasks, clone(t))
	return nil
}

func (s *Store) UpdateTask(_ context.Context, t *family.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("update_task"); err != nil {
		return err
	}
	_, i := find(s.st.tasks, func(x *family.Task) bool { return x.OwnerID == t.OwnerID && x.ID == t.ID })
	if i < 0 {
		return common.ErrTaskNotFound
	}
	s.st.tasks[i] = clone(t)
	return nil
}

// --- Категории ---

func (s *Store) Categories(_ context.Context, ownerID string) ([]*family.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("categories"); err != nil {
		return nil, err
	}
	return filter(s.st.categories, func(c *family.Category) bool { return c.OwnerID == ownerID }), nil
}

func (s *Store) InsertCategory(_ context.Context, c *family.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("insert_category"); err != nil {
		return err
	}
	s.st.categories = append(s.st.categories, clone(c))
	return nil
}

// --- Награды ---

func (s *Store) Rewards(_ context.Context, ownerID string) ([]*family.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("rewards"); err != nil {
		return nil, err
	}
	return filter(s.st.rewards, func(r *family.Reward) bool { return r.OwnerID == ownerID }), nil
}

func (s *Store) RewardByID(_ context.Context, ownerID, rewardID string) (*family.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reward(ownerID, rewardID)
	if r == nil {
		return nil, common.ErrRewardNotFound
	}
	return clone(r), nil
}

func (s *Store) reward(ownerID, rewardID string) *family.Reward {
	r, _ := find(s.st.rewards, func(r *family.Reward) bool { return r.OwnerID == ownerID && r.ID == rewardID })
	return r
}

func (s *Store) InsertReward(_ context.Context, r *family.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("insert_reward"); err != nil {
		return err
	}
	s.st.rewards = append(s.st.rewards, clone(r))
	return nil
}

func (s *Store) DeleteReward(_ context.Context, ownerID, rewardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("delete_reward"); err != nil {
		return err
	}
	_, i := find(s.st.rewards, func(r *family.Reward) bool { return r.OwnerID == ownerID && r.ID == rewardID })
	if i < 0 {
		return common.ErrRewardNotFound
	}
	s.st.rewards = slices.Delete(s.st.rewards, i, i+1)
	return nil
}
