package memory

import (
	"context"
	"slices"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/features/backup"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/ledger"
)

func (s *Store) Dump(_ context.Context, ownerID string) (*backup.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("dump"); err != nil {
		return nil, err
	}
	f, _ := find(s.st.families, func(f *family.Family) bool { return f.ID == ownerID })
	if f == nil {
		return nil, common.ErrFamilyNotFound
	}

	d := &backup.Data{
		Children:     filter(s.st.children, func(c *family.Child) bool { return c.OwnerID == ownerID }),
		Tasks:        filter(s.st.tasks, func(t *family.Task) bool { return t.OwnerID == ownerID }),
		Rewards:      filter(s.st.rewards, func(r *family.Reward) bool { return r.OwnerID == ownerID }),
		Categories:   filter(s.st.categories, func(c *family.Category) bool { return c.OwnerID == ownerID }),
		ChildLogs:    filter(s.st.logs, func(l *ledger.CompletionLog) bool { return l.OwnerID == ownerID }),
		Transactions: filter(s.st.txs, func(t *ledger.Transaction) bool { return t.OwnerID == ownerID }),
		Settings:     f.Settings,
	}
	return d, nil
}

// Replace заменяет записи семьи. Снимок состояния откатывается при ошибке.
func (s *Store) Replace(_ context.Context, ownerID string, d *backup.Data) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	defer func() {
		if err != nil {
			s.st = snapshot
		}
	}()

	f, _ := find(s.st.families, func(f *family.Family) bool { return f.ID == ownerID })
	if f == nil {
		return common.ErrFamilyNotFound
	}
	f.Settings = d.Settings

	s.st.children = slices.DeleteFunc(s.st.children, func(c *family.Child) bool { return c.OwnerID == ownerID })
	s.st.tasks = slices.DeleteFunc(s.st.tasks, func(t *family.Task) bool { return t.OwnerID == ownerID })
	s.st.rewards = slices.DeleteFunc(s.st.rewards, func(r *family.Reward) bool { return r.OwnerID == ownerID })
	s.st.categories = slices.DeleteFunc(s.st.categories, func(c *family.Category) bool { return c.OwnerID == ownerID })
	s.st.logs = slices.DeleteFunc(s.st.logs, func(l *ledger.CompletionLog) bool { return l.OwnerID == ownerID })
	s.st.txs = slices.DeleteFunc(s.st.txs, func(t *ledger.Transaction) bool { return t.OwnerID == ownerID })

	if err := s.fail("replace"); err != nil {
		return err
	}

	s.st.children = append(s.st.children, cloneAll(d.Children)...)
	s.st.tasks = append(s.st.tasks, cloneAll(d.Tasks)...)
	s.st.rewards = append(s.st.rewards, cloneAll(d.Rewards)...)
	s.st.categories = append(s.st.categories, cloneAll(d.Categories)...)
	s.st.logs = append(s.st.logs, cloneAll(d.ChildLogs)...)
	s.st.txs = append(s.st.txs, cloneAll(d.Transactions)...)
	return nil
}
