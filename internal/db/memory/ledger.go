package memory

import (
	"context"
	"time"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/ledger"
)

func (s *Store) PendingVerifications(_ context.Context, ownerID string) ([]*ledger.PendingVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("pending_verifications"); err != nil {
		return nil, err
	}

	var out []*ledger.PendingVerification
	for _, l := range s.st.logs {
		if l.OwnerID != ownerID || l.Status != ledger.StatusPending {
			continue
		}
		pv := &ledger.PendingVerification{Log: clone(l)}
		if t := s.task(ownerID, l.TaskID); t != nil {
			pv.TaskName = t.Name
			pv.RewardValue = t.RewardValue
		}
		if c, _ := s.child(ownerID, l.ChildID); c != nil {
			pv.ChildName = c.Name
		}
		out = append(out, pv)
	}
	return out, nil
}

func (s *Store) CountPending(_ context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("count_pending"); err != nil {
		return 0, err
	}
	n := 0
	for _, l := range s.st.logs {
		if l.OwnerID == ownerID && l.Status == ledger.StatusPending {
			n++
		}
	}
	return n, nil
}

func (s *Store) Transactions(_ context.Context, ownerID string, limit int) ([]*ledger.Transaction, error) {
	return s.transactions(limit, func(t *ledger.Transaction) bool { return t.OwnerID == ownerID })
}

func (s *Store) ChildTransactions(_ context.Context, ownerID, childID string, limit int) ([]*ledger.Transaction, error) {
	return s.transactions(limit, func(t *ledger.Transaction) bool {
		return t.OwnerID == ownerID && t.ChildID == childID
	})
}

// transactions возвращает подходящие транзакции, новые первыми.
func (s *Store) transactions(limit int, match func(*ledger.Transaction) bool) ([]*ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("transactions"); err != nil {
		return nil, err
	}
	var out []*ledger.Transaction
	for i := len(s.st.txs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if match(s.st.txs[i]) {
			out = append(out, clone(s.st.txs[i]))
		}
	}
	return out, nil
}

func (s *Store) Logs(_ context.Context, ownerID string, limit int) ([]*ledger.CompletionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("logs"); err != nil {
		return nil, err
	}
	var out []*ledger.CompletionLog
	for i := len(s.st.logs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.st.logs[i].OwnerID == ownerID {
			out = append(out, clone(s.st.logs[i]))
		}
	}
	return out, nil
}

func (s *Store) LogsSince(_ context.Context, ownerID string, since time.Time) ([]*ledger.CompletionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("logs"); err != nil {
		return nil, err
	}
	return filter(s.st.logs, func(l *ledger.CompletionLog) bool {
		return l.OwnerID == ownerID && !l.CompletedAt.Before(since)
	}), nil
}

func (s *Store) History(_ context.Context, ownerID, childID string) ([]*ledger.CompletionLog, []*ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("history"); err != nil {
		return nil, nil, err
	}
	logs := filter(s.st.logs, func(l *ledger.CompletionLog) bool { return l.OwnerID == ownerID })
	txs := filter(s.st.txs, func(t *ledger.Transaction) bool { return t.OwnerID == ownerID })
	if childID != "" {
		logs, txs = ledger.FilterByChild(childID, logs, txs)
	}
	return logs, txs, nil
}

// tx работает с состоянием напрямую: мьютекс уже захвачен в Atomic.
type tx struct {
	s *Store
}

func (t *tx) LockChild(_ context.Context, ownerID, childID string) (*family.Child, error) {
	if err := t.s.fail("lock_child"); err != nil {
		return nil, err
	}
	c, _ := t.s.child(ownerID, childID)
	if c == nil {
		return nil, common.ErrChildNotFound
	}
	return clone(c), nil
}

func (t *tx) LockLog(_ context.Context, ownerID, logID string) (*ledger.CompletionLog, error) {
	if err := t.s.fail("lock_log"); err != nil {
		return nil, err
	}
	l := t.s.log(ownerID, logID)
	if l == nil {
		return nil, common.ErrLogNotFound
	}
	return clone(l), nil
}

func (s *Store) log(ownerID, logID string) *ledger.CompletionLog {
	l, _ := find(s.st.logs, func(l *ledger.CompletionLog) bool { return l.OwnerID == ownerID && l.ID == logID })
	return l
}

func (t *tx) Task(_ context.Context, ownerID, taskID string) (*family.Task, error) {
	task := t.s.task(ownerID, taskID)
	if task == nil {
		return nil, common.ErrTaskNotFound
	}
	return clone(task), nil
}

func (t *tx) Reward(_ context.Context, ownerID, rewardID string) (*family.Reward, error) {
	r := t.s.reward(ownerID, rewardID)
	if r == nil {
		return nil, common.ErrRewardNotFound
	}
	return clone(r), nil
}

func (t *tx) InsertLog(_ context.Context, l *ledger.CompletionLog) error {
	if err := t.s.fail("insert_log"); err != nil {
		return err
	}
	t.s.st.logs = append(t.s.st.logs, clone(l))
	return nil
}

func (t *tx) FinishLog(_ context.Context, l *ledger.CompletionLog) error {
	if err := t.s.fail("finish_log"); err != nil {
		return err
	}
	stored := t.s.log(l.OwnerID, l.ID)
	if stored == nil {
		return common.ErrLogNotFound
	}
	if stored.Status != ledger.StatusPending {
		return common.ErrAlreadyProcessed
	}
	stored.Status = l.Status
	stored.ProcessedAt = l.ProcessedAt
	stored.RejectionReason = l.RejectionReason
	return nil
}

func (t *tx) AddBalance(_ context.Context, ownerID, childID string, delta int64) (int64, error) {
	if err := t.s.fail("add_balance"); err != nil {
		return 0, err
	}
	c, _ := t.s.child(ownerID, childID)
	if c == nil {
		return 0, common.ErrChildNotFound
	}
	c.Balance += delta
	return c.Balance, nil
}

func (t *tx) SetBalance(_ context.Context, ownerID, childID string, balance int64) error {
	if err := t.s.fail("set_balance"); err != nil {
		return err
	}
	c, _ := t.s.child(ownerID, childID)
	if c == nil {
		return common.ErrChildNotFound
	}
	c.Balance = balance
	return nil
}

func (t *tx) InsertTransaction(_ context.Context, tr *ledger.Transaction) error {
	if err := t.s.fail("insert_transaction"); err != nil {
		return err
	}
	t.s.st.txs = append(t.s.st.txs, clone(tr))
	return nil
}

func (t *tx) SumTransactions(_ context.Context, ownerID, childID string) (int64, error) {
	if err := t.s.fail("sum_transactions"); err != nil {
		return 0, err
	}
	var sum int64
	for _, tr := range t.s.st.txs {
		if tr.OwnerID == ownerID && tr.ChildID == childID {
			sum += tr.Amount
		}
	}
	return sum, nil
}

func (t *tx) HasOpenClaim(_ context.Context, ownerID, childID, taskID string, since time.Time) (bool, error) {
	l, _ := find(t.s.st.logs, func(l *ledger.CompletionLog) bool {
		return l.OwnerID == ownerID && l.ChildID == childID && l.TaskID == taskID &&
			l.Status != ledger.StatusRejected && !l.CompletedAt.Before(since)
	})
	return l != nil, nil
}

// Позиция в журнале — индекс транзакции в срезе: транзакции только дописываются.
func (t *tx) LastRedemption(_ context.Context, ownerID, childID, rewardID string) (*int64, error) {
	for i := len(t.s.st.txs) - 1; i >= 0; i-- {
		tr := t.s.st.txs[i]
		if tr.OwnerID == ownerID && tr.ChildID == childID && tr.Type == ledger.TxRewardRedeemed &&
			tr.ReferenceID != nil && *tr.ReferenceID == rewardID {
			pos := int64(i)
			return &pos, nil
		}
	}
	return nil, nil
}

func (t *tx) CountVerifiedSince(_ context.Context, ownerID, childID, taskID string, after *int64) (int, error) {
	var paid map[string]bool
	if after != nil {
		paid = make(map[string]bool)
		for _, tr := range t.s.st.txs[*after+1:] {
			if tr.OwnerID == ownerID && tr.ChildID == childID && tr.Type == ledger.TxTaskVerified && tr.ReferenceID != nil {
				paid[*tr.ReferenceID] = true
			}
		}
	}

	n := 0
	for _, l := range t.s.st.logs {
		if l.OwnerID != ownerID || l.ChildID != childID || l.TaskID != taskID {
			continue
		}
		if l.Status != ledger.StatusVerified && l.Status != ledger.StatusCompleted {
			continue
		}
		if paid != nil && !paid[l.ID] {
			continue
		}
		n++
	}
	return n, nil
}
