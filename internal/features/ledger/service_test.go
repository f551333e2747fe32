package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/config"
	"serotonyl.ru/family-stars/internal/db/memory"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/ledger"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	cfg    *config.Config
	family *family.Service
	ledger *ledger.Service
	clock  *clock
	owner  string
	child  *family.Child
}

func testConfig() *config.Config {
	return &config.Config{
		AppTimezone:               "UTC",
		FamilyMaxChildren:         4,
		LedgerAllowNegativeAdjust: true,
		LedgerHistoryLimit:        50,
		LedgerLogLimit:            100,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		ctx:   context.Background(),
		store: memory.New(),
		cfg:   testConfig(),
		// Понедельник, середина дня
		clock: &clock{now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)},
	}
	f.family = family.NewService(f.store, f.cfg)
	f.ledger = ledger.NewService(f.store, f.store, f.cfg)
	f.ledger.SetClock(f.clock.Now)

	fam, err := f.family.CreateFamily(f.ctx, -100, "Ивановы", 1)
	require.NoError(t, err)
	f.owner = fam.ID

	f.child, err = f.family.AddChild(f.ctx, f.owner, "Маша", "👧", nil)
	require.NoError(t, err)
	return f
}

func (f *fixture) task(t *testing.T, name string, reward int64, rec family.Recurrence) *family.Task {
	t.Helper()
	task, err := f.family.AddTask(f.ctx, f.owner, family.NewTask{
		Name:         name,
		RewardValue:  reward,
		Recurrence:   rec,
		CategoryName: "Hygiene",
	})
	require.NoError(t, err)
	return task
}

// earn начисляет ребёнку amount звёзд через выполнение и проверку задания.
func (f *fixture) earn(t *testing.T, childID string, amount int64) {
	t.Helper()
	task := f.task(t, "Бонус "+time.Now().Format(time.RFC3339Nano), amount, family.RecurrenceOnce)
	entry, err := f.ledger.CompleteTask(f.ctx, f.owner, childID, task.ID)
	require.NoError(t, err)
	_, err = f.ledger.VerifyTask(f.ctx, f.owner, entry.ID, childID, amount)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, childID string) int64 {
	t.Helper()
	c, err := f.family.Child(f.ctx, f.owner, childID)
	require.NoError(t, err)
	return c.Balance
}

func (f *fixture) history(t *testing.T, childID string) []*ledger.Transaction {
	t.Helper()
	txs, err := f.ledger.ChildTransactions(f.ctx, f.owner, childID, 1000)
	require.NoError(t, err)
	return txs
}

// assertConserved проверяет, что баланс равен сумме транзакций.
func (f *fixture) assertConserved(t *testing.T, childID string) {
	t.Helper()
	var sum int64
	for _, tx := range f.history(t, childID) {
		sum += tx.Amount
	}
	assert.Equal(t, sum, f.balance(t, childID))
}

func TestVerifyTaskPaysReward(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, "Clean Room", 10, family.RecurrenceDaily)

	entry, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, entry.Status)
	assert.Equal(t, f.clock.Now(), entry.CompletedAt)
	assert.Zero(t, f.balance(t, f.child.ID), "выполнение не меняет баланс")

	pending, err := f.ledger.PendingVerifications(f.ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Clean Room", pending[0].TaskName)
	assert.Equal(t, int64(10), pending[0].RewardValue)
	assert.Equal(t, "Маша", pending[0].ChildName)

	balance, err := f.ledger.VerifyTask(f.ctx, f.owner, entry.ID, f.child.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
	assert.Equal(t, int64(10), f.balance(t, f.child.ID))

	txs := f.history(t, f.child.ID)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxTaskVerified, txs[0].Type)
	assert.Equal(t, int64(10), txs[0].Amount)
	require.NotNil(t, txs[0].ReferenceID)
	assert.Equal(t, entry.ID, *txs[0].ReferenceID)

	logs, err := f.ledger.Logs(f.ctx, f.owner, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, ledger.StatusVerified, logs[0].Status)
	assert.NotNil(t, logs[0].ProcessedAt)

	pending, err = f.ledger.PendingVerifications(f.ctx, f.owner)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessedLogIsTerminal(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, "Clean Room", 10, family.RecurrenceDaily)
	entry, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, task.ID)
	require.NoError(t, err)

	_, err = f.ledger.VerifyTask(f.ctx, f.owner, entry.ID, f.child.ID, 10)
	require.NoError(t, err)

	_, err = f.ledger.VerifyTask(f.ctx, f.owner, entry.ID, f.child.ID, 10)
	assert.ErrorIs(t, err, common.ErrAlreadyProcessed)
	err = f.ledger.RejectTask(f.ctx, f.owner, entry.ID, "передумал")
	assert.ErrorIs(t, err, common.ErrAlreadyProcessed)

	assert.Equal(t, int64(10), f.balance(t, f.child.ID))
	assert.Len(t, f.history(t, f.child.ID), 1)
}

func TestRejectedLogCannotBeVerified(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, "Clean Room", 10, family.RecurrenceDaily)
	entry, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, task.ID)
	require.NoError(t, err)

	require.NoError(t, f.ledger.RejectTask(f.ctx, f.owner, entry.ID, "forgot to tidy"))

	_, err = f.ledger.VerifyTask(f.ctx, f.owner, entry.ID, f.child.ID, 10)
	assert.ErrorIs(t, err, common.ErrAlreadyProcessed)
	err = f.ledger.RejectTask(f.ctx, f.owner, entry.ID, "ещё раз")
	assert.ErrorIs(t, err, common.ErrAlreadyProcessed)
	assert.Zero(t, f.balance(t, f.child.ID))
	assert.Empty(t, f.history(t, f.child.ID))
}

func TestRejectTask(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, "Clean Room", 10, family.RecurrenceDaily)
	entry, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, task.ID)
	require.NoError(t, err)

	err = f.ledger.RejectTask(f.ctx, f.owner, entry.ID, "   ")
	assert.ErrorIs(t, err, common.ErrValidation)

	require.NoError(t, f.ledger.RejectTask(f.ctx, f.owner, entry.ID, "forgot to tidy"))

	logs, err := f.ledger.Logs(f.ctx, f.owner, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, ledger.StatusRejected, logs[0].Status)
	require.NotNil(t, logs[0].RejectionReason)
	assert.Equal(t, "forgot to tidy", *logs[0].RejectionReason)
	assert.Zero(t, f.balance(t, f.child.ID))
	assert.Empty(t, f.history(t, f.child.ID))
}

func TestVerifyTaskValidation(t *testing.T) {
	f := newFixture(t)
	other, err := f.family.AddChild(f.ctx, f.owner, "Петя", "", nil)
	require.NoError(t, err)
	task := f.task(t, "Clean Room", 10, family.RecurrenceDaily)
	entry, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, task.ID)
	require.NoError(t, err)

	tests := []struct {
		name    string
		logID   string
		childID string
		reward  int64
		wantErr error
	}{
		{"отрицательная награда", entry.ID, f.child.ID, -1, common.ErrValidation},
		{"нет такого выполнения", "missing", f.child.ID, 10, common.ErrNotFound},
		{"чужой ребёнок", entry.ID, other.ID, 10, common.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.VerifyTask(f.ctx, f.owner, tt.logID, tt.childID, tt.reward)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Zero(t, f.balance(t, f.child.ID))
	assert.Zero(t, f.balance(t, other.ID))
	pending, err := f.ledger.CountPending(f.ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestRedeemInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.earn(t, f.child.ID, 10)
	reward, err := f.family.AddReward(f.ctx, f.owner, family.NewReward{Name: "Мороженое", CostValue: 15})
	require.NoError(t, err)

	_, err = f.ledger.RedeemReward(f.ctx, ledger.RedeemRequest{
		OwnerID:  f.owner,
		ChildID:  f.child.ID,
		RewardID: &reward.ID,
	})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	_, err = f.ledger.RedeemReward(f.ctx, ledger.RedeemRequest{OwnerID: f.owner, ChildID: f.child.ID, Cost: 15})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	assert.Equal(t, int64(10), f.balance(t, f.child.ID))
	assert.Len(t, f.history(t, f.child.ID), 1)
}

func TestRedeemReward(t *testing.T) {
	f := newFixture(t)
	f.earn(t, f.child.ID, 20)
	reward, err := f.family.AddReward(f.ctx, f.owner, family.NewReward{Name: "Мультики", CostValue: 15})
	require.NoError(t, err)

	balance, err := f.ledger.RedeemReward(f.ctx, ledger.RedeemRequest{
		OwnerID:  f.owner,
		ChildID:  f.child.ID,
		RewardID: &reward.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)

	txs := f.history(t, f.child.ID)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TxRewardRedeemed, txs[0].Type)
	assert.Equal(t, int64(-15), txs[0].Amount)
	require.NotNil(t, txs[0].ReferenceID)
	assert.Equal(t, reward.ID, *txs[0].ReferenceID)

	// Без награды — ручное списание
	balance, err = f.ledger.RedeemReward(f.ctx, ledger.RedeemRequest{OwnerID: f.owner, ChildID: f.child.ID, Cost: 5})
	require.NoError(t, err)
	assert.Zero(t, balance)
	txs = f.history(t, f.child.ID)
	assert.Equal(t, ledger.TxManualAdj, txs[0].Type)
	assert.Nil(t, txs[0].ReferenceID)
	f.assertConserved(t, f.child.ID)
}

func TestRedeemValidation(t *testing.T) {
	f := newFixture(t)
	f.earn(t, f.child.ID, 50)
	other, err := f.family.AddChild(f.ctx, f.owner, "Петя", "", nil)
	require.NoError(t, err)
	reward, err := f.family.AddReward(f.ctx, f.owner, family.NewReward{Name: "Кино", CostValue: 20})
	require.NoError(t, err)
	onlyOther, err := f.family.AddReward(f.ctx, f.owner, family.NewReward{
		Name:       "Самокат",
		CostValue:  10,
		AssignedTo: []string{other.ID},
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     ledger.RedeemRequest
		wantErr error
	}{
		{"нулевая сумма", ledger.RedeemRequest{Cost: 0}, common.ErrInvalidAmount},
		{"отрицательная сумма", ledger.RedeemRequest{Cost: -3}, common.ErrValidation},
		{"стоимость не совпадает", ledger.RedeemRequest{Cost: 5, RewardID: &reward.ID}, common.ErrCostMismatch},
		{"награда не для этого ребёнка", ledger.RedeemRequest{RewardID: &onlyOther.ID}, common.ErrRewardNotAssigned},
		{"нет награды", ledger.RedeemRequest{RewardID: ptr("missing")}, common.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.OwnerID = f.owner
			tt.req.ChildID = f.child.ID
			_, err := f.ledger.RedeemReward(f.ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err = f.ledger.RedeemReward(f.ctx, ledger.RedeemRequest{OwnerID: f.owner, ChildID: "missing", Cost: 1})
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.Equal(t, int64(50), f.balance(t, f.child.ID))
	assert.Len(t, f.history(t, f.child.ID), 1)
}

func TestOneTimeReward(t *testing.T) {
	f := newFixture(t)
	f.earn(t, f.child.ID, 30)
	reward, err := f.family.AddReward(f.ctx, f.owner, family.NewReward{
		Name:      "Поход в зоопарк",
		CostValue: 10,
		Type:      family.RewardOneTime,
	})
	require.NoError(t, err)
	req := ledger.RedeemRequest{OwnerID: f.owner, ChildID: f.child.ID, RewardID: &reward.ID}

	_, err = f.ledger.RedeemReward(f.ctx, req)
	require.NoError(t, err)
	_, err = f.ledger.RedeemReward(f.ctx, req)
	assert.ErrorIs(t, err, common.ErrRewardUsed)
	assert.ErrorIs(t, err, common.ErrAlreadyProcessed)
	assert.Equal(t, int64(20), f.balance(t, f.child.ID))
}

func TestAccumulativeRewardGate(t *testing.T) {
	f := newFixture(t)
	f.earn(t, f.child.ID, 100)
	reading := f.task(t, "Читать 20 минут", 2, family.RecurrenceDaily)
	reward, err := f.family.AddReward(f.ctx, f.owner, family.NewReward{
		Name:              "Новая книга",
		CostValue:         10,
		Type:              family.RewardAccumulative,
		RequiredTaskID:    &reading.ID,
		RequiredTaskCount: ptr(2),
	})
	require.NoError(t, err)
	req := ledger.RedeemRequest{OwnerID: f.owner, ChildID: f.child.ID, RewardID: &reward.ID}

	readOnce := func() {
		entry, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, reading.ID)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
		_, err = f.ledger.VerifyTask(f.ctx, f.owner, entry.ID, f.child.ID, reading.RewardValue)
		require.NoError(t, err)
		f.clock.Advance(24 * time.Hour)
	}

	readOnce()
	_, err = f.ledger.RedeemReward(f.ctx, req)
	assert.ErrorIs(t, err, common.ErrRewardLocked)

	readOnce()
	_, err = f.ledger.RedeemReward(f.ctx, req)
	require.NoError(t, err)

	// Накопленные выполнения израсходованы
	f.clock.Advance(time.Minute)
	_, err = f.ledger.RedeemReward(f.ctx, req)
	assert.ErrorIs(t, err, common.ErrRewardLocked)

	readOnce()
	readOnce()
	_, err = f.ledger.RedeemReward(f.ctx, req)
	require.NoError(t, err)
	f.assertConserved(t, f.child.ID)
}

func TestManualAdjustment(t *testing.T) {
	f := newFixture(t)
	f.earn(t, f.child.ID, 10)

	balance, err := f.ledger.ManualAdjustment(f.ctx, f.owner, f.child.ID, -5, "разбил чашку")
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)

	txs := f.history(t, f.child.ID)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TxManualAdj, txs[0].Type)
	assert.Equal(t, int64(-5), txs[0].Amount)
	require.NotNil(t, txs[0].Description)
	assert.Equal(t, "разбил чашку", *txs[0].Description)

	_, err = f.ledger.ManualAdjustment(f.ctx, f.owner, f.child.ID, 0, "ничего")
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	// Админский override: можно уйти в минус
	balance, err = f.ledger.ManualAdjustment(f.ctx, f.owner, f.child.ID, -8, "")
	require.NoError(t, err)
	assert.Equal(t, int64(-3), balance)
	assert.Nil(t, f.history(t, f.child.ID)[0].Description)
	f.assertConserved(t, f.child.ID)
}

func TestManualAdjustmentNegativeDisallowed(t *testing.T) {
	f := newFixture(t)
	f.cfg.LedgerAllowNegativeAdjust = false
	f.earn(t, f.child.ID, 10)

	_, err := f.ledger.ManualAdjustment(f.ctx, f.owner, f.child.ID, -11, "штраф")
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)
	assert.Equal(t, int64(10), f.balance(t, f.child.ID))

	balance, err := f.ledger.ManualAdjustment(f.ctx, f.owner, f.child.ID, -10, "штраф")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestBalanceMatchesTransactions(t *testing.T) {
	f := newFixture(t)
	daily := f.task(t, "Зарядка", 7, family.RecurrenceDaily)
	weekly := f.task(t, "Уборка", 25, family.RecurrenceWeekly)
	reward, err := f.family.AddReward(f.ctx, f.owner, family.NewReward{Name: "Сладость", CostValue: 6})
	require.NoError(t, err)

	for day := 0; day < 10; day++ {
		entry, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, daily.ID)
		require.NoError(t, err)
		if day%3 == 0 {
			require.NoError(t, f.ledger.RejectTask(f.ctx, f.owner, entry.ID, "не сделано"))
		} else {
			_, err = f.ledger.VerifyTask(f.ctx, f.owner, entry.ID, f.child.ID, daily.RewardValue)
			require.NoError(t, err)
		}
		f.assertConserved(t, f.child.ID)

		if day%7 == 0 {
			entry, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, weekly.ID)
			require.NoError(t, err)
			_, err = f.ledger.VerifyTask(f.ctx, f.owner, entry.ID, f.child.ID, weekly.RewardValue)
			require.NoError(t, err)
		}

		_, err = f.ledger.RedeemReward(f.ctx, ledger.RedeemRequest{OwnerID: f.owner, ChildID: f.child.ID, RewardID: &reward.ID})
		if err != nil {
			require.ErrorIs(t, err, common.ErrInsufficientBalance)
		}
		if day%4 == 0 {
			_, err = f.ledger.ManualAdjustment(f.ctx, f.owner, f.child.ID, int64(day-5), "корректировка")
			require.NoError(t, err)
		}
		f.assertConserved(t, f.child.ID)
		f.clock.Advance(24 * time.Hour)
	}

	recs, err := f.ledger.ReconcileFamily(f.ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Repaired)
}

func TestVerifyRollsBackOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, "Clean Room", 10, family.RecurrenceDaily)
	entry, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, task.ID)
	require.NoError(t, err)

	f.store.FailOn("insert_transaction", errors.New("disk full"))
	_, err = f.ledger.VerifyTask(f.ctx, f.owner, entry.ID, f.child.ID, 10)
	require.ErrorIs(t, err, common.ErrPersistence)

	// Ни статус, ни баланс не изменились
	pending, err := f.ledger.PendingVerifications(f.ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, entry.ID, pending[0].Log.ID)
	assert.Zero(t, f.balance(t, f.child.ID))
	assert.Empty(t, f.history(t, f.child.ID))

	f.store.FailOn("insert_transaction", nil)
	balance, err := f.ledger.VerifyTask(f.ctx, f.owner, entry.ID, f.child.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestRedeemRollsBackOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.earn(t, f.child.ID, 10)

	f.store.FailOn("commit", errors.New("connection reset"))
	_, err := f.ledger.RedeemReward(f.ctx, ledger.RedeemRequest{OwnerID: f.owner, ChildID: f.child.ID, Cost: 4})
	require.ErrorIs(t, err, common.ErrPersistence)
	f.store.FailOn("commit", nil)

	assert.Equal(t, int64(10), f.balance(t, f.child.ID))
	assert.Len(t, f.history(t, f.child.ID), 1)
}

func TestCompleteTaskFailureLeavesNoLog(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, "Clean Room", 10, family.RecurrenceDaily)

	f.store.FailOn("insert_log", errors.New("timeout"))
	_, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, task.ID)
	require.ErrorIs(t, err, common.ErrPersistence)
	f.store.FailOn("insert_log", nil)

	n, err := f.ledger.CountPending(f.ctx, f.owner)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentRedemptionsDoNotOverspend(t *testing.T) {
	f := newFixture(t)
	f.earn(t, f.child.ID, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.RedeemReward(f.ctx, ledger.RedeemRequest{OwnerID: f.owner, ChildID: f.child.ID, Cost: 3})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, common.ErrInsufficientBalance)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, int64(1), f.balance(t, f.child.ID))
	f.assertConserved(t, f.child.ID)
}

func TestCompleteTaskRecurrence(t *testing.T) {
	f := newFixture(t)
	daily := f.task(t, "Зарядка", 5, family.RecurrenceDaily)
	weekly := f.task(t, "Уборка", 20, family.RecurrenceWeekly)
	once := f.task(t, "Собрать пазл", 50, family.RecurrenceOnce)

	first, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, daily.ID)
	require.NoError(t, err)
	_, err = f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, daily.ID)
	assert.ErrorIs(t, err, common.ErrTaskAlreadyDone)

	// После отказа можно попробовать ещё раз
	require.NoError(t, f.ledger.RejectTask(f.ctx, f.owner, first.ID, "не засчитано"))
	_, err = f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, daily.ID)
	require.NoError(t, err)

	_, err = f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, weekly.ID)
	require.NoError(t, err)
	_, err = f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, once.ID)
	require.NoError(t, err)

	// Вторник: ежедневное снова доступно, еженедельное и разовое — нет
	f.clock.Advance(24 * time.Hour)
	_, err = f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, daily.ID)
	require.NoError(t, err)
	_, err = f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, weekly.ID)
	assert.ErrorIs(t, err, common.ErrTaskAlreadyDone)

	// Следующий понедельник
	f.clock.Advance(6 * 24 * time.Hour)
	_, err = f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, weekly.ID)
	require.NoError(t, err)
	_, err = f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, once.ID)
	assert.ErrorIs(t, err, common.ErrTaskAlreadyDone)
}

func TestCompleteTaskValidation(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, "Clean Room", 10, family.RecurrenceDaily)
	require.NoError(t, f.family.DeactivateTask(f.ctx, f.owner, task.ID))

	_, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, task.ID)
	assert.ErrorIs(t, err, common.ErrTaskInactive)
	_, err = f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, "missing")
	assert.ErrorIs(t, err, common.ErrTaskNotFound)
	_, err = f.ledger.CompleteTask(f.ctx, f.owner, "missing", task.ID)
	assert.ErrorIs(t, err, common.ErrChildNotFound)
}

func TestFamiliesAreIsolated(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, "Clean Room", 10, family.RecurrenceDaily)
	entry, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, task.ID)
	require.NoError(t, err)

	strangers, err := f.family.CreateFamily(f.ctx, -200, "Петровы", 2)
	require.NoError(t, err)

	_, err = f.ledger.VerifyTask(f.ctx, strangers.ID, entry.ID, f.child.ID, 10)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = f.ledger.CompleteTask(f.ctx, strangers.ID, f.child.ID, task.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = f.ledger.ManualAdjustment(f.ctx, strangers.ID, f.child.ID, 100, "")
	assert.ErrorIs(t, err, common.ErrNotFound)

	pending, err := f.ledger.PendingVerifications(f.ctx, strangers.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Zero(t, f.balance(t, f.child.ID))
}

func TestReconcileRepairsDrift(t *testing.T) {
	f := newFixture(t)
	f.earn(t, f.child.ID, 10)

	// Баланс разошёлся с журналом в обход леджера
	require.NoError(t, f.store.Atomic(f.ctx, func(tx ledger.Tx) error {
		return tx.SetBalance(f.ctx, f.owner, f.child.ID, 99)
	}))

	rec, err := f.ledger.Reconcile(f.ctx, f.owner, f.child.ID)
	require.NoError(t, err)
	assert.Equal(t, &ledger.Reconciliation{ChildID: f.child.ID, Stored: 99, Computed: 10, Repaired: true}, rec)
	assert.Equal(t, int64(10), f.balance(t, f.child.ID))

	rec, err = f.ledger.Reconcile(f.ctx, f.owner, f.child.ID)
	require.NoError(t, err)
	assert.False(t, rec.Repaired)
}

func TestMissedToday(t *testing.T) {
	f := newFixture(t)
	second, err := f.family.AddChild(f.ctx, f.owner, "Петя", "", nil)
	require.NoError(t, err)
	teeth := f.task(t, "Почистить зубы", 2, family.RecurrenceDaily)
	bed := f.task(t, "Заправить кровать", 2, family.RecurrenceDaily)
	f.task(t, "Уборка", 20, family.RecurrenceWeekly)

	missed, err := f.ledger.MissedToday(f.ctx, f.owner, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 4, missed)

	_, err = f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, teeth.ID)
	require.NoError(t, err)
	rejected, err := f.ledger.CompleteTask(f.ctx, f.owner, second.ID, bed.ID)
	require.NoError(t, err)
	require.NoError(t, f.ledger.RejectTask(f.ctx, f.owner, rejected.ID, "криво"))

	missed, err = f.ledger.MissedToday(f.ctx, f.owner, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, missed)

	// Назавтра всё снова не сделано
	missed, err = f.ledger.MissedToday(f.ctx, f.owner, f.clock.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, missed)
}

func TestFamilyAnalytics(t *testing.T) {
	f := newFixture(t)
	second, err := f.family.AddChild(f.ctx, f.owner, "Петя", "", nil)
	require.NoError(t, err)
	task := f.task(t, "Clean Room", 10, family.RecurrenceDaily)

	entry, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, task.ID)
	require.NoError(t, err)
	_, err = f.ledger.VerifyTask(f.ctx, f.owner, entry.ID, f.child.ID, 10)
	require.NoError(t, err)

	metrics, err := f.ledger.FamilyAnalytics(f.ctx, f.owner, "")
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, "Hygiene", metrics[0].Name)
	assert.Equal(t, 1, metrics[0].Total)
	assert.Equal(t, 1, metrics[0].Completed)
	assert.Equal(t, int64(10), metrics[0].Earned)
	assert.Equal(t, 100, metrics[0].CompletionRate)

	metrics, err = f.ledger.FamilyAnalytics(f.ctx, f.owner, second.ID)
	require.NoError(t, err)
	assert.Empty(t, metrics)
}

// txGuard отмечает время, пока открыта транзакция хранилища.
type txGuard struct {
	ledger.Store
	inTx atomic.Bool
}

func (g *txGuard) Atomic(ctx context.Context, fn func(tx ledger.Tx) error) error {
	g.inTx.Store(true)
	defer g.inTx.Store(false)
	return g.Store.Atomic(ctx, fn)
}

// guardedCatalog отказывает в чтении каталога внутри транзакции:
// у PostgreSQL это второе соединение из пула, у памяти — повторный захват мьютекса.
type guardedCatalog struct {
	family.Store
	guard *txGuard
}

func (c *guardedCatalog) FamilyByID(ctx context.Context, id string) (*family.Family, error) {
	if c.guard.inTx.Load() {
		return nil, errors.New("каталог прочитан внутри транзакции")
	}
	return c.Store.FamilyByID(ctx, id)
}

func TestCompleteTaskReturnsOnMemoryStore(t *testing.T) {
	for _, rec := range []family.Recurrence{family.RecurrenceOnce, family.RecurrenceDaily, family.RecurrenceWeekly} {
		t.Run(string(rec), func(t *testing.T) {
			f := newFixture(t)
			task := f.task(t, "Почистить зубы", 5, rec)

			type result struct {
				entry *ledger.CompletionLog
				err   error
			}
			done := make(chan result, 1)
			go func() {
				entry, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, task.ID)
				done <- result{entry, err}
			}()

			select {
			case r := <-done:
				require.NoError(t, r.err)
				assert.Equal(t, ledger.StatusPending, r.entry.Status)
			case <-time.After(3 * time.Second):
				t.Fatal("CompleteTask не вернулся за 3 секунды")
			}
		})
	}
}

func TestCompleteTaskReadsCatalogOutsideTransaction(t *testing.T) {
	f := newFixture(t)
	_, err := f.family.UpdateSettings(f.ctx, f.owner, func(s *family.Settings) { s.Timezone = "Europe/Moscow" })
	require.NoError(t, err)
	task := f.task(t, "Почистить зубы", 5, family.RecurrenceDaily)

	guard := &txGuard{Store: f.store}
	svc := ledger.NewService(guard, &guardedCatalog{Store: f.store, guard: guard}, f.cfg)
	svc.SetClock(f.clock.Now)

	entry, err := svc.CompleteTask(f.ctx, f.owner, f.child.ID, task.ID)
	require.NoError(t, err)
	_, err = svc.VerifyTask(f.ctx, f.owner, entry.ID, f.child.ID, 5)
	require.NoError(t, err)

	_, err = svc.CompleteTask(f.ctx, f.owner, f.child.ID, task.ID)
	assert.ErrorIs(t, err, common.ErrTaskAlreadyDone)
}

func TestFamilyAnalyticsUsesFullHistory(t *testing.T) {
	f := newFixture(t)
	second, err := f.family.AddChild(f.ctx, f.owner, "Петя", "", nil)
	require.NoError(t, err)
	task := f.task(t, "Clean Room", 10, family.RecurrenceDaily)

	// Больше, чем LEDGER_HISTORY_LIMIT и LEDGER_LOG_LIMIT вместе взятые по семье
	const days = 60
	for day := 0; day < days; day++ {
		for _, childID := range []string{f.child.ID, second.ID} {
			entry, err := f.ledger.CompleteTask(f.ctx, f.owner, childID, task.ID)
			require.NoError(t, err)
			_, err = f.ledger.VerifyTask(f.ctx, f.owner, entry.ID, childID, 10)
			require.NoError(t, err)
		}
		f.clock.Advance(24 * time.Hour)
	}

	all, err := f.ledger.FamilyAnalytics(f.ctx, f.owner, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2*days, all[0].Total)
	assert.Equal(t, 2*days, all[0].Completed)
	assert.Equal(t, int64(2*days*10), all[0].Earned)

	// Активность брата не вытесняет записи Маши
	masha, err := f.ledger.FamilyAnalytics(f.ctx, f.owner, f.child.ID)
	require.NoError(t, err)
	require.Len(t, masha, 1)
	assert.Equal(t, days, masha[0].Total)
	assert.Equal(t, days, masha[0].Completed)
	assert.Equal(t, int64(days*10), masha[0].Earned)
	assert.Equal(t, 100, masha[0].CompletionRate)
}

func TestAccumulativeCountsVerificationAtRedemptionInstant(t *testing.T) {
	f := newFixture(t)
	f.earn(t, f.child.ID, 100)
	reading := f.task(t, "Читать 20 минут", 2, family.RecurrenceDaily)
	reward, err := f.family.AddReward(f.ctx, f.owner, family.NewReward{
		Name:              "Новая книга",
		CostValue:         10,
		Type:              family.RewardAccumulative,
		RequiredTaskID:    &reading.ID,
		RequiredTaskCount: ptr(1),
	})
	require.NoError(t, err)
	req := ledger.RedeemRequest{OwnerID: f.owner, ChildID: f.child.ID, RewardID: &reward.ID}

	first, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, reading.ID)
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	second, err := f.ledger.CompleteTask(f.ctx, f.owner, f.child.ID, reading.ID)
	require.NoError(t, err)

	// Часы стоят: проверки и покупки получают одинаковое время
	_, err = f.ledger.VerifyTask(f.ctx, f.owner, first.ID, f.child.ID, 2)
	require.NoError(t, err)
	_, err = f.ledger.RedeemReward(f.ctx, req)
	require.NoError(t, err)
	_, err = f.ledger.VerifyTask(f.ctx, f.owner, second.ID, f.child.ID, 2)
	require.NoError(t, err)

	_, err = f.ledger.RedeemReward(f.ctx, req)
	require.NoError(t, err, "проверка после покупки засчитывается даже в ту же секунду")

	_, err = f.ledger.RedeemReward(f.ctx, req)
	assert.ErrorIs(t, err, common.ErrRewardLocked)
	f.assertConserved(t, f.child.ID)
}
