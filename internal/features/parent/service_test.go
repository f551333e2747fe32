package parent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/config"
	"serotonyl.ru/family-stars/internal/db/memory"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/parent"
)

const (
	mom   int64 = 10
	dad   int64 = 11
	child int64 = 20
)

type fixture struct {
	ctx   context.Context
	svc   *parent.Service
	owner string
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		AppTimezone:       "UTC",
		FamilyMaxChildren: 4,
		ParentSessionTTL:  24 * time.Hour,
		ParentMaxAttempts: 3,
		ParentLockout:     time.Hour,
	}
	store := memory.New()
	families := family.NewService(store, cfg)

	f := &fixture{ctx: context.Background(), now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	fam, err := families.CreateFamily(f.ctx, -1, "Семья", mom)
	require.NoError(t, err)
	require.NoError(t, families.AddParent(f.ctx, fam.ID, dad))
	f.owner = fam.ID

	f.svc = parent.NewService(store, families, cfg)
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func TestPinHashRoundTrip(t *testing.T) {
	hash, err := parent.HashPin("4821")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$m=65536,t=3,p=2$")

	assert.True(t, parent.VerifyPin("4821", hash))
	assert.False(t, parent.VerifyPin("4822", hash))
	assert.False(t, parent.VerifyPin("4821", "garbage"))

	other, err := parent.HashPin("4821")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "соль случайная")
}

func TestValidatePin(t *testing.T) {
	for _, pin := range []string{"1234", "00000000"} {
		assert.NoError(t, parent.ValidatePin(pin), pin)
	}
	for _, pin := range []string{"", "123", "123456789", "12a4", "12 34"} {
		assert.ErrorIs(t, parent.ValidatePin(pin), common.ErrWeakPin, pin)
	}
}

func TestUnlockFlow(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.svc.Unlock(f.ctx, f.owner, mom, "1234"), common.ErrPinNotSet)
	assert.ErrorIs(t, f.svc.SetPin(f.ctx, f.owner, child, "1234"), common.ErrNotParent)
	assert.ErrorIs(t, f.svc.SetPin(f.ctx, f.owner, mom, "12"), common.ErrWeakPin)
	require.NoError(t, f.svc.SetPin(f.ctx, f.owner, mom, "1234"))

	assert.False(t, f.svc.IsUnlocked(f.ctx, f.owner, mom))
	assert.ErrorIs(t, f.svc.RequireUnlocked(f.ctx, f.owner, mom), common.ErrSessionExpired)

	require.NoError(t, f.svc.Unlock(f.ctx, f.owner, mom, "1234"))
	assert.True(t, f.svc.IsUnlocked(f.ctx, f.owner, mom))
	assert.NoError(t, f.svc.RequireUnlocked(f.ctx, f.owner, mom))
	assert.False(t, f.svc.IsUnlocked(f.ctx, f.owner, dad), "сессия у каждого родителя своя")
	assert.ErrorIs(t, f.svc.RequireUnlocked(f.ctx, f.owner, child), common.ErrNotParent)

	// Смена PIN при заданном PIN требует открытой сессии
	assert.ErrorIs(t, f.svc.SetPin(f.ctx, f.owner, dad, "9999"), common.ErrSessionExpired)
	require.NoError(t, f.svc.SetPin(f.ctx, f.owner, mom, "9999"))
	require.NoError(t, f.svc.Unlock(f.ctx, f.owner, dad, "9999"))

	// Сессия истекает
	f.now = f.now.Add(25 * time.Hour)
	assert.False(t, f.svc.IsUnlocked(f.ctx, f.owner, mom))

	require.NoError(t, f.svc.Unlock(f.ctx, f.owner, mom, "9999"))
	require.NoError(t, f.svc.Lock(f.ctx, f.owner, mom))
	assert.False(t, f.svc.IsUnlocked(f.ctx, f.owner, mom))
}

func TestUnlockLockout(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.SetPin(f.ctx, f.owner, mom, "1234"))

	err := f.svc.Unlock(f.ctx, f.owner, mom, "0000")
	assert.ErrorIs(t, err, common.ErrWrongPin)
	assert.Contains(t, err.Error(), "осталось попыток: 2")
	assert.ErrorIs(t, f.svc.Unlock(f.ctx, f.owner, mom, "0000"), common.ErrWrongPin)
	assert.ErrorIs(t, f.svc.Unlock(f.ctx, f.owner, mom, "0000"), common.ErrTooManyAttempts)

	// Даже верный PIN не проходит, пока действует блокировка
	assert.ErrorIs(t, f.svc.Unlock(f.ctx, f.owner, mom, "1234"), common.ErrTooManyAttempts)
	// Блокировка персональная
	require.NoError(t, f.svc.Unlock(f.ctx, f.owner, dad, "1234"))

	f.now = f.now.Add(61 * time.Minute)
	require.NoError(t, f.svc.Unlock(f.ctx, f.owner, mom, "1234"))
}

func TestDialogState(t *testing.T) {
	f := newFixture(t)

	assert.Nil(t, f.svc.GetState(mom))
	f.svc.SetState(mom, parent.StateRejectReason, "log-1")

	st := f.svc.GetState(mom)
	require.NotNil(t, st)
	assert.Equal(t, parent.StateRejectReason, st.State)
	assert.Equal(t, "log-1", st.Data)

	f.now = f.now.Add(6 * time.Minute)
	assert.Nil(t, f.svc.GetState(mom))
	assert.Equal(t, 1, f.svc.SweepStates())
	assert.Zero(t, f.svc.SweepStates())

	f.svc.SetState(dad, parent.StateAwaitingPin, nil)
	f.svc.ClearState(dad)
	assert.Nil(t, f.svc.GetState(dad))
}
