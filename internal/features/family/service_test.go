package family_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/config"
	"serotonyl.ru/family-stars/internal/db/memory"
	"serotonyl.ru/family-stars/internal/features/family"
)

func newService(t *testing.T) (*family.Service, *family.Family) {
	t.Helper()
	cfg := &config.Config{AppTimezone: "Europe/Moscow", FamilyMaxChildren: 2}
	svc := family.NewService(memory.New(), cfg)

	f, err := svc.CreateFamily(context.Background(), -100, "  Ивановы ", 42)
	require.NoError(t, err)
	return svc, f
}

func TestCreateFamilyWithoutParentIsNotSaved(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := family.NewService(store, &config.Config{AppTimezone: "UTC", FamilyMaxChildren: 2})

	store.FailOn("add_parent", errors.New("connection reset"))
	_, err := svc.CreateFamily(ctx, -100, "Ивановы", 42)
	assert.ErrorIs(t, err, common.ErrPersistence)
	store.FailOn("add_parent", nil)

	// Чат остаётся свободным, повторная регистрация проходит
	_, err = svc.FamilyByChat(ctx, -100)
	assert.ErrorIs(t, err, common.ErrFamilyNotFound)

	f, err := svc.CreateFamily(ctx, -100, "Ивановы", 42)
	require.NoError(t, err)
	ok, err := svc.IsParent(ctx, f.ID, 42)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateFamily(t *testing.T) {
	ctx := context.Background()
	svc, f := newService(t)
	assert.Equal(t, "Ивановы", f.Name)

	_, err := svc.CreateFamily(ctx, -100, "Другие", 7)
	assert.ErrorIs(t, err, common.ErrFamilyExists)

	got, err := svc.FamilyByChat(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	ok, err := svc.IsParent(ctx, f.ID, 42)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.IsParent(ctx, f.ID, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.AddParent(ctx, f.ID, 7))
	parents, err := svc.Parents(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 7}, parents)

	mine, err := svc.FamilyOfParent(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, f.ID, mine.ID)

	_, err = svc.FamilyByChat(ctx, -999)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestAddChild(t *testing.T) {
	ctx := context.Background()
	svc, f := newService(t)

	masha, err := svc.AddChild(ctx, f.ID, "Маша", "👧", nil)
	require.NoError(t, err)
	assert.Zero(t, masha.Balance)

	_, err = svc.AddChild(ctx, f.ID, "маша", "", nil)
	assert.ErrorIs(t, err, common.ErrValidation, "имена без учёта регистра")

	_, err = svc.AddChild(ctx, f.ID, "   ", "", nil)
	assert.ErrorIs(t, err, common.ErrEmptyName)

	_, err = svc.AddChild(ctx, f.ID, "Петя", "", nil)
	require.NoError(t, err)
	_, err = svc.AddChild(ctx, f.ID, "Вася", "", nil)
	assert.ErrorIs(t, err, common.ErrChildLimit)

	found, err := svc.ChildByName(ctx, f.ID, " МАША ")
	require.NoError(t, err)
	assert.Equal(t, masha.ID, found.ID)
}

func TestLinkChild(t *testing.T) {
	ctx := context.Background()
	svc, f := newService(t)
	masha, err := svc.AddChild(ctx, f.ID, "Маша", "", nil)
	require.NoError(t, err)

	linked, err := svc.LinkChild(ctx, f.ID, "Маша", 1001)
	require.NoError(t, err)
	assert.Equal(t, masha.ID, linked.ID)

	byUser, err := svc.ChildOfUser(ctx, f.ID, 1001)
	require.NoError(t, err)
	assert.Equal(t, masha.ID, byUser.ID)

	_, err = svc.LinkChild(ctx, f.ID, "Маша", 2002)
	assert.ErrorIs(t, err, common.ErrAlreadyProcessed)

	// Повторная привязка того же аккаунта — не ошибка
	_, err = svc.LinkChild(ctx, f.ID, "Маша", 1001)
	assert.NoError(t, err)

	_, err = svc.LinkChild(ctx, f.ID, "Никто", 3003)
	assert.ErrorIs(t, err, common.ErrChildNotFound)
}

func TestAddTask(t *testing.T) {
	ctx := context.Background()
	svc, f := newService(t)

	task, err := svc.AddTask(ctx, f.ID, family.NewTask{Name: "Почистить зубы", RewardValue: 2, CategoryName: "Гигиена"})
	require.NoError(t, err)
	assert.Equal(t, family.RecurrenceDaily, task.Recurrence)
	assert.True(t, task.IsActive)
	require.NotNil(t, task.CategoryID)

	// Категория переиспользуется по имени
	again, err := svc.AddTask(ctx, f.ID, family.NewTask{Name: "Умыться", RewardValue: 1, CategoryName: "гигиена"})
	require.NoError(t, err)
	assert.Equal(t, *task.CategoryID, *again.CategoryID)
	categories, err := svc.Categories(ctx, f.ID)
	require.NoError(t, err)
	assert.Len(t, categories, 1)

	_, err = svc.AddTask(ctx, f.ID, family.NewTask{Name: "Плохое", RewardValue: -1})
	assert.ErrorIs(t, err, common.ErrNegativeReward)
	_, err = svc.AddTask(ctx, f.ID, family.NewTask{Name: "Странное", Recurrence: "HOURLY"})
	assert.ErrorIs(t, err, common.ErrValidation)

	require.NoError(t, svc.DeactivateTask(ctx, f.ID, task.ID))
	active, err := svc.ActiveTasks(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, again.ID, active[0].ID)

	all, err := svc.AllTasks(ctx, f.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2, "отключённые задания не удаляются")
}

func TestAddReward(t *testing.T) {
	ctx := context.Background()
	svc, f := newService(t)
	task, err := svc.AddTask(ctx, f.ID, family.NewTask{Name: "Читать", RewardValue: 3})
	require.NoError(t, err)
	child, err := svc.AddChild(ctx, f.ID, "Маша", "", nil)
	require.NoError(t, err)

	count := 5
	tests := []struct {
		name    string
		in      family.NewReward
		wantErr error
	}{
		{"по умолчанию", family.NewReward{Name: "Мультики", CostValue: 10}, nil},
		{"отрицательная цена", family.NewReward{Name: "Долг", CostValue: -1}, common.ErrValidation},
		{"неизвестный тип", family.NewReward{Name: "X", Type: "WEIRD"}, common.ErrValidation},
		{"накопительная без условия", family.NewReward{Name: "Книга", Type: family.RewardAccumulative}, common.ErrValidation},
		{"накопительная", family.NewReward{Name: "Книга", Type: family.RewardAccumulative, RequiredTaskID: &task.ID, RequiredTaskCount: &count}, nil},
		{"чужое задание", family.NewReward{Name: "Книга", Type: family.RewardAccumulative, RequiredTaskID: new(string), RequiredTaskCount: &count}, common.ErrNotFound},
		{"для ребёнка", family.NewReward{Name: "Кукла", AssignedTo: []string{child.ID}}, nil},
		{"для неизвестного ребёнка", family.NewReward{Name: "Мяч", AssignedTo: []string{"nobody"}}, common.ErrChildNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := svc.AddReward(ctx, f.ID, tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, r.ID)
			assert.NotNil(t, r.AssignedTo)
		})
	}

	rewards, err := svc.Rewards(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, rewards, 3)
	assert.Equal(t, family.RewardUnlimited, rewards[0].Type)

	require.NoError(t, svc.DeleteReward(ctx, f.ID, rewards[0].ID))
	assert.ErrorIs(t, svc.DeleteReward(ctx, f.ID, rewards[0].ID), common.ErrRewardNotFound)
}

func TestRewardAvailableTo(t *testing.T) {
	everyone := &family.Reward{}
	assert.True(t, everyone.AvailableTo("a"))

	only := &family.Reward{AssignedTo: []string{"a"}}
	assert.True(t, only.AvailableTo("a"))
	assert.False(t, only.AvailableTo("b"))
}

func TestLocation(t *testing.T) {
	svc, f := newService(t)
	assert.Equal(t, "Europe/Moscow", svc.Location(f).String())

	f.Settings.Timezone = "Asia/Yekaterinburg"
	assert.Equal(t, "Asia/Yekaterinburg", svc.Location(f).String())
}

func TestScopedByOwner(t *testing.T) {
	ctx := context.Background()
	svc, f := newService(t)
	other, err := svc.CreateFamily(ctx, -200, "Петровы", 43)
	require.NoError(t, err)

	child, err := svc.AddChild(ctx, f.ID, "Маша", "", nil)
	require.NoError(t, err)

	_, err = svc.Child(ctx, other.ID, child.ID)
	assert.ErrorIs(t, err, common.ErrChildNotFound)
	children, err := svc.Children(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	svc, f := newService(t)

	updated, err := svc.UpdateSettings(ctx, f.ID, func(s *family.Settings) {
		s.Timezone = "Asia/Novosibirsk"
		s.RemindersOff = true
	})
	require.NoError(t, err)
	assert.Equal(t, "Asia/Novosibirsk", svc.Location(updated).String())

	_, err = svc.UpdateSettings(ctx, f.ID, func(s *family.Settings) { s.Timezone = "Mars/Olympus" })
	assert.ErrorIs(t, err, common.ErrValidation)

	stored, err := svc.FamilyByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Novosibirsk", stored.Settings.Timezone)
	assert.True(t, stored.Settings.RemindersOff)
}
