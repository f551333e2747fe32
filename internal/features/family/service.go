// Package family — service.go содержит бизнес-логику каталога семьи:
// регистрация семьи, дети, категории, задания и награды.
package family

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/config"
)

const maxNameLen = 64

// Service управляет каталогом семьи.
type Service struct {
	store Store
	cfg   *config.Config
	now   func() time.Time
}

// NewService создаёт сервис каталога.
func NewService(store Store, cfg *config.Config) *Service {
	return &Service{store: store, cfg: cfg, now: time.Now}
}

// CreateFamily регистрирует семью для группового чата и делает создателя родителем.
func (s *Service) CreateFamily(ctx context.Context, chatID int64, name string, parentUserID int64) (*Family, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.FamilyByChat(ctx, chatID); err == nil {
		return nil, common.ErrFamilyExists
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	f := &Family{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateFamily(ctx, f, parentUserID); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"owner_id": f.ID,
		"chat_id":  chatID,
		"parent":   parentUserID,
	}).Info("Семья зарегистрирована")
	return f, nil
}

// FamilyByChat возвращает семью группового чата.
func (s *Service) FamilyByChat(ctx context.Context, chatID int64) (*Family, error) {
	return s.store.FamilyByChat(ctx, chatID)
}

// FamilyByID возвращает семью по её ID.
func (s *Service) FamilyByID(ctx context.Context, ownerID string) (*Family, error) {
	return s.store.FamilyByID(ctx, ownerID)
}

// FamilyOfParent возвращает семью, в которой пользователь — родитель.
func (s *Service) FamilyOfParent(ctx context.Context, userID int64) (*Family, error) {
	return s.store.FamilyByParent(ctx, userID)
}

// ListFamilies возвращает все семьи (для фоновых задач).
func (s *Service) ListFamilies(ctx context.Context) ([]*Family, error) {
	return s.store.ListFamilies(ctx)
}

// AddParent добавляет второго родителя в семью.
func (s *Service) AddParent(ctx context.Context, ownerID string, userID int64) error {
	return s.store.AddParent(ctx, ownerID, userID)
}

// IsParent проверяет, что пользователь — родитель в семье.
func (s *Service) IsParent(ctx context.Context, ownerID string, userID int64) (bool, error) {
	parents, err := s.store.Parents(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return slices.Contains(parents, userID), nil
}

// Parents возвращает Telegram ID родителей семьи.
func (s *Service) Parents(ctx context.Context, ownerID string) ([]int64, error) {
	return s.store.Parents(ctx, ownerID)
}

// SetPinHash сохраняет новый хеш родительского PIN.
func (s *Service) SetPinHash(ctx context.Context, ownerID, hash string) error {
	f, err := s.store.FamilyByID(ctx, ownerID)
	if err != nil {
		return err
	}
	f.PinHash = hash
	return s.store.UpdateFamily(ctx, f)
}

// UpdateSettings меняет настройки семьи. Часовой пояс проверяется по базе tzdata.
func (s *Service) UpdateSettings(ctx context.Context, ownerID string, change func(*Settings)) (*Family, error) {
	f, err := s.store.FamilyByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	change(&f.Settings)
	if f.Settings.Timezone != "" {
		if _, err := time.LoadLocation(f.Settings.Timezone); err != nil {
			return nil, fmt.Errorf("%w: неизвестный часовой пояс %q", common.ErrValidation, f.Settings.Timezone)
		}
	}
	if err := s.store.UpdateFamily(ctx, f); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"owner_id": ownerID, "settings": f.Settings}).Info("Настройки семьи изменены")
	return f, nil
}

// Location возвращает часовой пояс семьи для расчёта «сегодня».
func (s *Service) Location(f *Family) *time.Location {
	if f != nil && f.Settings.Timezone != "" {
		return common.LoadLocation(f.Settings.Timezone)
	}
	return common.LoadLocation(s.cfg.AppTimezone)
}

// --- Дети ---

// AddChild добавляет ребёнка с нулевым балансом.
// Детей в семье не больше FAMILY_MAX_CHILDREN.
func (s *Service) AddChild(ctx context.Context, ownerID, name, avatar string, birthDate *time.Time) (*Child, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	children, err := s.store.Children(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(children) >= s.cfg.FamilyMaxChildren {
		return nil, common.ErrChildLimit
	}
	for _, c := range children {
		if strings.EqualFold(c.Name, name) {
			return nil, fmt.Errorf("%w: ребёнок %q уже есть", common.ErrValidation, name)
		}
	}

	c := &Child{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		BirthDate: birthDate,
		Avatar:    avatar,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertChild(ctx, c); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"owner_id": ownerID, "child_id": c.ID}).Info("Ребёнок добавлен")
	return c, nil
}

// Children возвращает детей семьи.
func (s *Service) Children(ctx context.Context, ownerID string) ([]*Child, error) {
	return s.store.Children(ctx, ownerID)
}

// Child возвращает ребёнка по ID.
func (s *Service) Child(ctx context.Context, ownerID, childID string) (*Child, error) {
	return s.store.ChildByID(ctx, ownerID, childID)
}

// ChildByName ищет ребёнка по имени (без учёта регистра).
func (s *Service) ChildByName(ctx context.Context, ownerID, name string) (*Child, error) {
	children, err := s.store.Children(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, nil
		}
	}
	return nil, common.ErrChildNotFound
}

// ChildOfUser возвращает ребёнка, привязанного к Telegram-аккаунту.
func (s *Service) ChildOfUser(ctx context.Context, ownerID string, userID int64) (*Child, error) {
	return s.store.ChildByTelegram(ctx, ownerID, userID)
}

// LinkChild привязывает Telegram-аккаунт к ребёнку.
func (s *Service) LinkChild(ctx context.Context, ownerID, name string, userID int64) (*Child, error) {
	c, err := s.ChildByName(ctx, ownerID, name)
	if err != nil {
		return nil, err
	}
	if c.TelegramUserID != nil && *c.TelegramUserID != userID {
		return nil, fmt.Errorf("%w: %s уже привязан(а) к другому аккаунту", common.ErrAlreadyProcessed, c.Name)
	}
	c.TelegramUserID = &userID
	if err := s.store.UpdateChildProfile(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// --- Категории ---

// AddCategory создаёт категорию заданий.
func (s *Service) AddCategory(ctx context.Context, ownerID, name, icon string) (*Category, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	c := &Category{ID: uuid.NewString(), OwnerID: ownerID, Name: name, Icon: icon}
	if err := s.store.InsertCategory(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Categories возвращает категории семьи.
func (s *Service) Categories(ctx context.Context, ownerID string) ([]*Category, error) {
	return s.store.Categories(ctx, ownerID)
}

// CategoryByName ищет категорию по имени; если её нет — создаёт.
func (s *Service) CategoryByName(ctx context.Context, ownerID, name string) (*Category, error) {
	categories, err := s.store.Categories(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, c := range categories {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, nil
		}
	}
	return s.AddCategory(ctx, ownerID, name, "")
}

// --- Задания ---

// NewTask — параметры нового задания.
type NewTask struct {
	Name         string
	RewardValue  int64
	Recurrence   Recurrence
	CategoryName string // Пусто = без категории
}

// AddTask создаёт активное задание.
func (s *Service) AddTask(ctx context.Context, ownerID string, in NewTask) (*Task, error) {
	name, err := cleanName(in.Name)
	if err != nil {
		return nil, err
	}
	if in.RewardValue < 0 {
		return nil, common.ErrNegativeReward
	}
	if in.Recurrence == "" {
		in.Recurrence = RecurrenceDaily
	}
	if !in.Recurrence.Valid() {
		return nil, fmt.Errorf("%w: неизвестное повторение %q", common.ErrValidation, in.Recurrence)
	}

	t := &Task{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		RewardValue: in.RewardValue,
		Recurrence:  in.Recurrence,
		IsActive:    true,
		CreatedAt:   s.now().UTC(),
	}
	if strings.TrimSpace(in.CategoryName) != "" {
		cat, err := s.CategoryByName(ctx, ownerID, in.CategoryName)
		if err != nil {
			return nil, err
		}
		t.CategoryID = &cat.ID
	}

	if err := s.store.InsertTask(ctx, t); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"owner_id": ownerID, "task_id": t.ID, "reward": t.RewardValue}).Info("Задание создано")
	return t, nil
}

// ActiveTasks возвращает активные задания.
func (s *Service) ActiveTasks(ctx context.Context, ownerID string) ([]*Task, error) {
	return s.store.Tasks(ctx, ownerID, false)
}

// AllTasks возвращает все задания, включая отключённые (для истории и аналитики).
func (s *Service) AllTasks(ctx context.Context, ownerID string) ([]*Task, error) {
	return s.store.Tasks(ctx, ownerID, true)
}

// Task возвращает задание по ID.
func (s *Service) Task(ctx context.Context, ownerID, taskID string) (*Task, error) {
	return s.store.TaskByID(ctx, ownerID, taskID)
}

// DeactivateTask отключает задание. Физически задание не удаляется.
func (s *Service) DeactivateTask(ctx context.Context, ownerID, taskID string) error {
	t, err := s.store.TaskByID(ctx, ownerID, taskID)
	if err != nil {
		return err
	}
	if !t.IsActive {
		return nil
	}
	t.IsActive = false
	return s.store.UpdateTask(ctx, t)
}

// --- Награды ---

// NewReward — параметры новой награды.
type NewReward struct {
	Name              string
	CostValue         int64
	Category          string
	Type              RewardType
	RequiredTaskID    *string
	RequiredTaskCount *int
	AssignedTo        []string
}

// AddReward создаёт награду.
func (s *Service) AddReward(ctx context.Context, ownerID string, in NewReward) (*Reward, error) {
	name, err := cleanName(in.Name)
	if err != nil {
		return nil, err
	}
	if in.CostValue < 0 {
		return nil, fmt.Errorf("%w: стоимость не может быть отрицательной", common.ErrValidation)
	}
	if in.Type == "" {
		in.Type = RewardUnlimited
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: неизвестный тип награды %q", common.ErrValidation, in.Type)
	}
	if in.Type == RewardAccumulative {
		if in.RequiredTaskID == nil || in.RequiredTaskCount == nil || *in.RequiredTaskCount <= 0 {
			return nil, fmt.Errorf("%w: накопительной награде нужны задание и число выполнений", common.ErrValidation)
		}
		if _, err := s.store.TaskByID(ctx, ownerID, *in.RequiredTaskID); err != nil {
			return nil, err
		}
	}
	for _, childID := range in.AssignedTo {
		if _, err := s.store.ChildByID(ctx, ownerID, childID); err != nil {
			return nil, err
		}
	}

	r := &Reward{
		ID:                uuid.NewString(),
		OwnerID:           ownerID,
		Name:              name,
		CostValue:         in.CostValue,
		Category:          in.Category,
		Type:              in.Type,
		RequiredTaskID:    in.RequiredTaskID,
		RequiredTaskCount: in.RequiredTaskCount,
		AssignedTo:        in.AssignedTo,
		CreatedAt:         s.now().UTC(),
	}
	if r.AssignedTo == nil {
		r.AssignedTo = []string{}
	}
	if err := s.store.InsertReward(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Rewards возвращает награды семьи.
func (s *Service) Rewards(ctx context.Context, ownerID string) ([]*Reward, error) {
	return s.store.Rewards(ctx, ownerID)
}

// Reward возвращает награду по ID.
func (s *Service) Reward(ctx context.Context, ownerID, rewardID string) (*Reward, error) {
	return s.store.RewardByID(ctx, ownerID, rewardID)
}

// DeleteReward удаляет награду. Старые транзакции хранят её ID как непрозрачную ссылку.
func (s *Service) DeleteReward(ctx context.Context, ownerID, rewardID string) error {
	return s.store.DeleteReward(ctx, ownerID, rewardID)
}

// cleanName обрезает пробелы и проверяет длину имени.
func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", common.ErrEmptyName
	}
	if len([]rune(name)) > maxNameLen {
		return "", common.ErrNameTooLong
	}
	return name, nil
}
