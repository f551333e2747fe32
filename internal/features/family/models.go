// Package family управляет семьёй: дети, задания (миссии), категории и награды.
// models.go описывает структуры данных каталога семьи.
package family

import (
	"slices"
	"time"
)

// Family — владелец всех записей. ID семьи используется как owner_id
// у детей, заданий, наград, выполнений и транзакций.
type Family struct {
	ID        string    `json:"id"`
	ChatID    int64     `json:"chat_id"` // Групповой чат семьи в Telegram
	Name      string    `json:"name"`
	PinHash   string    `json:"-"` // Argon2id-хеш родительского PIN (в резервные копии не попадает)
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"created_at"`
}

// Settings — настройки семьи.
type Settings struct {
	Timezone     string `json:"timezone,omitempty"`      // Часовой пояс для «сегодня» (пусто = APP_TIMEZONE)
	RemindersOff bool   `json:"reminders_off,omitempty"` // Отключить напоминания
}

// Child — ребёнок в семье.
// Balance меняется только операциями леджера, каталог его не трогает.
type Child struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	Name           string     `json:"name"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	Avatar         string     `json:"avatar"`
	Balance        int64      `json:"balance"`
	TelegramUserID *int64     `json:"telegram_user_id,omitempty"` // Привязанный аккаунт ребёнка
	CreatedAt      time.Time  `json:"created_at"`
}

// Recurrence — как часто задание можно выполнять.
type Recurrence string

const (
	RecurrenceOnce   Recurrence = "ONCE"
	RecurrenceDaily  Recurrence = "DAILY"
	RecurrenceWeekly Recurrence = "WEEKLY"
)

// Valid сообщает, известно ли правило повторения.
func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceOnce, RecurrenceDaily, RecurrenceWeekly:
		return true
	}
	return false
}

// Task — шаблон миссии со ставкой в звёздах.
// Задания не удаляются физически: IsActive=false сохраняет ссылки из истории.
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Name        string     `json:"name"`
	RewardValue int64      `json:"reward_value"`
	Recurrence  Recurrence `json:"recurrence_rule"`
	CategoryID  *string    `json:"category_id,omitempty"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Category группирует задания для аналитики.
type Category struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
	Icon    string `json:"icon,omitempty"`
}

// RewardType — режим получения награды.
type RewardType string

const (
	RewardOneTime      RewardType = "ONE_TIME"     // Один раз на ребёнка
	RewardUnlimited    RewardType = "UNLIMITED"    // Сколько угодно раз
	RewardAccumulative RewardType = "ACCUMULATIVE" // После N проверенных выполнений задания
)

// Valid сообщает, известен ли тип награды.
func (t RewardType) Valid() bool {
	switch t {
	case RewardOneTime, RewardUnlimited, RewardAccumulative:
		return true
	}
	return false
}

// Reward — то, на что ребёнок тратит звёзды.
type Reward struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	Name              string     `json:"name"`
	CostValue         int64      `json:"cost_value"`
	Category          string     `json:"category,omitempty"`
	Type              RewardType `json:"type"`
	RequiredTaskID    *string    `json:"required_task_id,omitempty"`
	RequiredTaskCount *int       `json:"required_task_count,omitempty"`
	AssignedTo        []string   `json:"assigned_to"` // Пусто = доступна всем детям
	CreatedAt         time.Time  `json:"created_at"`
}

// AvailableTo сообщает, может ли ребёнок получить награду.
func (r *Reward) AvailableTo(childID string) bool {
	return len(r.AssignedTo) == 0 || slices.Contains(r.AssignedTo, childID)
}
