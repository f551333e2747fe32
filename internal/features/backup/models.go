// Package backup выгружает состояние семьи в JSON-документ и восстанавливает его.
// models.go описывает формат резервной копии.
package backup

import (
	"time"

	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/ledger"
)

// CurrentVersion — версия формата, которую пишет Export.
const CurrentVersion = 1

// Snapshot — резервная копия одной семьи.
type Snapshot struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Data      Data      `json:"data"`
}

// Data — всё состояние семьи. Поля children, tasks, rewards и categories
// обязательны: без них копия считается повреждённой.
type Data struct {
	Children     []*family.Child         `json:"children"`
	Tasks        []*family.Task          `json:"tasks"`
	Rewards      []*family.Reward        `json:"rewards"`
	Categories   []*family.Category      `json:"categories"`
	ChildLogs    []*ledger.CompletionLog `json:"childLogs"`
	Transactions []*ledger.Transaction   `json:"transactions"`
	Settings     family.Settings         `json:"settings"`
}

// requiredArrays — поля data, которые должны быть массивами
var requiredArrays = []string{"children", "tasks", "rewards", "categories"}

// Normalize заменяет nil-срезы пустыми: в JSON они должны быть [], а не null,
// иначе копию нельзя будет восстановить.
func Normalize(d *Data) {
	if d.Children == nil {
		d.Children = []*family.Child{}
	}
	if d.Tasks == nil {
		d.Tasks = []*family.Task{}
	}
	if d.Rewards == nil {
		d.Rewards = []*family.Reward{}
	}
	if d.Categories == nil {
		d.Categories = []*family.Category{}
	}
	if d.ChildLogs == nil {
		d.ChildLogs = []*ledger.CompletionLog{}
	}
	if d.Transactions == nil {
		d.Transactions = []*ledger.Transaction{}
	}
}
