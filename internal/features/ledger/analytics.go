package ledger

import (
	"slices"

	"serotonyl.ru/family-stars/internal/features/family"
)

// Uncategorized — ID корзины для заданий без категории (или с удалённой категорией).
const Uncategorized = "uncategorized"

// CategoryMetric — показатели одной категории.
type CategoryMetric struct {
	CategoryID     string `json:"category_id"`
	Name           string `json:"name"`
	Icon           string `json:"icon,omitempty"`
	Total          int    `json:"total"`           // Все выполнения заданий категории
	Completed      int    `json:"completed"`       // Из них проверенные
	Earned         int64  `json:"earned"`          // Звёзды за проверенные задания
	CompletionRate int    `json:"completion_rate"` // Процент, округлён вниз
}

// CategoryPerformance сводит выполнения и начисления по категориям.
// Функция чистая: одинаковые входы дают одинаковый результат в том же порядке.
// Категории без выполнений и без начислений в результат не попадают.
func CategoryPerformance(categories []*family.Category, logs []*CompletionLog, txs []*Transaction, tasks []*family.Task) []CategoryMetric {
	metrics := make([]CategoryMetric, 0, len(categories)+1)
	index := make(map[string]int, len(categories)+1)
	for _, c := range categories {
		if _, dup := index[c.ID]; dup {
			continue
		}
		index[c.ID] = len(metrics)
		metrics = append(metrics, CategoryMetric{CategoryID: c.ID, Name: c.Name, Icon: c.Icon})
	}
	index[Uncategorized] = len(metrics)
	metrics = append(metrics, CategoryMetric{CategoryID: Uncategorized, Name: "Без категории"})

	taskCategory := make(map[string]string, len(tasks))
	for _, t := range tasks {
		if t.CategoryID != nil {
			if _, ok := index[*t.CategoryID]; ok {
				taskCategory[t.ID] = *t.CategoryID
				continue
			}
		}
		taskCategory[t.ID] = Uncategorized
	}
	bucketOf := func(taskID string) int {
		if id, ok := taskCategory[taskID]; ok {
			return index[id]
		}
		return index[Uncategorized]
	}

	logTask := make(map[string]string, len(logs))
	for _, l := range logs {
		logTask[l.ID] = l.TaskID
		m := &metrics[bucketOf(l.TaskID)]
		m.Total++
		if l.Status == StatusVerified || l.Status == StatusCompleted {
			m.Completed++
		}
	}

	for _, t := range txs {
		if t.Type != TxTaskVerified || t.ReferenceID == nil {
			continue
		}
		taskID, ok := logTask[*t.ReferenceID]
		if !ok {
			// Выполнение за пределами выборки
			continue
		}
		metrics[bucketOf(taskID)].Earned += t.Amount
	}

	out := metrics[:0]
	for _, m := range metrics {
		if m.Total == 0 && m.Earned == 0 {
			continue
		}
		if m.Total > 0 {
			m.CompletionRate = m.Completed * 100 / m.Total
		}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b CategoryMetric) int {
		return b.Completed - a.Completed
	})
	return out
}

// FilterByChild оставляет только выполнения и транзакции одного ребёнка.
func FilterByChild(childID string, logs []*CompletionLog, txs []*Transaction) ([]*CompletionLog, []*Transaction) {
	var outLogs []*CompletionLog
	for _, l := range logs {
		if l.ChildID == childID {
			outLogs = append(outLogs, l)
		}
	}
	var outTxs []*Transaction
	for _, t := range txs {
		if t.ChildID == childID {
			outTxs = append(outTxs, t)
		}
	}
	return outLogs, outTxs
}
