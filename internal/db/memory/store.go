// Package memory — хранилище в памяти процесса.
// Реализует family.Store, ledger.Store, parent.Store и backup.Store.
// Используется в тестах и при STORE_DRIVER=memory (данные живут до рестарта).
package memory

import (
	"context"
	"fmt"
	"sync"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/features/backup"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/ledger"
	"serotonyl.ru/family-stars/internal/features/parent"
)

// Store хранит все записи в срезах в порядке вставки.
// Один мьютекс на всё хранилище: Atomic держит его до конца транзакции,
// поэтому транзакции выполняются строго по очереди.
type Store struct {
	mu       sync.Mutex
	st       state
	failures map[string]error // Внедрённые ошибки по имени операции (для тестов)
}

type state struct {
	families   []*family.Family
	parents    map[string][]int64
	children   []*family.Child
	tasks      []*family.Task
	categories []*family.Category
	rewards    []*family.Reward
	logs       []*ledger.CompletionLog
	txs        []*ledger.Transaction
	sessions   []*parent.Session
	attempts   []*parent.LoginAttempt
}

var (
	_ family.Store = (*Store)(nil)
	_ ledger.Store = (*Store)(nil)
	_ parent.Store = (*Store)(nil)
	_ backup.Store = (*Store)(nil)
)

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		st:       state{parents: make(map[string][]int64)},
		failures: make(map[string]error),
	}
}

// FailOn заставляет операцию op возвращать ошибку хранилища.
// nil снимает ошибку. Имена операций совпадают с именами методов Tx
// в snake_case: "insert_transaction", "add_balance", "finish_log", ...
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) fail(op string) error {
	if err, ok := s.failures[op]; ok {
		return common.Persistence(op, err)
	}
	return nil
}

// Ping всегда успешен.
func (s *Store) Ping(context.Context) error { return nil }

// Atomic выполняет fn под блокировкой хранилища.
// Если fn вернула ошибку, состояние откатывается к снимку до начала.
func (s *Store) Atomic(ctx context.Context, fn func(tx ledger.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return common.Persistence("begin", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	defer func() {
		if p := recover(); p != nil {
			s.st = snapshot
			panic(p)
		}
		if err != nil {
			s.st = snapshot
		}
	}()

	if err := s.fail("begin"); err != nil {
		return err
	}
	if err := fn(&tx{s: s}); err != nil {
		return err
	}
	return s.fail("commit")
}

func (st state) clone() state {
	out := state{
		families:   cloneAll(st.families),
		parents:    make(map[string][]int64, len(st.parents)),
		children:   cloneAll(st.children),
		tasks:      cloneAll(st.tasks),
		categories: cloneAll(st.categories),
		rewards:    cloneAll(st.rewards),
		logs:       cloneAll(st.logs),
		txs:        cloneAll(st.txs),
		sessions:   cloneAll(st.sessions),
		attempts:   cloneAll(st.attempts),
	}
	for id, users := range st.parents {
		out.parents[id] = append([]int64(nil), users...)
	}
	return out
}

// cloneAll копирует структуры, чтобы откат не зависел от изменений на месте.
func cloneAll[T any](in []*T) []*T {
	if in == nil {
		return nil
	}
	out := make([]*T, len(in))
	for i, p := range in {
		v := *p
		out[i] = &v
	}
	return out
}

func clone[T any](p *T) *T {
	v := *p
	return &v
}

// find возвращает первый элемент, подходящий под условие.
func find[T any](items []*T, match func(*T) bool) (*T, int) {
	for i, it := range items {
		if match(it) {
			return it, i
		}
	}
	return nil, -1
}

// filter возвращает копии подходящих элементов.
func filter[T any](items []*T, match func(*T) bool) []*T {
	var out []*T
	for _, it := range items {
		if match(it) {
			out = append(out, clone(it))
		}
	}
	return out
}

func duplicate(kind, id string) error {
	return common.Persistence("insert", fmt.Errorf("%s %s уже существует", kind, id))
}
