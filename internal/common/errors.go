// Package common — errors.go определяет ошибки, которые используются во всех модулях.
// Есть пять базовых видов ошибок (валидация, не найдено, уже обработано,
// недостаточно звёзд, ошибка хранилища). Конкретные ошибки оборачивают
// один из видов, поэтому обработчики проверяют их через errors.Is.
package common

import (
	"errors"
	"fmt"
)

// Базовые виды ошибок
var (
	// ErrValidation — некорректный ввод
	ErrValidation = errors.New("некорректные данные")
	// ErrNotFound — запись не найдена (или принадлежит другой семье)
	ErrNotFound = errors.New("не найдено")
	// ErrAlreadyProcessed — попытка изменить уже проверенное или отклонённое выполнение
	ErrAlreadyProcessed = errors.New("уже обработано")
	// ErrInsufficientBalance — недостаточно звёзд на счёте
	ErrInsufficientBalance = errors.New("недостаточно звёзд на счёте")
	// ErrPersistence — хранилище не смогло выполнить запрос
	ErrPersistence = errors.New("ошибка хранилища")
)

// Ошибки леджера
var (
	ErrInvalidAmount     = fmt.Errorf("%w: сумма должна быть ненулевой", ErrValidation)
	ErrNegativeReward    = fmt.Errorf("%w: награда не может быть отрицательной", ErrValidation)
	ErrEmptyReason       = fmt.Errorf("%w: укажите причину отказа", ErrValidation)
	ErrCostMismatch      = fmt.Errorf("%w: стоимость награды изменилась", ErrValidation)
	ErrTaskInactive      = fmt.Errorf("%w: задание отключено", ErrValidation)
	ErrRewardNotAssigned = fmt.Errorf("%w: эта награда не для этого ребёнка", ErrValidation)
	ErrRewardLocked      = fmt.Errorf("%w: условие награды ещё не выполнено", ErrValidation)
	ErrRewardUsed        = fmt.Errorf("%w: разовая награда уже получена", ErrAlreadyProcessed)
	ErrTaskAlreadyDone   = fmt.Errorf("%w: задание уже отмечено в этом периоде", ErrAlreadyProcessed)
	ErrLogNotFound       = fmt.Errorf("%w: выполнение", ErrNotFound)
	ErrChildNotFound     = fmt.Errorf("%w: ребёнок", ErrNotFound)
	ErrTaskNotFound      = fmt.Errorf("%w: задание", ErrNotFound)
	ErrRewardNotFound    = fmt.Errorf("%w: награда", ErrNotFound)
)

// Ошибки семьи
var (
	ErrFamilyNotFound   = fmt.Errorf("%w: семья", ErrNotFound)
	ErrCategoryNotFound = fmt.Errorf("%w: категория", ErrNotFound)
	ErrFamilyExists     = fmt.Errorf("%w: семья для этого чата уже создана", ErrAlreadyProcessed)
	ErrChildLimit       = fmt.Errorf("%w: достигнут лимит детей в семье", ErrValidation)
	ErrEmptyName        = fmt.Errorf("%w: имя не может быть пустым", ErrValidation)
	ErrNameTooLong      = fmt.Errorf("%w: имя слишком длинное (максимум 64 символа)", ErrValidation)
)

// Ошибки родительского режима
var (
	// ErrNotParent — пользователь не является родителем в семье
	ErrNotParent = errors.New("эта команда только для родителей")
	// ErrWrongPin — неверный PIN
	ErrWrongPin = errors.New("неверный PIN")
	// ErrPinNotSet — PIN ещё не задан
	ErrPinNotSet = errors.New("PIN ещё не задан, используйте /setpin")
	// ErrWeakPin — PIN короче 4 цифр или содержит не только цифры
	ErrWeakPin = fmt.Errorf("%w: PIN должен состоять из 4–8 цифр", ErrValidation)
	// ErrTooManyAttempts — слишком много неудачных попыток входа
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите")
	// ErrSessionExpired — родительская сессия истекла
	ErrSessionExpired = errors.New("сессия истекла, разблокируйте заново: /unlock")
)

// Ошибки резервных копий
var (
	ErrBackupMalformed  = fmt.Errorf("%w: повреждённая резервная копия", ErrValidation)
	ErrBackupVersion    = fmt.Errorf("%w: неподдерживаемая версия резервной копии", ErrValidation)
	ErrBackupUnbalanced = fmt.Errorf("%w: баланс в копии не сходится с историей транзакций", ErrValidation)
)

// Persistence оборачивает ошибку хранилища в ErrPersistence с описанием операции.
// nil остаётся nil, уже обёрнутые доменные ошибки не трогаем.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrValidation) || errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
