// Package parent реализует родительский режим: PIN с Argon2id-хешем,
// сессии, защиту от перебора и состояния диалогов.
// models.go описывает структуры сессий и попыток входа.
package parent

import "time"

// Session — открытая родительская сессия в семье.
type Session struct {
	ID              string    `db:"id"`
	OwnerID         string    `db:"owner_id"`
	UserID          int64     `db:"user_id"`
	Token           string    `db:"session_token"`
	AuthenticatedAt time.Time `db:"authenticated_at"`
	ExpiresAt       time.Time `db:"expires_at"`
	LastActivity    time.Time `db:"last_activity"`
	IsActive        bool      `db:"is_active"`
}

// LoginAttempt — попытка ввода PIN (для защиты от brute-force).
type LoginAttempt struct {
	OwnerID     string    `db:"owner_id"`
	UserID      int64     `db:"user_id"`
	AttemptTime time.Time `db:"attempt_time"`
	Success     bool      `db:"success"`
}

// DialogState — состояние диалога с родителем (конечный автомат).
// Например: /reject без причины → ждём текст причины следующим сообщением.
type DialogState struct {
	State     string    // Текущее состояние
	Data      any       // Данные контекста (ID выполнения и т.п.)
	ExpiresAt time.Time // Когда состояние истекает (5 минут)
}

// Возможные состояния диалога
const (
	StateNone           = ""                 // Нет активного состояния
	StateAwaitingPin    = "awaiting_pin"     // Ждём PIN для /unlock
	StateAwaitingNewPin = "awaiting_new_pin" // Ждём новый PIN для /setpin
	StateRejectReason   = "reject_reason"    // Ждём причину отказа, Data = ID выполнения
)
