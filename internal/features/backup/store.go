package backup

import "context"

// Store — хранилище для выгрузки и восстановления.
type Store interface {
	// Dump читает всё состояние семьи без лимитов
	Dump(ctx context.Context, ownerID string) (*Data, error)
	// Replace заменяет состояние семьи целиком в одной транзакции
	Replace(ctx context.Context, ownerID string, d *Data) error
}
