package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/family-stars/internal/config"
	"serotonyl.ru/family-stars/internal/db/memory"
	"serotonyl.ru/family-stars/internal/db/postgres"
	"serotonyl.ru/family-stars/internal/metrics"

	"serotonyl.ru/family-stars/internal/features/backup"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/ledger"
	"serotonyl.ru/family-stars/internal/features/parent"
)

// Services — доменные сервисы поверх выбранного хранилища.
// Общие для бота и starctl.
type Services struct {
	Families *family.Service
	Ledger   *ledger.Service
	Parents  *parent.Service
	Backup   *backup.Service
	Pinger   metrics.Pinger

	close func()
}

// NewServices открывает хранилище по STORE_DRIVER и создаёт сервисы.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("Хранилище в памяти: данные пропадут после рестарта")
		return MemoryServices(cfg, memory.New()), nil
	}

	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	if err := postgres.Migrate(ctx, pool, migrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	catalog := family.NewRepository(pool)
	families := family.NewService(catalog, cfg)
	return &Services{
		Families: families,
		Ledger:   ledger.NewService(ledger.NewRepository(pool), catalog, cfg),
		Parents:  parent.NewService(parent.NewRepository(pool), families, cfg),
		Backup:   backup.NewService(backup.NewRepository(pool), cfg),
		Pinger:   pool,
		close:    pool.Close,
	}, nil
}

// MemoryServices собирает сервисы поверх хранилища в памяти.
func MemoryServices(cfg *config.Config, store *memory.Store) *Services {
	families := family.NewService(store, cfg)
	return &Services{
		Families: families,
		Ledger:   ledger.NewService(store, store, cfg),
		Parents:  parent.NewService(store, families, cfg),
		Backup:   backup.NewService(store, cfg),
		Pinger:   store,
		close:    func() {},
	}
}

// Close закрывает пул соединений (для memory ничего не делает).
func (s *Services) Close() {
	s.close()
}
