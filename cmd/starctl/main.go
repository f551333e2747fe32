// Package main — starctl, утилита администрирования семейного счёта звёзд.
// Конфигурация та же, что у бота (переменные окружения), токен Telegram не нужен.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/family-stars/internal/cli"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewRootCommand(cli.OpenFromEnv).ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("Команда завершилась с ошибкой")
		cancel()
		os.Exit(1)
	}
}
