// Package cli — команды starctl: резервные копии, начальное заполнение,
// сверка балансов, аналитика и хеш PIN.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"serotonyl.ru/family-stars/internal/app"
	"serotonyl.ru/family-stars/internal/config"
	"serotonyl.ru/family-stars/internal/features/family"
)

// Opener открывает хранилище и сервисы. В тестах подменяется на хранилище в памяти.
type Opener func(ctx context.Context) (*app.Services, error)

// RootOptions — глобальные флаги.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json"
	ChatID  int64
}

// ValidFormats — допустимые форматы вывода.
var ValidFormats = []string{"text", "json"}

// OpenFromEnv читает конфигурацию из окружения и открывает хранилище.
func OpenFromEnv(ctx context.Context) (*app.Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.NewServices(ctx, cfg)
}

// NewRootCommand создаёт корневую команду starctl.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "starctl",
		Short: "Администрирование семейного счёта звёзд",
		Long:  "Резервные копии, начальное заполнение, сверка балансов и аналитика по семьям.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("неизвестный формат %q: допустимо %v", opts.Format, ValidFormats)
			}
			// Логи в stderr, чтобы не портить вывод команд
			log.SetOutput(cmd.ErrOrStderr())
			if !opts.Verbose {
				log.SetLevel(log.WarnLevel)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true, // Ошибку печатает main через логгер
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "подробные логи")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "формат вывода (text|json)")
	cmd.PersistentFlags().Int64Var(&opts.ChatID, "chat", 0, "ID чата семьи")

	cmd.AddCommand(NewFamiliesCommand(opts, open))
	cmd.AddCommand(NewBackupCommand(opts, open))
	cmd.AddCommand(NewSeedCommand(opts, open))
	cmd.AddCommand(NewReconcileCommand(opts, open))
	cmd.AddCommand(NewAnalyticsCommand(opts, open))
	cmd.AddCommand(NewPinHashCommand(opts))

	return cmd
}

// withServices открывает сервисы на время выполнения fn.
func withServices(cmd *cobra.Command, open Opener, fn func(ctx context.Context, s *app.Services) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	services, err := open(ctx)
	if err != nil {
		return err
	}
	defer services.Close()
	return fn(ctx, services)
}

// familyOf возвращает семью из флага --chat.
func familyOf(ctx context.Context, opts *RootOptions, s *app.Services) (*family.Family, error) {
	if opts.ChatID == 0 {
		return nil, fmt.Errorf("укажите --chat")
	}
	return s.Families.FamilyByChat(ctx, opts.ChatID)
}

// output пишет v как JSON или вызывает text для текстового вывода.
func output(w io.Writer, opts *RootOptions, v any, text func(io.Writer) error) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}
