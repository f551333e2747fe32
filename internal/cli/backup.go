package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"serotonyl.ru/family-stars/internal/app"
	"serotonyl.ru/family-stars/internal/features/backup"
)

// NewBackupCommand создаёт команду backup с подкомандами export и restore.
func NewBackupCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Резервные копии семьи (JSON)",
	}
	cmd.AddCommand(newBackupExportCommand(opts, open))
	cmd.AddCommand(newBackupRestoreCommand(opts, open))
	return cmd
}

func newBackupExportCommand(opts *RootOptions, open Opener) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Выгрузить состояние семьи в JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(ctx context.Context, s *app.Services) error {
				f, err := familyOf(ctx, opts, s)
				if err != nil {
					return err
				}
				snap, err := s.Backup.Export(ctx, f.ID)
				if err != nil {
					return err
				}
				raw, err := backup.Encode(snap)
				if err != nil {
					return err
				}
				if outPath == "" {
					_, err = cmd.OutOrStdout().Write(append(raw, '\n'))
					return err
				}
				if err := os.WriteFile(outPath, raw, 0o600); err != nil {
					return fmt.Errorf("не удалось записать %s: %w", outPath, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Копия сохранена в %s: детей %d, транзакций %d\n",
					outPath, len(snap.Data.Children), len(snap.Data.Transactions))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "файл для копии (по умолчанию stdout)")
	return cmd
}

func newBackupRestoreCommand(opts *RootOptions, open Opener) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "restore <file|->",
		Short: "Заменить состояние семьи содержимым копии",
		Long: `Проверяет копию и заменяет ею детей, задания, награды, категории,
выполнения и транзакции семьи. Копия с несходящимися балансами отклоняется.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("восстановление заменит все данные семьи: подтвердите флагом --yes")
			}
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return withServices(cmd, open, func(ctx context.Context, s *app.Services) error {
				f, err := familyOf(ctx, opts, s)
				if err != nil {
					return err
				}
				snap, err := s.Backup.Restore(ctx, f.ID, raw)
				if err != nil {
					return err
				}
				result := map[string]any{
					"family":       f.Name,
					"version":      snap.Version,
					"taken_at":     snap.Timestamp,
					"children":     len(snap.Data.Children),
					"transactions": len(snap.Data.Transactions),
				}
				return output(cmd.OutOrStdout(), opts, result, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Семья %q восстановлена из копии от %s: детей %d, транзакций %d\n",
						f.Name, snap.Timestamp.Format("2006-01-02 15:04"), len(snap.Data.Children), len(snap.Data.Transactions))
					return err
				})
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "подтвердить замену данных")
	return cmd
}

// readInput читает файл или stdin, если путь "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать %s: %w", path, err)
	}
	return raw, nil
}
