package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"serotonyl.ru/family-stars/internal/app"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/ledger"
)

// FamilyReconciliation — итог сверки одной семьи.
type FamilyReconciliation struct {
	FamilyID string                   `json:"family_id"`
	Name     string                   `json:"name"`
	Children []*ledger.Reconciliation `json:"children"`

	names map[string]string // ID ребёнка → имя
}

// NewReconcileCommand создаёт команду reconcile.
func NewReconcileCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Сверить балансы с журналом транзакций и исправить расхождения",
		Long: `Баланс каждого ребёнка сравнивается с суммой его транзакций.
Если они разошлись, баланс перезаписывается суммой журнала.
Без --chat сверяются все семьи.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(ctx context.Context, s *app.Services) error {
				var families []*family.Family
				if opts.ChatID != 0 {
					f, err := familyOf(ctx, opts, s)
					if err != nil {
						return err
					}
					families = []*family.Family{f}
				} else {
					var err error
					if families, err = s.Families.ListFamilies(ctx); err != nil {
						return err
					}
				}

				results := make([]FamilyReconciliation, 0, len(families))
				for _, f := range families {
					recs, err := s.Ledger.ReconcileFamily(ctx, f.ID)
					if err != nil {
						return fmt.Errorf("семья %q: %w", f.Name, err)
					}
					children, err := s.Families.Children(ctx, f.ID)
					if err != nil {
						return err
					}
					names := make(map[string]string, len(children))
					for _, c := range children {
						names[c.ID] = c.Name
					}
					results = append(results, FamilyReconciliation{FamilyID: f.ID, Name: f.Name, Children: recs, names: names})
				}
				return output(cmd.OutOrStdout(), opts, results, func(w io.Writer) error {
					return writeReconciliation(w, results)
				})
			})
		},
	}
}

func writeReconciliation(w io.Writer, results []FamilyReconciliation) error {
	repaired := 0
	for _, r := range results {
		for _, c := range r.Children {
			if !c.Repaired {
				continue
			}
			repaired++
			if _, err := fmt.Fprintf(w, "%s: %s: баланс %d → %d\n", r.Name, r.names[c.ChildID], c.Stored, c.Computed); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "Проверено семей: %d, исправлено балансов: %d\n", len(results), repaired)
	return err
}
