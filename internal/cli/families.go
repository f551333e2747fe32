package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"serotonyl.ru/family-stars/internal/app"
)

// FamilySummary — строка списка семей.
type FamilySummary struct {
	ID       string `json:"id"`
	ChatID   int64  `json:"chat_id"`
	Name     string `json:"name"`
	Children int    `json:"children"`
	Pending  int    `json:"pending"`
}

// NewFamiliesCommand создаёт команду families.
func NewFamiliesCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "families",
		Short: "Список семей с числом детей и непроверенных заданий",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(ctx context.Context, s *app.Services) error {
				summaries, err := listFamilies(ctx, s)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts, summaries, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "CHAT\tNAME\tCHILDREN\tPENDING\tID")
					for _, f := range summaries {
						fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", f.ChatID, f.Name, f.Children, f.Pending, f.ID)
					}
					return tw.Flush()
				})
			})
		},
	}
}

func listFamilies(ctx context.Context, s *app.Services) ([]FamilySummary, error) {
	families, err := s.Families.ListFamilies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]FamilySummary, 0, len(families))
	for _, f := range families {
		children, err := s.Families.Children(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		pending, err := s.Ledger.CountPending(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, FamilySummary{
			ID:       f.ID,
			ChatID:   f.ChatID,
			Name:     f.Name,
			Children: len(children),
			Pending:  pending,
		})
	}
	return out, nil
}
