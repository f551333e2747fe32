package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"serotonyl.ru/family-stars/internal/app"
)

// NewAnalyticsCommand создаёт команду analytics.
func NewAnalyticsCommand(opts *RootOptions, open Opener) *cobra.Command {
	var childName string

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Выполнения и заработанные звёзды по категориям",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(ctx context.Context, s *app.Services) error {
				f, err := familyOf(ctx, opts, s)
				if err != nil {
					return err
				}
				childID := ""
				if childName != "" {
					c, err := s.Families.ChildByName(ctx, f.ID, childName)
					if err != nil {
						return err
					}
					childID = c.ID
				}
				metrics, err := s.Ledger.FamilyAnalytics(ctx, f.ID, childID)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts, metrics, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "CATEGORY\tCOMPLETED\tTOTAL\tRATE\tEARNED")
					for _, m := range metrics {
						fmt.Fprintf(tw, "%s\t%d\t%d\t%d%%\t%d\n", m.Name, m.Completed, m.Total, m.CompletionRate, m.Earned)
					}
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&childName, "child", "", "только выполнения этого ребёнка")
	return cmd
}
