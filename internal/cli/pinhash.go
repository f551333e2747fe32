package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"serotonyl.ru/family-stars/internal/features/parent"
)

// NewPinHashCommand создаёт команду pin-hash: Argon2id-хеш PIN
// для ручной записи в families.pin_hash.
func NewPinHashCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pin-hash <pin>",
		Short: "Посчитать Argon2id-хеш родительского PIN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parent.ValidatePin(args[0]); err != nil {
				return err
			}
			hash, err := parent.HashPin(args[0])
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return output(cmd.OutOrStdout(), opts, map[string]string{"hash": hash}, nil)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
