package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nathoo/turnweave/loader"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <game-directory>",
		Short: "Check game content without starting a run",
		Long: `Load and compile Lua game content, checking every expression and
cross-reference. All problems are reported at once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := loader.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"%s: ok (%d meters, %d characters, %d nodes, %d events, %d arcs)\n",
				defs.Game.ID, len(defs.Meters), len(defs.Characters),
				len(defs.Nodes), len(defs.Events), len(defs.Arcs))
			return nil
		},
	}
}
