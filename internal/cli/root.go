// Package cli handles the command-line interface logic
// using the Cobra library.
package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "recmig",
		Short: "recmig - record migration between API environments",
		Long: `recmig migrates entity records between two API-backed environments.
Migrations are defined as configs of entity mappings with declarative field
rules or transform scripts, and execute through a persistent work queue.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewQueueCmd())

	return rootCmd
}
