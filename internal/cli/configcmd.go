package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recmig/recmig/internal/config"
	"github.com/recmig/recmig/pkg/logger"
)

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage migration configs",
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a migration config from a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			cfg, err := config.LoadMigrationConfig(args[0])
			if err != nil {
				return err
			}
			if err := a.store.SaveConfig(cfg); err != nil {
				return err
			}
			logger.Info("imported config %q with %d mappings", cfg.Name, len(cfg.Mappings))
			return nil
		},
	}

	var exportPath string
	exportCmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Export a stored config to a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			cfg, err := a.store.GetConfig(args[0])
			if err != nil {
				return err
			}
			path := exportPath
			if path == "" {
				path = cfg.Name + ".json"
			}
			if err := config.SaveMigrationConfig(path, cfg); err != nil {
				return err
			}
			logger.Info("exported config %q to %s", cfg.Name, path)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&exportPath, "out", "o", "", "Output file (extension selects the format)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored configs",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			names, err := a.store.ListConfigs()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("no configs stored")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored config",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.DeleteConfig(args[0]); err != nil {
				return err
			}
			logger.Info("deleted config %q", args[0])
			return nil
		},
	}

	cmd.AddCommand(importCmd, exportCmd, listCmd, deleteCmd)
	return cmd
}
