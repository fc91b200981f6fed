package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiox-platform/companion/internal/database"
)

func init() {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return database.RollbackMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath, steps)
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ver, dirty, err := database.MigrationVersion(cfg.DB.DSN(), cfg.DB.MigrationsPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", ver, dirty)
			return nil
		},
	}

	cmd.AddCommand(up, down, version)
	RootCmd.AddCommand(cmd)
}
