package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ironscout/harvester/internal/bootstrap"
	"github.com/ironscout/harvester/internal/database"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(m *database.Migrator) error {
					return m.Up()
				})
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default one step)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n <= 0 {
						return fmt.Errorf("steps must be a positive integer, got %q", args[0])
					}
					steps = n
				}
				return withMigrator(cmd, func(m *database.Migrator) error {
					return m.Down(steps)
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(m *database.Migrator) error {
					version, dirty, err := m.Version()
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
					return err
				})
			},
		},
	)
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(*database.Migrator) error) error {
	deps, err := bootstrap.NewCommandDeps(configPath())
	if err != nil {
		return err
	}
	defer func() { _ = deps.Logger.Sync() }()

	db, err := bootstrap.ConnectDatabase(cmd.Context(), deps)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := database.NewMigrator(db, deps.Logger)
	if err != nil {
		return err
	}
	return fn(m)
}
