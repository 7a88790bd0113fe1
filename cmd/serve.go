package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ironscout/harvester/internal/bootstrap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler loop and admin API",
		Long: `Connect to PostgreSQL and Redis, apply migrations, start the tick loop
(when enabled) and serve the admin API until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap.Start(cmd.Context(), configPath())
		},
	}
}
