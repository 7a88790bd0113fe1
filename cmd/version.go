package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ironscout/harvester/internal/bootstrap"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "harvester %s\n", bootstrap.Version)
		},
	}
}
