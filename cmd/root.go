// Package cmd implements the harvester command-line interface.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envPrefix scopes viper's environment lookups, e.g. HARVESTER_CONFIG.
const envPrefix = "HARVESTER"

const configKey = "config"

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Adaptive scrape scheduler",
	Long: `harvester decides which scrape targets are due, enqueues them in bounded
batches under queue backpressure, and tracks adapter health across cycles.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command until it returns or SIGINT/SIGTERM arrives.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String(configKey, "",
		"config file (default is $CONFIG_PATH, then ./config.yml)")
	_ = viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(configKey))

	rootCmd.AddCommand(
		newServeCmd(),
		newTickCmd(),
		newMigrateCmd(),
		newVersionCmd(),
	)
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// configPath returns the --config flag or HARVESTER_CONFIG. Empty lets the
// loader fall back to CONFIG_PATH.
func configPath() string {
	return viper.GetString(configKey)
}
