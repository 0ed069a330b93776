// Package cmd wires the learner's command-line front end with cobra: a
// root command carrying the shared --config flag plus
// "learn" and "explain" subcommands that each register themselves via
// init.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jtomasevic/sharly/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sharly",
	Short: "Learns and explains smart-home event-sequence behavior",
	Long: `sharly watches a log of item state-change events, learns the
event sequences and delays that characterize normal behavior per
condition group, and explains why an observed sequence was flagged
anomalous against that learned library.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.ini", "path to the INI configuration file")
}

// Execute runs the command tree; main.go is the sole caller.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
