package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zsiec/netsync/internal/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "netsync",
		Short: "Networked entity sync transport",
		Long: `netsync runs a tick-driven message transport over TCP or UDP.

The server accepts clients, frames their messages and rebroadcasts them,
exposing an admin API with health, metrics and the live client registry.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to a YAML config file (defaults are used when empty)")

	root.AddCommand(
		newServeCmd(),
		newConnectCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads --config, or the built-in defaults when it is unset.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default()
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
