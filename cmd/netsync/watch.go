package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/netsync/internal/tui"
)

func newWatchCmd() *cobra.Command {
	var (
		adminURL string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.Run(adminURL, interval)
		},
	}

	cmd.Flags().StringVar(&adminURL, "admin", "http://127.0.0.1:8080", "admin API base URL")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	return cmd
}
