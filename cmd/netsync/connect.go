package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/netsync/internal/config"
	"github.com/zsiec/netsync/internal/logger"
	"github.com/zsiec/netsync/internal/transport"
)

type connectOptions struct {
	addr    string
	network string
	message string
	mode    string
	count   int
	every   time.Duration
	linger  time.Duration
}

func newConnectCmd() *cobra.Command {
	opts := connectOptions{}

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect a client, send messages and print what comes back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if opts.network != "" {
				cfg.Transport.Network = opts.network
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runClient(ctx, cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:7777", "server address host:port")
	cmd.Flags().StringVar(&opts.network, "network", "", "tcp or udp (defaults to transport.network)")
	cmd.Flags().StringVar(&opts.message, "message", "hello", "payload to send")
	cmd.Flags().StringVar(&opts.mode, "mode", "reliable", "delivery mode: reliable or unreliable")
	cmd.Flags().IntVar(&opts.count, "count", 1, "messages to send, 0 to only listen")
	cmd.Flags().DurationVar(&opts.every, "every", 100*time.Millisecond, "delay between messages")
	cmd.Flags().DurationVar(&opts.linger, "linger", 2*time.Second, "how long to keep listening after the last send, 0 to stay until interrupted")
	return cmd
}

func runClient(ctx context.Context, cfg *config.Config, opts connectOptions, out io.Writer) error {
	mode, err := transport.ParseDeliveryMode(opts.mode)
	if err != nil {
		return err
	}

	base, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.WithComponent(base, "client")

	cli, err := transport.NewClient(&cfg.Transport, log)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer cli.Close()

	disconnected := make(chan transport.DisconnectReason, 1)
	cli.Subscribe(func(ev transport.Event) {
		switch ev.Type {
		case transport.MessageReceived:
			fmt.Fprintf(out, "< %s\n", ev.Payload)
		case transport.ClientDisconnected:
			select {
			case disconnected <- ev.Reason:
			default:
			}
		}
	})

	if !cli.ConnectContext(ctx, opts.addr) {
		return fmt.Errorf("failed to connect to %s/%s", cfg.Transport.Network, opts.addr)
	}
	fmt.Fprintf(out, "connected to %s as %s\n", opts.addr, cli.Connection().ID())

	ticker := time.NewTicker(cfg.Transport.TickInterval)
	defer ticker.Stop()

	sent := 0
	nextSend := time.Now()
	var lingerUntil <-chan time.Time
	if opts.count == 0 && opts.linger > 0 {
		lingerUntil = time.After(opts.linger)
	}

	for {
		select {
		case <-ctx.Done():
			cli.Disconnect()
			return nil
		case reason := <-disconnected:
			return fmt.Errorf("disconnected: %s", reason)
		case <-lingerUntil:
			cli.Disconnect()
			return nil
		case now := <-ticker.C:
			if sent < opts.count && !now.Before(nextSend) {
				payload := opts.message
				if opts.count > 1 {
					payload = fmt.Sprintf("%s #%d", opts.message, sent+1)
				}
				if err := cli.Send([]byte(payload), mode); err != nil {
					return fmt.Errorf("send failed: %w", err)
				}
				fmt.Fprintf(out, "> %s\n", payload)
				sent++
				nextSend = now.Add(opts.every)
				if sent == opts.count && opts.linger > 0 {
					lingerUntil = time.After(opts.linger)
				}
			}
			cli.Process()
		}
	}
}
