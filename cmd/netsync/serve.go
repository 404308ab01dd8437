package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/zsiec/netsync/internal/admin"
	"github.com/zsiec/netsync/internal/config"
	"github.com/zsiec/netsync/internal/health"
	"github.com/zsiec/netsync/internal/logger"
	"github.com/zsiec/netsync/internal/presence"
	"github.com/zsiec/netsync/internal/transport"
	"github.com/zsiec/netsync/pkg/version"
)

func newServeCmd() *cobra.Command {
	var (
		network string
		port    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transport server with the relay application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("network") {
				cfg.Transport.Network = network
			}
			if cmd.Flags().Changed("port") {
				cfg.Transport.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&network, "network", "", "override transport.network (tcp or udp)")
	cmd.Flags().IntVar(&port, "port", 0, "override transport.port")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	base, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.WithComponent(base, "netsync")

	log.WithFields(map[string]interface{}{
		"version":  version.GetInfo().Short(),
		"protocol": version.Protocol,
		"network":  cfg.Transport.Network,
	}).Info("Starting netsync server")

	srv, err := transport.NewServer(&cfg.Transport, logger.WithComponent(base, "transport"))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	srv.Subscribe(newRelay(srv, log).handle)

	healthMgr := health.NewManager(log)
	healthMgr.Register(health.NewTransportChecker(srv, staleAfter(cfg.Transport.TickInterval)))

	var (
		wg          sync.WaitGroup
		redisClient redis.UniversalClient
	)
	bgCtx, cancelBg := context.WithCancel(context.Background())
	// The tracker flushes through Redis, so the client closes last
	defer func() {
		cancelBg()
		wg.Wait()
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.WithError(err).Error("Failed to close Redis connection")
			}
		}
	}()

	store, redisClient, err := openPresence(ctx, cfg, healthMgr, log)
	if err != nil {
		return err
	}
	if store != nil {
		tracker := presence.NewTracker(store, srv, &cfg.Presence, nodeName(), log)
		srv.Subscribe(tracker.Handle)
		wg.Add(1)
		go func() {
			defer wg.Done()
			// bgCtx outlives the signal so the tracker sees the final withdrawals
			_ = tracker.Run(bgCtx)
		}()
	}

	if !srv.Start(cfg.Transport.BindAddress(), cfg.Transport.Backlog) {
		return fmt.Errorf("failed to listen on %s/%s", cfg.Transport.Network, cfg.Transport.BindAddress())
	}

	if cfg.Admin.Enabled {
		adm := admin.New(&cfg.Admin, cfg.Metrics, srv, healthMgr, store, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adm.Start(ctx); err != nil {
				log.WithError(err).Error("Admin server error")
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			healthMgr.StartPeriodicChecks(ctx, 10*time.Second)
		}()
	}

	log.WithField("addr", srv.Addr().String()).Info("Server listening")

	// Run only returns once ctx is cancelled
	_ = transport.Run(ctx, srv, cfg.Transport.TickInterval)
	log.Info("Shutting down")

	if err := srv.Close(); err != nil {
		log.WithError(err).Error("Failed to close server")
	}

	log.Info("Server shutdown complete")
	return nil
}

// openPresence builds the configured presence store. The Redis client is
// returned so the caller can close it.
func openPresence(ctx context.Context, cfg *config.Config, healthMgr *health.Manager, log logger.Logger) (presence.Store, redis.UniversalClient, error) {
	if !cfg.Presence.Enabled {
		return nil, nil, nil
	}

	switch cfg.Presence.Store {
	case "memory":
		return presence.NewMemoryStore(cfg.Presence.TTL), nil, nil

	case "redis":
		client := presence.NewRedisClient(&cfg.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout+time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info("Connected to Redis successfully")

		healthMgr.Register(health.NewRedisChecker(client))
		return presence.NewRedisStore(client, cfg.Presence.KeyPrefix, cfg.Presence.TTL, log), client, nil
	}
	return nil, nil, fmt.Errorf("unknown presence store %q", cfg.Presence.Store)
}

// staleAfter is how old a snapshot may be before the tick loop counts as
// stalled.
func staleAfter(tick time.Duration) time.Duration {
	if stale := 50 * tick; stale > time.Second {
		return stale
	}
	return time.Second
}

func nodeName() string {
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}
