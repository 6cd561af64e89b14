package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wailbentafat/foxglove-hub/config"
	"github.com/wailbentafat/foxglove-hub/relay"
	"github.com/wailbentafat/foxglove-hub/server"
	"github.com/wailbentafat/foxglove-hub/websocket"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		envFile    string
		demo       bool
	)

	cmd := &cobra.Command{
		Use:           "foxglove-hub",
		Short:         "Foxglove WebSocket hub",
		Long:          `Serves published channels to Foxglove clients over the foxglove.websocket.v1 protocol`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := config.LoadEnvFile(envFile); err != nil {
					fmt.Fprintln(os.Stderr, err)
					return err
				}
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			if demo {
				cfg.Demo = true
			}

			logger, err := newLogger(cfg.Logging)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, configPath, logger); err != nil {
				logger.Error("hub stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file with FOXHUB_ overrides")
	cmd.Flags().BoolVar(&demo, "demo", false, "start the example publishers")
	return cmd
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

func run(ctx context.Context, cfg *config.Config, configPath string, logger *zap.Logger) error {
	websocket.SetLogger(logger)

	opts := websocket.Options{
		Name:             cfg.Server.Name,
		QueueSize:        cfg.Server.QueueSize,
		MaxDroppedFrames: cfg.Server.MaxDroppedFrames,
		PingInterval:     cfg.Server.PingInterval,
		ActivityTimeout:  cfg.Server.ActivityTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
	}

	var (
		relayCloser io.Closer
		rb          *relay.RedisBroker
		err         error
	)
	if cfg.Relay.Enabled {
		rb, err = relay.NewRedisBroker(ctx, relay.RedisOptions{
			Addr:     cfg.Relay.Redis.Addr,
			Password: cfg.Relay.Redis.Password,
			DB:       cfg.Relay.Redis.DB,
		}, logger)
		if err != nil {
			return err
		}
		relayCloser = rb
		logger.Info("connected to redis", zap.String("addr", cfg.Relay.Redis.Addr))

		if cfg.Relay.Presence {
			store := relay.NewStore(rb.Client(), cfg.Relay.OnlineClientsKey)
			if err := store.Reset(ctx); err != nil {
				logger.Warn("failed to reset online clients", zap.Error(err))
			}
			opts.Observer = relay.NewPresencePublisher(rb, store, cfg.Relay.PresenceChannel, logger)
		}
	}

	hub := websocket.NewBroker(opts)
	hub.Parameters().SetAll(cfg.Parameters)

	srv := server.NewServer(cfg.Server.Addr, cfg.Server.Path, hub, cfg.Server.MetricsPath, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx, hub, relayCloser)
		return nil
	})

	if rb != nil && len(cfg.Relay.Routes) > 0 {
		bridge := relay.NewBridge(hub, rb, bridgeRoutes(cfg.Relay.Routes), logger)
		g.Go(func() error {
			return bridge.Run(gctx)
		})
	}

	if cfg.Demo {
		g.Go(func() error {
			return runDemo(gctx, hub, logger, demoInterval)
		})
	}

	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, logger, func(next *config.Config) {
				hub.Parameters().SetAll(next.Parameters)
			})
		})
	}

	logger.Info("hub started",
		zap.String("addr", cfg.Server.Addr),
		zap.String("path", cfg.Server.Path),
		zap.Bool("relay", cfg.Relay.Enabled),
		zap.Bool("demo", cfg.Demo))

	return g.Wait()
}

func bridgeRoutes(routes []config.RouteConfig) []relay.Route {
	out := make([]relay.Route, 0, len(routes))
	for _, r := range routes {
		out = append(out, relay.Route{
			Source:     r.Source,
			Topic:      r.Topic,
			Encoding:   r.Encoding,
			SchemaName: r.SchemaName,
			Schema:     r.Schema,
			Latching:   r.Latching,
		})
	}
	return out
}
