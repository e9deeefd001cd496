package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mcoot/logingate/internal/api"
	"github.com/mcoot/logingate/internal/api/sse"
	"github.com/mcoot/logingate/internal/config"
	"github.com/mcoot/logingate/internal/factory"
	"github.com/mcoot/logingate/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logingate",
		Short: "Cluster-wide login gate for game servers",
		Long: `logingate verifies player credentials, keeps one session lease per
player in a shared Redis store, and evicts stale sessions on other servers
when a player logs in elsewhere. Hosts talk to it over the /api/v1 HTTP API.

Settings come from --config (YAML), then LOGINGATE_* environment
variables, then flags.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	config.BindFlags(cmd.Flags())

	return cmd
}

// newLogger builds the process logger from log.format and log.level
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be 'json' or 'text'", cfg.Format)
	}
}

// run wires the application and serves until ctx is cancelled or a
// listener fails
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	app, err := factory.New(factory.FromConfig(cfg, logger))
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer func() { _ = app.Close() }()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to session events: %w", err)
	}

	if cfg.HTTP.HostKey == "" {
		logger.Warn("no host key configured, host API is unauthenticated")
	}

	hub := sse.NewHub(logger)
	go hub.Run()
	defer hub.Close()
	events := sse.NewNotifier(hub, app.Gate.ServerID())
	app.Gate.AddDemoteHandler(events.Demoted)

	router := api.NewRouter(api.RouterConfig{
		Logger:  logger,
		Gate:    app.Gate,
		HostKey: cfg.HTTP.HostKey,
		Events:  events,
	})
	serverConfig := api.DefaultServerConfig()
	serverConfig.Addr = cfg.HTTP.Addr
	server := api.NewServer(router, serverConfig, logger)

	var obsServer *metrics.Server
	var obsErrs <-chan error
	if cfg.Metrics.Addr != "" {
		obsServer = metrics.NewServer(cfg.Metrics.Addr, app.Ready, logger)
		obsErrs, err = obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		logger.Info("observability server started", slog.String("addr", obsServer.Addr()))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	g.Go(func() error {
		app.Gate.RunRecheck(gctx, cfg.Session.RecheckInterval)
		return nil
	})

	if obsErrs != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case err := <-obsErrs:
				if err != nil {
					return fmt.Errorf("observability server: %w", err)
				}
				return nil
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		// Event streams never end on their own
		hub.Close()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if obsServer != nil {
			if err := obsServer.Stop(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	logger.Info("logingate ready",
		slog.String("server_id", app.Gate.ServerID()),
		slog.String("http_addr", cfg.HTTP.Addr),
		slog.String("store", cfg.Store.Type))

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
