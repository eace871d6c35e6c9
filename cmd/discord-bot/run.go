package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/foobles/discord-bot/internal/checkpoint"
	"github.com/foobles/discord-bot/internal/commands"
	"github.com/foobles/discord-bot/internal/config"
	"github.com/foobles/discord-bot/internal/gateway"
	"github.com/foobles/discord-bot/internal/httpapi"
	"github.com/foobles/discord-bot/internal/logging"
	"github.com/foobles/discord-bot/internal/protocol"
	"github.com/foobles/discord-bot/internal/rest"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the gateway and serve commands until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			logger, zl, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	client, err := newRESTClient(cfg, logger, reg)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	intents, err := cfg.IntentMask()
	if err != nil {
		return err
	}
	announce, err := cfg.AnnounceIDs()
	if err != nil {
		return err
	}
	admins, err := cfg.AdminIDs()
	if err != nil {
		return err
	}
	var audit *commands.AuditLog
	if cfg.AuditLog != "" {
		audit, err = commands.OpenAuditLog(cfg.AuditLog)
		if err != nil {
			return err
		}
		defer func() { _ = audit.Close() }()
	}
	var throttle *commands.Throttle
	if cfg.CommandsPerMinute > 0 {
		throttle = commands.NewThrottle(cfg.CommandsPerMinute, time.Minute)
	}
	handler := commands.New(commands.Config{
		Prefix:     cfg.CommandPrefix,
		Announce:   announce,
		Admins:     admins,
		Throttle:   throttle,
		Audit:      audit,
		Logger:     logger,
		Registerer: reg,
	})

	sess, err := gateway.NewSession(gateway.Config{
		Token:            cfg.Token,
		Intents:          intents,
		Version:          cfg.GatewayVersion,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Presence:         initialPresence(cfg.Status),
		Metrics:          gateway.NewMetrics(reg),
		Store:            store,
		Logger:           logger,
	}, client, handler)
	if err != nil {
		return err
	}

	if cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           (&httpapi.Server{Session: sess, Gatherer: reg, Token: cfg.HTTPToken}).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("bot starting", "version", version, "intents", uint32(intents), "checkpoint", cfg.CheckpointBackend)
	err = gateway.NewSupervisor(sess).Run(ctx)
	if err != nil {
		logger.Error("bot stopped with error", "err", err)
		return err
	}
	logger.Info("bot stopped")
	return nil
}

// initialPresence is nil for online, the gateway's default.
func initialPresence(status protocol.Status) *protocol.UpdatePresence {
	if status == "" || status == protocol.StatusOnline {
		return nil
	}
	return &protocol.UpdatePresence{Status: status, Activities: []any{}}
}

func newRESTClient(cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*rest.Client, error) {
	return rest.NewClient(rest.Config{
		BaseURL:    cfg.RESTBaseURL,
		Token:      cfg.Token,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
		Registerer: reg,
	})
}

func openStore(cfg config.Config) (checkpoint.Store, error) {
	switch cfg.CheckpointBackend {
	case config.CheckpointSQLite:
		s, err := checkpoint.NewSQLiteStore(cfg.CheckpointPath, cfg.CheckpointName)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.CheckpointFile:
		s, err := checkpoint.NewFileStore(cfg.CheckpointPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.CheckpointNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.CheckpointBackend)
	}
}
