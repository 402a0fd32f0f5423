package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhcomm/pypeman/admin"
	"github.com/mhcomm/pypeman/channel"
	"github.com/mhcomm/pypeman/config"
	"github.com/mhcomm/pypeman/endpoint"
	"github.com/mhcomm/pypeman/message"
	"github.com/mhcomm/pypeman/msgstore"
	"github.com/mhcomm/pypeman/node"
	"github.com/mhcomm/pypeman/persist"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("cannot create data directory")
	}

	// Node data persistence: redis when configured, sqlite otherwise
	var backend persist.Backend
	if cfg.RedisURL != "" {
		r, err := persist.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer r.Close()
		backend = r
		logger.Info().Msg("node data on Redis")
	} else {
		s, err := persist.NewSQLite(ctx, cfg.PersistPath())
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer s.Close()
		backend = s
	}

	// Message store: postgres when configured, sqlite otherwise
	var factory msgstore.Factory
	if cfg.DatabaseURL != "" {
		pg := msgstore.NewPostgresFactory(cfg.DatabaseURL)
		defer pg.Close()
		factory = pg
		logger.Info().Msg("message store on PostgreSQL")
	} else {
		sq := msgstore.NewSQLiteFactory(cfg.StorePath())
		defer sq.Close()
		factory = sq
	}

	reg := channel.NewRegistry(
		channel.WithRegistryLogger(logger),
		channel.WithNodePersistence(backend),
	)

	// Demo pipeline: uppercases the request body, forks an audit log
	demo := reg.New("demo",
		channel.WithStoreFactory(factory),
		channel.WithWaitSubchans(cfg.WaitSubchans),
	)
	demo.Fork("audit").Append(node.NewLog("audit_log", logger))
	demo.Append(
		node.Func("upper", func(ctx context.Context, msg *message.Message) (*message.Message, error) {
			if b, ok := msg.Payload.([]byte); ok {
				msg.Payload = []byte(strings.ToUpper(string(b)))
			}
			return msg, nil
		}),
	)
	demo.Join(node.NewLog("done", logger))

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal().Err(err).Msg("channel startup failed")
	}

	// Ingestion endpoint
	ingest := endpoint.NewHTTPServer("ingest", ":"+cfg.HTTPPort, logger)
	ingest.Mount("/demo", demo)
	if err := ingest.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ingestion endpoint failed")
	}

	// Admin server
	srv := &http.Server{
		Addr:         ":" + cfg.AdminPort,
		Handler:      admin.NewRouter(logger, reg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.AdminPort).
			Str("env", cfg.Env).
			Msg("starting admin server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("admin server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("admin server shutdown failed")
	}
	if err := ingest.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("ingestion endpoint shutdown failed")
	}
	if err := reg.StopAll(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("channel shutdown failed")
	}

	logger.Info().Msg("stopped")
}
