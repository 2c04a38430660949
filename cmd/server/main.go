package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/w1-monitor/internal/config"
	"github.com/afroash/w1-monitor/internal/logging"
	"github.com/afroash/w1-monitor/internal/server"
	"github.com/afroash/w1-monitor/internal/storage"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server stopped")
}

// serve wires storage, the agent stream and the REST API, then blocks
// until ctx is cancelled. Queued readings are flushed before it returns.
func serve(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) error {
	logger.Info().Str("version", version).Str("config", cfg.String()).Msg("Starting w1 monitor server")

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	history, err := storage.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := history.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close SQLite store")
		}
	}()

	sink, flush := newSink(cfg.Storage, history, logger)
	cleaner := storage.NewRetentionCleaner(history, storage.RetentionCleanerConfig{
		RetentionDays: cfg.Storage.RetentionDays,
		CleanupPeriod: cfg.Storage.CleanupPeriod,
	}, logger)
	defer cleaner.Stop()

	memory := server.NewMemoryStore(cfg.Storage.BufferSize)
	stream := server.NewHandler(cfg.Server.AuthToken, memory, logger, cfg.Server.AllowedOrigins...)
	stream.SetDBWriter(sink)

	api := server.NewAPIHandlerWithHistory(memory, history, logger)
	api.SetAgents(stream)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.NewRouter(api, stream, logger, version),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	listenErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Server listening")
		listenErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-listenErr:
		flush()
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	// agents are gone, so nothing else can be queued
	flush()
	return nil
}

// newSink picks where accepted poll results go. A batch size of one
// writes each result straight to SQLite; anything larger queues them on
// a DBWriter. flush drains whatever is still queued.
func newSink(cfg config.StorageSettings, history *storage.SQLiteStore, logger zerolog.Logger) (sink server.ResultSink, flush func()) {
	if cfg.BatchSize <= 1 {
		logger.Info().Msg("Writing poll results directly to SQLite")
		return history, func() {}
	}

	writer := storage.NewDBWriter(history, storage.DBWriterConfig{
		BatchSize:   cfg.BatchSize,
		FlushPeriod: cfg.FlushPeriod,
		ChannelSize: cfg.ChannelSize,
	}, logger)
	return writer, func() {
		writer.Stop()
		logger.Info().Interface("stats", writer.Stats()).Msg("Storage flushed")
	}
}
