package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/w1-monitor/internal/client"
	"github.com/afroash/w1-monitor/internal/config"
	"github.com/afroash/w1-monitor/internal/logging"
	"github.com/afroash/w1-monitor/internal/models"
	"github.com/afroash/w1-monitor/internal/sensor"
	"github.com/afroash/w1-monitor/internal/storage"
)

const version = "v0.3.0"

const (
	sendInterval = 500 * time.Millisecond
	maxSendBatch = 100
)

// resultSink receives every poll result kept by the agent.
// storage.DBWriter implements this interface
type resultSink interface {
	WritePollResult(result *models.PollResult) (int, error)
}

func main() {
	configPath := flag.String("config", "configs/agent.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	out, closeOut, err := logOutput(cfg.Logging.FilePath)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer closeOut()

	logger, err := logging.New(cfg.Logging, out)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	logger = logger.With().Str("agent_id", cfg.Sensor.ID).Logger()

	logger.Info().
		Str("version", version).
		Str("config", cfg.String()).
		Msg("Starting w1 agent")

	doc, err := cfg.PluginDocument()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build plugin configuration")
	}
	source, err := newPluginSource(doc, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialise ds18b20 plugin")
	}
	defer source.Shutdown()

	reader := sensor.NewReader(source, cfg.Sensor.PollInterval, logger)
	buffer := client.NewResultBuffer(cfg.Buffer.Size, cfg.Buffer.DropOldest)

	agentInfo := models.NewAgentInfo(cfg.Sensor.ID, cfg.Sensor.Location, version)
	conn := client.NewConnection(client.ConnectionConfig{
		URL:                  cfg.Server.URL,
		AuthToken:            cfg.Server.AuthToken,
		ConnectTimeout:       cfg.Server.ConnectTimeout,
		ReconnectInterval:    cfg.Server.ReconnectInterval,
		MaxReconnectInterval: cfg.Server.MaxReconnectInterval,
		PingInterval:         cfg.Server.PingInterval,
		PongTimeout:          cfg.Server.PongTimeout,
	}, agentInfo, logger)
	conn.SetStatusFunc(func() (int, int) {
		return buffer.Size(), source.DeviceCount()
	})
	conn.OnConfig(func(m models.ConfigMessage) {
		interval := time.Duration(m.PollIntervalMs) * time.Millisecond
		logger.Info().Dur("poll_interval", interval).Msg("Poll interval pushed by server")
		reader.SetInterval(interval)
	})

	var spool resultSink
	if cfg.Spool.Enabled {
		store, writer, cleaner, err := openSpool(cfg.Spool, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open spool")
		}
		defer func() {
			cleaner.Stop()
			writer.Stop()
			store.Close()
			logger.Info().Msg("Spool closed")
		}()
		spool = writer
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go watchReload(ctx, *configPath, source, reader, logger)

	if err := run(ctx, cfg, reader, buffer, conn, spool, logger, false); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("Agent stopped with error")
	}

	conn.Close()
	logger.Info().Int("unsent", buffer.Size()).Msg("Agent stopped")
}

// run drives the poll loop until ctx ends. In test mode nothing is sent,
// results only accumulate in the buffer.
func run(ctx context.Context, cfg *config.Config, reader *sensor.Reader, buffer *client.ResultBuffer, conn *client.Connection, spool resultSink, logger zerolog.Logger, testMode bool) error {
	go func() {
		if err := reader.Start(ctx); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
			logger.Error().Err(err).Msg("Reader stopped")
		}
	}()

	if conn != nil && !testMode {
		go func() {
			if err := conn.Run(ctx); err != nil && err != context.Canceled {
				logger.Warn().Err(err).Msg("Connection loop ended")
			}
		}()
		go sendLoop(ctx, conn, buffer, logger)
	}

	logger.Info().
		Dur("poll_interval", reader.Interval()).
		Str("devices_path", cfg.Sensor.DevicesPath).
		Bool("test_mode", testMode).
		Msg("Agent running")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case result := <-reader.Results():
			if !buffer.Push(result) {
				logger.Warn().Str("key", result.Key).Msg("Buffer full, poll result dropped")
			}
			if spool != nil {
				if _, err := spool.WritePollResult(result); err != nil {
					logger.Error().Err(err).Str("key", result.Key).Msg("Failed to spool poll result")
				}
			}
		}
	}
}

// sendLoop drains the buffer whenever the connection is up. A failed send
// puts the batch back at the front so ordering survives reconnects.
func sendLoop(ctx context.Context, conn *client.Connection, buffer *client.ResultBuffer, logger zerolog.Logger) {
	ticker := time.NewTicker(sendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !conn.IsConnected() || buffer.IsEmpty() {
				continue
			}
			batch := buffer.PopBatch(maxSendBatch)
			var err error
			if len(batch) == 1 {
				err = conn.Send(batch[0])
			} else {
				err = conn.SendBatch(batch)
			}
			if err != nil {
				buffer.Requeue(batch)
				logger.Warn().Err(err).Int("count", len(batch)).Msg("Send failed, results requeued")
				continue
			}
			logger.Debug().Int("count", len(batch)).Msg("Results sent")
		}
	}
}

// watchReload re-reads the config file on SIGHUP and applies it to the
// running plugin.
func watchReload(ctx context.Context, path string, source *pluginSource, reader *sensor.Reader, logger zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reload(path, source, reader, logger); err != nil {
				logger.Error().Err(err).Msg("Reload failed, keeping current configuration")
			}
		}
	}
}

func reload(path string, source *pluginSource, reader *sensor.Reader, logger zerolog.Logger) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	doc, err := cfg.PluginDocument()
	if err != nil {
		return err
	}
	pcfg, restarted, err := source.Reconfigure(doc)
	if err != nil {
		return err
	}
	reader.SetInterval(pcfg.Interval())
	logger.Info().
		Bool("restarted", restarted).
		Str("devices_path", pcfg.DevicesPath).
		Dur("poll_interval", pcfg.Interval()).
		Msg("Configuration reloaded")
	return nil
}

func openSpool(cfg config.SpoolConfig, logger zerolog.Logger) (*storage.SQLiteStore, *storage.DBWriter, *storage.RetentionCleaner, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	store, err := storage.NewSQLiteStore(cfg.Path, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	writer := storage.NewDBWriter(store, storage.DBWriterConfig{
		BatchSize:   cfg.BatchSize,
		FlushPeriod: cfg.FlushPeriod,
	}, logger)
	cleaner := storage.NewRetentionCleaner(store, storage.RetentionCleanerConfig{
		RetentionDays: cfg.RetentionDays,
		CleanupPeriod: time.Hour,
	}, logger)

	logger.Info().Str("path", cfg.Path).Int("retention_days", cfg.RetentionDays).Msg("Spool opened")
	return store, writer, cleaner, nil
}

// logOutput returns stdout, or the file at path opened for appending
func logOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
