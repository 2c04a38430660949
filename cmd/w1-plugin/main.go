// Command w1-plugin exposes the ds18b20 poll plugin to an external host.
// Requests arrive as JSON lines on stdin and responses leave on stdout;
// logs go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/afroash/w1-monitor/internal/config"
	"github.com/afroash/w1-monitor/internal/logging"
	"github.com/afroash/w1-monitor/internal/plugin"
)

func main() {
	level := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	format := flag.String("log-format", "json", "log format (json or text)")
	flag.Parse()

	logger, err := logging.New(config.LoggingConfig{Level: *level, Format: *format}, os.Stderr)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := plugin.Serve(ctx, os.Stdin, os.Stdout, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("Plugin host loop failed")
	}
}
