//go:build integration

package main

import (
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/w1-monitor/internal/client"
	"github.com/afroash/w1-monitor/internal/models"
	"github.com/afroash/w1-monitor/internal/sensor"
	"github.com/afroash/w1-monitor/internal/server"
)

// TestFullSystem runs an agent against a fake device tree and an
// in-process server, and checks readings arrive on the server side.
// Run with: go test -tags=integration -v ./cmd/w1-agent/
func TestFullSystem(t *testing.T) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	root := t.TempDir()
	writeDevice(t, root, "28-000005e2fdc3", status21)
	writeDevice(t, root, "28-000005e2fdc4", status21)

	store := server.NewMemoryStore(100)
	handler := server.NewHandler("integration-token", store, logger)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	cfg := testAgentConfig(root)
	cfg.Server.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Server.AuthToken = "integration-token"

	doc, err := cfg.PluginDocument()
	if err != nil {
		t.Fatal(err)
	}
	source, err := newPluginSource(doc, logger)
	if err != nil {
		t.Fatalf("Failed to init plugin: %v", err)
	}
	defer source.Shutdown()

	reader := sensor.NewReader(source, 50*time.Millisecond, logger)
	buffer := client.NewResultBuffer(cfg.Buffer.Size, cfg.Buffer.DropOldest)
	conn := client.NewConnection(client.ConnectionConfig{
		URL:                  cfg.Server.URL,
		AuthToken:            cfg.Server.AuthToken,
		ReconnectInterval:    100 * time.Millisecond,
		MaxReconnectInterval: time.Second,
		PingInterval:         200 * time.Millisecond,
		PongTimeout:          time.Second,
	}, models.NewAgentInfo(cfg.Sensor.ID, "lab", version), logger)
	conn.SetStatusFunc(func() (int, int) { return buffer.Size(), source.DeviceCount() })
	conn.OnConfig(func(m models.ConfigMessage) {
		reader.SetInterval(time.Duration(m.PollIntervalMs) * time.Millisecond)
	})
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, reader, buffer, conn, nil, logger, false) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(handler.GetActiveAgents()) == 0 || handler.GetActiveAgents()[0].AgentID != cfg.Sensor.ID {
		if time.Now().After(deadline) {
			t.Fatal("agent never registered")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := handler.PushConfig(cfg.Sensor.ID, 75); err != nil {
		t.Fatalf("PushConfig: %v", err)
	}

	for store.GetCurrentReading("28-000005e2fdc4") == nil {
		if time.Now().After(deadline) {
			t.Fatal("no readings reached the server")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	<-done

	if reader.Interval() != 75*time.Millisecond {
		t.Errorf("pushed interval not applied: %v", reader.Interval())
	}
	t.Logf("System test passed: %d readings on server, %d unsent", store.Stats().TotalReadings, buffer.Size())
}
