package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/w1-monitor/internal/client"
	"github.com/afroash/w1-monitor/internal/config"
	"github.com/afroash/w1-monitor/internal/models"
	"github.com/afroash/w1-monitor/internal/sensor"
)

const status21 = "50 05 4b 46 7f ff 0c 10 1c : crc=1c YES\n50 05 4b 46 7f ff 0c 10 1c t=21312\n"

func writeDevice(t *testing.T, root, id, content string) {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create device dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "w1_slave"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write status file: %v", err)
	}
}

func testAgentConfig(root string) *config.Config {
	cfg := &config.Config{
		Sensor: config.SensorConfig{
			ID:           "agent-test",
			DevicesPath:  root,
			PollInterval: 20 * time.Millisecond,
		},
		Server: config.ServerConfig{URL: "ws://localhost:1/sensor-stream", AuthToken: "t"},
	}
	cfg.ApplyDefaults()
	return cfg
}

type recordingSpool struct {
	mu   sync.Mutex
	keys []string
}

func (s *recordingSpool) WritePollResult(result *models.PollResult) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, result.Key)
	return len(result.Readings), nil
}

func (s *recordingSpool) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func TestRun_TestModeCollectsResults(t *testing.T) {
	root := t.TempDir()
	writeDevice(t, root, "28-000005e2fdc3", status21)
	writeDevice(t, root, "28-000005e2fdc4", status21)

	cfg := testAgentConfig(root)
	doc, err := cfg.PluginDocument()
	if err != nil {
		t.Fatal(err)
	}
	source, err := newPluginSource(doc, zerolog.Nop())
	if err != nil {
		t.Fatalf("newPluginSource: %v", err)
	}
	if source.DeviceCount() != 2 {
		t.Errorf("DeviceCount = %d, want 2", source.DeviceCount())
	}

	reader := sensor.NewReader(source, cfg.Sensor.PollInterval, zerolog.Nop())
	buffer := client.NewResultBuffer(cfg.Buffer.Size, cfg.Buffer.DropOldest)
	spool := &recordingSpool{}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := run(ctx, cfg, reader, buffer, nil, spool, zerolog.Nop(), true); err != context.DeadlineExceeded {
		t.Fatalf("run() error = %v, want deadline exceeded", err)
	}

	if buffer.Size() == 0 {
		t.Fatal("no poll results collected")
	}
	if spool.count() != buffer.Size() {
		t.Errorf("spooled %d results, buffered %d", spool.count(), buffer.Size())
	}

	first := buffer.PopBatch(1)[0]
	if first.Asset != models.AssetDS18B20 {
		t.Errorf("asset = %q", first.Asset)
	}
	if got := first.Readings["28-000005e2fdc3"]; got != 21.312 {
		t.Errorf("temperature = %v, want 21.312", got)
	}
}

func TestPluginSource_Reconfigure(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeDevice(t, rootA, "28-aaaa", status21)
	writeDevice(t, rootB, "28-bbbb", status21)
	writeDevice(t, rootB, "28-cccc", status21)

	cfg := testAgentConfig(rootA)
	doc, _ := cfg.PluginDocument()
	source, err := newPluginSource(doc, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	// interval only
	cfg.Sensor.PollInterval = 2 * time.Second
	doc, _ = cfg.PluginDocument()
	pcfg, restarted, err := source.Reconfigure(doc)
	if err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if restarted {
		t.Error("interval change should not restart")
	}
	if pcfg.Interval() != 2*time.Second {
		t.Errorf("interval = %v, want 2s", pcfg.Interval())
	}

	// new devices path
	cfg.Sensor.DevicesPath = rootB
	doc, _ = cfg.PluginDocument()
	_, restarted, err = source.Reconfigure(doc)
	if err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if !restarted {
		t.Error("devices path change should restart")
	}
	if source.DeviceCount() != 2 {
		t.Errorf("DeviceCount = %d after restart, want 2", source.DeviceCount())
	}

	// rejected documents keep the running handle
	if _, _, err := source.Reconfigure([]byte(`{"pollInterval": "soon"}`)); err == nil {
		t.Error("expected error for invalid document")
	}
	result, err := source.Poll()
	if err != nil {
		t.Fatalf("Poll after rejected reconfigure: %v", err)
	}
	if _, ok := result.Readings["28-bbbb"]; !ok {
		t.Errorf("unexpected readings %v", result.Readings)
	}
}

func TestReload(t *testing.T) {
	root := t.TempDir()
	writeDevice(t, root, "28-aaaa", status21)

	path := filepath.Join(t.TempDir(), "agent.yaml")
	write := func(interval string) {
		yaml := "sensor:\n  id: agent-test\n  devices_path: " + root + "\n  poll_interval: " + interval +
			"\nserver:\n  url: ws://localhost:1/sensor-stream\n  auth_token: t\n"
		if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("1s")

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	doc, _ := cfg.PluginDocument()
	source, err := newPluginSource(doc, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	reader := sensor.NewReader(source, cfg.Sensor.PollInterval, zerolog.Nop())

	write("250ms")
	if err := reload(path, source, reader, zerolog.Nop()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reader.Interval() != 250*time.Millisecond {
		t.Errorf("reader interval = %v, want 250ms", reader.Interval())
	}

	write("-5s")
	if err := reload(path, source, reader, zerolog.Nop()); err == nil {
		t.Error("expected reload of invalid config to fail")
	}
	if reader.Interval() != 250*time.Millisecond {
		t.Errorf("failed reload changed interval to %v", reader.Interval())
	}
}
