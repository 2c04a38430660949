package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const (
	validStatus = "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=23500\n"
	crcBad      = "72 01 4b 46 7f ff 0e 10 57 : crc=57 NO\n72 01 4b 46 7f ff 0e 10 57 t=23500\n"
)

// writeDevice creates <root>/<id>/w1_slave with the given content.
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

func removeDevice(t *testing.T, root, id string) {
	t.Helper()
	if err := os.RemoveAll(filepath.Join(root, id)); err != nil {
		t.Fatalf("Failed to remove device: %v", err)
	}
}

func testConfig(root string) Config {
	cfg := DefaultConfig()
	cfg.DevicesPath = root
	return cfg
}

// MockBus implements deviceBus for testing
type MockBus struct {
	devices   []string
	values    map[string]float64
	failOn    map[string]error
	enumErr   error
	readOrder []string
}

func (m *MockBus) Root() string {
	return "/mock/w1"
}

func (m *MockBus) Enumerate() ([]string, error) {
	if m.enumErr != nil {
		return nil, m.enumErr
	}
	return append([]string(nil), m.devices...), nil
}

func (m *MockBus) ReadTemperature(id string) (float64, error) {
	m.readOrder = append(m.readOrder, id)
	if err, ok := m.failOn[id]; ok {
		return 0, err
	}
	v, ok := m.values[id]
	if !ok {
		return 0, errors.New("no such device")
	}
	return v, nil
}
