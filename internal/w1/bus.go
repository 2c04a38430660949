package w1

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

const (
	// DefaultDevicesPath is where the w1 bus master exposes its slaves.
	DefaultDevicesPath = "/sys/bus/w1/devices"

	// FamilyPattern matches DS18B20 slaves (family code 0x28).
	FamilyPattern = "28*"

	statusFileName = "w1_slave"
)

// Bus is a read-only view over one device tree root.
type Bus struct {
	root string
}

func NewBus(root string) *Bus {
	if root == "" {
		root = DefaultDevicesPath
	}
	return &Bus{root: root}
}

func (b *Bus) Root() string {
	return b.root
}

// StatusPath returns the w1_slave pseudo-file of a device.
func (b *Bus) StatusPath(id string) string {
	return filepath.Join(b.root, id, statusFileName)
}

// Enumerate lists the identifiers currently present under the root.
// No devices (or no root at all) yields an empty set, not an error.
// The root is read literally, so brackets or stars in it are not
// treated as a pattern.
func (b *Bus) Enumerate() ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, errors.Wrapf(err, "failed to list %s", b.root)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if ok, _ := filepath.Match(FamilyPattern, e.Name()); ok {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// ReadTemperature does one read of the device status file and parses it.
func (b *Bus) ReadTemperature(id string) (float64, error) {
	filePath := b.StatusPath(id)

	content, err := os.ReadFile(filePath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed reading file for sensor id: %s", id)
	}

	value, err := ParseStatus(string(content))
	if err != nil {
		return 0, errors.Wrapf(err, "sensor %s (%s)", id, filePath)
	}

	return value, nil
}

// SameDevices reports whether two identifier sets hold the same members.
func SameDevices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		if seen[id] == 0 {
			return false
		}
		seen[id]--
	}
	return true
}

// DiffDevices returns the identifiers present only in next (added) and only
// in prev (removed).
func DiffDevices(prev, next []string) (added, removed []string) {
	old := make(map[string]struct{}, len(prev))
	for _, id := range prev {
		old[id] = struct{}{}
	}
	cur := make(map[string]struct{}, len(next))
	for _, id := range next {
		cur[id] = struct{}{}
		if _, ok := old[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range prev {
		if _, ok := cur[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}
