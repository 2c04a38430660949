package models

import (
	"fmt"
	"sort"
	"time"
)

const (
	// AssetDS18B20 is the logical asset name every poll result carries.
	AssetDS18B20 = "ds18b20"

	// TimestampLayout renders the capture instant the way the telemetry
	// pipeline expects it: "2026-10-18 09:15:02.123456+00:00".
	TimestampLayout = "2006-01-02 15:04:05.000000-07:00"
)

// PollResult is the document produced by one poll cycle.
type PollResult struct {
	Asset     string             `json:"asset"`
	Timestamp string             `json:"timestamp"`
	Key       string             `json:"key"`
	Readings  map[string]float64 `json:"readings"`
}

// NewPollResult builds a result; the readings map is copied so the caller
// owns the returned value outright.
func NewPollResult(asset string, captured time.Time, key string, readings map[string]float64) *PollResult {
	values := make(map[string]float64, len(readings))
	for id, v := range readings {
		values[id] = v
	}
	return &PollResult{
		Asset:     asset,
		Timestamp: captured.UTC().Format(TimestampLayout),
		Key:       key,
		Readings:  values,
	}
}

// Time parses Timestamp back into a time.Time.
func (p *PollResult) Time() (time.Time, error) {
	t, err := time.Parse(TimestampLayout, p.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid poll timestamp %q: %w", p.Timestamp, err)
	}
	return t.UTC(), nil
}

// SensorIDs returns the reading keys in sorted order
func (p *PollResult) SensorIDs() []string {
	ids := make([]string, 0, len(p.Readings))
	for id := range p.Readings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Flatten splits the result into one Reading per sensor, sorted by sensor id.
func (p *PollResult) Flatten() ([]*Reading, error) {
	ts, err := p.Time()
	if err != nil {
		return nil, err
	}
	readings := make([]*Reading, 0, len(p.Readings))
	for _, id := range p.SensorIDs() {
		readings = append(readings, &Reading{
			SensorID:    id,
			Asset:       p.Asset,
			PollKey:     p.Key,
			Timestamp:   ts,
			Temperature: p.Readings[id],
		})
	}
	return readings, nil
}

// Copy returns a deep copy of the PollResult
func (p *PollResult) Copy() *PollResult {
	if p == nil {
		return nil
	}
	c := *p
	c.Readings = make(map[string]float64, len(p.Readings))
	for id, v := range p.Readings {
		c.Readings[id] = v
	}
	return &c
}

func (p *PollResult) String() string {
	return fmt.Sprintf("PollResult{asset=%s, key=%s, timestamp=%s, sensors=%d}",
		p.Asset, p.Key, p.Timestamp, len(p.Readings))
}
