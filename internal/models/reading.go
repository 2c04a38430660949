package models

import (
	"fmt"
	"time"
)

// Reading is one thermometer value taken out of a poll result, the unit the
// server stores and serves.
type Reading struct {
	SensorID    string    `json:"sensor_id"`
	Asset       string    `json:"asset"`
	PollKey     string    `json:"poll_key"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
}

// IsValid checks the reading is addressable. Values are not range checked,
// DS18B20 hardware is trusted to report what it measured.
func (r *Reading) IsValid() bool {
	return r.SensorID != "" && !r.Timestamp.IsZero()
}

func (r *Reading) String() string {
	return fmt.Sprintf("%s %.3f°C @ %s", r.SensorID, r.Temperature, r.Timestamp.Format(time.RFC3339Nano))
}

// Copy returns an independent copy; nil stays nil
func (r *Reading) Copy() *Reading {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
