// internal/models/reading_test.go
package models

import (
	"strings"
	"testing"
	"time"
)

func TestReading_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		reading  Reading
		expected bool
	}{
		{
			name: "valid reading",
			reading: Reading{
				SensorID:    "28-000001",
				Temperature: 22.5,
				Timestamp:   time.Now(),
			},
			expected: true,
		},
		{
			name: "extreme values are not rejected",
			reading: Reading{
				SensorID:    "28-000001",
				Temperature: 125.0,
				Timestamp:   time.Now(),
			},
			expected: true,
		},
		{
			name: "missing sensor id",
			reading: Reading{
				Temperature: 22.5,
				Timestamp:   time.Now(),
			},
			expected: false,
		},
		{
			name: "zero timestamp",
			reading: Reading{
				SensorID:    "28-000001",
				Temperature: 22.5,
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.reading.IsValid()
			if result != tt.expected {
				t.Errorf("IsValid() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

func TestReading_Copy(t *testing.T) {
	var nilReading *Reading
	if nilReading.Copy() != nil {
		t.Error("Copy of nil should be nil")
	}

	original := &Reading{SensorID: "28-000001", Asset: AssetDS18B20, Timestamp: time.Now().UTC(), Temperature: 19.0}
	c := original.Copy()
	c.Temperature = 30.0
	if original.Temperature != 19.0 {
		t.Error("Copy shares state with original")
	}
}

func TestReading_String(t *testing.T) {
	r := &Reading{
		SensorID:    "28-000001",
		Temperature: 23.5,
		Timestamp:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	s := r.String()
	if !strings.Contains(s, "28-000001") || !strings.Contains(s, "23.500") {
		t.Errorf("String() = %q", s)
	}
}
