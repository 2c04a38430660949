package server

import (
	"slices"
	"sync"
	"time"

	"github.com/afroash/w1-monitor/internal/models"
)

// StoreStats summarises what the memory store holds
type StoreStats struct {
	TotalReadings   int64     `json:"total_readings"`
	UniqueSensors   int       `json:"unique_sensors"`
	CurrentReadings int       `json:"current_readings"`
	OldestReading   time.Time `json:"oldest_reading,omitempty"`
	NewestReading   time.Time `json:"newest_reading,omitempty"`
}

// window is a fixed size ring of one sensor's readings
type window struct {
	items []*models.Reading
	head  int // index of the oldest item once full
}

func (w *window) push(r *models.Reading, capacity int) {
	if len(w.items) < capacity {
		w.items = append(w.items, r)
		return
	}
	w.items[w.head] = r
	w.head = (w.head + 1) % capacity
}

// at returns the i-th reading counting back from the newest
func (w *window) at(i int) *models.Reading {
	n := len(w.items)
	return w.items[(w.head+n-1-i)%n]
}

func (w *window) oldest() *models.Reading { return w.items[w.head] }

// MemoryStore keeps the last capacity readings of every thermometer.
// Readings are copied on the way in and on the way out.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	sensors  map[string]*window
	total    int64
}

// NewMemoryStore creates a store holding up to capacity readings per
// sensor. Capacities below one are raised to one.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		capacity: max(capacity, 1),
		sensors:  make(map[string]*window),
	}
}

// Add records a reading, evicting that sensor's oldest when full
func (ms *MemoryStore) Add(reading *models.Reading) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	w, ok := ms.sensors[reading.SensorID]
	if !ok {
		w = &window{}
		ms.sensors[reading.SensorID] = w
	}
	w.push(reading.Copy(), ms.capacity)
	ms.total++
}

// AddPollResult stores every valid reading of a poll result and returns
// how many were accepted.
func (ms *MemoryStore) AddPollResult(result *models.PollResult) (int, error) {
	readings, err := result.Flatten()
	if err != nil {
		return 0, err
	}
	added := 0
	for _, r := range readings {
		if r.IsValid() {
			ms.Add(r)
			added++
		}
	}
	return added, nil
}

// GetLatest returns up to n readings for a sensor, newest first
func (ms *MemoryStore) GetLatest(sensorID string, n int) []*models.Reading {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	w := ms.sensors[sensorID]
	if w == nil || n <= 0 {
		return nil
	}
	n = min(n, len(w.items))
	out := make([]*models.Reading, n)
	for i := range out {
		out[i] = w.at(i).Copy()
	}
	return out
}

// GetAll returns every held reading, grouped by sensor id and oldest
// first within a sensor.
func (ms *MemoryStore) GetAll() []*models.Reading {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*models.Reading
	for _, id := range ms.ids() {
		w := ms.sensors[id]
		for i := len(w.items) - 1; i >= 0; i-- {
			out = append(out, w.at(i).Copy())
		}
	}
	if out == nil {
		out = []*models.Reading{}
	}
	return out
}

// GetCurrentReading returns the newest reading for a sensor, or nil
func (ms *MemoryStore) GetCurrentReading(sensorID string) *models.Reading {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if w := ms.sensors[sensorID]; w != nil {
		return w.at(0).Copy()
	}
	return nil
}

func (ms *MemoryStore) GetSensorIDs() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.ids()
}

// ids needs the lock held
func (ms *MemoryStore) ids() []string {
	ids := make([]string, 0, len(ms.sensors))
	for id := range ms.sensors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (ms *MemoryStore) Stats() StoreStats {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	stats := StoreStats{TotalReadings: ms.total, UniqueSensors: len(ms.sensors)}
	for _, w := range ms.sensors {
		stats.CurrentReadings += len(w.items)
		if first := w.oldest().Timestamp; stats.OldestReading.IsZero() || first.Before(stats.OldestReading) {
			stats.OldestReading = first
		}
		if last := w.at(0).Timestamp; last.After(stats.NewestReading) {
			stats.NewestReading = last
		}
	}
	return stats
}

// Clear drops every reading and resets the running total
func (ms *MemoryStore) Clear() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	clear(ms.sensors)
	ms.total = 0
}
