package server

import (
	"testing"
	"time"

	"github.com/afroash/w1-monitor/internal/models"
)

func newTestReading(sensorID string, temp float64, ts time.Time) *models.Reading {
	return &models.Reading{
		SensorID:    sensorID,
		Asset:       models.AssetDS18B20,
		Timestamp:   ts,
		Temperature: temp,
	}
}

func TestMemoryStore_GetLatestNewestFirst(t *testing.T) {
	store := NewMemoryStore(10)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		store.Add(newTestReading("28-a", float64(i), base.Add(time.Duration(i)*time.Second)))
	}

	latest := store.GetLatest("28-a", 3)
	if len(latest) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(latest))
	}
	for i, want := range []float64{4, 3, 2} {
		if latest[i].Temperature != want {
			t.Errorf("latest[%d] = %v, want %v", i, latest[i].Temperature, want)
		}
	}

	if got := store.GetLatest("28-a", 100); len(got) != 5 {
		t.Errorf("expected all 5 readings, got %d", len(got))
	}
	if got := store.GetLatest("28-missing", 3); got != nil {
		t.Errorf("expected nil for unknown sensor, got %v", got)
	}
}

func TestMemoryStore_EvictsOldest(t *testing.T) {
	store := NewMemoryStore(3)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		store.Add(newTestReading("28-a", float64(i), base.Add(time.Duration(i)*time.Second)))
	}

	all := store.GetLatest("28-a", 10)
	if len(all) != 3 {
		t.Fatalf("expected capacity of 3, got %d", len(all))
	}
	if all[2].Temperature != 2 {
		t.Errorf("oldest kept = %v, want 2", all[2].Temperature)
	}

	stats := store.Stats()
	if stats.TotalReadings != 5 {
		t.Errorf("TotalReadings = %d, want 5", stats.TotalReadings)
	}
	if stats.CurrentReadings != 3 {
		t.Errorf("CurrentReadings = %d, want 3", stats.CurrentReadings)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore(10)
	r := newTestReading("28-a", 21.5, time.Now().UTC())
	store.Add(r)
	r.Temperature = 99

	current := store.GetCurrentReading("28-a")
	if current.Temperature != 21.5 {
		t.Errorf("store shares memory with caller: got %v", current.Temperature)
	}
	current.Temperature = 50
	if store.GetCurrentReading("28-a").Temperature != 21.5 {
		t.Error("mutating a returned reading changed the store")
	}
}

func TestMemoryStore_SensorIDsSorted(t *testing.T) {
	store := NewMemoryStore(10)
	now := time.Now().UTC()
	for _, id := range []string{"28-c", "28-a", "28-b"} {
		store.Add(newTestReading(id, 20, now))
	}

	ids := store.GetSensorIDs()
	want := []string{"28-a", "28-b", "28-c"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
	if all := store.GetAll(); len(all) != 3 || all[0].SensorID != "28-a" {
		t.Errorf("GetAll not grouped by sorted id: %v", all)
	}
}

func TestMemoryStore_StatsTimeBounds(t *testing.T) {
	store := NewMemoryStore(10)
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	store.Add(newTestReading("28-a", 20, base.Add(time.Minute)))
	store.Add(newTestReading("28-b", 20, base))
	store.Add(newTestReading("28-b", 20, base.Add(2*time.Minute)))

	stats := store.Stats()
	if !stats.OldestReading.Equal(base) {
		t.Errorf("OldestReading = %v, want %v", stats.OldestReading, base)
	}
	if !stats.NewestReading.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("NewestReading = %v", stats.NewestReading)
	}
	if stats.UniqueSensors != 2 {
		t.Errorf("UniqueSensors = %d, want 2", stats.UniqueSensors)
	}
}

func TestMemoryStore_AddPollResult(t *testing.T) {
	store := NewMemoryStore(10)
	result := models.NewPollResult(models.AssetDS18B20, time.Now(), "key-1",
		map[string]float64{"28-a": 21.5, "28-b": 19.25})

	n, err := store.AddPollResult(result)
	if err != nil {
		t.Fatalf("AddPollResult: %v", err)
	}
	if n != 2 {
		t.Errorf("added %d readings, want 2", n)
	}
	if r := store.GetCurrentReading("28-b"); r == nil || r.PollKey != "key-1" {
		t.Errorf("unexpected reading %v", r)
	}

	bad := &models.PollResult{Asset: models.AssetDS18B20, Timestamp: "yesterday", Readings: map[string]float64{"28-a": 1}}
	if _, err := store.AddPollResult(bad); err == nil {
		t.Error("expected error for unparsable timestamp")
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	store := NewMemoryStore(10)
	store.Add(newTestReading("28-a", 20, time.Now().UTC()))
	store.Clear()

	if ids := store.GetSensorIDs(); len(ids) != 0 {
		t.Errorf("expected empty store, got %v", ids)
	}
	if stats := store.Stats(); stats.TotalReadings != 0 {
		t.Errorf("TotalReadings = %d after Clear", stats.TotalReadings)
	}
}

func TestMemoryStore_WrapAroundOrder(t *testing.T) {
	store := NewMemoryStore(4)
	base := time.Now().UTC()
	for i := 0; i < 11; i++ {
		store.Add(newTestReading("28-a", float64(i), base.Add(time.Duration(i)*time.Second)))
	}

	all := store.GetAll()
	for i, want := range []float64{7, 8, 9, 10} {
		if all[i].Temperature != want {
			t.Errorf("GetAll()[%d] = %v, want %v", i, all[i].Temperature, want)
		}
	}
	if got := store.GetCurrentReading("28-a").Temperature; got != 10 {
		t.Errorf("current = %v, want 10", got)
	}
	if oldest := store.Stats().OldestReading; !oldest.Equal(base.Add(7 * time.Second)) {
		t.Errorf("OldestReading = %v", oldest)
	}
}

func TestNewMemoryStore_MinimumCapacity(t *testing.T) {
	store := NewMemoryStore(0)
	store.Add(newTestReading("28-a", 1, time.Now()))
	store.Add(newTestReading("28-a", 2, time.Now()))

	if got := store.GetLatest("28-a", 5); len(got) != 1 || got[0].Temperature != 2 {
		t.Errorf("GetLatest = %v, want only the newest reading", got)
	}
}
