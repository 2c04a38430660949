package server

import (
	"time"

	"github.com/afroash/w1-monitor/internal/models"
	"github.com/afroash/w1-monitor/internal/storage"
)

// ReadingStore defines the interface for real-time reading storage
// MemoryStore implements this interface
type ReadingStore interface {
	// Add adds a reading to the store
	Add(reading *models.Reading)

	// GetLatest returns the n most recent readings for a sensor (newest first)
	GetLatest(sensorID string, n int) []*models.Reading

	// GetCurrentReading returns the most recent reading for a sensor
	GetCurrentReading(sensorID string) *models.Reading

	// GetSensorIDs returns the sorted ids of all sensors that have sent data
	GetSensorIDs() []string

	Stats() StoreStats
	GetAll() []*models.Reading
	Clear()
}

// HistoricalStore defines the interface for historical/persistent storage
// storage.SQLiteStore implements this interface
type HistoricalStore interface {
	GetReadingsInRange(sensorID string, start, end time.Time, limit int) ([]*models.Reading, error)
	GetReadingsBefore(sensorID string, before time.Time, limit int) ([]*models.Reading, error)
	GetReadingsAfter(sensorID string, after time.Time, limit int) ([]*models.Reading, error)
	GetLatestReading(sensorID string) (*models.Reading, error)
	GetSensorIDs() ([]string, error)
	GetDailyStats(sensorID string, start, end time.Time) ([]storage.DailyStat, error)
	GetStorageStats() (*storage.StorageStats, error)

	// GetPollResult rebuilds a stored poll result from its key, nil if unknown
	GetPollResult(key string) (*models.PollResult, error)
}

// ResultSink receives every poll result the handler accepts.
// storage.DBWriter queues them, storage.SQLiteStore writes them at once.
type ResultSink interface {
	WritePollResult(result *models.PollResult) (int, error)
}

var (
	_ ReadingStore    = (*MemoryStore)(nil)
	_ HistoricalStore = (*storage.SQLiteStore)(nil)
	_ ResultSink      = (*storage.DBWriter)(nil)
	_ ResultSink      = (*storage.SQLiteStore)(nil)
)
