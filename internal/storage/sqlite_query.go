package storage

import (
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/afroash/w1-monitor/internal/models"
)

// DailyStat represents aggregated statistics for a single sensor and day
type DailyStat struct {
	Date           time.Time `json:"date"`
	SensorID       string    `json:"sensor_id"`
	MinTemperature float64   `json:"min_temperature"`
	MaxTemperature float64   `json:"max_temperature"`
	AvgTemperature float64   `json:"avg_temperature"`
	ReadingCount   int       `json:"reading_count"`
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalReadings  int64     `json:"total_readings"`
	TotalPolls     int64     `json:"total_polls"`
	OldestReading  time.Time `json:"oldest_reading,omitempty"`
	NewestReading  time.Time `json:"newest_reading,omitempty"`
	UniqueSensors  int       `json:"unique_sensors"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

const readingColumns = "sensor_id, asset, poll_key, temperature, recorded_at"

// readingQuery builds a SELECT over readings. An empty sensor id matches
// every sensor.
type readingQuery struct {
	sensorID string
	conds    []string
	args     []any
	order    string
	limit    int
}

func (q readingQuery) build() (string, []any) {
	conds := q.conds
	args := q.args
	if q.sensorID != "" {
		conds = append([]string{"sensor_id = ?"}, conds...)
		args = append([]any{q.sensorID}, args...)
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + readingColumns + " FROM readings")
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY " + q.order)
	if q.limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.limit)
	}
	return sb.String(), args
}

func (s *SQLiteStore) selectReadings(q readingQuery) ([]*models.Reading, error) {
	query, args := q.build()
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var readings []*models.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// GetPollResult reassembles the poll identified by key. Returns nil when
// no reading carries that key.
func (s *SQLiteStore) GetPollResult(key string) (*models.PollResult, error) {
	readings, err := s.selectReadings(readingQuery{
		conds: []string{"poll_key = ?"},
		args:  []any{key},
		order: "sensor_id",
	})
	if err != nil || len(readings) == 0 {
		return nil, err
	}

	values := make(map[string]float64, len(readings))
	for _, r := range readings {
		values[r.SensorID] = r.Temperature
	}
	return models.NewPollResult(readings[0].Asset, readings[0].Timestamp, key, values), nil
}

// GetReadingsInRange returns readings with start <= time <= end, newest first
func (s *SQLiteStore) GetReadingsInRange(sensorID string, start, end time.Time, limit int) ([]*models.Reading, error) {
	return s.selectReadings(readingQuery{
		sensorID: sensorID,
		conds:    []string{"recorded_at BETWEEN ? AND ?"},
		args:     []any{formatTime(start), formatTime(end)},
		order:    "recorded_at DESC, sensor_id",
		limit:    limit,
	})
}

// GetReadingsBefore pages backwards from before, newest first
func (s *SQLiteStore) GetReadingsBefore(sensorID string, before time.Time, limit int) ([]*models.Reading, error) {
	return s.selectReadings(readingQuery{
		sensorID: sensorID,
		conds:    []string{"recorded_at < ?"},
		args:     []any{formatTime(before)},
		order:    "recorded_at DESC, sensor_id",
		limit:    limit,
	})
}

// GetReadingsAfter returns the limit readings closest after the given
// time, still ordered newest first.
func (s *SQLiteStore) GetReadingsAfter(sensorID string, after time.Time, limit int) ([]*models.Reading, error) {
	readings, err := s.selectReadings(readingQuery{
		sensorID: sensorID,
		conds:    []string{"recorded_at > ?"},
		args:     []any{formatTime(after)},
		order:    "recorded_at ASC, sensor_id",
		limit:    limit,
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(readings)
	return readings, nil
}

// GetLatestReading returns the most recent reading for a sensor, or nil
func (s *SQLiteStore) GetLatestReading(sensorID string) (*models.Reading, error) {
	readings, err := s.selectReadings(readingQuery{
		sensorID: sensorID,
		order:    "recorded_at DESC",
		limit:    1,
	})
	if err != nil || len(readings) == 0 {
		return nil, err
	}
	return readings[0], nil
}

// GetDailyStats aggregates min, max and mean temperature per sensor per
// UTC day, most recent day first.
func (s *SQLiteStore) GetDailyStats(sensorID string, start, end time.Time) ([]DailyStat, error) {
	query := `SELECT date(recorded_at), sensor_id, MIN(temperature), MAX(temperature), AVG(temperature), COUNT(*)
		FROM readings WHERE recorded_at BETWEEN ? AND ?`
	args := []any{formatTime(start), formatTime(end)}
	if sensorID != "" {
		query += " AND sensor_id = ?"
		args = append(args, sensorID)
	}
	query += " GROUP BY date(recorded_at), sensor_id ORDER BY date(recorded_at) DESC, sensor_id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var (
			day  string
			stat DailyStat
		)
		if err := rows.Scan(&day, &stat.SensorID, &stat.MinTemperature, &stat.MaxTemperature, &stat.AvgTemperature, &stat.ReadingCount); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		if stat.Date, err = time.Parse(time.DateOnly, day); err != nil {
			return nil, fmt.Errorf("daily stat date %q: %w", day, err)
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// GetStorageStats summarises row counts, the recorded time span and the
// file size.
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	var (
		stats          StorageStats
		oldest, newest sql.NullString
	)
	err := s.db.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT poll_key), COUNT(DISTINCT sensor_id), MIN(recorded_at), MAX(recorded_at) FROM readings`).
		Scan(&stats.TotalReadings, &stats.TotalPolls, &stats.UniqueSensors, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("storage stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestReading, _ = parseTimestamp(oldest.String)
	}
	if newest.Valid {
		stats.NewestReading, _ = parseTimestamp(newest.String)
	}

	var pages, pageSize int64
	if err := s.db.QueryRow("SELECT page_count, page_size FROM pragma_page_count(), pragma_page_size()").Scan(&pages, &pageSize); err == nil {
		stats.DatabaseSizeMB = float64(pages*pageSize) / (1 << 20)
	}
	return &stats, nil
}

// GetSensorIDs returns every sensor id with stored readings, sorted
func (s *SQLiteStore) GetSensorIDs() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT sensor_id FROM readings ORDER BY sensor_id")
	if err != nil {
		return nil, fmt.Errorf("query sensor ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanReading(row interface{ Scan(...any) error }) (*models.Reading, error) {
	var (
		r          models.Reading
		recordedAt string
	)
	if err := row.Scan(&r.SensorID, &r.Asset, &r.PollKey, &r.Temperature, &recordedAt); err != nil {
		return nil, fmt.Errorf("scan reading: %w", err)
	}
	ts, err := parseTimestamp(recordedAt)
	if err != nil {
		return nil, err
	}
	r.Timestamp = ts
	return &r, nil
}
