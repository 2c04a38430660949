package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/w1-monitor/internal/models"
)

// timeFormat is how recorded_at is written. It is fixed width, so plain
// string comparison in SQL orders rows by time.
const timeFormat = "2006-01-02 15:04:05.000000"

// SQLiteStore keeps thermometer readings in a single SQLite file. One
// row per sensor per poll; poll_key ties the rows of a poll together.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// migrations are applied in order; PRAGMA user_version records how many
// have run. Append only.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS readings (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		sensor_id   TEXT NOT NULL,
		asset       TEXT NOT NULL,
		poll_key    TEXT NOT NULL,
		temperature REAL NOT NULL,
		recorded_at TEXT NOT NULL,
		created_at  TEXT DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_sensor_time ON readings(sensor_id, recorded_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(recorded_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_poll_key ON readings(poll_key)`,
}

// NewSQLiteStore opens (or creates) the database at dbPath and brings
// its schema up to date.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	// one writer at a time is all SQLite offers anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}

	s := &SQLiteStore{
		db:     db,
		path:   dbPath,
		logger: logger.With().Str("component", "sqlite").Logger(),
	}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info().Str("path", dbPath).Msg("SQLite store ready")
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate applies any migrations the database has not seen yet. Running
// it on an up to date database is a no-op.
func (s *SQLiteStore) Migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	return s.withTx(func(tx *sql.Tx) error {
		for i := version; i < len(migrations); i++ {
			if _, err := tx.Exec(migrations[i]); err != nil {
				return fmt.Errorf("migration %d: %w", i+1, err)
			}
		}
		// PRAGMA does not take bind parameters
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", len(migrations))); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		s.logger.Info().Int("from", version).Int("to", len(migrations)).Msg("Schema migrated")
		return nil
	})
}

// SchemaVersion reports how many migrations have been applied
func (s *SQLiteStore) SchemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow("PRAGMA user_version").Scan(&version)
	return version, err
}

// withTx runs fn inside a transaction, committing only when fn succeeds
func (s *SQLiteStore) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const insertReadingSQL = `INSERT INTO readings (sensor_id, asset, poll_key, temperature, recorded_at) VALUES (?, ?, ?, ?, ?)`

func readingArgs(r *models.Reading) []any {
	return []any{r.SensorID, r.Asset, r.PollKey, r.Temperature, formatTime(r.Timestamp)}
}

// InsertBatch writes readings in one transaction; either all land or
// none do.
func (s *SQLiteStore) InsertBatch(readings []*models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	err := s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(insertReadingSQL)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range readings {
			if _, err := stmt.Exec(readingArgs(r)...); err != nil {
				return fmt.Errorf("insert reading for %s: %w", r.SensorID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug().Int("count", len(readings)).Msg("Inserted batch")
	return nil
}

// WritePollResult stores every reading of one poll atomically and returns
// how many rows were written. The server uses it directly when readings
// are not batched.
func (s *SQLiteStore) WritePollResult(result *models.PollResult) (int, error) {
	readings, err := result.Flatten()
	if err != nil {
		return 0, fmt.Errorf("poll %s: %w", result.Key, err)
	}
	if err := s.InsertBatch(readings); err != nil {
		return 0, err
	}
	return len(readings), nil
}

// DeleteOlderThan removes readings recorded more than days ago
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	res, err := s.db.Exec("DELETE FROM readings WHERE recorded_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete readings before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	s.logger.Debug().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("Pruned readings")
	return deleted, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// timestampLayouts covers what we write plus what SQLite itself produces
// for CURRENT_TIMESTAMP and date functions.
var timestampLayouts = []string{
	timeFormat,
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func parseTimestamp(ts string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", ts)
}
