package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pruner deletes history older than a number of days
type Pruner interface {
	DeleteOlderThan(days int) (int64, error)
}

// RetentionCleanerConfig holds configuration for the cleaner
type RetentionCleanerConfig struct {
	RetentionDays int
	CleanupPeriod time.Duration
}

// DefaultRetentionCleanerConfig keeps thirty days and sweeps hourly
func DefaultRetentionCleanerConfig() RetentionCleanerConfig {
	return RetentionCleanerConfig{
		RetentionDays: 30,
		CleanupPeriod: time.Hour,
	}
}

// RetentionCleanerStats contains statistics about the cleaner
type RetentionCleanerStats struct {
	RetentionDays   int       `json:"retention_days"`
	TotalSweeps     int64     `json:"total_sweeps"`
	FailedSweeps    int64     `json:"failed_sweeps"`
	TotalDeleted    int64     `json:"total_deleted"`
	LastDeleteCount int64     `json:"last_delete_count"`
	LastSweep       time.Time `json:"last_sweep,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
}

// RetentionCleaner sweeps rows past the retention window: once when
// created, then every CleanupPeriod until Stop.
type RetentionCleaner struct {
	pruner Pruner
	period time.Duration
	logger zerolog.Logger

	quit     chan struct{}
	finished chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	stats RetentionCleanerStats
}

// NewRetentionCleaner creates and starts a cleaner. A non-positive
// CleanupPeriod falls back to the default.
func NewRetentionCleaner(pruner Pruner, config RetentionCleanerConfig, logger zerolog.Logger) *RetentionCleaner {
	period := config.CleanupPeriod
	if period <= 0 {
		period = DefaultRetentionCleanerConfig().CleanupPeriod
		logger.Warn().
			Dur("configured", config.CleanupPeriod).
			Dur("using", period).
			Msg("Cleanup period must be positive, using default")
	}

	c := &RetentionCleaner{
		pruner:   pruner,
		period:   period,
		logger:   logger.With().Str("component", "retention").Logger(),
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
		stats:    RetentionCleanerStats{RetentionDays: config.RetentionDays},
	}
	go c.loop()

	c.logger.Info().
		Int("retention_days", config.RetentionDays).
		Dur("cleanup_period", period).
		Msg("Retention cleaner started")
	return c
}

func (c *RetentionCleaner) loop() {
	defer close(c.finished)

	c.sweep()

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep runs one prune and folds the outcome into the stats
func (c *RetentionCleaner) sweep() (int64, error) {
	c.mu.Lock()
	days := c.stats.RetentionDays
	c.mu.Unlock()

	deleted, err := c.pruner.DeleteOlderThan(days)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalSweeps++
	c.stats.LastSweep = time.Now()
	if err != nil {
		c.stats.FailedSweeps++
		c.stats.LastError = err.Error()
		c.logger.Error().Err(err).Int("retention_days", days).Msg("Retention sweep failed")
		return 0, err
	}
	c.stats.LastError = ""
	c.stats.LastDeleteCount = deleted
	c.stats.TotalDeleted += deleted

	event := c.logger.Debug()
	if deleted > 0 {
		event = c.logger.Info()
	}
	event.Int64("deleted", deleted).Int("retention_days", days).Msg("Retention sweep done")
	return deleted, nil
}

// RunNow sweeps immediately on the caller's goroutine
func (c *RetentionCleaner) RunNow() (int64, error) {
	return c.sweep()
}

// Stop ends the periodic sweeps and waits for a running one to finish
func (c *RetentionCleaner) Stop() {
	c.stopOnce.Do(func() {
		close(c.quit)
		<-c.finished
		c.logger.Info().Msg("Retention cleaner stopped")
	})
}

func (c *RetentionCleaner) Stats() RetentionCleanerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
