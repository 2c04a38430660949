package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/w1-monitor/internal/models"
)

// ErrQueueFull is returned when a poll result is dropped because the
// writer is not keeping up.
var ErrQueueFull = errors.New("db writer queue full")

// BatchInserter is the part of the store the writer needs
type BatchInserter interface {
	InsertBatch(readings []*models.Reading) error
}

// DBWriterConfig holds configuration for the async writer.
// BatchSize counts readings, ChannelSize counts queued poll results.
type DBWriterConfig struct {
	BatchSize   int
	FlushPeriod time.Duration
	ChannelSize int
}

func DefaultDBWriterConfig() DBWriterConfig {
	return DBWriterConfig{
		BatchSize:   100,
		FlushPeriod: 5 * time.Second,
		ChannelSize: 1000,
	}
}

// DBWriterStats contains statistics about the writer
type DBWriterStats struct {
	Written     int64     `json:"written"`
	Flushes     int64     `json:"flushes"`
	Failed      int64     `json:"failed"`
	Dropped     int64     `json:"dropped"`
	LastFlush   time.Time `json:"last_flush,omitempty"`
	QueueLength int       `json:"queue_length"`
}

// DBWriter moves readings into the store off the caller's goroutine.
// Readings of one poll result are always queued and inserted together.
type DBWriter struct {
	inserter  BatchInserter
	logger    zerolog.Logger
	queue     chan []*models.Reading
	batchSize int
	interval  time.Duration

	quit     chan struct{}
	finished chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	stats DBWriterStats
}

// NewDBWriter creates and starts a writer. Zero config values take the
// defaults.
func NewDBWriter(inserter BatchInserter, config DBWriterConfig, logger zerolog.Logger) *DBWriter {
	defaults := DefaultDBWriterConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushPeriod <= 0 {
		config.FlushPeriod = defaults.FlushPeriod
	}
	if config.ChannelSize <= 0 {
		config.ChannelSize = defaults.ChannelSize
	}

	w := &DBWriter{
		inserter:  inserter,
		logger:    logger.With().Str("component", "dbwriter").Logger(),
		queue:     make(chan []*models.Reading, config.ChannelSize),
		batchSize: config.BatchSize,
		interval:  config.FlushPeriod,
		quit:      make(chan struct{}),
		finished:  make(chan struct{}),
	}
	go w.loop()

	w.logger.Info().
		Int("batch_size", config.BatchSize).
		Dur("flush_period", config.FlushPeriod).
		Int("channel_size", config.ChannelSize).
		Msg("DB writer started")
	return w
}

// WritePollResult queues every reading of result. It returns the number of
// readings queued, or ErrQueueFull when the whole result was dropped.
func (w *DBWriter) WritePollResult(result *models.PollResult) (int, error) {
	readings, err := result.Flatten()
	if err != nil {
		return 0, err
	}
	if len(readings) == 0 {
		return 0, nil
	}
	if !w.enqueue(readings) {
		w.logger.Warn().Str("key", result.Key).Int("readings", len(readings)).Msg("Queue full, poll result dropped")
		return 0, ErrQueueFull
	}
	return len(readings), nil
}

func (w *DBWriter) enqueue(readings []*models.Reading) bool {
	select {
	case w.queue <- readings:
		return true
	default:
		w.mu.Lock()
		w.stats.Dropped += int64(len(readings))
		w.mu.Unlock()
		return false
	}
}

func (w *DBWriter) loop() {
	defer close(w.finished)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var pending []*models.Reading
	for {
		select {
		case readings := <-w.queue:
			pending = append(pending, readings...)
			if len(pending) >= w.batchSize {
				pending = w.flush(pending)
			}
		case <-ticker.C:
			pending = w.flush(pending)
		case <-w.quit:
		drain:
			for {
				select {
				case readings := <-w.queue:
					pending = append(pending, readings...)
				default:
					break drain
				}
			}
			w.flush(pending)
			return
		}
	}
}

// flush inserts pending and returns an emptied slice for reuse
func (w *DBWriter) flush(pending []*models.Reading) []*models.Reading {
	if len(pending) == 0 {
		return pending
	}

	err := w.inserter.InsertBatch(pending)

	w.mu.Lock()
	if err != nil {
		w.stats.Failed += int64(len(pending))
		w.logger.Error().Err(err).Int("readings", len(pending)).Msg("Failed to write batch")
	} else {
		w.stats.Written += int64(len(pending))
		w.stats.Flushes++
		w.stats.LastFlush = time.Now()
		w.logger.Debug().Int("readings", len(pending)).Msg("Flushed batch")
	}
	w.mu.Unlock()

	return pending[:0]
}

// Stop drains the queue into the store and ends the writer. Results
// written after Stop stay queued and are never inserted.
func (w *DBWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
		<-w.finished
		w.logger.Info().Msg("DB writer stopped")
	})
}

func (w *DBWriter) Stats() DBWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	stats := w.stats
	stats.QueueLength = len(w.queue)
	return stats
}
