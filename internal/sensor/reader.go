package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/w1-monitor/internal/models"
)

// Poller performs one acquisition cycle. *plugin.Handle satisfies it.
type Poller interface {
	Poll() (*models.PollResult, error)
}

// Reader orchestrates periodic polls of the plugin
type Reader struct {
	mu       sync.RWMutex
	poller   Poller
	interval time.Duration
	logger   zerolog.Logger
	results  chan *models.PollResult
	reset    chan time.Duration
}

// NewReader creates a new reader polling every interval
func NewReader(poller Poller, interval time.Duration, logger zerolog.Logger) *Reader {
	return &Reader{
		poller:   poller,
		interval: interval,
		logger:   logger,
		results:  make(chan *models.PollResult, 10),
		reset:    make(chan time.Duration, 1),
	}
}

// Start begins periodic polling.
// Runs until context is cancelled. A failed poll is logged and the loop
// waits for the next tick.
func (r *Reader) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-r.reset:
			ticker.Reset(d)
			r.logger.Info().Dur("interval", d).Msg("poll interval changed")
		case <-ticker.C:
			r.pollAndPublish(ctx)
		}
	}
}

// ReadOnce performs a single poll
func (r *Reader) ReadOnce() (*models.PollResult, error) {
	return r.poller.Poll()
}

func (r *Reader) pollAndPublish(ctx context.Context) {
	result, err := r.ReadOnce()
	if err != nil {
		r.logger.Error().Err(err).Msg("poll failed")
		return
	}

	select {
	case r.results <- result:
		r.logger.Debug().Msgf("polled: %s", result.String())
	case <-ctx.Done():
	}
}

// Results returns the channel where poll results are published
func (r *Reader) Results() <-chan *models.PollResult {
	return r.results
}

// Interval returns the current poll interval
func (r *Reader) Interval() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.interval
}

// SetInterval changes the tick of a running reader. Non-positive values are ignored.
func (r *Reader) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}

	r.mu.Lock()
	if d == r.interval {
		r.mu.Unlock()
		return
	}
	r.interval = d
	r.mu.Unlock()

	// keep only the latest pending change
	select {
	case <-r.reset:
	default:
	}
	select {
	case r.reset <- d:
	default:
	}
}

