package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/afroash/w1-monitor/internal/models"
)

// ResultBuffer is a thread-safe bounded queue of poll results awaiting upload
type ResultBuffer struct {
	results    []*models.PollResult
	capacity   int
	dropOldest bool
	mutex      sync.RWMutex
	stats      BufferStats
}

// BufferStats tracks buffer usage statistics
type BufferStats struct {
	TotalPushed   int64
	TotalDropped  int64
	HighWaterMark int
	LastPushTime  time.Time
	LastDropTime  time.Time
}

// NewResultBuffer creates a new buffer with given capacity
func NewResultBuffer(capacity int, dropOldest bool) *ResultBuffer {
	return &ResultBuffer{
		results:    make([]*models.PollResult, 0, capacity),
		capacity:   capacity,
		dropOldest: dropOldest,
	}
}

// Push adds a result to the buffer
// Returns true if stored, false if dropped (when full and dropOldest=false)
func (rb *ResultBuffer) Push(result *models.PollResult) bool {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	if len(rb.results) >= rb.capacity {
		rb.stats.TotalDropped++
		rb.stats.LastDropTime = time.Now()
		if !rb.dropOldest {
			return false
		}
		rb.results = rb.results[1:]
	}
	rb.results = append(rb.results, result)
	rb.stats.TotalPushed++
	rb.stats.LastPushTime = time.Now()

	if len(rb.results) > rb.stats.HighWaterMark {
		rb.stats.HighWaterMark = len(rb.results)
	}
	return true
}

// PopBatch removes and returns up to n results, oldest first
func (rb *ResultBuffer) PopBatch(n int) []*models.PollResult {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	count := min(n, len(rb.results))
	if count <= 0 {
		return nil
	}
	batch := make([]*models.PollResult, count)
	copy(batch, rb.results[:count])
	rb.results = rb.results[count:]
	return batch
}

// Requeue puts results that failed to send back at the front, keeping
// their order. Results beyond capacity are dropped from the new end.
func (rb *ResultBuffer) Requeue(results []*models.PollResult) {
	if len(results) == 0 {
		return
	}

	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	merged := make([]*models.PollResult, 0, len(results)+len(rb.results))
	merged = append(merged, results...)
	merged = append(merged, rb.results...)
	if over := len(merged) - rb.capacity; over > 0 {
		merged = merged[:rb.capacity]
		rb.stats.TotalDropped += int64(over)
		rb.stats.LastDropTime = time.Now()
	}
	rb.results = merged
}

// Size returns the current number of results in the buffer
func (rb *ResultBuffer) Size() int {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.results)
}

// IsFull returns true if buffer is at capacity
func (rb *ResultBuffer) IsFull() bool {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.results) >= rb.capacity
}

// IsEmpty returns true if buffer has no results
func (rb *ResultBuffer) IsEmpty() bool {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.results) == 0
}

// Clear removes all results and resets the counters
func (rb *ResultBuffer) Clear() {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()
	rb.results = make([]*models.PollResult, 0, rb.capacity)
	rb.stats = BufferStats{}
}

// Capacity returns the maximum capacity of the buffer
func (rb *ResultBuffer) Capacity() int {
	return rb.capacity
}

// Stats returns a copy of current buffer statistics
func (rb *ResultBuffer) Stats() BufferStats {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return rb.stats
}

// String returns something like "Buffer[12/1000, dropped: 5, mode: drop-oldest]"
func (rb *ResultBuffer) String() string {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	mode := "drop-newest"
	if rb.dropOldest {
		mode = "drop-oldest"
	}

	return fmt.Sprintf("Buffer[%d/%d, dropped: %d, mode: %s]",
		len(rb.results),
		rb.capacity,
		rb.stats.TotalDropped,
		mode,
	)
}
