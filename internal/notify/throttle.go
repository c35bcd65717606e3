package notify

import (
	"sync"
	"time"
)

// Throttler is a token bucket bounding outgoing messages.
type Throttler struct {
	rate       float64 // tokens per second
	bucketSize float64
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewThrottler creates a throttler allowing ratePerMinute messages with a
// burst of the same size.
func NewThrottler(ratePerMinute int) *Throttler {
	if ratePerMinute <= 0 {
		ratePerMinute = 20
	}
	t := &Throttler{
		rate:       float64(ratePerMinute) / 60.0,
		bucketSize: float64(ratePerMinute),
		tokens:     float64(ratePerMinute),
		now:        time.Now,
	}
	t.lastUpdate = t.now()
	return t
}

// Allow takes a token if one is available.
func (t *Throttler) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.tokens += now.Sub(t.lastUpdate).Seconds() * t.rate
	if t.tokens > t.bucketSize {
		t.tokens = t.bucketSize
	}
	t.lastUpdate = now

	if t.tokens >= 1 {
		t.tokens--
		return true
	}
	return false
}
