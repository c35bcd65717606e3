package notify

import (
	"sync"
	"time"
)

// dedupRecord is the last time a key was reported.
type dedupRecord struct {
	sentAt time.Time
	count  int
}

// Dedup suppresses repeat notifications for the same key within a window.
type Dedup struct {
	records map[string]*dedupRecord
	window  time.Duration
	now     func() time.Time
	mu      sync.Mutex
}

// NewDedup creates a deduplication store
func NewDedup(window time.Duration) *Dedup {
	if window <= 0 {
		window = time.Hour
	}
	return &Dedup{
		records: make(map[string]*dedupRecord),
		window:  window,
		now:     time.Now,
	}
}

// IsDuplicate reports whether key was recorded within the window.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	record, ok := d.records[key]
	return ok && d.now().Sub(record.sentAt) < d.window
}

// Record marks key as sent now.
func (d *Dedup) Record(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if record, ok := d.records[key]; ok {
		record.sentAt = d.now()
		record.count++
		return
	}
	d.records[key] = &dedupRecord{sentAt: d.now(), count: 1}
}

// Count returns how many times key has been recorded.
func (d *Dedup) Count(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if record, ok := d.records[key]; ok {
		return record.count
	}
	return 0
}

// Cleanup removes records older than the window.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, record := range d.records {
		if now.Sub(record.sentAt) > d.window {
			delete(d.records, key)
		}
	}
}
