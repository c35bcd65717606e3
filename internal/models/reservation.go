package models

import (
	"fmt"
	"time"
)

// EntryKind distinguishes the two admission axes.
type EntryKind string

const (
	KindQuota  EntryKind = "quota"
	KindBudget EntryKind = "budget"
)

// Reservation is a tentative increment against a quota or budget entry that
// the usage oracle has not reflected yet.
type Reservation struct {
	ID            string    `json:"id"`
	EntryKind     EntryKind `json:"entry_kind"`
	EntryID       string    `json:"entry_id"`
	Delta         int64     `json:"delta"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks if the reservation is valid.
func (r *Reservation) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("reservation ID is required")
	}
	if r.EntryKind != KindQuota && r.EntryKind != KindBudget {
		return fmt.Errorf("unknown entry kind %q", r.EntryKind)
	}
	if r.EntryID == "" {
		return fmt.Errorf("entry ID is required")
	}
	if r.Delta <= 0 {
		return fmt.Errorf("delta must be positive, got %d", r.Delta)
	}
	return nil
}

// Age returns the age of the reservation at now.
func (r *Reservation) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// IsStale reports whether the reservation was created before cutoff.
func (r *Reservation) IsStale(cutoff time.Time) bool {
	return r.CreatedAt.Before(cutoff)
}

// ReservationSlice is a slice of reservations with helper methods.
type ReservationSlice []*Reservation

// Total sums the deltas.
func (rs ReservationSlice) Total() int64 {
	var total int64
	for _, r := range rs {
		total += r.Delta
	}
	return total
}

// Split partitions reservations into those created at or after cutoff and stale ones.
func (rs ReservationSlice) Split(cutoff time.Time) (kept, stale ReservationSlice) {
	for _, r := range rs {
		if r.IsStale(cutoff) {
			stale = append(stale, r)
		} else {
			kept = append(kept, r)
		}
	}
	return kept, stale
}

// ApplyResult describes a reconciliation overwrite of one entry.
type ApplyResult struct {
	Kind      EntryKind        `json:"kind"`
	EntryID   string           `json:"entry_id"`
	Previous  int64            `json:"previous"`
	Current   int64            `json:"current"`
	Limit     int64            `json:"limit"`
	Kept      ReservationSlice `json:"kept,omitempty"`
	Discarded ReservationSlice `json:"discarded,omitempty"`
}

// Drifted reports whether the oracle disagreed with the cached value.
func (a *ApplyResult) Drifted() bool {
	return a.Previous != a.Current
}

// Over reports whether the overwrite left the entry above its limit.
func (a *ApplyResult) Over() bool {
	return a.Current > a.Limit
}
