package models

import (
	"fmt"
	"time"
)

// Pair identifies what the usage oracle is asked about for one entry.
type Pair struct {
	Kind  EntryKind `json:"kind"`
	Owner string    `json:"user,omitempty"`
	Group string    `json:"group,omitempty"`
}

func (p Pair) String() string {
	return fmt.Sprintf("%s:%s/%s", p.Kind, p.Owner, p.Group)
}

// SyncState is the reconciliation state of one owner/resource-group pair.
type SyncState string

const (
	StateSynced  SyncState = "synced"
	StateDrifted SyncState = "drifted"
	StateOver    SyncState = "over"
)

// PairError is a reconciliation failure isolated to one pair.
type PairError struct {
	Pair    Pair   `json:"pair"`
	EntryID string `json:"entry_id"`
	Error   string `json:"error"`
}

// SyncReport summarises one reconciliation cycle.
type SyncReport struct {
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
	Pairs          int         `json:"pairs"`
	Synced         int         `json:"synced"`
	Drifted        int         `json:"drifted"`
	Over           int         `json:"over"`
	Failed         int         `json:"failed"`
	StaleDiscarded int         `json:"stale_discarded"`
	Errors         []PairError `json:"errors,omitempty"`
}

// Duration returns how long the cycle took.
func (r *SyncReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
