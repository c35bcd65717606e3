package models

import (
	"fmt"

	"github.com/quotaledger/quotaledger/internal/errors"
)

// LimitingFactor names the axis that bounded an admission decision.
type LimitingFactor string

const (
	LimitNone   LimitingFactor = "none"
	LimitQuota  LimitingFactor = "quota"
	LimitBudget LimitingFactor = "budget"
)

// Unlimited is the Remaining value of a decision with no constrained axis.
const Unlimited int64 = -1

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed        bool           `json:"allowed"`
	Remaining      int64          `json:"remaining"`
	LimitingFactor LimitingFactor `json:"limiting_factor"`
	Reason         string         `json:"reason,omitempty"`
	User           string         `json:"user"`
	Flavor         string         `json:"flavor"`
	Group          string         `json:"group,omitempty"`
	Count          uint32         `json:"count"`
	QuotaEntryID   string         `json:"quota_entry_id,omitempty"`
	BudgetEntryID  string         `json:"budget_entry_id,omitempty"`
	Reservations   []string       `json:"reservations,omitempty"`
}

// Tighten lowers Remaining to rem when rem is tighter, recording the axis.
func (d *Decision) Tighten(rem int64, factor LimitingFactor) {
	if d.Remaining == Unlimited || rem < d.Remaining {
		d.Remaining = rem
		d.LimitingFactor = factor
	}
}

// Err returns nil for an allowed decision and the matching denial sentinel otherwise.
func (d *Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.LimitingFactor {
	case LimitBudget:
		return fmt.Errorf("%w: %s", errors.ErrBudgetExceeded, d.Reason)
	default:
		return fmt.Errorf("%w: %s", errors.ErrQuotaExceeded, d.Reason)
	}
}
