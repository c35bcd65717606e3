package models

import (
	"time"

	"github.com/quotaledger/quotaledger/internal/errors"
)

// BudgetEntry caps the abstract consumption units of a single user.
type BudgetEntry struct {
	ID             string     `json:"id"`
	OwnerRef       string     `json:"user"`
	Limit          int64      `json:"limit"`
	Consumed       int64      `json:"consumed"`
	Outstanding    int64      `json:"outstanding"`
	LastReservedAt *time.Time `json:"last_reserved_at,omitempty"`
	SyncedAt       *time.Time `json:"synced_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Validate checks the owner reference and the limit sign.
func (b *BudgetEntry) Validate() error {
	if b.OwnerRef == "" {
		return errors.Invalid("user", "required for a budget")
	}
	if b.Limit < 0 {
		return errors.Invalid("limit", "must not be negative, got %d", b.Limit)
	}
	return nil
}

func (b *BudgetEntry) Used() int64 {
	return b.Consumed + b.Outstanding
}

func (b *BudgetEntry) Remaining() int64 {
	return remaining(b.Limit, b.Used())
}

func (b *BudgetEntry) IsOver() bool {
	return b.Consumed > b.Limit
}

func (b *BudgetEntry) Pair() Pair {
	return Pair{Kind: KindBudget, Owner: b.OwnerRef}
}

func (b *BudgetEntry) Clone() *BudgetEntry {
	if b == nil {
		return nil
	}
	c := *b
	c.LastReservedAt = cloneTime(b.LastReservedAt)
	c.SyncedAt = cloneTime(b.SyncedAt)
	return &c
}

// BudgetPatch is a partial update of a budget; consumed may be overridden by an administrator.
type BudgetPatch struct {
	Limit    *int64 `json:"limit,omitempty"`
	Consumed *int64 `json:"consumed,omitempty"`
}

func (p BudgetPatch) Empty() bool {
	return p.Limit == nil && p.Consumed == nil
}

func (p BudgetPatch) Apply(b *BudgetEntry) {
	if p.Limit != nil {
		b.Limit = *p.Limit
	}
	if p.Consumed != nil {
		b.Consumed = *p.Consumed
	}
}
