// Package store persists quota entries, budget entries, their outstanding
// reservations and the flavor registry.
//
// Every mutation of an entry's counters (reserve, release, confirm and the
// reconciliation overwrite) is serialized per entry. Operations on different
// entries never wait on each other.
package store

import (
	"context"
	"time"

	"github.com/quotaledger/quotaledger/internal/models"
)

// Balance is an entry's counters as observed right after a mutation.
type Balance struct {
	Limit       int64
	Consumed    int64
	Outstanding int64
}

// Remaining returns the capacity left, never below zero.
func (b Balance) Remaining() int64 {
	if rem := b.Limit - b.Consumed - b.Outstanding; rem > 0 {
		return rem
	}
	return 0
}

// Store is the ledger store contract. Implementations return errors from
// internal/errors: ErrMissing for unknown ids, ErrInvalid for uniqueness
// violations, ErrLimitExceeded for a rejected reserve and ErrStore for
// transient driver failures.
type Store interface {
	GetQuota(ctx context.Context, id string) (*models.QuotaEntry, error)
	ListQuotas(ctx context.Context, filter models.QuotaFilter) ([]*models.QuotaEntry, error)
	// FindQuota returns the entry for exactly this owner/group pair.
	FindQuota(ctx context.Context, owner, group string) (*models.QuotaEntry, error)
	InsertQuota(ctx context.Context, q *models.QuotaEntry) error
	// UpdateQuota persists limit, scope and references. Counters are left alone.
	UpdateQuota(ctx context.Context, q *models.QuotaEntry) error
	DeleteQuota(ctx context.Context, id string) error

	GetBudget(ctx context.Context, id string) (*models.BudgetEntry, error)
	ListBudgets(ctx context.Context, owner string) ([]*models.BudgetEntry, error)
	BudgetByOwner(ctx context.Context, owner string) (*models.BudgetEntry, error)
	InsertBudget(ctx context.Context, b *models.BudgetEntry) error
	// UpdateBudget applies the non-nil fields of patch under the entry's
	// lock. Fields left nil keep their stored value.
	UpdateBudget(ctx context.Context, id string, patch models.BudgetPatch) error
	DeleteBudget(ctx context.Context, id string) error

	// Reserve adds delta to the entry's outstanding total if, and only if,
	// consumed + outstanding + delta <= limit afterwards.
	Reserve(ctx context.Context, kind models.EntryKind, entryID string, delta int64, correlationID string) (*models.Reservation, Balance, error)
	// Release drops a reservation and gives its delta back.
	Release(ctx context.Context, reservationID string) (*models.Reservation, error)
	// Confirm drops a reservation and moves its delta into consumed.
	Confirm(ctx context.Context, reservationID string) (*models.Reservation, error)
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ListReservations(ctx context.Context, kind models.EntryKind, entryID string) (models.ReservationSlice, error)
	// ApplyUsage overwrites consumed with actual, discards reservations
	// created before graceCutoff and recomputes outstanding from the rest.
	ApplyUsage(ctx context.Context, kind models.EntryKind, entryID string, actual int64, graceCutoff time.Time) (*models.ApplyResult, error)

	InsertFlavor(ctx context.Context, f *models.Flavor) error
	GetFlavor(ctx context.Context, id string) (*models.Flavor, error)
	FlavorByName(ctx context.Context, name string) (*models.Flavor, error)
	ListFlavors(ctx context.Context, group string) ([]*models.Flavor, error)
	DeleteFlavor(ctx context.Context, id string) error

	Settings() SettingsStore
	Ping(ctx context.Context) error
	Close() error
}

func now() time.Time {
	return time.Now().UTC()
}
