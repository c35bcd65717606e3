// Package ledger is the administrative and reservation surface over the
// ledger store: validated CRUD for quota and budget entries, the flavor
// registry, and the reserve/release/confirm primitive.
package ledger

import (
	"context"
	"time"

	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/logging"
	"github.com/quotaledger/quotaledger/internal/metrics"
	"github.com/quotaledger/quotaledger/internal/models"
	"github.com/quotaledger/quotaledger/internal/store"
)

// Ledger validates requests and delegates persistence to a store.Store.
type Ledger struct {
	store   store.Store
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLogger(l *logging.Logger) Option {
	return func(lg *Ledger) { lg.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(lg *Ledger) { lg.metrics = m }
}

// WithClock overrides the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

// New creates a Ledger over s.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  s,
		logger: logging.NewLogger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")
	return l
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store {
	return l.store
}

// Quota entries

func (l *Ledger) Get(ctx context.Context, id string) (*models.QuotaEntry, error) {
	return l.store.GetQuota(ctx, id)
}

// List returns the entries matching filter. An empty filter lists everything.
func (l *Ledger) List(ctx context.Context, filter models.QuotaFilter) ([]*models.QuotaEntry, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return l.store.ListQuotas(ctx, filter)
}

// Create validates req and inserts a new quota entry. The scope must agree
// with the references, and a pair may hold only one entry.
func (l *Ledger) Create(ctx context.Context, req models.CreateQuotaRequest) (*models.QuotaEntry, error) {
	ts := l.now()
	q := &models.QuotaEntry{
		ID:        models.NewID(models.PrefixQuota),
		Scope:     req.Scope,
		GroupRef:  req.GroupRef,
		OwnerRef:  req.OwnerRef,
		Limit:     req.Limit,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if q.Scope == "" {
		q.Scope = models.ScopeOf(q.OwnerRef, q.GroupRef)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := l.store.InsertQuota(ctx, q); err != nil {
		return nil, err
	}

	l.logger.InfoWithContext(ctx, "quota created",
		"quota_id", q.ID, "scope", string(q.Scope), "group", q.GroupRef, "user", q.OwnerRef, "limit", q.Limit)
	return q, nil
}

// Modify applies a partial update. Lowering the limit below the current
// consumption is allowed and leaves the entry over.
func (l *Ledger) Modify(ctx context.Context, id string, patch models.QuotaPatch) (*models.QuotaEntry, error) {
	q, err := l.store.GetQuota(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return q, nil
	}

	patch.Apply(q)
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := l.store.UpdateQuota(ctx, q); err != nil {
		return nil, err
	}

	updated, err := l.store.GetQuota(ctx, id)
	if err != nil {
		return nil, err
	}
	l.logger.InfoWithContext(ctx, "quota modified",
		"quota_id", id, "scope", string(updated.Scope), "limit", updated.Limit)
	return updated, nil
}

// Delete removes the entry and its reservations. Deleting an unknown id fails.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	if err := l.store.DeleteQuota(ctx, id); err != nil {
		return err
	}
	l.metrics.DeleteEntry(string(models.KindQuota), id)
	l.logger.InfoWithContext(ctx, "quota deleted", "quota_id", id)
	return nil
}

// Resolve returns the quota entry that applies to user in group, walking
// the scopes from most to least specific. It returns nil when no scope has
// an entry.
func (l *Ledger) Resolve(ctx context.Context, user, group string) (*models.QuotaEntry, error) {
	for _, scope := range models.Specificity {
		owner, g := "", ""
		switch scope {
		case models.ScopeUser:
			if user == "" {
				continue
			}
			owner, g = user, group
		case models.ScopeGroup:
			g = group
		}
		q, err := l.store.FindQuota(ctx, owner, g)
		if err == nil {
			return q, nil
		}
		if !errors.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, nil
}

// Reservations

// Reserve adds delta to the entry's outstanding total, or rejects with
// ErrLimitExceeded and leaves the entry untouched.
func (l *Ledger) Reserve(ctx context.Context, kind models.EntryKind, entryID string, delta int64, correlationID string) (*models.Reservation, store.Balance, error) {
	res, bal, err := l.store.Reserve(ctx, kind, entryID, delta, correlationID)
	switch {
	case err == nil:
		l.metrics.RecordReservation("reserve", "success")
	case errors.IsDenied(err):
		l.metrics.RecordReservation("reserve", "rejected")
	default:
		l.metrics.RecordReservation("reserve", "error")
	}
	return res, bal, err
}

// Release gives a reservation's delta back.
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	return l.settle(ctx, "release", reservationID, l.store.Release)
}

// Confirm folds a reservation into consumed once the allocation exists.
func (l *Ledger) Confirm(ctx context.Context, reservationID string) error {
	return l.settle(ctx, "confirm", reservationID, l.store.Confirm)
}

func (l *Ledger) settle(ctx context.Context, op, reservationID string, fn func(context.Context, string) (*models.Reservation, error)) error {
	res, err := fn(ctx, reservationID)
	if err != nil {
		l.metrics.RecordReservation(op, "error")
		return err
	}
	l.metrics.RecordReservation(op, "success")
	l.logger.DebugWithContext(ctx, "reservation settled",
		"op", op, "reservation_id", res.ID, "entry_kind", string(res.EntryKind), "entry_id", res.EntryID, "delta", res.Delta)
	return nil
}

func (l *Ledger) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return l.store.GetReservation(ctx, id)
}

func (l *Ledger) ListReservations(ctx context.Context, kind models.EntryKind, entryID string) (models.ReservationSlice, error) {
	return l.store.ListReservations(ctx, kind, entryID)
}

// ApplyUsage overwrites consumed with the oracle's figure and discards
// reservations created before graceCutoff.
func (l *Ledger) ApplyUsage(ctx context.Context, kind models.EntryKind, entryID string, actual int64, graceCutoff time.Time) (*models.ApplyResult, error) {
	if actual < 0 {
		return nil, errors.Invalid("actual", "usage must not be negative, got %d", actual)
	}
	result, err := l.store.ApplyUsage(ctx, kind, entryID, actual, graceCutoff)
	if err != nil {
		return nil, err
	}
	for _, r := range result.Discarded {
		l.logger.WarnWithContext(ctx, "stale reservation discarded",
			"reservation_id", r.ID, "entry_kind", string(kind), "entry_id", entryID,
			"delta", r.Delta, "age", l.now().Sub(r.CreatedAt).String(), "reservation_correlation_id", r.CorrelationID)
	}
	l.metrics.SetEntryUtilization(string(kind), entryID, result.Current, result.Limit)
	return result, nil
}
