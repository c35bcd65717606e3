package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/models"
)

// entryRecord holds one quota or budget entry. Its mutex is the per-entry
// serialization point for counter mutations.
type entryRecord struct {
	mu      sync.Mutex
	deleted bool
	quota   *models.QuotaEntry
	budget  *models.BudgetEntry
}

type counters struct {
	limit       *int64
	consumed    *int64
	outstanding *int64
	reservedAt  **time.Time
	syncedAt    **time.Time
	updatedAt   *time.Time
}

func (r *entryRecord) counters() counters {
	if r.quota != nil {
		q := r.quota
		return counters{&q.Limit, &q.Consumed, &q.Outstanding, &q.LastReservedAt, &q.SyncedAt, &q.UpdatedAt}
	}
	b := r.budget
	return counters{&b.Limit, &b.Consumed, &b.Outstanding, &b.LastReservedAt, &b.SyncedAt, &b.UpdatedAt}
}

func (c counters) balance() Balance {
	return Balance{Limit: *c.limit, Consumed: *c.consumed, Outstanding: *c.outstanding}
}

// MemoryStore keeps the ledger in process memory.
//
// Lock order: mu, then an entryRecord's mu, then resMu.
type MemoryStore struct {
	mu       sync.RWMutex
	quotas   map[string]*entryRecord // key: entry ID
	budgets  map[string]*entryRecord // key: entry ID
	pairs    map[models.Pair]string  // unique owner/group pair -> quota ID
	owners   map[string]string       // owner -> budget ID
	flavors  map[string]*models.Flavor
	names    map[string]string // flavor name -> flavor ID
	settings *MemorySettingsStore

	resMu        sync.Mutex
	reservations map[string]*models.Reservation
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotas:       make(map[string]*entryRecord),
		budgets:      make(map[string]*entryRecord),
		pairs:        make(map[models.Pair]string),
		owners:       make(map[string]string),
		flavors:      make(map[string]*models.Flavor),
		names:        make(map[string]string),
		settings:     NewMemorySettingsStore(),
		reservations: make(map[string]*models.Reservation),
	}
}

func quotaPair(q *models.QuotaEntry) models.Pair {
	return models.Pair{Kind: models.KindQuota, Owner: q.OwnerRef, Group: q.GroupRef}
}

// Quota entries

func (s *MemoryStore) GetQuota(ctx context.Context, id string) (*models.QuotaEntry, error) {
	s.mu.RLock()
	rec, ok := s.quotas[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("quota", id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, errors.NotFound("quota", id)
	}
	return rec.quota.Clone(), nil
}

func (s *MemoryStore) ListQuotas(ctx context.Context, filter models.QuotaFilter) ([]*models.QuotaEntry, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.QuotaEntry, 0, len(s.quotas))
	for _, rec := range s.quotas {
		rec.mu.Lock()
		if filter.Match(rec.quota) {
			result = append(result, rec.quota.Clone())
		}
		rec.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) FindQuota(ctx context.Context, owner, group string) (*models.QuotaEntry, error) {
	s.mu.RLock()
	id, ok := s.pairs[models.Pair{Kind: models.KindQuota, Owner: owner, Group: group}]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("quota", owner+"/"+group)
	}
	return s.GetQuota(ctx, id)
}

func (s *MemoryStore) InsertQuota(ctx context.Context, q *models.QuotaEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.quotas[q.ID]; dup {
		return errors.Invalid("id", "quota %s already exists", q.ID)
	}
	pair := quotaPair(q)
	if _, dup := s.pairs[pair]; dup {
		return errors.Invalid("scope", "a quota for user %q and group %q already exists", q.OwnerRef, q.GroupRef)
	}
	s.quotas[q.ID] = &entryRecord{quota: q.Clone()}
	s.pairs[pair] = q.ID
	return nil
}

func (s *MemoryStore) UpdateQuota(ctx context.Context, q *models.QuotaEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.quotas[q.ID]
	if !ok {
		return errors.NotFound("quota", q.ID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	oldPair := quotaPair(rec.quota)
	newPair := quotaPair(q)
	if oldPair != newPair {
		if _, dup := s.pairs[newPair]; dup {
			return errors.Invalid("scope", "a quota for user %q and group %q already exists", q.OwnerRef, q.GroupRef)
		}
		delete(s.pairs, oldPair)
		s.pairs[newPair] = q.ID
	}
	rec.quota.Scope = q.Scope
	rec.quota.GroupRef = q.GroupRef
	rec.quota.OwnerRef = q.OwnerRef
	rec.quota.Limit = q.Limit
	rec.quota.UpdatedAt = now()
	return nil
}

func (s *MemoryStore) DeleteQuota(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.quotas[id]
	if !ok {
		return errors.NotFound("quota", id)
	}
	rec.mu.Lock()
	rec.deleted = true
	delete(s.pairs, quotaPair(rec.quota))
	delete(s.quotas, id)
	s.dropReservations(models.KindQuota, id)
	rec.mu.Unlock()
	return nil
}

// Budget entries

func (s *MemoryStore) GetBudget(ctx context.Context, id string) (*models.BudgetEntry, error) {
	s.mu.RLock()
	rec, ok := s.budgets[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("budget", id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, errors.NotFound("budget", id)
	}
	return rec.budget.Clone(), nil
}

func (s *MemoryStore) ListBudgets(ctx context.Context, owner string) ([]*models.BudgetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.BudgetEntry, 0, len(s.budgets))
	for _, rec := range s.budgets {
		rec.mu.Lock()
		if owner == "" || rec.budget.OwnerRef == owner {
			result = append(result, rec.budget.Clone())
		}
		rec.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) BudgetByOwner(ctx context.Context, owner string) (*models.BudgetEntry, error) {
	s.mu.RLock()
	id, ok := s.owners[owner]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("budget", owner)
	}
	return s.GetBudget(ctx, id)
}

func (s *MemoryStore) InsertBudget(ctx context.Context, b *models.BudgetEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.budgets[b.ID]; dup {
		return errors.Invalid("id", "budget %s already exists", b.ID)
	}
	if _, dup := s.owners[b.OwnerRef]; dup {
		return errors.Invalid("user", "user %q already has a budget", b.OwnerRef)
	}
	s.budgets[b.ID] = &entryRecord{budget: b.Clone()}
	s.owners[b.OwnerRef] = b.ID
	return nil
}

func (s *MemoryStore) UpdateBudget(ctx context.Context, id string, patch models.BudgetPatch) error {
	s.mu.RLock()
	rec, ok := s.budgets[id]
	s.mu.RUnlock()
	if !ok {
		return errors.NotFound("budget", id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return errors.NotFound("budget", id)
	}
	patch.Apply(rec.budget)
	rec.budget.UpdatedAt = now()
	return nil
}

func (s *MemoryStore) DeleteBudget(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.budgets[id]
	if !ok {
		return errors.NotFound("budget", id)
	}
	rec.mu.Lock()
	rec.deleted = true
	delete(s.owners, rec.budget.OwnerRef)
	delete(s.budgets, id)
	s.dropReservations(models.KindBudget, id)
	rec.mu.Unlock()
	return nil
}

// Reservations

func (s *MemoryStore) record(kind models.EntryKind, id string) (*entryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec *entryRecord
	var ok bool
	switch kind {
	case models.KindQuota:
		rec, ok = s.quotas[id]
	case models.KindBudget:
		rec, ok = s.budgets[id]
	default:
		return nil, errors.Invalid("kind", "unknown entry kind %q", kind)
	}
	if !ok {
		return nil, errors.NotFound(string(kind), id)
	}
	return rec, nil
}

func (s *MemoryStore) Reserve(ctx context.Context, kind models.EntryKind, entryID string, delta int64, correlationID string) (*models.Reservation, Balance, error) {
	if delta <= 0 {
		return nil, Balance{}, errors.Invalid("delta", "must be positive, got %d", delta)
	}
	if err := ctx.Err(); err != nil {
		return nil, Balance{}, errors.Store("reserve", err)
	}
	rec, err := s.record(kind, entryID)
	if err != nil {
		return nil, Balance{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, Balance{}, errors.NotFound(string(kind), entryID)
	}

	c := rec.counters()
	if used := *c.consumed + *c.outstanding; used+delta > *c.limit {
		return nil, c.balance(), &errors.ErrLimitExceeded{
			Kind: string(kind), EntryID: entryID, Limit: *c.limit, Used: used, Requested: delta,
		}
	}

	ts := now()
	res := &models.Reservation{
		ID:            uuid.New().String(),
		EntryKind:     kind,
		EntryID:       entryID,
		Delta:         delta,
		CorrelationID: correlationID,
		CreatedAt:     ts,
	}
	*c.outstanding += delta
	*c.reservedAt = &ts
	*c.updatedAt = ts

	s.resMu.Lock()
	s.reservations[res.ID] = res
	s.resMu.Unlock()

	copied := *res
	return &copied, c.balance(), nil
}

// settle removes a reservation and adjusts its entry. fold moves the delta
// into consumed instead of giving it back.
func (s *MemoryStore) settle(ctx context.Context, reservationID string, fold bool) (*models.Reservation, error) {
	s.resMu.Lock()
	res, ok := s.reservations[reservationID]
	s.resMu.Unlock()
	if !ok {
		return nil, errors.NotFound("reservation", reservationID)
	}

	rec, err := s.record(res.EntryKind, res.EntryID)
	if err != nil {
		return nil, errors.NotFound("reservation", reservationID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	s.resMu.Lock()
	_, still := s.reservations[reservationID]
	if still {
		delete(s.reservations, reservationID)
	}
	s.resMu.Unlock()
	if !still || rec.deleted {
		// Lost a race with reconciliation, another settle or an entry delete.
		return nil, errors.NotFound("reservation", reservationID)
	}

	c := rec.counters()
	*c.outstanding -= res.Delta
	if *c.outstanding < 0 {
		*c.outstanding = 0
	}
	if fold {
		*c.consumed += res.Delta
	}
	*c.updatedAt = now()

	copied := *res
	return &copied, nil
}

func (s *MemoryStore) Release(ctx context.Context, reservationID string) (*models.Reservation, error) {
	return s.settle(ctx, reservationID, false)
}

func (s *MemoryStore) Confirm(ctx context.Context, reservationID string) (*models.Reservation, error) {
	return s.settle(ctx, reservationID, true)
}

func (s *MemoryStore) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	res, ok := s.reservations[id]
	if !ok {
		return nil, errors.NotFound("reservation", id)
	}
	copied := *res
	return &copied, nil
}

func (s *MemoryStore) ListReservations(ctx context.Context, kind models.EntryKind, entryID string) (models.ReservationSlice, error) {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	return s.reservationsOf(kind, entryID), nil
}

// reservationsOf must be called with resMu held.
func (s *MemoryStore) reservationsOf(kind models.EntryKind, entryID string) models.ReservationSlice {
	var out models.ReservationSlice
	for _, r := range s.reservations {
		if r.EntryKind == kind && r.EntryID == entryID {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// dropReservations must be called with the entry's record lock held.
func (s *MemoryStore) dropReservations(kind models.EntryKind, entryID string) {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	for id, r := range s.reservations {
		if r.EntryKind == kind && r.EntryID == entryID {
			delete(s.reservations, id)
		}
	}
}

func (s *MemoryStore) ApplyUsage(ctx context.Context, kind models.EntryKind, entryID string, actual int64, graceCutoff time.Time) (*models.ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Store("apply usage", err)
	}
	rec, err := s.record(kind, entryID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, errors.NotFound(string(kind), entryID)
	}

	s.resMu.Lock()
	kept, stale := s.reservationsOf(kind, entryID).Split(graceCutoff)
	for _, r := range stale {
		delete(s.reservations, r.ID)
	}
	s.resMu.Unlock()

	c := rec.counters()
	result := &models.ApplyResult{
		Kind:      kind,
		EntryID:   entryID,
		Previous:  *c.consumed,
		Current:   actual,
		Limit:     *c.limit,
		Kept:      kept,
		Discarded: stale,
	}

	ts := now()
	*c.consumed = actual
	*c.outstanding = kept.Total()
	*c.syncedAt = &ts
	*c.updatedAt = ts
	return result, nil
}

// Flavors

func (s *MemoryStore) InsertFlavor(ctx context.Context, f *models.Flavor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.names[f.Name]; dup {
		return errors.Invalid("name", "flavor %q already exists", f.Name)
	}
	copied := *f
	s.flavors[f.ID] = &copied
	s.names[f.Name] = f.ID
	return nil
}

func (s *MemoryStore) GetFlavor(ctx context.Context, id string) (*models.Flavor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flavors[id]
	if !ok {
		return nil, errors.NotFound("flavor", id)
	}
	copied := *f
	return &copied, nil
}

func (s *MemoryStore) FlavorByName(ctx context.Context, name string) (*models.Flavor, error) {
	s.mu.RLock()
	id, ok := s.names[name]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("flavor", name)
	}
	return s.GetFlavor(ctx, id)
}

func (s *MemoryStore) ListFlavors(ctx context.Context, group string) ([]*models.Flavor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*models.Flavor, 0, len(s.flavors))
	for _, f := range s.flavors {
		if group == "" || f.GroupRef == group {
			copied := *f
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *MemoryStore) DeleteFlavor(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flavors[id]
	if !ok {
		return errors.NotFound("flavor", id)
	}
	delete(s.names, f.Name)
	delete(s.flavors, id)
	return nil
}

func (s *MemoryStore) Settings() SettingsStore {
	return s.settings
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Clear removes all data from the store
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.quotas {
		rec.mu.Lock()
		rec.deleted = true
		rec.mu.Unlock()
	}
	for _, rec := range s.budgets {
		rec.mu.Lock()
		rec.deleted = true
		rec.mu.Unlock()
	}
	s.quotas = make(map[string]*entryRecord)
	s.budgets = make(map[string]*entryRecord)
	s.pairs = make(map[models.Pair]string)
	s.owners = make(map[string]string)
	s.flavors = make(map[string]*models.Flavor)
	s.names = make(map[string]string)

	s.resMu.Lock()
	s.reservations = make(map[string]*models.Reservation)
	s.resMu.Unlock()
}

var _ Store = (*MemoryStore)(nil)
