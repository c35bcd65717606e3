package admission

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotaledger/quotaledger/internal/config"
	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/ledger"
	"github.com/quotaledger/quotaledger/internal/logging"
	"github.com/quotaledger/quotaledger/internal/metrics"
	"github.com/quotaledger/quotaledger/internal/models"
	"github.com/quotaledger/quotaledger/internal/oracle"
	"github.com/quotaledger/quotaledger/internal/store"
)

type fixture struct {
	store   store.Store
	ledger  *ledger.Ledger
	ctrl    *Controller
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, s store.Store, cfg config.AdmissionConfig, opts ...Option) *fixture {
	t.Helper()
	if s == nil {
		s = store.NewMemoryStore()
	}
	m := metrics.NewMetrics("test")
	l := ledger.New(s, ledger.WithLogger(logging.Discard()), ledger.WithMetrics(m))
	opts = append([]Option{WithLogger(logging.Discard()), WithMetrics(m)}, opts...)
	ctrl, err := New(l, cfg, opts...)
	require.NoError(t, err)

	_, err = l.CreateFlavor(context.Background(), "g1.small", "gpu")
	require.NoError(t, err)
	return &fixture{store: s, ledger: l, ctrl: ctrl, metrics: m}
}

func (f *fixture) quota(t *testing.T, req models.CreateQuotaRequest) *models.QuotaEntry {
	t.Helper()
	q, err := f.ledger.Create(context.Background(), req)
	require.NoError(t, err)
	return q
}

func (f *fixture) reload(t *testing.T, id string) *models.QuotaEntry {
	t.Helper()
	q, err := f.ledger.Get(context.Background(), id)
	require.NoError(t, err)
	return q
}

func TestCheck_NoQuotaIsUnconstrained(t *testing.T) {
	f := newFixture(t, nil, config.AdmissionConfig{})

	d, err := f.ctrl.Check(context.Background(), "alice", "g1.small", 50)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, models.Unlimited, d.Remaining)
	assert.Equal(t, models.LimitNone, d.LimitingFactor)
	assert.Empty(t, d.Reservations)
}

func TestCheck_Validation(t *testing.T) {
	f := newFixture(t, nil, config.AdmissionConfig{})

	_, err := f.ctrl.Check(context.Background(), "", "g1.small", 1)
	assert.True(t, errors.IsValidation(err))

	_, err = f.ctrl.Check(context.Background(), "alice", "", 1)
	assert.True(t, errors.IsValidation(err))

	_, err = f.ctrl.Check(context.Background(), "alice", "x9.unknown", 1)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.AdmissionDecisions.WithLabelValues("error", "none")))
}

func TestCheck_SpecificityConsultsUserEntryOnly(t *testing.T) {
	f := newFixture(t, nil, config.AdmissionConfig{})
	user := f.quota(t, models.CreateQuotaRequest{Scope: models.ScopeUser, GroupRef: "gpu", OwnerRef: "alice", Limit: 5})
	group := f.quota(t, models.CreateQuotaRequest{Scope: models.ScopeGroup, GroupRef: "gpu", Limit: 100})

	d, err := f.ctrl.Check(context.Background(), "alice", "g1.small", 5)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, user.ID, d.QuotaEntryID)
	assert.Equal(t, int64(0), d.Remaining)

	d, err = f.ctrl.Check(context.Background(), "alice", "g1.small", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "user entry must bind even though the group entry has room")
	assert.Equal(t, models.LimitQuota, d.LimitingFactor)

	assert.Equal(t, int64(0), f.reload(t, group.ID).Outstanding)
	assert.Equal(t, int64(5), f.reload(t, user.ID).Outstanding)

	d, err = f.ctrl.Check(context.Background(), "bob", "g1.small", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, group.ID, d.QuotaEntryID)
	assert.Equal(t, int64(99), d.Remaining)
}

func TestCheck_ZeroCountIsReadOnly(t *testing.T) {
	f := newFixture(t, nil, config.AdmissionConfig{})
	q := f.quota(t, models.CreateQuotaRequest{Scope: models.ScopeGroup, GroupRef: "gpu", Limit: 3})
	b, err := f.ledger.CreateBudget(context.Background(), "alice", 10)
	require.NoError(t, err)

	_, err = f.ctrl.Check(context.Background(), "alice", "g1.small", 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d, err := f.ctrl.Check(context.Background(), "alice", "g1.small", 0)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(1), d.Remaining)
		assert.Equal(t, models.LimitQuota, d.LimitingFactor)
		assert.Empty(t, d.Reservations)
	}

	got := f.reload(t, q.ID)
	assert.Equal(t, int64(0), got.Consumed)
	assert.Equal(t, int64(2), got.Outstanding)
	budget, err := f.ledger.GetBudget(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), budget.Outstanding)

	// Zero is allowed even on an over entry.
	_, err = f.ledger.ApplyUsage(context.Background(), models.KindQuota, q.ID, 9, time.Now().Add(time.Hour))
	require.NoError(t, err)
	d, err := f.ctrl.Check(context.Background(), "alice", "g1.small", 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)
}

func TestCheck_RollbackOnBudgetRejection(t *testing.T) {
	f := newFixture(t, nil, config.AdmissionConfig{})
	q := f.quota(t, models.CreateQuotaRequest{Scope: models.ScopeGroup, GroupRef: "gpu", Limit: 10})
	_, err := f.ledger.CreateBudget(context.Background(), "alice", 1)
	require.NoError(t, err)

	before := f.reload(t, q.ID)

	d, err := f.ctrl.Check(context.Background(), "alice", "g1.small", 2)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, models.LimitBudget, d.LimitingFactor)
	assert.Equal(t, int64(1), d.Remaining)
	assert.True(t, errors.Is(d.Err(), errors.ErrBudgetExceeded))

	after := f.reload(t, q.ID)
	assert.Equal(t, before.Consumed, after.Consumed)
	assert.Equal(t, before.Outstanding, after.Outstanding)

	res, err := f.ledger.ListReservations(context.Background(), models.KindQuota, q.ID)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReservationOperations.WithLabelValues("rollback", "success")))
}

// failingStore fails budget reservations and can cancel the caller's
// context right after the quota axis commits.
type failingStore struct {
	store.Store
	budgetErr     error
	cancelOnQuota context.CancelFunc
}

func (s *failingStore) Reserve(ctx context.Context, kind models.EntryKind, entryID string, delta int64, correlationID string) (*models.Reservation, store.Balance, error) {
	if kind == models.KindBudget && s.budgetErr != nil {
		return nil, store.Balance{}, s.budgetErr
	}
	res, bal, err := s.Store.Reserve(ctx, kind, entryID, delta, correlationID)
	if kind == models.KindQuota && s.cancelOnQuota != nil {
		s.cancelOnQuota()
	}
	return res, bal, err
}

func TestCheck_StoreFailureFailsClosed(t *testing.T) {
	fs := &failingStore{Store: store.NewMemoryStore(), budgetErr: errors.Store("reserve", stderrors.New("connection reset"))}
	f := newFixture(t, fs, config.AdmissionConfig{})
	q := f.quota(t, models.CreateQuotaRequest{Scope: models.ScopeGroup, GroupRef: "gpu", Limit: 10})
	_, err := f.ledger.CreateBudget(context.Background(), "alice", 10)
	require.NoError(t, err)

	d, err := f.ctrl.Check(context.Background(), "alice", "g1.small", 1)
	require.Error(t, err)
	assert.Nil(t, d)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, int64(0), f.reload(t, q.ID).Outstanding, "quota axis must be rolled back")
}

func TestCheck_CancellationRollsBack(t *testing.T) {
	fs := &failingStore{Store: store.NewMemoryStore()}
	f := newFixture(t, fs, config.AdmissionConfig{})
	q := f.quota(t, models.CreateQuotaRequest{Scope: models.ScopeGroup, GroupRef: "gpu", Limit: 10})
	_, err := f.ledger.CreateBudget(context.Background(), "alice", 10)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	fs.cancelOnQuota = cancel

	_, err = f.ctrl.Check(ctx, "alice", "g1.small", 3)
	require.Error(t, err)
	assert.Equal(t, int64(0), f.reload(t, q.ID).Outstanding)
}

func TestCheck_LimitTwoScenario(t *testing.T) {
	f := newFixture(t, nil, config.AdmissionConfig{})
	q := f.quota(t, models.CreateQuotaRequest{Scope: models.ScopeGroup, GroupRef: "gpu", Limit: 2})

	var wg sync.WaitGroup
	decisions := make([]*models.Decision, 2)
	for i := range decisions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := f.ctrl.Check(context.Background(), "alice", "g1.small", 1)
			assert.NoError(t, err)
			decisions[i] = d
		}(i)
	}
	wg.Wait()
	for _, d := range decisions {
		require.NotNil(t, d)
		assert.True(t, d.Allowed)
	}

	d, err := f.ctrl.Check(context.Background(), "carol", "g1.small", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)
	assert.Equal(t, models.LimitQuota, d.LimitingFactor)
	assert.True(t, errors.Is(d.Err(), errors.ErrQuotaExceeded))
	assert.Equal(t, int64(2), f.reload(t, q.ID).Outstanding)
}

func TestCheck_ConcurrentChecksNeverOverbook(t *testing.T) {
	f := newFixture(t, nil, config.AdmissionConfig{})
	q := f.quota(t, models.CreateQuotaRequest{Scope: models.ScopeGlobal, Limit: 7})

	const n = 25
	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.ctrl.Check(context.Background(), "dave", "g1.small", 1)
			if !assert.NoError(t, err) {
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, allowed)
	assert.Equal(t, int64(7), f.reload(t, q.ID).Outstanding)
}

func TestCheck_TightestRemainingWins(t *testing.T) {
	f := newFixture(t, nil, config.AdmissionConfig{})
	f.quota(t, models.CreateQuotaRequest{Scope: models.ScopeGroup, GroupRef: "gpu", Limit: 10})
	_, err := f.ledger.CreateBudget(context.Background(), "alice", 4)
	require.NoError(t, err)

	d, err := f.ctrl.Check(context.Background(), "alice", "g1.small", 2)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(2), d.Remaining)
	assert.Equal(t, models.LimitBudget, d.LimitingFactor)
	assert.Len(t, d.Reservations, 2)

	for _, id := range d.Reservations {
		require.NoError(t, f.ledger.Release(context.Background(), id))
	}
}

func TestCheck_LiveProbe(t *testing.T) {
	probe := oracle.NewStaticOracle()
	f := newFixture(t, nil, config.AdmissionConfig{LiveProbe: true}, WithProbe(probe))
	q := f.quota(t, models.CreateQuotaRequest{Scope: models.ScopeGroup, GroupRef: "gpu", Limit: 4})

	probe.SetUsage("", "gpu", 3)
	d, err := f.ctrl.Check(context.Background(), "alice", "g1.small", 2)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(1), d.Remaining)
	assert.Equal(t, int64(0), f.reload(t, q.ID).Outstanding)

	// A failing probe leaves the ledger answer standing.
	probe.FailAll(stderrors.New("oracle down"))
	d, err = f.ctrl.Check(context.Background(), "alice", "g1.small", 2)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestInvalidateFlavor(t *testing.T) {
	f := newFixture(t, nil, config.AdmissionConfig{})

	_, err := f.ctrl.Check(context.Background(), "alice", "g1.small", 0)
	require.NoError(t, err)

	require.NoError(t, f.ledger.DeleteFlavor(context.Background(), "g1.small"))
	_, err = f.ctrl.Check(context.Background(), "alice", "g1.small", 0)
	assert.NoError(t, err, "cached flavor is served until invalidated")

	f.ctrl.InvalidateFlavor("g1.small")
	_, err = f.ctrl.Check(context.Background(), "alice", "g1.small", 0)
	assert.True(t, errors.IsNotFound(err))
}
