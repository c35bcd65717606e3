package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/logging"
	"github.com/quotaledger/quotaledger/internal/models"
)

// EnvTestPostgresDSN enables the PostgreSQL run of the contract suite.
const EnvTestPostgresDSN = "QUOTALEDGER_TEST_POSTGRES_DSN"

type storeFactory func(t *testing.T) Store

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), WithLogger(logging.Discard()))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"postgres": func(t *testing.T) Store {
			dsn := os.Getenv(EnvTestPostgresDSN)
			if dsn == "" {
				t.Skipf("%s not set", EnvTestPostgresDSN)
			}
			s, err := NewPostgresStore(dsn, WithLogger(logging.Discard()))
			require.NoError(t, err)
			ctx := context.Background()
			for _, table := range []string{"reservations", "quotas", "budgets", "flavors", "settings"} {
				_, err := s.db.ExecContext(ctx, "DELETE FROM "+table)
				require.NoError(t, err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range stores() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func newQuota(owner, group string, limit int64) *models.QuotaEntry {
	ts := time.Now().UTC().Truncate(time.Millisecond)
	return &models.QuotaEntry{
		ID:        models.NewID(models.PrefixQuota),
		Scope:     models.ScopeOf(owner, group),
		OwnerRef:  owner,
		GroupRef:  group,
		Limit:     limit,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func newBudget(owner string, limit int64) *models.BudgetEntry {
	ts := time.Now().UTC().Truncate(time.Millisecond)
	return &models.BudgetEntry{
		ID:        models.NewID(models.PrefixBudget),
		OwnerRef:  owner,
		Limit:     limit,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func TestStore_QuotaCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		global := newQuota("", "", 100)
		group := newQuota("", "gpu", 10)
		user := newQuota("alice", "gpu", 2)
		for _, q := range []*models.QuotaEntry{global, group, user} {
			require.NoError(t, s.InsertQuota(ctx, q))
		}

		got, err := s.GetQuota(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ScopeUser, got.Scope)
		assert.Equal(t, "alice", got.OwnerRef)
		assert.Equal(t, int64(2), got.Limit)

		found, err := s.FindQuota(ctx, "", "gpu")
		require.NoError(t, err)
		assert.Equal(t, group.ID, found.ID)

		all, err := s.ListQuotas(ctx, models.QuotaFilter{All: true})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		byGroup, err := s.ListQuotas(ctx, models.QuotaFilter{Group: "gpu"})
		require.NoError(t, err)
		assert.Len(t, byGroup, 2)

		byUser, err := s.ListQuotas(ctx, models.QuotaFilter{User: "alice"})
		require.NoError(t, err)
		require.Len(t, byUser, 1)
		assert.Equal(t, user.ID, byUser[0].ID)

		got.Limit = 5
		require.NoError(t, s.UpdateQuota(ctx, got))
		got, err = s.GetQuota(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.Limit)

		require.NoError(t, s.DeleteQuota(ctx, group.ID))
		_, err = s.GetQuota(ctx, group.ID)
		assert.True(t, errors.IsNotFound(err))
		assert.True(t, errors.IsNotFound(s.DeleteQuota(ctx, group.ID)))
	})
}

func TestStore_QuotaPairUnique(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.InsertQuota(ctx, newQuota("bob", "cpu", 1)))

		err := s.InsertQuota(ctx, newQuota("bob", "cpu", 3))
		assert.True(t, errors.IsValidation(err), "got %v", err)

		require.NoError(t, s.InsertQuota(ctx, newQuota("bob", "gpu", 3)))
	})
}

func TestStore_UnknownIDs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetQuota(ctx, "quota_missing")
		assert.True(t, errors.IsNotFound(err))
		_, err = s.GetBudget(ctx, "budget_missing")
		assert.True(t, errors.IsNotFound(err))
		_, err = s.BudgetByOwner(ctx, "nobody")
		assert.True(t, errors.IsNotFound(err))
		_, _, err = s.Reserve(ctx, models.KindQuota, "quota_missing", 1, "")
		assert.True(t, errors.IsNotFound(err))
		_, err = s.Release(ctx, "00000000-0000-0000-0000-000000000000")
		assert.True(t, errors.IsNotFound(err))
		_, err = s.ApplyUsage(ctx, models.KindBudget, "budget_missing", 1, time.Now())
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestStore_BudgetCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		b := newBudget("carol", 8)
		require.NoError(t, s.InsertBudget(ctx, b))
		assert.True(t, errors.IsValidation(s.InsertBudget(ctx, newBudget("carol", 1))))

		got, err := s.BudgetByOwner(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ID)

		limit, consumed := int64(12), int64(4)
		require.NoError(t, s.UpdateBudget(ctx, b.ID, models.BudgetPatch{Limit: &limit, Consumed: &consumed}))
		got, err = s.GetBudget(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(12), got.Limit)
		assert.Equal(t, int64(4), got.Consumed)

		_, err = s.ApplyUsage(ctx, models.KindBudget, b.ID, 9, time.Now())
		require.NoError(t, err)
		limit = 8
		require.NoError(t, s.UpdateBudget(ctx, b.ID, models.BudgetPatch{Limit: &limit}))
		got, err = s.GetBudget(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(8), got.Limit)
		assert.Equal(t, int64(9), got.Consumed, "a limit-only update keeps reconciled consumption")

		assert.True(t, errors.IsNotFound(s.UpdateBudget(ctx, "budget_missing", models.BudgetPatch{Limit: &limit})))

		list, err := s.ListBudgets(ctx, "")
		require.NoError(t, err)
		assert.Len(t, list, 1)
		list, err = s.ListBudgets(ctx, "dave")
		require.NoError(t, err)
		assert.Empty(t, list)

		require.NoError(t, s.DeleteBudget(ctx, b.ID))
		_, err = s.GetBudget(ctx, b.ID)
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestStore_ReserveWithinLimit(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		q := newQuota("", "gpu", 2)
		require.NoError(t, s.InsertQuota(ctx, q))

		r1, bal, err := s.Reserve(ctx, models.KindQuota, q.ID, 1, "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), bal.Remaining())
		assert.Equal(t, "c1", r1.CorrelationID)

		_, bal, err = s.Reserve(ctx, models.KindQuota, q.ID, 1, "c2")
		require.NoError(t, err)
		assert.Equal(t, int64(0), bal.Remaining())

		_, _, err = s.Reserve(ctx, models.KindQuota, q.ID, 1, "c3")
		var exceeded *errors.ErrLimitExceeded
		require.True(t, errors.As(err, &exceeded), "got %v", err)
		assert.Equal(t, int64(0), exceeded.Remaining())
		assert.True(t, errors.Is(err, errors.ErrQuotaExceeded))

		got, err := s.GetQuota(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Outstanding)
		assert.NotNil(t, got.LastReservedAt)

		res, err := s.ListReservations(ctx, models.KindQuota, q.ID)
		require.NoError(t, err)
		assert.Len(t, res, 2)
		assert.Equal(t, int64(2), res.Total())
	})
}

func TestStore_ReserveRejectsNonPositiveDelta(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		q := newQuota("", "", 10)
		require.NoError(t, s.InsertQuota(ctx, q))

		_, _, err := s.Reserve(ctx, models.KindQuota, q.ID, 0, "")
		assert.True(t, errors.IsValidation(err))
	})
}

func TestStore_ConcurrentReserveIsAtomic(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const limit = 5
		const workers = 20

		q := newQuota("", "gpu", limit)
		require.NoError(t, s.InsertQuota(ctx, q))

		var granted, denied atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := s.Reserve(ctx, models.KindQuota, q.ID, 1, "")
				switch {
				case err == nil:
					granted.Add(1)
				case errors.IsDenied(err):
					denied.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(limit), granted.Load())
		assert.Equal(t, int32(workers-limit), denied.Load())

		got, err := s.GetQuota(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(limit), got.Outstanding)
	})
}

func TestStore_ReleaseAndConfirm(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		b := newBudget("erin", 10)
		require.NoError(t, s.InsertBudget(ctx, b))

		r1, _, err := s.Reserve(ctx, models.KindBudget, b.ID, 3, "")
		require.NoError(t, err)
		r2, _, err := s.Reserve(ctx, models.KindBudget, b.ID, 4, "")
		require.NoError(t, err)

		released, err := s.Release(ctx, r1.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), released.Delta)

		_, err = s.Release(ctx, r1.ID)
		assert.True(t, errors.IsNotFound(err), "second release must report not found")

		_, err = s.Confirm(ctx, r2.ID)
		require.NoError(t, err)

		got, err := s.GetBudget(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(4), got.Consumed)
		assert.Equal(t, int64(0), got.Outstanding)

		_, err = s.GetReservation(ctx, r2.ID)
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestStore_ApplyUsage(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		q := newQuota("frank", "gpu", 4)
		require.NoError(t, s.InsertQuota(ctx, q))

		_, _, err := s.Reserve(ctx, models.KindQuota, q.ID, 1, "")
		require.NoError(t, err)
		_, _, err = s.Reserve(ctx, models.KindQuota, q.ID, 2, "")
		require.NoError(t, err)

		// Everything reserved so far is older than a cutoff in the future.
		result, err := s.ApplyUsage(ctx, models.KindQuota, q.ID, 6, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(0), result.Previous)
		assert.Equal(t, int64(6), result.Current)
		assert.Equal(t, int64(4), result.Limit)
		assert.Len(t, result.Discarded, 2)
		assert.Empty(t, result.Kept)
		assert.True(t, result.Drifted())
		assert.True(t, result.Over())

		got, err := s.GetQuota(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(6), got.Consumed)
		assert.Equal(t, int64(0), got.Outstanding)
		assert.NotNil(t, got.SyncedAt)
		assert.Equal(t, int64(0), got.Remaining())

		_, _, err = s.Reserve(ctx, models.KindQuota, q.ID, 1, "")
		assert.True(t, errors.IsDenied(err), "over entry must reject new reservations")
	})
}

func TestStore_ApplyUsageKeepsFreshReservations(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		q := newQuota("", "cpu", 10)
		require.NoError(t, s.InsertQuota(ctx, q))

		r, _, err := s.Reserve(ctx, models.KindQuota, q.ID, 3, "")
		require.NoError(t, err)

		result, err := s.ApplyUsage(ctx, models.KindQuota, q.ID, 2, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, result.Kept, 1)
		assert.Empty(t, result.Discarded)

		got, err := s.GetQuota(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Consumed)
		assert.Equal(t, int64(3), got.Outstanding)

		_, err = s.Release(ctx, r.ID)
		require.NoError(t, err)
	})
}

func TestStore_DeleteDropsReservations(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		q := newQuota("", "", 3)
		require.NoError(t, s.InsertQuota(ctx, q))
		r, _, err := s.Reserve(ctx, models.KindQuota, q.ID, 1, "")
		require.NoError(t, err)

		require.NoError(t, s.DeleteQuota(ctx, q.ID))
		_, err = s.GetReservation(ctx, r.ID)
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestStore_Flavors(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		f := &models.Flavor{ID: models.NewID(models.PrefixFlavor), Name: "m1.small", GroupRef: "cpu"}
		require.NoError(t, s.InsertFlavor(ctx, f))

		dup := &models.Flavor{ID: models.NewID(models.PrefixFlavor), Name: "m1.small", GroupRef: "gpu"}
		assert.True(t, errors.IsValidation(s.InsertFlavor(ctx, dup)))

		byName, err := s.FlavorByName(ctx, "m1.small")
		require.NoError(t, err)
		assert.Equal(t, f.ID, byName.ID)

		byID, err := s.GetFlavor(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, "cpu", byID.GroupRef)

		list, err := s.ListFlavors(ctx, "gpu")
		require.NoError(t, err)
		assert.Empty(t, list)

		require.NoError(t, s.DeleteFlavor(ctx, f.ID))
		_, err = s.FlavorByName(ctx, "m1.small")
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestStore_Settings(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		settings := s.Settings()

		_, ok, err := settings.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, settings.Set(ctx, "k", "v1"))
		require.NoError(t, settings.Set(ctx, "k", "v2"))
		v, ok, err := settings.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v2", v)

		ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		require.NoError(t, SetTime(ctx, settings, SettingLastSync, ts))
		got, ok, err := GetTime(ctx, settings, SettingLastSync)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, ts.Equal(got))

		require.NoError(t, settings.Delete(ctx, "k"))
		_, ok, err = settings.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "ledger.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath, WithLogger(logging.Discard()))
	require.NoError(t, err)
	q := newQuota("", "gpu", 7)
	require.NoError(t, s.InsertQuota(ctx, q))
	_, _, err = s.Reserve(ctx, models.KindQuota, q.ID, 2, "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dbPath, WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetQuota(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Outstanding)
	assert.Equal(t, "sqlite", s.Dialect())
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", postgresDialect.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT ?", sqliteDialect.rebind("SELECT ?"))
}
