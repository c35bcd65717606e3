package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/logging"
	"github.com/quotaledger/quotaledger/internal/models"
	"github.com/quotaledger/quotaledger/internal/store"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(store.NewMemoryStore(), WithLogger(logging.Discard()))
}

func int64p(v int64) *int64 { return &v }
func strp(v string) *string { return &v }
func ignoreStamps() cmp.Option {
	return cmpopts.IgnoreFields(models.QuotaEntry{}, "CreatedAt", "UpdatedAt")
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  models.CreateQuotaRequest
	}{
		{"negative limit", models.CreateQuotaRequest{Scope: models.ScopeGlobal, Limit: -1}},
		{"group scope without group", models.CreateQuotaRequest{Scope: models.ScopeGroup, Limit: 1}},
		{"user scope without user", models.CreateQuotaRequest{Scope: models.ScopeUser, GroupRef: "gpu", Limit: 1}},
		{"global with group", models.CreateQuotaRequest{Scope: models.ScopeGlobal, GroupRef: "gpu", Limit: 1}},
		{"unknown scope", models.CreateQuotaRequest{Scope: "planet", Limit: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t)
			_, err := l.Create(context.Background(), tt.req)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}
}

func TestCreate_DerivesScopeAndRejectsDuplicates(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	q, err := l.Create(ctx, models.CreateQuotaRequest{GroupRef: "gpu", OwnerRef: "alice", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, models.ScopeUser, q.Scope)
	assert.True(t, models.IDHasPrefix(q.ID, models.PrefixQuota))

	got, err := l.Get(ctx, q.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(q, got, ignoreStamps()); diff != "" {
		t.Fatalf("stored entry differs (-want +got):\n%s", diff)
	}

	_, err = l.Create(ctx, models.CreateQuotaRequest{Scope: models.ScopeUser, GroupRef: "gpu", OwnerRef: "alice", Limit: 9})
	assert.True(t, errors.IsValidation(err))
}

func TestModify_PartialUpdate(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	q, err := l.Create(ctx, models.CreateQuotaRequest{Scope: models.ScopeGroup, GroupRef: "gpu", Limit: 10})
	require.NoError(t, err)

	updated, err := l.Modify(ctx, q.ID, models.QuotaPatch{Limit: int64p(3)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated.Limit)
	assert.Equal(t, "gpu", updated.GroupRef)
	assert.Equal(t, models.ScopeGroup, updated.Scope)

	updated, err = l.Modify(ctx, q.ID, models.QuotaPatch{OwnerRef: strp("bob")})
	require.NoError(t, err)
	assert.Equal(t, models.ScopeUser, updated.Scope)
	assert.Equal(t, int64(3), updated.Limit)

	_, err = l.Modify(ctx, q.ID, models.QuotaPatch{Limit: int64p(-4)})
	assert.True(t, errors.IsValidation(err))

	_, err = l.Modify(ctx, "quota_01h2xcejqtf2nbrexx3vqjhp41", models.QuotaPatch{Limit: int64p(1)})
	assert.True(t, errors.IsNotFound(err))
}

func TestModify_LimitBelowConsumedIsLegal(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	q, err := l.Create(ctx, models.CreateQuotaRequest{Scope: models.ScopeGroup, GroupRef: "gpu", Limit: 10})
	require.NoError(t, err)
	_, err = l.ApplyUsage(ctx, models.KindQuota, q.ID, 6, time.Now())
	require.NoError(t, err)

	updated, err := l.Modify(ctx, q.ID, models.QuotaPatch{Limit: int64p(4)})
	require.NoError(t, err)
	assert.Equal(t, int64(6), updated.Consumed, "consumed must not be clamped")
	assert.True(t, updated.IsOver())
}

func TestDelete_NotIdempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	q, err := l.Create(ctx, models.CreateQuotaRequest{Scope: models.ScopeGlobal, Limit: 1})
	require.NoError(t, err)

	require.NoError(t, l.Delete(ctx, q.ID))
	assert.True(t, errors.IsNotFound(l.Delete(ctx, q.ID)))
}

func TestList_Filters(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for _, req := range []models.CreateQuotaRequest{
		{Scope: models.ScopeGlobal, Limit: 100},
		{Scope: models.ScopeGroup, GroupRef: "gpu", Limit: 10},
		{Scope: models.ScopeUser, GroupRef: "gpu", OwnerRef: "alice", Limit: 2},
		{Scope: models.ScopeUser, GroupRef: "cpu", OwnerRef: "alice", Limit: 4},
	} {
		_, err := l.Create(ctx, req)
		require.NoError(t, err)
	}

	all, err := l.List(ctx, models.QuotaFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	gpu, err := l.List(ctx, models.QuotaFilter{Group: "gpu"})
	require.NoError(t, err)
	assert.Len(t, gpu, 2)

	alice, err := l.List(ctx, models.QuotaFilter{User: "alice"})
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	_, err = l.List(ctx, models.QuotaFilter{Group: "gpu", User: "alice"})
	assert.True(t, errors.IsValidation(err))
}

func TestResolve_Specificity(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	global, err := l.Create(ctx, models.CreateQuotaRequest{Scope: models.ScopeGlobal, Limit: 1000})
	require.NoError(t, err)
	group, err := l.Create(ctx, models.CreateQuotaRequest{Scope: models.ScopeGroup, GroupRef: "gpu", Limit: 100})
	require.NoError(t, err)
	user, err := l.Create(ctx, models.CreateQuotaRequest{Scope: models.ScopeUser, GroupRef: "gpu", OwnerRef: "alice", Limit: 5})
	require.NoError(t, err)

	got, err := l.Resolve(ctx, "alice", "gpu")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	got, err = l.Resolve(ctx, "bob", "gpu")
	require.NoError(t, err)
	assert.Equal(t, group.ID, got.ID)

	got, err = l.Resolve(ctx, "alice", "cpu")
	require.NoError(t, err)
	assert.Equal(t, global.ID, got.ID)

	require.NoError(t, l.Delete(ctx, global.ID))
	got, err = l.Resolve(ctx, "alice", "cpu")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReserveReleaseConfirm(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	q, err := l.Create(ctx, models.CreateQuotaRequest{Scope: models.ScopeGroup, GroupRef: "gpu", Limit: 3})
	require.NoError(t, err)

	r1, bal, err := l.Reserve(ctx, models.KindQuota, q.ID, 2, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bal.Remaining())

	_, _, err = l.Reserve(ctx, models.KindQuota, q.ID, 2, "c2")
	assert.True(t, errors.Is(err, errors.ErrQuotaExceeded))

	require.NoError(t, l.Release(ctx, r1.ID))
	assert.True(t, errors.IsNotFound(l.Release(ctx, r1.ID)))

	r2, _, err := l.Reserve(ctx, models.KindQuota, q.ID, 3, "c3")
	require.NoError(t, err)
	require.NoError(t, l.Confirm(ctx, r2.ID))

	got, err := l.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Consumed)
	assert.Equal(t, int64(0), got.Outstanding)
}

func TestBudgets(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreateBudget(ctx, "", 10)
	assert.True(t, errors.IsValidation(err))
	_, err = l.CreateBudget(ctx, "alice", -1)
	assert.True(t, errors.IsValidation(err))

	b, err := l.CreateBudget(ctx, "alice", 10)
	require.NoError(t, err)
	assert.True(t, models.IDHasPrefix(b.ID, models.PrefixBudget))

	_, err = l.CreateBudget(ctx, "alice", 20)
	assert.True(t, errors.IsValidation(err), "one budget per user")

	got, err := l.BudgetForOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = l.BudgetForOwner(ctx, "bob")
	assert.True(t, errors.IsNotFound(err))

	updated, err := l.ModifyBudget(ctx, b.ID, models.BudgetPatch{Consumed: int64p(12)})
	require.NoError(t, err)
	assert.Equal(t, int64(10), updated.Limit)
	assert.True(t, updated.IsOver())

	list, err := l.ListBudgets(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, l.DeleteBudget(ctx, b.ID))
	assert.True(t, errors.IsNotFound(l.DeleteBudget(ctx, b.ID)))
}

func TestFlavors(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreateFlavor(ctx, "m1.large", "")
	assert.True(t, errors.IsValidation(err))

	f, err := l.CreateFlavor(ctx, "m1.large", "gpu")
	require.NoError(t, err)

	byName, err := l.GetFlavor(ctx, "m1.large")
	require.NoError(t, err)
	assert.Equal(t, f.ID, byName.ID)

	byID, err := l.GetFlavor(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "m1.large", byID.Name)

	_, err = l.GetFlavor(ctx, "m9.huge")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, l.DeleteFlavor(ctx, "m1.large"))
	list, err := l.ListFlavors(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestApplyUsage_RejectsNegative(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.ApplyUsage(context.Background(), models.KindQuota, "quota_x", -1, time.Now())
	assert.True(t, errors.IsValidation(err))
}

// interleavingStore lands a usage report right before each budget update.
type interleavingStore struct {
	store.Store
	actual int64
}

func (s *interleavingStore) UpdateBudget(ctx context.Context, id string, patch models.BudgetPatch) error {
	if _, err := s.Store.ApplyUsage(ctx, models.KindBudget, id, s.actual, time.Now()); err != nil {
		return err
	}
	return s.Store.UpdateBudget(ctx, id, patch)
}

func TestModifyBudget_KeepsConcurrentUsage(t *testing.T) {
	ctx := context.Background()
	s := &interleavingStore{Store: store.NewMemoryStore(), actual: 9}
	l := New(s, WithLogger(logging.Discard()))

	b, err := l.CreateBudget(ctx, "alice", 10)
	require.NoError(t, err)

	updated, err := l.ModifyBudget(ctx, b.ID, models.BudgetPatch{Limit: int64p(8)})
	require.NoError(t, err)
	assert.Equal(t, int64(8), updated.Limit)
	assert.Equal(t, int64(9), updated.Consumed)
	assert.True(t, updated.IsOver())
}

func TestModifyBudget_ConcurrentWithConfirm(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	b, err := l.CreateBudget(ctx, "alice", 100)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r, _, err := l.Reserve(ctx, models.KindBudget, b.ID, 1, "")
			if assert.NoError(t, err) {
				assert.NoError(t, l.Confirm(ctx, r.ID))
			}
		}()
		go func(limit int64) {
			defer wg.Done()
			_, err := l.ModifyBudget(ctx, b.ID, models.BudgetPatch{Limit: int64p(limit)})
			assert.NoError(t, err)
		}(int64(100 + i))
	}
	wg.Wait()

	got, err := l.GetBudget(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.Consumed)
	assert.Zero(t, got.Outstanding)
}

func TestModifyBudget_RejectsNegative(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	b, err := l.CreateBudget(ctx, "alice", 10)
	require.NoError(t, err)

	_, err = l.ModifyBudget(ctx, b.ID, models.BudgetPatch{Limit: int64p(-1)})
	assert.True(t, errors.IsValidation(err))
	_, err = l.ModifyBudget(ctx, b.ID, models.BudgetPatch{Consumed: int64p(-1)})
	assert.True(t, errors.IsValidation(err))
	_, err = l.ModifyBudget(ctx, "budget_missing", models.BudgetPatch{Limit: int64p(1)})
	assert.True(t, errors.IsNotFound(err))
}
