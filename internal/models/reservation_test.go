package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotaledger/quotaledger/internal/errors"
)

func TestReservation_Validate(t *testing.T) {
	valid := Reservation{ID: "r1", EntryKind: KindQuota, EntryID: "quota_1", Delta: 2}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.Delta = 0
	assert.Error(t, bad.Validate())

	bad = valid
	bad.EntryKind = "other"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.EntryID = ""
	assert.Error(t, bad.Validate())
}

func TestReservationSlice_Split(t *testing.T) {
	now := time.Now()
	rs := ReservationSlice{
		{ID: "old", Delta: 2, CreatedAt: now.Add(-10 * time.Minute)},
		{ID: "new", Delta: 3, CreatedAt: now.Add(-time.Minute)},
	}
	assert.Equal(t, int64(5), rs.Total())

	kept, stale := rs.Split(now.Add(-5 * time.Minute))
	require.Len(t, kept, 1)
	require.Len(t, stale, 1)
	assert.Equal(t, "new", kept[0].ID)
	assert.Equal(t, "old", stale[0].ID)
	assert.Equal(t, int64(3), kept.Total())
}

func TestApplyResult(t *testing.T) {
	r := &ApplyResult{Previous: 3, Current: 3, Limit: 2}
	assert.False(t, r.Drifted())
	assert.True(t, r.Over())

	r.Current = 1
	assert.True(t, r.Drifted())
	assert.False(t, r.Over())
}

func TestDecision_Tighten(t *testing.T) {
	d := &Decision{Allowed: true, Remaining: Unlimited, LimitingFactor: LimitNone}
	d.Tighten(5, LimitQuota)
	assert.Equal(t, int64(5), d.Remaining)
	assert.Equal(t, LimitQuota, d.LimitingFactor)

	d.Tighten(9, LimitBudget)
	assert.Equal(t, LimitQuota, d.LimitingFactor)

	d.Tighten(1, LimitBudget)
	assert.Equal(t, int64(1), d.Remaining)
	assert.Equal(t, LimitBudget, d.LimitingFactor)
}

func TestDecision_Err(t *testing.T) {
	assert.NoError(t, (&Decision{Allowed: true}).Err())

	err := (&Decision{LimitingFactor: LimitQuota, Reason: "full"}).Err()
	assert.True(t, errors.Is(err, errors.ErrQuotaExceeded))

	err = (&Decision{LimitingFactor: LimitBudget, Reason: "spent"}).Err()
	assert.True(t, errors.Is(err, errors.ErrBudgetExceeded))
}

func TestBudgetEntry(t *testing.T) {
	b := &BudgetEntry{OwnerRef: "alice", Limit: 10, Consumed: 4, Outstanding: 4}
	require.NoError(t, b.Validate())
	assert.Equal(t, int64(2), b.Remaining())
	assert.Equal(t, Pair{Kind: KindBudget, Owner: "alice"}, b.Pair())

	consumed := int64(12)
	BudgetPatch{Consumed: &consumed}.Apply(b)
	assert.True(t, b.IsOver())

	assert.Error(t, (&BudgetEntry{Limit: 1}).Validate())
	assert.Error(t, (&BudgetEntry{OwnerRef: "a", Limit: -1}).Validate())
}

func TestFlavor_Validate(t *testing.T) {
	assert.NoError(t, (&Flavor{Name: "m1.large", GroupRef: "general"}).Validate())
	assert.Error(t, (&Flavor{Name: "m1.large"}).Validate())
	assert.Error(t, (&Flavor{GroupRef: "general"}).Validate())
}
