// Package drift reports ledger entries whose recorded consumption exceeds
// their limit. It only observes; nothing here changes an entry.
package drift

import (
	"context"
	"sort"

	"github.com/quotaledger/quotaledger/internal/metrics"
	"github.com/quotaledger/quotaledger/internal/models"
	"github.com/quotaledger/quotaledger/internal/store"
)

// Detector scans the store for over entries.
type Detector struct {
	store   store.Store
	metrics *metrics.Metrics
}

func New(s store.Store, m *metrics.Metrics) *Detector {
	return &Detector{store: s, metrics: m}
}

// ListOver returns every quota and budget entry with consumed strictly
// greater than limit, quotas first, each kind ordered by id.
func (d *Detector) ListOver(ctx context.Context) ([]models.OverageRecord, error) {
	quotas, err := d.store.ListQuotas(ctx, models.QuotaFilter{All: true})
	if err != nil {
		return nil, err
	}
	budgets, err := d.store.ListBudgets(ctx, "")
	if err != nil {
		return nil, err
	}

	records := []models.OverageRecord{}
	overQuotas, overBudgets := 0, 0
	for _, q := range quotas {
		if !q.IsOver() {
			continue
		}
		overQuotas++
		records = append(records, models.OverageRecord{
			EntryKind: models.KindQuota,
			EntryID:   q.ID,
			OwnerRef:  q.OwnerRef,
			GroupRef:  q.GroupRef,
			Limit:     q.Limit,
			Consumed:  q.Consumed,
			Overage:   q.Consumed - q.Limit,
		})
	}
	for _, b := range budgets {
		if !b.IsOver() {
			continue
		}
		overBudgets++
		records = append(records, models.OverageRecord{
			EntryKind: models.KindBudget,
			EntryID:   b.ID,
			OwnerRef:  b.OwnerRef,
			Limit:     b.Limit,
			Consumed:  b.Consumed,
			Overage:   b.Consumed - b.Limit,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].EntryKind != records[j].EntryKind {
			return records[i].EntryKind == models.KindQuota
		}
		return records[i].EntryID < records[j].EntryID
	})

	d.metrics.SetOverEntries(string(models.KindQuota), overQuotas)
	d.metrics.SetOverEntries(string(models.KindBudget), overBudgets)
	return records, nil
}
