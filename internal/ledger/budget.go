package ledger

import (
	"context"

	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/models"
)

func (l *Ledger) GetBudget(ctx context.Context, id string) (*models.BudgetEntry, error) {
	return l.store.GetBudget(ctx, id)
}

// ListBudgets lists every budget, or only owner's when owner is set.
func (l *Ledger) ListBudgets(ctx context.Context, owner string) ([]*models.BudgetEntry, error) {
	return l.store.ListBudgets(ctx, owner)
}

// BudgetForOwner returns owner's budget or ErrMissing.
func (l *Ledger) BudgetForOwner(ctx context.Context, owner string) (*models.BudgetEntry, error) {
	return l.store.BudgetByOwner(ctx, owner)
}

// CreateBudget provisions the single budget an owner may have.
func (l *Ledger) CreateBudget(ctx context.Context, owner string, limit int64) (*models.BudgetEntry, error) {
	ts := l.now()
	b := &models.BudgetEntry{
		ID:        models.NewID(models.PrefixBudget),
		OwnerRef:  owner,
		Limit:     limit,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := l.store.InsertBudget(ctx, b); err != nil {
		return nil, err
	}
	l.logger.InfoWithContext(ctx, "budget created", "budget_id", b.ID, "user", owner, "limit", limit)
	return b, nil
}

// ModifyBudget applies an administrative override of limit or consumed.
func (l *Ledger) ModifyBudget(ctx context.Context, id string, patch models.BudgetPatch) (*models.BudgetEntry, error) {
	if patch.Empty() {
		return l.store.GetBudget(ctx, id)
	}
	if patch.Limit != nil && *patch.Limit < 0 {
		return nil, errors.Invalid("limit", "must not be negative, got %d", *patch.Limit)
	}
	if patch.Consumed != nil && *patch.Consumed < 0 {
		return nil, errors.Invalid("consumed", "must not be negative, got %d", *patch.Consumed)
	}
	if err := l.store.UpdateBudget(ctx, id, patch); err != nil {
		return nil, err
	}

	updated, err := l.store.GetBudget(ctx, id)
	if err != nil {
		return nil, err
	}
	l.logger.InfoWithContext(ctx, "budget modified",
		"budget_id", id, "limit", updated.Limit, "consumed", updated.Consumed)
	return updated, nil
}

func (l *Ledger) DeleteBudget(ctx context.Context, id string) error {
	if err := l.store.DeleteBudget(ctx, id); err != nil {
		return err
	}
	l.metrics.DeleteEntry(string(models.KindBudget), id)
	l.logger.InfoWithContext(ctx, "budget deleted", "budget_id", id)
	return nil
}
