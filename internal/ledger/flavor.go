package ledger

import (
	"context"

	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/models"
)

// CreateFlavor registers name as belonging to group.
func (l *Ledger) CreateFlavor(ctx context.Context, name, group string) (*models.Flavor, error) {
	f := &models.Flavor{ID: models.NewID(models.PrefixFlavor), Name: name, GroupRef: group}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := l.store.InsertFlavor(ctx, f); err != nil {
		return nil, err
	}
	l.logger.InfoWithContext(ctx, "flavor created", "flavor_id", f.ID, "name", name, "group", group)
	return f, nil
}

// GetFlavor looks a flavor up by id or, failing that, by name.
func (l *Ledger) GetFlavor(ctx context.Context, ref string) (*models.Flavor, error) {
	if ref == "" {
		return nil, errors.Invalid("flavor", "required")
	}
	if models.IDHasPrefix(ref, models.PrefixFlavor) {
		f, err := l.store.GetFlavor(ctx, ref)
		if err == nil || !errors.IsNotFound(err) {
			return f, err
		}
	}
	return l.store.FlavorByName(ctx, ref)
}

func (l *Ledger) ListFlavors(ctx context.Context, group string) ([]*models.Flavor, error) {
	return l.store.ListFlavors(ctx, group)
}

// DeleteFlavor removes a flavor by id or name.
func (l *Ledger) DeleteFlavor(ctx context.Context, ref string) error {
	f, err := l.GetFlavor(ctx, ref)
	if err != nil {
		return err
	}
	if err := l.store.DeleteFlavor(ctx, f.ID); err != nil {
		return err
	}
	l.logger.InfoWithContext(ctx, "flavor deleted", "flavor_id", f.ID, "name", f.Name)
	return nil
}
