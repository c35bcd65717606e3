// Package oracle answers how much of a resource is actually in use. It is
// the authority reconciliation overwrites the ledger with.
package oracle

import (
	"context"
	"fmt"

	"github.com/quotaledger/quotaledger/internal/config"
)

// Oracle reports real consumption. An empty owner means every user and an
// empty group means every group, so ("", "") is the global total.
type Oracle interface {
	CurrentUsage(ctx context.Context, owner, group string) (int64, error)
	CurrentBudgetConsumption(ctx context.Context, owner string) (int64, error)
}

// New builds the oracle selected by cfg.Mode.
func New(cfg config.OracleConfig) (Oracle, error) {
	switch cfg.Mode {
	case config.OracleHTTP:
		return NewHTTPOracle(cfg)
	case config.OracleStatic, "":
		return NewStaticOracleFromConfig(cfg.Static), nil
	}
	return nil, fmt.Errorf("unknown oracle mode %q", cfg.Mode)
}
