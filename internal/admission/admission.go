// Package admission decides whether a user may start more instances of a
// flavor. A check reserves capacity on every constrained axis (the most
// specific quota entry and the user's budget) or on none of them.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quotaledger/quotaledger/internal/config"
	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/ledger"
	"github.com/quotaledger/quotaledger/internal/logging"
	"github.com/quotaledger/quotaledger/internal/metrics"
	"github.com/quotaledger/quotaledger/internal/models"
	"github.com/quotaledger/quotaledger/internal/oracle"
	"github.com/quotaledger/quotaledger/internal/tracing"
)

// rollbackTimeout bounds compensating releases, which run even after the
// caller has gone away.
const rollbackTimeout = 5 * time.Second

// Controller answers admission checks.
type Controller struct {
	ledger  *ledger.Ledger
	flavors *lru.Cache
	probe   oracle.Oracle
	mu      sync.RWMutex
	cfg     config.AdmissionConfig
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithProbe sets the oracle consulted before reserving when live probing
// is enabled. Wrap it in an oracle.ProbeCache to bound oracle traffic.
func WithProbe(o oracle.Oracle) Option {
	return func(c *Controller) { c.probe = o }
}

// New creates a Controller.
func New(l *ledger.Ledger, cfg config.AdmissionConfig, opts ...Option) (*Controller, error) {
	size := cfg.FlavorCacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	c := &Controller{
		ledger:  l,
		flavors: cache,
		cfg:     cfg,
		logger:  logging.NewLogger(),
		tracer:  tracing.Tracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "admission")
	return c, nil
}

// SetConfig swaps in a reloaded admission configuration. The flavor cache
// keeps its size.
func (c *Controller) SetConfig(cfg config.AdmissionConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Timeout <= 0 {
		cfg.Timeout = c.cfg.Timeout
	}
	c.cfg = cfg
}

func (c *Controller) config() config.AdmissionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// InvalidateFlavor drops a cached flavor after it is deleted or changed.
func (c *Controller) InvalidateFlavor(refs ...string) {
	for _, ref := range refs {
		c.flavors.Remove(ref)
	}
}

// Check decides whether user may start count more instances of flavor.
//
// A denial is a Decision with Allowed=false and a nil error. Errors are
// reserved for bad input, unknown flavors and infrastructure failures; in
// the last case nothing stays reserved and the caller must treat the check
// as failed.
func (c *Controller) Check(ctx context.Context, user, flavor string, count uint32) (decision *models.Decision, err error) {
	start := time.Now()
	ctx, _ = logging.EnsureCorrelationID(ctx)
	ctx, span := c.tracer.Start(ctx, "admission.Check", trace.WithAttributes(
		attribute.String("user", user),
		attribute.String("flavor", flavor),
		attribute.Int64("count", int64(count)),
	))
	defer func() {
		outcome, factor := "error", string(models.LimitNone)
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case decision.Allowed:
			outcome, factor = "allowed", string(decision.LimitingFactor)
		default:
			outcome, factor = "denied", string(decision.LimitingFactor)
		}
		span.SetAttributes(attribute.String("outcome", outcome), attribute.String("limiting_factor", factor))
		span.End()
		c.metrics.RecordAdmission(outcome, factor, time.Since(start).Seconds())
	}()

	if user == "" {
		return nil, errors.Invalid("user", "required")
	}
	if flavor == "" {
		return nil, errors.Invalid("flavor", "required")
	}

	cfg := c.config()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	f, err := c.resolveFlavor(ctx, flavor)
	if err != nil {
		return nil, err
	}

	quota, err := c.ledger.Resolve(ctx, user, f.GroupRef)
	if err != nil {
		return nil, err
	}
	budget, err := c.ledger.BudgetForOwner(ctx, user)
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}
	if errors.IsNotFound(err) {
		budget = nil
	}

	decision = &models.Decision{
		Allowed:        true,
		Remaining:      models.Unlimited,
		LimitingFactor: models.LimitNone,
		User:           user,
		Flavor:         f.Name,
		Group:          f.GroupRef,
		Count:          count,
	}
	if quota != nil {
		decision.QuotaEntryID = quota.ID
	}
	if budget != nil {
		decision.BudgetEntryID = budget.ID
	}

	if count == 0 {
		if quota != nil {
			decision.Tighten(quota.Remaining(), models.LimitQuota)
		}
		if budget != nil {
			decision.Tighten(budget.Remaining(), models.LimitBudget)
		}
		return decision, nil
	}

	if cfg.LiveProbe && c.probe != nil {
		if denied := c.probeAxes(ctx, decision, quota, budget, int64(count)); denied {
			return decision, nil
		}
	}

	return c.reserve(ctx, decision, quota, budget, int64(count))
}

type axis struct {
	kind   models.EntryKind
	id     string
	factor models.LimitingFactor
}

// reserve takes count on each constrained axis in order, rolling back
// earlier axes when a later one rejects or fails.
func (c *Controller) reserve(ctx context.Context, decision *models.Decision, quota *models.QuotaEntry, budget *models.BudgetEntry, count int64) (*models.Decision, error) {
	var axes []axis
	if quota != nil {
		axes = append(axes, axis{models.KindQuota, quota.ID, models.LimitQuota})
	}
	if budget != nil {
		axes = append(axes, axis{models.KindBudget, budget.ID, models.LimitBudget})
	}

	correlationID := logging.GetCorrelationID(ctx)
	var held []string

	for _, ax := range axes {
		res, bal, err := c.ledger.Reserve(ctx, ax.kind, ax.id, count, correlationID)
		if err != nil {
			c.rollback(ctx, held)

			var exceeded *errors.ErrLimitExceeded
			if errors.As(err, &exceeded) {
				decision.Allowed = false
				decision.Remaining = exceeded.Remaining()
				decision.LimitingFactor = ax.factor
				decision.Reason = fmt.Sprintf("%s %s: requested %d, %d of %d in use",
					ax.factor, ax.id, count, exceeded.Used, exceeded.Limit)
				c.logger.InfoWithContext(ctx, "admission denied",
					"user", decision.User, "flavor", decision.Flavor, "count", count,
					"limiting_factor", string(ax.factor), "entry_id", ax.id, "remaining", decision.Remaining)
				return decision, nil
			}
			c.logger.ErrorWithContext(ctx, "admission reserve failed",
				"entry_kind", string(ax.kind), "entry_id", ax.id, "error", err)
			return nil, err
		}
		held = append(held, res.ID)
		decision.Tighten(bal.Remaining(), ax.factor)
	}

	// Abandoned after committing: nothing may stay reserved.
	if err := ctx.Err(); err != nil {
		c.rollback(ctx, held)
		return nil, errors.Store("admission", err)
	}

	decision.Reservations = held
	c.logger.DebugWithContext(ctx, "admission allowed",
		"user", decision.User, "flavor", decision.Flavor, "count", count,
		"remaining", decision.Remaining, "limiting_factor", string(decision.LimitingFactor))
	return decision, nil
}

// rollback releases reservations on a context detached from the caller's,
// so a cancelled check still compensates. A release that fails is left to
// reconciliation, which discards it once it is older than the grace window.
func (c *Controller) rollback(ctx context.Context, reservationIDs []string) {
	if len(reservationIDs) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	for _, id := range reservationIDs {
		if err := c.ledger.Release(rctx, id); err != nil {
			c.metrics.RecordReservation("rollback", "error")
			c.logger.ErrorWithContext(ctx, "rollback failed", "reservation_id", id, "error", err)
			continue
		}
		c.metrics.RecordReservation("rollback", "success")
	}
}

// probeAxes asks the oracle for live usage and denies early when the fresh
// figure plus outstanding reservations leaves no room. Probe failures are
// logged and ignored.
func (c *Controller) probeAxes(ctx context.Context, decision *models.Decision, quota *models.QuotaEntry, budget *models.BudgetEntry, count int64) bool {
	if quota != nil {
		usage, err := c.probe.CurrentUsage(ctx, quota.OwnerRef, quota.GroupRef)
		if err != nil {
			c.logger.WarnWithContext(ctx, "live probe failed", "entry_id", quota.ID, "error", err)
		} else if usage+quota.Outstanding+count > quota.Limit {
			c.deny(decision, models.LimitQuota, quota.ID, quota.Limit, usage+quota.Outstanding, count)
			return true
		}
	}
	if budget != nil {
		usage, err := c.probe.CurrentBudgetConsumption(ctx, budget.OwnerRef)
		if err != nil {
			c.logger.WarnWithContext(ctx, "live probe failed", "entry_id", budget.ID, "error", err)
		} else if usage+budget.Outstanding+count > budget.Limit {
			c.deny(decision, models.LimitBudget, budget.ID, budget.Limit, usage+budget.Outstanding, count)
			return true
		}
	}
	return false
}

func (c *Controller) deny(decision *models.Decision, factor models.LimitingFactor, entryID string, limit, used, count int64) {
	decision.Allowed = false
	decision.LimitingFactor = factor
	decision.Remaining = limit - used
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	decision.Reason = fmt.Sprintf("%s %s: requested %d, live usage %d of %d", factor, entryID, count, used, limit)
}

func (c *Controller) resolveFlavor(ctx context.Context, ref string) (*models.Flavor, error) {
	if v, ok := c.flavors.Get(ref); ok {
		return v.(*models.Flavor), nil
	}
	f, err := c.ledger.GetFlavor(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.flavors.Add(ref, f)
	return f, nil
}
