// Package engine wires the ledger, admission, drift and reconciliation
// components together and exposes the operations served over HTTP and the CLI.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/quotaledger/quotaledger/internal/admission"
	"github.com/quotaledger/quotaledger/internal/config"
	"github.com/quotaledger/quotaledger/internal/drift"
	"github.com/quotaledger/quotaledger/internal/ledger"
	"github.com/quotaledger/quotaledger/internal/logging"
	"github.com/quotaledger/quotaledger/internal/metrics"
	"github.com/quotaledger/quotaledger/internal/models"
	"github.com/quotaledger/quotaledger/internal/notify"
	"github.com/quotaledger/quotaledger/internal/oracle"
	"github.com/quotaledger/quotaledger/internal/reconcile"
	"github.com/quotaledger/quotaledger/internal/store"
	"github.com/quotaledger/quotaledger/internal/tracing"
)

// Engine owns every long-lived component of a quotaledger process.
type Engine struct {
	mu  sync.RWMutex
	cfg *config.Config

	store     store.Store
	ledger    *ledger.Ledger
	admission *admission.Controller
	drift     *drift.Detector
	scheduler *reconcile.Scheduler
	oracle    oracle.Oracle
	probe     *oracle.ProbeCache

	logger  *logging.Logger
	metrics *metrics.Metrics
	audit   logging.AuditSink

	ownsStore       bool
	shutdownTracing tracing.ShutdownFunc
	closeOnce       sync.Once
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger   *logging.Logger
	metrics  *metrics.Metrics
	store    store.Store
	oracle   oracle.Oracle
	notifier notify.Notifier
	audit    logging.AuditSink
}

func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithStore uses s instead of opening the configured store. The caller keeps ownership.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithOracle uses o instead of building one from the oracle section.
func WithOracle(or oracle.Oracle) Option {
	return func(o *options) { o.oracle = or }
}

// WithNotifier uses n instead of building one from the telegram section.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithAuditSink adds a sink for administrative audit events.
func WithAuditSink(s logging.AuditSink) Option {
	return func(o *options) { o.audit = s }
}

// New builds an Engine from cfg. The scheduler is not started; call Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NewLogger(logging.WithLevel(logging.ParseLevel(cfg.Server.LogLevel)))
	}
	if o.metrics == nil {
		o.metrics = metrics.NewMetrics("quotaledger")
	}

	e := &Engine{
		cfg:     cfg,
		logger:  o.logger,
		metrics: o.metrics,
	}

	e.audit = logging.NewLogAuditSink(o.logger)
	if o.audit != nil {
		e.audit = logging.MultiAuditSink{e.audit, o.audit}
	}

	shutdown, err := tracing.Configure(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("configure tracing: %w", err)
	}
	e.shutdownTracing = shutdown

	e.store = o.store
	if e.store == nil {
		e.store, err = store.Open(cfg.Store, o.logger)
		if err != nil {
			_ = shutdown(ctx)
			return nil, err
		}
		e.ownsStore = true
	}

	e.oracle = o.oracle
	if e.oracle == nil {
		e.oracle, err = oracle.New(cfg.Oracle)
		if err != nil {
			e.closeResources(ctx)
			return nil, err
		}
	}

	notifier := o.notifier
	if notifier == nil {
		notifier, err = notify.New(cfg.Telegram, o.logger, o.metrics)
		if err != nil {
			e.closeResources(ctx)
			return nil, err
		}
	}

	e.ledger = ledger.New(e.store, ledger.WithLogger(o.logger), ledger.WithMetrics(o.metrics))

	e.probe = oracle.NewProbeCache(e.oracle, cfg.Admission.ProbeCacheBytes, cfg.Admission.ProbeCacheTTL)
	e.admission, err = admission.New(e.ledger, cfg.Admission,
		admission.WithLogger(o.logger),
		admission.WithMetrics(o.metrics),
		admission.WithProbe(e.probe),
	)
	if err != nil {
		e.closeResources(ctx)
		return nil, err
	}

	e.drift = drift.New(e.store, o.metrics)

	e.scheduler, err = reconcile.New(e.ledger, e.oracle, cfg.Reconcile,
		reconcile.WithLogger(o.logger.With("component", "reconcile")),
		reconcile.WithMetrics(o.metrics),
		reconcile.WithNotifier(notifier),
	)
	if err != nil {
		e.closeResources(ctx)
		return nil, err
	}
	if err := e.scheduler.Restore(ctx); err != nil {
		o.logger.Warn("restore last sync report failed", "error", err.Error())
	}

	return e, nil
}

// Start launches background reconciliation when enabled.
func (e *Engine) Start(ctx context.Context) error {
	if !e.Config().Reconcile.Enabled {
		e.logger.Info("reconciliation disabled")
		return nil
	}
	return e.scheduler.Start(ctx)
}

// Close stops the scheduler and releases the store and the tracer.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		e.scheduler.Stop()
		err = e.closeResources(ctx)
	})
	return err
}

func (e *Engine) closeResources(ctx context.Context) error {
	var errs []error
	if e.ownsStore && e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if e.shutdownTracing != nil {
		if err := e.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// Config returns the active configuration.
func (e *Engine) Config() *config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// ApplyConfig hot-swaps the sections that do not need a restart.
func (e *Engine) ApplyConfig(ctx context.Context, next *config.Config) error {
	prev := e.Config()
	if !config.ReloadableChanged(prev, next) {
		return nil
	}

	event := logging.NewAuditEvent(logging.ConfigChange, "reload", logging.StatusSuccess)
	defer func() { e.audit.Record(ctx, event) }()

	e.admission.SetConfig(next.Admission)
	if err := e.scheduler.SetConfig(next.Reconcile); err != nil {
		event.WithError(err)
		return err
	}
	if prev.Telegram != next.Telegram {
		n, err := notify.New(next.Telegram, e.logger, e.metrics)
		if err != nil {
			event.WithError(err)
			return err
		}
		e.scheduler.SetNotifier(n)
	}
	if prev.Reconcile.Enabled != next.Reconcile.Enabled {
		if next.Reconcile.Enabled {
			if err := e.scheduler.Start(context.WithoutCancel(ctx)); err != nil {
				event.WithError(err)
				return err
			}
		} else {
			e.scheduler.Stop()
		}
	}

	e.mu.Lock()
	merged := *prev
	merged.Admission = next.Admission
	merged.Reconcile = next.Reconcile
	merged.Telegram = next.Telegram
	e.cfg = &merged
	e.mu.Unlock()

	e.logger.InfoWithContext(ctx, "configuration reloaded")
	return nil
}

// Ledger exposes the quota ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Scheduler exposes the reconciliation scheduler.
func (e *Engine) Scheduler() *reconcile.Scheduler { return e.scheduler }

func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

func (e *Engine) Logger() *logging.Logger { return e.logger }

// AuditSink receives every administrative audit event.
func (e *Engine) AuditSink() logging.AuditSink { return e.audit }

// Health reports whether the store answers.
func (e *Engine) Health(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// record emits an audit event for an administrative action.
func (e *Engine) record(ctx context.Context, typ logging.AuditEventType, action, resource string, err error, details map[string]interface{}) {
	status := logging.StatusSuccess
	if err != nil {
		status = logging.StatusFailure
	}
	event := logging.NewAuditEvent(typ, action, status).WithResource(resource).WithError(err)
	for k, v := range details {
		event.WithDetail(k, v)
	}
	e.audit.Record(ctx, event)
}

// CreateQuota adds a quota entry.
func (e *Engine) CreateQuota(ctx context.Context, req models.CreateQuotaRequest) (*models.QuotaEntry, error) {
	q, err := e.ledger.Create(ctx, req)
	resource := ""
	if q != nil {
		resource = q.ID
	}
	e.record(ctx, logging.QuotaCreate, "create", resource, err, map[string]interface{}{
		"user": req.OwnerRef, "group": req.GroupRef, "limit": req.Limit,
	})
	return q, err
}

// ListQuota returns entries matching filter.
func (e *Engine) ListQuota(ctx context.Context, filter models.QuotaFilter) ([]*models.QuotaEntry, error) {
	return e.ledger.List(ctx, filter)
}

func (e *Engine) GetQuota(ctx context.Context, id string) (*models.QuotaEntry, error) {
	return e.ledger.Get(ctx, id)
}

// ModifyQuota applies a partial update to a quota entry.
func (e *Engine) ModifyQuota(ctx context.Context, id string, patch models.QuotaPatch) (*models.QuotaEntry, error) {
	q, err := e.ledger.Modify(ctx, id, patch)
	details := map[string]interface{}{}
	if patch.Limit != nil {
		details["limit"] = *patch.Limit
	}
	if patch.GroupRef != nil {
		details["group"] = *patch.GroupRef
	}
	if patch.OwnerRef != nil {
		details["user"] = *patch.OwnerRef
	}
	e.record(ctx, logging.QuotaModify, "modify", id, err, details)
	return q, err
}

// DeleteQuota removes a quota entry and its reservations.
func (e *Engine) DeleteQuota(ctx context.Context, id string) error {
	err := e.ledger.Delete(ctx, id)
	e.record(ctx, logging.QuotaDelete, "delete", id, err, nil)
	return err
}

// CheckAdmission decides whether user may start count more instances of flavor.
func (e *Engine) CheckAdmission(ctx context.Context, user, flavor string, count uint32) (*models.Decision, error) {
	return e.admission.Check(ctx, user, flavor, count)
}

// ListOverBudget returns every entry whose consumption exceeds its limit.
func (e *Engine) ListOverBudget(ctx context.Context) ([]models.OverageRecord, error) {
	return e.drift.ListOver(ctx)
}

// TriggerSync runs a reconciliation cycle now.
func (e *Engine) TriggerSync(ctx context.Context) (*models.SyncReport, error) {
	report, err := e.scheduler.Trigger(ctx)
	var details map[string]interface{}
	if report != nil {
		details = map[string]interface{}{
			"pairs": report.Pairs, "drifted": report.Drifted, "over": report.Over, "failed": report.Failed,
		}
		if report.StaleDiscarded > 0 {
			e.record(ctx, logging.ReservationDiscard, "discard", "", nil,
				map[string]interface{}{"count": report.StaleDiscarded})
		}
	}
	e.record(ctx, logging.SyncTrigger, "sync", "", err, details)
	if err == nil {
		e.probe.Purge()
	}
	return report, err
}

// SyncStatus is the scheduler's view of reconciliation.
type SyncStatus struct {
	Running    bool                        `json:"running"`
	Circuit    string                      `json:"circuit"`
	States     map[string]models.SyncState `json:"states"`
	LastReport *models.SyncReport          `json:"last_report,omitempty"`
}

// SyncState returns per-pair states and the last report.
func (e *Engine) SyncState() SyncStatus {
	return SyncStatus{
		Running:    e.scheduler.IsRunning(),
		Circuit:    e.scheduler.Breaker().State().String(),
		States:     e.scheduler.States(),
		LastReport: e.scheduler.LastReport(),
	}
}

// CreateBudget adds a budget for owner.
func (e *Engine) CreateBudget(ctx context.Context, owner string, limit int64) (*models.BudgetEntry, error) {
	b, err := e.ledger.CreateBudget(ctx, owner, limit)
	resource := ""
	if b != nil {
		resource = b.ID
	}
	e.record(ctx, logging.BudgetCreate, "create", resource, err, map[string]interface{}{"user": owner, "limit": limit})
	return b, err
}

// ListBudgets returns all budgets, or owner's when set.
func (e *Engine) ListBudgets(ctx context.Context, owner string) ([]*models.BudgetEntry, error) {
	return e.ledger.ListBudgets(ctx, owner)
}

func (e *Engine) GetBudget(ctx context.Context, id string) (*models.BudgetEntry, error) {
	return e.ledger.GetBudget(ctx, id)
}

// ModifyBudget applies a partial update to a budget.
func (e *Engine) ModifyBudget(ctx context.Context, id string, patch models.BudgetPatch) (*models.BudgetEntry, error) {
	b, err := e.ledger.ModifyBudget(ctx, id, patch)
	details := map[string]interface{}{}
	if patch.Limit != nil {
		details["limit"] = *patch.Limit
	}
	if patch.Consumed != nil {
		details["consumed"] = *patch.Consumed
	}
	e.record(ctx, logging.BudgetModify, "modify", id, err, details)
	return b, err
}

func (e *Engine) DeleteBudget(ctx context.Context, id string) error {
	err := e.ledger.DeleteBudget(ctx, id)
	e.record(ctx, logging.BudgetDelete, "delete", id, err, nil)
	return err
}

// CreateFlavor registers a flavor in a flavor group.
func (e *Engine) CreateFlavor(ctx context.Context, name, group string) (*models.Flavor, error) {
	f, err := e.ledger.CreateFlavor(ctx, name, group)
	resource := name
	if f != nil {
		resource = f.ID
	}
	e.record(ctx, logging.FlavorCreate, "create", resource, err, map[string]interface{}{"name": name, "group": group})
	return f, err
}

// ListFlavors returns all flavors, or those of group when set.
func (e *Engine) ListFlavors(ctx context.Context, group string) ([]*models.Flavor, error) {
	return e.ledger.ListFlavors(ctx, group)
}

func (e *Engine) GetFlavor(ctx context.Context, ref string) (*models.Flavor, error) {
	return e.ledger.GetFlavor(ctx, ref)
}

// DeleteFlavor removes a flavor by id or name and drops it from the admission cache.
func (e *Engine) DeleteFlavor(ctx context.Context, ref string) error {
	f, err := e.ledger.GetFlavor(ctx, ref)
	if err == nil {
		err = e.ledger.DeleteFlavor(ctx, f.ID)
	}
	if f != nil {
		e.admission.InvalidateFlavor(f.ID, f.Name)
	}
	e.record(ctx, logging.FlavorDelete, "delete", ref, err, nil)
	return err
}

func (e *Engine) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return e.ledger.GetReservation(ctx, id)
}

// ReleaseReservation gives a reservation's capacity back.
func (e *Engine) ReleaseReservation(ctx context.Context, id string) error {
	return e.ledger.Release(ctx, id)
}

// ConfirmReservation moves a reservation's delta into consumed.
func (e *Engine) ConfirmReservation(ctx context.Context, id string) error {
	return e.ledger.Confirm(ctx, id)
}
