// Package reconcile periodically overwrites the ledger's cached consumption
// with the usage oracle's figures.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/quotaledger/quotaledger/internal/config"
	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/ledger"
	"github.com/quotaledger/quotaledger/internal/logging"
	"github.com/quotaledger/quotaledger/internal/metrics"
	"github.com/quotaledger/quotaledger/internal/models"
	"github.com/quotaledger/quotaledger/internal/notify"
	"github.com/quotaledger/quotaledger/internal/oracle"
	"github.com/quotaledger/quotaledger/internal/store"
)

// Scheduler runs reconciliation cycles on a ticker and on demand.
// At most one cycle runs at a time.
type Scheduler struct {
	ledger  *ledger.Ledger
	oracle  oracle.Oracle
	logger  *logging.Logger
	metrics *metrics.Metrics
	breaker *CircuitBreaker
	now     func() time.Time

	cfgMu    sync.RWMutex
	cfg      config.ReconcileConfig
	notifier notify.Notifier

	// cycle is a one-slot semaphore held for the duration of a cycle.
	cycle chan struct{}

	stateMu    sync.RWMutex
	states     map[string]models.SyncState
	lastReport *models.SyncReport

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	resetCh chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithNotifier sets who hears about entries that became over-limit.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithClock overrides time.Now, for tests of the grace window.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a stopped Scheduler. Zero config fields take their defaults.
func New(l *ledger.Ledger, o oracle.Oracle, cfg config.ReconcileConfig, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &errors.ErrConfigValidation{Err: err}
	}
	s := &Scheduler{
		ledger:   l,
		oracle:   o,
		notifier: notify.NopNotifier{},
		logger:   logging.Discard(),
		now:      time.Now,
		cfg:      cfg,
		cycle:    make(chan struct{}, 1),
		states:   make(map[string]models.SyncState),
		resetCh:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	cb := cfg.CircuitBreaker
	s.breaker = NewCircuitBreaker(cb.FailureThreshold, cb.HalfOpenLimit, cb.Timeout, s.metrics)
	s.breaker.now = s.now
	return s, nil
}

// SetConfig swaps the configuration used by subsequent cycles. A changed
// interval takes effect at the next tick.
func (s *Scheduler) SetConfig(cfg config.ReconcileConfig) error {
	if err := cfg.Validate(); err != nil {
		return &errors.ErrConfigValidation{Err: err}
	}
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()

	select {
	case s.resetCh <- struct{}{}:
	default:
	}
	return nil
}

func (s *Scheduler) config() config.ReconcileConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// SetNotifier replaces the notifier used after subsequent cycles.
func (s *Scheduler) SetNotifier(n notify.Notifier) {
	if n == nil {
		n = notify.NopNotifier{}
	}
	s.cfgMu.Lock()
	s.notifier = n
	s.cfgMu.Unlock()
}

// Breaker exposes the oracle circuit breaker.
func (s *Scheduler) Breaker() *CircuitBreaker {
	return s.breaker
}

// Start runs a cycle immediately and then one per interval until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return fmt.Errorf("reconcile scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(ctx, s.stopCh, s.doneCh)

	s.logger.Info("reconcile scheduler started", "interval", s.config().Interval.String())
	return nil
}

// Stop cancels any running cycle and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.runMu.Unlock()

	<-done
	s.logger.Info("reconcile scheduler stopped")
}

// IsRunning returns whether the ticker loop is running.
func (s *Scheduler) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *Scheduler) loop(parent context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	interval := s.config().Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.resetCh:
			if next := s.config().Interval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs a cycle unless one triggered on demand is still in progress.
func (s *Scheduler) tick(ctx context.Context) {
	select {
	case s.cycle <- struct{}{}:
	default:
		s.logger.Debug("reconcile tick skipped, cycle in progress")
		return
	}
	defer func() { <-s.cycle }()

	if _, err := s.run(ctx); err != nil {
		s.logger.Warn("reconcile cycle failed", "error", err)
	}
}

// Trigger runs a cycle now, waiting for an in-flight cycle to finish first.
func (s *Scheduler) Trigger(ctx context.Context) (*models.SyncReport, error) {
	select {
	case s.cycle <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.cycle }()
	return s.run(ctx)
}

// States returns the reconciliation state of every pair seen so far, keyed
// by the pair's string form.
func (s *Scheduler) States() map[string]models.SyncState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	out := make(map[string]models.SyncState, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

// LastReport returns the report of the most recent completed cycle, or nil.
func (s *Scheduler) LastReport() *models.SyncReport {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.lastReport == nil {
		return nil
	}
	r := *s.lastReport
	r.Errors = append([]models.PairError(nil), s.lastReport.Errors...)
	return &r
}

// Restore loads the last persisted report so it survives a restart.
func (s *Scheduler) Restore(ctx context.Context) error {
	raw, ok, err := s.ledger.Store().Settings().Get(ctx, store.SettingLastReport)
	if err != nil || !ok {
		return err
	}
	var report models.SyncReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return errors.Invalid(store.SettingLastReport, "malformed report: %v", err)
	}
	s.stateMu.Lock()
	if s.lastReport == nil {
		s.lastReport = &report
	}
	s.stateMu.Unlock()
	return nil
}

// job is one entry to reconcile.
type job struct {
	kind   models.EntryKind
	id     string
	pair   models.Pair
	cached int64
}

type outcome struct {
	job      job
	result   *models.ApplyResult
	state    models.SyncState
	drifted  bool
	oracleOK bool
	gone     bool
	err      error
}

func (s *Scheduler) run(ctx context.Context) (*models.SyncReport, error) {
	ctx, _ = logging.EnsureCorrelationID(ctx)
	cfg := s.config()
	report := &models.SyncReport{StartedAt: s.now()}

	if !s.breaker.Allow() {
		err := &CircuitOpenError{Until: s.breaker.openUntil()}
		s.metrics.RecordSyncCycle("skipped", 0)
		s.logger.WarnWithContext(ctx, "reconcile cycle skipped", "error", err.Error())
		return nil, err
	}

	jobs, err := s.collect(ctx)
	if err != nil {
		s.metrics.RecordSyncCycle("failed", s.now().Sub(report.StartedAt).Seconds())
		return nil, err
	}

	cutoff := report.StartedAt.Add(-cfg.GraceWindow)
	outcomes := s.execute(ctx, cfg, jobs, cutoff)

	previous := s.States()
	var newlyOver []models.OverageRecord
	var oracleOK, oracleFailed int
	seen := make(map[string]bool, len(outcomes))

	for _, o := range outcomes {
		key := o.job.pair.String()
		if o.gone {
			continue
		}
		seen[key] = true
		report.Pairs++
		if o.oracleOK {
			oracleOK++
		}
		if o.err != nil {
			if !o.oracleOK {
				oracleFailed++
			}
			report.Failed++
			report.Errors = append(report.Errors, models.PairError{Pair: o.job.pair, EntryID: o.job.id, Error: o.err.Error()})
			s.metrics.RecordSyncPair("failed")
			s.logger.WarnWithContext(ctx, "reconcile pair failed",
				"pair", key, "entry_id", o.job.id, "error", o.err.Error())
			continue
		}

		if o.drifted {
			report.Drifted++
			s.metrics.RecordSyncPair(string(models.StateDrifted))
			s.logger.InfoWithContext(ctx, "usage drift corrected",
				"pair", key, "entry_id", o.job.id, "previous", o.result.Previous, "current", o.result.Current)
		}
		if o.state == models.StateOver {
			report.Over++
			if previous[key] != models.StateOver {
				newlyOver = append(newlyOver, overage(o.job, o.result))
			}
		} else {
			report.Synced++
		}
		s.metrics.RecordSyncPair(string(o.state))
		report.StaleDiscarded += len(o.result.Discarded)
	}

	s.stateMu.Lock()
	for key := range s.states {
		if !seen[key] {
			delete(s.states, key)
		}
	}
	s.stateMu.Unlock()

	switch {
	case oracleOK > 0:
		s.breaker.RecordSuccess()
	case oracleFailed > 0:
		s.breaker.RecordFailure()
	}

	report.FinishedAt = s.now()
	s.metrics.RecordStaleDiscarded(report.StaleDiscarded)
	s.metrics.RecordSyncCycle(cycleResult(report), report.Duration().Seconds())
	s.finish(ctx, report, oracleOK > 0)

	if len(newlyOver) > 0 {
		sort.Slice(newlyOver, func(i, j int) bool { return newlyOver[i].EntryID < newlyOver[j].EntryID })
		s.cfgMu.RLock()
		notifier := s.notifier
		s.cfgMu.RUnlock()
		if err := notifier.NotifyOver(ctx, newlyOver); err != nil {
			s.logger.WarnWithContext(ctx, "overage notification failed", "error", err.Error())
		}
	}

	s.logger.InfoWithContext(ctx, "reconcile cycle finished",
		"pairs", report.Pairs, "synced", report.Synced, "drifted", report.Drifted,
		"over", report.Over, "failed", report.Failed, "stale_discarded", report.StaleDiscarded,
		"duration", report.Duration().String())
	return report, nil
}

// collect lists every quota and budget entry.
func (s *Scheduler) collect(ctx context.Context) ([]job, error) {
	quotas, err := s.ledger.List(ctx, models.QuotaFilter{All: true})
	if err != nil {
		return nil, err
	}
	budgets, err := s.ledger.ListBudgets(ctx, "")
	if err != nil {
		return nil, err
	}
	jobs := make([]job, 0, len(quotas)+len(budgets))
	for _, q := range quotas {
		jobs = append(jobs, job{kind: models.KindQuota, id: q.ID, pair: q.Pair(), cached: q.Consumed})
	}
	for _, b := range budgets {
		jobs = append(jobs, job{kind: models.KindBudget, id: b.ID, pair: b.Pair(), cached: b.Consumed})
	}
	return jobs, nil
}

// execute reconciles jobs with at most cfg.Concurrency in flight.
func (s *Scheduler) execute(ctx context.Context, cfg config.ReconcileConfig, jobs []job, cutoff time.Time) []outcome {
	outcomes := make([]outcome, len(jobs))
	sem := make(chan struct{}, cfg.Concurrency)
	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = s.syncPair(ctx, cfg, jobs[i], cutoff)
		}()
	}
	wg.Wait()
	return outcomes
}

func (s *Scheduler) syncPair(ctx context.Context, cfg config.ReconcileConfig, j job, cutoff time.Time) outcome {
	actual, err := s.fetch(ctx, cfg, j)
	if err != nil {
		return outcome{job: j, err: err}
	}

	drifted := actual != j.cached
	if drifted {
		s.setState(j.pair, models.StateDrifted)
	}

	result, err := s.ledger.ApplyUsage(ctx, j.kind, j.id, actual, cutoff)
	if err != nil {
		if errors.IsNotFound(err) {
			s.clearState(j.pair)
			return outcome{job: j, gone: true}
		}
		return outcome{job: j, oracleOK: true, drifted: drifted, err: err}
	}

	state := models.StateSynced
	if result.Over() {
		state = models.StateOver
	}
	s.setState(j.pair, state)
	return outcome{job: j, result: result, state: state, drifted: drifted || result.Drifted(), oracleOK: true}
}

// fetch asks the oracle for j's consumption, retrying transient failures
// with exponential backoff. Each attempt gets its own timeout.
func (s *Scheduler) fetch(ctx context.Context, cfg config.ReconcileConfig, j job) (int64, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.RetryBackoff
	eb.MaxInterval = 10 * cfg.RetryBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(cfg.RetryAttempts)), ctx)

	operation := "usage"
	if j.kind == models.KindBudget {
		operation = "budget"
	}

	var value int64
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		var err error
		if j.kind == models.KindBudget {
			value, err = s.oracle.CurrentBudgetConsumption(callCtx, j.pair.Owner)
		} else {
			value, err = s.oracle.CurrentUsage(callCtx, j.pair.Owner, j.pair.Group)
		}
		if err != nil {
			s.metrics.RecordOracleRequest(operation, "error")
			if errors.IsValidation(err) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if value < 0 {
			s.metrics.RecordOracleRequest(operation, "invalid")
			return backoff.Permanent(fmt.Errorf("negative usage %d", value))
		}
		s.metrics.RecordOracleRequest(operation, "ok")
		return nil
	}
	onRetry := func(err error, wait time.Duration) {
		s.logger.DebugWithContext(ctx, "oracle query retry",
			"pair", j.pair.String(), "wait", wait.String(), "error", err.Error())
	}

	if err := backoff.RetryNotify(attempt, policy, onRetry); err != nil {
		var oe *errors.ErrOracle
		if !errors.As(err, &oe) {
			err = &errors.ErrOracle{Owner: j.pair.Owner, Group: j.pair.Group, Err: err}
		}
		return 0, err
	}
	return value, nil
}

func (s *Scheduler) setState(p models.Pair, state models.SyncState) {
	s.stateMu.Lock()
	s.states[p.String()] = state
	s.stateMu.Unlock()
}

func (s *Scheduler) clearState(p models.Pair) {
	s.stateMu.Lock()
	delete(s.states, p.String())
	s.stateMu.Unlock()
}

// finish records the report in memory and in the settings store.
func (s *Scheduler) finish(ctx context.Context, report *models.SyncReport, synced bool) {
	s.stateMu.Lock()
	s.lastReport = report
	s.stateMu.Unlock()

	// Persist even if the caller has gone away.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	settings := s.ledger.Store().Settings()
	if synced {
		if err := store.SetTime(pctx, settings, store.SettingLastSync, report.FinishedAt); err != nil {
			s.logger.WarnWithContext(ctx, "persist last sync time failed", "error", err.Error())
		}
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := settings.Set(pctx, store.SettingLastReport, string(raw)); err != nil {
		s.logger.WarnWithContext(ctx, "persist sync report failed", "error", err.Error())
	}
}

func overage(j job, r *models.ApplyResult) models.OverageRecord {
	return models.OverageRecord{
		EntryKind: j.kind,
		EntryID:   j.id,
		OwnerRef:  j.pair.Owner,
		GroupRef:  j.pair.Group,
		Limit:     r.Limit,
		Consumed:  r.Current,
		Overage:   r.Current - r.Limit,
	}
}

func cycleResult(r *models.SyncReport) string {
	switch {
	case r.Failed == 0:
		return "ok"
	case r.Failed < r.Pairs:
		return "partial"
	default:
		return "failed"
	}
}
