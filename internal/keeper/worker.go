// Package keeper runs the execution loop: it polls prices for active
// triggers and executes those whose condition holds.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"trigger-keeper/internal/alert"
	"trigger-keeper/internal/assets"
	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/idhash"
	"trigger-keeper/internal/logger"
	"trigger-keeper/internal/observability"
	"trigger-keeper/internal/oracle"
	"trigger-keeper/internal/storage"
)

// maxOverlappingCycles bounds cycles running at once when one outlasts the interval.
const maxOverlappingCycles = 2

// peggedPrice is 1.0 at oracle scale.
const peggedPrice = 1_000_000

// Registry is the part of the trigger registry the worker drives.
type Registry interface {
	ListActive(ctx context.Context) ([]*domain.Trigger, error)
	Execute(ctx context.Context, id uint64, caller domain.Address) (*domain.Swap, error)
}

// Config holds worker settings.
type Config struct {
	Interval       time.Duration
	Concurrency    int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
	OracleRPS      float64
	OracleBurst    int
	Executor       domain.Address
}

// Status is a snapshot of worker counters.
type Status struct {
	Cycles        uint64    `json:"cycles"`
	Executed      uint64    `json:"executed"`
	Failed        uint64    `json:"failed"`
	Exhausted     uint64    `json:"exhausted"`
	Running       int       `json:"running"`
	LastCycleID   string    `json:"last_cycle_id,omitempty"`
	LastCycleAt   time.Time `json:"last_cycle_at"`
	LastCycleErr  string    `json:"last_cycle_error,omitempty"`
	LastActiveCnt int       `json:"last_active_triggers"`
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	CycleID   string
	Active    int
	Prices    int
	Executed  int
	Unmet     int
	Skipped   int
	Failed    int
	Exhausted int
}

// Worker is the execution loop.
type Worker struct {
	cfg          Config
	registry     Registry
	assets       assets.Resolver
	oracle       oracle.Reader
	observations storage.PriceObservationStore
	attempts     storage.ExecutionAttemptStore
	notifier     alert.Notifier
	log          *logger.Entry
	limiter      *rate.Limiter
	flight       singleflight.Group
	slots        chan struct{}
	now          func() time.Time

	mu        sync.Mutex
	status    Status
	alerted   map[uint64]bool // triggers whose retry exhaustion was already alerted
	held      map[uint64]bool // triggers with an instruction of unknown outcome
	inflightW sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

// WithClock overrides the time source used for expiry checks and records.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New creates a Worker.
func New(cfg Config, registry Registry, resolver assets.Resolver, prices oracle.Reader,
	observations storage.PriceObservationStore, attempts storage.ExecutionAttemptStore,
	notifier alert.Notifier, log *logger.Entry, opts ...Option) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.OracleBurst <= 0 {
		cfg.OracleBurst = 1
	}
	limit := rate.Limit(cfg.OracleRPS)
	if cfg.OracleRPS <= 0 {
		limit = rate.Inf
	}
	w := &Worker{
		cfg:          cfg,
		registry:     registry,
		assets:       resolver,
		oracle:       prices,
		observations: observations,
		attempts:     attempts,
		notifier:     notifier,
		log:          log.WithComponent("keeper"),
		limiter:      rate.NewLimiter(limit, cfg.OracleBurst),
		slots:        make(chan struct{}, maxOverlappingCycles),
		now:          time.Now,
		alerted:      make(map[uint64]bool),
		held:         make(map[uint64]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts a cycle immediately and then on every tick until ctx is done.
// It returns after in-flight cycles finish.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.log.WithFields(logger.Fields{
		"interval":    w.cfg.Interval.String(),
		"concurrency": w.cfg.Concurrency,
		"executor":    w.cfg.Executor.Hex(),
	}).Info("keeper started")

	w.launch(ctx)
	for {
		select {
		case <-ctx.Done():
			w.inflightW.Wait()
			w.log.Info("keeper stopped")
			return
		case <-ticker.C:
			w.launch(ctx)
		}
	}
}

func (w *Worker) launch(ctx context.Context) {
	select {
	case w.slots <- struct{}{}:
	default:
		w.log.Warn("keeper cycle already running, skipping")
		return
	}

	w.inflightW.Add(1)
	go func() {
		defer w.inflightW.Done()
		defer func() { <-w.slots }()
		if _, err := w.RunCycle(ctx); err != nil && ctx.Err() == nil {
			w.log.WithError(err).Error("keeper cycle failed")
		}
	}()
}

// Status returns a snapshot of worker counters.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.status
	s.Running = len(w.slots)
	return s
}

// cycle collects the audit records of one pass.
type cycle struct {
	id       string
	mu       sync.Mutex
	attempts []*domain.ExecutionAttempt
	result   CycleResult
}

func (c *cycle) record(a *domain.ExecutionAttempt, tally func(*CycleResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = append(c.attempts, a)
	if tally != nil {
		tally(&c.result)
	}
}

// RunCycle performs one pass over the active triggers.
func (w *Worker) RunCycle(ctx context.Context) (CycleResult, error) {
	started := w.now()
	c := &cycle{id: uuid.NewString()}
	c.result.CycleID = c.id
	log := w.log.WithField("cycle_id", c.id)

	err := w.runCycle(ctx, c, log)

	status := "success"
	if err != nil {
		status = "error"
	}
	observability.RecordCycle(status, time.Since(started))

	w.mu.Lock()
	w.status.Cycles++
	w.status.Executed += uint64(c.result.Executed)
	w.status.Failed += uint64(c.result.Failed)
	w.status.Exhausted += uint64(c.result.Exhausted)
	w.status.LastCycleID = c.id
	w.status.LastCycleAt = started
	w.status.LastActiveCnt = c.result.Active
	w.status.LastCycleErr = ""
	if err != nil {
		w.status.LastCycleErr = err.Error()
	}
	w.mu.Unlock()

	log.WithFields(logger.Fields{
		"active":    c.result.Active,
		"prices":    c.result.Prices,
		"executed":  c.result.Executed,
		"unmet":     c.result.Unmet,
		"skipped":   c.result.Skipped,
		"failed":    c.result.Failed,
		"exhausted": c.result.Exhausted,
		"duration":  time.Since(started).String(),
	}).Debug("keeper cycle finished")
	return c.result, err
}

func (w *Worker) runCycle(ctx context.Context, c *cycle, log *logger.Entry) error {
	active, err := w.registry.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active triggers: %w", err)
	}
	c.result.Active = len(active)
	observability.SetActiveTriggers(len(active))
	w.pruneAlerted(active)

	if len(active) == 0 {
		return nil
	}

	byRef := make(map[string][]*domain.Trigger)
	for _, t := range active {
		byRef[t.ReferenceAsset] = append(byRef[t.ReferenceAsset], t)
	}

	prices := w.fetchPrices(ctx, c, log, byRef)
	c.result.Prices = len(prices)

	now := w.now().UnixMilli()
	var due []*domain.Trigger
	for ref, group := range byRef {
		price, ok := prices[ref]
		for _, t := range group {
			switch {
			case w.isHeld(t.ID):
				w.skip(c, t, domain.KindRelayUnconfirmed, "instruction outcome unknown, trigger held")
			case !ok:
				w.skip(c, t, domain.KindOracleUnavailable, "reference price unavailable")
			case t.IsExpired(now):
				w.skip(c, t, domain.KindTriggerExpired, "trigger expired")
			case !t.Direction.Satisfied(price, t.TriggerPrice):
				log.WithFields(logger.Fields{
					"trigger_id": t.ID,
					"price":      price,
					"threshold":  t.TriggerPrice,
					"direction":  t.Direction,
				}).Debug("condition not met")
				c.record(w.attempt(c, t, 0, domain.OutcomeConditionNotMet, nil), func(r *CycleResult) { r.Unmet++ })
				observability.RecordExecutionAttempt(string(domain.OutcomeConditionNotMet))
			default:
				due = append(due, t)
			}
		}
	}

	if len(due) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.cfg.Concurrency)
		for _, t := range due {
			g.Go(func() error {
				w.executeOnce(gctx, c, t)
				return nil
			})
		}
		_ = g.Wait()
	}

	w.flush(ctx, c, log)
	return nil
}

// fetchPrices reads one fresh price per reference asset in parallel.
func (w *Worker) fetchPrices(ctx context.Context, c *cycle, log *logger.Entry, byRef map[string][]*domain.Trigger) map[string]uint64 {
	var mu sync.Mutex
	prices := make(map[string]uint64, len(byRef))
	var observations []*domain.PriceObservation

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for symbol := range byRef {
		g.Go(func() error {
			entry, err := w.assets.Resolve(gctx, symbol)
			if err != nil {
				log.WithError(err).WithField("asset", symbol).Warn("reference asset unresolved")
				return nil
			}

			var value uint64
			if entry.Pegged {
				value = peggedPrice
			} else {
				if err := w.limiter.Wait(gctx); err != nil {
					return nil
				}
				callCtx, cancel := context.WithTimeout(gctx, w.cfg.CallTimeout)
				p, err := w.oracle.CurrentPrice(callCtx, entry.PriceIndex)
				cancel()
				if err != nil {
					observability.RecordPriceRead(domain.KindOf(err))
					log.WithError(err).WithFields(logger.Fields{
						"asset":       symbol,
						"price_index": entry.PriceIndex,
						"reason":      domain.KindOracleUnavailable,
					}).Warn("price read failed")
					return nil
				}
				observability.RecordPriceRead("ok")
				value = p.Value
			}

			mu.Lock()
			defer mu.Unlock()
			prices[symbol] = value
			observations = append(observations, &domain.PriceObservation{
				CycleID:    c.id,
				Asset:      symbol,
				PriceIndex: entry.PriceIndex,
				Price:      value,
				Decimals:   domain.PriceDecimals,
				ObservedAt: w.now().UnixMilli(),
			})
			return nil
		})
	}
	_ = g.Wait()

	if len(observations) > 0 && w.observations != nil {
		if err := w.observations.InsertBulk(ctx, observations); err != nil {
			log.WithError(err).Warn("store price observations")
		}
	}
	return prices
}

// executeOnce runs the retrying execute for t, deduplicated by trigger id
// across overlapping cycles.
func (w *Worker) executeOnce(ctx context.Context, c *cycle, t *domain.Trigger) {
	key := strconv.FormatUint(t.ID, 10)
	_, _, shared := w.flight.Do(key, func() (interface{}, error) {
		w.executeWithRetry(ctx, c, t)
		return nil, nil
	})
	if shared {
		w.log.WithFields(logger.Fields{"trigger_id": t.ID, "cycle_id": c.id}).Debug("execute already in flight")
	}
}

func (w *Worker) executeWithRetry(ctx context.Context, c *cycle, t *domain.Trigger) {
	log := w.log.WithFields(logger.Fields{"trigger_id": t.ID, "cycle_id": c.id})

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialBackoff
	b.MaxInterval = w.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	var lastErr error
	op := func() error {
		attempt++
		// An accepted execute must not be abandoned halfway by shutdown.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.CallTimeout)
		defer cancel()

		s, err := w.registry.Execute(callCtx, t.ID, w.cfg.Executor)
		lastErr = err
		switch {
		case err == nil:
			log.WithFields(logger.Fields{"swap_id": s.ID, "attempt": attempt}).Info("trigger executed")
			c.record(w.attempt(c, t, attempt, domain.OutcomeExecuted, nil), func(r *CycleResult) { r.Executed++ })
			observability.RecordExecutionAttempt(string(domain.OutcomeExecuted))
			w.clearAlerted(t.ID)
			return nil
		case errors.Is(err, domain.ErrConditionNotMet):
			log.WithField("reason", domain.KindOf(err)).Debug("condition no longer met at execute")
			c.record(w.attempt(c, t, attempt, domain.OutcomeConditionNotMet, err), func(r *CycleResult) { r.Unmet++ })
			observability.RecordExecutionAttempt(string(domain.OutcomeConditionNotMet))
			return backoff.Permanent(err)
		case errors.Is(err, domain.ErrRelayUnconfirmed):
			// The instruction may be live. Executing again could issue it twice.
			log.WithError(err).WithField("attempt", attempt).Error("execute outcome unknown, holding trigger")
			c.record(w.attempt(c, t, attempt, domain.OutcomeRejected, err), func(r *CycleResult) { r.Failed++ })
			observability.RecordExecutionAttempt(string(domain.OutcomeRejected))
			w.hold(t.ID)
			return backoff.Permanent(err)
		case errors.Is(err, domain.ErrInvalidState):
			// Usually an overlapping cycle or an owner got there first.
			log.WithField("reason", domain.KindOf(err)).Debug("trigger no longer active at execute")
			c.record(w.attempt(c, t, attempt, domain.OutcomeSkipped, err), func(r *CycleResult) { r.Skipped++ })
			observability.RecordExecutionAttempt(string(domain.OutcomeSkipped))
			return backoff.Permanent(err)
		case domain.IsPermanent(err):
			log.WithError(err).WithField("reason", domain.KindOf(err)).Warn("execute rejected")
			c.record(w.attempt(c, t, attempt, domain.OutcomeRejected, err), func(r *CycleResult) { r.Failed++ })
			observability.RecordExecutionAttempt(string(domain.OutcomeRejected))
			return backoff.Permanent(err)
		}

		if attempt >= w.cfg.MaxAttempts || ctx.Err() != nil {
			return err
		}
		log.WithError(err).WithFields(logger.Fields{"reason": domain.KindOf(err), "attempt": attempt}).Warn("execute failed, retrying")
		c.record(w.attempt(c, t, attempt, domain.OutcomeRetrying, err), nil)
		observability.RecordExecutionAttempt(string(domain.OutcomeRetrying))
		return err
	}

	if err := backoff.Retry(op, policy); err == nil || domain.IsPermanent(lastErr) {
		return
	}

	if ctx.Err() != nil && attempt < w.cfg.MaxAttempts {
		log.WithError(lastErr).WithField("attempt", attempt).Info("execute retries stopped by shutdown")
		c.record(w.attempt(c, t, attempt, domain.OutcomeRetrying, lastErr), func(r *CycleResult) { r.Failed++ })
		return
	}

	log.WithError(lastErr).WithFields(logger.Fields{"reason": domain.KindOf(lastErr), "attempt": attempt}).Error("execute retries exhausted, trigger stays active")
	c.record(w.attempt(c, t, attempt, domain.OutcomeExhausted, lastErr), func(r *CycleResult) { r.Exhausted++ })
	observability.RecordExecutionAttempt(string(domain.OutcomeExhausted))
	observability.RecordRetriesExhausted()
	w.alertExhausted(ctx, t, attempt, lastErr)
}

func (w *Worker) skip(c *cycle, t *domain.Trigger, kind, reason string) {
	w.log.WithFields(logger.Fields{"trigger_id": t.ID, "cycle_id": c.id, "reason": kind}).Debug(reason)
	a := w.attempt(c, t, 0, domain.OutcomeSkipped, nil)
	a.ErrorKind = kind
	a.Error = reason
	c.record(a, func(r *CycleResult) { r.Skipped++ })
	observability.RecordExecutionAttempt(string(domain.OutcomeSkipped))
}

func (w *Worker) attempt(c *cycle, t *domain.Trigger, n int, outcome domain.AttemptOutcome, err error) *domain.ExecutionAttempt {
	a := &domain.ExecutionAttempt{
		AttemptID: idhash.ComputeAttemptID(c.id, t.ID, n, outcome),
		CycleID:   c.id,
		TriggerID: t.ID,
		Attempt:   n,
		Outcome:   outcome,
		Timestamp: w.now().UnixMilli(),
	}
	if err != nil {
		a.ErrorKind = domain.KindOf(err)
		a.Error = err.Error()
	}
	return a
}

func (w *Worker) flush(ctx context.Context, c *cycle, log *logger.Entry) {
	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()

	if len(attempts) == 0 || w.attempts == nil {
		return
	}
	if err := w.attempts.InsertBulk(context.WithoutCancel(ctx), attempts); err != nil {
		log.WithError(err).Warn("store execution attempts")
	}
}

func (w *Worker) alertExhausted(ctx context.Context, t *domain.Trigger, attempts int, cause error) {
	w.mu.Lock()
	already := w.alerted[t.ID]
	w.alerted[t.ID] = true
	w.mu.Unlock()
	if already || w.notifier == nil {
		return
	}

	err := w.notifier.Notify(context.WithoutCancel(ctx), alert.Alert{
		Title:    "trigger execution retries exhausted",
		Message:  fmt.Sprintf("trigger %d failed %d attempts and stays active: %v", t.ID, attempts, cause),
		Severity: alert.SeverityCritical,
		Fields: map[string]string{
			"trigger_id": strconv.FormatUint(t.ID, 10),
			"owner":      t.Owner.Hex(),
			"error_kind": domain.KindOf(cause),
			"attempts":   strconv.Itoa(attempts),
		},
		At: w.now(),
	})
	if err != nil {
		w.log.WithError(err).WithField("trigger_id", t.ID).Warn("exhaustion alert failed")
	}
}

func (w *Worker) hold(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.held[id] = true
}

func (w *Worker) isHeld(id uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.held[id]
}

func (w *Worker) clearAlerted(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.alerted, id)
}

// pruneAlerted forgets alerts and holds for triggers that are no longer active.
func (w *Worker) pruneAlerted(active []*domain.Trigger) {
	live := make(map[uint64]bool, len(active))
	for _, t := range active {
		live[t.ID] = true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for id := range w.alerted {
		if !live[id] {
			delete(w.alerted, id)
		}
	}
	for id := range w.held {
		if !live[id] {
			delete(w.held, id)
		}
	}
}
