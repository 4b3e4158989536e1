// Package registry owns the trigger lifecycle: creation with fees and
// bounds, owner cancellation, executor-gated execution and lazy expiry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"trigger-keeper/internal/assets"
	"trigger-keeper/internal/auth"
	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/logger"
	"trigger-keeper/internal/observability"
	"trigger-keeper/internal/oracle"
	"trigger-keeper/internal/storage"
	"trigger-keeper/internal/swap"
)

// peggedPrice is 1.0 at oracle scale.
const peggedPrice = 1_000_000

// Config holds fee and bound settings.
type Config struct {
	CreationFee    *big.Int
	MinDuration    time.Duration
	MaxDuration    time.Duration
	MaxSlippageBps uint32
}

// FeeSchedule is the creation fee and bounds published to callers.
type FeeSchedule struct {
	CreationFee    *big.Int
	MinDuration    time.Duration
	MaxDuration    time.Duration
	MaxSlippageBps uint32
}

// Swapper issues the conversion for an executed trigger.
type Swapper interface {
	ExecuteSwap(ctx context.Context, req swap.Request) (*domain.Swap, error)
	ReportStranded(ctx context.Context, s *domain.Swap, cause error)
}

// CreateRequest carries the parameters of a new trigger.
type CreateRequest struct {
	Owner          domain.Address
	InputAsset     string
	TargetAsset    string
	ReferenceAsset string
	InputAmount    *big.Int
	TriggerPrice   uint64 // domain.PriceDecimals fixed point
	Direction      domain.Direction
	SlippageBps    uint32
	Duration       time.Duration
	Value          *big.Int // attached value, must cover the creation fee
}

// Registry implements the trigger lifecycle.
type Registry struct {
	cfg      Config
	triggers storage.TriggerStore
	assets   assets.Resolver
	oracle   oracle.Reader
	acl      *auth.ACL
	swapper  Swapper
	events   domain.EventSink
	log      *logger.Entry
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithEvents sets the lifecycle event sink.
func WithEvents(sink domain.EventSink) Option {
	return func(r *Registry) { r.events = sink }
}

// New creates a Registry.
func New(cfg Config, triggers storage.TriggerStore, resolver assets.Resolver, prices oracle.Reader,
	acl *auth.ACL, swapper Swapper, log *logger.Entry, opts ...Option) *Registry {
	if cfg.CreationFee == nil {
		cfg.CreationFee = new(big.Int)
	}
	if cfg.MaxSlippageBps == 0 || cfg.MaxSlippageBps > domain.MaxSlippageBps {
		cfg.MaxSlippageBps = domain.MaxSlippageBps
	}
	r := &Registry{
		cfg:      cfg,
		triggers: triggers,
		assets:   resolver,
		oracle:   prices,
		acl:      acl,
		swapper:  swapper,
		events:   domain.DiscardEvents{},
		log:      log.WithComponent("registry"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fees returns the current fee schedule.
func (r *Registry) Fees() FeeSchedule {
	return FeeSchedule{
		CreationFee:    new(big.Int).Set(r.cfg.CreationFee),
		MinDuration:    r.cfg.MinDuration,
		MaxDuration:    r.cfg.MaxDuration,
		MaxSlippageBps: r.cfg.MaxSlippageBps,
	}
}

// Create validates and stores a new active trigger. The creation fee is
// debited from req.Value; the remainder is returned as the refund.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*domain.Trigger, *big.Int, error) {
	t, refund, err := r.create(ctx, req)
	if err != nil {
		observability.RecordOperationError("create", domain.KindOf(err))
		return nil, nil, err
	}
	return t, refund, nil
}

func (r *Registry) create(ctx context.Context, req CreateRequest) (*domain.Trigger, *big.Int, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	if value.Cmp(r.cfg.CreationFee) < 0 {
		return nil, nil, domain.NewInvalidInput("insufficient fee: sent %s, need %s", value, r.cfg.CreationFee)
	}
	if req.Owner == (domain.Address{}) {
		return nil, nil, domain.NewInvalidInput("owner is the zero address")
	}
	if req.Duration < r.cfg.MinDuration || req.Duration > r.cfg.MaxDuration {
		return nil, nil, domain.NewInvalidInput("duration %s outside [%s, %s]", req.Duration, r.cfg.MinDuration, r.cfg.MaxDuration)
	}
	if req.InputAmount == nil || req.InputAmount.Sign() <= 0 {
		return nil, nil, domain.NewInvalidInput("input amount must be positive")
	}
	if req.TriggerPrice == 0 {
		return nil, nil, domain.NewInvalidInput("trigger price must be positive")
	}
	if req.SlippageBps > r.cfg.MaxSlippageBps {
		return nil, nil, domain.NewInvalidInput("slippage %d bps exceeds %d", req.SlippageBps, r.cfg.MaxSlippageBps)
	}
	if !req.Direction.IsValid() {
		return nil, nil, domain.NewInvalidInput("unknown direction %q", req.Direction)
	}

	input, err := r.assets.Resolve(ctx, req.InputAsset)
	if err != nil {
		return nil, nil, err
	}
	target, err := r.assets.Resolve(ctx, req.TargetAsset)
	if err != nil {
		return nil, nil, err
	}
	ref, err := r.assets.Resolve(ctx, req.ReferenceAsset)
	if err != nil {
		return nil, nil, err
	}
	if input.Symbol == target.Symbol {
		return nil, nil, domain.NewInvalidInput("input and target asset are both %s", input.Symbol)
	}

	now := r.now()
	t := &domain.Trigger{
		Owner:          req.Owner,
		InputAsset:     input.Symbol,
		TargetAsset:    target.Symbol,
		ReferenceAsset: ref.Symbol,
		InputAmount:    new(big.Int).Set(req.InputAmount),
		TriggerPrice:   req.TriggerPrice,
		Direction:      req.Direction,
		SlippageBps:    req.SlippageBps,
		Status:         domain.TriggerStatusActive,
		FeePaid:        new(big.Int).Set(r.cfg.CreationFee),
		CreatedAt:      now.UnixMilli(),
		ExpiresAt:      now.Add(req.Duration).UnixMilli(),
		UpdatedAt:      now.UnixMilli(),
	}
	if err := r.triggers.Insert(ctx, t); err != nil {
		return nil, nil, fmt.Errorf("insert trigger: %w", err)
	}

	r.log.WithFields(logger.Fields{
		"trigger_id": t.ID,
		"owner":      t.Owner.Hex(),
		"input":      t.InputAsset,
		"target":     t.TargetAsset,
		"reference":  t.ReferenceAsset,
		"direction":  t.Direction,
		"price":      t.TriggerPrice,
		"expires_at": t.ExpiresAt,
	}).Info("trigger created")
	observability.RecordTriggerCreated()
	r.events.Publish(domain.Event{
		Type:      domain.EventTriggerCreated,
		TriggerID: t.ID,
		Account:   t.Owner.Hex(),
		Amount:    new(big.Int).Set(t.InputAmount),
		Timestamp: t.CreatedAt,
	})

	return t, new(big.Int).Sub(value, r.cfg.CreationFee), nil
}

// Cancel moves an active trigger to cancelled. Only the owner may cancel.
func (r *Registry) Cancel(ctx context.Context, id uint64, caller domain.Address) (*domain.Trigger, error) {
	t, err := r.cancel(ctx, id, caller)
	if err != nil {
		observability.RecordOperationError("cancel", domain.KindOf(err))
		return nil, err
	}
	return t, nil
}

func (r *Registry) cancel(ctx context.Context, id uint64, caller domain.Address) (*domain.Trigger, error) {
	t, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Owner != caller {
		return nil, fmt.Errorf("%w: only the owner may cancel trigger %d", domain.ErrUnauthorized, id)
	}

	now := r.now().UnixMilli()
	if err := checkActive(t, now); err != nil {
		return nil, err
	}

	if err := r.triggers.UpdateStatus(ctx, id, domain.TriggerStatusActive, domain.TriggerStatusCancelled, now); err != nil {
		return nil, r.translate(ctx, id, err)
	}
	t.Status = domain.TriggerStatusCancelled
	t.UpdatedAt = now

	r.log.WithFields(logger.Fields{"trigger_id": id, "owner": caller.Hex()}).Info("trigger cancelled")
	observability.RecordTransition(string(domain.TriggerStatusCancelled))
	r.events.Publish(domain.Event{Type: domain.EventTriggerCancelled, TriggerID: id, Account: caller.Hex(), Timestamp: now})
	return t, nil
}

// Execute fires a trigger: under the record lock it reads the reference
// price once, checks the condition and issues the swap. The trigger becomes
// executed only if the swap was issued.
func (r *Registry) Execute(ctx context.Context, id uint64, caller domain.Address) (*domain.Swap, error) {
	s, err := r.execute(ctx, id, caller)
	if err != nil {
		observability.RecordOperationError("execute", domain.KindOf(err))
		return nil, err
	}
	return s, nil
}

func (r *Registry) execute(ctx context.Context, id uint64, caller domain.Address) (*domain.Swap, error) {
	if err := r.acl.Require(ctx, caller, domain.CapabilityExecutor); err != nil {
		return nil, err
	}

	now := r.now().UnixMilli()
	var issued *domain.Swap
	var observed uint64

	s, err := r.triggers.MarkExecuted(ctx, id, now, func(ctx context.Context, t *domain.Trigger) (*domain.Swap, error) {
		if err := checkActive(t, now); err != nil {
			return nil, err
		}

		ref, err := r.assets.Resolve(ctx, t.ReferenceAsset)
		if err != nil {
			return nil, err
		}
		price, err := r.referencePrice(ctx, ref)
		if err != nil {
			return nil, err
		}
		observed = price
		if !t.Direction.Satisfied(price, t.TriggerPrice) {
			return nil, fmt.Errorf("%w: trigger %d wants %s %d, price is %d",
				domain.ErrConditionNotMet, t.ID, t.Direction, t.TriggerPrice, price)
		}

		issued, err = r.swapper.ExecuteSwap(ctx, swap.Request{
			User:        t.Owner,
			FromAsset:   t.InputAsset,
			ToAsset:     t.TargetAsset,
			FromAmount:  t.InputAmount,
			SlippageBps: t.SlippageBps,
			Prefunded:   true,
			TriggerID:   t.ID,
			Prices:      swap.PriceBook{ref.Symbol: price},
		})
		return issued, err
	})
	if err != nil {
		if issued != nil {
			r.swapper.ReportStranded(ctx, issued, err)
			return nil, fmt.Errorf("%w: swap %s relayed but not recorded: %v", domain.ErrRelayUnconfirmed, issued.TxHash, err)
		}
		return nil, r.translate(ctx, id, err)
	}

	r.log.WithFields(logger.Fields{
		"trigger_id": id,
		"swap_id":    s.ID,
		"executor":   caller.Hex(),
		"price":      observed,
		"tx_hash":    s.TxHash,
	}).Info("trigger executed")
	observability.RecordTransition(string(domain.TriggerStatusExecuted))
	observability.RecordSwapIssued("trigger")
	r.events.Publish(domain.Event{Type: domain.EventTriggerExecuted, TriggerID: id, SwapID: s.ID, Account: caller.Hex(), Timestamp: now})
	r.events.Publish(domain.Event{
		Type:      domain.EventSwapIssued,
		TriggerID: id,
		SwapID:    s.ID,
		Account:   s.User.Hex(),
		Detail:    s.FromAsset + "->" + s.ToAsset,
		Amount:    new(big.Int).Set(s.FromAmount),
		Timestamp: now,
	})
	return s, nil
}

// Expire persists the expired status of a lapsed active trigger. Anyone may call it.
func (r *Registry) Expire(ctx context.Context, id uint64) (*domain.Trigger, error) {
	t, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TriggerStatusActive {
		return nil, fmt.Errorf("%w: trigger %d is %s", domain.ErrInvalidState, id, t.Status)
	}
	now := r.now().UnixMilli()
	if !t.IsExpired(now) {
		return nil, fmt.Errorf("%w: trigger %d has not expired", domain.ErrInvalidState, id)
	}

	if err := r.triggers.UpdateStatus(ctx, id, domain.TriggerStatusActive, domain.TriggerStatusExpired, now); err != nil {
		return nil, r.translate(ctx, id, err)
	}
	t.Status = domain.TriggerStatusExpired
	t.UpdatedAt = now

	r.log.WithField("trigger_id", id).Info("trigger expired")
	observability.RecordTransition(string(domain.TriggerStatusExpired))
	r.events.Publish(domain.Event{Type: domain.EventTriggerExpired, TriggerID: id, Timestamp: now})
	return t, nil
}

// Get returns a trigger with its effective status.
func (r *Registry) Get(ctx context.Context, id uint64) (*domain.Trigger, error) {
	t, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Status = t.EffectiveStatus(r.now().UnixMilli())
	return t, nil
}

// ListByOwner returns the owner's triggers with effective statuses, ordered by ID.
func (r *Registry) ListByOwner(ctx context.Context, owner domain.Address) ([]*domain.Trigger, error) {
	list, err := r.triggers.GetByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list triggers for %s: %w", owner.Hex(), err)
	}
	now := r.now().UnixMilli()
	for _, t := range list {
		t.Status = t.EffectiveStatus(now)
	}
	return list, nil
}

// ListActive returns triggers that are active and not yet expired, ordered by ID.
func (r *Registry) ListActive(ctx context.Context) ([]*domain.Trigger, error) {
	list, err := r.triggers.GetByStatus(ctx, domain.TriggerStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active triggers: %w", err)
	}
	now := r.now().UnixMilli()
	out := list[:0]
	for _, t := range list {
		if !t.IsExpired(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *Registry) load(ctx context.Context, id uint64) (*domain.Trigger, error) {
	t, err := r.triggers.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: trigger %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get trigger %d: %w", id, err)
	}
	return t, nil
}

func (r *Registry) referencePrice(ctx context.Context, ref *domain.AssetEntry) (uint64, error) {
	if ref.Pegged {
		return peggedPrice, nil
	}
	p, err := r.oracle.CurrentPrice(ctx, ref.PriceIndex)
	if err != nil {
		return 0, fmt.Errorf("reference price %s: %w", ref.Symbol, err)
	}
	return p.Value, nil
}

// translate maps storage errors to domain errors. A status conflict is
// reported against the record as it is now.
func (r *Registry) translate(ctx context.Context, id uint64, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: trigger %d", domain.ErrNotFound, id)
	case errors.Is(err, storage.ErrStatusConflict), errors.Is(err, storage.ErrDuplicateKey):
		if t, loadErr := r.load(ctx, id); loadErr == nil {
			if stateErr := checkActive(t, r.now().UnixMilli()); stateErr != nil {
				return stateErr
			}
		}
		return fmt.Errorf("%w: trigger %d changed concurrently", domain.ErrInvalidState, id)
	default:
		return err
	}
}

// checkActive returns the invalid-state error for anything but a live active trigger.
func checkActive(t *domain.Trigger, now int64) error {
	if t.Status != domain.TriggerStatusActive {
		return fmt.Errorf("%w: trigger %d is %s", domain.ErrInvalidState, t.ID, t.Status)
	}
	if t.IsExpired(now) {
		return fmt.Errorf("%w: trigger %d expired at %d", domain.ErrTriggerExpired, t.ID, t.ExpiresAt)
	}
	return nil
}
