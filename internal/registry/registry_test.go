package registry

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"trigger-keeper/internal/alert"
	"trigger-keeper/internal/assets"
	"trigger-keeper/internal/auth"
	"trigger-keeper/internal/bridge"
	bridgestub "trigger-keeper/internal/bridge/stub"
	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/logger"
	oraclestub "trigger-keeper/internal/oracle/stub"
	"trigger-keeper/internal/storage/memory"
	"trigger-keeper/internal/swap"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	keeper   = common.HexToAddress("0x00000000000000000000000000000000000e0e0e")
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000bad")

	creationFee = big.NewInt(5_000)
)

const btcPriceIndex = 3

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Publish(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) count(t domain.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	registry *Registry
	clock    *fakeClock
	prices   *oraclestub.Reader
	relay    *bridgestub.Relay
	swaps    *memory.SwapStore
	triggers *memory.TriggerStore
	events   *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := logger.Discard().WithComponent("test")

	acl := auth.New(memory.NewRoleStore(), log)
	if err := acl.Bootstrap(ctx, []domain.Address{operator}, []domain.Address{keeper}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	assetRegistry := assets.NewRegistry(memory.NewAssetStore(), acl, nil, log)
	if err := assetRegistry.Seed(ctx, []domain.AssetEntry{
		{Symbol: "USDC", Decimals: 6, Pegged: true},
		{Symbol: "BTC", TokenIndex: 197, PriceIndex: btcPriceIndex, MarketIndex: 10142, Decimals: 8},
	}); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	f := &fixture{
		clock:  &fakeClock{t: time.UnixMilli(1_700_000_000_000)},
		prices: oraclestub.NewReader(),
		relay:  bridgestub.NewRelay(),
		swaps:  memory.NewSwapStore(),
		events: &recordingSink{},
	}
	f.triggers = memory.NewTriggerStore(f.swaps)
	f.prices.Set(btcPriceIndex, 95_000_000_000)

	engine := swap.NewEngine(swap.Config{}, assetRegistry, f.prices, bridge.New(f.relay, log), f.swaps,
		alert.NewLogNotifier(log), nil, log)

	f.registry = New(Config{
		CreationFee: creationFee,
		MinDuration: time.Hour,
		MaxDuration: 7 * 24 * time.Hour,
	}, f.triggers, assetRegistry, f.prices, acl, engine, log, WithClock(f.clock.Now), WithEvents(f.events))
	return f
}

func validRequest() CreateRequest {
	return CreateRequest{
		Owner:          owner,
		InputAsset:     "USDC",
		TargetAsset:    "BTC",
		ReferenceAsset: "BTC",
		InputAmount:    big.NewInt(1_000_000_000),
		TriggerPrice:   100_000_000_000,
		Direction:      domain.DirectionAbove,
		SlippageBps:    50,
		Duration:       24 * time.Hour,
		Value:          big.NewInt(7_000),
	}
}

func (f *fixture) create(t *testing.T, mutate func(*CreateRequest)) *domain.Trigger {
	t.Helper()
	req := validRequest()
	if mutate != nil {
		mutate(&req)
	}
	tr, _, err := f.registry.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return tr
}

func TestCreate(t *testing.T) {
	f := newFixture(t)

	tr, refund, err := f.registry.Create(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if tr.ID != 1 || tr.Status != domain.TriggerStatusActive {
		t.Errorf("unexpected trigger %+v", tr)
	}
	if tr.FeePaid.Cmp(creationFee) != 0 || refund.Int64() != 2_000 {
		t.Errorf("fee=%s refund=%s", tr.FeePaid, refund)
	}
	if tr.ExpiresAt-tr.CreatedAt != (24 * time.Hour).Milliseconds() {
		t.Errorf("unexpected expiry window %d", tr.ExpiresAt-tr.CreatedAt)
	}

	second := f.create(t, nil)
	if second.ID != 2 {
		t.Errorf("expected sequential id 2, got %d", second.ID)
	}
	if f.events.count(domain.EventTriggerCreated) != 2 {
		t.Errorf("expected 2 created events")
	}
}

func TestCreate_ExactFeeAndBounds(t *testing.T) {
	f := newFixture(t)

	for _, d := range []time.Duration{time.Hour, 7 * 24 * time.Hour} {
		req := validRequest()
		req.Value = new(big.Int).Set(creationFee)
		req.Duration = d
		_, refund, err := f.registry.Create(context.Background(), req)
		if err != nil {
			t.Fatalf("duration %s: %v", d, err)
		}
		if refund.Sign() != 0 {
			t.Errorf("exact fee should refund nothing, got %s", refund)
		}
	}
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"insufficient fee", func(r *CreateRequest) { r.Value = big.NewInt(4_999) }},
		{"no fee", func(r *CreateRequest) { r.Value = nil }},
		{"duration too short", func(r *CreateRequest) { r.Duration = time.Hour - time.Second }},
		{"duration too long", func(r *CreateRequest) { r.Duration = 8 * 24 * time.Hour }},
		{"zero amount", func(r *CreateRequest) { r.InputAmount = big.NewInt(0) }},
		{"zero price", func(r *CreateRequest) { r.TriggerPrice = 0 }},
		{"slippage", func(r *CreateRequest) { r.SlippageBps = 5001 }},
		{"direction", func(r *CreateRequest) { r.Direction = "sideways" }},
		{"unregistered input", func(r *CreateRequest) { r.InputAsset = "DOGE" }},
		{"unregistered reference", func(r *CreateRequest) { r.ReferenceAsset = "ETH" }},
		{"same asset", func(r *CreateRequest) { r.TargetAsset = "USDC" }},
		{"zero owner", func(r *CreateRequest) { r.Owner = common.Address{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			if _, _, err := f.registry.Create(context.Background(), req); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	active, _ := f.registry.ListActive(context.Background())
	if len(active) != 0 {
		t.Errorf("rejected creates stored %d triggers", len(active))
	}
}

// Owner cancels an active trigger; a later execute fails with invalid state.
func TestCancelThenExecute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := f.create(t, nil)

	if _, err := f.registry.Cancel(ctx, tr.ID, stranger); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-owner cancel: expected ErrUnauthorized, got %v", err)
	}

	cancelled, err := f.registry.Cancel(ctx, tr.ID, owner)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != domain.TriggerStatusCancelled {
		t.Errorf("status = %s", cancelled.Status)
	}

	f.prices.Set(btcPriceIndex, 200_000_000_000)
	if _, err := f.registry.Execute(ctx, tr.ID, keeper); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("execute after cancel: expected ErrInvalidState, got %v", err)
	}
	if _, err := f.registry.Cancel(ctx, tr.ID, owner); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("second cancel: expected ErrInvalidState, got %v", err)
	}
	if len(f.relay.Instructions()) != 0 {
		t.Error("cancelled trigger must not issue a swap")
	}
}

func TestExecute_RequiresExecutor(t *testing.T) {
	f := newFixture(t)
	tr := f.create(t, nil)
	f.prices.Set(btcPriceIndex, 100_500_000_000)

	for _, caller := range []domain.Address{owner, stranger, operator} {
		if _, err := f.registry.Execute(context.Background(), tr.ID, caller); !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("caller %s: expected ErrUnauthorized, got %v", caller.Hex(), err)
		}
	}
}

func TestExecute_ConditionNotMetThenMet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := f.create(t, nil)

	if _, err := f.registry.Execute(ctx, tr.ID, keeper); !errors.Is(err, domain.ErrConditionNotMet) {
		t.Fatalf("expected ErrConditionNotMet, got %v", err)
	}
	got, _ := f.registry.Get(ctx, tr.ID)
	if got.Status != domain.TriggerStatusActive {
		t.Fatalf("status after unmet = %s", got.Status)
	}

	f.prices.Set(btcPriceIndex, 100_500_000_000)
	s, err := f.registry.Execute(ctx, tr.ID, keeper)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	// 1000 USDC at 100500 with 0.5% slippage, in satoshis
	want, err := swap.QuoteMinOutputScaled(big.NewInt(1_000_000_000), 1_000_000, 100_500_000_000, 50, 6, 8)
	if err != nil {
		t.Fatalf("QuoteMinOutputScaled failed: %v", err)
	}
	if want.Int64() != 990_049 {
		t.Fatalf("quote = %s, want 990049", want)
	}
	if s.MinOutput.Cmp(want) != 0 || s.TriggerID != tr.ID {
		t.Errorf("unexpected swap %+v", s)
	}
	if f.prices.Reads(btcPriceIndex) != 2 {
		t.Errorf("expected one oracle read per execute, got %d", f.prices.Reads(btcPriceIndex))
	}

	got, _ = f.registry.Get(ctx, tr.ID)
	if got.Status != domain.TriggerStatusExecuted || got.SwapID != s.ID {
		t.Errorf("unexpected trigger after execute %+v", got)
	}
	stored, err := f.swaps.GetByTriggerID(ctx, tr.ID)
	if err != nil || stored.ID != s.ID {
		t.Errorf("swap not linked: %v", err)
	}

	if _, err := f.registry.Execute(ctx, tr.ID, keeper); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("re-execute: expected ErrInvalidState, got %v", err)
	}
	if f.events.count(domain.EventTriggerExecuted) != 1 || f.events.count(domain.EventSwapIssued) != 1 {
		t.Error("expected one executed and one swap event")
	}
}

func TestExecute_BoundaryEquality(t *testing.T) {
	for _, dir := range []domain.Direction{domain.DirectionAbove, domain.DirectionBelow} {
		t.Run(dir.String(), func(t *testing.T) {
			f := newFixture(t)
			tr := f.create(t, func(r *CreateRequest) { r.Direction = dir })
			f.prices.Set(btcPriceIndex, tr.TriggerPrice)

			if _, err := f.registry.Execute(context.Background(), tr.ID, keeper); err != nil {
				t.Errorf("price equal to threshold should execute: %v", err)
			}
		})
	}
}

func TestExecute_BelowDirection(t *testing.T) {
	f := newFixture(t)
	tr := f.create(t, func(r *CreateRequest) {
		r.Direction = domain.DirectionBelow
		r.TriggerPrice = 90_000_000_000
	})

	if _, err := f.registry.Execute(context.Background(), tr.ID, keeper); !errors.Is(err, domain.ErrConditionNotMet) {
		t.Fatalf("expected ErrConditionNotMet at 95000, got %v", err)
	}
	f.prices.Set(btcPriceIndex, 89_999_999_999)
	if _, err := f.registry.Execute(context.Background(), tr.ID, keeper); err != nil {
		t.Errorf("expected execution below threshold: %v", err)
	}
}

// An active, unmet trigger passes its expiry; execute reports the expiry.
func TestExpiredTrigger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := f.create(t, nil)

	if _, err := f.registry.Expire(ctx, tr.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("early expire: expected ErrInvalidState, got %v", err)
	}

	f.clock.Advance(24*time.Hour + time.Millisecond)
	f.prices.Set(btcPriceIndex, 150_000_000_000)

	got, _ := f.registry.Get(ctx, tr.ID)
	if got.Status != domain.TriggerStatusExpired {
		t.Errorf("Get status = %s, want expired", got.Status)
	}

	_, err := f.registry.Execute(ctx, tr.ID, keeper)
	if !errors.Is(err, domain.ErrTriggerExpired) || !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrTriggerExpired, got %v", err)
	}
	if domain.KindOf(err) != domain.KindTriggerExpired {
		t.Errorf("kind = %s", domain.KindOf(err))
	}
	if _, err := f.registry.Cancel(ctx, tr.ID, owner); !errors.Is(err, domain.ErrTriggerExpired) {
		t.Errorf("cancel expired: expected ErrTriggerExpired, got %v", err)
	}
	if len(f.relay.Instructions()) != 0 {
		t.Error("expired trigger must not issue a swap")
	}

	active, _ := f.registry.ListActive(ctx)
	if len(active) != 0 {
		t.Errorf("ListActive returned expired trigger")
	}

	expired, err := f.registry.Expire(ctx, tr.ID)
	if err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if expired.Status != domain.TriggerStatusExpired {
		t.Errorf("status = %s", expired.Status)
	}
	if _, err := f.registry.Expire(ctx, tr.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("second expire: expected ErrInvalidState, got %v", err)
	}
}

func TestExpiry_Boundary(t *testing.T) {
	f := newFixture(t)
	tr := f.create(t, nil)
	f.prices.Set(btcPriceIndex, 100_000_000_000)

	// now == expiresAt is still live
	f.clock.Advance(24 * time.Hour)
	if _, err := f.registry.Execute(context.Background(), tr.ID, keeper); err != nil {
		t.Errorf("execute at expiry instant: %v", err)
	}
}

func TestExecute_BridgeFailureLeavesActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := f.create(t, nil)
	f.prices.Set(btcPriceIndex, 100_500_000_000)
	f.relay.FailNext(1, nil)

	if _, err := f.registry.Execute(ctx, tr.ID, keeper); !errors.Is(err, domain.ErrBridgeCallFailed) {
		t.Fatalf("expected ErrBridgeCallFailed, got %v", err)
	}
	got, _ := f.registry.Get(ctx, tr.ID)
	if got.Status != domain.TriggerStatusActive || got.SwapID != 0 {
		t.Errorf("trigger changed after failed swap: %+v", got)
	}
	if _, err := f.swaps.GetByTriggerID(ctx, tr.ID); err == nil {
		t.Error("swap persisted after bridge failure")
	}

	// next attempt succeeds
	if _, err := f.registry.Execute(ctx, tr.ID, keeper); err != nil {
		t.Errorf("retry failed: %v", err)
	}
}

func TestExecute_OracleUnavailable(t *testing.T) {
	f := newFixture(t)
	tr := f.create(t, nil)
	f.prices.Fail(btcPriceIndex)

	if _, err := f.registry.Execute(context.Background(), tr.ID, keeper); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Errorf("expected ErrOracleUnavailable, got %v", err)
	}
}

func TestExecute_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.registry.Execute(context.Background(), 42, keeper); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.registry.Get(context.Background(), 42); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExecute_ConcurrentExactlyOnce(t *testing.T) {
	f := newFixture(t)
	tr := f.create(t, nil)
	f.prices.Set(btcPriceIndex, 100_500_000_000)

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, invalid int

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.registry.Execute(context.Background(), tr.ID, keeper)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrInvalidState):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || invalid != workers-1 {
		t.Errorf("successes=%d invalid=%d", successes, invalid)
	}
	if n := len(f.relay.Instructions()); n != 1 {
		t.Errorf("relayed %d instructions, want 1", n)
	}
}

func TestCancelRacesExecute(t *testing.T) {
	f := newFixture(t)
	tr := f.create(t, nil)
	f.prices.Set(btcPriceIndex, 100_500_000_000)

	var wg sync.WaitGroup
	var execErr, cancelErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, execErr = f.registry.Execute(context.Background(), tr.ID, keeper)
	}()
	go func() {
		defer wg.Done()
		_, cancelErr = f.registry.Cancel(context.Background(), tr.ID, owner)
	}()
	wg.Wait()

	if (execErr == nil) == (cancelErr == nil) {
		t.Fatalf("exactly one of execute/cancel must win: exec=%v cancel=%v", execErr, cancelErr)
	}
	got, _ := f.registry.Get(context.Background(), tr.ID)
	if execErr == nil && got.Status != domain.TriggerStatusExecuted {
		t.Errorf("execute won but status is %s", got.Status)
	}
	if cancelErr == nil && got.Status != domain.TriggerStatusCancelled {
		t.Errorf("cancel won but status is %s", got.Status)
	}
}

func TestListByOwnerAndActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.create(t, nil)
	b := f.create(t, func(r *CreateRequest) { r.Duration = time.Hour })
	c := f.create(t, nil)
	if _, err := f.registry.Cancel(ctx, c.ID, owner); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	f.clock.Advance(2 * time.Hour)

	active, err := f.registry.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Errorf("unexpected active set %+v", active)
	}

	mine, err := f.registry.ListByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	want := map[uint64]domain.TriggerStatus{
		a.ID: domain.TriggerStatusActive,
		b.ID: domain.TriggerStatusExpired,
		c.ID: domain.TriggerStatusCancelled,
	}
	if len(mine) != 3 {
		t.Fatalf("expected 3 triggers, got %d", len(mine))
	}
	for _, tr := range mine {
		if tr.Status != want[tr.ID] {
			t.Errorf("trigger %d status %s, want %s", tr.ID, tr.Status, want[tr.ID])
		}
	}
}

func TestFees(t *testing.T) {
	f := newFixture(t)
	fees := f.registry.Fees()
	if fees.CreationFee.Cmp(creationFee) != 0 || fees.MinDuration != time.Hour || fees.MaxSlippageBps != domain.MaxSlippageBps {
		t.Errorf("unexpected fees %+v", fees)
	}
	fees.CreationFee.SetInt64(0)
	if f.registry.Fees().CreationFee.Cmp(creationFee) != 0 {
		t.Error("Fees must return a copy")
	}
}
