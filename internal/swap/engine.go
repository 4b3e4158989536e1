// Package swap computes slippage-bounded conversions and issues them to the
// settlement ledger through the bridge.
package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"trigger-keeper/internal/alert"
	"trigger-keeper/internal/assets"
	"trigger-keeper/internal/bridge"
	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/logger"
	"trigger-keeper/internal/observability"
	"trigger-keeper/internal/oracle"
	"trigger-keeper/internal/storage"
)

// peggedPrice values a pegged quote asset at exactly 1.0.
const peggedPrice = 1_000_000

// PriceBook carries prices already read in the current call, keyed by
// symbol, so each asset is read at most once.
type PriceBook map[string]uint64

// Sender relays framed actions to the settlement ledger.
type Sender interface {
	SendAction(ctx context.Context, actionID uint32, params []byte, value *big.Int, depositTo common.Address) (bridge.Receipt, error)
}

// Config holds swap fee and bound settings.
type Config struct {
	ProtocolFee    *big.Int
	MaxSlippageBps uint32
}

// Request describes one conversion.
type Request struct {
	User         domain.Address
	FromAsset    string
	ToAsset      string
	FromAmount   *big.Int
	SlippageBps  uint32
	FundingValue *big.Int // value attached by the caller, ignored when Prefunded
	Prefunded    bool     // funds already sit on the settlement ledger
	TriggerID    uint64
	Prices       PriceBook
}

// Engine issues swaps.
type Engine struct {
	cfg      Config
	assets   assets.Resolver
	oracle   oracle.Reader
	sender   Sender
	swaps    storage.SwapStore
	notifier alert.Notifier
	events   domain.EventSink
	log      *logger.Entry
	now      func() time.Time
}

// NewEngine creates an Engine. events may be nil.
func NewEngine(cfg Config, resolver assets.Resolver, prices oracle.Reader, sender Sender,
	swaps storage.SwapStore, notifier alert.Notifier, events domain.EventSink, log *logger.Entry) *Engine {
	if cfg.ProtocolFee == nil {
		cfg.ProtocolFee = new(big.Int)
	}
	if cfg.MaxSlippageBps == 0 || cfg.MaxSlippageBps > domain.MaxSlippageBps {
		cfg.MaxSlippageBps = domain.MaxSlippageBps
	}
	if events == nil {
		events = domain.DiscardEvents{}
	}
	return &Engine{
		cfg:      cfg,
		assets:   resolver,
		oracle:   prices,
		sender:   sender,
		swaps:    swaps,
		notifier: notifier,
		events:   events,
		log:      log.WithComponent("swap"),
		now:      time.Now,
	}
}

// ProtocolFee returns the flat fee charged on direct swaps.
func (e *Engine) ProtocolFee() *big.Int {
	return new(big.Int).Set(e.cfg.ProtocolFee)
}

// RequiredFunding returns the value a non-prefunded request must attach.
func (e *Engine) RequiredFunding(from *domain.AssetEntry, amount *big.Int) *big.Int {
	if from.Native {
		return new(big.Int).Add(amount, e.cfg.ProtocolFee)
	}
	return e.ProtocolFee()
}

// ExecuteSwap bounds the conversion, builds the order and relays it. The
// returned swap is not persisted. On error nothing was issued.
//
// An instruction broadcast without a receipt is returned as an incomplete
// swap carrying the transaction hash, after alerting operators. It must be
// recorded like an accepted one so the trigger is never issued twice.
func (e *Engine) ExecuteSwap(ctx context.Context, req Request) (*domain.Swap, error) {
	if req.FromAmount == nil || req.FromAmount.Sign() <= 0 {
		return nil, domain.NewInvalidInput("amount must be positive")
	}
	if req.SlippageBps > e.cfg.MaxSlippageBps {
		return nil, domain.NewInvalidInput("slippage %d bps exceeds %d", req.SlippageBps, e.cfg.MaxSlippageBps)
	}

	from, err := e.assets.Resolve(ctx, req.FromAsset)
	if err != nil {
		return nil, err
	}
	to, err := e.assets.Resolve(ctx, req.ToAsset)
	if err != nil {
		return nil, err
	}
	if from.Symbol == to.Symbol {
		return nil, domain.NewInvalidInput("input and target asset are both %s", from.Symbol)
	}

	var value *big.Int
	var depositTo common.Address
	if req.Prefunded {
		value = new(big.Int)
	} else {
		funding := req.FundingValue
		if funding == nil {
			funding = new(big.Int)
		}
		if want := e.RequiredFunding(from, req.FromAmount); funding.Cmp(want) != 0 {
			return nil, domain.NewInvalidInput("funding value %s, want %s", funding, want)
		}
		value = new(big.Int)
		if from.Native {
			value.Set(req.FromAmount)
			depositTo = bridge.DepositAddress(from)
		}
	}

	book := req.Prices
	if book == nil {
		book = make(PriceBook)
	}
	fromPrice, err := e.price(ctx, book, from)
	if err != nil {
		return nil, err
	}
	toPrice, err := e.price(ctx, book, to)
	if err != nil {
		return nil, err
	}

	minOutput, err := QuoteMinOutputScaled(req.FromAmount, fromPrice, toPrice, req.SlippageBps, from.Decimals, to.Decimals)
	if err != nil {
		return nil, err
	}

	cloid := uuid.New()
	order, err := buildOrder(from, to, req.FromAmount, minOutput, new(big.Int).SetBytes(cloid[:]))
	if err != nil {
		return nil, err
	}
	params, err := bridge.EncodeLimitOrder(order)
	if err != nil {
		return nil, err
	}

	rcpt, err := e.sender.SendAction(ctx, bridge.ActionLimitOrder, params, value, depositTo)
	unconfirmed := errors.Is(err, domain.ErrRelayUnconfirmed)
	if err != nil && !unconfirmed {
		return nil, err
	}

	s := &domain.Swap{
		TriggerID:    req.TriggerID,
		User:         req.User,
		FromAsset:    from.Symbol,
		ToAsset:      to.Symbol,
		FromAmount:   new(big.Int).Set(req.FromAmount),
		MinOutput:    minOutput,
		FromPrice:    fromPrice,
		ToPrice:      toPrice,
		SlippageBps:  req.SlippageBps,
		ActionID:     bridge.ActionLimitOrder,
		Payload:      rcpt.Data,
		FundingValue: value,
		TxHash:       rcpt.TxHash,
		Timestamp:    e.now().UnixMilli(),
		Completed:    !unconfirmed,
	}
	if unconfirmed {
		e.reportUnconfirmed(ctx, s, err)
		return s, nil
	}

	e.log.WithFields(logger.Fields{
		"trigger_id": req.TriggerID,
		"user":       req.User.Hex(),
		"from":       from.Symbol,
		"to":         to.Symbol,
		"amount":     req.FromAmount.String(),
		"min_output": minOutput.String(),
		"market":     order.Asset,
		"is_buy":     order.IsBuy,
		"tx_hash":    rcpt.TxHash,
	}).Info("swap instruction issued")
	return s, nil
}

// InstantSwap runs ExecuteSwap and persists the record. If the record
// cannot be written after the instruction was accepted, operators are
// alerted and the error is returned.
func (e *Engine) InstantSwap(ctx context.Context, req Request) (*domain.Swap, error) {
	req.TriggerID = 0
	req.Prefunded = false

	s, err := e.ExecuteSwap(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := e.swaps.Insert(ctx, s); err != nil {
		e.ReportStranded(ctx, s, err)
		return nil, fmt.Errorf("persist swap after relay %s: %w", s.TxHash, err)
	}

	observability.RecordSwapIssued("instant")
	e.events.Publish(domain.Event{
		Type:      domain.EventSwapIssued,
		SwapID:    s.ID,
		Account:   s.User.Hex(),
		Detail:    s.FromAsset + "->" + s.ToAsset,
		Amount:    new(big.Int).Set(s.FromAmount),
		Timestamp: s.Timestamp,
	})
	return s, nil
}

// ReportStranded logs, counts and alerts on an instruction that was relayed
// but whose record could not be written.
func (e *Engine) ReportStranded(ctx context.Context, s *domain.Swap, cause error) {
	e.log.WithError(cause).WithFields(logger.Fields{
		"user":    s.User.Hex(),
		"tx_hash": s.TxHash,
	}).Error("instruction relayed but swap record not persisted")
	observability.RecordStrandedInstruction()

	if e.notifier == nil {
		return
	}
	err := e.notifier.Notify(context.WithoutCancel(ctx), alert.Alert{
		Title:    "stranded swap instruction",
		Message:  fmt.Sprintf("instruction %s was relayed but its record was not stored: %v", s.TxHash, cause),
		Severity: alert.SeverityCritical,
		Fields: map[string]string{
			"user":        s.User.Hex(),
			"from_asset":  s.FromAsset,
			"to_asset":    s.ToAsset,
			"from_amount": s.FromAmount.String(),
			"trigger_id":  strconv.FormatUint(s.TriggerID, 10),
		},
		At: e.now(),
	})
	if err != nil {
		e.log.WithError(err).Warn("stranded instruction alert failed")
	}
}

// reportUnconfirmed alerts on an instruction broadcast without a receipt.
// Operators settle it by looking the hash up on chain.
func (e *Engine) reportUnconfirmed(ctx context.Context, s *domain.Swap, cause error) {
	e.log.WithError(cause).WithFields(logger.Fields{
		"trigger_id": s.TriggerID,
		"user":       s.User.Hex(),
		"tx_hash":    s.TxHash,
	}).Error("swap instruction broadcast without confirmation")
	observability.RecordUnconfirmedInstruction()

	if e.notifier == nil {
		return
	}
	err := e.notifier.Notify(context.WithoutCancel(ctx), alert.Alert{
		Title:    "unconfirmed swap instruction",
		Message:  fmt.Sprintf("instruction %s was broadcast but no receipt arrived: %v", s.TxHash, cause),
		Severity: alert.SeverityCritical,
		Fields: map[string]string{
			"tx_hash":     s.TxHash,
			"user":        s.User.Hex(),
			"from_asset":  s.FromAsset,
			"to_asset":    s.ToAsset,
			"from_amount": s.FromAmount.String(),
			"trigger_id":  strconv.FormatUint(s.TriggerID, 10),
		},
		At: e.now(),
	})
	if err != nil {
		e.log.WithError(err).Warn("unconfirmed instruction alert failed")
	}
}

// price returns the asset price from book, reading the oracle only when
// the asset has not been priced yet in this call.
func (e *Engine) price(ctx context.Context, book PriceBook, a *domain.AssetEntry) (uint64, error) {
	if a.Pegged {
		return peggedPrice, nil
	}
	if p, ok := book[a.Symbol]; ok && p > 0 {
		return p, nil
	}
	p, err := e.oracle.CurrentPrice(ctx, a.PriceIndex)
	if err != nil {
		return 0, fmt.Errorf("price %s: %w", a.Symbol, err)
	}
	book[a.Symbol] = p.Value
	return p.Value, nil
}
