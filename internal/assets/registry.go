// Package assets maps registry symbols to settlement-layer indices.
package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trigger-keeper/internal/auth"
	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/logger"
	"trigger-keeper/internal/storage"
)

// maxSymbolLen bounds registry symbols.
const maxSymbolLen = 16

// Resolver looks up asset entries by symbol.
type Resolver interface {
	Resolve(ctx context.Context, symbol string) (*domain.AssetEntry, error)
}

// Registry is the operator-managed asset index registry.
type Registry struct {
	store  storage.AssetStore
	acl    *auth.ACL
	events domain.EventSink
	log    *logger.Entry
	now    func() time.Time
}

// NewRegistry creates a registry. events may be nil.
func NewRegistry(store storage.AssetStore, acl *auth.ACL, events domain.EventSink, log *logger.Entry) *Registry {
	if events == nil {
		events = domain.DiscardEvents{}
	}
	return &Registry{
		store:  store,
		acl:    acl,
		events: events,
		log:    log.WithComponent("assets"),
		now:    time.Now,
	}
}

// NormalizeSymbol trims and upper-cases a symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Upsert writes an entry, superseding any existing one for the symbol.
// Only operators may write.
func (r *Registry) Upsert(ctx context.Context, caller domain.Address, e domain.AssetEntry) (*domain.AssetEntry, error) {
	if err := r.acl.Require(ctx, caller, domain.CapabilityOperator); err != nil {
		return nil, err
	}

	e.Symbol = NormalizeSymbol(e.Symbol)
	if err := validateEntry(&e); err != nil {
		return nil, err
	}
	e.UpdatedAt = r.now().UnixMilli()
	e.UpdatedBy = caller

	if err := r.store.Upsert(ctx, &e); err != nil {
		return nil, fmt.Errorf("upsert asset %s: %w", e.Symbol, err)
	}

	r.log.WithFields(logger.Fields{
		"symbol":       e.Symbol,
		"token_index":  e.TokenIndex,
		"price_index":  e.PriceIndex,
		"market_index": e.MarketIndex,
		"by":           caller.Hex(),
	}).Info("asset entry updated")
	r.events.Publish(domain.Event{Type: domain.EventAssetUpdated, Account: caller.Hex(), Detail: e.Symbol, Timestamp: e.UpdatedAt})
	return &e, nil
}

// Seed writes entries without an operator check, skipping symbols that are
// already registered. Used at startup from configuration.
func (r *Registry) Seed(ctx context.Context, entries []domain.AssetEntry) error {
	for _, e := range entries {
		e.Symbol = NormalizeSymbol(e.Symbol)
		if err := validateEntry(&e); err != nil {
			return err
		}
		if _, err := r.store.GetBySymbol(ctx, e.Symbol); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("seed asset %s: %w", e.Symbol, err)
		}
		e.UpdatedAt = r.now().UnixMilli()
		if err := r.store.Upsert(ctx, &e); err != nil {
			return fmt.Errorf("seed asset %s: %w", e.Symbol, err)
		}
	}
	return nil
}

// Resolve returns the entry for symbol. Unregistered symbols are invalid input.
func (r *Registry) Resolve(ctx context.Context, symbol string) (*domain.AssetEntry, error) {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return nil, domain.NewInvalidInput("asset symbol is empty")
	}
	e, err := r.store.GetBySymbol(ctx, sym)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.NewInvalidInput("asset %s is not registered", sym)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve asset %s: %w", sym, err)
	}
	return e, nil
}

// List returns all entries ordered by symbol.
func (r *Registry) List(ctx context.Context) ([]*domain.AssetEntry, error) {
	return r.store.List(ctx)
}

func validateEntry(e *domain.AssetEntry) error {
	if e.Symbol == "" || len(e.Symbol) > maxSymbolLen {
		return domain.NewInvalidInput("asset symbol must be 1-%d characters", maxSymbolLen)
	}
	for _, c := range e.Symbol {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return domain.NewInvalidInput("asset symbol %q has invalid character %q", e.Symbol, c)
		}
	}
	if e.Decimals > 18 {
		return domain.NewInvalidInput("asset %s decimals %d exceed 18", e.Symbol, e.Decimals)
	}
	return nil
}
