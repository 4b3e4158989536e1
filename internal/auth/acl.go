// Package auth holds the capability ACL: which accounts may operate the
// registry and which may execute triggers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/logger"
	"trigger-keeper/internal/storage"
)

// ACL checks and manages capabilities backed by a RoleStore.
type ACL struct {
	roles  storage.RoleStore
	events domain.EventSink
	log    *logger.Entry
	now    func() time.Time
}

// Option configures an ACL.
type Option func(*ACL)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *ACL) { a.now = now }
}

// WithEvents sets the sink for role.changed events.
func WithEvents(sink domain.EventSink) Option {
	return func(a *ACL) { a.events = sink }
}

// New creates an ACL.
func New(roles storage.RoleStore, log *logger.Entry, opts ...Option) *ACL {
	a := &ACL{
		roles:  roles,
		events: domain.DiscardEvents{},
		log:    log.WithComponent("auth"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Has reports whether account holds c.
func (a *ACL) Has(ctx context.Context, account domain.Address, c domain.Capability) (bool, error) {
	ok, err := a.roles.Has(ctx, account, c)
	if err != nil {
		return false, fmt.Errorf("check %s capability: %w", c, err)
	}
	return ok, nil
}

// Require returns domain.ErrUnauthorized unless account holds c.
func (a *ACL) Require(ctx context.Context, account domain.Address, c domain.Capability) error {
	ok, err := a.Has(ctx, account, c)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s lacks %s capability", domain.ErrUnauthorized, account.Hex(), c)
	}
	return nil
}

// Grant gives account capability c. The caller must be an operator.
func (a *ACL) Grant(ctx context.Context, caller, account domain.Address, c domain.Capability) error {
	if !c.IsValid() {
		return domain.NewInvalidInput("unknown capability %q", c)
	}
	if err := a.Require(ctx, caller, domain.CapabilityOperator); err != nil {
		return err
	}

	at := a.now().UnixMilli()
	if err := a.roles.Grant(ctx, &domain.RoleGrant{
		Account:    account,
		Capability: c,
		GrantedBy:  caller,
		GrantedAt:  at,
	}); err != nil {
		return fmt.Errorf("grant %s to %s: %w", c, account.Hex(), err)
	}

	a.log.WithFields(logger.Fields{"account": account.Hex(), "capability": c, "by": caller.Hex()}).Info("capability granted")
	a.events.Publish(domain.Event{Type: domain.EventRoleChanged, Account: account.Hex(), Detail: "grant " + c.String(), Timestamp: at})
	return nil
}

// Revoke removes capability c from account. The caller must be an operator.
// An operator cannot revoke its own operator capability.
func (a *ACL) Revoke(ctx context.Context, caller, account domain.Address, c domain.Capability) error {
	if !c.IsValid() {
		return domain.NewInvalidInput("unknown capability %q", c)
	}
	if err := a.Require(ctx, caller, domain.CapabilityOperator); err != nil {
		return err
	}
	if c == domain.CapabilityOperator && caller == account {
		return domain.NewInvalidInput("operator cannot revoke itself")
	}

	at := a.now().UnixMilli()
	if err := a.roles.Revoke(ctx, account, c, caller, at); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s never held %s", domain.ErrNotFound, account.Hex(), c)
		}
		return fmt.Errorf("revoke %s from %s: %w", c, account.Hex(), err)
	}

	a.log.WithFields(logger.Fields{"account": account.Hex(), "capability": c, "by": caller.Hex()}).Info("capability revoked")
	a.events.Publish(domain.Event{Type: domain.EventRoleChanged, Account: account.Hex(), Detail: "revoke " + c.String(), Timestamp: at})
	return nil
}

// Bootstrap grants capabilities without an operator check. Used once at
// startup from configuration; existing grants are left untouched.
func (a *ACL) Bootstrap(ctx context.Context, operators, executors []domain.Address) error {
	at := a.now().UnixMilli()
	grant := func(account domain.Address, c domain.Capability) error {
		ok, err := a.Has(ctx, account, c)
		if err != nil || ok {
			return err
		}
		return a.roles.Grant(ctx, &domain.RoleGrant{Account: account, Capability: c, GrantedAt: at})
	}

	for _, op := range operators {
		if err := grant(op, domain.CapabilityOperator); err != nil {
			return fmt.Errorf("bootstrap operator %s: %w", op.Hex(), err)
		}
	}
	for _, ex := range executors {
		if err := grant(ex, domain.CapabilityExecutor); err != nil {
			return fmt.Errorf("bootstrap executor %s: %w", ex.Hex(), err)
		}
	}
	return nil
}

// List returns all grants.
func (a *ACL) List(ctx context.Context) ([]*domain.RoleGrant, error) {
	return a.roles.List(ctx)
}
