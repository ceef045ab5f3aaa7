// Package invoker calls a resolved handler descriptor with the record's
// payload and metadata, opening and closing context-propagation scopes
// around the call (spec.md §4.5).
package invoker

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/outboxware/outbox/internal/handler"
)

// Scope wraps one unit of propagated context (e.g. restoring a trace span)
// around a handler invocation.
type Scope interface {
	OnSuccess()
	OnError(err error)
	Close() error
}

// ScopeFactory opens a Scope for the given metadata. Registered factories
// run in declaration order and are closed in reverse (spec.md §4.5,
// §9 "Context propagation scopes").
type ScopeFactory func(ctx context.Context, meta handler.Metadata) Scope

// Invoker calls the typed-then-generic functions of a resolved descriptor,
// threading registered scopes around the call.
type Invoker struct {
	scopeFactories []ScopeFactory
	log            zerolog.Logger
}

// New builds an Invoker with the given scope factories, opened in the
// order provided.
func New(log zerolog.Logger, scopeFactories ...ScopeFactory) *Invoker {
	return &Invoker{scopeFactories: scopeFactories, log: log}
}

// Invoke runs d's typed handler (if any) then its generic handler (if any)
// against payload, opening all scopes first and closing them in reverse on
// every exit path. The record is successful only if both succeed.
func (inv *Invoker) Invoke(ctx context.Context, d *handler.Descriptor, payload any, meta handler.Metadata) error {
	scopes := make([]Scope, 0, len(inv.scopeFactories))
	for _, f := range inv.scopeFactories {
		scopes = append(scopes, f(ctx, meta))
	}
	defer inv.closeScopesReverse(scopes)

	err := inv.runHandlers(ctx, d, payload, meta)
	if err != nil {
		for _, s := range scopes {
			s.OnError(err)
		}
		return err
	}
	for _, s := range scopes {
		s.OnSuccess()
	}
	return nil
}

func (inv *Invoker) runHandlers(ctx context.Context, d *handler.Descriptor, payload any, meta handler.Metadata) error {
	if d.Typed != nil {
		if err := d.Typed(ctx, payload, meta); err != nil {
			return err
		}
	}
	if d.Generic != nil {
		if err := d.Generic(ctx, payload, meta); err != nil {
			return err
		}
	}
	return nil
}

func (inv *Invoker) closeScopesReverse(scopes []Scope) {
	for i := len(scopes) - 1; i >= 0; i-- {
		if err := scopes[i].Close(); err != nil {
			inv.log.Error().Err(err).Msg("scope close failed")
		}
	}
}
