// Package fallback invokes a handler's fallback function when the
// processor chain has given up on a record (spec.md §4.6).
package fallback

import (
	"context"

	"github.com/outboxware/outbox/internal/handler"
)

// Invoker calls a descriptor's registered fallback, if any.
type Invoker struct{}

// New returns a fallback Invoker.
func New() *Invoker { return &Invoker{} }

// Invoke calls d.Fallback when present. It reports whether a fallback was
// registered and invoked (regardless of its own outcome) via the first
// return value, matching spec.md §4.6: "Returns true iff a fallback was
// registered and invoked... false otherwise (caller marks FAILED)".
func (inv *Invoker) Invoke(ctx context.Context, d *handler.Descriptor, payload any, meta handler.Metadata, fc handler.FailureContext) (invoked bool, err error) {
	if d.Fallback == nil {
		return false, nil
	}
	return true, d.Fallback(ctx, payload, meta, fc)
}
