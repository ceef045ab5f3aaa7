// Package handler implements the registry that resolves a record's
// handler-id to the typed and/or generic handler functions that must
// process its payload (spec.md §4.2).
package handler

import (
	"context"
	"fmt"
	"sync"
)

// Metadata carries per-record information passed to a handler invocation,
// built by the invoker from the record (spec.md §4.5).
type Metadata struct {
	Key       string
	HandlerID string
	CreatedAt int64 // unix nanos; kept primitive so Metadata stays a plain value
	Context   map[string]string
}

// FailureContext is passed to a fallback when the primary handler chain
// gives up on a record (spec.md §4.6).
type FailureContext struct {
	RecordID              string
	Key                   string
	CreatedAt             int64
	FailureCount          int
	LastFailure           error
	HandlerID             string
	RetriesExhausted      bool
	NonRetryableException bool
	Context               map[string]string
}

// TypedFunc processes one specific payload type.
type TypedFunc func(ctx context.Context, payload any, meta Metadata) error

// GenericFunc processes any payload type.
type GenericFunc func(ctx context.Context, payload any, meta Metadata) error

// FallbackFunc is invoked when the primary chain exhausts retries or hits a
// non-retryable error (spec.md §4.6).
type FallbackFunc func(ctx context.Context, payload any, meta Metadata, failure FailureContext) error

// Descriptor is an immutable registration: a handler-id bound to a typed
// and/or generic primary function, plus an optional fallback (spec.md §3
// "HandlerDescriptor").
type Descriptor struct {
	HandlerID   string
	PayloadType string // empty means "accepts any payload" (generic)
	Typed       TypedFunc
	Generic     GenericFunc
	Fallback    FallbackFunc
}

// Accepts reports whether this descriptor applies to payloadType. A
// descriptor with an empty PayloadType is generic and accepts everything.
func (d Descriptor) Accepts(payloadType string) bool {
	return d.PayloadType == "" || d.PayloadType == payloadType
}

// Registry is the immutable-after-build map handlerId → Descriptor
// (spec.md §4.2). Registration and lookups are synchronized with an
// RWMutex, so handlers can be added from concurrent startup goroutines;
// lookups share a read lock and wait only while a registration holds it.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Descriptor
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[string]*Descriptor)}
}

// Register adds or replaces a handler descriptor. Registration is
// idempotent by handler-id, matching spec.md §6's
// "registerHandler(handler) — idempotent by handlerId".
func (r *Registry) Register(d Descriptor) error {
	if d.HandlerID == "" {
		return fmt.Errorf("handler: handlerId must not be empty")
	}
	if d.Typed == nil && d.Generic == nil {
		return fmt.Errorf("handler %q: must provide a typed or generic function", d.HandlerID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cp := d
	r.byID[d.HandlerID] = &cp
	return nil
}

// RegisterFallback attaches a fallback function to an already-registered
// handler-id.
func (r *Registry) RegisterFallback(handlerID string, fn FallbackFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[handlerID]
	if !ok {
		return fmt.Errorf("handler: cannot register fallback, unknown handlerId %q", handlerID)
	}
	d.Fallback = fn
	return nil
}

// ErrUnknownHandler is returned by Resolve when a record's handlerId has no
// registered descriptor (spec.md §7 UnknownHandler, fatal for the record).
var ErrUnknownHandler = fmt.Errorf("handler: unknown handler id")

// Resolve looks up the descriptor for a record's handlerId.
func (r *Registry) Resolve(handlerID string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[handlerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, handlerID)
	}
	return d, nil
}

// ResolveByPayloadType finds a registered handler-id whose descriptor
// accepts payloadType, used by the façade's schedule() when the caller
// does not supply a handlerId explicitly (spec.md §4.1 step 1). A
// descriptor whose PayloadType equals payloadType is preferred over generic
// catch-alls. The registry is scanned in map order, so when several
// descriptors match equally, which one is returned is not defined.
func (r *Registry) ResolveByPayloadType(payloadType string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var genericMatch *Descriptor
	for _, d := range r.byID {
		if d.PayloadType == payloadType {
			return d, nil
		}
		if d.PayloadType == "" && genericMatch == nil {
			genericMatch = d
		}
	}
	if genericMatch != nil {
		return genericMatch, nil
	}
	return nil, fmt.Errorf("handler: no matching handler for payload type %q", payloadType)
}
