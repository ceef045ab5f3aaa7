// Package routing resolves an external destination for a payload that a
// handler wants to externalize to a broker. It never touches persistence:
// evaluation is a pure function over (payload, metadata) (spec.md §4.13).
package routing

import (
	"errors"

	"github.com/outboxware/outbox/internal/handler"
)

// Selector reports whether a Route applies to the given payload/metadata.
type Selector func(payload any, meta handler.Metadata) bool

// TargetFunc resolves the destination name (queue, topic, exchange) a
// matched payload should be published to.
type TargetFunc func(payload any, meta handler.Metadata) string

// KeyFunc resolves the partition/routing key to publish with.
type KeyFunc func(payload any, meta handler.Metadata) string

// HeadersFunc builds broker message headers from the payload/metadata.
type HeadersFunc func(payload any, meta handler.Metadata) map[string]string

// MapperFunc transforms the payload before it is handed to the publisher,
// e.g. to project a subset of fields onto the wire representation.
type MapperFunc func(payload any) any

// Route is one candidate destination; the first Route in a Routing whose
// Selector matches wins (spec.md §4.13).
type Route struct {
	Name      string
	Selector  Selector
	TargetFn  TargetFunc
	KeyFn     KeyFunc
	HeadersFn HeadersFunc
	MapperFn  MapperFunc
}

// matches reports whether r applies; a nil Selector never matches and is
// only valid as part of a Routing's DefaultRoute.
func (r Route) matches(payload any, meta handler.Metadata) bool {
	return r.Selector != nil && r.Selector(payload, meta)
}

// ErrNoRoute is returned when no ordered route matches and no default
// route is configured.
var ErrNoRoute = errors.New("routing: no route matched and no default route configured")

// Routing is an ordered list of candidate routes plus an optional
// fallback.
type Routing struct {
	Routes       []Route
	DefaultRoute *Route
}

// Resolve evaluates routes in order and returns the first match, falling
// back to DefaultRoute, or ErrNoRoute if neither applies.
func (r Routing) Resolve(payload any, meta handler.Metadata) (Route, error) {
	for _, route := range r.Routes {
		if route.matches(payload, meta) {
			return route, nil
		}
	}
	if r.DefaultRoute != nil {
		return *r.DefaultRoute, nil
	}
	return Route{}, ErrNoRoute
}

// ShouldExternalize reports whether any route (ordered or default) would
// claim this payload, without requiring the caller to handle ErrNoRoute.
func (r Routing) ShouldExternalize(payload any, meta handler.Metadata) bool {
	_, err := r.Resolve(payload, meta)
	return err == nil
}

// ResolveTarget resolves the destination name for a route match, or ""
// when the route carries no TargetFn.
func ResolveTarget(route Route, payload any, meta handler.Metadata) string {
	if route.TargetFn == nil {
		return ""
	}
	return route.TargetFn(payload, meta)
}

// ExtractKey resolves the routing key for a route match, falling back to
// the record's own key when the route carries no KeyFn.
func ExtractKey(route Route, payload any, meta handler.Metadata) string {
	if route.KeyFn == nil {
		return meta.Key
	}
	return route.KeyFn(payload, meta)
}

// BuildHeaders resolves broker headers for a route match, or nil when the
// route carries no HeadersFn.
func BuildHeaders(route Route, payload any, meta handler.Metadata) map[string]string {
	if route.HeadersFn == nil {
		return nil
	}
	return route.HeadersFn(payload, meta)
}

// MapPayload transforms payload for the wire, or returns it unchanged
// when the route carries no MapperFn.
func MapPayload(route Route, payload any) any {
	if route.MapperFn == nil {
		return payload
	}
	return route.MapperFn(payload)
}

// ByPayloadType builds a Selector that matches when payload's dynamic
// type, run through typeName, equals want.
func ByPayloadType(want string, typeName func(any) string) Selector {
	return func(payload any, meta handler.Metadata) bool {
		return typeName(payload) == want
	}
}

// ByContextValue builds a Selector that matches when meta.Context[key]
// equals want.
func ByContextValue(key, want string) Selector {
	return func(payload any, meta handler.Metadata) bool {
		v, ok := meta.Context[key]
		return ok && v == want
	}
}

// ByPredicate adapts an arbitrary predicate into a Selector.
func ByPredicate(pred func(payload any, meta handler.Metadata) bool) Selector {
	return pred
}
