package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	called := false
	err := r.Register(Descriptor{
		HandlerID:   "order.created",
		PayloadType: "OrderCreated",
		Typed: func(ctx context.Context, payload any, meta Metadata) error {
			called = true
			return nil
		},
	})
	require.NoError(t, err)

	d, err := r.Resolve("order.created")
	require.NoError(t, err)
	require.NoError(t, d.Typed(context.Background(), nil, Metadata{}))
	require.True(t, called)
}

func TestResolveUnknownHandler(t *testing.T) {
	r := New()
	_, err := r.Resolve("missing")
	require.ErrorIs(t, err, ErrUnknownHandler)
}

func TestRegisterRequiresHandlerID(t *testing.T) {
	r := New()
	err := r.Register(Descriptor{Generic: func(ctx context.Context, payload any, meta Metadata) error { return nil }})
	require.Error(t, err)
}

func TestRegisterRequiresAtLeastOneFunc(t *testing.T) {
	r := New()
	err := r.Register(Descriptor{HandlerID: "x"})
	require.Error(t, err)
}

func TestRegisterFallbackOnUnknownHandlerFails(t *testing.T) {
	r := New()
	err := r.RegisterFallback("missing", func(ctx context.Context, payload any, meta Metadata, fc FailureContext) error { return nil })
	require.Error(t, err)
}

func TestRegisterIsIdempotentByHandlerID(t *testing.T) {
	r := New()
	mk := func(n int) Descriptor {
		return Descriptor{HandlerID: "h", Generic: func(ctx context.Context, payload any, meta Metadata) error { return errors.New("v") }}
	}
	require.NoError(t, r.Register(mk(1)))
	require.NoError(t, r.Register(mk(2)))

	d, err := r.Resolve("h")
	require.NoError(t, err)
	require.NotNil(t, d.Generic)
}

func TestResolveByPayloadTypePrefersTypedOverGeneric(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Descriptor{
		HandlerID: "generic.any", Generic: func(ctx context.Context, payload any, meta Metadata) error { return nil },
	}))
	require.NoError(t, r.Register(Descriptor{
		HandlerID: "order.created", PayloadType: "OrderCreated",
		Typed: func(ctx context.Context, payload any, meta Metadata) error { return nil },
	}))

	d, err := r.ResolveByPayloadType("OrderCreated")
	require.NoError(t, err)
	require.Equal(t, "order.created", d.HandlerID)
}

func TestResolveByPayloadTypeFallsBackToGeneric(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Descriptor{
		HandlerID: "generic.any", Generic: func(ctx context.Context, payload any, meta Metadata) error { return nil },
	}))

	d, err := r.ResolveByPayloadType("Unmapped")
	require.NoError(t, err)
	require.Equal(t, "generic.any", d.HandlerID)
}

func TestResolveByPayloadTypeNoMatch(t *testing.T) {
	r := New()
	_, err := r.ResolveByPayloadType("Unmapped")
	require.Error(t, err)
}
