package invoker

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/outboxware/outbox/internal/handler"
)

type recordingScope struct {
	opened, succeeded, errored, closed bool
	lastErr                            error
}

func (s *recordingScope) OnSuccess()     { s.succeeded = true }
func (s *recordingScope) OnError(e error) { s.errored = true; s.lastErr = e }
func (s *recordingScope) Close() error   { s.closed = true; return nil }

func TestInvokeCallsTypedThenGeneric(t *testing.T) {
	var order []string
	d := &handler.Descriptor{
		HandlerID: "h",
		Typed: func(ctx context.Context, payload any, meta handler.Metadata) error {
			order = append(order, "typed")
			return nil
		},
		Generic: func(ctx context.Context, payload any, meta handler.Metadata) error {
			order = append(order, "generic")
			return nil
		},
	}
	inv := New(zerolog.Nop())
	err := inv.Invoke(context.Background(), d, "payload", handler.Metadata{})
	require.NoError(t, err)
	require.Equal(t, []string{"typed", "generic"}, order)
}

func TestInvokeStopsAtTypedFailure(t *testing.T) {
	genericCalled := false
	d := &handler.Descriptor{
		HandlerID: "h",
		Typed: func(ctx context.Context, payload any, meta handler.Metadata) error {
			return errors.New("boom")
		},
		Generic: func(ctx context.Context, payload any, meta handler.Metadata) error {
			genericCalled = true
			return nil
		},
	}
	inv := New(zerolog.Nop())
	err := inv.Invoke(context.Background(), d, "payload", handler.Metadata{})
	require.Error(t, err)
	require.False(t, genericCalled)
}

func TestScopesOpenInOrderAndCloseInReverse(t *testing.T) {
	var opened, closed []string
	factory := func(name string) ScopeFactory {
		return func(ctx context.Context, meta handler.Metadata) Scope {
			opened = append(opened, name)
			return &namedScope{name: name, closed: &closed}
		}
	}
	inv := New(zerolog.Nop(), factory("a"), factory("b"))
	d := &handler.Descriptor{HandlerID: "h", Generic: func(ctx context.Context, payload any, meta handler.Metadata) error { return nil }}

	require.NoError(t, inv.Invoke(context.Background(), d, nil, handler.Metadata{}))
	require.Equal(t, []string{"a", "b"}, opened)
	require.Equal(t, []string{"b", "a"}, closed)
}

type namedScope struct {
	name   string
	closed *[]string
}

func (s *namedScope) OnSuccess()      {}
func (s *namedScope) OnError(e error) {}
func (s *namedScope) Close() error {
	*s.closed = append(*s.closed, s.name)
	return nil
}

func TestScopesNotifiedOnErrorAndSuccess(t *testing.T) {
	scope := &recordingScope{}
	inv := New(zerolog.Nop(), func(ctx context.Context, meta handler.Metadata) Scope { return scope })
	d := &handler.Descriptor{HandlerID: "h", Generic: func(ctx context.Context, payload any, meta handler.Metadata) error { return nil }}
	require.NoError(t, inv.Invoke(context.Background(), d, nil, handler.Metadata{}))
	require.True(t, scope.succeeded)
	require.True(t, scope.closed)

	errScope := &recordingScope{}
	failing := New(zerolog.Nop(), func(ctx context.Context, meta handler.Metadata) Scope { return errScope })
	boom := errors.New("boom")
	fd := &handler.Descriptor{HandlerID: "h", Generic: func(ctx context.Context, payload any, meta handler.Metadata) error { return boom }}
	require.ErrorIs(t, failing.Invoke(context.Background(), fd, nil, handler.Metadata{}), boom)
	require.True(t, errScope.errored)
	require.Equal(t, boom, errScope.lastErr)
	require.False(t, errScope.succeeded)
	require.True(t, errScope.closed)
}
