package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cause := stdErrors.New("connection refused")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "storage", err: NewStorageError("append record", cause), want: KindStorage},
		{name: "wrapped transport", err: fmt.Errorf("send: %w", NewTransportError("send text", cause)), want: KindTransport},
		{name: "recursion", err: NewRecursionLimitError("n1", 10), want: KindRecursionLimit},
		{name: "plain error", err: cause, want: ""},
		{name: "nil", err: nil, want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := stdErrors.New("bad token")
	err := NewFatalStartupError("bot-1", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsKind(err, KindFatalStartup))
	assert.False(t, IsKind(err, KindConfig))
	assert.Contains(t, err.Error(), "bot-1")
}

func TestHandlerReturnsUserMessage(t *testing.T) {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), false)

	msg, retryable := h.Handle(context.Background(), NewStorageError("query", stdErrors.New("down")).WithUserMessage("try later"))
	assert.Equal(t, "try later", msg)
	assert.True(t, retryable)

	msg, retryable = h.Handle(context.Background(), stdErrors.New("boom"))
	assert.Empty(t, msg)
	assert.False(t, retryable)

	msg, _ = h.Handle(context.Background(), nil)
	assert.Empty(t, msg)
}

func TestWithRetry(t *testing.T) {
	t.Run("stops on non retryable", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return NewConfigError("dangling edge", nil)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			if calls < 2 {
				return NewStorageError("ping", stdErrors.New("not ready"))
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("honours cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WithRetry(ctx, func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
