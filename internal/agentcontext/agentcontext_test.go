package agentcontext

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurrentPrefersExplicitContext(t *testing.T) {
	t.Parallel()

	c := &Context{SessionID: "s1"}
	ctx := With(context.Background(), c)

	got, err := Current(ctx)
	require.NoError(t, err)
	require.Same(t, c, got)
}

func TestCurrentFallsBackWhenUnset(t *testing.T) {
	_, err := Current(context.Background())
	require.ErrorIs(t, err, ErrNotSet)

	c := &Context{SessionID: "s1"}
	SetFallback(c)
	defer SetFallback(nil)

	got, err := Current(context.Background())
	require.NoError(t, err)
	require.Same(t, c, got)
}

func TestWithFallbackRestoresPreviousOnReturn(t *testing.T) {
	outer := &Context{SessionID: "outer"}
	SetFallback(outer)
	defer SetFallback(nil)

	inner := &Context{SessionID: "inner"}
	err := WithFallback(context.Background(), inner, func(ctx context.Context) error {
		got, err := Current(ctx)
		require.NoError(t, err)
		require.Same(t, inner, got)
		return nil
	})
	require.NoError(t, err)

	got, err := Current(context.Background())
	require.NoError(t, err)
	require.Same(t, outer, got)
}

func TestSiblingGoroutinesWithExplicitContextAreIsolated(t *testing.T) {
	a := &Context{SessionID: "a"}
	b := &Context{SessionID: "b"}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		got, err := Current(With(context.Background(), a))
		require.NoError(t, err)
		require.Equal(t, "a", got.SessionID)
	}()
	go func() {
		defer wg.Done()
		got, err := Current(With(context.Background(), b))
		require.NoError(t, err)
		require.Equal(t, "b", got.SessionID)
	}()
	wg.Wait()
}
