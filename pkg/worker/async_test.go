package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translate-hub/pkg/errors"
)

func TestAsyncDeliversResults(t *testing.T) {
	a := NewAsync("double", 4, func(ctx context.Context, n int) int { return 2 * n })
	defer a.Close()

	require.True(t, a.Submit(1))
	require.True(t, a.Submit(2))

	var got []int
	require.Eventually(t, func() bool {
		if v, ok := a.Poll(); ok {
			got = append(got, v)
		}
		return len(got) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []int{2, 4}, got)
	assert.Zero(t, a.Pending())
}

func TestAsyncResetCancelsWork(t *testing.T) {
	started := make(chan struct{}, 1)
	a := NewAsync("slow", 4, func(ctx context.Context, n int) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})
	defer a.Close()

	require.True(t, a.Submit(1))
	<-started
	a.Reset()

	require.Eventually(t, func() bool { return a.Pending() == 0 }, time.Second, time.Millisecond)
	_, ok := a.Poll()
	assert.False(t, ok, "result of a cancelled generation is dropped")
}

func TestAsyncPanicBecomesFault(t *testing.T) {
	a := NewAsync("boom", 1, func(ctx context.Context, n int) int { panic("boom") })
	defer a.Close()

	require.True(t, a.Submit(1))
	require.Eventually(t, func() bool { return a.Err() != nil }, time.Second, time.Millisecond)
	assert.True(t, errors.Is(a.Err(), errors.ErrStageFault))
}
