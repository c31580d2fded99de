package channel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeIsBidirectional(t *testing.T) {
	hub, stage := Pipe[string]()

	hub.Send("flush()")
	stage.Send("flushed()")

	require.True(t, stage.Poll())
	msg, ok := stage.Receive()
	require.True(t, ok)
	assert.Equal(t, "flush()", msg)

	require.True(t, hub.Poll())
	msg, ok = hub.Receive()
	require.True(t, ok)
	assert.Equal(t, "flushed()", msg)

	assert.False(t, hub.Poll())
	assert.False(t, stage.Poll())
}

func TestReceiveWithoutDataDoesNotBlock(t *testing.T) {
	a, _ := Pipe[int]()
	v, ok := a.Receive()
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestFIFOOrder(t *testing.T) {
	a, b := Pipe[int]()
	for i := 0; i < 100; i++ {
		a.Send(i)
	}
	assert.Equal(t, 100, b.Pending())
	for i := 0; i < 100; i++ {
		v, ok := b.Receive()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestDrain(t *testing.T) {
	a, b := Pipe[int]()
	a.Send(1)
	a.Send(2)
	assert.Equal(t, 2, b.Drain())
	assert.False(t, b.Poll())
	assert.Equal(t, 0, b.Drain())

	a.Send(3)
	v, ok := b.Receive()
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestConcurrentSendersKeepPerSenderOrder(t *testing.T) {
	a, b := Pipe[[2]int]()
	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func(sender int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				a.Send([2]int{sender, i})
			}
		}(s)
	}
	wg.Wait()

	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	count := 0
	for b.Poll() {
		v, ok := b.Receive()
		require.True(t, ok)
		assert.Greater(t, v[1], last[v[0]])
		last[v[0]] = v[1]
		count++
	}
	assert.Equal(t, 1000, count)
}
