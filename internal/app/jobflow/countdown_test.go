package jobflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountdownRunCountsDown(t *testing.T) {
	t.Parallel()

	c := newCountdownWithInterval(time.Millisecond)

	var got []int
	c.Run(context.Background(), 4, func(remaining int) {
		got = append(got, remaining)
	}, nil)

	assert.Equal(t, []int{3, 2, 1, 0}, got)
}

func TestCountdownRunResyncCorrectsEstimate(t *testing.T) {
	t.Parallel()

	c := newCountdownWithInterval(time.Millisecond)

	resyncs := 0
	resync := func(context.Context) (int, bool) {
		resyncs++
		if resyncs == 1 {
			return 2, true
		}
		return 0, false
	}

	var got []int
	c.Run(context.Background(), 4, func(remaining int) {
		got = append(got, remaining)
	}, resync)

	// The first resync at zero revives the countdown with a fresh value.
	assert.Equal(t, []int{3, 2, 1, 0, 1, 0}, got)
	assert.Equal(t, 2, resyncs)
}

func TestCountdownStopHaltsRun(t *testing.T) {
	t.Parallel()

	c := newCountdownWithInterval(20 * time.Millisecond)

	var mu sync.Mutex
	var got []int
	first := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(context.Background(), 1000, func(remaining int) {
			mu.Lock()
			got = append(got, remaining)
			if len(got) == 1 {
				close(first)
			}
			mu.Unlock()
		}, nil)
	}()

	<-first
	c.Stop()
	c.Stop() // idempotent

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Less(t, len(got), 5)
}

func TestCountdownContextCancelHaltsRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newCountdownWithInterval(time.Millisecond)

	var got []int
	c.Run(ctx, 10, func(remaining int) {
		got = append(got, remaining)
	}, nil)

	assert.Empty(t, got)
}
