package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueTryPublish(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))
	assert.ErrorIs(t, q.TryPublish(3), ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	var got []int
	assert.Equal(t, 2, q.Drain(func(v int) { got = append(got, v) }))
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 0, q.Drain(func(int) {}))

	q.Close()
	q.Close()
	assert.True(t, q.Closed())
	assert.ErrorIs(t, q.TryPublish(4), ErrQueueClosed)
	_, ok := q.TryReceive()
	assert.False(t, ok)
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue[int](1000)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = q.TryPublish(p*100 + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool)
	q.Drain(func(v int) { seen[v] = true })
	assert.Len(t, seen, 400)
}

func TestQueueRunStopsOnClose(t *testing.T) {
	q := NewQueue[string](4)
	require.NoError(t, q.TryPublish("a"))
	require.NoError(t, q.TryPublish("b"))
	q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var got []string
	q.Run(ctx, func(s string) { got = append(got, s) })
	assert.Equal(t, []string{"a", "b"}, got)
	assert.NoError(t, ctx.Err())
}
