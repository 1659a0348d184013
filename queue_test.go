package socket

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageQueue_FIFO(t *testing.T) {
	q := newMessageQueue()

	_, ok := q.pop()
	require.False(t, ok)

	for i := 0; i < 100; i++ {
		q.push([]byte(strconv.Itoa(i)))
	}
	require.Equal(t, 100, q.length())

	for i := 0; i < 100; i++ {
		msg, ok := q.pop()
		require.True(t, ok)
		require.Equal(t, strconv.Itoa(i), string(msg))
	}
	require.Zero(t, q.length())
}

func TestMessageQueue_Clear(t *testing.T) {
	q := newMessageQueue()
	q.push([]byte("a"))
	q.push([]byte("b"))

	require.Equal(t, 2, q.clear())
	require.Zero(t, q.length())

	q.push([]byte("c"))
	msg, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, "c", string(msg))
}

func TestMessageQueue_Concurrent(t *testing.T) {
	const (
		producers = 4
		perWriter = 500
	)
	q := newMessageQueue()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				q.push([]byte{byte(p), byte(i >> 8), byte(i)})
			}
		}(p)
	}

	// per producer order must survive interleaving
	next := make([]int, producers)
	received := 0
	for received < producers*perWriter {
		msg, ok := q.pop()
		if !ok {
			continue
		}
		p, i := int(msg[0]), int(msg[1])<<8|int(msg[2])
		require.Equal(t, next[p], i)
		next[p]++
		received++
	}
	wg.Wait()
}

func TestTaskQueue_Drain(t *testing.T) {
	tq := newTaskQueue()

	var order []int
	tq.push(func() { order = append(order, 1) })
	tq.push(func() {
		order = append(order, 2)
		tq.push(func() { order = append(order, 3) })
	})

	tq.drain(nil)
	require.Equal(t, []int{1, 2, 3}, order)

	tq.drain(nil)
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestTaskQueue_DrainRecoversPanic(t *testing.T) {
	tq := newTaskQueue()

	var (
		order     []int
		recovered []any
	)
	tq.push(func() { order = append(order, 1) })
	tq.push(func() { panic("boom") })
	tq.push(func() { order = append(order, 3) })

	require.NotPanics(t, func() {
		tq.drain(func(v any) { recovered = append(recovered, v) })
	})
	require.Equal(t, []int{1, 3}, order)
	require.Equal(t, []any{"boom"}, recovered)

	// a nil handler still recovers
	tq.push(func() { panic("again") })
	require.NotPanics(t, func() { tq.drain(nil) })
}
