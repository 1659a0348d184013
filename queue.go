package socket

import (
	"sync"

	"github.com/eapache/queue"
)

// messageQueue is an unbounded FIFO of messages shared between the event
// loop and application goroutines. No operation waits for the other side.
type messageQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newMessageQueue() *messageQueue {
	return &messageQueue{q: queue.New()}
}

func (m *messageQueue) push(msg []byte) {
	m.mu.Lock()
	m.q.Add(msg)
	m.mu.Unlock()
}

// pop removes and returns the front message, or false when empty.
func (m *messageQueue) pop() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.q.Length() == 0 {
		return nil, false
	}
	return m.q.Remove().([]byte), true
}

func (m *messageQueue) length() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Length()
}

// clear discards every queued message and returns how many were dropped.
func (m *messageQueue) clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.q.Length()
	m.q = queue.New()
	return n
}

// taskQueue carries closures from application goroutines to the event loop.
type taskQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newTaskQueue() *taskQueue {
	return &taskQueue{q: queue.New()}
}

func (t *taskQueue) push(fn func()) {
	t.mu.Lock()
	t.q.Add(fn)
	t.mu.Unlock()
}

// drain pops tasks one at a time so a task may safely push another. A
// panicking task is reported to onPanic, which may be nil, and the
// remaining tasks still run.
func (t *taskQueue) drain(onPanic func(recovered any)) {
	for {
		t.mu.Lock()
		if t.q.Length() == 0 {
			t.mu.Unlock()
			return
		}
		fn := t.q.Remove().(func())
		t.mu.Unlock()

		if v := runTask(fn); v != nil && onPanic != nil {
			onPanic(v)
		}
	}
}

func runTask(fn func()) (recovered any) {
	defer func() { recovered = recover() }()
	fn()
	return nil
}
