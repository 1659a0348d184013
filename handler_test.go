package socket

import "testing"

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateConnecting, "connecting"},
		{StateActive, "active"},
		{StateClosing, "closing"},
		{StateRemoved, "removed"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestConnHandler_EnqueueRequiresActive(t *testing.T) {
	codec := NewHeaderCodec(0)
	h := newConnHandler(New(), -1, nil, codec)

	if h.State() != StateConnecting {
		t.Fatalf("new handler state = %v, want connecting", h.State())
	}
	if h.enqueueSend([]byte("early")) {
		t.Error("enqueueSend accepted a message before registration")
	}

	h.state.Store(int32(StateClosing))
	if h.enqueueSend([]byte("late")) {
		t.Error("enqueueSend accepted a message while closing")
	}
	if h.sendQueue.length() != 0 {
		t.Errorf("send queue length = %d, want 0", h.sendQueue.length())
	}
}

func TestConnHandler_DequeueRecv(t *testing.T) {
	h := newConnHandler(New(), -1, nil, NewHeaderCodec(0))

	if _, ok := h.dequeueRecv(); ok {
		t.Fatal("dequeueRecv on empty queue returned a message")
	}

	h.recvQueue.push([]byte("one"))
	h.recvQueue.push([]byte("two"))

	for _, want := range []string{"one", "two"} {
		msg, ok := h.dequeueRecv()
		if !ok || string(msg) != want {
			t.Errorf("dequeueRecv = %q, %v, want %q", msg, ok, want)
		}
	}
}
