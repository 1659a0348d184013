package socket

import (
	"net"
	"sync/atomic"

	"github.com/pkg/errors"
)

// State is the lifecycle stage of a client connection.
type State int32

const (
	// StateConnecting is a freshly accepted socket not yet registered.
	StateConnecting State = iota
	// StateActive connections exchange messages.
	StateActive
	// StateClosing connections are being torn down.
	StateClosing
	// StateRemoved connections have released every resource. Unknown
	// client ids also report StateRemoved.
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// connHandler owns one accepted socket, its decode state and its two
// message queues. Event methods run on the loop goroutine; enqueueSend and
// dequeueRecv may be called from any goroutine.
type connHandler struct {
	id     int
	fd     int
	remote *net.TCPAddr
	server *Server
	codec  Codec

	sendQueue *messageQueue
	recvQueue *messageQueue

	state atomic.Int32

	// loop-owned
	pending    []byte // unwritten tail of the message being sent
	writeArmed bool

	// set while a request to arm write interest is queued on the loop
	armPending atomic.Bool
}

func newConnHandler(s *Server, fd int, remote *net.TCPAddr, codec Codec) *connHandler {
	return &connHandler{
		fd:        fd,
		remote:    remote,
		server:    s,
		codec:     codec,
		sendQueue: newMessageQueue(),
		recvQueue: newMessageQueue(),
	}
}

func (h *connHandler) State() State {
	return State(h.state.Load())
}

// handleEvent is the reactor callback for the handler's socket.
func (h *connHandler) handleEvent(_ int, ev Event) {
	if h.State() != StateActive {
		return
	}

	// Errors and hang-ups surface through read.
	if ev&(EventRead|EventError) != 0 && !h.onReadable() {
		return
	}
	if ev&EventWrite != 0 {
		h.onWritable()
	}
}

// onReadable performs one non-blocking read and queues every message it
// completes. It returns false once the handler has been torn down.
func (h *connHandler) onReadable() bool {
	buf := h.server.readBuf
	n, err := readFD(h.fd, buf)
	if err != nil {
		if wouldBlock(err) {
			return true
		}
		h.server.onClientRemoved(h, errors.Wrap(err, "read"))
		return false
	}
	if n == 0 {
		h.server.onClientRemoved(h, nil)
		return false
	}
	h.server.stats.bytesIn.Add(uint64(n))

	messages, err := h.codec.Decode(buf[:n])
	for _, msg := range messages {
		h.recvQueue.push(msg)
	}
	h.server.stats.messagesIn.Add(uint64(len(messages)))

	if err != nil {
		h.server.onClientRemoved(h, err)
		return false
	}
	return true
}

// onWritable drains the send queue until it is empty or the socket would
// block. It returns false once the handler has been torn down.
func (h *connHandler) onWritable() bool {
	for {
		if h.pending == nil {
			msg, ok := h.sendQueue.pop()
			if !ok {
				break
			}

			out, err := h.codec.Encode(msg)
			if err != nil {
				h.server.logger.Warn("dropping outbound message",
					"client_id", h.id, "size", len(msg), "error", err)
				h.server.stats.dropped.Add(1)
				continue
			}
			if len(out) == 0 {
				continue
			}
			h.pending = out
		}

		n, err := writeFD(h.fd, h.pending)
		if err != nil {
			if wouldBlock(err) {
				return true
			}
			h.server.onClientRemoved(h, errors.Wrap(err, "write"))
			return false
		}
		h.server.stats.bytesOut.Add(uint64(n))

		h.pending = h.pending[n:]
		if len(h.pending) == 0 {
			h.pending = nil
			h.server.stats.messagesOut.Add(1)
		}
	}

	if !h.server.fastWriting.Load() {
		h.setWriteInterest(false)
	}
	return true
}

// setWriteInterest adds or removes EventWrite from the socket's watch set.
// Loop goroutine only.
func (h *connHandler) setWriteInterest(on bool) {
	if h.writeArmed == on || h.State() != StateActive {
		return
	}

	events := EventRead
	if on {
		events |= EventWrite
	}
	if err := h.server.reactor.Modify(h.fd, events); err != nil {
		h.server.onClientRemoved(h, err)
		return
	}
	h.writeArmed = on
}

// enqueueSend queues a copy of payload and asks the loop to watch for
// writability. It returns false if the connection is no longer active.
func (h *connHandler) enqueueSend(payload []byte) bool {
	if h.State() != StateActive {
		return false
	}

	msg := make([]byte, len(payload))
	copy(msg, payload)
	h.sendQueue.push(msg)

	if h.armPending.CompareAndSwap(false, true) && !h.server.post(h.armWrite) {
		h.armPending.Store(false)
	}
	return true
}

func (h *connHandler) armWrite() {
	h.armPending.Store(false)
	if h.pending != nil || h.sendQueue.length() > 0 {
		h.setWriteInterest(true)
	}
}

func (h *connHandler) dequeueRecv() ([]byte, bool) {
	return h.recvQueue.pop()
}

// release closes the socket and discards both queues. Loop goroutine only.
func (h *connHandler) release() int {
	_ = h.server.reactor.Unregister(h.fd)
	if err := closeFD(h.fd); err != nil {
		h.server.logger.Debug("close error", "client_id", h.id, "error", err)
	}

	h.pending = nil
	h.writeArmed = false
	h.codec.Reset()
	return h.sendQueue.clear() + h.recvQueue.clear()
}
