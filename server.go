// Package socket provides a reactor based TCP server that frames client
// byte streams into messages.
//
// A single event loop goroutine accepts connections and performs all socket
// I/O. Application goroutines exchange messages with clients through
// non-blocking calls that only touch per-connection queues.
package socket

import (
	"context"
	"net"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by server operations.
var (
	// ErrServerStarted is returned by a second call to Start.
	ErrServerStarted = errors.New("server already started")
	// ErrServerClosed is returned by Start after Close, and passed to the
	// disconnect callback of clients removed by shutdown.
	ErrServerClosed = errors.New("server closed")
	// ErrInvalidPort is returned for a port outside 0-65535.
	ErrInvalidPort = errors.New("invalid port")
)

// Server accepts TCP clients on one port and frames their streams with a
// single Framing chosen at Start.
type Server struct {
	opts   options
	logger Logger

	mu          sync.RWMutex
	started     bool
	closed      bool
	connections map[int]*connHandler
	nextID      int

	framing  Framing
	addr     *net.TCPAddr
	listenFd int
	acceptor func(fd int, remote *net.TCPAddr)

	reactor Reactor
	tasks   *taskQueue
	readBuf []byte // loop-owned

	// wakeMu orders task posting and Wake calls against teardown. Once
	// loopClosed is set the loop takes no more tasks.
	wakeMu     sync.Mutex
	loopClosed bool

	stopping atomic.Bool
	cancel   context.CancelFunc
	group    *errgroup.Group

	fastWriting      atomic.Bool
	fixedReceiveSize atomic.Int64

	stats stats
}

// New creates a server. It does not listen until Start is called.
func New(opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	checkOptions(&o)

	s := &Server{
		opts:        o,
		logger:      o.logger,
		connections: make(map[int]*connHandler),
		listenFd:    -1,
		tasks:       newTaskQueue(),
	}
	s.fastWriting.Store(o.fastWriting)
	s.fixedReceiveSize.Store(int64(o.fixedReceiveSize))

	return s
}

// Start listens on port and runs the event loop in a new goroutine. Port 0
// picks an ephemeral port, see Addr. The framing applies to every client of
// this server. The loop stops when ctx is canceled or Close is called.
func (s *Server) Start(ctx context.Context, port int, framing Framing) error {
	if port < 0 || port > 65535 {
		return errors.Wrapf(ErrInvalidPort, "port %d", port)
	}
	if !framing.valid() {
		return errors.Wrapf(ErrInvalidFraming, "framing %d", int(framing))
	}
	if framing == FixedSize && s.FixedReceiveSize() <= 0 {
		return ErrInvalidFixedSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.started {
		return ErrServerStarted
	}

	lfd, addr, err := listenTCP(s.opts.host, port, s.opts.backlog)
	if err != nil {
		return err
	}

	r, err := NewReactor(s.onCallbackPanic)
	if err != nil {
		_ = closeFD(lfd)
		return err
	}
	if err = r.Register(lfd, EventRead, s.onAcceptable); err != nil {
		_ = r.Close()
		_ = closeFD(lfd)
		return err
	}

	s.started = true
	s.framing = framing
	s.addr = addr
	s.listenFd = lfd
	s.reactor = r
	s.readBuf = make([]byte, s.opts.readBufferSize)
	s.acceptor = s.newAcceptor(framing)

	ctx, s.cancel = context.WithCancel(ctx)
	group, child := errgroup.WithContext(ctx)

	group.Go(s.loop)

	group.Go(func() error {
		<-child.Done()
		s.stopping.Store(true)
		s.wake()
		return nil
	})

	s.group = group

	s.logger.Info("server started", "addr", addr, "framing", framing)
	return nil
}

// loop is the event loop. Every file descriptor is touched only here.
func (s *Server) loop() error {
	defer s.teardown()

	for !s.stopping.Load() {
		if err := s.reactor.Poll(-1); err != nil {
			s.logger.Error("event loop failed", "error", err)
			return err
		}
		s.tasks.drain(s.onTaskPanic)
	}

	return nil
}

// teardown runs on the loop goroutine once it stops.
func (s *Server) teardown() {
	s.tasks.drain(s.onTaskPanic)

	s.mu.RLock()
	handlers := make([]*connHandler, 0, len(s.connections))
	for _, h := range s.connections {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		s.onClientRemoved(h, ErrServerClosed)
	}

	// Disconnect detaches and posts under wakeMu, so every client it took
	// out of the map has its removal queued by now.
	s.wakeMu.Lock()
	s.loopClosed = true
	s.wakeMu.Unlock()
	s.tasks.drain(s.onTaskPanic)

	_ = s.reactor.Unregister(s.listenFd)
	if err := closeFD(s.listenFd); err != nil {
		s.logger.Debug("close listener", "error", err)
	}
	if err := s.reactor.Close(); err != nil {
		s.logger.Debug("close reactor", "error", err)
	}

	s.logger.Info("server stopped", "addr", s.addr)
}

func (s *Server) wake() {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()

	s.wakeLocked()
}

func (s *Server) wakeLocked() {
	if s.loopClosed {
		return
	}
	if err := s.reactor.Wake(); err != nil {
		s.logger.Warn("wake event loop", "error", err)
	}
}

// post runs fn on the loop goroutine. It returns false once the loop has
// shut down, in which case fn never runs.
func (s *Server) post(fn func()) bool {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()

	if s.loopClosed {
		return false
	}
	s.tasks.push(fn)
	s.wakeLocked()
	return true
}

// guard runs a user callback and logs a panic instead of letting it unwind
// the event loop.
func (s *Server) guard(name string, clientID int, fn func()) {
	defer func() {
		if v := recover(); v != nil {
			s.logger.Error("callback panicked", "callback", name, "client_id", clientID,
				"panic", v, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

func (s *Server) onCallbackPanic(fd int, v any) {
	s.logger.Error("event handler panicked", "fd", fd, "panic", v)
}

func (s *Server) onTaskPanic(v any) {
	s.logger.Error("loop task panicked", "panic", v)
}

// onAcceptable accepts every pending connection.
func (s *Server) onAcceptable(_ int, _ Event) {
	for {
		fd, remote, err := acceptTCP(s.listenFd)
		if err != nil {
			if wouldBlock(err) {
				return
			}
			if retryAccept(err) {
				continue
			}
			s.logger.Warn("accept error", "error", err)
			return
		}
		s.acceptor(fd, remote)
	}
}

// newAcceptor returns the factory turning an accepted socket into a
// registered handler framed with framing.
func (s *Server) newAcceptor(framing Framing) func(fd int, remote *net.TCPAddr) {
	return func(fd int, remote *net.TCPAddr) {
		codec, err := framing.NewCodec(s.opts.maxMessageSize, s.FixedReceiveSize)
		if err != nil {
			s.logger.Error("create codec", "addr", remote, "error", err)
			_ = closeFD(fd)
			return
		}

		h := newConnHandler(s, fd, remote, codec)
		if err = s.reactor.Register(fd, EventRead, h.handleEvent); err != nil {
			s.logger.Error("register client", "addr", remote, "error", err)
			_ = closeFD(fd)
			return
		}
		s.onClientConnected(h)
	}
}

// onClientConnected assigns the next client id and makes h visible to the
// public API.
func (s *Server) onClientConnected(h *connHandler) {
	s.mu.Lock()
	s.nextID++
	h.id = s.nextID
	s.connections[h.id] = h
	h.state.Store(int32(StateActive))
	s.mu.Unlock()

	s.stats.accepted.Add(1)
	s.logger.Debug("client connected", "client_id", h.id, "addr", h.remote)
	s.guard("connect", h.id, func() { s.opts.onConnect(h.id) })
}

// detach moves h from Active to Closing and hides it from the public API.
// Only the first caller wins.
func (s *Server) detach(h *connHandler) bool {
	if !h.state.CompareAndSwap(int32(StateActive), int32(StateClosing)) {
		return false
	}

	s.mu.Lock()
	delete(s.connections, h.id)
	s.mu.Unlock()
	return true
}

// onClientRemoved tears h down. Removing an already removed client is a
// no-op. Loop goroutine only.
func (s *Server) onClientRemoved(h *connHandler, cause error) {
	if !s.detach(h) {
		return
	}
	s.finishRemove(h, cause)
}

func (s *Server) finishRemove(h *connHandler, cause error) {
	dropped := h.release()
	h.state.Store(int32(StateRemoved))

	s.stats.removed.Add(1)
	s.stats.dropped.Add(uint64(dropped))

	if cause != nil && !errors.Is(cause, ErrServerClosed) {
		s.logger.Info("client disconnected with error", "client_id", h.id, "addr", h.remote, "error", cause)
	} else {
		s.logger.Debug("client disconnected", "client_id", h.id, "addr", h.remote)
	}
	s.guard("disconnect", h.id, func() { s.opts.onDisconnect(h.id, cause) })
}

func (s *Server) lookup(clientID int) *connHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.connections[clientID]
}

// NumClients returns the number of connected clients. The value may be
// stale as soon as it is returned.
func (s *Server) NumClients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.connections)
}

// ClientIDs returns the ids of connected clients in acceptance order.
func (s *Server) ClientIDs() []int {
	s.mu.RLock()
	ids := make([]int, 0, len(s.connections))
	for id := range s.connections {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Ints(ids)
	return ids
}

// ClientState returns the lifecycle state of a client.
func (s *Server) ClientState(clientID int) State {
	if h := s.lookup(clientID); h != nil {
		return h.State()
	}
	return StateRemoved
}

// RemoteAddr returns the peer address of a connected client.
func (s *Server) RemoteAddr(clientID int) (net.Addr, bool) {
	h := s.lookup(clientID)
	if h == nil {
		return nil, false
	}
	return h.remote, true
}

// SendMessage queues payload for clientID without blocking. The payload is
// copied. It returns false if the client is unknown or disconnecting.
//
// In FixedSize framing a payload whose length differs from the fixed
// receive size at write time is dropped.
func (s *Server) SendMessage(clientID int, payload []byte) bool {
	h := s.lookup(clientID)
	if h == nil {
		return false
	}
	return h.enqueueSend(payload)
}

// SendMessageToAll queues payload for every connected client and returns
// how many accepted it.
func (s *Server) SendMessageToAll(payload []byte) int {
	s.mu.RLock()
	handlers := make([]*connHandler, 0, len(s.connections))
	for _, h := range s.connections {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	n := 0
	for _, h := range handlers {
		if h.enqueueSend(payload) {
			n++
		}
	}
	return n
}

// HasWaitingMessages reports whether clientID has received messages that
// NextMessage has not returned yet.
func (s *Server) HasWaitingMessages(clientID int) bool {
	h := s.lookup(clientID)
	if h == nil {
		return false
	}
	return h.recvQueue.length() > 0
}

// NextMessage pops the oldest received message of clientID. It returns
// false if the client is unknown or has nothing waiting.
func (s *Server) NextMessage(clientID int) ([]byte, bool) {
	h := s.lookup(clientID)
	if h == nil {
		return nil, false
	}
	return h.dequeueRecv()
}

// Disconnect closes a client's connection and discards its queues. The
// socket is closed on the event loop shortly after Disconnect returns. It
// returns false if the client is unknown or the server has shut down.
func (s *Server) Disconnect(clientID int) bool {
	h := s.lookup(clientID)
	if h == nil {
		return false
	}

	// Detach and queue the removal as one step so teardown either sees h
	// in the map or drains the queued removal.
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()

	if s.loopClosed || !s.detach(h) {
		return false
	}
	s.tasks.push(func() {
		s.finishRemove(h, nil)
	})
	s.wakeLocked()
	return true
}

// SetAllowFastWriting keeps write interest registered on every connection
// even when its send queue is empty. Latency of the next send drops at the
// cost of a busy event loop. Useful when sending on every frame.
func (s *Server) SetAllowFastWriting(enable bool) {
	s.fastWriting.Store(enable)
}

// AllowFastWriting reports whether fast writing is enabled.
func (s *Server) AllowFastWriting() bool {
	return s.fastWriting.Load()
}

// SetFixedReceiveSize sets the message size used by FixedSize framing. A
// message already partly received keeps the size it started with; the new
// size applies from the next message of every connection.
func (s *Server) SetFixedReceiveSize(size int) error {
	if size <= 0 {
		return errors.Wrapf(ErrInvalidFixedSize, "size %d", size)
	}
	s.fixedReceiveSize.Store(int64(size))
	return nil
}

// FixedReceiveSize returns the current FixedSize message size.
func (s *Server) FixedReceiveSize() int {
	return int(s.fixedReceiveSize.Load())
}

// Framing returns the framing chosen at Start.
func (s *Server) Framing() Framing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.framing
}

// Addr returns the listener's network address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.addr == nil {
		return nil
	}
	return s.addr
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	return s.stats.snapshot()
}

// Close stops the event loop, closes every client socket and the listener,
// and waits for all of it to finish. Safe to call multiple times. It must
// not be called from a connect or disconnect callback.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}

	s.cancel()
	err := s.group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}
