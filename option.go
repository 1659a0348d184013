package socket

import (
	"net"
)

// Default configuration values.
const (
	// defaultMaxMessageSize is the default maximum size of a single message (1MB).
	defaultMaxMessageSize = 1024 * 1024
	// defaultReadBufferSize is how many bytes one readiness event may read.
	defaultReadBufferSize = 64 * 1024
	// defaultBacklog is the listen queue length.
	defaultBacklog = 1024
)

// options holds the configuration for a server.
type options struct {
	logger Logger
	host   net.IP

	maxMessageSize   int // maximum size of a header framed message
	readBufferSize   int // bytes read per readiness event
	backlog          int // listen queue length
	fixedReceiveSize int // initial size for FixedSize framing
	fastWriting      bool

	onConnect    func(clientID int)
	onDisconnect func(clientID int, err error)
}

// Option is a function that configures server options.
type Option func(*options)

// checkOptions sets default values for server options.
func checkOptions(opts *options) {
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.backlog <= 0 {
		opts.backlog = defaultBacklog
	}

	if opts.onConnect == nil {
		opts.onConnect = func(int) {}
	}

	if opts.onDisconnect == nil {
		opts.onDisconnect = func(int, error) {}
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// HostOption returns an Option that sets the IP address to listen on.
// By default the server listens on all IPv4 interfaces.
func HostOption(ip net.IP) Option {
	return func(o *options) {
		o.host = ip
	}
}

// MaxMessageSizeOption returns an Option that sets the largest payload a
// length header may announce. Connections announcing more are closed.
func MaxMessageSizeOption(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

// ReadBufferSizeOption returns an Option that sets how many bytes are read
// from a socket per readiness event.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// BacklogOption returns an Option that sets the listen queue length.
func BacklogOption(n int) Option {
	return func(o *options) {
		o.backlog = n
	}
}

// FixedReceiveSizeOption returns an Option that sets the initial message
// size for FixedSize framing. It can be changed later with
// Server.SetFixedReceiveSize.
func FixedReceiveSizeOption(size int) Option {
	return func(o *options) {
		o.fixedReceiveSize = size
	}
}

// FastWritingOption returns an Option that sets the initial fast writing
// mode. See Server.SetAllowFastWriting.
func FastWritingOption(enable bool) Option {
	return func(o *options) {
		o.fastWriting = enable
	}
}

// OnConnectOption returns an Option that sets the callback invoked on the
// event loop after a client has been registered. Callbacks must not block.
func OnConnectOption(cb func(clientID int)) Option {
	return func(o *options) {
		o.onConnect = cb
	}
}

// OnDisconnectOption returns an Option that sets the callback invoked on the
// event loop after a client has been removed. err is nil when the peer
// closed the connection or Server.Disconnect was used, ErrServerClosed on
// shutdown, and the connection error otherwise.
func OnDisconnectOption(cb func(clientID int, err error)) Option {
	return func(o *options) {
		o.onDisconnect = cb
	}
}
