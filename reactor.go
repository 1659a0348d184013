package socket

import (
	"time"

	"github.com/pkg/errors"
)

// Event is a set of readiness conditions on a file descriptor.
type Event uint32

const (
	// EventRead reports or requests readability (including peer close).
	EventRead Event = 1 << iota
	// EventWrite reports or requests writability.
	EventWrite
	// EventError reports an error or hang-up. It is always delivered and
	// never needs to be requested.
	EventError
)

// Callback is invoked on the polling goroutine for every ready descriptor.
type Callback func(fd int, ev Event)

// PanicHandler receives the value recovered from a Callback that panicked.
// Poll carries on with the rest of the batch afterwards.
type PanicHandler func(fd int, recovered any)

// ErrUnsupportedPlatform is returned where no reactor implementation exists.
var ErrUnsupportedPlatform = errors.New("reactor not supported on this platform")

// Reactor notifies registered callbacks of readiness on registered file
// descriptors. Register, Modify, Unregister and Poll must be called from a
// single goroutine; Wake may be called from any goroutine.
type Reactor interface {
	// Register starts watching fd for events and binds cb to it.
	Register(fd int, events Event, cb Callback) error
	// Modify replaces the watched event set of a registered fd.
	Modify(fd int, events Event) error
	// Unregister stops watching fd. It does not close it.
	Unregister(fd int) error
	// Poll waits up to timeout for readiness and dispatches callbacks
	// synchronously. A negative timeout waits indefinitely.
	Poll(timeout time.Duration) error
	// Wake interrupts a blocked or upcoming Poll.
	Wake() error
	// Close releases the reactor. Registered descriptors are not closed.
	Close() error
}

// NewReactor returns the reactor implementation for the running platform.
// onPanic may be nil, in which case callback panics are recovered silently.
func NewReactor(onPanic PanicHandler) (Reactor, error) {
	return newReactor(onPanic)
}

// dispatch runs cb and returns the value of a panic it raised, if any.
func dispatch(cb Callback, fd int, ev Event) (recovered any) {
	defer func() { recovered = recover() }()
	cb(fd, ev)
	return nil
}
