//go:build linux

package socket

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const maxEpollEvents = 128

// epollReactor is a level-triggered epoll(7) reactor with an eventfd used
// to interrupt EpollWait.
type epollReactor struct {
	epfd      int
	wakeFd    int
	callbacks map[int]Callback
	onPanic   PanicHandler
	events    [maxEpollEvents]unix.EpollEvent
}

func newReactor(onPanic PanicHandler) (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll create")
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, errors.Wrap(err, "eventfd")
	}

	r := &epollReactor{
		epfd:      epfd,
		wakeFd:    wakeFd,
		callbacks: make(map[int]Callback),
		onPanic:   onPanic,
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		_ = r.Close()
		return nil, errors.Wrap(err, "epoll ctl add eventfd")
	}

	return r, nil
}

func toEpoll(events Event) uint32 {
	var out uint32 = unix.EPOLLRDHUP
	if events&EventRead != 0 {
		out |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func fromEpoll(events uint32) Event {
	var out Event
	if events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLPRI) != 0 {
		out |= EventRead
	}
	if events&unix.EPOLLOUT != 0 {
		out |= EventWrite
	}
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		out |= EventError
	}
	return out
}

func (r *epollReactor) Register(fd int, events Event, cb Callback) error {
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.Wrapf(err, "epoll ctl add fd %d", fd)
	}
	r.callbacks[fd] = cb
	return nil
}

func (r *epollReactor) Modify(fd int, events Event) error {
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return errors.Wrapf(err, "epoll ctl mod fd %d", fd)
	}
	return nil
}

func (r *epollReactor) Unregister(fd int) error {
	delete(r.callbacks, fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errors.Wrapf(err, "epoll ctl del fd %d", fd)
	}
	return nil
}

func (r *epollReactor) Poll(timeout time.Duration) error {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(r.epfd, r.events[:], msec)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return errors.Wrap(err, "epoll wait")
	}

	for i := 0; i < n; i++ {
		fd := int(r.events[i].Fd)
		if fd == r.wakeFd {
			r.drainWake()
			continue
		}

		// A callback earlier in this batch may have unregistered fd. It may
		// also have closed fd and accepted a new socket on the same number,
		// in which case the new owner gets the old readiness bits. That is
		// harmless: every descriptor is non-blocking, so a read or write
		// that is not actually ready returns EAGAIN and level-triggered
		// epoll reports the real state on the next wait.
		cb, ok := r.callbacks[fd]
		if !ok {
			continue
		}
		if v := dispatch(cb, fd, fromEpoll(r.events[i].Events)); v != nil && r.onPanic != nil {
			r.onPanic(fd, v)
		}
	}

	return nil
}

func (r *epollReactor) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

func (r *epollReactor) Wake() error {
	one := [8]byte{0: 1}
	_, err := unix.Write(r.wakeFd, one[:])
	if err != nil && err != unix.EAGAIN {
		return errors.Wrap(err, "eventfd write")
	}
	return nil
}

func (r *epollReactor) Close() error {
	werr := unix.Close(r.wakeFd)
	if err := unix.Close(r.epfd); err != nil {
		return errors.Wrap(err, "close epoll")
	}
	if werr != nil {
		return errors.Wrap(werr, "close eventfd")
	}
	return nil
}
