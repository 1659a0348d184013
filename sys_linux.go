//go:build linux

package socket

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// listenTCP opens a non-blocking listening socket on ip:port.
func listenTCP(ip net.IP, port, backlog int) (int, *net.TCPAddr, error) {
	family := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := ip.To4(); ip == nil || ip4 != nil {
		addr := &unix.SockaddrInet4{Port: port}
		if ip4 != nil {
			copy(addr.Addr[:], ip4)
		}
		sa = addr
	} else {
		family = unix.AF_INET6
		addr := &unix.SockaddrInet6{Port: port}
		copy(addr.Addr[:], ip.To16())
		sa = addr
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, errors.Wrap(err, "socket")
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, nil, errors.Wrap(err, "setsockopt SO_REUSEADDR")
	}
	if err = unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, nil, errors.Wrapf(err, "bind port %d", port)
	}
	if err = unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, nil, errors.Wrap(err, "listen")
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, nil, errors.Wrap(err, "getsockname")
	}

	return fd, sockaddrToTCP(bound), nil
}

// acceptTCP accepts one pending connection. It returns unix.EAGAIN when
// the backlog is empty.
func acceptTCP(lfd int) (int, *net.TCPAddr, error) {
	fd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return fd, sockaddrToTCP(sa), nil
}

func sockaddrToTCP(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]).To16(), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	}
	return nil
}

func readFD(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

func writeFD(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

func closeFD(fd int) error {
	return unix.Close(fd)
}

// wouldBlock reports errors that only mean "try again on the next event".
func wouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EINTR
}

// retryAccept reports accept errors caused by a single aborted connection.
func retryAccept(err error) bool {
	return err == unix.ECONNABORTED || err == unix.EPROTO
}
