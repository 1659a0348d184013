//go:build !linux

package socket

import "net"

func listenTCP(ip net.IP, port, backlog int) (int, *net.TCPAddr, error) {
	return -1, nil, ErrUnsupportedPlatform
}

func acceptTCP(lfd int) (int, *net.TCPAddr, error) {
	return -1, nil, ErrUnsupportedPlatform
}

func readFD(fd int, p []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func writeFD(fd int, p []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func closeFD(fd int) error {
	return ErrUnsupportedPlatform
}

func wouldBlock(err error) bool {
	return false
}

func retryAccept(err error) bool {
	return false
}
