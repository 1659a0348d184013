//go:build !linux

package socket

func newReactor(PanicHandler) (Reactor, error) {
	return nil, ErrUnsupportedPlatform
}
