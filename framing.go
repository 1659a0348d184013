package socket

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Framing selects how a connection's byte stream is split into messages.
type Framing int

const (
	// FrameHeaderAndMessage prefixes every message with a HeaderSize byte
	// big-endian length.
	FrameHeaderAndMessage Framing = iota
	// FixedSize treats the stream as a concatenation of equally sized
	// messages with no header.
	FixedSize
)

// HeaderSize is the width of the length header used by FrameHeaderAndMessage.
const HeaderSize = 4

// Errors returned by codecs.
var (
	// ErrInvalidFraming is returned for an unknown Framing value.
	ErrInvalidFraming = errors.New("invalid framing")
	// ErrInvalidFixedSize is returned when a fixed message size is not positive.
	ErrInvalidFixedSize = errors.New("fixed receive size must be positive")
	// ErrMessageTooLarge is returned when a message exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrPayloadSize is returned when a fixed size payload has the wrong length.
	ErrPayloadSize = errors.New("payload does not match fixed size")
)

func (f Framing) String() string {
	switch f {
	case FrameHeaderAndMessage:
		return "header_and_message"
	case FixedSize:
		return "fixed_size"
	default:
		return "unknown"
	}
}

func (f Framing) valid() bool {
	return f == FrameHeaderAndMessage || f == FixedSize
}

// Codec converts a byte stream into messages and messages into bytes.
//
// A Codec carries the decode state of exactly one connection and must not
// be shared between connections. Encode does not touch that state.
type Codec interface {
	// Decode appends data to the pending buffer and returns every message
	// it completes, in order. Bytes that do not finish a message stay
	// buffered for the next call.
	Decode(data []byte) ([][]byte, error)
	// Encode returns the wire representation of one message.
	Encode(payload []byte) ([]byte, error)
	// Buffered returns the number of bytes held for an incomplete message.
	Buffered() int
	// Reset drops any partial message.
	Reset()
}

// NewCodec returns a fresh codec for the framing. size is read on every
// extraction in FixedSize mode and ignored otherwise; maxSize bounds the
// length header in FrameHeaderAndMessage mode.
func (f Framing) NewCodec(maxSize int, size func() int) (Codec, error) {
	switch f {
	case FrameHeaderAndMessage:
		return NewHeaderCodec(maxSize), nil
	case FixedSize:
		if size == nil {
			return nil, ErrInvalidFixedSize
		}
		return &fixedSizeCodec{size: size}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidFraming, "framing %d", int(f))
	}
}

// headerCodec implements FrameHeaderAndMessage.
type headerCodec struct {
	maxSize int
	buf     []byte
	// length of the message being assembled, -1 until its header is complete
	length int
}

// NewHeaderCodec returns a length-prefixed codec rejecting messages larger
// than maxSize. A non-positive maxSize selects defaultMaxMessageSize.
func NewHeaderCodec(maxSize int) Codec {
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	return &headerCodec{maxSize: maxSize, length: -1}
}

func (c *headerCodec) Decode(data []byte) ([][]byte, error) {
	c.buf = append(c.buf, data...)

	var (
		messages [][]byte
		off      int
	)
	for {
		if c.length < 0 {
			if len(c.buf)-off < HeaderSize {
				break
			}
			n := binary.BigEndian.Uint32(c.buf[off : off+HeaderSize])
			if uint64(n) > uint64(c.maxSize) {
				c.compact(off)
				return messages, errors.Wrapf(ErrMessageTooLarge, "header announces %d bytes", n)
			}
			c.length = int(n)
			off += HeaderSize
		}

		if len(c.buf)-off < c.length {
			break
		}
		msg := make([]byte, c.length)
		copy(msg, c.buf[off:off+c.length])
		messages = append(messages, msg)
		off += c.length
		c.length = -1
	}

	c.compact(off)
	return messages, nil
}

func (c *headerCodec) compact(off int) {
	if off == 0 {
		return
	}
	n := copy(c.buf, c.buf[off:])
	c.buf = c.buf[:n]
}

func (c *headerCodec) Encode(payload []byte) ([]byte, error) {
	if len(payload) > c.maxSize || uint64(len(payload)) > math.MaxUint32 {
		return nil, errors.Wrapf(ErrMessageTooLarge, "payload of %d bytes", len(payload))
	}
	out := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out, nil
}

// Buffered counts a parsed header as buffered so callers see every byte
// that has not yet become a message.
func (c *headerCodec) Buffered() int {
	if c.length >= 0 {
		return HeaderSize + len(c.buf)
	}
	return len(c.buf)
}

func (c *headerCodec) Reset() {
	c.buf = c.buf[:0]
	c.length = -1
}

// fixedSizeCodec implements FixedSize. The size is latched when the first
// byte of a message arrives, so a change never splits a partly received
// message and takes effect from the next one.
type fixedSizeCodec struct {
	size func() int
	buf  []byte
	want int // size of the message in progress, 0 between messages
}

// NewFixedSizeCodec returns a codec producing messages of exactly size bytes.
func NewFixedSizeCodec(size int) (Codec, error) {
	if size <= 0 {
		return nil, ErrInvalidFixedSize
	}
	return &fixedSizeCodec{size: func() int { return size }}, nil
}

func (c *fixedSizeCodec) Decode(data []byte) ([][]byte, error) {
	c.buf = append(c.buf, data...)

	var (
		messages [][]byte
		off      int
	)
	for len(c.buf) > off {
		if c.want == 0 {
			size := c.size()
			if size <= 0 {
				c.compact(off)
				return messages, ErrInvalidFixedSize
			}
			c.want = size
		}
		if len(c.buf)-off < c.want {
			break
		}
		msg := make([]byte, c.want)
		copy(msg, c.buf[off:off+c.want])
		messages = append(messages, msg)
		off += c.want
		c.want = 0
	}

	c.compact(off)
	return messages, nil
}

func (c *fixedSizeCodec) compact(off int) {
	if off == 0 {
		return
	}
	n := copy(c.buf, c.buf[off:])
	c.buf = c.buf[:n]
}

func (c *fixedSizeCodec) Encode(payload []byte) ([]byte, error) {
	if size := c.size(); len(payload) != size {
		return nil, errors.Wrapf(ErrPayloadSize, "got %d bytes, want %d", len(payload), size)
	}
	return payload, nil
}

func (c *fixedSizeCodec) Buffered() int {
	return len(c.buf)
}

func (c *fixedSizeCodec) Reset() {
	c.buf = c.buf[:0]
	c.want = 0
}
