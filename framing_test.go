package socket

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFraming_String(t *testing.T) {
	require.Equal(t, "header_and_message", FrameHeaderAndMessage.String())
	require.Equal(t, "fixed_size", FixedSize.String())
	require.Equal(t, "unknown", Framing(9).String())
}

func TestFraming_NewCodec(t *testing.T) {
	c, err := FrameHeaderAndMessage.NewCodec(0, nil)
	require.NoError(t, err)
	require.IsType(t, &headerCodec{}, c)
	require.Equal(t, defaultMaxMessageSize, c.(*headerCodec).maxSize)

	c, err = FixedSize.NewCodec(0, func() int { return 3 })
	require.NoError(t, err)
	require.IsType(t, &fixedSizeCodec{}, c)

	_, err = FixedSize.NewCodec(0, nil)
	require.ErrorIs(t, err, ErrInvalidFixedSize)

	_, err = Framing(42).NewCodec(0, nil)
	require.ErrorIs(t, err, ErrInvalidFraming)
}

func TestHeaderCodec_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("a"),
		[]byte("hello"),
		bytes.Repeat([]byte{0xff}, 70000),
	}

	for _, p := range payloads {
		c := NewHeaderCodec(0)
		wire, err := c.Encode(p)
		require.NoError(t, err)
		require.Len(t, wire, HeaderSize+len(p))

		got, err := c.Decode(wire)
		require.NoError(t, err)
		require.Equal(t, [][]byte{p}, got)
		require.Zero(t, c.Buffered())
	}
}

func TestHeaderCodec_Encode(t *testing.T) {
	c := NewHeaderCodec(0)
	wire, err := c.Encode([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'}, wire)

	c = NewHeaderCodec(4)
	_, err = c.Encode([]byte("hello"))
	require.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestHeaderCodec_ZeroLength(t *testing.T) {
	c := NewHeaderCodec(0)
	got, err := c.Decode([]byte{0, 0, 0, 0, 0, 0, 0, 1, 'x'})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0])
	require.Empty(t, got[0])
	require.Equal(t, []byte("x"), got[1])
}

func TestHeaderCodec_SplitHello(t *testing.T) {
	c := NewHeaderCodec(0)

	got, err := c.Decode([]byte{0x00, 0x00})
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, 2, c.Buffered())

	got, err = c.Decode([]byte("\x00\x05hel"))
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, 7, c.Buffered())

	got, err = c.Decode([]byte("lo"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("hello")}, got)
	require.Zero(t, c.Buffered())
}

func TestHeaderCodec_TooLarge(t *testing.T) {
	c := NewHeaderCodec(8)

	// one good message ahead of the bad header is still delivered
	got, err := c.Decode([]byte{0, 0, 0, 1, 'a', 0, 0, 0, 9})
	require.ErrorIs(t, err, ErrMessageTooLarge)
	require.Equal(t, [][]byte{[]byte("a")}, got)
}

func TestHeaderCodec_Reset(t *testing.T) {
	c := NewHeaderCodec(0)
	_, err := c.Decode([]byte{0, 0, 0, 3, 'a'})
	require.NoError(t, err)
	require.Equal(t, 5, c.Buffered())

	c.Reset()
	require.Zero(t, c.Buffered())

	got, err := c.Decode([]byte{0, 0, 0, 1, 'z'})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("z")}, got)
}

func TestHeaderCodec_ChunkingInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for round := 0; round < 200; round++ {
		enc := NewHeaderCodec(0)

		var (
			want   [][]byte
			stream []byte
		)
		for i := rng.Intn(8); i >= 0; i-- {
			p := make([]byte, rng.Intn(40))
			rng.Read(p)
			want = append(want, p)

			wire, err := enc.Encode(p)
			require.NoError(t, err)
			stream = append(stream, wire...)
		}

		dec := NewHeaderCodec(0)
		var got [][]byte
		for len(stream) > 0 {
			n := 1 + rng.Intn(len(stream))
			msgs, err := dec.Decode(stream[:n])
			require.NoError(t, err)
			got = append(got, msgs...)
			stream = stream[n:]
		}

		require.Equal(t, want, got, "round %d", round)
		require.Zero(t, dec.Buffered())
	}
}

func TestFixedSizeCodec_Scenario(t *testing.T) {
	c, err := NewFixedSizeCodec(3)
	require.NoError(t, err)

	got, err := c.Decode([]byte("abcdefgh"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("abc"), []byte("def")}, got)
	require.Equal(t, 2, c.Buffered())

	got, err = c.Decode([]byte("i"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("ghi")}, got)
	require.Zero(t, c.Buffered())
}

func TestFixedSizeCodec_Boundary(t *testing.T) {
	rng := rand.New(rand.NewSource(2))

	for round := 0; round < 100; round++ {
		size := 1 + rng.Intn(16)
		length := rng.Intn(200)
		stream := make([]byte, length)
		rng.Read(stream)

		c, err := NewFixedSizeCodec(size)
		require.NoError(t, err)

		var got [][]byte
		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			msgs, err := c.Decode(rest[:n])
			require.NoError(t, err)
			got = append(got, msgs...)
			rest = rest[n:]
		}

		require.Len(t, got, length/size)
		for i, m := range got {
			require.Equal(t, stream[i*size:(i+1)*size], m)
		}
		require.Equal(t, length%size, c.Buffered())
	}
}

func TestFixedSizeCodec_Invalid(t *testing.T) {
	_, err := NewFixedSizeCodec(0)
	require.ErrorIs(t, err, ErrInvalidFixedSize)

	_, err = NewFixedSizeCodec(-1)
	require.ErrorIs(t, err, ErrInvalidFixedSize)

	c := &fixedSizeCodec{size: func() int { return 0 }}
	_, err = c.Decode([]byte("abc"))
	require.ErrorIs(t, err, ErrInvalidFixedSize)
}

func TestFixedSizeCodec_Encode(t *testing.T) {
	c, err := NewFixedSizeCodec(3)
	require.NoError(t, err)

	wire, err := c.Encode([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), wire)

	_, err = c.Encode([]byte("ab"))
	require.ErrorIs(t, err, ErrPayloadSize)

	_, err = c.Encode([]byte("abcd"))
	require.ErrorIs(t, err, ErrPayloadSize)
}

func TestFixedSizeCodec_SizeChange(t *testing.T) {
	size := 3
	c, err := FixedSize.NewCodec(0, func() int { return size })
	require.NoError(t, err)

	got, err := c.Decode([]byte("ab"))
	require.NoError(t, err)
	require.Empty(t, got)

	// "ab" started under size 3 and completes under it
	size = 4
	got, err = c.Decode([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("abc")}, got)
	require.Zero(t, c.Buffered())

	got, err = c.Decode([]byte("defgh"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("defg")}, got)
	require.Equal(t, 1, c.Buffered())
}

func TestFixedSizeCodec_SizeChangeMidBatch(t *testing.T) {
	size := 3
	c, err := FixedSize.NewCodec(0, func() int { return size })
	require.NoError(t, err)

	got, err := c.Decode([]byte("abcde"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("abc")}, got)

	// "de" is kept whole; the message after it uses the new size
	size = 4
	got, err = c.Decode([]byte("fghij"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("def"), []byte("ghij")}, got)
	require.Zero(t, c.Buffered())
}

func TestFixedSizeCodec_ResetDropsLatchedSize(t *testing.T) {
	size := 3
	c, err := FixedSize.NewCodec(0, func() int { return size })
	require.NoError(t, err)

	_, err = c.Decode([]byte("a"))
	require.NoError(t, err)

	size = 2
	c.Reset()
	got, err := c.Decode([]byte("xy"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("xy")}, got)
}
