package varint

import (
	"bufio"
	"bytes"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestU14RoundTripFullRange(t *testing.T) {
	testlog.Start(t)
	for _, flag := range []bool{false, true} {
		for v := 0; v <= MaxU14; v++ {
			buf, err := AppendU14(nil, uint16(v), flag)
			require.NoError(t, err)
			require.Len(t, buf, U14Len(uint16(v)))

			got, gotFlag, err := ReadU14(bytes.NewReader(buf))
			if err != nil || int(got) != v || gotFlag != flag {
				t.Fatalf("u14 round trip v=%d flag=%v got=%d flag=%v err=%v", v, flag, got, gotFlag, err)
			}
		}
	}
}

func TestU14Layout(t *testing.T) {
	testlog.Start(t)
	buf, err := AppendU14(nil, 63, true)
	require.NoError(t, err)
	require.Equal(t, []byte{0x7F}, buf)

	buf, err = AppendU14(nil, 64, false)
	require.NoError(t, err)
	require.Equal(t, []byte{0x80, 0x40}, buf)

	buf, err = AppendU14(nil, MaxU14, true)
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFF}, buf)
}

func TestU14RejectsOutOfRange(t *testing.T) {
	testlog.Start(t)
	_, err := AppendU14(nil, MaxU14+1, false)
	require.ErrorIs(t, err, ErrU14Range)
	require.ErrorIs(t, err, protocol.ErrInvalidArgument)
}

func TestU14UnderrunIsMalformed(t *testing.T) {
	testlog.Start(t)
	_, _, err := ReadU14(bytes.NewReader([]byte{0x81}))
	require.ErrorIs(t, err, protocol.ErrMalformedData)

	_, _, err = ReadU14(bytes.NewReader(nil))
	require.ErrorIs(t, err, protocol.ErrMalformedData)
}

func TestShortSignedRoundTrip(t *testing.T) {
	testlog.Start(t)
	for _, v := range []int{0, 1, -1, 63, -63, 64, -64, 1000, -1000, MaxU14, -MaxU14} {
		buf, err := AppendShort(nil, v)
		require.NoError(t, err)
		got, err := ReadShort(bytes.NewReader(buf))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
	_, err := AppendShort(nil, -(MaxU14 + 1))
	require.ErrorIs(t, err, ErrU14Range)
}

func minimalULongLen(v uint64) int {
	if v <= 0x0F {
		return 1
	}
	n := 0
	for x := v; x > 0x0F; x >>= 8 {
		n++
	}
	return 1 + n
}

func TestULongRoundTripAndMinimal(t *testing.T) {
	testlog.Start(t)
	samples := []uint64{0, 1, 0x0F, 0x10, 0xFF, 0xFFF, 0x1000, 0xFFFFF, 1 << 32, math.MaxUint32,
		math.MaxInt64, math.MaxUint64 - 1, math.MaxUint64}
	for shift := 0; shift < 64; shift++ {
		samples = append(samples, uint64(1)<<shift, (uint64(1)<<shift)-1)
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		samples = append(samples, rng.Uint64()>>uint(rng.Intn(64)))
	}

	for _, v := range samples {
		buf := AppendULong(nil, v)
		if len(buf) != minimalULongLen(v) || len(buf) != ULongLen(v) {
			t.Fatalf("ulong length v=%#x got=%d want=%d", v, len(buf), minimalULongLen(v))
		}
		if len(buf) > 1 && buf[0]&0x0F == 0 && buf[1] == 0 {
			t.Fatalf("ulong carries leading zero byte v=%#x enc=% x", v, buf)
		}
		got, err := ReadULong(bytes.NewReader(buf))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestULongLayout(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, []byte{0x0F}, AppendULong(nil, 0x0F))
	require.Equal(t, []byte{0x10, 0x10}, AppendULong(nil, 0x10))
	require.Equal(t, []byte{0x11, 0x23}, AppendULong(nil, 0x123))
	require.Equal(t, []byte{0x80, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, AppendULong(nil, math.MaxUint64))
}

func TestULongRejectsOverflowHeader(t *testing.T) {
	testlog.Start(t)
	_, err := ReadULong(bytes.NewReader([]byte{0x90, 1, 2, 3, 4, 5, 6, 7, 8, 9}))
	require.ErrorIs(t, err, protocol.ErrMalformedData)

	_, err = ReadULong(bytes.NewReader([]byte{0x81, 1, 2, 3, 4, 5, 6, 7, 8}))
	require.ErrorIs(t, err, protocol.ErrMalformedData)

	_, err = ReadULong(bytes.NewReader([]byte{0x20, 0x01}))
	require.ErrorIs(t, err, protocol.ErrMalformedData)
}

func TestLongZigzagRoundTrip(t *testing.T) {
	testlog.Start(t)
	samples := []int64{0, 1, -1, 7, -7, 8, -8, 1 << 40, -(1 << 40), math.MaxInt64, math.MinInt64 + 1, math.MinInt64}
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 2000; i++ {
		samples = append(samples, int64(rng.Uint64()))
	}
	for _, v := range samples {
		got, err := ReadLong(bytes.NewReader(AppendLong(nil, v)))
		require.NoError(t, err)
		if got != v {
			t.Fatalf("long round trip got=%d want=%d", got, v)
		}
	}
}

func TestLongZigzagLayout(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, []byte{0x00}, AppendLong(nil, 0))
	require.Equal(t, []byte{0x02}, AppendLong(nil, 1))
	require.Equal(t, []byte{0x03}, AppendLong(nil, -1))
	require.Equal(t, []byte{0x01}, AppendLong(nil, math.MinInt64))
}

func TestStringRoundTrip(t *testing.T) {
	testlog.Start(t)
	for _, s := range []string{"", "report.csv", "naïve café", "日本語テキスト", "emoji 😀 pair", strings.Repeat("x", 5000)} {
		buf := AppendString(nil, s)
		got, err := ReadString(bytes.NewReader(buf), 0)
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
}

func TestStringCountsUTF16Units(t *testing.T) {
	testlog.Start(t)
	buf := AppendString(nil, "😀")
	// two units, each surrogate half written as a 3 byte form
	require.Equal(t, byte(2), buf[0])
	require.Len(t, buf, 1+3+3)
}

func TestStringRejectsBadLeadByte(t *testing.T) {
	testlog.Start(t)
	_, err := ReadString(bytes.NewReader([]byte{0x01, 0xF8}), 0)
	require.ErrorIs(t, err, protocol.ErrMalformedData)

	_, err = ReadString(bytes.NewReader([]byte{0x01, 0xC3, 0x41}), 0)
	require.ErrorIs(t, err, protocol.ErrMalformedData)
}

func TestStringTruncatedIsMalformed(t *testing.T) {
	testlog.Start(t)
	buf := AppendString(nil, "hello")
	_, err := ReadString(bytes.NewReader(buf[:3]), 0)
	require.ErrorIs(t, err, protocol.ErrMalformedData)
}

func TestStringLimit(t *testing.T) {
	testlog.Start(t)
	buf := AppendString(nil, "abcdef")
	_, err := ReadString(bytes.NewReader(buf), 3)
	require.ErrorIs(t, err, protocol.ErrMalformedData)
}

func TestCharReaderPeek(t *testing.T) {
	testlog.Start(t)
	var buf []byte
	for _, u := range []uint16{'a', 0x00E9, 0x65E5} {
		buf = AppendChar(buf, u)
	}
	cr := NewCharReader(bufio.NewReader(bytes.NewReader(buf)))

	ch, err := cr.PeekChar()
	require.NoError(t, err)
	require.Equal(t, uint16('a'), ch)
	ch, err = cr.PeekChar()
	require.NoError(t, err)
	require.Equal(t, uint16('a'), ch)

	for _, want := range []uint16{'a', 0x00E9, 0x65E5} {
		ch, err := cr.ReadChar()
		require.NoError(t, err)
		require.Equal(t, want, ch)
	}
	_, err = cr.ReadChar()
	require.ErrorIs(t, err, protocol.ErrMalformedData)
}

func TestBinaryRoundTripAndLimit(t *testing.T) {
	testlog.Start(t)
	payload := bytes.Repeat([]byte{0xAB, 0x00, 0x7F}, 1000)
	got, err := ReadBinary(bytes.NewReader(AppendBinary(nil, payload)), 0)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	empty, err := ReadBinary(bytes.NewReader(AppendBinary(nil, nil)), 0)
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = ReadBinary(bytes.NewReader(AppendBinary(nil, payload)), 100)
	require.ErrorIs(t, err, protocol.ErrMalformedData)

	_, err = ReadBinary(bytes.NewReader(AppendBinary(nil, payload)[:50]), 0)
	require.ErrorIs(t, err, protocol.ErrMalformedData)
}

type failingReader struct{}

func (failingReader) ReadByte() (byte, error) { return 0, errors.New("connection reset") }

func TestReaderFailureIsIO(t *testing.T) {
	testlog.Start(t)
	_, err := ReadULong(failingReader{})
	require.ErrorIs(t, err, protocol.ErrIO)
	require.Equal(t, protocol.KindIO, protocol.Kind(err))
}
