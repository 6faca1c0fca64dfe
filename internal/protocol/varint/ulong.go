package varint

import (
	"io"
	"math"

	"github.com/danmuck/binlink/internal/protocol"
)

const (
	ulongNibble   = 0x0F
	maxULongExtra = 8
)

// AppendULong appends v as a header byte (extra byte count in the high nibble, most
// significant nibble of v in the low nibble) followed by the extra bytes, big-endian.
// The encoding never carries a leading zero byte.
func AppendULong(dst []byte, v uint64) []byte {
	var overflow [maxULongExtra]byte
	n := 0
	for v > ulongNibble {
		overflow[n] = byte(v)
		v >>= 8
		n++
	}
	dst = append(dst, byte(n<<4)|byte(v))
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, overflow[i])
	}
	return dst
}

// ReadULong decodes a value written by AppendULong.
func ReadULong(r io.ByteReader) (uint64, error) {
	head, err := readByte(r, "ulong header")
	if err != nil {
		return 0, err
	}
	n := int(head >> 4)
	v := uint64(head & ulongNibble)
	if n > maxULongExtra || (n == maxULongExtra && v != 0) {
		return 0, protocol.Malformedf("varint: ulong header 0x%02x overflows 64 bits", head)
	}
	for i := 0; i < n; i++ {
		b, err := readByte(r, "ulong")
		if err != nil {
			return 0, err
		}
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// ULongLen reports how many bytes AppendULong writes for v.
func ULongLen(v uint64) int {
	n := 1
	for v > ulongNibble {
		v >>= 8
		n++
	}
	return n
}

// AppendLong appends v as the ulong (|v|<<1)|sign. math.MinInt64 has no magnitude that
// fits and is written as 1, the negative-zero pattern the zigzag form never produces.
func AppendLong(dst []byte, v int64) []byte {
	return AppendULong(dst, zigzag(v))
}

// ReadLong decodes a value written by AppendLong.
func ReadLong(r io.ByteReader) (int64, error) {
	u, err := ReadULong(r)
	if err != nil {
		return 0, err
	}
	return unzigzag(u), nil
}

func zigzag(v int64) uint64 {
	if v == math.MinInt64 {
		return 1
	}
	if v < 0 {
		return uint64(-v)<<1 | 1
	}
	return uint64(v) << 1
}

func unzigzag(u uint64) int64 {
	mag := int64(u >> 1)
	if u&1 == 0 {
		return mag
	}
	if mag == 0 {
		return math.MinInt64
	}
	return -mag
}
