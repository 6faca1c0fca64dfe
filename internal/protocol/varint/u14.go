package varint

import (
	"fmt"
	"io"

	"github.com/danmuck/binlink/internal/protocol"
)

const (
	// MaxU14 is the largest value a VarU14 carries.
	MaxU14 = 0x3FFF

	u14OneByteMax = 0x3F
	u14Wide       = 0x80
	u14Flag       = 0x40
)

var ErrU14Range = fmt.Errorf("%w: varint: value exceeds 14 bits", protocol.ErrInvalidArgument)

// AppendU14 appends v with its side-channel flag. Values up to 63 take one byte.
func AppendU14(dst []byte, v uint16, flag bool) ([]byte, error) {
	if v > MaxU14 {
		return dst, fmt.Errorf("%w: %d", ErrU14Range, v)
	}
	var f byte
	if flag {
		f = u14Flag
	}
	if v <= u14OneByteMax {
		return append(dst, f|byte(v)), nil
	}
	return append(dst, u14Wide|f|byte(v>>8), byte(v)), nil
}

// ReadU14 decodes one VarU14 and its flag.
func ReadU14(r io.ByteReader) (uint16, bool, error) {
	b0, err := readByte(r, "u14")
	if err != nil {
		return 0, false, err
	}
	flag := b0&u14Flag != 0
	if b0&u14Wide == 0 {
		return uint16(b0 & u14OneByteMax), flag, nil
	}
	b1, err := readByte(r, "u14")
	if err != nil {
		return 0, false, err
	}
	return uint16(b0&u14OneByteMax)<<8 | uint16(b1), flag, nil
}

// U14Len reports how many bytes AppendU14 writes for v.
func U14Len(v uint16) int {
	if v <= u14OneByteMax {
		return 1
	}
	return 2
}

// AppendShort appends a signed value with |v| <= MaxU14, using the flag as the sign.
func AppendShort(dst []byte, v int) ([]byte, error) {
	if v < 0 {
		if -v > MaxU14 {
			return dst, fmt.Errorf("%w: %d", ErrU14Range, v)
		}
		return AppendU14(dst, uint16(-v), true)
	}
	if v > MaxU14 {
		return dst, fmt.Errorf("%w: %d", ErrU14Range, v)
	}
	return AppendU14(dst, uint16(v), false)
}

// ReadShort decodes a value written by AppendShort.
func ReadShort(r io.ByteReader) (int, error) {
	v, neg, err := ReadU14(r)
	if err != nil {
		return 0, err
	}
	if neg {
		return -int(v), nil
	}
	return int(v), nil
}

// readByte maps stream exhaustion to malformed data. Other reader errors are transport
// failures and keep their cause.
func readByte(r io.ByteReader, what string) (byte, error) {
	b, err := r.ReadByte()
	if err == nil {
		return b, nil
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return 0, protocol.Malformedf("varint: %s: read underrun", what)
	}
	return 0, protocol.IOError("varint: read "+what, err)
}

// ReadRawByte reads one byte with the package's underrun classification.
func ReadRawByte(r io.ByteReader) (byte, error) {
	return readByte(r, "byte")
}
