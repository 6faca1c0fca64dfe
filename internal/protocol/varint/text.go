package varint

import (
	"io"
	"math"
	"unicode/utf16"

	"github.com/danmuck/binlink/internal/protocol"
)

// Stream is what blob decoding needs: bulk reads plus single bytes.
type Stream interface {
	io.Reader
	io.ByteReader
}

// AppendChar appends one UTF-16 code unit in its 1, 2 or 3 byte UTF-8 form.
// Surrogate halves are written individually.
func AppendChar(dst []byte, ch uint16) []byte {
	switch {
	case ch <= 0x7F:
		return append(dst, byte(ch))
	case ch <= 0x7FF:
		return append(dst, 0xC0|byte(ch>>6), 0x80|byte(ch&0x3F))
	default:
		return append(dst, 0xE0|byte(ch>>12), 0x80|byte((ch>>6)&0x3F), 0x80|byte(ch&0x3F))
	}
}

// ReadChar decodes one code unit written by AppendChar.
func ReadChar(r io.ByteReader) (uint16, error) {
	b0, err := readByte(r, "char")
	if err != nil {
		return 0, err
	}
	switch {
	case b0&0x80 == 0:
		return uint16(b0), nil
	case b0&0xE0 == 0xC0:
		b1, err := readContinuation(r)
		if err != nil {
			return 0, err
		}
		return uint16(b0&0x1F)<<6 | uint16(b1&0x3F), nil
	case b0&0xF0 == 0xE0:
		b1, err := readContinuation(r)
		if err != nil {
			return 0, err
		}
		b2, err := readContinuation(r)
		if err != nil {
			return 0, err
		}
		return uint16(b0&0x0F)<<12 | uint16(b1&0x3F)<<6 | uint16(b2&0x3F), nil
	default:
		return 0, protocol.Malformedf("varint: invalid utf-8 lead byte 0x%02x", b0)
	}
}

func readContinuation(r io.ByteReader) (byte, error) {
	b, err := readByte(r, "char")
	if err != nil {
		return 0, err
	}
	if b&0xC0 != 0x80 {
		return 0, protocol.Malformedf("varint: invalid utf-8 continuation byte 0x%02x", b)
	}
	return b, nil
}

// AppendString appends the UTF-16 unit count as a ulong, then every unit via AppendChar.
func AppendString(dst []byte, s string) []byte {
	units := utf16.Encode([]rune(s))
	dst = AppendULong(dst, uint64(len(units)))
	for _, u := range units {
		dst = AppendChar(dst, u)
	}
	return dst
}

// CharReader decodes code units with one unit of lookahead.
type CharReader struct {
	r      io.ByteReader
	peeked []uint16
}

func NewCharReader(r io.ByteReader) *CharReader {
	return &CharReader{r: r, peeked: make([]uint16, 0, 4)}
}

// PeekChar decodes the next unit and queues it for the following ReadChar.
func (c *CharReader) PeekChar() (uint16, error) {
	if len(c.peeked) > 0 {
		return c.peeked[0], nil
	}
	ch, err := ReadChar(c.r)
	if err != nil {
		return 0, err
	}
	c.peeked = append(c.peeked, ch)
	return ch, nil
}

func (c *CharReader) ReadChar() (uint16, error) {
	if len(c.peeked) > 0 {
		ch := c.peeked[0]
		c.peeked = c.peeked[1:]
		return ch, nil
	}
	return ReadChar(c.r)
}

// ReadString decodes a string written by AppendString. maxUnits bounds the declared
// length; zero means no bound.
func (c *CharReader) ReadString(maxUnits uint64) (string, error) {
	n, err := ReadULong(c.r)
	if err != nil {
		return "", err
	}
	if maxUnits > 0 && n > maxUnits {
		return "", protocol.Malformedf("varint: string length %d exceeds limit %d", n, maxUnits)
	}
	if n == 0 {
		return "", nil
	}
	units := make([]uint16, 0, min(n, 4096))
	for i := uint64(0); i < n; i++ {
		ch, err := c.ReadChar()
		if err != nil {
			return "", err
		}
		units = append(units, ch)
	}
	return string(utf16.Decode(units)), nil
}

// ReadString decodes one string without lookahead state.
func ReadString(r io.ByteReader, maxUnits uint64) (string, error) {
	return NewCharReader(r).ReadString(maxUnits)
}

// AppendBinary appends a ulong length followed by the raw bytes.
func AppendBinary(dst []byte, b []byte) []byte {
	dst = AppendULong(dst, uint64(len(b)))
	return append(dst, b...)
}

// ReadBinary decodes a blob written by AppendBinary. maxLen bounds the allocation; zero
// means no bound.
func ReadBinary(r Stream, maxLen uint64) ([]byte, error) {
	n, err := ReadULong(r)
	if err != nil {
		return nil, err
	}
	if (maxLen > 0 && n > maxLen) || n > math.MaxInt32 {
		return nil, protocol.Malformedf("varint: binary length %d exceeds limit %d", n, maxLen)
	}
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	if _, err := io.ReadFull(r, out); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, protocol.Malformedf("varint: binary: read underrun want=%d", n)
		}
		return nil, protocol.IOError("varint: read binary", err)
	}
	return out, nil
}
