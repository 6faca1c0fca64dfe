package codec

import (
	"fmt"
	"time"

	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/entity"
	"github.com/danmuck/binlink/internal/protocol/schema"
	"github.com/danmuck/binlink/internal/protocol/varint"
	"github.com/pkg/errors"
)

const endOfObject = 0

// Encoder writes entity graphs and remembers which type descriptors the peer has seen.
type Encoder struct {
	sent    map[uint16]*schema.Type
	pending []uint16
	buf     []byte

	schemasSent uint64
	refsSent    uint64
}

func NewEncoder() *Encoder {
	return &Encoder{
		sent: make(map[uint16]*schema.Type),
		buf:  make([]byte, 0, 512),
	}
}

// Encode serializes e into the encoder's scratch buffer. The result is valid until the
// next call. On error no descriptor is recorded as sent.
func (enc *Encoder) Encode(e *entity.Entity) ([]byte, error) {
	out, err := enc.AppendObject(enc.buf[:0], e)
	if err != nil {
		return nil, err
	}
	enc.buf = out
	return out, nil
}

// AppendObject appends e to dst. Descriptors first emitted by a failed call are forgotten.
func (enc *Encoder) AppendObject(dst []byte, e *entity.Entity) ([]byte, error) {
	enc.pending = enc.pending[:0]
	out, err := enc.appendObject(dst, e)
	if err != nil {
		for _, id := range enc.pending {
			delete(enc.sent, id)
		}
		enc.pending = enc.pending[:0]
		return dst, err
	}
	return out, nil
}

// KnownTypes reports how many descriptors have been sent.
func (enc *Encoder) KnownTypes() int {
	return len(enc.sent)
}

// SchemaStats reports full descriptor emissions and cached references written so far.
func (enc *Encoder) SchemaStats() (full, refs uint64) {
	return enc.schemasSent, enc.refsSent
}

func (enc *Encoder) appendObject(dst []byte, e *entity.Entity) ([]byte, error) {
	if e == nil || e.Type() == nil {
		return dst, fmt.Errorf("%w: codec: nil entity or type", protocol.ErrInvalidArgument)
	}
	t := e.Type()
	var err error
	if known, ok := enc.sent[t.ID()]; ok {
		if known != t && !known.Equal(t) {
			return dst, fmt.Errorf("%w: codec: type id %d already sent as %q, now %q",
				protocol.ErrInvalidArgument, t.ID(), known.Name(), t.Name())
		}
		if dst, err = varint.AppendU14(dst, t.ID(), true); err != nil {
			return dst, err
		}
		enc.refsSent++
	} else {
		if dst, err = appendDescriptor(dst, t); err != nil {
			return dst, err
		}
		enc.sent[t.ID()] = t
		enc.pending = append(enc.pending, t.ID())
		enc.schemasSent++
	}

	for _, f := range t.Fields() {
		v, ok := e.Get(f.ID)
		if !ok {
			continue
		}
		if v == nil {
			if dst, err = varint.AppendU14(dst, f.ID, true); err != nil {
				return dst, err
			}
			continue
		}
		if dst, err = varint.AppendU14(dst, f.ID, false); err != nil {
			return dst, err
		}
		if dst, err = enc.appendValue(dst, f, v); err != nil {
			return dst, errors.Wrapf(err, "codec: %s.%s", t.Name(), f.Name)
		}
	}
	return append(dst, endOfObject), nil
}

func appendDescriptor(dst []byte, t *schema.Type) ([]byte, error) {
	var err error
	if dst, err = varint.AppendU14(dst, t.ID(), false); err != nil {
		return dst, err
	}
	dst = varint.AppendString(dst, t.Name())
	if dst, err = varint.AppendU14(dst, uint16(t.NumFields()), false); err != nil {
		return dst, err
	}
	for _, f := range t.Fields() {
		if dst, err = varint.AppendU14(dst, f.ID, false); err != nil {
			return dst, err
		}
		dst = varint.AppendString(dst, f.Name)
		dst = append(dst, byte(f.Identity))
		if dst, err = varint.AppendU14(dst, uint16(f.Tag), false); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func (enc *Encoder) appendValue(dst []byte, f schema.Field, v any) ([]byte, error) {
	if err := entity.CheckValue(f.Tag, v); err != nil {
		return dst, err
	}
	if f.Tag.IsArray() {
		return enc.appendArray(dst, f.Tag.Kind(), v)
	}
	switch x := v.(type) {
	case int16:
		return varint.AppendLong(dst, int64(x)), nil
	case int32:
		return varint.AppendLong(dst, int64(x)), nil
	case int64:
		return varint.AppendLong(dst, x), nil
	case schema.Decimal:
		return appendDecimal(dst, x), nil
	case bool:
		return appendBool(dst, x), nil
	case schema.Guid:
		return append(dst, x[:]...), nil
	case time.Time:
		ticks, err := schema.TimeToTicks(x)
		if err != nil {
			return dst, err
		}
		return varint.AppendULong(dst, ticks), nil
	case string:
		return varint.AppendString(dst, x), nil
	case []byte:
		return varint.AppendBinary(dst, x), nil
	case *entity.Entity:
		return enc.appendObject(dst, x)
	}
	return dst, fmt.Errorf("%w: codec: %T", protocol.ErrUnsupportedValue, v)
}

func (enc *Encoder) appendArray(dst []byte, kind schema.Kind, v any) ([]byte, error) {
	switch list := v.(type) {
	case []int16:
		dst = varint.AppendULong(dst, uint64(len(list)))
		for _, x := range list {
			dst = varint.AppendLong(dst, int64(x))
		}
	case []int32:
		dst = varint.AppendULong(dst, uint64(len(list)))
		for _, x := range list {
			dst = varint.AppendLong(dst, int64(x))
		}
	case []int64:
		dst = varint.AppendULong(dst, uint64(len(list)))
		for _, x := range list {
			dst = varint.AppendLong(dst, x)
		}
	case []schema.Decimal:
		dst = varint.AppendULong(dst, uint64(len(list)))
		for _, x := range list {
			dst = appendDecimal(dst, x)
		}
	case []bool:
		dst = varint.AppendULong(dst, uint64(len(list)))
		for _, x := range list {
			dst = appendBool(dst, x)
		}
	case []schema.Guid:
		dst = varint.AppendULong(dst, uint64(len(list)))
		for _, x := range list {
			dst = append(dst, x[:]...)
		}
	case []time.Time:
		dst = varint.AppendULong(dst, uint64(len(list)))
		for _, x := range list {
			ticks, err := schema.TimeToTicks(x)
			if err != nil {
				return dst, err
			}
			dst = varint.AppendULong(dst, ticks)
		}
	case []string:
		dst = varint.AppendULong(dst, uint64(len(list)))
		for _, x := range list {
			dst = varint.AppendString(dst, x)
		}
	case []*entity.Entity:
		dst = varint.AppendULong(dst, uint64(len(list)))
		for _, x := range list {
			var err error
			if dst, err = enc.appendObject(dst, x); err != nil {
				return dst, err
			}
		}
	default:
		return dst, fmt.Errorf("%w: codec: array of kind %d as %T", protocol.ErrUnsupportedValue, kind, v)
	}
	return dst, nil
}

func appendDecimal(dst []byte, d schema.Decimal) []byte {
	dst = varint.AppendLong(dst, int64(d.Lo))
	dst = varint.AppendLong(dst, int64(d.Mid))
	dst = varint.AppendLong(dst, int64(d.Hi))
	return varint.AppendLong(dst, int64(d.Flags))
}

func appendBool(dst []byte, b bool) []byte {
	if b {
		return append(dst, 1)
	}
	return append(dst, 0)
}
