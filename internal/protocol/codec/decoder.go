package codec

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/entity"
	"github.com/danmuck/binlink/internal/protocol/schema"
	"github.com/danmuck/binlink/internal/protocol/varint"
	"github.com/pkg/errors"
)

// Decoder reads entity graphs and learns the peer's type descriptors.
type Decoder struct {
	r        varint.Stream
	chars    *varint.CharReader
	opts     Options
	received map[uint16]*schema.Type
}

func NewDecoder(r varint.Stream, opts Options) *Decoder {
	return &Decoder{
		r:        r,
		chars:    varint.NewCharReader(r),
		opts:     opts.withDefaults(),
		received: make(map[uint16]*schema.Type),
	}
}

// KnownType returns the descriptor learned for id, if any.
func (d *Decoder) KnownType(id uint16) (*schema.Type, bool) {
	t, ok := d.received[id]
	return t, ok
}

// KnownTypes reports how many descriptors have been learned.
func (d *Decoder) KnownTypes() int {
	return len(d.received)
}

// Decode reads one object graph. Decoded entities are Unchanged.
func (d *Decoder) Decode() (*entity.Entity, error) {
	return d.readObject(0)
}

func (d *Decoder) readObject(depth int) (*entity.Entity, error) {
	if depth >= d.opts.Limits.MaxDepth {
		return nil, protocol.Malformedf("codec: object nesting exceeds %d", d.opts.Limits.MaxDepth)
	}
	id, cached, err := varint.ReadU14(d.r)
	if err != nil {
		return nil, err
	}
	var t *schema.Type
	if cached {
		known, ok := d.received[id]
		if !ok {
			return nil, protocol.Sequencef("codec: cached reference to unknown type id %d", id)
		}
		t = known
	} else {
		if t, err = d.readDescriptor(id); err != nil {
			return nil, err
		}
	}

	e := d.opts.Factory.Build(t)
	for {
		fid, isNull, err := varint.ReadU14(d.r)
		if err != nil {
			return nil, err
		}
		if fid == endOfObject {
			if isNull {
				return nil, protocol.Malformedf("codec: %s: null flag on end marker", t.Name())
			}
			break
		}
		f, ok := t.Field(fid)
		if !ok {
			return nil, protocol.Malformedf("codec: %s: unknown field id %d", t.Name(), fid)
		}
		if isNull {
			e.Put(fid, nil)
			continue
		}
		v, err := d.readValue(f.Tag, depth)
		if err != nil {
			return nil, errors.Wrapf(err, "codec: %s.%s", t.Name(), f.Name)
		}
		e.Put(fid, v)
	}
	e.ResetChanged()
	return e, nil
}

func (d *Decoder) readDescriptor(id uint16) (*schema.Type, error) {
	name, err := d.chars.ReadString(d.opts.Limits.MaxStringLen)
	if err != nil {
		return nil, err
	}
	count, _, err := varint.ReadU14(d.r)
	if err != nil {
		return nil, err
	}
	fields := make([]schema.Field, 0, count)
	for i := 0; i < int(count); i++ {
		fid, _, err := varint.ReadU14(d.r)
		if err != nil {
			return nil, err
		}
		fname, err := d.chars.ReadString(d.opts.Limits.MaxStringLen)
		if err != nil {
			return nil, err
		}
		ident, err := varint.ReadRawByte(d.r)
		if err != nil {
			return nil, err
		}
		rawTag, _, err := varint.ReadU14(d.r)
		if err != nil {
			return nil, err
		}
		tag := schema.Tag(rawTag)
		if !tag.Valid() {
			return nil, protocol.Malformedf("codec: type %d field %d: unknown value tag %d", id, fid, rawTag)
		}
		fields = append(fields, schema.Field{ID: fid, Name: fname, Identity: schema.Identity(ident), Tag: tag})
	}
	t, err := schema.NewType(id, name, fields...)
	if err != nil {
		return nil, protocol.Malformedf("codec: descriptor: %v", err)
	}

	if known, ok := d.received[id]; ok {
		if !known.Equal(t) {
			return nil, protocol.Sequencef("codec: type id %d redefined from %q to %q", id, known.Name(), t.Name())
		}
		return known, nil
	}
	if d.opts.Registry != nil {
		if local, ok := d.opts.Registry.Lookup(id); ok && local.Equal(t) {
			t = local
		}
	}
	d.received[id] = t
	return t, nil
}

func (d *Decoder) readValue(tag schema.Tag, depth int) (any, error) {
	if tag.IsArray() {
		return d.readArray(tag, depth)
	}
	switch tag.Kind() {
	case schema.KindInt16:
		return d.readInt16()
	case schema.KindInt32:
		return d.readInt32()
	case schema.KindInt64:
		return varint.ReadLong(d.r)
	case schema.KindDecimal:
		return d.readDecimal()
	case schema.KindBool:
		return d.readBool()
	case schema.KindGuid:
		return d.readGuid()
	case schema.KindDateTime:
		return d.readTime()
	case schema.KindString:
		return d.chars.ReadString(d.opts.Limits.MaxStringLen)
	case schema.KindBytes:
		return varint.ReadBinary(d.r, d.opts.Limits.MaxBinaryLen)
	case schema.KindObject:
		return d.readObject(depth + 1)
	}
	return nil, protocol.Malformedf("codec: unknown value tag %d", uint16(tag))
}

func (d *Decoder) readArray(tag schema.Tag, depth int) (any, error) {
	n, err := varint.ReadULong(d.r)
	if err != nil {
		return nil, err
	}
	if n > d.opts.Limits.MaxArrayLen {
		return nil, protocol.Malformedf("codec: array length %d exceeds limit %d", n, d.opts.Limits.MaxArrayLen)
	}
	switch tag.Kind() {
	case schema.KindInt16:
		return readList(int(n), d.readInt16)
	case schema.KindInt32:
		return readList(int(n), d.readInt32)
	case schema.KindInt64:
		return readList(int(n), func() (int64, error) { return varint.ReadLong(d.r) })
	case schema.KindDecimal:
		return readList(int(n), d.readDecimal)
	case schema.KindBool:
		return readList(int(n), d.readBool)
	case schema.KindGuid:
		return readList(int(n), d.readGuid)
	case schema.KindDateTime:
		return readList(int(n), d.readTime)
	case schema.KindString:
		return readList(int(n), func() (string, error) { return d.chars.ReadString(d.opts.Limits.MaxStringLen) })
	case schema.KindObject:
		return readList(int(n), func() (*entity.Entity, error) { return d.readObject(depth + 1) })
	}
	return nil, protocol.Malformedf("codec: unknown array tag %d", uint16(tag))
}

func readList[T any](n int, next func() (T, error)) ([]T, error) {
	out := make([]T, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		v, err := next()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *Decoder) readInt16() (int16, error) {
	v, err := varint.ReadLong(d.r)
	if err != nil {
		return 0, err
	}
	if v < math.MinInt16 || v > math.MaxInt16 {
		return 0, protocol.Malformedf("codec: %d overflows int16", v)
	}
	return int16(v), nil
}

func (d *Decoder) readInt32() (int32, error) {
	v, err := varint.ReadLong(d.r)
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, protocol.Malformedf("codec: %d overflows int32", v)
	}
	return int32(v), nil
}

func (d *Decoder) readDecimal() (schema.Decimal, error) {
	var parts [4]int32
	for i := range parts {
		v, err := d.readInt32()
		if err != nil {
			return schema.Decimal{}, err
		}
		parts[i] = v
	}
	return schema.Decimal{Lo: parts[0], Mid: parts[1], Hi: parts[2], Flags: parts[3]}, nil
}

func (d *Decoder) readBool() (bool, error) {
	b, err := varint.ReadRawByte(d.r)
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (d *Decoder) readGuid() (schema.Guid, error) {
	var g schema.Guid
	if _, err := io.ReadFull(d.r, g[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return g, protocol.Malformedf("codec: guid: read underrun")
		}
		return g, protocol.IOError("codec: read guid", err)
	}
	return g, nil
}

func (d *Decoder) readTime() (time.Time, error) {
	ticks, err := varint.ReadULong(d.r)
	if err != nil {
		return time.Time{}, err
	}
	t, err := schema.TicksToTime(ticks)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", protocol.ErrMalformedData, err)
	}
	return t, nil
}
