package codec

import (
	"bufio"
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/entity"
	"github.com/danmuck/binlink/internal/protocol/schema"
	"github.com/danmuck/binlink/internal/protocol/varint"
	"github.com/danmuck/binlink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

var (
	lineType = schema.MustType(301, "Line",
		schema.Field{ID: 1, Name: "Sku", Tag: schema.String},
		schema.Field{ID: 2, Name: "Qty", Tag: schema.Int16},
	)
	allType = schema.MustType(300, "AllKinds",
		schema.Field{ID: 1, Name: "I16", Tag: schema.Int16},
		schema.Field{ID: 2, Name: "I16s", Tag: schema.Int16Array},
		schema.Field{ID: 3, Name: "I16n", Tag: schema.Int16Nullable},
		schema.Field{ID: 4, Name: "I32", Identity: schema.IdentityManualInsert, Tag: schema.Int32},
		schema.Field{ID: 5, Name: "I32s", Tag: schema.Int32Array},
		schema.Field{ID: 6, Name: "I64", Identity: schema.IdentityAutoGenerated, Tag: schema.Int64},
		schema.Field{ID: 7, Name: "I64s", Tag: schema.Int64Array},
		schema.Field{ID: 8, Name: "Dec", Tag: schema.DecimalValue},
		schema.Field{ID: 9, Name: "Decs", Tag: schema.DecimalArray},
		schema.Field{ID: 10, Name: "Flag", Tag: schema.Bool},
		schema.Field{ID: 11, Name: "Flags", Tag: schema.BoolArray},
		schema.Field{ID: 12, Name: "Id", Tag: schema.GuidValue},
		schema.Field{ID: 13, Name: "Ids", Tag: schema.GuidArray},
		schema.Field{ID: 14, Name: "At", Tag: schema.DateTime},
		schema.Field{ID: 15, Name: "Ats", Tag: schema.DateTimeArray},
		schema.Field{ID: 16, Name: "AtN", Tag: schema.DateTimeNullable},
		schema.Field{ID: 17, Name: "Text", Tag: schema.String},
		schema.Field{ID: 18, Name: "Texts", Tag: schema.StringArray},
		schema.Field{ID: 19, Name: "Blob", Tag: schema.ByteArray},
		schema.Field{ID: 20, Name: "Line", Tag: schema.Object},
		schema.Field{ID: 21, Name: "Lines", Tag: schema.ObjectArray},
		schema.Field{ID: 22, Name: "Unset", Tag: schema.String},
		schema.Field{ID: 500, Name: "Wide", Tag: schema.Int64Nullable},
	)
)

func newLine(sku string, qty int16) *entity.Entity {
	e := entity.NewEntity(lineType)
	e.Put(1, sku)
	e.Put(2, qty)
	return e
}

func sampleEntity() *entity.Entity {
	at := time.Date(2025, 6, 1, 8, 30, 0, 123_456_700, time.UTC)
	e := entity.NewEntity(allType)
	e.Put(1, int16(-32768))
	e.Put(2, []int16{1, -1, 32767})
	e.Put(3, nil)
	e.Put(4, int32(math.MinInt32))
	e.Put(5, []int32{})
	e.Put(6, int64(math.MinInt64))
	e.Put(7, []int64{math.MaxInt64, 0, -5})
	e.Put(8, schema.NewDecimal(-1999, 2))
	e.Put(9, []schema.Decimal{schema.NewDecimal(1, 0), {Lo: -1, Mid: -1, Hi: 7, Flags: 3 << 16}})
	e.Put(10, true)
	e.Put(11, []bool{true, false, true})
	e.Put(12, schema.Guid{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	e.Put(13, []schema.Guid{{0xFF}, {}})
	e.Put(14, at)
	e.Put(15, []time.Time{at, at.Add(time.Hour)})
	e.Put(16, nil)
	e.Put(17, "naïve 😀")
	e.Put(18, []string{"", "a", "日本"})
	e.Put(19, []byte{0, 1, 2, 0xFF})
	e.Put(20, newLine("sku-1", 3))
	e.Put(21, []*entity.Entity{newLine("sku-2", 1), newLine("sku-3", -4)})
	e.Put(500, int64(1<<40))
	return e
}

func decodeAll(t *testing.T, data []byte, opts Options, n int) []*entity.Entity {
	t.Helper()
	dec := NewDecoder(bufio.NewReader(bytes.NewReader(data)), opts)
	out := make([]*entity.Entity, 0, n)
	for i := 0; i < n; i++ {
		e, err := dec.Decode()
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestRoundTripAllValueKinds(t *testing.T) {
	testlog.Start(t)
	src := sampleEntity()
	data, err := NewEncoder().Encode(src)
	require.NoError(t, err)

	got := decodeAll(t, data, Options{}, 1)[0]
	require.Equal(t, allType.ID(), got.Type().ID())
	require.Equal(t, allType.Name(), got.Type().Name())
	require.True(t, src.Equal(got), "src=%s\ngot=%s", src, got)
	require.Equal(t, entity.Unchanged, got.State())
	require.True(t, got.IsNull(3))
	require.False(t, got.Has(22))
}

func TestSchemaSentOnceThenCachedReference(t *testing.T) {
	testlog.Start(t)
	enc := NewEncoder()
	first, err := enc.AppendObject(nil, newLine("a", 1))
	require.NoError(t, err)
	second, err := enc.AppendObject(nil, newLine("a", 1))
	require.NoError(t, err)

	full, refs := enc.SchemaStats()
	require.Equal(t, uint64(1), full)
	require.Equal(t, uint64(1), refs)

	// id 301 with the cached flag: 0x80|0x40|0x01, 0x2D
	require.Equal(t, []byte{0xC1, 0x2D}, second[:2])
	require.Greater(t, len(first), len(second))
	require.Equal(t, len(first)-len(second), len(appendDescriptorBytes(t, lineType))-2)

	stream := append(append([]byte{}, first...), second...)
	got := decodeAll(t, stream, Options{}, 2)
	require.True(t, got[0].Equal(got[1]))
}

func appendDescriptorBytes(t *testing.T, typ *schema.Type) []byte {
	t.Helper()
	b, err := appendDescriptor(nil, typ)
	require.NoError(t, err)
	return b
}

func TestCachedReferenceToUnknownTypeIsSequenceViolation(t *testing.T) {
	testlog.Start(t)
	data, err := varint.AppendU14(nil, 301, true)
	require.NoError(t, err)
	_, err = NewDecoder(bytes.NewReader(data), Options{}).Decode()
	require.ErrorIs(t, err, protocol.ErrProtocolSequence)
}

func TestUnknownFieldIsMalformed(t *testing.T) {
	testlog.Start(t)
	data, err := appendDescriptor(nil, lineType)
	require.NoError(t, err)
	data, err = varint.AppendU14(data, 9, false)
	require.NoError(t, err)
	data = varint.AppendString(data, "x")
	data = append(data, 0)

	_, err = NewDecoder(bytes.NewReader(data), Options{}).Decode()
	require.ErrorIs(t, err, protocol.ErrMalformedData)
}

func TestUnknownValueTagIsMalformed(t *testing.T) {
	testlog.Start(t)
	var data []byte
	data, _ = varint.AppendU14(data, 40, false)
	data = varint.AppendString(data, "Bad")
	data, _ = varint.AppendU14(data, 1, false)
	data, _ = varint.AppendU14(data, 1, false)
	data = varint.AppendString(data, "F")
	data = append(data, 0)
	data, _ = varint.AppendU14(data, 99, false)
	data = append(data, 0)

	_, err := NewDecoder(bytes.NewReader(data), Options{}).Decode()
	require.ErrorIs(t, err, protocol.ErrMalformedData)
}

func TestTruncatedObjectIsMalformed(t *testing.T) {
	testlog.Start(t)
	data, err := NewEncoder().Encode(sampleEntity())
	require.NoError(t, err)
	for _, cut := range []int{1, 5, len(data) / 2, len(data) - 1} {
		_, err := NewDecoder(bytes.NewReader(data[:cut]), Options{}).Decode()
		require.ErrorIs(t, err, protocol.ErrMalformedData, "cut=%d", cut)
	}
}

func TestRedefinitionPolicy(t *testing.T) {
	testlog.Start(t)
	same, err := NewEncoder().Encode(newLine("a", 1))
	require.NoError(t, err)
	sameCopy := append([]byte{}, same...)

	dec := NewDecoder(bytes.NewReader(append(append([]byte{}, same...), sameCopy...)), Options{})
	_, err = dec.Decode()
	require.NoError(t, err)
	_, err = dec.Decode()
	require.NoError(t, err, "identical redefinition is accepted")

	changed := schema.MustType(301, "Line", schema.Field{ID: 1, Name: "Sku", Tag: schema.String})
	e := entity.NewEntity(changed)
	e.Put(1, "b")
	other, err := NewEncoder().Encode(e)
	require.NoError(t, err)

	dec = NewDecoder(bytes.NewReader(append(sameCopy, other...)), Options{})
	_, err = dec.Decode()
	require.NoError(t, err)
	_, err = dec.Decode()
	require.ErrorIs(t, err, protocol.ErrProtocolSequence)
}

func TestFailedEncodeForgetsNewDescriptors(t *testing.T) {
	testlog.Start(t)
	enc := NewEncoder()
	bad := entity.NewEntity(allType)
	bad.Put(20, newLine("ok", 1))
	bad.Put(22, 5)
	_, err := enc.Encode(bad)
	require.ErrorIs(t, err, protocol.ErrUnsupportedValue)
	require.Equal(t, 0, enc.KnownTypes())

	_, err = enc.Encode(newLine("a", 1))
	require.NoError(t, err)
	full, _ := enc.SchemaStats()
	require.Equal(t, 1, enc.KnownTypes())
	require.Equal(t, uint64(3), full, "emissions from the failed call still count")
}

func TestEncoderRejectsConflictingDescriptor(t *testing.T) {
	testlog.Start(t)
	enc := NewEncoder()
	_, err := enc.Encode(newLine("a", 1))
	require.NoError(t, err)
	impostor := entity.NewEntity(schema.MustType(301, "NotLine"))
	_, err = enc.Encode(impostor)
	require.ErrorIs(t, err, protocol.ErrInvalidArgument)
}

func TestDecoderResolvesRegistryAndFactory(t *testing.T) {
	testlog.Start(t)
	reg := schema.NewRegistry().MustRegister(lineType)
	factory := entity.NewFactory()
	built := 0
	factory.Register(lineType.ID(), func(typ *schema.Type) *entity.Entity {
		built++
		return entity.NewEntity(typ)
	})

	data, err := NewEncoder().Encode(newLine("z", 9))
	require.NoError(t, err)
	got := decodeAll(t, data, Options{Registry: reg, Factory: factory}, 1)[0]
	require.Same(t, lineType, got.Type())
	require.Equal(t, 1, built)
}

func TestDepthLimit(t *testing.T) {
	testlog.Start(t)
	nested := schema.MustType(302, "Node", schema.Field{ID: 1, Name: "Next", Tag: schema.Object})
	root := entity.NewEntity(nested)
	cur := root
	for i := 0; i < 10; i++ {
		next := entity.NewEntity(nested)
		cur.Put(1, next)
		cur = next
	}
	data, err := NewEncoder().Encode(root)
	require.NoError(t, err)

	_, err = NewDecoder(bytes.NewReader(data), Options{Limits: Limits{MaxDepth: 4}}).Decode()
	require.ErrorIs(t, err, protocol.ErrMalformedData)

	_, err = NewDecoder(bytes.NewReader(data), Options{}).Decode()
	require.NoError(t, err)
}
