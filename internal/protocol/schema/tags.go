package schema

import "fmt"

// Tag is the wire value-type tag of a field. The set is closed; unknown tags on the wire
// are malformed data.
type Tag uint16

const (
	Int16         Tag = 2
	Int16Array    Tag = 3
	Int16Nullable Tag = 4

	Int32         Tag = 6
	Int32Array    Tag = 7
	Int32Nullable Tag = 8

	Int64         Tag = 12
	Int64Array    Tag = 13
	Int64Nullable Tag = 14

	DecimalValue    Tag = 16
	DecimalArray    Tag = 17
	DecimalNullable Tag = 18

	Bool         Tag = 22
	BoolArray    Tag = 23
	BoolNullable Tag = 24

	GuidValue    Tag = 26
	GuidArray    Tag = 27
	GuidNullable Tag = 28

	DateTime         Tag = 32
	DateTimeArray    Tag = 33
	DateTimeNullable Tag = 34

	String      Tag = 42
	StringArray Tag = 43

	ByteArray Tag = 46

	Object      Tag = 52
	ObjectArray Tag = 53
)

// Kind groups tags by the scalar they carry.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt16
	KindInt32
	KindInt64
	KindDecimal
	KindBool
	KindGuid
	KindDateTime
	KindString
	KindBytes
	KindObject
)

type tagInfo struct {
	name     string
	kind     Kind
	array    bool
	nullable bool
}

var tagTable = map[Tag]tagInfo{
	Int16:            {"Int16", KindInt16, false, false},
	Int16Array:       {"Int16Array", KindInt16, true, false},
	Int16Nullable:    {"Int16Nullable", KindInt16, false, true},
	Int32:            {"Int32", KindInt32, false, false},
	Int32Array:       {"Int32Array", KindInt32, true, false},
	Int32Nullable:    {"Int32Nullable", KindInt32, false, true},
	Int64:            {"Int64", KindInt64, false, false},
	Int64Array:       {"Int64Array", KindInt64, true, false},
	Int64Nullable:    {"Int64Nullable", KindInt64, false, true},
	DecimalValue:     {"Decimal", KindDecimal, false, false},
	DecimalArray:     {"DecimalArray", KindDecimal, true, false},
	DecimalNullable:  {"DecimalNullable", KindDecimal, false, true},
	Bool:             {"Bool", KindBool, false, false},
	BoolArray:        {"BoolArray", KindBool, true, false},
	BoolNullable:     {"BoolNullable", KindBool, false, true},
	GuidValue:        {"Guid", KindGuid, false, false},
	GuidArray:        {"GuidArray", KindGuid, true, false},
	GuidNullable:     {"GuidNullable", KindGuid, false, true},
	DateTime:         {"DateTime", KindDateTime, false, false},
	DateTimeArray:    {"DateTimeArray", KindDateTime, true, false},
	DateTimeNullable: {"DateTimeNullable", KindDateTime, false, true},
	String:           {"String", KindString, false, false},
	StringArray:      {"StringArray", KindString, true, false},
	ByteArray:        {"ByteArray", KindBytes, false, false},
	Object:           {"Object", KindObject, false, false},
	ObjectArray:      {"ObjectArray", KindObject, true, false},
}

// Valid reports whether t is part of the closed tag set.
func (t Tag) Valid() bool {
	_, ok := tagTable[t]
	return ok
}

// Kind returns the scalar kind of t, KindInvalid for unknown tags.
func (t Tag) Kind() Kind {
	return tagTable[t].kind
}

// IsArray reports whether values of t are length-prefixed element lists.
func (t Tag) IsArray() bool {
	return tagTable[t].array
}

// IsNullable reports whether t is the nullable flavor of a scalar.
func (t Tag) IsNullable() bool {
	return tagTable[t].nullable
}

func (t Tag) String() string {
	if info, ok := tagTable[t]; ok {
		return info.name
	}
	return fmt.Sprintf("Tag(%d)", uint16(t))
}

// Tags returns every known tag in ascending order.
func Tags() []Tag {
	out := make([]Tag, 0, len(tagTable))
	for t := Tag(0); t <= ObjectArray; t++ {
		if t.Valid() {
			out = append(out, t)
		}
	}
	return out
}
