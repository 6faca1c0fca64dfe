package schema

import (
	"fmt"
	"strings"

	"github.com/danmuck/binlink/internal/protocol/varint"
)

// Identity tells the storage layer how a field takes part in the primary key.
type Identity uint8

const (
	IdentityNone          Identity = 0
	IdentityAutoGenerated Identity = 1
	IdentityManualInsert  Identity = 2
)

func (i Identity) Valid() bool {
	return i <= IdentityManualInsert
}

func (i Identity) String() string {
	switch i {
	case IdentityNone:
		return "none"
	case IdentityAutoGenerated:
		return "auto"
	case IdentityManualInsert:
		return "manual"
	default:
		return fmt.Sprintf("identity(%d)", uint8(i))
	}
}

// Field describes one property of a Type. Two fields are the same field when their ids match.
type Field struct {
	ID       uint16
	Name     string
	Identity Identity
	Tag      Tag
}

func (f Field) String() string {
	return fmt.Sprintf("%s#%d:%s", f.Name, f.ID, f.Tag)
}

// Lifecycle fields shared by every entity type that tracks versions.
var (
	FieldCreatedUtc      = Field{ID: 92, Name: "CreatedUtc", Tag: DateTime}
	FieldLastModifiedUtc = Field{ID: 94, Name: "LastModifiedUtc", Tag: DateTime}
	FieldVersion         = Field{ID: 98, Name: "Version", Tag: Int64}
)

// Type describes an entity type: a wire id, a name and the ordered field list.
// A Type is immutable after NewType returns.
type Type struct {
	id       uint16
	name     string
	fields   []Field
	byID     map[uint16]int
	identity []Field
}

type ValidationError struct {
	TypeID  uint16
	FieldID uint16
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: type=%d: %s", e.TypeID, e.Reason)
	}
	return fmt.Sprintf("schema: type=%d field=%d: %s", e.TypeID, e.FieldID, e.Reason)
}

// NewType validates and freezes a type descriptor. Field order is the wire order.
func NewType(id uint16, name string, fields ...Field) (*Type, error) {
	if id == 0 || id > varint.MaxU14 {
		return nil, ValidationError{TypeID: id, Reason: "type id out of range 1..16383"}
	}
	if strings.TrimSpace(name) == "" {
		return nil, ValidationError{TypeID: id, Reason: "type name required"}
	}
	t := &Type{
		id:     id,
		name:   name,
		fields: make([]Field, len(fields)),
		byID:   make(map[uint16]int, len(fields)),
	}
	copy(t.fields, fields)
	for i, f := range t.fields {
		if f.ID == 0 || f.ID > varint.MaxU14 {
			return nil, ValidationError{TypeID: id, FieldID: f.ID, Reason: "field id out of range 1..16383"}
		}
		if !f.Tag.Valid() {
			return nil, ValidationError{TypeID: id, FieldID: f.ID, Reason: "unknown value tag"}
		}
		if !f.Identity.Valid() {
			return nil, ValidationError{TypeID: id, FieldID: f.ID, Reason: "unknown identity kind"}
		}
		if _, dup := t.byID[f.ID]; dup {
			return nil, ValidationError{TypeID: id, FieldID: f.ID, Reason: "duplicate field id"}
		}
		t.byID[f.ID] = i
		if f.Identity != IdentityNone {
			t.identity = append(t.identity, f)
		}
	}
	return t, nil
}

// MustType is NewType for package-level descriptor tables.
func MustType(id uint16, name string, fields ...Field) *Type {
	t, err := NewType(id, name, fields...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Type) ID() uint16 {
	return t.id
}

func (t *Type) Name() string {
	return t.name
}

// Fields returns the fields in wire order. The slice must not be modified.
func (t *Type) Fields() []Field {
	return t.fields
}

func (t *Type) NumFields() int {
	return len(t.fields)
}

// Field looks up a field by id.
func (t *Type) Field(id uint16) (Field, bool) {
	i, ok := t.byID[id]
	if !ok {
		return Field{}, false
	}
	return t.fields[i], true
}

// IdentityFields returns the fields whose identity kind is not none, in wire order.
func (t *Type) IdentityFields() []Field {
	return t.identity
}

// Equal reports whether both descriptors would produce the same wire definition.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil {
		return false
	}
	if t.id != o.id || t.name != o.name || len(t.fields) != len(o.fields) {
		return false
	}
	for i := range t.fields {
		if t.fields[i] != o.fields[i] {
			return false
		}
	}
	return true
}

func (t *Type) String() string {
	names := make([]string, len(t.fields))
	for i, f := range t.fields {
		names[i] = f.String()
	}
	return fmt.Sprintf("%s#%d{%s}", t.name, t.id, strings.Join(names, ", "))
}
