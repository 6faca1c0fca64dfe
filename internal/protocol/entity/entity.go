package entity

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/schema"
)

// State is the change-tracking state of an entity.
type State uint8

const (
	Unchanged State = iota
	New
	Changed
)

func (s State) String() string {
	switch s {
	case Unchanged:
		return "Unchanged"
	case New:
		return "New"
	case Changed:
		return "Changed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// ParentCollection is notified whenever a member entity changes.
type ParentCollection interface {
	SetChanged(e *Entity)
}

var nowFunc = time.Now

// Entity is a typed property bag. Only set fields are present; a present field may hold nil
// (null). An Entity is not safe for concurrent mutation.
type Entity struct {
	typ         *schema.Type
	values      map[uint16]any
	state       State
	toBeDeleted bool
	parent      ParentCollection
}

// NewEntity returns an empty, unchanged entity of t.
func NewEntity(t *schema.Type) *Entity {
	return &Entity{typ: t, values: make(map[uint16]any, t.NumFields())}
}

func (e *Entity) Type() *schema.Type {
	return e.typ
}

// field resolves id against the type, then the shared lifecycle fields.
func (e *Entity) field(id uint16) (schema.Field, bool) {
	if f, ok := e.typ.Field(id); ok {
		return f, true
	}
	switch id {
	case schema.FieldCreatedUtc.ID:
		return schema.FieldCreatedUtc, true
	case schema.FieldLastModifiedUtc.ID:
		return schema.FieldLastModifiedUtc, true
	case schema.FieldVersion.ID:
		return schema.FieldVersion, true
	}
	return schema.Field{}, false
}

// Has reports whether id is present, null or not.
func (e *Entity) Has(id uint16) bool {
	_, ok := e.values[id]
	return ok
}

// HasKeys reports whether every id is present.
func (e *Entity) HasKeys(ids ...uint16) bool {
	for _, id := range ids {
		if !e.Has(id) {
			return false
		}
	}
	return true
}

// Get returns the raw value and presence. A present null returns (nil, true).
func (e *Entity) Get(id uint16) (any, bool) {
	v, ok := e.values[id]
	return v, ok
}

// IsNull reports whether id is present with a null value.
func (e *Entity) IsNull(id uint16) bool {
	v, ok := e.values[id]
	return ok && v == nil
}

func (e *Entity) Len() int {
	return len(e.values)
}

// Set stores v under id and marks the entity changed when the stored value differs.
func (e *Entity) Set(id uint16, v any) error {
	f, ok := e.field(id)
	if !ok {
		return fmt.Errorf("%w: entity: field %d not in type %s", protocol.ErrInvalidArgument, id, e.typ.Name())
	}
	v = normalize(v)
	if err := CheckValue(f.Tag, v); err != nil {
		return fmt.Errorf("%s.%s: %w", e.typ.Name(), f.Name, err)
	}
	if old, present := e.values[id]; present && ValueEqual(old, v) {
		return nil
	}
	e.values[id] = v
	e.SetChanged()
	return nil
}

// SetNull stores a null under id.
func (e *Entity) SetNull(id uint16) error {
	return e.Set(id, nil)
}

// Put stores v without validation or change tracking. Decoders use it.
func (e *Entity) Put(id uint16, v any) {
	e.values[id] = normalize(v)
}

// Delete removes id and reports whether it was present.
func (e *Entity) Delete(id uint16) bool {
	if _, ok := e.values[id]; !ok {
		return false
	}
	delete(e.values, id)
	e.SetChanged()
	return true
}

// IDs returns the present field ids in ascending order.
func (e *Entity) IDs() []uint16 {
	ids := make([]uint16, 0, len(e.values))
	for id := range e.values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *Entity) State() State {
	return e.state
}

// SetChanged records a mutation: a never-versioned unchanged entity becomes New and gets its
// creation stamp, anything else becomes Changed. The version and modification stamp always
// advance and the parent collection hears about it.
func (e *Entity) SetChanged() {
	now := nowFunc().UTC()
	if e.state == Unchanged {
		if e.Version() == 0 {
			e.state = New
			e.values[schema.FieldCreatedUtc.ID] = now
		} else {
			e.state = Changed
		}
	}
	e.values[schema.FieldLastModifiedUtc.ID] = now
	e.values[schema.FieldVersion.ID] = e.Version() + 1
	if e.parent != nil {
		e.parent.SetChanged(e)
	}
}

// ResetChanged returns the entity to Unchanged and clears the pending delete flag.
func (e *Entity) ResetChanged() {
	e.state = Unchanged
	e.toBeDeleted = false
}

func (e *Entity) SetToBeDeleted() {
	e.toBeDeleted = true
	if e.parent != nil {
		e.parent.SetChanged(e)
	}
}

func (e *Entity) ToBeDeleted() bool {
	return e.toBeDeleted
}

func (e *Entity) Parent() ParentCollection {
	return e.parent
}

func (e *Entity) SetParent(p ParentCollection) {
	e.parent = p
}

func (e *Entity) Version() int64 {
	v, _ := e.values[schema.FieldVersion.ID].(int64)
	return v
}

func (e *Entity) CreatedUtc() time.Time {
	v, _ := e.values[schema.FieldCreatedUtc.ID].(time.Time)
	return v
}

func (e *Entity) LastModifiedUtc() time.Time {
	v, _ := e.values[schema.FieldLastModifiedUtc.ID].(time.Time)
	return v
}

// Equal compares type identity and the fields the type declares, which is exactly what
// travels on the wire. Lifecycle stamps outside the type are ignored.
func (e *Entity) Equal(o *Entity) bool {
	if e == o {
		return true
	}
	if e == nil || o == nil {
		return false
	}
	if e.typ.ID() != o.typ.ID() || e.typ.Name() != o.typ.Name() {
		return false
	}
	for _, f := range e.typ.Fields() {
		v, ok := e.values[f.ID]
		ov, ook := o.values[f.ID]
		if ok != ook || !ValueEqual(v, ov) {
			return false
		}
	}
	return true
}

func (e *Entity) String() string {
	items := make([]string, 0, len(e.values))
	for _, id := range e.IDs() {
		f, ok := e.field(id)
		name := f.Name
		if !ok {
			name = fmt.Sprintf("#%d", id)
		}
		v := e.values[id]
		if f.Tag == schema.String && v != nil {
			items = append(items, fmt.Sprintf("%s='%v'", name, v))
			continue
		}
		items = append(items, fmt.Sprintf("%s=%v", name, v))
	}
	return fmt.Sprintf("%s{Count=%d, State=%s, %s}", e.typ.Name(), len(items), e.state, strings.Join(items, ", "))
}
