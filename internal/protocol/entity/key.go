package entity

import "github.com/danmuck/binlink/internal/protocol/schema"

// Key is a typed accessor for one field. T must be the Go representation of the field's tag.
type Key[T any] struct {
	schema.Field
}

func NewKey[T any](id uint16, name string, tag schema.Tag) Key[T] {
	return Key[T]{Field: schema.Field{ID: id, Name: name, Tag: tag}}
}

// WithIdentity returns a copy of k with the given identity kind.
func (k Key[T]) WithIdentity(i schema.Identity) Key[T] {
	k.Identity = i
	return k
}

// Get returns the value and true when the field is present, non-null and of type T.
func (k Key[T]) Get(e *Entity) (T, bool) {
	var zero T
	raw, ok := e.values[k.ID]
	if !ok || raw == nil {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// Value returns the field value or def.
func (k Key[T]) Value(e *Entity, def T) T {
	if v, ok := k.Get(e); ok {
		return v
	}
	return def
}

// Set stores v with change tracking.
func (k Key[T]) Set(e *Entity, v T) error {
	return e.Set(k.ID, v)
}

// Put stores v without change tracking.
func (k Key[T]) Put(e *Entity, v T) {
	e.Put(k.ID, v)
}

func (k Key[T]) IsNull(e *Entity) bool {
	return e.IsNull(k.ID)
}

func (k Key[T]) Has(e *Entity) bool {
	return e.Has(k.ID)
}
