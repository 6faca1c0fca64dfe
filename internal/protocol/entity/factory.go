package entity

import (
	"sync"

	"github.com/danmuck/binlink/internal/protocol/schema"
)

// Builder constructs the entity a decoder fills for a given type.
type Builder func(t *schema.Type) *Entity

// Factory maps type ids to builders. Types without a builder get NewEntity.
// Like the schema registry it is filled at init and read afterwards.
type Factory struct {
	mu       sync.RWMutex
	builders map[uint16]Builder
}

func NewFactory() *Factory {
	return &Factory{builders: make(map[uint16]Builder)}
}

func (f *Factory) Register(typeID uint16, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[typeID] = b
}

// Build constructs an entity for t through its registered builder or the generic one.
func (f *Factory) Build(t *schema.Type) *Entity {
	if f != nil {
		f.mu.RLock()
		b, ok := f.builders[t.ID()]
		f.mu.RUnlock()
		if ok {
			if e := b(t); e != nil {
				return e
			}
		}
	}
	return NewEntity(t)
}
