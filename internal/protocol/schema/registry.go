package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrTypeExists     = errors.New("schema: type id already registered")
	ErrTypeNameExists = errors.New("schema: type name already registered")
	ErrTypeNil        = errors.New("schema: type is nil")
	ErrRegistrySealed = errors.New("schema: registry sealed")
)

// Registry is the process-wide table of locally known types. It is filled during init,
// sealed, and then only read; codecs receive it by reference.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uint16]*Type
	byName map[string]*Type
	sealed bool
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[uint16]*Type),
		byName: make(map[string]*Type),
	}
}

// Register adds t. Registering the identical descriptor twice is a no-op.
func (r *Registry) Register(t *Type) error {
	if t == nil {
		return ErrTypeNil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[t.ID()]; ok {
		if existing.Equal(t) {
			return nil
		}
		return fmt.Errorf("%w: id=%d name=%q existing=%q", ErrTypeExists, t.ID(), t.Name(), existing.Name())
	}
	if r.sealed {
		return ErrRegistrySealed
	}
	if existing, ok := r.byName[t.Name()]; ok {
		return fmt.Errorf("%w: name=%q id=%d existing_id=%d", ErrTypeNameExists, t.Name(), t.ID(), existing.ID())
	}
	r.byID[t.ID()] = t
	r.byName[t.Name()] = t
	return nil
}

// MustRegister panics on conflicts; for init-time tables.
func (r *Registry) MustRegister(types ...*Type) *Registry {
	for _, t := range types {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Seal stops further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Lookup(id uint16) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}

func (r *Registry) LookupName(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Types returns the registered types ordered by id.
func (r *Registry) Types() []*Type {
	r.mu.RLock()
	list := make([]*Type, 0, len(r.byID))
	for _, t := range r.byID {
		list = append(list, t)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID() < list[j].ID()
	})
	return list
}

// Len reports the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
