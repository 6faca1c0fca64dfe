package codec

import (
	"github.com/danmuck/binlink/internal/protocol/entity"
	"github.com/danmuck/binlink/internal/protocol/schema"
)

// Limits bound what a decoder allocates for one object graph.
type Limits struct {
	MaxBinaryLen uint64
	MaxStringLen uint64
	MaxArrayLen  uint64
	MaxDepth     int
}

func DefaultLimits() Limits {
	return Limits{
		MaxBinaryLen: 64 << 20,
		MaxStringLen: 16 << 20,
		MaxArrayLen:  1 << 20,
		MaxDepth:     64,
	}
}

// Options carries the shared, read-only tables a codec consults.
type Options struct {
	// Registry holds locally known types. Decoded descriptors equal to a registered type
	// resolve to the registered pointer.
	Registry *schema.Registry
	// Factory builds decoded entities; nil means generic entities.
	Factory *entity.Factory
	Limits  Limits
}

func (o Options) withDefaults() Options {
	def := DefaultLimits()
	if o.Limits.MaxBinaryLen == 0 {
		o.Limits.MaxBinaryLen = def.MaxBinaryLen
	}
	if o.Limits.MaxStringLen == 0 {
		o.Limits.MaxStringLen = def.MaxStringLen
	}
	if o.Limits.MaxArrayLen == 0 {
		o.Limits.MaxArrayLen = def.MaxArrayLen
	}
	if o.Limits.MaxDepth == 0 {
		o.Limits.MaxDepth = def.MaxDepth
	}
	return o
}
