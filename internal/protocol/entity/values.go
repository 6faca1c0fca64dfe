package entity

import (
	"bytes"
	"fmt"
	"time"

	"github.com/danmuck/binlink/internal/protocol"
	"github.com/danmuck/binlink/internal/protocol/schema"
)

// Go representation of each tag kind:
//
//	Int16 int16      Int32 int32          Int64 int64
//	Decimal schema.Decimal                Bool bool
//	Guid schema.Guid                      DateTime time.Time
//	String string    ByteArray []byte     Object *Entity
//
// Array tags hold a slice of the scalar. A nil value is a null.

// CheckValue reports whether v is the Go representation of tag.
func CheckValue(tag schema.Tag, v any) error {
	if v == nil {
		return nil
	}
	ok := false
	if tag.IsArray() {
		switch tag.Kind() {
		case schema.KindInt16:
			_, ok = v.([]int16)
		case schema.KindInt32:
			_, ok = v.([]int32)
		case schema.KindInt64:
			_, ok = v.([]int64)
		case schema.KindDecimal:
			_, ok = v.([]schema.Decimal)
		case schema.KindBool:
			_, ok = v.([]bool)
		case schema.KindGuid:
			_, ok = v.([]schema.Guid)
		case schema.KindDateTime:
			var list []time.Time
			list, ok = v.([]time.Time)
			for _, t := range list {
				if err := schema.CheckTime(t); err != nil {
					return err
				}
			}
		case schema.KindString:
			_, ok = v.([]string)
		case schema.KindObject:
			var list []*Entity
			list, ok = v.([]*Entity)
			for _, e := range list {
				if e == nil {
					return fmt.Errorf("%w: entity: null element in %s", protocol.ErrUnsupportedValue, tag)
				}
			}
		}
	} else {
		switch tag.Kind() {
		case schema.KindInt16:
			_, ok = v.(int16)
		case schema.KindInt32:
			_, ok = v.(int32)
		case schema.KindInt64:
			_, ok = v.(int64)
		case schema.KindDecimal:
			_, ok = v.(schema.Decimal)
		case schema.KindBool:
			_, ok = v.(bool)
		case schema.KindGuid:
			_, ok = v.(schema.Guid)
		case schema.KindDateTime:
			var t time.Time
			if t, ok = v.(time.Time); ok {
				if err := schema.CheckTime(t); err != nil {
					return err
				}
			}
		case schema.KindString:
			_, ok = v.(string)
		case schema.KindBytes:
			_, ok = v.([]byte)
		case schema.KindObject:
			_, ok = v.(*Entity)
		}
	}
	if !ok {
		return fmt.Errorf("%w: entity: %T is not a %s value", protocol.ErrUnsupportedValue, v, tag)
	}
	return nil
}

// normalize folds typed nils into plain nil so null checks stay simple.
func normalize(v any) any {
	switch x := v.(type) {
	case *Entity:
		if x == nil {
			return nil
		}
	case []byte:
		if x == nil {
			return nil
		}
	}
	return v
}

// ValueEqual compares two field values. Timestamps compare by instant, entities by content.
func ValueEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case *Entity:
		y, ok := b.(*Entity)
		return ok && x.Equal(y)
	case []time.Time:
		y, ok := b.([]time.Time)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !x[i].Equal(y[i]) {
				return false
			}
		}
		return true
	case []*Entity:
		y, ok := b.([]*Entity)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !x[i].Equal(y[i]) {
				return false
			}
		}
		return true
	case []int16:
		return sliceEqual(x, b)
	case []int32:
		return sliceEqual(x, b)
	case []int64:
		return sliceEqual(x, b)
	case []schema.Decimal:
		return sliceEqual(x, b)
	case []bool:
		return sliceEqual(x, b)
	case []schema.Guid:
		return sliceEqual(x, b)
	case []string:
		return sliceEqual(x, b)
	default:
		return a == b
	}
}

func sliceEqual[T comparable](x []T, other any) bool {
	y, ok := other.([]T)
	if !ok || len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
