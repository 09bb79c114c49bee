// Package sizeof approximates the in-memory footprint of decoded row data.
//
// The result feeds the partition planner's byte budget, so it only needs to
// be a stable approximation, not an exact accounting.
package sizeof

import (
	"reflect"
	"unsafe"
)

// Of returns the approximate number of bytes held by v, recursing into maps,
// slices, pointers, and interfaces. Shared substructures are counted once:
// identity tracking guards against double-counting and against reference
// cycles in caller-constructed values.
func Of(v any) int {
	seen := make(map[uintptr]struct{})
	return valueSize(reflect.ValueOf(v), seen)
}

func valueSize(v reflect.Value, seen map[uintptr]struct{}) int {
	if !v.IsValid() {
		return 0
	}

	switch v.Kind() {
	case reflect.String:
		return int(unsafe.Sizeof("")) + v.Len()

	case reflect.Slice:
		if v.IsNil() {
			return int(unsafe.Sizeof([]any(nil)))
		}
		if !mark(v.Pointer(), seen) {
			return int(unsafe.Sizeof([]any(nil)))
		}
		n := int(unsafe.Sizeof([]any(nil)))
		for i := 0; i < v.Len(); i++ {
			n += valueSize(v.Index(i), seen)
		}
		return n

	case reflect.Map:
		if v.IsNil() {
			return int(unsafe.Sizeof(map[string]any(nil)))
		}
		if !mark(v.Pointer(), seen) {
			return int(unsafe.Sizeof(map[string]any(nil)))
		}
		n := int(unsafe.Sizeof(map[string]any(nil)))
		iter := v.MapRange()
		for iter.Next() {
			n += valueSize(iter.Key(), seen)
			n += valueSize(iter.Value(), seen)
		}
		return n

	case reflect.Pointer:
		if v.IsNil() {
			return int(unsafe.Sizeof(uintptr(0)))
		}
		if !mark(v.Pointer(), seen) {
			return int(unsafe.Sizeof(uintptr(0)))
		}
		return int(unsafe.Sizeof(uintptr(0))) + valueSize(v.Elem(), seen)

	case reflect.Interface:
		if v.IsNil() {
			return int(unsafe.Sizeof(any(nil)))
		}
		return int(unsafe.Sizeof(any(nil))) + valueSize(v.Elem(), seen)

	case reflect.Struct:
		n := 0
		for i := 0; i < v.NumField(); i++ {
			n += valueSize(v.Field(i), seen)
		}
		return n

	case reflect.Array:
		n := 0
		for i := 0; i < v.Len(); i++ {
			n += valueSize(v.Index(i), seen)
		}
		return n

	default:
		return int(v.Type().Size())
	}
}

// mark records p in seen, reporting false when it was already present.
func mark(p uintptr, seen map[uintptr]struct{}) bool {
	if _, ok := seen[p]; ok {
		return false
	}
	seen[p] = struct{}{}
	return true
}
