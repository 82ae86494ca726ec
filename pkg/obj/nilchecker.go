// Package obj has reflection helpers for values passed around as interfaces.
package obj

import "reflect"

// IsNil reports whether v is nil, including an interface that holds a nil pointer,
// map, slice, channel or func.
func IsNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
