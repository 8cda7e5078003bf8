package codeix

import (
	"reflect"
	"unsafe"
)

// Both directions: the header must be exactly CodeHeaderBytes so the
// header/code offset arithmetic stays symmetric.
var _ [CodeHeaderBytes - int(unsafe.Sizeof(CodeHeader{}))]byte
var _ [int(unsafe.Sizeof(CodeHeader{})) - CodeHeaderBytes]byte

// The header also has to stay a whole number of instruction words.
var _ [0 - CodeHeaderBytes%instrBytes]byte

func hasForbiddenPointerKinds(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan, reflect.String:
		return true
	case reflect.Array:
		return hasForbiddenPointerKinds(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasForbiddenPointerKinds(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}
