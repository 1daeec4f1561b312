package canonicalize

import (
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode/utf8"
)

const maxDepth = 256

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// visit identifies a reference-typed value currently on the walk path.
type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

// validate walks v before marshalling so that inputs encoding/json would
// coerce or loop on are rejected with a precise path instead.
func validate(v interface{}) error {
	w := walker{onPath: make(map[visit]bool)}
	return w.walk(reflect.ValueOf(v), "$", 0)
}

type walker struct {
	onPath map[visit]bool
}

// walk visits v. depth counts the containers (maps, slices, arrays and
// structs) enclosing v; pointers and interfaces do not add a level.
func (w *walker) walk(v reflect.Value, path string, depth int) error {
	if !v.IsValid() {
		return nil
	}

	// Custom marshalers own their encoding; their output is still checked
	// when the generic tree is re-emitted.
	if v.Kind() != reflect.Pointer && v.Kind() != reflect.Interface &&
		(v.Type().Implements(jsonMarshalerType) || v.Type().Implements(textMarshalerType)) {
		return nil
	}

	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &SerializationError{Path: path, Reason: fmt.Sprintf("non-finite number %v", f)}
		}

	case reflect.String:
		if !utf8.ValidString(v.String()) {
			return &SerializationError{Path: path, Reason: "invalid UTF-8 string"}
		}

	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return w.walk(v.Elem(), path, depth)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if w.onPath[key] {
			return &SerializationError{Path: path, Reason: "cyclic structure"}
		}
		w.onPath[key] = true
		defer delete(w.onPath, key)
		if v.Type().Implements(jsonMarshalerType) || v.Type().Implements(textMarshalerType) {
			return nil
		}
		return w.walk(v.Elem(), path, depth)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		if err := checkDepth(path, depth); err != nil {
			return err
		}
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if w.onPath[key] {
			return &SerializationError{Path: path, Reason: "cyclic structure"}
		}
		w.onPath[key] = true
		defer delete(w.onPath, key)

		iter := v.MapRange()
		for iter.Next() {
			k := iter.Key()
			if k.Kind() == reflect.String && !utf8.ValidString(k.String()) {
				return &SerializationError{Path: path, Reason: "invalid UTF-8 object key"}
			}
			if err := w.walk(iter.Value(), fmt.Sprintf("%s.%v", path, k), depth+1); err != nil {
				return err
			}
		}

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		// []byte marshals as base64 text.
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		key := visit{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}
		if w.onPath[key] {
			return &SerializationError{Path: path, Reason: "cyclic structure"}
		}
		w.onPath[key] = true
		defer delete(w.onPath, key)
		return w.walkElems(v, path, depth)

	case reflect.Array:
		return w.walkElems(v, path, depth)

	case reflect.Struct:
		if err := checkDepth(path, depth); err != nil {
			return err
		}
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() && !field.Anonymous {
				continue
			}
			name := field.Name
			if tag, ok := field.Tag.Lookup("json"); ok {
				if tag == "-" {
					continue
				}
				if n, _, _ := strings.Cut(tag, ","); n != "" {
					name = n
				}
			}
			if err := w.walk(v.Field(i), path+"."+name, depth+1); err != nil {
				return err
			}
		}

	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return &SerializationError{Path: path, Reason: fmt.Sprintf("unsupported type %s", v.Type())}
	}
	return nil
}

func (w *walker) walkElems(v reflect.Value, path string, depth int) error {
	if err := checkDepth(path, depth); err != nil {
		return err
	}
	for i := 0; i < v.Len(); i++ {
		if err := w.walk(v.Index(i), fmt.Sprintf("%s[%d]", path, i), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// checkDepth rejects a container that would open nesting level maxDepth+1.
func checkDepth(path string, depth int) error {
	if depth >= maxDepth {
		return &SerializationError{Path: path, Reason: fmt.Sprintf("nesting deeper than %d levels", maxDepth)}
	}
	return nil
}
