// Package inspect turns arbitrary option, attribute and state values into
// a cleaned, depth-limited representation that is safe to put on the wire.
// Cyclic references and values deeper than the limit are replaced by a
// small placeholder, and the path of every replacement is reported so the
// observer can request it later with a path-typed inspectElement.
package inspect

import (
	"fmt"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Placeholder types.
const (
	TypeFunction = "function"
	TypeObject   = "object"
	TypeArray    = "array"
	TypeCircular = "circular"
	TypeChannel  = "channel"
)

// DefaultMaxDepth is the nesting depth kept by New(0).
const DefaultMaxDepth = 6

// Serializer cleans a value for transport. The second result lists the
// paths (from the value root) that were replaced by placeholders.
type Serializer interface {
	Clean(v any) (any, [][]string)
}

// Cleaner is the reflection-based Serializer.
type Cleaner struct {
	maxDepth int
}

// New returns a Cleaner keeping maxDepth levels of nesting. A non-positive
// depth selects DefaultMaxDepth.
func New(maxDepth int) *Cleaner {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Cleaner{maxDepth: maxDepth}
}

// Clean implements Serializer.
func (c *Cleaner) Clean(v any) (any, [][]string) {
	w := &walker{max: c.maxDepth, onPath: make(map[uintptr]bool)}
	out := w.clean(reflect.ValueOf(v), nil, 0)
	return out, w.cleaned
}

type walker struct {
	max     int
	onPath  map[uintptr]bool
	cleaned [][]string
}

func (w *walker) mark(path []string) {
	w.cleaned = append(w.cleaned, append([]string(nil), path...))
}

func (w *walker) clean(v reflect.Value, path []string, depth int) any {
	if !v.IsValid() {
		return nil
	}
	if t, ok := asTime(v); ok {
		return t.Format(time.RFC3339Nano)
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v.Complex())
	case reflect.String:
		return v.String()

	case reflect.Func:
		if v.IsNil() {
			return nil
		}
		w.mark(path)
		return placeholder(TypeFunction, funcName(v), -1)

	case reflect.Chan:
		if v.IsNil() {
			return nil
		}
		w.mark(path)
		return placeholder(TypeChannel, v.Type().String(), v.Len())

	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return w.clean(v.Elem(), path, depth)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if w.onPath[addr] {
			w.mark(path)
			return placeholder(TypeCircular, v.Type().Elem().String(), -1)
		}
		w.onPath[addr] = true
		defer delete(w.onPath, addr)
		return w.clean(v.Elem(), path, depth)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		if depth >= w.max {
			w.mark(path)
			return placeholder(TypeObject, v.Type().String(), v.Len())
		}
		addr := v.Pointer()
		if w.onPath[addr] {
			w.mark(path)
			return placeholder(TypeCircular, v.Type().String(), v.Len())
		}
		w.onPath[addr] = true
		defer delete(w.onPath, addr)

		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			out[key] = w.clean(iter.Value(), append(path, key), depth+1)
		}
		return out

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil
		}
		if depth >= w.max {
			w.mark(path)
			return placeholder(TypeArray, v.Type().String(), v.Len())
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = w.clean(v.Index(i), append(path, strconv.Itoa(i)), depth+1)
		}
		return out

	case reflect.Struct:
		if depth >= w.max {
			w.mark(path)
			return placeholder(TypeObject, v.Type().String(), v.NumField())
		}
		t := v.Type()
		out := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name, ok := fieldName(f)
			if !ok {
				continue
			}
			out[name] = w.clean(v.Field(i), append(path, name), depth+1)
		}
		return out

	default:
		w.mark(path)
		return placeholder(TypeObject, v.Type().String(), -1)
	}
}

func placeholder(typ, name string, size int) map[string]any {
	p := map[string]any{"type": typ, "name": name}
	if size >= 0 {
		p["size"] = size
	}
	return p
}

func asTime(v reflect.Value) (time.Time, bool) {
	if v.Kind() == reflect.Struct && v.Type() == reflect.TypeOf(time.Time{}) {
		return v.Interface().(time.Time), true
	}
	return time.Time{}, false
}

func funcName(v reflect.Value) string {
	if fn := runtime.FuncForPC(v.Pointer()); fn != nil {
		return fn.Name()
	}
	return v.Type().String()
}

// fieldName returns the exported name of a struct field, honouring a json
// tag. Unexported and "-" fields are skipped.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, true
	}
	return f.Name, true
}
