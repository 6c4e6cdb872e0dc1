package inspect

import (
	"fmt"
	"reflect"
	"strconv"
)

// GetIn resolves path inside the raw (uncleaned) value v. Map keys are
// matched on their printed form, slice elements by decimal index and
// struct fields by their exported or json name.
func GetIn(v any, path []string) (any, bool) {
	cur := reflect.ValueOf(v)
	for _, step := range path {
		cur = indirect(cur)
		if !cur.IsValid() {
			return nil, false
		}
		switch cur.Kind() {
		case reflect.Map:
			next, ok := mapLookup(cur, step)
			if !ok {
				return nil, false
			}
			cur = next
		case reflect.Slice, reflect.Array:
			i, err := strconv.Atoi(step)
			if err != nil || i < 0 || i >= cur.Len() {
				return nil, false
			}
			cur = cur.Index(i)
		case reflect.Struct:
			next, ok := structLookup(cur, step)
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	if !cur.IsValid() {
		return nil, true
	}
	return cur.Interface(), true
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func mapLookup(m reflect.Value, key string) (reflect.Value, bool) {
	if m.Type().Key().Kind() == reflect.String {
		val := m.MapIndex(reflect.ValueOf(key).Convert(m.Type().Key()))
		return val, val.IsValid()
	}
	iter := m.MapRange()
	for iter.Next() {
		if fmt.Sprint(iter.Key().Interface()) == key {
			return iter.Value(), true
		}
	}
	return reflect.Value{}, false
}

func structLookup(s reflect.Value, name string) (reflect.Value, bool) {
	t := s.Type()
	for i := 0; i < t.NumField(); i++ {
		if n, ok := fieldName(t.Field(i)); ok && n == name {
			return s.Field(i), true
		}
	}
	return reflect.Value{}, false
}
