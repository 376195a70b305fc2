package cache

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// NullToken stands in for an absent parameter so that different filter
// combinations never share a key.
const NullToken = "null"

// Key builds a deterministic cache key from a method name and its parameters.
// Nil pointers, nil interfaces and nil slices render as NullToken; every other
// value is dereferenced and quoted.
func Key(method string, params ...any) string {
	var b strings.Builder
	b.WriteString(method)
	for _, p := range params {
		b.WriteByte(':')
		b.WriteString(token(p))
	}
	return b.String()
}

func token(p any) string {
	if p == nil {
		return NullToken
	}
	v := reflect.ValueOf(p)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return NullToken
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Slice && v.IsNil() {
		return NullToken
	}
	if t, ok := v.Interface().(time.Time); ok {
		return strconv.Quote(t.UTC().Format(time.RFC3339Nano))
	}
	return strconv.Quote(fmt.Sprint(v.Interface()))
}
