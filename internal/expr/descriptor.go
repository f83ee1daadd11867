// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strconv"

	structs "github.com/canonical/querymap/internal/reflect"
)

// Clause names understood in a query descriptor.
const (
	KeyFrom    = "FROM"
	KeyTable   = "TABLE"
	KeySelect  = "SELECT"
	KeyColumns = "COLUMNS"
	KeyJoin    = "JOIN"
	KeyWhere   = "WHERE"
	KeyMatch   = "MATCH"
	KeyGroup   = "GROUP"
	KeyHaving  = "HAVING"
	KeyOrder   = "ORDER"
	KeyLimit   = "LIMIT"
	KeySet     = "SET"
	KeyValues  = "VALUES"
	KeyFun     = "FUN"
	KeyOptions = "OPTIONS"
)

// Relationships that introduce a nested condition group.
const (
	And = "AND"
	Or  = "OR"
)

// Insert modifiers.
const (
	LowPriority  = "LOW_PRIORITY"
	Delayed      = "DELAYED"
	HighPriority = "HIGH_PRIORITY"
	Ignore       = "IGNORE"
	Replace      = "REPLACE"
)

// M is an unordered descriptor or condition map. Its keys are visited in
// sorted order so compiled SQL is deterministic.
type M map[string]any

// E is a single element of a D.
type E struct {
	Key   string
	Value any
}

// D is an ordered descriptor or condition map.
type D []E

// S is a sequence of values.
type S []any

// Get returns the value stored under key.
func (d D) Get(key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Has reports whether key is present in d.
func (d D) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Set returns a copy of d with key set to value. An existing key keeps its
// position.
func (d D) Set(key string, value any) D {
	out := make(D, 0, len(d)+1)
	found := false
	for _, e := range d {
		if e.Key == key {
			e.Value = value
			found = true
		}
		out = append(out, e)
	}
	if !found {
		out = append(out, E{Key: key, Value: value})
	}
	return out
}

// Without returns a copy of d without the given keys.
func (d D) Without(keys ...string) D {
	out := make(D, 0, len(d))
loop:
	for _, e := range d {
		for _, k := range keys {
			if e.Key == k {
				continue loop
			}
		}
		out = append(out, e)
	}
	return out
}

// Keys returns the keys of d in order.
func (d D) Keys() []string {
	keys := make([]string, len(d))
	for i, e := range d {
		keys[i] = e.Key
	}
	return keys
}

// Raw is an opaque SQL fragment. Its template may contain <name> and
// <table.name> identifier markers which are quoted for the active dialect,
// and :name placeholders bound to the values in Params.
type Raw struct {
	Template string
	Params   M
}

// NewRaw returns a Raw fragment. Parameter names may be written with or
// without the leading colon.
func NewRaw(template string, params M) Raw {
	return Raw{Template: template, Params: params}
}

// asMap returns v as an ordered map if it is one.
func asMap(v any) (D, bool) {
	switch v := v.(type) {
	case D:
		return v, true
	case M:
		return sortedD(v), true
	case map[string]any:
		return sortedD(v), true
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return sortedD(m), true
	}
	return structD(v)
}

// mappedStruct reports whether t, or the type t points to, is a struct
// with "db" field tags.
func mappedStruct(t reflect.Type) bool {
	if !structs.Mappable(t) {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	_, err := structs.Cache().Reflect(reflect.Zero(t).Interface())
	return err == nil
}

// structD maps a struct with "db" tags to a map in field order.
func structD(v any) (D, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() == reflect.Pointer && rv.IsNil()) || !mappedStruct(rv.Type()) {
		return nil, false
	}
	info, err := structs.Cache().Reflect(v)
	if err != nil {
		return nil, false
	}
	columns, values := info.Columns(rv)
	d := make(D, len(columns))
	for i, col := range columns {
		d[i] = E{Key: col, Value: values[i]}
	}
	return d, true
}

func sortedD(m map[string]any) D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := make(D, len(keys))
	for i, k := range keys {
		d[i] = E{Key: k, Value: m[k]}
	}
	return d
}

// asList returns v as a sequence if it is one.
func asList(v any) ([]any, bool) {
	switch v := v.(type) {
	case S:
		return v, true
	case []any:
		return v, true
	case []string:
		return listOf(v), true
	case []int:
		return listOf(v), true
	case []int64:
		return listOf(v), true
	case []float64:
		return listOf(v), true
	case []M:
		return listOf(v), true
	case []D:
		return listOf(v), true
	case []map[string]any:
		return listOf(v), true
	case D, []E:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && mappedStruct(rv.Type().Elem()) {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}

func listOf[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// asRaw returns v as a Raw fragment if it is one.
func asRaw(v any) (Raw, bool) {
	switch v := v.(type) {
	case Raw:
		return v, true
	case *Raw:
		if v != nil {
			return *v, true
		}
	}
	return Raw{}, false
}

// isPositional reports whether a map key stands for an integer index.
func isPositional(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return false
		}
	}
	return true
}

// denseSequence reports whether the keys of d are exactly "0".."n-1" in
// order, in which case d is a sequence rather than a field-keyed map.
func denseSequence(d D) bool {
	if len(d) == 0 {
		return false
	}
	for i, e := range d {
		if e.Key != strconv.Itoa(i) {
			return false
		}
	}
	return true
}

// positional converts a sequence into a map with integer keys.
func positional(list []any) D {
	d := make(D, len(list))
	for i, v := range list {
		d[i] = E{Key: strconv.Itoa(i), Value: v}
	}
	return d
}

// values returns the values of d in order.
func (d D) values() []any {
	out := make([]any, len(d))
	for i, e := range d {
		out[i] = e.Value
	}
	return out
}

// MarshalJSON encodes d as a JSON object with its keys in order.
func (d D) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
