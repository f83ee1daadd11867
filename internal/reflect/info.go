// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package reflect maps struct types to table columns through their "db"
// field tags.
package reflect

import (
	"reflect"
)

// Field represents a single tagged field of a struct type.
type Field struct {
	// Column is the column name from the field's "db" tag.
	Column string

	// Name is the name of the struct field.
	Name string

	// OmitEmpty is true when "omitempty" is a property of the field's "db"
	// tag.
	OmitEmpty bool

	index []int
}

// Struct represents reflected information about a struct type.
type Struct struct {
	typ reflect.Type

	// Fields are the tagged fields in declaration order.
	Fields []Field

	byColumn map[string]int
}

// Name returns the name of the struct type.
func (s *Struct) Name() string {
	return s.typ.Name()
}

// Field returns the field mapped to column.
func (s *Struct) Field(column string) (Field, bool) {
	i, ok := s.byColumn[column]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Columns returns the columns and values of v, which must be of the
// struct's type. Zero valued omitempty fields are left out.
func (s *Struct) Columns(v reflect.Value) ([]string, []any) {
	v = reflect.Indirect(v)
	columns := make([]string, 0, len(s.Fields))
	values := make([]any, 0, len(s.Fields))
	for _, f := range s.Fields {
		fv := v.FieldByIndex(f.index)
		if f.OmitEmpty && fv.IsZero() {
			continue
		}
		columns = append(columns, f.Column)
		values = append(values, fv.Interface())
	}
	return columns, values
}

// Targets returns one scan destination per column, pointing into the
// struct v points to. Columns without a field are scanned and discarded.
func (s *Struct) Targets(v reflect.Value, columns []string) []any {
	v = reflect.Indirect(v)
	targets := make([]any, len(columns))
	for i, col := range columns {
		f, ok := s.Field(col)
		if !ok {
			targets[i] = new(any)
			continue
		}
		targets[i] = v.FieldByIndex(f.index).Addr().Interface()
	}
	return targets
}
