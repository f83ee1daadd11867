// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"github.com/pkg/errors"
)

// Kind names a statement kind that can be compiled from a single
// descriptor.
type Kind string

const (
	KindSelect   Kind = "select"
	KindHas      Kind = "has"
	KindRand     Kind = "rand"
	KindCount    Kind = "count"
	KindMax      Kind = "max"
	KindMin      Kind = "min"
	KindAvg      Kind = "avg"
	KindSum      Kind = "sum"
	KindInsert   Kind = "insert"
	KindUpdate   Kind = "update"
	KindDelete   Kind = "delete"
	KindReplace  Kind = "replace"
	KindCreate   Kind = "create"
	KindDrop     Kind = "drop"
	KindTruncate Kind = "truncate"
	KindQuery    Kind = "query"
)

// Kinds lists every kind accepted by Compile.
var Kinds = []Kind{
	KindSelect, KindHas, KindRand, KindCount, KindMax, KindMin, KindAvg, KindSum,
	KindInsert, KindUpdate, KindDelete, KindReplace,
	KindCreate, KindDrop, KindTruncate, KindQuery,
}

// KeyModifiers holds the insert modifiers in a descriptor.
const KeyModifiers = "MODIFIERS"

// structuralKeys are never part of the conditions of a descriptor.
var structuralKeys = []string{KeyTable, KeyFrom, KeySet, KeyValues, KeyColumns, KeyOptions, KeyModifiers}

// Compile compiles a statement of the given kind from a single descriptor.
// The table is read from TABLE (or FROM). Insert rows come from VALUES,
// update assignments from SET and replacements, new columns and table
// options from COLUMNS and OPTIONS. Remaining keys of update, delete and
// replace descriptors are their conditions.
func (c *Compiler) Compile(kind Kind, desc any) ([]*Statement, error) {
	one := func(stmt *Statement, err error) ([]*Statement, error) {
		if err != nil || stmt == nil {
			return nil, err
		}
		return []*Statement{stmt}, nil
	}
	switch kind {
	case KindSelect:
		return one(c.Select(desc))
	case KindHas:
		return one(c.Has(desc))
	case KindRand:
		d, err := c.Rand(desc)
		if err != nil {
			return nil, err
		}
		return one(c.Select(d))
	case KindCount, KindMax, KindMin, KindAvg, KindSum:
		return one(c.Aggregate(string(kind), desc))
	case KindQuery:
		switch v := desc.(type) {
		case string:
			return one(c.Query(NewRaw(v, nil)))
		default:
			r, ok := asRaw(desc)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidDescriptor, "cannot compile query from %s", describe(desc))
			}
			return one(c.Query(r))
		}
	}

	table, d, err := tableOf(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot compile %s", kind)
	}
	where := conditionsOf(d)
	switch kind {
	case KindInsert:
		rows, _ := d.Get(KeyValues)
		return one(c.Insert(table, rows, modifiersOf(d)...))
	case KindUpdate:
		set, _ := d.Get(KeySet)
		return one(c.Update(table, set, where))
	case KindDelete:
		return one(c.Delete(table, where))
	case KindReplace:
		columns, _ := d.Get(KeyColumns)
		return one(c.Replace(table, columns, where))
	case KindCreate:
		columns, _ := d.Get(KeyColumns)
		options, _ := d.Get(KeyOptions)
		return one(c.Create(table, columns, options))
	case KindDrop:
		return one(c.Drop(table))
	case KindTruncate:
		return c.Truncate(table)
	}
	return nil, errors.Errorf("cannot compile unknown statement kind %q", kind)
}

func tableOf(desc any) (string, D, error) {
	if s, ok := desc.(string); ok {
		return s, D{}, nil
	}
	d, ok := asMap(desc)
	if !ok {
		return "", nil, errors.Wrapf(ErrInvalidDescriptor, "descriptor is %s", describe(desc))
	}
	for _, key := range []string{KeyTable, KeyFrom} {
		if v, ok := d.Get(key); ok {
			if s, ok := v.(string); ok && s != "" {
				return s, d, nil
			}
		}
	}
	return "", nil, ErrMissingTable
}

// conditionsOf returns the where argument held by a descriptor, or nil if
// it has none.
func conditionsOf(d D) any {
	rest := d.Without(structuralKeys...)
	if len(rest) == 0 {
		return nil
	}
	return rest
}

func modifiersOf(d D) []string {
	v, ok := d.Get(KeyModifiers)
	if !ok {
		return nil
	}
	if s, ok := v.(string); ok {
		return []string{s}
	}
	list, _ := asList(v)
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
