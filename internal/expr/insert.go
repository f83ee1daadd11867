// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"strings"

	"github.com/pkg/errors"
)

// Insert compiles a single or multi-row INSERT. rows is a map or a sequence
// of maps that must all have the same keys. The modifiers LOW_PRIORITY,
// DELAYED, HIGH_PRIORITY, IGNORE and REPLACE adjust the statement verb.
func (c *Compiler) Insert(table string, rows any, modifiers ...string) (*Statement, error) {
	cc := c.begin()
	quoted, err := cc.quoteTable(table)
	if err != nil {
		return nil, err
	}
	data, err := insertRows(rows)
	if err != nil {
		return nil, err
	}
	columns := data[0].Keys()
	quotedColumns := make([]string, len(columns))
	for i, col := range columns {
		if quotedColumns[i], err = cc.quoteColumn(col); err != nil {
			return nil, err
		}
	}

	stack := make([]string, len(data))
	for i, row := range data {
		values := make([]string, len(columns))
		for j, col := range columns {
			v, _ := row.Get(col)
			if r, ok := asRaw(v); ok {
				raw, err := cc.buildRaw(r)
				if err != nil {
					return nil, err
				}
				values[j] = raw
				continue
			}
			key, err := cc.bindValue(v)
			if err != nil {
				return nil, errors.Wrapf(err, "cannot bind value of column %q", col)
			}
			values[j] = key
		}
		stack[i] = "(" + strings.Join(values, ", ") + ")"
	}
	sql := insertVerb(modifiers) + " INTO " + quoted + " (" + strings.Join(quotedColumns, ", ") + ") VALUES " + strings.Join(stack, ", ")
	return cc.statement(sql), nil
}

// insertRows normalises rows and checks that every row has the keys of the
// first.
func insertRows(rows any) ([]D, error) {
	var data []D
	if d, ok := asMap(rows); ok {
		data = []D{d}
	} else if list, ok := asList(rows); ok {
		for _, item := range list {
			d, ok := asMap(item)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidDescriptor, "cannot insert row from %s", describe(item))
			}
			data = append(data, d)
		}
	} else {
		return nil, errors.Wrapf(ErrInvalidDescriptor, "cannot insert rows from %s", describe(rows))
	}
	if len(data) == 0 || len(data[0]) == 0 {
		return nil, errors.Wrap(ErrMissingColumns, "cannot insert empty row")
	}
	first := data[0]
	for i, row := range data[1:] {
		if len(row) != len(first) {
			return nil, errors.Wrapf(ErrInconsistentRowShape, "cannot insert row %d: has %d columns, expected %d", i+1, len(row), len(first))
		}
		for _, col := range first.Keys() {
			if !row.Has(col) {
				return nil, errors.Wrapf(ErrInconsistentRowShape, "cannot insert row %d: missing column %q", i+1, col)
			}
		}
	}
	return data, nil
}

func insertVerb(modifiers []string) string {
	var flags []string
	for _, m := range modifiers {
		flags = append(flags, strings.Fields(strings.ToUpper(m))...)
	}
	has := func(flag string) bool {
		for _, f := range flags {
			if f == flag {
				return true
			}
		}
		return false
	}
	if has(Replace) {
		return "REPLACE"
	}
	verb := []string{"INSERT"}
	for _, priority := range []string{LowPriority, Delayed, HighPriority} {
		if has(priority) {
			verb = append(verb, priority)
			break
		}
	}
	if has(Ignore) {
		verb = append(verb, Ignore)
	}
	return strings.Join(verb, " ")
}
