// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var updateKey = regexp.MustCompile(`^\s*(\w+(?:\.\w+)?)\s*(?:\[([+\-*/])\])?\s*$`)

// Update compiles an UPDATE. A key of the form col[+], col[-], col[*] or
// col[/] applies the arithmetic to the current value; non-numeric operands
// are skipped. Raw values are assigned as SQL.
func (c *Compiler) Update(table string, data any, where any) (*Statement, error) {
	cc := c.begin()
	quoted, err := cc.quoteTable(table)
	if err != nil {
		return nil, err
	}
	d, ok := asMap(data)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidDescriptor, "cannot update from %s", describe(data))
	}
	var fields []string
	for _, e := range d {
		m := updateKey.FindStringSubmatch(e.Key)
		if m == nil {
			return nil, errors.Wrapf(ErrInvalidDescriptor, "cannot update %q", e.Key)
		}
		column, err := cc.quoteColumn(m[1])
		if err != nil {
			return nil, err
		}
		if r, ok := asRaw(e.Value); ok {
			raw, err := cc.buildRaw(r)
			if err != nil {
				return nil, err
			}
			fields = append(fields, column+" = "+raw)
			continue
		}
		if op := m[2]; op != "" {
			if isNumeric(e.Value) {
				fields = append(fields, column+" = "+column+" "+op+" "+numericLiteral(e.Value))
			}
			continue
		}
		key, err := cc.bindValue(e.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot bind value of column %q", m[1])
		}
		fields = append(fields, column+" = "+key)
	}
	if len(fields) == 0 {
		return nil, errors.Wrap(ErrMissingColumns, "cannot update without columns")
	}
	clause, err := cc.whereClause(where)
	if err != nil {
		return nil, err
	}
	return cc.statement("UPDATE " + quoted + " SET " + strings.Join(fields, ", ") + clause), nil
}

// Delete compiles a DELETE.
func (c *Compiler) Delete(table string, where any) (*Statement, error) {
	cc := c.begin()
	quoted, err := cc.quoteTable(table)
	if err != nil {
		return nil, err
	}
	clause, err := cc.whereClause(where)
	if err != nil {
		return nil, err
	}
	return cc.statement("DELETE FROM " + quoted + clause), nil
}

// Replace compiles an UPDATE that substitutes text in columns. columns maps
// each column to a map of old to new text. It returns a nil statement when
// there is nothing to replace.
func (c *Compiler) Replace(table string, columns any, where any) (*Statement, error) {
	cc := c.begin()
	quoted, err := cc.quoteTable(table)
	if err != nil {
		return nil, err
	}
	d, ok := asMap(columns)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidDescriptor, "cannot replace from %s", describe(columns))
	}
	var stack []string
	for _, e := range d {
		column, err := cc.quoteColumn(e.Key)
		if err != nil {
			return nil, err
		}
		pairs, ok := asMap(e.Value)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidDescriptor, "cannot replace in %q from %s", e.Key, describe(e.Value))
		}
		for _, pair := range pairs {
			key := cc.mapKey()
			cc.params.set(key+"a", pair.Key, TypeString)
			if err := cc.bindString(key+"b", pair.Value); err != nil {
				return nil, err
			}
			stack = append(stack, column+" = REPLACE("+column+", "+key+"a, "+key+"b)")
		}
	}
	if len(stack) == 0 {
		return nil, nil
	}
	clause, err := cc.whereClause(where)
	if err != nil {
		return nil, err
	}
	return cc.statement("UPDATE " + quoted + " SET " + strings.Join(stack, ", ") + clause), nil
}
