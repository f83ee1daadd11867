// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/canonical/querymap/internal/dialect"
)

// SelectFormat normalises a select descriptor. A bare string names the
// table. TABLE is accepted for FROM and COLUMNS for SELECT; the column list
// defaults to "*".
func SelectFormat(desc any) (D, error) {
	if s, ok := desc.(string); ok {
		return D{{Key: KeyFrom, Value: s}, {Key: KeySelect, Value: "*"}}, nil
	}
	d, ok := asMap(desc)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidDescriptor, "cannot compile select from %s", describe(desc))
	}
	if !d.Has(KeyFrom) {
		table, ok := d.Get(KeyTable)
		if !ok {
			return nil, errors.Wrap(ErrMissingTable, "cannot compile select")
		}
		d = d.Without(KeyTable).Set(KeyFrom, table)
	}
	if !d.Has(KeySelect) {
		columns, ok := d.Get(KeyColumns)
		if !ok {
			columns = "*"
		}
		d = d.Without(KeyColumns).Set(KeySelect, columns)
	}
	return d, nil
}

// Select compiles a SELECT statement.
func (c *Compiler) Select(desc any) (*Statement, error) {
	d, err := SelectFormat(desc)
	if err != nil {
		return nil, err
	}
	cc := c.begin()
	sql, err := cc.selectSQL(d)
	if err != nil {
		return nil, err
	}
	return cc.statement(sql), nil
}

// Has compiles a statement returning whether any row matches.
func (c *Compiler) Has(desc any) (*Statement, error) {
	d, err := SelectFormat(desc)
	if err != nil {
		return nil, err
	}
	d = d.Without(KeySelect).Set(KeySelect, "*").Set(KeyFun, 1)
	cc := c.begin()
	sql, err := cc.selectSQL(d)
	if err != nil {
		return nil, err
	}
	return cc.statement("SELECT EXISTS(" + sql + ")"), nil
}

// Rand returns desc with rows ordered randomly. Any existing ORDER is
// replaced.
func (c *Compiler) Rand(desc any) (D, error) {
	d, err := SelectFormat(desc)
	if err != nil {
		return nil, err
	}
	return d.Set(KeyOrder, NewRaw(c.dialect.RandomFunc(), nil)), nil
}

var aggregates = map[string]bool{
	"COUNT": true,
	"MAX":   true,
	"MIN":   true,
	"AVG":   true,
	"SUM":   true,
}

// Aggregate compiles a SELECT returning fn applied to the selected column.
// COUNT defaults to COUNT(*).
func (c *Compiler) Aggregate(fn string, desc any) (*Statement, error) {
	fn = strings.ToUpper(fn)
	if !aggregates[fn] {
		return nil, errors.Wrapf(ErrInvalidDescriptor, "cannot compile unknown aggregate %q", fn)
	}
	d, err := SelectFormat(desc)
	if err != nil {
		return nil, err
	}
	return c.Select(d.Set(KeyFun, fn))
}

var tableAlias = regexp.MustCompile(`^\s*(\w+(?:\.\w+)?)\s*\((\w+)\)\s*$`)

func (cc *compilation) selectSQL(d D) (string, error) {
	from, _ := d.Get(KeyFrom)
	name, ok := from.(string)
	if !ok || strings.TrimSpace(name) == "" {
		return "", errors.Wrap(ErrMissingTable, "cannot compile select")
	}
	var table, tableQuery string
	if m := tableAlias.FindStringSubmatch(name); m != nil {
		base, err := cc.quoteTable(m[1])
		if err != nil {
			return "", err
		}
		alias, err := cc.quoteTable(m[2])
		if err != nil {
			return "", err
		}
		table = alias
		tableQuery = base + " AS " + alias
	} else {
		quoted, err := cc.quoteTable(strings.TrimSpace(name))
		if err != nil {
			return "", err
		}
		table = quoted
		tableQuery = quoted
	}

	columns, _ := d.Get(KeySelect)
	join, hasJoin := d.Get(KeyJoin)
	isJoin := hasJoin && isJoinMap(join)
	if hasJoin && join != nil && !isJoin {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile join from %s", describe(join))
	}
	if isJoin {
		spec, _ := asMap(join)
		clause, err := cc.buildJoin(table, spec)
		if err != nil {
			return "", err
		}
		tableQuery += " " + clause
	}

	column, err := cc.selectColumns(d, columns, isJoin)
	if err != nil {
		return "", err
	}
	suffix, err := cc.suffixClause(d)
	if err != nil {
		return "", err
	}
	return "SELECT " + column + " FROM " + tableQuery + suffix, nil
}

// selectColumns compiles the select list, wrapping it in the aggregate
// named by FUN.
func (cc *compilation) selectColumns(d D, columns any, isJoin bool) (string, error) {
	fun, ok := d.Get(KeyFun)
	if !ok || fun == nil {
		return cc.columnPush(columns, isJoin)
	}
	if r, ok := asRaw(fun); ok {
		return cc.buildRaw(r)
	}
	switch fun := fun.(type) {
	case int:
		if fun == 1 {
			return "1", nil
		}
	case string:
		if fun == "1" {
			return "1", nil
		}
		if !aggregates[strings.ToUpper(fun)] && !dialect.IsIdentifier(fun) {
			return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile function %q", fun)
		}
		if strings.EqualFold(fun, "COUNT") {
			if s, ok := columns.(string); ok && s == "*" {
				return "COUNT(*)", nil
			}
		}
		column, err := cc.columnPush(columns, isJoin)
		if err != nil {
			return "", err
		}
		return strings.ToUpper(fun) + "(" + column + ")", nil
	}
	return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile function %v", fun)
}
