// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Create compiles CREATE TABLE IF NOT EXISTS. Each entry of columns maps a
// column name to its definition, given as a string or a sequence of words.
// Positional entries are table constraints, written as raw fragments. The
// options are appended after the column list.
func (c *Compiler) Create(table string, columns any, options any) (*Statement, error) {
	cc := c.begin()
	if strings.TrimSpace(table) == "" {
		return nil, errors.Wrap(ErrMissingTable, "cannot create table")
	}
	quoted, err := cc.quoteTable(table)
	if err != nil {
		return nil, err
	}
	var entries D
	if d, ok := asMap(columns); ok {
		entries = d
	} else if list, ok := asList(columns); ok {
		entries = positional(list)
	}
	if len(entries) == 0 {
		return nil, errors.Wrapf(ErrMissingColumns, "cannot create table %q", table)
	}
	var stack []string
	for _, e := range entries {
		if isPositional(e.Key) {
			def, err := cc.definition(e.Value)
			if err != nil {
				return nil, err
			}
			if _, ok := asRaw(e.Value); !ok {
				// Plain constraints may name columns with markers too.
				if def, err = cc.buildRaw(Raw{Template: def}); err != nil {
					return nil, err
				}
			}
			stack = append(stack, def)
			continue
		}
		name, err := cc.quoteColumn(e.Key)
		if err != nil {
			return nil, err
		}
		if strings.Contains(e.Key, ".") {
			return nil, errors.Wrapf(ErrMalformedIdentifier, "cannot create column %q", e.Key)
		}
		def, err := cc.definition(e.Value)
		if err != nil {
			return nil, err
		}
		stack = append(stack, name+" "+def)
	}
	sql := "CREATE TABLE IF NOT EXISTS " + quoted + " (" + strings.Join(stack, ", ") + ")"
	opts, err := tableOptions(options)
	if err != nil {
		return nil, err
	}
	if opts != "" {
		sql += " " + opts
	}
	return cc.statement(sql), nil
}

// definition returns a column definition written as a string, as a
// sequence of words or as a raw fragment.
func (cc *compilation) definition(v any) (string, error) {
	if r, ok := asRaw(v); ok {
		return cc.buildRaw(r)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	if list, ok := asList(v); ok {
		words := make([]string, len(list))
		for i, w := range list {
			s, ok := w.(string)
			if !ok {
				return "", errors.Wrapf(ErrInvalidDescriptor, "cannot use %v in a column definition", w)
			}
			words[i] = s
		}
		return strings.Join(words, " "), nil
	}
	return "", errors.Wrapf(ErrInvalidDescriptor, "cannot use %s as a column definition", describe(v))
}

// tableOptions renders table options given as a string or as a map of
// option to value.
func tableOptions(options any) (string, error) {
	if options == nil {
		return "", nil
	}
	if s, ok := options.(string); ok {
		return s, nil
	}
	d, ok := asMap(options)
	if !ok {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot use %s as table options", describe(options))
	}
	opts := make([]string, len(d))
	for i, e := range d {
		opts[i] = e.Key + " = " + fmt.Sprint(e.Value)
	}
	return strings.Join(opts, ", "), nil
}

// Drop compiles DROP TABLE IF EXISTS.
func (c *Compiler) Drop(table string) (*Statement, error) {
	cc := c.begin()
	quoted, err := cc.quoteTable(table)
	if err != nil {
		return nil, err
	}
	return cc.statement("DROP TABLE IF EXISTS " + quoted), nil
}

// Truncate compiles the statements that empty a table. File based families
// have no TRUNCATE, so the rows are deleted and the autoincrement sequence
// reset instead.
func (c *Compiler) Truncate(table string) ([]*Statement, error) {
	cc := c.begin()
	quoted, err := cc.quoteTable(table)
	if err != nil {
		return nil, err
	}
	if !c.dialect.FileBased() {
		return []*Statement{cc.statement("TRUNCATE TABLE " + quoted)}, nil
	}
	name := c.dialect.Prefix() + table
	if i := strings.IndexByte(table, '.'); i >= 0 {
		name = c.dialect.Prefix() + table[i+1:]
	}
	reset := c.begin()
	return []*Statement{
		cc.statement("DELETE FROM " + quoted),
		reset.statement("UPDATE " + c.dialect.Quote("sqlite_sequence") + " SET " + c.dialect.Quote("seq") + " = 0 WHERE " + c.dialect.Quote("name") + " = '" + strings.ReplaceAll(name, "'", "''") + "'"),
	}, nil
}
