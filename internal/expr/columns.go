// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// columnPush compiles a column list. Columns may be written "name (alias)".
// A map entry name => alias aliases a column and name => Raw aliases an
// expression. Wildcards are rejected when the query joins other tables.
func (cc *compilation) columnPush(columns any, isJoin bool) (string, error) {
	if s, ok := columns.(string); ok && s == "*" {
		return "*", nil
	}
	stack, err := cc.columnList(columns, isJoin)
	if err != nil {
		return "", err
	}
	if len(stack) == 0 {
		return "", errors.Wrapf(ErrMissingColumns, "cannot compile empty column list")
	}
	return strings.Join(stack, ","), nil
}

func (cc *compilation) columnList(columns any, isJoin bool) ([]string, error) {
	var entries D
	switch {
	case kindOf(columns) == kindMap:
		entries, _ = asMap(columns)
	case kindOf(columns) == kindList:
		list, _ := asList(columns)
		entries = positional(list)
	default:
		entries = D{{Key: "0", Value: columns}}
	}
	var stack []string
	for _, e := range entries {
		if _, ok := asList(e.Value); ok {
			nested, err := cc.columnList(e.Value, isJoin)
			if err != nil {
				return nil, err
			}
			stack = append(stack, nested...)
			continue
		}
		if r, ok := asRaw(e.Value); ok {
			raw, err := cc.buildRaw(r)
			if err != nil {
				return nil, err
			}
			if isPositional(e.Key) {
				stack = append(stack, raw)
				continue
			}
			alias, err := cc.quoteColumn(e.Key)
			if err != nil {
				return nil, err
			}
			stack = append(stack, raw+" AS "+alias)
			continue
		}
		s, ok := e.Value.(string)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidDescriptor, "cannot compile column %v", e.Value)
		}
		if isPositional(e.Key) {
			column, err := cc.column(s, isJoin)
			if err != nil {
				return nil, err
			}
			stack = append(stack, column)
			continue
		}
		column, err := cc.column(e.Key, isJoin)
		if err != nil {
			return nil, err
		}
		alias, err := cc.quoteColumn(s)
		if err != nil {
			return nil, err
		}
		stack = append(stack, column+" AS "+alias)
	}
	return stack, nil
}

var columnAlias = regexp.MustCompile(`^\s*([\w.*]+)\s*\((\w+)\)\s*$`)

// column quotes a single column, which may carry an alias in parentheses.
func (cc *compilation) column(s string, isJoin bool) (string, error) {
	if isJoin && strings.Contains(s, "*") {
		return "", errors.Wrapf(ErrAmbiguousWildcard, "cannot select %q from joined tables", s)
	}
	if m := columnAlias.FindStringSubmatch(s); m != nil {
		column, err := cc.quoteColumn(m[1])
		if err != nil {
			return "", err
		}
		alias, err := cc.quoteColumn(m[2])
		if err != nil {
			return "", err
		}
		return column + " AS " + alias, nil
	}
	return cc.quoteColumn(strings.TrimSpace(s))
}

var joinKey = regexp.MustCompile(`^\[(>|<|<>|><)\]\s*(\w+(?:\.\w+)?)\s*(?:\((\w+)\))?$`)

var joinTypes = map[string]string{
	">":  "LEFT",
	"<":  "RIGHT",
	"<>": "FULL",
	"><": "INNER",
}

// isJoinMap reports whether v is a join description, a map whose first key
// is a bracketed join type.
func isJoinMap(v any) bool {
	d, ok := asMap(v)
	return ok && len(d) > 0 && strings.HasPrefix(d[0].Key, "[")
}

// buildJoin compiles the JOIN clauses of a select. table is the quoted base
// table.
func (cc *compilation) buildJoin(table string, join D) (string, error) {
	var clauses []string
	for _, e := range join {
		m := joinKey.FindStringSubmatch(e.Key)
		if m == nil {
			return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile join %q", e.Key)
		}
		joined, err := cc.quoteTable(m[2])
		if err != nil {
			return "", err
		}
		target := joined
		clause := joinTypes[m[1]] + " JOIN " + joined
		if m[3] != "" {
			alias, err := cc.quoteTable(m[3])
			if err != nil {
				return "", err
			}
			clause += " AS " + alias
			target = alias
		}
		relation, err := cc.joinRelation(table, target, e.Value)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause+" "+relation)
	}
	return strings.Join(clauses, " "), nil
}

// joinRelation compiles USING (columns) for a column or list of columns and
// ON for a map of base column to joined column.
func (cc *compilation) joinRelation(table, target string, relation any) (string, error) {
	if r, ok := asRaw(relation); ok {
		return cc.buildRaw(r)
	}
	if s, ok := relation.(string); ok {
		relation = []any{s}
	}
	if list, ok := asList(relation); ok {
		quoted := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok || strings.ContainsAny(s, ".*") {
				return "", errors.Wrapf(ErrInvalidDescriptor, "cannot join using %v", item)
			}
			q, err := cc.quoteColumn(s)
			if err != nil {
				return "", err
			}
			quoted[i] = q
		}
		return "USING (" + strings.Join(quoted, ", ") + ")", nil
	}
	d, ok := asMap(relation)
	if !ok || len(d) == 0 {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot join on %s", describe(relation))
	}
	var terms []string
	for _, e := range d {
		s, ok := e.Value.(string)
		if !ok {
			return "", errors.Wrapf(ErrInvalidDescriptor, "cannot join %q on %v", e.Key, e.Value)
		}
		left, err := cc.qualified(table, e.Key)
		if err != nil {
			return "", err
		}
		right, err := cc.qualified(target, s)
		if err != nil {
			return "", err
		}
		terms = append(terms, left+" = "+right)
	}
	return "ON " + strings.Join(terms, " AND "), nil
}

// qualified quotes column, prefixing it with the quoted table unless it
// names its own table.
func (cc *compilation) qualified(table, column string) (string, error) {
	q, err := cc.quoteColumn(column)
	if err != nil {
		return "", err
	}
	if strings.Contains(column, ".") {
		return q, nil
	}
	return table + "." + q, nil
}
