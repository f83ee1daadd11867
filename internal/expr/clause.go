// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// clauseKeys are lifted out of a where argument that has no WHERE key.
var clauseKeys = []string{KeyGroup, KeyOrder, KeyLimit, KeyHaving, KeyMatch}

// whereClause compiles the where argument of UPDATE, DELETE and SELECT. A
// map without a WHERE key is taken to be the conditions themselves, apart
// from any GROUP, ORDER, LIMIT, HAVING and MATCH keys.
func (cc *compilation) whereClause(where any) (string, error) {
	if where == nil {
		return "", nil
	}
	if r, ok := asRaw(where); ok {
		raw, err := cc.buildRaw(r)
		if err != nil {
			return "", err
		}
		return " " + raw, nil
	}
	d, ok := asMap(where)
	if !ok {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile where clause from %s", describe(where))
	}
	if d.Has(KeyWhere) {
		return cc.suffixClause(d)
	}
	conds := d.Without(clauseKeys...)
	clause := D{}
	if len(conds) > 0 {
		clause = append(clause, E{Key: KeyWhere, Value: conds})
	}
	for _, key := range clauseKeys {
		if v, ok := d.Get(key); ok {
			clause = append(clause, E{Key: key, Value: v})
		}
	}
	return cc.suffixClause(clause)
}

// suffixClause compiles the WHERE, MATCH, GROUP, HAVING, ORDER and LIMIT
// keys of a descriptor. Other keys are ignored.
func (cc *compilation) suffixClause(d D) (string, error) {
	var clause string
	if where, ok := d.Get(KeyWhere); ok && where != nil {
		if r, ok := asRaw(where); ok {
			raw, err := cc.buildRaw(r)
			if err != nil {
				return "", err
			}
			clause = " " + raw
		} else {
			conds, ok := asMap(where)
			if !ok {
				list, isList := asList(where)
				if !isList {
					return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile WHERE from %s", describe(where))
				}
				conds = positional(list)
			}
			if len(conds) > 0 {
				inner, err := cc.conditions(conds, " AND")
				if err != nil {
					return "", err
				}
				if inner != "" {
					clause = " WHERE " + inner
				}
			}
		}
	}

	if match, ok := d.Get(KeyMatch); ok && match != nil {
		term, err := cc.match(match)
		if err != nil {
			return "", err
		}
		if term != "" {
			if clause != "" {
				clause += " AND " + term
			} else {
				clause = " WHERE " + term
			}
		}
	}

	if group, ok := d.Get(KeyGroup); ok && group != nil {
		g, err := cc.groupBy(group)
		if err != nil {
			return "", err
		}
		clause += g
		if having, ok := d.Get(KeyHaving); ok && having != nil {
			h, err := cc.having(having)
			if err != nil {
				return "", err
			}
			clause += h
		}
	}

	if order, ok := d.Get(KeyOrder); ok && order != nil {
		o, err := cc.orderBy(order)
		if err != nil {
			return "", err
		}
		clause += o
	}

	if limit, ok := d.Get(KeyLimit); ok && limit != nil {
		l, err := limitClause(limit)
		if err != nil {
			return "", err
		}
		clause += l
	}
	return clause, nil
}

// matchModes are the MATCH ... AGAINST search modifiers.
var matchModes = map[string]string{
	"natural":       "IN NATURAL LANGUAGE MODE",
	"natural+query": "IN NATURAL LANGUAGE MODE WITH QUERY EXPANSION",
	"boolean":       "IN BOOLEAN MODE",
	"query":         "WITH QUERY EXPANSION",
}

// match compiles a full-text search term. Families without MATCH support
// omit it.
func (cc *compilation) match(match any) (string, error) {
	if !cc.dialect.SupportsMatch() {
		cc.logger.Debug("full-text match omitted", "family", cc.dialect.Family())
		return "", nil
	}
	if r, ok := asRaw(match); ok {
		return cc.buildRaw(r)
	}
	d, ok := asMap(match)
	if !ok {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile MATCH from %s", describe(match))
	}
	columns, _ := d.Get("columns")
	keyword, _ := d.Get("keyword")
	list, ok := asList(columns)
	if !ok {
		if s, isString := columns.(string); isString {
			list, ok = []any{s}, true
		}
	}
	if !ok || len(list) == 0 || keyword == nil {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile MATCH: needs columns and keyword")
	}
	quoted := make([]string, len(list))
	for i, col := range list {
		s, ok := col.(string)
		if !ok {
			return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile MATCH column %v", col)
		}
		q, err := cc.quoteColumn(s)
		if err != nil {
			return "", err
		}
		quoted[i] = q
	}
	mode := ""
	if m, ok := d.Get("mode"); ok && m != nil {
		s, _ := m.(string)
		modifier, ok := matchModes[s]
		if !ok {
			return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile MATCH: unknown mode %v", m)
		}
		mode = " " + modifier
	}
	key := cc.mapKey()
	if err := cc.bindString(key, keyword); err != nil {
		return "", err
	}
	return "MATCH (" + strings.Join(quoted, ", ") + ") AGAINST (" + key + mode + ")", nil
}

func (cc *compilation) groupBy(group any) (string, error) {
	if r, ok := asRaw(group); ok {
		raw, err := cc.buildRaw(r)
		if err != nil {
			return "", err
		}
		return " GROUP BY " + raw, nil
	}
	var names []any
	if s, ok := group.(string); ok {
		names = []any{s}
	} else if list, ok := asList(group); ok {
		names = list
	} else {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile GROUP from %s", describe(group))
	}
	quoted := make([]string, 0, len(names))
	for _, name := range names {
		s, ok := name.(string)
		if !ok {
			return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile GROUP column %v", name)
		}
		q, err := cc.quoteColumn(s)
		if err != nil {
			return "", err
		}
		quoted = append(quoted, q)
	}
	if len(quoted) == 0 {
		return "", nil
	}
	return " GROUP BY " + strings.Join(quoted, ","), nil
}

func (cc *compilation) having(having any) (string, error) {
	if r, ok := asRaw(having); ok {
		raw, err := cc.buildRaw(r)
		if err != nil {
			return "", err
		}
		return " HAVING " + raw, nil
	}
	d, ok := asMap(having)
	if !ok {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile HAVING from %s", describe(having))
	}
	inner, err := cc.conditions(d, " AND")
	if err != nil {
		return "", err
	}
	if inner == "" {
		return "", nil
	}
	return " HAVING " + inner, nil
}

func (cc *compilation) orderBy(order any) (string, error) {
	if r, ok := asRaw(order); ok {
		raw, err := cc.buildRaw(r)
		if err != nil {
			return "", err
		}
		return " ORDER BY " + raw, nil
	}
	var entries D
	if s, ok := order.(string); ok {
		entries = D{{Key: "0", Value: s}}
	} else if d, ok := asMap(order); ok {
		entries = d
	} else if list, ok := asList(order); ok {
		entries = positional(list)
	} else {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile ORDER from %s", describe(order))
	}
	var stack []string
	for _, e := range entries {
		term, err := cc.orderTerm(e)
		if err != nil {
			return "", err
		}
		stack = append(stack, term)
	}
	if len(stack) == 0 {
		return "", nil
	}
	return " ORDER BY " + strings.Join(stack, ","), nil
}

func (cc *compilation) orderTerm(e E) (string, error) {
	if isPositional(e.Key) {
		if r, ok := asRaw(e.Value); ok {
			return cc.buildRaw(r)
		}
		s, ok := e.Value.(string)
		if !ok {
			return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile ORDER term %v", e.Value)
		}
		return cc.quoteColumn(s)
	}
	column, err := cc.quoteColumn(e.Key)
	if err != nil {
		return "", err
	}
	if list, ok := asList(e.Value); ok {
		return cc.orderByValues(column, list)
	}
	dir, ok := e.Value.(string)
	if !ok {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile ORDER direction %v for %q", e.Value, e.Key)
	}
	switch strings.ToUpper(dir) {
	case "ASC", "DESC":
		return column + " " + strings.ToUpper(dir), nil
	}
	return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile ORDER direction %q for %q", dir, e.Key)
}

// orderByValues orders rows by the position of column's value in values.
func (cc *compilation) orderByValues(column string, values []any) (string, error) {
	if len(values) == 0 {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot order %s by an empty value list", column)
	}
	keys := make([]string, len(values))
	for i, v := range values {
		key, err := cc.bindValue(v)
		if err != nil {
			return "", err
		}
		keys[i] = key
	}
	if cc.dialect.SupportsField() {
		return "FIELD(" + column + ", " + strings.Join(keys, ", ") + ")", nil
	}
	var sb strings.Builder
	sb.WriteString("CASE " + column)
	for i, key := range keys {
		sb.WriteString(" WHEN " + key + " THEN " + strconv.Itoa(i))
	}
	sb.WriteString(" END")
	return sb.String(), nil
}

func limitClause(limit any) (string, error) {
	if list, ok := asList(limit); ok {
		if len(list) != 2 || !isInteger(list[0]) || !isInteger(list[1]) {
			return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile LIMIT %v", limit)
		}
		return " LIMIT " + numericLiteral(list[1]) + " OFFSET " + numericLiteral(list[0]), nil
	}
	if !isInteger(limit) {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile LIMIT %v", limit)
	}
	return " LIMIT " + numericLiteral(limit), nil
}

// isInteger reports whether v is an integer or a string holding one.
func isInteger(v any) bool {
	switch v := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case string:
		_, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return err == nil
	}
	return false
}
