// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// valueKind classifies the value of a condition.
type valueKind int

const (
	kindScalar valueKind = iota
	kindNull
	kindList
	kindMap
	kindRaw
)

func kindOf(v any) valueKind {
	if v == nil {
		return kindNull
	}
	if _, ok := asRaw(v); ok {
		return kindRaw
	}
	if _, ok := asMap(v); ok {
		return kindMap
	}
	if _, ok := asList(v); ok {
		return kindList
	}
	return kindScalar
}

// conditions compiles a condition map into a boolean expression whose terms
// are joined by conjunctor (" AND" or " OR").
func (cc *compilation) conditions(data D, conjunctor string) (string, error) {
	var terms []string
	for _, e := range data {
		term, err := cc.entry(e, conjunctor)
		if err != nil {
			return "", err
		}
		if term != "" {
			terms = append(terms, term)
		}
	}
	return strings.Join(terms, conjunctor+" "), nil
}

func (cc *compilation) entry(e E, conjunctor string) (string, error) {
	if rel, ok := parseRelation(e.Key); ok {
		switch kindOf(e.Value) {
		case kindList, kindMap:
			return cc.group(rel, e.Value, conjunctor)
		}
	}
	if isPositional(e.Key) {
		return cc.positionalEntry(e.Value)
	}
	cond, err := parseCondition(e.Key, e.Value)
	if err != nil {
		return "", err
	}
	return cc.condition(cond)
}

// group compiles a nested AND/OR group. A sequence of maps is a list of
// sub-groups, each joined internally by the enclosing conjunction and joined
// to each other by the group's relationship.
func (cc *compilation) group(rel string, value any, conjunctor string) (string, error) {
	var items []any
	if list, ok := asList(value); ok {
		items = list
	} else if d, _ := asMap(value); denseSequence(d) {
		items = d.values()
	} else {
		inner, err := cc.conditions(d, " "+rel)
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	}

	if len(items) == 0 {
		return "", nil
	}
	groups := make([]D, 0, len(items))
	for _, item := range items {
		d, ok := asMap(item)
		if !ok {
			groups = nil
			break
		}
		groups = append(groups, d)
	}
	if groups == nil {
		// A sequence of column comparisons.
		inner, err := cc.conditions(positional(items), " "+rel)
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	}
	var stack []string
	for _, d := range groups {
		inner, err := cc.conditions(d, conjunctor)
		if err != nil {
			return "", err
		}
		stack = append(stack, "("+inner+")")
	}
	return "(" + strings.Join(stack, " "+rel+" ") + ")", nil
}

// positionalEntry compiles an entry without a field key. Only column to
// column comparisons and raw fragments are allowed there.
func (cc *compilation) positionalEntry(value any) (string, error) {
	if r, ok := asRaw(value); ok {
		return cc.buildRaw(r)
	}
	s, ok := value.(string)
	if !ok {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile positional condition %v", value)
	}
	left, op, right, ok := parseColumnCompare(s)
	if !ok {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile positional condition %q", s)
	}
	l, err := cc.quoteColumn(left)
	if err != nil {
		return "", err
	}
	r, err := cc.quoteColumn(right)
	if err != nil {
		return "", err
	}
	return l + " " + op + " " + r, nil
}

// condition compiles a single field comparison.
func (cc *compilation) condition(cond Condition) (string, error) {
	column, err := cc.quoteColumn(cond.Field)
	if err != nil {
		return "", err
	}
	switch cond.Op {
	case OpEqual, OpNot:
		return cc.equality(column, cond)
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		return cc.comparison(column, cond)
	case OpBetween, OpNotBetween:
		return cc.between(column, cond)
	case OpLike, OpNotLike:
		return cc.like(column, cond)
	case OpRegexp:
		return cc.regexp(column, cond)
	}
	return "", errors.Errorf("internal error: unknown operator %d", cond.Op)
}

func (cc *compilation) equality(column string, cond Condition) (string, error) {
	not := cond.Op == OpNot
	switch kindOf(cond.Value) {
	case kindNull:
		if not {
			return column + " IS NOT NULL", nil
		}
		return column + " IS NULL", nil
	case kindList:
		list, _ := asList(cond.Value)
		if len(list) == 0 {
			if not {
				return "1 = 1", nil
			}
			return "1 = 0", nil
		}
		keys := make([]string, len(list))
		for i, item := range list {
			key, err := cc.bindValue(item)
			if err != nil {
				return "", err
			}
			keys[i] = key
		}
		if not {
			return column + " NOT IN (" + strings.Join(keys, ", ") + ")", nil
		}
		return column + " IN (" + strings.Join(keys, ", ") + ")", nil
	case kindRaw:
		r, _ := asRaw(cond.Value)
		raw, err := cc.buildRaw(r)
		if err != nil {
			return "", err
		}
		if isSubquery(raw) {
			if not {
				return column + " NOT IN (" + raw + ")", nil
			}
			return column + " IN (" + raw + ")", nil
		}
		// Any other fragment is an inequality, with or without [!].
		return column + " != " + raw, nil
	case kindMap:
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compare %q with a map", cond.Field)
	}
	key, err := cc.bindValue(cond.Value)
	if err != nil {
		return "", err
	}
	if not {
		return column + " != " + key, nil
	}
	return column + " = " + key, nil
}

func isSubquery(raw string) bool {
	s := strings.TrimLeft(raw, " \t\r\n(")
	return len(s) >= 6 && strings.EqualFold(s[:6], "SELECT")
}

func (cc *compilation) comparison(column string, cond Condition) (string, error) {
	op := " " + cond.Op.String() + " "
	switch kindOf(cond.Value) {
	case kindRaw:
		r, _ := asRaw(cond.Value)
		raw, err := cc.buildRaw(r)
		if err != nil {
			return "", err
		}
		return column + op + raw, nil
	case kindScalar:
	default:
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compare %q with %s", cond.Field, describe(cond.Value))
	}
	key := cc.mapKey()
	if isNumeric(cond.Value) {
		cc.params.set(key, cond.Value, TypeInteger)
	} else if err := cc.bindString(key, cond.Value); err != nil {
		return "", err
	}
	return column + op + key, nil
}

func (cc *compilation) bindString(key string, value any) error {
	v, tag, err := typeMap(value)
	if err != nil {
		return err
	}
	if tag != TypeBinary && tag != TypeNull {
		tag = TypeString
	}
	cc.params.set(key, v, tag)
	return nil
}

func (cc *compilation) between(column string, cond Condition) (string, error) {
	list, ok := asList(cond.Value)
	if !ok || len(list) != 2 {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile %q: range needs exactly two values", cond.Key())
	}
	tag := TypeString
	if isNumeric(list[0]) && isNumeric(list[1]) {
		tag = TypeInteger
	}
	key := cc.mapKey()
	for i, suffix := range []string{"a", "b"} {
		if tag == TypeInteger {
			cc.params.set(key+suffix, list[i], tag)
		} else if err := cc.bindString(key+suffix, list[i]); err != nil {
			return "", err
		}
	}
	not := ""
	if cond.Op == OpNotBetween {
		not = " NOT"
	}
	return "(" + column + not + " BETWEEN " + key + "a AND " + key + "b)", nil
}

var likeWildcard = regexp.MustCompile(`\[.+]|[*?!%#^_]`)

func (cc *compilation) like(column string, cond Condition) (string, error) {
	connector := " OR"
	value := cond.Value
	if d, ok := asMap(value); ok {
		if len(d) != 1 {
			return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile %q: pattern map needs a single AND or OR key", cond.Key())
		}
		rel, ok := parseRelation(d[0].Key)
		if !ok {
			return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile %q: pattern map needs a single AND or OR key", cond.Key())
		}
		connector = " " + rel
		value = d[0].Value
	}
	items, ok := asList(value)
	if !ok {
		items = []any{value}
	}
	if len(items) == 0 {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile %q: no patterns", cond.Key())
	}
	op := " LIKE "
	if cond.Op == OpNotLike {
		op = " NOT LIKE "
	}
	var terms []string
	for _, item := range items {
		if kindOf(item) != kindScalar {
			return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile %q: pattern is %s", cond.Key(), describe(item))
		}
		pattern := fmt.Sprint(item)
		if !likeWildcard.MatchString(pattern) {
			pattern = "%" + pattern + "%"
		}
		key := cc.mapKey()
		cc.params.set(key, pattern, TypeString)
		terms = append(terms, column+op+key)
	}
	return "(" + strings.Join(terms, connector+" ") + ")", nil
}

func (cc *compilation) regexp(column string, cond Condition) (string, error) {
	if kindOf(cond.Value) != kindScalar {
		return "", errors.Wrapf(ErrInvalidDescriptor, "cannot compile %q: pattern is %s", cond.Key(), describe(cond.Value))
	}
	key := cc.mapKey()
	term, ok := cc.dialect.Regexp(column, key)
	if !ok {
		return "", errors.Wrapf(ErrUnsupportedDialectFeature, "cannot compile %q: no regular expressions in %s", cond.Key(), cc.dialect.Family())
	}
	cc.params.set(key, fmt.Sprint(cond.Value), TypeString)
	return term, nil
}

func describe(v any) string {
	switch kindOf(v) {
	case kindNull:
		return "null"
	case kindList:
		return "a list"
	case kindMap:
		return "a map"
	case kindRaw:
		return "a raw fragment"
	}
	return fmt.Sprintf("%T", v)
}
