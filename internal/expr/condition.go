// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Operator is the comparison applied by a condition.
type Operator int

const (
	OpEqual Operator = iota
	OpNot
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpBetween
	OpNotBetween
	OpLike
	OpNotLike
	OpRegexp
)

var operatorSuffixes = map[string]Operator{
	"":       OpEqual,
	"!":      OpNot,
	">":      OpGreater,
	">=":     OpGreaterEqual,
	"<":      OpLess,
	"<=":     OpLessEqual,
	"<>":     OpBetween,
	"><":     OpNotBetween,
	"~":      OpLike,
	"!~":     OpNotLike,
	"REGEXP": OpRegexp,
}

// Suffix returns the bracketed form of the operator as written in a
// condition key, without the brackets.
func (op Operator) Suffix() string {
	for s, o := range operatorSuffixes {
		if o == op {
			return s
		}
	}
	return ""
}

func (op Operator) String() string {
	if op == OpEqual {
		return "="
	}
	return op.Suffix()
}

// operatorAliases are the readable operator names accepted by
// ParseOperator, keyed in lower case.
var operatorAliases = map[string]Operator{
	"eq":                 OpEqual,
	"equal":              OpEqual,
	"in":                 OpEqual,
	"null":               OpEqual,
	"isnull":             OpEqual,
	"ne":                 OpNot,
	"notequal":           OpNot,
	"ni":                 OpNot,
	"notin":              OpNot,
	"nn":                 OpNot,
	"notnull":            OpNot,
	"isnotnull":          OpNot,
	"gt":                 OpGreater,
	"greaterthan":        OpGreater,
	"lt":                 OpLess,
	"lessthan":           OpLess,
	"ge":                 OpGreaterEqual,
	"gte":                OpGreaterEqual,
	"greaterthanorequal": OpGreaterEqual,
	"le":                 OpLessEqual,
	"lte":                OpLessEqual,
	"lessthanorequal":    OpLessEqual,
	"bt":                 OpBetween,
	"between":            OpBetween,
	"nb":                 OpNotBetween,
	"nbt":                OpNotBetween,
	"notbetween":         OpNotBetween,
	"like":               OpLike,
	"nlike":              OpNotLike,
	"notlike":            OpNotLike,
	"regexp":             OpRegexp,
}

// nullAliases compare with NULL whatever value is given.
var nullAliases = map[string]bool{
	"null":      true,
	"isnull":    true,
	"nn":        true,
	"notnull":   true,
	"isnotnull": true,
}

// ParseOperator returns the operator named by name. Both the bracket
// suffixes (">=", "~", "<>") and readable aliases ("gte", "like",
// "between") are accepted. isNull reports whether the alias always
// compares with NULL.
func ParseOperator(name string) (op Operator, isNull bool, err error) {
	if op, ok := operatorSuffixes[name]; ok {
		return op, false, nil
	}
	if name == "=" {
		return OpEqual, false, nil
	}
	if name == "!=" {
		return OpNot, false, nil
	}
	alias := strings.ToLower(strings.TrimSpace(name))
	if op, ok := operatorAliases[alias]; ok {
		return op, nullAliases[alias], nil
	}
	return 0, false, errors.Wrapf(ErrInvalidDescriptor, "unknown operator %q", name)
}

// Condition is a single field comparison parsed from a condition key.
type Condition struct {
	Field string
	Op    Operator
	Value any
}

// Key returns the condition key that parses back to c.
func (c Condition) Key() string {
	if c.Op == OpEqual {
		return c.Field
	}
	return c.Field + "[" + c.Op.Suffix() + "]"
}

// parseCondition parses a condition key of the form field or field[op].
func parseCondition(key string, value any) (Condition, error) {
	field := strings.TrimSpace(key)
	op := OpEqual
	if open := strings.IndexByte(field, '['); open >= 0 {
		if !strings.HasSuffix(field, "]") {
			return Condition{}, errors.Wrapf(ErrInvalidDescriptor, "cannot parse condition key %q", key)
		}
		suffix := field[open+1 : len(field)-1]
		if strings.EqualFold(suffix, "REGEXP") {
			suffix = "REGEXP"
		}
		var ok bool
		if op, ok = operatorSuffixes[suffix]; !ok || suffix == "" {
			return Condition{}, errors.Wrapf(ErrInvalidDescriptor, "cannot parse condition key %q: unknown operator", key)
		}
		field = strings.TrimSpace(field[:open])
	}
	return Condition{Field: field, Op: op, Value: value}, nil
}

var relationKey = regexp.MustCompile(`^(AND|OR)(\s+#.*)?$`)

// parseRelation reports whether key introduces a nested group. Keys may
// carry a comment ("OR #age") so that one map can hold several groups.
func parseRelation(key string) (string, bool) {
	m := relationKey.FindStringSubmatch(key)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var columnCompare = regexp.MustCompile(`^\s*(\w+(?:\.\w+)?)\s*\[(>=?|<=?|!?=)\]\s*(\w+(?:\.\w+)?)\s*$`)

// parseColumnCompare parses a positional condition such as "a.x[>=]b.y".
func parseColumnCompare(s string) (left, op, right string, ok bool) {
	m := columnCompare.FindStringSubmatch(s)
	if m == nil {
		return "", "", "", false
	}
	return m[1], m[2], m[3], true
}
