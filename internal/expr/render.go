// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"strings"
	"time"

	"github.com/canonical/querymap/internal/parse"
)

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\x00", `\0`,
	"\n", `\n`,
	"\r", `\r`,
	"'", `\'`,
	`"`, `\"`,
	"\x1a", `\Z`,
)

// Render returns the statement with every bound placeholder replaced by a
// SQL literal. The result is for logging and debugging only and must never
// be executed.
func (s *Statement) Render() string {
	rendered, err := parse.ReplacePlaceholders(s.SQL, func(name string) (string, bool) {
		b, ok := s.Params.Get(name)
		if !ok {
			return "", false
		}
		return b.literal(), true
	})
	if err != nil {
		return s.SQL
	}
	return rendered
}

// String returns the rendered statement.
func (s *Statement) String() string {
	return s.Render()
}

func (b Binding) literal() string {
	switch b.Type {
	case TypeNull:
		return "NULL"
	case TypeInteger:
		return numericLiteral(b.Value)
	case TypeBoolean:
		if v, ok := b.Value.(bool); ok && v {
			return "1"
		}
		return "0"
	case TypeBinary:
		if v, ok := b.Value.([]byte); ok {
			return "'" + literalEscaper.Replace(string(v)) + "'"
		}
	}
	var s string
	switch v := b.Value.(type) {
	case string:
		s = v
	case time.Time:
		s = v.Format(time.DateTime)
	default:
		s = fmt.Sprint(v)
	}
	return "'" + literalEscaper.Replace(s) + "'"
}
