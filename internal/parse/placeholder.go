// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package parse

import (
	"fmt"
	"strings"
)

// ReplacePlaceholders finds every ":name" placeholder outside string
// literals, quoted identifiers and comments and asks replace for its
// substitute. Placeholders for which replace returns false are left as they
// are. A double colon (a PostgreSQL cast) is never a placeholder.
func ReplacePlaceholders(input string, replace func(name string) (string, bool)) (string, error) {
	var sb strings.Builder
	sb.Grow(len(input))
	pos := 0
	mark := 0
	noop := func() { pos++ }
	for pos < len(input) {
		if ok, err := skipQuoted(input, &pos, func() error {
			return fmt.Errorf("cannot scan placeholders: column %d: missing closing quote in string literal", pos+1)
		}, noop); err != nil {
			return "", err
		} else if ok {
			continue
		}
		if skipComment(input, &pos, noop) {
			continue
		}
		if input[pos] != ':' {
			pos++
			continue
		}
		if pos+1 < len(input) && input[pos+1] == ':' {
			pos += 2
			continue
		}
		if pos > 0 && isNameChar(input[pos-1]) {
			pos++
			continue
		}
		start := pos
		end := pos + 1
		if end >= len(input) || !isInitialNameChar(input[end]) {
			pos++
			continue
		}
		for end < len(input) && isNameChar(input[end]) {
			end++
		}
		pos = end
		if sub, ok := replace(input[start+1 : end]); ok {
			sb.WriteString(input[mark:start])
			sb.WriteString(sub)
			mark = end
		}
	}
	sb.WriteString(input[mark:])
	return sb.String(), nil
}
