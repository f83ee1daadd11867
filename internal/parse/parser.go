// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package parse

import (
	"fmt"
	"strings"
)

// keywords may precede a marker to turn it into a table reference.
var keywords = []string{"FROM", "TABLE", "INTO", "UPDATE", "JOIN"}

// Parser splits raw SQL fragments into the parts that are passed through
// verbatim and the identifier markers that must be quoted. It never looks
// inside string literals, quoted identifiers or comments.
type Parser struct {
	input string
	pos   int
	// prevPartEnd is the value of pos when we last finished parsing a part.
	prevPartEnd int
	// parts are the output of the parser.
	parts []Part
	// lineNum is the number of the current line of the input.
	lineNum int
	// lineStart is the position of the first char of the current line in the
	// input.
	lineStart int
}

// NewParser returns a reference to a new parser.
func NewParser() *Parser {
	return &Parser{}
}

// init resets the state of the parser and sets the input string.
func (p *Parser) init(input string) {
	p.input = input
	p.pos = 0
	p.prevPartEnd = 0
	p.parts = []Part{}
	p.lineNum = 1
	p.lineStart = 0
}

// Parse takes a fragment template and returns its parts in order.
func (p *Parser) Parse(input string) (parts []Part, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot parse fragment: %s", err)
		}
	}()

	p.init(input)
	for p.pos < len(p.input) {
		if ok, err := p.skipStringLiteral(); err != nil {
			return nil, err
		} else if ok {
			continue
		}
		if p.skipComment() {
			continue
		}
		if m, ok := p.parseMarker(); ok {
			p.addMarker(m)
			continue
		}
		p.advance()
	}
	p.addBypass(len(p.input))
	return p.parts, nil
}

// addBypass pushes the text between the end of the previous part and end.
func (p *Parser) addBypass(end int) {
	if end > p.prevPartEnd {
		p.parts = append(p.parts, &BypassPart{Chunk: p.input[p.prevPartEnd:end]})
	}
	p.prevPartEnd = end
}

// addMarker pushes the marker along with the bypass chunk that precedes it.
// A keyword directly before the marker is moved out of the chunk and into
// the marker.
func (p *Parser) addMarker(m *MarkerPart) {
	chunk := p.input[p.prevPartEnd:m.start]
	if kw, at, ok := trailingKeyword(chunk); ok {
		m.Keyword = kw
		p.addBypass(p.prevPartEnd + at)
	} else {
		p.addBypass(m.start)
	}
	p.parts = append(p.parts, m)
	p.prevPartEnd = p.pos
}

// parseMarker parses a marker of the form <name> or <table.name>.
func (p *Parser) parseMarker() (*MarkerPart, bool) {
	if p.input[p.pos] != '<' {
		return nil, false
	}
	start := p.pos
	i := start + 1
	mark := i
	for i < len(p.input) && isNameChar(p.input[i]) {
		i++
	}
	if i == mark {
		return nil, false
	}
	if i < len(p.input) && p.input[i] == '.' {
		i++
		second := i
		for i < len(p.input) && isNameChar(p.input[i]) {
			i++
		}
		if i == second {
			return nil, false
		}
	}
	if i >= len(p.input) || p.input[i] != '>' {
		return nil, false
	}
	p.pos = i + 1
	return &MarkerPart{Name: p.input[mark:i], start: start}, true
}

// trailingKeyword reports whether chunk ends with one of the table keywords
// followed by optional blanks. It returns the keyword as written and its
// position in chunk.
func trailingKeyword(chunk string) (string, int, bool) {
	trimmed := strings.TrimRight(chunk, " \t\r\n")
	for _, kw := range keywords {
		if len(trimmed) < len(kw) {
			continue
		}
		at := len(trimmed) - len(kw)
		if !strings.EqualFold(trimmed[at:], kw) {
			continue
		}
		if at > 0 && isNameChar(trimmed[at-1]) {
			continue
		}
		return trimmed[at:], at, true
	}
	return "", 0, false
}

// advance moves the parser to the next byte in the input, keeping track of
// line numbers.
func (p *Parser) advance() {
	if p.input[p.pos] == '\n' {
		p.lineNum++
		p.lineStart = p.pos + 1
	}
	p.pos++
}

// colNum calculates the current column number taking into account line breaks.
func (p *Parser) colNum() int {
	return p.pos - p.lineStart + 1
}

// skipStringLiteral jumps over single quoted, double quoted and backtick
// quoted sections of input. Doubled up quotes are escaped, as are quotes
// preceded by a backslash.
func (p *Parser) skipStringLiteral() (bool, error) {
	return skipQuoted(p.input, &p.pos, func() error {
		return errorAt(fmt.Errorf("missing closing quote in string literal"), p.lineNum, p.colNum(), p.input)
	}, p.advance)
}

// skipComment jumps over -- and /* */ comments. If no comment is found the
// parser state is left unchanged.
func (p *Parser) skipComment() bool {
	return skipComment(p.input, &p.pos, p.advance)
}

func skipQuoted(input string, pos *int, unterminated func() error, advance func()) (bool, error) {
	c := input[*pos]
	if c != '\'' && c != '"' && c != '`' {
		return false, nil
	}
	start := *pos
	i := start + 1
	for i < len(input) {
		switch input[i] {
		case '\\':
			if c != '`' {
				i += 2
				continue
			}
		case c:
			if i+1 < len(input) && input[i+1] == c {
				i += 2
				continue
			}
			for *pos <= i {
				advance()
			}
			return true, nil
		}
		i++
	}
	return false, unterminated()
}

func skipComment(input string, pos *int, advance func()) bool {
	rest := input[*pos:]
	var end string
	switch {
	case strings.HasPrefix(rest, "--"):
		end = "\n"
	case strings.HasPrefix(rest, "/*"):
		end = "*/"
	default:
		return false
	}
	stop := len(input)
	if i := strings.Index(rest[2:], end); i >= 0 {
		stop = *pos + 2 + i
		// A -- comment does not consume the newline.
		if end == "*/" {
			stop += len(end)
		}
	}
	for *pos < stop {
		advance()
	}
	return true
}

// errorAt wraps an error with line and column information.
func errorAt(err error, line int, column int, input string) error {
	if strings.ContainsRune(input, '\n') {
		return fmt.Errorf("line %d, column %d: %w", line, column, err)
	}
	return fmt.Errorf("column %d: %w", column, err)
}

// isNameChar returns true if the given char can be part of a name. It returns
// false otherwise.
func isNameChar(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// isInitialNameChar returns true if the given char can appear at the start of a
// name. It returns false otherwise.
func isInitialNameChar(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
