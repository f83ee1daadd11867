// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/canonical/querymap/internal/dialect"
	"github.com/canonical/querymap/internal/parse"
)

// Statement is a compiled SQL statement with its named parameters.
type Statement struct {
	SQL    string
	Params *Params
}

// Compiler turns query descriptors into statements for a single dialect.
// It holds no per-statement state and is safe for concurrent use.
type Compiler struct {
	dialect *dialect.Dialect
	logger  *slog.Logger
}

// NewCompiler returns a compiler for d. A nil logger discards all output.
func NewCompiler(d *dialect.Dialect, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Compiler{dialect: d, logger: logger}
}

// Dialect returns the dialect of the compiler.
func (c *Compiler) Dialect() *dialect.Dialect {
	return c.dialect
}

// compilation is the scratch state of a single statement. Placeholder
// numbering starts at zero for every statement.
type compilation struct {
	*Compiler
	params *Params
	guid   int
	parser *parse.Parser
}

func (c *Compiler) begin() *compilation {
	return &compilation{
		Compiler: c,
		params:   NewParams(),
		parser:   parse.NewParser(),
	}
}

func (cc *compilation) statement(sql string) *Statement {
	return &Statement{SQL: sql, Params: cc.params}
}

// mapKey returns a fresh placeholder.
func (cc *compilation) mapKey() string {
	key := ":p" + strconv.Itoa(cc.guid)
	cc.guid++
	return key
}

// bind binds value under key using its natural type.
func (cc *compilation) bind(key string, value any) error {
	v, tag, err := typeMap(value)
	if err != nil {
		return err
	}
	cc.params.set(key, v, tag)
	return nil
}

// bindValue binds value under a fresh placeholder and returns it.
func (cc *compilation) bindValue(value any) (string, error) {
	key := cc.mapKey()
	if err := cc.bind(key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (cc *compilation) quoteTable(name string) (string, error) {
	return cc.dialect.QuoteTable(name)
}

func (cc *compilation) quoteColumn(name string) (string, error) {
	return cc.dialect.QuoteColumn(name)
}

// buildRaw expands the identifier markers of a raw fragment and merges its
// parameters into the statement. Markers are checked before any parameter
// is merged.
func (cc *compilation) buildRaw(r Raw) (string, error) {
	parts, err := cc.parser.Parse(r.Template)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, part := range parts {
		switch p := part.(type) {
		case *parse.BypassPart:
			sb.WriteString(p.Chunk)
		case *parse.MarkerPart:
			if p.IsTable() {
				quoted, err := cc.quoteTable(p.Name)
				if err != nil {
					return "", err
				}
				sb.WriteString(p.Keyword + " " + quoted)
				continue
			}
			quoted, err := cc.quoteColumn(p.Name)
			if err != nil {
				return "", err
			}
			sb.WriteString(quoted)
		default:
			return "", errors.Errorf("internal error: unknown fragment part %T", part)
		}
	}
	for _, e := range sortedD(r.Params) {
		if err := cc.bind(e.Key, e.Value); err != nil {
			return "", errors.Wrapf(err, "cannot bind raw parameter %q", e.Key)
		}
	}
	return sb.String(), nil
}

// Query compiles a standalone raw statement.
func (c *Compiler) Query(r Raw) (*Statement, error) {
	cc := c.begin()
	sql, err := cc.buildRaw(r)
	if err != nil {
		return nil, err
	}
	return cc.statement(sql), nil
}

// Expand returns the text of a raw fragment with its markers quoted. It
// does not bind parameters.
func (c *Compiler) Expand(template string) (string, error) {
	return c.begin().buildRaw(Raw{Template: template})
}
