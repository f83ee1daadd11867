// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package querymap

import (
	"database/sql"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/canonical/querymap/internal/dialect"
	"github.com/canonical/querymap/internal/expr"
)

// M is an unordered descriptor or condition map. Its keys are compiled in
// sorted order. Use D when the order of conditions matters.
//
//	db.Select(ctx, querymap.M{"FROM": "people", "WHERE": querymap.M{"age[>]": 18}})
type M = expr.M

// D is an ordered descriptor or condition map.
//
//	querymap.D{{"FROM", "people"}, {"ORDER", querymap.D{{"age", "DESC"}}}}
type D = expr.D

// E is a single element of a D.
type E = expr.E

// S is a sequence of values.
type S = expr.S

// Raw is an opaque SQL fragment. Identifiers inside it are written as
// <column> or <table.column> and parameters as :name.
type Raw = expr.Raw

// NewRaw returns a Raw fragment. Parameter names may be written with or
// without the leading colon.
func NewRaw(template string, params M) Raw {
	return expr.NewRaw(template, params)
}

// Statement is a compiled SQL statement with its named parameters.
type Statement = expr.Statement

// Params is the ordered set of parameters of a Statement.
type Params = expr.Params

// Binding is a single parameter of a Statement.
type Binding = expr.Binding

// TypeTag is the driver binding type of a parameter.
type TypeTag = expr.TypeTag

const (
	TypeNull    = expr.TypeNull
	TypeInteger = expr.TypeInteger
	TypeBoolean = expr.TypeBoolean
	TypeString  = expr.TypeString
	TypeBinary  = expr.TypeBinary
)

// Kind names a statement kind for [Builder.Compile].
type Kind = expr.Kind

// Family identifies a SQL family.
type Family = dialect.Family

const (
	MySQL      = dialect.MySQL
	PostgreSQL = dialect.PostgreSQL
	SQLite     = dialect.SQLite
	MSSQL      = dialect.MSSQL
	Oracle     = dialect.Oracle
	Sybase     = dialect.Sybase
)

// Relationships of nested condition groups. A group key may carry a
// comment after a "#" to keep it unique, as in "OR #name or nick".
const (
	And = expr.And
	Or  = expr.Or
)

// Insert modifiers.
const (
	LowPriority  = expr.LowPriority
	Delayed      = expr.Delayed
	HighPriority = expr.HighPriority
	Ignore       = expr.Ignore
	Replace      = expr.Replace
)

var (
	ErrMalformedIdentifier       = expr.ErrMalformedIdentifier
	ErrMissingTable              = expr.ErrMissingTable
	ErrMissingColumns            = expr.ErrMissingColumns
	ErrInconsistentRowShape      = expr.ErrInconsistentRowShape
	ErrAmbiguousWildcard         = expr.ErrAmbiguousWildcard
	ErrUnsupportedDialectFeature = expr.ErrUnsupportedDialectFeature
	ErrInvalidDescriptor         = expr.ErrInvalidDescriptor
)

var ErrNoRows = sql.ErrNoRows
var ErrTXDone = sql.ErrTxDone

// ErrRollback may be returned from an [DB.Action] function to roll the
// transaction back without reporting an error.
var ErrRollback = errors.New("rollback requested")

// Builder compiles descriptors into statements for one dialect. It is safe
// for concurrent use.
type Builder struct {
	compiler *expr.Compiler
}

// NewBuilder returns a Builder for the family with the given table prefix.
// A nil logger discards everything.
func NewBuilder(family Family, prefix string, logger *slog.Logger) *Builder {
	return &Builder{compiler: expr.NewCompiler(dialect.New(family, prefix), logger)}
}

// Family returns the SQL family of the builder.
func (b *Builder) Family() Family {
	return b.compiler.Dialect().Family()
}

// Prefix returns the table prefix of the builder.
func (b *Builder) Prefix() string {
	return b.compiler.Dialect().Prefix()
}

// QuoteTable quotes a table name for the builder's dialect.
func (b *Builder) QuoteTable(name string) (string, error) {
	return b.compiler.Dialect().QuoteTable(name)
}

// QuoteColumn quotes a column name for the builder's dialect.
func (b *Builder) QuoteColumn(name string) (string, error) {
	return b.compiler.Dialect().QuoteColumn(name)
}

// Select compiles a SELECT. desc is a table name or a descriptor with FROM
// (or TABLE), and optionally SELECT (or COLUMNS), JOIN, WHERE, MATCH, GROUP,
// HAVING, ORDER and LIMIT.
func (b *Builder) Select(desc any) (*Statement, error) {
	return b.compiler.Select(desc)
}

// Has compiles a statement returning whether any row matches desc.
func (b *Builder) Has(desc any) (*Statement, error) {
	return b.compiler.Has(desc)
}

// Rand returns desc ordered randomly.
func (b *Builder) Rand(desc any) (D, error) {
	return b.compiler.Rand(desc)
}

// Aggregate compiles a SELECT of COUNT, MAX, MIN, AVG or SUM.
func (b *Builder) Aggregate(fn string, desc any) (*Statement, error) {
	return b.compiler.Aggregate(fn, desc)
}

// Insert compiles a single or multi-row INSERT.
func (b *Builder) Insert(table string, rows any, modifiers ...string) (*Statement, error) {
	return b.compiler.Insert(table, rows, modifiers...)
}

// Update compiles an UPDATE.
func (b *Builder) Update(table string, data any, where any) (*Statement, error) {
	return b.compiler.Update(table, data, where)
}

// Delete compiles a DELETE.
func (b *Builder) Delete(table string, where any) (*Statement, error) {
	return b.compiler.Delete(table, where)
}

// Replace compiles an UPDATE replacing text in columns. It returns a nil
// statement when there is nothing to replace.
func (b *Builder) Replace(table string, columns any, where any) (*Statement, error) {
	return b.compiler.Replace(table, columns, where)
}

// Truncate compiles the statements that empty a table.
func (b *Builder) Truncate(table string) ([]*Statement, error) {
	return b.compiler.Truncate(table)
}

// Create compiles CREATE TABLE IF NOT EXISTS.
func (b *Builder) Create(table string, columns any, options any) (*Statement, error) {
	return b.compiler.Create(table, columns, options)
}

// Drop compiles DROP TABLE IF EXISTS.
func (b *Builder) Drop(table string) (*Statement, error) {
	return b.compiler.Drop(table)
}

// Query compiles a raw fragment as a whole statement.
func (b *Builder) Query(raw Raw) (*Statement, error) {
	return b.compiler.Query(raw)
}

// Compile compiles a statement of the given kind from a single descriptor.
func (b *Builder) Compile(kind Kind, desc any) ([]*Statement, error) {
	return b.compiler.Compile(kind, desc)
}

// Kinds lists the statement kinds accepted by [Builder.Compile].
func Kinds() []Kind {
	return append([]Kind(nil), expr.Kinds...)
}
