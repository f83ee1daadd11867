// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dialect

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedIdentifier is returned when a table or column name does not
// match the identifier grammar `\w+(\.\w+)?`.
var ErrMalformedIdentifier = errors.New("malformed identifier")

// Family identifies a SQL family. It selects the identifier quote character,
// the random ordering function, full-text MATCH support and the TRUNCATE
// strategy.
type Family string

const (
	MySQL      Family = "mysql"
	PostgreSQL Family = "pgsql"
	SQLite     Family = "sqlite"
	MSSQL      Family = "mssql"
	Oracle     Family = "oracle"
	Sybase     Family = "sybase"
)

// ParseFamily returns the Family named by name. Driver names and common
// spellings are accepted.
func ParseFamily(name string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return MySQL, nil
	case "pgsql", "postgres", "postgresql", "pgx":
		return PostgreSQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mssql", "sqlserver", "dblib", "sqlsrv":
		return MSSQL, nil
	case "oracle", "oci":
		return Oracle, nil
	case "sybase":
		return Sybase, nil
	}
	return "", errors.Errorf("unknown database type %q", name)
}

// PlaceholderStyle defines how the driver of a family expects query
// parameters to be written.
type PlaceholderStyle int

const (
	// PlaceholderNamed keeps ":name" and passes sql.Named arguments.
	PlaceholderNamed PlaceholderStyle = iota
	// PlaceholderQuestion uses ? for all parameters.
	PlaceholderQuestion
	// PlaceholderDollar uses $1, $2, etc.
	PlaceholderDollar
	// PlaceholderAt uses @name and passes sql.Named arguments.
	PlaceholderAt
)

// Dialect is the immutable per-connection configuration used by the
// compiler. It is safe for concurrent use.
type Dialect struct {
	family Family
	quote  string
	prefix string
}

// New returns the Dialect for family with the given table prefix.
func New(family Family, prefix string) *Dialect {
	quote := `"`
	if family == MySQL {
		quote = "`"
	}
	return &Dialect{family: family, quote: quote, prefix: prefix}
}

// Family returns the SQL family of the dialect.
func (d *Dialect) Family() Family {
	return d.family
}

// Prefix returns the table name prefix.
func (d *Dialect) Prefix() string {
	return d.prefix
}

// QuoteChar returns the identifier quote character.
func (d *Dialect) QuoteChar() string {
	return d.quote
}

// Quote wraps s in the identifier quote character without validating it.
func (d *Dialect) Quote(s string) string {
	return d.quote + s + d.quote
}

// QuoteTable quotes a table name, applying the table prefix. A name of the
// form "database.table" has each segment quoted and the prefix applied to
// the table segment only.
func (d *Dialect) QuoteTable(name string) (string, error) {
	if !IsIdentifier(name) {
		return "", errors.Wrapf(ErrMalformedIdentifier, "cannot quote table %q", name)
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return d.Quote(name[:i]) + "." + d.Quote(d.prefix+name[i+1:]), nil
	}
	return d.Quote(d.prefix + name), nil
}

// QuoteColumn quotes a column name. A name of the form "table.column" is
// quoted segment by segment with the prefix applied to the table. The
// wildcards "*" and "table.*" are passed through with only the table quoted.
func (d *Dialect) QuoteColumn(name string) (string, error) {
	if name == "*" {
		return name, nil
	}
	if table, ok := strings.CutSuffix(name, ".*"); ok && isName(table) {
		return d.Quote(d.prefix+table) + ".*", nil
	}
	if !IsIdentifier(name) {
		return "", errors.Wrapf(ErrMalformedIdentifier, "cannot quote column %q", name)
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return d.Quote(d.prefix+name[:i]) + "." + d.Quote(name[i+1:]), nil
	}
	return d.Quote(name), nil
}

// RandomFunc returns the function used to order rows randomly.
func (d *Dialect) RandomFunc() string {
	if d.family == MySQL {
		return "RAND()"
	}
	return "RANDOM()"
}

// SupportsMatch reports whether the family has MATCH ... AGAINST full-text
// search.
func (d *Dialect) SupportsMatch() bool {
	return d.family == MySQL
}

// FileBased reports whether the family stores a database in a single file.
// Such databases have no TRUNCATE statement.
func (d *Dialect) FileBased() bool {
	return d.family == SQLite
}

// SupportsField reports whether the family has the FIELD() ordinal function.
func (d *Dialect) SupportsField() bool {
	return d.family == MySQL
}

// Regexp returns the boolean expression matching column against the pattern
// bound to placeholder. It returns false if the family has no regular
// expression operator.
func (d *Dialect) Regexp(column, placeholder string) (string, bool) {
	switch d.family {
	case MySQL, SQLite:
		return column + " REGEXP " + placeholder, true
	case PostgreSQL:
		return column + " ~ " + placeholder, true
	case Oracle:
		return "REGEXP_LIKE(" + column + ", " + placeholder + ")", true
	}
	return "", false
}

// Placeholder returns the placeholder style of the family's driver.
func (d *Dialect) Placeholder() PlaceholderStyle {
	switch d.family {
	case MySQL:
		return PlaceholderQuestion
	case PostgreSQL:
		return PlaceholderDollar
	case MSSQL, Sybase:
		return PlaceholderAt
	}
	return PlaceholderNamed
}

// IsIdentifier reports whether s matches `\w+(\.\w+)?` where \w is an ASCII
// letter, digit or underscore.
func IsIdentifier(s string) bool {
	first, second, dotted := strings.Cut(s, ".")
	if !isName(first) {
		return false
	}
	return !dotted || isName(second)
}

func isName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !IsNameChar(s[i]) {
			return false
		}
	}
	return true
}

// IsNameChar returns true if the given byte can be part of an identifier.
func IsNameChar(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
