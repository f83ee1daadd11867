// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr_test

import (
	"database/sql"
	"strings"

	. "gopkg.in/check.v1"

	"github.com/canonical/querymap/internal/dialect"
	"github.com/canonical/querymap/internal/expr"
)

type ParamsSuite struct{}

var _ = Suite(&ParamsSuite{})

func (s *ParamsSuite) TestTypeMap(c *C) {
	var tests = []struct {
		value    any
		expected any
		tag      expr.TypeTag
	}{
		{nil, nil, expr.TypeNull},
		{42, 42, expr.TypeInteger},
		{int64(7), int64(7), expr.TypeInteger},
		{1.5, "1.5", expr.TypeString},
		{true, true, expr.TypeBoolean},
		{"x", "x", expr.TypeString},
		{[]byte("ab"), []byte("ab"), expr.TypeBinary},
		{strings.NewReader("ab"), []byte("ab"), expr.TypeBinary},
		{M{"a": 1}, `{"a":1}`, expr.TypeString},
		{D{{"b", 1}, {"a", 2}}, `{"b":1,"a":2}`, expr.TypeString},
		{S{1, "x"}, `[1,"x"]`, expr.TypeString},
	}
	for i, t := range tests {
		value, tag, err := expr.TypeMap(t.value)
		c.Assert(err, IsNil, Commentf("test %d", i))
		c.Check(value, DeepEquals, t.expected, Commentf("test %d", i))
		c.Check(tag, Equals, t.tag, Commentf("test %d", i))
	}
}

func (s *ParamsSuite) TestArgs(c *C) {
	comp := compiler(dialect.SQLite, "")
	stmt, err := comp.Conditions(D{{"a", 1}, {"b", "x"}, {"c", nil}}, " AND")
	c.Assert(err, IsNil)
	c.Assert(stmt.SQL, Equals, `"a" = :p0 AND "b" = :p1 AND "c" IS NULL`)

	query, args, err := stmt.Params.Args(stmt.SQL, dialect.PlaceholderQuestion)
	c.Assert(err, IsNil)
	c.Check(query, Equals, `"a" = ? AND "b" = ? AND "c" IS NULL`)
	c.Check(args, DeepEquals, []any{1, "x"})

	query, args, err = stmt.Params.Args(stmt.SQL, dialect.PlaceholderDollar)
	c.Assert(err, IsNil)
	c.Check(query, Equals, `"a" = $1 AND "b" = $2 AND "c" IS NULL`)
	c.Check(args, DeepEquals, []any{1, "x"})

	query, args, err = stmt.Params.Args(stmt.SQL, dialect.PlaceholderNamed)
	c.Assert(err, IsNil)
	c.Check(query, Equals, stmt.SQL)
	c.Check(args, DeepEquals, []any{sql.Named("p0", 1), sql.Named("p1", "x")})

	query, args, err = stmt.Params.Args(stmt.SQL, dialect.PlaceholderAt)
	c.Assert(err, IsNil)
	c.Check(query, Equals, `"a" = @p0 AND "b" = @p1 AND "c" IS NULL`)
	c.Check(args, DeepEquals, []any{sql.Named("p0", 1), sql.Named("p1", "x")})
}

func (s *ParamsSuite) TestArgsRepeatedAndUnknown(c *C) {
	comp := compiler(dialect.PostgreSQL, "")
	stmt, err := comp.Query(expr.NewRaw("SELECT :id, :id::text, ':id', :other", M{"id": "7"}))
	c.Assert(err, IsNil)

	query, args, err := stmt.Params.Args(stmt.SQL, dialect.PlaceholderDollar)
	c.Assert(err, IsNil)
	c.Check(query, Equals, "SELECT $1, $1::text, ':id', :other")
	c.Check(args, DeepEquals, []any{"7"})

	query, args, err = stmt.Params.Args(stmt.SQL, dialect.PlaceholderQuestion)
	c.Assert(err, IsNil)
	c.Check(query, Equals, "SELECT ?, ?::text, ':id', :other")
	c.Check(args, DeepEquals, []any{"7", "7"})
}

func (s *ParamsSuite) TestIntegerStringsBindAsNumbers(c *C) {
	comp := compiler(dialect.PostgreSQL, "")
	stmt, err := comp.Conditions(D{{"age[>]", "21"}, {"ratio[<]", "0.5"}}, " AND")
	c.Assert(err, IsNil)
	_, args, err := stmt.Params.Args(stmt.SQL, dialect.PlaceholderDollar)
	c.Assert(err, IsNil)
	c.Check(args, DeepEquals, []any{int64(21), 0.5})
}

func (s *ParamsSuite) TestRender(c *C) {
	comp := compiler(dialect.SQLite, "")
	stmt, err := comp.Select(D{
		{"FROM", "users"},
		{"WHERE", D{
			{"name", "O'Brien\n"},
			{"age[>]", 3},
			{"active", true},
			{"deleted", nil},
			{"note", expr.NewRaw(":note", M{"note": nil})},
			{"avatar", []byte(`a"b`)},
		}},
	})
	c.Assert(err, IsNil)
	c.Check(stmt.Render(), Equals,
		`SELECT * FROM "users" WHERE "name" = 'O\'Brien\n' AND "age" > 3 AND "active" = 1 AND "deleted" IS NULL AND "note" = NULL AND "avatar" = 'a\"b'`)
	c.Check(stmt.String(), Equals, stmt.Render())
}

func (s *ParamsSuite) TestParamsGet(c *C) {
	stmt, err := compiler(dialect.SQLite, "").Conditions(D{{"a", 1}}, " AND")
	c.Assert(err, IsNil)
	b, ok := stmt.Params.Get("p0")
	c.Assert(ok, Equals, true)
	c.Check(b, Equals, expr.Binding{Name: ":p0", Value: 1, Type: expr.TypeInteger})
	_, ok = stmt.Params.Get(":p1")
	c.Check(ok, Equals, false)
	c.Check(stmt.Params.Values(), DeepEquals, map[string]any{":p0": 1})
}
