// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr_test

import (
	"math"

	"github.com/pkg/errors"
	. "gopkg.in/check.v1"

	"github.com/canonical/querymap/internal/dialect"
	"github.com/canonical/querymap/internal/expr"
)

type StatementSuite struct{}

var _ = Suite(&StatementSuite{})

var selectTests = []struct {
	summary string
	family  dialect.Family
	prefix  string
	desc    any
	sql     string
}{{
	summary: "table only",
	desc:    "users",
	sql:     `SELECT * FROM "users"`,
}, {
	summary: "columns and aliases",
	desc:    D{{"FROM", "users"}, {"SELECT", S{"id", "name (n)"}}, {"WHERE", D{{"id[>]", 5}}}},
	sql:     `SELECT "id","name" AS "n" FROM "users" WHERE "id" > :p0`,
}, {
	summary: "table and columns keys",
	desc:    D{{"TABLE", "users"}, {"COLUMNS", M{"name": "n"}}},
	sql:     `SELECT "name" AS "n" FROM "users"`,
}, {
	summary: "raw column",
	desc:    D{{"FROM", "users"}, {"SELECT", D{{"0", "id"}, {"total", expr.NewRaw("COUNT(<id>)", nil)}}}},
	sql:     `SELECT "id",COUNT("id") AS "total" FROM "users"`,
}, {
	summary: "left join on",
	desc: D{
		{"FROM", "users (u)"},
		{"JOIN", D{{"[>]orders (o)", D{{"id", "user_id"}}}}},
		{"SELECT", S{"u.id", "o.total"}},
	},
	sql: `SELECT "u"."id","o"."total" FROM "users" AS "u" LEFT JOIN "orders" AS "o" ON "u"."id" = "o"."user_id"`,
}, {
	summary: "inner join using",
	desc: D{
		{"FROM", "users"},
		{"JOIN", D{{"[><]orders", "user_id"}, {"[<>]notes", S{"user_id", "day"}}}},
		{"SELECT", S{"users.id"}},
	},
	sql: `SELECT "users"."id" FROM "users" INNER JOIN "orders" USING ("user_id") FULL JOIN "notes" USING ("user_id", "day")`,
}, {
	summary: "join on qualified column",
	desc: D{
		{"FROM", "users"},
		{"JOIN", D{{"[<]orders", D{{"users.id", "user_id"}}}}},
		{"SELECT", "orders.total"},
	},
	sql: `SELECT "orders"."total" FROM "users" RIGHT JOIN "orders" ON "users"."id" = "orders"."user_id"`,
}, {
	summary: "prefixed tables",
	prefix:  "pre_",
	desc:    D{{"FROM", "users"}, {"SELECT", S{"users.id"}}, {"ORDER", "users.id"}},
	sql:     `SELECT "pre_users"."id" FROM "pre_users" ORDER BY "pre_users"."id"`,
}, {
	summary: "ordered aliases",
	desc:    D{{"FROM", "users"}, {"SELECT", D{{"name", "n"}, {"id", "i"}}}},
	sql:     `SELECT "name" AS "n","id" AS "i" FROM "users"`,
}, {
	summary: "ordered sort directions",
	desc:    D{{"FROM", "users"}, {"ORDER", D{{"name", "DESC"}, {"0", "id"}}}},
	sql:     `SELECT * FROM "users" ORDER BY "name" DESC,"id"`,
}, {
	summary: "mysql random order",
	family:  dialect.MySQL,
	desc:    D{{"FROM", "users"}, {"ORDER", expr.NewRaw("RAND()", nil)}},
	sql:     "SELECT * FROM `users` ORDER BY RAND()",
}}

func (s *StatementSuite) TestSelect(c *C) {
	for i, t := range selectTests {
		comment := Commentf("test %d failed (%s)", i, t.summary)
		family := t.family
		if family == "" {
			family = dialect.SQLite
		}
		stmt, err := compiler(family, t.prefix).Select(t.desc)
		c.Assert(err, IsNil, comment)
		c.Check(stmt.SQL, Equals, t.sql, comment)
	}
}

func (s *StatementSuite) TestSelectErrors(c *C) {
	comp := compiler(dialect.SQLite, "")

	_, err := comp.Select(D{{"SELECT", "*"}})
	c.Check(errors.Is(err, expr.ErrMissingTable), Equals, true)

	_, err = comp.Select(D{
		{"FROM", "users"},
		{"JOIN", D{{"[>]orders", "user_id"}}},
		{"SELECT", S{"users.*"}},
	})
	c.Check(errors.Is(err, expr.ErrAmbiguousWildcard), Equals, true)

	_, err = comp.Select(D{{"FROM", "users;"}})
	c.Check(errors.Is(err, expr.ErrMalformedIdentifier), Equals, true)

	_, err = comp.Select(D{{"FROM", "users"}, {"JOIN", D{{"[?]orders", "id"}}}})
	c.Check(errors.Is(err, expr.ErrInvalidDescriptor), Equals, true)
}

func (s *StatementSuite) TestHasAndAggregates(c *C) {
	comp := compiler(dialect.SQLite, "")

	stmt, err := comp.Has(D{{"FROM", "users"}, {"WHERE", D{{"id", 1}}}})
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `SELECT EXISTS(SELECT 1 FROM "users" WHERE "id" = :p0)`)

	stmt, err = comp.Aggregate("count", D{{"FROM", "users"}})
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `SELECT COUNT(*) FROM "users"`)

	stmt, err = comp.Aggregate("max", D{{"FROM", "users"}, {"COLUMNS", "age"}, {"WHERE", D{{"active", true}}}})
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `SELECT MAX("age") FROM "users" WHERE "active" = :p0`)
	checkParams(c, stmt.Params, []binding{{":p0", true, expr.TypeBoolean}}, nil)

	_, err = comp.Aggregate("median", "users")
	c.Check(errors.Is(err, expr.ErrInvalidDescriptor), Equals, true)
}

func (s *StatementSuite) TestRand(c *C) {
	comp := compiler(dialect.PostgreSQL, "")
	desc, err := comp.Rand(D{{"FROM", "users"}, {"ORDER", "id"}, {"LIMIT", 3}})
	c.Assert(err, IsNil)
	stmt, err := comp.Select(desc)
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `SELECT * FROM "users" ORDER BY RANDOM() LIMIT 3`)
}

func (s *StatementSuite) TestInsert(c *C) {
	comp := compiler(dialect.SQLite, "")
	stmt, err := comp.Insert("users", S{D{{"a", 1}, {"b", 2}}, D{{"a", 3}, {"b", 4}}})
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `INSERT INTO "users" ("a", "b") VALUES (:p0, :p1), (:p2, :p3)`)
	c.Check(stmt.Params.Len(), Equals, 4)

	stmt, err = comp.Insert("users", D{
		{"name", nil},
		{"tags", S{"a", "b"}},
		{"created", expr.NewRaw("CURRENT_TIMESTAMP", nil)},
		{"avatar", []byte{1, 2}},
	})
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `INSERT INTO "users" ("name", "tags", "created", "avatar") VALUES (:p0, :p1, CURRENT_TIMESTAMP, :p2)`)
	checkParams(c, stmt.Params, []binding{
		{":p0", nil, expr.TypeNull},
		{":p1", `["a","b"]`, expr.TypeString},
		{":p2", []byte{1, 2}, expr.TypeBinary},
	}, nil)

	_, err = comp.Insert("users", S{D{{"a", 1}, {"b", 2}}, D{{"a", 1}}})
	c.Check(errors.Is(err, expr.ErrInconsistentRowShape), Equals, true)

	_, err = comp.Insert("users", S{D{{"a", 1}}, D{{"b", 1}}})
	c.Check(errors.Is(err, expr.ErrInconsistentRowShape), Equals, true)

	_, err = comp.Insert("users", S{})
	c.Check(errors.Is(err, expr.ErrMissingColumns), Equals, true)
}

func (s *StatementSuite) TestInsertModifiers(c *C) {
	comp := compiler(dialect.MySQL, "")
	stmt, err := comp.Insert("log", D{{"msg", "x"}}, expr.LowPriority, expr.Ignore)
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, "INSERT LOW_PRIORITY IGNORE INTO `log` (`msg`) VALUES (:p0)")

	stmt, err = comp.Insert("log", D{{"msg", "x"}}, "replace")
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, "REPLACE INTO `log` (`msg`) VALUES (:p0)")
}

type account struct {
	ID    int64  `db:"id,omitempty"`
	Name  string `db:"name"`
	Email string `db:"email,omitempty"`
	Note  string
}

func (s *StatementSuite) TestStructRows(c *C) {
	comp := compiler(dialect.PostgreSQL, "")
	stmt, err := comp.Insert("accounts", []account{
		{Name: "ann", Email: "ann@example.com"},
		{Name: "bob", Email: "bob@example.com", Note: "skipped"},
	})
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `INSERT INTO "accounts" ("name", "email") VALUES (:p0, :p1), (:p2, :p3)`)
	checkParams(c, stmt.Params, []binding{
		{":p0", "ann", expr.TypeString},
		{":p1", "ann@example.com", expr.TypeString},
		{":p2", "bob", expr.TypeString},
		{":p3", "bob@example.com", expr.TypeString},
	}, nil)

	stmt, err = comp.Update("accounts", &account{ID: 4, Name: "carol"}, D{{"id", 4}})
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `UPDATE "accounts" SET "id" = :p0, "name" = :p1 WHERE "id" = :p2`)

	// Omitted fields change the row shape.
	_, err = comp.Insert("accounts", []account{{Name: "dan"}, {Name: "eve", Email: "eve@example.com"}})
	c.Check(errors.Is(err, expr.ErrInconsistentRowShape), Equals, true)
}

func (s *StatementSuite) TestUpdate(c *C) {
	comp := compiler(dialect.SQLite, "")
	stmt, err := comp.Update("users", D{{"name", "x"}, {"age[+]", 1}, {"score[*]", "abc"}}, D{{"id", 3}})
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `UPDATE "users" SET "name" = :p0, "age" = "age" + 1 WHERE "id" = :p1`)
	checkParams(c, stmt.Params, []binding{
		{":p0", "x", expr.TypeString},
		{":p1", 3, expr.TypeInteger},
	}, nil)

	stmt, err = comp.Update("users", D{{"seen", expr.NewRaw("CURRENT_TIMESTAMP", nil)}, {"ratio[/]", 2.5}}, nil)
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `UPDATE "users" SET "seen" = CURRENT_TIMESTAMP, "ratio" = "ratio" / 2.5`)

	// Only plain decimals are spliced into the statement.
	stmt, err = comp.Update("users", D{
		{"name", "x"},
		{"a[+]", "Inf"},
		{"b[+]", "NaN"},
		{"c[+]", "0x1p4"},
		{"d[+]", "1e3; DROP TABLE users"},
		{"e[-]", math.Inf(1)},
		{"f[*]", " -1.5e2 "},
		{"g[/]", ".5"},
	}, nil)
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `UPDATE "users" SET "name" = :p0, "f" = "f" * -1.5e2, "g" = "g" / .5`)

	_, err = comp.Update("users", D{}, nil)
	c.Check(errors.Is(err, expr.ErrMissingColumns), Equals, true)
}

func (s *StatementSuite) TestDelete(c *C) {
	comp := compiler(dialect.SQLite, "")
	stmt, err := comp.Delete("users", D{{"id", 3}})
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `DELETE FROM "users" WHERE "id" = :p0`)

	stmt, err = comp.Delete("users", expr.NewRaw("WHERE <id> = :id", M{"id": 3}))
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `DELETE FROM "users" WHERE "id" = :id`)
	checkParams(c, stmt.Params, []binding{{":id", 3, expr.TypeInteger}}, nil)

	stmt, err = comp.Delete("users", nil)
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `DELETE FROM "users"`)
}

func (s *StatementSuite) TestReplace(c *C) {
	comp := compiler(dialect.SQLite, "")
	stmt, err := comp.Replace("users", D{{"bio", D{{"old", "new"}}}}, D{{"id", 1}})
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `UPDATE "users" SET "bio" = REPLACE("bio", :p0a, :p0b) WHERE "id" = :p1`)
	checkParams(c, stmt.Params, []binding{
		{":p0a", "old", expr.TypeString},
		{":p0b", "new", expr.TypeString},
		{":p1", 1, expr.TypeInteger},
	}, nil)

	stmt, err = comp.Replace("users", D{}, nil)
	c.Assert(err, IsNil)
	c.Check(stmt, IsNil)
}

func (s *StatementSuite) TestDDL(c *C) {
	comp := compiler(dialect.SQLite, "")
	stmt, err := comp.Create("users", D{
		{"id", S{"INTEGER", "PRIMARY KEY"}},
		{"name", "TEXT NOT NULL"},
		{"0", "UNIQUE (<name>)"},
	}, nil)
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `CREATE TABLE IF NOT EXISTS "users" ("id" INTEGER PRIMARY KEY, "name" TEXT NOT NULL, UNIQUE ("name"))`)

	stmt, err = comp.Create("scores", D{
		{"id", expr.NewRaw("INTEGER CHECK (<id> > :min)", M{"min": 0})},
		{"0", expr.NewRaw("UNIQUE (<id>)", nil)},
	}, nil)
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `CREATE TABLE IF NOT EXISTS "scores" ("id" INTEGER CHECK ("id" > :min), UNIQUE ("id"))`)
	checkParams(c, stmt.Params, []binding{{":min", 0, expr.TypeInteger}}, nil)

	_, err = comp.Create("users", nil, nil)
	c.Check(errors.Is(err, expr.ErrMissingColumns), Equals, true)
	_, err = comp.Create("", D{{"id", "INT"}}, nil)
	c.Check(errors.Is(err, expr.ErrMissingTable), Equals, true)

	stmt, err = compiler(dialect.MySQL, "").Create("log", D{{"id", "INT"}}, D{{"ENGINE", "InnoDB"}})
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, "CREATE TABLE IF NOT EXISTS `log` (`id` INT) ENGINE = InnoDB")

	stmt, err = comp.Drop("users")
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `DROP TABLE IF EXISTS "users"`)
}

func (s *StatementSuite) TestTruncate(c *C) {
	stmts, err := compiler(dialect.SQLite, "pre_").Truncate("users")
	c.Assert(err, IsNil)
	c.Assert(stmts, HasLen, 2)
	c.Check(stmts[0].SQL, Equals, `DELETE FROM "pre_users"`)
	c.Check(stmts[1].SQL, Equals, `UPDATE "sqlite_sequence" SET "seq" = 0 WHERE "name" = 'pre_users'`)

	stmts, err = compiler(dialect.SQLite, "o'").Truncate("users")
	c.Assert(err, IsNil)
	c.Check(stmts[1].SQL, Equals, `UPDATE "sqlite_sequence" SET "seq" = 0 WHERE "name" = 'o''users'`)

	stmts, err = compiler(dialect.MySQL, "").Truncate("users")
	c.Assert(err, IsNil)
	c.Assert(stmts, HasLen, 1)
	c.Check(stmts[0].SQL, Equals, "TRUNCATE TABLE `users`")
}

func (s *StatementSuite) TestQuery(c *C) {
	comp := compiler(dialect.SQLite, "pre_")
	stmt, err := comp.Query(expr.NewRaw("SELECT <id> FROM <users> WHERE <users.name> = :name", M{":name": "ann"}))
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, `SELECT "id" FROM "pre_users" WHERE "pre_users"."name" = :name`)
	checkParams(c, stmt.Params, []binding{{":name", "ann", expr.TypeString}}, nil)

	// A fragment without markers is unchanged.
	stmt, err = comp.Query(expr.NewRaw("SELECT 1 WHERE 'a<b>' = ?", nil))
	c.Assert(err, IsNil)
	c.Check(stmt.SQL, Equals, "SELECT 1 WHERE 'a<b>' = ?")

	_, err = comp.Query(expr.NewRaw("SELECT 'oops", nil))
	c.Check(err, ErrorMatches, "cannot parse fragment: column 8: missing closing quote in string literal")
}

func (s *StatementSuite) TestCompile(c *C) {
	comp := compiler(dialect.SQLite, "")
	var tests = []struct {
		kind expr.Kind
		desc any
		sql  []string
	}{
		{expr.KindSelect, "users", []string{`SELECT * FROM "users"`}},
		{expr.KindCount, D{{"FROM", "users"}, {"WHERE", D{{"age[>]", 3}}}}, []string{`SELECT COUNT(*) FROM "users" WHERE "age" > :p0`}},
		{expr.KindInsert, D{{"TABLE", "users"}, {"VALUES", D{{"name", "x"}}}}, []string{`INSERT INTO "users" ("name") VALUES (:p0)`}},
		{expr.KindUpdate, D{{"TABLE", "users"}, {"SET", D{{"name", "x"}}}, {"id", 1}}, []string{`UPDATE "users" SET "name" = :p0 WHERE "id" = :p1`}},
		{expr.KindDelete, D{{"TABLE", "users"}, {"WHERE", D{{"id", 1}}}}, []string{`DELETE FROM "users" WHERE "id" = :p0`}},
		{expr.KindDrop, "users", []string{`DROP TABLE IF EXISTS "users"`}},
		{expr.KindTruncate, "users", []string{`DELETE FROM "users"`, `UPDATE "sqlite_sequence" SET "seq" = 0 WHERE "name" = 'users'`}},
		{expr.KindQuery, "SELECT <id> FROM <users>", []string{`SELECT "id" FROM "users"`}},
	}
	for i, t := range tests {
		comment := Commentf("test %d failed (%s)", i, t.kind)
		stmts, err := comp.Compile(t.kind, t.desc)
		c.Assert(err, IsNil, comment)
		c.Assert(stmts, HasLen, len(t.sql), comment)
		for j, stmt := range stmts {
			c.Check(stmt.SQL, Equals, t.sql[j], comment)
		}
	}

	_, err := comp.Compile(expr.KindDelete, D{{"WHERE", D{{"id", 1}}}})
	c.Check(errors.Is(err, expr.ErrMissingTable), Equals, true)
}
