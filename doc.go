/*
Package querymap builds SQL statements from nested maps and runs them on
MySQL, PostgreSQL and SQLite databases. The same descriptors compile for
MSSQL, Oracle and Sybase.

A descriptor names the table, the columns, the joins and the conditions of a
statement. The package compiles it into SQL for the dialect of the database
and binds every value as a typed parameter, so values never appear in the
SQL text.

# Basics

Open a database from a [Config]:

	db, err := querymap.Open(ctx, querymap.Config{Type: "sqlite", File: "app.db"})

Rows are read with the high-level helpers:

	people, err := db.Select(ctx, querymap.M{
		"FROM":   "person",
		"SELECT": querymap.S{"name", "team"},
		"WHERE":  querymap.M{"age[>]": 18, "team": querymap.S{"engineering", "legal"}},
		"ORDER":  querymap.D{{"name", "ASC"}},
		"LIMIT":  10,
	})

which runs

	SELECT "name","team" FROM "person" WHERE "age" > :p0 AND "team" IN (:p1, :p2) ORDER BY "name" ASC LIMIT 10

with the placeholders rewritten to the style of the driver.

# Conditions

A condition key is a column name optionally followed by a bracketed
operator:

	"age[>=]": 18           "age" >= :p0
	"age[<>]": S{18, 30}    ("age" BETWEEN :p0a AND :p0b)
	"name[~]": "ann"        ("name" LIKE :p0)
	"name[!]": nil          "name" IS NOT NULL
	"AND #adults": M{...}   a nested group joined by AND

Maps are compiled with their keys in sorted order. Use [D] where the order
of conditions matters.

# Raw fragments

A [Raw] fragment is inserted into the SQL as it is. Inside it, <column> and
<table.column> are quoted for the dialect and :name placeholders are bound
to its parameters:

	querymap.NewRaw("LOWER(<name>) = :name", querymap.M{"name": "ann"})

# Statements

Every compiled [Statement] carries its SQL and its [Params]. Statements can
be built without a database through a [Builder]. They are prepared on first
use by a [DB] and the prepared statement is reused by later statements with
the same SQL. A statement that fails because the connection was lost is
retried once after reconnecting.
*/
package querymap
