/*
Package expr compiles query descriptors into parameterized SQL. A descriptor
is a nested map describing a statement: the table, the selected columns,
joins, conditions and the ordering, grouping and limit clauses. The compiler
turns it into SQL text for one dialect together with the ordered, typed
parameters the text refers to.

# Conditions

A condition map is keyed by field and an optional bracketed operator:

	"age[>]": 18          "age" > :p0
	"name[~]": "ann"      ("name" LIKE :p1)
	"id": []int{1, 2}     "id" IN (:p2, :p3)
	"deleted": nil        "deleted" IS NULL

The keys AND and OR (optionally followed by a "#comment") open nested
groups. Positional entries compare two columns, as in "a.x[>=]b.y".

# Placeholders

Every statement is compiled with fresh state: placeholders are numbered
:p0, :p1, ... in the order they are bound. A range binds :pNa and :pNb.
Raw fragments keep the names of their own parameters.

# Identifiers

Table and column names must match \w+(\.\w+)?. They are quoted for the
dialect and the table prefix is applied. Raw fragments may name identifiers
with <column> and <table.column> markers which are quoted the same way.
*/
package expr
