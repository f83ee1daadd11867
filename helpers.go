// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package querymap

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/canonical/querymap/internal/expr"
)

// executor is implemented by DB and TX.
type executor interface {
	Builder() *Builder
	Query(ctx context.Context, stmt *Statement) *Query
}

var (
	_ executor = (*DB)(nil)
	_ executor = (*TX)(nil)
)

func selectRows(ctx context.Context, e executor, desc any) ([]M, error) {
	stmt, err := e.Builder().Select(desc)
	if err != nil {
		return nil, err
	}
	return e.Query(ctx, stmt).GetAll()
}

// getRow returns the first matching row. When a single column is selected
// its value is returned instead of the row.
func getRow(ctx context.Context, e executor, desc any) (any, error) {
	d, err := expr.SelectFormat(desc)
	if err != nil {
		return nil, err
	}
	stmt, err := e.Builder().Select(d.Set(expr.KeyLimit, 1))
	if err != nil {
		return nil, err
	}
	rows, err := e.Query(ctx, stmt).GetAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	columns, _ := d.Get(expr.KeySelect)
	if singleColumn(columns) && len(rows[0]) == 1 {
		for _, v := range rows[0] {
			return v, nil
		}
	}
	return rows[0], nil
}

func singleColumn(columns any) bool {
	switch c := columns.(type) {
	case string:
		return !strings.Contains(c, "*")
	case S:
		return len(c) == 1 && singleColumn(c[0])
	case []string:
		return len(c) == 1 && singleColumn(c[0])
	}
	return false
}

func has(ctx context.Context, e executor, desc any) (bool, error) {
	stmt, err := e.Builder().Has(desc)
	if err != nil {
		return false, err
	}
	var exists any
	if err := e.Query(ctx, stmt).Get(&exists); err != nil {
		if errors.Is(err, ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	switch v := exists.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case []byte:
		return string(v) == "1" || string(v) == "t", nil
	case string:
		return v == "1" || v == "t", nil
	}
	return exists != nil, nil
}

func aggregate(ctx context.Context, e executor, fn string, desc any) (any, error) {
	stmt, err := e.Builder().Aggregate(fn, desc)
	if err != nil {
		return nil, err
	}
	var v any
	if err := e.Query(ctx, stmt).Get(&v); err != nil {
		return nil, err
	}
	if b, ok := v.([]byte); ok {
		return string(b), nil
	}
	return v, nil
}

func execStmt(ctx context.Context, e executor, stmt *Statement, err error) (sql.Result, error) {
	if err != nil {
		return nil, err
	}
	if stmt == nil {
		return nil, nil
	}
	outcome, err := e.Query(ctx, stmt).Exec()
	if err != nil {
		return nil, err
	}
	return outcome.Result(), nil
}

func lastInsertID(ctx context.Context, e executor, result sql.Result) (int64, error) {
	if e.Builder().Family() == PostgreSQL {
		stmt, err := e.Builder().Query(NewRaw("SELECT LASTVAL()", nil))
		if err != nil {
			return 0, err
		}
		var id int64
		if err := e.Query(ctx, stmt).Get(&id); err != nil {
			return 0, errors.Wrap(err, "cannot get last insert id")
		}
		return id, nil
	}
	if result == nil {
		return 0, errors.New("cannot get last insert id: no result")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "cannot get last insert id")
	}
	return id, nil
}

// Select returns the rows matching desc.
func (db *DB) Select(ctx context.Context, desc any) ([]M, error) {
	return selectRows(ctx, db, desc)
}

// Get returns the first row matching desc, or the value of its only column
// when desc selects a single column. It returns [ErrNoRows] if nothing
// matches.
func (db *DB) Get(ctx context.Context, desc any) (any, error) {
	return getRow(ctx, db, desc)
}

// Has reports whether any row matches desc.
func (db *DB) Has(ctx context.Context, desc any) (bool, error) {
	return has(ctx, db, desc)
}

// Count returns the number of rows matching desc.
func (db *DB) Count(ctx context.Context, desc any) (int64, error) {
	stmt, err := db.builder.Aggregate("COUNT", desc)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.Query(ctx, stmt).Get(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Max returns the largest value of the selected column.
func (db *DB) Max(ctx context.Context, desc any) (any, error) {
	return aggregate(ctx, db, "MAX", desc)
}

// Min returns the smallest value of the selected column.
func (db *DB) Min(ctx context.Context, desc any) (any, error) {
	return aggregate(ctx, db, "MIN", desc)
}

// Avg returns the average value of the selected column.
func (db *DB) Avg(ctx context.Context, desc any) (any, error) {
	return aggregate(ctx, db, "AVG", desc)
}

// Sum returns the sum of the selected column.
func (db *DB) Sum(ctx context.Context, desc any) (any, error) {
	return aggregate(ctx, db, "SUM", desc)
}

// Rand returns the rows matching desc in random order.
func (db *DB) Rand(ctx context.Context, desc any) ([]M, error) {
	d, err := db.builder.Rand(desc)
	if err != nil {
		return nil, err
	}
	return selectRows(ctx, db, d)
}

// Insert inserts one row or a sequence of rows with identical keys.
func (db *DB) Insert(ctx context.Context, table string, rows any, modifiers ...string) (sql.Result, error) {
	stmt, err := db.builder.Insert(table, rows, modifiers...)
	return execStmt(ctx, db, stmt, err)
}

// LastInsertID returns the id generated by the last insert. PostgreSQL
// reads it from the session, so call it inside a transaction there.
func (db *DB) LastInsertID(ctx context.Context, result sql.Result) (int64, error) {
	return lastInsertID(ctx, db, result)
}

// Update updates the rows matching where.
func (db *DB) Update(ctx context.Context, table string, data any, where any) (sql.Result, error) {
	stmt, err := db.builder.Update(table, data, where)
	return execStmt(ctx, db, stmt, err)
}

// Delete deletes the rows matching where.
func (db *DB) Delete(ctx context.Context, table string, where any) (sql.Result, error) {
	stmt, err := db.builder.Delete(table, where)
	return execStmt(ctx, db, stmt, err)
}

// Replace substitutes text in the columns of the rows matching where. The
// result is nil when there is nothing to replace.
func (db *DB) Replace(ctx context.Context, table string, columns any, where any) (sql.Result, error) {
	stmt, err := db.builder.Replace(table, columns, where)
	return execStmt(ctx, db, stmt, err)
}

// Truncate empties a table.
func (db *DB) Truncate(ctx context.Context, table string) error {
	stmts, err := db.builder.Truncate(table)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if err := db.Query(ctx, stmt).Run(); err != nil {
			return err
		}
	}
	return nil
}

// Create creates a table if it does not exist.
func (db *DB) Create(ctx context.Context, table string, columns any, options any) error {
	stmt, err := db.builder.Create(table, columns, options)
	if err != nil {
		return err
	}
	return db.Query(ctx, stmt).Run()
}

// Drop drops a table if it exists.
func (db *DB) Drop(ctx context.Context, table string) error {
	stmt, err := db.builder.Drop(table)
	if err != nil {
		return err
	}
	return db.Query(ctx, stmt).Run()
}

// Raw builds a query from a raw fragment.
func (db *DB) Raw(ctx context.Context, raw Raw) *Query {
	stmt, err := db.builder.Query(raw)
	if err != nil {
		return &Query{ctx: ctx, err: err}
	}
	return db.Query(ctx, stmt)
}

// Select returns the rows matching desc.
func (tx *TX) Select(ctx context.Context, desc any) ([]M, error) {
	return selectRows(ctx, tx, desc)
}

// Get returns the first row matching desc, or the value of its only column.
func (tx *TX) Get(ctx context.Context, desc any) (any, error) {
	return getRow(ctx, tx, desc)
}

// Has reports whether any row matches desc.
func (tx *TX) Has(ctx context.Context, desc any) (bool, error) {
	return has(ctx, tx, desc)
}

// Insert inserts one row or a sequence of rows with identical keys.
func (tx *TX) Insert(ctx context.Context, table string, rows any, modifiers ...string) (sql.Result, error) {
	stmt, err := tx.Builder().Insert(table, rows, modifiers...)
	return execStmt(ctx, tx, stmt, err)
}

// LastInsertID returns the id generated by the last insert.
func (tx *TX) LastInsertID(ctx context.Context, result sql.Result) (int64, error) {
	return lastInsertID(ctx, tx, result)
}

// Update updates the rows matching where.
func (tx *TX) Update(ctx context.Context, table string, data any, where any) (sql.Result, error) {
	stmt, err := tx.Builder().Update(table, data, where)
	return execStmt(ctx, tx, stmt, err)
}

// Delete deletes the rows matching where.
func (tx *TX) Delete(ctx context.Context, table string, where any) (sql.Result, error) {
	stmt, err := tx.Builder().Delete(table, where)
	return execStmt(ctx, tx, stmt, err)
}
