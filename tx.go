// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package querymap

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/pkg/errors"
)

// TX represents a transaction on the database.
type TX struct {
	sqltx *sql.Tx
	db    *DB
	done  int32
}

func (tx *TX) isDone() bool {
	return atomic.LoadInt32(&tx.done) == 1
}

func (tx *TX) setDone() error {
	if !atomic.CompareAndSwapInt32(&tx.done, 0, 1) {
		return ErrTXDone
	}
	return nil
}

// TXOptions holds the transaction options to be used in [DB.Begin].
type TXOptions struct {
	// Isolation is the transaction isolation level.
	// If zero, the driver or database's default level is used.
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (txopts *TXOptions) plainTXOptions() *sql.TxOptions {
	if txopts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: txopts.Isolation, ReadOnly: txopts.ReadOnly}
}

// Begin starts a transaction. A transaction must be ended
// with a [TX.Commit] or [TX.Rollback].
func (db *DB) Begin(ctx context.Context, opts *TXOptions) (*TX, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sqltx, err := db.PlainDB().BeginTx(ctx, opts.plainTXOptions())
	if err != nil {
		return nil, errors.Wrap(err, "cannot begin transaction")
	}
	return &TX{sqltx: sqltx, db: db}, nil
}

// Commit commits the transaction.
func (tx *TX) Commit() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Commit()
	}
	return err
}

// Rollback aborts the transaction.
func (tx *TX) Rollback() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Rollback()
	}
	return err
}

// Builder returns the statement builder of the transaction's database.
func (tx *TX) Builder() *Builder {
	return tx.db.builder
}

// Query builds a new query from a context and a compiled [Statement] to be
// run inside the transaction. Statements in a transaction are never
// retried.
func (tx *TX) Query(ctx context.Context, stmt *Statement) *Query {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx.isDone() {
		return &Query{ctx: ctx, err: ErrTXDone}
	}
	if stmt == nil {
		return &Query{ctx: ctx, err: errors.New("cannot run nil statement")}
	}
	query, args, err := stmt.Params.Args(stmt.SQL, tx.db.style())
	if err != nil {
		return &Query{ctx: ctx, err: err}
	}
	q := &Query{ctx: ctx, stmt: stmt}
	q.query = func(ctx context.Context) (*sql.Rows, error) {
		// Register the prepared statement on the transaction. Note that
		// this does not re-prepare the statement on the driver. The txstmt
		// is closed by database/sql when the transaction ends.
		if sqlstmt, release, ok := tx.db.cache.use(query); ok {
			defer release()
			return tx.sqltx.StmtContext(ctx, sqlstmt).QueryContext(ctx, args...)
		}
		return tx.sqltx.QueryContext(ctx, query, args...)
	}
	q.exec = func(ctx context.Context) (sql.Result, error) {
		if sqlstmt, release, ok := tx.db.cache.use(query); ok {
			defer release()
			return tx.sqltx.StmtContext(ctx, sqlstmt).ExecContext(ctx, args...)
		}
		return tx.sqltx.ExecContext(ctx, query, args...)
	}
	return q
}

// Exec runs a compiled statement inside the transaction and returns its
// result.
func (tx *TX) Exec(ctx context.Context, stmt *Statement) (sql.Result, error) {
	outcome, err := tx.Query(ctx, stmt).Exec()
	if err != nil {
		return nil, err
	}
	return outcome.Result(), nil
}

// Action runs fn inside a transaction. The transaction is committed if fn
// returns nil and rolled back otherwise. Returning [ErrRollback] rolls back
// without reporting an error.
func (db *DB) Action(ctx context.Context, fn func(*TX) error) (err error) {
	tx, err := db.Begin(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, ErrTXDone) {
			db.logger.Warn("cannot roll back transaction", "err", rerr)
		}
		if errors.Is(err, ErrRollback) {
			return nil
		}
		return err
	}
	if err := tx.Commit(); err != nil && !errors.Is(err, ErrTXDone) {
		return errors.Wrap(err, "cannot commit transaction")
	}
	return nil
}
