// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package querymap

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/canonical/querymap/internal/connerr"
	"github.com/canonical/querymap/internal/dialect"
)

// DB runs compiled statements on a database. Statements are prepared once
// per DB and cached. A statement that fails because the connection was lost
// is retried once on a fresh connection.
type DB struct {
	// mutex guards sqldb, which is replaced on reconnect.
	mutex   sync.RWMutex
	sqldb   *sql.DB
	builder *Builder
	cache   *statementCache
	logger  *slog.Logger
	// reopen opens a new handle after the connection was lost. It is nil
	// for handles wrapped with NewDB.
	reopen func(context.Context) (*sql.DB, error)
	debug  atomic.Bool
}

// Open connects to the database described by cfg. The connection is
// checked and cfg.Commands are run before Open returns.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	family, err := cfg.Family()
	if err != nil {
		return nil, err
	}
	driverName, err := cfg.DriverName()
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.DataSourceName()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	open := func(ctx context.Context) (*sql.DB, error) {
		sqldb, err := sql.Open(driverName, dsn)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot open %s database", family)
		}
		if err := sqldb.PingContext(ctx); err != nil {
			sqldb.Close()
			return nil, errors.Wrapf(err, "cannot connect to %s database", family)
		}
		for _, command := range cfg.Commands {
			if _, err := sqldb.ExecContext(ctx, command); err != nil {
				sqldb.Close()
				return nil, errors.Wrapf(err, "cannot run connection command %q", command)
			}
		}
		return sqldb, nil
	}
	sqldb, err := open(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", "family", family, "driver", driverName)

	db := NewDB(sqldb, NewBuilder(family, cfg.Prefix, logger))
	db.logger = logger
	db.reopen = open
	return db, nil
}

// NewDB creates a new [DB] from a [sql.DB] and the builder matching its
// family. The connection is not re-established if it is lost; the pool of
// sqldb dials a new one instead.
func NewDB(sqldb *sql.DB, builder *Builder) *DB {
	if sqldb == nil || builder == nil {
		return nil
	}
	return &DB{
		sqldb:   sqldb,
		builder: builder,
		cache:   newStatementCache(),
		logger:  slog.New(slog.DiscardHandler),
	}
}

// WithLogger sets the logger of the DB and returns it.
func (db *DB) WithLogger(logger *slog.Logger) *DB {
	if logger != nil {
		db.logger = logger
	}
	return db
}

// Builder returns the statement builder of the database.
func (db *DB) Builder() *Builder {
	return db.builder
}

// PlainDB returns the underlying database object.
func (db *DB) PlainDB() *sql.DB {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return db.sqldb
}

// Close closes the cached statements and the database.
func (db *DB) Close() error {
	db.cache.evict()
	return db.PlainDB().Close()
}

// Debug makes the next query log its rendered SQL instead of running it.
// The query then returns no rows and no error.
func (db *DB) Debug() *DB {
	db.debug.Store(true)
	return db
}

// Query builds a new query from a context and a compiled [Statement]. The
// query is run on the database when one of [Query.Iter], [Query.Run],
// [Query.Get] or [Query.GetAll] is executed.
func (db *DB) Query(ctx context.Context, stmt *Statement) *Query {
	if ctx == nil {
		ctx = context.Background()
	}
	if stmt == nil {
		return &Query{ctx: ctx, err: errors.New("cannot run nil statement")}
	}
	if db.debug.CompareAndSwap(true, false) {
		db.logger.Info("debug statement", "sql", stmt.Render())
		return &Query{
			ctx:   ctx,
			stmt:  stmt,
			query: func(context.Context) (*sql.Rows, error) { return nil, nil },
			exec:  func(context.Context) (sql.Result, error) { return nil, nil },
		}
	}

	query, args, err := stmt.Params.Args(stmt.SQL, db.style())
	if err != nil {
		return &Query{ctx: ctx, err: err}
	}
	q := &Query{ctx: ctx, stmt: stmt}
	q.query = func(ctx context.Context) (rows *sql.Rows, err error) {
		err = db.withStmt(ctx, query, func(sqlstmt *sql.Stmt) error {
			rows, err = sqlstmt.QueryContext(ctx, args...)
			return err
		})
		return rows, err
	}
	q.exec = func(ctx context.Context) (result sql.Result, err error) {
		err = db.withStmt(ctx, query, func(sqlstmt *sql.Stmt) error {
			result, err = sqlstmt.ExecContext(ctx, args...)
			return err
		})
		return result, err
	}
	return q
}

// Exec runs a compiled statement and returns its result.
func (db *DB) Exec(ctx context.Context, stmt *Statement) (sql.Result, error) {
	outcome, err := db.Query(ctx, stmt).Exec()
	if err != nil {
		return nil, err
	}
	return outcome.Result(), nil
}

func (db *DB) style() dialect.PlaceholderStyle {
	return db.builder.compiler.Dialect().Placeholder()
}

// withStmt calls fn with the prepared statement for query. If the
// connection was lost the cache is emptied, the connection re-established
// and fn called once more.
func (db *DB) withStmt(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	err := db.tryStmt(ctx, query, fn)
	if err == nil {
		return nil
	}
	if !connerr.Dropped(err) || ctx.Err() != nil {
		return errors.Wrap(err, "cannot run statement")
	}
	db.logger.Warn("connection lost, retrying", "err", err)
	if rerr := db.reconnect(ctx); rerr != nil {
		return errors.Wrapf(rerr, "cannot reconnect after %v", err)
	}
	if err := db.tryStmt(ctx, query, fn); err != nil {
		return errors.Wrap(err, "cannot run statement after reconnecting")
	}
	return nil
}

func (db *DB) tryStmt(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	sqlstmt, release, err := db.cache.acquire(ctx, db.PlainDB(), query)
	if err != nil {
		return err
	}
	defer release()
	return fn(sqlstmt)
}

// reconnect drops the cached statements and, for databases opened with
// Open, replaces the handle with a new one.
func (db *DB) reconnect(ctx context.Context) error {
	db.cache.evict()
	if db.reopen == nil {
		return nil
	}
	sqldb, err := db.reopen(ctx)
	if err != nil {
		return err
	}
	db.mutex.Lock()
	old := db.sqldb
	db.sqldb = sqldb
	db.mutex.Unlock()
	old.Close()
	db.logger.Info("database reconnected", "family", db.builder.Family())
	return nil
}
