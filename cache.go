// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package querymap

import (
	"context"
	"database/sql"
	"sync"
)

// statementCache holds the driver prepared statements of a DB, indexed by
// the driver SQL text. Compiled statements are values, so two compilations
// of the same descriptor share one prepared statement.
//
// A statement is handed out with a release function. Statements dropped
// from the cache while in use are closed by their last release.
//
// The mutex must be locked when accessing stmts or the fields of an entry.
type statementCache struct {
	stmts map[string]*cachedStmt
	mutex sync.Mutex
}

type cachedStmt struct {
	sqlstmt *sql.Stmt
	users   int
	dropped bool
}

// maxCachedStatements bounds the cache. When it is full every cached
// statement is dropped before the next one is added.
const maxCachedStatements = 256

func newStatementCache() *statementCache {
	return &statementCache{stmts: map[string]*cachedStmt{}}
}

// prepareSubstrate is an object that queries can be prepared on, e.g. a sql.DB
// or sql.Conn.
type prepareSubstrate interface {
	PrepareContext(context.Context, string) (*sql.Stmt, error)
}

// use returns the cached statement for query, if there is one. The caller
// must call release once done with it.
func (sc *statementCache) use(query string) (sqlstmt *sql.Stmt, release func(), ok bool) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	cs, ok := sc.stmts[query]
	if !ok {
		return nil, nil, false
	}
	cs.users++
	return cs.sqlstmt, sc.releaser(cs), true
}

// acquire returns the prepared statement for query, preparing it on ps if
// it is not cached yet. The caller must call release once done with it.
func (sc *statementCache) acquire(ctx context.Context, ps prepareSubstrate, query string) (sqlstmt *sql.Stmt, release func(), err error) {
	if sqlstmt, release, ok := sc.use(query); ok {
		return sqlstmt, release, nil
	}
	sqlstmt, err = ps.PrepareContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	// Check if a statement has been inserted by someone else since we last
	// checked.
	if cs, ok := sc.stmts[query]; ok {
		sqlstmt.Close()
		cs.users++
		return cs.sqlstmt, sc.releaser(cs), nil
	}
	if len(sc.stmts) >= maxCachedStatements {
		sc.dropAll()
	}
	cs := &cachedStmt{sqlstmt: sqlstmt, users: 1}
	sc.stmts[query] = cs
	return sqlstmt, sc.releaser(cs), nil
}

func (sc *statementCache) releaser(cs *cachedStmt) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			sc.mutex.Lock()
			defer sc.mutex.Unlock()
			cs.users--
			if cs.dropped && cs.users == 0 {
				cs.sqlstmt.Close()
			}
		})
	}
}

// dropAll forgets every statement. Idle statements are closed now and the
// others when released. The mutex must be held.
func (sc *statementCache) dropAll() {
	for query, cs := range sc.stmts {
		delete(sc.stmts, query)
		cs.dropped = true
		if cs.users == 0 {
			cs.sqlstmt.Close()
		}
	}
}

// evict drops every prepared statement.
func (sc *statementCache) evict() {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	sc.dropAll()
}

// len returns the number of cached statements.
func (sc *statementCache) len() int {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return len(sc.stmts)
}
