// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package querymap

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	. "gopkg.in/check.v1"
)

type CacheSuite struct{}

var _ = Suite(&CacheSuite{})

func (s *CacheSuite) TestPreparedStatementReuse(c *C) {
	db := s.openDB(c)
	defer db.Close()
	stmt := s.statement(c, db, `SELECT 'test'`)

	err := db.Query(nil, stmt).Run()
	c.Assert(err, IsNil)
	c.Check(db.cache.len(), Equals, 1)
	c.Check(statsOf(c.TestName()).opened, Equals, 1)

	// Running the statement again does not prepare it again.
	err = db.Query(nil, stmt).Run()
	c.Assert(err, IsNil)
	c.Check(db.cache.len(), Equals, 1)
	c.Check(statsOf(c.TestName()).opened, Equals, 1)
	c.Check(statsOf(c.TestName()).stmtQueries, Equals, 2)
}

func (s *CacheSuite) TestSameSQLSharesPreparedStatement(c *C) {
	db := s.openDB(c)
	defer db.Close()
	err := db.Create(context.Background(), "t", M{"col": S{"INTEGER"}}, nil)
	c.Assert(err, IsNil)

	// Two compilations of the same descriptor with different values produce
	// the same SQL.
	for _, v := range []int{1, 2, 3} {
		_, err := db.Insert(context.Background(), "t", M{"col": v})
		c.Assert(err, IsNil)
	}
	c.Check(db.cache.len(), Equals, 2)
	c.Check(statsOf(c.TestName()).opened, Equals, 2)

	n, err := db.Count(context.Background(), M{"FROM": "t", "WHERE": M{"col[>]": 1}})
	c.Assert(err, IsNil)
	c.Check(n, Equals, int64(2))
}

func (s *CacheSuite) TestEvictClosesStatements(c *C) {
	db := s.openDB(c)
	defer db.Close()
	for i := 0; i < 3; i++ {
		err := db.Query(nil, s.statement(c, db, fmt.Sprintf(`SELECT %d`, i))).Run()
		c.Assert(err, IsNil)
	}
	c.Check(db.cache.len(), Equals, 3)

	db.cache.evict()
	c.Check(db.cache.len(), Equals, 0)
	st := statsOf(c.TestName())
	c.Check(st.opened, Equals, 3)
	c.Check(st.closed, Equals, 3)
}

func (s *CacheSuite) TestCacheIsBounded(c *C) {
	db := s.openDB(c)
	defer db.Close()
	for i := 0; i <= maxCachedStatements; i++ {
		err := db.Query(nil, s.statement(c, db, fmt.Sprintf(`SELECT %d`, i))).Run()
		c.Assert(err, IsNil)
	}
	// The cache was emptied when it was full.
	c.Check(db.cache.len(), Equals, 1)
	st := statsOf(c.TestName())
	c.Check(st.opened, Equals, maxCachedStatements+1)
	c.Check(st.closed, Equals, maxCachedStatements)
}

func (s *CacheSuite) TestStatementInUseOutlivesCache(c *C) {
	db := s.openDB(c)
	defer db.Close()
	ctx := context.Background()
	held, release, err := db.cache.acquire(ctx, db.PlainDB(), `SELECT 'held'`)
	c.Assert(err, IsNil)

	// Filling the cache drops every statement but the held one stays open.
	for i := 0; i < maxCachedStatements; i++ {
		err := db.Query(nil, s.statement(c, db, fmt.Sprintf(`SELECT %d`, i))).Run()
		c.Assert(err, IsNil)
	}
	c.Check(db.cache.len(), Equals, 1)
	c.Check(statsOf(c.TestName()).closed, Equals, maxCachedStatements-1)

	var out string
	c.Assert(held.QueryRowContext(ctx).Scan(&out), IsNil)
	c.Check(out, Equals, "held")

	// Evicting does not close it either.
	db.cache.evict()
	c.Assert(held.QueryRowContext(ctx).Scan(&out), IsNil)
	c.Check(statsOf(c.TestName()).closed, Equals, maxCachedStatements)

	release()
	release()
	st := statsOf(c.TestName())
	c.Check(st.closed, Equals, maxCachedStatements+1)
	c.Check(st.opened, Equals, st.closed)
}

func (s *CacheSuite) TestConcurrentUseWhileFull(c *C) {
	db := s.openDB(c)
	defer db.Close()
	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				stmt, err := db.Builder().Query(NewRaw(fmt.Sprintf(`SELECT %d`, w*1000+i%50), nil))
				if err == nil {
					err = db.Query(nil, stmt).Run()
				}
				if err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		c.Check(err, IsNil)
	}
}

func (s *CacheSuite) TestClosingDBClosesStatements(c *C) {
	db := s.openDB(c)
	err := db.Query(nil, s.statement(c, db, `SELECT 'test'`)).Run()
	c.Assert(err, IsNil)

	err = db.Close()
	c.Assert(err, IsNil)
	st := statsOf(c.TestName())
	c.Check(st.opened, Equals, st.closed)
}

func (s *CacheSuite) TestPreparedStatementsInTX(c *C) {
	db := s.openDB(c)
	defer db.Close()
	stmt := s.statement(c, db, `SELECT 'test'`)

	tx, err := db.Begin(context.Background(), nil)
	c.Assert(err, IsNil)

	// A query executed on a transaction will reuse a prepared statement if it
	// exists, but it will not create one if it does not.
	err = tx.Query(context.Background(), stmt).Run()
	c.Assert(err, IsNil)
	c.Check(db.cache.len(), Equals, 0)
	c.Check(statsOf(c.TestName()).connQueries, Equals, 1)
	c.Check(statsOf(c.TestName()).stmtQueries, Equals, 0)

	// Prepare the query on the database by running it.
	err = db.Query(context.Background(), stmt).Run()
	c.Assert(err, IsNil)
	c.Check(db.cache.len(), Equals, 1)
	c.Check(statsOf(c.TestName()).stmtQueries, Equals, 1)

	// Run the statement on the transaction. This reuses the prepared
	// statement.
	err = tx.Query(context.Background(), stmt).Run()
	c.Assert(err, IsNil)
	c.Check(statsOf(c.TestName()).connQueries, Equals, 1)
	c.Check(statsOf(c.TestName()).stmtQueries, Equals, 2)

	err = tx.Commit()
	c.Assert(err, IsNil)
}

// TestLateQuery checks that a Query run after the cache was emptied prepares
// its statement again.
func (s *CacheSuite) TestLateQuery(c *C) {
	db := s.openDB(c)
	defer db.Close()
	q := db.Query(nil, s.statement(c, db, `SELECT 'hello'`))
	c.Assert(db.Query(nil, s.statement(c, db, `SELECT 'hello'`)).Run(), IsNil)

	db.cache.evict()
	c.Assert(q.Run(), IsNil)
	c.Check(statsOf(c.TestName()).opened, Equals, 2)
}

func (s *CacheSuite) openDB(c *C) *DB {
	sqldb, err := sql.Open("sqlite3_counting", "file:"+c.TestName()+"?mode=memory&cache=shared&"+testNameTag+"="+c.TestName())
	c.Assert(err, IsNil)
	return NewDB(sqldb, NewBuilder(SQLite, "", nil))
}

func (s *CacheSuite) statement(c *C, db *DB, query string) *Statement {
	stmt, err := db.Builder().Query(NewRaw(query, nil))
	c.Assert(err, IsNil)
	return stmt
}
