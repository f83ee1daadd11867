// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package querymap

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// This file contains a wrapper sql.Driver over the SQLite driver which counts
// the prepared statements opened and closed by each test, and the queries run
// directly on the connection or through a prepared statement.

const testNameTag = "testName"

// driverStats are the counters of a single test.
type driverStats struct {
	opened      int
	closed      int
	connQueries int
	stmtQueries int
}

var (
	statsMutex sync.Mutex
	stats      = map[string]*driverStats{}
)

// record applies fn to the counters of the named test.
func record(testName string, fn func(*driverStats)) {
	statsMutex.Lock()
	defer statsMutex.Unlock()
	st, ok := stats[testName]
	if !ok {
		st = &driverStats{}
		stats[testName] = st
	}
	fn(st)
}

// statsOf returns a copy of the counters of the named test.
func statsOf(testName string) driverStats {
	statsMutex.Lock()
	defer statsMutex.Unlock()
	if st, ok := stats[testName]; ok {
		return *st
	}
	return driverStats{}
}

type countingDriver struct {
	driver.Driver
}

type countingConn struct {
	testName string
	*sqlite3.SQLiteConn
}

type countingStmt struct {
	testName string
	*sqlite3.SQLiteStmt
}

func (s *countingStmt) Close() error {
	record(s.testName, func(st *driverStats) { st.closed++ })
	return s.SQLiteStmt.Close()
}

func (s *countingStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	rows, err := s.SQLiteStmt.QueryContext(ctx, args)
	if err == nil {
		record(s.testName, func(st *driverStats) { st.stmtQueries++ })
	}
	return rows, err
}

func (s *countingStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	res, err := s.SQLiteStmt.ExecContext(ctx, args)
	if err == nil {
		record(s.testName, func(st *driverStats) { st.stmtQueries++ })
	}
	return res, err
}

func (c *countingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	s, err := c.SQLiteConn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sm, ok := s.(*sqlite3.SQLiteStmt)
	if !ok {
		panic(fmt.Sprintf("internal error: base driver is not SQLite, got %T", s))
	}
	record(c.testName, func(st *driverStats) { st.opened++ })
	return &countingStmt{SQLiteStmt: sm, testName: c.testName}, nil
}

func (c *countingConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *countingConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	rows, err := c.SQLiteConn.QueryContext(ctx, query, args)
	if err == nil {
		record(c.testName, func(st *driverStats) { st.connQueries++ })
	}
	return rows, err
}

func (c *countingConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	res, err := c.SQLiteConn.ExecContext(ctx, query, args)
	if err == nil {
		record(c.testName, func(st *driverStats) { st.connQueries++ })
	}
	return res, err
}

// Open expects the DSN to carry the test name in the testName parameter.
func (d *countingDriver) Open(name string) (driver.Conn, error) {
	var testName string
	if _, params, ok := strings.Cut(name, "?"); ok {
		for _, p := range strings.Split(params, "&") {
			if v, ok := strings.CutPrefix(p, testNameTag+"="); ok {
				testName = v
			}
		}
	}
	if testName == "" {
		panic("internal error: testName is not found in the db DSN")
	}
	baseConn, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	conn, ok := baseConn.(*sqlite3.SQLiteConn)
	if !ok {
		panic("internal error: base driver is not SQLite")
	}
	return &countingConn{SQLiteConn: conn, testName: testName}, nil
}

func init() {
	sql.Register("sqlite3_counting", &countingDriver{&sqlite3.SQLiteDriver{}})
}
