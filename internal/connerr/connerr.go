// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package connerr recognises errors raised when the connection to the
// database server has gone away, so that a statement can be reissued on a
// fresh connection.
package connerr

import (
	"database/sql/driver"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// MySQL client error numbers for a lost server.
const (
	mysqlServerGone = 2006
	mysqlServerLost = 2013
)

// mysqlMessages are the texts of the client errors above, which some
// proxies return without the error number.
var mysqlMessages = []string{
	"server has gone away",
	"lost connection to mysql server",
}

// Dropped reports whether err means the connection was lost.
func Dropped(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlServerGone || myErr.Number == mysqlServerLost
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return connectionClass(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return connectionClass(string(pqErr.Code))
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range mysqlMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// connectionClass reports whether a SQLSTATE code is in class 08,
// connection exception.
func connectionClass(code string) bool {
	return strings.HasPrefix(code, "08")
}
