// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package querymap_test

import (
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	. "gopkg.in/check.v1"

	"github.com/canonical/querymap"
)

type DBSuite struct{}

var _ = Suite(&DBSuite{})

func mockDB(c *C, family querymap.Family) (*querymap.DB, sqlmock.Sqlmock) {
	sqldb, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	c.Assert(err, IsNil)
	return querymap.NewDB(sqldb, querymap.NewBuilder(family, "", nil)), mock
}

func (s *DBSuite) TestRetryOnLostConnection(c *C) {
	db, mock := mockDB(c, querymap.MySQL)
	defer db.Close()

	query := "SELECT `name` FROM `person` WHERE `id` = ? LIMIT 1"
	mock.ExpectPrepare(query).
		ExpectQuery().
		WithArgs(int64(1)).
		WillReturnError(&mysql.MySQLError{Number: 2006, Message: "MySQL server has gone away"})
	// The cached statement is dropped and prepared again.
	mock.ExpectPrepare(query).
		ExpectQuery().
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Fred"))

	name, err := db.Get(ctx, M{"FROM": "person", "SELECT": "name", "WHERE": M{"id": 1}})
	c.Assert(err, IsNil)
	c.Check(name, Equals, "Fred")
	c.Check(mock.ExpectationsWereMet(), IsNil)
}

func (s *DBSuite) TestRetryOnlyOnce(c *C) {
	db, mock := mockDB(c, querymap.PostgreSQL)
	defer db.Close()

	query := `DELETE FROM "person" WHERE "id" = $1`
	lost := &pq.Error{Code: "08006", Message: "connection failure"}
	mock.ExpectPrepare(query).ExpectExec().WithArgs(int64(7)).WillReturnError(lost)
	mock.ExpectPrepare(query).ExpectExec().WithArgs(int64(7)).WillReturnError(lost)

	_, err := db.Delete(ctx, "person", M{"id": 7})
	c.Check(err, ErrorMatches, "cannot run statement after reconnecting: .*connection failure.*")
	c.Check(mock.ExpectationsWereMet(), IsNil)
}

func (s *DBSuite) TestNoRetryOnQueryError(c *C) {
	db, mock := mockDB(c, querymap.MySQL)
	defer db.Close()

	query := "UPDATE `person` SET `age` = `age` + 1 WHERE `id` = ?"
	mock.ExpectPrepare(query).
		ExpectExec().
		WithArgs(int64(3)).
		WillReturnError(&mysql.MySQLError{Number: 1054, Message: "Unknown column 'age'"})

	_, err := db.Update(ctx, "person", M{"age[+]": 1}, M{"id": 3})
	c.Check(err, ErrorMatches, "cannot run statement: Error 1054.*Unknown column 'age'")
	c.Check(mock.ExpectationsWereMet(), IsNil)
}

func (s *DBSuite) TestPlaceholderStyles(c *C) {
	db, mock := mockDB(c, querymap.PostgreSQL)
	defer db.Close()

	// A range binds two parameters and every parameter is numbered once.
	mock.ExpectPrepare(`SELECT "name" FROM "person" WHERE ("age" BETWEEN $1 AND $2) AND "team" = $3`).
		ExpectQuery().
		WithArgs(int64(20), int64(30), "legal").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("James").AddRow("Jim"))

	rows, err := db.Select(ctx, D{
		{"FROM", "person"},
		{"SELECT", "name"},
		{"WHERE", D{{"age[<>]", S{20, 30}}, {"team", "legal"}}},
	})
	c.Assert(err, IsNil)
	c.Check(rows, DeepEquals, []M{{"name": "James"}, {"name": "Jim"}})
	c.Check(mock.ExpectationsWereMet(), IsNil)
}

func (s *DBSuite) TestLastInsertIDPostgreSQL(c *C) {
	db, mock := mockDB(c, querymap.PostgreSQL)
	defer db.Close()

	mock.ExpectPrepare(`SELECT LASTVAL()`).
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"lastval"}).AddRow(int64(12)))

	id, err := db.LastInsertID(ctx, nil)
	c.Assert(err, IsNil)
	c.Check(id, Equals, int64(12))
	c.Check(mock.ExpectationsWereMet(), IsNil)
}

func (s *DBSuite) TestDataSourceName(c *C) {
	dsn, err := querymap.Config{
		Type:     "mysql",
		Host:     "db.internal",
		Port:     3307,
		Database: "app",
		Username: "admin",
		Password: "secret",
		Charset:  "utf8mb4",
	}.DataSourceName()
	c.Assert(err, IsNil)
	mc, err := mysql.ParseDSN(dsn)
	c.Assert(err, IsNil)
	c.Check(mc.User, Equals, "admin")
	c.Check(mc.Passwd, Equals, "secret")
	c.Check(mc.Net, Equals, "tcp")
	c.Check(mc.Addr, Equals, "db.internal:3307")
	c.Check(mc.DBName, Equals, "app")
	c.Check(dsn, Matches, `.*[?&]charset=utf8mb4(&.*)?`)

	dsn, err = querymap.Config{Type: "mariadb", Socket: "/run/mysqld.sock", Database: "app"}.DataSourceName()
	c.Assert(err, IsNil)
	mc, err = mysql.ParseDSN(dsn)
	c.Assert(err, IsNil)
	c.Check(mc.Net, Equals, "unix")
	c.Check(mc.Addr, Equals, "/run/mysqld.sock")

	dsn, err = querymap.Config{
		Type:     "pgsql",
		Host:     "db.internal",
		Database: "app",
		Username: "admin",
		Password: "it's secret",
		Options:  map[string]string{"sslmode": "disable"},
	}.DataSourceName()
	c.Assert(err, IsNil)
	c.Check(dsn, Equals, `host=db.internal port=5432 dbname=app user=admin password='it\'s secret' sslmode=disable`)

	dsn, err = querymap.Config{
		Type:    "sqlite",
		File:    "app.db",
		Options: map[string]string{"mode": "ro", "_foreign_keys": "1"},
	}.DataSourceName()
	c.Assert(err, IsNil)
	c.Check(dsn, Equals, "app.db?_foreign_keys=1&mode=ro")

	dsn, err = querymap.Config{
		Type:    "sqlite",
		File:    "app.db",
		Options: map[string]string{"_busy_timeout": "5000", "cache": "a&b=c d"},
	}.DataSourceName()
	c.Assert(err, IsNil)
	c.Check(dsn, Equals, "app.db?_busy_timeout=5000&cache=a%26b%3Dc+d")

	dsn, err = querymap.Config{Type: "mssql", DSN: "sqlserver://u:p@host"}.DataSourceName()
	c.Assert(err, IsNil)
	c.Check(dsn, Equals, "sqlserver://u:p@host")
}

func (s *DBSuite) TestDriverName(c *C) {
	tests := []struct {
		config querymap.Config
		driver string
	}{
		{querymap.Config{Type: "mysql"}, "mysql"},
		{querymap.Config{Type: "postgres"}, "pgx"},
		{querymap.Config{Type: "sqlite"}, "sqlite3"},
		{querymap.Config{Type: "pgsql", Driver: "postgres"}, "postgres"},
	}
	for _, t := range tests {
		driver, err := t.config.DriverName()
		c.Assert(err, IsNil)
		c.Check(driver, Equals, t.driver)
	}
}
