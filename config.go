// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package querymap

import (
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/canonical/querymap/internal/dialect"
)

// Config describes how to connect to a database.
type Config struct {
	// Type is the database family: mysql, mariadb, pgsql, postgres, sqlite,
	// mssql, oracle or sybase.
	Type string `koanf:"type"`

	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Socket   string `koanf:"socket"`
	Database string `koanf:"database"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Charset  string `koanf:"charset"`
	// Collation is applied by the MySQL driver on connect.
	Collation string `koanf:"collation"`
	// File is the database file of SQLite. It defaults to Database.
	File string `koanf:"file"`
	// Options are added to the data source name as driver parameters.
	Options map[string]string `koanf:"options"`

	// Driver overrides the database/sql driver name.
	Driver string `koanf:"driver"`
	// DSN overrides the data source name built from the fields above.
	DSN string `koanf:"dsn"`

	// Prefix is prepended to every table name.
	Prefix string `koanf:"prefix"`
	// Commands are run on every new connection handle, in order.
	Commands []string `koanf:"commands"`

	// Logger receives connection and debug messages. It defaults to a
	// logger that discards everything.
	Logger *slog.Logger `koanf:"-"`
}

// Family returns the database family named by Type.
func (cfg Config) Family() (dialect.Family, error) {
	return dialect.ParseFamily(cfg.Type)
}

// DriverName returns the database/sql driver name for the configuration.
func (cfg Config) DriverName() (string, error) {
	if cfg.Driver != "" {
		return cfg.Driver, nil
	}
	family, err := cfg.Family()
	if err != nil {
		return "", err
	}
	switch family {
	case dialect.MySQL:
		return "mysql", nil
	case dialect.PostgreSQL:
		return "pgx", nil
	case dialect.SQLite:
		return "sqlite3", nil
	}
	return "", errors.Errorf("cannot choose driver for %s: set Driver and DSN", family)
}

// DataSourceName returns the data source name for the configuration.
func (cfg Config) DataSourceName() (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	family, err := cfg.Family()
	if err != nil {
		return "", err
	}
	switch family {
	case dialect.MySQL:
		return cfg.mysqlDSN(), nil
	case dialect.PostgreSQL:
		return cfg.pgsqlDSN(), nil
	case dialect.SQLite:
		file := cfg.File
		if file == "" {
			file = cfg.Database
		}
		if file == "" {
			return "", errors.New("cannot build sqlite data source: missing database file")
		}
		return file + optionQuery(cfg.Options), nil
	}
	return "", errors.Errorf("cannot build data source for %s: set DSN", family)
}

func (cfg Config) mysqlDSN() string {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Database
	if cfg.Socket != "" {
		mc.Net = "unix"
		mc.Addr = cfg.Socket
	} else {
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		host := cfg.Host
		if host == "" {
			host = "localhost"
		}
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if cfg.Collation != "" {
		mc.Collation = cfg.Collation
	}
	params := map[string]string{}
	if cfg.Charset != "" {
		params["charset"] = cfg.Charset
	}
	for k, v := range cfg.Options {
		params[k] = v
	}
	if len(params) > 0 {
		mc.Params = params
	}
	return mc.FormatDSN()
}

// pgsqlDSN builds a keyword/value connection string.
func (cfg Config) pgsqlDSN() string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	host := cfg.Host
	if cfg.Socket != "" {
		host = cfg.Socket
	}
	pairs := [][2]string{
		{"host", host},
		{"port", strconv.Itoa(port)},
		{"dbname", cfg.Database},
		{"user", cfg.Username},
		{"password", cfg.Password},
	}
	if cfg.Charset != "" {
		pairs = append(pairs, [2]string{"client_encoding", cfg.Charset})
	}
	for _, k := range sortedKeys(cfg.Options) {
		pairs = append(pairs, [2]string{k, cfg.Options[k]})
	}
	var parts []string
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		parts = append(parts, p[0]+"="+pgQuote(p[1]))
	}
	return strings.Join(parts, " ")
}

// pgQuote quotes a connection string value when it contains blanks, quotes
// or backslashes.
func pgQuote(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func optionQuery(options map[string]string) string {
	if len(options) == 0 {
		return ""
	}
	query := url.Values{}
	for k, v := range options {
		query.Set(k, v)
	}
	return "?" + query.Encode()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
