// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package cli provides the command line interface of querymap.
package cli

import (
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/canonical/querymap"
)

// options are the global flags of the command line.
type options struct {
	cfgFile string
	verbose bool
	output  string
}

// NewRootCmd returns the querymap command with its subcommands.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "querymap",
		Short: "Compile query descriptors to SQL and run them",
		Long: `querymap compiles statement descriptors written in YAML or JSON into
parameterized SQL for MySQL, PostgreSQL, SQLite, MSSQL, Oracle and Sybase.

A descriptor file holds one or more documents of the form

  kind: select
  descriptor:
    FROM: person
    SELECT: [name, team]
    WHERE:
      age[>]: 18

Raw SQL fragments are tagged with !raw.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "database config file (YAML)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug messages")
	pf.StringVarP(&opts.output, "output", "o", outputTable, "output format (table|json)")
	pf.String("type", "", "database type (mysql|pgsql|sqlite|mssql|oracle|sybase)")
	pf.String("host", "", "database host")
	pf.Int("port", 0, "database port")
	pf.String("socket", "", "database unix socket")
	pf.String("database", "", "database name")
	pf.String("username", "", "database user")
	pf.String("password", "", "database password")
	pf.String("charset", "", "connection character set")
	pf.String("file", "", "SQLite database file")
	pf.String("driver", "", "database/sql driver name")
	pf.String("dsn", "", "data source name, overriding the settings above")
	pf.String("prefix", "", "table name prefix")

	_ = root.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{outputTable, outputJSON}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = root.RegisterFlagCompletionFunc("type", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"mysql", "pgsql", "sqlite", "mssql", "oracle", "sybase"}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(newCompileCmd(opts))
	root.AddCommand(newRenderCmd(opts))
	root.AddCommand(newExecCmd(opts))
	root.AddCommand(newKindsCmd())
	return root
}

// Execute runs the querymap command.
func Execute() int {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln("error:", err)
		return 1
	}
	return 0
}

func (o *options) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// config loads the database configuration of the command.
func (o *options) config(cmd *cobra.Command) (querymap.Config, error) {
	if o.output != outputTable && o.output != outputJSON {
		return querymap.Config{}, errors.Errorf("unknown output format %q", o.output)
	}
	cfg, err := LoadConfig(o.cfgFile, cmd.Root().PersistentFlags())
	if err != nil {
		return querymap.Config{}, err
	}
	cfg.Logger = o.logger(cmd)
	return cfg, nil
}

// requests reads the descriptor files named by args. "-" is the standard
// input.
func requests(cmd *cobra.Command, args []string) ([]Request, error) {
	var all []Request
	for _, name := range args {
		var reqs []Request
		var err error
		if name == "-" {
			reqs, err = ReadRequests(cmd.InOrStdin())
		} else {
			var f *os.File
			f, err = os.Open(name)
			if err != nil {
				return nil, err
			}
			reqs, err = ReadRequests(f)
			f.Close()
		}
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read %s", name)
		}
		all = append(all, reqs...)
	}
	return all, nil
}
