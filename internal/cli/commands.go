// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/canonical/querymap"
)

// compiled is a statement together with the kind it was compiled from.
type compiled struct {
	kind querymap.Kind
	stmt *querymap.Statement
}

// compileAll compiles the requests of the descriptor files in args for the
// configured family.
func compileAll(cmd *cobra.Command, cfg querymap.Config, args []string) ([]compiled, error) {
	family, err := cfg.Family()
	if err != nil {
		return nil, err
	}
	reqs, err := requests(cmd, args)
	if err != nil {
		return nil, err
	}
	builder := querymap.NewBuilder(family, cfg.Prefix, cfg.Logger)
	var out []compiled
	for i, req := range reqs {
		stmts, err := builder.Compile(req.Kind, req.Descriptor)
		if err != nil {
			return nil, errors.Wrapf(err, "statement %d", i+1)
		}
		if len(stmts) == 0 {
			cfg.Logger.Info("nothing to compile", "statement", i+1, "kind", req.Kind)
		}
		for _, stmt := range stmts {
			out = append(out, compiled{kind: req.Kind, stmt: stmt})
		}
	}
	return out, nil
}

func newCompileCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "compile <file>...",
		Short: "Compile descriptors to parameterized SQL",
		Example: `  # Compile for PostgreSQL
  querymap compile --type pgsql query.yaml

  # Compile from the standard input as JSON
  echo '{"kind": "drop", "descriptor": "users"}' | querymap compile -o json -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			stmts, err := compileAll(cmd, cfg, args)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if opts.output == outputJSON {
				out := make([]statementJSON, len(stmts))
				for i, c := range stmts {
					out[i] = statementToJSON(c.stmt)
				}
				return writeJSON(w, out)
			}
			for _, c := range stmts {
				fmt.Fprintln(w, c.stmt.SQL+";")
				writeParams(w, c.stmt)
			}
			return nil
		},
	}
}

func newRenderCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "render <file>...",
		Short: "Print descriptors as SQL with the values inlined",
		Long: `Print descriptors as SQL with every parameter replaced by a literal.

The output is meant for reading and debugging. Run statements with exec,
which binds the parameters.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			stmts, err := compileAll(cmd, cfg, args)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if opts.output == outputJSON {
				out := make([]statementJSON, len(stmts))
				for i, c := range stmts {
					out[i] = statementToJSON(c.stmt)
					out[i].Render = c.stmt.Render()
				}
				return writeJSON(w, out)
			}
			for _, c := range stmts {
				fmt.Fprintln(w, c.stmt.Render()+";")
			}
			return nil
		},
	}
}

// rowKinds are the statement kinds that return rows.
var rowKinds = map[querymap.Kind]bool{
	"select": true,
	"has":    true,
	"rand":   true,
	"count":  true,
	"max":    true,
	"min":    true,
	"avg":    true,
	"sum":    true,
	"query":  true,
}

// querier runs statements on a database or inside a transaction.
type querier interface {
	Query(ctx context.Context, stmt *querymap.Statement) *querymap.Query
}

func newExecCmd(opts *options) *cobra.Command {
	var useTX bool
	cmd := &cobra.Command{
		Use:   "exec <file>...",
		Short: "Run descriptors against the configured database",
		Example: `  # Run against a SQLite file
  querymap exec --type sqlite --file app.db query.yaml

  # Run every statement in one transaction
  QUERYMAP_DSN="postgres://app@localhost/app" querymap exec --type pgsql --tx migrate.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			stmts, err := compileAll(cmd, cfg, args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := querymap.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			var results []statementJSON
			run := func(q querier) error {
				for i, c := range stmts {
					res, err := execOne(ctx, q, c)
					if err != nil {
						return errors.Wrapf(err, "statement %d", i+1)
					}
					results = append(results, res)
				}
				return nil
			}
			if useTX {
				err = db.Action(ctx, func(tx *querymap.TX) error { return run(tx) })
			} else {
				err = run(db)
			}
			if err != nil {
				return err
			}
			return writeResults(cmd.OutOrStdout(), opts.output, results)
		},
	}
	cmd.Flags().BoolVar(&useTX, "tx", false, "run all statements in a single transaction")
	return cmd
}

// execOne runs a compiled statement. Rows are read for the kinds that
// return them.
func execOne(ctx context.Context, q querier, c compiled) (statementJSON, error) {
	res := statementToJSON(c.stmt)
	query := q.Query(ctx, c.stmt)
	if !rowKinds[c.kind] {
		outcome, err := query.Exec()
		if err != nil {
			return res, err
		}
		res.Result = &resultJSON{RowsAffected: -1}
		if result := outcome.Result(); result != nil {
			if n, err := result.RowsAffected(); err == nil {
				res.Result.RowsAffected = n
			}
		}
		return res, nil
	}

	iter := query.Iter()
	columns := iter.Columns()
	res.Rows = []querymap.M{}
	for iter.Next() {
		row := querymap.M{}
		if err := iter.Get(row); err != nil {
			iter.Close()
			return res, err
		}
		res.Rows = append(res.Rows, row)
	}
	if err := iter.Close(); err != nil {
		return res, err
	}
	// Keep the column order for the table output.
	res.columns = columns
	return res, nil
}

func writeResults(w io.Writer, format string, results []statementJSON) error {
	if format == outputJSON {
		return writeJSON(w, results)
	}
	for _, res := range results {
		fmt.Fprintln(w, res.SQL+";")
		switch {
		case res.Result != nil:
			if res.Result.RowsAffected < 0 {
				fmt.Fprintln(w, "OK")
			} else {
				fmt.Fprintf(w, "OK, %d rows affected\n", res.Result.RowsAffected)
			}
		case len(res.columns) == 0:
			fmt.Fprintln(w, "OK")
		default:
			writeRows(w, res.columns, res.Rows)
		}
	}
	return nil
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the statement kinds a descriptor may have",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, k := range querymap.Kinds() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}
