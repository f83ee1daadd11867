// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/canonical/querymap"
)

// Output formats.
const (
	outputTable = "table"
	outputJSON  = "json"
)

// statementJSON is the JSON form of a compiled statement.
type statementJSON struct {
	SQL    string        `json:"sql"`
	Params []bindingJSON `json:"params"`
	Render string        `json:"render,omitempty"`
	Rows   []querymap.M  `json:"rows,omitempty"`
	Result *resultJSON   `json:"result,omitempty"`

	columns []string
}

type bindingJSON struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type resultJSON struct {
	RowsAffected int64 `json:"rows_affected"`
}

func statementToJSON(stmt *querymap.Statement) statementJSON {
	out := statementJSON{SQL: stmt.SQL, Params: []bindingJSON{}}
	for _, b := range stmt.Params.Bindings() {
		out.Params = append(out.Params, bindingJSON{Name: b.Name, Type: b.Type.String(), Value: b.Value})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeParams prints the parameters of a statement as a table.
func writeParams(w io.Writer, stmt *querymap.Statement) {
	bindings := stmt.Params.Bindings()
	if len(bindings) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"param", "type", "value"})
	for _, b := range bindings {
		t.AppendRow(table.Row{b.Name, b.Type.String(), formatValue(b.Value)})
	}
	t.Render()
}

// writeRows prints result rows as a table with the given columns.
func writeRows(w io.Writer, columns []string, rows []querymap.M) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "(0 rows)")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	header := make(table.Row, len(columns))
	for i, col := range columns {
		header[i] = col
	}
	t.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i, col := range columns {
			r[i] = formatValue(row[col])
		}
		t.AppendRow(r)
	}
	t.Render()
	if len(rows) == 1 {
		fmt.Fprintln(w, "(1 row)")
	} else {
		fmt.Fprintf(w, "(%d rows)\n", len(rows))
	}
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(v))
	}
	return fmt.Sprint(v)
}
