// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package querymap

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	structs "github.com/canonical/querymap/internal/reflect"
)

// Query represents a compiled statement bound to a database or transaction.
// It is designed to be run once. Nothing is sent to the database until one
// of [Query.Iter], [Query.Run], [Query.Get] or [Query.GetAll] is called.
type Query struct {
	ctx  context.Context
	err  error
	stmt *Statement
	// query runs the statement and returns its rows.
	query func(context.Context) (*sql.Rows, error)
	// exec runs the statement and discards any rows.
	exec func(context.Context) (sql.Result, error)
}

// Statement returns the compiled statement of the query.
func (q *Query) Statement() *Statement {
	return q.stmt
}

// Run executes the query and discards any rows.
func (q *Query) Run() error {
	_, err := q.Exec()
	return err
}

// Exec executes the query and returns its [Outcome].
func (q *Query) Exec() (*Outcome, error) {
	if q.err != nil {
		return nil, q.err
	}
	result, err := q.exec(q.ctx)
	if err != nil {
		return nil, err
	}
	return &Outcome{result: result}, nil
}

// Get runs the query and decodes the first row into the provided output
// arguments. An output argument is either an M, which receives every column
// by name, a pointer to a struct with "db" field tags, or one pointer per
// column. Get returns [ErrNoRows] if output
// arguments were provided but no rows were found.
//
// A pointer to an empty [Outcome] may be provided as the first output
// argument. If it is the only argument the query is executed without
// reading rows and the outcome is filled in.
func (q *Query) Get(outputArgs ...any) error {
	if q.err != nil {
		return q.err
	}
	var outcome *Outcome
	if len(outputArgs) > 0 {
		if oc, ok := outputArgs[0].(*Outcome); ok {
			outcome = oc
			outputArgs = outputArgs[1:]
		}
	}
	if len(outputArgs) == 0 {
		result, err := q.exec(q.ctx)
		if err == nil && outcome != nil {
			outcome.result = result
		}
		return err
	}

	iter := q.Iter()
	var err error
	if outcome != nil {
		err = iter.Get(outcome)
	}
	if err == nil && !iter.Next() {
		err = iter.Close()
		if err == nil {
			err = ErrNoRows
		}
		return err
	}
	if err == nil {
		err = iter.Get(outputArgs...)
	}
	if cerr := iter.Close(); err == nil {
		err = cerr
	}
	return err
}

// GetAll runs the query and returns every row as an M. It returns an empty
// slice, not [ErrNoRows], when no rows match.
func (q *Query) GetAll() ([]M, error) {
	if q.err != nil {
		return nil, q.err
	}
	rows := []M{}
	iter := q.Iter()
	for iter.Next() {
		m := M{}
		if err := iter.Get(m); err != nil {
			iter.Close()
			return nil, err
		}
		rows = append(rows, m)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetSlice runs the query and appends every row to the slice slicePtr
// points to. The slice elements must be structs with "db" field tags,
// pointers to such structs, or M.
func (q *Query) GetSlice(slicePtr any) error {
	if q.err != nil {
		return q.err
	}
	sv := reflect.ValueOf(slicePtr)
	if sv.Kind() != reflect.Pointer || sv.IsNil() || sv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("cannot get results: need pointer to slice, got %T", slicePtr)
	}
	slice := sv.Elem()
	elem := slice.Type().Elem()
	isPtr := elem.Kind() == reflect.Pointer
	base := elem
	if isPtr {
		base = elem.Elem()
	}
	if base != reflect.TypeOf(M{}) && !structs.Mappable(base) {
		return fmt.Errorf("cannot get results: need slice of structs or M, got %T", slicePtr)
	}

	iter := q.Iter()
	for iter.Next() {
		item := reflect.New(base)
		var err error
		if base == reflect.TypeOf(M{}) {
			item.Elem().Set(reflect.ValueOf(M{}))
			err = iter.Get(item.Elem().Interface())
		} else {
			err = iter.Get(item.Interface())
		}
		if err != nil {
			iter.Close()
			return err
		}
		if isPtr {
			slice.Set(reflect.Append(slice, item))
		} else {
			slice.Set(reflect.Append(slice, item.Elem()))
		}
	}
	return iter.Close()
}

// Iter returns an [Iterator] to iterate through the results row by row.
// [Iterator.Close] must be run once iteration is finished.
func (q *Query) Iter() *Iterator {
	if q.err != nil {
		return &Iterator{err: q.err}
	}
	rows, err := q.query(q.ctx)
	if err != nil {
		return &Iterator{err: err}
	}
	if rows == nil {
		return &Iterator{}
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return &Iterator{err: err}
	}
	return &Iterator{rows: rows, cols: cols}
}

// Iterator is used to iterate over the results of the query.
type Iterator struct {
	rows    *sql.Rows
	cols    []string
	err     error
	started bool
}

// Next prepares the next row for [Iterator.Get]. If an error occurs during
// iteration it will be returned with [Iterator.Close].
func (iter *Iterator) Next() bool {
	iter.started = true
	if iter.err != nil || iter.rows == nil {
		return false
	}
	return iter.rows.Next()
}

// Columns returns the names of the result columns.
func (iter *Iterator) Columns() []string {
	return iter.cols
}

// Get decodes the row from the previous [Iterator.Next] call into the
// provided output arguments: either a single M or one pointer per column.
//
// Before the first call of [Iterator.Next] a pointer to an empty [Outcome]
// may be passed to Get as the only argument.
func (iter *Iterator) Get(outputArgs ...any) (err error) {
	if iter.err != nil {
		return iter.err
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot get result: %s", err)
		}
	}()

	if !iter.started {
		if len(outputArgs) == 1 {
			if _, ok := outputArgs[0].(*Outcome); ok {
				return nil
			}
		}
		return fmt.Errorf("cannot call Get before Next unless getting outcome")
	}
	if iter.rows == nil {
		return fmt.Errorf("iteration ended")
	}

	if len(outputArgs) == 1 {
		if m, ok := outputArgs[0].(M); ok {
			return iter.scanMap(m)
		}
		if v := reflect.ValueOf(outputArgs[0]); v.Kind() == reflect.Pointer && !v.IsNil() && structs.Mappable(v.Type()) {
			return iter.scanStruct(v)
		}
	}
	if len(outputArgs) != len(iter.cols) {
		return fmt.Errorf("need an M or %d pointers, got %d arguments", len(iter.cols), len(outputArgs))
	}
	for _, arg := range outputArgs {
		if v := reflect.ValueOf(arg); v.Kind() != reflect.Pointer || v.IsNil() {
			return fmt.Errorf("need pointer, got %T", arg)
		}
	}
	return iter.rows.Scan(outputArgs...)
}

func (iter *Iterator) scanMap(m M) error {
	values := make([]any, len(iter.cols))
	ptrs := make([]any, len(iter.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := iter.rows.Scan(ptrs...); err != nil {
		return err
	}
	for i, col := range iter.cols {
		// Text columns come back from some drivers as raw bytes owned by
		// the driver.
		if b, ok := values[i].([]byte); ok {
			values[i] = string(b)
		}
		m[col] = values[i]
	}
	return nil
}

func (iter *Iterator) scanStruct(v reflect.Value) error {
	info, err := structs.Cache().Reflect(v.Interface())
	if err != nil {
		return err
	}
	return iter.rows.Scan(info.Targets(v, iter.cols)...)
}

// Close finishes the iteration and returns any errors encountered. Close can
// be called multiple times on the [Iterator] and the same error will be
// returned.
func (iter *Iterator) Close() error {
	iter.started = true
	if iter.rows == nil {
		return iter.err
	}
	err := iter.rows.Close()
	if err == nil {
		err = iter.rows.Err()
	}
	iter.rows = nil
	if iter.err != nil {
		return iter.err
	}
	iter.err = err
	return err
}

// Outcome holds metadata about an executed statement.
type Outcome struct {
	result sql.Result
}

// Result returns a [sql.Result] containing information about the statement
// execution. If no result is set then Result returns nil.
func (o *Outcome) Result() sql.Result {
	return o.result
}
