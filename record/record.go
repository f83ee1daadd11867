// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package record maps single table rows to objects. A Record keeps the
// values of one row, tracks which fields were changed and writes only those
// back to the database.
package record

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/canonical/querymap"
	"github.com/canonical/querymap/internal/expr"
)

// Record is a row of a table identified by a single primary key column.
// A Record is not safe for concurrent use.
type Record struct {
	db      *querymap.DB
	table   string
	primary string

	data  querymap.M
	dirty querymap.M

	// where holds the pending conditions. Its entries are joined by rel.
	where  querymap.D
	rel    string
	groups int
	err    error
}

// New returns an empty record of table. The primary key column defaults to
// "id".
func New(db *querymap.DB, table string, primary string) *Record {
	if primary == "" {
		primary = "id"
	}
	return &Record{
		db:      db,
		table:   table,
		primary: primary,
		data:    querymap.M{},
		dirty:   querymap.M{},
	}
}

// Table returns the name of the table of the record.
func (r *Record) Table() string {
	return r.table
}

// ID returns the primary key value, or nil if it is not known.
func (r *Record) ID() any {
	return r.data[r.primary]
}

// Get returns the value of field.
func (r *Record) Get(field string) any {
	return r.data[field]
}

// Set changes the value of field and marks it to be written.
func (r *Record) Set(field string, value any) *Record {
	r.data[field] = value
	r.dirty[field] = value
	return r
}

// Unset forgets field.
func (r *Record) Unset(field string) *Record {
	delete(r.data, field)
	delete(r.dirty, field)
	return r
}

// Data returns a copy of the values of the record.
func (r *Record) Data() querymap.M {
	data := make(querymap.M, len(r.data))
	for k, v := range r.data {
		data[k] = v
	}
	return data
}

// Dirty returns the names of the changed fields in sorted order.
func (r *Record) Dirty() []string {
	fields := make([]string, 0, len(r.dirty))
	for k := range r.dirty {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Where adds a condition joined to the previous ones by AND. The operator is
// a condition suffix such as ">=" or a readable alias such as "gte", "in",
// "between" or "isNull". The null aliases ignore value.
func (r *Record) Where(field string, operator string, value any) *Record {
	r.addWhere(querymap.And, field, operator, value)
	return r
}

// OrWhere adds a condition joined to the previous ones by OR.
func (r *Record) OrWhere(field string, operator string, value any) *Record {
	r.addWhere(querymap.Or, field, operator, value)
	return r
}

func (r *Record) addWhere(rel string, field string, operator string, value any) {
	op, isNull, err := expr.ParseOperator(operator)
	if err != nil {
		if r.err == nil {
			r.err = errors.Wrapf(err, "cannot add condition on %q", field)
		}
		return
	}
	if isNull {
		value = nil
	}
	e := querymap.E{Key: expr.Condition{Field: field, Op: op}.Key(), Value: value}
	switch {
	case len(r.where) < 2:
		r.where = append(r.where, e)
		r.rel = rel
	case r.rel == rel:
		r.where = append(r.where, e)
	default:
		// The conditions so far become a group of the new relation.
		r.groups++
		group := querymap.E{Key: fmt.Sprintf("%s #%d", r.rel, r.groups), Value: r.where}
		r.where = querymap.D{group, e}
		r.rel = rel
	}
}

// conditions returns the pending conditions as a condition map.
func (r *Record) conditions() any {
	if len(r.where) == 0 {
		return nil
	}
	if r.rel == querymap.Or && len(r.where) > 1 {
		return querymap.D{{Key: querymap.Or, Value: r.where}}
	}
	return r.where
}

// Reset drops the pending conditions.
func (r *Record) Reset() *Record {
	r.where = nil
	r.rel = ""
	r.groups = 0
	r.err = nil
	return r
}

// takeConditions returns the pending conditions and resets them.
func (r *Record) takeConditions() (any, error) {
	conds, err := r.conditions(), r.err
	r.Reset()
	return conds, err
}

// Load reads the row with the given primary key into the record. With a nil
// id the first row matching the pending conditions is read. Changes that
// were not written are discarded. Load returns [querymap.ErrNoRows] if no
// row matches.
func (r *Record) Load(ctx context.Context, id any) error {
	if id != nil {
		r.Where(r.primary, "eq", id)
	}
	conds, err := r.takeConditions()
	if err != nil {
		return err
	}
	row, err := r.db.Get(ctx, querymap.M{"FROM": r.table, "WHERE": conds})
	if err != nil {
		return errors.Wrapf(err, "cannot load %s record", r.table)
	}
	m, ok := row.(querymap.M)
	if !ok {
		return errors.Errorf("cannot load %s record: unexpected row %T", r.table, row)
	}
	r.data = m
	r.dirty = querymap.M{}
	return nil
}

// All returns a record for every row matching the pending conditions.
func (r *Record) All(ctx context.Context) ([]*Record, error) {
	conds, err := r.takeConditions()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Select(ctx, querymap.M{"FROM": r.table, "WHERE": conds})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot select %s records", r.table)
	}
	records := make([]*Record, len(rows))
	for i, row := range rows {
		rec := New(r.db, r.table, r.primary)
		rec.data = row
		records[i] = rec
	}
	return records, nil
}

// Insert writes the changed fields as a new row. Unless it was set, the
// primary key is read back from the database.
func (r *Record) Insert(ctx context.Context) error {
	if len(r.dirty) == 0 {
		return nil
	}
	err := r.db.Action(ctx, func(tx *querymap.TX) error {
		result, err := tx.Insert(ctx, r.table, r.dirty)
		if err != nil {
			return err
		}
		if _, ok := r.dirty[r.primary]; ok {
			return nil
		}
		id, err := tx.LastInsertID(ctx, result)
		if err != nil {
			return err
		}
		r.data[r.primary] = id
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "cannot insert %s record", r.table)
	}
	r.dirty = querymap.M{}
	return nil
}

// Update writes the changed fields to the row of the record.
func (r *Record) Update(ctx context.Context) error {
	if len(r.dirty) == 0 {
		return nil
	}
	id, err := r.key()
	if err != nil {
		return errors.Wrap(err, "cannot update")
	}
	if _, err := r.db.Update(ctx, r.table, r.dirty, querymap.M{r.primary: id}); err != nil {
		return errors.Wrapf(err, "cannot update %s record", r.table)
	}
	r.dirty = querymap.M{}
	return nil
}

// Delete removes the row of the record.
func (r *Record) Delete(ctx context.Context) error {
	id, err := r.key()
	if err != nil {
		return errors.Wrap(err, "cannot delete")
	}
	if _, err := r.db.Delete(ctx, r.table, querymap.M{r.primary: id}); err != nil {
		return errors.Wrapf(err, "cannot delete %s record", r.table)
	}
	return nil
}

func (r *Record) key() (any, error) {
	id, ok := r.data[r.primary]
	if !ok || id == nil {
		return nil, errors.Errorf("%s record has no %s", r.table, r.primary)
	}
	return id, nil
}
