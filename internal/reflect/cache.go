// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package reflect

import (
	"database/sql"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// cache is responsible for generating, caching and retrieving the column
// mapping of struct types.
type cache struct {
	mutex    sync.RWMutex
	cache    map[reflect.Type]*Struct
	failures map[reflect.Type]error
}

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
)

// Mappable reports whether values of t (or of the type t points to) are
// mapped field by field rather than used as a single value.
func Mappable(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t == timeType {
		return false
	}
	return !t.Implements(scannerType) && !reflect.PointerTo(t).Implements(scannerType)
}

// Reflect returns the column mapping of the struct type of value, which may
// be a struct or a pointer to one. It is generated and cached as required.
func (r *cache) Reflect(value any) (*Struct, error) {
	t := reflect.TypeOf(value)
	if t == nil {
		return nil, errors.New("cannot reflect nil value")
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if !Mappable(t) {
		return nil, errors.Errorf("cannot map %s to columns: not a struct", t)
	}

	r.mutex.RLock()
	info, ok := r.cache[t]
	failure := r.failures[t]
	r.mutex.RUnlock()
	if ok {
		return info, nil
	}
	if failure != nil {
		return nil, failure
	}

	info, err := generate(t)
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if err != nil {
		r.failures[t] = err
		return nil, err
	}
	r.cache[t] = info
	return info, nil
}

// generate produces the column mapping of a struct type. Fields of embedded
// structs without a tag are promoted.
func generate(t reflect.Type) (*Struct, error) {
	info := &Struct{
		typ:      t,
		byColumn: make(map[string]int),
	}
	if err := addFields(info, t, nil); err != nil {
		return nil, err
	}
	if len(info.Fields) == 0 {
		return nil, errors.Errorf("cannot map %s to columns: no fields with a db tag", t)
	}
	return info, nil
}

func addFields(info *Struct, t reflect.Type, index []int) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldIndex := append(append([]int(nil), index...), i)

		tag, ok := field.Tag.Lookup("db")
		if !ok {
			if field.Anonymous && field.Type.Kind() == reflect.Struct {
				if err := addFields(info, field.Type, fieldIndex); err != nil {
					return err
				}
			}
			continue
		}
		if !field.IsExported() {
			return errors.Errorf("cannot map %s: field %s is not exported", t, field.Name)
		}

		column, omitEmpty, err := parseTag(tag)
		if err != nil {
			return errors.Wrapf(err, "cannot map %s.%s", t, field.Name)
		}
		if column == "-" {
			continue
		}
		if _, dup := info.byColumn[column]; dup {
			return errors.Errorf("cannot map %s: column %q is tagged twice", t, column)
		}
		info.byColumn[column] = len(info.Fields)
		info.Fields = append(info.Fields, Field{
			Column:    column,
			Name:      field.Name,
			OmitEmpty: omitEmpty,
			index:     fieldIndex,
		})
	}
	return nil
}

// parseTag parses the input tag string and returns its name and whether it
// contains the "omitempty" option.
func parseTag(tag string) (string, bool, error) {
	options := strings.Split(tag, ",")
	if options[0] == "" {
		return "", false, errors.New("empty db tag")
	}

	var omitEmpty bool
	if len(options) > 1 {
		if strings.ToLower(options[1]) != "omitempty" || len(options) > 2 {
			return "", false, errors.Errorf("unexpected tag value %q", strings.Join(options[1:], ","))
		}
		omitEmpty = true
	}

	return options[0], omitEmpty, nil
}
