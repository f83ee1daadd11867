// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/canonical/querymap/internal/dialect"
	"github.com/canonical/querymap/internal/parse"
)

// TypeTag is the driver binding type of a parameter.
type TypeTag int

const (
	TypeNull TypeTag = iota
	TypeInteger
	TypeBoolean
	TypeString
	TypeBinary
)

func (t TypeTag) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeInteger:
		return "integer"
	case TypeBoolean:
		return "boolean"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	}
	return "TypeTag(" + strconv.Itoa(int(t)) + ")"
}

// Binding is a single named parameter of a compiled statement.
type Binding struct {
	// Name is the placeholder name including its leading colon.
	Name  string
	Value any
	Type  TypeTag
}

// Params is the ordered set of bindings of a compiled statement. Names are
// unique; binding an existing name replaces its value but keeps its place.
type Params struct {
	bindings []Binding
	index    map[string]int
}

// NewParams returns an empty parameter set.
func NewParams() *Params {
	return &Params{index: map[string]int{}}
}

func (p *Params) set(name string, value any, tag TypeTag) {
	if !strings.HasPrefix(name, ":") {
		name = ":" + name
	}
	b := Binding{Name: name, Value: value, Type: tag}
	if i, ok := p.index[name]; ok {
		p.bindings[i] = b
		return
	}
	p.index[name] = len(p.bindings)
	p.bindings = append(p.bindings, b)
}

// Len returns the number of bindings.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.bindings)
}

// Get returns the binding for the placeholder name. The leading colon is
// optional.
func (p *Params) Get(name string) (Binding, bool) {
	if p == nil {
		return Binding{}, false
	}
	if !strings.HasPrefix(name, ":") {
		name = ":" + name
	}
	i, ok := p.index[name]
	if !ok {
		return Binding{}, false
	}
	return p.bindings[i], true
}

// Bindings returns a copy of the bindings in order.
func (p *Params) Bindings() []Binding {
	if p == nil {
		return nil
	}
	return append([]Binding(nil), p.bindings...)
}

// Values returns the bound values keyed by placeholder name.
func (p *Params) Values() map[string]any {
	out := map[string]any{}
	for _, b := range p.Bindings() {
		out[b.Name] = b.Value
	}
	return out
}

// Args rewrites the placeholders of query into the style expected by a
// driver and returns the matching argument list. Only placeholders naming a
// binding are rewritten.
func (p *Params) Args(query string, style dialect.PlaceholderStyle) (string, []any, error) {
	var args []any
	positions := map[string]int{}
	rewritten, err := parse.ReplacePlaceholders(query, func(name string) (string, bool) {
		b, ok := p.Get(name)
		if !ok {
			return "", false
		}
		value := b.driverValue()
		switch style {
		case dialect.PlaceholderQuestion:
			args = append(args, value)
			return "?", true
		case dialect.PlaceholderDollar:
			n, ok := positions[name]
			if !ok {
				args = append(args, value)
				n = len(args)
				positions[name] = n
			}
			return "$" + strconv.Itoa(n), true
		case dialect.PlaceholderAt:
			if _, ok := positions[name]; !ok {
				positions[name] = len(args)
				args = append(args, sql.Named(name, value))
			}
			return "@" + name, true
		default:
			if _, ok := positions[name]; !ok {
				positions[name] = len(args)
				args = append(args, sql.Named(name, value))
			}
			return ":" + name, true
		}
	})
	if err != nil {
		return "", nil, err
	}
	return rewritten, args, nil
}

func (b Binding) driverValue() any {
	switch b.Type {
	case TypeNull:
		return nil
	case TypeInteger:
		if s, ok := b.Value.(string); ok {
			s = strings.TrimSpace(s)
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
	}
	return b.Value
}

// typeMap chooses the binding type of a value. Integers bind as integers,
// booleans as booleans, byte slices and readers as binary and nil as NULL.
// Floats bind as strings. Sequences and maps in value position are encoded
// as JSON text.
func typeMap(v any) (any, TypeTag, error) {
	switch v := v.(type) {
	case nil:
		return nil, TypeNull, nil
	case bool:
		return v, TypeBoolean, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return v, TypeInteger, nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), TypeString, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), TypeString, nil
	case string:
		return v, TypeString, nil
	case []byte:
		return v, TypeBinary, nil
	case io.Reader:
		data, err := io.ReadAll(v)
		if err != nil {
			return nil, TypeNull, errors.Wrap(err, "cannot read binary value")
		}
		return data, TypeBinary, nil
	case time.Time:
		return v, TypeString, nil
	case driver.Valuer:
		dv, err := v.Value()
		if err != nil {
			return nil, TypeNull, errors.Wrap(err, "cannot get driver value")
		}
		if _, ok := dv.(driver.Valuer); ok {
			return dv, TypeString, nil
		}
		return typeMap(dv)
	case fmt.Stringer:
		return v.String(), TypeString, nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, TypeNull, errors.Wrap(err, "cannot encode value as JSON")
		}
		return string(data), TypeString, nil
	case reflect.Pointer:
		rv := reflect.ValueOf(v)
		if rv.IsNil() {
			return nil, TypeNull, nil
		}
		return typeMap(rv.Elem().Interface())
	}
	return fmt.Sprint(v), TypeString, nil
}

// decimal matches the numeric literals every dialect accepts.
var decimal = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// isNumeric reports whether v is a finite number or a string holding a
// plain decimal literal.
func isNumeric(v any) bool {
	switch v := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
	case float64:
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	case string:
		return decimal.MatchString(strings.TrimSpace(v))
	}
	return false
}

// numericLiteral returns the SQL literal of a numeric value.
func numericLiteral(v any) string {
	switch v := v.(type) {
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return strings.TrimSpace(v)
	}
	return fmt.Sprint(v)
}
