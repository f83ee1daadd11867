// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package cli

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/canonical/querymap"
)

// rawTag marks a YAML scalar or mapping as a raw fragment:
//
//	WHERE: !raw "LOWER(<name>) = 'ann'"
//	WHERE: !raw {template: "<age> > :age", params: {age: 18}}
const rawTag = "!raw"

// Request is a statement to compile, read from a descriptor file.
type Request struct {
	Kind       querymap.Kind
	Descriptor any
}

// document is the layout of a descriptor document.
type document struct {
	Kind       string    `yaml:"kind"`
	Descriptor yaml.Node `yaml:"descriptor"`
}

// ReadRequests reads every YAML document in r. JSON documents are read as
// well since JSON is a subset of YAML.
func ReadRequests(r io.Reader) ([]Request, error) {
	dec := yaml.NewDecoder(r)
	var requests []Request
	for i := 1; ; i++ {
		var doc document
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read document %d", i)
		}
		kind := querymap.Kind(strings.ToLower(strings.TrimSpace(doc.Kind)))
		if !knownKind(kind) {
			return nil, errors.Errorf("cannot read document %d: unknown kind %q", i, doc.Kind)
		}
		desc, err := decodeNode(&doc.Descriptor)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read document %d", i)
		}
		requests = append(requests, Request{Kind: kind, Descriptor: desc})
	}
	return requests, nil
}

func knownKind(kind querymap.Kind) bool {
	for _, k := range querymap.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// decodeNode converts a YAML node into descriptor values. Mappings keep
// their order and become a querymap.D.
func decodeNode(node *yaml.Node) (any, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return decodeNode(node.Content[0])
	case yaml.AliasNode:
		return decodeNode(node.Alias)
	case yaml.SequenceNode:
		list := make(querymap.S, len(node.Content))
		for i, item := range node.Content {
			v, err := decodeNode(item)
			if err != nil {
				return nil, err
			}
			list[i] = v
		}
		return list, nil
	case yaml.MappingNode:
		if node.Tag == rawTag {
			return decodeRaw(node)
		}
		d := make(querymap.D, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if key.Kind != yaml.ScalarNode {
				return nil, errors.Errorf("line %d: mapping key is not a scalar", key.Line)
			}
			v, err := decodeNode(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			d = append(d, querymap.E{Key: key.Value, Value: v})
		}
		return d, nil
	case yaml.ScalarNode:
		return decodeScalar(node)
	}
	return nil, errors.Errorf("line %d: unexpected node", node.Line)
}

func decodeScalar(node *yaml.Node) (any, error) {
	switch node.Tag {
	case rawTag:
		return querymap.NewRaw(node.Value, nil), nil
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return nil, err
		}
		return b, nil
	case "!!int":
		n, err := strconv.ParseInt(node.Value, 0, 64)
		if err != nil {
			var v any
			if err := node.Decode(&v); err != nil {
				return nil, err
			}
			return v, nil
		}
		return n, nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return nil, err
		}
		return f, nil
	}
	return node.Value, nil
}

// decodeRaw reads a raw fragment written as a mapping with a template and
// optional params.
func decodeRaw(node *yaml.Node) (any, error) {
	var template string
	params := querymap.M{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "template":
			template = value.Value
		case "params":
			v, err := decodeNode(value)
			if err != nil {
				return nil, err
			}
			d, ok := v.(querymap.D)
			if !ok {
				return nil, errors.Errorf("line %d: raw params must be a mapping", value.Line)
			}
			for _, e := range d {
				params[e.Key] = e.Value
			}
		default:
			return nil, errors.Errorf("line %d: unknown raw field %q", node.Content[i].Line, key)
		}
	}
	if template == "" {
		return nil, errors.Errorf("line %d: raw fragment without template", node.Line)
	}
	return querymap.NewRaw(template, params), nil
}
