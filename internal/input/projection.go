package input

import (
	"bytes"
	"encoding/json"
	"maps"
)

// Request is the wire form of a GraphQL request as decoded by transports.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// Projection is an insertion-ordered key/value view of an Input.
type Projection struct {
	keys   []string
	values map[string]any
}

func (p *Projection) set(key string, v any) {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = v
}

// Keys returns the keys in insertion order.
func (p Projection) Keys() []string { return append([]string(nil), p.keys...) }

func (p Projection) Len() int { return len(p.keys) }

func (p Projection) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// AsMap returns an unordered copy.
func (p Projection) AsMap() map[string]any { return maps.Clone(p.values) }

// MarshalJSON writes the keys in insertion order.
func (p Projection) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ToMap returns the wire representation of the request: query always,
// operationName when set, variables when non-empty.
func (in *Input) ToMap() Projection {
	var p Projection
	p.set("query", in.query)
	if in.operationName != "" {
		p.set("operationName", in.operationName)
	}
	if len(in.variables) > 0 {
		p.set("variables", maps.Clone(in.variables))
	}
	return p
}

// ToRequest is ToMap in struct form.
func (in *Input) ToRequest() Request {
	req := Request{Query: in.query, OperationName: in.operationName}
	if len(in.variables) > 0 {
		req.Variables = maps.Clone(in.variables)
	}
	return req
}
