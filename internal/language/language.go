// Package language wraps the gqlparser query parser.
package language

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
)

type (
	Schema              = ast.Schema
	QueryDocument       = ast.QueryDocument
	OperationDefinition = ast.OperationDefinition
	SelectionSet        = ast.SelectionSet
	Field               = ast.Field
	InlineFragment      = ast.InlineFragment
	FragmentSpread      = ast.FragmentSpread
	Operation           = ast.Operation
	Error               = gqlerror.Error
	ErrorList           = gqlerror.List
)

const (
	Query        Operation = ast.Query
	Mutation     Operation = ast.Mutation
	Subscription Operation = ast.Subscription
)

// ParseQuery parses source into a query document. Syntax errors are
// returned as *Error.
func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ParseSchema loads and validates an SDL document, including the built-in
// scalars and introspection types.
func ParseSchema(name, sdl string) (*Schema, error) {
	sch, err := gqlparser.LoadSchema(&ast.Source{Name: name, Input: sdl})
	if err != nil {
		return nil, err
	}
	return sch, nil
}

// SelectOperation returns the operation named name, or the only operation
// in doc when name is empty. It returns nil if there is no match.
func SelectOperation(doc *QueryDocument, name string) *OperationDefinition {
	if doc == nil {
		return nil
	}
	if name == "" {
		if len(doc.Operations) == 1 {
			return doc.Operations[0]
		}
		return nil
	}
	return doc.Operations.ForName(name)
}

// OperationType reports the type of the operation SelectOperation picks, or
// "" when the query does not parse or no operation matches.
func OperationType(query, name string) Operation {
	doc, err := ParseQuery(query)
	if err != nil {
		return ""
	}
	if op := SelectOperation(doc, name); op != nil {
		return op.Operation
	}
	return ""
}
