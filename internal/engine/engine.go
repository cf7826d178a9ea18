// Package engine is a small depth-first GraphQL executor that consumes an
// input.ExecutionInput.
//
// Schemas are loaded with gqlparser and every query is validated before it
// runs. Parsed and validated documents are kept in an LRU cache keyed by the
// query text. Fields resolve through resolvers registered per "Type.field";
// fields without one read the same-named key from a map[string]any source.
//
// Errors are collected as located GraphQL errors. A null in a Non-Null
// position propagates to the nearest nullable field or list item.
// Subscriptions are rejected.
package engine

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"

	input "github.com/hanpama/gqlinput/internal/input"
	language "github.com/hanpama/gqlinput/internal/language"
)

// Executor is what transports need from an engine.
type Executor interface {
	Execute(ctx context.Context, in input.ExecutionInput) *Result
}

// Result is the GraphQL response body.
type Result struct {
	Data       any            `json:"data"`
	Errors     gqlerror.List  `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// ResolveParams describes one field resolution.
type ResolveParams struct {
	Schema     *ast.Schema
	ObjectType string
	Field      string
	Source     any
	Args       map[string]any
	Path       ast.Path
}

// ResolveFunc resolves one field. The context carries the ExecutionInput,
// see InputFromContext.
type ResolveFunc func(ctx context.Context, p ResolveParams) (any, error)

// TypeResolveFunc returns the concrete object type name of an abstract
// value.
type TypeResolveFunc func(ctx context.Context, abstractType string, value any) (string, error)

type Options struct {
	Resolvers          map[string]ResolveFunc
	TypeResolver       TypeResolveFunc
	RootValue          any
	CacheSize          int
	ResponseExtensions []string
}

type Option func(*Options)

// WithResolver registers fn for objectType.field.
func WithResolver(objectType, field string, fn ResolveFunc) Option {
	return func(o *Options) { o.Resolvers[objectType+"."+field] = fn }
}

func WithTypeResolver(fn TypeResolveFunc) Option { return func(o *Options) { o.TypeResolver = fn } }
func WithRootValue(v any) Option                 { return func(o *Options) { o.RootValue = v } }
func WithCacheSize(n int) Option                 { return func(o *Options) { o.CacheSize = n } }

// WithResponseExtensions copies the named ExecutionInput extensions into
// Result.Extensions.
func WithResponseExtensions(keys ...string) Option {
	return func(o *Options) { o.ResponseExtensions = append(o.ResponseExtensions, keys...) }
}

// Engine executes operations against one schema. It is safe for concurrent
// use.
type Engine struct {
	schema *ast.Schema
	opt    Options
	docs   *lru.Cache[string, *ast.QueryDocument]
}

// New loads sdl and returns an Engine for it.
func New(sdl string, opts ...Option) (*Engine, error) {
	op := Options{Resolvers: map[string]ResolveFunc{}, CacheSize: 256}
	for _, f := range opts {
		f(&op)
	}
	sch, err := language.ParseSchema("schema.graphql", sdl)
	if err != nil {
		return nil, fmt.Errorf("engine: load schema: %w", err)
	}
	if sch.Query == nil {
		return nil, fmt.Errorf("engine: schema has no query type")
	}
	if op.CacheSize <= 0 {
		op.CacheSize = 1
	}
	docs, err := lru.New[string, *ast.QueryDocument](op.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{schema: sch, opt: op, docs: docs}, nil
}

func (e *Engine) Schema() *ast.Schema { return e.schema }

type inputKey struct{}

// InputFromContext returns the ExecutionInput of the running operation.
func InputFromContext(ctx context.Context) (input.ExecutionInput, bool) {
	in, ok := ctx.Value(inputKey{}).(input.ExecutionInput)
	return in, ok
}

// AssignExecutionID returns in with a generated execution id when it has
// none. Transports call it before announcing an operation so events carry
// the id the engine runs with.
func AssignExecutionID(in input.ExecutionInput) input.ExecutionInput {
	if in.HasExecutionID() {
		return in
	}
	return in.Transform(func(b *input.Builder) { b.ExecutionID(input.ExecutionID(uuid.NewString())) })
}

// Execute runs in. An input without an execution id gets a generated one.
func (e *Engine) Execute(ctx context.Context, in input.ExecutionInput) *Result {
	in = AssignExecutionID(in)
	res := e.execute(context.WithValue(ctx, inputKey{}, in), in)
	for _, k := range e.opt.ResponseExtensions {
		if v, ok := in.Extension(k); ok {
			if res.Extensions == nil {
				res.Extensions = map[string]any{}
			}
			res.Extensions[k] = v
		}
	}
	return res
}

func (e *Engine) execute(ctx context.Context, in input.ExecutionInput) *Result {
	doc, errs := e.document(in.Query)
	if len(errs) > 0 {
		return &Result{Errors: errs}
	}
	op := language.SelectOperation(doc, in.OperationName)
	if op == nil {
		if in.OperationName == "" {
			return errorResult("must provide operation name if query contains multiple operations")
		}
		return errorResult("unknown operation named %q", in.OperationName)
	}

	var root *ast.Definition
	switch op.Operation {
	case language.Query:
		root = e.schema.Query
	case language.Mutation:
		root = e.schema.Mutation
	case language.Subscription:
		return errorResult("subscriptions are not supported")
	}
	if root == nil {
		return errorResult("schema does not support %s operations", op.Operation)
	}

	vars, err := validator.VariableValues(e.schema, op, in.Variables)
	if err != nil {
		return &Result{Errors: gqlerror.List{gqlerror.WrapIfUnwrapped(err)}}
	}

	x := &execution{engine: e, ctx: ctx, doc: doc, vars: vars}
	data, err := x.selectionSet(root, op.SelectionSet, e.opt.RootValue, nil)
	res := &Result{Errors: x.errs}
	if err == nil {
		res.Data = data
	}
	return res
}

func (e *Engine) document(query string) (*ast.QueryDocument, gqlerror.List) {
	if query == "" {
		return nil, gqlerror.List{gqlerror.Errorf("query is required")}
	}
	if doc, ok := e.docs.Get(query); ok {
		return doc, nil
	}
	doc, err := language.ParseQuery(query)
	if err != nil {
		return nil, gqlerror.List{gqlerror.WrapIfUnwrapped(err)}
	}
	if errs := validator.ValidateWithRules(e.schema, doc, nil); len(errs) > 0 {
		return nil, errs
	}
	e.docs.Add(query, doc)
	return doc, nil
}

func errorResult(format string, args ...any) *Result {
	return &Result{Errors: gqlerror.List{gqlerror.Errorf(format, args...)}}
}
