package input

import (
	"maps"

	"golang.org/x/text/language"
)

// ExecutionID identifies one execution inside the engine. The zero value
// means no identity was resolved and the engine picks its own.
type ExecutionID string

// ExecutionIDFrom returns s as an ExecutionID. It fails on an empty string.
func ExecutionIDFrom(s string) (ExecutionID, error) {
	if s == "" {
		return "", invalidArgument("execution id is required")
	}
	return ExecutionID(s), nil
}

func (id ExecutionID) String() string { return string(id) }

// ExecutionInput is the engine-facing value produced by
// Input.ToExecutionInput. Each value owns its maps; Transform and Builder
// copy them so a later configurer can never alter an earlier result.
type ExecutionInput struct {
	Query         string
	OperationName string
	Variables     map[string]any
	Locale        language.Tag
	ExecutionID   ExecutionID

	// Extensions holds engine-specific fields added by configurers,
	// e.g. "traceId".
	Extensions map[string]any
}

// HasExecutionID reports whether an execution identity was resolved.
func (in ExecutionInput) HasExecutionID() bool { return in.ExecutionID != "" }

// Extension returns the extension value stored under key.
func (in ExecutionInput) Extension(key string) (any, bool) {
	v, ok := in.Extensions[key]
	return v, ok
}

// Transform returns a new ExecutionInput built from a builder seeded with
// the receiver and then passed to fn.
func (in ExecutionInput) Transform(fn func(*Builder)) ExecutionInput {
	b := in.ToBuilder()
	if fn != nil {
		fn(b)
	}
	return b.Build()
}

// ToBuilder returns a builder seeded with a copy of the receiver.
func (in ExecutionInput) ToBuilder() *Builder {
	return &Builder{
		query:         in.Query,
		operationName: in.OperationName,
		variables:     maps.Clone(in.Variables),
		locale:        in.Locale,
		executionID:   in.ExecutionID,
		extensions:    maps.Clone(in.Extensions),
	}
}

// Builder assembles an ExecutionInput.
type Builder struct {
	query         string
	operationName string
	variables     map[string]any
	locale        language.Tag
	executionID   ExecutionID
	extensions    map[string]any
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) Query(q string) *Builder { b.query = q; return b }

func (b *Builder) OperationName(name string) *Builder { b.operationName = name; return b }

// Variables replaces the variables with a copy of vars.
func (b *Builder) Variables(vars map[string]any) *Builder {
	b.variables = maps.Clone(vars)
	return b
}

func (b *Builder) Locale(tag language.Tag) *Builder { b.locale = tag; return b }

func (b *Builder) ExecutionID(id ExecutionID) *Builder { b.executionID = id; return b }

// Extension sets one extension field. A nil value removes the key.
func (b *Builder) Extension(key string, value any) *Builder {
	if value == nil {
		delete(b.extensions, key)
		return b
	}
	if b.extensions == nil {
		b.extensions = make(map[string]any)
	}
	b.extensions[key] = value
	return b
}

// Build materializes the builder. Variables and Extensions are never nil
// in the result.
func (b *Builder) Build() ExecutionInput {
	vars := maps.Clone(b.variables)
	if vars == nil {
		vars = map[string]any{}
	}
	ext := maps.Clone(b.extensions)
	if ext == nil {
		ext = map[string]any{}
	}
	return ExecutionInput{
		Query:         b.query,
		OperationName: b.operationName,
		Variables:     vars,
		Locale:        b.locale,
		ExecutionID:   b.executionID,
		Extensions:    ext,
	}
}
