// Package input represents one inbound GraphQL request and turns it into the
// ExecutionInput handed to an execution engine.
//
// An Input is created once per request. Its query, operation name, variables,
// locale and id never change after construction. Collaborators such as
// tracing or security layers may register Configurers and assign an explicit
// ExecutionID while the request is being set up; ToExecutionInput then builds
// a baseline from the request fields, resolves the execution identity and
// folds the configurers over it in registration order.
//
// Identity precedence is: explicit ExecutionID > request id (when the caller
// asks for it) > none.
package input

import (
	"fmt"
	"maps"
	"sync"

	"golang.org/x/text/language"
)

// Configurer transforms the ExecutionInput produced by everything registered
// before it. It must not retain or mutate its argument's maps; use
// ExecutionInput.Transform to derive the next value.
type Configurer func(ExecutionInput) (ExecutionInput, error)

// BuilderConfigurer adapts a function that receives the current input and a
// builder seeded from it.
func BuilderConfigurer(fn func(current ExecutionInput, b *Builder) ExecutionInput) Configurer {
	return func(current ExecutionInput) (ExecutionInput, error) {
		return fn(current, current.ToBuilder()), nil
	}
}

// Input is the request descriptor.
type Input struct {
	query         string
	operationName string
	variables     map[string]any
	locale        language.Tag
	id            string

	mu          sync.Mutex
	configurers []Configurer
	executionID ExecutionID
}

type Option func(*Input)

// WithOperationName selects the named operation when the query holds several.
func WithOperationName(name string) Option { return func(in *Input) { in.operationName = name } }

// WithVariables sets the variables. The map is copied.
func WithVariables(vars map[string]any) Option {
	return func(in *Input) { in.variables = maps.Clone(vars) }
}

// WithLocale associates a locale with the request.
func WithLocale(tag language.Tag) Option { return func(in *Input) { in.locale = tag } }

// New creates an Input. query and id are required; id identifies the
// request on its transport and is the fallback execution identity.
func New(query, id string, opts ...Option) (*Input, error) {
	if query == "" {
		return nil, invalidArgument("query is required")
	}
	if id == "" {
		return nil, invalidArgument("id is required")
	}
	in := &Input{query: query, id: id}
	for _, opt := range opts {
		opt(in)
	}
	if in.variables == nil {
		in.variables = map[string]any{}
	}
	return in, nil
}

// NewFromRequest creates an Input from a decoded wire request.
func NewFromRequest(req Request, id string, locale language.Tag) (*Input, error) {
	return New(req.Query, id,
		WithOperationName(req.OperationName),
		WithVariables(req.Variables),
		WithLocale(locale),
	)
}

// ParseLocale returns the preferred tag of an Accept-Language header value,
// or language.Und when it is empty or malformed.
func ParseLocale(acceptLanguage string) language.Tag {
	if acceptLanguage == "" {
		return language.Und
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.Und
	}
	return tags[0]
}

// ID returns the request id used for request/response correlation.
func (in *Input) ID() string { return in.id }

func (in *Input) Query() string { return in.query }

// OperationName returns the operation name or "" when none was given.
func (in *Input) OperationName() string { return in.operationName }

// Variables returns a copy of the variables, an empty map when none were
// given.
func (in *Input) Variables() map[string]any { return maps.Clone(in.variables) }

// Locale returns the request locale or language.Und.
func (in *Input) Locale() language.Tag { return in.locale }

// SetExecutionID sets the identity used by ToExecutionInput, taking
// precedence over the request id. A later call replaces an earlier one.
func (in *Input) SetExecutionID(id ExecutionID) error {
	if id == "" {
		return invalidArgument("execution id is required")
	}
	in.mu.Lock()
	in.executionID = id
	in.mu.Unlock()
	return nil
}

// ExecutionID returns the explicitly assigned identity, if any.
func (in *Input) ExecutionID() (ExecutionID, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.executionID, in.executionID != ""
}

// Configure appends c to the configurers applied by ToExecutionInput. A nil
// c keeps its position and fails the build with ErrNilConfigurer.
func (in *Input) Configure(c Configurer) {
	in.mu.Lock()
	in.configurers = append(in.configurers, c)
	in.mu.Unlock()
}

// ToExecutionInput builds the ExecutionInput for this request.
//
// The configurer list and explicit id are captured when the call starts;
// registrations made while it runs only affect later calls. If a configurer
// fails the returned error is a *ConfigurerError and no input is returned.
func (in *Input) ToExecutionInput(useIDAsFallback bool) (ExecutionInput, error) {
	in.mu.Lock()
	configurers := append([]Configurer(nil), in.configurers...)
	explicit := in.executionID
	in.mu.Unlock()

	b := NewBuilder().
		Query(in.query).
		OperationName(in.operationName).
		Variables(in.variables).
		Locale(in.locale)
	switch {
	case explicit != "":
		b.ExecutionID(explicit)
	case useIDAsFallback:
		b.ExecutionID(ExecutionID(in.id))
	}
	current := b.Build()

	for i, c := range configurers {
		if c == nil {
			return ExecutionInput{}, &ConfigurerError{Index: i, Err: ErrNilConfigurer}
		}
		next, err := c(current)
		if err != nil {
			return ExecutionInput{}, &ConfigurerError{Index: i, Err: err}
		}
		current = next
	}
	return current, nil
}

// String renders a one-line summary for diagnostics.
func (in *Input) String() string {
	s := fmt.Sprintf("Query='%s'", in.query)
	if in.operationName != "" {
		s += fmt.Sprintf(", Operation='%s'", in.operationName)
	}
	if len(in.variables) > 0 {
		s += fmt.Sprintf(", Variables=%v", in.variables)
	}
	if in.locale != language.Und {
		s += fmt.Sprintf(", Locale=%s", in.locale)
	}
	return s
}

// Fields returns key/value pairs for structured loggers. Like ToMap it
// leaves out the locale and execution identity.
func (in *Input) Fields() []any {
	kv := []any{"request_id", in.id}
	if in.operationName != "" {
		kv = append(kv, "operation", in.operationName)
	}
	if len(in.variables) > 0 {
		kv = append(kv, "variables", len(in.variables))
	}
	return kv
}
