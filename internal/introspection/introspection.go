// Package introspection resolves the __schema and __type meta fields for the
// engine, reading the schema gqlparser loaded.
package introspection

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	engine "github.com/hanpama/gqlinput/internal/engine"
)

// ErrDisabled is returned for meta fields when introspection is turned off.
var ErrDisabled = errors.New("introspection is disabled")

const defaultDeprecationReason = "No longer supported"

// Enable registers resolvers for __schema, __type and the fields of every
// introspection type.
func Enable() engine.Option {
	return func(o *engine.Options) {
		for k, fn := range resolvers() {
			o.Resolvers[k] = fn
		}
	}
}

// Disable makes __schema and __type fail with ErrDisabled. __typename keeps
// working.
func Disable() engine.Option {
	return func(o *engine.Options) {
		fail := func(context.Context, engine.ResolveParams) (any, error) { return nil, ErrDisabled }
		o.Resolvers["Query.__schema"] = fail
		o.Resolvers["Query.__type"] = fail
	}
}

type fieldFunc func(sch *ast.Schema, src any, args map[string]any) any

func resolvers() map[string]engine.ResolveFunc {
	table := map[string]fieldFunc{
		"Query.__schema": func(sch *ast.Schema, _ any, _ map[string]any) any { return sch },
		"Query.__type": func(sch *ast.Schema, _ any, args map[string]any) any {
			name, _ := args["name"].(string)
			if def := sch.Types[name]; def != nil {
				return def
			}
			return nil
		},

		"__Schema.description": func(sch *ast.Schema, _ any, _ map[string]any) any { return nullable(sch.Description) },
		"__Schema.types": func(sch *ast.Schema, _ any, _ map[string]any) any {
			out := make([]*ast.Definition, 0, len(sch.Types))
			for _, t := range sch.Types {
				out = append(out, t)
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
			return out
		},
		"__Schema.queryType":        func(sch *ast.Schema, _ any, _ map[string]any) any { return definition(sch.Query) },
		"__Schema.mutationType":     func(sch *ast.Schema, _ any, _ map[string]any) any { return definition(sch.Mutation) },
		"__Schema.subscriptionType": func(sch *ast.Schema, _ any, _ map[string]any) any { return definition(sch.Subscription) },
		"__Schema.directives": func(sch *ast.Schema, _ any, _ map[string]any) any {
			out := make([]*ast.DirectiveDefinition, 0, len(sch.Directives))
			for _, d := range sch.Directives {
				out = append(out, d)
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
			return out
		},

		"__Type.kind": func(sch *ast.Schema, src any, _ map[string]any) any {
			kind, def, _ := unwrap(sch, src)
			if kind != "" {
				return kind
			}
			if def == nil {
				return nil
			}
			return string(def.Kind)
		},
		"__Type.name": namedField(func(def *ast.Definition, _ *ast.Schema, _ map[string]any) any { return def.Name }),
		"__Type.description": namedField(func(def *ast.Definition, _ *ast.Schema, _ map[string]any) any {
			return nullable(def.Description)
		}),
		"__Type.specifiedByURL": namedField(func(def *ast.Definition, _ *ast.Schema, _ map[string]any) any {
			if d := def.Directives.ForName("specifiedBy"); d != nil {
				if a := d.Arguments.ForName("url"); a != nil && a.Value != nil {
					return a.Value.Raw
				}
			}
			return nil
		}),
		"__Type.fields": namedField(func(def *ast.Definition, _ *ast.Schema, args map[string]any) any {
			if def.Kind != ast.Object && def.Kind != ast.Interface {
				return nil
			}
			out := []*ast.FieldDefinition{}
			for _, f := range def.Fields {
				if strings.HasPrefix(f.Name, "__") || (!includeDeprecated(args) && deprecated(f.Directives)) {
					continue
				}
				out = append(out, f)
			}
			return out
		}),
		"__Type.interfaces": namedField(func(def *ast.Definition, sch *ast.Schema, _ map[string]any) any {
			if def.Kind != ast.Object && def.Kind != ast.Interface {
				return nil
			}
			out := []*ast.Definition{}
			for _, name := range def.Interfaces {
				if t := sch.Types[name]; t != nil {
					out = append(out, t)
				}
			}
			return out
		}),
		"__Type.possibleTypes": namedField(func(def *ast.Definition, sch *ast.Schema, _ map[string]any) any {
			if def.Kind != ast.Interface && def.Kind != ast.Union {
				return nil
			}
			out := append([]*ast.Definition(nil), sch.GetPossibleTypes(def)...)
			sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
			return out
		}),
		"__Type.enumValues": namedField(func(def *ast.Definition, _ *ast.Schema, args map[string]any) any {
			if def.Kind != ast.Enum {
				return nil
			}
			out := []*ast.EnumValueDefinition{}
			for _, v := range def.EnumValues {
				if !includeDeprecated(args) && deprecated(v.Directives) {
					continue
				}
				out = append(out, v)
			}
			return out
		}),
		"__Type.inputFields": namedField(func(def *ast.Definition, _ *ast.Schema, args map[string]any) any {
			if def.Kind != ast.InputObject {
				return nil
			}
			out := []*ast.FieldDefinition{}
			for _, f := range def.Fields {
				if !includeDeprecated(args) && deprecated(f.Directives) {
					continue
				}
				out = append(out, f)
			}
			return out
		}),
		"__Type.ofType": func(sch *ast.Schema, src any, _ map[string]any) any {
			_, _, of := unwrap(sch, src)
			if of == nil {
				return nil
			}
			return of
		},
		"__Type.isOneOf": namedField(func(def *ast.Definition, _ *ast.Schema, _ map[string]any) any {
			if def.Kind != ast.InputObject {
				return nil
			}
			return def.Directives.ForName("oneOf") != nil
		}),

		"__Field.name":        func(_ *ast.Schema, src any, _ map[string]any) any { return src.(*ast.FieldDefinition).Name },
		"__Field.description": func(_ *ast.Schema, src any, _ map[string]any) any { return nullable(src.(*ast.FieldDefinition).Description) },
		"__Field.args": func(_ *ast.Schema, src any, args map[string]any) any {
			out := []*ast.ArgumentDefinition{}
			for _, a := range src.(*ast.FieldDefinition).Arguments {
				if !includeDeprecated(args) && deprecated(a.Directives) {
					continue
				}
				out = append(out, a)
			}
			return out
		},
		"__Field.type":         func(_ *ast.Schema, src any, _ map[string]any) any { return src.(*ast.FieldDefinition).Type },
		"__Field.isDeprecated": func(_ *ast.Schema, src any, _ map[string]any) any { return deprecated(src.(*ast.FieldDefinition).Directives) },
		"__Field.deprecationReason": func(_ *ast.Schema, src any, _ map[string]any) any {
			return deprecationReason(src.(*ast.FieldDefinition).Directives)
		},

		"__InputValue.name": func(_ *ast.Schema, src any, _ map[string]any) any { return inputValue(src).name },
		"__InputValue.description": func(_ *ast.Schema, src any, _ map[string]any) any {
			return nullable(inputValue(src).description)
		},
		"__InputValue.type": func(_ *ast.Schema, src any, _ map[string]any) any { return inputValue(src).typ },
		"__InputValue.defaultValue": func(_ *ast.Schema, src any, _ map[string]any) any {
			if v := inputValue(src).defaultValue; v != nil {
				return v.String()
			}
			return nil
		},
		"__InputValue.isDeprecated": func(_ *ast.Schema, src any, _ map[string]any) any {
			return deprecated(inputValue(src).directives)
		},
		"__InputValue.deprecationReason": func(_ *ast.Schema, src any, _ map[string]any) any {
			return deprecationReason(inputValue(src).directives)
		},

		"__EnumValue.name": func(_ *ast.Schema, src any, _ map[string]any) any { return src.(*ast.EnumValueDefinition).Name },
		"__EnumValue.description": func(_ *ast.Schema, src any, _ map[string]any) any {
			return nullable(src.(*ast.EnumValueDefinition).Description)
		},
		"__EnumValue.isDeprecated": func(_ *ast.Schema, src any, _ map[string]any) any {
			return deprecated(src.(*ast.EnumValueDefinition).Directives)
		},
		"__EnumValue.deprecationReason": func(_ *ast.Schema, src any, _ map[string]any) any {
			return deprecationReason(src.(*ast.EnumValueDefinition).Directives)
		},

		"__Directive.name": func(_ *ast.Schema, src any, _ map[string]any) any { return src.(*ast.DirectiveDefinition).Name },
		"__Directive.description": func(_ *ast.Schema, src any, _ map[string]any) any {
			return nullable(src.(*ast.DirectiveDefinition).Description)
		},
		"__Directive.isRepeatable": func(_ *ast.Schema, src any, _ map[string]any) any { return src.(*ast.DirectiveDefinition).IsRepeatable },
		"__Directive.locations": func(_ *ast.Schema, src any, _ map[string]any) any {
			d := src.(*ast.DirectiveDefinition)
			out := make([]string, len(d.Locations))
			for i, l := range d.Locations {
				out[i] = string(l)
			}
			return out
		},
		"__Directive.args": func(_ *ast.Schema, src any, args map[string]any) any {
			out := []*ast.ArgumentDefinition{}
			for _, a := range src.(*ast.DirectiveDefinition).Arguments {
				if !includeDeprecated(args) && deprecated(a.Directives) {
					continue
				}
				out = append(out, a)
			}
			return out
		},
	}

	out := make(map[string]engine.ResolveFunc, len(table))
	for k, fn := range table {
		out[k] = func(_ context.Context, p engine.ResolveParams) (any, error) {
			return fn(p.Schema, p.Source, p.Args), nil
		}
	}
	return out
}

// unwrap reports the wrapper kind and inner type of a __Type source, or the
// named definition it refers to.
func unwrap(sch *ast.Schema, src any) (wrapper string, def *ast.Definition, ofType *ast.Type) {
	switch t := src.(type) {
	case *ast.Definition:
		return "", t, nil
	case *ast.Type:
		if t.NonNull {
			return "NON_NULL", nil, &ast.Type{NamedType: t.NamedType, Elem: t.Elem, Position: t.Position}
		}
		if t.Elem != nil {
			return "LIST", nil, t.Elem
		}
		return "", sch.Types[t.NamedType], nil
	}
	return "", nil, nil
}

// namedField adapts fn to __Type sources, yielding null for wrapper types.
func namedField(fn func(def *ast.Definition, sch *ast.Schema, args map[string]any) any) fieldFunc {
	return func(sch *ast.Schema, src any, args map[string]any) any {
		wrapper, def, _ := unwrap(sch, src)
		if wrapper != "" || def == nil {
			return nil
		}
		return fn(def, sch, args)
	}
}

type inputValueDef struct {
	name         string
	description  string
	typ          *ast.Type
	defaultValue *ast.Value
	directives   ast.DirectiveList
}

// inputValue reads arguments and input object fields alike.
func inputValue(src any) inputValueDef {
	switch v := src.(type) {
	case *ast.ArgumentDefinition:
		return inputValueDef{v.Name, v.Description, v.Type, v.DefaultValue, v.Directives}
	case *ast.FieldDefinition:
		return inputValueDef{v.Name, v.Description, v.Type, v.DefaultValue, v.Directives}
	}
	return inputValueDef{}
}

func definition(d *ast.Definition) any {
	if d == nil {
		return nil
	}
	return d
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deprecated(dirs ast.DirectiveList) bool { return dirs.ForName("deprecated") != nil }

func deprecationReason(dirs ast.DirectiveList) any {
	d := dirs.ForName("deprecated")
	if d == nil {
		return nil
	}
	if a := d.Arguments.ForName("reason"); a != nil && a.Value != nil {
		return a.Value.Raw
	}
	return defaultDeprecationReason
}

func includeDeprecated(args map[string]any) bool {
	b, _ := args["includeDeprecated"].(bool)
	return b
}
