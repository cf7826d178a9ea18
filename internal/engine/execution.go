package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// errNull marks a null that must propagate to the nearest nullable
// position. The error behind it has already been recorded.
var errNull = errors.New("null propagated")

type execution struct {
	engine *Engine
	ctx    context.Context
	doc    *ast.QueryDocument
	vars   map[string]any
	errs   gqlerror.List
}

type fieldGroup struct {
	key    string
	fields []*ast.Field
}

func (x *execution) addError(path ast.Path, err error) {
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) && len(gqlErr.Path) == 0 {
		cp := *gqlErr
		cp.Path = path
		x.errs = append(x.errs, &cp)
		return
	}
	x.errs = append(x.errs, gqlerror.WrapPath(path, err))
}

func (x *execution) selectionSet(obj *ast.Definition, set ast.SelectionSet, source any, path ast.Path) (map[string]any, error) {
	var groups []*fieldGroup
	x.collectFields(obj, set, &groups, map[string]*fieldGroup{}, map[string]bool{})

	out := make(map[string]any, len(groups))
	for _, g := range groups {
		v, err := x.field(obj, g.fields, source, appendPath(path, ast.PathName(g.key)))
		if err != nil {
			return nil, errNull
		}
		out[g.key] = v
	}
	return out, nil
}

func (x *execution) field(obj *ast.Definition, fields []*ast.Field, source any, path ast.Path) (any, error) {
	f := fields[0]
	if f.Name == "__typename" {
		return obj.Name, nil
	}
	def := f.Definition
	if def == nil {
		def = obj.Fields.ForName(f.Name)
	}
	if def == nil {
		x.addError(path, fmt.Errorf("cannot query field %q on type %q", f.Name, obj.Name))
		return nil, nil
	}

	var args map[string]any
	if f.Definition != nil {
		args = f.ArgumentMap(x.vars)
	}
	v, err := x.engine.resolve(x.ctx, ResolveParams{
		Schema:     x.engine.schema,
		ObjectType: obj.Name,
		Field:      f.Name,
		Source:     source,
		Args:       args,
		Path:       path,
	})
	if err != nil {
		x.addError(path, err)
		if def.Type.NonNull {
			return nil, errNull
		}
		return nil, nil
	}
	return x.complete(def.Type, fields, v, path)
}

// complete applies the nullability of typ to the value produced by
// completeInner.
func (x *execution) complete(typ *ast.Type, fields []*ast.Field, v any, path ast.Path) (any, error) {
	c, err := x.completeInner(typ, fields, v, path)
	if !typ.NonNull {
		if err != nil {
			return nil, nil
		}
		return c, nil
	}
	if err != nil {
		return nil, errNull
	}
	if c == nil {
		x.addError(path, fmt.Errorf("cannot return null for non-nullable field"))
		return nil, errNull
	}
	return c, nil
}

func (x *execution) completeInner(typ *ast.Type, fields []*ast.Field, v any, path ast.Path) (any, error) {
	if isNil(v) {
		return nil, nil
	}
	if typ.Elem != nil {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			x.addError(path, fmt.Errorf("expected a list, got %T", v))
			return nil, errNull
		}
		out := make([]any, rv.Len())
		for i := range out {
			c, err := x.complete(typ.Elem, fields, rv.Index(i).Interface(), appendPath(path, ast.PathIndex(i)))
			if err != nil {
				return nil, errNull
			}
			out[i] = c
		}
		return out, nil
	}

	def := x.engine.schema.Types[typ.NamedType]
	if def == nil {
		x.addError(path, fmt.Errorf("unknown type %q", typ.NamedType))
		return nil, errNull
	}
	switch def.Kind {
	case ast.Scalar, ast.Enum:
		return v, nil
	case ast.Interface, ast.Union:
		concrete, err := x.resolveType(def, v)
		if err != nil {
			x.addError(path, err)
			return nil, errNull
		}
		def = concrete
	}
	return x.selectionSet(def, mergeSelections(fields), v, path)
}

func (x *execution) resolveType(abstract *ast.Definition, v any) (*ast.Definition, error) {
	var name string
	if fn := x.engine.opt.TypeResolver; fn != nil {
		n, err := fn(x.ctx, abstract.Name, v)
		if err != nil {
			return nil, err
		}
		name = n
	} else if m, ok := v.(map[string]any); ok {
		name, _ = m["__typename"].(string)
	}
	for _, possible := range x.engine.schema.GetPossibleTypes(abstract) {
		if possible.Name == name {
			return possible, nil
		}
	}
	return nil, fmt.Errorf("cannot resolve concrete type of %q for %T", abstract.Name, v)
}

func (x *execution) collectFields(obj *ast.Definition, set ast.SelectionSet, groups *[]*fieldGroup, index map[string]*fieldGroup, visited map[string]bool) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if x.skipped(s.Directives) {
				continue
			}
			key := s.Alias
			if key == "" {
				key = s.Name
			}
			g, ok := index[key]
			if !ok {
				g = &fieldGroup{key: key}
				index[key] = g
				*groups = append(*groups, g)
			}
			g.fields = append(g.fields, s)
		case *ast.InlineFragment:
			if x.skipped(s.Directives) || !x.fragmentApplies(obj, s.TypeCondition) {
				continue
			}
			x.collectFields(obj, s.SelectionSet, groups, index, visited)
		case *ast.FragmentSpread:
			if x.skipped(s.Directives) || visited[s.Name] {
				continue
			}
			visited[s.Name] = true
			frag := s.Definition
			if frag == nil {
				frag = x.doc.Fragments.ForName(s.Name)
			}
			if frag == nil || !x.fragmentApplies(obj, frag.TypeCondition) {
				continue
			}
			x.collectFields(obj, frag.SelectionSet, groups, index, visited)
		}
	}
}

func (x *execution) skipped(dirs ast.DirectiveList) bool {
	if d := dirs.ForName("skip"); d != nil && d.Definition != nil {
		if d.ArgumentMap(x.vars)["if"] == true {
			return true
		}
	}
	if d := dirs.ForName("include"); d != nil && d.Definition != nil {
		if d.ArgumentMap(x.vars)["if"] == false {
			return true
		}
	}
	return false
}

func (x *execution) fragmentApplies(obj *ast.Definition, cond string) bool {
	if cond == "" || cond == obj.Name {
		return true
	}
	def := x.engine.schema.Types[cond]
	if def == nil || !def.IsAbstractType() {
		return false
	}
	for _, possible := range x.engine.schema.GetPossibleTypes(def) {
		if possible.Name == obj.Name {
			return true
		}
	}
	return false
}

func (e *Engine) resolve(ctx context.Context, p ResolveParams) (any, error) {
	if fn, ok := e.opt.Resolvers[p.ObjectType+"."+p.Field]; ok {
		return fn(ctx, p)
	}
	if m, ok := p.Source.(map[string]any); ok {
		return m[p.Field], nil
	}
	return nil, nil
}

func mergeSelections(fields []*ast.Field) ast.SelectionSet {
	if len(fields) == 1 {
		return fields[0].SelectionSet
	}
	var set ast.SelectionSet
	for _, f := range fields {
		set = append(set, f.SelectionSet...)
	}
	return set
}

func appendPath(path ast.Path, el ast.PathElement) ast.Path {
	out := make(ast.Path, len(path), len(path)+1)
	copy(out, path)
	return append(out, el)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
