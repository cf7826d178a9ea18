package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"

	input "github.com/hanpama/gqlinput/internal/input"
)

const testSDL = `
type Query {
  hello(name: String = "world"): String
  user(id: ID!): User
  users: [User!]
  strict: String!
  node: Node
  search: [SearchResult]
}
type Mutation { rename(name: String!): String }
type Subscription { ticks: Int }
interface Node { id: ID! }
type User implements Node { id: ID! name: String! friends: [User] }
type Robot implements Node { id: ID! model: String }
union SearchResult = User | Robot
`

func mustEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(testSDL, opts...)
	require.NoError(t, err)
	return e
}

func exec(t *testing.T, e *Engine, query string, vars map[string]any, configure ...func(*input.Builder)) *Result {
	t.Helper()
	b := input.NewBuilder().Query(query).Variables(vars)
	for _, fn := range configure {
		fn(b)
	}
	return e.Execute(context.Background(), b.Build())
}

func messages(res *Result) []string {
	var out []string
	for _, e := range res.Errors {
		out = append(out, e.Message)
	}
	return out
}

func TestExecute_ArgumentsAndDefaults(t *testing.T) {
	e := mustEngine(t, WithResolver("Query", "hello", func(_ context.Context, p ResolveParams) (any, error) {
		return "hello " + p.Args["name"].(string), nil
	}))

	res := exec(t, e, `{ a: hello b: hello(name: "gopher") }`, nil)
	want := &Result{Data: map[string]any{"a": "hello world", "b": "hello gopher"}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("Result mismatch (-want +got):\n%s", diff)
	}

	res = exec(t, e, `query Q($n: String) { hello(name: $n) }`, map[string]any{"n": "vars"})
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"hello": "hello vars"}, res.Data)
}

func TestExecute_NestedDefaultResolver(t *testing.T) {
	users := []any{
		map[string]any{"id": "1", "name": "Ann", "friends": []any{map[string]any{"id": "2", "name": "Bob"}}},
	}
	e := mustEngine(t, WithRootValue(map[string]any{"users": users}))
	res := exec(t, e, `{ users { id name friends { name } } }`, nil)
	want := &Result{Data: map[string]any{
		"users": []any{
			map[string]any{"id": "1", "name": "Ann", "friends": []any{map[string]any{"name": "Bob"}}},
		},
	}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("Result mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_NonNullPropagation(t *testing.T) {
	t.Run("root non-null nulls data", func(t *testing.T) {
		e := mustEngine(t)
		res := exec(t, e, `{ strict hello }`, nil)
		require.Nil(t, res.Data)
		require.Len(t, res.Errors, 1)
		require.Equal(t, ast.Path{ast.PathName("strict")}, res.Errors[0].Path)
	})

	t.Run("non-null child nulls nullable parent", func(t *testing.T) {
		e := mustEngine(t, WithResolver("Query", "user", func(context.Context, ResolveParams) (any, error) {
			return map[string]any{"id": "1"}, nil
		}), WithResolver("Query", "hello", func(context.Context, ResolveParams) (any, error) {
			return "hi", nil
		}))
		res := exec(t, e, `{ user(id: "1") { id name } hello }`, nil)
		require.Equal(t, map[string]any{"user": nil, "hello": "hi"}, res.Data)
		require.Len(t, res.Errors, 1)
		require.Equal(t, ast.Path{ast.PathName("user"), ast.PathName("name")}, res.Errors[0].Path)
	})

	t.Run("non-null list item nulls the list", func(t *testing.T) {
		e := mustEngine(t, WithRootValue(map[string]any{"users": []any{
			map[string]any{"id": "1", "name": "Ann"},
			nil,
		}}))
		res := exec(t, e, `{ users { name } }`, nil)
		require.Equal(t, map[string]any{"users": nil}, res.Data)
		require.Len(t, res.Errors, 1)
		require.Equal(t, ast.Path{ast.PathName("users"), ast.PathIndex(1)}, res.Errors[0].Path)
	})
}

func TestExecute_ResolverError(t *testing.T) {
	e := mustEngine(t, WithResolver("Query", "hello", func(context.Context, ResolveParams) (any, error) {
		return nil, errors.New("boom")
	}))
	res := exec(t, e, `{ hello }`, nil)
	require.Equal(t, map[string]any{"hello": nil}, res.Data)
	require.Equal(t, []string{"boom"}, messages(res))
}

func TestExecute_AbstractTypes(t *testing.T) {
	e := mustEngine(t, WithRootValue(map[string]any{
		"node": map[string]any{"__typename": "Robot", "id": "r1", "model": "T-800"},
		"search": []any{
			map[string]any{"__typename": "User", "id": "1", "name": "Ann"},
			map[string]any{"__typename": "Robot", "id": "2", "model": "R2"},
		},
	}))
	res := exec(t, e, `{
	  node { __typename id ... on Robot { model } }
	  search { ... on User { name } ...R }
	}
	fragment R on Robot { model }`, nil)
	want := &Result{Data: map[string]any{
		"node":   map[string]any{"__typename": "Robot", "id": "r1", "model": "T-800"},
		"search": []any{map[string]any{"name": "Ann"}, map[string]any{"model": "R2"}},
	}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("Result mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_SkipInclude(t *testing.T) {
	e := mustEngine(t, WithRootValue(map[string]any{"hello": "hi"}))
	res := exec(t, e, `query Q($s: Boolean!) { a: hello @skip(if: $s) b: hello @include(if: $s) }`, map[string]any{"s": true})
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"b": "hi"}, res.Data)
}

func TestExecute_RequestErrors(t *testing.T) {
	e := mustEngine(t)
	cases := []struct {
		name, query, op string
		vars            map[string]any
		want            string
	}{
		{"syntax", `{ hello`, "", nil, ""},
		{"validation", `{ nope }`, "", nil, ""},
		{"ambiguous", `query A { hello } query B { hello }`, "", nil, "must provide operation name if query contains multiple operations"},
		{"unknown operation", `query A { hello }`, "B", nil, `unknown operation named "B"`},
		{"subscription", `subscription { ticks }`, "", nil, "subscriptions are not supported"},
		{"missing variable", `query Q($id: ID!) { user(id: $id) { id } }`, "", nil, ""},
		{"empty query", ``, "", nil, "query is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := exec(t, e, tc.query, tc.vars, func(b *input.Builder) { b.OperationName(tc.op) })
			require.Nil(t, res.Data)
			require.NotEmpty(t, res.Errors)
			if tc.want != "" {
				require.Equal(t, []string{tc.want}, messages(res))
			}
		})
	}
}

func TestExecute_Mutation(t *testing.T) {
	e := mustEngine(t, WithResolver("Mutation", "rename", func(_ context.Context, p ResolveParams) (any, error) {
		return p.Args["name"], nil
	}))
	res := exec(t, e, `mutation { rename(name: "x") }`, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"rename": "x"}, res.Data)
}

func TestExecute_InputInContext(t *testing.T) {
	var seen input.ExecutionInput
	e := mustEngine(t,
		WithResolver("Query", "hello", func(ctx context.Context, _ ResolveParams) (any, error) {
			seen, _ = InputFromContext(ctx)
			return "ok", nil
		}),
		WithResponseExtensions("traceId"),
	)

	res := exec(t, e, `{ hello }`, nil, func(b *input.Builder) {
		b.ExecutionID("exec-1").Extension("traceId", "abc").Extension("internal", 1)
	})
	require.Equal(t, input.ExecutionID("exec-1"), seen.ExecutionID)
	require.Equal(t, map[string]any{"traceId": "abc"}, res.Extensions)

	exec(t, e, `{ hello }`, nil)
	require.True(t, seen.HasExecutionID(), "engine assigns an id when none was resolved")
}

func TestAssignExecutionID(t *testing.T) {
	kept := AssignExecutionID(input.NewBuilder().Query("{ hello }").ExecutionID("exec-1").Build())
	require.Equal(t, input.ExecutionID("exec-1"), kept.ExecutionID)

	bare := input.NewBuilder().Query("{ hello }").Build()
	got := AssignExecutionID(bare)
	require.True(t, got.HasExecutionID())
	require.False(t, bare.HasExecutionID())
	require.NotEqual(t, got.ExecutionID, AssignExecutionID(bare).ExecutionID)
}

func TestExecute_DocumentCache(t *testing.T) {
	e := mustEngine(t, WithCacheSize(1), WithRootValue(map[string]any{"hello": "hi"}))
	exec(t, e, `{ hello }`, nil)
	require.Equal(t, 1, e.docs.Len())
	exec(t, e, `{ hello }`, nil)
	require.Equal(t, 1, e.docs.Len())
	exec(t, e, `{ nope }`, nil)
	require.True(t, e.docs.Contains(`{ hello }`), "invalid documents are not cached")
	exec(t, e, `{ a: hello }`, nil)
	require.False(t, e.docs.Contains(`{ hello }`))
}

func TestNew_Errors(t *testing.T) {
	_, err := New(`type Query { a: Missing }`)
	require.Error(t, err)
	_, err = New(`type Foo { a: String }`)
	require.Error(t, err)
}
