package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	input "github.com/hanpama/gqlinput/internal/input"
)

type inspectFlags struct {
	query       string
	operation   string
	variables   string
	id          string
	locale      string
	executionID string
	extensions  []string
	noFallback  bool
}

// executionOutput is the JSON rendering of an input.ExecutionInput.
type executionOutput struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables"`
	Locale        string         `json:"locale,omitempty"`
	ExecutionID   string         `json:"executionId,omitempty"`
	Extensions    map[string]any `json:"extensions"`
}

func (a *app) inspectCmd() *cobra.Command {
	var f inspectFlags
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Build an execution input from flags and print each stage",
		Long: `Build a request descriptor from flags, register one contribution per
--extension and print the descriptor, its map projection and the resulting
execution input.`,
		Example: `  gqlinput inspect --query '{ ping }' --id req-1
  gqlinput inspect --query '{ ping }' --id req-1 --execution-id exec-9 --extension traceId=abc`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return inspect(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.query, "query", "q", "", "GraphQL document")
	fl.StringVar(&f.operation, "operation", "", "operation name")
	fl.StringVar(&f.variables, "variables", "", "variables as a JSON object")
	fl.StringVar(&f.id, "id", "", "request correlation id")
	fl.StringVar(&f.locale, "locale", "", "BCP 47 locale, e.g. en-US")
	fl.StringVar(&f.executionID, "execution-id", "", "explicit execution id")
	fl.StringArrayVar(&f.extensions, "extension", nil, "key=value contribution, applied in order (repeatable)")
	fl.BoolVar(&f.noFallback, "no-fallback", false, "do not use the request id as execution id")
	return cmd
}

func inspect(cmd *cobra.Command, f inspectFlags) error {
	var opts []input.Option
	if f.operation != "" {
		opts = append(opts, input.WithOperationName(f.operation))
	}
	if f.variables != "" {
		var vars map[string]any
		if err := json.Unmarshal([]byte(f.variables), &vars); err != nil {
			return fmt.Errorf("--variables: %w", err)
		}
		opts = append(opts, input.WithVariables(vars))
	}
	if f.locale != "" {
		tag, err := language.Parse(f.locale)
		if err != nil {
			return fmt.Errorf("--locale: %w", err)
		}
		opts = append(opts, input.WithLocale(tag))
	}

	in, err := input.New(f.query, f.id, opts...)
	if err != nil {
		return err
	}
	if f.executionID != "" {
		if err := in.SetExecutionID(input.ExecutionID(f.executionID)); err != nil {
			return err
		}
	}
	for _, kv := range f.extensions {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("--extension %q: want key=value", kv)
		}
		in.Configure(input.BuilderConfigurer(func(_ input.ExecutionInput, b *input.Builder) input.ExecutionInput {
			return b.Extension(key, value).Build()
		}))
	}

	ei, err := in.ToExecutionInput(!f.noFallback)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, in.String())
	projection, err := json.MarshalIndent(in.ToMap(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(projection))

	eo := executionOutput{
		Query:         ei.Query,
		OperationName: ei.OperationName,
		Variables:     ei.Variables,
		ExecutionID:   ei.ExecutionID.String(),
		Extensions:    ei.Extensions,
	}
	if ei.Locale != language.Und {
		eo.Locale = ei.Locale.String()
	}
	execution, err := json.MarshalIndent(eo, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(execution))
	return nil
}
