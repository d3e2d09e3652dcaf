package main

import (
	"github.com/spf13/cobra"

	"github.com/asaidimu/go-daraja/core/exec"
)

func newExplainCommand(root *rootOptions) *cobra.Command {
	shape := &shapeOptions{}

	cmd := &cobra.Command{
		Use:   "explain <collection> [filter]",
		Short: "Analyze a query without running it",
		Long: `Analyze a query's shape against the collection metadata: estimated
rows, applicable indexes, a complexity score, warnings and suggestions.
Nothing is executed. When a role is set, the analysis covers the query
as authorization rewrites it.

Examples:
  daraja explain album '{"artist": "Miles Davis"}'
  daraja explain track '["plays", "gt", 100]' --sort -plays
  daraja explain album --as reader`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplainCommand(cmd, root, shape, args)
		},
	}
	addShapeFlags(cmd, shape)
	return cmd
}

func runExplainCommand(cmd *cobra.Command, root *rootOptions, shape *shapeOptions, args []string) error {
	env, err := root.setup(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	filterArg := ""
	if len(args) > 1 {
		filterArg = args[1]
	}
	unified, err := shape.unified(filterArg)
	if err != nil {
		return err
	}

	explanation, err := env.engine.Explain(cmd.Context(), &exec.Request{
		Collection: args[0],
		Backend:    root.Backend,
		Query:      unified,
		Identity:   root.identity(),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if root.Format == "json" {
		return writeJSON(out, explanation)
	}
	renderExplanation(out, explanation)
	return nil
}
