package main

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/asaidimu/go-daraja/core/exec"
)

// shapeOptions are the flags shared by query and explain that shape the
// result set around the filter.
type shapeOptions struct {
	Sort   string
	Fields string
	Limit  int
	Offset int
	Count  bool
}

func addShapeFlags(cmd *cobra.Command, opts *shapeOptions) {
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "comma separated sort fields, prefix with - for descending")
	cmd.Flags().StringVar(&opts.Fields, "fields", "", "comma separated fields to return")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum rows to return")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "count matching rows instead of returning them")
}

// unified assembles the shorthand query map the translator understands.
// A nil return selects everything.
func (o *shapeOptions) unified(filterArg string) (any, error) {
	q := map[string]any{}
	if filterArg != "" {
		var clause any
		if err := json.Unmarshal([]byte(filterArg), &clause); err != nil {
			return nil, errors.Wrap(err, "filter must be JSON")
		}
		q["where"] = clause
	}
	if o.Sort != "" {
		var specs []any
		for _, part := range strings.Split(o.Sort, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				specs = append(specs, trimmed)
			}
		}
		q["sort"] = specs
	}
	if o.Fields != "" {
		q["fields"] = o.Fields
	}
	if o.Limit > 0 {
		q["limit"] = o.Limit
	}
	if o.Offset > 0 {
		q["offset"] = o.Offset
	}
	if o.Count {
		q["aggregate"] = []any{"count"}
	}
	if len(q) == 0 {
		return nil, nil
	}
	return q, nil
}

func newQueryCommand(root *rootOptions) *cobra.Command {
	shape := &shapeOptions{}

	cmd := &cobra.Command{
		Use:   "query <collection> [filter]",
		Short: "Run a query against a collection",
		Long: `Run a query against a collection and print the matching rows.

The optional filter argument is JSON in any shorthand the translator
accepts: an object of field/value pairs, an explicit operator form, or
an and/or/not group.

Examples:
  daraja query album
  daraja query album '{"artist": "Miles Davis"}'
  daraja query album '{"year": {"gte": 1959}}' --sort -year --limit 2
  daraja query track '["seconds", "gt", 400]' --fields id,title,length
  daraja query track --count
  daraja query album --as reader`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueryCommand(cmd, root, shape, args)
		},
	}
	addShapeFlags(cmd, shape)
	return cmd
}

func runQueryCommand(cmd *cobra.Command, root *rootOptions, shape *shapeOptions, args []string) error {
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

	result, err := env.engine.Query(cmd.Context(), &exec.Request{
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
		return writeJSON(out, result)
	}
	renderResult(out, result)
	return nil
}
