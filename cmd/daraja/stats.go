package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/asaidimu/go-daraja/core/analyzer"
	"github.com/asaidimu/go-daraja/core/exec"
	"github.com/asaidimu/go-daraja/core/plan"
)

// workloadEntry is one query of the replayed demo workload.
type workloadEntry struct {
	collection string
	query      any
}

// demoWorkload mixes point lookups, range scans, sorts and an aggregate
// so the statistics and the plan cache have something to show.
func demoWorkload() []workloadEntry {
	return []workloadEntry{
		{"album", map[string]any{"where": map[string]any{"artist": "John Coltrane"}}},
		{"album", map[string]any{"where": map[string]any{"year": map[string]any{"gte": 1959}}, "sort": []any{"-year"}, "limit": 2}},
		{"track", map[string]any{"where": []any{"seconds", "gt", 400}}},
		{"track", map[string]any{"where": map[string]any{"title": map[string]any{"contains": "Blue"}}}},
		{"album", map[string]any{"aggregate": []any{"count"}}},
	}
}

type statsReport struct {
	Stats  *analyzer.Snapshot           `json:"stats"`
	Caches map[string]plan.CacheMetrics `json:"caches"`
}

func newStatsCommand(root *rootOptions) *cobra.Command {
	runs := 0

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Replay a demo workload and print execution statistics",
		Long: `Replay a built-in workload of queries, then print the per-object
execution statistics, the slowest executions and the plan cache
counters. Repeated runs of the same query shapes reuse cached plans,
which shows up as cache hits.

Examples:
  daraja stats
  daraja stats --runs 100 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatsCommand(cmd, root, runs)
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 25, "how many times to replay the workload")
	return cmd
}

func runStatsCommand(cmd *cobra.Command, root *rootOptions, runs int) error {
	env, err := root.setup(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	workload := demoWorkload()
	for i := 0; i < runs; i++ {
		for _, entry := range workload {
			_, err := env.engine.Query(cmd.Context(), &exec.Request{
				Collection: entry.collection,
				Backend:    root.Backend,
				Query:      entry.query,
				Identity:   root.identity(),
			})
			if err != nil {
				// Failures are part of the picture: they land in the
				// error counters instead of stopping the replay.
				env.logger.Debug("workload query failed",
					zap.String("collection", entry.collection),
					zap.Error(err))
			}
		}
	}

	report := &statsReport{
		Stats:  env.engine.Stats(),
		Caches: make(map[string]plan.CacheMetrics),
	}
	for _, backend := range env.engine.Backends() {
		metrics, err := env.engine.CacheMetrics(backend)
		if err != nil {
			continue
		}
		report.Caches[backend] = metrics
	}

	out := cmd.OutOrStdout()
	if root.Format == "json" {
		return writeJSON(out, report)
	}
	renderStats(out, report)
	return nil
}
