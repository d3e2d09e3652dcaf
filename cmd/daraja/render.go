package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/asaidimu/go-daraja/core/analyzer"
	"github.com/asaidimu/go-daraja/core/exec"
	"github.com/asaidimu/go-daraja/core/schema"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	return table
}

func renderResult(w io.Writer, result *exec.Result) {
	if len(result.Rows) > 0 {
		renderDocuments(w, result.Rows)
	}
	if len(result.Rows) > 0 || len(result.Aggregates) == 0 {
		if len(result.Rows) == result.Count {
			fmt.Fprintf(w, "(%d row%s)\n", result.Count, plural(result.Count))
		} else {
			fmt.Fprintf(w, "(%d of %d matching rows)\n", len(result.Rows), result.Count)
		}
	}
	if len(result.Aggregates) > 0 {
		renderAggregates(w, result.Aggregates)
	}
	if len(result.Dropped) > 0 {
		fmt.Fprintf(w, "fields hidden by role: %s\n", strings.Join(result.Dropped, ", "))
	}
}

func renderDocuments(w io.Writer, docs []schema.Document) {
	columns := documentColumns(docs)
	table := newTable(w)
	table.SetHeader(columns)
	for _, doc := range docs {
		row := make([]string, len(columns))
		for i, column := range columns {
			row[i] = formatValue(doc[column])
		}
		table.Append(row)
	}
	table.Render()
}

// documentColumns unions the keys of all rows, sorted, with the id
// column first when present.
func documentColumns(docs []schema.Document) []string {
	seen := make(map[string]struct{})
	for _, doc := range docs {
		for key := range doc {
			seen[key] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for key := range seen {
		columns = append(columns, key)
	}
	sort.Slice(columns, func(i, j int) bool {
		if columns[i] == "id" {
			return true
		}
		if columns[j] == "id" {
			return false
		}
		return columns[i] < columns[j]
	})
	return columns
}

func renderAggregates(w io.Writer, aggregates map[string]any) {
	aliases := make([]string, 0, len(aggregates))
	for alias := range aggregates {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	table := newTable(w)
	table.SetHeader([]string{"Aggregate", "Value"})
	for _, alias := range aliases {
		table.Append([]string{alias, formatValue(aggregates[alias])})
	}
	table.Render()
}

func renderExplanation(w io.Writer, explanation *analyzer.Explanation) {
	table := newTable(w)
	table.SetHeader([]string{"Property", "Value"})
	table.Append([]string{"object", explanation.Object})
	table.Append([]string{"estimated rows", strconv.FormatInt(explanation.EstimatedRows, 10)})
	table.Append([]string{"complexity score", strconv.Itoa(explanation.ComplexityScore)})
	table.Append([]string{"applicable indexes", orDash(strings.Join(explanation.IndexesApplicable, ", "))})
	table.Render()

	for _, warning := range explanation.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	for _, suggestion := range explanation.Suggestions {
		fmt.Fprintf(w, "suggestion: %s\n", suggestion)
	}
}

func renderStats(w io.Writer, report *statsReport) {
	fmt.Fprintf(w, "statistics since %s\n", report.Stats.Since.Format(time.RFC3339))

	objects := newTable(w)
	objects.SetHeader([]string{"Object", "Executions", "Errors", "Avg ms", "Max ms"})
	for _, stat := range report.Stats.Objects {
		objects.Append([]string{
			stat.Object,
			strconv.FormatUint(stat.Executions, 10),
			strconv.FormatUint(stat.Errors, 10),
			formatMillis(stat.AvgLatencyMs),
			formatMillis(stat.MaxLatencyMs),
		})
	}
	objects.Render()

	if len(report.Stats.Slowest) > 0 {
		fmt.Fprintln(w, "slowest executions")
		slowest := newTable(w)
		slowest.SetHeader([]string{"Object", "Operation", "Duration ms", "Shape"})
		for _, slow := range report.Stats.Slowest {
			slowest.Append([]string{
				slow.Object,
				slow.Operation,
				formatMillis(slow.DurationMs),
				truncate(slow.Shape, 60),
			})
		}
		slowest.Render()
	}

	backends := make([]string, 0, len(report.Caches))
	for backend := range report.Caches {
		backends = append(backends, backend)
	}
	sort.Strings(backends)

	fmt.Fprintln(w, "plan caches")
	caches := newTable(w)
	caches.SetHeader([]string{"Backend", "Hits", "Misses", "Evictions", "Invalidations", "Size"})
	for _, backend := range backends {
		metrics := report.Caches[backend]
		caches.Append([]string{
			backend,
			strconv.FormatUint(metrics.Hits, 10),
			strconv.FormatUint(metrics.Misses, 10),
			strconv.FormatUint(metrics.Evictions, 10),
			strconv.FormatUint(metrics.Invalidations, 10),
			strconv.Itoa(metrics.Size),
		})
	}
	caches.Render()
}

func formatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return "NULL"
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(value), 'g', -1, 32)
	case []any, map[string]any, []string:
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", value)
	}
}

func formatMillis(ms float64) string {
	return strconv.FormatFloat(ms, 'f', 2, 64)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
