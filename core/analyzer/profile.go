package analyzer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/asaidimu/go-daraja/core/driver"
	"github.com/asaidimu/go-daraja/core/query"
	"github.com/asaidimu/go-daraja/core/schema"
)

// Runner executes one already-authorized query and returns its result. The
// profiler wraps a Runner so that measurement cannot change what executes.
type Runner func(ctx context.Context) (*driver.QueryResult, error)

// Profile is the measured outcome of a single query execution.
type Profile struct {
	Object          string  `json:"object"`
	ExecutionTimeMs float64 `json:"executionTimeMs"`
	RowsScanned     int64   `json:"rowsScanned"`
	RowsReturned    int64   `json:"rowsReturned"`
	IndexUsed       string  `json:"indexUsed,omitempty"`
}

// Profiler times query executions. The query runs through the same Runner
// the caller would use and errors pass through untouched.
type Profiler struct {
	logger *zap.Logger
}

// NewProfiler creates a Profiler. A nil logger disables logging.
func NewProfiler(logger *zap.Logger) *Profiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Profiler{logger: logger}
}

// Profile executes the query through run and measures it. RowsScanned uses
// the backend's total match count when it exceeds the returned window, and
// IndexUsed is attributed from object metadata since the execution protocol
// does not surface backend plan internals.
func (p *Profiler) Profile(ctx context.Context, q *query.Query, obj *schema.Object, run Runner) (*Profile, error) {
	if obj == nil {
		obj = &schema.Object{}
	}
	start := time.Now()
	res, err := run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		p.logger.Debug("profiled query failed",
			zap.String("object", obj.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	prof := &Profile{
		Object:          obj.Name,
		ExecutionTimeMs: float64(elapsed) / float64(time.Millisecond),
		RowsReturned:    int64(len(res.Documents)),
		IndexUsed:       attributeIndex(q, obj),
	}
	prof.RowsScanned = prof.RowsReturned
	if int64(res.Count) > prof.RowsScanned {
		prof.RowsScanned = int64(res.Count)
	}

	p.logger.Debug("query profiled",
		zap.String("object", obj.Name),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rowsReturned", prof.RowsReturned),
		zap.Int64("rowsScanned", prof.RowsScanned))
	return prof, nil
}

// attributeIndex picks the most specific index a backend could have used:
// primary over unique over normal, filter fields before sort fields.
func attributeIndex(q *query.Query, obj *schema.Object) string {
	if q == nil {
		return ""
	}
	best := ""
	bestRank := 0
	consider := func(field string) {
		idx := obj.IndexFor(field)
		if idx == nil {
			return
		}
		rank := 1
		switch idx.Type {
		case schema.IndexTypePrimary:
			rank = 3
		case schema.IndexTypeUnique:
			rank = 2
		}
		if rank > bestRank {
			best, bestRank = idx.Name, rank
		}
	}
	if q.Filters != nil {
		for _, field := range q.Filters.Fields() {
			consider(field)
		}
	}
	if best == "" && len(q.Sort) > 0 {
		consider(q.Sort[0].Field)
	}
	return best
}
