package analyzer

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSlowQueryLimit bounds the slow-query list when no limit is
// configured.
const DefaultSlowQueryLimit = 10

// Sample is one observed execution, as reported by the engine's event
// stream.
type Sample struct {
	Object      string        `json:"object"`
	Operation   string        `json:"operation"`
	Shape       string        `json:"shape,omitempty"`
	Duration    time.Duration `json:"duration"`
	Rows        int           `json:"rows"`
	Failed      bool          `json:"failed"`
	Correlation string        `json:"correlation,omitempty"`
	At          time.Time     `json:"at"`
}

// ObjectStats aggregates the executions observed for one object.
type ObjectStats struct {
	Object       string  `json:"object"`
	Executions   uint64  `json:"executions"`
	Errors       uint64  `json:"errors"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	MaxLatencyMs float64 `json:"maxLatencyMs"`
}

// SlowQuery is one entry of the bounded slowest-execution list.
type SlowQuery struct {
	Object      string    `json:"object"`
	Operation   string    `json:"operation"`
	Shape       string    `json:"shape,omitempty"`
	DurationMs  float64   `json:"durationMs"`
	Failed      bool      `json:"failed,omitempty"`
	Correlation string    `json:"correlation,omitempty"`
	At          time.Time `json:"at"`
}

// Snapshot is a point-in-time copy of the rolling statistics.
type Snapshot struct {
	Since   time.Time     `json:"since"`
	Objects []ObjectStats `json:"objects"`
	Slowest []SlowQuery   `json:"slowest"`
}

// Statistics keeps rolling per-object execution aggregates and a bounded
// list of the slowest executions seen so far. It is safe for concurrent
// use; the engine feeds it from its event subscribers.
type Statistics struct {
	mu      sync.Mutex
	since   time.Time
	limit   int
	objects map[string]*objectAccumulator
	slowest []SlowQuery // sorted by DurationMs, slowest first
	logger  *zap.Logger
}

type objectAccumulator struct {
	executions uint64
	errors     uint64
	total      time.Duration
	max        time.Duration
}

// NewStatistics creates a Statistics keeping at most slowQueryLimit slow
// entries. Non-positive limits fall back to DefaultSlowQueryLimit; a nil
// logger disables logging.
func NewStatistics(slowQueryLimit int, logger *zap.Logger) *Statistics {
	if slowQueryLimit <= 0 {
		slowQueryLimit = DefaultSlowQueryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Statistics{
		since:   time.Now(),
		limit:   slowQueryLimit,
		objects: make(map[string]*objectAccumulator),
		logger:  logger,
	}
}

// Observe folds one execution into the aggregates.
func (s *Statistics) Observe(sample Sample) {
	if sample.At.IsZero() {
		sample.At = time.Now()
	}

	s.mu.Lock()
	acc := s.objects[sample.Object]
	if acc == nil {
		acc = &objectAccumulator{}
		s.objects[sample.Object] = acc
	}
	acc.executions++
	if sample.Failed {
		acc.errors++
	}
	acc.total += sample.Duration
	if sample.Duration > acc.max {
		acc.max = sample.Duration
	}
	recorded := s.insertSlowLocked(sample)
	s.mu.Unlock()

	if recorded {
		s.logger.Debug("slow query recorded",
			zap.String("object", sample.Object),
			zap.String("operation", sample.Operation),
			zap.Duration("elapsed", sample.Duration))
	}
}

// insertSlowLocked places the sample into the slowest list when it ranks,
// keeping the list sorted and bounded. Callers hold s.mu.
func (s *Statistics) insertSlowLocked(sample Sample) bool {
	ms := float64(sample.Duration) / float64(time.Millisecond)
	if len(s.slowest) == s.limit && ms <= s.slowest[len(s.slowest)-1].DurationMs {
		return false
	}
	entry := SlowQuery{
		Object:      sample.Object,
		Operation:   sample.Operation,
		Shape:       sample.Shape,
		DurationMs:  ms,
		Failed:      sample.Failed,
		Correlation: sample.Correlation,
		At:          sample.At,
	}
	pos := sort.Search(len(s.slowest), func(i int) bool { return s.slowest[i].DurationMs < ms })
	s.slowest = append(s.slowest, SlowQuery{})
	copy(s.slowest[pos+1:], s.slowest[pos:])
	s.slowest[pos] = entry
	if len(s.slowest) > s.limit {
		s.slowest = s.slowest[:s.limit]
	}
	return true
}

// Snapshot copies the current aggregates. Objects are sorted by name and
// the slow list by duration, slowest first.
func (s *Statistics) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		Since:   s.since,
		Objects: make([]ObjectStats, 0, len(s.objects)),
		Slowest: append([]SlowQuery(nil), s.slowest...),
	}
	for name, acc := range s.objects {
		stat := ObjectStats{
			Object:       name,
			Executions:   acc.executions,
			Errors:       acc.errors,
			MaxLatencyMs: float64(acc.max) / float64(time.Millisecond),
		}
		if acc.executions > 0 {
			stat.AvgLatencyMs = float64(acc.total) / float64(acc.executions) / float64(time.Millisecond)
		}
		snap.Objects = append(snap.Objects, stat)
	}
	sort.Slice(snap.Objects, func(i, j int) bool { return snap.Objects[i].Object < snap.Objects[j].Object })
	return snap
}

// Reset clears all aggregates and starts a new observation window.
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = time.Now()
	s.objects = make(map[string]*objectAccumulator)
	s.slowest = nil
}
