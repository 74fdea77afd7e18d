package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// ExpvarMetricsRecorder keeps per-operation latency totals and outcome counts
// in process memory and publishes them through expvar.
type ExpvarMetricsRecorder struct {
	name     string
	mu       sync.Mutex
	latency  map[string]float64
	outcomes map[string]map[Outcome]int64
}

// ExpvarMetricsSnapshot is a copy of the recorder state at one instant.
type ExpvarMetricsSnapshot struct {
	LatencyMS  map[string]float64           `json:"latency_ms_total"`
	Outcomes   map[string]map[Outcome]int64 `json:"outcomes_total"`
	RecordedAt time.Time                    `json:"recorded_at"`
}

// Calls returns how many observations op received across all outcomes.
func (s ExpvarMetricsSnapshot) Calls(op string) int64 {
	var n int64
	for _, c := range s.Outcomes[op] {
		n += c
	}
	return n
}

// NewExpvarMetricsRecorder publishes a recorder under name, generating a
// unique name when empty. expvar names are process-global, so publishing the
// same name twice panics.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("plasticatlas_service_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	rec := &ExpvarMetricsRecorder{
		name:     name,
		latency:  make(map[string]float64),
		outcomes: make(map[string]map[Outcome]int64),
	}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar key.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot copies the aggregated state.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	latency := make(map[string]float64, len(r.latency))
	for op, total := range r.latency {
		latency[op] = total
	}
	outcomes := make(map[string]map[Outcome]int64, len(r.outcomes))
	for op, counts := range r.outcomes {
		cpy := make(map[Outcome]int64, len(counts))
		for o, n := range counts {
			cpy[o] = n
		}
		outcomes[op] = cpy
	}
	return ExpvarMetricsSnapshot{LatencyMS: latency, Outcomes: outcomes, RecordedAt: time.Now().UTC()}
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, outcome Outcome, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latency[operation] += float64(duration) / float64(time.Millisecond)
	counts, ok := r.outcomes[operation]
	if !ok {
		counts = make(map[Outcome]int64, 2)
		r.outcomes[operation] = counts
	}
	counts[outcome]++
}

// JSONTraceEntry is one finished span.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Outcome    Outcome   `json:"outcome"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes finished spans as JSON lines and keeps them for
// inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer returns a tracer writing to w. A nil writer only retains entries.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries copies the finished spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	ended := time.Now().UTC()
	entry := JSONTraceEntry{
		Operation:  s.operation,
		Outcome:    Classify(err),
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		StartedAt:  s.started,
		EndedAt:    ended,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
}
