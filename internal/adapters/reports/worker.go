// Package reports renders catalog query results into JSON and CSV artifacts
// on a background worker and stores them in the blob store.
package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"plasticatlas/internal/blob"
	"plasticatlas/internal/core"
	"plasticatlas/pkg/domain"
)

// Kind names the query a report is built from.
type Kind string

const (
	KindPlateAverages      Kind = "plate_averages"
	KindPlateRecords       Kind = "plate_records"
	KindActivityGene       Kind = "activity_gene"
	KindActivityExperiment Kind = "activity_experiment"
	KindFamilyMembers      Kind = "family_members"
	KindComponentMembers   Kind = "component_members"
)

// Kinds lists every supported report kind.
func Kinds() []Kind {
	return []Kind{KindPlateAverages, KindPlateRecords, KindActivityGene, KindActivityExperiment, KindFamilyMembers, KindComponentMembers}
}

func (k Kind) valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) keyField() string {
	switch k {
	case KindActivityExperiment:
		return "experiment"
	case KindFamilyMembers:
		return "family"
	case KindComponentMembers:
		return "component"
	default:
		return "gene"
	}
}

// Format is an artifact encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

func (f Format) contentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Status describes the lifecycle stage of a report job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var (
	// ErrQueueFull is returned by Enqueue when the bounded queue has no room.
	ErrQueueFull = errors.New("report queue full")
	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("report worker stopped")
)

// Artifact is one stored rendering of a report.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ETag        string    `json:"etag,omitempty"`
	Rows        int       `json:"rows"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks one report job and its artifacts.
type Record struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Key         string     `json:"key"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r Record) copy() Record {
	dup := r
	dup.Formats = append([]Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), r.Artifacts...)
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		dup.CompletedAt = &at
	}
	return dup
}

// Request asks for one report. Formats defaults to json and csv.
type Request struct {
	Kind    Kind     `json:"kind"`
	Key     string   `json:"key"`
	Formats []Format `json:"formats"`
}

// Scheduler queues report jobs and exposes their status.
type Scheduler interface {
	Enqueue(ctx context.Context, req Request) (Record, error)
	Get(id string) (Record, bool)
	List() []Record
	OpenArtifact(ctx context.Context, id string, format Format) (blob.Info, io.ReadCloser, error)
}

// Option configures a Worker.
type Option func(*Worker)

// WithWorkers sets the number of goroutines draining the queue.
func WithWorkers(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithQueueSize bounds the number of jobs waiting to run.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithPresignExpiry sets the lifetime of artifact URLs.
func WithPresignExpiry(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.presignExpiry = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l core.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock overrides timestamps on records.
func WithClock(c core.Clock) Option {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

// Worker executes report jobs asynchronously.
type Worker struct {
	source Source
	store  blob.Store

	workers       int
	queueSize     int
	presignExpiry time.Duration
	logger        core.Logger
	clock         core.Clock

	queue   chan string
	mu      sync.RWMutex
	jobs    map[string]*Record
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Scheduler = (*Worker)(nil)

// NewWorker constructs a worker reading from src and writing to store.
func NewWorker(src Source, store blob.Store, opts ...Option) *Worker {
	w := &Worker{
		source:        src,
		store:         store,
		workers:       1,
		queueSize:     32,
		presignExpiry: blob.DefaultPresignExpiry,
		logger:        core.NopLogger(),
		clock:         core.SystemClock(),
		jobs:          make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = make(chan string, w.queueSize)
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w
}

// Start launches the worker goroutines.
func (w *Worker) Start() {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.loop()
	}
}

// Stop rejects new jobs, cancels running ones and waits for the goroutines
// to exit or ctx to expire. Jobs still queued stay in the queued state.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue validates req and schedules it. Invalid requests return a
// domain.ValidationError.
func (w *Worker) Enqueue(ctx context.Context, req Request) (Record, error) {
	if !req.Kind.valid() {
		return Record{}, domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown report kind %q", req.Kind)}
	}
	key, err := normalizeKey(req.Kind, req.Key)
	if err != nil {
		return Record{}, err
	}
	formats, err := uniqueFormats(req.Formats)
	if err != nil {
		return Record{}, err
	}

	now := w.clock.Now().UTC()
	record := Record{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Key:       key,
		Formats:   formats,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return Record{}, ErrStopped
	}
	select {
	case w.queue <- record.ID:
	default:
		w.mu.Unlock()
		return Record{}, ErrQueueFull
	}
	w.jobs[record.ID] = &record
	snapshot := record.copy()
	w.mu.Unlock()

	w.logger.Info("report queued", "report_id", record.ID, "kind", record.Kind, "key", record.Key)
	return snapshot, nil
}

func uniqueFormats(in []Format) ([]Format, error) {
	if len(in) == 0 {
		return []Format{FormatJSON, FormatCSV}, nil
	}
	out := make([]Format, 0, len(in))
	seen := make(map[Format]struct{}, len(in))
	for _, f := range in {
		if f != FormatJSON && f != FormatCSV {
			return nil, domain.ValidationError{Field: "formats", Reason: fmt.Sprintf("unsupported format %q", f)}
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}

// Get returns a snapshot of the job.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

// List returns snapshots of every job, oldest first.
func (w *Worker) List() []Record {
	w.mu.RLock()
	out := make([]Record, 0, len(w.jobs))
	for _, record := range w.jobs {
		out = append(out, record.copy())
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OpenArtifact streams a stored artifact of a succeeded job.
func (w *Worker) OpenArtifact(ctx context.Context, id string, format Format) (blob.Info, io.ReadCloser, error) {
	record, ok := w.Get(id)
	if !ok {
		return blob.Info{}, nil, domain.ErrNotFound{Entity: "report", Key: id}
	}
	for _, a := range record.Artifacts {
		if a.Format == format {
			return w.store.Get(ctx, a.Key)
		}
	}
	return blob.Info{}, nil, domain.ErrNotFound{Entity: "report artifact", Key: id + "/" + string(format)}
}

func (w *Worker) process(id string) {
	record, ok := w.Get(id)
	if !ok {
		return
	}
	w.setStatus(id, StatusRunning)

	result, err := fetch(w.ctx, w.source, record.Kind, record.Key)
	if err != nil {
		w.fail(id, err)
		return
	}

	artifacts := make([]Artifact, 0, len(record.Formats))
	for _, format := range record.Formats {
		artifact, err := w.storeArtifact(record, format, result)
		if err != nil {
			w.fail(id, err)
			return
		}
		artifacts = append(artifacts, artifact)
	}
	w.complete(id, artifacts)
}

// ArtifactKey is the blob key of a report rendering.
func ArtifactKey(id string, kind Kind, format Format) string {
	return path.Join("reports", id, string(kind)+"."+string(format))
}

func (w *Worker) storeArtifact(record Record, format Format, result table) (Artifact, error) {
	payload, err := render(format, result)
	if err != nil {
		return Artifact{}, err
	}
	key := ArtifactKey(record.ID, record.Kind, format)
	info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: format.contentType(),
		Metadata: map[string]string{
			"kind": string(record.Kind),
			"key":  record.Key,
			"rows": strconv.Itoa(len(result.rows)),
		},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("store artifact %s: %w", key, err)
	}
	artifact := Artifact{
		Key:         key,
		Format:      format,
		ContentType: format.contentType(),
		SizeBytes:   int64(len(payload)),
		ETag:        info.ETag,
		Rows:        len(result.rows),
		CreatedAt:   w.clock.Now().UTC(),
	}
	url, err := w.store.PresignURL(w.ctx, key, blob.SignedURLOptions{Expiry: w.presignExpiry})
	switch {
	case err == nil:
		artifact.URL = url
	case errors.Is(err, blob.ErrUnsupported):
	default:
		w.logger.Warn("presign report artifact", "report_id", record.ID, "key", key, "error", err)
	}
	return artifact, nil
}

func (w *Worker) setStatus(id string, status Status) {
	now := w.clock.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.UpdatedAt = now
	}
	w.mu.Unlock()
}

func (w *Worker) complete(id string, artifacts []Artifact) {
	now := w.clock.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.logger.Info("report succeeded", "report_id", id, "artifacts", len(artifacts))
}

// fail marks the job failed. Jobs are never retried: a NotFound is a final
// answer and storage failures propagate as-is.
func (w *Worker) fail(id string, err error) {
	now := w.clock.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusFailed
		record.Error = err.Error()
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	if domain.IsNotFound(err) {
		w.logger.Info("report found no rows", "report_id", id, "error", err)
		return
	}
	w.logger.Error("report failed", "report_id", id, "error", err)
}
