// Package query runs tag queries against a storage backend with retry,
// per-attempt timeouts and a lenient failure policy.
package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/scivault/internal/models"
	"github.com/starford/scivault/internal/retry"
)

// Backend is a content-addressed, tag-queryable store.
type Backend interface {
	// Name identifies the backend in logs and status reports.
	Name() string
	// Query returns the entries matching q.
	Query(ctx context.Context, q models.Query) ([]models.StorageEntry, error)
	// Fetch returns the raw bytes stored at id.
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// Reporter receives backend reachability after every query.
type Reporter interface {
	Report(backend string, reachable bool, err error)
}

// Recorder receives query metrics. *metrics.Recorder satisfies it.
type Recorder interface {
	ObserveQuery(version string, d time.Duration, ok bool)
	IncRetry(operation string)
}

// Executor wraps a Backend. Run never fails: unreachable or failing backends
// yield an empty result.
type Executor struct {
	backend  Backend
	policy   retry.Policy
	logger   *slog.Logger
	reporter Reporter
	recorder Recorder
	retryOpt []retry.Option
}

// Option configures an Executor.
type Option func(*Executor)

// WithReporter sets the reachability reporter.
func WithReporter(r Reporter) Option {
	return func(e *Executor) { e.reporter = r }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithRetryOptions passes extra options to every retry.Do call.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(e *Executor) { e.retryOpt = append(e.retryOpt, opts...) }
}

// NewExecutor creates an Executor over backend using policy.
func NewExecutor(backend Backend, policy retry.Policy, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{backend: backend, policy: policy, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Backend returns the wrapped backend.
func (e *Executor) Backend() Backend { return e.backend }

// Policy returns the retry policy applied to queries.
func (e *Executor) Policy() retry.Policy { return e.policy }

// Run executes q and returns the matching entries, or an empty non-nil slice
// when every attempt failed.
func (e *Executor) Run(ctx context.Context, q models.Query) []models.StorageEntry {
	start := time.Now()
	opts := append([]retry.Option{retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		e.logger.Debug("query: retrying",
			slog.String("backend", e.backend.Name()),
			slog.String("version", q.Version),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		if e.recorder != nil {
			e.recorder.IncRetry("query")
		}
	})}, e.retryOpt...)

	entries, err := retry.Do(ctx, e.policy, func(ctx context.Context) ([]models.StorageEntry, error) {
		return e.backend.Query(ctx, q)
	}, opts...)

	if e.reporter != nil {
		e.reporter.Report(e.backend.Name(), err == nil, err)
	}
	if e.recorder != nil {
		e.recorder.ObserveQuery(q.Version, time.Since(start), err == nil)
	}
	if err != nil {
		e.logger.Warn("query: degraded to empty result",
			slog.String("backend", e.backend.Name()),
			slog.String("doi", q.DOI),
			slog.String("version", q.Version),
			slog.String("error", err.Error()))
		return []models.StorageEntry{}
	}
	if entries == nil {
		entries = []models.StorageEntry{}
	}
	return entries
}
