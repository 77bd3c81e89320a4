// Package reassembly fetches chunk bytes and concatenates them in index order.
// A document is delivered whole or not at all.
package reassembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/scivault/internal/retry"
)

// ErrNoChunks is returned for an empty id list.
var ErrNoChunks = errors.New("reassembly: no chunk ids")

// Fetcher returns the raw bytes stored at id. query.Backend satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// Recorder receives fetch metrics. *metrics.Recorder satisfies it.
type Recorder interface {
	IncFetch(ok bool)
	IncRetry(operation string)
	ObserveReassembly(size int, ok bool)
}

// ProgressFunc is called after each chunk completes.
type ProgressFunc func(done, total int)

// ChunkError reports the chunk whose fetch exhausted its retries.
type ChunkError struct {
	Index int
	ID    string
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("reassembly: chunk %d (%s): %v", e.Index, e.ID, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Reassembler merges chunks fetched from a Fetcher.
type Reassembler struct {
	fetcher     Fetcher
	policy      retry.Policy
	concurrency int
	logger      *slog.Logger
	recorder    Recorder
	progress    ProgressFunc
	retryOpt    []retry.Option
}

// Option configures a Reassembler.
type Option func(*Reassembler)

// WithConcurrency sets how many chunks are fetched in flight. Values below 1
// mean sequential.
func WithConcurrency(n int) Option {
	return func(r *Reassembler) { r.concurrency = n }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Reassembler) { r.recorder = rec }
}

// WithProgress sets the default progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Reassembler) { r.progress = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reassembler) { r.logger = l }
}

// WithRetryOptions passes extra options to every retry.Do call.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(r *Reassembler) { r.retryOpt = append(r.retryOpt, opts...) }
}

// New creates a Reassembler.
func New(f Fetcher, policy retry.Policy, opts ...Option) *Reassembler {
	r := &Reassembler{fetcher: f, policy: policy, concurrency: 1, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	return r
}

// Reassemble fetches ids in order and returns their concatenation.
func (r *Reassembler) Reassemble(ctx context.Context, ids []string) ([]byte, error) {
	return r.ReassembleWithProgress(ctx, ids, r.progress)
}

// ReassembleWithProgress is Reassemble with a per-call progress callback.
func (r *Reassembler) ReassembleWithProgress(ctx context.Context, ids []string, progress ProgressFunc) ([]byte, error) {
	if len(ids) == 0 {
		return nil, ErrNoChunks
	}

	parts, err := r.fetchAll(ctx, ids, progress)
	if err != nil {
		r.observe(0, false)
		return nil, err
	}

	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, size)
	offset := 0
	for _, p := range parts {
		offset += copy(out[offset:], p)
	}
	r.observe(size, true)
	return out, nil
}

// FetchMonolithic fetches a single-entry document.
func (r *Reassembler) FetchMonolithic(ctx context.Context, id string) ([]byte, error) {
	return r.Reassemble(ctx, []string{id})
}

func (r *Reassembler) fetchAll(ctx context.Context, ids []string, progress ProgressFunc) ([][]byte, error) {
	parts := make([][]byte, len(ids))

	if r.concurrency == 1 {
		for i, id := range ids {
			data, err := r.fetchOne(ctx, i, id)
			if err != nil {
				return nil, err
			}
			parts[i] = data
			if progress != nil {
				progress(i+1, len(ids))
			}
		}
		return parts, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	done := make(chan struct{}, len(ids))
	for i, id := range ids {
		g.Go(func() error {
			data, err := r.fetchOne(gctx, i, id)
			if err != nil {
				return err
			}
			parts[i] = data
			done <- struct{}{}
			return nil
		})
	}

	// Progress is reported from this goroutine so callbacks never run concurrently.
	errc := make(chan error, 1)
	go func() { errc <- g.Wait(); close(done) }()
	n := 0
	for range done {
		n++
		if progress != nil {
			progress(n, len(ids))
		}
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return parts, nil
}

func (r *Reassembler) fetchOne(ctx context.Context, index int, id string) ([]byte, error) {
	start := time.Now()
	opts := append([]retry.Option{retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		r.logger.Debug("reassembly: retrying chunk",
			slog.Int("index", index),
			slog.String("id", id),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		if r.recorder != nil {
			r.recorder.IncRetry("fetch")
		}
	})}, r.retryOpt...)

	data, err := retry.Do(ctx, r.policy, func(ctx context.Context) ([]byte, error) {
		return r.fetcher.Fetch(ctx, id)
	}, opts...)
	if r.recorder != nil {
		r.recorder.IncFetch(err == nil)
	}
	if err != nil {
		r.logger.Warn("reassembly: chunk fetch failed",
			slog.Int("index", index),
			slog.String("id", id),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, &ChunkError{Index: index, ID: id, Err: err}
	}
	return data, nil
}

func (r *Reassembler) observe(size int, ok bool) {
	if r.recorder != nil {
		r.recorder.ObserveReassembly(size, ok)
	}
}
