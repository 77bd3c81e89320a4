package paperservice

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/scivault/internal/apperr"
	"github.com/starford/scivault/internal/index"
	"github.com/starford/scivault/internal/query"
	"github.com/starford/scivault/internal/reassembly"
	"github.com/starford/scivault/internal/resolver"
	"github.com/starford/scivault/internal/retry"
	"github.com/starford/scivault/internal/sse"
	"github.com/starford/scivault/internal/testutil"
)

const doi = "10.5555/paper"

func noSleep(context.Context, time.Duration) error { return nil }

type progressLog struct {
	mu     sync.Mutex
	events []sse.Progress
}

func (p *progressLog) PublishProgress(ev sse.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func newService(t *testing.T, backend query.Backend, opts ...Option) *Service {
	t.Helper()
	return newLoggedService(t, backend, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func newLoggedService(t *testing.T, backend query.Backend, logger *slog.Logger, opts ...Option) *Service {
	t.Helper()
	policy := retry.DefaultPolicy()
	policy.AttemptTimeout = 0
	exec := query.NewExecutor(backend, policy, logger, query.WithRetryOptions(retry.WithSleep(noSleep)))
	res := resolver.New(exec, resolver.Config{AppName: testutil.AppName, ContentType: testutil.ContentType}, logger, nil)
	re := reassembly.New(backend, policy, reassembly.WithLogger(logger), reassembly.WithRetryOptions(retry.WithSleep(noSleep)))
	opts = append(opts, WithRetryOptions(retry.WithSleep(noSleep)))
	return NewService(res, re, logger, opts...)
}

func openCache(t *testing.T) *index.DB {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestVersionsCacheThrough(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.Add(testutil.Monolithic("mono", doi, "2.0.0", 1), []byte("pdf"))
	svc := newService(t, backend, WithCache(openCache(t), time.Hour))

	first, err := svc.Versions(context.Background(), doi)
	require.NoError(t, err)
	require.Len(t, first, 1)
	queries := backend.Queries()

	second, err := svc.Versions(context.Background(), "https://doi.org/"+doi)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, queries, backend.Queries(), "second lookup served from cache")
}

func TestVersionsEmptyResultNotCached(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	svc := newService(t, backend, WithCache(openCache(t), 0))

	versions, err := svc.Versions(context.Background(), doi)
	require.NoError(t, err)
	assert.Empty(t, versions)

	backend.Add(testutil.Monolithic("mono", doi, "2.0.0", 1), []byte("pdf"))
	versions, err = svc.Versions(context.Background(), doi)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestVersionsInvalidDOI(t *testing.T) {
	_, err := newService(t, testutil.NewMemoryBackend()).Versions(context.Background(), " ")
	assert.ErrorIs(t, err, apperr.ErrInvalidDOI)
}

func TestDownloadNewestAndByVersion(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	chunked := testutil.Bytes(4096)
	backend.Publish(chunked, testutil.Upload{DOI: doi, Version: "1.0.3", Timestamp: 100, Chunks: 4})
	backend.Add(testutil.Monolithic("mono", doi, "2.0.0", 200), []byte("monolithic"))
	sink := &progressLog{}
	svc := newService(t, backend, WithProgressSink(sink))

	a, err := svc.Download(context.Background(), doi, "", "My Paper")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", a.Version)
	assert.Equal(t, []byte("monolithic"), a.Data)
	assert.Equal(t, "My_Paper.pdf", a.Filename)

	a, err = svc.Download(context.Background(), doi, "1.0.3", "")
	require.NoError(t, err)
	assert.Equal(t, chunked, a.Data)
	assert.NotEmpty(t, a.Checksum)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.events)
	last := sink.events[len(sink.events)-1]
	assert.Equal(t, sse.Progress{DOI: doi, Version: "1.0.3", Done: 4, Total: 4}, last)
}

func TestDownloadErrors(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.Add(testutil.Monolithic("mono", doi, "2.0.0", 1), []byte("pdf"))
	svc := newService(t, backend)

	_, err := svc.Download(context.Background(), "10.1/missing", "", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Download(context.Background(), doi, "9.9.9", "")
	assert.ErrorIs(t, err, apperr.ErrUnknownVersion)
}

func TestDownloadChunkFailureInvalidatesCache(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	entries := backend.Publish(testutil.Bytes(100), testutil.Upload{DOI: doi, Version: "1.0.3", Timestamp: 1, Chunks: 5})
	backend.FailFetch(entries[2].ID, -1)
	cache := openCache(t)
	svc := newService(t, backend, WithCache(cache, 0))

	a, err := svc.Download(context.Background(), doi, "", "")
	assert.Nil(t, a)
	var ce *reassembly.ChunkError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Index)

	_, ok, err := cache.GetVersions(doi, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type brokenInvalidate struct{ index.VersionCache }

func (brokenInvalidate) Invalidate(string) error { return errors.New("disk full") }

func TestDownloadLogsInvalidateFailure(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	entries := backend.Publish(testutil.Bytes(30), testutil.Upload{DOI: doi, Version: "1.0.3", Timestamp: 1, Chunks: 3})
	backend.FailFetch(entries[1].ID, -1)
	logs := &lockedBuffer{}
	svc := newLoggedService(t, backend, slog.New(slog.NewTextHandler(logs, nil)),
		WithCache(brokenInvalidate{openCache(t)}, 0))

	_, err := svc.Download(context.Background(), doi, "", "")
	require.Error(t, err)
	assert.Contains(t, logs.String(), "cache invalidate failed")
	assert.Contains(t, logs.String(), "disk full")
}

func TestLocateDoesNotFetch(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	entries := backend.Publish(testutil.Bytes(30), testutil.Upload{DOI: doi, Version: "1.0.3", Timestamp: 1, Chunks: 3})
	svc := newService(t, backend)

	v, err := svc.Locate(context.Background(), "doi:"+doi, "")
	require.NoError(t, err)
	assert.Equal(t, "1.0.3", v.Version)
	assert.Len(t, v.IDs, 3)
	for _, e := range entries {
		assert.Zero(t, backend.Fetches(e.ID))
	}

	_, err = svc.Locate(context.Background(), doi, "2.0.0")
	assert.ErrorIs(t, err, apperr.ErrUnknownVersion)
}

// stalledFetch answers queries but never finishes a byte transfer.
type stalledFetch struct{ *testutil.MemoryBackend }

func (stalledFetch) Fetch(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLatestStopsOnDeadline(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	for i := range 3 {
		backend.Add(testutil.Metadata("meta"+string(rune('a'+i)), "10.1/"+string(rune('a'+i)), int64(i)), []byte(`{}`))
	}
	logs := &lockedBuffer{}
	svc := newLoggedService(t, stalledFetch{backend}, slog.New(slog.NewTextHandler(logs, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	papers, err := svc.Latest(ctx, 0)
	assert.Nil(t, papers)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, logs.String(), "skipping paper")
}

func TestLatest(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.Add(testutil.Metadata("meta-old", doi, 1), []byte(`{"title":"Old","doi":"`+doi+`","authors":"Ada"}`))
	backend.Add(testutil.Metadata("meta-new", "10.1/new", 3), []byte(`{"title":"New","abstract":"A."}`))
	backend.Add(testutil.Metadata("meta-nodoi", "", 4), []byte(`{"title":"Orphan"}`))
	backend.Add(testutil.Metadata("meta-bad", "10.1/bad", 2), []byte(`not json`))
	backend.Add(testutil.Monolithic("mono", doi, "2.0.0", 5), []byte("pdf"))

	papers, err := newService(t, backend).Latest(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, papers, 2)

	assert.Equal(t, "New", papers[0].Title)
	assert.Equal(t, "10.1/new", papers[0].DOI)
	assert.Empty(t, papers[0].PdfVersions)

	assert.Equal(t, "Old", papers[1].Title)
	require.Len(t, papers[1].PdfVersions, 1)
	assert.Equal(t, []string{"mono"}, papers[1].PdfVersions[0].IDs)
}

func TestLatestLimit(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	for i := range 5 {
		backend.Add(testutil.Metadata("m"+string(rune('a'+i)), "10.1/"+string(rune('a'+i)), int64(i)), []byte(`{}`))
	}
	papers, err := newService(t, backend).Latest(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, papers, 2)
}
