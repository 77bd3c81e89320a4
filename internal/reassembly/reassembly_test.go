package reassembly

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/scivault/internal/chunks"
	"github.com/starford/scivault/internal/models"
	"github.com/starford/scivault/internal/retry"
	"github.com/starford/scivault/internal/testutil"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newReassembler(f Fetcher, opts ...Option) *Reassembler {
	policy := retry.DefaultPolicy()
	policy.AttemptTimeout = 0
	opts = append(opts, WithRetryOptions(retry.WithSleep(noSleep)))
	return New(f, policy, opts...)
}

func selectedIDs(t *testing.T, entries []models.StorageEntry) []string {
	t.Helper()
	v := chunks.SelectChunked(chunks.BuildIndex(entries)).Version(models.Format{Version: "1.0.3", Chunked: true})
	require.NotNil(t, v)
	return v.IDs
}

func TestRoundTripAnyOrder(t *testing.T) {
	doc := testutil.Bytes(10_000)
	for _, n := range []int{1, 2, 5, 13} {
		backend := testutil.NewMemoryBackend()
		entries := backend.Publish(doc, testutil.Upload{DOI: "10.1/rt", Version: "1.0.3", Timestamp: 1, Chunks: n})

		shuffled := append([]models.StorageEntry(nil), entries...)
		rand.New(rand.NewSource(int64(n))).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		for _, concurrency := range []int{1, 4} {
			got, err := newReassembler(backend, WithConcurrency(concurrency)).Reassemble(context.Background(), selectedIDs(t, shuffled))
			require.NoError(t, err)
			assert.Equal(t, doc, got, "n=%d concurrency=%d", n, concurrency)
		}
	}
}

func TestPartialFetchAborts(t *testing.T) {
	for _, concurrency := range []int{1, 5} {
		backend := testutil.NewMemoryBackend()
		entries := backend.Publish(testutil.Bytes(500), testutil.Upload{
			DOI: "10.1/abort", Version: "1.0.3", UploadID: "u", Timestamp: 1, Chunks: 5,
		})
		backend.FailFetch(entries[2].ID, -1)

		got, err := newReassembler(backend, WithConcurrency(concurrency)).Reassemble(context.Background(), selectedIDs(t, entries))
		assert.Nil(t, got)

		var ce *ChunkError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 2, ce.Index)
		assert.Equal(t, "u-2", ce.ID)
		assert.ErrorIs(t, err, testutil.ErrUnavailable)
		assert.Equal(t, 3, backend.Fetches("u-2"), "every attempt of the retry budget is used")
	}
}

func TestTransientFetchFailureRecovers(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	doc := testutil.Bytes(300)
	entries := backend.Publish(doc, testutil.Upload{DOI: "10.1/t", Version: "1.0.3", UploadID: "u", Timestamp: 1, Chunks: 3})
	backend.FailFetch(entries[1].ID, 2)

	got, err := newReassembler(backend).Reassemble(context.Background(), selectedIDs(t, entries))
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestEmptyIDs(t *testing.T) {
	_, err := newReassembler(testutil.NewMemoryBackend()).Reassemble(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoChunks)
}

func TestFetchMonolithic(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.Add(testutil.Monolithic("m", "10.1/m", "2.0.0", 1), []byte("%PDF-1.7"))

	got, err := newReassembler(backend).FetchMonolithic(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), got)
}

func TestProgressReported(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	entries := backend.Publish(testutil.Bytes(40), testutil.Upload{DOI: "10.1/p", Version: "1.0.3", Timestamp: 1, Chunks: 4})

	for _, concurrency := range []int{1, 3} {
		var calls [][2]int
		_, err := newReassembler(backend, WithConcurrency(concurrency)).ReassembleWithProgress(context.Background(),
			selectedIDs(t, entries), func(done, total int) { calls = append(calls, [2]int{done, total}) })
		require.NoError(t, err)
		assert.Equal(t, [][2]int{{1, 4}, {2, 4}, {3, 4}, {4, 4}}, calls)
	}
}

func TestCancelledContextDeliversNothing(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	entries := backend.Publish(testutil.Bytes(40), testutil.Upload{DOI: "10.1/c", Version: "1.0.3", Timestamp: 1, Chunks: 4})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := newReassembler(backend).Reassemble(ctx, selectedIDs(t, entries))
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, context.Canceled))
}
