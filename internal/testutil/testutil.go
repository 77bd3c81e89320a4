// Package testutil provides shared test helpers: in-memory and on-disk
// stores, and a splitter that publishes a document as tagged chunks.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/starford/scivault/internal/models"
	"github.com/starford/scivault/internal/storage"
)

// Defaults used by fixtures.
const (
	AppName     = "scivault"
	ContentType = "application/pdf"
)

// ErrUnavailable is returned by a MemoryBackend marked down.
var ErrUnavailable = errors.New("backend unavailable")

// MemoryBackend is an in-memory store with failure injection.
type MemoryBackend struct {
	mu       sync.Mutex
	entries  []models.StorageEntry
	data     map[string][]byte
	downFor  map[string]bool // Version tag values whose queries fail
	fetchErr map[string]int  // id -> remaining fetch failures (-1 = always)
	queries  int
	fetches  map[string]int
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:     make(map[string][]byte),
		downFor:  make(map[string]bool),
		fetchErr: make(map[string]int),
		fetches:  make(map[string]int),
	}
}

// Name implements query.Backend.
func (m *MemoryBackend) Name() string { return "memory" }

// Add stores data under id with the given entry metadata.
func (m *MemoryBackend) Add(e models.StorageEntry, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	m.data[e.ID] = append([]byte(nil), data...)
}

// FailQueries makes every query for a Version tag fail.
func (m *MemoryBackend) FailQueries(version string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downFor[version] = true
}

// FailFetch makes the next n fetches of id fail; n < 0 fails forever.
func (m *MemoryBackend) FailFetch(id string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr[id] = n
}

// Queries returns the number of Query calls seen.
func (m *MemoryBackend) Queries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

// Fetches returns the number of Fetch calls seen for id.
func (m *MemoryBackend) Fetches(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[id]
}

// Query implements query.Backend.
func (m *MemoryBackend) Query(ctx context.Context, q models.Query) ([]models.StorageEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if m.downFor[q.Version] {
		return nil, ErrUnavailable
	}
	var out []models.StorageEntry
	for _, e := range m.entries {
		if q.Matches(e.Tags) {
			out = append(out, e)
		}
	}
	if q.Descending {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Fetch implements query.Backend.
func (m *MemoryBackend) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[id]++
	if n, ok := m.fetchErr[id]; ok && n != 0 {
		if n > 0 {
			m.fetchErr[id] = n - 1
		}
		return nil, fmt.Errorf("fetch %s: %w", id, ErrUnavailable)
	}
	data, ok := m.data[id]
	if !ok {
		return nil, fmt.Errorf("fetch %s: not found", id)
	}
	return append([]byte(nil), data...), nil
}

// Upload describes how Split publishes a document.
type Upload struct {
	DOI       string
	Version   string
	UploadID  string // generated when empty
	Timestamp int64
	Chunks    int
	// OmitUploadID drops the Upload-Id tag (legacy entries).
	OmitUploadID bool
}

// Split divides data into u.Chunks pieces of equal size (the last one may be
// shorter) and returns the tagged entries with their bytes, in index order.
func Split(data []byte, u Upload) ([]models.StorageEntry, [][]byte) {
	if u.Chunks < 1 {
		u.Chunks = 1
	}
	if u.UploadID == "" {
		u.UploadID = uuid.NewString()
	}
	size := (len(data) + u.Chunks - 1) / u.Chunks
	entries := make([]models.StorageEntry, 0, u.Chunks)
	parts := make([][]byte, 0, u.Chunks)
	for i := 0; i < u.Chunks; i++ {
		lo := min(i*size, len(data))
		hi := min(lo+size, len(data))
		tags := models.Tags{
			{Name: models.TagAppName, Value: AppName},
			{Name: models.TagContentType, Value: ContentType},
			{Name: models.TagVersion, Value: u.Version},
			{Name: models.TagDOI, Value: u.DOI},
			{Name: models.TagChunkIndex, Value: strconv.Itoa(i)},
			{Name: models.TagTotalChunks, Value: strconv.Itoa(u.Chunks)},
		}
		if !u.OmitUploadID {
			tags = append(tags, models.Tag{Name: models.TagUploadID, Value: u.UploadID})
		}
		entries = append(entries, models.StorageEntry{
			ID:        fmt.Sprintf("%s-%d", u.UploadID, i),
			Timestamp: u.Timestamp,
			Tags:      tags,
		})
		parts = append(parts, data[lo:hi])
	}
	return entries, parts
}

// Publish splits data and adds every chunk to m.
func (m *MemoryBackend) Publish(data []byte, u Upload) []models.StorageEntry {
	entries, parts := Split(data, u)
	for i := range entries {
		m.Add(entries[i], parts[i])
	}
	return entries
}

// Monolithic returns a single-entry upload of data.
func Monolithic(id, doi, version string, ts int64) models.StorageEntry {
	return models.StorageEntry{
		ID:        id,
		Timestamp: ts,
		Tags: models.Tags{
			{Name: models.TagAppName, Value: AppName},
			{Name: models.TagContentType, Value: ContentType},
			{Name: models.TagVersion, Value: version},
			{Name: models.TagDOI, Value: doi},
		},
	}
}

// TestFS creates an on-disk store in a temporary directory.
func TestFS(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Bytes returns n deterministic pseudo-random bytes.
func Bytes(n int) []byte {
	out := make([]byte, n)
	var x uint32 = 2463534242
	for i := range out {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		out[i] = byte(x)
	}
	return out
}

// Metadata returns a JSON metadata entry, with a doi tag when doi is set.
func Metadata(id, doi string, ts int64) models.StorageEntry {
	tags := models.Tags{
		{Name: models.TagAppName, Value: AppName},
		{Name: models.TagContentType, Value: "application/json"},
	}
	if doi != "" {
		tags = append(tags, models.Tag{Name: models.TagDOI, Value: doi})
	}
	return models.StorageEntry{ID: id, Timestamp: ts, Tags: tags}
}
