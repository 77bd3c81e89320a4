package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/scivault/internal/models"
)

func tempStore(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func pdfTags(version, doi string) models.Tags {
	return models.Tags{
		{Name: models.TagAppName, Value: "scivault"},
		{Name: models.TagContentType, Value: "application/pdf"},
		{Name: models.TagVersion, Value: version},
		{Name: models.TagDOI, Value: doi},
	}
}

func TestPutAndFetch(t *testing.T) {
	s := tempStore(t)
	e, err := s.Put([]byte("%PDF-1.7"), pdfTags("2.0.0", "10.1/a"), 100)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Fetch(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "%PDF-1.7" {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestPutIsContentAddressed(t *testing.T) {
	s := tempStore(t)
	a, _ := s.Put([]byte("same"), pdfTags("2.0.0", "10.1/a"), 1)
	b, _ := s.Put([]byte("same"), pdfTags("2.0.0", "10.1/a"), 1)
	c, _ := s.Put([]byte("other"), pdfTags("2.0.0", "10.1/a"), 1)
	if a.ID != b.ID {
		t.Errorf("identical uploads got different ids %s / %s", a.ID, b.ID)
	}
	if a.ID == c.ID {
		t.Error("different data got the same id")
	}
}

func TestQueryFiltersAndOrders(t *testing.T) {
	s := tempStore(t)
	_, _ = s.Put([]byte("old"), pdfTags("2.0.0", "10.1/a"), 10)
	_, _ = s.Put([]byte("new"), pdfTags("2.0.0", "10.1/a"), 20)
	_, _ = s.Put([]byte("chunk"), pdfTags("1.0.3", "10.1/a"), 30)
	_, _ = s.Put([]byte("elsewhere"), pdfTags("2.0.0", "10.1/b"), 40)

	got, err := s.Query(context.Background(), models.Query{
		AppName: "scivault", Version: "2.0.0", DOI: "10.1/a", Descending: true,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Timestamp != 20 || got[1].Timestamp != 10 {
		t.Errorf("order = %d,%d, want 20,10", got[0].Timestamp, got[1].Timestamp)
	}

	limited, _ := s.Query(context.Background(), models.Query{AppName: "scivault", Limit: 1, Descending: true})
	if len(limited) != 1 || limited[0].Timestamp != 40 {
		t.Errorf("limited = %+v", limited)
	}
}

func TestFetchMissing(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Fetch(context.Background(), "nope"); err == nil {
		t.Error("expected error for missing entry")
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempStore(t)
	cases := []string{"../../etc/passwd", "../outside", "/etc/shadow", "a/b", ""}
	for _, id := range cases {
		if _, err := s.Fetch(context.Background(), id); err == nil {
			t.Errorf("expected error for id %q", id)
		}
		if err := s.PutEntry(models.StorageEntry{ID: id}, []byte("x")); err == nil {
			t.Errorf("expected error for put to %q", id)
		}
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Put([]byte("data"), nil, 1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, ".scivault-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/scivault-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "scivault-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
