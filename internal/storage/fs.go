package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/scivault/internal/checksum"
	"github.com/starford/scivault/internal/models"
)

const (
	dataExt = ".bin"
	metaExt = ".json"
)

// ErrNotFound is returned by FS.Fetch for unknown ids.
var ErrNotFound = errors.New("storage: entry not found")

// FS implements Provider backed by a local directory. Every entry is stored
// as <id>.bin with a <id>.json sidecar carrying its timestamp and tags.
type FS struct {
	root string // absolute path to store directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Name implements Provider.
func (f *FS) Name() string { return "fs" }

// Root returns the absolute store directory.
func (f *FS) Root() string { return f.root }

// entryPath maps an id to a file under root and rejects ids that would
// escape it.
func (f *FS) entryPath(id, ext string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("storage: invalid id: %q", id)
	}
	abs := filepath.Join(f.root, id+ext)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: id escapes store root: %s", id)
	}
	return abs, nil
}

// Query scans every sidecar and returns the matching entries.
func (f *FS) Query(ctx context.Context, q models.Query) ([]models.StorageEntry, error) {
	var out []models.StorageEntry
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != f.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), metaExt) {
			return nil
		}
		e, err := readSidecar(p)
		if err != nil {
			return err
		}
		if q.Matches(e.Tags) {
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: query: %w", err)
	}
	if q.Descending {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Fetch returns the bytes of entry id.
func (f *FS) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := f.entryPath(id, dataExt)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("storage: read %s: %w", id, err)
	}
	return data, nil
}

// Put stores data with tags and timestamp and returns the new entry. The id
// is the hex SHA-256 of the data and tags, so identical uploads collapse
// into one entry.
func (f *FS) Put(data []byte, tags models.Tags, timestamp int64) (models.StorageEntry, error) {
	e := models.StorageEntry{ID: contentID(data, tags, timestamp), Timestamp: timestamp, Tags: tags}
	if err := f.PutEntry(e, data); err != nil {
		return models.StorageEntry{}, err
	}
	return e, nil
}

// PutEntry stores data under a caller-chosen entry id.
func (f *FS) PutEntry(e models.StorageEntry, data []byte) error {
	dataPath, err := f.entryPath(e.ID, dataExt)
	if err != nil {
		return err
	}
	metaPath, err := f.entryPath(e.ID, metaExt)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("storage: encode sidecar: %w", err)
	}
	// Bytes first: a visible sidecar always has its data.
	if err := writeAtomic(dataPath, data); err != nil {
		return err
	}
	return writeAtomic(metaPath, meta)
}

// Sidecar is one stored entry with the digest of its sidecar file.
type Sidecar struct {
	Entry    models.StorageEntry
	Checksum string
}

// List returns every sidecar in the store root.
func (f *FS) List() ([]Sidecar, error) {
	dirents, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	var out []Sidecar
	for _, d := range dirents {
		if d.IsDir() || !IsSidecar(d.Name()) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(f.root, d.Name()))
		if err != nil {
			return nil, fmt.Errorf("storage: list: %w", err)
		}
		e, err := decodeSidecar(d.Name(), raw)
		if err != nil {
			return nil, err
		}
		out = append(out, Sidecar{Entry: e, Checksum: checksum.Sum(raw)})
	}
	return out, nil
}

// IDFromSidecar returns the entry id a sidecar path belongs to.
func IDFromSidecar(path string) string {
	return strings.TrimSuffix(filepath.Base(path), metaExt)
}

// ReadSidecar decodes the sidecar at path (used by watchers).
func ReadSidecar(path string) (Sidecar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Sidecar{}, err
	}
	e, err := decodeSidecar(path, raw)
	if err != nil {
		return Sidecar{}, err
	}
	return Sidecar{Entry: e, Checksum: checksum.Sum(raw)}, nil
}

// IsSidecar reports whether path names an entry sidecar.
func IsSidecar(path string) bool {
	return strings.HasSuffix(path, metaExt)
}

func readSidecar(path string) (models.StorageEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.StorageEntry{}, err
	}
	return decodeSidecar(path, raw)
}

func decodeSidecar(path string, raw []byte) (models.StorageEntry, error) {
	var e models.StorageEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return models.StorageEntry{}, fmt.Errorf("storage: decode sidecar %s: %w", filepath.Base(path), err)
	}
	if e.ID == "" {
		e.ID = IDFromSidecar(path)
	}
	return e, nil
}

// writeAtomic writes content: tmp file → fsync → rename.
func writeAtomic(abs string, content []byte) error {
	dir := filepath.Dir(abs)
	tmp, err := os.CreateTemp(dir, ".scivault-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

func contentID(data []byte, tags models.Tags, timestamp int64) string {
	h := sha256.New()
	h.Write(data)
	for _, t := range tags {
		h.Write([]byte(t.Name))
		h.Write([]byte{0})
		h.Write([]byte(t.Value))
		h.Write([]byte{0})
	}
	fmt.Fprintf(h, "%d", timestamp)
	return hex.EncodeToString(h.Sum(nil))
}
