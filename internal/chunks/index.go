// Package chunks groups chunked storage entries by upload batch, validates
// batches and selects the best one to reassemble.
package chunks

import "github.com/starford/scivault/internal/models"

// MalformedTag records an integer tag that could not be parsed.
type MalformedTag struct {
	EntryID string
	Tag     string
	Raw     string
}

// Index is the per-call arena of chunk groups, keyed by Upload-Id (or the
// entry timestamp when the tag is absent). Groups keep first-seen order.
type Index struct {
	groups    []models.ChunkGroup
	byKey     map[string]int
	entries   []models.StorageEntry
	Malformed []MalformedTag
}

// BuildIndex groups entries by batch key. No entry is dropped.
func BuildIndex(entries []models.StorageEntry) *Index {
	idx := &Index{
		byKey:   make(map[string]int),
		entries: entries,
	}
	for _, e := range entries {
		key := e.UploadKey()
		pos, ok := idx.byKey[key]
		if !ok {
			pos = len(idx.groups)
			idx.byKey[key] = pos
			idx.groups = append(idx.groups, models.ChunkGroup{UploadID: key, Timestamp: e.Timestamp})
		}

		index := models.ChunkIndex(e.Tags)
		total := models.TotalChunks(e.Tags)
		if index.Status == models.TagMalformed {
			idx.Malformed = append(idx.Malformed, MalformedTag{EntryID: e.ID, Tag: models.TagChunkIndex, Raw: index.Raw})
		}
		if total.Status == models.TagMalformed {
			idx.Malformed = append(idx.Malformed, MalformedTag{EntryID: e.ID, Tag: models.TagTotalChunks, Raw: total.Raw})
		}

		idx.groups[pos].Chunks = append(idx.groups[pos].Chunks, models.Chunk{
			ID:            e.ID,
			Index:         index.Value,
			Total:         total.Value,
			TotalDeclared: total.Status == models.TagOK,
		})
	}
	return idx
}

// Groups returns the groups in first-seen order.
func (i *Index) Groups() []models.ChunkGroup { return i.groups }

// Group returns the group for key.
func (i *Index) Group(key string) (models.ChunkGroup, bool) {
	pos, ok := i.byKey[key]
	if !ok {
		return models.ChunkGroup{}, false
	}
	return i.groups[pos], true
}

// Len returns the number of groups.
func (i *Index) Len() int { return len(i.groups) }

// Entries returns every entry the index was built from.
func (i *Index) Entries() []models.StorageEntry { return i.entries }
