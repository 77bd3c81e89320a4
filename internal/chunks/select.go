package chunks

import (
	"slices"
	"sort"

	"github.com/starford/scivault/internal/models"
)

// Kind distinguishes selection outcomes.
type Kind int

const (
	// Empty means no entries were available.
	Empty Kind = iota
	// Complete means a validated, contiguous group was selected.
	Complete
	// BestEffort means no group was complete and every entry was taken, sorted
	// by Chunk-Index. The result may not be a valid document.
	BestEffort
)

func (k Kind) String() string {
	switch k {
	case Complete:
		return "complete"
	case BestEffort:
		return "best_effort"
	default:
		return "empty"
	}
}

// Reason explains why a group is not complete.
type Reason string

// Completeness reasons.
const (
	ReasonOK            Reason = ""
	ReasonEmpty         Reason = "empty group"
	ReasonCountMismatch Reason = "chunk count differs from Total-Chunks"
	ReasonTotalMismatch Reason = "chunks disagree on Total-Chunks"
	ReasonNotContiguous Reason = "chunk indexes are not 0..n-1"
)

// Selection is the result of picking a representation for one format.
type Selection struct {
	Kind    Kind
	Group   models.ChunkGroup     // set when Kind == Complete
	Entries []models.StorageEntry // set when Kind == BestEffort
}

// DeclaredTotal returns the Total-Chunks of the first chunk that declares one,
// or 1 when none does. The second result is false when declared totals
// disagree.
func DeclaredTotal(g models.ChunkGroup) (int, bool) {
	total, found := 1, false
	for _, c := range g.Chunks {
		if !c.TotalDeclared {
			continue
		}
		if !found {
			total, found = c.Total, true
			continue
		}
		if c.Total != total {
			return total, false
		}
	}
	return total, true
}

// IsComplete reports whether g holds exactly chunks 0..total-1, each once.
func IsComplete(g models.ChunkGroup) (bool, Reason) {
	if len(g.Chunks) == 0 {
		return false, ReasonEmpty
	}
	total, consistent := DeclaredTotal(g)
	if !consistent {
		return false, ReasonTotalMismatch
	}
	if len(g.Chunks) != total {
		return false, ReasonCountMismatch
	}
	sorted := sortedChunks(g.Chunks)
	for i, c := range sorted {
		if c.Index != i {
			return false, ReasonNotContiguous
		}
	}
	return true, ReasonOK
}

// SelectChunked picks the newest complete group of idx. Timestamp ties go to
// the lexicographically smallest Upload-Id. With no complete group it falls
// back to every indexed entry sorted by Chunk-Index.
func SelectChunked(idx *Index) Selection {
	if idx == nil || len(idx.entries) == 0 {
		return Selection{Kind: Empty}
	}

	var best *models.ChunkGroup
	for i := range idx.groups {
		g := idx.groups[i]
		if ok, _ := IsComplete(g); !ok {
			continue
		}
		if best == nil || g.Timestamp > best.Timestamp ||
			(g.Timestamp == best.Timestamp && g.UploadID < best.UploadID) {
			g.Chunks = sortedChunks(g.Chunks)
			best = &g
		}
	}
	if best != nil {
		return Selection{Kind: Complete, Group: *best}
	}

	all := slices.Clone(idx.entries)
	sort.SliceStable(all, func(i, j int) bool {
		return models.ChunkIndex(all[i].Tags).Value < models.ChunkIndex(all[j].Tags).Value
	})
	return Selection{Kind: BestEffort, Entries: all}
}

// SelectMonolithic picks the newest entry; ties keep the first seen.
func SelectMonolithic(entries []models.StorageEntry) Selection {
	if len(entries) == 0 {
		return Selection{Kind: Empty}
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.Timestamp > best.Timestamp {
			best = e
		}
	}
	// A single entry is a trivially complete one-chunk group.
	return Selection{Kind: Complete, Group: models.ChunkGroup{
		UploadID:  best.UploadKey(),
		Timestamp: best.Timestamp,
		Chunks:    []models.Chunk{{ID: best.ID, Index: 0, Total: 1, TotalDeclared: true}},
	}}
}

// Version converts s into a descriptor for format f, or nil when s is Empty.
func (s Selection) Version(f models.Format) *models.PdfVersion {
	switch s.Kind {
	case Complete:
		ids := make([]string, len(s.Group.Chunks))
		for i, c := range s.Group.Chunks {
			ids[i] = c.ID
		}
		if !f.Chunked {
			ids = ids[:1]
		}
		return &models.PdfVersion{
			Version:         f.Version,
			IsChunked:       f.Chunked,
			IDs:             ids,
			UploadTimestamp: s.Group.Timestamp,
		}
	case BestEffort:
		ids := make([]string, len(s.Entries))
		for i, e := range s.Entries {
			ids[i] = e.ID
		}
		return &models.PdfVersion{
			Version:         f.Version,
			IsChunked:       true,
			IDs:             ids,
			UploadTimestamp: s.Entries[0].Timestamp,
		}
	default:
		return nil
	}
}

// SortVersions orders versions newest first; equal timestamps keep their order.
func SortVersions(versions []models.PdfVersion) {
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].UploadTimestamp > versions[j].UploadTimestamp
	})
}

func sortedChunks(chunks []models.Chunk) []models.Chunk {
	out := slices.Clone(chunks)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
