package chunks

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/scivault/internal/models"
	"github.com/starford/scivault/internal/testutil"
)

var chunked = models.Format{Version: "1.0.3", Chunked: true}

func entry(id, upload string, ts int64, index, total string) models.StorageEntry {
	tags := models.Tags{}
	if upload != "" {
		tags = append(tags, models.Tag{Name: models.TagUploadID, Value: upload})
	}
	if index != "" {
		tags = append(tags, models.Tag{Name: models.TagChunkIndex, Value: index})
	}
	if total != "" {
		tags = append(tags, models.Tag{Name: models.TagTotalChunks, Value: total})
	}
	return models.StorageEntry{ID: id, Timestamp: ts, Tags: tags}
}

func batch(upload string, ts int64, n int) []models.StorageEntry {
	out := make([]models.StorageEntry, n)
	for i := range out {
		out[i] = entry(upload+"-"+strconv.Itoa(i), upload, ts, strconv.Itoa(i), strconv.Itoa(n))
	}
	return out
}

func TestBuildIndexGroupsEveryEntry(t *testing.T) {
	entries := append(batch("a", 10, 2), batch("b", 20, 3)...)
	entries = append(entries, entry("legacy", "", 30, "", ""))

	idx := BuildIndex(entries)
	require.Equal(t, 3, idx.Len())

	total := 0
	for _, g := range idx.Groups() {
		total += len(g.Chunks)
	}
	assert.Equal(t, len(entries), total)

	g, ok := idx.Group("30")
	require.True(t, ok, "entry without Upload-Id is keyed by timestamp")
	assert.Equal(t, 0, g.Chunks[0].Index)
	assert.Equal(t, 1, g.Chunks[0].Total)
	assert.False(t, g.Chunks[0].TotalDeclared)
}

func TestBuildIndexRecordsMalformedTags(t *testing.T) {
	idx := BuildIndex([]models.StorageEntry{entry("x", "u", 1, "one", "2")})
	require.Len(t, idx.Malformed, 1)
	assert.Equal(t, MalformedTag{EntryID: "x", Tag: models.TagChunkIndex, Raw: "one"}, idx.Malformed[0])
}

func TestIsComplete(t *testing.T) {
	cases := []struct {
		name    string
		entries []models.StorageEntry
		want    bool
		reason  Reason
	}{
		{"full", batch("a", 1, 3), true, ReasonOK},
		{"single legacy", []models.StorageEntry{entry("x", "", 1, "", "")}, true, ReasonOK},
		{"missing chunk", batch("a", 1, 3)[:2], false, ReasonCountMismatch},
		{"duplicate index", []models.StorageEntry{
			entry("0", "a", 1, "0", "2"), entry("1", "a", 1, "0", "2"),
		}, false, ReasonNotContiguous},
		{"index out of range", []models.StorageEntry{
			entry("0", "a", 1, "1", "2"), entry("1", "a", 1, "2", "2"),
		}, false, ReasonNotContiguous},
		{"conflicting totals", []models.StorageEntry{
			entry("0", "a", 1, "0", "2"), entry("1", "a", 1, "1", "3"),
		}, false, ReasonTotalMismatch},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			g := BuildIndex(c.entries).Groups()[0]
			ok, reason := IsComplete(g)
			assert.Equal(t, c.want, ok)
			assert.Equal(t, c.reason, reason)
		})
	}
	ok, reason := IsComplete(models.ChunkGroup{})
	assert.False(t, ok)
	assert.Equal(t, ReasonEmpty, reason)
}

func TestSelectNewestCompleteGroup(t *testing.T) {
	entries := append(batch("old", 100, 2), batch("new", 200, 3)...)
	sel := SelectChunked(BuildIndex(entries))
	require.Equal(t, Complete, sel.Kind)
	assert.Equal(t, "new", sel.Group.UploadID)

	v := sel.Version(chunked)
	require.NotNil(t, v)
	assert.Equal(t, []string{"new-0", "new-1", "new-2"}, v.IDs)
	assert.Equal(t, int64(200), v.UploadTimestamp)
	assert.True(t, v.IsChunked)
}

func TestSelectSkipsNewerIncompleteGroup(t *testing.T) {
	entries := append(batch("old", 100, 2), batch("new", 200, 3)[:2]...)
	sel := SelectChunked(BuildIndex(entries))
	require.Equal(t, Complete, sel.Kind)
	assert.Equal(t, "old", sel.Group.UploadID)
}

func TestSelectTieGoesToSmallestUploadID(t *testing.T) {
	entries := append(batch("zeta", 100, 2), batch("alpha", 100, 2)...)
	sel := SelectChunked(BuildIndex(entries))
	require.Equal(t, Complete, sel.Kind)
	assert.Equal(t, "alpha", sel.Group.UploadID)
}

func TestSelectOrdersChunksByIndex(t *testing.T) {
	b := batch("a", 1, 4)
	shuffled := []models.StorageEntry{b[2], b[0], b[3], b[1]}
	v := SelectChunked(BuildIndex(shuffled)).Version(chunked)
	require.NotNil(t, v)
	assert.Equal(t, []string{"a-0", "a-1", "a-2", "a-3"}, v.IDs)
}

func TestSelectBestEffortFallback(t *testing.T) {
	entries := []models.StorageEntry{
		entry("b1", "b", 50, "1", "3"),
		entry("a2", "a", 70, "2", "3"),
		entry("b0", "b", 60, "0", "3"),
	}
	sel := SelectChunked(BuildIndex(entries))
	require.Equal(t, BestEffort, sel.Kind)

	v := sel.Version(chunked)
	require.NotNil(t, v)
	assert.Equal(t, []string{"b0", "b1", "a2"}, v.IDs)
	assert.Equal(t, int64(60), v.UploadTimestamp, "timestamp of first entry after sorting")
}

func TestSelectEmpty(t *testing.T) {
	sel := SelectChunked(BuildIndex(nil))
	assert.Equal(t, Empty, sel.Kind)
	assert.Nil(t, sel.Version(chunked))
	assert.Equal(t, Empty, SelectMonolithic(nil).Kind)
}

func TestSelectMonolithicNewest(t *testing.T) {
	entries := []models.StorageEntry{
		testutil.Monolithic("first", "10.1/x", "2.0.0", 300),
		testutil.Monolithic("older", "10.1/x", "2.0.0", 100),
		testutil.Monolithic("tied", "10.1/x", "2.0.0", 300),
	}
	v := SelectMonolithic(entries).Version(models.Format{Version: "2.0.0"})
	require.NotNil(t, v)
	assert.Equal(t, []string{"first"}, v.IDs)
	assert.False(t, v.IsChunked)
	assert.Equal(t, int64(300), v.UploadTimestamp)
}

func TestSelectRoundTripsSplitUpload(t *testing.T) {
	entries, _ := testutil.Split(testutil.Bytes(1000), testutil.Upload{
		DOI: "10.1/x", Version: "1.0.3", UploadID: "u1", Timestamp: 5, Chunks: 7,
	})
	sel := SelectChunked(BuildIndex(entries))
	require.Equal(t, Complete, sel.Kind)
	assert.Len(t, sel.Group.Chunks, 7)
}

func TestSortVersions(t *testing.T) {
	versions := []models.PdfVersion{
		{Version: "1.0.3", UploadTimestamp: 10},
		{Version: "2.0.0", UploadTimestamp: 30},
		{Version: "x", UploadTimestamp: 10},
	}
	SortVersions(versions)
	assert.Equal(t, "2.0.0", versions[0].Version)
	assert.Equal(t, "1.0.3", versions[1].Version)
	assert.Equal(t, "x", versions[2].Version)
}
