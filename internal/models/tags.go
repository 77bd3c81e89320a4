package models

import (
	"strconv"
	"strings"
)

// Tag names understood by the engine.
const (
	TagAppName     = "App-Name"
	TagContentType = "Content-Type"
	TagVersion     = "Version"
	TagDOI         = "doi"
	TagUploadID    = "Upload-Id"
	TagChunkIndex  = "Chunk-Index"
	TagTotalChunks = "Total-Chunks"
	TagType        = "Type"
	TagTitle       = "title"
	TagAuthors     = "authors"
)

// TagStatus reports how a typed tag value was obtained.
type TagStatus int

const (
	// TagOK means the tag was present and parsed.
	TagOK TagStatus = iota
	// TagMissing means the tag was absent and the default was used.
	TagMissing
	// TagMalformed means the tag was present but unparseable; the default was used.
	TagMalformed
)

func (s TagStatus) String() string {
	switch s {
	case TagOK:
		return "ok"
	case TagMissing:
		return "missing"
	case TagMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// IntTag is the result of decoding an integer tag.
type IntTag struct {
	Value  int
	Status TagStatus
	Raw    string
}

// DecodeInt parses the first tag named name as a non-negative integer,
// falling back to def when it is missing or malformed.
func DecodeInt(tags Tags, name string, def int) IntTag {
	raw, ok := tags.Get(name)
	if !ok {
		return IntTag{Value: def, Status: TagMissing}
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return IntTag{Value: def, Status: TagMalformed, Raw: raw}
	}
	return IntTag{Value: n, Status: TagOK, Raw: raw}
}

// ChunkIndex decodes Chunk-Index (default 0).
func ChunkIndex(tags Tags) IntTag {
	return DecodeInt(tags, TagChunkIndex, 0)
}

// TotalChunks decodes Total-Chunks (default 1).
func TotalChunks(tags Tags) IntTag {
	return DecodeInt(tags, TagTotalChunks, 1)
}
