package models

// Format is a known storage-format version of PDF entries.
type Format struct {
	Version string `yaml:"version" json:"version"`
	Chunked bool   `yaml:"chunked" json:"chunked"`
}

// Chunk is one fragment of a chunked upload.
type Chunk struct {
	ID    string
	Index int
	Total int
	// TotalDeclared is false when Total-Chunks was missing or malformed.
	TotalDeclared bool
}

// ChunkGroup collects the chunks sharing one Upload-Id.
type ChunkGroup struct {
	UploadID  string
	Timestamp int64
	Chunks    []Chunk
}

// PdfVersion describes one retrievable representation of a document.
// IDs are in Chunk-Index order when IsChunked is true; otherwise IDs has
// exactly one element.
type PdfVersion struct {
	Version         string   `json:"version"`
	IsChunked       bool     `json:"isChunked"`
	IDs             []string `json:"ids"`
	UploadTimestamp int64    `json:"uploadTimestamp"`
}
