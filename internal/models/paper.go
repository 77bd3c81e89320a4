package models

// Paper is the decoded metadata document of a published paper with the
// PDF representations found for it.
type Paper struct {
	ID          string         `json:"id"`
	DOI         string         `json:"doi"`
	Title       string         `json:"title,omitempty"`
	Authors     string         `json:"authors,omitempty"`
	Abstract    string         `json:"abstract,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
	PdfVersions []PdfVersion   `json:"pdfVersions,omitempty"`
}
