// Package delivery turns reassembled bytes into a downloadable artifact.
package delivery

import (
	"net/http"
	"regexp"
	"strconv"

	"github.com/starford/scivault/internal/checksum"
)

// ContentType is the media type of every delivered artifact.
const ContentType = "application/pdf"

var unsafeRe = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Artifact is a complete document ready to hand to a client.
type Artifact struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	DOI         string `json:"doi"`
	Version     string `json:"version"`
	Data        []byte `json:"-"`
	Checksum    string `json:"sha256"`
}

// NewArtifact wraps data for doi/version with a sanitised filename.
func NewArtifact(data []byte, title, doi, version string) Artifact {
	return Artifact{
		Filename:    Filename(title, doi, version),
		ContentType: ContentType,
		DOI:         doi,
		Version:     version,
		Data:        data,
		Checksum:    checksum.Sum(data),
	}
}

// Filename replaces every non-alphanumeric rune of title with '_' and appends
// ".pdf". An empty title falls back to the DOI plus version, then to "paper".
func Filename(title, doi, version string) string {
	base := title
	if base == "" && doi != "" {
		base = doi
		if version != "" {
			base += "_" + version
		}
	}
	if base == "" {
		base = "paper"
	}
	return unsafeRe.ReplaceAllString(base, "_") + ".pdf"
}

// WriteHead answers a HEAD request for a document that has been located but
// not fetched. Length and entity tag are unknown until the bytes are
// reassembled, so only the naming headers are sent.
func WriteHead(w http.ResponseWriter, filename, version string) {
	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if version != "" {
		h.Set("X-Pdf-Version", version)
	}
	w.WriteHeader(http.StatusOK)
}

// Write sends a as an attachment. A matching If-None-Match yields 304.
func Write(w http.ResponseWriter, r *http.Request, a Artifact) {
	sum := a.Checksum
	if sum == "" {
		sum = checksum.Sum(a.Data)
	}
	h := w.Header()
	h.Set("ETag", checksum.ETag(sum))
	if inm := r.Header.Get("If-None-Match"); inm != "" && checksum.MatchesETag(inm, sum) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	ct := a.ContentType
	if ct == "" {
		ct = ContentType
	}
	h.Set("Content-Type", ct)
	h.Set("Content-Disposition", `attachment; filename="`+a.Filename+`"`)
	h.Set("Content-Length", strconv.Itoa(len(a.Data)))
	if a.Version != "" {
		h.Set("X-Pdf-Version", a.Version)
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(a.Data)
	}
}
