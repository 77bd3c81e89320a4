package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/scivault/internal/delivery"
	"github.com/starford/scivault/internal/paperservice"
	"github.com/starford/scivault/internal/parser"
	"github.com/starford/scivault/internal/status"
)

// Handler holds API route handlers.
type Handler struct {
	svc     *paperservice.Service
	tracker *status.Tracker
}

// NewHandler creates a new Handler. tracker may be nil.
func NewHandler(svc *paperservice.Service, tracker *status.Tracker) *Handler {
	return &Handler{svc: svc, tracker: tracker}
}

// doiPath extracts the DOI from the URL (everything after the route prefix).
// DOIs contain slashes; encoded slashes (10.1%2Fabc) are accepted too.
func doiPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return parser.NormalizeDOI(raw)
	}
	return parser.NormalizeDOI(decoded)
}

// LatestPapers handles GET /api/papers/latest.
//
//	@Summary		List the most recently published papers with their PDF versions
//	@Tags			papers
//	@Produce		json
//	@Param			limit	query		int	false	"Maximum papers (default 10, max 100)"
//	@Success		200		{object}	LatestResponse
//	@Security		BearerAuth
//	@Router			/papers/latest [get]
func (h *Handler) LatestPapers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	papers, err := h.svc.Latest(r.Context(), limit)
	if err != nil {
		writeError(w, "latest papers", "", err)
		return
	}
	writeJSON(w, http.StatusOK, LatestResponse{Papers: papers})
}

// Versions handles GET /api/versions/*.
//
//	@Summary		List PDF versions of a DOI, newest first
//	@Tags			pdf
//	@Produce		json
//	@Param			doi	path		string	true	"DOI"
//	@Success		200	{object}	VersionsResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/versions/{doi} [get]
func (h *Handler) Versions(w http.ResponseWriter, r *http.Request) {
	doi := doiPath(r)
	if doi == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("doi is required"))
		return
	}
	versions, err := h.svc.Versions(r.Context(), doi)
	if err != nil {
		writeError(w, "list versions", doi, err)
		return
	}
	writeJSON(w, http.StatusOK, VersionsResponse{DOI: doi, Versions: versions})
}

// DownloadPDF handles GET and HEAD /api/pdf/*. HEAD resolves the version
// without fetching chunks.
//
//	@Summary		Download a reassembled PDF
//	@Tags			pdf
//	@Produce		application/pdf
//	@Param			doi		path		string	true	"DOI"
//	@Param			version	query		string	false	"Storage format version (default newest)"
//	@Param			title	query		string	false	"Title used for the attachment filename"
//	@Success		200		{file}		binary
//	@Failure		404		{object}	errResponse
//	@Failure		502		{object}	ChunkErrorResponse
//	@Security		BearerAuth
//	@Router			/pdf/{doi} [get]
func (h *Handler) DownloadPDF(w http.ResponseWriter, r *http.Request) {
	doi := doiPath(r)
	if doi == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("doi is required"))
		return
	}
	q := r.URL.Query()
	if r.Method == http.MethodHead {
		v, err := h.svc.Locate(r.Context(), doi, q.Get("version"))
		if err != nil {
			writeError(w, "locate pdf", doi, err)
			return
		}
		delivery.WriteHead(w, delivery.Filename(q.Get("title"), doi, v.Version), v.Version)
		return
	}
	artifact, err := h.svc.Download(r.Context(), doi, q.Get("version"), q.Get("title"))
	if err != nil {
		writeError(w, "download pdf", doi, err)
		return
	}
	delivery.Write(w, r, *artifact)
}

// Status handles GET /api/status.
//
//	@Summary		Report storage backend reachability
//	@Tags			status
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{Backends: []status.State{}}
	if h.tracker != nil {
		resp.Backends = h.tracker.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}
