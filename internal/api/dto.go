package api

import (
	"github.com/starford/scivault/internal/models"
	"github.com/starford/scivault/internal/status"
)

// VersionsResponse lists the PDF versions of one DOI, newest first.
type VersionsResponse struct {
	DOI      string              `json:"doi" example:"10.1007/s12083-023-01582-x" validate:"required"`
	Versions []models.PdfVersion `json:"versions" validate:"required"`
}

// LatestResponse wraps the most recently published papers.
type LatestResponse struct {
	Papers []models.Paper `json:"papers" validate:"required"`
}

// StatusResponse reports backend reachability.
type StatusResponse struct {
	Backends []status.State `json:"backends" validate:"required"`
}

// ChunkErrorResponse is returned when a chunk could not be fetched.
type ChunkErrorResponse struct {
	Error      string `json:"error" example:"chunk fetch failed" validate:"required"`
	DOI        string `json:"doi" example:"10.1007/s12083-023-01582-x" validate:"required"`
	ChunkIndex int    `json:"chunkIndex" example:"2" validate:"required"`
}
