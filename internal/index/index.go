package index

import (
	"time"

	"github.com/starford/scivault/internal/models"
)

// VersionCache defines the version cache operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type VersionCache interface {
	GetVersions(doi string, maxAge time.Duration) ([]models.PdfVersion, bool, error)
	PutVersions(doi string, versions []models.PdfVersion) error
	Invalidate(doi string) error
	InvalidateAll() error
	Close() error
}

// Verify *DB satisfies VersionCache at compile time.
var _ VersionCache = (*DB)(nil)
