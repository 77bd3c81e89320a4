package index

import (
	"log/slog"

	"github.com/starford/scivault/internal/models"
	"github.com/starford/scivault/internal/parser"
	"github.com/starford/scivault/internal/storage"
)

// Sync walks the store and brings the entry table up to date:
//   - new/changed sidecars are recorded and their DOI invalidated
//   - entries removed from disk are forgotten and their DOI invalidated
//
// It returns the DOIs whose cached versions were dropped.
func Sync(db *DB, store *storage.FS, logger *slog.Logger) ([]string, error) {
	sidecars, err := store.List()
	if err != nil {
		return nil, err
	}
	checksums, err := db.AllEntryChecksums()
	if err != nil {
		return nil, err
	}

	touched := make(map[string]struct{})
	disk := make(map[string]struct{}, len(sidecars))
	for _, sc := range sidecars {
		id := sc.Entry.ID
		disk[id] = struct{}{}
		if checksums[id] == sc.Checksum {
			continue
		}
		doi := entryDOI(sc.Entry)
		if err := db.UpsertEntry(id, doi, sc.Checksum); err != nil {
			logger.Warn("sync: record failed", slog.String("id", id), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: recorded", slog.String("id", id), slog.String("doi", doi))
		touched[doi] = struct{}{}
	}

	for id := range checksums {
		if _, ok := disk[id]; ok {
			continue
		}
		doi, err := db.DeleteEntry(id)
		if err != nil {
			logger.Warn("sync: delete failed", slog.String("id", id), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.String("id", id))
		touched[doi] = struct{}{}
	}

	var dropped []string
	for doi := range touched {
		if doi == "" {
			continue
		}
		if err := db.Invalidate(doi); err != nil {
			logger.Warn("sync: invalidate failed", slog.String("doi", doi), slog.String("error", err.Error()))
			continue
		}
		dropped = append(dropped, doi)
	}
	return dropped, nil
}

func entryDOI(e models.StorageEntry) string {
	return parser.NormalizeDOI(e.Tags.Value(models.TagDOI))
}
