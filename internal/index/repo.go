package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/scivault/internal/models"
)

// PutVersions replaces the cached versions of doi. An empty list only clears
// the entry: a lookup that found nothing, possibly because the store was
// unreachable, must be repeated next time.
func (db *DB) PutVersions(doi string, versions []models.PdfVersion) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM pdf_versions WHERE doi = ?`, doi); err != nil {
		return fmt.Errorf("index: clear versions: %w", err)
	}
	if len(versions) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO pdf_versions (doi, version, position, is_chunked, ids, upload_ts, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("index: prepare version insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UnixMilli()
		for i, v := range versions {
			ids, _ := json.Marshal(v.IDs)
			if _, err := stmt.Exec(doi, v.Version, i, v.IsChunked, string(ids), v.UploadTimestamp, now); err != nil {
				return fmt.Errorf("index: insert version: %w", err)
			}
		}
	}
	return tx.Commit()
}

// GetVersions returns the cached versions of doi in their stored order. ok is
// false when nothing is cached or the entry is older than maxAge; a
// non-positive maxAge never expires.
func (db *DB) GetVersions(doi string, maxAge time.Duration) ([]models.PdfVersion, bool, error) {
	rows, err := db.conn.Query(`
		SELECT version, is_chunked, ids, upload_ts, resolved_at
		FROM pdf_versions WHERE doi = ? ORDER BY position
	`, doi)
	if err != nil {
		return nil, false, fmt.Errorf("index: get versions: %w", err)
	}
	defer rows.Close()

	var out []models.PdfVersion
	oldest := int64(-1)
	for rows.Next() {
		var (
			v          models.PdfVersion
			idsJSON    string
			resolvedAt int64
		)
		if err := rows.Scan(&v.Version, &v.IsChunked, &idsJSON, &v.UploadTimestamp, &resolvedAt); err != nil {
			return nil, false, err
		}
		_ = json.Unmarshal([]byte(idsJSON), &v.IDs)
		if oldest < 0 || resolvedAt < oldest {
			oldest = resolvedAt
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(out) == 0 {
		return nil, false, nil
	}
	if maxAge > 0 && time.Since(time.UnixMilli(oldest)) > maxAge {
		return nil, false, nil
	}
	return out, true, nil
}

// Invalidate drops the cached versions of doi.
func (db *DB) Invalidate(doi string) error {
	if _, err := db.conn.Exec(`DELETE FROM pdf_versions WHERE doi = ?`, doi); err != nil {
		return fmt.Errorf("index: invalidate: %w", err)
	}
	return nil
}

// InvalidateAll drops every cached version.
func (db *DB) InvalidateAll() error {
	if _, err := db.conn.Exec(`DELETE FROM pdf_versions`); err != nil {
		return fmt.Errorf("index: invalidate all: %w", err)
	}
	return nil
}

// CachedDOIs returns the number of DOIs with cached versions.
func (db *DB) CachedDOIs() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(DISTINCT doi) FROM pdf_versions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return n, nil
}

// UpsertEntry records the DOI and sidecar checksum of a store entry.
func (db *DB) UpsertEntry(id, doi, checksum string) error {
	_, err := db.conn.Exec(`
		INSERT INTO store_entries (id, doi, checksum) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doi = excluded.doi, checksum = excluded.checksum
	`, id, doi, checksum)
	if err != nil {
		return fmt.Errorf("index: upsert entry: %w", err)
	}
	return nil
}

// DeleteEntry forgets a store entry and returns the DOI it carried, or ""
// when the entry was unknown.
func (db *DB) DeleteEntry(id string) (string, error) {
	var doi string
	err := db.conn.QueryRow(`SELECT doi FROM store_entries WHERE id = ?`, id).Scan(&doi)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: lookup entry: %w", err)
	}
	if _, err := db.conn.Exec(`DELETE FROM store_entries WHERE id = ?`, id); err != nil {
		return "", fmt.Errorf("index: delete entry: %w", err)
	}
	return doi, nil
}

// AllEntryChecksums returns id -> sidecar checksum for every recorded entry.
func (db *DB) AllEntryChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM store_entries`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}
