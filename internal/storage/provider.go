// Package storage provides the content-addressed store backends: a GraphQL
// gateway client for the remote store and a local file-system store.
package storage

import (
	"context"

	"github.com/starford/scivault/internal/models"
)

// Provider is the interface every backend implements. It matches
// query.Backend so that backends can be passed to the engine directly.
type Provider interface {
	// Name identifies the backend in logs and status reports.
	Name() string
	// Query returns entries matching q, honouring q.Descending and q.Limit.
	Query(ctx context.Context, q models.Query) ([]models.StorageEntry, error)
	// Fetch returns the raw bytes stored at id.
	Fetch(ctx context.Context, id string) ([]byte, error)
}

var (
	_ Provider = (*FS)(nil)
	_ Provider = (*Gateway)(nil)
)
