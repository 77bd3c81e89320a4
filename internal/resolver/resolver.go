// Package resolver lists the PDF representations available for a DOI across
// every storage format, without fetching any chunk bytes.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/starford/scivault/internal/apperr"
	"github.com/starford/scivault/internal/chunks"
	"github.com/starford/scivault/internal/models"
	"github.com/starford/scivault/internal/parser"
	"github.com/starford/scivault/internal/query"
)

// DefaultFormats are the storage formats known to the store.
var DefaultFormats = []models.Format{
	{Version: "1.0.3", Chunked: true},
	{Version: "2.0.0", Chunked: false},
}

// SelectionRecorder counts selection outcomes. *metrics.Recorder satisfies it.
type SelectionRecorder interface {
	IncSelection(kind string)
}

// Config holds the tag values every PDF query carries.
type Config struct {
	AppName     string
	ContentType string
	Formats     []models.Format
	// Limit caps each per-format query; zero means backend default.
	Limit int
}

// Resolver resolves DOIs to version descriptors.
type Resolver struct {
	exec     *query.Executor
	cfg      Config
	logger   *slog.Logger
	recorder SelectionRecorder
}

// New creates a Resolver. Empty cfg.Formats means DefaultFormats.
func New(exec *query.Executor, cfg Config, logger *slog.Logger, recorder SelectionRecorder) *Resolver {
	if len(cfg.Formats) == 0 {
		cfg.Formats = DefaultFormats
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{exec: exec, cfg: cfg, logger: logger, recorder: recorder}
}

// Formats returns the formats queried for every DOI.
func (r *Resolver) Formats() []models.Format { return r.cfg.Formats }

// Config returns the resolver configuration.
func (r *Resolver) Config() Config { return r.cfg }

// Executor returns the query executor.
func (r *Resolver) Executor() *query.Executor { return r.exec }

// ResolveVersions queries every format concurrently and returns one descriptor
// per format that has data, newest first. An unreachable backend yields fewer
// descriptors, never an error; only an empty DOI is rejected.
func (r *Resolver) ResolveVersions(ctx context.Context, doi string) ([]models.PdfVersion, error) {
	doi = parser.NormalizeDOI(doi)
	if doi == "" {
		return nil, fmt.Errorf("resolve versions: %w", apperr.ErrInvalidDOI)
	}

	results := make([]*models.PdfVersion, len(r.cfg.Formats))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range r.cfg.Formats {
		g.Go(func() error {
			results[i] = r.resolveFormat(gctx, doi, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	versions := make([]models.PdfVersion, 0, len(results))
	for _, v := range results {
		if v != nil {
			versions = append(versions, *v)
		}
	}
	chunks.SortVersions(versions)
	return versions, nil
}

func (r *Resolver) resolveFormat(ctx context.Context, doi string, f models.Format) *models.PdfVersion {
	entries := r.exec.Run(ctx, models.Query{
		AppName:     r.cfg.AppName,
		ContentType: r.cfg.ContentType,
		Version:     f.Version,
		DOI:         doi,
		Limit:       r.cfg.Limit,
		Descending:  true,
	})

	var sel chunks.Selection
	if f.Chunked {
		idx := chunks.BuildIndex(entries)
		for _, m := range idx.Malformed {
			r.logger.Warn("resolver: malformed tag",
				slog.String("doi", doi),
				slog.String("version", f.Version),
				slog.String("entry_id", m.EntryID),
				slog.String("tag", m.Tag),
				slog.String("raw", m.Raw))
		}
		sel = chunks.SelectChunked(idx)
		if sel.Kind == chunks.BestEffort {
			r.logger.Warn("resolver: no complete chunk group, using best effort",
				slog.String("doi", doi),
				slog.String("version", f.Version),
				slog.Int("entries", len(sel.Entries)))
		}
	} else {
		sel = chunks.SelectMonolithic(entries)
	}

	if r.recorder != nil {
		r.recorder.IncSelection(sel.Kind.String())
	}
	return sel.Version(f)
}
