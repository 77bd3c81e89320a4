// Package paperservice is the facade over version resolution, caching and
// reassembly.
package paperservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/scivault/internal/apperr"
	"github.com/starford/scivault/internal/delivery"
	"github.com/starford/scivault/internal/index"
	"github.com/starford/scivault/internal/models"
	"github.com/starford/scivault/internal/parser"
	"github.com/starford/scivault/internal/reassembly"
	"github.com/starford/scivault/internal/resolver"
	"github.com/starford/scivault/internal/retry"
	"github.com/starford/scivault/internal/sse"
)

// Latest-paper limits.
const (
	DefaultLatestLimit = 10
	MaxLatestLimit     = 100
)

// ProgressSink receives download progress. *sse.Broker satisfies it.
type ProgressSink interface {
	PublishProgress(p sse.Progress)
}

// Service coordinates version lookup, the optional version cache and
// reassembly. It is shared by the HTTP, MCP and CLI surfaces.
type Service struct {
	resolver    *resolver.Resolver
	reassembler *reassembly.Reassembler
	logger      *slog.Logger

	cache    index.VersionCache
	cacheTTL time.Duration
	progress ProgressSink

	metadataContentType string
	retryOpt            []retry.Option
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the version cache. Entries older than ttl are re-resolved;
// a non-positive ttl never expires.
func WithCache(c index.VersionCache, ttl time.Duration) Option {
	return func(s *Service) { s.cache, s.cacheTTL = c, ttl }
}

// WithProgressSink sets where download progress is published.
func WithProgressSink(p ProgressSink) Option {
	return func(s *Service) { s.progress = p }
}

// WithMetadataContentType sets the Content-Type tag of metadata documents.
func WithMetadataContentType(ct string) Option {
	return func(s *Service) { s.metadataContentType = ct }
}

// WithRetryOptions passes extra options to metadata fetch retries.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *Service) { s.retryOpt = append(s.retryOpt, opts...) }
}

// NewService creates a new paper service.
func NewService(res *resolver.Resolver, re *reassembly.Reassembler, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		resolver:            res,
		reassembler:         re,
		logger:              logger,
		metadataContentType: "application/json",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Versions returns the PDF versions of doi, newest first.
func (s *Service) Versions(ctx context.Context, doi string) ([]models.PdfVersion, error) {
	doi = parser.NormalizeDOI(doi)
	if doi == "" {
		return nil, apperr.ErrInvalidDOI
	}

	if s.cache != nil {
		cached, ok, err := s.cache.GetVersions(doi, s.cacheTTL)
		if err != nil {
			s.logger.Warn("paperservice: cache read failed", slog.String("doi", doi), slog.String("error", err.Error()))
		} else if ok {
			return cached, nil
		}
	}

	versions, err := s.resolver.ResolveVersions(ctx, doi)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && len(versions) > 0 {
		if err := s.cache.PutVersions(doi, versions); err != nil {
			s.logger.Warn("paperservice: cache write failed", slog.String("doi", doi), slog.String("error", err.Error()))
		}
	}
	return versions, nil
}

// Download resolves doi, picks version (newest when empty) and returns the
// complete document. A failed chunk fetch yields *reassembly.ChunkError.
func (s *Service) Download(ctx context.Context, doi, version, title string) (*delivery.Artifact, error) {
	doi = parser.NormalizeDOI(doi)
	v, err := s.Locate(ctx, doi, version)
	if err != nil {
		return nil, err
	}

	progress := func(done, total int) {
		if s.progress != nil {
			s.progress.PublishProgress(sse.Progress{DOI: doi, Version: v.Version, Done: done, Total: total})
		}
	}

	data, err := s.reassembler.ReassembleWithProgress(ctx, v.IDs, progress)
	if err != nil {
		// The cached ids may point at entries that no longer resolve.
		if s.cache != nil {
			if cerr := s.cache.Invalidate(doi); cerr != nil {
				s.logger.Warn("paperservice: cache invalidate failed",
					slog.String("doi", doi),
					slog.String("error", cerr.Error()))
			}
		}
		return nil, err
	}

	s.logger.Info("paperservice: download ready",
		slog.String("doi", doi),
		slog.String("version", v.Version),
		slog.Int("chunks", len(v.IDs)),
		slog.Int("bytes", len(data)))
	a := delivery.NewArtifact(data, title, doi, v.Version)
	return &a, nil
}

// Locate returns the descriptor Download would fetch for doi and version
// (newest when empty) without transferring any bytes.
func (s *Service) Locate(ctx context.Context, doi, version string) (models.PdfVersion, error) {
	doi = parser.NormalizeDOI(doi)
	versions, err := s.Versions(ctx, doi)
	if err != nil {
		return models.PdfVersion{}, err
	}
	if len(versions) == 0 {
		return models.PdfVersion{}, fmt.Errorf("%w: no pdf for %s", apperr.ErrNotFound, doi)
	}
	v, err := pick(versions, version)
	if err != nil {
		return models.PdfVersion{}, fmt.Errorf("%w: %s has no version %q", err, doi, version)
	}
	return v, nil
}

func pick(versions []models.PdfVersion, version string) (models.PdfVersion, error) {
	if version == "" {
		return versions[0], nil
	}
	for _, v := range versions {
		if v.Version == version {
			return v, nil
		}
	}
	return models.PdfVersion{}, apperr.ErrUnknownVersion
}

// Latest returns the most recently published papers with their PDF versions.
// Metadata entries without a doi tag, or whose document cannot be fetched or
// decoded, are skipped.
func (s *Service) Latest(ctx context.Context, limit int) ([]models.Paper, error) {
	if limit <= 0 {
		limit = DefaultLatestLimit
	}
	limit = min(limit, MaxLatestLimit)

	exec := s.resolver.Executor()
	entries := exec.Run(ctx, models.Query{
		AppName:     s.appName(),
		ContentType: s.metadataContentType,
		Limit:       limit,
		Descending:  true,
	})

	papers := make([]*models.Paper, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, e := range entries {
		if e.Tags.Value(models.TagDOI) == "" {
			continue
		}
		g.Go(func() error {
			p, err := s.loadPaper(gctx, e)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				s.logger.Warn("paperservice: skipping paper",
					slog.String("id", e.ID),
					slog.String("doi", e.Tags.Value(models.TagDOI)),
					slog.String("error", err.Error()))
				return nil
			}
			papers[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.Paper, 0, len(papers))
	for _, p := range papers {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Service) loadPaper(ctx context.Context, e models.StorageEntry) (*models.Paper, error) {
	exec := s.resolver.Executor()
	data, err := retry.Do(ctx, exec.Policy(), func(ctx context.Context) ([]byte, error) {
		return exec.Backend().Fetch(ctx, e.ID)
	}, s.retryOpt...)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	p, err := parser.ParseMetadata(e.ID, data, e.Tags)
	if err != nil {
		return nil, err
	}
	if p.DOI == "" {
		p.DOI = parser.NormalizeDOI(e.Tags.Value(models.TagDOI))
	}
	versions, err := s.Versions(ctx, p.DOI)
	if err != nil {
		return nil, err
	}
	p.PdfVersions = versions
	return p, nil
}

func (s *Service) appName() string {
	return s.resolver.Config().AppName
}
