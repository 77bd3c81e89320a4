package internal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/starford/scivault/internal/index"
	"github.com/starford/scivault/internal/metrics"
	"github.com/starford/scivault/internal/models"
	"github.com/starford/scivault/internal/paperservice"
	"github.com/starford/scivault/internal/query"
	"github.com/starford/scivault/internal/reassembly"
	"github.com/starford/scivault/internal/resolver"
	"github.com/starford/scivault/internal/sse"
	"github.com/starford/scivault/internal/status"
	"github.com/starford/scivault/internal/storage"
)

// NewLogger builds the structured JSON logger at cfg's level.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

// Stack is the engine wired from a Config. The HTTP server, the MCP server
// and the one-shot CLI commands all run on top of it.
type Stack struct {
	Config   *Config
	Logger   *slog.Logger
	Recorder *metrics.Recorder
	Tracker  *status.Tracker
	Executor *query.Executor
	Service  *paperservice.Service

	// FS is set for the file-system backend.
	FS *storage.FS
	// Cache is set when the version cache is enabled.
	Cache *index.DB
}

// NewStack wires the backend, executor, resolver, reassembler and service.
// broker may be nil; when set it receives status changes and download progress.
func NewStack(cfg *Config, logger *slog.Logger, broker *sse.Broker) (*Stack, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = NewLogger(cfg, os.Stderr)
	}

	st := &Stack{
		Config:   cfg,
		Logger:   logger,
		Recorder: metrics.NewRecorder(nil),
	}

	backend, err := st.openBackend()
	if err != nil {
		return nil, err
	}

	st.Tracker = status.NewTracker(func(s status.State) {
		st.Recorder.SetBackendUp(s.Backend, s.Status == status.Available)
		logger.Info("store status changed",
			slog.String("backend", s.Backend),
			slog.String("status", string(s.Status)),
			slog.String("error", s.LastError))
	})
	if broker != nil {
		st.Tracker.Subscribe(func(s status.State) { broker.PublishStatus(s.Backend, s) })
	}

	policy := cfg.Retry.Policy()
	st.Executor = query.NewExecutor(backend, policy, logger,
		query.WithReporter(st.Tracker),
		query.WithRecorder(st.Recorder),
	)

	res := resolver.New(st.Executor, resolver.Config{
		AppName:     cfg.Store.AppName,
		ContentType: cfg.Store.ContentType,
		Formats:     cfg.Store.Formats,
		Limit:       cfg.Store.QueryLimit,
	}, logger, st.Recorder)

	re := reassembly.New(backend, cfg.FetchPolicy(),
		reassembly.WithConcurrency(cfg.Reassembly.Concurrency),
		reassembly.WithRecorder(st.Recorder),
		reassembly.WithLogger(logger),
	)

	svcOpts := []paperservice.Option{
		paperservice.WithMetadataContentType(cfg.Store.MetadataContentType),
	}
	if broker != nil {
		svcOpts = append(svcOpts, paperservice.WithProgressSink(broker))
	}
	if cfg.Cache.Enabled {
		db, err := index.Open(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("open version cache: %w", err)
		}
		st.Cache = db
		svcOpts = append(svcOpts, paperservice.WithCache(db, cfg.Cache.TTL))
	}

	st.Service = paperservice.NewService(res, re, logger, svcOpts...)

	logger.Info("Store configured",
		slog.String("backend", backend.Name()),
		slog.String("app_name", cfg.Store.AppName),
		slog.Int("formats", len(res.Formats())),
		slog.Bool("cache", cfg.Cache.Enabled),
		slog.Int("concurrency", cfg.Reassembly.Concurrency))

	return st, nil
}

func (st *Stack) openBackend() (query.Backend, error) {
	cfg := st.Config
	switch cfg.Store.Backend {
	case BackendFS:
		if err := os.MkdirAll(cfg.FS.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		fs, err := storage.NewFS(cfg.FS.Path)
		if err != nil {
			return nil, fmt.Errorf("init fs store: %w", err)
		}
		st.FS = fs
		return fs, nil
	case BackendGateway:
		var opts []storage.GatewayOption
		if cfg.Gateway.UserAgent != "" {
			opts = append(opts, storage.WithUserAgent(cfg.Gateway.UserAgent))
		}
		gw, err := storage.NewGateway(cfg.Gateway.GraphQLURL, cfg.Gateway.GatewayURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("init gateway store: %w", err)
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// ProbeQuery is the one-result query the status prober runs.
func (st *Stack) ProbeQuery() models.Query {
	q := models.Query{
		AppName:     st.Config.Store.AppName,
		ContentType: st.Config.Store.ContentType,
		Descending:  true,
	}
	if len(st.Config.Store.Formats) > 0 {
		q.Version = st.Config.Store.Formats[0].Version
	}
	return q
}

// Close releases the version cache.
func (st *Stack) Close() error {
	if st.Cache != nil {
		return st.Cache.Close()
	}
	return nil
}
