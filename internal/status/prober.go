package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/starford/scivault/internal/models"
	"github.com/starford/scivault/internal/query"
)

// Prober periodically runs a one-result query so reachability stays current
// between user requests. Results flow to the executor's Reporter.
type Prober struct {
	scheduler gocron.Scheduler
	exec      *query.Executor
	probe     models.Query
	timeout   time.Duration
	logger    *slog.Logger
}

// NewProber schedules probe every interval. The first probe runs immediately
// after Start.
func NewProber(exec *query.Executor, probe models.Query, interval time.Duration, logger *slog.Logger) (*Prober, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("status: probe interval must be positive, got %s", interval)
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("status: create scheduler: %w", err)
	}
	probe.Limit = 1
	p := &Prober{scheduler: s, exec: exec, probe: probe, timeout: interval, logger: logger}

	job, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(p.run),
		gocron.WithName("store-probe"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("status: schedule probe: %w", err)
	}
	logger.Debug("status: probe scheduled", slog.String("job_id", job.ID().String()), slog.Duration("interval", interval))
	return p, nil
}

// Start begins probing.
func (p *Prober) Start() {
	p.logger.Info("status: prober started", slog.String("backend", p.exec.Backend().Name()))
	p.scheduler.Start()
}

// Stop shuts the scheduler down and waits for a running probe.
func (p *Prober) Stop() error {
	p.logger.Info("status: prober stopped")
	return p.scheduler.Shutdown()
}

// ProbeNow runs one probe synchronously and returns the number of entries seen.
func (p *Prober) ProbeNow(ctx context.Context) int {
	return len(p.exec.Run(ctx, p.probe))
}

func (p *Prober) run() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	n := p.ProbeNow(ctx)
	p.logger.Debug("status: probe done", slog.Int("entries", n))
}
