package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/nicguard/internal/core/clock"
	"github.com/vietddude/nicguard/internal/core/config"
	"github.com/vietddude/nicguard/internal/core/domain"
	"github.com/vietddude/nicguard/internal/faults/health"
	"github.com/vietddude/nicguard/internal/infra/nic"
	redisclient "github.com/vietddude/nicguard/internal/infra/redis"
)

const metricsInterval = 10 * time.Second

// Daemon runs the supervisor over simulated adapters together with the
// health server, the snapshot publisher and fault injection.
type Daemon struct {
	cfg          *config.AppConfig
	supervisor   *Supervisor
	adapter      *nic.SimAdapter
	healthMon    *health.Monitor
	healthServer *health.Server
	redisClient  *redisclient.Client
	publisher    *redisclient.SnapshotPublisher
	injectors    []injector
	log          *slog.Logger
}

// NewDaemon creates a new Daemon with all dependencies initialized.
func NewDaemon(cfg *config.AppConfig, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. Engine settings
	table, err := cfg.Table()
	if err != nil {
		return nil, err
	}
	recoveryCfg, err := cfg.RecoveryConfig()
	if err != nil {
		return nil, err
	}
	critical, err := cfg.InstantCritical()
	if err != nil {
		return nil, err
	}

	// 2. Adapters and supervisor
	adapter := nic.NewSimAdapter()
	sup := NewSupervisor(SupervisorConfig{
		LogCapacity:     cfg.Engine.LogCapacity,
		InstantCritical: critical,
		Tracker:         cfg.TrackerConfig(),
		Guard:           cfg.GuardSettings(),
		Recovery:        recoveryCfg,
		Coordinator:     cfg.CoordinatorConfig(),
		Table:           table,
	}, adapter, clock.Real{}, logger)

	for _, dev := range cfg.Devices {
		adapter.AddDevice(dev.ID, nic.Profile{
			Link:       domain.LinkUp,
			FailResets: dev.Fault.FailResets,
			Stuck:      dev.Fault.Stuck,
		})
		if err := sup.Register(dev.ID); err != nil {
			return nil, fmt.Errorf("failed to register device: %w", err)
		}
	}

	injectors, err := newInjectors(cfg.Devices)
	if err != nil {
		return nil, err
	}

	// 3. Health monitor and server
	healthMon := health.NewMonitor(sup, 0, nil)
	healthServer := health.NewServer(healthMon, sup, cfg.Server.Port, logger)

	// 4. Redis snapshots
	var redisClient *redisclient.Client
	var publisher *redisclient.SnapshotPublisher
	if cfg.Redis.Enabled() {
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			logger.Warn("Failed to connect to Redis, snapshots disabled", "error", err)
		} else {
			publisher = redisclient.NewSnapshotPublisher(redisClient, cfg.Redis, logger)
			logger.Info("Redis snapshot publisher initialized", "interval", cfg.Engine.PublishInterval)
		}
	}

	return &Daemon{
		cfg:          cfg,
		supervisor:   sup,
		adapter:      adapter,
		healthMon:    healthMon,
		healthServer: healthServer,
		redisClient:  redisClient,
		publisher:    publisher,
		injectors:    injectors,
		log:          logger,
	}, nil
}

// Supervisor exposes the engine facade.
func (d *Daemon) Supervisor() *Supervisor { return d.supervisor }

// Adapter exposes the simulated hardware.
func (d *Daemon) Adapter() *nic.SimAdapter { return d.adapter }

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := d.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.healthServer.Stop(shutdownCtx)
	})

	g.Go(func() error { return d.runPollLoop(ctx) })
	g.Go(func() error { return d.runMetricsUpdater(ctx) })
	if d.publisher != nil {
		g.Go(func() error { return d.runPublisher(ctx) })
	}
	for _, inj := range d.injectors {
		g.Go(func() error { return d.runInjector(ctx, inj) })
	}

	d.log.Info("Daemon started", "devices", len(d.cfg.Devices), "port", d.cfg.Server.Port)
	return g.Wait()
}

// Stop releases external connections.
func (d *Daemon) Stop(ctx context.Context) error {
	d.log.Info("Stopping daemon...")

	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			d.log.Warn("Failed to close Redis", "error", err)
		}
	}
	d.supervisor.UpdateMetrics()
	return nil
}

func (d *Daemon) runPollLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Engine.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for id, res := range d.supervisor.PollAll(ctx) {
				d.log.Debug("Poll ran recovery", "device", id, "level", res.Level, "outcome", res.Outcome)
			}
		}
	}
}

func (d *Daemon) runMetricsUpdater(ctx context.Context) error {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.supervisor.UpdateMetrics()
			d.log.Debug("Updated device metrics")
		}
	}
}

func (d *Daemon) runPublisher(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Engine.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.publisher.Publish(ctx, d.supervisor, time.Now()); err != nil {
				d.log.Warn("Failed to publish snapshot", "error", err)
			}
		}
	}
}
