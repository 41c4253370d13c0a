package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ladybird/contentsec/internal/adapter/outbound/quarantine"
	"github.com/ladybird/contentsec/internal/adapter/outbound/sigengine"
	"github.com/ladybird/contentsec/internal/adapter/outbound/sqlitestore"
	"github.com/ladybird/contentsec/internal/config"
	"github.com/ladybird/contentsec/internal/domain/circuitbreaker"
	domquarantine "github.com/ladybird/contentsec/internal/domain/quarantine"
	"github.com/ladybird/contentsec/internal/domain/scan/workerpool"
	"github.com/ladybird/contentsec/internal/domain/traffic/detector"
	"github.com/ladybird/contentsec/internal/telemetry"
)

// Core holds explicit handles to the four content-security subsystems,
// constructed once at process startup and passed by reference to every
// consumer (HTTP handlers, IPC dispatch, CLI commands). There are no
// package-level singletons; anything that needs a subsystem borrows it
// from here.
type Core struct {
	Tap         *SecurityTapService
	Quarantine  domquarantine.Store
	Traffic     *TrafficMonitorService
	PolicyGraph *PolicyGraphService
	Degradation *DegradationTracker

	store  *sqlitestore.Store
	logger *slog.Logger
}

// NewCore wires every subsystem from cfg. The caller owns the returned
// Core's lifetime and must call Close when done (it releases the sqlite
// connection the PolicyGraph subsystem holds).
//
// scheduler receives every InspectAsync completion callback and should be
// the embedding host's event-loop scheduler, so callbacks land on the
// event-loop goroutine rather than a scan worker. A nil scheduler falls
// back to workerpool.InlineScheduler{}, which runs callbacks inline on the
// worker goroutine -- only appropriate for hosts (like the CLI commands
// here) that use the synchronous Inspect path exclusively.
func NewCore(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, scheduler workerpool.Scheduler, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if scheduler == nil {
		scheduler = workerpool.InlineScheduler{}
	}

	degradation := NewDegradationTracker()
	degradation.Register(DegradationServiceDB)
	if metrics != nil {
		degradation.OnChange(DegradationServiceDB, func(_ string, h Health) {
			metrics.BreakerState.Set(float64(healthToGaugeValue(h)))
		})
	}
	if err := telemetry.RegisterHealthGauge(
		"contentsec.policy_graph.db_health",
		"Policy graph database health: 0 healthy, 1 degraded, 2 failed/critical",
		func() int64 { return int64(healthToGaugeValue(degradation.Health(DegradationServiceDB))) },
	); err != nil {
		logger.Warn("failed to register OTel health gauge", "error", err)
	}

	quarantineStore := quarantine.NewFilesystemStore(cfg.Quarantine.Dir, logger)
	if err := quarantineStore.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("core: initializing quarantine store: %w", err)
	}

	engine := sigengine.New(cfg.Scan.EngineSocketPath)
	tap := NewSecurityTapService(engine, scheduler, cfg.Scan.WorkerCount, slogLogger{l: logger})
	if err := tap.SetConfig(cfg.Scan.SizeConfig()); err != nil {
		return nil, fmt.Errorf("core: applying scan size config: %w", err)
	}

	store, err := sqlitestore.Open(ctx, cfg.PolicyGraph.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("core: opening policy graph store: %w", err)
	}

	breakerTimeout, err := time.ParseDuration(cfg.PolicyGraph.BreakerOpenTimeout)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("core: parsing policy_graph.breaker_open_timeout: %w", err)
	}
	breakerCfg := circuitbreaker.Config{
		FailureThreshold: cfg.PolicyGraph.BreakerFailThreshold,
		SuccessThreshold: cfg.PolicyGraph.BreakerSuccessThreshold,
		OpenTimeout:      breakerTimeout,
	}
	policyGraph := NewPolicyGraphService(store, cfg.PolicyGraph.CacheSize, breakerCfg, degradation, logger)

	// The monitor records every emitted alert into the policy graph's
	// threat history, so it is wired after the graph.
	traffic := NewTrafficMonitorService(
		detector.NewDGADetector(),
		detector.NewBeaconingDetector(),
		detector.NewExfiltrationDetector(),
		detector.NewDNSTunnelDetector(),
		cfg.Traffic.MaxPatterns,
		cfg.Traffic.AlertBufferCapacity,
		policyGraph,
		logger,
	)

	return &Core{
		Tap:         tap,
		Quarantine:  quarantineStore,
		Traffic:     traffic,
		PolicyGraph: policyGraph,
		Degradation: degradation,
		store:       store,
		logger:      logger,
	}, nil
}

// Close releases the PolicyGraph subsystem's sqlite connection.
func (c *Core) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func healthToGaugeValue(h Health) int {
	switch h {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	default:
		return 2
	}
}

// slogLogger adapts *slog.Logger onto the Logger interface consumed by
// SecurityTapService.
type slogLogger struct{ l *slog.Logger }

func (s slogLogger) Warn(msg string, kv ...any)  { s.l.Warn(msg, kv...) }
func (s slogLogger) Error(msg string, kv ...any) { s.l.Error(msg, kv...) }
