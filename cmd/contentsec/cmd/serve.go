package cmd

import (
	"context"
	stdhttp "net/http"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ladybird/contentsec/internal/config"
	"github.com/ladybird/contentsec/internal/service"
	"github.com/ladybird/contentsec/internal/telemetry"
)

// shutdownGrace bounds how long the metrics server and tracing exporter get
// to flush on SIGINT/SIGTERM before serve returns anyway.
const shutdownGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the content-security core host process",
	Long: `Start SecurityTap, Quarantine, TrafficMonitor, and PolicyGraph,
serve Prometheus metrics on telemetry.metrics_addr, and block until
SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := telemetry.NewLogger(cfg.Telemetry.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry.OTelExporter)
	if err != nil {
		return err
	}
	shutdownOTelMetrics, err := telemetry.InitOTelMetrics(ctx, cfg.Telemetry.OTelExporter)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	// The CLI host has no event loop of its own and only drives the
	// synchronous scan path, so the inline scheduler fallback is fine here.
	core, err := service.NewCore(ctx, cfg, metrics, nil, logger)
	if err != nil {
		return err
	}
	defer core.Close()

	metricsSrv := &stdhttp.Server{
		Addr:    cfg.Telemetry.MetricsAddr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		logger.Info("serving metrics", "addr", cfg.Telemetry.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			logger.Error("metrics server exited", "error", err)
		}
	}()

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	logger.Info("content-security core started",
		"quarantine_dir", cfg.Quarantine.Dir,
		"policy_graph_dsn", cfg.PolicyGraph.DSN,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	_ = shutdownTracing(shutdownCtx)
	_ = shutdownOTelMetrics(shutdownCtx)

	return nil
}
