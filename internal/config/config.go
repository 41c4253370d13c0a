// Package config provides the configuration schema for the content-security
// core host process: SecurityTap's size-tier thresholds, the quarantine
// directory and retry tuning, TrafficMonitor's caps, PolicyGraph's storage
// and circuit breaker tuning, and telemetry export settings.
package config

import (
	"os"
	"path/filepath"

	"github.com/ladybird/contentsec/internal/domain/scan"
)

// Config is the top-level configuration for the content-security core host
// process.
type Config struct {
	// Scan configures SecurityTap's size-tier dispatcher and worker pool.
	Scan ScanConfig `yaml:"scan" mapstructure:"scan"`

	// Quarantine configures the on-disk quarantine store.
	Quarantine QuarantineConfig `yaml:"quarantine" mapstructure:"quarantine"`

	// Traffic configures TrafficMonitor's pattern/alert caps.
	Traffic TrafficConfig `yaml:"traffic" mapstructure:"traffic"`

	// PolicyGraph configures the sqlite-backed policy/threat store, its
	// decision cache, and the circuit breaker guarding it.
	PolicyGraph PolicyGraphConfig `yaml:"policy_graph" mapstructure:"policy_graph"`

	// Telemetry configures structured logging level and the Prometheus/OTel
	// exporters.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables verbose logging and permissive defaults.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ScanConfig mirrors internal/domain/scan.SizeConfig plus worker pool and
// signature-engine connection settings. Of the pool settings only
// WorkerCount is applied; QueueCapacity and ScanTimeout are defaulted but
// not read, and the pool always uses a 100-entry queue and a 60s timeout.
type ScanConfig struct {
	SmallMaxBytes     int64  `yaml:"small_max_bytes" mapstructure:"small_max_bytes" validate:"omitempty,gt=0"`
	MediumMaxBytes    int64  `yaml:"medium_max_bytes" mapstructure:"medium_max_bytes" validate:"omitempty,gt=0"`
	MaxScanBytes      int64  `yaml:"max_scan_bytes" mapstructure:"max_scan_bytes" validate:"omitempty,gt=0"`
	ChunkSizeBytes    int64  `yaml:"chunk_size_bytes" mapstructure:"chunk_size_bytes" validate:"omitempty,gt=0"`
	ChunkOverlapBytes int64  `yaml:"chunk_overlap_bytes" mapstructure:"chunk_overlap_bytes" validate:"omitempty,gte=0"`
	LargeScanBytes    int64  `yaml:"large_scan_bytes" mapstructure:"large_scan_bytes" validate:"omitempty,gt=0"`
	WorkerCount       int    `yaml:"worker_count" mapstructure:"worker_count" validate:"omitempty,min=1,max=16"`
	QueueCapacity     int    `yaml:"queue_capacity" mapstructure:"queue_capacity" validate:"omitempty,min=1"`
	ScanTimeout       string `yaml:"scan_timeout" mapstructure:"scan_timeout" validate:"omitempty"`
	// EngineSocketPath is the path to the local stream socket the external
	// signature engine listens on.
	EngineSocketPath string `yaml:"engine_socket_path" mapstructure:"engine_socket_path" validate:"omitempty"`
}

// QuarantineConfig configures the quarantine directory and its retry
// discipline.
type QuarantineConfig struct {
	// Dir is the quarantine directory path. Defaults to
	// "<user-data>/Ladybird/Quarantine".
	Dir string `yaml:"dir" mapstructure:"dir"`
	// DeleteRetryInitial defaults to "100ms" but is not read by the
	// quarantine store: .bin deletion always uses the fixed 100/200/400ms
	// schedule of retry.DeleteBackoffPolicy.
	DeleteRetryInitial string `yaml:"delete_retry_initial" mapstructure:"delete_retry_initial" validate:"omitempty"`
}

// TrafficConfig configures TrafficMonitor's pattern and alert caps.
// MinRequestsToAnalyse and AnalysisCooldown are defaulted but not read;
// the monitor always gates analysis on 5 requests and a 300s cooldown.
type TrafficConfig struct {
	MaxPatterns          int    `yaml:"max_patterns" mapstructure:"max_patterns" validate:"omitempty,min=1"`
	AlertBufferCapacity  int    `yaml:"alert_buffer_capacity" mapstructure:"alert_buffer_capacity" validate:"omitempty,min=1"`
	MinRequestsToAnalyse int    `yaml:"min_requests_to_analyse" mapstructure:"min_requests_to_analyse" validate:"omitempty,min=1"`
	AnalysisCooldown     string `yaml:"analysis_cooldown" mapstructure:"analysis_cooldown" validate:"omitempty"`
}

// PolicyGraphConfig configures the sqlite DSN, decision cache size, and
// circuit breaker tuning.
type PolicyGraphConfig struct {
	// DSN is the modernc.org/sqlite data source, e.g. a filesystem path or
	// ":memory:" for tests.
	DSN                 string `yaml:"dsn" mapstructure:"dsn" validate:"omitempty"`
	CacheSize            int    `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,min=1"`
	BreakerFailThreshold int    `yaml:"breaker_fail_threshold" mapstructure:"breaker_fail_threshold" validate:"omitempty,min=1"`
	BreakerSuccessThreshold int `yaml:"breaker_success_threshold" mapstructure:"breaker_success_threshold" validate:"omitempty,min=1"`
	BreakerOpenTimeout   string `yaml:"breaker_open_timeout" mapstructure:"breaker_open_timeout" validate:"omitempty"`
}

// TelemetryConfig configures structured logging and metrics/tracing
// exporters.
type TelemetryConfig struct {
	LogLevel         string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	MetricsAddr      string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	OTelExporter     string `yaml:"otel_exporter" mapstructure:"otel_exporter" validate:"omitempty,oneof=stdout none"`
}

// SetDefaults fills in every field the operator leaves unset.
func (c *Config) SetDefaults() {
	const mib = 1024 * 1024

	if c.Scan.SmallMaxBytes == 0 {
		c.Scan.SmallMaxBytes = 10 * mib
	}
	if c.Scan.MediumMaxBytes == 0 {
		c.Scan.MediumMaxBytes = 100 * mib
	}
	if c.Scan.MaxScanBytes == 0 {
		c.Scan.MaxScanBytes = 200 * mib
	}
	if c.Scan.ChunkSizeBytes == 0 {
		c.Scan.ChunkSizeBytes = 1 * mib
	}
	if c.Scan.ChunkOverlapBytes == 0 {
		c.Scan.ChunkOverlapBytes = 4 * 1024
	}
	if c.Scan.LargeScanBytes == 0 {
		c.Scan.LargeScanBytes = 10 * mib
	}
	if c.Scan.WorkerCount == 0 {
		c.Scan.WorkerCount = 4
	}
	if c.Scan.QueueCapacity == 0 {
		c.Scan.QueueCapacity = 100
	}
	if c.Scan.ScanTimeout == "" {
		c.Scan.ScanTimeout = "60s"
	}
	if c.Scan.EngineSocketPath == "" {
		c.Scan.EngineSocketPath = "/run/ladybird/signature-engine.sock"
	}

	if c.Quarantine.Dir == "" {
		c.Quarantine.Dir = defaultQuarantineDir()
	}
	if c.Quarantine.DeleteRetryInitial == "" {
		c.Quarantine.DeleteRetryInitial = "100ms"
	}

	if c.Traffic.MaxPatterns == 0 {
		c.Traffic.MaxPatterns = 500
	}
	if c.Traffic.AlertBufferCapacity == 0 {
		c.Traffic.AlertBufferCapacity = 100
	}
	if c.Traffic.MinRequestsToAnalyse == 0 {
		c.Traffic.MinRequestsToAnalyse = 5
	}
	if c.Traffic.AnalysisCooldown == "" {
		c.Traffic.AnalysisCooldown = "300s"
	}

	if c.PolicyGraph.DSN == "" {
		c.PolicyGraph.DSN = defaultPolicyGraphDSN()
	}
	if c.PolicyGraph.CacheSize == 0 {
		c.PolicyGraph.CacheSize = 1000
	}
	if c.PolicyGraph.BreakerFailThreshold == 0 {
		c.PolicyGraph.BreakerFailThreshold = 5
	}
	if c.PolicyGraph.BreakerSuccessThreshold == 0 {
		c.PolicyGraph.BreakerSuccessThreshold = 3
	}
	if c.PolicyGraph.BreakerOpenTimeout == "" {
		c.PolicyGraph.BreakerOpenTimeout = "60s"
	}

	if c.Telemetry.LogLevel == "" {
		c.Telemetry.LogLevel = "info"
	}
	if c.Telemetry.MetricsAddr == "" {
		c.Telemetry.MetricsAddr = "127.0.0.1:9090"
	}
	if c.Telemetry.OTelExporter == "" {
		c.Telemetry.OTelExporter = "none"
	}

	if c.DevMode {
		c.Telemetry.LogLevel = "debug"
	}
}

// SizeConfig converts the loaded ScanConfig into the domain
// scan.SizeConfig consumed by SecurityTap's dispatcher.
func (s ScanConfig) SizeConfig() scan.SizeConfig {
	return scan.SizeConfig{
		SmallMaxBytes:     s.SmallMaxBytes,
		MediumMaxBytes:    s.MediumMaxBytes,
		MaxScanBytes:      s.MaxScanBytes,
		ChunkSizeBytes:    s.ChunkSizeBytes,
		ChunkOverlapBytes: s.ChunkOverlapBytes,
		LargeScanBytes:    s.LargeScanBytes,
	}
}

// defaultQuarantineDir returns "<user-data>/Ladybird/Quarantine" using the
// platform-standard user-config-directory lookup; no other environment
// state is consulted.
func defaultQuarantineDir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		base = "."
	}
	return filepath.Join(base, "Ladybird", "Quarantine")
}

// defaultPolicyGraphDSN returns a sqlite file path under the same
// user-data root as the quarantine directory.
func defaultPolicyGraphDSN() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		base = "."
	}
	return filepath.Join(base, "Ladybird", "policy_graph.db")
}
