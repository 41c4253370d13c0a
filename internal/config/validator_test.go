package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid Config for testing, with
// defaults applied so every required sub-field is populated.
func minimalValidConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_QuarantineDirMustBeAbsolute(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Quarantine.Dir = "relative/quarantine"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for relative quarantine dir, got nil")
	}
	if !strings.Contains(err.Error(), "quarantine.dir") {
		t.Errorf("error = %q, want to contain 'quarantine.dir'", err.Error())
	}
}

func TestValidate_PolicyGraphDSNAcceptsMemory(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.PolicyGraph.DSN = ":memory:"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with :memory: DSN unexpected error: %v", err)
	}
}

func TestValidate_PolicyGraphDSNRejectsRelativePath(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.PolicyGraph.DSN = "relative/policy.db"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for relative policy_graph.dsn, got nil")
	}
	if !strings.Contains(err.Error(), "policy_graph.dsn") {
		t.Errorf("error = %q, want to contain 'policy_graph.dsn'", err.Error())
	}
}

func TestValidate_ScanSizeOrderingViolation(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Scan.MediumMaxBytes = cfg.Scan.SmallMaxBytes - 1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for inverted small/medium thresholds, got nil")
	}
	if !strings.Contains(err.Error(), "scan:") {
		t.Errorf("error = %q, want to contain 'scan:'", err.Error())
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Telemetry.LogLevel = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "LogLevel") {
		t.Errorf("error = %q, want to contain 'LogLevel'", err.Error())
	}
}

func TestValidate_InvalidWorkerCount(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Scan.WorkerCount = 64

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for worker count above max, got nil")
	}
}

func TestValidate_ZeroConfig(t *testing.T) {
	t.Parallel()

	// Simulate an operator starting the host process with no config file at
	// all: defaults must be sufficient to pass validation.
	cfg := &Config{}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() zero-config unexpected error: %v", err)
	}
}
