package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Scan.SmallMaxBytes != 10*1024*1024 {
		t.Errorf("Scan.SmallMaxBytes = %d, want %d", cfg.Scan.SmallMaxBytes, 10*1024*1024)
	}
	if cfg.Scan.WorkerCount != 4 {
		t.Errorf("Scan.WorkerCount = %d, want 4", cfg.Scan.WorkerCount)
	}
	if cfg.Quarantine.Dir == "" {
		t.Error("Quarantine.Dir should default to a non-empty path")
	}
	if cfg.Traffic.MaxPatterns != 500 {
		t.Errorf("Traffic.MaxPatterns = %d, want 500", cfg.Traffic.MaxPatterns)
	}
	if cfg.PolicyGraph.CacheSize != 1000 {
		t.Errorf("PolicyGraph.CacheSize = %d, want 1000", cfg.PolicyGraph.CacheSize)
	}
	if cfg.PolicyGraph.BreakerFailThreshold != 5 {
		t.Errorf("PolicyGraph.BreakerFailThreshold = %d, want 5", cfg.PolicyGraph.BreakerFailThreshold)
	}
	if cfg.Telemetry.LogLevel != "info" {
		t.Errorf("Telemetry.LogLevel = %q, want %q", cfg.Telemetry.LogLevel, "info")
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Scan:        ScanConfig{WorkerCount: 8},
		Quarantine:  QuarantineConfig{Dir: "/custom/quarantine"},
		PolicyGraph: PolicyGraphConfig{DSN: ":memory:", CacheSize: 42},
	}
	cfg.SetDefaults()

	if cfg.Scan.WorkerCount != 8 {
		t.Errorf("WorkerCount was overwritten: got %d, want 8", cfg.Scan.WorkerCount)
	}
	if cfg.Quarantine.Dir != "/custom/quarantine" {
		t.Errorf("Quarantine.Dir was overwritten: got %q", cfg.Quarantine.Dir)
	}
	if cfg.PolicyGraph.DSN != ":memory:" {
		t.Errorf("PolicyGraph.DSN was overwritten: got %q", cfg.PolicyGraph.DSN)
	}
	if cfg.PolicyGraph.CacheSize != 42 {
		t.Errorf("PolicyGraph.CacheSize was overwritten: got %d", cfg.PolicyGraph.CacheSize)
	}
}

func TestConfig_SetDefaults_DevModeForcesDebugLogging(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true}
	cfg.SetDefaults()

	if cfg.Telemetry.LogLevel != "debug" {
		t.Errorf("Telemetry.LogLevel = %q, want %q under dev mode", cfg.Telemetry.LogLevel, "debug")
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "contentsec.yaml")
	_ = os.WriteFile(cfgPath, []byte("scan:\n  worker_count: 8\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "contentsec.yml")
	_ = os.WriteFile(cfgPath, []byte("scan:\n  worker_count: 8\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "contentsec" with no extension.
	_ = os.WriteFile(filepath.Join(dir, "contentsec"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "contentsec.yaml")
	ymlPath := filepath.Join(dir, "contentsec.yml")
	_ = os.WriteFile(yamlPath, []byte("scan:\n  worker_count: 8\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("scan:\n  worker_count: 16\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
