package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ladybird/contentsec/internal/config"
)

func testCoreConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Quarantine.Dir = filepath.Join(t.TempDir(), "quarantine")
	cfg.PolicyGraph.DSN = ":memory:"
	return cfg
}

func TestNewCoreWiresAllSubsystems(t *testing.T) {
	cfg := testCoreConfig(t)

	core, err := NewCore(context.Background(), cfg, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	defer core.Close()

	if core.Tap == nil || core.Quarantine == nil || core.Traffic == nil || core.PolicyGraph == nil {
		t.Fatal("expected every subsystem handle to be non-nil")
	}
	if core.Degradation.Health(DegradationServiceDB) != HealthHealthy {
		t.Fatalf("expected a freshly wired db dependency to be healthy, got %v", core.Degradation.Health(DegradationServiceDB))
	}
}

func TestNewCoreRejectsInvalidBreakerTimeout(t *testing.T) {
	cfg := testCoreConfig(t)
	cfg.PolicyGraph.BreakerOpenTimeout = "not-a-duration"

	if _, err := NewCore(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected an error for an unparseable breaker_open_timeout")
	}
}
