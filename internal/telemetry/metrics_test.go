package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.ScansTotal == nil || m.ScanDuration == nil || m.ThreatsDetected == nil {
		t.Fatal("SecurityTap metrics not initialized")
	}
	if m.QuarantineStored == nil || m.QuarantineFailures == nil {
		t.Fatal("Quarantine metrics not initialized")
	}
	if m.TrafficAlertsTotal == nil || m.DomainsTracked == nil {
		t.Fatal("TrafficMonitor metrics not initialized")
	}
	if m.PolicyDecisionsTotal == nil || m.BreakerState == nil {
		t.Fatal("PolicyGraph metrics not initialized")
	}
}

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ScansTotal.WithLabelValues("small").Inc()
	if got := testutil.ToFloat64(m.ScansTotal.WithLabelValues("small")); got != 1 {
		t.Errorf("ScansTotal = %v, want 1", got)
	}

	m.BreakerState.Set(2)
	if got := testutil.ToFloat64(m.BreakerState); got != 2 {
		t.Errorf("BreakerState = %v, want 2", got)
	}

	m.PolicyDecisionsTotal.WithLabelValues("block").Inc()
	gathered, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var family *dto.MetricFamily
	for _, mf := range gathered {
		if mf.GetName() == "contentsec_policy_decisions_total" {
			family = mf
		}
	}
	if family == nil {
		t.Fatal("expected contentsec_policy_decisions_total in gathered metrics")
	}
	if got := family.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("policy_decisions_total counter = %v, want 1", got)
	}
}
