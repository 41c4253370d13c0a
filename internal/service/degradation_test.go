package service

import "testing"

func TestDegradationTrackerStartsHealthy(t *testing.T) {
	tr := NewDegradationTracker()
	if tr.Health("db") != HealthHealthy {
		t.Fatalf("expected unregistered service to report healthy, got %v", tr.Health("db"))
	}
	if tr.ShouldUseFallback("db") {
		t.Fatal("expected healthy service to not need fallback")
	}
}

func TestDegradationTrackerFailsThenCritical(t *testing.T) {
	tr := NewDegradationTracker()
	tr.Register("db")

	tr.RecordFailure("db")
	if tr.Health("db") != HealthFailed {
		t.Fatalf("expected Failed after first failure, got %v", tr.Health("db"))
	}
	tr.RecordFailure("db")
	if tr.Health("db") != HealthFailed {
		t.Fatalf("expected still Failed after second failure, got %v", tr.Health("db"))
	}
	tr.RecordFailure("db")
	if tr.Health("db") != HealthCritical {
		t.Fatalf("expected Critical after third consecutive failure, got %v", tr.Health("db"))
	}
	if !tr.ShouldUseFallback("db") {
		t.Fatal("expected Critical service to require fallback")
	}
}

func TestDegradationTrackerRecoveryFromCriticalIsGradual(t *testing.T) {
	tr := NewDegradationTracker()
	tr.Register("db")
	for i := 0; i < 3; i++ {
		tr.RecordFailure("db")
	}
	if tr.Health("db") != HealthCritical {
		t.Fatalf("expected Critical, got %v", tr.Health("db"))
	}

	tr.RecordSuccess("db")
	if tr.Health("db") != HealthFailed {
		t.Fatalf("expected a single success from Critical to only reach Failed, got %v", tr.Health("db"))
	}
	tr.RecordSuccess("db")
	if tr.Health("db") != HealthHealthy {
		t.Fatalf("expected sustained success to reach Healthy, got %v", tr.Health("db"))
	}
}

func TestDegradationTrackerCallbacksFireOnChange(t *testing.T) {
	tr := NewDegradationTracker()
	tr.Register("scanner")

	var transitions []Health
	tr.OnChange("scanner", func(service string, health Health) {
		transitions = append(transitions, health)
	})

	tr.RecordDegraded("scanner")
	tr.RecordDegraded("scanner") // no-op transition, should not re-fire
	tr.RecordSuccess("scanner")

	if len(transitions) != 2 {
		t.Fatalf("expected exactly 2 transitions (degraded, healthy), got %v", transitions)
	}
	if transitions[0] != HealthDegraded || transitions[1] != HealthHealthy {
		t.Fatalf("unexpected transition sequence: %v", transitions)
	}
}
