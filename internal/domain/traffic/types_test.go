package traffic

import (
	"testing"
	"time"
)

func TestRecordBoundsTimestampHistory(t *testing.T) {
	p := &ConnectionPattern{Domain: "example.com"}
	base := time.Now()
	for i := 0; i < maxTrackedRequestTimes+50; i++ {
		p.Record(base.Add(time.Duration(i)*time.Second), 1, 1)
	}

	if len(p.RequestTimes) != maxTrackedRequestTimes {
		t.Fatalf("expected timestamp history capped at %d, got %d", maxTrackedRequestTimes, len(p.RequestTimes))
	}
	if p.RequestCount != maxTrackedRequestTimes+50 {
		t.Fatalf("expected RequestCount to keep counting every observation, got %d", p.RequestCount)
	}
	// The retained window must be the newest entries, still ascending.
	want := base.Add(50 * time.Second)
	if !p.RequestTimes[0].Equal(want) {
		t.Fatalf("expected oldest retained timestamp %v, got %v", want, p.RequestTimes[0])
	}
	for i := 1; i < len(p.RequestTimes); i++ {
		if p.RequestTimes[i].Before(p.RequestTimes[i-1]) {
			t.Fatalf("timestamps out of order at index %d", i)
		}
	}
}

func TestReadyForAnalysisGating(t *testing.T) {
	now := time.Now()
	p := &ConnectionPattern{Domain: "example.com", RequestCount: 4}
	if p.ReadyForAnalysis(now) {
		t.Fatal("expected not ready below the request-count threshold")
	}

	p.RequestCount = 5
	if !p.ReadyForAnalysis(now) {
		t.Fatal("expected ready at the threshold when never analysed")
	}

	p.HasBeenAnalyzed = true
	p.LastAnalyzed = now.Add(-299 * time.Second)
	if p.ReadyForAnalysis(now) {
		t.Fatal("expected not ready inside the cooldown")
	}
	p.LastAnalyzed = now.Add(-300 * time.Second)
	if !p.ReadyForAnalysis(now) {
		t.Fatal("expected ready once the cooldown has elapsed")
	}
}

func TestValidateDomain(t *testing.T) {
	if err := ValidateDomain(""); err == nil {
		t.Fatal("expected error for empty domain")
	}
	if err := ValidateDomain("example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
