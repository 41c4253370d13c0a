package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ladybird/contentsec/internal/domain/circuitbreaker"
	"github.com/ladybird/contentsec/internal/domain/policygraph"
)

// fakeGraph is an in-memory policygraph.Graph double that counts calls and
// can be made to fail on demand, for exercising PolicyGraphService's cache
// and circuit-breaker wiring without a real database.
type fakeGraph struct {
	calls   int
	failing bool
	policy  *policygraph.Policy
}

func (f *fakeGraph) MatchPolicy(meta policygraph.ThreatMetadata) (*policygraph.Policy, error) {
	f.calls++
	if f.failing {
		return nil, errors.New("simulated db failure")
	}
	return f.policy, nil
}

func (f *fakeGraph) RecordThreat(meta policygraph.ThreatMetadata, decision policygraph.Action, matchedPolicyID, metadataJSON string) (string, error) {
	f.calls++
	if f.failing {
		return "", errors.New("simulated db failure")
	}
	return "rec-1", nil
}

func testMeta() policygraph.ThreatMetadata {
	return policygraph.ThreatMetadata{
		URL:      "http://example.com/a.txt",
		Filename: "a.txt",
		SHA256:   strings.Repeat("0", 64),
		MIMEType: "text/plain",
		FileSize: 1024,
	}
}

func TestPolicyGraphServiceCachesMatchPolicy(t *testing.T) {
	fg := &fakeGraph{policy: &policygraph.Policy{ID: "p1", Action: policygraph.ActionBlock}}
	svc := NewPolicyGraphService(fg, 100, circuitbreaker.DefaultConfig(), nil, nil)

	p1, err := svc.MatchPolicy(testMeta())
	if err != nil || p1 == nil || p1.ID != "p1" {
		t.Fatalf("unexpected result: %+v, %v", p1, err)
	}
	p2, err := svc.MatchPolicy(testMeta())
	if err != nil || p2 == nil || p2.ID != "p1" {
		t.Fatalf("unexpected cached result: %+v, %v", p2, err)
	}
	if fg.calls != 1 {
		t.Fatalf("expected exactly 1 store call (second served from cache), got %d", fg.calls)
	}
	if svc.CacheStats().Hits != 1 {
		t.Fatalf("expected 1 cache hit, got %d", svc.CacheStats().Hits)
	}
}

func TestPolicyGraphServiceTripsBreakerAndFallsBackToNoMatch(t *testing.T) {
	fg := &fakeGraph{failing: true}
	cfg := circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute}
	svc := NewPolicyGraphService(fg, 100, cfg, nil, nil)

	for i := 0; i < 2; i++ {
		// Distinct URLs avoid the decision cache masking repeated store calls.
		meta := testMeta()
		meta.URL = testMeta().URL + string(rune('a'+i))
		if _, err := svc.MatchPolicy(meta); err == nil {
			t.Fatal("expected an error while the store is failing")
		}
	}
	if svc.Degradation().Health(DegradationServiceDB) == HealthHealthy {
		t.Fatal("expected db dependency to be marked unhealthy after repeated failures")
	}

	// Breaker is now Open; MatchPolicy should fail open (no error, no match)
	// rather than surfacing KindCircuitOpen to the caller.
	p, err := svc.MatchPolicy(testMeta())
	if err != nil {
		t.Fatalf("expected fail-open (nil error) once the breaker is open, got %v", err)
	}
	if p != nil {
		t.Fatalf("expected no policy match while breaker is open, got %+v", p)
	}
}

func TestPolicyGraphServiceRecordThreat(t *testing.T) {
	fg := &fakeGraph{}
	svc := NewPolicyGraphService(fg, 100, circuitbreaker.DefaultConfig(), nil, nil)

	id, err := svc.RecordThreat(testMeta(), policygraph.ActionQuarantine, "", `{"rule":"x"}`)
	if err != nil {
		t.Fatalf("RecordThreat: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty record id")
	}
}

func TestPolicyGraphServiceRejectsInvalidMetadata(t *testing.T) {
	fg := &fakeGraph{}
	svc := NewPolicyGraphService(fg, 100, circuitbreaker.DefaultConfig(), nil, nil)

	if _, err := svc.MatchPolicy(policygraph.ThreatMetadata{}); err == nil {
		t.Fatal("expected validation error for empty metadata")
	}
}
