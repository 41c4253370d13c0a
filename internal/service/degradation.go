package service

import (
	"sync"
)

// Health is one of Healthy, Degraded, Failed, or Critical.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthFailed   Health = "failed"
	HealthCritical Health = "critical"
)

// criticalThreshold is the number of consecutive recovery failures for the
// same service that promotes it to Critical.
const criticalThreshold = 3

// serviceState tracks one registered dependency's health and consecutive
// recovery-failure count.
type serviceState struct {
	health                Health
	consecutiveRecoveryFailures int
}

// DegradationTracker is the central registry every dependent subsystem
// (database, scanner, IPC, cache) registers with. Callers consult
// ShouldUseFallback before expensive operations; health changes fire
// registered callbacks.
type DegradationTracker struct {
	mu        sync.Mutex
	services  map[string]*serviceState
	callbacks map[string][]func(service string, health Health)
}

// NewDegradationTracker creates an empty tracker. Services are registered
// lazily via Register or implicitly on first RecordFailure/RecordSuccess
// call.
func NewDegradationTracker() *DegradationTracker {
	return &DegradationTracker{
		services:  make(map[string]*serviceState),
		callbacks: make(map[string][]func(service string, health Health)),
	}
}

// Register adds service to the tracker in the Healthy state if not already
// present. Idempotent.
func (t *DegradationTracker) Register(service string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getOrCreateLocked(service)
}

func (t *DegradationTracker) getOrCreateLocked(service string) *serviceState {
	s, ok := t.services[service]
	if !ok {
		s = &serviceState{health: HealthHealthy}
		t.services[service] = s
	}
	return s
}

// OnChange registers a callback fired whenever service's health changes.
// Callbacks are invoked synchronously, outside the tracker's lock, in
// registration order.
func (t *DegradationTracker) OnChange(service string, fn func(service string, health Health)) {
	t.mu.Lock()
	t.getOrCreateLocked(service)
	t.callbacks[service] = append(t.callbacks[service], fn)
	t.mu.Unlock()
}

// RecordFailure marks service as Failed (if it was Healthy or Degraded) and
// increments its consecutive-recovery-failure counter toward Critical. A
// failure while already Critical keeps it Critical.
func (t *DegradationTracker) RecordFailure(service string) {
	t.transition(service, func(s *serviceState) {
		s.consecutiveRecoveryFailures++
		switch {
		case s.consecutiveRecoveryFailures >= criticalThreshold:
			s.health = HealthCritical
		case s.health != HealthCritical:
			s.health = HealthFailed
		}
	})
}

// RecordDegraded marks service as Degraded (a soft failure short of a full
// outage, e.g. a slow but successful call).
func (t *DegradationTracker) RecordDegraded(service string) {
	t.transition(service, func(s *serviceState) {
		if s.health != HealthCritical {
			s.health = HealthDegraded
		}
	})
}

// RecordSuccess clears the failure counter and restores Healthy, unless
// the service is Critical, where recoveries must be sustained: a single
// success demotes Critical to Failed, not straight to Healthy, requiring a
// second consecutive success to fully recover.
func (t *DegradationTracker) RecordSuccess(service string) {
	t.transition(service, func(s *serviceState) {
		switch s.health {
		case HealthCritical:
			s.health = HealthFailed
			s.consecutiveRecoveryFailures = 0
		default:
			s.health = HealthHealthy
			s.consecutiveRecoveryFailures = 0
		}
	})
}

func (t *DegradationTracker) transition(service string, mutate func(*serviceState)) {
	t.mu.Lock()
	s := t.getOrCreateLocked(service)
	before := s.health
	mutate(s)
	after := s.health
	var cbs []func(string, Health)
	if before != after {
		cbs = append(cbs, t.callbacks[service]...)
	}
	t.mu.Unlock()

	for _, cb := range cbs {
		cb(service, after)
	}
}

// Health returns service's current health. Unregistered services report
// Healthy (the zero state).
func (t *DegradationTracker) Health(service string) Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.services[service]; ok {
		return s.health
	}
	return HealthHealthy
}

// ShouldUseFallback reports whether callers should route around service
// rather than issue an expensive operation against it: true for Degraded,
// Failed, or Critical.
func (t *DegradationTracker) ShouldUseFallback(service string) bool {
	return t.Health(service) != HealthHealthy
}

// Snapshot returns a copy of every registered service's current health,
// for telemetry/admin surfaces.
func (t *DegradationTracker) Snapshot() map[string]Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Health, len(t.services))
	for name, s := range t.services {
		out[name] = s.health
	}
	return out
}
