package service

import (
	"log/slog"

	"github.com/ladybird/contentsec/internal/domain/circuitbreaker"
	"github.com/ladybird/contentsec/internal/domain/errs"
	"github.com/ladybird/contentsec/internal/domain/policygraph"
)

// DegradationServiceDB is the name PolicyGraphService registers with a
// DegradationTracker for its database dependency.
const DegradationServiceDB = "policygraph.database"

// PolicyGraphService implements policygraph.Graph as a
// cache-then-breaker-then-store call chain: the decision cache absorbs
// repeat lookups, the circuit breaker guards the underlying store, and
// every outcome feeds the shared degradation tracker.
type PolicyGraphService struct {
	store       policygraph.Graph
	cache       *DecisionCache
	breaker     *circuitbreaker.Breaker
	degradation *DegradationTracker
	logger      *slog.Logger
}

// NewPolicyGraphService wires store behind a circuit breaker and decision
// cache. degradation may be nil, in which case a private tracker is
// created (callers who want cross-subsystem visibility should share one).
func NewPolicyGraphService(store policygraph.Graph, cacheSize int, breakerCfg circuitbreaker.Config, degradation *DegradationTracker, logger *slog.Logger) *PolicyGraphService {
	if logger == nil {
		logger = slog.Default()
	}
	if degradation == nil {
		degradation = NewDegradationTracker()
	}
	degradation.Register(DegradationServiceDB)
	return &PolicyGraphService{
		store:       store,
		cache:       NewDecisionCache(cacheSize),
		breaker:     circuitbreaker.New(breakerCfg),
		degradation: degradation,
		logger:      logger,
	}
}

// MatchPolicy consults the cache, falls through to the breaker-guarded
// store on miss, and populates the cache with the (possibly absent)
// result. When the circuit is open, it falls back to "no policy"
// (Warn/no-match is the caller's safe default) rather than propagating
// KindCircuitOpen to a caller that cannot usefully retry mid-download.
func (s *PolicyGraphService) MatchPolicy(meta policygraph.ThreatMetadata) (*policygraph.Policy, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	key := CacheKeyHash(policygraph.CacheKey{URL: meta.URL, FileHash: meta.SHA256, MIME: meta.MIMEType, RuleName: meta.RuleName})
	if cached, ok := s.cache.Get(key); ok {
		return cached.Policy, nil
	}

	var result *policygraph.Policy
	err := s.breaker.Do(func() error {
		p, err := s.store.MatchPolicy(meta)
		if err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		s.degradation.RecordFailure(DegradationServiceDB)
		if errs.Is(err, errs.KindCircuitOpen) {
			s.logger.Warn("Security: policy graph circuit open, falling back to no-match", "url", meta.URL)
			return nil, nil
		}
		s.logger.Error("Security: policy graph match failed", "error", err)
		return nil, err
	}
	s.degradation.RecordSuccess(DegradationServiceDB)

	s.cache.Put(key, OptionalPolicy{Present: true, Policy: result})
	return result, nil
}

// RecordThreat appends a threat-history record, guarded by the same
// circuit breaker as MatchPolicy (both share the underlying database
// connection).
func (s *PolicyGraphService) RecordThreat(meta policygraph.ThreatMetadata, decision policygraph.Action, matchedPolicyID string, metadataJSON string) (string, error) {
	if err := meta.Validate(); err != nil {
		return "", err
	}
	var id string
	err := s.breaker.Do(func() error {
		recordID, err := s.store.RecordThreat(meta, decision, matchedPolicyID, metadataJSON)
		if err != nil {
			return err
		}
		id = recordID
		return nil
	})
	if err != nil {
		s.degradation.RecordFailure(DegradationServiceDB)
		if errs.Is(err, errs.KindCircuitOpen) {
			s.logger.Warn("Security: policy graph circuit open, threat record dropped", "url", meta.URL)
			return "", err
		}
		s.logger.Error("Security: record threat failed", "error", err)
		return "", err
	}
	s.degradation.RecordSuccess(DegradationServiceDB)
	return id, nil
}

// InvalidateCache clears cached decisions; callers invoke this after an
// admin writes a new policy, since a stale "known absent" cache entry
// would otherwise mask it until eviction.
func (s *PolicyGraphService) InvalidateCache() {
	s.cache.Invalidate()
}

// CacheStats exposes the decision cache's hit/miss/eviction counters.
func (s *PolicyGraphService) CacheStats() CacheStats {
	return s.cache.Stats()
}

// BreakerStats exposes the circuit breaker's observable state.
func (s *PolicyGraphService) BreakerStats() circuitbreaker.Stats {
	return s.breaker.Snapshot()
}

// Degradation exposes the shared degradation tracker for callers that
// register their own dependencies (scanner, IPC, cache) alongside the
// database.
func (s *PolicyGraphService) Degradation() *DegradationTracker {
	return s.degradation
}

var _ policygraph.Graph = (*PolicyGraphService)(nil)
