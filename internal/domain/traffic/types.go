// Package traffic contains the domain types for TrafficMonitor: the
// per-domain connection pattern, alert shape, and the Monitor port. Not
// thread-safe by design; everything here is owned by the event-loop
// goroutine.
package traffic

import (
	"time"

	"github.com/ladybird/contentsec/internal/domain/errs"
)

const (
	minRequestsToAnalyse = 5
	analysisCooldown     = 300 * time.Second

	// maxTrackedRequestTimes bounds the per-pattern timestamp history.
	// Only the most recent window matters for interval regularity, so a
	// long-lived beaconing domain does not grow memory without limit.
	maxTrackedRequestTimes = 100
)

// AlertType classifies a TrafficAlert.
type AlertType int

const (
	AlertDGA AlertType = iota
	AlertBeaconing
	AlertExfiltration
	AlertDNSTunnel
	AlertCombined
)

func (a AlertType) String() string {
	switch a {
	case AlertDGA:
		return "dga"
	case AlertBeaconing:
		return "beaconing"
	case AlertExfiltration:
		return "exfiltration"
	case AlertDNSTunnel:
		return "dns_tunnel"
	case AlertCombined:
		return "combined"
	default:
		return "unknown"
	}
}

// TrafficAlert is the outcome of Analyse finding a composite score at or
// above the alert threshold. Explanation and Indicators exist so a
// downstream consumer (admin UI, audit log) can show a human why the alert
// fired without re-deriving it from the component scores.
type TrafficAlert struct {
	Domain      string
	Type        AlertType
	Score       float64
	DGAScore    float64
	BeaconScore float64
	ExfilScore  float64
	DNSScore    float64
	Explanation string
	Indicators  []string
	At          time.Time
}

// ConnectionPattern accumulates per-domain observations between Analyse
// calls. All fields are owned exclusively by the event-loop thread.
type ConnectionPattern struct {
	Domain          string
	RequestCount    int
	BytesSent       int64
	BytesReceived   int64
	RequestTimes    []time.Time
	LastAnalyzed    time.Time
	HasBeenAnalyzed bool
}

// ReadyForAnalysis reports whether this pattern satisfies the gating rule:
// at least minRequestsToAnalyse observations, and either never analysed
// before or at least analysisCooldown since the last run.
func (p *ConnectionPattern) ReadyForAnalysis(now time.Time) bool {
	if p.RequestCount < minRequestsToAnalyse {
		return false
	}
	if !p.HasBeenAnalyzed {
		return true
	}
	return now.Sub(p.LastAnalyzed) >= analysisCooldown
}

// Record appends one observation. domain must be non-empty; validated by
// the caller (Monitor.Record), not here. The timestamp history keeps only
// the newest maxTrackedRequestTimes entries; RequestCount still counts
// every observation.
func (p *ConnectionPattern) Record(now time.Time, bytesSent, bytesReceived int64) {
	p.RequestCount++
	p.BytesSent += bytesSent
	p.BytesReceived += bytesReceived
	p.RequestTimes = append(p.RequestTimes, now)
	if len(p.RequestTimes) > maxTrackedRequestTimes {
		n := copy(p.RequestTimes, p.RequestTimes[len(p.RequestTimes)-maxTrackedRequestTimes:])
		p.RequestTimes = p.RequestTimes[:n]
	}
}

// ValidateDomain rejects an empty domain.
func ValidateDomain(domain string) error {
	if domain == "" {
		return errs.Field(errs.KindInvalidInput, "domain", "must not be empty")
	}
	return nil
}

// Monitor is the public contract for TrafficMonitor.
type Monitor interface {
	Record(domain string, bytesSent, bytesReceived int64) error
	Analyse(domain string) (*TrafficAlert, error)
	RecentAlerts(maxCount int) []TrafficAlert
}
