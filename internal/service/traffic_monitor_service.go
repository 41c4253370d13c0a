package service

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ladybird/contentsec/internal/domain/policygraph"
	"github.com/ladybird/contentsec/internal/domain/traffic"
	"github.com/ladybird/contentsec/internal/domain/traffic/detector"
)

const (
	defaultMaxTrafficPatterns = 500
	defaultAlertBufferCap     = 100
)

// TrafficMonitorService implements traffic.Monitor. It is accessed only
// from the event-loop goroutine and therefore carries no internal locking.
type TrafficMonitorService struct {
	patterns    map[string]*traffic.ConnectionPattern
	maxPatterns int

	alerts     []traffic.TrafficAlert
	alertHead  int
	alertCount int

	dga    *detector.DGADetector
	beacon *detector.BeaconingDetector
	exfil  *detector.ExfiltrationDetector
	dns    *detector.DNSTunnelDetector

	graph  policygraph.Graph
	logger *slog.Logger

	now func() time.Time
}

var _ traffic.Monitor = (*TrafficMonitorService)(nil)

// NewTrafficMonitorService constructs a service with all four detectors
// enabled. Pass nil for any detector the caller could not initialise; a
// missing detector contributes score 0 rather than disabling the monitor.
// maxPatterns and alertBufferCapacity fall back to 500 and 100 when zero,
// matching the configuration layer's own defaults. graph, if non-nil,
// receives a threat-history record for every emitted alert; recording
// failures are logged and never block alert emission.
func NewTrafficMonitorService(dga *detector.DGADetector, beacon *detector.BeaconingDetector, exfil *detector.ExfiltrationDetector, dns *detector.DNSTunnelDetector, maxPatterns, alertBufferCapacity int, graph policygraph.Graph, logger *slog.Logger) *TrafficMonitorService {
	if maxPatterns <= 0 {
		maxPatterns = defaultMaxTrafficPatterns
	}
	if alertBufferCapacity <= 0 {
		alertBufferCapacity = defaultAlertBufferCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TrafficMonitorService{
		patterns:    make(map[string]*traffic.ConnectionPattern),
		maxPatterns: maxPatterns,
		alerts:      make([]traffic.TrafficAlert, alertBufferCapacity),
		dga:         dga,
		beacon:      beacon,
		exfil:       exfil,
		dns:         dns,
		graph:       graph,
		logger:      logger,
		now:         time.Now,
	}
}

// Record finds or inserts the pattern for domain and appends one
// observation, evicting the oldest-last-analysed pattern if the map would
// exceed its configured cap (500 entries by default).
func (s *TrafficMonitorService) Record(domain string, bytesSent, bytesReceived int64) error {
	if err := traffic.ValidateDomain(domain); err != nil {
		return err
	}

	now := s.now()
	p, ok := s.patterns[domain]
	if !ok {
		if len(s.patterns) >= s.maxPatterns {
			s.evictOldest()
		}
		p = &traffic.ConnectionPattern{Domain: domain}
		s.patterns[domain] = p
	}
	p.Record(now, bytesSent, bytesReceived)
	return nil
}

func (s *TrafficMonitorService) evictOldest() {
	var oldestDomain string
	var oldestTime time.Time
	first := true
	for d, p := range s.patterns {
		if first || p.LastAnalyzed.Before(oldestTime) {
			oldestDomain = d
			oldestTime = p.LastAnalyzed
			first = false
		}
	}
	if oldestDomain != "" {
		delete(s.patterns, oldestDomain)
	}
}

// Analyse returns at most one alert for domain, applying the gating rule
// (pattern exists, request count >= 5, cooldown elapsed) and the weighted
// composite of the four detector scores.
func (s *TrafficMonitorService) Analyse(domain string) (*traffic.TrafficAlert, error) {
	if err := traffic.ValidateDomain(domain); err != nil {
		return nil, err
	}

	p, ok := s.patterns[domain]
	if !ok {
		return nil, nil
	}

	now := s.now()
	if !p.ReadyForAnalysis(now) {
		return nil, nil
	}
	p.LastAnalyzed = now
	p.HasBeenAnalyzed = true

	dgaScore := s.scoreDGA(domain)
	beaconScore := s.scoreBeaconing(p.RequestTimes)
	exfilScore := s.scoreExfiltration(p.BytesSent, p.BytesReceived)
	dnsScore := s.scoreDNSTunnel(domain)

	composite := 0.3*dgaScore + 0.3*beaconScore + 0.2*exfilScore + 0.2*dnsScore
	if composite < compositeAlertThreshold {
		return nil, nil
	}

	alertType := classifyAlertType(dgaScore, beaconScore, exfilScore, dnsScore)
	indicators := buildIndicators(dgaScore, beaconScore, exfilScore, dnsScore)
	alert := traffic.TrafficAlert{
		Domain:      domain,
		Type:        alertType,
		Score:       composite,
		DGAScore:    dgaScore,
		BeaconScore: beaconScore,
		ExfilScore:  exfilScore,
		DNSScore:    dnsScore,
		Explanation: buildExplanation(composite, indicators),
		Indicators:  indicators,
		At:          now,
	}
	s.appendAlert(alert)
	s.recordAlert(alert)
	return &alert, nil
}

// recordAlert persists an emitted alert into the policy graph's threat
// history so behavioural detections sit alongside scan verdicts. The
// record carries the composite score as severity and the component scores
// as metadata; a recording failure must never suppress the alert itself.
func (s *TrafficMonitorService) recordAlert(a traffic.TrafficAlert) {
	if s.graph == nil {
		return
	}

	detail, err := json.Marshal(map[string]any{
		"explanation": a.Explanation,
		"indicators":  a.Indicators,
		"dga":         a.DGAScore,
		"beaconing":   a.BeaconScore,
		"exfiltration": a.ExfilScore,
		"dns_tunnel":  a.DNSScore,
	})
	if err != nil {
		s.logger.Warn("Security: failed to encode traffic alert detail", "domain", a.Domain, "error", err)
		detail = []byte("{}")
	}

	meta := policygraph.ThreatMetadata{
		URL:      a.Domain,
		Filename: a.Domain,
		RuleName: "traffic_" + a.Type.String(),
		Severity: a.Score,
	}
	if _, err := s.graph.RecordThreat(meta, policygraph.ActionWarnUser, "", string(detail)); err != nil {
		s.logger.Warn("Security: failed to record traffic alert in policy graph", "domain", a.Domain, "error", err)
	}
}

const compositeAlertThreshold = 0.7
const componentHighThreshold = 0.7

func classifyAlertType(dga, beacon, exfil, dns float64) traffic.AlertType {
	above := 0
	if dga > componentHighThreshold {
		above++
	}
	if beacon > componentHighThreshold {
		above++
	}
	if exfil > componentHighThreshold {
		above++
	}
	if dns > componentHighThreshold {
		above++
	}
	if above >= 2 {
		return traffic.AlertCombined
	}

	best := dga
	bestType := traffic.AlertDGA
	if beacon > best {
		best = beacon
		bestType = traffic.AlertBeaconing
	}
	if exfil > best {
		best = exfil
		bestType = traffic.AlertExfiltration
	}
	if dns > best {
		best = dns
		bestType = traffic.AlertDNSTunnel
	}
	return bestType
}

// buildIndicators names every component that crossed componentHighThreshold,
// in the fixed dga/beaconing/exfiltration/dns_tunnel order. If none did
// (the composite alone crossed compositeAlertThreshold), it falls back to
// naming just the highest-scoring component so an alert is never left
// without at least one indicator.
func buildIndicators(dga, beacon, exfil, dns float64) []string {
	var indicators []string
	if dga > componentHighThreshold {
		indicators = append(indicators, "dga")
	}
	if beacon > componentHighThreshold {
		indicators = append(indicators, "beaconing")
	}
	if exfil > componentHighThreshold {
		indicators = append(indicators, "exfiltration")
	}
	if dns > componentHighThreshold {
		indicators = append(indicators, "dns_tunnel")
	}
	if len(indicators) == 0 {
		indicators = append(indicators, classifyAlertType(dga, beacon, exfil, dns).String())
	}
	return indicators
}

func buildExplanation(composite float64, indicators []string) string {
	return fmt.Sprintf("composite score %.2f driven by: %s", composite, strings.Join(indicators, ", "))
}

func (s *TrafficMonitorService) scoreDGA(domain string) float64 {
	if s.dga == nil {
		return 0
	}
	return s.dga.Score(domain).Confidence
}

func (s *TrafficMonitorService) scoreBeaconing(times []time.Time) float64 {
	if s.beacon == nil {
		return 0
	}
	return s.beacon.Score(times).Confidence
}

func (s *TrafficMonitorService) scoreExfiltration(sent, received int64) float64 {
	if s.exfil == nil {
		return 0
	}
	return s.exfil.Score(sent, received).Confidence
}

func (s *TrafficMonitorService) scoreDNSTunnel(domain string) float64 {
	if s.dns == nil {
		return 0
	}
	return s.dns.Score(domain).Confidence
}

func (s *TrafficMonitorService) appendAlert(a traffic.TrafficAlert) {
	bufLen := len(s.alerts)
	idx := (s.alertHead + s.alertCount) % bufLen
	s.alerts[idx] = a
	if s.alertCount < bufLen {
		s.alertCount++
	} else {
		s.alertHead = (s.alertHead + 1) % bufLen
	}
}

// RecentAlerts returns up to maxCount most recently appended alerts,
// oldest first.
func (s *TrafficMonitorService) RecentAlerts(maxCount int) []traffic.TrafficAlert {
	if maxCount > s.alertCount {
		maxCount = s.alertCount
	}
	if maxCount <= 0 {
		return nil
	}
	start := s.alertCount - maxCount
	out := make([]traffic.TrafficAlert, 0, maxCount)
	for i := start; i < s.alertCount; i++ {
		idx := (s.alertHead + i) % len(s.alerts)
		out = append(out, s.alerts[idx])
	}
	return out
}
