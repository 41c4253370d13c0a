// Package service wires the domain packages to their outbound adapters,
// implementing the public ports declared under internal/domain. Hot-path
// reads copy state under a short-lived mutex; cold-path writes hold the
// same mutex, so readers never observe a half-applied configuration.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ladybird/contentsec/internal/domain/scan"
	"github.com/ladybird/contentsec/internal/domain/scan/workerpool"
	"github.com/ladybird/contentsec/internal/port/outbound"
)

// Logger is the narrow logging contract used by SecurityTapService,
// satisfied by a thin *slog.Logger adapter.
type Logger interface {
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// tapMetrics adapts workerpool.Metrics onto the service's own telemetry
// lock so queue timeouts and completions are counted alongside the
// synchronous scan counters.
type tapMetrics struct{ svc *SecurityTapService }

func (m tapMetrics) RecordTimeout() {
	m.svc.mu.Lock()
	m.svc.telemetry.ScansTimedOut++
	m.svc.mu.Unlock()
}

func (m tapMetrics) RecordCompletion(d time.Duration) {
	m.svc.mu.Lock()
	m.svc.telemetry.TotalScanTime += d
	m.svc.mu.Unlock()
}

// SecurityTapService implements scan.Tap over an outbound.SignatureEngine
// and a bounded workerpool.Pool, applying the size-tier dispatch policy:
// whole-payload, chunked, head-and-tail, or skip, by content size.
type SecurityTapService struct {
	engine outbound.SignatureEngine
	pool   *workerpool.Pool
	log    Logger

	mu        sync.Mutex
	cfg       scan.SizeConfig
	telemetry scan.Telemetry
}

var _ scan.Tap = (*SecurityTapService)(nil)

// NewSecurityTapService constructs a SecurityTapService. scheduler receives
// every InspectAsync callback; pass workerpool.InlineScheduler{} when the
// caller has no event loop of its own (e.g. tests, CLI one-shots).
func NewSecurityTapService(engine outbound.SignatureEngine, scheduler workerpool.Scheduler, workers int, log Logger) *SecurityTapService {
	if log == nil {
		log = noopLogger{}
	}
	s := &SecurityTapService{
		engine: engine,
		log:    log,
		cfg:    scan.DefaultSizeConfig(),
	}
	s.pool = workerpool.New(scheduler, workerpool.Config{
		Workers:  workers,
		QueueCap: 100,
		Timeout:  60 * time.Second,
		Metrics:  tapMetrics{svc: s},
	})
	return s
}

// SetConfig validates and swaps the size-tier configuration. Normally runs
// once at load, but may be called again at runtime; the mutex keeps it
// atomic relative to concurrent Inspect calls reading cfg.
func (s *SecurityTapService) SetConfig(cfg scan.SizeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Telemetry returns a point-in-time snapshot of the scan counters.
func (s *SecurityTapService) Telemetry() scan.Telemetry {
	s.mu.Lock()
	t := s.telemetry
	s.mu.Unlock()
	t.QueueDepth = s.pool.QueueDepth()
	return t
}

// Reconnect tears down and re-establishes the signature engine connection.
func (s *SecurityTapService) Reconnect() error {
	return s.engine.Reconnect()
}

// Inspect synchronously classifies content by size tier and scans it,
// never returning an error to the caller: every infrastructure failure is
// translated into a fail-open {IsThreat:false} result. Only invalid input
// metadata is rejected.
func (s *SecurityTapService) Inspect(ctx context.Context, meta scan.DownloadMetadata, content []byte) (scan.Result, error) {
	if err := meta.Validate(); err != nil {
		return scan.Result{}, err
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	tier := cfg.Classify(meta.ByteCount)
	s.bumpTierCounter(tier)

	start := time.Now()
	result := s.dispatchByTier(ctx, cfg, tier, meta, content)
	s.mu.Lock()
	s.telemetry.TotalScanTime += time.Since(start)
	if result.IsThreat {
		s.telemetry.ThreatsDetected++
	}
	s.mu.Unlock()

	return result, nil
}

func (s *SecurityTapService) bumpTierCounter(tier scan.SizeTier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch tier {
	case scan.TierSmall:
		s.telemetry.ScansSmall++
	case scan.TierMedium:
		s.telemetry.ScansMedium++
	case scan.TierLarge:
		s.telemetry.ScansLarge++
	case scan.TierOversized:
		s.telemetry.ScansOversized++
	}
}

// dispatchByTier never returns an error; every engine failure is absorbed
// and logged as fail-open.
func (s *SecurityTapService) dispatchByTier(ctx context.Context, cfg scan.SizeConfig, tier scan.SizeTier, meta scan.DownloadMetadata, content []byte) scan.Result {
	switch tier {
	case scan.TierOversized:
		return scan.Result{IsThreat: false}
	case scan.TierSmall:
		return s.scanOne(ctx, meta.SHA256Hex, content)
	case scan.TierMedium:
		return s.scanChunked(ctx, cfg, meta, content)
	case scan.TierLarge:
		return s.scanHeadTail(ctx, cfg, meta, content)
	default:
		return scan.Result{IsThreat: false}
	}
}

// scanChunked streams Medium-tier content in ChunkSizeBytes windows with
// ChunkOverlapBytes overlap between consecutive chunks, short-circuiting on
// the first threat found.
func (s *SecurityTapService) scanChunked(ctx context.Context, cfg scan.SizeConfig, meta scan.DownloadMetadata, content []byte) scan.Result {
	chunkSize := int(cfg.ChunkSizeBytes)
	overlap := int(cfg.ChunkOverlapBytes)
	stride := chunkSize - overlap
	if stride <= 0 {
		stride = chunkSize
	}

	for offset := 0; offset < len(content); offset += stride {
		end := offset + chunkSize
		if end > len(content) {
			end = len(content)
		}
		result := s.scanOne(ctx, fmt.Sprintf("%s:chunk:%d", meta.SHA256Hex, offset), content[offset:end])
		if result.IsThreat {
			return result
		}
		if end == len(content) {
			break
		}
	}
	return scan.Result{IsThreat: false}
}

// scanHeadTail scans the first and last LargeScanBytes of a Large-tier
// payload, short-circuiting if the head scan already found a threat.
func (s *SecurityTapService) scanHeadTail(ctx context.Context, cfg scan.SizeConfig, meta scan.DownloadMetadata, content []byte) scan.Result {
	n := int(cfg.LargeScanBytes)
	if n > len(content) {
		n = len(content)
	}

	head := content[:n]
	headResult := s.scanOne(ctx, meta.SHA256Hex+":head", head)
	if headResult.IsThreat {
		return headResult
	}

	tailStart := len(content) - n
	if tailStart < 0 {
		tailStart = 0
	}
	return s.scanOne(ctx, meta.SHA256Hex+":tail", content[tailStart:])
}

// scanOne calls the signature engine for a single chunk and interprets the
// wire response. Any failure is fail-open: the error is logged and a
// non-threat result returned, never propagated to the caller.
func (s *SecurityTapService) scanOne(ctx context.Context, requestID string, chunk []byte) scan.Result {
	resp, err := s.engine.Scan(ctx, requestID, chunk)
	if err != nil {
		s.mu.Lock()
		s.telemetry.EngineErrors++
		s.mu.Unlock()
		s.log.Warn("Security: signature engine scan failed, failing open", "request_id", requestID, "error", err)
		_ = s.engine.Reconnect()
		return scan.Result{IsThreat: false}
	}
	if resp.Status != "success" {
		s.mu.Lock()
		s.telemetry.EngineErrors++
		s.mu.Unlock()
		s.log.Warn("Security: signature engine returned non-success status, failing open", "request_id", requestID, "status", resp.Status, "error", resp.Error)
		_ = s.engine.Reconnect()
		return scan.Result{IsThreat: false}
	}
	if resp.Result == "clean" {
		return scan.Result{IsThreat: false}
	}
	return scan.Result{IsThreat: true, Alert: scan.Alert(resp.Result)}
}

// InspectAsync enqueues the scan on the worker pool; callback runs exactly
// once, scheduled by the pool's configured Scheduler (on the worker
// goroutine itself when that scheduler is workerpool.InlineScheduler).
func (s *SecurityTapService) InspectAsync(ctx context.Context, meta scan.DownloadMetadata, content []byte, callback func(scan.Result, error)) error {
	if err := meta.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	tier := cfg.Classify(meta.ByteCount)
	s.bumpTierCounter(tier)

	job := &workerpool.Job{
		ID:           meta.SHA256Hex,
		Priority:     scan.PriorityFromSize(meta.ByteCount),
		EnqueuedTime: time.Now(),
		Work: func(workCtx context.Context) (interface{}, error) {
			return s.dispatchByTier(workCtx, cfg, tier, meta, content), nil
		},
		Callback: func(result interface{}, err error) {
			if err != nil {
				callback(scan.Result{IsThreat: false}, err)
				return
			}
			r := result.(scan.Result)
			if r.IsThreat {
				s.mu.Lock()
				s.telemetry.ThreatsDetected++
				s.mu.Unlock()
			}
			callback(r, nil)
		},
	}

	return s.pool.Enqueue(job)
}

// Stop shuts down the underlying worker pool.
func (s *SecurityTapService) Stop() {
	s.pool.Stop()
}
