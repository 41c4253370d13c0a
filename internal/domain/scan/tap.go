package scan

import "context"

// Tap is the public contract for SecurityTap. Inspect is
// synchronous and blocks the caller; it never panics and fails open
// (Result{IsThreat:false}) on any infrastructure failure. InspectAsync
// enqueues work for the worker pool and invokes callback exactly once on
// the caller's event-loop thread (modelled here as "whatever goroutine the
// owning service chooses to run callbacks on" -- see internal/service).
type Tap interface {
	Inspect(ctx context.Context, meta DownloadMetadata, content []byte) (Result, error)
	InspectAsync(ctx context.Context, meta DownloadMetadata, content []byte, callback func(Result, error)) error
	SetConfig(cfg SizeConfig) error
	Telemetry() Telemetry
	Reconnect() error
}
