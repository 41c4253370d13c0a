// Package scan contains the domain types for SecurityTap: the content
// descriptor assembled at entry, scan results, queued scan requests, and
// the size-tier dispatch policy. No I/O lives here; adapters and services
// implement the interfaces declared in this package.
package scan

import (
	"time"

	"github.com/ladybird/contentsec/internal/domain/errs"
)

const (
	maxURLLength      = 10000
	maxFilenameLength = 255
	minFilenameLength = 1
	sha256HexLength   = 64
)

// DownloadMetadata is a content descriptor assembled at entry. Filename is
// renderer-supplied and UNTRUSTED; every string field carries a length cap.
type DownloadMetadata struct {
	OriginURL   string
	Filename    string
	MIMEType    string
	SHA256Hex   string
	ByteCount   int64
}

// Validate enforces the input length caps and format constraints. It never
// trusts renderer-supplied fields.
func (m DownloadMetadata) Validate() error {
	if len(m.OriginURL) == 0 || len(m.OriginURL) > maxURLLength {
		return errs.Field(errs.KindInvalidInput, "origin_url", "must be 1..10000 characters")
	}
	if len(m.Filename) < minFilenameLength || len(m.Filename) > maxFilenameLength {
		return errs.Field(errs.KindInvalidInput, "filename", "must be 1..255 characters")
	}
	if m.SHA256Hex != "" {
		if len(m.SHA256Hex) != sha256HexLength || !isLowerHex(m.SHA256Hex) {
			return errs.Field(errs.KindInvalidInput, "sha256", "must be 64 lowercase hex characters")
		}
	}
	if m.ByteCount < 0 {
		return errs.Field(errs.KindInvalidInput, "byte_count", "must be non-negative")
	}
	return nil
}

func isLowerHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// Alert is an opaque JSON blob from the external signature engine. The
// core treats it as an un-interpreted string but guarantees it round-trips
// through the queue and callback path unchanged.
type Alert string

// Result is the outcome of inspecting a payload.
type Result struct {
	IsThreat bool
	Alert    Alert
}

// Request is a queued scan request (async path). Priority is the content
// size in megabytes, capped at 999; lower values are served first.
type Request struct {
	RequestID    string
	Content      []byte
	Callback     func(Result, error)
	EnqueuedTime time.Time
	Priority     uint32
}

// PriorityFromSize computes the Request.Priority for a payload of the
// given byte length: size in megabytes, capped at 999.
func PriorityFromSize(byteCount int64) uint32 {
	mb := byteCount / (1024 * 1024)
	if mb > 999 {
		mb = 999
	}
	if mb < 0 {
		mb = 0
	}
	return uint32(mb)
}

// SizeTier partitions content by size for the scan dispatch policy.
type SizeTier int

const (
	TierSmall SizeTier = iota
	TierMedium
	TierLarge
	TierOversized
)

func (t SizeTier) String() string {
	switch t {
	case TierSmall:
		return "small"
	case TierMedium:
		return "medium"
	case TierLarge:
		return "large"
	case TierOversized:
		return "oversized"
	default:
		return "unknown"
	}
}

// SizeConfig holds the size-tier thresholds and chunking parameters. All
// values are configuration, not constants; Validate enforces the ordering
// invariants between them.
type SizeConfig struct {
	// SmallMaxBytes is the inclusive upper bound of the Small tier.
	SmallMaxBytes int64
	// MediumMaxBytes is the inclusive upper bound of the Medium tier.
	MediumMaxBytes int64
	// MaxScanBytes is the inclusive upper bound of the Large tier; content
	// larger than this is Oversized and skipped.
	MaxScanBytes int64
	// ChunkSizeBytes is the streaming chunk size for the Medium tier.
	ChunkSizeBytes int64
	// ChunkOverlapBytes is the overlap between consecutive Medium chunks.
	ChunkOverlapBytes int64
	// LargeScanBytes is how many bytes are scanned from the start and end
	// of a Large-tier payload (two requests of this size each).
	LargeScanBytes int64
}

// DefaultSizeConfig returns the production default tiering: 10 MiB small,
// 100 MiB medium, 200 MiB ceiling, 1 MiB chunks with 4 KiB overlap, 10 MiB
// head-and-tail windows.
func DefaultSizeConfig() SizeConfig {
	const mib = 1024 * 1024
	return SizeConfig{
		SmallMaxBytes:     10 * mib,
		MediumMaxBytes:    100 * mib,
		MaxScanBytes:      200 * mib,
		ChunkSizeBytes:    1 * mib,
		ChunkOverlapBytes: 4 * 1024,
		LargeScanBytes:    10 * mib,
	}
}

// Validate enforces: small < medium < max_scan, chunk_overlap < chunk_size,
// large_scan_bytes <= medium. Runs once at load.
func (c SizeConfig) Validate() error {
	if !(c.SmallMaxBytes > 0 && c.SmallMaxBytes < c.MediumMaxBytes) {
		return errs.Field(errs.KindInvalidInput, "small_max_bytes", "must be positive and less than medium_max_bytes")
	}
	if !(c.MediumMaxBytes < c.MaxScanBytes) {
		return errs.Field(errs.KindInvalidInput, "medium_max_bytes", "must be less than max_scan_bytes")
	}
	if !(c.ChunkOverlapBytes < c.ChunkSizeBytes) {
		return errs.Field(errs.KindInvalidInput, "chunk_overlap_bytes", "must be less than chunk_size_bytes")
	}
	if !(c.LargeScanBytes <= c.MediumMaxBytes) {
		return errs.Field(errs.KindInvalidInput, "large_scan_bytes", "must be less than or equal to medium_max_bytes")
	}
	return nil
}

// Classify returns the size tier for a payload of the given byte length.
func (c SizeConfig) Classify(byteCount int64) SizeTier {
	switch {
	case byteCount <= c.SmallMaxBytes:
		return TierSmall
	case byteCount <= c.MediumMaxBytes:
		return TierMedium
	case byteCount <= c.MaxScanBytes:
		return TierLarge
	default:
		return TierOversized
	}
}

// Telemetry is a point-in-time snapshot of SecurityTap's scan counters.
// All fields are protected by a single mutex in the owning service; readers
// receive a copy.
type Telemetry struct {
	ScansSmall      uint64
	ScansMedium     uint64
	ScansLarge      uint64
	ScansOversized  uint64
	ScansTimedOut   uint64
	ThreatsDetected uint64
	EngineErrors    uint64
	TotalScanTime   time.Duration
	QueueDepth      int
}
