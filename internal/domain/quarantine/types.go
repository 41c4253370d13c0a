// Package quarantine contains the domain types for the tamper-resistant
// quarantine store: the id grammar, entry metadata, and the Store port
// consumed by callers. Filesystem mechanics live in
// internal/adapter/outbound/quarantine.
package quarantine

import (
	"context"
	"regexp"
	"time"

	"github.com/ladybird/contentsec/internal/domain/errs"
)

const (
	maxURLLength      = 2048
	maxFilenameLength = 255
	minFilenameLength = 1
	sha256HexLength   = 64
	idLength          = 21
)

// idPattern is the quarantine id grammar: YYYYMMDD_HHMMSS_xxxxxx (an
// 8-digit date, underscore, 6-digit time, underscore, 6 lowercase hex
// characters).
var idPattern = regexp.MustCompile(`^\d{8}_\d{6}_[0-9a-f]{6}$`)

// IsValidID reports whether id matches the quarantine id grammar exactly:
// an 8-digit date, underscore, 6-digit time, underscore, 6 lowercase hex
// characters.
func IsValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ValidateID returns a typed error if id does not match the grammar.
func ValidateID(id string) error {
	if !IsValidID(id) {
		return errs.Field(errs.KindInvalidInput, "id", "must match the quarantine id grammar YYYYMMDD_HHMMSS_xxxxxx")
	}
	return nil
}

// Metadata is the full set of fields persisted alongside a quarantined
// payload. The JSON key set is fixed; RuleNames is always a JSON array of
// strings, even when empty. DetectionTime and QuarantineID are assigned by
// the store during Quarantine, not by callers.
type Metadata struct {
	OriginalURL   string   `json:"original_url"`
	Filename      string   `json:"filename"`
	DetectionTime string   `json:"detection_time"`
	SHA256Hex     string   `json:"sha256"`
	FileSize      int64    `json:"file_size"`
	QuarantineID  string   `json:"quarantine_id"`
	RuleNames     []string `json:"rule_names"`
}

// Validate enforces the input length and format caps.
func (m Metadata) Validate() error {
	if len(m.Filename) < minFilenameLength || len(m.Filename) > maxFilenameLength {
		return errs.Field(errs.KindInvalidInput, "filename", "must be 1..255 characters")
	}
	if len(m.OriginalURL) == 0 || len(m.OriginalURL) > maxURLLength {
		return errs.Field(errs.KindInvalidInput, "original_url", "must be 1..2048 characters")
	}
	if len(m.SHA256Hex) != sha256HexLength || !isLowerHex(m.SHA256Hex) {
		return errs.Field(errs.KindInvalidInput, "sha256", "must be 64 lowercase hex characters")
	}
	if m.FileSize <= 0 {
		return errs.Field(errs.KindInvalidInput, "file_size", "must be non-zero")
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

// Entry is one quarantined item as returned by List.
type Entry struct {
	ID       string
	Metadata Metadata
}

// Store is the public contract for the quarantine directory. Initialize
// must be called once before any other method and may be called again
// safely; it performs orphan recovery each time.
type Store interface {
	Initialize(ctx context.Context) error
	Quarantine(ctx context.Context, sourcePath string, meta Metadata) (id string, err error)
	List(ctx context.Context) ([]Entry, error)
	Restore(ctx context.Context, id string, destDir string) error
	Delete(ctx context.Context, id string) error
}

// NewID formats a quarantine id from a timestamp and a 6-hex-digit random
// suffix. The caller supplies both so tests can pin deterministic ids;
// production callers use time.Now() and a crypto/rand-sourced suffix.
func NewID(t time.Time, hexSuffix string) string {
	return t.Format("20060102_150405") + "_" + hexSuffix
}
