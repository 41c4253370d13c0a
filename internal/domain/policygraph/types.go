// Package policygraph contains the domain types for PolicyGraph: policies,
// threat records, and the Graph port consumed by SecurityTap/TrafficMonitor
// once a scan or behavioural analysis has produced a verdict that needs an
// enforcement decision.
package policygraph

import (
	"time"

	"github.com/ladybird/contentsec/internal/domain/errs"
)

const (
	maxURLLength       = 2048
	maxStringLength    = 10 * 1024 * 1024 // 10 MiB cap on any single string field
	sha256HexLength    = 64
	maxFilenameLength  = 255
)

// Action is the enforcement decision PolicyGraph returns for a matched
// policy.
type Action string

const (
	ActionAllow         Action = "allow"
	ActionBlock         Action = "block"
	ActionQuarantine    Action = "quarantine"
	ActionBlockAutofill Action = "block_autofill"
	ActionWarnUser      Action = "warn_user"
)

// Policy is one row of the policies table: a pattern (URL/hash/MIME,
// any subset may be unset) mapped to an enforcement action.
type Policy struct {
	ID         string
	RuleName   string
	URLPattern string // optional; SQL LIKE syntax, empty means "any"
	FileHash   string // optional; exact match, empty means "any"
	MIMEType   string // optional; exact match, empty means "any"
	Action     Action
	CreatedAt  time.Time
	CreatedBy  string
	ExpiresAt  *time.Time // optional
	LastHit    *time.Time // optional
}

// Specificity is used to rank candidate policies: the policy constraining
// more optional fields wins over a looser one that also matches.
func (p Policy) Specificity() int {
	n := 0
	if p.URLPattern != "" {
		n++
	}
	if p.FileHash != "" {
		n++
	}
	if p.MIMEType != "" {
		n++
	}
	return n
}

// Expired reports whether the policy's ExpiresAt has passed as of now.
func (p Policy) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// ThreatMetadata describes the event a MatchPolicy/RecordThreat call is
// deciding or recording against.
type ThreatMetadata struct {
	URL      string
	Filename string
	SHA256   string
	MIMEType string
	FileSize int64
	RuleName string
	// Severity is the caller's confidence/impact score for the threat
	// being recorded, in [0, 1]. RecordThreat persists it into
	// ThreatRecord.Severity; MatchPolicy ignores it (policy matching is
	// keyed on URL/hash/MIME/rule, not severity).
	Severity float64
}

// Validate enforces the input length caps. Every string field that crosses
// the PolicyGraph API boundary is validated here before it can reach a
// bound SQL parameter.
func (m ThreatMetadata) Validate() error {
	if len(m.URL) == 0 || len(m.URL) > maxURLLength {
		return errs.Field(errs.KindInvalidInput, "url", "must be 1..2048 characters")
	}
	if len(m.Filename) < 1 || len(m.Filename) > maxFilenameLength {
		return errs.Field(errs.KindInvalidInput, "filename", "must be 1..255 characters")
	}
	if m.SHA256 != "" && (len(m.SHA256) != sha256HexLength || !isLowerHex(m.SHA256)) {
		return errs.Field(errs.KindInvalidInput, "sha256", "must be 64 lowercase hex characters")
	}
	if len(m.MIMEType) > maxStringLength {
		return errs.Field(errs.KindInvalidInput, "mime_type", "exceeds maximum length")
	}
	if len(m.RuleName) > maxStringLength {
		return errs.Field(errs.KindInvalidInput, "rule_name", "exceeds maximum length")
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

// ThreatRecord is one append-only row of the threat_history table.
type ThreatRecord struct {
	ID              string
	URL             string
	Filename        string
	SHA256          string
	MIMEType        string
	FileSize        int64
	RuleName        string
	Severity        float64
	Decision        Action
	MatchedPolicyID string // optional, empty means no policy matched
	MetadataJSON    string
	RecordedAt      time.Time
}

// CacheKey identifies a MatchPolicy lookup for the decision cache: the
// (url, file_hash, mime_type, rule_name) tuple a decision depends on.
type CacheKey struct {
	URL      string
	FileHash string
	MIME     string
	RuleName string
}

// Graph is the public contract for PolicyGraph.
type Graph interface {
	// MatchPolicy returns the most-specific non-expired policy matching
	// meta, or (nil, nil) if no policy applies.
	MatchPolicy(meta ThreatMetadata) (*Policy, error)
	// RecordThreat appends a threat_history row and returns its id.
	RecordThreat(meta ThreatMetadata, decision Action, matchedPolicyID string, metadataJSON string) (string, error)
}
