// Package sqlitestore implements policygraph.Graph over database/sql and
// modernc.org/sqlite. Every query is a prepared statement bound with
// placeholder parameters; no user input is ever concatenated into SQL text.
package sqlitestore

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ladybird/contentsec/internal/domain/errs"
	"github.com/ladybird/contentsec/internal/domain/policygraph"
)

const schema = `
CREATE TABLE IF NOT EXISTS policies (
	id            TEXT PRIMARY KEY,
	rule_name     TEXT NOT NULL,
	url_pattern   TEXT NOT NULL DEFAULT '',
	file_hash     TEXT NOT NULL DEFAULT '',
	mime_type     TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	created_by    TEXT NOT NULL,
	expires_at    TEXT,
	last_hit      TEXT
);

CREATE TABLE IF NOT EXISTS threat_history (
	id                TEXT PRIMARY KEY,
	url               TEXT NOT NULL,
	filename          TEXT NOT NULL,
	sha256            TEXT NOT NULL,
	mime_type         TEXT NOT NULL,
	file_size         INTEGER NOT NULL,
	rule_name         TEXT NOT NULL,
	severity          REAL NOT NULL,
	decision          TEXT NOT NULL,
	matched_policy_id TEXT NOT NULL DEFAULT '',
	metadata_json     TEXT NOT NULL DEFAULT '',
	recorded_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trusted_relationships (
	id           TEXT PRIMARY KEY,
	domain       TEXT NOT NULL,
	related_to   TEXT NOT NULL,
	trust_reason TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policies_hash ON policies(file_hash);
CREATE INDEX IF NOT EXISTS idx_policies_mime ON policies(mime_type);
CREATE INDEX IF NOT EXISTS idx_threat_history_sha256 ON threat_history(sha256);
`

const timeLayout = time.RFC3339Nano

// Store is a database/sql + modernc.org/sqlite implementation of
// policygraph.Graph. All statements are prepared once at construction and
// reused; no query ever interpolates a caller-supplied string.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu sync.Mutex // serializes prepared-statement use; *sql.DB itself is safe for concurrent use, but we keep access uniform with the rest of the core's single-mutex style.

	insertPolicy      *sql.Stmt
	selectCandidates  *sql.Stmt
	touchLastHit      *sql.Stmt
	insertThreat      *sql.Stmt
}

// Open creates (or opens) the sqlite database at dsn and ensures the schema
// exists. dsn is a modernc.org/sqlite data source, typically a filesystem
// path or "file::memory:?cache=shared" for tests.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentIO, "open policy graph database", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: avoid SQLITE_BUSY under concurrent writers; PolicyGraph calls are serialized at the event-loop layer anyway.

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindPermanentIO, "create policy graph schema", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.prepare(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) prepare(ctx context.Context) error {
	var err error
	if s.insertPolicy, err = s.db.PrepareContext(ctx, `
		INSERT INTO policies (id, rule_name, url_pattern, file_hash, mime_type, action, created_at, created_by, expires_at, last_hit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`); err != nil {
		return errs.Wrap(errs.KindPermanentIO, "prepare insert policy", err)
	}
	if s.selectCandidates, err = s.db.PrepareContext(ctx, `
		SELECT id, rule_name, url_pattern, file_hash, mime_type, action, created_at, created_by, expires_at, last_hit
		FROM policies
		WHERE (url_pattern = '' OR ? LIKE url_pattern)
		  AND (file_hash = '' OR file_hash = ?)
		  AND (mime_type = '' OR mime_type = ?)
		ORDER BY created_at DESC`); err != nil {
		return errs.Wrap(errs.KindPermanentIO, "prepare select candidates", err)
	}
	if s.touchLastHit, err = s.db.PrepareContext(ctx, `UPDATE policies SET last_hit = ? WHERE id = ?`); err != nil {
		return errs.Wrap(errs.KindPermanentIO, "prepare touch last hit", err)
	}
	if s.insertThreat, err = s.db.PrepareContext(ctx, `
		INSERT INTO threat_history (id, url, filename, sha256, mime_type, file_size, rule_name, severity, decision, matched_policy_id, metadata_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`); err != nil {
		return errs.Wrap(errs.KindPermanentIO, "prepare insert threat", err)
	}
	return nil
}

// Close releases the prepared statements and the underlying connection.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.insertPolicy, s.selectCandidates, s.touchLastHit, s.insertThreat} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// SavePolicy inserts a new policy row. CreatedAt is assigned by the caller
// (the admin-facing service); an empty ID is filled with a new UUID, and
// the adapter performs no other business logic beyond persistence.
func (s *Store) SavePolicy(ctx context.Context, p *policygraph.Policy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var expires, lastHit sql.NullString
	if p.ExpiresAt != nil {
		expires = sql.NullString{String: p.ExpiresAt.UTC().Format(timeLayout), Valid: true}
	}
	if p.LastHit != nil {
		lastHit = sql.NullString{String: p.LastHit.UTC().Format(timeLayout), Valid: true}
	}
	_, err := s.insertPolicy.ExecContext(ctx, p.ID, p.RuleName, p.URLPattern, p.FileHash, p.MIMEType,
		string(p.Action), p.CreatedAt.UTC().Format(timeLayout), p.CreatedBy, expires, lastHit)
	if err != nil {
		return errs.Wrap(errs.KindPermanentIO, "insert policy", err)
	}
	return nil
}

// MatchPolicy selects the most-specific non-expired policy whose optional
// fields all match meta, tie-breaking on most-recently-created. Returns
// (nil, nil) when nothing matches.
func (s *Store) MatchPolicy(meta policygraph.ThreatMetadata) (*policygraph.Policy, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	ctx := context.Background()
	s.mu.Lock()
	rows, err := s.selectCandidates.QueryContext(ctx, meta.URL, meta.SHA256, meta.MIMEType)
	s.mu.Unlock()
	if err != nil {
		return nil, errs.Wrap(errs.KindPermanentIO, "select candidate policies", err)
	}
	defer rows.Close()

	now := time.Now()
	var best *policygraph.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, errs.Wrap(errs.KindPermanentIO, "scan policy row", err)
		}
		if p.Expired(now) {
			continue
		}
		// Rows arrive most-recently-created first (ORDER BY created_at
		// DESC), so the first candidate with the highest specificity wins
		// the tie-break; a later, equally-specific-or-looser row created
		// earlier never displaces it.
		if best == nil || p.Specificity() > best.Specificity() {
			best = p
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindPermanentIO, "iterate policy rows", err)
	}
	if best == nil {
		return nil, nil
	}

	now2 := time.Now()
	s.mu.Lock()
	_, _ = s.touchLastHit.ExecContext(ctx, now2.UTC().Format(timeLayout), best.ID)
	s.mu.Unlock()
	best.LastHit = &now2
	return best, nil
}

func scanPolicy(rows *sql.Rows) (*policygraph.Policy, error) {
	var p policygraph.Policy
	var action, createdAt string
	var expires, lastHit sql.NullString
	if err := rows.Scan(&p.ID, &p.RuleName, &p.URLPattern, &p.FileHash, &p.MIMEType, &action,
		&createdAt, &p.CreatedBy, &expires, &lastHit); err != nil {
		return nil, err
	}
	p.Action = policygraph.Action(action)
	if t, err := time.Parse(timeLayout, createdAt); err == nil {
		p.CreatedAt = t
	}
	if expires.Valid {
		if t, err := time.Parse(timeLayout, expires.String); err == nil {
			p.ExpiresAt = &t
		}
	}
	if lastHit.Valid {
		if t, err := time.Parse(timeLayout, lastHit.String); err == nil {
			p.LastHit = &t
		}
	}
	return &p, nil
}

// RecordThreat appends a threat_history row and returns its generated id.
// Rows are never updated or deleted.
func (s *Store) RecordThreat(meta policygraph.ThreatMetadata, decision policygraph.Action, matchedPolicyID string, metadataJSON string) (string, error) {
	if err := meta.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.insertThreat.ExecContext(context.Background(), id, meta.URL, meta.Filename, meta.SHA256,
		meta.MIMEType, meta.FileSize, meta.RuleName, meta.Severity, string(decision), matchedPolicyID, metadataJSON,
		time.Now().UTC().Format(timeLayout))
	if err != nil {
		return "", errs.Wrap(errs.KindPermanentIO, "insert threat record", err)
	}
	return id, nil
}

// Ping is used by the circuit breaker wrapper to probe the connection
// without performing a real query, mirroring database/sql's own
// Ping semantics.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errs.Wrap(errs.KindTransientIO, "ping policy graph database", err)
	}
	return nil
}

var _ policygraph.Graph = (*Store)(nil)
