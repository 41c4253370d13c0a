// Package quarantine implements quarantine.Store over a local directory:
// payloads are moved in atomically, metadata is fsynced before the entry
// counts as complete, and the directory is guarded by both an in-process
// mutex and a cross-process flock.
package quarantine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ladybird/contentsec/internal/domain/errs"
	"github.com/ladybird/contentsec/internal/domain/quarantine"
	"github.com/ladybird/contentsec/internal/domain/retry"
)

const (
	dirMode      = 0700
	payloadMode  = 0400
	metadataMode = 0400
	restoreMode  = 0600
)

// FilesystemStore implements quarantine.Store rooted at a single directory.
// The directory is created before any lock is taken; every operation after
// that is flock-guarded on dir+"/.lock", and an in-process mutex serializes calls from
// goroutines within this process, since flock on most platforms does not
// exclude a second lock attempt from the same process.
type FilesystemStore struct {
	dir      string
	lockPath string
	mu       sync.Mutex
	logger   *slog.Logger
}

// NewFilesystemStore creates a store rooted at dir. Initialize must be
// called before any other method.
func NewFilesystemStore(dir string, logger *slog.Logger) *FilesystemStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilesystemStore{dir: dir, lockPath: filepath.Join(dir, ".lock"), logger: logger}
}

var _ quarantine.Store = (*FilesystemStore)(nil)

// withDirLock acquires the in-process mutex and the cross-process flock on
// dir+"/.lock" before running fn, releasing both in reverse order even if
// fn panics. The lock file is opened with O_CREATE so the very first call
// (from Initialize, before the quarantine directory is guaranteed to
// contain anything) still has something to lock.
func (s *FilesystemStore) withDirLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockFile, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return errs.Wrap(errs.KindPermanentIO, "open quarantine lock file", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return errs.Wrap(errs.KindPermanentIO, "acquire quarantine directory lock", err)
	}
	defer func() { _ = flockUnlock(lockFile.Fd()) }()

	return fn()
}

// Initialize creates the quarantine directory (mode 0700) if absent and
// sweeps orphan markers left by a prior crash. It is idempotent and safe to
// call repeatedly.
func (s *FilesystemStore) Initialize(ctx context.Context) error {
	err := retry.Do(ctx, retry.DefaultQuarantinePolicy(), func() error {
		return os.MkdirAll(s.dir, dirMode)
	})
	if err != nil {
		return errs.Wrap(errs.KindPermanentIO, "create quarantine directory", err)
	}
	chmodErr := retry.Do(ctx, retry.DefaultQuarantinePolicy(), func() error {
		return os.Chmod(s.dir, dirMode)
	})
	if chmodErr != nil {
		s.logger.Warn("failed to enforce quarantine directory permissions", "error", chmodErr)
	}

	return s.withDirLock(func() error {
		s.sweepOrphans(ctx)
		return nil
	})
}

// sweepOrphans enumerates *.orphaned markers and retries cleanup of their
// paired .bin file, then the marker itself. Failures are logged and do not
// abort initialization.
func (s *FilesystemStore) sweepOrphans(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("failed to scan quarantine directory for orphans", "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".orphaned") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".orphaned")
		if !quarantine.IsValidID(id) {
			continue
		}
		s.recoverOrphan(ctx, id)
	}
}

func (s *FilesystemStore) recoverOrphan(ctx context.Context, id string) {
	binPath := filepath.Join(s.dir, id+".bin")
	if err := removeWithBackoff(ctx, binPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("orphan cleanup: failed to remove payload", "id", id, "error", err)
		return
	}
	markerPath := filepath.Join(s.dir, id+".orphaned")
	if err := os.Remove(markerPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("orphan cleanup: failed to remove marker", "id", id, "error", err)
	}
}

// removeWithBackoff retries os.Remove unconditionally (not gated on errno
// transience) at 100/200/400ms, the fixed schedule for .bin cleanup during
// both the quarantine and orphan-recovery paths.
func removeWithBackoff(ctx context.Context, path string) error {
	policy := retry.DeleteBackoffPolicy()
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.Delay(attempt - 1)):
			}
		}
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// Quarantine moves sourcePath into the store and writes its metadata,
// returning the generated id. On metadata-write failure it attempts to
// clean up the already-moved payload; if that also fails it writes an
// orphan marker and returns errs.ErrOrphaned.
func (s *FilesystemStore) Quarantine(ctx context.Context, sourcePath string, meta quarantine.Metadata) (string, error) {
	if err := meta.Validate(); err != nil {
		return "", err
	}

	var id string
	err := s.withDirLock(func() error {
		id = quarantine.NewID(time.Now().UTC(), randomHex6())
		binPath := filepath.Join(s.dir, id+".bin")
		jsonPath := filepath.Join(s.dir, id+".json")

		if err := os.Rename(sourcePath, binPath); err != nil {
			return errs.Wrap(errs.KindPermanentIO, "move source into quarantine", err)
		}
		if err := os.Chmod(binPath, payloadMode); err != nil {
			s.logger.Warn("failed to set payload permissions", "id", id, "error", err)
		}

		meta.QuarantineID = id
		meta.DetectionTime = time.Now().UTC().Format(time.RFC3339)
		if meta.RuleNames == nil {
			meta.RuleNames = []string{}
		}

		data, marshalErr := json.Marshal(meta)
		if marshalErr != nil {
			return errs.Wrap(errs.KindPermanentIO, "marshal quarantine metadata", marshalErr)
		}

		if writeErr := s.writeMetadata(jsonPath, data); writeErr != nil {
			_, failErr := s.handleMetadataFailure(ctx, id, binPath, writeErr)
			return failErr
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *FilesystemStore) writeMetadata(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, metadataMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chmod(path, metadataMode)
}

// handleMetadataFailure cleans up after a metadata-write failure: retry
// payload removal three times; if removal succeeds the quarantine attempt
// is reported as a plain failure, otherwise an orphan marker is written
// and errs.ErrOrphaned is returned.
func (s *FilesystemStore) handleMetadataFailure(ctx context.Context, id, binPath string, metaErr error) (string, error) {
	if removeErr := removeWithBackoff(ctx, binPath); removeErr == nil {
		return "", errs.Wrap(errs.KindPermanentIO, "write quarantine metadata", metaErr)
	}

	markerPath := filepath.Join(s.dir, id+".orphaned")
	markerContent := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
	if writeErr := os.WriteFile(markerPath, markerContent, 0600); writeErr != nil {
		s.logger.Error("failed to write orphan marker", "id", id, "error", writeErr)
	}
	return "", errs.Wrap(errs.KindIntegrity, fmt.Sprintf("quarantine entry %s orphaned after metadata failure", id), errs.ErrOrphaned)
}

// List enumerates all complete entries (a .json file whose id matches the
// grammar). Orphaned or payload-only entries are skipped.
func (s *FilesystemStore) List(ctx context.Context) ([]quarantine.Entry, error) {
	var out []quarantine.Entry
	err := s.withDirLock(func() error {
		dirEntries, err := os.ReadDir(s.dir)
		if err != nil {
			return errs.Wrap(errs.KindPermanentIO, "list quarantine directory", err)
		}

		for _, de := range dirEntries {
			if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
				continue
			}
			id := strings.TrimSuffix(de.Name(), ".json")
			if !quarantine.IsValidID(id) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(s.dir, de.Name()))
			if err != nil {
				s.logger.Warn("failed to read quarantine metadata", "id", id, "error", err)
				continue
			}
			var meta quarantine.Metadata
			if err := json.Unmarshal(data, &meta); err != nil {
				s.logger.Warn("failed to parse quarantine metadata", "id", id, "error", err)
				continue
			}
			out = append(out, quarantine.Entry{ID: id, Metadata: meta})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Restore validates id, sanitises the stored filename, resolves destDir
// (must be an absolute, existing, writable directory, with symlinks
// resolved), renames collisions up to _(999), moves the payload, sets mode
// 0600, and deletes the metadata file. The payload is left in quarantine
// if the move fails.
func (s *FilesystemStore) Restore(ctx context.Context, id string, destDir string) error {
	if err := quarantine.ValidateID(id); err != nil {
		return err
	}

	return s.withDirLock(func() error {
		binPath := filepath.Join(s.dir, id+".bin")
		jsonPath := filepath.Join(s.dir, id+".json")

		metaData, err := os.ReadFile(jsonPath)
		if err != nil {
			return errs.Wrap(errs.KindInvalidInput, "read quarantine metadata", err)
		}
		var meta quarantine.Metadata
		if err := json.Unmarshal(metaData, &meta); err != nil {
			return errs.Wrap(errs.KindPermanentIO, "parse quarantine metadata", err)
		}

		resolvedDest, err := filepath.EvalSymlinks(destDir)
		if err != nil {
			return errs.Field(errs.KindInvalidInput, "dest_dir", "must be an existing directory")
		}
		if !filepath.IsAbs(resolvedDest) {
			return errs.Field(errs.KindInvalidInput, "dest_dir", "must be an absolute path")
		}
		info, err := os.Stat(resolvedDest)
		if err != nil || !info.IsDir() {
			return errs.Field(errs.KindInvalidInput, "dest_dir", "must be an existing directory")
		}

		filename := sanitizeFilename(meta.Filename)
		targetPath, err := uniqueDestination(resolvedDest, filename)
		if err != nil {
			return err
		}

		if err := os.Rename(binPath, targetPath); err != nil {
			return errs.Wrap(errs.KindPermanentIO, "move quarantined payload to destination", err)
		}
		if err := os.Chmod(targetPath, restoreMode); err != nil {
			s.logger.Warn("failed to set restored file permissions", "id", id, "error", err)
		}
		if err := os.Remove(jsonPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove quarantine metadata after restore", "id", id, "error", err)
		}
		return nil
	})
}

// sanitizeFilename reduces a renderer-supplied filename to its basename
// (so "../../../etc/passwd" restores as "passwd", not as every path
// separator simply deleted) and strips control bytes below 32 from what
// remains.
func sanitizeFilename(name string) string {
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}

	var b strings.Builder
	for _, r := range base {
		if r < 32 {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		cleaned = "restored-file"
	}
	return cleaned
}

// uniqueDestination returns a non-colliding path under dir for filename,
// trying filename, then filename_(1), filename_(2), ... up to _(999).
func uniqueDestination(dir, filename string) (string, error) {
	candidate := filepath.Join(dir, filename)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}

	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for n := 1; n <= 999; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_(%d)%s", base, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", errs.New(errs.KindResourceFull, "no available destination filename after 999 collisions")
}

// Delete removes both files for id if present; a missing file is not an
// error, making Delete idempotent.
func (s *FilesystemStore) Delete(ctx context.Context, id string) error {
	if err := quarantine.ValidateID(id); err != nil {
		return err
	}

	return s.withDirLock(func() error {
		binPath := filepath.Join(s.dir, id+".bin")
		jsonPath := filepath.Join(s.dir, id+".json")

		if err := os.Remove(binPath); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.KindPermanentIO, "delete quarantine payload", err)
		}
		if err := os.Remove(jsonPath); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.KindPermanentIO, "delete quarantine metadata", err)
		}
		return nil
	})
}

func randomHex6() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is effectively unrecoverable on any real
		// platform; fall back to a fixed-but-unique-enough suffix derived
		// from the current nanosecond clock rather than panicking.
		n := time.Now().UnixNano()
		return fmt.Sprintf("%06x", n&0xFFFFFF)
	}
	return hex.EncodeToString(buf)
}
