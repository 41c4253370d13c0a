package quarantine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ladybird/contentsec/internal/domain/errs"
	"github.com/ladybird/contentsec/internal/domain/quarantine"
)

func newTestStore(t *testing.T) (*FilesystemStore, string) {
	t.Helper()
	root := t.TempDir()
	qdir := filepath.Join(root, "Quarantine")
	store := NewFilesystemStore(qdir, nil)
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return store, root
}

func writeSourceFile(t *testing.T, root, name, content string) string {
	t.Helper()
	p := filepath.Join(root, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func sampleMeta() quarantine.Metadata {
	return quarantine.Metadata{
		OriginalURL: "https://example.com/download",
		Filename:    "payload.exe",
		SHA256Hex:   "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		FileSize:    7,
		RuleNames:   []string{"eicar"},
	}
}

func TestInitializeCreatesDirectoryWithMode0700(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on windows")
	}
	_, root := newTestStore(t)
	info, err := os.Stat(filepath.Join(root, "Quarantine"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0700 {
		t.Fatalf("expected mode 0700, got %o", info.Mode().Perm())
	}
}

func TestQuarantineThenListThenDelete(t *testing.T) {
	store, root := newTestStore(t)
	src := writeSourceFile(t, root, "payload.exe", "content")

	id, err := store.Quarantine(context.Background(), src, sampleMeta())
	if err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if !quarantine.IsValidID(id) {
		t.Fatalf("generated id %q fails its own grammar", id)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("source file should have been moved, not copied")
	}

	entries, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != id {
		t.Fatalf("expected one entry with id %q, got %+v", id, entries)
	}
	if len(entries[0].Metadata.RuleNames) != 1 || entries[0].Metadata.RuleNames[0] != "eicar" {
		t.Fatalf("unexpected rule names: %+v", entries[0].Metadata.RuleNames)
	}
	if entries[0].Metadata.QuarantineID != id {
		t.Fatalf("expected quarantine_id %q stored in the metadata body, got %q", id, entries[0].Metadata.QuarantineID)
	}
	if entries[0].Metadata.DetectionTime == "" {
		t.Fatal("expected detection_time to be stamped into the metadata")
	}

	if err := store.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Second delete of the same id must be a no-op, not an error.
	if err := store.Delete(context.Background(), id); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}

	entries, err = store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries after delete, got %+v", entries)
	}
}

func TestQuarantinePayloadModeIs0400(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on windows")
	}
	store, root := newTestStore(t)
	src := writeSourceFile(t, root, "payload.exe", "content")

	id, err := store.Quarantine(context.Background(), src, sampleMeta())
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(store.dir, id+".bin"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0400 {
		t.Fatalf("expected payload mode 0400, got %o", info.Mode().Perm())
	}
}

func TestRestoreSanitizesFilenameAndSetsMode0600(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on windows")
	}
	store, root := newTestStore(t)
	src := writeSourceFile(t, root, "payload.exe", "content")

	meta := sampleMeta()
	meta.Filename = "../../evil\x01name.exe"
	id, err := store.Quarantine(context.Background(), src, meta)
	if err != nil {
		t.Fatal(err)
	}

	destDir := filepath.Join(root, "downloads")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		t.Fatal(err)
	}

	if err := store.Restore(context.Background(), id, destDir); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	restored := filepath.Join(destDir, "evilname.exe")
	info, err := os.Stat(restored)
	if err != nil {
		t.Fatalf("expected sanitized filename on disk, stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("expected restored mode 0600, got %o", info.Mode().Perm())
	}

	// Metadata file should be gone; the .json should no longer exist.
	if _, err := os.Stat(filepath.Join(store.dir, id+".json")); !os.IsNotExist(err) {
		t.Fatal("expected quarantine metadata to be removed after restore")
	}
}

func TestRestoreReducesPathTraversalToBasename(t *testing.T) {
	store, root := newTestStore(t)
	src := writeSourceFile(t, root, "payload.exe", "content")

	meta := sampleMeta()
	meta.Filename = "../../../etc/passwd"
	id, err := store.Quarantine(context.Background(), src, meta)
	if err != nil {
		t.Fatal(err)
	}

	destDir := filepath.Join(root, "downloads")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		t.Fatal(err)
	}

	if err := store.Restore(context.Background(), id, destDir); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	restored := filepath.Join(destDir, "passwd")
	if _, err := os.Stat(restored); err != nil {
		t.Fatalf("expected restore to land at destDir/passwd, stat failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "etc", "passwd")); !os.IsNotExist(err) {
		t.Fatal("restore must never escape destDir via path traversal")
	}
}

func TestRestoreCollisionRenamesWithSuffix(t *testing.T) {
	store, root := newTestStore(t)
	destDir := filepath.Join(root, "downloads")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		t.Fatal(err)
	}
	// Pre-create a colliding file.
	if err := os.WriteFile(filepath.Join(destDir, "payload.exe"), []byte("existing"), 0644); err != nil {
		t.Fatal(err)
	}

	src := writeSourceFile(t, root, "payload.exe", "content")
	id, err := store.Quarantine(context.Background(), src, sampleMeta())
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Restore(context.Background(), id, destDir); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if _, err := os.Stat(filepath.Join(destDir, "payload_(1).exe")); err != nil {
		t.Fatalf("expected collision-renamed file, stat failed: %v", err)
	}
}

func TestRestoreRejectsInvalidID(t *testing.T) {
	store, root := newTestStore(t)
	if err := store.Restore(context.Background(), "not-a-valid-id", root); err == nil {
		t.Fatal("expected error for malformed id")
	}
}

func TestQuarantineRejectsInvalidMetadata(t *testing.T) {
	store, root := newTestStore(t)
	src := writeSourceFile(t, root, "payload.exe", "content")

	bad := sampleMeta()
	bad.FileSize = 0
	if _, err := store.Quarantine(context.Background(), src, bad); err == nil {
		t.Fatal("expected validation error for zero file size")
	}
	// Source file must be left untouched since validation happens before
	// the move.
	if _, err := os.Stat(src); err != nil {
		t.Fatal("source file should not have been touched on validation failure")
	}
}

func TestMetadataFailureWithRecoverableCleanup(t *testing.T) {
	store, _ := newTestStore(t)

	// Simulate the state right after a successful .bin move whose metadata
	// write then failed: the payload exists, the metadata does not.
	id := "20260730_143022_bbbbbb"
	binPath := filepath.Join(store.dir, id+".bin")
	if err := os.WriteFile(binPath, []byte("payload"), 0400); err != nil {
		t.Fatal(err)
	}

	_, err := store.handleMetadataFailure(context.Background(), id, binPath, os.ErrPermission)
	if err == nil {
		t.Fatal("expected a metadata failure error")
	}
	if errors.Is(err, errs.ErrOrphaned) {
		t.Fatalf("cleanup succeeded, so the failure must not be reported as orphaned: %v", err)
	}
	if _, statErr := os.Stat(binPath); !os.IsNotExist(statErr) {
		t.Fatal("expected payload to be cleaned up")
	}
	if _, statErr := os.Stat(filepath.Join(store.dir, id+".orphaned")); !os.IsNotExist(statErr) {
		t.Fatal("no orphan marker should exist when cleanup succeeded")
	}
}

func TestMetadataFailureWithStuckPayloadWritesOrphanMarker(t *testing.T) {
	store, _ := newTestStore(t)

	// A non-empty directory in the payload's place makes every os.Remove
	// attempt fail, standing in for an undeletable file.
	id := "20260730_143022_cccccc"
	binPath := filepath.Join(store.dir, id+".bin")
	if err := os.MkdirAll(filepath.Join(binPath, "stuck"), 0700); err != nil {
		t.Fatal(err)
	}

	_, err := store.handleMetadataFailure(context.Background(), id, binPath, os.ErrPermission)
	if !errors.Is(err, errs.ErrOrphaned) {
		t.Fatalf("expected the orphaned sentinel, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(store.dir, id+".orphaned")); statErr != nil {
		t.Fatalf("expected orphan marker on disk: %v", statErr)
	}
}

func TestInitializeCreatesLockFile(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := os.Stat(store.lockPath); err != nil {
		t.Fatalf("expected lock file to exist after Initialize, stat failed: %v", err)
	}
}

func TestOrphanRecoverySweepsStaleMarkerOnInitialize(t *testing.T) {
	store, _ := newTestStore(t)

	id := "20260730_143022_aaaaaa"
	markerPath := filepath.Join(store.dir, id+".orphaned")
	if err := os.WriteFile(markerPath, []byte("2026-07-30T14:30:22Z\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := store.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(markerPath); !os.IsNotExist(err) {
		t.Fatal("expected orphan marker to be swept on Initialize")
	}
}
