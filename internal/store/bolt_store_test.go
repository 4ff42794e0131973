package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secondary.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRootVersioning(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.LoadRoot(RepoDirector, 1); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.SaveRoot(RepoDirector, 1, []byte("root-v1")); err != nil {
		t.Fatalf("SaveRoot: %v", err)
	}
	if err := s.SaveRoot(RepoDirector, 2, []byte("root-v2")); err != nil {
		t.Fatalf("SaveRoot: %v", err)
	}

	latest, err := s.LatestRootVersion(RepoDirector)
	if err != nil {
		t.Fatalf("LatestRootVersion: %v", err)
	}
	if latest != 2 {
		t.Fatalf("got %d, want 2", latest)
	}

	v1, err := s.LoadRoot(RepoDirector, 1)
	if err != nil {
		t.Fatalf("LoadRoot v1: %v", err)
	}
	if string(v1) != "root-v1" {
		t.Fatalf("got %q, want root-v1", v1)
	}

	latestImage, err := s.LatestRootVersion(RepoImage)
	if err != nil {
		t.Fatalf("LatestRootVersion image: %v", err)
	}
	if latestImage != 0 {
		t.Fatalf("expected 0 for unseeded repo, got %d", latestImage)
	}
}

func TestLatestMetaOverwrites(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveLatestMeta(RepoImage, RoleTimestamp, []byte("ts-v1")); err != nil {
		t.Fatalf("SaveLatestMeta: %v", err)
	}
	if err := s.SaveLatestMeta(RepoImage, RoleTimestamp, []byte("ts-v2")); err != nil {
		t.Fatalf("SaveLatestMeta: %v", err)
	}

	got, err := s.LoadLatestMeta(RepoImage, RoleTimestamp)
	if err != nil {
		t.Fatalf("LoadLatestMeta: %v", err)
	}
	if string(got) != "ts-v2" {
		t.Fatalf("got %q, want ts-v2 (latest-only overwrite)", got)
	}
}

func TestInstalledVersionLifecycle(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Current(); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before any install, got %v", err)
	}

	if err := s.RecordPending(InstalledVersion{TargetName: "fw-1.0.bin", Length: 10}); err != nil {
		t.Fatalf("RecordPending: %v", err)
	}

	if err := s.RecordPending(InstalledVersion{TargetName: "fw-1.1.bin"}); err != ErrPendingExists {
		t.Fatalf("expected ErrPendingExists, got %v", err)
	}

	pending, ok, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if !ok || pending.TargetName != "fw-1.0.bin" {
		t.Fatalf("unexpected pending entry: %+v ok=%v", pending, ok)
	}

	if err := s.PromotePendingToCurrent(InstallationResult{Success: true, ResultCode: 0}); err != nil {
		t.Fatalf("PromotePendingToCurrent: %v", err)
	}

	current, err := s.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.TargetName != "fw-1.0.bin" || !current.Result.Success {
		t.Fatalf("unexpected current entry: %+v", current)
	}

	if _, ok, err := s.Pending(); err != nil || ok {
		t.Fatalf("expected no pending after promotion, ok=%v err=%v", ok, err)
	}

	if err := s.RecordPending(InstalledVersion{TargetName: "fw-2.0.bin"}); err != nil {
		t.Fatalf("RecordPending second install: %v", err)
	}
	if err := s.DropPending(); err != nil {
		t.Fatalf("DropPending: %v", err)
	}
	if _, ok, err := s.Pending(); err != nil || ok {
		t.Fatalf("expected no pending after drop, ok=%v err=%v", ok, err)
	}

	current, err = s.Current()
	if err != nil {
		t.Fatalf("Current should still be fw-1.0.bin after drop: %v", err)
	}
	if current.TargetName != "fw-1.0.bin" {
		t.Fatalf("current entry changed unexpectedly: %+v", current)
	}

	history, err := s.History()
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected dropped pending to be removed from history, got %d entries", len(history))
	}
}

func TestECUIdentityAndKeyPersistence(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.LoadECUSerial(); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SaveECUSerial("ecu-123"); err != nil {
		t.Fatalf("SaveECUSerial: %v", err)
	}
	serial, err := s.LoadECUSerial()
	if err != nil {
		t.Fatalf("LoadECUSerial: %v", err)
	}
	if serial != "ecu-123" {
		t.Fatalf("got %q, want ecu-123", serial)
	}

	if err := s.SavePrivateKey([]byte("pem-bytes")); err != nil {
		t.Fatalf("SavePrivateKey: %v", err)
	}
	key, err := s.LoadPrivateKey()
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if string(key) != "pem-bytes" {
		t.Fatalf("got %q, want pem-bytes", key)
	}
}
