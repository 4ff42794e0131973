package options

import (
	"path/filepath"
	"testing"

	"github.com/ironbridge-io/secondary-agent/internal/store"
	pkgoptions "github.com/ironbridge-io/secondary-agent/pkg/options"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "secondary.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestResolveECUSerialGeneratesAndPersists(t *testing.T) {
	st := openTestStore(t)

	first, err := resolveECUSerial(st, "")
	if err != nil {
		t.Fatalf("resolveECUSerial: %v", err)
	}
	if first == "" {
		t.Fatal("expected a non-empty generated serial")
	}

	second, err := resolveECUSerial(st, "")
	if err != nil {
		t.Fatalf("resolveECUSerial: %v", err)
	}
	if second != first {
		t.Fatalf("expected persisted serial %q to be reused, got %q", first, second)
	}
}

func TestResolveECUSerialHonorsExplicitValue(t *testing.T) {
	st := openTestStore(t)

	got, err := resolveECUSerial(st, "ecu-explicit")
	if err != nil {
		t.Fatalf("resolveECUSerial: %v", err)
	}
	if got != "ecu-explicit" {
		t.Fatalf("got %q, want ecu-explicit", got)
	}

	persisted, err := st.LoadECUSerial()
	if err != nil {
		t.Fatalf("LoadECUSerial: %v", err)
	}
	if persisted != "ecu-explicit" {
		t.Fatalf("got %q, want ecu-explicit", persisted)
	}
}

func TestNewUpdateAgentRejectsOstreeWithoutPuller(t *testing.T) {
	p := pkgoptions.NewPacmanOptions()
	p.Type = "ostree"
	p.OstreeSysroot = t.TempDir()

	if _, err := newUpdateAgent(p, pkgoptions.NewStorageOptions()); err == nil {
		t.Fatal("expected an error for the unimplemented ostree backend")
	}
}

func TestNewUpdateAgentBuildsFileBackend(t *testing.T) {
	p := pkgoptions.NewPacmanOptions()
	s := pkgoptions.NewStorageOptions()
	s.FirmwareDir = t.TempDir()
	p.InstallPath = filepath.Join(t.TempDir(), "installed.img")

	agent, err := newUpdateAgent(p, s)
	if err != nil {
		t.Fatalf("newUpdateAgent: %v", err)
	}
	if agent == nil {
		t.Fatal("expected a non-nil agent")
	}
}
