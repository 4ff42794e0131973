package updateagent

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ironbridge-io/secondary-agent/internal/uptane"
)

func TestFileAgentInstallRoundTrip(t *testing.T) {
	dir := t.TempDir()
	installPath := filepath.Join(dir, "installed.img")
	agent, err := NewFileAgent(filepath.Join(dir, "staging"), installPath)
	if err != nil {
		t.Fatalf("NewFileAgent: %v", err)
	}

	ctx := context.Background()
	payload := []byte("firmware-bytes")
	if err := agent.ReceiveData(ctx, "fw.bin", bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("ReceiveData: %v", err)
	}

	result, err := agent.Install(ctx, "fw.bin")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if result.Code != ResultOK {
		t.Fatalf("got %v, want ResultOK", result.Code)
	}

	got, err := os.ReadFile(installPath)
	if err != nil {
		t.Fatalf("reading installed file: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("installed content mismatch")
	}

	info, err := agent.GetInstalledImageInfo(ctx)
	if err != nil {
		t.Fatalf("GetInstalledImageInfo: %v", err)
	}
	if info.Filename != "fw.bin" || info.Length != int64(len(payload)) {
		t.Fatalf("unexpected installed info: %+v", info)
	}
}

func TestFileAgentRejectsOstreeTargetFormat(t *testing.T) {
	dir := t.TempDir()
	agent, err := NewFileAgent(filepath.Join(dir, "staging"), filepath.Join(dir, "installed.img"))
	if err != nil {
		t.Fatalf("NewFileAgent: %v", err)
	}

	if !agent.IsTargetSupported(uptane.TargetCustom{}) {
		t.Fatal("expected a target with no targetFormat to be supported")
	}
	if agent.IsTargetSupported(uptane.TargetCustom{TargetFormat: "OSTREE"}) {
		t.Fatal("expected an OSTREE-formatted target to be rejected by the file backend")
	}
}

func TestFileAgentInstallWithoutReceiveFails(t *testing.T) {
	dir := t.TempDir()
	agent, err := NewFileAgent(filepath.Join(dir, "staging"), filepath.Join(dir, "installed.img"))
	if err != nil {
		t.Fatalf("NewFileAgent: %v", err)
	}
	result, err := agent.Install(context.Background(), "missing.bin")
	if err == nil {
		t.Fatal("expected error installing unstaged target")
	}
	if result.Code != ResultInstallFailed {
		t.Fatalf("got %v, want ResultInstallFailed", result.Code)
	}
}
