package updateagent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ironbridge-io/secondary-agent/internal/uptane"
)

// OstreePuller abstracts the actual OSTree engine this repository does
// not implement (an explicit Non-goal): pulling a revision into the
// sysroot and deploying it as the pending boot entry. A real deployment
// injects a libostree-backed implementation; tests use a fake.
type OstreePuller interface {
	// Pull fetches revision rev from the bytes read from r (a
	// static-delta or commit bundle, depending on deployment) into
	// sysroot, returning the fetched commit's checksum.
	Pull(ctx context.Context, sysroot, rev string, r io.Reader) (checksum string, err error)
	// Deploy stages checksum as the pending boot entry. The caller must
	// reboot afterward for it to take effect.
	Deploy(ctx context.Context, sysroot, checksum string) error
	// FinalizeAfterReboot confirms whatever was deployed before the
	// last reboot actually booted successfully.
	FinalizeAfterReboot(ctx context.Context, sysroot string) (booted string, ok bool, err error)
}

// OstreeAgent implements UpdateAgent by staging a revision via an
// injected OstreePuller and requiring a reboot to complete the install,
// mirroring the original implementation's reboot-as-synchronization-
// primitive design for OSTree-style Secondaries.
type OstreeAgent struct {
	sysroot string
	puller  OstreePuller
	marker  string // path to a small JSON sentinel recording a pending deploy across reboot

	mu      sync.Mutex
	pending *pendingDeploy
}

type pendingDeploy struct {
	TargetName string `json:"target_name"`
	Checksum   string `json:"checksum"`
}

var _ UpdateAgent = (*OstreeAgent)(nil)

func NewOstreeAgent(sysroot string, puller OstreePuller) *OstreeAgent {
	a := &OstreeAgent{
		sysroot: sysroot,
		puller:  puller,
		marker:  filepath.Join(sysroot, ".secondary-pending-deploy.json"),
	}
	if raw, err := os.ReadFile(a.marker); err == nil {
		var p pendingDeploy
		if json.Unmarshal(raw, &p) == nil {
			a.pending = &p
		}
	}
	return a
}

// IsTargetSupported requires an OSTree-formatted target; this backend
// only knows how to pull and deploy an OSTree revision, not an opaque
// image file.
func (a *OstreeAgent) IsTargetSupported(custom uptane.TargetCustom) bool {
	return custom.TargetFormat == "OSTREE"
}

func (a *OstreeAgent) ReceiveData(ctx context.Context, targetName string, r io.Reader, length int64) error {
	checksum, err := a.puller.Pull(ctx, a.sysroot, targetName, io.LimitReader(r, length))
	if err != nil {
		return fmt.Errorf("updateagent: ostree pull: %w", err)
	}

	a.mu.Lock()
	a.pending = &pendingDeploy{TargetName: targetName, Checksum: checksum}
	a.mu.Unlock()
	return nil
}

func (a *OstreeAgent) Install(ctx context.Context, targetName string) (InstallResult, error) {
	a.mu.Lock()
	pending := a.pending
	a.mu.Unlock()
	if pending == nil || pending.TargetName != targetName {
		return InstallResult{Code: ResultInstallFailed, Description: "no pulled revision for target"},
			fmt.Errorf("updateagent: no pulled revision for %q", targetName)
	}

	if err := a.puller.Deploy(ctx, a.sysroot, pending.Checksum); err != nil {
		return InstallResult{Code: ResultInstallFailed, Description: err.Error()}, err
	}

	raw, err := json.Marshal(pending)
	if err != nil {
		return InstallResult{Code: ResultInternalError, Description: err.Error()}, err
	}
	if err := os.WriteFile(a.marker, raw, 0o644); err != nil {
		return InstallResult{Code: ResultInternalError, Description: err.Error()}, err
	}

	return InstallResult{Code: ResultNeedCompletion, Description: "deployed, awaiting reboot"}, nil
}

func (a *OstreeAgent) ApplyPendingInstall(ctx context.Context) (InstallResult, error) {
	a.mu.Lock()
	pending := a.pending
	a.mu.Unlock()
	if pending == nil {
		return InstallResult{Code: ResultOK, Description: "nothing pending"}, nil
	}

	booted, ok, err := a.puller.FinalizeAfterReboot(ctx, a.sysroot)
	if err != nil {
		return InstallResult{Code: ResultInstallFailed, Description: err.Error()}, err
	}
	if !ok || booted != pending.Checksum {
		_ = os.Remove(a.marker)
		a.mu.Lock()
		a.pending = nil
		a.mu.Unlock()
		return InstallResult{Code: ResultInstallFailed, Description: "deployed commit failed to boot"},
			fmt.Errorf("updateagent: booted %q, expected %q", booted, pending.Checksum)
	}

	_ = os.Remove(a.marker)
	a.mu.Lock()
	a.pending = nil
	a.mu.Unlock()
	return InstallResult{Code: ResultOK, Description: "installed"}, nil
}

func (a *OstreeAgent) GetInstalledImageInfo(ctx context.Context) (InstalledImageInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return InstalledImageInfo{}, nil
	}
	return InstalledImageInfo{Filename: a.pending.TargetName, Hashes: map[string]string{"sha256": a.pending.Checksum}}, nil
}
