package updateagent

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ironbridge-io/secondary-agent/internal/uptane"
)

// FileAgent implements UpdateAgent by staging a target's bytes under
// stagingDir and, on Install, atomically renaming the staged file onto
// installPath. It never needs a reboot to complete, matching the
// original implementation's "fake"/file package manager used for
// non-OSTree Secondaries.
type FileAgent struct {
	stagingDir  string
	installPath string

	mu       sync.Mutex
	staged   map[string]string // targetName -> staged file path
	installed *InstalledImageInfo
}

var _ UpdateAgent = (*FileAgent)(nil)

func NewFileAgent(stagingDir, installPath string) (*FileAgent, error) {
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("updateagent: creating staging dir: %w", err)
	}
	return &FileAgent{
		stagingDir:  stagingDir,
		installPath: installPath,
		staged:      make(map[string]string),
	}, nil
}

// IsTargetSupported rejects OSTree-formatted targets; this backend only
// writes a single opaque image file atomically to installPath.
func (a *FileAgent) IsTargetSupported(custom uptane.TargetCustom) bool {
	return custom.TargetFormat != "OSTREE"
}

func (a *FileAgent) ReceiveData(ctx context.Context, targetName string, r io.Reader, length int64) error {
	dest := filepath.Join(a.stagingDir, sanitize(targetName))

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("updateagent: opening staging file: %w", err)
	}
	defer f.Close()

	written, err := io.Copy(f, io.LimitReader(r, length))
	if err != nil {
		return fmt.Errorf("updateagent: writing staged data: %w", err)
	}
	if written != length {
		return fmt.Errorf("updateagent: short write, got %d of %d bytes", written, length)
	}

	a.mu.Lock()
	a.staged[targetName] = dest
	a.mu.Unlock()
	return nil
}

func (a *FileAgent) Install(ctx context.Context, targetName string) (InstallResult, error) {
	a.mu.Lock()
	stagedPath, ok := a.staged[targetName]
	a.mu.Unlock()
	if !ok {
		return InstallResult{Code: ResultInstallFailed, Description: "no staged data for target"},
			fmt.Errorf("updateagent: no staged data for %q", targetName)
	}

	if err := os.Rename(stagedPath, a.installPath); err != nil {
		return InstallResult{Code: ResultInstallFailed, Description: err.Error()}, err
	}

	info, err := os.Stat(a.installPath)
	if err != nil {
		return InstallResult{Code: ResultInstallFailed, Description: err.Error()}, err
	}

	a.mu.Lock()
	a.installed = &InstalledImageInfo{Filename: targetName, Length: info.Size()}
	delete(a.staged, targetName)
	a.mu.Unlock()

	return InstallResult{Code: ResultOK, Description: "installed"}, nil
}

// ApplyPendingInstall is a no-op for the file backend: Install never
// returns ResultNeedCompletion, so the Secondary Core never calls this
// in practice, but it is implemented for interface completeness and for
// boot-time finalize logic, which calls it whenever the store reports a
// pending install.
func (a *FileAgent) ApplyPendingInstall(ctx context.Context) (InstallResult, error) {
	return InstallResult{Code: ResultOK, Description: "nothing pending"}, nil
}

func (a *FileAgent) GetInstalledImageInfo(ctx context.Context) (InstalledImageInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.installed == nil {
		info, err := os.Stat(a.installPath)
		if err != nil {
			return InstalledImageInfo{}, nil
		}
		return InstalledImageInfo{Filename: filepath.Base(a.installPath), Length: info.Size()}, nil
	}
	return *a.installed, nil
}

func sanitize(name string) string {
	return filepath.Base(name)
}
