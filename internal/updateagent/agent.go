// Package updateagent implements the Update Agent (spec component C5):
// the collaborator the Secondary Core calls to actually stage and
// install a verified target, abstracting over the "file" backend (a
// single image written atomically to a destination path) and the
// "ostree" backend (a staged revision applied on reboot).
package updateagent

import (
	"context"
	"io"

	"github.com/ironbridge-io/secondary-agent/internal/uptane"
)

// ResultCode mirrors the original implementation's data::ResultCode
// values carried back to the Primary over the wire. The exact numeric
// values are not specified by the distilled spec or recoverable from
// the retrieved original source (results.h was not present in the
// retrieval pack); this ordering is a deliberate, documented choice
// (see DESIGN.md) rather than a reproduction of an observed constant.
type ResultCode int

const (
	ResultOK               ResultCode = 0
	ResultAlreadyProcessed ResultCode = 1
	ResultNeedCompletion   ResultCode = 2
	ResultDownloadFailed   ResultCode = 3
	ResultVerificationFailed ResultCode = 4
	ResultInstallFailed    ResultCode = 5
	ResultInternalError    ResultCode = 6
	ResultGeneralError     ResultCode = 7
	ResultUnknown          ResultCode = 8
)

func (r ResultCode) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultAlreadyProcessed:
		return "ALREADY_PROCESSED"
	case ResultNeedCompletion:
		return "NEED_COMPLETION"
	case ResultDownloadFailed:
		return "DOWNLOAD_FAILED"
	case ResultVerificationFailed:
		return "VERIFICATION_FAILED"
	case ResultInstallFailed:
		return "INSTALL_FAILED"
	case ResultInternalError:
		return "INTERNAL_ERROR"
	case ResultGeneralError:
		return "GENERAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// InstallResult is returned by Install, carrying both the wire result
// code and a human-readable description for the ECU manifest.
type InstallResult struct {
	Code        ResultCode
	Description string
}

// InstalledImageInfo describes the image currently considered
// "installed" by this Update Agent, reported in the ECU manifest.
type InstalledImageInfo struct {
	Filename string
	Length   int64
	Hashes   map[string]string
}

// UpdateAgent is the Secondary Core's sole collaborator for turning
// verified target bytes into an installed image. Exactly one backend is
// active per process, selected by pkg/options.PacmanOptions.Type.
type UpdateAgent interface {
	// IsTargetSupported reports whether this backend can install a
	// target with the given custom metadata (used to sanity-check
	// Director Targets before ever touching the network for the image
	// bytes). The check is content-based, on custom.targetFormat, not
	// on the target's filename.
	IsTargetSupported(custom uptane.TargetCustom) bool

	// ReceiveData streams len bytes of a target's image from r to local
	// staging storage, returning once fully received or on error. It
	// does not verify the digest; Secondary Core does that separately
	// before calling Install.
	ReceiveData(ctx context.Context, targetName string, r io.Reader, length int64) error

	// Install applies a fully-received, verified target. A OSTree-style
	// backend returns ResultNeedCompletion, signaling the caller must
	// reboot and call ApplyPendingInstall afterward; a file backend
	// returns ResultOK directly.
	Install(ctx context.Context, targetName string) (InstallResult, error)

	// ApplyPendingInstall finalizes an install that returned
	// ResultNeedCompletion, called once after reboot.
	ApplyPendingInstall(ctx context.Context) (InstallResult, error)

	// GetInstalledImageInfo reports the currently-installed image.
	GetInstalledImageInfo(ctx context.Context) (InstalledImageInfo, error)
}
