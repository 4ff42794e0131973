// Package store implements the Secondary's Persistent Store (spec
// component C2): versioned Root metadata, latest-only metadata for
// every other role, installed-version history with an enforced
// at-most-one current/pending invariant, and ECU identity.
package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup finds nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrPendingExists is returned by RecordPending when a pending
	// installed version is already recorded; only one install may be
	// in flight at a time.
	ErrPendingExists = errors.New("store: a pending install already exists")
)

// Repo distinguishes the Director and Image repositories for storage
// keys, mirroring uptane.RepoName without importing it (store must not
// depend on uptane; uptane may depend on store).
type Repo string

const (
	RepoDirector Repo = "director"
	RepoImage    Repo = "image"
)

// Role names a metadata role within a repository for storage keys.
type Role string

const (
	RoleRoot      Role = "root"
	RoleTimestamp Role = "timestamp"
	RoleSnapshot  Role = "snapshot"
	RoleTargets   Role = "targets"
)

// InstalledVersion records one entry in the installed-version history:
// a target that was at some point installed, pending, or is the
// currently-running image.
type InstalledVersion struct {
	TargetName string
	Length     int64
	Hashes     map[string]string
	Current    bool
	Pending    bool
	InstalledAt time.Time
	Result      InstallationResult
}

// InstallationResult is the outcome of an install attempt, carried in
// the ECU manifest's installation_result field.
type InstallationResult struct {
	Success     bool
	ResultCode  int
	Description string
}

// Store is the full persistence contract. Every mutating call is one
// bbolt transaction: a crash between two calls never leaves the store
// in a state where e.g. two installed versions are both marked current.
type Store interface {
	// SaveRoot persists a Root metadata document for repo at the given
	// version. Root is kept versioned (never overwritten) so mismatch
	// and rollback-attack investigation can replay the trust chain.
	SaveRoot(repo Repo, version int, raw []byte) error
	// LoadRoot returns the Root document for repo at version.
	LoadRoot(repo Repo, version int) ([]byte, error)
	// LatestRootVersion returns the highest version saved for repo, or
	// 0 if none has been saved.
	LatestRootVersion(repo Repo) (int, error)

	// SaveLatestMeta persists the single latest copy of a non-Root role
	// for repo, overwriting whatever was stored before.
	SaveLatestMeta(repo Repo, role Role, raw []byte) error
	// LoadLatestMeta returns the last-saved non-Root role document.
	LoadLatestMeta(repo Repo, role Role) ([]byte, error)

	// RecordPending appends a pending installed-version entry. Fails
	// with ErrPendingExists if one is already pending.
	RecordPending(v InstalledVersion) error
	// PromotePendingToCurrent marks the pending entry (if any) as the
	// current installed version and un-marks whatever was current
	// before, atomically.
	PromotePendingToCurrent(result InstallationResult) error
	// DropPending discards a pending entry without promoting it, used
	// when install() fails outright (not kNeedCompletion).
	DropPending() error
	// Current returns the currently-installed version, if any.
	Current() (InstalledVersion, error)
	// Pending returns the pending version, if any.
	Pending() (InstalledVersion, bool, error)
	// History returns every installed-version entry, oldest first.
	History() ([]InstalledVersion, error)

	// SaveECUSerial persists this ECU's serial, generating nothing
	// (caller decides the value); SaveECUSerial is idempotent.
	SaveECUSerial(serial string) error
	// LoadECUSerial returns the previously-saved serial, or ErrNotFound.
	LoadECUSerial() (string, error)

	// SavePrivateKey persists the PEM-encoded signing key.
	SavePrivateKey(pemBytes []byte) error
	// LoadPrivateKey returns the previously-saved key, or ErrNotFound.
	LoadPrivateKey() ([]byte, error)

	Close() error
}
