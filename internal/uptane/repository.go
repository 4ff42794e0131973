package uptane

import (
	"encoding/json"
	"fmt"
	"time"
)

// Repository holds one Uptane repository's currently-trusted chain of
// role metadata along with the clock used to evaluate expiry, so tests
// can inject a fixed time.
type Repository struct {
	Name RoleSourceName
	Now  func() time.Time

	RootSigned Signed
	Root       *RootRole

	TimestampSigned *Signed
	Timestamp       *TimestampRole

	SnapshotSigned *Signed
	Snapshot       *SnapshotRole

	TargetsSigned *Signed
	Targets       *TargetsRole
}

// RoleSourceName is an alias kept distinct from RepoName so repository
// construction reads naturally at call sites (uptane.NewRepository
// ("director", ...)) without import-time ambiguity.
type RoleSourceName = RepoName

func NewRepository(name RepoName) *Repository {
	return &Repository{Name: name, Now: time.Now}
}

// LoadRoot verifies and installs a Root role as the trust anchor. It is
// used both for the very first Root a Secondary ever sees (verified
// against itself) and is otherwise reached only through RotateRoot.
func (r *Repository) LoadRoot(signed Signed) error {
	var candidate RootRole
	if err := json.Unmarshal(signed.Signed, &candidate); err != nil {
		return fmt.Errorf("uptane: parsing root body: %w", err)
	}
	if err := VerifySigned(signed, &candidate, RoleRoot); err != nil {
		return fmt.Errorf("uptane: self-verifying initial root: %w", err)
	}
	if r.Now().After(candidate.Expires) {
		return fmt.Errorf("%w: root expired at %s", ErrExpired, candidate.Expires)
	}
	r.RootSigned = signed
	r.Root = &candidate
	return nil
}

// RotateRoot advances the trust anchor by exactly one version. The new
// Root must be signed by a threshold of the OLD root's keys (proving
// continuity of trust) and separately verify against its own embedded
// key ring (proving internal consistency), per spec.md's Root rotation
// invariant (N -> N+1 only, no version skipping).
func (r *Repository) RotateRoot(signed Signed) error {
	if r.Root == nil {
		return ErrNoRoot
	}

	var candidate RootRole
	if err := json.Unmarshal(signed.Signed, &candidate); err != nil {
		return fmt.Errorf("uptane: parsing root body: %w", err)
	}

	if candidate.Version != r.Root.Version+1 {
		return fmt.Errorf("%w: have %d, got %d", ErrRootRotationSkipped, r.Root.Version, candidate.Version)
	}

	if err := VerifySigned(signed, r.Root, RoleRoot); err != nil {
		return fmt.Errorf("uptane: verifying new root against old keys: %w", err)
	}
	if err := VerifySigned(signed, &candidate, RoleRoot); err != nil {
		return fmt.Errorf("uptane: verifying new root against its own keys: %w", err)
	}
	if r.Now().After(candidate.Expires) {
		return fmt.Errorf("%w: root expired at %s", ErrExpired, candidate.Expires)
	}

	r.RootSigned = signed
	r.Root = &candidate
	return nil
}

// checkFresh enforces version monotonicity (a version lower than the
// currently-trusted one is rejected; an equal version is accepted without
// comparing its contents to the trusted copy, and the caller then replaces
// that copy) and expiry against the repository's clock.
func (r *Repository) checkFresh(currentVersion, newVersion int, expires time.Time) error {
	if newVersion < currentVersion {
		return fmt.Errorf("%w: have %d, got %d", ErrVersionRollback, currentVersion, newVersion)
	}
	if r.Now().After(expires) {
		return fmt.Errorf("%w: expires %s", ErrExpired, expires)
	}
	return nil
}
