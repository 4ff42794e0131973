package uptane

import (
	"encoding/json"
	"fmt"
)

// DirectorRepository tracks the Director repository's Root and Targets
// roles. The Director never publishes Timestamp or Snapshot metadata;
// its Targets are trusted directly once signed by a threshold of the
// keys named in its own Root.
type DirectorRepository struct {
	*Repository
}

func NewDirectorRepository() *DirectorRepository {
	return &DirectorRepository{Repository: NewRepository(RepoDirector)}
}

// UpdateTargets verifies and installs a new Director Targets role.
// Rejects a version older than the one currently trusted (the boot-time
// dropTargets reset below is the sanctioned way to go backwards).
func (d *DirectorRepository) UpdateTargets(signed Signed) error {
	if d.Root == nil {
		return ErrNoRoot
	}

	var candidate TargetsRole
	if err := json.Unmarshal(signed.Signed, &candidate); err != nil {
		return fmt.Errorf("uptane: parsing director targets body: %w", err)
	}

	if err := VerifySigned(signed, d.Root, RoleTargets); err != nil {
		return fmt.Errorf("uptane: verifying director targets signatures: %w", err)
	}

	currentVersion := 0
	if d.Targets != nil {
		currentVersion = d.Targets.Version
	}
	if err := d.checkFresh(currentVersion, candidate.Version, candidate.Expires); err != nil {
		return err
	}

	d.TargetsSigned = &signed
	d.Targets = &candidate
	return nil
}

// ResetTargets discards the cached Targets role, forcing the next
// UpdateTargets call to re-run from scratch. Mirrors the original
// implementation's dropTargets(), invoked when a reboot finalize
// discovers the previously-installed target failed to apply: the stale
// Director Targets must not be trusted to still describe the vehicle's
// desired state.
func (d *DirectorRepository) ResetTargets() {
	d.TargetsSigned = nil
	d.Targets = nil
}

// CurrentTarget selects the single target within this Director Targets
// role that names ecuSerial, and checks it names the expected hardware
// ID too. A Targets role may carry entries for other ECUs in the same
// fleet; those are silently ignored here rather than rejected.
func (d *DirectorRepository) CurrentTarget(ecuSerial, hardwareID string) (string, TargetFile, error) {
	if d.Targets == nil {
		return "", TargetFile{}, ErrTargetNotFound
	}
	return EnsureUniqueECUTarget(d.Targets.Targets, ecuSerial, hardwareID)
}
