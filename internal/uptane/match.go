package uptane

import "fmt"

// MatchTarget enforces the cross-repository invariant at the heart of
// Uptane: a Director may point this ECU at an update, but the actual
// bytes always come from (and are authenticated by) the Image
// repository. The Director-named target and the Image-repository entry
// of the same name must agree on length and every digest the Director
// specified.
func MatchTarget(directorTarget TargetFile, imageTargets map[string]TargetFile, name string) (TargetFile, error) {
	imageTarget, ok := imageTargets[name]
	if !ok {
		return TargetFile{}, fmt.Errorf("%w: %q", ErrTargetNotFound, name)
	}

	if directorTarget.Length != imageTarget.Length {
		return TargetFile{}, fmt.Errorf("%w: length director=%d image=%d", ErrTargetMismatch, directorTarget.Length, imageTarget.Length)
	}

	for algo, want := range directorTarget.Hashes {
		got, ok := imageTarget.Hashes[algo]
		if !ok {
			return TargetFile{}, fmt.Errorf("%w: image target missing %s digest", ErrTargetMismatch, algo)
		}
		if got != want {
			return TargetFile{}, fmt.Errorf("%w: %s digest director=%s image=%s", ErrTargetMismatch, algo, want, got)
		}
	}

	return imageTarget, nil
}

// EnsureUniqueECUTarget enforces the per-ECU selection a Secondary runs
// over a Director Targets role before acting on it. A single Targets
// role may legitimately name an entire fleet (one entry per ECU); this
// walks every entry's custom.ecuIdentifiers map looking for this ECU's
// serial, exactly as getNewTargets() walks each target's ecus() map in
// the original implementation. A serial present but mapped to the wrong
// hardware ID is BadHardwareId, not a miss; more than one entry naming
// this serial is BadTargetCount, matching the original's "zero or more
// than one matching target" rejection.
func EnsureUniqueECUTarget(targets map[string]TargetFile, ecuSerial, hardwareID string) (string, TargetFile, error) {
	var (
		matchName string
		matchFile TargetFile
		count     int
	)
	for name, tf := range targets {
		hwid, ok := tf.Custom.EcuIdentifiers[ecuSerial]
		if !ok {
			continue
		}
		if hwid != hardwareID {
			return "", TargetFile{}, fmt.Errorf("%w: ecu %q expected %q, target named %q", ErrBadHardwareID, ecuSerial, hardwareID, hwid)
		}
		count++
		matchName, matchFile = name, tf
	}
	switch count {
	case 0:
		return "", TargetFile{}, fmt.Errorf("%w: no target names ecu %q", ErrBadTargetCount, ecuSerial)
	case 1:
		return matchName, matchFile, nil
	default:
		return "", TargetFile{}, fmt.Errorf("%w: %d targets name ecu %q", ErrBadTargetCount, count, ecuSerial)
	}
}
