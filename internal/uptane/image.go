package uptane

import (
	"encoding/json"
	"fmt"

	ibcrypto "github.com/ironbridge-io/secondary-agent/internal/crypto"
)

// ImageRepository tracks the Image repository's full TUF role chain:
// Root, Timestamp, Snapshot, Targets. Each role beyond Root must
// hash-chain to the one above it (Timestamp names Snapshot's
// version+hash, Snapshot names Targets' version+hash), so a compromised
// mirror cannot serve a stale Targets alongside a fresh Timestamp.
// Where the referencing role declares no hashes for the next one, no
// digest is checked: only its version, and its length if one is declared.
type ImageRepository struct {
	*Repository
}

func NewImageRepository() *ImageRepository {
	return &ImageRepository{Repository: NewRepository(RepoImage)}
}

func (img *ImageRepository) UpdateTimestamp(signed Signed) error {
	if img.Root == nil {
		return ErrNoRoot
	}
	var candidate TimestampRole
	if err := json.Unmarshal(signed.Signed, &candidate); err != nil {
		return fmt.Errorf("uptane: parsing image timestamp body: %w", err)
	}
	if err := VerifySigned(signed, img.Root, RoleTimestamp); err != nil {
		return fmt.Errorf("uptane: verifying image timestamp signatures: %w", err)
	}
	currentVersion := 0
	if img.Timestamp != nil {
		currentVersion = img.Timestamp.Version
	}
	if err := img.checkFresh(currentVersion, candidate.Version, candidate.Expires); err != nil {
		return err
	}
	img.TimestampSigned = &signed
	img.Timestamp = &candidate
	return nil
}

func (img *ImageRepository) UpdateSnapshot(signed Signed) error {
	if img.Timestamp == nil {
		return fmt.Errorf("uptane: no timestamp loaded, cannot verify snapshot hash chain")
	}
	meta, ok := img.Timestamp.Meta["snapshot.json"]
	if !ok {
		return fmt.Errorf("uptane: timestamp does not reference snapshot.json")
	}
	if err := verifyFileMeta(meta, signed.Signed); err != nil {
		return fmt.Errorf("uptane: snapshot hash chain: %w", err)
	}

	var candidate SnapshotRole
	if err := json.Unmarshal(signed.Signed, &candidate); err != nil {
		return fmt.Errorf("uptane: parsing image snapshot body: %w", err)
	}
	if candidate.Version != meta.Version {
		return fmt.Errorf("%w: timestamp names snapshot version %d, got %d", ErrVersionMismatch, meta.Version, candidate.Version)
	}
	if err := VerifySigned(signed, img.Root, RoleSnapshot); err != nil {
		return fmt.Errorf("uptane: verifying image snapshot signatures: %w", err)
	}
	currentVersion := 0
	if img.Snapshot != nil {
		currentVersion = img.Snapshot.Version
	}
	if err := img.checkFresh(currentVersion, candidate.Version, candidate.Expires); err != nil {
		return err
	}
	img.SnapshotSigned = &signed
	img.Snapshot = &candidate
	return nil
}

func (img *ImageRepository) UpdateTargets(signed Signed) error {
	if img.Snapshot == nil {
		return fmt.Errorf("uptane: no snapshot loaded, cannot verify targets hash chain")
	}
	meta, ok := img.Snapshot.Meta["targets.json"]
	if !ok {
		return fmt.Errorf("uptane: snapshot does not reference targets.json")
	}
	if len(meta.Hashes) > 0 {
		if err := verifyFileMeta(meta, signed.Signed); err != nil {
			return fmt.Errorf("uptane: targets hash chain: %w", err)
		}
	}

	var candidate TargetsRole
	if err := json.Unmarshal(signed.Signed, &candidate); err != nil {
		return fmt.Errorf("uptane: parsing image targets body: %w", err)
	}
	if candidate.Version != meta.Version {
		return fmt.Errorf("%w: snapshot names targets version %d, got %d", ErrVersionMismatch, meta.Version, candidate.Version)
	}
	if err := VerifySigned(signed, img.Root, RoleTargets); err != nil {
		return fmt.Errorf("uptane: verifying image targets signatures: %w", err)
	}
	currentVersion := 0
	if img.Targets != nil {
		currentVersion = img.Targets.Version
	}
	if err := img.checkFresh(currentVersion, candidate.Version, candidate.Expires); err != nil {
		return err
	}
	img.TargetsSigned = &signed
	img.Targets = &candidate
	return nil
}

// verifyFileMeta checks that body's length and digests match meta,
// enforcing the hash chain between adjacent roles.
func verifyFileMeta(meta FileMeta, body RawMessage) error {
	if meta.Length > 0 && int64(len(body)) != meta.Length {
		return fmt.Errorf("%w: length expected %d, got %d", ErrHashMismatch, meta.Length, len(body))
	}
	for algo, want := range meta.Hashes {
		ok, err := ibcrypto.VerifyDigest(ibcrypto.HashAlgorithm(algo), body, want)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s digest mismatch", ErrHashMismatch, algo)
		}
	}
	return nil
}
