// Package uptane implements the TUF/Uptane metadata model and the
// Repository Verifier (spec components C3 and C4): parsing signed role
// metadata, checking signature thresholds, enforcing version
// monotonicity and expiry, and matching Director Targets against the
// Image repository's Targets by name and hash.
package uptane

import "time"

// RepoName distinguishes the two independent Uptane repositories a
// Secondary verifies against.
type RepoName string

const (
	RepoDirector RepoName = "director"
	RepoImage    RepoName = "image"
)

// RoleName names a TUF role within a repository.
type RoleName string

const (
	RoleRoot      RoleName = "root"
	RoleTimestamp RoleName = "timestamp"
	RoleSnapshot  RoleName = "snapshot"
	RoleTargets   RoleName = "targets"
)

// Key is a public key as it appears in a Root role's key ring.
type Key struct {
	KeyID  string `json:"keyid"`
	Type   string `json:"keytype"`
	Scheme string `json:"scheme"`
	Public string `json:"public"`
}

// Signature pairs a key ID with the signature it produced over a
// role's canonical "signed" body.
type Signature struct {
	KeyID string `json:"keyid"`
	Sig   string `json:"sig"`
}

// Signed wraps an arbitrary role body with its signatures, mirroring
// the {"signed": ..., "signatures": [...]} envelope every TUF role
// metadata document uses.
type Signed struct {
	Signed     RawMessage  `json:"signed"`
	Signatures []Signature `json:"signatures"`
}

// RawMessage defers JSON decoding of the signed body until the
// Repository Verifier has checked signatures, so the exact bytes that
// were signed are preserved for verification.
type RawMessage []byte

func (m RawMessage) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return m, nil
}

func (m *RawMessage) UnmarshalJSON(data []byte) error {
	*m = append((*m)[0:0], data...)
	return nil
}

// RoleBase holds the fields common to every role body.
type RoleBase struct {
	Type        string    `json:"_type"`
	SpecVersion string    `json:"spec_version"`
	Version     int       `json:"version"`
	Expires     time.Time `json:"expires"`
}

// RootRole is the "signed" body of a Root metadata document: the full
// key ring and the signature threshold required for each role.
type RootRole struct {
	RoleBase
	Keys               map[string]Key       `json:"keys"`
	Roles              map[RoleName]RoleSpec `json:"roles"`
	ConsistentSnapshot bool                  `json:"consistent_snapshot"`
}

// RoleSpec names which key IDs may sign a role and how many signatures
// are required.
type RoleSpec struct {
	KeyIDs    []string `json:"keyids"`
	Threshold int      `json:"threshold"`
}

// TimestampRole is the Image repository's Timestamp role body: a
// pointer to the current Snapshot's version and hash.
type TimestampRole struct {
	RoleBase
	Meta map[string]FileMeta `json:"meta"`
}

// SnapshotRole is the Image repository's Snapshot role body: a pointer
// to the current Targets version and hash, forming the hash chain
// Timestamp -> Snapshot -> Targets.
type SnapshotRole struct {
	RoleBase
	Meta map[string]FileMeta `json:"meta"`
}

// FileMeta records the expected length and digests of a referenced
// metadata file, used to verify the hash chain between roles.
type FileMeta struct {
	Version int               `json:"version"`
	Length  int64             `json:"length,omitempty"`
	Hashes  map[string]string `json:"hashes,omitempty"`
}

// TargetsRole is a Targets role body: the set of named, hashed target
// files this role vouches for.
type TargetsRole struct {
	RoleBase
	Targets map[string]TargetFile `json:"targets"`
}

// TargetFile describes one update target: its length, digests, and any
// custom metadata (including the hardware ID match used by the
// Secondary to decide whether a Director target names it).
type TargetFile struct {
	Length int64             `json:"length"`
	Hashes map[string]string `json:"hashes"`
	Custom TargetCustom      `json:"custom,omitempty"`
}

// TargetCustom is the subset of the "custom" target field this
// Secondary understands. EcuIdentifiers maps each named ECU's serial to
// the hardware ID the Director expects it to report, so a Targets role
// can legitimately name an entire fleet in one document while each
// Secondary only acts on the entry naming its own serial.
type TargetCustom struct {
	EcuIdentifiers map[string]string `json:"ecuIdentifiers,omitempty"`
	TargetFormat   string            `json:"targetFormat,omitempty"`
	URI            string            `json:"uri,omitempty"`
}
