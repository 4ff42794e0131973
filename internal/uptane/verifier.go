package uptane

import (
	"encoding/json"
	"fmt"

	ibcrypto "github.com/ironbridge-io/secondary-agent/internal/crypto"
)

// VerifySigned checks that signed carries at least root's configured
// threshold of valid signatures from the key IDs root authorizes for
// role, over signed.Signed's canonical JSON bytes.
func VerifySigned(signed Signed, root *RootRole, role RoleName) error {
	spec, ok := root.Roles[role]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	authorized := make(map[string]struct{}, len(spec.KeyIDs))
	for _, id := range spec.KeyIDs {
		authorized[id] = struct{}{}
	}

	canon, err := canonicalizeRaw(signed.Signed)
	if err != nil {
		return fmt.Errorf("uptane: canonicalizing signed body: %w", err)
	}

	valid := 0
	seen := make(map[string]struct{}, len(signed.Signatures))
	for _, sig := range signed.Signatures {
		if _, ok := authorized[sig.KeyID]; !ok {
			continue
		}
		if _, dup := seen[sig.KeyID]; dup {
			continue
		}
		key, ok := root.Keys[sig.KeyID]
		if !ok {
			continue
		}
		sigBytes, err := decodeHexOrBase64(sig.Sig)
		if err != nil {
			continue
		}
		if err := ibcrypto.VerifySignature(ibcrypto.SignatureMethod(key.Scheme), key.Public, canon, sigBytes); err != nil {
			continue
		}
		seen[sig.KeyID] = struct{}{}
		valid++
	}

	if valid < spec.Threshold {
		return fmt.Errorf("%w: role %s got %d of %d required", ErrSignatureThreshold, role, valid, spec.Threshold)
	}
	return nil
}

func canonicalizeRaw(raw RawMessage) ([]byte, error) {
	var generic any
	dec := json.NewDecoder(jsonReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return ibcrypto.CanonicalJSON(generic)
}
