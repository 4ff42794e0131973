// Package crypto implements the Secondary's key management, canonical
// JSON serialization, and hashing primitives (spec component C1).
//
// Key IDs follow the TUF convention: the hex-encoded SHA-256 digest of
// the canonical JSON form of the public key. Every signature produced
// or verified in this repository, the ECU manifest included, is computed
// over the canonical JSON of the signed object, never over a Go-specific
// re-serialization.
package crypto

import (
	stdcrypto "crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
)

// KeyType identifies a signing algorithm family and key size.
type KeyType string

const (
	KeyTypeEd25519  KeyType = "ed25519"
	KeyTypeRSA2048  KeyType = "rsa-2048"
	KeyTypeRSA3072  KeyType = "rsa-3072"
	KeyTypeRSA4096  KeyType = "rsa-4096"
)

// SignatureMethod is the wire-level "method" string carried alongside
// every signature, matching the values the Primary and Director put in
// TUF role metadata.
type SignatureMethod string

const (
	MethodEd25519       SignatureMethod = "ed25519"
	MethodRSASSAPSSSHA256 SignatureMethod = "rsassa-pss-sha256"
)

// publicKeyDoc is the canonical JSON representation of a public key
// whose digest is the key's ID. Field order is irrelevant: CanonicalJSON
// re-sorts keys, but the set of fields and their values must be stable.
type publicKeyDoc struct {
	KeyType string          `json:"keytype"`
	Scheme  string          `json:"scheme"`
	KeyVal  publicKeyValDoc `json:"keyval"`
}

type publicKeyValDoc struct {
	Public string `json:"public"`
}

// KeyPair holds a loaded or generated signing identity.
type KeyPair struct {
	Type SignatureMethod

	ed25519Private ed25519.PrivateKey
	ed25519Public  ed25519.PublicKey

	rsaPrivate *rsa.PrivateKey
	rsaPublic  *rsa.PublicKey

	keyID string
}

// GenerateKeyPair creates a fresh key pair of the given type.
func GenerateKeyPair(kt KeyType) (*KeyPair, error) {
	switch kt {
	case KeyTypeEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("crypto: generating ed25519 key: %w", err)
		}
		return newEd25519KeyPair(pub, priv)
	case KeyTypeRSA2048, KeyTypeRSA3072, KeyTypeRSA4096:
		bits, err := rsaBits(kt)
		if err != nil {
			return nil, err
		}
		priv, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, fmt.Errorf("crypto: generating rsa key: %w", err)
		}
		return newRSAKeyPair(&priv.PublicKey, priv)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, kt)
	}
}

func rsaBits(kt KeyType) (int, error) {
	switch kt {
	case KeyTypeRSA2048:
		return 2048, nil
	case KeyTypeRSA3072:
		return 3072, nil
	case KeyTypeRSA4096:
		return 4096, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, kt)
	}
}

func newEd25519KeyPair(pub ed25519.PublicKey, priv ed25519.PrivateKey) (*KeyPair, error) {
	kp := &KeyPair{
		Type:           MethodEd25519,
		ed25519Private: priv,
		ed25519Public:  pub,
	}
	id, err := computeKeyID(publicKeyDoc{
		KeyType: "ed25519",
		Scheme:  string(MethodEd25519),
		KeyVal:  publicKeyValDoc{Public: hex.EncodeToString(pub)},
	})
	if err != nil {
		return nil, err
	}
	kp.keyID = id
	return kp, nil
}

func newRSAKeyPair(pub *rsa.PublicKey, priv *rsa.PrivateKey) (*KeyPair, error) {
	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshalling rsa public key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	kp := &KeyPair{
		Type:       MethodRSASSAPSSSHA256,
		rsaPrivate: priv,
		rsaPublic:  pub,
	}
	id, err := computeKeyID(publicKeyDoc{
		KeyType: "rsa",
		Scheme:  string(MethodRSASSAPSSSHA256),
		KeyVal:  publicKeyValDoc{Public: string(pemBytes)},
	})
	if err != nil {
		return nil, err
	}
	kp.keyID = id
	return kp, nil
}

func computeKeyID(doc publicKeyDoc) (string, error) {
	canon, err := CanonicalJSON(doc)
	if err != nil {
		return "", fmt.Errorf("crypto: computing key id: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// KeyID returns this key's TUF-style key ID.
func (kp *KeyPair) KeyID() string { return kp.keyID }

// PublicPEM returns the PEM-armored public key, used by the KeyManager
// to advertise this ECU's key in getInfo responses. Ed25519 keys are
// PKIX-wrapped for a uniform PEM representation across key types.
func (kp *KeyPair) PublicPEM() (string, error) {
	switch kp.Type {
	case MethodEd25519:
		der, err := x509.MarshalPKIXPublicKey(kp.ed25519Public)
		if err != nil {
			return "", fmt.Errorf("crypto: marshalling ed25519 public key: %w", err)
		}
		return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
	case MethodRSASSAPSSSHA256:
		der, err := x509.MarshalPKIXPublicKey(kp.rsaPublic)
		if err != nil {
			return "", fmt.Errorf("crypto: marshalling rsa public key: %w", err)
		}
		return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSignatureMethod, kp.Type)
	}
}

// Sign produces a signature over data using this key pair's method.
func (kp *KeyPair) Sign(data []byte) ([]byte, error) {
	switch kp.Type {
	case MethodEd25519:
		return ed25519.Sign(kp.ed25519Private, data), nil
	case MethodRSASSAPSSSHA256:
		digest := sha256.Sum256(data)
		sig, err := rsa.SignPSS(rand.Reader, kp.rsaPrivate, stdcrypto.SHA256, digest[:], &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       stdcrypto.SHA256,
		})
		if err != nil {
			return nil, fmt.Errorf("crypto: rsa-pss signing: %w", err)
		}
		return sig, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSignatureMethod, kp.Type)
	}
}

// VerifySignature checks sig over data against a PEM/hex-encoded public
// key and the named method. Used by the Repository Verifier (C4) to
// check TUF role signatures without holding any private key material.
func VerifySignature(method SignatureMethod, publicKey string, data, sig []byte) error {
	switch method {
	case MethodEd25519:
		raw, err := hex.DecodeString(publicKey)
		if err != nil {
			// Fall back to PKIX PEM, since getInfo advertises PEM.
			pub, perr := decodeEd25519PEM(publicKey)
			if perr != nil {
				return fmt.Errorf("crypto: decoding ed25519 public key: %w", err)
			}
			raw = pub
		}
		if len(raw) != ed25519.PublicKeySize {
			return fmt.Errorf("crypto: invalid ed25519 public key size %d", len(raw))
		}
		if !ed25519.Verify(ed25519.PublicKey(raw), data, sig) {
			return ErrInvalidSignature
		}
		return nil
	case MethodRSASSAPSSSHA256:
		pub, err := decodeRSAPEM(publicKey)
		if err != nil {
			return err
		}
		digest := sha256.Sum256(data)
		if err := rsa.VerifyPSS(pub, stdcrypto.SHA256, digest[:], sig, &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       stdcrypto.SHA256,
		}); err != nil {
			return ErrInvalidSignature
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedSignatureMethod, method)
	}
}

func decodeEd25519PEM(s string) ([]byte, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: PEM block is not an ed25519 public key")
	}
	return edPub, nil
}

func decodeRSAPEM(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parsing rsa public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: PEM block is not an rsa public key")
	}
	return rsaPub, nil
}

// MarshalPrivatePEM serializes the private key to PEM for persistence.
func (kp *KeyPair) MarshalPrivatePEM() ([]byte, error) {
	switch kp.Type {
	case MethodEd25519:
		der, err := x509.MarshalPKCS8PrivateKey(kp.ed25519Private)
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
	case MethodRSASSAPSSSHA256:
		der := x509.MarshalPKCS1PrivateKey(kp.rsaPrivate)
		return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSignatureMethod, kp.Type)
	}
}

// LoadKeyPairFromPEM reconstructs a KeyPair from a PEM-encoded private
// key, inferring its type from the key's Go type.
func LoadKeyPairFromPEM(pemBytes []byte) (*KeyPair, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found in private key file")
	}

	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("crypto: parsing pkcs8 private key: %w", err)
		}
		edKey, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("crypto: pkcs8 key is not ed25519")
		}
		return newEd25519KeyPair(edKey.Public().(ed25519.PublicKey), edKey)
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("crypto: parsing pkcs1 private key: %w", err)
		}
		return newRSAKeyPair(&key.PublicKey, key)
	default:
		return nil, fmt.Errorf("crypto: unrecognized PEM block type %q", block.Type)
	}
}
