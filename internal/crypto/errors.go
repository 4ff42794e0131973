package crypto

import "errors"

var (
	// ErrUnsupportedKeyType is returned when a KeyType does not match any
	// backend this package implements.
	ErrUnsupportedKeyType = errors.New("crypto: unsupported key type")

	// ErrUnsupportedSignatureMethod is returned when a verifier
	// encounters a "method" field it does not recognize.
	ErrUnsupportedSignatureMethod = errors.New("crypto: unsupported signature method")

	// ErrInvalidSignature is returned when a signature fails to verify
	// against the given public key and payload.
	ErrInvalidSignature = errors.New("crypto: signature verification failed")

	// ErrKeyNotFound is returned when a key lookup by key ID fails.
	ErrKeyNotFound = errors.New("crypto: key not found")
)
