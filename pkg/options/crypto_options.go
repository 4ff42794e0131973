package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

// CryptoOptions configures the Secondary's key material (C1 Crypto /
// KeyManager).
type CryptoOptions struct {
	// PrivateKeyPath is the PEM file holding this ECU's signing key.
	// Generated on first run if it does not exist.
	PrivateKeyPath string `json:"private-key-path" mapstructure:"private-key-path"`

	// PublicKeyPath is the PEM file holding the corresponding public key.
	PublicKeyPath string `json:"public-key-path" mapstructure:"public-key-path"`

	// KeyType selects the signing algorithm: "ed25519", "rsa-2048",
	// "rsa-3072", or "rsa-4096".
	KeyType string `json:"key-type" mapstructure:"key-type"`
}

var _ IOptions = (*CryptoOptions)(nil)

func NewCryptoOptions() *CryptoOptions {
	return &CryptoOptions{
		PrivateKeyPath: "/var/sota/import/sec.private.pem",
		PublicKeyPath:  "/var/sota/import/sec.public.pem",
		KeyType:        "ed25519",
	}
}

func (o *CryptoOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.PrivateKeyPath, flagName(prefixes, "crypto.private-key-path"), o.PrivateKeyPath,
		"Path to the ECU's private signing key.")
	fs.StringVar(&o.PublicKeyPath, flagName(prefixes, "crypto.public-key-path"), o.PublicKeyPath,
		"Path to the ECU's public signing key.")
	fs.StringVar(&o.KeyType, flagName(prefixes, "crypto.key-type"), o.KeyType,
		"Signing key type: ed25519, rsa-2048, rsa-3072, or rsa-4096.")
}

func (o *CryptoOptions) Validate() []error {
	var errs []error
	switch o.KeyType {
	case "ed25519", "rsa-2048", "rsa-3072", "rsa-4096":
	default:
		errs = append(errs, fmt.Errorf("crypto.key-type: unsupported key type %q", o.KeyType))
	}
	if o.PrivateKeyPath == "" {
		errs = append(errs, fmt.Errorf("crypto.private-key-path: must not be empty"))
	}
	if o.PublicKeyPath == "" {
		errs = append(errs, fmt.Errorf("crypto.public-key-path: must not be empty"))
	}
	return errs
}
