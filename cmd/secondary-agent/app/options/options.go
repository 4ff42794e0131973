// Package options assembles the Secondary ECU agent's top-level
// SecondaryAgentOptions out of the shared per-concern option groups in
// pkg/options, the same pattern every command in this repository
// follows, and turns a completed/validated set of options into a
// runnable Config.
package options

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/ironbridge-io/secondary-agent/internal/crypto"
	"github.com/ironbridge-io/secondary-agent/internal/store"
	"github.com/ironbridge-io/secondary-agent/internal/updateagent"
	"github.com/ironbridge-io/secondary-agent/pkg/app"
	"github.com/ironbridge-io/secondary-agent/pkg/log"
	"github.com/ironbridge-io/secondary-agent/pkg/options"
)

// SecondaryAgentOptions is the secondary-agent binary's full set of
// configuration. Every field is populated with defaults by
// NewSecondaryAgentOptions and may be overridden by flag or config file.
type SecondaryAgentOptions struct {
	ECU     *options.ECUOptions     `json:"ecu" mapstructure:"ecu"`
	Crypto  *options.CryptoOptions  `json:"crypto" mapstructure:"crypto"`
	Storage *options.StorageOptions `json:"storage" mapstructure:"storage"`
	Network *options.NetworkOptions `json:"network" mapstructure:"network"`
	Pacman  *options.PacmanOptions  `json:"pacman" mapstructure:"pacman"`
	Log     *log.Options            `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*SecondaryAgentOptions)(nil)

func NewSecondaryAgentOptions() *SecondaryAgentOptions {
	return &SecondaryAgentOptions{
		ECU:     options.NewECUOptions(),
		Crypto:  options.NewCryptoOptions(),
		Storage: options.NewStorageOptions(),
		Network: options.NewNetworkOptions(),
		Pacman:  options.NewPacmanOptions(),
		Log:     log.NewOptions(),
	}
}

func (o *SecondaryAgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.ECU.AddFlags(fss.FlagSet("ecu"))
	o.Crypto.AddFlags(fss.FlagSet("crypto"))
	o.Storage.AddFlags(fss.FlagSet("storage"))
	o.Network.AddFlags(fss.FlagSet("network"))
	o.Pacman.AddFlags(fss.FlagSet("pacman"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *SecondaryAgentOptions) Complete() error {
	return nil
}

func (o *SecondaryAgentOptions) Validate() error {
	var errs []error
	errs = append(errs, o.ECU.Validate()...)
	errs = append(errs, o.Crypto.Validate()...)
	errs = append(errs, o.Storage.Validate()...)
	errs = append(errs, o.Network.Validate()...)
	errs = append(errs, o.Pacman.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

// Config is everything app.run needs to bring the agent up, built from
// validated options.
type Config struct {
	ECUSerial   string
	HardwareID  string
	KeyPair     *crypto.KeyPair
	Store       store.Store
	Agent       updateagent.UpdateAgent
	FirmwareDir string

	ListenAddress       string
	PrimaryAddress      string
	DiscoveryTimeout    time.Duration
	DiscoveryMaxRetries int
}

// Config realizes the options into running collaborators: it loads or
// generates this ECU's signing key, opens the bbolt store, and
// constructs the configured Update Agent backend.
func (o *SecondaryAgentOptions) Config() (*Config, error) {
	kp, err := loadOrGenerateKeyPair(o.Crypto)
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}

	st, err := store.Open(o.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", o.Storage.DBPath, err)
	}

	serial, err := resolveECUSerial(st, o.ECU.Serial)
	if err != nil {
		return nil, fmt.Errorf("resolving ECU serial: %w", err)
	}

	agent, err := newUpdateAgent(o.Pacman, o.Storage)
	if err != nil {
		return nil, fmt.Errorf("constructing update agent: %w", err)
	}

	return &Config{
		ECUSerial:           serial,
		HardwareID:          o.ECU.HardwareID,
		KeyPair:             kp,
		Store:               st,
		Agent:               agent,
		FirmwareDir:         o.Storage.FirmwareDir,
		ListenAddress:       o.Network.ListenAddress,
		PrimaryAddress:      o.Network.PrimaryAddress,
		DiscoveryTimeout:    o.Network.DiscoveryTimeout,
		DiscoveryMaxRetries: o.Network.DiscoveryMaxRetries,
	}, nil
}

// resolveECUSerial honors an explicitly configured serial (persisting it
// so it survives a later invocation with the flag omitted), otherwise
// returns whatever was persisted from an earlier run, otherwise mints
// and persists a fresh one so a blank device has a stable identity
// across reboots without operator provisioning.
func resolveECUSerial(st store.Store, configured string) (string, error) {
	if configured != "" {
		if err := st.SaveECUSerial(configured); err != nil {
			return "", err
		}
		return configured, nil
	}

	if serial, err := st.LoadECUSerial(); err == nil {
		return serial, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	serial := uuid.NewString()
	if err := st.SaveECUSerial(serial); err != nil {
		return "", err
	}
	return serial, nil
}

// loadOrGenerateKeyPair reads the configured PEM key pair, generating
// and persisting a fresh one of the configured type on first run.
func loadOrGenerateKeyPair(o *options.CryptoOptions) (*crypto.KeyPair, error) {
	if raw, err := os.ReadFile(o.PrivateKeyPath); err == nil {
		return crypto.LoadKeyPairFromPEM(raw)
	}

	kp, err := crypto.GenerateKeyPair(crypto.KeyType(o.KeyType))
	if err != nil {
		return nil, fmt.Errorf("generating %s key pair: %w", o.KeyType, err)
	}

	priv, err := kp.MarshalPrivatePEM()
	if err != nil {
		return nil, fmt.Errorf("marshalling private key: %w", err)
	}
	if err := os.WriteFile(o.PrivateKeyPath, priv, 0o600); err != nil {
		return nil, fmt.Errorf("persisting private key to %s: %w", o.PrivateKeyPath, err)
	}

	pub, err := kp.PublicPEM()
	if err != nil {
		return nil, fmt.Errorf("marshalling public key: %w", err)
	}
	if err := os.WriteFile(o.PublicKeyPath, []byte(pub), 0o644); err != nil {
		return nil, fmt.Errorf("persisting public key to %s: %w", o.PublicKeyPath, err)
	}

	return kp, nil
}

// newUpdateAgent builds the configured Update Agent backend. The
// "ostree" backend has no in-tree OstreePuller implementation (wiring
// an actual libostree engine is an explicit non-goal), so it is
// rejected here rather than silently downgraded to "file".
func newUpdateAgent(p *options.PacmanOptions, s *options.StorageOptions) (updateagent.UpdateAgent, error) {
	switch p.Type {
	case "file":
		return updateagent.NewFileAgent(s.FirmwareDir, p.InstallPath)
	case "ostree":
		return nil, fmt.Errorf("pacman.type=ostree requires an OstreePuller implementation not provided by this build")
	default:
		return nil, fmt.Errorf("unsupported pacman.type %q", p.Type)
	}
}
