package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// NetworkOptions configures the TCP Server (C8): the listen address and
// the Primary discovery dial-out that precedes the accept loop.
type NetworkOptions struct {
	// ListenAddress is the address the Secondary listens on for the
	// Primary's connections, e.g. "0.0.0.0:9030".
	ListenAddress string `json:"listen-address" mapstructure:"listen-address"`

	// PrimaryAddress is dialed once at startup to announce this ECU to
	// the Primary before the accept loop begins. Empty disables it.
	PrimaryAddress string `json:"primary-address" mapstructure:"primary-address"`

	// DiscoveryTimeout bounds a single dial attempt.
	DiscoveryTimeout time.Duration `json:"discovery-timeout" mapstructure:"discovery-timeout"`

	// DiscoveryMaxRetries bounds the backoff retry count for the initial
	// discovery dial-out. 0 means a single attempt, no retry.
	DiscoveryMaxRetries int `json:"discovery-max-retries" mapstructure:"discovery-max-retries"`
}

var _ IOptions = (*NetworkOptions)(nil)

func NewNetworkOptions() *NetworkOptions {
	return &NetworkOptions{
		ListenAddress:       "0.0.0.0:9030",
		DiscoveryTimeout:    5 * time.Second,
		DiscoveryMaxRetries: 5,
	}
}

func (o *NetworkOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.ListenAddress, flagName(prefixes, "network.listen-address"), o.ListenAddress,
		"Address to listen on for Primary connections (host:port).")
	fs.StringVar(&o.PrimaryAddress, flagName(prefixes, "network.primary-address"), o.PrimaryAddress,
		"Primary address to dial at startup for discovery (host:port). Empty disables discovery dial-out.")
	fs.DurationVar(&o.DiscoveryTimeout, flagName(prefixes, "network.discovery-timeout"), o.DiscoveryTimeout,
		"Timeout for a single discovery dial attempt.")
	fs.IntVar(&o.DiscoveryMaxRetries, flagName(prefixes, "network.discovery-max-retries"), o.DiscoveryMaxRetries,
		"Maximum retry attempts for the discovery dial-out.")
}

func (o *NetworkOptions) Validate() []error {
	var errs []error
	if err := ValidateAddress(o.ListenAddress); err != nil {
		errs = append(errs, fmt.Errorf("network.listen-address: %w", err))
	}
	if o.PrimaryAddress != "" {
		if err := ValidateAddress(o.PrimaryAddress); err != nil {
			errs = append(errs, fmt.Errorf("network.primary-address: %w", err))
		}
	}
	if o.DiscoveryMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("network.discovery-max-retries: must be >= 0"))
	}
	return errs
}
