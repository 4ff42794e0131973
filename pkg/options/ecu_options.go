package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

// ECUOptions carries the identity this Secondary presents to the
// Primary and Director during manifest signing and ECU registration.
type ECUOptions struct {
	// Serial uniquely identifies this ECU within the vehicle. Generated
	// once and persisted if left empty.
	Serial string `json:"serial" mapstructure:"serial"`

	// HardwareID identifies the ECU's hardware family, matched against
	// Director Targets custom metadata.
	HardwareID string `json:"hardware-id" mapstructure:"hardware-id"`
}

var _ IOptions = (*ECUOptions)(nil)

func NewECUOptions() *ECUOptions {
	return &ECUOptions{}
}

func (o *ECUOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Serial, flagName(prefixes, "ecu.serial"), o.Serial,
		"This ECU's serial. Generated and persisted on first run if empty.")
	fs.StringVar(&o.HardwareID, flagName(prefixes, "ecu.hardware-id"), o.HardwareID,
		"This ECU's hardware ID, matched against Director Targets metadata.")
}

func (o *ECUOptions) Validate() []error {
	var errs []error
	if o.HardwareID == "" {
		errs = append(errs, fmt.Errorf("ecu.hardware-id: must not be empty"))
	}
	return errs
}
