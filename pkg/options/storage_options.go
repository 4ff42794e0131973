package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

// StorageOptions configures the Persistent Store (C2), backed by bbolt.
type StorageOptions struct {
	// DBPath is the bbolt database file holding metadata, installed
	// version history, and ECU identity.
	DBPath string `json:"db-path" mapstructure:"db-path"`

	// FirmwareDir holds images received via sendFirmware/uploadData while
	// an install is pending.
	FirmwareDir string `json:"firmware-dir" mapstructure:"firmware-dir"`
}

var _ IOptions = (*StorageOptions)(nil)

func NewStorageOptions() *StorageOptions {
	return &StorageOptions{
		DBPath:      "/var/sota/secondary.db",
		FirmwareDir: "/var/sota/firmware",
	}
}

func (o *StorageOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.DBPath, flagName(prefixes, "storage.db-path"), o.DBPath,
		"Path to the bbolt database file.")
	fs.StringVar(&o.FirmwareDir, flagName(prefixes, "storage.firmware-dir"), o.FirmwareDir,
		"Directory used to stage received firmware images.")
}

func (o *StorageOptions) Validate() []error {
	var errs []error
	if o.DBPath == "" {
		errs = append(errs, fmt.Errorf("storage.db-path: must not be empty"))
	}
	if o.FirmwareDir == "" {
		errs = append(errs, fmt.Errorf("storage.firmware-dir: must not be empty"))
	}
	return errs
}
