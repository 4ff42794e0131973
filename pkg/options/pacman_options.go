package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

// PacmanOptions selects and configures the Update Agent's package manager
// collaborator (C5): how images are installed once verified.
type PacmanOptions struct {
	// Type selects the install backend: "file" (write-and-rename a
	// single image to InstallPath) or "ostree" (stage a revision for
	// application on reboot).
	Type string `json:"type" mapstructure:"type"`

	// InstallPath is the destination path for the "file" backend.
	InstallPath string `json:"install-path" mapstructure:"install-path"`

	// OstreeSysroot is the sysroot path for the "ostree" backend.
	OstreeSysroot string `json:"ostree-sysroot" mapstructure:"ostree-sysroot"`
}

var _ IOptions = (*PacmanOptions)(nil)

func NewPacmanOptions() *PacmanOptions {
	return &PacmanOptions{
		Type:        "file",
		InstallPath: "/var/sota/installed.img",
	}
}

func (o *PacmanOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Type, flagName(prefixes, "pacman.type"), o.Type,
		"Update agent backend: file or ostree.")
	fs.StringVar(&o.InstallPath, flagName(prefixes, "pacman.install-path"), o.InstallPath,
		"Destination path for the file backend.")
	fs.StringVar(&o.OstreeSysroot, flagName(prefixes, "pacman.ostree-sysroot"), o.OstreeSysroot,
		"Sysroot path for the ostree backend.")
}

func (o *PacmanOptions) Validate() []error {
	var errs []error
	switch o.Type {
	case "file":
		if o.InstallPath == "" {
			errs = append(errs, fmt.Errorf("pacman.install-path: required when pacman.type=file"))
		}
	case "ostree":
		if o.OstreeSysroot == "" {
			errs = append(errs, fmt.Errorf("pacman.ostree-sysroot: required when pacman.type=ostree"))
		}
	default:
		errs = append(errs, fmt.Errorf("pacman.type: unsupported backend %q", o.Type))
	}
	return errs
}
