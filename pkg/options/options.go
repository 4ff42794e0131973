// Copyright 2025 The Ironbridge Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package options holds the per-concern option groups shared by the
// commands in this repository, each a small struct implementing
// IOptions so it can be mixed into a top-level NamedFlagSetOptions.
package options

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/pflag"
)

// IOptions is implemented by every leaf option group (crypto, storage,
// network, ...). prefixes lets a group be mounted more than once under
// different flag prefixes; most callers pass none.
type IOptions interface {
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
	Validate() []error
}

// ValidateAddress checks that addr is a valid "host:port" pair with a
// non-empty, numeric port in the valid TCP range.
func ValidateAddress(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port in address %q: %w", addr, err)
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port %d in address %q out of range", port, addr)
	}
	_ = host
	return nil
}

func flagName(prefixes []string, name string) string {
	if len(prefixes) == 0 {
		return name
	}
	out := ""
	for _, p := range prefixes {
		out += p + "."
	}
	return out + name
}
