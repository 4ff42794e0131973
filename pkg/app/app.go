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

// Package app provides a small cobra/viper bootstrap shared by every
// command in this repository: a NamedFlagSetOptions implementation describes
// its own flags and validation, and App turns that into a runnable
// *cobra.Command with consistent --config/--version handling.
package app

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/ironbridge-io/secondary-agent/pkg/log"
)

// RunFunc is the entry point executed once options have been completed
// and validated.
type RunFunc func() error

// NamedFlagSetOptions is implemented by every command's top-level
// Options struct.
type NamedFlagSetOptions interface {
	// Flags returns the full set of named flag groups for the command.
	Flags() cliflag.NamedFlagSets

	// Complete fills in any derived fields once flags/config are bound.
	Complete() error

	// Validate checks the options are internally consistent.
	Validate() error
}

// App wraps a *cobra.Command with the conventions shared across the
// binaries in this repository.
type App struct {
	name        string
	shortDesc   string
	longDesc    string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	validArgs   cobra.PositionalArgs
	cmd         *cobra.Command
	configPaths []string
}

// Option configures an App at construction time.
type Option func(*App)

// WithDescription sets the long description shown in --help.
func WithDescription(desc string) Option {
	return func(a *App) { a.longDesc = desc }
}

// WithOptions attaches the command's option set. Its flags are bound
// into the command's flag sets and its Complete/Validate are invoked
// automatically before the run function executes.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

// WithRunFunc sets the function executed after options are completed
// and validated.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithDefaultValidArgs restricts the command to accepting no positional
// arguments, which is the default for every agent binary here.
func WithDefaultValidArgs() Option {
	return func(a *App) { a.validArgs = cobra.NoArgs }
}

// NewApp constructs an App. name is the binary/command name, shortDesc
// is the one-line --help summary.
func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.buildCommand()
	return a
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.longDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.validArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd)
		},
	}

	cmd.Flags().SortFlags = false
	cmd.PersistentFlags().StringArrayVar(&a.configPaths, "config", nil,
		"Path to a YAML/JSON/TOML config file. May be repeated; later files win.")

	var showVersion bool
	cmd.Flags().BoolVar(&showVersion, "version", false, "Print version information and exit.")

	if a.options != nil {
		namedFlagSets := a.options.Flags()
		fs := cmd.Flags()
		for _, f := range namedFlagSets.FlagSets {
			fs.AddFlagSet(f)
		}

		usageFn := func(cmd *cobra.Command) error {
			printSections(os.Stderr, namedFlagSets, cmd.Name())
			return nil
		}
		cmd.SetUsageFunc(func(c *cobra.Command) error { return usageFn(c) })
		cmd.SetHelpFunc(func(c *cobra.Command, args []string) {
			fmt.Fprintf(os.Stdout, "%s\n\n%s\n", c.Long, c.Short)
			printSections(os.Stdout, namedFlagSets, c.Name())
		})
	}

	origRunE := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Fprintf(os.Stdout, "%s %s (%s)\n", a.name, Version, Commit)
			return nil
		}
		return origRunE(cmd, args)
	}

	a.cmd = cmd
}

func printSections(w *os.File, fss cliflag.NamedFlagSets, _ string) {
	for _, name := range fss.Order {
		fs := fss.FlagSets[name]
		if !fs.HasFlags() {
			continue
		}
		fmt.Fprintf(w, "\n%s flags:\n", name)
		fmt.Fprint(w, fs.FlagUsages())
	}
}

func (a *App) run(cmd *cobra.Command) error {
	if err := a.loadConfig(cmd); err != nil {
		return err
	}

	if a.options != nil {
		if err := a.options.Complete(); err != nil {
			return fmt.Errorf("completing options: %w", err)
		}
		if err := a.options.Validate(); err != nil {
			return fmt.Errorf("validating options: %w", err)
		}
	}

	if a.runFunc == nil {
		return nil
	}
	return a.runFunc()
}

// loadConfig layers any --config files (later files win) on top of
// already-bound flag defaults using viper, then re-unmarshals onto the
// bound flag set so later Complete/Validate calls see the merged view.
// It also arms an fsnotify watch purely to warn on drift; a running
// agent never hot-reloads configuration.
func (a *App) loadConfig(cmd *cobra.Command) error {
	if len(a.configPaths) == 0 {
		return nil
	}

	v := viper.New()
	v.SetEnvPrefix("SECONDARY")
	v.AutomaticEnv()

	for _, p := range a.configPaths {
		v.SetConfigFile(p)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("loading config %q: %w", p, err)
		}
	}

	if err := bindViperToFlags(v, cmd.Flags()); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		for _, p := range a.configPaths {
			_ = watcher.Add(p)
		}
		go func() {
			for event := range watcher.Events {
				if event.Op&(fsnotify.Write|fsnotify.Remove) != 0 {
					log.Warn("config file changed on disk; restart the agent to pick up changes",
						"path", event.Name)
				}
			}
		}()
	}

	return nil
}

// bindViperToFlags assigns any config-file value to its matching flag,
// but only when the flag was not explicitly set on the command line, so
// CLI flags always win over file values.
func bindViperToFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var walkErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if walkErr != nil || f.Changed {
			return
		}
		key := f.Name
		if !v.IsSet(key) {
			return
		}
		if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(key))); err != nil {
			walkErr = fmt.Errorf("applying config value for %q: %w", f.Name, err)
		}
	})
	return walkErr
}

// Command returns the underlying cobra command, for binaries that want
// to call Execute() themselves.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command against os.Args[1:].
func (a *App) Run() error {
	return a.cmd.Execute()
}
