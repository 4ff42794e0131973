package app

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/ironbridge-io/secondary-agent/cmd/secondary-agent/app/options"
	"github.com/ironbridge-io/secondary-agent/internal/store"
)

// newStatusCommand reports the agent's persisted state without starting
// the TCP server, for an operator or init script to check between
// restarts (e.g. whether a reboot finalized the install it was waiting
// on).
func newStatusCommand(opts *options.SecondaryAgentOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the agent's persisted identity and install state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(opts.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("opening store at %s: %w", opts.Storage.DBPath, err)
			}
			defer func() { _ = st.Close() }()

			return printStatus(cmd, st)
		},
	}
	opts.Storage.AddFlags(cmd.Flags())
	return cmd
}

func printStatus(cmd *cobra.Command, st store.Store) error {
	table := uitable.New()
	table.MaxColWidth = 60
	table.Wrap = true

	serial, err := st.LoadECUSerial()
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("loading ECU serial: %w", err)
	}
	table.AddRow("ECU SERIAL", serial)

	current, err := st.Current()
	if err == nil {
		table.AddRow("CURRENT TARGET", current.TargetName)
		table.AddRow("CURRENT RESULT", resultSummary(current.Result))
	} else if err != store.ErrNotFound {
		return fmt.Errorf("loading current install: %w", err)
	} else {
		table.AddRow("CURRENT TARGET", "(none installed)")
	}

	pending, ok, err := st.Pending()
	if err != nil {
		return fmt.Errorf("loading pending install: %w", err)
	}
	if ok {
		table.AddRow("PENDING TARGET", pending.TargetName)
	} else {
		table.AddRow("PENDING TARGET", "(none)")
	}

	for _, repo := range []store.Repo{store.RepoDirector, store.RepoImage} {
		v, err := st.LatestRootVersion(repo)
		if err != nil {
			return fmt.Errorf("loading root version for %s: %w", repo, err)
		}
		table.AddRow(fmt.Sprintf("%s ROOT VERSION", repo), v)
	}

	fmt.Fprintln(cmd.OutOrStdout(), table)
	return nil
}

func resultSummary(r store.InstallationResult) string {
	if r.Success {
		return "success"
	}
	if r.Description == "" {
		return "failure"
	}
	return fmt.Sprintf("failure: %s", r.Description)
}
