package main

import (
	"github.com/spf13/cobra"
)

// rootFlags carries the flags shared across every subcommand.
type rootFlags struct {
	finishOnError bool
	dryRun        bool
}

func newRootCmd(app *AppContext) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "fleetctl",
		Short:         "fleetctl prepares, stages, and deploys configuration-management manifests across a fleet of hosts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVar(&flags.finishOnError, "finish-on-error", false, "Record per-marker failures and keep deploying instead of cancelling on first error")
	cmd.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "Plan and validate without deploying")

	cmd.AddCommand(newInstallCmd(flags, app))
	cmd.AddCommand(newPlanCmd(flags, app))
	cmd.AddCommand(newVerifyCmd(app))
	cmd.AddCommand(newCleanCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
