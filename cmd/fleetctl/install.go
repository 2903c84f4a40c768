package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type installOptions struct {
	ConfigPath string
	Timeout    time.Duration
	Watch      bool
}

func newInstallCmd(root *rootFlags, app *AppContext) *cobra.Command {
	opts := installOptions{}

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Run init, deployment, and cleanup against every host named in the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfigPath(opts.ConfigPath); err != nil {
				return err
			}
			return runInstall(cmd, app, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to the fleet configuration file")
	cmd.MarkFlagRequired("config") //nolint:errcheck
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "Overall run timeout; zero means no timeout")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "Render an interactive marker-progress view driven by the status callback instead of plain log lines")

	return cmd
}

func runInstall(cmd *cobra.Command, app *AppContext, root *rootFlags, opts installOptions) error {
	ctx, logger := app.CommandContext(cmd, "install")

	if root.dryRun {
		info, err := buildController(ctx, app, opts.ConfigPath, root.finishOnError)
		if err != nil {
			return err
		}
		thePlan, err := info.controller.Plan(ctx)
		if err != nil {
			return err
		}
		return printPlan(cmd, thePlan)
	}

	info, err := buildController(ctx, app, opts.ConfigPath, root.finishOnError)
	if err != nil {
		return err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if opts.Watch {
		return runInstallWatched(ctx, app, info)
	}

	if err := info.controller.Run(ctx); err != nil {
		if logger != nil {
			logger.Error(ctx, "install run failed", "error", err)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "install completed for %d host(s)\n", len(info.cfg.Hosts()))
	return nil
}
