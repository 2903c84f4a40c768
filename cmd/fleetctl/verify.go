package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	domainconfig "github.com/fleetctl/fleetctl/internal/domain/config"
)

type verifyOptions struct {
	ConfigPath string
}

func newVerifyCmd(app *AppContext) *cobra.Command {
	opts := verifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Load and validate the fleet configuration only, without contacting any host",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfigPath(opts.ConfigPath); err != nil {
				return err
			}
			ctx, _ := app.CommandContext(cmd, "verify")
			cfg, err := loadConfigOnly(ctx, app, opts.ConfigPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: %d key(s), %d host(s)\n", len(cfg.Keys()), len(cfg.Hosts()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to the fleet configuration file")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}

// loadConfigOnly resolves project settings and the fleet configuration
// file against every registered plugin's merged parameters, without
// constructing an SSH dialer, manifest library, or Controller — used by
// `verify` to validate configuration without ever contacting a host.
func loadConfigOnly(ctx context.Context, app *AppContext, path string) (*domainconfig.Config, error) {
	project, err := app.Project.Load(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := app.FleetConfig.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	cfg := domainconfig.New(project.MultiSep)
	if err := app.Registry.MergeParameters(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Hydrate(raw); err != nil {
		return nil, err
	}
	return cfg, nil
}
