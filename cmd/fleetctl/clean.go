package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type cleanOptions struct {
	ConfigPath string
}

func newCleanCmd(app *AppContext) *cobra.Command {
	opts := cleanOptions{}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Connect to every configured host and remove staged build directories, recovering from an aborted run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfigPath(opts.ConfigPath); err != nil {
				return err
			}
			ctx, _ := app.CommandContext(cmd, "clean")

			info, err := buildController(ctx, app, opts.ConfigPath, false)
			if err != nil {
				return err
			}
			if err := info.controller.Clean(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "clean completed")
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to the fleet configuration file")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}
