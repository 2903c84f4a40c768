package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetctl/fleetctl/internal/domain/plan"
)

type planOptions struct {
	ConfigPath string
}

func newPlanCmd(root *rootFlags, app *AppContext) *cobra.Command {
	opts := planOptions{}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Run init and planning only, printing the resulting marker DAG without deploying",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfigPath(opts.ConfigPath); err != nil {
				return err
			}
			ctx, _ := app.CommandContext(cmd, "plan")

			info, err := buildController(ctx, app, opts.ConfigPath, root.finishOnError)
			if err != nil {
				return err
			}
			thePlan, err := info.controller.Plan(ctx)
			if err != nil {
				return err
			}
			return printPlan(cmd, thePlan)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to the fleet configuration file")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}

// printPlan renders a marker's topological order, its dependency edges,
// and its member (host, manifest) pairs.
func printPlan(cmd *cobra.Command, p *plan.Plan) error {
	order, err := p.TopologicalOrder()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, marker := range order {
		prereqs := p.Prerequisites(marker)
		fmt.Fprintf(out, "%s", marker)
		if len(prereqs) > 0 {
			fmt.Fprintf(out, " (after %v)", prereqs)
		}
		fmt.Fprintln(out, ":")
		for _, unit := range p.Units(marker) {
			fmt.Fprintf(out, "  %s -> %s\n", unit.Host, unit.Manifest)
		}
	}
	return nil
}
