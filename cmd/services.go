package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/creator-suite/internal/gateway"
	"github.com/JakeFAU/creator-suite/internal/suite"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe every backend service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			status := appInstance.Backend().HealthAll(cmd.Context())
			names := make([]string, 0, len(status))
			for svc := range status {
				names = append(names, string(svc))
			}
			sort.Strings(names)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVICE\tSTATUS")
			down := 0
			for _, name := range names {
				state := "up"
				if !status[suite.Service(name)] {
					state = "down"
					down++
				}
				fmt.Fprintf(tw, "%s\t%s\n", name, state)
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write table: %w", err)
			}
			if down > 0 {
				return fmt.Errorf("%d of %d services unreachable", down, len(names))
			}
			return nil
		},
	}
}

func newAnalyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "analytics <area>",
		Short:     "Show the signed-in user's analytics for an area",
		Args:      cobra.ExactArgs(1),
		ValidArgs: areaNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			area, err := gateway.ParseArea(args[0])
			if err != nil {
				return err
			}
			user, ok := appInstance.CurrentUser()
			if !ok {
				return suite.ErrNoSession
			}
			records, err := appInstance.Backend().Analytics(cmd.Context(), area, user.ID)
			if err != nil {
				return fmt.Errorf("load analytics: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}
}

func areaNames() []string {
	areas := gateway.Areas()
	out := make([]string, 0, len(areas))
	for _, a := range areas {
		out = append(out, string(a))
	}
	return out
}
