package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage tracked jobs",
	}
	cmd.AddCommand(newJobsListCmd(), newJobsRemoveCmd(), newJobsClearCmd(), newJobsSyncCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var (
		status  string
		asJSON  bool
		jobType string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked jobs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var want suite.JobStatus
			if status != "" {
				if want, err = suite.ParseStatus(status); err != nil {
					return err
				}
			}
			var out []suite.Job
			for _, job := range appInstance.Store().Jobs() {
				if want != "" && job.Status != want {
					continue
				}
				if jobType != "" && string(job.Type) != jobType {
					continue
				}
				out = append(out, job)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), out)
			}
			return printJobTable(cmd, out)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only jobs with this status")
	cmd.Flags().StringVar(&jobType, "type", "", "only jobs of this type")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printJobTable(cmd *cobra.Command, jobs []suite.Job) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tSUBMITTED\tPROMPT")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.Type, job.Status, job.Timestamp.Local().Format(time.DateTime), truncate(job.Prompt, 48))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func newJobsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>...",
		Short: "Forget tracked jobs and stop polling them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range args {
				if !appInstance.Store().RemoveJob(cmd.Context(), id) {
					return fmt.Errorf("%w: %s", suite.ErrJobNotFound, id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			}
			return nil
		},
	}
}

func newJobsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget every tracked job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			appInstance.Store().ClearJobs(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "cleared")
			return nil
		},
	}
}

func newJobsSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replace the local history with the signed-in user's remote history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if _, ok := appInstance.CurrentUser(); !ok {
				return suite.ErrNoSession
			}
			if err := appInstance.Store().SyncRemote(cmd.Context()); err != nil {
				return fmt.Errorf("sync jobs: %w", err)
			}
			return printJobTable(cmd, appInstance.Store().Jobs())
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one tracked job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			job, ok := appInstance.Store().Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", suite.ErrJobNotFound, args[0])
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}
