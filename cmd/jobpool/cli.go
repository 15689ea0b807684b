package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"jobpool/internal/app"
	"jobpool/internal/jobs"
)

// Exit codes of "jobpool run".
const (
	exitFailed      = 1
	exitCoolingDown = 2
)

// exitError ends the process with code after the command printed its output.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type appFactory func(ctx context.Context) (*app.App, error)

func rootCmd(newApp appFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "jobpool",
		Short:         "Run recurring jobs gated by persisted cooldowns",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		runCmd(newApp),
		serveCmd(newApp),
		statusCmd(newApp),
		listCmd(newApp),
		forgetCmd(newApp),
		resetCmd(newApp),
		versionCmd(),
	)
	return root
}

// withApp builds the App, calls fn and closes the App.
func withApp(cmd *cobra.Command, newApp appFactory, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}

func runCmd(newApp appFactory) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one cycle: execute every due job once",
		Long: "Run one cycle. Exit status is 0 when the cycle completed, " +
			"1 when a job failed and 2 when the pool is still cooling down.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, newApp, func(ctx context.Context, a *app.App) error {
				res, err := a.RunOnce(ctx)
				out := cmd.OutOrStdout()
				if res.CoolingDown {
					fmt.Fprintln(out, res.String())
					return &exitError{code: exitCoolingDown, msg: "cooling down"}
				}
				if err != nil && len(res.Outcomes) == 0 {
					return err
				}
				fmt.Fprintln(out, res.String())
				printOutcomes(out, res, verbose)
				if err != nil {
					return &exitError{code: exitFailed, msg: err.Error()}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every job decision, not only failures")
	return cmd
}

func printOutcomes(w io.Writer, res jobs.Result, verbose bool) {
	for _, o := range res.Outcomes {
		switch {
		case o.Err != nil:
			fmt.Fprintf(w, "  %s: %s: %v\n", o.Name, o.Status, o.Err)
		case verbose:
			fmt.Fprintf(w, "  %s: %s\n", o.Name, o.Status)
		}
	}
}

func serveCmd(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run cycles on JOBS_SCHEDULE and serve the HTTP and Telegram triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, newApp, func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func statusCmd(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the pool cooldown and the last run of every job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, newApp, func(ctx context.Context, a *app.App) error {
				reg := a.Registry()
				remaining, err := reg.RemainingCoolDown(ctx)
				if err != nil {
					return err
				}
				last, ok, err := reg.LastRunAt(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "pool cooldown:      %dm\n", reg.PoolCoolDown())
				fmt.Fprintf(out, "last cycle:         %s\n", formatTime(last, ok))
				fmt.Fprintf(out, "remaining cooldown: %ds\n", int64(remaining/time.Second))

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "JOB\tLAST RUN")
				for _, name := range reg.Names() {
					t, ok, err := reg.JobLastRunAt(ctx, name)
					if err != nil {
						return err
					}
					fmt.Fprintf(tw, "%s\t%s\n", name, formatTime(t, ok))
				}
				return tw.Flush()
			})
		},
	}
}

func listCmd(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, newApp, func(_ context.Context, a *app.App) error {
				all, err := a.Registry().All()
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "JOB\tINTERVAL\tACTIVE")
				for _, nj := range all {
					fmt.Fprintf(tw, "%s\t%dm\t%t\n", nj.Name, nj.Job.Interval(), nj.Job.Active())
				}
				if ferr := tw.Flush(); ferr != nil {
					return ferr
				}
				return err
			})
		},
	}
}

func forgetCmd(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <job>",
		Short: "Delete the last run of a job so it runs on the next cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, newApp, func(ctx context.Context, a *app.App) error {
				name := args[0]
				if !a.Registry().Has(name) {
					return fmt.Errorf("%w: %q", jobs.ErrNotFound, name)
				}
				existed, err := a.Registry().Forget(ctx, name)
				if err != nil {
					return err
				}
				if existed {
					fmt.Fprintf(cmd.OutOrStdout(), "%s will run on the next cycle\n", name)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s has not run yet\n", name)
				}
				return nil
			})
		},
	}
}

func resetCmd(newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the pool timestamp and the last run of every job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, newApp, func(ctx context.Context, a *app.App) error {
				if err := a.Registry().Reset(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "timestamps cleared")
				return nil
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jobpool %s\n", jobs.Version)
		},
	}
}

func formatTime(t time.Time, ok bool) string {
	if !ok {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
