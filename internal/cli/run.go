package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/typhonci/typhon/internal/store"
)

// NewRunCmd creates the 'run' command group.
func NewRunCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect and cancel runs",
	}

	cmd.AddCommand(
		newRunInfoCmd(a),
		newRunSearchCmd(a),
		newRunCancelCmd(a),
	)
	return cmd
}

func newRunInfoCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "info <run-id>",
		Short: "Show a run's phase linkage and status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			kernel, _, err := a.wireKernel()
			if err != nil {
				return err
			}
			defer kernel.Shutdown(context.Background())

			info, err := kernel.GetRunInfo(id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %d (job %d, num %d): %s\n",
				info.Run.ID, info.Run.JobID, info.Run.Num, info.Status)
			printPhase(out, "begin", info.Run.BeginActionID)
			printPhase(out, "build", info.Run.BuildID)
			printPhase(out, "end", info.Run.EndActionID)
			return nil
		},
	}
}

func printPhase(out io.Writer, name string, id *int64) {
	if id == nil {
		fmt.Fprintf(out, "  %s: -\n", name)
		return
	}
	fmt.Fprintf(out, "  %s: %d\n", name, *id)
}

func newRunSearchCmd(a *App) *cobra.Command {
	var (
		project string
		jobset  string
		job     string
		system  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search runs by project, jobset, job, or system",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kernel, _, err := a.wireKernel()
			if err != nil {
				return err
			}
			defer kernel.Shutdown(context.Background())

			search := store.RunSearch{Limit: limit}
			if project != "" {
				search.ProjectName = &project
			}
			if jobset != "" {
				search.JobsetName = &jobset
			}
			if job != "" {
				search.JobName = &job
			}
			if system != "" {
				search.JobSystem = &system
			}

			runs, err := kernel.SearchRuns(search)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tJOB\tNUM\tSTATUS\tCREATED")
			for _, r := range runs {
				status, err := kernel.DB().DerivedStatus(r)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n", r.ID, r.JobID, r.Num, status,
					r.TimeCreated.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Filter by project name")
	cmd.Flags().StringVar(&jobset, "jobset", "", "Filter by jobset name")
	cmd.Flags().StringVar(&job, "job", "", "Filter by job name")
	cmd.Flags().StringVar(&system, "system", "", "Filter by system")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum results")
	return cmd
}

func newRunCancelCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a live run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			kernel, _, err := a.wireKernel()
			if err != nil {
				return err
			}
			defer kernel.Shutdown(context.Background())

			return kernel.CancelRun(id)
		},
	}
}

// NewJobCmd creates the 'job' command group.
func NewJobCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and cancel jobs",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "info <job-id>",
			Short: "Show a job and its runs",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}

				kernel, _, err := a.wireKernel()
				if err != nil {
					return err
				}
				defer kernel.Shutdown(context.Background())

				info, err := kernel.GetJobInfo(id)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "job %d: %s:%s drv=%s\n",
					info.Job.ID, info.Job.System, info.Job.Name, info.Job.Drv)
				for _, r := range info.Runs {
					status, err := kernel.DB().DerivedStatus(r)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "  run #%d (id %d): %s\n", r.Num, r.ID, status)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "cancel <job-id>",
			Short: "Cancel every live run of a job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}

				kernel, _, err := a.wireKernel()
				if err != nil {
					return err
				}
				defer kernel.Shutdown(context.Background())

				n, err := kernel.CancelJob(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "canceled %d run(s)\n", n)
				return nil
			},
		},
	)
	return cmd
}

// NewBuildCmd creates the 'build' command group.
func NewBuildCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Inspect and cancel builds",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "info <build-id>",
			Short: "Show a build and its status",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}

				kernel, _, err := a.wireKernel()
				if err != nil {
					return err
				}
				defer kernel.Shutdown(context.Background())

				info, err := kernel.GetBuildInfo(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "build %d (num %d of %s): %s\n",
					info.Build.ID, info.Build.Num, info.Build.Drv, info.Status)
				return nil
			},
		},
		&cobra.Command{
			Use:   "cancel <build-id>",
			Short: "Cancel a live build (no-op while other runs reference it)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}

				kernel, _, err := a.wireKernel()
				if err != nil {
					return err
				}
				defer kernel.Shutdown(context.Background())

				return kernel.CancelBuild(id)
			},
		},
		&cobra.Command{
			Use:   "log <build-id>",
			Short: "Print a build's accumulated log",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}

				kernel, _, err := a.wireKernel()
				if err != nil {
					return err
				}
				defer kernel.Shutdown(context.Background())

				buf, err := kernel.BuildLog(id)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), buf)
				return nil
			},
		},
	)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}
