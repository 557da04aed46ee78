package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/typhonci/typhon/internal/core"
)

// NewJobsetCmd creates the 'jobset' command group.
func NewJobsetCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobset",
		Short: "Inspect and evaluate jobsets",
	}

	cmd.AddCommand(
		newJobsetInfoCmd(a),
		newJobsetEvaluateCmd(a),
	)
	return cmd
}

func newJobsetInfoCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "info <project> <jobset>",
		Short: "Show a jobset and its evaluation history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kernel, _, err := a.wireKernel()
			if err != nil {
				return err
			}
			defer kernel.Shutdown(context.Background())

			info, err := kernel.GetJobsetInfo(args[0], args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "jobset: %s -> %s\n", info.Jobset.Name, info.Jobset.FlakeRef)

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NUM\tID\tSTATUS\tCREATED")
			for _, e := range info.Evaluations {
				status, err := kernel.DB().Status(e.TaskID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", e.Num, e.ID, status,
					e.TimeCreated.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func newJobsetEvaluateCmd(a *App) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "evaluate <project> <jobset>",
		Short: "Evaluate a jobset into jobs and start their runs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kernel, _, err := a.wireKernel()
			if err != nil {
				return err
			}
			defer kernel.Shutdown(context.Background())

			e, err := kernel.Evaluate(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evaluation #%d (id %d) started\n", e.Num, e.ID)

			if !wait {
				return nil
			}
			return waitForEvaluation(cmd.Context(), kernel, e.ID, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the evaluation and all of its runs to settle")
	return cmd
}

// waitForEvaluation blocks until the evaluation and every run it
// spawned settle, then prints a per-run summary.
func waitForEvaluation(ctx context.Context, kernel *core.Context, evaluationID int64, out io.Writer) error {
	if err := kernel.WaitEvaluation(ctx, evaluationID); err != nil {
		return err
	}
	info, err := kernel.GetEvaluationInfo(evaluationID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "evaluation: %s, %d job(s)\n", info.Status, len(info.Jobs))

	for _, job := range info.Jobs {
		jobInfo, err := kernel.GetJobInfo(job.ID)
		if err != nil {
			return err
		}
		for _, run := range jobInfo.Runs {
			kernel.WaitRun(ctx, run.ID)
			runInfo, err := kernel.GetRunInfo(run.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %s:%s run #%d: %s\n", job.System, job.Name, run.Num, runInfo.Status)
		}
	}
	return nil
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
