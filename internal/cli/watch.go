package cli

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/typhonci/typhon/internal/cli/tui"
)

// NewWatchCmd creates the 'watch' command: evaluate a jobset and follow
// its runs live until everything settles.
func NewWatchCmd(a *App) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "watch <project> <jobset>",
		Short: "Evaluate a jobset and watch its runs live",
		Long: `Evaluate a jobset and follow the resulting runs in real time.

With a terminal attached this renders a live status view; otherwise
(or with --plain) events are printed one line at a time.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kernel, _, err := a.wireKernel()
			if err != nil {
				return err
			}
			defer kernel.Shutdown(context.Background())

			if plain || !term.IsTerminal(int(os.Stdout.Fd())) {
				unsubscribe := kernel.Subscribe(cmd.OutOrStdout())
				defer unsubscribe()

				e, err := kernel.Evaluate(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return waitForEvaluation(cmd.Context(), kernel, e.ID, cmd.OutOrStdout())
			}

			model := tui.NewModel(args[0], args[1])
			program := tea.NewProgram(model)

			bridge := tui.NewBridge(program)
			unsubscribe := kernel.Bus().Subscribe(bridge.Handler())
			defer unsubscribe()

			e, err := kernel.Evaluate(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			go func() {
				_ = waitForEvaluation(cmd.Context(), kernel, e.ID, nopWriter{})
				bridge.SendDone()
			}()

			if _, err := program.Run(); err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Print events as lines instead of the live view")
	return cmd
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
