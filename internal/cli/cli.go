// Package cli implements the typhonctl command tree: a development
// harness that drives the orchestration kernel in-process, without a
// network hop.
package cli

import (
	"github.com/spf13/cobra"
)

// App represents the CLI application with all wired dependencies.
type App struct {
	rootCmd *cobra.Command

	// Persistent flags
	configPath string
	verbose    bool

	// Version information
	version string
	commit  string
	date    string
}

// New creates a new CLI application.
func New() *App {
	app := &App{}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI application.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion sets the version strings for the version command.
func (a *App) SetVersion(version, commit, date string) {
	a.version = version
	a.commit = commit
	a.date = date
}

// setupRootCmd configures the root Cobra command.
func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "typhonctl",
		Short: "Continuous-integration orchestrator",
		Long: `Typhon drives declarative build specifications (projects, jobsets,
evaluations, jobs, runs) through an asynchronous pipeline on top of an
external build backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	a.rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"Config file (default .typhon.yaml, then ~/.typhon/config.yaml)")
	a.rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false,
		"Verbose output")

	a.rootCmd.AddCommand(
		NewProjectCmd(a),
		NewJobsetCmd(a),
		NewRunCmd(a),
		NewJobCmd(a),
		NewBuildCmd(a),
		NewWatchCmd(a),
		NewVersionCmd(a),
	)
}
