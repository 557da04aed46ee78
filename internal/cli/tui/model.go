// Package tui renders a live view of an evaluation's runs, builds, and
// actions, fed by the event bus through a Bridge.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// RunState tracks the state of a single run in the TUI.
type RunState struct {
	ID      int64
	Phase   string
	Settled bool
	Failed  bool
}

// Model is the bubbletea model for the watch view.
type Model struct {
	// Configuration
	Project string
	Jobset  string
	Styles  Styles

	// State
	Runs        map[int64]*RunState
	Builds      int
	Actions     int
	Evaluated   bool
	SettledRuns int
	FailedRuns  int
	StartTime   time.Time
	Width       int
	Height      int

	// Control
	Quitting bool
	Done     bool
}

// NewModel creates a new watch model for one project/jobset pair.
func NewModel(project, jobset string) *Model {
	return &Model{
		Project:   project,
		Jobset:    jobset,
		Styles:    DefaultStyles(),
		Runs:      make(map[int64]*RunState),
		StartTime: time.Now(),
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tickCmd()
}

// TickMsg is sent every second to update the timer.
type TickMsg time.Time

// tickCmd returns a command that sends TickMsg every second.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// DoneMsg signals the watch should exit.
type DoneMsg struct{}

// EvaluationSettledMsg indicates the evaluation finished (jobs exist).
type EvaluationSettledMsg struct{}

// RunStartedMsg indicates a run was created.
type RunStartedMsg struct {
	RunID int64
}

// RunProgressMsg indicates a run persisted another phase.
type RunProgressMsg struct {
	RunID int64
}

// BuildStartedMsg indicates a new build was submitted.
type BuildStartedMsg struct{}

// ActionStartedMsg indicates a begin/end hook was spawned.
type ActionStartedMsg struct{}
