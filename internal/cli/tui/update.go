package tui

import tea "github.com/charmbracelet/bubbletea"

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.Quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case TickMsg:
		return m, tickCmd()

	case DoneMsg:
		m.Done = true
		return m, tea.Quit

	case EvaluationSettledMsg:
		m.Evaluated = true

	case RunStartedMsg:
		m.Runs[msg.RunID] = &RunState{
			ID:    msg.RunID,
			Phase: "begin",
		}

	case RunProgressMsg:
		// A run emits two updates: begin/build persisted, then end
		// persisted.
		if run, ok := m.Runs[msg.RunID]; ok && !run.Settled {
			if run.Phase == "begin" {
				run.Phase = "build"
			} else {
				run.Settled = true
				m.SettledRuns++
			}
		}

	case BuildStartedMsg:
		m.Builds++

	case ActionStartedMsg:
		m.Actions++
	}

	return m, nil
}
