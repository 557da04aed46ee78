package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/typhonci/typhon/internal/events"
)

// Bridge connects the event bus to the bubbletea program.
type Bridge struct {
	program *tea.Program
}

// NewBridge creates a new bridge for the given program.
func NewBridge(program *tea.Program) *Bridge {
	return &Bridge{program: program}
}

// Handler returns an event handler function for the event bus.
func (b *Bridge) Handler() events.Handler {
	return func(evt events.Event) {
		msg := b.eventToMsg(evt)
		if msg != nil {
			b.program.Send(msg)
		}
	}
}

// eventToMsg converts an events.Event to a tea.Msg.
func (b *Bridge) eventToMsg(evt events.Event) tea.Msg {
	switch evt.Type {
	case events.EvaluationUpdated:
		return EvaluationSettledMsg{}

	case events.RunNew:
		if evt.RunID == nil {
			return nil
		}
		return RunStartedMsg{RunID: *evt.RunID}

	case events.RunUpdated:
		if evt.RunID == nil {
			return nil
		}
		return RunProgressMsg{RunID: *evt.RunID}

	case events.BuildNew:
		return BuildStartedMsg{}

	case events.ActionNew:
		return ActionStartedMsg{}

	default:
		return nil
	}
}

// SendDone sends a DoneMsg to the program.
func (b *Bridge) SendDone() {
	b.program.Send(DoneMsg{})
}
