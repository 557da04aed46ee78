package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// View implements tea.Model.
func (m *Model) View() string {
	if m.Done || m.Quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderRuns())
	b.WriteString(m.renderStatusLine())
	b.WriteString("\n")
	b.WriteString(m.Styles.Footer.Render("q to quit"))
	return b.String()
}

func (m *Model) renderHeader() string {
	elapsed := time.Since(m.StartTime).Round(time.Second)
	return fmt.Sprintf("%s %s %s",
		m.Styles.Title.Render("typhon watch"),
		m.Styles.Target.Render(m.Project+"/"+m.Jobset),
		m.Styles.Timer.Render(elapsed.String()))
}

func (m *Model) renderRuns() string {
	if len(m.Runs) == 0 {
		if m.Evaluated {
			return "  (no runs)\n\n"
		}
		return "  evaluating...\n\n"
	}

	ids := make([]int64, 0, len(m.Runs))
	for id := range m.Runs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	for _, id := range ids {
		run := m.Runs[id]
		switch {
		case run.Failed:
			b.WriteString(fmt.Sprintf("  %s run %d\n", m.Styles.RunFailed.Render(IconFailed), run.ID))
		case run.Settled:
			b.WriteString(fmt.Sprintf("  %s run %d\n", m.Styles.RunSettled.Render(IconSettled), run.ID))
		default:
			b.WriteString(fmt.Sprintf("  %s run %d: %s\n",
				m.Styles.RunActive.Render(IconActive), run.ID, run.Phase))
		}
	}
	b.WriteString("\n")
	return b.String()
}

func (m *Model) renderStatusLine() string {
	return m.Styles.Counter.Render(fmt.Sprintf("runs: %d  settled: %d  builds: %d  actions: %d",
		len(m.Runs), m.SettledRuns, m.Builds, m.Actions))
}
