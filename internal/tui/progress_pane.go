package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/structured/internal/events"
)

// ProgressPaneModel shows task counts derived from lifecycle events.
type ProgressPaneModel struct {
	total     int
	running   int
	completed int
	failed    int
	cancelled int
	skipped   int
	finished  bool
	width     int
	height    int
	focused   bool
}

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.TaskSpawnedEvent:
		m.total++
	case events.TaskStartedEvent:
		m.running++
	case events.TaskCompletedEvent:
		m.completed++
		m.running = max(0, m.running-1)
	case events.TaskFailedEvent:
		m.failed++
		m.running = max(0, m.running-1)
	case events.TaskCancelledEvent:
		m.cancelled++
		m.running = max(0, m.running-1)
	case events.StepSkippedEvent:
		m.skipped++
	case busClosedMsg:
		m.finished = true
	}

	return m, nil
}

// Pending is the number of tasks spawned but not yet terminal.
func (m ProgressPaneModel) Pending() int {
	return max(0, m.total-m.completed-m.failed-m.cancelled)
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Spawned:   %d\n", m.total))
	b.WriteString(fmt.Sprintf("Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(m.running))))
	b.WriteString(fmt.Sprintf("Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(m.completed))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(m.failed))))
	b.WriteString(fmt.Sprintf("Cancelled: %s\n", StyleStatusCancelled.Render(fmt.Sprint(m.cancelled))))
	b.WriteString(fmt.Sprintf("Pending:   %s\n", StyleStatusPending.Render(fmt.Sprint(m.Pending()))))
	if m.skipped > 0 {
		b.WriteString(fmt.Sprintf("Skipped steps: %d\n", m.skipped))
	}
	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := (m.completed * barWidth) / m.total
		failedWidth := (m.failed * barWidth) / m.total
		cancelledWidth := (m.cancelled * barWidth) / m.total
		pendingWidth := barWidth - completedWidth - failedWidth - cancelledWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusCancelled.Render(strings.Repeat("x", max(0, cancelledWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		done := m.completed + m.failed + m.cancelled
		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, done, m.total))
	}
	if m.finished {
		b.WriteString("\n")
		b.WriteString(StyleHelp.Render("Run finished."))
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
