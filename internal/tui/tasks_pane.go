package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/structured/internal/events"
)

// TaskRow is what the monitor knows about one task.
type TaskRow struct {
	ID       string
	ParentID string
	Name     string
	Executor string
	Priority string
	Status   string // "spawned", "running", "cancelling", "completed", "failed", "cancelled"
	Depth    int
	Log      []string
	Spawned  time.Time
	Duration time.Duration
}

// TasksPaneModel is the task tree on the left and the selected task's event
// log on the right.
type TasksPaneModel struct {
	tasks       map[string]*TaskRow // taskID -> row
	order       []string            // spawn order
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewTasksPaneModel creates an empty tasks pane.
func NewTasksPaneModel() TasksPaneModel {
	return TasksPaneModel{
		tasks:    make(map[string]*TaskRow),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

const listWidth = 32

// Update handles messages for the tasks pane.
func (m TasksPaneModel) Update(msg tea.Msg) (TasksPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskSpawnedEvent:
		if _, exists := m.tasks[msg.ID]; exists {
			break
		}
		row := &TaskRow{
			ID:       msg.ID,
			ParentID: msg.ParentID,
			Name:     msg.Name,
			Executor: msg.Executor,
			Priority: msg.Priority,
			Status:   "spawned",
			Spawned:  msg.Timestamp,
		}
		if parent, ok := m.tasks[msg.ParentID]; ok {
			row.Depth = parent.Depth + 1
		}
		row.Log = append(row.Log, fmt.Sprintf("%s spawned on %s (%s)", stamp(msg.Timestamp), msg.Executor, msg.Priority))
		m.tasks[msg.ID] = row
		m.order = append(m.order, msg.ID)
		if len(m.order) == 1 {
			m.selectedIdx = 0
			m.updateViewportContent()
		}

	case events.TaskStartedEvent:
		cmd = m.record(msg.ID, "running", fmt.Sprintf("%s started", stamp(msg.Timestamp)), 0)

	case events.TaskCancelRequestedEvent:
		cmd = m.record(msg.ID, "cancelling", fmt.Sprintf("%s cancel requested", stamp(msg.Timestamp)), 0)

	case events.TaskCompletedEvent:
		cmd = m.record(msg.ID, "completed", fmt.Sprintf("%s completed in %v", stamp(msg.Timestamp), msg.Duration), msg.Duration)

	case events.TaskFailedEvent:
		cmd = m.record(msg.ID, "failed", fmt.Sprintf("%s failed after %v: %v", stamp(msg.Timestamp), msg.Duration, msg.Err), msg.Duration)

	case events.TaskCancelledEvent:
		cmd = m.record(msg.ID, "cancelled", fmt.Sprintf("%s cancelled after %v", stamp(msg.Timestamp), msg.Duration), msg.Duration)

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// record updates a row and schedules a debounced redraw if it is selected.
func (m *TasksPaneModel) record(id, status, line string, d time.Duration) tea.Cmd {
	row, exists := m.tasks[id]
	if !exists {
		return nil
	}
	// A cancel request never downgrades a terminal status
	if status != "cancelling" || row.Status == "spawned" || row.Status == "running" {
		row.Status = status
	}
	if d > 0 {
		row.Duration = d
	}
	row.Log = append(row.Log, line)

	if m.selectedTaskID() != id {
		return nil
	}
	m.updateTag++
	tag := m.updateTag
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{tag: tag}
	})
}

// View renders the tasks pane.
func (m TasksPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	logWidth := m.width - listWidth - 4
	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
		lipgloss.NewStyle().
			Width(logWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TasksPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, id := range m.order {
		row := m.tasks[id]
		name := strings.Repeat("  ", row.Depth) + row.Label()
		if len(name) > width-4 {
			name = name[:width-7] + "..."
		}

		line := fmt.Sprintf("%s %s", StatusIcon(row.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// Label is the task's name, or a short form of its ID.
func (r *TaskRow) Label() string {
	if r.Name != "" {
		return r.Name
	}
	if len(r.ID) > 8 {
		return r.ID[:8]
	}
	return r.ID
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "cancelling":
		return StyleStatusCancelled.Render("◐")
	case "completed":
		return StyleStatusComplete.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	case "cancelled":
		return StyleStatusCancelled.Render("⊘")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m TasksPaneModel) selectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Selected returns the selected task, or nil.
func (m TasksPaneModel) Selected() *TaskRow {
	return m.tasks[m.selectedTaskID()]
}

// Len returns the number of tasks seen.
func (m TasksPaneModel) Len() int {
	return len(m.order)
}

func (m *TasksPaneModel) updateViewportContent() {
	row := m.Selected()
	if row == nil {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	header := fmt.Sprintf("%s  [%s]\nid: %s\nparent: %s\n\n", row.Label(), row.Status, row.ID, orNone(row.ParentID))
	m.viewport.SetContent(header + strings.Join(row.Log, "\n"))
	m.viewport.GotoBottom()
}

func (m *TasksPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TasksPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TasksPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func stamp(t time.Time) string {
	return t.Format("15:04:05.000")
}

func orNone(s string) string {
	if s == "" {
		return "(root)"
	}
	return s
}
