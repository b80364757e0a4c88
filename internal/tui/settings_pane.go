package tui

import (
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/structured/internal/config"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.RuntimeConfig
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget      string
	workers         string
	defaultPriority string
	deadlockTimeout string
	eventBuffer     string
	traceEnabled    bool
	tracePath       string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.RuntimeConfig, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.loadFromConfig()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) loadFromConfig() {
	m.saveTarget = "global"
	m.workers = strconv.Itoa(m.config.Workers)
	m.defaultPriority = m.config.DefaultPriority
	m.deadlockTimeout = strconv.Itoa(m.config.DeadlockTimeoutMs)
	m.eventBuffer = strconv.Itoa(m.config.EventBuffer)
	m.traceEnabled = m.config.Trace.Enabled
	m.tracePath = m.config.Trace.Path
}

func nonNegative(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not a number")
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.structured/config.json)", "global"),
					huh.NewOption("Project (.structured/config.json)", "project"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("workers").
				Title("Default Executor Workers").
				Description("0 sizes the pool from GOMAXPROCS").
				Value(&m.workers).
				Validate(nonNegative),

			huh.NewSelect[string]().
				Key("defaultPriority").
				Title("Default Priority").
				Options(huh.NewOptions("background", "low", "medium", "high")...).
				Value(&m.defaultPriority),

			huh.NewInput().
				Key("deadlockTimeout").
				Title("Deadlock Timeout (ms)").
				Description("0 disables the watchdog").
				Value(&m.deadlockTimeout).
				Validate(nonNegative),

			huh.NewInput().
				Key("eventBuffer").
				Title("Event Buffer").
				Value(&m.eventBuffer).
				Validate(nonNegative),
		).Title("Runtime"),

		huh.NewGroup(
			huh.NewConfirm().
				Key("traceEnabled").
				Title("Record Task Trace").
				Value(&m.traceEnabled),

			huh.NewInput().
				Key("tracePath").
				Title("Trace Database").
				Value(&m.tracePath).
				Placeholder("structured-trace.db"),
		).Title("Trace"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == KeyEsc {
		// Cancel without saving
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.applyFormToConfig()

		targetPath := m.globalPath
		if m.saveTarget == "project" {
			targetPath = m.projectPath
		}

		if err := config.Save(m.config, targetPath); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig copies form field values back to the config struct.
// Inputs were validated by the form.
func (m *SettingsPaneModel) applyFormToConfig() {
	m.config.Workers, _ = strconv.Atoi(m.workers)
	m.config.DefaultPriority = m.defaultPriority
	m.config.DeadlockTimeoutMs, _ = strconv.Atoi(m.deadlockTimeout)
	m.config.EventBuffer, _ = strconv.Atoi(m.eventBuffer)
	m.config.Trace.Enabled = m.traceEnabled
	m.config.Trace.Path = m.tracePath
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	switch {
	case m.saved && m.form.State == huh.StateCompleted:
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true).
			Render("✓ Settings saved successfully!")
	case m.err != nil:
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	default:
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane. Showing it resets the form
// to the current configuration.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	if v {
		m.loadFromConfig()
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}
