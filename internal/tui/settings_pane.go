package tui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/hive/internal/config"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget   string
	tickInterval string
	resultWait   string
	stopGrace    string
	mailboxSize  string
	historyLimit string
	historyMode  string
	historyPath  string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
		visible:     false,
		saved:       false,
	}

	m.bindConfig()
	m.buildForm()
	return m
}

// bindConfig initializes form field values from the config.
func (m *SettingsPaneModel) bindConfig() {
	m.saveTarget = "global"
	m.tickInterval = strconv.Itoa(m.config.Timing.TickIntervalMS)
	m.resultWait = strconv.Itoa(m.config.Timing.ResultWaitMS)
	m.stopGrace = strconv.Itoa(m.config.Timing.StopGraceMS)
	m.mailboxSize = strconv.Itoa(m.config.Bus.MailboxSize)
	m.historyLimit = strconv.Itoa(m.config.Bus.HistoryLimit)
	m.historyMode = "disabled"
	if m.config.History.Enabled {
		m.historyMode = "enabled"
	}
	m.historyPath = m.config.History.Path
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.hive/config.json)", "global"),
					huh.NewOption("Project (.hive/config.json)", "project"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("tickInterval").
				Title("Tick Interval (ms)").
				Value(&m.tickInterval).
				Validate(validatePositiveInt),

			huh.NewInput().
				Key("resultWait").
				Title("Result Wait (ms)").
				Value(&m.resultWait).
				Validate(validatePositiveInt),

			huh.NewInput().
				Key("stopGrace").
				Title("Stop Grace (ms)").
				Value(&m.stopGrace).
				Validate(validateNonNegativeInt),
		).Title("Timing"),

		huh.NewGroup(
			huh.NewInput().
				Key("mailboxSize").
				Title("Mailbox Size").
				Value(&m.mailboxSize).
				Validate(validatePositiveInt),

			huh.NewInput().
				Key("historyLimit").
				Title("Message History Limit").
				Value(&m.historyLimit).
				Validate(validatePositiveInt),
		).Title("Message Bus"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("historyMode").
				Title("Task Archive").
				Options(
					huh.NewOption("Disabled", "disabled"),
					huh.NewOption("Enabled", "enabled"),
				).
				Value(&m.historyMode),

			huh.NewInput().
				Key("historyPath").
				Title("Archive Path").
				Value(&m.historyPath).
				Placeholder(".hive/history.db"),
		).Title("History"),
	)
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateNonNegativeInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
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

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			// Cancel without saving
			m.visible = false
			m.saved = false
			return m, nil
		}
	}

	// Delegate to form
	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	// Check if form is completed
	if m.form.State == huh.StateCompleted {
		m.applyFormToConfig()

		targetPath := m.globalPath
		if m.form.GetString("saveTarget") == "project" {
			targetPath = m.projectPath
		}

		if err := m.config.Validate(); err != nil {
			m.err = err
			m.saved = false
		} else if err := config.Save(m.config, targetPath); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
		}

		// Hide form after successful save
		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig copies the completed form's values back to the
// config struct. Values are read through the form's keyed accessors;
// the bound fields hold bind-time copies once the model has been
// passed around by value. Field validators have already rejected
// non-numeric input.
func (m *SettingsPaneModel) applyFormToConfig() {
	if v, err := strconv.Atoi(strings.TrimSpace(m.form.GetString("tickInterval"))); err == nil {
		m.config.Timing.TickIntervalMS = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(m.form.GetString("resultWait"))); err == nil {
		m.config.Timing.ResultWaitMS = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(m.form.GetString("stopGrace"))); err == nil {
		m.config.Timing.StopGraceMS = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(m.form.GetString("mailboxSize"))); err == nil {
		m.config.Bus.MailboxSize = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(m.form.GetString("historyLimit"))); err == nil {
		m.config.Bus.HistoryLimit = v
	}
	m.config.History.Enabled = m.form.GetString("historyMode") == "enabled"
	m.config.History.Path = strings.TrimSpace(m.form.GetString("historyPath"))
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string

	// Show saved message if just saved
	if m.saved && m.form.State == huh.StateCompleted {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true).
			Render("✓ Settings saved successfully!")
	} else if m.err != nil {
		// Show error if save failed
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		// Render form
		content = m.form.View()
	}

	// Wrap in styled border
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

	body := style.Render(content)

	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	// Rebuild the form from the current config when showing, so a
	// cancelled edit does not leak stale field values into the next one.
	if v {
		m.bindConfig()
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}
