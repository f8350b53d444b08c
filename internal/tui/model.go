// Package tui renders a live dashboard over a running coordination
// system: the agent roster, task progress, and collector metrics, plus
// a settings form for the config files. It consumes the system's event
// bus and polls its status snapshot; it never mutates system state.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/hive/internal/config"
	"github.com/aristath/hive/internal/events"
	"github.com/aristath/hive/internal/system"
)

// statusPollInterval spaces the Status() pulls that refresh the
// numeric pane contents between events.
const statusPollInterval = 500 * time.Millisecond

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneAgents PaneID = iota
	PaneTasks
	PaneMetrics
)

// statusMsg carries a fresh system snapshot to the panes.
type statusMsg struct {
	status system.SystemStatus
}

// Model is the root Bubble Tea model for the dashboard.
type Model struct {
	sys          *system.System
	agentPane    AgentPaneModel
	taskPane     TaskPaneModel
	metricsPane  MetricsPaneModel
	settingsPane SettingsPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	showSettings bool
}

// New creates the dashboard model. It subscribes to the system's event
// bus, so it should be constructed before Start to observe the full
// lifecycle.
func New(sys *system.System, cfg *config.Config, globalPath, projectPath string) Model {
	return Model{
		sys:          sys,
		agentPane:    NewAgentPaneModel(),
		taskPane:     NewTaskPaneModel(),
		metricsPane:  NewMetricsPaneModel(),
		settingsPane: NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:  PaneAgents,
		eventSub:     sys.Events().SubscribeAll(256),
		showSettings: false,
	}
}

// Init starts the event pump and the status poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), m.pollStatus())
}

// waitForEvent returns a command that waits for the next event from
// the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// pollStatus returns a command that delivers a status snapshot after
// the poll interval.
func (m Model) pollStatus() tea.Cmd {
	sys := m.sys
	return tea.Tick(statusPollInterval, func(time.Time) tea.Msg {
		return statusMsg{status: sys.Status()}
	})
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// If settings panel is open, route all keys to it (modal behavior)
		if m.showSettings {
			switch msg.String() {
			case KeySettings, "esc":
				m.showSettings = false
				m.settingsPane.SetVisible(false)
			default:
				var cmd tea.Cmd
				m.settingsPane, cmd = m.settingsPane.Update(msg)
				cmds = append(cmds, cmd)

				// Check if settings pane closed itself (after save)
				if !m.settingsPane.IsVisible() {
					m.showSettings = false
				}
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % 3
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + 2) % 3 // +2 is equivalent to -1 mod 3
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneAgents
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PaneMetrics
			m.updateFocusStates()

		default:
			// Delegate to focused pane
			switch m.focusedPane {
			case PaneAgents:
				var cmd tea.Cmd
				m.agentPane, cmd = m.agentPane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneTasks:
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneMetrics:
				var cmd tea.Cmd
				m.metricsPane, cmd = m.metricsPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case statusMsg:
		// Fan the snapshot out to every pane, then re-arm the poll.
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd)
		m.taskPane, _ = m.taskPane.Update(msg)
		m.metricsPane, _ = m.metricsPane.Update(msg)
		cmds = append(cmds, m.pollStatus())

	case tickMsg:
		// Debounce tick for the agent viewport
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.AgentRegisteredEvent, events.TaskAssignedEvent,
		events.TaskCompletedEvent, events.TaskFailedEvent:
		// Roster and activity events land in the agent pane
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.StarvationEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.Event:
		// Remaining lifecycle events only affect counts, which the
		// status poll refreshes. Consume and keep the pump running.
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	// If settings panel is visible, render it as overlay
	if m.showSettings {
		return m.settingsPane.View()
	}

	leftPane := m.agentPane.View()
	rightTop := m.taskPane.View()
	rightBottom := m.metricsPane.View()

	rightPane := lipgloss.JoinVertical(lipgloss.Left, rightTop, rightBottom)
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)
	helpBar := HelpView()

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, helpBar)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 35) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // reserve 1 line for help bar
	rightTopHeight := (availableHeight * 60) / 100
	rightBottomHeight := availableHeight - rightTopHeight

	// Agent pane takes the full left side
	m.agentPane.SetSize(leftWidth, availableHeight)

	m.taskPane.SetSize(rightWidth, rightTopHeight)
	m.metricsPane.SetSize(rightWidth, rightBottomHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.agentPane.SetFocused(m.focusedPane == PaneAgents)
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.metricsPane.SetFocused(m.focusedPane == PaneMetrics)
}
