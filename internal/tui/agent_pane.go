package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/hive/internal/agent"
	"github.com/aristath/hive/internal/events"
)

// maxActivityLines caps the per-agent activity feed so a long run does
// not grow memory without bound.
const maxActivityLines = 200

// AgentView holds the display state for a single registered agent.
type AgentView struct {
	Name          string
	Capabilities  []string
	MaxConcurrent int
	Load          int
	Status        string // "idle", "busy", "stopped"
	Completed     int
	Failed        int
	LastActivity  time.Time
	Activity      []string
}

// AgentPaneModel renders the agent roster with a scrollable detail
// viewport for the selected agent.
type AgentPaneModel struct {
	agents      map[string]*AgentView // agent name -> view
	agentOrder  []string              // registration order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewAgentPaneModel creates a new agent pane model.
func NewAgentPaneModel() AgentPaneModel {
	vp := viewport.New(0, 0)
	return AgentPaneModel{
		agents:   make(map[string]*AgentView),
		viewport: vp,
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the agent pane.
func (m AgentPaneModel) Update(msg tea.Msg) (AgentPaneModel, tea.Cmd) {
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
			if m.selectedIdx < len(m.agentOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			// Delegate other keys to viewport for scrolling
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.AgentRegisteredEvent:
		if _, exists := m.agents[msg.Name]; !exists {
			m.agents[msg.Name] = &AgentView{
				Name:          msg.Name,
				Capabilities:  msg.Capabilities,
				MaxConcurrent: msg.MaxConcurrent,
				Status:        "idle",
				LastActivity:  msg.Timestamp,
			}
			m.agentOrder = append(m.agentOrder, msg.Name)
			// Auto-select first agent
			if len(m.agentOrder) == 1 {
				m.selectedIdx = 0
				m.updateViewportContent()
			}
		}

	case events.TaskAssignedEvent:
		return m.appendActivity(msg.Agent, msg.Timestamp,
			fmt.Sprintf("→ task %s", shortID(msg.ID)))

	case events.TaskCompletedEvent:
		if v, exists := m.agents[msg.Agent]; exists {
			v.Completed++
		}
		return m.appendActivity(msg.Agent, msg.Timestamp,
			fmt.Sprintf("✓ task %s (%s)", shortID(msg.ID), msg.Duration.Round(time.Millisecond)))

	case events.TaskFailedEvent:
		if v, exists := m.agents[msg.Agent]; exists {
			v.Failed++
		}
		return m.appendActivity(msg.Agent, msg.Timestamp,
			fmt.Sprintf("✗ task %s: %s", shortID(msg.ID), msg.Reason))

	case statusMsg:
		// Refresh load, status, and counters from the authoritative
		// snapshots. Events keep the feed live between polls.
		for _, snap := range msg.status.Agents {
			v, exists := m.agents[snap.Name]
			if !exists {
				continue
			}
			v.Load = snap.Load
			v.Status = snap.Status.String()
			v.Completed = snap.Metrics.TasksCompleted
			v.Failed = snap.Metrics.TasksFailed
			if !snap.Metrics.LastActivity.IsZero() {
				v.LastActivity = snap.Metrics.LastActivity
			}
		}
		m.updateViewportContent()

	case tickMsg:
		// Only update if this tick matches the current tag (debouncing)
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// appendActivity adds a line to an agent's feed and schedules a
// debounced viewport refresh when that agent is selected.
func (m AgentPaneModel) appendActivity(name string, at time.Time, line string) (AgentPaneModel, tea.Cmd) {
	v, exists := m.agents[name]
	if !exists {
		return m, nil
	}

	stamped := fmt.Sprintf("%s %s", at.Format("15:04:05"), line)
	v.Activity = append(v.Activity, stamped)
	if len(v.Activity) > maxActivityLines {
		v.Activity = v.Activity[len(v.Activity)-maxActivityLines:]
	}
	v.LastActivity = at

	if m.selectedName() == name {
		m.updateTag++
		tag := m.updateTag
		return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
			return tickMsg{tag: tag}
		})
	}
	return m, nil
}

// View renders the agent pane.
func (m AgentPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	// Split into two columns: agent list (left) and viewport (right)
	listWidth := 25
	viewportWidth := m.width - listWidth - 4 // account for borders and padding

	listContent := m.renderAgentList(listWidth)
	viewportContent := m.viewport.View()

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		listContent,
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(viewportContent),
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

// renderAgentList renders the agent list column.
func (m AgentPaneModel) renderAgentList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Agents")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.agentOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("No agents registered"))
	} else {
		for i, name := range m.agentOrder {
			v := m.agents[name]
			icon := m.StatusIcon(v.Status)
			label := name
			if len(label) > width-10 {
				label = label[:width-13] + "..."
			}

			line := fmt.Sprintf("%s %s %d/%d", icon, label, v.Load, v.MaxConcurrent)
			if i == m.selectedIdx {
				line = lipgloss.NewStyle().
					Background(lipgloss.Color("62")).
					Foreground(lipgloss.Color("0")).
					Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func (m AgentPaneModel) StatusIcon(status string) string {
	switch status {
	case agent.StatusBusy.String():
		return StyleStatusRunning.Render("●")
	case agent.StatusIdle.String():
		return StyleStatusComplete.Render("○")
	case agent.StatusStopped.String():
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

// selectedName returns the name of the currently selected agent.
func (m AgentPaneModel) selectedName() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.agentOrder) {
		return m.agentOrder[m.selectedIdx]
	}
	return ""
}

// updateViewportContent rebuilds the viewport with the selected
// agent's detail block and activity feed.
func (m *AgentPaneModel) updateViewportContent() {
	name := m.selectedName()
	if name == "" {
		m.viewport.SetContent("Waiting for agents...")
		return
	}

	v, exists := m.agents[name]
	if !exists {
		m.viewport.SetContent("Waiting for agents...")
		return
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s  [%s]\n", v.Name, v.Status))
	b.WriteString(fmt.Sprintf("Capabilities: %s\n", strings.Join(v.Capabilities, ", ")))
	b.WriteString(fmt.Sprintf("Slots: %d/%d busy\n", v.Load, v.MaxConcurrent))
	b.WriteString(fmt.Sprintf("Completed: %d   Failed: %d\n", v.Completed, v.Failed))
	if !v.LastActivity.IsZero() {
		b.WriteString(fmt.Sprintf("Last activity: %s\n", v.LastActivity.Format("15:04:05")))
	}
	b.WriteString("\n")
	if len(v.Activity) == 0 {
		b.WriteString(StyleStatusPending.Render("No tasks yet"))
	} else {
		b.WriteString(strings.Join(v.Activity, "\n"))
	}

	m.viewport.SetContent(b.String())
	// Auto-scroll to bottom
	m.viewport.GotoBottom()
}

// resizeViewport resizes the viewport based on pane dimensions.
func (m *AgentPaneModel) resizeViewport() {
	listWidth := 25
	viewportWidth := m.width - listWidth - 4
	viewportHeight := m.height - 4 // account for borders

	if viewportWidth < 10 {
		viewportWidth = 10
	}
	if viewportHeight < 5 {
		viewportHeight = 5
	}

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *AgentPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *AgentPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

// shortID abbreviates a task ID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
