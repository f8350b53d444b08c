package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/hive/internal/events"
	"github.com/aristath/hive/internal/task"
)

// TaskPaneModel shows task counts by state, overall progress, and any
// starved tasks the scheduler reported.
type TaskPaneModel struct {
	counts  map[task.Status]int
	starved []string
	running bool
	width   int
	height  int
	focused bool
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		counts: make(map[task.Status]int),
	}
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case statusMsg:
		m.counts = msg.status.TaskCounts
		m.starved = msg.status.Starved
		m.running = msg.status.Running

	case events.StarvationEvent:
		m.starved = msg.TaskIDs
	}

	return m, nil
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	pending := m.counts[task.StatusPending]
	assigned := m.counts[task.StatusAssigned]
	running := m.counts[task.StatusRunning]
	completed := m.counts[task.StatusCompleted]
	failed := m.counts[task.StatusFailed]
	expired := m.counts[task.StatusExpired]
	cancelled := m.counts[task.StatusCancelled]
	total := pending + assigned + running + completed + failed + expired + cancelled

	b.WriteString(fmt.Sprintf("Pending:    %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", pending))))
	b.WriteString(fmt.Sprintf("Assigned:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", assigned))))
	b.WriteString(fmt.Sprintf("Running:    %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", running))))
	b.WriteString(fmt.Sprintf("Completed:  %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", completed))))
	b.WriteString(fmt.Sprintf("Failed:     %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", failed))))
	b.WriteString(fmt.Sprintf("Expired:    %s\n", StyleStatusCancelled.Render(fmt.Sprintf("%d", expired))))
	b.WriteString(fmt.Sprintf("Cancelled:  %s\n", StyleStatusCancelled.Render(fmt.Sprintf("%d", cancelled))))

	b.WriteString("\n")

	// Progress bar
	if total > 0 {
		barWidth := min(m.width-4, 40)
		terminalBad := failed + expired + cancelled
		active := assigned + running
		completedWidth := (completed * barWidth) / total
		badWidth := (terminalBad * barWidth) / total
		activeWidth := (active * barWidth) / total
		pendingWidth := barWidth - completedWidth - badWidth - activeWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, badWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, activeWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, completed, total))
	}

	if len(m.starved) > 0 {
		short := make([]string, 0, len(m.starved))
		for _, id := range m.starved {
			short = append(short, shortID(id))
		}
		b.WriteString("\n")
		b.WriteString(StyleStatusFailed.Render(
			fmt.Sprintf("Starved: %d uncoverable (%s)", len(m.starved), strings.Join(short, ", "))))
		b.WriteString("\n")
	}

	if !m.running && total > 0 {
		b.WriteString("\n")
		b.WriteString(StyleStatusPending.Render("System stopped"))
		b.WriteString("\n")
	}

	content := b.String()

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
