package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/hive/internal/bus"
	"github.com/aristath/hive/internal/metrics"
)

// MetricsPaneModel shows throughput counters, latency distributions,
// and message bus traffic.
type MetricsPaneModel struct {
	snap    metrics.Snapshot
	bus     bus.Stats
	width   int
	height  int
	focused bool
}

// NewMetricsPaneModel creates a new metrics pane model.
func NewMetricsPaneModel() MetricsPaneModel {
	return MetricsPaneModel{}
}

// Update handles messages for the metrics pane.
func (m MetricsPaneModel) Update(msg tea.Msg) (MetricsPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case statusMsg:
		m.snap = msg.status.Metrics
		m.bus = msg.status.Bus
	}

	return m, nil
}

// View renders the metrics pane.
func (m MetricsPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Metrics")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Uptime: %s\n", m.snap.Uptime.Round(time.Second)))
	b.WriteString(fmt.Sprintf("Submitted: %d   Completed: %d   Failed: %d\n",
		m.snap.Submitted, m.snap.Completed, m.snap.Failed))
	b.WriteString(fmt.Sprintf("Expired: %d   Cancelled: %d   Starved passes: %d\n",
		m.snap.Expired, m.snap.Cancelled, m.snap.StarvedPasses))

	b.WriteString("\n")
	b.WriteString(renderLatency("Queue wait", m.snap.QueueWait))
	b.WriteString(renderLatency("Execution ", m.snap.Execution))

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Bus: %d sent, %d delivered, %d dropped\n",
		m.bus.Sent, m.bus.Delivered, m.bus.Dropped))

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

func renderLatency(label string, d metrics.DurationStats) string {
	if d.Count == 0 {
		return fmt.Sprintf("%s  (no samples)\n", label)
	}
	return fmt.Sprintf("%s  p50 %s  p95 %s  max %s\n",
		label,
		d.P50.Round(time.Millisecond),
		d.P95.Round(time.Millisecond),
		d.Max.Round(time.Millisecond))
}

// SetSize updates the pane dimensions.
func (m *MetricsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *MetricsPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
