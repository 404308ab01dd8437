package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/netsync/internal/transport"
)

func (m *Model) render() string {
	width := m.width
	if width == 0 {
		width = 100
	}
	height := m.height
	if height == 0 {
		height = 30
	}

	header := HeaderStyle.Width(width - 2).Render("NETSYNC  " + m.baseURL)
	sections := []string{header}

	if m.err != nil {
		sections = append(sections, PanelStyle.Width(width-4).Render(
			StatusBadge(false, m.err)+"\n"+MutedStyle.Render(m.err.Error())))
	}
	if m.stats == nil {
		sections = append(sections, MutedStyle.Render("waiting for first poll..."))
		return lipgloss.JoinVertical(lipgloss.Left, sections...)
	}

	if width < 80 {
		sections = append(sections,
			m.serverPanel(width-4),
			m.trafficPanel(width-4),
		)
	} else {
		half := (width - 6) / 2
		sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top,
			m.serverPanel(half), " ", m.trafficPanel(half)))
	}

	// header, two panels and the table chrome take about 16 rows
	rows := height - 16
	if rows < 3 {
		rows = 3
	}
	sections = append(sections, m.clientsPanel(width-4, rows))
	sections = append(sections, MutedStyle.Render("q quit · r refresh"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func row(label, value string) string {
	return LabelStyle.Render(label) + value
}

func (m *Model) serverPanel(width int) string {
	s := m.stats
	timeout := "off"
	if s.TimeoutEnabled {
		timeout = s.IdleTimeout
	}

	lines := []string{
		PanelTitleStyle.Render("Server"),
		row("Status", StatusBadge(s.Listening, m.err)),
		row("Network", ValueStyle.Render(strings.ToUpper(s.Network))),
		row("Address", ValueStyle.Render(s.Address)),
		row("Timeout", ValueStyle.Render(timeout)),
		row("Ticks", ValueStyle.Render(formatNumber(int64(s.Ticks)))),
		row("Reliable", QueueStyle(s.Queue.Reliable, s.Queue.Capacity).Render(fmt.Sprintf("%d/%d", s.Queue.Reliable, s.Queue.Capacity))),
		row("Unreliable", QueueStyle(s.Queue.Unreliable, s.Queue.Capacity).Render(fmt.Sprintf("%d/%d", s.Queue.Unreliable, s.Queue.Capacity))),
	}
	return PanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m *Model) trafficPanel(width int) string {
	t := m.stats.Traffic
	current := 0.0
	if len(m.rates) > 0 {
		current = m.rates[len(m.rates)-1]
	}

	spark := width - 4
	if spark < 8 {
		spark = 8
	}

	lines := []string{
		PanelTitleStyle.Render("Traffic"),
		row("Clients", ValueStyle.Render(fmt.Sprintf("%d", m.stats.Clients))),
		row("In", ValueStyle.Render(fmt.Sprintf("%s msgs  %s", formatNumber(t.MessagesIn), formatBytes(t.BytesIn)))),
		row("Out", ValueStyle.Render(fmt.Sprintf("%s msgs  %s", formatNumber(t.MessagesOut), formatBytes(t.BytesOut)))),
		row("Rate", ValueStyle.Render(fmt.Sprintf("%.1f msg/s", current))),
		"",
		SuccessStyle.Render(sparkline(m.rates, spark)),
	}
	return PanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m *Model) clientsPanel(width, rows int) string {
	var clients []transport.ClientInfo
	if m.clients != nil {
		clients = m.clients.Clients
	}

	lines := []string{PanelTitleStyle.Render(fmt.Sprintf("Clients (%d)", len(clients)))}
	if len(clients) == 0 {
		lines = append(lines, MutedStyle.Render("no clients connected"))
		return PanelStyle.Width(width).Render(strings.Join(lines, "\n"))
	}

	lines = append(lines, MutedStyle.Render(fmt.Sprintf("%-10s %-22s %-10s %12s %12s", "ID", "ENDPOINT", "UPTIME", "IN", "OUT")))
	now := time.Now()
	for i, ci := range clients {
		if i == rows {
			lines = append(lines, MutedStyle.Render(fmt.Sprintf("... %d more", len(clients)-rows)))
			break
		}
		lines = append(lines, fmt.Sprintf("%-10s %-22s %-10s %12s %12s",
			shortID(ci.ID),
			ci.Endpoint,
			formatDuration(now.Sub(ci.ConnectedAt)),
			formatBytes(ci.BytesIn),
			formatBytes(ci.BytesOut),
		))
	}
	return PanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// sparkline scales data into block characters across width cells.
func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return strings.Repeat("▁", width)
	}

	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal == minVal {
		return strings.Repeat("▄", width)
	}

	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	var b strings.Builder
	for i := 0; i < width; i++ {
		idx := i * len(data) / width
		norm := (data[idx] - minVal) / (maxVal - minVal)
		c := int(norm * 7)
		if c > 7 {
			c = 7
		}
		b.WriteRune(chars[c])
	}
	return b.String()
}

func formatNumber(num int64) string {
	switch {
	case num >= 1000000000:
		return fmt.Sprintf("%.1fB", float64(num)/1000000000)
	case num >= 1000000:
		return fmt.Sprintf("%.1fM", float64(num)/1000000)
	case num >= 1000:
		return fmt.Sprintf("%.1fK", float64(num)/1000)
	}
	return fmt.Sprintf("%d", num)
}

func formatBytes(bytes int64) string {
	switch {
	case bytes >= 1024*1024*1024:
		return fmt.Sprintf("%.1f GB", float64(bytes)/(1024*1024*1024))
	case bytes >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	case bytes >= 1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	}
	return fmt.Sprintf("%d B", bytes)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
