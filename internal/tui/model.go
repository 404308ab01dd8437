// Package tui is the terminal dashboard behind `netsync watch`. It polls
// the admin API and never talks to the transport directly.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zsiec/netsync/internal/admin"
)

// historySize is the number of rate samples kept for the sparkline.
const historySize = 60

type tickMsg time.Time

type pollMsg struct {
	stats   *admin.StatsResponse
	clients *admin.ClientsResponse
	at      time.Time
	err     error
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	client   *http.Client
	baseURL  string
	interval time.Duration

	stats   *admin.StatsResponse
	clients *admin.ClientsResponse
	err     error

	// message rate derived from successive polls
	lastTotal int64
	lastAt    time.Time
	rates     []float64

	width    int
	height   int
	quitting bool
}

// NewModel builds a dashboard polling baseURL every interval.
func NewModel(baseURL string, interval time.Duration, client *http.Client) *Model {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Model{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		interval: interval,
		rates:    make([]float64, 0, historySize),
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(tickEvery(m.interval), m.poll())
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.poll()
		}

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tea.Batch(tickEvery(m.interval), m.poll())

	case pollMsg:
		m.apply(msg)
		return m, nil
	}

	return m, nil
}

func (m *Model) apply(msg pollMsg) {
	m.err = msg.err
	if msg.err != nil {
		return
	}
	m.stats = msg.stats
	m.clients = msg.clients

	total := msg.stats.Traffic.MessagesIn + msg.stats.Traffic.MessagesOut
	if !m.lastAt.IsZero() {
		if elapsed := msg.at.Sub(m.lastAt).Seconds(); elapsed > 0 {
			rate := float64(total-m.lastTotal) / elapsed
			if rate < 0 {
				// client churn can shrink the totals
				rate = 0
			}
			m.rates = append(m.rates, rate)
			if len(m.rates) > historySize {
				m.rates = m.rates[len(m.rates)-historySize:]
			}
		}
	}
	m.lastTotal = total
	m.lastAt = msg.at
}

// View implements tea.Model
func (m *Model) View() string {
	if m.quitting {
		return "Closing dashboard...\n"
	}
	return m.render()
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var stats admin.StatsResponse
		if err := m.getJSON(ctx, "/api/v1/stats", &stats); err != nil {
			return pollMsg{err: err}
		}
		var clients admin.ClientsResponse
		if err := m.getJSON(ctx, "/api/v1/clients", &clients); err != nil {
			return pollMsg{err: err}
		}
		return pollMsg{stats: &stats, clients: &clients, at: time.Now()}
	}
}

func (m *Model) getJSON(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Run starts the dashboard on the current terminal.
func Run(baseURL string, interval time.Duration) error {
	p := tea.NewProgram(NewModel(baseURL, interval, nil), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
