// Package tui provides the live terminal dashboard for Murmur.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/murmur/internal/models"
)

const (
	refreshInterval = 2 * time.Second
	historyDepth    = 40
)

var (
	// Colors
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	accentColor  = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	okStyle   = lipgloss.NewStyle().Foreground(successColor)
	warnStyle = lipgloss.NewStyle().Foreground(warningColor)
	badStyle  = lipgloss.NewStyle().Foreground(errorColor)
)

// App is the dashboard application model.
type App struct {
	client   *Client
	status   *Status
	history  []models.HistoryRecord
	viewport viewport.Model
	spinner  spinner.Model
	width    int
	height   int
	online   bool
	message  string
	loaded   bool
}

// New creates the dashboard bound to an API address.
func New(apiAddr string) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(accentColor)

	return &App{
		client:   NewClient(apiAddr),
		viewport: viewport.New(80, 12),
		spinner:  sp,
	}
}

// Run starts the dashboard event loop.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type tickMsg time.Time

type refreshMsg struct {
	status  *Status
	history []models.HistoryRecord
	err     error
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) refresh() tea.Cmd {
	client := a.client
	return func() tea.Msg {
		status, err := client.GetStatus()
		if err != nil {
			return refreshMsg{err: err}
		}
		history, err := client.GetHistory(historyDepth)
		if err != nil {
			return refreshMsg{err: err}
		}
		return refreshMsg{status: status, history: history}
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.refresh(), tick())
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "s":
			client := a.client
			return a, func() tea.Msg {
				if err := client.ForceScan(); err != nil {
					return refreshMsg{err: err}
				}
				return nil
			}
		case "r":
			return a, a.refresh()
		case "up", "k":
			a.viewport.LineUp(1)
		case "down", "j":
			a.viewport.LineDown(1)
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width - 4
		a.viewport.Height = msg.Height - 12
		if a.viewport.Height < 4 {
			a.viewport.Height = 4
		}

	case tickMsg:
		return a, tea.Batch(a.refresh(), tick())

	case refreshMsg:
		if msg.err != nil {
			a.online = false
			a.message = msg.err.Error()
			return a, nil
		}
		a.online = true
		a.loaded = true
		a.message = ""
		a.status = msg.status
		a.history = msg.history
		a.viewport.SetContent(a.renderHistory())
		a.viewport.GotoBottom()

	default:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, nil
}

// View implements tea.Model.
func (a *App) View() string {
	var b strings.Builder

	state := "offline"
	stateStyle := badStyle
	if a.online && a.status != nil {
		state = string(a.status.State)
		if a.status.State == models.AgentRunning {
			stateStyle = okStyle
		} else {
			stateStyle = warnStyle
		}
	}

	b.WriteString(titleStyle.Render("Murmur") + "  " + stateStyle.Render("● "+state) + "\n\n")

	if !a.loaded {
		b.WriteString(a.spinner.View() + " connecting...\n")
		return b.String()
	}

	b.WriteString(panelStyle.Render(a.renderMonitors()) + "\n")
	b.WriteString(panelStyle.Render(a.viewport.View()) + "\n")

	if a.message != "" {
		b.WriteString(badStyle.Render(a.message) + "\n")
	}
	b.WriteString(helpStyle.Render("s scan • r refresh • ↑/↓ scroll • q quit"))
	return b.String()
}

func (a *App) renderMonitors() string {
	if a.status == nil || len(a.status.Monitors) == 0 {
		return "no monitor samples yet"
	}

	var lines []string
	for _, m := range a.status.Monitors {
		dot := okStyle.Render("●")
		switch m.LastKind {
		case models.KindConnDown, models.KindProcMissing, models.KindProcFrozen:
			dot = badStyle.Render("●")
		case models.KindProbeError:
			dot = warnStyle.Render("●")
		}
		line := fmt.Sprintf("%s %-14s %-14s %s", dot, m.Monitor, m.LastKind, m.LastSample.Local().Format("15:04:05"))
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderHistory() string {
	if len(a.history) == 0 {
		return "no history yet"
	}

	var lines []string
	for _, r := range a.history {
		style := okStyle
		switch {
		case r.Kind == models.RecordError:
			style = warnStyle
		case r.Kind == models.RecordDetection:
			style = badStyle
		case r.Kind == models.RecordFix && r.Outcome != string(models.FixSuccess):
			style = warnStyle
		}
		line := fmt.Sprintf("%s  %-11s %-16s %-12s %s",
			r.Timestamp.Local().Format("15:04:05"), r.Kind, r.Rule, r.Outcome, r.Target)
		lines = append(lines, style.Render(line))
	}
	return strings.Join(lines, "\n")
}
