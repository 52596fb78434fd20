// Package tui implements the daemon monitor: the current network, consent
// states, parked calls and recent log records.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/falconeta/wificonnect/consent"
	wclog "github.com/falconeta/wificonnect/internal/log"
	"github.com/falconeta/wificonnect/plugin"
	"github.com/falconeta/wificonnect/wifi"
)

const (
	maxLogLines = 8
	// staleAfter is the wait at which the age indicator is fully stale.
	staleAfter = time.Minute
)

// Source is the dispatcher state the monitor observes.
type Source interface {
	Pending() []plugin.Continuation
	Authority() consent.Authority
}

type keyMap struct {
	Refresh key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding  { return []key.Binding{k.Refresh, k.Quit} }
func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

var keys = keyMap{
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type snapshotMsg struct {
	ssid    string
	ssidErr error
	states  map[consent.Consent]consent.State
	pending []plugin.Continuation
	err     error
	at      time.Time
}

type tickMsg time.Time

// Model is the monitor's tea.Model.
type Model struct {
	source   Source
	backend  wifi.Backend
	interval time.Duration

	help  help.Model
	table table.Model

	snap snapshotMsg
	logs []slog.Record

	width, height int
}

// NewModel creates a monitor refreshing every interval.
func NewModel(source Source, backend wifi.Backend, interval time.Duration) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Ticket", Width: 10},
			{Title: "Method", Width: 20},
			{Title: "Waiting on", Width: 24},
			{Title: "Age", Width: 8},
		}),
		table.WithHeight(6),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(CurrentTheme.Border).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.Foreground(CurrentTheme.Primary).Bold(false)
	t.SetStyles(styles)

	return &Model{
		source:   source,
		backend:  backend,
		interval: interval,
		help:     help.New(),
		table:    t,
		snap:     snapshotMsg{states: map[consent.Consent]consent.State{}},
	}
}

// Init starts the first refresh and the ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tick())
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) refresh() tea.Cmd {
	source, backend := m.source, m.backend
	return func() tea.Msg {
		snap := snapshotMsg{at: time.Now()}
		snap.states, snap.err = consent.Snapshot(context.Background(), source.Authority())
		snap.pending = source.Pending()
		if backend != nil {
			snap.ssid, snap.ssidErr = backend.CurrentSSID()
		}
		return snap
	}
}

// Update handles incoming messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			return m, m.refresh()
		}
	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())
	case snapshotMsg:
		m.snap = msg
		m.table.SetRows(pendingRows(msg.pending, msg.at))
		return m, nil
	case wclog.RecordMsg:
		m.logs = append(m.logs, slog.Record(msg))
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func pendingRows(pending []plugin.Continuation, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(pending))
	for _, c := range pending {
		ticket := c.Ticket
		if len(ticket) > 8 {
			ticket = ticket[:8]
		}
		rows = append(rows, table.Row{
			ticket,
			c.ResumeAt,
			string(c.Consent),
			now.Sub(c.Since).Truncate(time.Second).String(),
		})
	}
	return rows
}

// ageColor blends from the fresh to the stale theme color as age approaches
// staleAfter.
func ageColor(age time.Duration) lipgloss.Color {
	start, err := colorful.Hex(CurrentTheme.AgeFresh)
	if err != nil {
		return lipgloss.Color(CurrentTheme.AgeFresh)
	}
	end, err := colorful.Hex(CurrentTheme.AgeStale)
	if err != nil {
		return lipgloss.Color(CurrentTheme.AgeFresh)
	}
	p := float64(age) / float64(staleAfter)
	if p > 1 {
		p = 1
	}
	return lipgloss.Color(start.BlendRgb(end, p).Hex())
}

func stateStyle(s consent.State) lipgloss.Style {
	switch s {
	case consent.Granted:
		return lipgloss.NewStyle().Foreground(CurrentTheme.Granted)
	case consent.Denied:
		return lipgloss.NewStyle().Foreground(CurrentTheme.Denied)
	default:
		return lipgloss.NewStyle().Foreground(CurrentTheme.Prompt)
	}
}

// View renders the monitor.
func (m *Model) View() string {
	var s strings.Builder
	title := lipgloss.NewStyle().Foreground(CurrentTheme.Primary).Bold(true)
	subtle := lipgloss.NewStyle().Foreground(CurrentTheme.Subtle)
	normal := lipgloss.NewStyle().Foreground(CurrentTheme.Normal)

	s.WriteString(title.Render("wificonnect monitor"))
	s.WriteString("\n\n")

	switch {
	case m.snap.ssidErr != nil:
		s.WriteString(fmt.Sprintf("Network: %s\n", stateStyle(consent.Denied).Render(m.snap.ssidErr.Error())))
	case m.snap.ssid == "":
		s.WriteString(fmt.Sprintf("Network: %s\n", subtle.Render("not connected")))
	default:
		s.WriteString(fmt.Sprintf("Network: %s\n", normal.Render(m.snap.ssid)))
	}

	s.WriteString("\n")
	s.WriteString(title.Render("Consents"))
	s.WriteString("\n")
	if m.snap.err != nil {
		s.WriteString(stateStyle(consent.Denied).Render(m.snap.err.Error()))
		s.WriteString("\n")
	}
	for _, c := range consent.Required {
		state, ok := m.snap.states[c]
		label := state.String()
		if !ok {
			label = "?"
		}
		s.WriteString(fmt.Sprintf("  %-24s %s\n", c, stateStyle(state).Render(label)))
	}

	s.WriteString("\n")
	s.WriteString(title.Render(fmt.Sprintf("Waiting calls (%d)", len(m.snap.pending))))
	if len(m.snap.pending) > 0 {
		oldest := m.snap.at.Sub(m.snap.pending[0].Since)
		s.WriteString("  ")
		s.WriteString(lipgloss.NewStyle().Foreground(ageColor(oldest)).Render(fmt.Sprintf("oldest %s", oldest.Truncate(time.Second))))
	}
	s.WriteString("\n")
	s.WriteString(m.table.View())
	s.WriteString("\n\n")

	s.WriteString(title.Render("Log"))
	s.WriteString("\n")
	for _, r := range m.logs {
		style := normal
		switch {
		case r.Level >= slog.LevelError:
			style = stateStyle(consent.Denied)
		case r.Level == slog.LevelWarn:
			style = stateStyle(consent.Unknown)
		}
		var line strings.Builder
		line.WriteString(fmt.Sprintf("%s [%s] %s", r.Time.Format("15:04:05"), r.Level, r.Message))
		r.Attrs(func(a slog.Attr) bool {
			line.WriteString(fmt.Sprintf(" %s=%v", a.Key, a.Value.Any()))
			return true
		})
		s.WriteString(style.Render(line.String()))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(m.help.View(keys))
	return s.String()
}

// Run shows the monitor until the user quits or ctx is done. Log records from
// the default internal/log handler are streamed into the view.
func Run(ctx context.Context, source Source, backend wifi.Backend, interval time.Duration) error {
	m := NewModel(source, backend, interval)
	m.logs = append(m.logs, wclog.Records()...)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	ch := make(chan tea.Msg, 64)
	defer close(ch)
	go func() {
		for msg := range ch {
			p.Send(msg)
		}
	}()
	wclog.SetOutput(ch)
	defer wclog.SetOutput(nil)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error running monitor: %w", err)
	}
	return nil
}
