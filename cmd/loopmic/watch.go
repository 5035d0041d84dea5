package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of the stream readings",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := newWatchModel(watchInterval, fetchReadings, sendCommand)
		_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
		return err
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Polling interval")
	rootCmd.AddCommand(watchCmd)
}

type watchKeyMap struct {
	Refresh key.Binding
	Start   key.Binding
	Stop    key.Binding
	Restart key.Binding
	Reset   key.Binding
	Quit    key.Binding
}

func defaultWatchKeys() watchKeyMap {
	return watchKeyMap{
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Start: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "start"),
		),
		Stop: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "stop"),
		),
		Restart: key.NewBinding(
			key.WithKeys("R"),
			key.WithHelp("R", "restart"),
		),
		Reset: key.NewBinding(
			key.WithKeys("0"),
			key.WithHelp("0", "reset restarts"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Start, k.Stop, k.Restart, k.Reset, k.Quit}
}

// readingsMsg carries a poll result. scheduled marks polls driven by the
// ticker, which re-arm it; manual refreshes do not.
type readingsMsg struct {
	readings  map[string]any
	err       error
	scheduled bool
}

type commandMsg struct {
	name   string
	result map[string]any
	err    error
}

type pollMsg struct{}

type watchModel struct {
	keys     watchKeyMap
	help     help.Model
	spinner  spinner.Model
	theme    theme
	interval time.Duration
	fetch    func() (map[string]any, error)
	send     func(string) (map[string]any, error)

	readings map[string]any
	err      error
	status   string
	loading  bool
	updated  time.Time
}

func newWatchModel(interval time.Duration, fetch func() (map[string]any, error), send func(string) (map[string]any, error)) watchModel {
	return watchModel{
		keys:     defaultWatchKeys(),
		help:     help.New(),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		theme:    defaultTheme(),
		interval: interval,
		fetch:    fetch,
		send:     send,
		loading:  true,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll(true))
}

func (m watchModel) poll(scheduled bool) tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		readings, err := fetch()
		return readingsMsg{readings: readings, err: err, scheduled: scheduled}
	}
}

func (m watchModel) command(name string) tea.Cmd {
	send := m.send
	return func() tea.Msg {
		result, err := send(name)
		return commandMsg{name: name, result: result, err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			m.loading = true
			return m, m.poll(false)
		case key.Matches(msg, m.keys.Start):
			return m.runCommand("start_stream")
		case key.Matches(msg, m.keys.Stop):
			return m.runCommand("stop_stream")
		case key.Matches(msg, m.keys.Restart):
			return m.runCommand("restart_stream")
		case key.Matches(msg, m.keys.Reset):
			return m.runCommand("reset_restart_count")
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case readingsMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.readings = msg.readings
			m.updated = time.Now()
		}
		if msg.scheduled {
			return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })
		}
		return m, nil

	case pollMsg:
		return m, m.poll(true)

	case commandMsg:
		switch {
		case msg.err != nil:
			m.status = fmt.Sprintf("%s: %v", msg.name, msg.err)
		case msg.result["error"] != nil:
			m.status = fmt.Sprintf("%s: %v", msg.name, msg.result["error"])
		default:
			m.status = fmt.Sprintf("%s: %v", msg.name, msg.result["status"])
		}
		m.loading = true
		return m, m.poll(false)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) runCommand(name string) (tea.Model, tea.Cmd) {
	m.status = name + "..."
	return m, m.command(name)
}

func (m watchModel) View() string {
	var b strings.Builder

	title := "loopmic"
	if m.loading {
		title += " " + m.spinner.View()
	}
	b.WriteString(m.theme.Heading.Render(title))
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(m.theme.Bad.Render(m.err.Error()))
		b.WriteString("\n")
	case m.readings == nil:
		b.WriteString(m.theme.Dimmed.Render("waiting for readings"))
		b.WriteString("\n")
	default:
		b.WriteString(renderReadings(m.readings, m.theme))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(m.theme.Value.Render(m.status))
		b.WriteString("\n")
	}
	if !m.updated.IsZero() {
		b.WriteString(m.theme.Dimmed.Render("updated " + m.updated.Format("15:04:05")))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView(m.keys.ShortHelp()))
	return b.String()
}
