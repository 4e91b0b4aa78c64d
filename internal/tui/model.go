package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/janekbaraniewski/reqwatch/internal/config"
	"github.com/janekbaraniewski/reqwatch/internal/core"
	"github.com/janekbaraniewski/reqwatch/internal/daemon"
)

const pollInterval = 2 * time.Second

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type pollResultMsg struct {
	status daemon.StatusResponse
	usage  core.UsageResult
	err    error
}

type actionDoneMsg struct {
	label string
	err   error
}

type themePersistedMsg struct{ err error }

type Model struct {
	client *daemon.Client

	width  int
	height int

	status     daemon.StatusResponse
	usage      core.UsageResult
	daemonErr  string
	hasData    bool
	refreshing bool

	showHelp   bool
	statusLine string

	warnThreshold float64
	critThreshold float64
}

func NewModel(client *daemon.Client, warnThresh, critThresh float64) Model {
	if warnThresh <= 0 {
		warnThresh = 0.7
	}
	if critThresh <= 0 {
		critThresh = 0.9
	}
	return Model{
		client:        client,
		warnThreshold: warnThresh,
		critThreshold: critThresh,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.pollCmd(), tickCmd())
}

func (m Model) pollCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		status, err := client.Status(ctx)
		if err != nil {
			return pollResultMsg{err: err}
		}
		usage, err := client.Usage(ctx)
		if err != nil {
			return pollResultMsg{status: status, err: err}
		}
		return pollResultMsg{status: status, usage: usage}
	}
}

func (m Model) refreshCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		out, err := client.TriggerRefresh(ctx)
		if err == nil && !out.Triggered {
			return actionDoneMsg{label: "refresh skipped: " + out.Reason}
		}
		return actionDoneMsg{label: "refreshing", err: err}
	}
}

func (m Model) loginCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := client.Login(ctx)
		return actionDoneMsg{label: "login window opened", err: err}
	}
}

func (m Model) logoutCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := client.Logout(ctx)
		return actionDoneMsg{label: "logged out", err: err}
	}
}

func saveThemeCmd(name string) tea.Cmd {
	return func() tea.Msg {
		return themePersistedMsg{err: config.SaveTheme(name)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tea.Batch(m.pollCmd(), tickCmd())

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case pollResultMsg:
		if msg.err != nil {
			m.daemonErr = msg.err.Error()
			return m, nil
		}
		m.daemonErr = ""
		m.status = msg.status
		m.usage = msg.usage
		if msg.usage.Success {
			m.hasData = true
			m.refreshing = false
		}
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.statusLine = "error: " + msg.err.Error()
		} else {
			m.statusLine = msg.label
			if msg.label == "refreshing" {
				m.refreshing = true
			}
		}
		return m, nil

	case themePersistedMsg:
		if msg.err != nil {
			m.statusLine = "theme save failed"
		} else {
			m.statusLine = "theme saved"
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "?" {
		m.showHelp = !m.showHelp
		return m, nil
	}
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		m.statusLine = ""
		return m, m.refreshCmd()
	case "l":
		m.statusLine = ""
		return m, m.loginCmd()
	case "o":
		m.statusLine = ""
		return m, m.logoutCmd()
	case "t":
		name := CycleTheme()
		return m, saveThemeCmd(name)
	}
	return m, nil
}
