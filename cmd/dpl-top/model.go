package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tomledger/dpl/pkg/store"
	"github.com/tomledger/dpl/pkg/types"
)

// keyMap defines the monitor's key bindings, grounded on
// pithecene-io-quarry/quarry/cli/tui's inspect.go keyMap.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// tickMsg fires on every poll interval.
type tickMsg time.Time

// snapshotMsg carries the result of one poll.
type snapshotMsg struct {
	rec  *types.OperationRecord
	tail []string
	err  error
	at   time.Time
}

// model is the Bubble Tea model for `dpl-top`: it polls one operation's
// Store record and human log tail on an interval and renders the live
// call-frame stack, participant staleness, and recent log lines.
type model struct {
	st       *store.Store
	opID     string
	interval time.Duration
	staleAge time.Duration

	rec      *types.OperationRecord
	tail     []string
	lastErr  error
	lastPoll time.Time

	width    int
	height   int
	quitting bool
}

func newModel(st *store.Store, opID string, interval, staleAge time.Duration) model {
	return model{st: st, opID: opID, interval: interval, staleAge: staleAge}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tickEvery(m.interval))
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) poll() tea.Cmd {
	st, opID := m.st, m.opID
	return func() tea.Msg {
		rec, err := st.Read(opID)
		if err != nil {
			return snapshotMsg{err: err, at: time.Now()}
		}
		tail, tailErr := st.TailLog(opID, 12)
		if tailErr != nil {
			tail = nil
		}
		return snapshotMsg{rec: rec, tail: tail, at: time.Now()}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, tea.Batch(m.poll(), tickEvery(m.interval))

	case snapshotMsg:
		m.lastPoll = msg.at
		if msg.err != nil {
			m.lastErr = msg.err
		} else {
			m.lastErr = nil
			m.rec = msg.rec
			m.tail = msg.tail
		}
		return m, nil
	}

	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	if m.lastErr != nil && m.rec == nil {
		return errBoxStyle.Render(fmt.Sprintf("waiting for %s: %v", m.opID, m.lastErr)) +
			"\n" + helpStyle.Render("Press q or Ctrl+C to quit")
	}
	if m.rec == nil {
		return "loading " + m.opID + "..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("dpl-top  %s", m.rec.OperationID)))
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Status:"),
		statusStyle(string(m.rec.Status)).Render(string(m.rec.Status)),
		labelStyle.Render("Aborted:"),
		valueStyle.Render(fmt.Sprintf("%v", m.rec.Aborted))))
	b.WriteString(fmt.Sprintf("%s %s\n",
		labelStyle.Render("Started:"),
		valueStyle.Render(m.rec.StartTime.Format("2006-01-02 15:04:05"))))
	b.WriteString(fmt.Sprintf("%s %s\n\n",
		labelStyle.Render("Description:"),
		valueStyle.Render(m.rec.Description)))

	b.WriteString(m.renderFrames())
	b.WriteString("\n")
	b.WriteString(m.renderParticipants())
	b.WriteString("\n")
	b.WriteString(m.renderLogTail())

	help := fmt.Sprintf("polled %s ago", time.Since(m.lastPoll).Round(100*time.Millisecond))
	if m.lastErr != nil {
		help += fmt.Sprintf("  (last poll error: %v)", m.lastErr)
	}
	b.WriteString(helpStyle.Render(help + "   Press q or Ctrl+C to quit"))
	return b.String()
}

func (m model) renderFrames() string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Call Frames"))
	b.WriteString("\n")
	if len(m.rec.CallFrames) == 0 {
		b.WriteString(logLineStyle.Render("  (none)\n"))
		return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
	}
	for i, f := range m.rec.CallFrames {
		indent := strings.Repeat("  ", i)
		line := fmt.Sprintf("%s- %s  %s", indent, f.CallID, f.ParticipantID)
		if f.Description != "" {
			line += "  " + f.Description
		}
		b.WriteString(frameStyle(string(f.State)).Render(line))
		b.WriteString(fmt.Sprintf("  [%s]\n", f.State))
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (m model) renderParticipants() string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Participants"))
	b.WriteString("\n")
	for _, p := range m.rec.Participants {
		age := time.Since(p.LastSeen)
		stale := age > m.staleAge
		b.WriteString(fmt.Sprintf("  %s (pid %d)  last seen %s\n",
			p.ParticipantID, p.PID,
			stalenessStyle(stale).Render(age.Round(time.Second).String()+" ago")))
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (m model) renderLogTail() string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Recent Log"))
	b.WriteString("\n")
	if len(m.tail) == 0 {
		b.WriteString(logLineStyle.Render("  (empty)\n"))
		return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
	}
	for _, line := range m.tail {
		b.WriteString(logLineStyle.Render("  " + line))
		b.WriteString("\n")
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
