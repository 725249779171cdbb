package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/sender"
)

// TUI is a terminal status display for a running session.
type TUI struct {
	mu       sync.Mutex
	program  *tea.Program
	updates  chan sender.Status
	quitChan chan struct{}
	options  []tea.ProgramOption
}

type tickMsg time.Time
type statusMsg sender.Status

// model is the bubbletea model of the TUI.
type model struct {
	status    sender.Status
	startTime time.Time
	now       time.Time
	quitting  bool
	quitChan  chan struct{}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	stageStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	hintStyle   = lipgloss.NewStyle().Faint(true)
)

func newModel(quit chan struct{}) model {
	now := time.Now()
	return model{startTime: now, now: now, quitChan: quit}
}

func (m model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		m.now = time.Time(msg)
		return m, tickEvery()

	case statusMsg:
		m.status = sender.Status(msg)
		if m.status.Event == sender.EventStopped {
			return m, tea.Quit
		}
		return m, nil
	}

	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return "Stopping sender...\n"
	}

	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(headerStyle.Render(label))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	b.WriteString(titleStyle.Render("RTP Audio Sender"))
	b.WriteString("\n\n")

	row("Session:     ", m.status.SessionID)
	row("Destination: ", m.status.Destination)
	row("Mode:        ", m.status.Mode.String())
	row("Uptime:      ", m.now.Sub(m.startTime).Round(time.Second).String())
	b.WriteString("\n")

	row("Format:      ", m.status.Format.String())
	row("State:       ", m.status.State.String())
	row("Buffers:     ", fmt.Sprintf("%d (%d bytes)", m.status.Buffers, m.status.Bytes))
	row("Packets:     ", fmt.Sprintf("%d", m.status.Packets))
	row("Switches:    ", fmt.Sprintf("%d", m.status.Switches))
	row("Timestamp:   ", m.status.LastTimestamp.Round(time.Millisecond).String())

	if len(m.status.Stages) > 0 {
		b.WriteString("\n")
		b.WriteString(stageStyle.Render(strings.Join(m.status.Stages, " ! ")))
		b.WriteString("\n")
	}
	if m.status.Err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.status.Err.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(hintStyle.Render("Press 'q' or Ctrl+C to quit"))
	return b.String()
}

// NewTUI creates a TUI. Options are passed to the bubbletea program; the
// default is the alternate screen.
func NewTUI(options ...tea.ProgramOption) *TUI {
	if len(options) == 0 {
		options = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &TUI{
		updates:  make(chan sender.Status, 16),
		quitChan: make(chan struct{}, 1),
		options:  options,
	}
}

// Observe queues a status update. It never blocks; updates are dropped
// while the queue is full.
func (t *TUI) Observe(status sender.Status) {
	select {
	case t.updates <- status:
	default:
	}
}

// Run shows the TUI until the user quits, the session stops or ctx ends.
func (t *TUI) Run(ctx context.Context) error {
	opts := append([]tea.ProgramOption{tea.WithContext(ctx)}, t.options...)
	program := tea.NewProgram(newModel(t.quitChan), opts...)

	t.mu.Lock()
	t.program = program
	t.mu.Unlock()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case status := <-t.updates:
				program.Send(statusMsg(status))
			case <-done:
				return
			}
		}
	}()

	_, err := program.Run()
	close(done)
	wg.Wait()

	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		err = nil
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "TUI.Run",
			"error":    err.Error(),
		}).Error("Terminal monitor failed")
	}
	return err
}

// Stop ends the TUI program.
func (t *TUI) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.program != nil {
		t.program.Quit()
	}
}

// QuitChan signals when the user asks to quit.
func (t *TUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
