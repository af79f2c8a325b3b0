package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/mdximport/internal/formatter"
	"github.com/desertthunder/mdximport/internal/services"
	"github.com/desertthunder/mdximport/internal/tracker"
)

// Session is the part of [tracker.Controller] the view drives.
type Session interface {
	Start(ctx context.Context, creds services.Credentials, upload services.Upload) (string, error)
	Cancel(ctx context.Context) error
	Teardown()
	Done() <-chan struct{}
	Session() tracker.Session
	Err() error
}

// Model represents the watch view state.
type Model struct {
	ctx      context.Context
	session  Session
	bridge   *Bridge
	creds    services.Credentials
	upload   services.Upload
	current  tracker.Session
	controls tracker.Controls
	queue    tracker.QueueSnapshot
	notice   notice
	percent  float64
	err      error
	width    int
	height   int
	events   list.Model
	bar      progress.Model
	spinner  spinner.Model
	help     help.Model
	keys     keyMap
}

// NewModel creates a watch view that starts one import on Init. bridge must be the Sink the session
// was built with.
func NewModel(ctx context.Context, session Session, bridge *Bridge, creds services.Credentials, upload services.Upload) *Model {
	return &Model{
		ctx:     ctx,
		session: session,
		bridge:  bridge,
		creds:   creds,
		upload:  upload,
		events:  newEventList(),
		bar:     progress.New(progress.WithDefaultGradient()),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Init starts the import and begins draining controller output.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.bridge.Wait(), m.start())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(10, msg.Width-8)
		m.events.SetSize(msg.Width-4, max(3, msg.Height-14))
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	m.events, cmd = m.events.Update(msg)
	return m, cmd
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgProgress:
		ev := msg.data.(tracker.ProgressEvent)
		if ev.Percent != nil {
			m.percent = float64(*ev.Percent) / 100
		}
		if ev.Kind == tracker.KindComplete {
			m.percent = 1
		}
		cmd := m.events.InsertItem(len(m.events.Items()), eventItem{event: ev, at: time.Now()})
		m.events.Select(len(m.events.Items()) - 1)
		return m, tea.Batch(cmd, m.bridge.Wait())

	case MsgQueue:
		m.queue = msg.data.(tracker.QueueSnapshot)
		return m, m.bridge.Wait()

	case MsgNotice:
		m.notice = msg.data.(notice)
		return m, m.bridge.Wait()

	case MsgControls:
		m.controls = msg.data.(tracker.Controls)
		return m, m.bridge.Wait()

	case MsgStarted:
		data := msg.data.(outcome)
		m.err = data.err
		m.current = data.session
		if data.err != nil {
			return m, nil
		}
		return m, m.waitDone()

	case MsgCancelled:
		data := msg.data.(outcome)
		if data.err != nil {
			m.err = data.err
		}
		m.current = data.session
		return m, nil

	case MsgSessionDone:
		data := msg.data.(outcome)
		m.current = data.session
		if data.err != nil {
			m.err = data.err
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, m.quit()
	case key.Matches(msg, m.keys.cancel):
		if m.controls.CancelEnabled {
			m.controls.CancelEnabled = false
			return m, m.cancel()
		}
		return m, nil
	case key.Matches(msg, m.keys.start):
		if m.controls.SubmitEnabled && !m.current.Status.Live() {
			m.reset()
			return m, m.start()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.events, cmd = m.events.Update(msg)
	return m, cmd
}

func (m *Model) reset() {
	m.err = nil
	m.percent = 0
	m.queue = tracker.QueueSnapshot{}
	m.controls.SubmitEnabled = false
	m.events.SetItems(nil)
}

func (m *Model) start() tea.Cmd {
	return func() tea.Msg {
		_, err := m.session.Start(m.ctx, m.creds, m.upload)
		return startedMsg(m.session.Session(), err)
	}
}

func (m *Model) cancel() tea.Cmd {
	return func() tea.Msg {
		err := m.session.Cancel(m.ctx)
		return cancelledMsg(m.session.Session(), err)
	}
}

// waitDone reads the session inside the command; Update never calls into the controller, whose
// loop may be waiting on the bridge.
func (m *Model) waitDone() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.session.Done():
			return sessionDoneMsg(m.session.Session(), m.session.Err())
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) quit() tea.Cmd {
	return func() tea.Msg {
		m.session.Teardown()
		m.bridge.Close()
		return tea.Quit()
	}
}

// Err is the last error the view reported.
func (m *Model) Err() error { return m.err }

// View renders the UI based on the current session state.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(styles.title.Render(fmt.Sprintf("MangaDex import: %s", m.upload.Name)))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(m.percent))
	b.WriteString("\n")

	if m.controls.QueueVisible {
		b.WriteString(styles.box.Render(formatter.QueueLine(m.queue)))
		b.WriteString("\n")
	}
	if m.notice.text != "" {
		b.WriteString(styles.Notice(m.notice.level).Render(m.notice.text))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.events.View())
	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m *Model) renderStatus() string {
	s := m.current
	switch s.Status {
	case tracker.Idle:
		if m.controls.SubmitEnabled {
			return styles.warn.Render("Not running")
		}
		return m.spinner.View() + " Submitting..."
	case tracker.Starting:
		return m.spinner.View() + " Submitting..."
	case tracker.Active:
		return fmt.Sprintf("%s Session %s", m.spinner.View(), s.ID)
	case tracker.Complete:
		return styles.ok.Render("✓ Import complete") + styles.help.Render(" "+s.ID)
	case tracker.Failed:
		return styles.err.Render("✗ Import failed") + styles.help.Render(" "+s.ID)
	case tracker.Cancelled:
		return styles.warn.Render("Import cancelled") + styles.help.Render(" "+s.ID)
	default:
		return ""
	}
}

func (m *Model) renderHelp() string {
	bindings := []key.Binding{m.keys.up, m.keys.down}
	if m.controls.CancelEnabled {
		bindings = append(bindings, m.keys.cancel)
	}
	if m.controls.SubmitEnabled && !m.current.Status.Live() {
		bindings = append(bindings, m.keys.start)
	}
	bindings = append(bindings, m.keys.quit)
	return styles.help.Render(m.help.ShortHelpView(bindings))
}
