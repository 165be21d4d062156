package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-stage/core"
	"github.com/koscakluka/ema-stage/core/conversations"
	"github.com/koscakluka/ema-stage/core/events"
	"github.com/koscakluka/ema-stage/core/markers"
	"github.com/muesli/reflow/wordwrap"
)

const eventBufferSize = 1024

// eventBridge hands orchestrator and voice events to the program. Audio
// levels are dropped rather than blocking the emitter when the UI lags, and
// nothing blocks once the program has exited.
type eventBridge struct {
	events    chan events.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newEventBridge(size int) *eventBridge {
	return &eventBridge{
		events: make(chan events.Event, size),
		done:   make(chan struct{}),
	}
}

func (b *eventBridge) handle(event events.Event) {
	if _, ok := event.(events.UserAudioLevel); ok {
		select {
		case b.events <- event:
		default:
		}
		return
	}
	select {
	case b.events <- event:
	case <-b.done:
	}
}

// close stops delivery. Events handled afterwards are dropped.
func (b *eventBridge) close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *eventBridge) next() tea.Cmd {
	return func() tea.Msg {
		select {
		case event := <-b.events:
			return eventMsg{event: event}
		default:
		}
		select {
		case event := <-b.events:
			return eventMsg{event: event}
		case <-b.done:
			return nil
		}
	}
}

type eventMsg struct {
	event events.Event
}

type commandResultMsg struct {
	status string
	err    error
}

type theme struct {
	header    lipgloss.Style
	status    lipgloss.Style
	errStatus lipgloss.Style
	muted     lipgloss.Style
	roles     map[conversations.Role]lipgloss.Style
	panel     lipgloss.Style
}

func newTheme() theme {
	mint := lipgloss.Color("#05ffa1")
	blue := lipgloss.Color("#01cdfe")
	pink := lipgloss.Color("#ff71ce")
	amber := lipgloss.Color("#ffd166")
	muted := lipgloss.Color("#9ca3d8")

	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(blue).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderBottom(true).
			BorderForeground(muted),
		status:    lipgloss.NewStyle().Foreground(blue),
		errStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		muted:     lipgloss.NewStyle().Foreground(muted),
		roles: map[conversations.Role]lipgloss.Style{
			conversations.RoleUser:      lipgloss.NewStyle().Foreground(mint).Bold(true),
			conversations.RoleAssistant: lipgloss.NewStyle().Foreground(blue).Bold(true),
			conversations.RoleError:     lipgloss.NewStyle().Foreground(pink).Bold(true),
			conversations.RoleWarning:   lipgloss.NewStyle().Foreground(amber).Bold(true),
			conversations.RoleSystem:    lipgloss.NewStyle().Foreground(muted).Bold(true),
			conversations.RoleTool:      lipgloss.NewStyle().Foreground(muted).Bold(true),
		},
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
	}
}

type model struct {
	ctx    context.Context
	app    *app
	bridge *eventBridge

	input      textinput.Model
	transcript viewport.Model
	spinner    spinner.Model
	theme      theme

	width  int
	height int

	history    []conversations.Message
	streaming  strings.Builder
	busy       bool
	transport  string
	voiceState string
	level      int
	lastAction string
	statusLine string
	err        error
}

func newModel(ctx context.Context, a *app, bridge *eventBridge) *model {
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Placeholder = "Say something, or /help"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	m := &model{
		ctx:        ctx,
		app:        a,
		bridge:     bridge,
		input:      input,
		transcript: viewport.New(0, 0),
		spinner:    sp,
		theme:      newTheme(),
		history:    a.orchestrator.History(),
		transport:  "disconnected",
		voiceState: "off",
		statusLine: "ready",
	}
	if a.voiceErr != nil {
		m.voiceState = "unavailable"
		m.err = a.voiceErr
	}
	return m
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.bridge.next())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			m.app.orchestrator.Abort()
			m.statusLine = "aborted"
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if text != "" {
				cmds = append(cmds, m.submit(text))
			}
		}

	case eventMsg:
		m.applyEvent(msg.event)
		cmds = append(cmds, m.bridge.next())

	case commandResultMsg:
		m.err = msg.err
		if msg.status != "" {
			m.statusLine = msg.status
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	switch msg.(type) {
	case tea.MouseMsg:
		// Letters typed into the input must not reach the viewport keymap.
		m.transcript, cmd = m.transcript.Update(msg)
		cmds = append(cmds, cmd)
	case tea.WindowSizeMsg, eventMsg:
		m.render()
	}
	return m, tea.Batch(cmds...)
}

// submit sends text as a user turn or runs it as a slash command.
func (m *model) submit(text string) tea.Cmd {
	if !strings.HasPrefix(text, "/") {
		m.err = nil
		m.app.orchestrator.Send(text)
		return nil
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "help":
		m.statusLine = "/mode provider|agent  /engine <id>  /session <id>  /abort  esc aborts  ctrl+c quits"
	case "abort":
		m.app.orchestrator.Abort()
		m.statusLine = "aborted"
	case "mode":
		mode := orchestration.Mode(arg)
		if mode != orchestration.ModeProvider && mode != orchestration.ModeAgent {
			m.err = fmt.Errorf("unknown mode %q", arg)
			return nil
		}
		m.app.orchestrator.SetMode(mode)
		m.statusLine = "mode " + arg
	case "engine":
		m.app.orchestrator.SetEngine(arg)
		m.statusLine = "engine " + arg
	case "session":
		ctx, o := m.ctx, m.app.orchestrator
		return func() tea.Msg {
			if err := o.SetSession(ctx, arg); err != nil {
				return commandResultMsg{err: err}
			}
			return commandResultMsg{status: "session " + o.SessionID()}
		}
	default:
		m.err = fmt.Errorf("unknown command /%s", name)
	}
	return nil
}

func (m *model) applyEvent(event events.Event) {
	switch e := event.(type) {
	case events.TurnStarted:
		m.busy = true
		m.streaming.Reset()
	case events.TurnCompleted, events.TurnFailed, events.TurnCancelled:
		m.busy = false
		m.streaming.Reset()
	case events.AssistantResponseSegment:
		m.streaming.WriteString(e.Segment)
	case events.AssistantActionToken:
		m.lastAction = describeAction(e.Tag)
	case events.MessageAppended:
		m.history = m.app.orchestrator.History()
	case events.TransportStatusChanged:
		m.transport = e.Status
	case events.SessionReady:
		m.statusLine = "session " + e.SessionID + " ready"
	case events.VoiceStateChanged:
		m.voiceState = e.State
	case events.UserAudioLevel:
		m.level = e.Level
	case events.CaptureDiscarded:
		m.statusLine = fmt.Sprintf("discarded %s of audio", e.Duration.Round(time.Millisecond))
	case events.ToolCallStarted:
		m.statusLine = "tool " + e.Name
	}
}

func (m *model) resize() {
	headerHeight := 2
	footerHeight := 4
	m.transcript.Width = max(m.width-2, 10)
	m.transcript.Height = max(m.height-headerHeight-footerHeight, 3)
	m.input.Width = max(m.width-6, 10)
}

func (m *model) render() {
	m.transcript.SetContent(renderTranscript(m.theme, m.history, m.streaming.String(), m.transcript.Width))
	m.transcript.GotoBottom()
}

// renderTranscript lays the conversation out as role labels followed by
// wrapped content. The reply being streamed comes last.
func renderTranscript(th theme, history []conversations.Message, streaming string, width int) string {
	wrapAt := max(width-2, 10)

	var b strings.Builder
	for _, msg := range history {
		writeEntry(&b, th, msg.Role, msg.Content, wrapAt)
	}
	if streaming != "" {
		writeEntry(&b, th, conversations.RoleAssistant, streaming, wrapAt)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeEntry(b *strings.Builder, th theme, role conversations.Role, content string, wrapAt int) {
	style, ok := th.roles[role]
	if !ok {
		style = th.muted
	}
	b.WriteString(style.Render(string(role)))
	b.WriteString("\n")
	b.WriteString(wordwrap.String(content, wrapAt))
	b.WriteString("\n\n")
}

func (m *model) View() string {
	header := m.theme.header.Width(max(m.width-2, 0)).Render(fmt.Sprintf(
		"ema-stage  session %s  transport %s  voice %s %s",
		shortID(m.app.orchestrator.SessionID()), m.transport, m.voiceState, levelBar(m.level),
	))

	status := m.theme.status.Render(m.statusLine)
	if m.err != nil {
		status = m.theme.errStatus.Render(m.err.Error())
	}
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	if m.lastAction != "" {
		status += m.theme.muted.Render("  action " + m.lastAction)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.transcript.View(),
		m.theme.panel.Render(m.input.View()),
		status,
	)
}

// describeAction renders a directive for the status line. Unknown
// directives are shown as written.
func describeAction(tag string) string {
	action, ok := markers.ParseAction(tag)
	if !ok {
		return markers.Normalize(tag)
	}
	switch action.Kind {
	case markers.ActionMotion:
		return "motion " + action.Group
	case markers.ActionExpression:
		return fmt.Sprintf("expression %v", action.ExpressionID)
	case markers.ActionDelay:
		return "delay " + action.Delay.String()
	}
	return string(action.Kind)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// levelBar renders a 0..100 meter value as five cells.
func levelBar(level int) string {
	const cells = 5
	filled := min(max(level*cells/100, 0), cells)
	return strings.Repeat("|", filled) + strings.Repeat(".", cells-filled)
}
