package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chativa/chativa/internal/connector"
	"github.com/chativa/chativa/internal/message"
	"github.com/chativa/chativa/internal/widget"
)

const (
	chatHeaderHeight = 2
	chatFooterHeight = 3
	sendTimeout      = 15 * time.Second
)

var spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

// ChatOptions configures RunChat.
type ChatOptions struct {
	Title string
	// LoadHistory pages in one page of history after connecting.
	LoadHistory bool
}

type (
	storeMsg   []message.Message
	stateMsg   widget.State
	errMsg     struct{ err error }
	mountedMsg struct{}
	historyMsg struct{ n int }
)

// chatModel is the Bubble Tea model of the chat client. It reads messages
// from the widget's store and renders each through the widget's message
// type registry.
type chatModel struct {
	w           *widget.Widget
	opts        ChatOptions
	ctx         context.Context
	viewport    viewport.Model
	input       textinput.Model
	spinner     spinner.Model
	messages    []message.Message
	state       widget.State
	status      string
	width       int
	height      int
	ready       bool
	quitting    bool
	userStyle   lipgloss.Style
	headerStyle lipgloss.Style
}

func newChatModel(ctx context.Context, w *widget.Widget, opts ChatOptions) chatModel {
	in := textinput.New()
	in.Placeholder = "Type a message, /history for older messages, /quit to leave"
	in.Focus()
	in.CharLimit = 2000

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	if opts.Title == "" {
		opts.Title = "Chativa"
	}

	m := chatModel{
		w:        w,
		opts:     opts,
		ctx:      ctx,
		input:    in,
		spinner:  sp,
		viewport: viewport.New(80, 20),
		state:    w.State(),
	}
	m.applyTheme(m.state.Theme)
	return m
}

func (m *chatModel) applyTheme(t widget.Theme) {
	m.userStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(t.PrimaryColor)).Bold(true)
	m.headerStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(t.BackgroundColor)).
		Background(lipgloss.Color(t.PrimaryColor)).
		Padding(0, 1)
}

func (m chatModel) mount() tea.Msg {
	if err := m.w.Mount(m.ctx); err != nil {
		return errMsg{err}
	}
	return mountedMsg{}
}

func (m chatModel) loadHistory() tea.Msg {
	n, err := m.w.LoadHistory(m.ctx)
	if err != nil {
		return errMsg{err}
	}
	return historyMsg{n}
}

func (m chatModel) send(text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, sendTimeout)
		defer cancel()
		if err := m.w.Send(ctx, text); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.mount)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chatHeaderHeight-chatFooterHeight, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.ready = true
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			switch text {
			case "":
			case "/quit", "/exit":
				m.quitting = true
				return m, tea.Quit
			case "/history":
				m.status = "loading history…"
				cmds = append(cmds, m.loadHistory)
			default:
				cmds = append(cmds, m.send(text))
			}
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
		}

	case mountedMsg:
		m.status = ""
		m.w.Open()
		if m.opts.LoadHistory {
			cmds = append(cmds, m.loadHistory)
		}

	case historyMsg:
		switch {
		case msg.n > 0:
			m.status = fmt.Sprintf("loaded %d older message(s)", msg.n)
		case !m.state.HasMoreHistory:
			m.status = "no more history"
		default:
			m.status = ""
		}

	case storeMsg:
		atBottom := m.viewport.AtBottom()
		m.messages = msg
		m.refresh()
		if atBottom {
			m.viewport.GotoBottom()
		}

	case stateMsg:
		themeChanged := m.state.Theme != msg.Theme
		m.state = widget.State(msg)
		if themeChanged {
			m.applyTheme(m.state.Theme)
			m.refresh()
		}

	case errMsg:
		m.status = describeError(msg.err)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func describeError(err error) string {
	if errors.Is(err, connector.ErrConnectorNotFound) {
		return "connector is not registered: " + err.Error()
	}
	return "error: " + err.Error()
}

// refresh re-renders the transcript into the viewport.
func (m *chatModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderMessages())
}

func (m chatModel) renderMessages() string {
	width := max(m.viewport.Width-2, 20)
	var blocks []string
	for _, msg := range m.messages {
		blocks = append(blocks, m.renderMessage(msg, width))
	}
	return strings.Join(blocks, "\n\n")
}

func (m chatModel) renderMessage(msg message.Message, width int) string {
	who := mutedStyle.Render("bot")
	if msg.From == message.FromUser {
		who = m.userStyle.Render("you")
	}
	if msg.Timestamp > 0 {
		who += " " + mutedStyle.Render(time.UnixMilli(msg.Timestamp).Format("15:04"))
	}

	body := ""
	if c, err := m.w.Types().Resolve(msg.Type); err == nil {
		body = c.Render(msg, width)
	} else {
		body = mutedStyle.Render("[" + msg.Type + "]")
	}
	return who + "\n" + body
}

func (m chatModel) connectionLabel() string {
	switch m.state.Connection {
	case connector.StateConnected:
		return successStyle.Render("● connected")
	case connector.StateConnecting, connector.StateReconnecting:
		return m.spinner.View() + " " + string(m.state.Connection)
	default:
		return mutedStyle.Render("○ disconnected")
	}
}

func (m chatModel) View() string {
	if m.quitting {
		return ""
	}

	header := m.headerStyle.Render(m.opts.Title) + "  " + m.connectionLabel()
	if m.state.Connector != "" {
		header += "  " + mutedStyle.Render("via "+m.state.Connector)
	}

	footer := ""
	switch {
	case m.state.Typing:
		footer = m.spinner.View() + " " + mutedStyle.Render("typing…")
	case m.status != "":
		footer = mutedStyle.Render(m.status)
	}

	return header + "\n\n" + m.viewport.View() + "\n" + footer + "\n" + m.input.View()
}

// RunChat runs the interactive chat client until the user quits. The widget
// is mounted once the program starts and unmounted when it ends.
func RunChat(ctx context.Context, w *widget.Widget, opts ChatOptions) error {
	p := tea.NewProgram(newChatModel(ctx, w, opts), tea.WithAltScreen(), tea.WithContext(ctx))

	unsubStore := w.Store().Subscribe(func(msgs []message.Message) {
		p.Send(storeMsg(msgs))
	})
	defer unsubStore()
	unsubState := w.Subscribe(func(s widget.State) {
		p.Send(stateMsg(s))
	})
	defer unsubState()

	_, err := p.Run()

	unmountCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Close()
	if uerr := w.Unmount(unmountCtx); uerr != nil && err == nil {
		err = uerr
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
