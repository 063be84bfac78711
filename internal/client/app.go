package client

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"jimchat/internal/config"
	"jimchat/internal/protocol"
)

const answerTimeout = 10 * time.Second

// App implements the bubbletea tea.Model interface for the terminal client.
// It is a thin presentation layer over the Client core API.
type App struct {
	cfg    config.ClientConfig
	store  *Store
	client *Client

	input    textinput.Model
	viewport viewport.Model
	styles   styles
	lines    []string
	logLine  string
	width    int
	height   int
	events   chan string
}

type eventMsg string

type actionMsg struct {
	lines []string
	err   error
}

// connectedMsg hands a freshly connected session back to the update loop,
// which owns the model.
type connectedMsg struct {
	store  *Store
	client *Client
}

// NewApp returns a Bubble Tea model pre-populated with defaults.
func NewApp(cfg config.ClientConfig) tea.Model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "/login <username> <password>"
	input.Focus()

	return &App{
		cfg:      cfg,
		input:    input,
		viewport: viewport.New(0, 0),
		styles:   newStyles(),
		lines:    make([]string, 0, 128),
		events:   make(chan string, 64),
	}
}

// Init is part of the tea.Model interface.
func (a *App) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, a.waitEvent())
}

// Update handles user input and internal events.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.resize(m.Width, m.Height)
		return a, nil
	case tea.KeyMsg:
		switch m.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if a.client != nil {
				_ = a.client.Close()
			}
			return a, tea.Quit
		case tea.KeyEnter:
			return a, a.handleSubmit()
		}
	case eventMsg:
		a.push(string(m))
		return a, a.waitEvent()
	case actionMsg:
		if m.err != nil {
			a.logLine = a.styles.errText.Render(m.err.Error())
		}
		for _, line := range m.lines {
			a.push(line)
		}
		return a, nil
	case connectedMsg:
		a.store = m.store
		a.client = m.client
		a.subscribe(m.client)
		a.push("Connected to " + a.cfg.ServerAddr + " as " + m.client.Username())
		return a, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)
	a.viewport, cmd = a.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return a, tea.Batch(cmds...)
}

func (a *App) handleSubmit() tea.Cmd {
	value := strings.TrimSpace(a.input.Value())
	a.input.SetValue("")
	a.logLine = ""
	if value == "" {
		return nil
	}
	if strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		return a.executeCommand(value)
	}
	return a.sendBroadcast(value)
}

func (a *App) executeCommand(raw string) tea.Cmd {
	fields := strings.Fields(raw)
	command, args := fields[0], fields[1:]

	// Captured so the command goroutines never touch the model.
	client := a.client

	switch strings.TrimPrefix(command, string(a.cfg.CommandPrefix)) {
	case "login":
		if len(args) < 2 {
			return a.fail("Usage: /login <username> <password>")
		}
		return a.login(args[0], strings.Join(args[1:], " "))
	case "users":
		return a.collect("Online:", func(ctx context.Context) ([]string, error) {
			return client.RequestUsers(ctx)
		})
	case "contacts":
		return a.collect("Contacts:", func(ctx context.Context) ([]string, error) {
			return client.RequestContacts(ctx)
		})
	case "chat":
		if len(args) < 1 {
			return a.fail("Usage: /chat <contact>")
		}
		return a.collect("History with "+args[0]+":", func(ctx context.Context) ([]string, error) {
			lines, err := client.RequestChat(ctx, args[0])
			if err != nil {
				return nil, err
			}
			return client.FormatHistory(args[0], lines), nil
		})
	case "add":
		if len(args) < 1 {
			return a.fail("Usage: /add <contact>")
		}
		return a.action(func(ctx context.Context) error {
			return client.AddContact(ctx, args[0])
		}, "Contact added: "+args[0])
	case "rem":
		if len(args) < 1 {
			return a.fail("Usage: /rem <contact>")
		}
		return a.action(func(ctx context.Context) error {
			return client.RemoveContact(ctx, args[0])
		}, "Contact removed: "+args[0])
	case "start":
		if len(args) < 1 {
			return a.fail("Usage: /start <contact>")
		}
		return a.action(func(ctx context.Context) error {
			return client.StartChat(ctx, args[0])
		}, "Encrypted chat offered to "+args[0])
	case "msg":
		if len(args) < 2 {
			return a.fail("Usage: /msg <recipient> <text>")
		}
		return a.action(func(ctx context.Context) error {
			return client.SendMessage(ctx, strings.Join(args[1:], " "), args[0])
		}, "")
	case "avatar":
		if len(args) < 1 {
			return a.fail("Usage: /avatar <path>")
		}
		return a.uploadAvatar(args[0])
	case "quit":
		if a.client != nil {
			_ = a.client.Close()
		}
		return tea.Quit
	case "help":
		return func() tea.Msg { return actionMsg{lines: helpLines()} }
	default:
		return a.fail("Unknown command " + command)
	}
}

func (a *App) login(username, password string) tea.Cmd {
	if a.client != nil && a.client.Connected() {
		return a.fail("Already connected as " + a.client.Username())
	}
	return func() tea.Msg {
		store, err := NewStore(a.cfg.Database)
		if err != nil {
			return actionMsg{err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), answerTimeout)
		defer cancel()
		if err := store.Migrate(ctx); err != nil {
			return actionMsg{err: err}
		}

		client := New(a.cfg, username, password, store)
		if err := client.Connect(context.Background()); err != nil {
			store.Close()
			return actionMsg{err: err}
		}
		return connectedMsg{store: store, client: client}
	}
}

// subscribe wires server notifications into the event queue. Callbacks run
// on the listener goroutine, so they only push and never block.
func (a *App) subscribe(client *Client) {
	client.Subscribe(protocol.Connected.Code, func(user string) {
		a.pushEvent(a.styles.notice.Render(user + " connected"))
	})
	client.Subscribe(protocol.Disconnected.Code, func(user string) {
		a.pushEvent(a.styles.notice.Render(user + " disconnected"))
	})
	client.Subscribe(protocol.Letter.Code, func(formatted string) {
		sender, text, err := client.ParseIncoming(context.Background(), formatted)
		if err != nil {
			a.pushEvent(a.styles.errText.Render("message error: " + err.Error()))
			return
		}
		a.pushEvent(fmt.Sprintf("%s: %s", a.styles.sender.Render(sender), text))
	})
	client.Subscribe(protocol.StartChat.Code, func(formatted string) {
		if err := client.AcceptChat(context.Background(), formatted); err != nil {
			a.pushEvent(a.styles.errText.Render("accept chat: " + err.Error()))
			return
		}
		if msg, err := protocol.ParseFormatted(formatted); err == nil {
			a.pushEvent(a.styles.notice.Render("encrypted chat with " + msg.Sender))
		}
	})
	client.Subscribe(protocol.AcceptChat.Code, func(formatted string) {
		if err := client.ChatAccepted(context.Background(), formatted); err != nil {
			a.pushEvent(a.styles.errText.Render("chat key exchange: " + err.Error()))
			return
		}
		if msg, err := protocol.ParseFormatted(formatted); err == nil {
			a.pushEvent(a.styles.notice.Render("encrypted chat with " + msg.Sender))
		}
	})
}

func (a *App) sendBroadcast(text string) tea.Cmd {
	client := a.client
	if client == nil || !client.Connected() {
		return a.fail("Not connected. Use /login first.")
	}
	msg := protocol.NewMsg(text, client.Username())
	msg.ParseTarget()
	return a.action(func(ctx context.Context) error {
		return client.SendMessage(ctx, msg.Text, msg.To)
	}, msg.String())
}

func (a *App) uploadAvatar(path string) tea.Cmd {
	client := a.client
	if client == nil || !client.Connected() {
		return a.fail("Not connected. Use /login first.")
	}
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		if err != nil {
			return actionMsg{err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), answerTimeout)
		defer cancel()
		if err := client.SendAvatar(ctx, data); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{lines: []string{fmt.Sprintf("Avatar uploaded (%dB)", len(data))}}
	}
}

func (a *App) collect(header string, fn func(ctx context.Context) ([]string, error)) tea.Cmd {
	if a.client == nil || !a.client.Connected() {
		return a.fail("Not connected. Use /login first.")
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), answerTimeout)
		defer cancel()
		items, err := fn(ctx)
		if err != nil {
			return actionMsg{err: err}
		}
		lines := []string{header}
		for _, item := range items {
			lines = append(lines, "  "+item)
		}
		return actionMsg{lines: lines}
	}
}

func (a *App) action(fn func(ctx context.Context) error, done string) tea.Cmd {
	if a.client == nil || !a.client.Connected() {
		return a.fail("Not connected. Use /login first.")
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), answerTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return actionMsg{err: err}
		}
		if done == "" {
			return actionMsg{}
		}
		return actionMsg{lines: []string{done}}
	}
}

func (a *App) fail(text string) tea.Cmd {
	return func() tea.Msg { return actionMsg{err: fmt.Errorf("%s", text)} }
}

func (a *App) pushEvent(line string) {
	select {
	case a.events <- line:
	default:
	}
}

func (a *App) waitEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-a.events)
	}
}
