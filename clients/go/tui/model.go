// Package tui is the terminal chat client: an agent directory that polls
// the server and a chat screen with optimistic sends.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/eldtechnologies/agentdeck/clients/go/agentdeck"
)

// PollInterval is how often the directory is refreshed.
const PollInterval = 5 * time.Second

// API is the part of the server API the TUI uses.
type API interface {
	ListAgents(ctx context.Context, query string) (*agentdeck.AgentsResponse, error)
	Messages(ctx context.Context, agentID string) (*agentdeck.Conversation, error)
	Send(ctx context.Context, agentID, text string) (*agentdeck.Conversation, error)
	Retry(ctx context.Context, agentID string) (*agentdeck.Conversation, error)
	Leave(ctx context.Context, agentID string) error
}

// Options configures the TUI.
type Options struct {
	// Style is a glamour standard style name. Empty picks one from the
	// terminal background.
	Style   string
	Timeout time.Duration
}

type screen int

const (
	screenDirectory screen = iota
	screenChat
)

type (
	pollMsg      time.Time
	directoryMsg struct {
		query string
		resp  *agentdeck.AgentsResponse
		err   error
	}
	conversationMsg struct {
		agentID string
		conv    *agentdeck.Conversation
		err     error
	}
)

type agentItem agentdeck.Agent

func (i agentItem) Title() string { return i.Name }

func (i agentItem) Description() string {
	if i.Typing {
		return "typing..."
	}
	return i.ID
}

func (i agentItem) FilterValue() string { return i.Name }

// Model is the bubbletea model of the client.
type Model struct {
	api     API
	opts    Options
	keys    KeyMap
	screen  screen
	width   int
	height  int
	status  string
	lastErr error

	agents list.Model
	search textinput.Model

	agent    agentdeck.Agent
	messages []agentdeck.Message
	sending  bool
	loading  bool
	composer textarea.Model
	history  viewport.Model
	spinner  spinner.Model
	help     help.Model
	renderer *glamour.TermRenderer
}

// New creates the model.
func New(api API, opts Options) Model {
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}

	agents := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	agents.Title = "Agents"
	agents.SetShowHelp(false)
	agents.SetFilteringEnabled(false)

	search := textinput.New()
	search.Placeholder = "search agents"
	search.Prompt = "/ "

	keys := DefaultKeyMap()

	composer := textarea.New()
	composer.Placeholder = "Type a message..."
	composer.ShowLineNumbers = false
	composer.SetHeight(3)
	composer.CharLimit = 0
	// Enter is handled by the model; newlines are inserted explicitly.
	composer.KeyMap.InsertNewline.SetEnabled(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = typingStyle

	m := Model{
		api:      api,
		opts:     opts,
		keys:     keys,
		agents:   agents,
		search:   search,
		composer: composer,
		history:  viewport.New(80, 20),
		spinner:  sp,
		help:     help.New(),
	}
	m.resize(80, 24)
	return m
}

// Init starts the directory fetch and the poll loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchAgents(), poll(), m.spinner.Tick)
}

func poll() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}

func (m Model) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.opts.Timeout)
}

func (m Model) fetchAgents() tea.Cmd {
	query := strings.TrimSpace(m.search.Value())
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		resp, err := m.api.ListAgents(ctx, query)
		return directoryMsg{query: query, resp: resp, err: err}
	}
}

func (m Model) loadConversation(agentID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		conv, err := m.api.Messages(ctx, agentID)
		return conversationMsg{agentID: agentID, conv: conv, err: err}
	}
}

func (m Model) send(agentID, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		conv, err := m.api.Send(ctx, agentID, text)
		return conversationMsg{agentID: agentID, conv: conv, err: err}
	}
}

func (m Model) retry(agentID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		conv, err := m.api.Retry(ctx, agentID)
		return conversationMsg{agentID: agentID, conv: conv, err: err}
	}
}

func (m Model) leave(agentID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		// Leaving is best effort; the server also clears typing on expiry.
		_ = m.api.Leave(ctx, agentID)
		return nil
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case pollMsg:
		if m.screen == screenDirectory {
			return m, tea.Batch(m.fetchAgents(), poll())
		}
		return m, poll()

	case directoryMsg:
		if msg.query != strings.TrimSpace(m.search.Value()) {
			return m, nil
		}
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.lastErr = nil
		items := make([]list.Item, len(msg.resp.Agents))
		for i, a := range msg.resp.Agents {
			items[i] = agentItem(a)
		}
		return m, m.agents.SetItems(items)

	case conversationMsg:
		return m.settle(msg), nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.sending {
			m.refreshHistory()
		}
		return m, cmd

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			if m.screen == screenChat {
				return m, tea.Sequence(m.leave(m.agent.ID), tea.Quit)
			}
			return m, tea.Quit
		}
		if m.screen == screenChat {
			return m.updateChat(msg)
		}
		return m.updateDirectory(msg)
	}

	return m, nil
}

func (m Model) updateDirectory(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.search.Focused() {
		switch msg.Type {
		case tea.KeyEnter, tea.KeyEsc:
			m.search.Blur()
			return m, nil
		}
		before := m.search.Value()
		var cmd tea.Cmd
		m.search, cmd = m.search.Update(msg)
		if m.search.Value() != before {
			return m, tea.Batch(cmd, m.fetchAgents())
		}
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Search):
		return m, m.search.Focus()
	case key.Matches(msg, m.keys.Open):
		item, ok := m.agents.SelectedItem().(agentItem)
		if !ok {
			return m, nil
		}
		return m.openChat(agentdeck.Agent(item))
	}

	var cmd tea.Cmd
	m.agents, cmd = m.agents.Update(msg)
	return m, cmd
}

func (m Model) openChat(agent agentdeck.Agent) (tea.Model, tea.Cmd) {
	m.screen = screenChat
	m.agent = agent
	m.messages = nil
	m.sending = false
	m.loading = true
	m.status = ""
	m.lastErr = nil
	m.composer.Reset()
	m.refreshHistory()
	return m, tea.Batch(m.composer.Focus(), m.loadConversation(agent.ID))
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		agentID := m.agent.ID
		m.screen = screenDirectory
		m.composer.Blur()
		m.agent = agentdeck.Agent{}
		m.messages = nil
		return m, tea.Batch(m.leave(agentID), m.fetchAgents())

	case key.Matches(msg, m.keys.Retry):
		if m.sending || !m.lastFailed() {
			return m, nil
		}
		m.sending = true
		m.lastErr = nil
		last := &m.messages[len(m.messages)-1]
		last.Error = ""
		last.IsLoading, last.IsTyping = true, true
		m.refreshHistory()
		return m, m.retry(m.agent.ID)

	case msg.Type == tea.KeyPgUp || msg.Type == tea.KeyPgDown:
		var cmd tea.Cmd
		m.history, cmd = m.history.Update(msg)
		return m, cmd
	}

	switch m.keys.composerAction(msg) {
	case actionSubmit:
		return m.submit()
	case actionNewline:
		m.composer.InsertString("\n")
		return m, nil
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

// submit appends the user's message and a reply placeholder, clears the
// composer and sends.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.composer.Value())
	if text == "" {
		return m, nil
	}
	if m.sending {
		m.status = "waiting for the previous reply"
		return m, nil
	}

	now := time.Now().UnixMilli()
	m.messages = append(m.messages,
		agentdeck.Message{User: "user", Text: text, CreatedAt: now},
		agentdeck.Message{User: "agent", CreatedAt: now, IsLoading: true, IsTyping: true},
	)
	m.sending = true
	m.status = ""
	m.lastErr = nil
	m.composer.Reset()
	m.refreshHistory()
	return m, m.send(m.agent.ID, text)
}

// settle applies a server answer to the open chat. A failed send that
// still carries the conversation shows its failed marker.
func (m Model) settle(msg conversationMsg) Model {
	if m.screen != screenChat || msg.agentID != m.agent.ID {
		return m
	}
	m.loading = false
	m.sending = false
	m.lastErr = msg.err
	if msg.conv != nil {
		m.messages = msg.conv.Messages
	} else if msg.err != nil && len(m.messages) > 0 {
		// No conversation came back; mark the placeholder ourselves.
		last := &m.messages[len(m.messages)-1]
		if last.Pending() {
			last.IsLoading, last.IsTyping = false, false
			last.Error = msg.err.Error()
		}
	}
	m.refreshHistory()
	return m
}

func (m Model) lastFailed() bool {
	return len(m.messages) > 0 && m.messages[len(m.messages)-1].Error != ""
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	m.agents.SetSize(width, max(height-4, 1))
	m.search.Width = max(width-4, 10)

	m.composer.SetWidth(max(width-4, 10))
	m.history.Width = width
	m.history.Height = max(height-m.composer.Height()-5, 1)

	opts := []glamour.TermRendererOption{glamour.WithWordWrap(max(width-4, 20))}
	if m.opts.Style != "" {
		opts = append(opts, glamour.WithStandardStyle(m.opts.Style))
	} else {
		opts = append(opts, glamour.WithAutoStyle())
	}
	if r, err := glamour.NewTermRenderer(opts...); err == nil {
		m.renderer = r
	}
	m.refreshHistory()
}

func (m *Model) refreshHistory() {
	m.history.SetContent(m.renderMessages())
	m.history.GotoBottom()
}
