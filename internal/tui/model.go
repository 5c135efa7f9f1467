package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"gorm.io/gorm"

	"github.com/0xfern/lanline/internal/registry"
	"github.com/0xfern/lanline/internal/store"
)

type tickMsg time.Time

// Node is the call surface the front end drives.
type Node interface {
	Nick() string
	Submit(receiver, content string) (*store.Message, error)
	Schedule(receiver, content string, at time.Time) (*store.Message, error)
}

type model struct {
	db   *gorm.DB
	node Node
	reg  *registry.Registry

	target      string // peer currently being messaged
	peers       []registry.Peer
	viewport    viewport.Model
	textInput   textinput.Model
	chatHistory string
	status      string
	ready       bool
}

func initialModel(db *gorm.DB, node Node, reg *registry.Registry) model {
	ti := textinput.New()
	ti.Placeholder = "/to <peer>, /in <delay> <msg>, /at <YYYY-MM-DD HH:MM:SS> <msg>, or just type"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 40

	peers := reg.Snapshot()
	sortPeers(peers)

	history, _ := buildChatHistory(db, node.Nick())
	if history == "" {
		history = "Welcome to lanline!\nChat history will appear here.\n"
	}

	return model{
		db:          db,
		node:        node,
		reg:         reg,
		peers:       peers,
		textInput:   ti,
		chatHistory: history,
		status:      "no target peer, use /to <peer>",
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

func tick() tea.Cmd {
	return tea.Tick(1*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tickMsg:
		peers := m.reg.Snapshot()
		sortPeers(peers)
		m.peers = peers

		newHistory, err := buildChatHistory(m.db, m.node.Nick())
		if err == nil && newHistory != m.chatHistory {
			m.chatHistory = newHistory
			m.viewport.SetContent(m.chatHistory)
			m.viewport.GotoBottom()
		}

		return m, tick()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.textInput.Value() != "" {
				m = m.handleInput(strings.TrimSpace(m.textInput.Value()))
				m.textInput.Reset()
			}
		}

	case tea.WindowSizeMsg:
		footerHeight := 2 // input line + status line
		if !m.ready {
			m.viewport = viewport.New(msg.Width-peerListStyle.GetWidth(), msg.Height-footerHeight)
			m.viewport.SetContent(m.chatHistory)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - peerListStyle.GetWidth()
			m.viewport.Height = msg.Height - footerHeight
		}
	}

	m.textInput, tiCmd = m.textInput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m model) handleInput(input string) model {
	switch {
	case strings.HasPrefix(input, "/to "):
		m.target = strings.TrimSpace(strings.TrimPrefix(input, "/to "))
		m.status = fmt.Sprintf("messaging %s", m.target)

	case strings.HasPrefix(input, "/in "), strings.HasPrefix(input, "/at "):
		if m.target == "" {
			m.status = "no target peer, use /to <peer>"
			return m
		}
		at, text, err := parseSchedule(input, time.Now())
		if err != nil {
			m.status = err.Error()
			return m
		}
		if _, err := m.node.Schedule(m.target, text, at); err != nil {
			m.status = fmt.Sprintf("schedule failed: %v", err)
			return m
		}
		m.status = fmt.Sprintf("scheduled for %s", at.Format("15:04:05"))

	default:
		if m.target == "" {
			m.status = "no target peer, use /to <peer>"
			return m
		}
		msg, err := m.node.Submit(m.target, input)
		if err != nil {
			m.status = fmt.Sprintf("send failed: %v", err)
			return m
		}
		m.status = fmt.Sprintf("last message: %s", msg.Status)
	}
	return m
}

// parseSchedule turns "/in 10s text" or "/at 2026-01-02 15:04:05 text" into a
// due time and payload.
func parseSchedule(input string, now time.Time) (time.Time, string, error) {
	if strings.HasPrefix(input, "/in ") {
		rest := strings.TrimSpace(strings.TrimPrefix(input, "/in "))
		parts := strings.SplitN(rest, " ", 2)
		if len(parts) != 2 {
			return time.Time{}, "", fmt.Errorf("usage: /in <delay> <message>")
		}
		d, err := time.ParseDuration(parts[0])
		if err != nil {
			return time.Time{}, "", fmt.Errorf("bad delay %q", parts[0])
		}
		return now.Add(d), parts[1], nil
	}

	rest := strings.TrimSpace(strings.TrimPrefix(input, "/at "))
	parts := strings.SplitN(rest, " ", 3)
	if len(parts) != 3 {
		return time.Time{}, "", fmt.Errorf("usage: /at <YYYY-MM-DD HH:MM:SS> <message>")
	}
	at, err := time.ParseInLocation("2006-01-02 15:04:05", parts[0]+" "+parts[1], now.Location())
	if err != nil {
		return time.Time{}, "", fmt.Errorf("bad time %q", parts[0]+" "+parts[1])
	}
	return at, parts[2], nil
}

func sortPeers(peers []registry.Peer) {
	sort.Slice(peers, func(i, j int) bool {
		// Reachable peers first
		if peers[i].Reachable && !peers[j].Reachable {
			return true
		}
		if !peers[i].Reachable && peers[j].Reachable {
			return false
		}
		return peers[i].Identifier < peers[j].Identifier
	})
}

// StartTUI initializes and runs the TUI program
func StartTUI(db *gorm.DB, node Node, reg *registry.Registry) error {
	p := tea.NewProgram(initialModel(db, node, reg), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}
