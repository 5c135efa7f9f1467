package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gorm.io/gorm"

	"github.com/0xfern/lanline/internal/store"
)

var (
	// Colors
	colorGreen = lipgloss.Color("2")
	colorGray  = lipgloss.Color("240")
	colorWhite = lipgloss.Color("231")

	// Styles
	peerListStyle = lipgloss.NewStyle().
			Width(22).
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(colorGreen).
			Padding(0, 1)

	reachableStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	targetStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(colorGreen).
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			Padding(0, 1)
)

func (m model) View() string {
	if !m.ready {
		return "\n  Starting lanline..."
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderPeerList(m.viewport.Height),
		m.viewport.View(),
	)

	return fmt.Sprintf("%s\n%s\n%s",
		body,
		m.textInput.View(),
		statusBarStyle.Render(m.status),
	)
}

func (m model) renderPeerList(height int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("you: %s\n\n", m.node.Nick()))

	if len(m.peers) == 0 {
		sb.WriteString(offlineStyle.Render("no peers yet"))
	}
	for _, p := range m.peers {
		name := p.Identifier
		switch {
		case p.Identifier == m.target:
			name = targetStyle.Render(name)
		case p.Reachable:
			name = reachableStyle.Render(name)
		default:
			name = offlineStyle.Render(name)
		}
		sb.WriteString(name + "\n")
	}

	return peerListStyle.Height(height).Render(sb.String())
}

// buildChatHistory renders recent history, oldest first, with a status marker
// on outgoing messages.
func buildChatHistory(db *gorm.DB, nick string) (string, error) {
	msgs, err := store.History(db, "", 50)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := range msgs {
		msg := msgs[i]
		ts := time.Unix(0, msg.CreatedAt).Format("15:04:05")
		if msg.Sender == nick {
			sb.WriteString(fmt.Sprintf("[%s] you -> %s: %s %s\n",
				ts, msg.Receiver, msg.Content, statusMarker(msg.Status)))
		} else {
			sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", ts, msg.Sender, msg.Content))
		}
	}
	return sb.String(), nil
}

func statusMarker(status string) string {
	switch status {
	case store.StatusDelivered:
		return "[ok]"
	case store.StatusQueued:
		return "[queued]"
	case store.StatusPending:
		return "[pending]"
	case store.StatusFailed:
		return "[failed]"
	default:
		return "[sent]"
	}
}
