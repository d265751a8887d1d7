package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/eldtechnologies/agentdeck/clients/go/agentdeck"
)

// View implements tea.Model.
func (m Model) View() string {
	if m.screen == screenChat {
		return m.chatView()
	}
	return m.directoryView()
}

func (m Model) directoryView() string {
	var b strings.Builder
	b.WriteString(m.search.View())
	b.WriteString("\n")
	if len(m.agents.Items()) == 0 {
		if q := strings.TrimSpace(m.search.Value()); q != "" {
			b.WriteString(dimStyle.Render(fmt.Sprintf("No agents match %q", q)))
		} else {
			b.WriteString(dimStyle.Render("No agents yet"))
		}
		b.WriteString("\n")
	} else {
		b.WriteString(m.agents.View())
		b.WriteString("\n")
	}
	b.WriteString(m.footer())
	return b.String()
}

func (m Model) chatView() string {
	header := titleStyle.Render(m.agent.Name)
	if m.sending {
		header += " " + m.spinner.View() + typingStyle.Render(" typing")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.history.View(),
		composerStyle.Render(m.composer.View()),
		m.footer(),
	)
}

func (m Model) footer() string {
	var parts []string
	if m.lastErr != nil {
		parts = append(parts, errorStyle.Render(m.lastErr.Error()))
	}
	if m.status != "" {
		parts = append(parts, dimStyle.Render(m.status))
	}
	parts = append(parts, m.help.View(m.keys))
	return strings.Join(parts, "\n")
}

func (m Model) renderMessages() string {
	if m.loading {
		return dimStyle.Render("Loading conversation...")
	}
	if len(m.messages) == 0 {
		return dimStyle.Render("No messages yet. Say hello.")
	}

	var b strings.Builder
	for _, msg := range m.messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderMessage(msg agentdeck.Message) string {
	var b strings.Builder

	stamp := ""
	if msg.CreatedAt > 0 {
		stamp = dimStyle.Render(" " + time.UnixMilli(msg.CreatedAt).Format("15:04"))
	}
	if msg.User == "user" {
		b.WriteString(userStyle.Render("You") + stamp + "\n")
	} else {
		b.WriteString(agentStyle.Render(m.agent.Name) + stamp + "\n")
	}

	switch {
	case msg.Pending():
		b.WriteString(m.spinner.View() + typingStyle.Render(" typing"))
		b.WriteString("\n")
	case msg.Error != "":
		b.WriteString(errorStyle.Render("Failed: " + msg.Error + " (ctrl+r to retry)"))
		b.WriteString("\n")
	case msg.User == "user":
		b.WriteString(msg.Text)
		b.WriteString("\n")
	default:
		b.WriteString(m.markdown(msg.Text))
	}

	for _, a := range msg.Attachments {
		title := a.Title
		if title == "" {
			title = a.ContentType
		}
		b.WriteString(dimStyle.Render(fmt.Sprintf("[%s] %s", title, a.URL)))
		b.WriteString("\n")
	}
	return b.String()
}

// markdown renders agent text for the terminal. Agents sometimes send
// escaped newlines, which are unescaped first.
func (m Model) markdown(text string) string {
	text = strings.ReplaceAll(text, `\n`, "\n")
	if m.renderer == nil {
		return text + "\n"
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}
