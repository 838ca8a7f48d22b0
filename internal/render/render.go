// Package render draws conversation output for the terminal commands.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"codesage/internal/blocks"
	"codesage/internal/models"
)

const sessionTimeLayout = "2006-01-02 15:04"

// Segments renders prose as-is and every code segment inside a bordered
// block labelled with its language.
func Segments(segs []blocks.Segment) string {
	var b strings.Builder
	for _, seg := range segs {
		if !seg.IsCode {
			b.WriteString(seg.Text)
			continue
		}
		label := seg.Language
		if label == "" {
			label = "code"
		}
		body := strings.TrimSuffix(seg.Text, "\n")
		block := lipgloss.JoinVertical(lipgloss.Left,
			codeLabelStyle.Render(label),
			codeBlockStyle.Render(body),
		)
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
		b.WriteString(block)
		b.WriteByte('\n')
	}
	return b.String()
}

// Message renders one stored message with its role and timestamp.
func Message(m models.Message) string {
	meta := metaStyle.Render(fmt.Sprintf("%s · %s", m.Role, m.Timestamp))
	style := userStyle
	body := m.Content
	if m.Role == models.RoleAssistant {
		style = assistantStyle
		if segs := blocks.Split(m.Content); blocks.HasCode(segs) {
			body = strings.TrimRight(Segments(segs), "\n")
		}
	}
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, meta, body))
}

// Sessions renders the session list; the current session is marked.
func Sessions(list []models.SessionSummary) string {
	if len(list) == 0 {
		return idleStyle.Render("No sessions yet.")
	}
	lines := []string{headerStyle.Render("Sessions")}
	for _, s := range list {
		marker := "  "
		style := idleStyle
		if s.Current {
			marker = "* "
			style = currentStyle
		}
		lines = append(lines, fmt.Sprintf("%s%s %s",
			marker,
			style.Render(s.Title),
			metaStyle.Render(fmt.Sprintf("(%d messages, updated %s, id %s)",
				s.MessageCount, s.LastUpdated.Local().Format(sessionTimeLayout), s.ID)),
		))
	}
	return strings.Join(lines, "\n")
}

// Notice renders a command notice.
func Notice(text string) string {
	return noticeStyle.Render(text)
}

// Warning renders a non-fatal problem such as a failed save.
func Warning(text string) string {
	return warningStyle.Render("warning: " + text)
}
