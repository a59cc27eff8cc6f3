package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"unichat/internal/models"
)

// theme holds the colors used for terminal output.
type theme struct {
	User      lipgloss.Color
	Assistant lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
}

var defaultTheme = theme{
	User:      lipgloss.Color("#5FAFD7"), // light blue
	Assistant: lipgloss.Color("#00D787"), // green
	Success:   lipgloss.Color("#00D787"),
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
}

func (t theme) userStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.User).Bold(true)
}

func (t theme) assistantStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Assistant).Bold(true)
}

func (t theme) successStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success)
}

func (t theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// renderMessage formats one chat message. audioURL is "" when the message
// has no playable audio.
func (t theme) renderMessage(m models.Message, audioURL string) string {
	var b strings.Builder
	if m.Role == models.RoleUser {
		b.WriteString(t.userStyle().Render("you"))
	} else {
		b.WriteString(t.assistantStyle().Render("assistant"))
	}
	b.WriteString(": ")
	b.WriteString(m.Text)
	switch m.Status {
	case models.StatusPending:
		b.WriteString(" " + t.hintStyle().Render("(sending)"))
	case models.StatusFailed:
		b.WriteString(" " + t.errorStyle().Render("(failed, /retry to resend)"))
	}
	if audioURL != "" {
		b.WriteString("\n  " + t.hintStyle().Render("audio: "+audioURL))
	}
	return b.String()
}

func (t theme) renderSessions(list []models.Session) string {
	if len(list) == 0 {
		return t.hintStyle().Render("No sessions yet.")
	}
	var b strings.Builder
	for _, s := range list {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "%s  %s  %s\n", s.SessionID, title, t.hintStyle().Render(s.CreatedAt.Format("2006-01-02 15:04")))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (t theme) renderModels(list []models.AIModel, selected *models.AIModel) string {
	if len(list) == 0 {
		return t.hintStyle().Render("No models available.")
	}
	var b strings.Builder
	for _, m := range list {
		marker := "  "
		if selected != nil && selected.Model == m.Model && selected.Group == m.Group {
			marker = t.successStyle().Render("* ")
		}
		fmt.Fprintf(&b, "%s%s  %s  %s\n", marker, m.Model, m.Title, t.hintStyle().Render(m.Group))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (t theme) renderFiles(docs, av []models.UploadedFile) string {
	if len(docs)+len(av) == 0 {
		return t.hintStyle().Render("No files in this session.")
	}
	var b strings.Builder
	section := func(title string, files []models.UploadedFile) {
		if len(files) == 0 {
			return
		}
		b.WriteString(t.assistantStyle().Render(title) + "\n")
		for _, f := range files {
			fmt.Fprintf(&b, "  %s  %s\n", f.FileID, f.FileName)
		}
	}
	section("Documents", docs)
	section("Audio & video", av)
	return strings.TrimRight(b.String(), "\n")
}
