package client

import (
	"strings"
	"unicode"

	"github.com/charmbracelet/lipgloss"
	figure "github.com/common-nighthawk/go-figure"
	"github.com/mattn/go-runewidth"
)

var homeContent = buildHomeContent()

type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	notice  lipgloss.Style
	sender  lipgloss.Style
	errText lipgloss.Style
}

func newStyles() styles {
	base := lipgloss.NewStyle()
	return styles{
		title:   base.Foreground(lipgloss.Color("13")).Bold(true),
		label:   base.Foreground(lipgloss.Color("8")),
		value:   base.Foreground(lipgloss.Color("15")),
		notice:  base.Foreground(lipgloss.Color("11")),
		sender:  base.Foreground(lipgloss.Color("14")).Bold(true),
		errText: base.Foreground(lipgloss.Color("9")),
	}
}

func (a *App) View() string {
	var b strings.Builder
	b.WriteString(a.viewport.View())
	b.WriteString("\n")
	b.WriteString(a.input.View())
	b.WriteString("\n")
	b.WriteString(a.logLine)
	b.WriteString("\n")
	b.WriteString(a.statusLine())
	return b.String()
}

func (a *App) statusLine() string {
	status := "OFFLINE"
	username := "-"
	if a.client != nil && a.client.Connected() {
		status = "ONLINE"
		username = a.client.Username()
	}
	parts := []string{
		a.styles.title.Render("JIM"),
		a.styles.value.Render(status),
		a.styles.label.Render("Server") + ": " + a.styles.value.Render(a.cfg.ServerAddr),
		a.styles.label.Render("User") + ": " + a.styles.value.Render(username),
	}
	return strings.Join(parts, " | ")
}

func (a *App) push(line string) {
	a.lines = append(a.lines, line)
	a.refreshViewport()
}

func (a *App) resize(width, height int) {
	a.width = width
	a.height = height

	const fixed = 3
	vpHeight := height - fixed
	if vpHeight < 3 {
		vpHeight = 3
	}
	a.viewport.Width = width
	a.viewport.Height = vpHeight

	promptWidth := lipgloss.Width(a.input.Prompt)
	usable := width - promptWidth - 1
	if usable < 10 {
		usable = 10
	}
	a.input.Width = usable

	a.refreshViewport()
}

func (a *App) refreshViewport() {
	if len(a.lines) == 0 {
		a.viewport.SetContent(homeContent)
		return
	}
	width := a.viewport.Width
	if width <= 0 {
		width = a.width
	}
	a.viewport.SetContent(strings.Join(wrapLines(a.lines, width), "\n"))
	a.viewport.GotoBottom()
}

func helpLines() []string {
	return []string{
		"Commands:",
		"  /login <username> <password>  connect and sign in",
		"  /msg <recipient> <text>       send a direct message",
		"  /users                        list users online",
		"  /contacts                     list contacts",
		"  /add <contact>                add a contact",
		"  /rem <contact>                remove a contact",
		"  /chat <contact>               show chat history",
		"  /start <contact>              offer an encrypted chat",
		"  /avatar <path>                upload an avatar image",
		"  /quit                         leave",
		"Plain text broadcasts to everyone; prefix with @user to address one.",
	}
}

func buildHomeContent() string {
	fig := figure.NewColorFigure("JIM", "3-d", "green", true)
	art := strings.TrimRight(fig.String(), "\n")

	var b strings.Builder
	b.WriteString(art)
	b.WriteString("\n\n")
	b.WriteString(strings.Join(helpLines(), "\n"))
	return b.String()
}

func wrapLines(lines []string, width int) []string {
	if width <= 0 {
		return lines
	}
	const minWidth = 10
	if width < minWidth {
		width = minWidth
	}

	wrapped := make([]string, 0, len(lines))
	for _, line := range lines {
		segment := line
		if segment == "" {
			wrapped = append(wrapped, "")
			continue
		}
		for len(segment) > 0 {
			if runewidth.StringWidth(segment) <= width {
				wrapped = append(wrapped, segment)
				break
			}
			cut := wrapCutIndex(segment, width)
			part := strings.TrimRight(segment[:cut], " ")
			if part == "" && cut > 0 {
				part = segment[:cut]
			}
			wrapped = append(wrapped, part)
			segment = strings.TrimLeft(segment[cut:], " ")
		}
	}
	return wrapped
}

func wrapCutIndex(s string, limit int) int {
	var width int
	lastSpace := -1
	for i, r := range s {
		rw := runewidth.RuneWidth(r)
		if width+rw > limit {
			if lastSpace >= 0 {
				return lastSpace + 1
			}
			if width == 0 {
				return i + 1
			}
			return i
		}
		width += rw
		if unicode.IsSpace(r) {
			lastSpace = i
		}
	}
	return len(s)
}
