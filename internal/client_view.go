package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"flashchat/internal/rooms"
	"flashchat/internal/snaps"
)

var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(0, 1).MarginTop(1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	promptStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Italic(true)
	pendingStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	noticeErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	selectedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	revealBodyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

// theme is the set of colors that change with the premium flag.
type theme struct {
	accent lipgloss.Color
	border lipgloss.Color
	badge  string
}

var (
	standardTheme = theme{accent: lipgloss.Color("213"), border: lipgloss.Color("63")}
	premiumTheme  = theme{accent: lipgloss.Color("220"), border: lipgloss.Color("178"), badge: "★ "}
)

func (model *TUIModel) theme() theme {
	if model.profile.IsPremium {
		return premiumTheme
	}
	return standardTheme
}

func (model *TUIModel) View() string {
	switch model.mode {
	case modeAuthMenu:
		return model.renderAuthMenuView()
	case modeAuthEmail, modeAuthPassword:
		return model.renderAuthPromptView()
	default:
		return model.renderChatView()
	}
}

func (model *TUIModel) renderAuthMenuView() string {
	title := appTitleStyle.Render("FlashChat")
	subtitle := subtitleStyle.Render("Snaps you can see once, then they are gone")

	options := []string{
		renderMenuOption("1", "Continue as guest"),
		renderMenuOption("2", "Log in"),
		renderMenuOption("3", "Sign up"),
		renderMenuOption("q", "Quit"),
	}

	viewSections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, options...)),
	}
	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Working…"))
	}
	if notices := model.renderNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}
	viewSections = append(viewSections, menuHintStyle.Render("1) Guest  •  2) Log in  •  3) Sign up  •  q) Quit"))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderAuthPromptView() string {
	title := "Log in"
	if model.authIntent == authIntentSignup {
		title = "Create an account"
	}
	hint := "Enter your email address"
	if model.mode == modeAuthPassword {
		hint = "Enter your password"
		if model.authIntent == authIntentSignup {
			hint = "Choose a password (at least 6 characters)"
		}
	}

	viewSections := []string{appTitleStyle.Render(title), menuHintStyle.Render(hint)}
	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Working…"))
	}
	if notices := model.renderNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}
	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()), menuHintStyle.Render("Esc to go back"))
	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderChatView() string {
	th := model.theme()
	name := model.profile.DisplayName
	if name == "" {
		name = "…"
	}
	headerSegments := []string{
		"FlashChat",
		model.room.Name,
		th.badge + name,
	}
	if model.room.ID != "" && !rooms.IsPublic(model.room.ID) {
		headerSegments = append(headerSegments, "id "+model.room.ID)
	}
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(th.accent).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(th.border).
		Padding(0, 1).
		Render(strings.Join(headerSegments, dividerStyle))

	var statusLine string
	switch {
	case model.connectionError != nil:
		statusLine = errorStyle.Render("Connection error: " + model.connectionError.Error())
	case model.isConnected:
		statusLine = connectedStyle.Render("Connected")
	default:
		statusLine = connectingStyle.Render("Connecting…")
	}

	sections := []string{header, statusLine}
	if model.viewing != nil {
		sections = append(sections, model.renderOpenSnap(th))
	}

	var snapLines []string
	for idx, snap := range model.snaps {
		snapLines = append(snapLines, renderSnapLine(snap, idx == model.selected))
	}
	if len(snapLines) == 0 {
		snapLines = append(snapLines, systemMessageStyle.Render("No snaps here yet. Type something to send one."))
	}
	boxStyle := lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(th.border).Padding(1, 2).MarginTop(1)
	sections = append(sections, boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, snapLines...)))

	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections,
		inputBoxStyle.Copy().BorderForeground(th.border).Render(model.textInput.View()),
		menuHintStyle.Render("↑/↓ select • Enter on empty input opens or deletes • /help for commands • Esc quit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderOpenSnap(th theme) string {
	open := model.viewing
	remaining := open.ExpiresAt.Sub(model.now())
	if remaining < 0 {
		remaining = 0
	}
	sender := usernameStyle.Copy().Foreground(colorForUser(open.SenderName)).Render(open.SenderName)
	if open.IsPremium {
		sender = usernameStyle.Copy().Foreground(premiumTheme.accent).Render(premiumTheme.badge + open.SenderName)
	}
	countdown := timestampStyle.Render(fmt.Sprintf("disappears in %s", formatCountdown(remaining)))
	body := revealBodyStyle.Render(open.Text)
	box := lipgloss.NewStyle().BorderStyle(lipgloss.ThickBorder()).BorderForeground(th.accent).Padding(1, 2).MarginTop(1)
	return box.Render(lipgloss.JoinVertical(lipgloss.Left, sender, body, countdown))
}

// renderSnapLine draws one row of the snap list: time, sender and the prompt
// for what acting on it would do.
func renderSnapLine(snap snaps.Presentation, selected bool) string {
	marker := "  "
	if selected {
		marker = selectedStyle.Render("➤ ")
	}
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", time.UnixMilli(snap.Timestamp).Format("15:04:05")))

	nameStyle := usernameStyle.Copy().Foreground(colorForUser(snap.SenderName))
	sender := snap.SenderName
	if snap.IsPremium {
		nameStyle = usernameStyle.Copy().Foreground(premiumTheme.accent)
		sender = premiumTheme.badge + sender
	}
	if snap.Mine {
		sender += " (you)"
	}

	prompt := promptStyle.Render(snap.Prompt)
	if !snap.Actionable {
		prompt = pendingStyle.Render(snap.Prompt)
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, marker, timestamp, " ", nameStyle.Render(sender), ": ", prompt)
}

func renderMenuOption(hotkey string, label string) string {
	key := menuHotkeyStyle.Render(hotkey)
	return lipgloss.JoinHorizontal(lipgloss.Left, key, menuItemStyle.Render(label))
}

func (model *TUIModel) renderNotices() string {
	if len(model.notices) == 0 {
		return ""
	}
	lines := make([]string, 0, len(model.notices))
	for _, n := range model.notices {
		if n.IsErr {
			lines = append(lines, noticeErrorStyle.Render(n.Text))
		} else {
			lines = append(lines, systemMessageStyle.Render(n.Text))
		}
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func formatCountdown(d time.Duration) string {
	seconds := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%ds", seconds)
}

func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
