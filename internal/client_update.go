package internal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"flashchat/internal/auth"
	"flashchat/internal/session"
	"flashchat/internal/snaps"
)

type (
	connectedMsg     struct{ conn *websocket.Conn }
	frameMsg         StreamFrame
	connectFailedMsg struct{ err error }
	reconnectMsg     struct{}
	disconnectedMsg  struct {
		conn *websocket.Conn
		err  error
	}
	commandFailedMsg struct{ err error }
	authDoneMsg      struct {
		grant auth.Grant
		err   error
	}
	loggedOutMsg    struct{ err error }
	searchResultMsg struct {
		prefix string
		users  []userDTO
		err    error
	}
	roomsResultMsg struct {
		rooms []roomDTO
		err   error
	}
	viewTickMsg time.Time
)

const helpText = "/name <name>  /bio <text>  /premium  /create <room>  /join <id>  /switch <id>  /leave  /rooms  /search <prefix>  /delete  /logout  /quit"

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		if typedMessage.Type == tea.KeyCtrlC {
			model.closeConn("client quit")
			return model, tea.Quit
		}
		switch model.mode {
		case modeAuthMenu:
			return model.updateAuthMenu(typedMessage)
		case modeAuthEmail, modeAuthPassword:
			return model.updateAuthPrompt(typedMessage)
		default:
			return model.updateChat(typedMessage)
		}

	case authDoneMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.addError("Sign-in failed: " + typedMessage.err.Error())
			model.enterAuthMenu()
			return model, nil
		}
		grant := typedMessage.grant
		model.token = grant.Token
		model.guest = grant.Identity.Guest
		if grant.Identity.Email != "" {
			model.email = grant.Identity.Email
		}
		saved := sessionFile{Email: grant.Identity.Email, IdentityID: grant.Identity.ID, Token: grant.Token, Guest: grant.Identity.Guest}
		if err := saveSessionToDisk(model.sessionPath, saved); err != nil {
			model.addError("Could not save session: " + err.Error())
		}
		if grant.Identity.Guest {
			model.addNotice("Signed in as a guest. Use /name to pick a display name.")
		}
		focusCmd := model.enterChat()
		return model, tea.Batch(focusCmd, model.connectCmd())

	case connectedMsg:
		model.websocketConn = typedMessage.conn
		model.isConnected = true
		model.connectionError = nil
		model.initialRoom = ""
		return model, model.readOnceCmd()

	case connectFailedMsg:
		if errors.Is(typedMessage.err, errUnauthorized) {
			_ = deleteSessionFile(model.sessionPath)
			model.token = ""
			model.addError("Your session has expired. Please sign in again.")
			model.enterAuthMenu()
			return model, nil
		}
		model.connectionError = typedMessage.err
		if model.mode == modeChat {
			return model, model.scheduleReconnect()
		}
		return model, nil

	case reconnectMsg:
		if model.mode == modeChat && !model.isConnected {
			return model, model.connectCmd()
		}
		return model, nil

	case disconnectedMsg:
		if typedMessage.conn != model.websocketConn {
			return model, nil
		}
		model.websocketConn = nil
		model.isConnected = false
		if model.mode != modeChat {
			return model, nil
		}
		model.connectionError = typedMessage.err
		return model, model.scheduleReconnect()

	case frameMsg:
		frameCmd := model.applyFrame(StreamFrame(typedMessage))
		return model, tea.Batch(frameCmd, model.readOnceCmd())

	case commandFailedMsg:
		model.addError(typedMessage.err.Error())
		return model, nil

	case loggedOutMsg:
		if typedMessage.err != nil {
			model.addError("Logout: " + typedMessage.err.Error())
		}
		return model, nil

	case searchResultMsg:
		if typedMessage.err != nil {
			model.addError("Search failed: " + typedMessage.err.Error())
			return model, nil
		}
		if len(typedMessage.users) == 0 {
			model.addNotice(fmt.Sprintf("No users match %q.", typedMessage.prefix))
			return model, nil
		}
		for _, user := range typedMessage.users {
			model.addNotice(describeUser(user))
		}
		return model, nil

	case roomsResultMsg:
		if typedMessage.err != nil {
			model.addError("Could not list rooms: " + typedMessage.err.Error())
			return model, nil
		}
		for _, room := range typedMessage.rooms {
			model.addNotice(describeRoom(room))
		}
		return model, nil

	case viewTickMsg:
		if model.viewing == nil {
			return model, nil
		}
		if !time.Time(typedMessage).Before(model.viewing.ExpiresAt) {
			model.viewing = nil
			return model, nil
		}
		return model, viewTick()
	}
	return model, nil
}

func (model *TUIModel) updateAuthMenu(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if model.loading {
		return model, nil
	}
	switch key.String() {
	case "1", "g", "G":
		model.loading = true
		return model, model.authCmd(true, "", "")
	case "2", "l", "L":
		return model, model.enterEmailPrompt(authIntentLogin)
	case "3", "s", "S":
		return model, model.enterEmailPrompt(authIntentSignup)
	case "q", "Q", "esc":
		return model, tea.Quit
	}
	return model, nil
}

func (model *TUIModel) updateAuthPrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if model.loading {
		return model, nil
	}
	switch key.Type {
	case tea.KeyEsc:
		model.enterAuthMenu()
		return model, nil
	case tea.KeyEnter:
		if model.mode == modeAuthEmail {
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				model.addError("Email cannot be empty.")
				return model, nil
			}
			model.email = trimmed
			return model, model.enterPasswordPrompt()
		}
		password := model.textInput.Value()
		if password == "" {
			model.addError("Password cannot be empty.")
			return model, nil
		}
		model.textInput.SetValue("")
		model.loading = true
		return model, model.authCmd(false, model.email, password)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateChat(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		if model.viewing != nil {
			model.viewing = nil
			return model, nil
		}
		model.closeConn("client quit")
		return model, tea.Quit
	case tea.KeyUp:
		if model.selected > 0 {
			model.selected--
		}
		return model, nil
	case tea.KeyDown:
		if model.selected < len(model.snaps)-1 {
			model.selected++
		}
		return model, nil
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		model.textInput.SetValue("")
		switch {
		case trimmed == "":
			return model, model.actOnSelected()
		case strings.HasPrefix(trimmed, "/"):
			return model, model.runSlashCommand(trimmed)
		case !model.isConnected:
			model.addError("Not connected yet.")
			return model, nil
		default:
			return model, model.sendCmd(StreamCommand{Type: commandSend, Text: trimmed})
		}
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

// actOnSelected reveals someone else's snap or deletes our own.
func (model *TUIModel) actOnSelected() tea.Cmd {
	snap, ok := model.selectedSnap()
	if !ok {
		return nil
	}
	if !snap.Actionable {
		model.addNotice(snap.Prompt)
		return nil
	}
	return model.sendCmd(StreamCommand{Type: commandAct, ID: snap.ID})
}

func (model *TUIModel) runSlashCommand(line string) tea.Cmd {
	name, arg := splitCommand(line)
	usage := func(text string) tea.Cmd {
		model.addError("Usage: " + text)
		return nil
	}
	switch name {
	case "/quit", "/exit":
		model.closeConn("client quit")
		return tea.Quit
	case "/help":
		model.addNotice(helpText)
		return nil
	case "/name":
		if arg == "" {
			return usage("/name <display name>")
		}
		return model.sendCmd(StreamCommand{Type: commandProfile, Name: arg, Bio: model.profile.Bio})
	case "/bio":
		return model.sendCmd(StreamCommand{Type: commandProfile, Name: model.profile.DisplayName, Bio: arg})
	case "/premium":
		return model.sendCmd(StreamCommand{Type: commandPremium})
	case "/create":
		if arg == "" {
			return usage("/create <room name>")
		}
		return model.sendCmd(StreamCommand{Type: commandCreate, Name: arg})
	case "/join":
		if arg == "" {
			return usage("/join <room id>")
		}
		return model.sendCmd(StreamCommand{Type: commandJoin, Room: arg})
	case "/switch":
		if arg == "" {
			return usage("/switch <room id>")
		}
		return model.sendCmd(StreamCommand{Type: commandSwitch, Room: arg})
	case "/leave":
		return model.sendCmd(StreamCommand{Type: commandLeave})
	case "/delete":
		snap, ok := model.selectedSnap()
		if !ok || !snap.Mine {
			model.addError("Select one of your own snaps to delete it.")
			return nil
		}
		return model.sendCmd(StreamCommand{Type: commandDelete, ID: snap.ID})
	case "/rooms":
		return model.roomsCmd()
	case "/search":
		if arg == "" {
			return usage("/search <name prefix>")
		}
		return model.searchCmd(arg)
	case "/logout":
		logout := model.logoutCmd()
		model.signOut()
		model.addNotice("Signed out.")
		return logout
	}
	model.addError(fmt.Sprintf("Unknown command %s. Try /help.", name))
	return nil
}

// signOut forgets the local session and returns to the sign-in menu.
func (model *TUIModel) signOut() {
	model.closeConn("logout")
	if err := deleteSessionFile(model.sessionPath); err != nil {
		model.addError("Could not remove session file: " + err.Error())
	}
	model.token = ""
	model.guest = false
	model.connectionError = nil
	model.room = session.Public
	model.snaps = nil
	model.selected = 0
	model.viewing = nil
	model.enterAuthMenu()
}

// applyFrame folds one server frame into the model.
func (model *TUIModel) applyFrame(frame StreamFrame) tea.Cmd {
	switch frame.Type {
	case frameSnapshot:
		if frame.Room != nil {
			model.room = *frame.Room
		}
		model.replaceSnaps(frame.Snaps)
	case frameProfile:
		if frame.Profile != nil {
			model.profile = *frame.Profile
		}
	case frameRoom:
		if frame.Room != nil && frame.Room.ID != model.room.ID {
			model.room = *frame.Room
			model.snaps = nil
			model.selected = 0
			model.viewing = nil
		}
		if frame.Text != "" {
			model.addNotice(frame.Text)
		}
	case frameOutcome:
		if frame.Outcome == nil {
			return nil
		}
		switch frame.Outcome.Effect {
		case snaps.EffectViewing:
			if msg := frame.Outcome.Message; msg != nil {
				model.viewing = &openSnap{
					ID:         msg.ID,
					SenderName: msg.SenderName,
					IsPremium:  msg.IsPremium,
					Text:       msg.Text,
					ExpiresAt:  time.UnixMilli(frame.Outcome.ExpiresAt),
				}
				return viewTick()
			}
		case snaps.EffectAlreadyViewed:
			model.addNotice("That snap was already viewed.")
		case snaps.EffectRemoved:
			model.addNotice("Snap deleted.")
		}
	case frameNotice:
		model.addNotice(frame.Text)
	case frameError:
		model.addError(frame.Text)
		if frame.Code == "profile_incomplete" {
			model.addNotice("Pick a display name with /name <name> first.")
		}
	}
	return nil
}

func splitCommand(line string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
	name := strings.ToLower(parts[0])
	if len(parts) == 1 {
		return name, ""
	}
	return name, strings.TrimSpace(parts[1])
}

func describeUser(user userDTO) string {
	var sb strings.Builder
	if user.IsPremium {
		sb.WriteString("★ ")
	}
	sb.WriteString(user.DisplayName)
	if user.Online {
		sb.WriteString(" (online)")
	}
	if user.Bio != "" {
		sb.WriteString(": ")
		sb.WriteString(user.Bio)
	}
	return sb.String()
}

func describeRoom(room roomDTO) string {
	if room.Public {
		return fmt.Sprintf("%s  %s", room.ID, room.Name)
	}
	return fmt.Sprintf("%s  %s (by %s, %d members)", room.ID, room.Name, room.CreatorName, room.Members)
}
