package internal

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"flashchat/internal/profile"
	"flashchat/internal/session"
	"flashchat/internal/snaps"
)

const maxNotices = 6

// TUIModel is the bubbletea state of the terminal client: sign-in prompts,
// the active room's snaps and the open stream connection.
type TUIModel struct {
	textInput       textinput.Model
	notices         []notice
	serverJoinURL   string
	initialRoom     string
	email           string
	sessionPath     string
	token           string
	guest           bool
	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	isConnected     bool
	connectionError error
	mode            appMode
	authIntent      authIntent
	loading         bool

	profile  profile.Profile
	room     session.ActiveRoom
	snaps    []snaps.Presentation
	selected int
	viewing  *openSnap
	now      func() time.Time
}

// notice is a line of client-side status shown above the input.
type notice struct {
	Text  string
	IsErr bool
	Ts    int64
}

// openSnap is a snap whose content is on screen until it expires.
type openSnap struct {
	ID         string
	SenderName string
	IsPremium  bool
	Text       string
	ExpiresAt  time.Time
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthEmail
	modeAuthPassword
	modeChat
)

type authIntent int

const (
	authIntentLogin authIntent = iota
	authIntentSignup
)

// NewTUIModel builds the client. A saved session at sessionPath skips the
// sign-in menu.
func NewTUIModel(serverJoinURL, roomID, email, sessionPath string) *TUIModel {
	input := textinput.New()
	input.CharLimit = 0
	input.Prompt = ""

	model := &TUIModel{
		textInput:     input,
		notices:       make([]notice, 0, maxNotices),
		serverJoinURL: serverJoinURL,
		initialRoom:   strings.TrimSpace(roomID),
		email:         email,
		sessionPath:   sessionPath,
		room:          session.Public,
		now:           time.Now,
	}
	if saved, err := loadSessionFromDisk(sessionPath); err == nil {
		model.token = saved.Token
		model.email = saved.Email
		model.guest = saved.Guest
		model.enterChat()
	} else {
		model.enterAuthMenu()
	}
	return model
}

func (model *TUIModel) Init() tea.Cmd {
	if model.mode == modeChat {
		return model.connectCmd()
	}
	return nil
}

func (model *TUIModel) enterAuthMenu() {
	model.mode = modeAuthMenu
	model.loading = false
	model.textInput.SetValue("")
	model.textInput.EchoMode = textinput.EchoNormal
	model.textInput.Blur()
	model.textInput.Prompt = ""
	model.textInput.Placeholder = ""
}

func (model *TUIModel) enterEmailPrompt(intent authIntent) tea.Cmd {
	model.authIntent = intent
	model.mode = modeAuthEmail
	model.textInput.SetValue(model.email)
	model.textInput.EchoMode = textinput.EchoNormal
	model.textInput.Placeholder = "you@example.com"
	model.textInput.Prompt = "email> "
	return model.textInput.Focus()
}

func (model *TUIModel) enterPasswordPrompt() tea.Cmd {
	model.mode = modeAuthPassword
	model.textInput.SetValue("")
	model.textInput.EchoMode = textinput.EchoPassword
	model.textInput.EchoCharacter = '•'
	model.textInput.Placeholder = "password"
	model.textInput.Prompt = "password> "
	return model.textInput.Focus()
}

func (model *TUIModel) enterChat() tea.Cmd {
	model.mode = modeChat
	model.loading = false
	model.textInput.SetValue("")
	model.textInput.EchoMode = textinput.EchoNormal
	model.textInput.Placeholder = "Type a snap or /help…"
	model.textInput.Prompt = "> "
	return model.textInput.Focus()
}

func (model *TUIModel) addNotice(text string) {
	model.pushNotice(notice{Text: text, Ts: model.now().Unix()})
}

func (model *TUIModel) addError(text string) {
	model.pushNotice(notice{Text: text, IsErr: true, Ts: model.now().Unix()})
}

func (model *TUIModel) pushNotice(n notice) {
	model.notices = append(model.notices, n)
	if len(model.notices) > maxNotices {
		model.notices = model.notices[len(model.notices)-maxNotices:]
	}
}

// selectedSnap returns the highlighted snap, if any.
func (model *TUIModel) selectedSnap() (snaps.Presentation, bool) {
	if model.selected < 0 || model.selected >= len(model.snaps) {
		return snaps.Presentation{}, false
	}
	return model.snaps[model.selected], true
}

// replaceSnaps installs a fresh snapshot, keeping the highlight on the same
// snap when it is still there.
func (model *TUIModel) replaceSnaps(next []snaps.Presentation) {
	current, ok := model.selectedSnap()
	model.snaps = next
	model.selected = 0
	if ok {
		for i, snap := range next {
			if snap.ID == current.ID {
				model.selected = i
				break
			}
		}
	}
}
