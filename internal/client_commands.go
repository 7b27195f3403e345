package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"flashchat/internal/auth"
)

const (
	retryDelay   = 2 * time.Second
	viewTickRate = 250 * time.Millisecond
)

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func viewTick() tea.Cmd {
	return tea.Tick(viewTickRate, func(now time.Time) tea.Msg {
		return viewTickMsg(now)
	})
}

// connectCmd dials the room stream with the stored token.
func (model *TUIModel) connectCmd() tea.Cmd {
	token := model.token
	room := model.room.ID
	if model.initialRoom != "" {
		room = model.initialRoom
	}
	return func() tea.Msg {
		joinURL, err := buildJoinURL(model.serverJoinURL, room, token)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		conn, resp, err := websocket.DefaultDialer.Dial(joinURL, http.Header{})
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return connectFailedMsg{err: errUnauthorized}
			}
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

// authCmd runs a guest, login or signup request against the HTTP API.
func (model *TUIModel) authCmd(guest bool, email, password string) tea.Cmd {
	intent := model.authIntent
	return func() tea.Msg {
		baseURL, err := httpBaseFromJoinURL(model.serverJoinURL)
		if err != nil {
			return authDoneMsg{err: err}
		}
		var grant auth.Grant
		switch {
		case guest:
			grant, err = apiGuest(baseURL)
		case intent == authIntentSignup:
			grant, err = apiSignup(baseURL, email, password)
		default:
			grant, err = apiLogin(baseURL, email, password)
		}
		return authDoneMsg{grant: grant, err: err}
	}
}

func (model *TUIModel) logoutCmd() tea.Cmd {
	token := model.token
	return func() tea.Msg {
		baseURL, err := httpBaseFromJoinURL(model.serverJoinURL)
		if err != nil {
			return loggedOutMsg{err: err}
		}
		err = apiLogout(baseURL, token)
		if errors.Is(err, errUnauthorized) {
			err = nil
		}
		return loggedOutMsg{err: err}
	}
}

func (model *TUIModel) searchCmd(prefix string) tea.Cmd {
	token := model.token
	return func() tea.Msg {
		baseURL, err := httpBaseFromJoinURL(model.serverJoinURL)
		if err != nil {
			return searchResultMsg{err: err}
		}
		users, err := apiSearchUsers(baseURL, token, prefix)
		return searchResultMsg{prefix: prefix, users: users, err: err}
	}
}

func (model *TUIModel) roomsCmd() tea.Cmd {
	token := model.token
	return func() tea.Msg {
		baseURL, err := httpBaseFromJoinURL(model.serverJoinURL)
		if err != nil {
			return roomsResultMsg{err: err}
		}
		list, err := apiListRooms(baseURL, token)
		return roomsResultMsg{rooms: list, err: err}
	}
}

// readOnceCmd reads one frame; Update schedules it again after every frame.
func (model *TUIModel) readOnceCmd() tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return disconnectedMsg{err: fmt.Errorf("websocket not connected")}
		}
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return disconnectedMsg{conn: conn, err: err}
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var frame StreamFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				return frameMsg{Type: frameNotice, Text: string(payload)}
			}
			return frameMsg(frame)
		}
	}
}

// sendCmd writes command to the stream.
func (model *TUIModel) sendCmd(command StreamCommand) tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return commandFailedMsg{err: fmt.Errorf("not connected")}
		}
		encoded, err := json.Marshal(command)
		if err != nil {
			return commandFailedMsg{err: err}
		}
		model.writeMutex.Lock()
		err = conn.WriteMessage(websocket.TextMessage, encoded)
		model.writeMutex.Unlock()
		if err != nil {
			return commandFailedMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) closeConn(reason string) {
	if model.websocketConn == nil {
		return
	}
	model.writeMutex.Lock()
	_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	model.writeMutex.Unlock()
	_ = model.websocketConn.Close()
	model.websocketConn = nil
	model.isConnected = false
}

// RunClient launches the terminal client against a stream join URL.
func RunClient(serverJoinURL, roomID, email, sessionPath string) error {
	program := tea.NewProgram(NewTUIModel(serverJoinURL, roomID, email, sessionPath))
	_, err := program.Run()
	return err
}

// buildJoinURL adds the room and token to a ws(s) join URL.
func buildJoinURL(base, roomID, token string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	query := parsed.Query()
	if roomID != "" {
		query.Set("room", roomID)
	}
	if token != "" {
		query.Set("token", token)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
