package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"flashchat/internal/session"
	"flashchat/internal/snaps"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMsgSize     = 8192
	commandTimeout = 10 * time.Second
	sendQueueSize  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection driving one session.
type Client struct {
	server  *Server
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	token   string
	session *session.Session
	logger  *slog.Logger
}

// ServeWS authenticates the request, upgrades it and starts a session that
// streams the active room's snaps as presented to this identity.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	authCtx, err := s.authenticateRequest(request)
	if err != nil {
		s.failure(writer, request, err)
		return
	}
	roomID := trimmedQuery(request, "room")

	websocketConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Warn("upgrade error", "error", err)
		return
	}

	identityID := authCtx.Identity.ID
	client := &Client{
		server: s,
		conn:   websocketConn,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		token:  authCtx.Token,
		logger: s.logger.With("identity", identityID),
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	sess, err := s.startSession(ctx, identityID, client.deliver)
	if err != nil {
		client.logger.Error("start session", "error", err)
		_ = websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"))
		_ = websocketConn.Close()
		return
	}
	client.session = sess

	s.streams.register(client)
	s.presence.Increment(identityID)
	s.metrics.IncConn()

	go client.writePump()
	p := sess.Profile()
	client.enqueue(StreamFrame{Type: frameProfile, Profile: &p})
	if roomID != "" && roomID != sess.ActiveRoom().ID {
		client.handle(StreamCommand{Type: commandSwitch, Room: roomID})
	}
	go client.readPump()
}

func (client *Client) readPump() {
	defer func() {
		client.close()
		client.server.streams.unregister(client)
		client.server.presence.Decrement(client.session.IdentityID())
		client.server.metrics.DecConn()
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			// read error ends the loop so the deferred cleanup can fire.
			break
		}
		var command StreamCommand
		if err := json.Unmarshal(payload, &command); err != nil {
			client.enqueueError(errBadRequest)
			continue
		}
		client.handle(command)
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case <-client.done:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle runs one command against the session and queues its reply.
func (client *Client) handle(command StreamCommand) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	sess := client.session
	metrics := client.server.metrics

	switch command.Type {
	case commandSend:
		if !client.server.sendLimiter.Allow(sess.IdentityID()) {
			client.notifyRateLimit()
			return
		}
		id, err := sess.Send(ctx, command.Text)
		if err != nil {
			client.enqueueError(err)
			return
		}
		metrics.IncSent()
		client.enqueue(StreamFrame{Type: frameSent, ID: id})
	case commandAct:
		out, err := sess.Act(ctx, command.ID)
		if err != nil {
			client.enqueueError(err)
			return
		}
		metrics.ObserveOutcome(out.Effect)
		client.enqueue(StreamFrame{Type: frameOutcome, ID: command.ID, Outcome: &out})
	case commandDelete:
		if err := sess.Delete(ctx, command.ID); err != nil {
			client.enqueueError(err)
			return
		}
		metrics.ObserveOutcome(snaps.EffectRemoved)
		client.enqueue(StreamFrame{Type: frameOutcome, ID: command.ID, Outcome: &snaps.Outcome{Effect: snaps.EffectRemoved}})
	case commandCreate:
		id, err := sess.CreateRoom(ctx, command.Name)
		if err != nil {
			client.enqueueError(err)
			return
		}
		metrics.IncRoomCreated()
		client.enqueueRoom(fmt.Sprintf("Room created! Share this id so others can join: %s", id))
	case commandJoin:
		summary, err := sess.JoinRoom(ctx, command.Room)
		if err != nil {
			client.enqueueError(err)
			return
		}
		client.enqueueRoom(fmt.Sprintf("Joined %s.", summary.Name))
	case commandSwitch:
		if _, err := sess.SwitchRoom(ctx, command.Room); err != nil {
			client.enqueueError(err)
			return
		}
		client.enqueueRoom("")
	case commandLeave:
		if err := sess.LeaveRoom(ctx); err != nil {
			client.enqueueError(err)
			return
		}
		client.enqueueRoom("Back in the public room.")
	case commandProfile:
		p, err := sess.UpdateProfile(ctx, command.Name, command.Bio)
		if err != nil {
			client.enqueueError(err)
			return
		}
		client.enqueue(StreamFrame{Type: frameProfile, Profile: &p})
	case commandPremium:
		p, err := sess.TogglePremium(ctx)
		if err != nil {
			client.enqueueError(err)
			return
		}
		client.enqueue(StreamFrame{Type: frameProfile, Profile: &p})
	default:
		client.enqueueError(fmt.Errorf("%w: unknown command %q", errBadRequest, command.Type))
	}
}

// deliver forwards session events to the socket.
func (client *Client) deliver(event session.Event) {
	room := event.Room
	switch {
	case event.Err != nil:
		client.logger.Warn("stream event", "error", event.Err)
		client.enqueueError(event.Err)
	case event.Kind == session.EventSnaps:
		client.enqueue(StreamFrame{Type: frameSnapshot, Room: &room, Snaps: event.Snaps})
	case event.Kind == session.EventProfile:
		p := event.Profile
		client.enqueue(StreamFrame{Type: frameProfile, Profile: &p})
	}
}

func (client *Client) enqueueRoom(notice string) {
	room := client.session.ActiveRoom()
	client.enqueue(StreamFrame{Type: frameRoom, Room: &room, Text: notice})
}

func (client *Client) enqueueError(err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		client.logger.Error("stream command failed", "error", err)
		message = http.StatusText(status)
	}
	client.enqueue(StreamFrame{Type: frameError, Text: message, Code: code})
}

func (client *Client) notifyRateLimit() {
	client.enqueue(StreamFrame{
		Type: frameNotice,
		Code: "rate_limited",
		Text: "You're sending snaps too quickly. Please wait a moment and try again.",
	})
}

// enqueue queues frame without blocking. A client that cannot keep up loses
// frames; the next snapshot supersedes what was dropped.
func (client *Client) enqueue(frame StreamFrame) {
	frame.Ts = time.Now().UnixMilli()
	payload, err := json.Marshal(frame)
	if err != nil {
		client.logger.Error("encode frame", "error", err)
		return
	}
	select {
	case <-client.done:
	case client.send <- payload:
	default:
		client.logger.Warn("dropping frame for slow client", "type", frame.Type)
	}
}

// close ends the session and the connection. It is safe to call more than once.
func (client *Client) close() {
	client.once.Do(func() {
		close(client.done)
		if client.session != nil {
			client.session.Close()
		}
	})
}
