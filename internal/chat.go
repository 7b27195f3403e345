package internal

import (
	"flashchat/internal/profile"
	"flashchat/internal/session"
	"flashchat/internal/snaps"
)

// Frame types sent from the server over the room stream.
const (
	frameSnapshot = "snapshot"
	frameProfile  = "profile"
	frameOutcome  = "outcome"
	frameRoom     = "room"
	frameSent     = "sent"
	frameNotice   = "notice"
	frameError    = "error"
)

// Command types a client sends over the room stream.
const (
	commandSend    = "send"
	commandAct     = "act"
	commandDelete  = "delete"
	commandCreate  = "create"
	commandJoin    = "join"
	commandSwitch  = "switch"
	commandLeave   = "leave"
	commandProfile = "profile"
	commandPremium = "premium"
)

// StreamFrame is the json envelope the server pushes to a connected client.
type StreamFrame struct {
	Type    string               `json:"type"`
	Room    *session.ActiveRoom  `json:"room,omitempty"`
	Snaps   []snaps.Presentation `json:"snaps,omitempty"`
	Profile *profile.Profile     `json:"profile,omitempty"`
	Outcome *snaps.Outcome       `json:"outcome,omitempty"`
	ID      string               `json:"id,omitempty"`
	Text    string               `json:"text,omitempty"`
	Code    string               `json:"code,omitempty"`
	Ts      int64                `json:"ts"`
}

// StreamCommand is what a client asks its session to do.
type StreamCommand struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
	Bio  string `json:"bio,omitempty"`
	Room string `json:"room,omitempty"`
}
