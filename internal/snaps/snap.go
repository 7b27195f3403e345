// Package snaps implements view-once messages: sending, the first-view race,
// timed deletion after a view and sender self-delete.
package snaps

import (
	"errors"
	"fmt"
	"time"
)

// TypeText is the only message type currently sent.
const TypeText = "text"

// DefaultViewWindow is how long a snap stays readable after its first view.
const DefaultViewWindow = 4 * time.Second

var (
	ErrEmptyText    = errors.New("snap text is empty")
	ErrSnapNotFound = errors.New("snap not found")
	ErrNotSender    = errors.New("only the sender can delete this snap")
	ErrNotMember    = errors.New("not a member of this room")
)

// Message is a snap document stored under {room}/messages/{id}.
type Message struct {
	ID         string   `json:"id,omitempty"`
	SenderID   string   `json:"senderId"`
	SenderName string   `json:"senderName"`
	IsPremium  bool     `json:"isPremium"`
	Text       string   `json:"text"`
	Timestamp  int64    `json:"timestamp"`
	ViewedBy   []string `json:"viewedBy"`
	ViewedAt   int64    `json:"viewedAt,omitempty"`
	Type       string   `json:"type"`
}

// State is the lifecycle position of a stored message. Deleted messages are
// not stored, so only New and Viewed are observable.
type State int

const (
	StateNew State = iota
	StateViewed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateViewed:
		return "viewed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// State derives the lifecycle state from the view receipts.
func (m Message) State() State {
	if len(m.ViewedBy) > 0 {
		return StateViewed
	}
	return StateNew
}

// ViewedByID reports whether id holds a view receipt.
func (m Message) ViewedByID(id string) bool {
	for _, viewer := range m.ViewedBy {
		if viewer == id {
			return true
		}
	}
	return false
}

// Effect is what an Act call did.
type Effect int

const (
	// EffectViewing means the caller won the first view and may show the
	// content until the outcome's ExpiresAt.
	EffectViewing Effect = iota + 1
	// EffectAlreadyViewed means someone viewed the snap first; nothing changed.
	EffectAlreadyViewed
	// EffectRemoved means the sender deleted the snap.
	EffectRemoved
)

func (e Effect) String() string {
	switch e {
	case EffectViewing:
		return "viewing"
	case EffectAlreadyViewed:
		return "already_viewed"
	case EffectRemoved:
		return "removed"
	default:
		return fmt.Sprintf("Effect(%d)", int(e))
	}
}

// MarshalText renders effects by name in JSON payloads.
func (e Effect) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText parses the names written by MarshalText.
func (e *Effect) UnmarshalText(text []byte) error {
	for _, candidate := range []Effect{EffectViewing, EffectAlreadyViewed, EffectRemoved} {
		if candidate.String() == string(text) {
			*e = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown effect %q", text)
}

// Outcome is the result of Act. Message and ExpiresAt (unix ms) are set only
// for EffectViewing.
type Outcome struct {
	Effect    Effect   `json:"effect"`
	Message   *Message `json:"message,omitempty"`
	ExpiresAt int64    `json:"expiresAt,omitempty"`
}
