// Package rooms manages private room creation, membership and the
// storage layout of each room's messages.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/benbjohnson/clock"

	"flashchat/internal/profile"
	"flashchat/internal/storage"
)

const (
	// PublicRoomID addresses the implicitly joined default room.
	PublicRoomID = "main"
	// PublicRoomName is the display name of the public room.
	PublicRoomName = "Public Room"

	MinNameLength = 3

	publicCollection  storage.Path = "public_rooms"
	privateCollection storage.Path = "private_rooms"
	messagesSegment                = "messages"
)

var (
	ErrPremiumRequired = errors.New("only premium members can create rooms")
	ErrInvalidName     = errors.New("room name must be at least 3 characters")
	ErrRoomNotFound    = errors.New("room not found")
)

// Room is a private channel stored under private_rooms/{id}.
type Room struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	CreatorID   string   `json:"creatorId"`
	CreatorName string   `json:"creatorName"`
	CreatedAt   int64    `json:"createdAt"`
	Members     []string `json:"members"`
	IsPrivate   bool     `json:"isPrivate"`
}

// HasMember reports whether id is in the member list.
func (r Room) HasMember(id string) bool {
	for _, member := range r.Members {
		if member == id {
			return true
		}
	}
	return false
}

// Summary is what a joiner learns about a room.
type Summary struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// IsPublic reports whether roomID names the public room.
func IsPublic(roomID string) bool {
	return roomID == PublicRoomID
}

// MessagesPath returns the collection that stores roomID's messages.
func MessagesPath(roomID string) storage.Path {
	if IsPublic(roomID) {
		return publicCollection.Child(PublicRoomID).Child(messagesSegment)
	}
	return privateCollection.Child(roomID).Child(messagesSegment)
}

// Path returns the document path of a private room.
func Path(roomID string) storage.Path {
	return privateCollection.Child(roomID)
}

// Registry creates, joins and looks up private rooms.
type Registry struct {
	store storage.DocumentStore
	clock clock.Clock
}

// NewRegistry returns a Registry over store. A nil clock means wall time.
func NewRegistry(store storage.DocumentStore, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{store: store, clock: clk}
}

// Create persists a new private room owned by creator and returns its id.
func (r *Registry) Create(ctx context.Context, name string, creator profile.Profile) (string, error) {
	if !creator.IsPremium {
		return "", ErrPremiumRequired
	}
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < MinNameLength {
		return "", ErrInvalidName
	}
	payload, err := json.Marshal(Room{
		Name:        name,
		CreatorID:   creator.ID,
		CreatorName: creator.DisplayName,
		CreatedAt:   r.clock.Now().UnixMilli(),
		Members:     []string{creator.ID},
		IsPrivate:   true,
	})
	if err != nil {
		return "", err
	}
	id, err := r.store.Create(ctx, privateCollection, payload)
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	return id, nil
}

// Join adds joinerID to the room's members. Joining twice is a no-op.
func (r *Registry) Join(ctx context.Context, roomID, joinerID string) (Summary, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" || IsPublic(roomID) || strings.Contains(roomID, "/") {
		return Summary{}, ErrRoomNotFound
	}
	var joined Room
	_, err := r.store.Update(ctx, Path(roomID), func(current storage.Document, exists bool) ([]byte, error) {
		if !exists {
			return nil, ErrRoomNotFound
		}
		room, err := decode(current)
		if err != nil {
			return nil, err
		}
		joined = room
		if room.HasMember(joinerID) {
			return nil, nil
		}
		room.Members = append(room.Members, joinerID)
		joined = room
		return json.Marshal(room)
	})
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return Summary{}, err
		}
		return Summary{}, fmt.Errorf("join room: %w", err)
	}
	return Summary{ID: roomID, Name: joined.Name}, nil
}

// Get loads a private room.
func (r *Registry) Get(ctx context.Context, roomID string) (Room, error) {
	if roomID == "" || IsPublic(roomID) || strings.Contains(roomID, "/") {
		return Room{}, ErrRoomNotFound
	}
	doc, err := r.store.Get(ctx, Path(roomID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, err
	}
	return decode(doc)
}

// IsMember reports whether identityID may read and write roomID. Everyone is
// a member of the public room.
func (r *Registry) IsMember(ctx context.Context, roomID, identityID string) (bool, error) {
	if IsPublic(roomID) {
		return true, nil
	}
	room, err := r.Get(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room.HasMember(identityID), nil
}

// ListForMember returns the private rooms identityID belongs to, newest first.
func (r *Registry) ListForMember(ctx context.Context, identityID string) ([]Room, error) {
	docs, err := r.store.Query(ctx, privateCollection, storage.Query{
		Filters:    []storage.Filter{{Field: "members", Op: storage.OpContains, Value: identityID}},
		OrderBy:    "createdAt",
		Descending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]Room, 0, len(docs))
	for _, doc := range docs {
		room, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, nil
}

// RoomIDs lists every private room id; the snap sweeper walks them.
func (r *Registry) RoomIDs(ctx context.Context) ([]string, error) {
	docs, err := r.store.Query(ctx, privateCollection, storage.Query{})
	if err != nil {
		return nil, fmt.Errorf("list room ids: %w", err)
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID())
	}
	return ids, nil
}

func decode(doc storage.Document) (Room, error) {
	var room Room
	if err := doc.Decode(&room); err != nil {
		return Room{}, fmt.Errorf("decode room %s: %w", doc.ID(), err)
	}
	room.ID = doc.ID()
	return room, nil
}
