// Package session holds the per-sign-in state of one identity: its cached
// profile and the room whose snaps it is currently watching. Every core
// operation is forwarded with that state filled in.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"flashchat/internal/profile"
	"flashchat/internal/rooms"
	"flashchat/internal/snaps"
	"flashchat/internal/storage"
)

var ErrClosed = errors.New("session closed")

// Deps are the core components a session drives.
type Deps struct {
	Engine   *snaps.Engine
	Registry *rooms.Registry
	Gate     *profile.Gate
	Logger   *slog.Logger
}

// ActiveRoom is the room a session is looking at.
type ActiveRoom struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Public is the room every session starts in.
var Public = ActiveRoom{ID: rooms.PublicRoomID, Name: rooms.PublicRoomName}

// EventKind tells what an Event carries.
type EventKind int

const (
	EventSnaps EventKind = iota + 1
	EventProfile
)

// Event is pushed to the session owner whenever the active room's snaps or
// the cached profile change.
type Event struct {
	Kind    EventKind
	Room    ActiveRoom
	Snaps   []snaps.Presentation
	Profile profile.Profile
	Err     error
}

// Session is safe for concurrent use.
type Session struct {
	identityID string
	deps       Deps
	logger     *slog.Logger
	notify     func(Event)
	ctx        context.Context
	cancel     context.CancelFunc

	mu             sync.Mutex
	profile        profile.Profile
	room           ActiveRoom
	generation     uint64
	unwatchRoom    storage.Unsubscribe
	unwatchProfile storage.Unsubscribe
	closed         bool
}

// Start signs identityID in: its profile is created if needed and the
// session begins watching the public room. notify may be nil.
func Start(ctx context.Context, deps Deps, identityID string, notify func(Event)) (*Session, error) {
	if notify == nil {
		notify = func(Event) {}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p, err := deps.Gate.Ensure(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if p, err = deps.Gate.Touch(ctx, identityID); err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		identityID: identityID,
		deps:       deps,
		logger:     logger.With("identity", identityID),
		notify:     notify,
		ctx:        watchCtx,
		cancel:     cancel,
		profile:    p,
	}
	unwatch, err := deps.Gate.Watch(watchCtx, identityID, s.profileChanged)
	if err != nil {
		cancel()
		return nil, err
	}
	s.unwatchProfile = unwatch
	if err := s.switchTo(Public); err != nil {
		s.Close()
		return nil, err
	}
	s.logger.Debug("session started")
	return s, nil
}

// IdentityID returns the signed-in identity.
func (s *Session) IdentityID() string {
	return s.identityID
}

// Profile returns the cached profile.
func (s *Session) Profile() profile.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// ActiveRoom returns the room currently watched.
func (s *Session) ActiveRoom() ActiveRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Send posts text to the active room.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	p, room, err := s.fresh(ctx)
	if err != nil {
		return "", err
	}
	return s.deps.Engine.Send(ctx, room.ID, p, text)
}

// Act taps a snap in the active room.
func (s *Session) Act(ctx context.Context, messageID string) (snaps.Outcome, error) {
	_, room, err := s.current()
	if err != nil {
		return snaps.Outcome{}, err
	}
	return s.deps.Engine.Act(ctx, room.ID, messageID, s.identityID)
}

// Delete removes one of the session's own snaps from the active room.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	_, room, err := s.current()
	if err != nil {
		return err
	}
	return s.deps.Engine.Delete(ctx, room.ID, messageID, s.identityID)
}

// CreateRoom creates a private room and switches to it.
func (s *Session) CreateRoom(ctx context.Context, name string) (string, error) {
	p, _, err := s.fresh(ctx)
	if err != nil {
		return "", err
	}
	id, err := s.deps.Registry.Create(ctx, name, p)
	if err != nil {
		return "", err
	}
	room, err := s.deps.Registry.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return id, s.switchTo(ActiveRoom{ID: id, Name: room.Name})
}

// JoinRoom adds the identity to a private room and switches to it.
func (s *Session) JoinRoom(ctx context.Context, roomID string) (rooms.Summary, error) {
	if _, _, err := s.current(); err != nil {
		return rooms.Summary{}, err
	}
	summary, err := s.deps.Registry.Join(ctx, roomID, s.identityID)
	if err != nil {
		return rooms.Summary{}, err
	}
	return summary, s.switchTo(ActiveRoom{ID: summary.ID, Name: summary.Name})
}

// SwitchRoom watches a room the identity already belongs to.
func (s *Session) SwitchRoom(ctx context.Context, roomID string) (ActiveRoom, error) {
	if _, _, err := s.current(); err != nil {
		return ActiveRoom{}, err
	}
	if rooms.IsPublic(roomID) {
		return Public, s.switchTo(Public)
	}
	room, err := s.deps.Registry.Get(ctx, roomID)
	if err != nil {
		return ActiveRoom{}, err
	}
	if !room.HasMember(s.identityID) {
		return ActiveRoom{}, snaps.ErrNotMember
	}
	active := ActiveRoom{ID: room.ID, Name: room.Name}
	return active, s.switchTo(active)
}

// LeaveRoom returns to the public room. Membership is not changed.
func (s *Session) LeaveRoom(ctx context.Context) error {
	if _, _, err := s.current(); err != nil {
		return err
	}
	return s.switchTo(Public)
}

// UpdateProfile changes display name and bio.
func (s *Session) UpdateProfile(ctx context.Context, name, bio string) (profile.Profile, error) {
	if _, _, err := s.current(); err != nil {
		return profile.Profile{}, err
	}
	p, err := s.deps.Gate.Update(ctx, s.identityID, name, bio)
	if err != nil {
		return profile.Profile{}, err
	}
	s.setProfile(p)
	return p, nil
}

// TogglePremium flips the premium flag.
func (s *Session) TogglePremium(ctx context.Context) (profile.Profile, error) {
	current, _, err := s.fresh(ctx)
	if err != nil {
		return profile.Profile{}, err
	}
	p, err := s.deps.Gate.SetPremium(ctx, s.identityID, !current.IsPremium)
	if err != nil {
		return profile.Profile{}, err
	}
	s.setProfile(p)
	return p, nil
}

// Close signs the session out. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	unwatchRoom, unwatchProfile := s.unwatchRoom, s.unwatchProfile
	s.unwatchRoom, s.unwatchProfile = nil, nil
	s.mu.Unlock()

	if unwatchRoom != nil {
		unwatchRoom()
	}
	if unwatchProfile != nil {
		unwatchProfile()
	}
	s.cancel()
	s.logger.Debug("session closed")
}

func (s *Session) current() (profile.Profile, ActiveRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return profile.Profile{}, ActiveRoom{}, ErrClosed
	}
	return s.profile, s.room, nil
}

// fresh reloads the profile before operations that depend on it, so a
// watch snapshot that lags behind a write never decides the outcome.
func (s *Session) fresh(ctx context.Context) (profile.Profile, ActiveRoom, error) {
	if _, _, err := s.current(); err != nil {
		return profile.Profile{}, ActiveRoom{}, err
	}
	p, err := s.deps.Gate.Get(ctx, s.identityID)
	if err != nil {
		return profile.Profile{}, ActiveRoom{}, err
	}
	s.setProfile(p)
	return s.current()
}

func (s *Session) setProfile(p profile.Profile) {
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
}

// switchTo replaces the room subscription. Snapshots still in flight from the
// previous room are dropped by generation.
func (s *Session) switchTo(room ActiveRoom) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.generation++
	gen := s.generation
	previous := s.unwatchRoom
	s.unwatchRoom = nil
	s.room = room
	s.mu.Unlock()

	if previous != nil {
		previous()
	}
	unwatch, err := s.deps.Engine.Watch(s.ctx, room.ID, func(msgs []snaps.Message, err error) {
		s.roomChanged(gen, room, msgs, err)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		unwatch()
		return nil
	}
	s.unwatchRoom = unwatch
	s.mu.Unlock()
	s.logger.Debug("active room changed", "room", room.ID)
	return nil
}

func (s *Session) roomChanged(gen uint64, room ActiveRoom, msgs []snaps.Message, err error) {
	s.mu.Lock()
	stale := s.closed || gen != s.generation
	s.mu.Unlock()
	if stale {
		return
	}
	if err != nil {
		s.notify(Event{Kind: EventSnaps, Room: room, Err: err})
		return
	}
	s.notify(Event{Kind: EventSnaps, Room: room, Snaps: snaps.PresentAll(msgs, s.identityID)})
}

func (s *Session) profileChanged(p profile.Profile, err error) {
	if err != nil {
		s.logger.Warn("profile watch", "error", err)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.profile = p
	s.mu.Unlock()
	s.notify(Event{Kind: EventProfile, Profile: p})
}
