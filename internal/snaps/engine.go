package snaps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"flashchat/internal/profile"
	"flashchat/internal/rooms"
	"flashchat/internal/storage"
)

const expireTimeout = 10 * time.Second

// Engine owns the snap lifecycle. Correctness under concurrent viewers comes
// from the store's conditional Update; the engine keeps no per-message locks.
type Engine struct {
	store    storage.DocumentStore
	registry *rooms.Registry
	clock    clock.Clock
	window   time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[storage.Path]*clock.Timer
	closed  bool
}

// Options configures an Engine. Zero values select wall time, a four second
// view window and the default logger.
type Options struct {
	Clock      clock.Clock
	ViewWindow time.Duration
	Logger     *slog.Logger
}

// NewEngine returns an engine writing messages to store.
func NewEngine(store storage.DocumentStore, registry *rooms.Registry, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.ViewWindow <= 0 {
		opts.ViewWindow = DefaultViewWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:    store,
		registry: registry,
		clock:    opts.Clock,
		window:   opts.ViewWindow,
		logger:   opts.Logger.With("component", "snaps"),
		pending:  make(map[storage.Path]*clock.Timer),
	}
}

// ViewWindow returns how long a first viewer may read a snap.
func (e *Engine) ViewWindow() time.Duration {
	return e.window
}

// Send stores a new snap from sender in roomID and returns its id.
func (e *Engine) Send(ctx context.Context, roomID string, sender profile.Profile, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if !profile.IsComplete(sender) {
		return "", profile.ErrProfileIncomplete
	}
	if err := e.checkMember(ctx, roomID, sender.ID); err != nil {
		return "", err
	}
	payload, err := json.Marshal(Message{
		SenderID:   sender.ID,
		SenderName: sender.DisplayName,
		IsPremium:  sender.IsPremium,
		Text:       text,
		Timestamp:  e.clock.Now().UnixMilli(),
		ViewedBy:   []string{},
		Type:       TypeText,
	})
	if err != nil {
		return "", err
	}
	id, err := e.store.Create(ctx, rooms.MessagesPath(roomID), payload)
	if err != nil {
		return "", fmt.Errorf("send snap: %w", err)
	}
	e.logger.Debug("snap sent", "room", roomID, "snap", id, "sender", sender.ID)
	return id, nil
}

// Act is the single viewer interaction with a snap. The sender deletes it;
// the first other viewer records a view and reads it for the view window;
// everyone after that learns it was already viewed.
func (e *Engine) Act(ctx context.Context, roomID, messageID, viewerID string) (Outcome, error) {
	path, err := messagePath(roomID, messageID)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.checkMember(ctx, roomID, viewerID); err != nil {
		return Outcome{}, err
	}

	var (
		msg    Message
		effect Effect
	)
	now := e.clock.Now()
	_, err = e.store.Update(ctx, path, func(current storage.Document, exists bool) ([]byte, error) {
		if !exists {
			return nil, ErrSnapNotFound
		}
		var err error
		if msg, err = decode(current); err != nil {
			return nil, err
		}
		switch {
		case msg.SenderID == viewerID:
			effect = EffectRemoved
			return nil, nil
		case msg.State() == StateViewed:
			effect = EffectAlreadyViewed
			return nil, nil
		}
		msg.ViewedBy = append(msg.ViewedBy, viewerID)
		msg.ViewedAt = now.UnixMilli()
		effect = EffectViewing
		return json.Marshal(msg)
	})
	if err != nil {
		if errors.Is(err, ErrSnapNotFound) {
			return Outcome{}, err
		}
		return Outcome{}, fmt.Errorf("act on snap: %w", err)
	}

	switch effect {
	case EffectRemoved:
		if err := e.remove(ctx, path); err != nil {
			return Outcome{}, err
		}
		e.logger.Debug("snap removed by sender", "room", roomID, "snap", messageID)
		return Outcome{Effect: EffectRemoved}, nil
	case EffectViewing:
		e.schedule(path)
		e.logger.Debug("snap viewed", "room", roomID, "snap", messageID, "viewer", viewerID)
		return Outcome{
			Effect:    EffectViewing,
			Message:   &msg,
			ExpiresAt: now.Add(e.window).UnixMilli(),
		}, nil
	default:
		return Outcome{Effect: EffectAlreadyViewed}, nil
	}
}

// Delete removes a snap on behalf of its sender. Deleting a snap that is
// already gone succeeds.
func (e *Engine) Delete(ctx context.Context, roomID, messageID, requesterID string) error {
	path, err := messagePath(roomID, messageID)
	if err != nil {
		return err
	}
	doc, err := e.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load snap: %w", err)
	}
	msg, err := decode(doc)
	if err != nil {
		return err
	}
	if msg.SenderID != requesterID {
		return ErrNotSender
	}
	return e.remove(ctx, path)
}

// List returns the snaps of roomID, newest first.
func (e *Engine) List(ctx context.Context, roomID string) ([]Message, error) {
	if err := validRoom(roomID); err != nil {
		return nil, err
	}
	docs, err := e.store.Query(ctx, rooms.MessagesPath(roomID), roomQuery)
	if err != nil {
		return nil, fmt.Errorf("list snaps: %w", err)
	}
	return decodeAll(docs)
}

// Watch calls fn with the full, newest-first message list of roomID now and
// after every change until the returned function is called or ctx ends.
func (e *Engine) Watch(ctx context.Context, roomID string, fn func([]Message, error)) (storage.Unsubscribe, error) {
	if err := validRoom(roomID); err != nil {
		return nil, err
	}
	return e.store.Subscribe(ctx, rooms.MessagesPath(roomID), roomQuery, func(snap storage.Snapshot) {
		if snap.Err != nil {
			fn(nil, snap.Err)
			return
		}
		msgs, err := decodeAll(snap.Documents)
		fn(msgs, err)
	})
}

// Sweep deletes every snap whose view window has passed without its timer
// firing, for example across a restart. It returns the number removed.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	roomIDs, err := e.registry.RoomIDs(ctx)
	if err != nil {
		return 0, err
	}
	roomIDs = append([]string{rooms.PublicRoomID}, roomIDs...)
	cutoff := e.clock.Now().Add(-e.window).UnixMilli()

	removed := 0
	for _, roomID := range roomIDs {
		msgs, err := e.List(ctx, roomID)
		if err != nil {
			return removed, err
		}
		for _, msg := range msgs {
			if msg.State() != StateViewed || msg.ViewedAt > cutoff {
				continue
			}
			path := rooms.MessagesPath(roomID).Child(msg.ID)
			if err := e.remove(ctx, path); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if removed > 0 {
		e.logger.Info("swept expired snaps", "count", removed)
	}
	return removed, nil
}

// Pending reports how many deletions are scheduled.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Close stops scheduled deletions. Snaps they would have removed are left for
// Sweep.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for path, timer := range e.pending {
		timer.Stop()
		delete(e.pending, path)
	}
}

func (e *Engine) schedule(path storage.Path) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if _, ok := e.pending[path]; ok {
		return
	}
	e.pending[path] = e.clock.AfterFunc(e.window, func() { e.expire(path) })
}

func (e *Engine) expire(path storage.Path) {
	e.mu.Lock()
	delete(e.pending, path)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()
	if err := e.remove(ctx, path); err != nil {
		e.logger.Warn("expire snap", "path", string(path), "error", err)
		return
	}
	e.logger.Debug("snap expired", "path", string(path))
}

// remove deletes path, treating a missing document as already removed.
func (e *Engine) remove(ctx context.Context, path storage.Path) error {
	err := e.store.Delete(ctx, path)
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("delete snap: %w", err)
}

func (e *Engine) checkMember(ctx context.Context, roomID, identityID string) error {
	if err := validRoom(roomID); err != nil {
		return err
	}
	ok, err := e.registry.IsMember(ctx, roomID, identityID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

var roomQuery = storage.Query{OrderBy: "timestamp", Descending: true}

func validRoom(roomID string) error {
	if roomID == "" || strings.Contains(roomID, "/") {
		return rooms.ErrRoomNotFound
	}
	return nil
}

func messagePath(roomID, messageID string) (storage.Path, error) {
	if err := validRoom(roomID); err != nil {
		return "", err
	}
	if messageID == "" || strings.Contains(messageID, "/") {
		return "", ErrSnapNotFound
	}
	return rooms.MessagesPath(roomID).Child(messageID), nil
}

func decode(doc storage.Document) (Message, error) {
	var msg Message
	if err := doc.Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("decode snap %s: %w", doc.ID(), err)
	}
	msg.ID = doc.ID()
	return msg, nil
}

func decodeAll(docs []storage.Document) ([]Message, error) {
	msgs := make([]Message, 0, len(docs))
	for _, doc := range docs {
		msg, err := decode(doc)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
