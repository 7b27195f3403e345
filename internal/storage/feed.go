package storage

import (
	"context"
	"sync"
)

// feed fans committed changes out to subscriptions. Each subscription owns a
// goroutine that reloads its target when woken; wakeups coalesce, so a slow
// handler sees the latest state rather than every intermediate one.
type feed struct {
	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

type subscription struct {
	target Path
	load   func(context.Context) ([]Document, error)
	fn     func(Snapshot)
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newFeed() *feed {
	return &feed{subs: make(map[uint64]*subscription)}
}

func (f *feed) subscribe(ctx context.Context, target Path, load func(context.Context) ([]Document, error), fn func(Snapshot)) (Unsubscribe, error) {
	sub := &subscription{
		target: target,
		load:   load,
		fn:     fn,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = sub
	f.mu.Unlock()

	unsubscribe := func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
		sub.stop()
	}
	sub.wake <- struct{}{}
	go sub.run(ctx, unsubscribe)
	return unsubscribe, nil
}

// publish wakes every subscription watching the changed document or its collection.
func (f *feed) publish(changed Path) {
	collection := changed.Parent()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.target != changed && sub.target != collection {
			continue
		}
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

func (f *feed) close() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[uint64]*subscription)
	f.closed = true
	f.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) run(ctx context.Context, unsubscribe Unsubscribe) {
	for {
		select {
		case <-ctx.Done():
			unsubscribe()
			return
		case <-s.done:
			return
		case <-s.wake:
		}
		docs, err := s.load(ctx)
		select {
		case <-s.done:
			return
		default:
		}
		s.fn(Snapshot{Target: s.target, Documents: docs, Err: err})
	}
}
