package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryStore keeps documents in process memory. It backs tests and the
// local single-process mode.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[Path]map[string][]byte
	feed   *feed
	newID  func() string
	closed bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[Path]map[string][]byte),
		feed:  newFeed(),
		newID: newDocumentID(),
	}
}

// Create inserts data under a generated id.
func (s *MemoryStore) Create(_ context.Context, collection Path, data []byte) (string, error) {
	if !collection.IsCollection() {
		return "", ErrInvalidPath
	}
	data, err := validateObject(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	docs := s.collectionLocked(collection)
	id := s.newID()
	for _, taken := docs[id]; taken; _, taken = docs[id] {
		id = s.newID()
	}
	docs[id] = data
	s.mu.Unlock()

	s.feed.publish(collection.Child(id))
	return id, nil
}

// Get returns the document at path or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, path Path) (Document, error) {
	if !path.IsDocument() {
		return Document{}, ErrInvalidPath
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Document{}, ErrClosed
	}
	data, ok := s.docs[path.Parent()][path.ID()]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{Path: path, Data: copyBytes(data)}, nil
}

// Set writes data at path, replacing or merging into any existing document.
func (s *MemoryStore) Set(_ context.Context, path Path, data []byte, opts SetOptions) error {
	if !path.IsDocument() {
		return ErrInvalidPath
	}
	data, err := validateObject(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	docs := s.collectionLocked(path.Parent())
	if existing, ok := docs[path.ID()]; ok && opts.Merge {
		if data, err = mergeObjects(existing, data); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	docs[path.ID()] = data
	s.mu.Unlock()

	s.feed.publish(path)
	return nil
}

// Update applies mutate atomically.
func (s *MemoryStore) Update(_ context.Context, path Path, mutate Mutation) (bool, error) {
	if !path.IsDocument() {
		return false, ErrInvalidPath
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	docs := s.collectionLocked(path.Parent())
	current, exists := docs[path.ID()]
	next, err := mutate(Document{Path: path, Data: copyBytes(current)}, exists)
	if err != nil || next == nil {
		s.mu.Unlock()
		return false, err
	}
	if next, err = validateObject(next); err != nil {
		s.mu.Unlock()
		return false, err
	}
	docs[path.ID()] = next
	s.mu.Unlock()

	s.feed.publish(path)
	return true, nil
}

// Delete removes the document at path. ErrNotFound is returned when it is absent.
func (s *MemoryStore) Delete(_ context.Context, path Path) error {
	if !path.IsDocument() {
		return ErrInvalidPath
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	docs := s.docs[path.Parent()]
	if _, ok := docs[path.ID()]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(docs, path.ID())
	s.mu.Unlock()

	s.feed.publish(path)
	return nil
}

// Query returns the documents of collection matching q.
func (s *MemoryStore) Query(_ context.Context, collection Path, q Query) ([]Document, error) {
	if !collection.IsCollection() {
		return nil, ErrInvalidPath
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	docs := make([]Document, 0, len(s.docs[collection]))
	for id, data := range s.docs[collection] {
		docs = append(docs, Document{Path: collection.Child(id), Data: copyBytes(data)})
	}
	s.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return applyQuery(docs, q)
}

// Subscribe registers fn for snapshots of target.
func (s *MemoryStore) Subscribe(ctx context.Context, target Path, q Query, fn func(Snapshot)) (Unsubscribe, error) {
	load, err := loader(s, target, q)
	if err != nil {
		return nil, err
	}
	return s.feed.subscribe(ctx, target, load, fn)
}

// Close drops all subscriptions; later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.feed.close()
	return nil
}

func (s *MemoryStore) collectionLocked(collection Path) map[string][]byte {
	docs, ok := s.docs[collection]
	if !ok {
		docs = make(map[string][]byte)
		s.docs[collection] = docs
	}
	return docs
}

// loader builds the reload function a subscription runs on every wakeup.
func loader(store DocumentStore, target Path, q Query) (func(context.Context) ([]Document, error), error) {
	switch {
	case target.IsCollection():
		return func(ctx context.Context) ([]Document, error) {
			return store.Query(ctx, target, q)
		}, nil
	case target.IsDocument():
		return func(ctx context.Context) ([]Document, error) {
			doc, err := store.Get(ctx, target)
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return []Document{doc}, nil
		}, nil
	}
	return nil, ErrInvalidPath
}
