package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("storage: document not found")

// ErrInvalidPath is returned for malformed collection or document paths.
var ErrInvalidPath = errors.New("storage: invalid path")

// ErrInvalidDocument is returned when document data is not a JSON object.
var ErrInvalidDocument = errors.New("storage: document must be a JSON object")

// ErrClosed is returned by stores after Close.
var ErrClosed = errors.New("storage: store closed")

// Path addresses a collection ("users") or a document ("users/abc") using
// alternating collection/id segments.
type Path string

// Join builds a path from raw segments.
func Join(segments ...string) Path {
	return Path(strings.Join(segments, "/"))
}

// Child returns the document path for id inside collection p.
func (p Path) Child(id string) Path {
	return Path(string(p) + "/" + id)
}

// Parent returns the collection that holds document p.
func (p Path) Parent() Path {
	idx := strings.LastIndexByte(string(p), '/')
	if idx < 0 {
		return ""
	}
	return p[:idx]
}

// ID returns the last segment of p.
func (p Path) ID() string {
	idx := strings.LastIndexByte(string(p), '/')
	return string(p[idx+1:])
}

// IsCollection reports whether p has an odd number of non-empty segments.
func (p Path) IsCollection() bool {
	n, ok := p.segments()
	return ok && n%2 == 1
}

// IsDocument reports whether p has an even number of non-empty segments.
func (p Path) IsDocument() bool {
	n, ok := p.segments()
	return ok && n > 0 && n%2 == 0
}

func (p Path) segments() (int, bool) {
	if p == "" {
		return 0, false
	}
	parts := strings.Split(string(p), "/")
	for _, part := range parts {
		if part == "" {
			return 0, false
		}
	}
	return len(parts), true
}

// Document is a stored JSON object and the path it lives at.
type Document struct {
	Path Path
	Data json.RawMessage
}

// ID returns the document id.
func (d Document) ID() string {
	return d.Path.ID()
}

// Decode unmarshals the document data into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// SetOptions controls Set. With Merge the top-level keys of the new data are
// merged into the existing document instead of replacing it.
type SetOptions struct {
	Merge bool
}

// Mutation computes the next state of a document inside Update. exists
// reports whether the document is present. Returning nil data with a nil
// error leaves the document untouched. Mutations run while the store holds
// its write lock and must not call back into the store.
type Mutation func(current Document, exists bool) ([]byte, error)

// Op is a filter comparison.
type Op int

const (
	// OpEqual matches scalar fields equal to Value.
	OpEqual Op = iota
	// OpPrefix matches string fields starting with Value.
	OpPrefix
	// OpContains matches array fields holding an element equal to Value.
	OpContains
)

// Filter restricts a query to documents whose Field satisfies Op against Value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query selects and orders documents of one collection.
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Snapshot is the full result set delivered to a subscriber after a change.
type Snapshot struct {
	Target    Path
	Documents []Document
	Err       error
}

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// DocumentStore is the document database the messaging core runs on. Every
// method is safe for concurrent use. Update is the only conditional write and
// is atomic with respect to every other write on the same store.
type DocumentStore interface {
	Create(ctx context.Context, collection Path, data []byte) (string, error)
	Get(ctx context.Context, path Path) (Document, error)
	Set(ctx context.Context, path Path, data []byte, opts SetOptions) error
	Update(ctx context.Context, path Path, mutate Mutation) (bool, error)
	Delete(ctx context.Context, path Path) error
	Query(ctx context.Context, collection Path, q Query) ([]Document, error)
	// Subscribe delivers a snapshot of target immediately and after every
	// committed change to it. target is a collection (filtered by q) or a
	// single document. Handlers for one subscription never run concurrently.
	Subscribe(ctx context.Context, target Path, q Query, fn func(Snapshot)) (Unsubscribe, error)
	Close() error
}
